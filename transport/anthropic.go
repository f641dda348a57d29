package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AnthropicConfig configures the Anthropic Messages API transport.
type AnthropicConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Version string        `yaml:"version" json:"version"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerSecond enables a client-side limiter when positive.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	defaultModel   = "claude-sonnet-4-20250514"
)

// Anthropic submits structured-output queries to the Anthropic Messages
// API. Authentication uses the x-api-key header; the structured-output
// schema is carried in the request body as output_format, and the beta
// feature flags in the anthropic-beta header.
type Anthropic struct {
	cfg     AnthropicConfig
	client  *http.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewAnthropic creates the transport. logger may be nil.
func NewAnthropic(cfg AnthropicConfig, logger *zap.Logger) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Anthropic{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		limiter: limiter,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicOutputFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"schema"`
}

type anthropicRequest struct {
	Model        string                 `json:"model"`
	Messages     []anthropicMessage     `json:"messages"`
	System       string                 `json:"system,omitempty"`
	MaxTokens    int                    `json:"max_tokens"`
	Temperature  float32                `json:"temperature,omitempty"`
	OutputFormat *anthropicOutputFormat `json:"output_format,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicErrorResp struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Per-million-token prices for cost estimates; unknown models report zero.
var anthropicPrices = map[string]struct{ in, out float64 }{
	"claude-sonnet-4-20250514":  {in: 3.00, out: 15.00},
	"claude-opus-4-20250514":    {in: 15.00, out: 75.00},
	"claude-3-5-haiku-20241022": {in: 0.80, out: 4.00},
}

// Submit performs one Messages API round trip.
func (a *Anthropic) Submit(ctx context.Context, p *Payload) (*Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	model := p.Model
	if model == "" {
		model = defaultModel
	}

	body := anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: p.Prompt}},
		System:      p.System,
		MaxTokens:   p.MaxOutputTokens,
		Temperature: p.Temperature,
	}
	if len(p.Schema) > 0 {
		body.OutputFormat = &anthropicOutputFormat{Type: "json_schema", Schema: p.Schema}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{
			Code:      ErrInvalidRequest,
			Message:   fmt.Sprintf("encode request: %v", err),
			Transport: a.Name(),
			Cause:     err,
		}
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Code: ErrInvalidRequest, Message: err.Error(), Transport: a.Name(), Cause: err}
	}
	a.buildHeaders(httpReq, p.BetaFeatures)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Caller abandoned the call; report the context error as-is.
			return nil, ctx.Err()
		}
		return nil, &Error{
			Code:       ErrUpstream,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Transport:  a.Name(),
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		a.logger.Warn("anthropic request failed",
			zap.String("request_id", p.RequestID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, mapStatus(resp.StatusCode, msg, a.Name())
	}

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, &Error{
			Code:       ErrUpstream,
			Message:    fmt.Sprintf("decode response: %v", err),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Transport:  a.Name(),
			Cause:      err,
		}
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &Response{Raw: text.String(), Model: ar.Model}
	if ar.Usage != nil {
		out.InputTokens = ar.Usage.InputTokens
		out.OutputTokens = ar.Usage.OutputTokens
		if price, ok := anthropicPrices[ar.Model]; ok {
			out.CostUSD = float64(ar.Usage.InputTokens)/1e6*price.in +
				float64(ar.Usage.OutputTokens)/1e6*price.out
		}
	}

	a.logger.Debug("anthropic request completed",
		zap.String("request_id", p.RequestID),
		zap.String("model", ar.Model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("output_tokens", out.OutputTokens))

	return out, nil
}

func (a *Anthropic) buildHeaders(req *http.Request, betaFeatures []string) {
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", a.cfg.Version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if len(betaFeatures) > 0 {
		req.Header.Set("anthropic-beta", strings.Join(betaFeatures, ","))
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp anthropicErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return string(data)
}

func mapStatus(status int, msg, name string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Code: ErrUnauthorized, Message: msg, HTTPStatus: status, Transport: name}
	case http.StatusForbidden:
		return &Error{Code: ErrForbidden, Message: msg, HTTPStatus: status, Transport: name}
	case http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Transport: name}
	case http.StatusBadRequest:
		if strings.Contains(msg, "credit") || strings.Contains(msg, "quota") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status, Transport: name}
		}
		return &Error{Code: ErrInvalidRequest, Message: msg, HTTPStatus: status, Transport: name}
	case http.StatusGatewayTimeout:
		return &Error{Code: ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Transport: name}
	case 529: // service-specific overload status
		return &Error{Code: ErrOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Transport: name}
	default:
		return &Error{Code: ErrUpstream, Message: msg, HTTPStatus: status, Retryable: status >= 500, Transport: name}
	}
}
