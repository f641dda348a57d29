package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okResponse(model, text string) string {
	return `{
		"id": "msg_01",
		"model": "` + model + `",
		"content": [{"type": "text", "text": ` + mustQuote(text) + `}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 1000000, "output_tokens": 2000000}
	}`
}

func mustQuote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func testPayload() *Payload {
	return &Payload{
		RequestID:       "req-1",
		Prompt:          "Extract the product",
		System:          "Respond with JSON only",
		Schema:          json.RawMessage(`{"type":"object"}`),
		Model:           "claude-sonnet-4-20250514",
		MaxOutputTokens: 1024,
		TurnLimit:       1,
		PermissionMode:  "strict",
		BetaFeatures:    []string{"structured-outputs-2025-11-13"},
	}
}

func TestAnthropicSubmitSuccess(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okResponse("claude-sonnet-4-20250514", `{"name":"Hammer"}`)))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL, APIKey: "sk-test"}, nil)

	resp, err := tr.Submit(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, `{"name":"Hammer"}`, resp.Raw)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, 1000000, resp.InputTokens)
	assert.Equal(t, 2000000, resp.OutputTokens)
	// 1M input at $3/M plus 2M output at $15/M.
	assert.InDelta(t, 33.0, resp.CostUSD, 1e-9)

	assert.Equal(t, "sk-test", gotHeader.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeader.Get("anthropic-version"))
	assert.Equal(t, "structured-outputs-2025-11-13", gotHeader.Get("anthropic-beta"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))

	assert.Equal(t, "claude-sonnet-4-20250514", gotReq.Model)
	assert.Equal(t, "Respond with JSON only", gotReq.System)
	assert.Equal(t, 1024, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "Extract the product", gotReq.Messages[0].Content)
	require.NotNil(t, gotReq.OutputFormat)
	assert.Equal(t, "json_schema", gotReq.OutputFormat.Type)
	assert.JSONEq(t, `{"type":"object"}`, string(gotReq.OutputFormat.Schema))
}

func TestAnthropicSubmitJoinsBetaFlags(t *testing.T) {
	var beta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beta = r.Header.Get("anthropic-beta")
		w.Write([]byte(okResponse("claude-sonnet-4-20250514", "{}")))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
	p := testPayload()
	p.BetaFeatures = []string{"flag-a", "flag-b"}

	_, err := tr.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "flag-a,flag-b", beta)
}

func TestAnthropicSubmitConcatenatesTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "{\"a\":"},
				{"type": "tool_use"},
				{"type": "text", "text": "1}"}
			]
		}`))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)

	resp, err := tr.Submit(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Raw)
	assert.Zero(t, resp.InputTokens)
}

func TestAnthropicStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  ErrorCode
		retryable bool
	}{
		{"unauthorized", 401, `{"error":{"type":"authentication_error","message":"bad key"}}`, ErrUnauthorized, false},
		{"forbidden", 403, `{}`, ErrForbidden, false},
		{"rate limited", 429, `{}`, ErrRateLimited, true},
		{"invalid request", 400, `{"error":{"type":"invalid_request_error","message":"bad schema"}}`, ErrInvalidRequest, false},
		{"quota exhausted", 400, `{"error":{"type":"invalid_request_error","message":"credit balance too low"}}`, ErrQuotaExceeded, false},
		{"gateway timeout", 504, `{}`, ErrUpstreamTimeout, true},
		{"overloaded", 529, `{"error":{"type":"overloaded_error","message":"busy"}}`, ErrOverloaded, true},
		{"server error", 500, `{}`, ErrUpstream, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
			_, err := tr.Submit(context.Background(), testPayload())
			require.Error(t, err)

			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantCode, terr.Code)
			assert.Equal(t, tt.status, terr.HTTPStatus)
			assert.Equal(t, tt.retryable, terr.Retryable)
			assert.Equal(t, "anthropic", terr.Transport)
		})
	}
}

func TestAnthropicErrorMessageSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
	_, err := tr.Submit(context.Background(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid x-api-key")
	assert.Contains(t, err.Error(), "authentication_error")
}

func TestAnthropicContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Submit(ctx, testPayload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var terr *Error
	assert.False(t, errors.As(err, &terr), "context errors pass through untyped")
}

func TestAnthropicDefaultModel(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(okResponse("claude-sonnet-4-20250514", "{}")))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
	p := testPayload()
	p.Model = ""

	_, err := tr.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", gotReq.Model)
}

func TestAnthropicOmitsOutputFormatWithoutSchema(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(okResponse("claude-sonnet-4-20250514", "{}")))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
	p := testPayload()
	p.Schema = nil

	_, err := tr.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, gotReq.OutputFormat)
}

func TestAnthropicMalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	tr := NewAnthropic(AnthropicConfig{BaseURL: srv.URL}, nil)
	_, err := tr.Submit(context.Background(), testPayload())
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ErrUpstream, terr.Code)
	assert.True(t, terr.Retryable)
}
