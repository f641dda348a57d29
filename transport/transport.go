// Package transport is the external network boundary to the remote
// generative service. It accepts a composed query payload and returns either
// the raw structured response or a typed transport error.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Payload is the wire-level projection of a composed query request. All
// call parameters travel as explicit fields; nothing is carried through
// process-wide state.
type Payload struct {
	RequestID       string          `json:"request_id"`
	Prompt          string          `json:"prompt"`
	System          string          `json:"system,omitempty"`
	Schema          json.RawMessage `json:"schema"`
	Model           string          `json:"model,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens"`
	Temperature     float32         `json:"temperature,omitempty"`
	TurnLimit       int             `json:"turn_limit"`
	PermissionMode  string          `json:"permission_mode"`
	BetaFeatures    []string        `json:"beta_features,omitempty"`
}

// Response is the raw payload returned by the service for one round trip.
type Response struct {
	// Raw is the response text, expected to contain the structured
	// document.
	Raw string

	// Model is the model that actually served the call.
	Model string

	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Transport submits one payload per call. Implementations must honor
// context cancellation by abandoning the in-flight call.
type Transport interface {
	Submit(ctx context.Context, p *Payload) (*Response, error)
	Name() string
}

// ErrorCode classifies transport failures.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "TRANSPORT_INVALID_REQUEST"
	ErrUnauthorized    ErrorCode = "TRANSPORT_UNAUTHORIZED"
	ErrForbidden       ErrorCode = "TRANSPORT_FORBIDDEN"
	ErrRateLimited     ErrorCode = "TRANSPORT_RATE_LIMITED"
	ErrQuotaExceeded   ErrorCode = "TRANSPORT_QUOTA_EXCEEDED"
	ErrOverloaded      ErrorCode = "TRANSPORT_OVERLOADED"
	ErrUpstreamTimeout ErrorCode = "TRANSPORT_UPSTREAM_TIMEOUT"
	ErrUpstream        ErrorCode = "TRANSPORT_UPSTREAM_ERROR"
)

// Error is a transport-level failure with enough detail to distinguish
// retryable causes (timeout, overload, 5xx) from non-retryable ones (bad
// credentials, malformed request).
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Transport  string    `json:"transport,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }
