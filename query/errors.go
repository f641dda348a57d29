// Package query implements schema-validated request/response exchange with a
// remote generative service: request composition, a single-call session, and
// response validation against a canonical schema.
package query

import "fmt"

// ErrorCode classifies query failures.
type ErrorCode string

const (
	// Detected before any network call.
	CodeUnsupportedDescriptor ErrorCode = "UNSUPPORTED_DESCRIPTOR"
	CodeCyclicReference       ErrorCode = "CYCLIC_REFERENCE"
	CodeInvalidConfig         ErrorCode = "INVALID_CONFIG"

	// Round-trip failures.
	CodeTransport ErrorCode = "TRANSPORT"
	CodeCancelled ErrorCode = "CANCELLED"
)

// Error is a structured error with code, message, and transport metadata.
// Validation failures are not errors; they are returned as data on the
// Result so callers can branch on them programmatically.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
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
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable. The session never retries;
// the flag lets callers distinguish timeout/overload causes from caller
// bugs and bad credentials.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether an error is a retryable query error.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code, empty for foreign errors.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
