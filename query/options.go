package query

import (
	"fmt"
	"time"
)

// PermissionMode controls how much latitude the remote service is given
// while producing the answer.
type PermissionMode string

const (
	PermissionStrict PermissionMode = "strict"
	PermissionBypass PermissionMode = "bypass"
)

// Options is the enumerated per-call configuration surface. The zero value
// is not usable; start from DefaultOptions.
type Options struct {
	// Model selects the remote model.
	Model string `json:"model" yaml:"model"`

	// TurnLimit caps the number of assistant turns for one call. Structured
	// queries are single-shot, so this is 1 unless the caller raises it.
	TurnLimit int `json:"turn_limit" yaml:"turn_limit"`

	// MaxOutputTokens caps the response size.
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`

	// MaxInputTokens, when positive, bounds the estimated prompt token
	// count at composition time.
	MaxInputTokens int `json:"max_input_tokens,omitempty" yaml:"max_input_tokens"`

	// Temperature in [0, 2].
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`

	// PermissionMode is strict or bypass.
	PermissionMode PermissionMode `json:"permission_mode" yaml:"permission_mode"`

	// BetaFeatures is the set of beta feature flags forwarded to the
	// service (for example the structured-outputs flag).
	BetaFeatures []string `json:"beta_features,omitempty" yaml:"beta_features"`

	// OutputFormat optionally overrides the session's typed descriptor
	// with an explicit shape descriptor (typed model or raw schema
	// document).
	OutputFormat any `json:"-" yaml:"-"`

	// Timeout bounds the network round trip. Zero means no session-side
	// deadline.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// StructuredOutputsBeta is the beta flag enabling native structured outputs
// on the wire.
const StructuredOutputsBeta = "structured-outputs-2025-11-13"

// DefaultOptions returns the baseline single-shot configuration.
func DefaultOptions() Options {
	return Options{
		TurnLimit:       1,
		MaxOutputTokens: 4096,
		PermissionMode:  PermissionStrict,
		BetaFeatures:    []string{StructuredOutputsBeta},
	}
}

// Validate checks limits and enumerations, returning an INVALID_CONFIG
// error on the first problem found.
func (o Options) Validate() error {
	if o.TurnLimit <= 0 {
		return NewError(CodeInvalidConfig, fmt.Sprintf("turn limit must be positive, got %d", o.TurnLimit))
	}
	if o.MaxOutputTokens <= 0 {
		return NewError(CodeInvalidConfig, fmt.Sprintf("max output tokens must be positive, got %d", o.MaxOutputTokens))
	}
	if o.MaxInputTokens < 0 {
		return NewError(CodeInvalidConfig, fmt.Sprintf("max input tokens must not be negative, got %d", o.MaxInputTokens))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return NewError(CodeInvalidConfig, fmt.Sprintf("temperature must be in [0, 2], got %v", o.Temperature))
	}
	if o.Timeout < 0 {
		return NewError(CodeInvalidConfig, "timeout must not be negative")
	}
	switch o.PermissionMode {
	case PermissionStrict, PermissionBypass:
	default:
		return NewError(CodeInvalidConfig, fmt.Sprintf("unknown permission mode %q", o.PermissionMode))
	}
	seen := make(map[string]bool, len(o.BetaFeatures))
	for _, flag := range o.BetaFeatures {
		if flag == "" {
			return NewError(CodeInvalidConfig, "beta feature flags must not be empty")
		}
		if seen[flag] {
			return NewError(CodeInvalidConfig, fmt.Sprintf("duplicate beta feature flag %q", flag))
		}
		seen[flag] = true
	}
	return nil
}

// clone returns a deep copy so a composed request keeps an immutable
// snapshot of the options.
func (o Options) clone() Options {
	out := o
	if o.BetaFeatures != nil {
		out.BetaFeatures = make([]string, len(o.BetaFeatures))
		copy(out.BetaFeatures, o.BetaFeatures)
	}
	return out
}
