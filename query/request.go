package query

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trevorprater/structquery/internal/tokens"
	"github.com/trevorprater/structquery/schema"
)

// Request is one composed outbound query: prompt text, canonical schema, and
// a configuration snapshot. Immutable once constructed.
type Request struct {
	id          string
	prompt      string
	schema      *schema.JSONSchema
	opts        Options
	inputTokens int
}

// Compose merges prompt, canonical schema and options into a Request. Pure
// value construction, no I/O. Fails with INVALID_CONFIG when the options
// carry non-positive or contradictory limits, when the prompt is empty, or
// when the estimated prompt token count exceeds the configured input budget.
func Compose(prompt string, canonical *schema.JSONSchema, opts Options) (*Request, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if canonical == nil {
		return nil, NewError(CodeInvalidConfig, "canonical schema is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, NewError(CodeInvalidConfig, "prompt must not be empty")
	}

	estimate := tokens.Estimate(prompt)
	if opts.MaxInputTokens > 0 && estimate > opts.MaxInputTokens {
		return nil, NewError(CodeInvalidConfig,
			fmt.Sprintf("prompt is ~%d tokens, above the %d input token budget", estimate, opts.MaxInputTokens))
	}

	return &Request{
		id:          uuid.NewString(),
		prompt:      prompt,
		schema:      canonical,
		opts:        opts.clone(),
		inputTokens: estimate,
	}, nil
}

// ID returns the request identifier.
func (r *Request) ID() string { return r.id }

// Prompt returns the prompt text.
func (r *Request) Prompt() string { return r.prompt }

// Schema returns the canonical schema. Shared, must not be mutated.
func (r *Request) Schema() *schema.JSONSchema { return r.schema }

// Options returns the configuration snapshot.
func (r *Request) Options() Options { return r.opts.clone() }

// EstimatedInputTokens returns the composition-time prompt token estimate.
func (r *Request) EstimatedInputTokens() int { return r.inputTokens }

// InstructionPrompt renders the system instruction that pins the response to
// the schema, for transports without a native structured-output mode.
func (r *Request) InstructionPrompt() (string, error) {
	schemaJSON, err := r.schema.ToJSONIndent()
	if err != nil {
		return "", NewError(CodeInvalidConfig, "failed to serialize schema").WithCause(err)
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that generates structured JSON output.\n\n")
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. You MUST respond with valid JSON that conforms to the schema below.\n")
	sb.WriteString("2. Do NOT include any text before or after the JSON.\n")
	sb.WriteString("3. Do NOT wrap the JSON in markdown code blocks.\n")
	sb.WriteString("4. Ensure all required fields are present and have valid values.\n")
	sb.WriteString("5. Follow all constraints specified in the schema (enum values, min/max, patterns, etc.).\n\n")
	sb.WriteString("JSON Schema:\n")
	sb.Write(schemaJSON)
	sb.WriteString("\n\nRespond with ONLY the JSON object.")
	return sb.String(), nil
}
