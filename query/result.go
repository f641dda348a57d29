package query

import "encoding/json"

// Usage reports token accounting for one round trip, as surfaced by the
// transport.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Result is the outcome of one query: either a value conforming to the
// canonical schema, or the violations that kept the payload from conforming.
// Transport and configuration failures never produce a Result; they surface
// as *Error from Session.Run.
type Result[T any] struct {
	// RequestID identifies the composed request this result answers.
	RequestID string `json:"request_id"`

	// Raw is the verbatim response payload.
	Raw string `json:"raw"`

	// Value is the re-hydrated typed value; nil when the payload failed
	// validation or could not be decoded into T.
	Value *T `json:"value,omitempty"`

	// Violations is empty for conforming payloads.
	Violations Violations `json:"violations,omitempty"`

	Model  string `json:"model,omitempty"`
	Usage  Usage  `json:"usage"`
	Cached bool   `json:"cached,omitempty"`
}

// Valid reports whether the payload conformed and was decoded.
func (r *Result[T]) Valid() bool {
	return r.Value != nil && len(r.Violations) == 0
}

// decodeResult validates a raw payload and re-hydrates it into T.
func decodeResult[T any](rawPayload string, req *Request) *Result[T] {
	doc := ExtractJSON(rawPayload)
	res := &Result[T]{
		RequestID:  req.ID(),
		Raw:        rawPayload,
		Violations: ValidateDocument([]byte(doc), req.Schema()),
	}
	if len(res.Violations) > 0 {
		return res
	}

	var value T
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		res.Violations = append(res.Violations, FieldViolation{
			Path:       "",
			Constraint: ConstraintParse,
			Message:    "payload does not decode into the typed model: " + err.Error(),
		})
		return res
	}
	res.Value = &value
	return res
}
