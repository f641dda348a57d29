package query

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/trevorprater/structquery/schema"
)

// Constraint names a violated schema constraint.
type Constraint string

const (
	ConstraintParse       Constraint = "parse"
	ConstraintType        Constraint = "type"
	ConstraintRequired    Constraint = "required"
	ConstraintEnum        Constraint = "enum"
	ConstraintMinimum     Constraint = "minimum"
	ConstraintMaximum     Constraint = "maximum"
	ConstraintExclMin     Constraint = "exclusiveMinimum"
	ConstraintExclMax     Constraint = "exclusiveMaximum"
	ConstraintMinLength   Constraint = "minLength"
	ConstraintMaxLength   Constraint = "maxLength"
	ConstraintPattern     Constraint = "pattern"
	ConstraintFormat      Constraint = "format"
	ConstraintMinItems    Constraint = "minItems"
	ConstraintMaxItems    Constraint = "maxItems"
	ConstraintUniqueItems Constraint = "uniqueItems"
	ConstraintAdditional  Constraint = "additionalProperties"
	ConstraintRef         Constraint = "$ref"
)

// FieldViolation is one field-level validation failure: the field path, the
// constraint violated, and the offending value.
type FieldViolation struct {
	Path       string     `json:"path"`
	Constraint Constraint `json:"constraint"`
	Message    string     `json:"message"`
	Value      any        `json:"value,omitempty"`
}

func (v FieldViolation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Violations aggregates every violation found in one payload. Validation
// checks every field before reporting, so one failing response enumerates
// all problems rather than only the first.
type Violations []FieldViolation

// Error implements the error interface for callers that want to treat the
// aggregate as an error value.
func (v Violations) Error() string {
	switch len(v) {
	case 0:
		return "validation failed"
	case 1:
		return v[0].String()
	}
	msgs := make([]string, len(v))
	for i, violation := range v {
		msgs[i] = violation.String()
	}
	return fmt.Sprintf("validation failed with %d violations: %s", len(v), strings.Join(msgs, "; "))
}

// FieldCited reports whether any violation names the given path.
func (v Violations) FieldCited(path string) bool {
	for _, violation := range v {
		if violation.Path == path {
			return true
		}
	}
	return false
}

// ValidateDocument parses rawPayload as JSON and validates it against the
// canonical schema. Failures are returned as data; the slice is empty when
// the payload conforms.
func ValidateDocument(rawPayload []byte, canonical *schema.JSONSchema) Violations {
	if canonical == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(rawPayload, &value); err != nil {
		return Violations{{
			Path:       "",
			Constraint: ConstraintParse,
			Message:    fmt.Sprintf("payload is not valid JSON: %v", err),
		}}
	}

	v := &validator{root: canonical}
	var out Violations
	v.value(value, canonical, "", &out)
	return out
}

type validator struct {
	root *schema.JSONSchema
}

func (v *validator) value(value any, node *schema.JSONSchema, path string, out *Violations) {
	if node == nil {
		return
	}

	// Resolve named sub-schema references against the root document. The
	// seen set stops reference chains that loop without consuming any value
	// depth, so a malformed document degrades to a violation, not a hang.
	if node.Ref != "" {
		seen := make(map[string]bool)
		for node.Ref != "" {
			if seen[node.Ref] {
				*out = append(*out, FieldViolation{
					Path:       path,
					Constraint: ConstraintRef,
					Message:    fmt.Sprintf("cyclic reference chain through %q", node.Ref),
				})
				return
			}
			seen[node.Ref] = true
			resolved, ok := v.root.ResolveRef(node.Ref)
			if !ok {
				*out = append(*out, FieldViolation{
					Path:       path,
					Constraint: ConstraintRef,
					Message:    fmt.Sprintf("unresolved reference %q", node.Ref),
				})
				return
			}
			node = resolved
		}
	}

	if len(node.Enum) > 0 {
		found := false
		for _, allowed := range node.Enum {
			if equalValues(value, allowed) {
				found = true
				break
			}
		}
		if !found {
			*out = append(*out, FieldViolation{
				Path:       path,
				Constraint: ConstraintEnum,
				Message:    fmt.Sprintf("value must be one of %v", node.Enum),
				Value:      value,
			})
		}
	}

	switch node.Type {
	case schema.TypeString:
		v.str(value, node, path, out)
	case schema.TypeNumber:
		v.number(value, node, path, out)
	case schema.TypeInteger:
		v.integer(value, node, path, out)
	case schema.TypeBoolean:
		if _, ok := value.(bool); !ok {
			*out = append(*out, typeViolation(path, "boolean", value))
		}
	case schema.TypeNull:
		if value != nil {
			*out = append(*out, typeViolation(path, "null", value))
		}
	case schema.TypeObject:
		v.object(value, node, path, out)
	case schema.TypeArray:
		v.array(value, node, path, out)
	}
}

func typeViolation(path, want string, got any) FieldViolation {
	return FieldViolation{
		Path:       path,
		Constraint: ConstraintType,
		Message:    fmt.Sprintf("expected %s, got %T", want, got),
		Value:      got,
	}
}

func (v *validator) str(value any, node *schema.JSONSchema, path string, out *Violations) {
	str, ok := value.(string)
	if !ok {
		*out = append(*out, typeViolation(path, "string", value))
		return
	}

	if node.MinLength != nil && len(str) < *node.MinLength {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMinLength,
			Message:    fmt.Sprintf("string length %d is less than minimum %d", len(str), *node.MinLength),
			Value:      str,
		})
	}
	if node.MaxLength != nil && len(str) > *node.MaxLength {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMaxLength,
			Message:    fmt.Sprintf("string length %d exceeds maximum %d", len(str), *node.MaxLength),
			Value:      str,
		})
	}
	if node.Pattern != "" {
		matched, err := regexp.MatchString(node.Pattern, str)
		if err != nil || !matched {
			*out = append(*out, FieldViolation{
				Path:       path,
				Constraint: ConstraintPattern,
				Message:    fmt.Sprintf("string does not match pattern %q", node.Pattern),
				Value:      str,
			})
		}
	}
	if node.Format != "" {
		if check, ok := formatCheckers[node.Format]; ok && !check(str) {
			*out = append(*out, FieldViolation{
				Path:       path,
				Constraint: ConstraintFormat,
				Message:    fmt.Sprintf("string does not match format %q", node.Format),
				Value:      str,
			})
		}
	}
}

func (v *validator) number(value any, node *schema.JSONSchema, path string, out *Violations) {
	num, ok := toFloat64(value)
	if !ok {
		*out = append(*out, typeViolation(path, "number", value))
		return
	}
	v.numericBounds(num, node, path, out)
}

func (v *validator) integer(value any, node *schema.JSONSchema, path string, out *Violations) {
	num, ok := toFloat64(value)
	if !ok || num != math.Trunc(num) {
		*out = append(*out, typeViolation(path, "integer", value))
		return
	}
	v.numericBounds(num, node, path, out)
}

func (v *validator) numericBounds(num float64, node *schema.JSONSchema, path string, out *Violations) {
	if node.Minimum != nil && num < *node.Minimum {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMinimum,
			Message:    fmt.Sprintf("value %v is less than minimum %v", num, *node.Minimum),
			Value:      num,
		})
	}
	if node.Maximum != nil && num > *node.Maximum {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMaximum,
			Message:    fmt.Sprintf("value %v exceeds maximum %v", num, *node.Maximum),
			Value:      num,
		})
	}
	if node.ExclusiveMinimum != nil && num <= *node.ExclusiveMinimum {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintExclMin,
			Message:    fmt.Sprintf("value %v must be greater than %v", num, *node.ExclusiveMinimum),
			Value:      num,
		})
	}
	if node.ExclusiveMaximum != nil && num >= *node.ExclusiveMaximum {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintExclMax,
			Message:    fmt.Sprintf("value %v must be less than %v", num, *node.ExclusiveMaximum),
			Value:      num,
		})
	}
}

func (v *validator) object(value any, node *schema.JSONSchema, path string, out *Violations) {
	obj, ok := value.(map[string]any)
	if !ok {
		*out = append(*out, typeViolation(path, "object", value))
		return
	}

	for _, req := range node.Required {
		val, exists := obj[req]
		if !exists {
			*out = append(*out, FieldViolation{
				Path:       joinPath(path, req),
				Constraint: ConstraintRequired,
				Message:    "required field is missing",
			})
		} else if val == nil {
			*out = append(*out, FieldViolation{
				Path:       joinPath(path, req),
				Constraint: ConstraintRequired,
				Message:    "required field must not be null",
			})
		}
	}

	for propName, propValue := range obj {
		propPath := joinPath(path, propName)
		if propSchema := node.GetProperty(propName); propSchema != nil {
			v.value(propValue, propSchema, propPath, out)
			continue
		}
		if node.AdditionalProperties != nil {
			if node.AdditionalProperties.Schema != nil {
				v.value(propValue, node.AdditionalProperties.Schema, propPath, out)
			} else if !node.AdditionalProperties.Allowed {
				*out = append(*out, FieldViolation{
					Path:       propPath,
					Constraint: ConstraintAdditional,
					Message:    "additional property not allowed",
					Value:      propValue,
				})
			}
		}
	}
}

func (v *validator) array(value any, node *schema.JSONSchema, path string, out *Violations) {
	arr, ok := value.([]any)
	if !ok {
		*out = append(*out, typeViolation(path, "array", value))
		return
	}

	if node.MinItems != nil && len(arr) < *node.MinItems {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMinItems,
			Message:    fmt.Sprintf("array has %d items, minimum is %d", len(arr), *node.MinItems),
		})
	}
	if node.MaxItems != nil && len(arr) > *node.MaxItems {
		*out = append(*out, FieldViolation{
			Path:       path,
			Constraint: ConstraintMaxItems,
			Message:    fmt.Sprintf("array has %d items, maximum is %d", len(arr), *node.MaxItems),
		})
	}
	if node.UniqueItems != nil && *node.UniqueItems {
		seen := make(map[string]bool, len(arr))
		for i, item := range arr {
			key := valueKey(item)
			if seen[key] {
				*out = append(*out, FieldViolation{
					Path:       fmt.Sprintf("%s[%d]", path, i),
					Constraint: ConstraintUniqueItems,
					Message:    "duplicate item in array with uniqueItems constraint",
					Value:      item,
				})
			}
			seen[key] = true
		}
	}
	if node.Items != nil {
		for i, item := range arr {
			v.value(item, node.Items, fmt.Sprintf("%s[%d]", path, i), out)
		}
	}
}

var formatCheckers = map[schema.StringFormat]func(string) bool{
	schema.FormatEmail:    regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`).MatchString,
	schema.FormatURI:      regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`).MatchString,
	schema.FormatUUID:     regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`).MatchString,
	schema.FormatDateTime: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`).MatchString,
	schema.FormatDate:     regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`).MatchString,
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return aNum == bNum
	}
	if aStr, ok := a.(string); ok {
		bStr, ok := b.(string)
		return ok && aStr == bStr
	}
	if aBool, ok := a.(bool); ok {
		bBool, ok := b.(bool)
		return ok && aBool == bBool
	}
	if a == nil && b == nil {
		return true
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func valueKey(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// ExtractJSON pulls a JSON document out of a response that may wrap it in
// markdown fences or surrounding prose.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		re := regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
		if matches := re.FindStringSubmatch(response); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	if start, end := strings.Index(response, "{"), strings.LastIndex(response, "}"); start >= 0 && end > start {
		return response[start : end+1]
	}
	if start, end := strings.Index(response, "["), strings.LastIndex(response, "]"); start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}
