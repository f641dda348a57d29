package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Normalization failure modes. Both indicate a caller bug and are detected
// before any network traffic.
var (
	// ErrUnsupportedDescriptor reports a descriptor that is neither a typed
	// model nor a well-formed schema document.
	ErrUnsupportedDescriptor = errors.New("unsupported shape descriptor")

	// ErrCyclicReference reports typed-model definitions that reference each
	// other cyclically.
	ErrCyclicReference = errors.New("cyclic reference in shape descriptor")
)

// Provider is a descriptor that can produce its canonical schema directly.
// This is one of the two typed-model surfaces the normalizer dispatches on.
type Provider interface {
	Schema() *JSONSchema
}

// DocumentProvider is a descriptor that can produce a raw schema document.
// This is the second typed-model surface; descriptors are checked for either
// shape structurally, never assuming one is present.
type DocumentProvider interface {
	SchemaDocument() []byte
}

// Normalizer converts shape descriptors into canonical JSON Schema trees.
// A descriptor is one of:
//   - *JSONSchema, json.RawMessage, []byte or map[string]any: an already
//     canonical document, validated and passed through unchanged;
//   - a value implementing Provider or DocumentProvider;
//   - a Go struct value, pointer or reflect.Type carrying `json` and
//     `jsonschema` field tags, walked depth-first via reflection.
//
// Nested named struct types collapse into $defs entries referenced by $ref
// instead of being duplicated inline.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts a descriptor into a canonical schema. It fails with
// ErrUnsupportedDescriptor for unrecognized inputs and ErrCyclicReference for
// cyclic typed-model definitions.
func (n *Normalizer) Normalize(descriptor any) (*JSONSchema, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrUnsupportedDescriptor)
	}

	// Canonical documents pass through after a well-formedness check only;
	// no semantic rewriting.
	switch d := descriptor.(type) {
	case *JSONSchema:
		return passThrough(d)
	case json.RawMessage:
		return n.normalizeDocument([]byte(d))
	case []byte:
		return n.normalizeDocument(d)
	case map[string]any:
		data, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedDescriptor, err)
		}
		return n.normalizeDocument(data)
	}

	// Typed-model dispatch on structural capability: the two schema-system
	// versions expose different producer methods.
	if p, ok := descriptor.(Provider); ok {
		return passThrough(p.Schema())
	}
	if p, ok := descriptor.(DocumentProvider); ok {
		return n.normalizeDocument(p.SchemaDocument())
	}

	if t, ok := descriptor.(reflect.Type); ok {
		return n.derive(t)
	}
	return n.derive(reflect.TypeOf(descriptor))
}

func passThrough(s *JSONSchema) (*JSONSchema, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil schema document", ErrUnsupportedDescriptor)
	}
	if err := wellFormedErr(s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (n *Normalizer) normalizeDocument(data []byte) (*JSONSchema, error) {
	s, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDescriptor, err)
	}
	if err := wellFormedErr(s); err != nil {
		return nil, err
	}
	return s, nil
}

// wellFormedErr classifies CheckWellFormed failures: reference cycles keep
// their own sentinel, everything else is an unsupported descriptor.
func wellFormedErr(s *JSONSchema) error {
	err := s.CheckWellFormed()
	if err == nil || errors.Is(err, ErrCyclicReference) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedDescriptor, err)
}

// derivation walks a Go type depth-first, carrying the active type stack for
// cycle detection and the $defs accumulator for named nested structs.
type derivation struct {
	stack []reflect.Type
	defs  map[string]*JSONSchema
	names map[reflect.Type]string
}

func (n *Normalizer) derive(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrUnsupportedDescriptor)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: top-level descriptor must be a struct, got %s", ErrUnsupportedDescriptor, t.Kind())
	}

	d := &derivation{
		defs:  make(map[string]*JSONSchema),
		names: make(map[reflect.Type]string),
	}
	root, err := d.structSchema(t)
	if err != nil {
		return nil, err
	}
	if len(d.defs) > 0 {
		root.Defs = d.defs
	}
	if t.Name() != "" {
		root.Title = t.Name()
	}
	return root, nil
}

func (d *derivation) typeSchema(t reflect.Type) (*JSONSchema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	// time.Time marshals to an RFC 3339 string.
	if t == reflect.TypeOf(time.Time{}) {
		return NewStringSchema().WithFormat(FormatDateTime), nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewStringSchema(), nil
	case reflect.Bool:
		return NewBooleanSchema(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewIntegerSchema(), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberSchema(), nil
	case reflect.Slice, reflect.Array:
		elem, err := d.typeSchema(t.Elem())
		if err != nil {
			return nil, err
		}
		return NewArraySchema(elem), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map keys must be strings, got %s", ErrUnsupportedDescriptor, t.Key().Kind())
		}
		val, err := d.typeSchema(t.Elem())
		if err != nil {
			return nil, err
		}
		s := NewObjectSchema()
		s.AdditionalProperties = &AdditionalProperties{Allowed: true, Schema: val}
		return s, nil
	case reflect.Struct:
		return d.nestedStruct(t)
	case reflect.Interface:
		// any maps to an unconstrained node.
		return &JSONSchema{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field type %s", ErrUnsupportedDescriptor, t.Kind())
	}
}

// nestedStruct collapses a named nested struct into a $defs entry and returns
// a $ref to it. Anonymous structs are inlined.
func (d *derivation) nestedStruct(t reflect.Type) (*JSONSchema, error) {
	if t.Name() == "" {
		return d.structSchema(t)
	}

	name, seen := d.names[t]
	if seen {
		if _, done := d.defs[name]; !done {
			// On the active stack but not yet completed: a definition cycle.
			return nil, fmt.Errorf("%w: %s references itself", ErrCyclicReference, t.String())
		}
		return NewRefSchema(name), nil
	}

	name = t.Name()
	if other, taken := d.defByName(name); taken && other != t {
		name = strings.ReplaceAll(t.String(), ".", "_")
	}
	d.names[t] = name

	def, err := d.structSchema(t)
	if err != nil {
		return nil, err
	}
	d.defs[name] = def
	return NewRefSchema(name), nil
}

func (d *derivation) defByName(name string) (reflect.Type, bool) {
	for t, n := range d.names {
		if n == name {
			return t, true
		}
	}
	return nil, false
}

func (d *derivation) structSchema(t reflect.Type) (*JSONSchema, error) {
	for _, active := range d.stack {
		if active == t {
			return nil, fmt.Errorf("%w: %s", ErrCyclicReference, t.String())
		}
	}
	d.stack = append(d.stack, t)
	defer func() { d.stack = d.stack[:len(d.stack)-1] }()

	s := NewObjectSchema()
	fieldNames := make(map[string]bool)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, omitEmpty := jsonFieldName(field)
		if name == "-" {
			continue
		}
		if fieldNames[name] {
			return nil, fmt.Errorf("%w: duplicate field name %q in %s", ErrUnsupportedDescriptor, name, t.String())
		}
		fieldNames[name] = true

		fieldSchema, err := d.typeSchema(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		opts := parseTagOptions(field.Tag.Get("jsonschema"))
		applyTagOptions(fieldSchema, opts, field.Type)

		if isRequired(field, opts, omitEmpty) {
			s.Required = append(s.Required, name)
		}
		s.Properties[name] = fieldSchema
	}

	return s, nil
}

// isRequired treats fields without defaults as required. Pointer fields,
// omitempty fields and fields carrying a default= tag are optional; a
// "required" tag option always wins.
func isRequired(field reflect.StructField, opts map[string]string, omitEmpty bool) bool {
	if _, ok := opts["required"]; ok {
		return true
	}
	if _, ok := opts["default"]; ok {
		return false
	}
	if omitEmpty || field.Type.Kind() == reflect.Ptr {
		return false
	}
	return true
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

// tagKeys are the recognized jsonschema tag options. A comma inside an enum
// value list stays with the enum option because it does not start a known
// key=value segment.
var tagKeys = map[string]bool{
	"required":    true,
	"description": true,
	"default":     true,
	"enum":        true,
	"minLength":   true,
	"maxLength":   true,
	"pattern":     true,
	"format":      true,
	"minimum":     true,
	"maximum":     true,
	"minItems":    true,
	"maxItems":    true,
}

func parseTagOptions(tag string) map[string]string {
	opts := make(map[string]string)
	if tag == "" {
		return opts
	}

	var key string
	for _, segment := range strings.Split(tag, ",") {
		trimmed := strings.TrimSpace(segment)
		if idx := strings.Index(trimmed, "="); idx > 0 && tagKeys[trimmed[:idx]] {
			key = trimmed[:idx]
			opts[key] = trimmed[idx+1:]
			continue
		}
		if tagKeys[trimmed] {
			key = trimmed
			opts[key] = ""
			continue
		}
		// Continuation of the previous option's value (enum lists).
		if key != "" {
			opts[key] += "," + segment
		}
	}
	return opts
}

func applyTagOptions(s *JSONSchema, opts map[string]string, fieldType reflect.Type) {
	if desc, ok := opts["description"]; ok {
		s.Description = desc
	}
	if def, ok := opts["default"]; ok {
		s.Default = parseScalar(def, fieldType)
	}
	if enum, ok := opts["enum"]; ok {
		values := strings.Split(enum, ",")
		s.Enum = make([]any, len(values))
		for i, v := range values {
			// Members take the field's scalar kind so numeric enums hold
			// numbers, not their tag spelling.
			s.Enum[i] = parseScalar(strings.TrimSpace(v), fieldType)
		}
	}
	if v, ok := intOption(opts, "minLength"); ok {
		s.MinLength = &v
	}
	if v, ok := intOption(opts, "maxLength"); ok {
		s.MaxLength = &v
	}
	if pattern, ok := opts["pattern"]; ok {
		s.Pattern = pattern
	}
	if format, ok := opts["format"]; ok {
		s.Format = StringFormat(format)
	}
	if v, ok := floatOption(opts, "minimum"); ok {
		s.Minimum = &v
	}
	if v, ok := floatOption(opts, "maximum"); ok {
		s.Maximum = &v
	}
	if v, ok := intOption(opts, "minItems"); ok {
		s.MinItems = &v
	}
	if v, ok := intOption(opts, "maxItems"); ok {
		s.MaxItems = &v
	}
}

func intOption(opts map[string]string, key string) (int, bool) {
	raw, ok := opts[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatOption(opts map[string]string, key string) (float64, bool) {
	raw, ok := opts[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseScalar(value string, t reflect.Type) any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return value == "true"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}
