// Package schema defines the canonical JSON Schema representation used for
// structured-output queries, and the normalizer that derives it from caller
// supplied shape descriptors.
package schema

import (
	"encoding/json"
	"fmt"
)

// Type represents JSON Schema types.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
)

// JSONSchema is the canonical, language-agnostic schema tree. It supports
// nested objects, arrays, enums, named sub-schema reuse via $defs/$ref, and
// the validation constraints exposed on the wire contract.
type JSONSchema struct {
	Schema      string `json:"$schema,omitempty"`
	ID          string `json:"$id,omitempty"`
	Ref         string `json:"$ref,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type Type `json:"type,omitempty"`

	// Object keywords
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`

	// Array keywords
	Items       *JSONSchema `json:"items,omitempty"`
	MinItems    *int        `json:"minItems,omitempty"`
	MaxItems    *int        `json:"maxItems,omitempty"`
	UniqueItems *bool       `json:"uniqueItems,omitempty"`

	// Enum
	Enum []any `json:"enum,omitempty"`

	// String constraints
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Numeric constraints
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`

	// Default value; a field carrying one is optional in the payload.
	Default any `json:"default,omitempty"`

	// Named sub-schemas for reuse
	Defs map[string]*JSONSchema `json:"$defs,omitempty"`
}

// AdditionalProperties represents the additionalProperties keyword, which can
// be either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

// MarshalJSON implements json.Marshaler for AdditionalProperties.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return json.Marshal(nil)
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler for AdditionalProperties.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}

	var s JSONSchema
	if err := json.Unmarshal(data, &s); err == nil {
		ap.Allowed = true
		ap.Schema = &s
		return nil
	}

	return fmt.Errorf("additionalProperties must be boolean or schema")
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       TypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema creates a new array schema with the given items schema.
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

// NewStringSchema creates a new string schema.
func NewStringSchema() *JSONSchema { return &JSONSchema{Type: TypeString} }

// NewNumberSchema creates a new number schema.
func NewNumberSchema() *JSONSchema { return &JSONSchema{Type: TypeNumber} }

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: TypeInteger} }

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: TypeBoolean} }

// NewRefSchema creates a schema referencing a named $defs entry.
func NewRefSchema(name string) *JSONSchema {
	return &JSONSchema{Ref: DefsPrefix + name}
}

// DefsPrefix is the reference prefix for named sub-schemas.
const DefsPrefix = "#/$defs/"

// WithDescription sets the description and returns the schema for chaining.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithDefault sets the default value and returns the schema for chaining.
func (s *JSONSchema) WithDefault(def any) *JSONSchema {
	s.Default = def
	return s
}

// WithEnum sets the enum values.
func (s *JSONSchema) WithEnum(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

// WithMinLength sets the minimum length for a string schema.
func (s *JSONSchema) WithMinLength(min int) *JSONSchema {
	s.MinLength = &min
	return s
}

// WithMaxLength sets the maximum length for a string schema.
func (s *JSONSchema) WithMaxLength(max int) *JSONSchema {
	s.MaxLength = &max
	return s
}

// WithPattern sets the regular expression pattern for a string schema.
func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

// WithFormat sets the format for a string schema.
func (s *JSONSchema) WithFormat(format StringFormat) *JSONSchema {
	s.Format = format
	return s
}

// WithMinimum sets the minimum value for a numeric schema.
func (s *JSONSchema) WithMinimum(min float64) *JSONSchema {
	s.Minimum = &min
	return s
}

// WithMaximum sets the maximum value for a numeric schema.
func (s *JSONSchema) WithMaximum(max float64) *JSONSchema {
	s.Maximum = &max
	return s
}

// WithMinItems sets the minimum item count for an array schema.
func (s *JSONSchema) WithMinItems(min int) *JSONSchema {
	s.MinItems = &min
	return s
}

// WithMaxItems sets the maximum item count for an array schema.
func (s *JSONSchema) WithMaxItems(max int) *JSONSchema {
	s.MaxItems = &max
	return s
}

// WithUniqueItems requires array items to be distinct.
func (s *JSONSchema) WithUniqueItems(unique bool) *JSONSchema {
	s.UniqueItems = &unique
	return s
}

// WithAdditionalProperties allows or forbids properties beyond those
// declared in Properties.
func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

// AddProperty adds a property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired appends required property names to an object schema.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// AddDef registers a named sub-schema under $defs.
func (s *JSONSchema) AddDef(name string, def *JSONSchema) *JSONSchema {
	if s.Defs == nil {
		s.Defs = make(map[string]*JSONSchema)
	}
	s.Defs[name] = def
	return s
}

// IsRequired reports whether a property name is in the required set.
func (s *JSONSchema) IsRequired(name string) bool {
	for _, req := range s.Required {
		if req == name {
			return true
		}
	}
	return false
}

// GetProperty returns a property schema by name, nil when absent.
func (s *JSONSchema) GetProperty(name string) *JSONSchema {
	if s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

// Clone creates a deep copy of the schema.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}

	clone := &JSONSchema{
		Schema:      s.Schema,
		ID:          s.ID,
		Ref:         s.Ref,
		Title:       s.Title,
		Description: s.Description,
		Type:        s.Type,
		Pattern:     s.Pattern,
		Format:      s.Format,
		Default:     s.Default,
	}

	if s.Properties != nil {
		clone.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			clone.Properties[k] = v.Clone()
		}
	}
	if s.Required != nil {
		clone.Required = make([]string, len(s.Required))
		copy(clone.Required, s.Required)
	}
	if s.AdditionalProperties != nil {
		clone.AdditionalProperties = &AdditionalProperties{
			Allowed: s.AdditionalProperties.Allowed,
			Schema:  s.AdditionalProperties.Schema.Clone(),
		}
	}
	clone.Items = s.Items.Clone()
	if s.Enum != nil {
		clone.Enum = make([]any, len(s.Enum))
		copy(clone.Enum, s.Enum)
	}
	if s.Defs != nil {
		clone.Defs = make(map[string]*JSONSchema, len(s.Defs))
		for k, v := range s.Defs {
			clone.Defs[k] = v.Clone()
		}
	}

	clone.MinLength = cloneInt(s.MinLength)
	clone.MaxLength = cloneInt(s.MaxLength)
	clone.MinItems = cloneInt(s.MinItems)
	clone.MaxItems = cloneInt(s.MaxItems)
	clone.Minimum = cloneFloat(s.Minimum)
	clone.Maximum = cloneFloat(s.Maximum)
	clone.ExclusiveMinimum = cloneFloat(s.ExclusiveMinimum)
	clone.ExclusiveMaximum = cloneFloat(s.ExclusiveMaximum)
	if s.UniqueItems != nil {
		v := *s.UniqueItems
		clone.UniqueItems = &v
	}

	return clone
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the schema to indented JSON.
func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON deserializes a schema from a JSON document.
func FromJSON(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &s, nil
}

// ResolveRef resolves a $ref against the root document's $defs. The second
// return is false when the reference does not point to a defined sub-schema.
func (root *JSONSchema) ResolveRef(ref string) (*JSONSchema, bool) {
	if len(ref) <= len(DefsPrefix) || ref[:len(DefsPrefix)] != DefsPrefix {
		return nil, false
	}
	name := ref[len(DefsPrefix):]
	if root.Defs == nil {
		return nil, false
	}
	def, ok := root.Defs[name]
	return def, ok
}

// CheckWellFormed verifies the structural invariants of a schema document:
// every $ref resolves to a $defs entry of the same document, node types are
// drawn from the known set, and no reference chain revisits a definition.
func (s *JSONSchema) CheckWellFormed() error {
	return checkNode(s, s, "", make(map[string]bool))
}

// checkNode walks the document following references. active holds the $defs
// names on the current expansion path; revisiting one means the definitions
// reference each other cyclically.
func checkNode(root, node *JSONSchema, path string, active map[string]bool) error {
	if node == nil {
		return nil
	}
	if node.Ref != "" {
		def, ok := root.ResolveRef(node.Ref)
		if !ok {
			return fmt.Errorf("unresolved reference %q at %s", node.Ref, pathOrRoot(path))
		}
		name := node.Ref[len(DefsPrefix):]
		if active[name] {
			return fmt.Errorf("%w: %q at %s", ErrCyclicReference, name, pathOrRoot(path))
		}
		active[name] = true
		err := checkNode(root, def, path+"."+name, active)
		delete(active, name)
		return err
	}
	switch node.Type {
	case "", TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeNull, TypeObject, TypeArray:
	default:
		return fmt.Errorf("unknown type %q at %s", node.Type, pathOrRoot(path))
	}
	for _, req := range node.Required {
		if req == "" {
			return fmt.Errorf("empty required field name at %s", pathOrRoot(path))
		}
	}
	for name, prop := range node.Properties {
		if err := checkNode(root, prop, path+"."+name, active); err != nil {
			return err
		}
	}
	if err := checkNode(root, node.Items, path+"[]", active); err != nil {
		return err
	}
	if node.AdditionalProperties != nil {
		if err := checkNode(root, node.AdditionalProperties.Schema, path+".*", active); err != nil {
			return err
		}
	}
	for name, def := range node.Defs {
		if err := checkNode(root, def, path+"/$defs/"+name, active); err != nil {
			return err
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
