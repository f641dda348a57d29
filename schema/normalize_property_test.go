package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drawObjectSchema generates a flat object schema with randomized property
// names, primitive types and constraints.
func drawObjectSchema(t *rapid.T) *JSONSchema {
	s := NewObjectSchema()
	names := rapid.SliceOfNDistinct(
		rapid.StringMatching(`[a-z][a-z0-9_]{0,11}`), 1, 8, rapid.ID[string],
	).Draw(t, "names")

	for _, name := range names {
		var prop *JSONSchema
		switch rapid.IntRange(0, 3).Draw(t, "kind") {
		case 0:
			prop = NewStringSchema()
			if rapid.Bool().Draw(t, "withLen") {
				lo := rapid.IntRange(0, 5).Draw(t, "minLen")
				hi := rapid.IntRange(lo, 50).Draw(t, "maxLen")
				prop.WithMinLength(lo).WithMaxLength(hi)
			}
		case 1:
			prop = NewNumberSchema()
			if rapid.Bool().Draw(t, "withBounds") {
				lo := rapid.Float64Range(-1000, 1000).Draw(t, "min")
				hi := rapid.Float64Range(lo, 2000).Draw(t, "max")
				prop.WithMinimum(lo).WithMaximum(hi)
			}
		case 2:
			prop = NewBooleanSchema()
		default:
			prop = NewIntegerSchema()
		}
		s.AddProperty(name, prop)
		if rapid.Bool().Draw(t, "required") {
			s.AddRequired(name)
		}
	}
	return s
}

// Serialization round trip: any generated document survives ToJSON/FromJSON
// with identical structure.
func TestSchemaSerializationRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := drawObjectSchema(rt)

		data, err := s.ToJSON()
		require.NoError(t, err)

		parsed, err := FromJSON(data)
		require.NoError(t, err)

		again, err := parsed.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(again))
	})
}

// Pass-through normalization never rewrites a well-formed document.
func TestNormalizePassThroughProperty(t *testing.T) {
	norm := NewNormalizer()

	rapid.Check(t, func(rt *rapid.T) {
		s := drawObjectSchema(rt)
		doc, err := s.ToJSON()
		require.NoError(t, err)

		normalized, err := norm.Normalize(doc)
		require.NoError(t, err)

		out, err := normalized.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, string(doc), string(out))
	})
}

// Normalization is idempotent: normalizing the same descriptor twice yields
// structurally identical schemas.
func TestNormalizeIdempotenceProperty(t *testing.T) {
	norm := NewNormalizer()

	rapid.Check(t, func(rt *rapid.T) {
		doc, err := drawObjectSchema(rt).ToJSON()
		require.NoError(t, err)

		first, err := norm.Normalize(doc)
		require.NoError(t, err)
		second, err := norm.Normalize(doc)
		require.NoError(t, err)

		a, err := first.ToJSON()
		require.NoError(t, err)
		b, err := second.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, string(a), string(b))
	})
}
