package schema

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheNormalize(t *testing.T) {
	c := NewCache(nil)

	first, hit, err := c.Normalize(product{})
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.Normalize(product{})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
}

func TestCacheDistinctDescriptors(t *testing.T) {
	c := NewCache(nil)

	_, _, err := c.Normalize(product{})
	require.NoError(t, err)
	_, _, err = c.Normalize(person{})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestCacheDocumentKeyedByDigest(t *testing.T) {
	c := NewCache(nil)

	doc := `{"type":"object","required":["id"]}`
	_, hit, err := c.Normalize(json.RawMessage(doc))
	require.NoError(t, err)
	assert.False(t, hit)

	// Same content in a fresh byte slice hits the cache.
	_, hit, err = c.Normalize([]byte(doc))
	require.NoError(t, err)
	assert.True(t, hit)
}

// fieldProvider builds a one-property object schema per instance, so two
// values of this type can carry different schemas.
type fieldProvider struct{ field string }

func (p fieldProvider) Schema() *JSONSchema {
	return NewObjectSchema().
		AddProperty(p.field, NewStringSchema()).
		AddRequired(p.field)
}

func TestCacheProviderInstancesNotConflated(t *testing.T) {
	c := NewCache(nil)

	a, _, err := c.Normalize(fieldProvider{field: "alpha"})
	require.NoError(t, err)
	b, _, err := c.Normalize(fieldProvider{field: "beta"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, a.Required)
	assert.Equal(t, []string{"beta"}, b.Required)
	assert.Contains(t, b.Properties, "beta")
	assert.NotContains(t, b.Properties, "alpha")
}

func TestCachePrebuiltSchemaKeyedByContent(t *testing.T) {
	c := NewCache(nil)

	build := func() *JSONSchema {
		return NewObjectSchema().
			AddProperty("id", NewIntegerSchema()).
			AddRequired("id")
	}

	_, hit, err := c.Normalize(build())
	require.NoError(t, err)
	assert.False(t, hit)

	// A structurally identical schema at a different address hits the cache.
	_, hit, err = c.Normalize(build())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, c.Len())
}

func TestCacheErrorNotCached(t *testing.T) {
	c := NewCache(nil)

	_, _, err := c.Normalize(nodeA{})
	require.ErrorIs(t, err, ErrCyclicReference)
	assert.Equal(t, 0, c.Len())

	_, _, err = c.Normalize(nodeA{})
	require.ErrorIs(t, err, ErrCyclicReference)
}

func TestCacheConcurrentFirstAccess(t *testing.T) {
	c := NewCache(nil)

	const goroutines = 32
	results := make([]*JSONSchema, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := c.Normalize(person{})
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	// All goroutines observe the same memoized tree.
	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, c.Len())
}
