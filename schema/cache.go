package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes normalization by descriptor identity. Reads are safe for
// concurrent use; the first normalization of a new descriptor is computed at
// most once even under concurrent first access.
//
// Returned schemas are shared between callers and must not be mutated.
type Cache struct {
	norm    *Normalizer
	group   singleflight.Group
	entries sync.Map // key string -> *JSONSchema
}

// NewCache creates a Cache backed by the given normalizer.
func NewCache(norm *Normalizer) *Cache {
	if norm == nil {
		norm = NewNormalizer()
	}
	return &Cache{norm: norm}
}

// Normalize returns the canonical schema for a descriptor, computing and
// caching it on first use. The second return reports whether the schema was
// served from cache.
func (c *Cache) Normalize(descriptor any) (*JSONSchema, bool, error) {
	key, ok := descriptorKey(descriptor)
	if !ok {
		// Unkeyable descriptors are normalized without caching.
		s, err := c.norm.Normalize(descriptor)
		return s, false, err
	}

	if cached, hit := c.entries.Load(key); hit {
		return cached.(*JSONSchema), true, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		s, err := c.norm.Normalize(descriptor)
		if err != nil {
			return nil, err
		}
		c.entries.Store(key, s)
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*JSONSchema), shared, nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// descriptorKey derives a stable identity for a descriptor. Typed models are
// keyed by their Go type; raw documents and prebuilt schemas by content
// digest. Providers are not keyable: two instances of the same provider type
// may produce different schemas, so they bypass the cache entirely.
func descriptorKey(descriptor any) (string, bool) {
	switch d := descriptor.(type) {
	case nil:
		return "", false
	case *JSONSchema:
		data, err := json.Marshal(d)
		if err != nil {
			return "", false
		}
		return "schema:" + digest(data), true
	case json.RawMessage:
		return "doc:" + digest(d), true
	case []byte:
		return "doc:" + digest(d), true
	case map[string]any:
		data, err := json.Marshal(d)
		if err != nil {
			return "", false
		}
		return "doc:" + digest(data), true
	case Provider:
		return "", false
	case DocumentProvider:
		return "", false
	case reflect.Type:
		return "type:" + typeKey(d), true
	default:
		t := reflect.TypeOf(descriptor)
		if t == nil {
			return "", false
		}
		return "type:" + typeKey(t), true
	}
}

func typeKey(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "/" + t.String()
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
