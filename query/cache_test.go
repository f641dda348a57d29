package query

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(t *testing.T, prompt string) *Request {
	t.Helper()
	req, err := Compose(prompt, productSchema(), DefaultOptions())
	require.NoError(t, err)
	return req
}

func TestResultCacheKeyStableAcrossRequests(t *testing.T) {
	cache := NewResultCache(nil, nil, nil)

	a := testRequest(t, "extract the hammer")
	b := testRequest(t, "extract the hammer")
	c := testRequest(t, "extract the saw")

	assert.Equal(t, cache.Key(a), cache.Key(b), "key ignores the request id")
	assert.NotEqual(t, cache.Key(a), cache.Key(c))
}

func TestResultCacheKeyVariesWithOptions(t *testing.T) {
	cache := NewResultCache(nil, nil, nil)

	base := testRequest(t, "extract")

	opts := DefaultOptions()
	opts.Model = "claude-opus-4-1"
	other, err := Compose("extract", productSchema(), opts)
	require.NoError(t, err)

	assert.NotEqual(t, cache.Key(base), cache.Key(other))
}

func TestResultCacheLocalTier(t *testing.T) {
	cache := NewResultCache(nil, &ResultCacheConfig{
		LocalMaxSize: 4,
		LocalTTL:     time.Minute,
		RedisTTL:     time.Minute,
		EnableLocal:  true,
	}, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)

	entry := &CachedResponse{Raw: `{"name":"Hammer"}`, Model: "m", Usage: Usage{InputTokens: 10}}
	require.NoError(t, cache.Set(ctx, "k1", entry))

	got, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, entry.Raw, got.Raw)
	assert.Equal(t, 10, got.Usage.InputTokens)
}

func TestResultCacheLocalEviction(t *testing.T) {
	cache := NewResultCache(nil, &ResultCacheConfig{
		LocalMaxSize: 2,
		LocalTTL:     time.Minute,
		RedisTTL:     time.Minute,
		EnableLocal:  true,
	}, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", &CachedResponse{Raw: "a"}))
	require.NoError(t, cache.Set(ctx, "b", &CachedResponse{Raw: "b"}))

	// Touch "a" so "b" is the LRU entry.
	_, err := cache.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "c", &CachedResponse{Raw: "c"}))

	_, err = cache.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestResultCacheRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache := NewResultCache(rdb, &ResultCacheConfig{
		LocalMaxSize: 4,
		LocalTTL:     time.Minute,
		RedisTTL:     time.Hour,
		EnableLocal:  false,
		EnableRedis:  true,
	}, nil)
	ctx := context.Background()

	entry := &CachedResponse{
		Raw:   `{"name":"Hammer","price":12.99}`,
		Model: "claude-sonnet-4-20250514",
		Usage: Usage{InputTokens: 100, OutputTokens: 30, CostUSD: 0.0008},
	}
	require.NoError(t, cache.Set(ctx, "hammer", entry))

	got, err := cache.Get(ctx, "hammer")
	require.NoError(t, err)
	assert.Equal(t, entry.Raw, got.Raw)
	assert.Equal(t, entry.Model, got.Model)
	assert.Equal(t, entry.Usage.CostUSD, got.Usage.CostUSD)
}

func TestResultCacheRedisBackfillsLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	writer := NewResultCache(rdb, DefaultResultCacheConfig(), nil)
	require.NoError(t, writer.Set(ctx, "shared", &CachedResponse{Raw: "payload"}))

	reader := NewResultCache(rdb, DefaultResultCacheConfig(), nil)
	got, err := reader.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "payload", got.Raw)

	// Second read is served locally even after Redis loses the key.
	mr.FlushAll()
	got, err = reader.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "payload", got.Raw)
}

func TestResultCacheLocalTTLExpiry(t *testing.T) {
	cache := NewResultCache(nil, &ResultCacheConfig{
		LocalMaxSize: 4,
		LocalTTL:     10 * time.Millisecond,
		RedisTTL:     time.Minute,
		EnableLocal:  true,
	}, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", &CachedResponse{Raw: "v"}))
	time.Sleep(25 * time.Millisecond)

	_, err := cache.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
