package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss indicates a result cache miss.
var ErrCacheMiss = errors.New("cache miss")

// CachedResponse is the transport-level outcome stored in the result cache.
// It is stored untyped; sessions re-hydrate their own typed value from Raw.
type CachedResponse struct {
	Raw       string    `json:"raw"`
	Model     string    `json:"model,omitempty"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResultCacheConfig configures the result cache tiers.
type ResultCacheConfig struct {
	LocalMaxSize int           `json:"local_max_size" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"local_ttl" yaml:"local_ttl"`
	RedisTTL     time.Duration `json:"redis_ttl" yaml:"redis_ttl"`
	EnableLocal  bool          `json:"enable_local" yaml:"enable_local"`
	EnableRedis  bool          `json:"enable_redis" yaml:"enable_redis"`
}

// DefaultResultCacheConfig returns sensible defaults.
func DefaultResultCacheConfig() *ResultCacheConfig {
	return &ResultCacheConfig{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
	}
}

// ResultCache provides local + Redis caching of conforming query responses.
// Identical prompt/schema/options triples served from cache skip the network
// round trip entirely.
type ResultCache struct {
	local  *lruCache
	redis  *redis.Client
	config *ResultCacheConfig
	logger *zap.Logger
}

// NewResultCache creates a result cache. rdb may be nil when the Redis tier
// is disabled; logger may be nil.
func NewResultCache(rdb *redis.Client, config *ResultCacheConfig, logger *zap.Logger) *ResultCache {
	if config == nil {
		config = DefaultResultCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *lruCache
	if config.EnableLocal {
		local = newLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	return &ResultCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger,
	}
}

// Key derives the cache key from the request's prompt, schema and options.
func (c *ResultCache) Key(req *Request) string {
	schemaJSON, _ := req.Schema().ToJSON()
	opts := req.Options()
	data, _ := json.Marshal(struct {
		Prompt string   `json:"prompt"`
		Schema string   `json:"schema"`
		Model  string   `json:"model"`
		Turns  int      `json:"turns"`
		Mode   string   `json:"mode"`
		Beta   []string `json:"beta"`
	}{
		Prompt: req.Prompt(),
		Schema: string(schemaJSON),
		Model:  opts.Model,
		Turns:  opts.TurnLimit,
		Mode:   string(opts.PermissionMode),
		Beta:   opts.BetaFeatures,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// Get retrieves a cached response, ErrCacheMiss when absent.
func (c *ResultCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			return entry, nil
		}
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, redisKey(key)).Bytes()
		if err == nil {
			var entry CachedResponse
			if err := json.Unmarshal(data, &entry); err == nil {
				if c.local != nil {
					c.local.Set(key, &entry)
				}
				return &entry, nil
			}
		}
	}

	return nil, ErrCacheMiss
}

// Set stores a response in all enabled tiers.
func (c *ResultCache) Set(ctx context.Context, key string, entry *CachedResponse) error {
	entry.CreatedAt = time.Now()
	entry.ExpiresAt = time.Now().Add(c.config.RedisTTL)

	if c.local != nil {
		c.local.Set(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("result cache redis set failed", zap.Error(err))
			return err
		}
	}

	return nil
}

func redisKey(key string) string {
	return "structquery:result:" + key
}

// lruCache is a simple TTL-aware LRU for the local tier.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
}

type lruNode struct {
	key       string
	entry     *CachedResponse
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
	}
}

func (c *lruCache) Get(key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}
	c.moveToHead(node)
	return node.entry, true
}

func (c *lruCache) Set(key string, entry *CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.entry = entry
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *lruCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
