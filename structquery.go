// Package structquery provides a top-level convenience entry point for
// schema-validated queries with minimal boilerplate.
//
// Usage:
//
//	client, err := structquery.New(structquery.WithAPIKey(key))
//	res, err := structquery.Ask[Product](ctx, client, "Extract: Hammer, $12.99")
//
// The client wires a shared normalized-schema cache, the Anthropic transport,
// and optionally a result cache and audit store from a config.Config. For
// finer control use the query, schema and transport packages directly.
package structquery

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trevorprater/structquery/config"
	"github.com/trevorprater/structquery/query"
	"github.com/trevorprater/structquery/schema"
	"github.com/trevorprater/structquery/store"
	"github.com/trevorprater/structquery/transport"
)

// Client bundles the shared pieces every session needs.
type Client struct {
	tr      transport.Transport
	opts    query.Options
	schemas *schema.Cache
	results *query.ResultCache
	audit   *store.Store
	logger  *zap.Logger
}

// Option configures the client created by [New].
type Option func(*clientConfig)

type clientConfig struct {
	cfg    *config.Config
	tr     transport.Transport
	apiKey string
	logger *zap.Logger
}

// WithConfig supplies a full configuration, typically from config.NewLoader.
func WithConfig(cfg *config.Config) Option {
	return func(c *clientConfig) { c.cfg = cfg }
}

// WithAPIKey sets the Anthropic API key. Defaults to ANTHROPIC_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithTransport substitutes a pre-built transport, bypassing the Anthropic
// default. Useful for tests.
func WithTransport(tr transport.Transport) Option {
	return func(c *clientConfig) { c.tr = tr }
}

// WithClientLogger sets a custom zap logger.
func WithClientLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// New creates a client.
func New(opts ...Option) (*Client, error) {
	cc := clientConfig{}
	for _, fn := range opts {
		fn(&cc)
	}

	cfg := cc.cfg
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cc.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cc.apiKey
	if apiKey == "" {
		apiKey = cfg.Anthropic.APIKey
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	tr := cc.tr
	if tr == nil {
		tr = transport.NewAnthropic(transport.AnthropicConfig{
			BaseURL:           cfg.Anthropic.BaseURL,
			APIKey:            apiKey,
			Version:           cfg.Anthropic.Version,
			Timeout:           cfg.Anthropic.Timeout,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		}, logger)
	}

	client := &Client{
		tr:      tr,
		opts:    optionsFromConfig(cfg),
		schemas: schema.NewCache(nil),
		logger:  logger,
	}

	if cfg.Cache.EnableLocal || cfg.Cache.EnableRedis {
		var rdb *redis.Client
		if cfg.Cache.EnableRedis {
			rdb = redis.NewClient(&redis.Options{
				Addr: cfg.Cache.RedisAddr,
				DB:   cfg.Cache.RedisDB,
			})
		}
		client.results = query.NewResultCache(rdb, &query.ResultCacheConfig{
			LocalMaxSize: cfg.Cache.LocalMaxSize,
			LocalTTL:     cfg.Cache.LocalTTL,
			RedisTTL:     cfg.Cache.RedisTTL,
			EnableLocal:  cfg.Cache.EnableLocal,
			EnableRedis:  cfg.Cache.EnableRedis,
		}, logger)
	}

	if cfg.Store.Enabled {
		audit, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		client.audit = audit
	}

	return client, nil
}

// Options returns the client's default per-call options.
func (c *Client) Options() query.Options { return c.opts }

// Session creates a typed session using the client's shared transport and
// caches. opts falls back to the client defaults when zero-valued fields
// matter; pass c.Options() and mutate it for per-session tweaks.
func Session[T any](c *Client, opts query.Options) (*query.Session[T], error) {
	sessionOpts := []query.SessionOption{
		query.WithLogger(c.logger),
		query.WithSchemaCache(c.schemas),
	}
	if c.results != nil {
		sessionOpts = append(sessionOpts, query.WithResultCache(c.results))
	}
	if c.audit != nil {
		sessionOpts = append(sessionOpts, query.WithRecorder(c.audit))
	}
	return query.NewSession[T](c.tr, opts, sessionOpts...)
}

// Ask runs a one-shot query with the client's default options.
func Ask[T any](ctx context.Context, c *Client, prompt string) (*query.Result[T], error) {
	sess, err := Session[T](c, c.opts)
	if err != nil {
		return nil, err
	}
	return sess.Run(ctx, prompt)
}

func optionsFromConfig(cfg *config.Config) query.Options {
	opts := query.DefaultOptions()
	if cfg.Query.Model != "" {
		opts.Model = cfg.Query.Model
	}
	if cfg.Query.TurnLimit > 0 {
		opts.TurnLimit = cfg.Query.TurnLimit
	}
	if cfg.Query.MaxOutputTokens > 0 {
		opts.MaxOutputTokens = cfg.Query.MaxOutputTokens
	}
	opts.MaxInputTokens = cfg.Query.MaxInputTokens
	opts.Temperature = float32(cfg.Query.Temperature)
	if cfg.Query.PermissionMode != "" {
		opts.PermissionMode = query.PermissionMode(cfg.Query.PermissionMode)
	}
	if cfg.Query.Timeout > 0 {
		opts.Timeout = cfg.Query.Timeout
	}
	return opts
}
