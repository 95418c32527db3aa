// Package redis implements the opinion cache, API rate limiter, instance lock
// and event bus on go-redis/v9. Every key is namespaced by ClientConfig.KeyPrefix.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "opinionmarket"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key; defaults to "opinionmarket".
	KeyPrefix string
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client is a go-redis connection plus the key namespace the stores share.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New dials Redis and fails unless the server answers PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{
		rdb:    redis.NewClient(cfg.options()),
		prefix: strings.TrimSuffix(cfg.KeyPrefix, ":"),
	}
	if c.prefix == "" {
		c.prefix = defaultKeyPrefix
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }

// Key joins parts under the client's prefix: "{prefix}:a:b".
func (c *Client) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}
