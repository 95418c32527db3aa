package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/opinionmarket/internal/codec"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const defaultOpinionTTL = 10 * time.Minute

// OpinionCache implements domain.OpinionCache. Values are codec payloads, so
// a cache written by an older build migrates on read like the store does.
//
// Key schema:
//
//	{prefix}:opinion:{id} - codec-encoded opinion
type OpinionCache struct {
	c   *Client
	ttl time.Duration
}

// NewOpinionCache creates an OpinionCache; ttl <= 0 selects the default.
func NewOpinionCache(c *Client, ttl time.Duration) *OpinionCache {
	if ttl <= 0 {
		ttl = defaultOpinionTTL
	}
	return &OpinionCache{c: c, ttl: ttl}
}

func (oc *OpinionCache) key(id uint64) string {
	return oc.c.Key("opinion", strconv.FormatUint(id, 10))
}

// Set stores o.
func (oc *OpinionCache) Set(ctx context.Context, o domain.Opinion) error {
	if err := oc.c.rdb.Set(ctx, oc.key(o.ID), codec.EncodeOpinion(o), oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set opinion %d: %w", o.ID, err)
	}
	return nil
}

// Get returns the cached opinion or domain.ErrNotFound.
func (oc *OpinionCache) Get(ctx context.Context, id uint64) (domain.Opinion, error) {
	raw, err := oc.c.rdb.Get(ctx, oc.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Opinion{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Opinion{}, fmt.Errorf("redis: get opinion %d: %w", id, err)
	}
	o, err := codec.DecodeOpinion(raw)
	if err != nil {
		// An unreadable entry is treated as a miss and dropped.
		_ = oc.c.rdb.Del(ctx, oc.key(id)).Err()
		return domain.Opinion{}, domain.ErrNotFound
	}
	return o, nil
}

// Invalidate drops the cached opinion.
func (oc *OpinionCache) Invalidate(ctx context.Context, id uint64) error {
	if err := oc.c.rdb.Del(ctx, oc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate opinion %d: %w", id, err)
	}
	return nil
}

var _ domain.OpinionCache = (*OpinionCache)(nil)
