package domain

import (
	"context"
	"time"
)

// OpinionCache provides fast opinion lookups for the read API.
type OpinionCache interface {
	Set(ctx context.Context, o Opinion) error
	Get(ctx context.Context, id uint64) (Opinion, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides request rate limiting for the HTTP surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ReplayGuard remembers keys for a while. Remember reports false when key
// is already held and has not expired.
type ReplayGuard interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
}

// StreamMessage represents a single entry from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventPublisher receives events after their operation has committed.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []Event) error
}
