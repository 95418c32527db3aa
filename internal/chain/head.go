package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// HeadFetcher reads the latest block number; ethclient.Client satisfies it.
type HeadFetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadConfig controls caching of the chain head.
type HeadConfig struct {
	// TTL is how long a fetched head is served. Keep it below block time.
	TTL time.Duration
	// StaleWindow is how long a cached head may be served if fetching fails.
	StaleWindow time.Duration
}

type cachedHead struct {
	number    uint64
	fetchedAt time.Time
}

// HeadTracker is a domain.BlockSource over the chain head with a TTL cache.
type HeadTracker struct {
	fetcher HeadFetcher
	cfg     HeadConfig
	clock   domain.Clock
	logger  *slog.Logger

	mu   sync.RWMutex
	head *cachedHead
}

// NewHeadTracker creates a HeadTracker.
func NewHeadTracker(fetcher HeadFetcher, cfg HeadConfig, clock domain.Clock, logger *slog.Logger) *HeadTracker {
	return &HeadTracker{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With(slog.String("component", "head_tracker")),
	}
}

// BlockNumber implements domain.BlockSource.
func (h *HeadTracker) BlockNumber(ctx context.Context) (uint64, error) {
	h.mu.RLock()
	cached := h.head
	h.mu.RUnlock()

	now := h.clock.Now()
	if cached != nil && now.Sub(cached.fetchedAt) < h.cfg.TTL {
		return cached.number, nil
	}

	n, err := h.fetcher.BlockNumber(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.fetchedAt) < h.cfg.StaleWindow {
			h.logger.WarnContext(ctx, "chain: serving stale head",
				slog.Uint64("block", cached.number),
				slog.String("error", err.Error()),
			)
			return cached.number, nil
		}
		return 0, fmt.Errorf("chain: fetch head: %w", err)
	}

	h.mu.Lock()
	// Never move backwards if a concurrent fetch saw a newer head.
	if h.head == nil || n >= h.head.number {
		h.head = &cachedHead{number: n, fetchedAt: now}
	} else {
		n = h.head.number
	}
	h.mu.Unlock()
	return n, nil
}
