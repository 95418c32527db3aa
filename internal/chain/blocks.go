package chain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// TimeBlocks derives the ordering unit from wall time: one block per
// Interval since Genesis. It is the block source when no chain is configured.
type TimeBlocks struct {
	Clock    domain.Clock
	Genesis  time.Time
	Interval time.Duration
}

// BlockNumber implements domain.BlockSource.
func (b TimeBlocks) BlockNumber(context.Context) (uint64, error) {
	interval := b.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	elapsed := b.Clock.Now().Sub(b.Genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / interval), nil
}

// ManualBlocks is a block source advanced explicitly.
type ManualBlocks struct {
	n atomic.Uint64
}

// NewManualBlocks starts at block start.
func NewManualBlocks(start uint64) *ManualBlocks {
	b := &ManualBlocks{}
	b.n.Store(start)
	return b
}

// BlockNumber implements domain.BlockSource.
func (b *ManualBlocks) BlockNumber(context.Context) (uint64, error) { return b.n.Load(), nil }

// Advance moves to the next block and returns it.
func (b *ManualBlocks) Advance() uint64 { return b.n.Add(1) }
