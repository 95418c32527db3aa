package engine

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/opinionmarket/internal/access"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
	"github.com/alanyoungcy/opinionmarket/internal/pool"
)

// CreatePool opens a crowdfunded buyout with the caller's initial contribution.
func (e *Engine) CreatePool(ctx context.Context, caller domain.Address, in pool.CreateInput) (domain.Pool, error) {
	var out domain.Pool
	err := e.mutate(ctx, access.OpCreatePool, caller, func(ctx context.Context, tx *journal.Tx) error {
		p, err := e.pools.Create(ctx, tx, in)
		out = p
		return err
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return out, nil
}

// ContributeToPool adds to a pool and reports the accepted amount, which is
// capped to what the pool still needs.
func (e *Engine) ContributeToPool(ctx context.Context, caller domain.Address, id uint64, amount domain.Amount) (domain.Pool, domain.Amount, error) {
	var (
		out      domain.Pool
		accepted domain.Amount
	)
	err := e.mutate(ctx, access.OpContributeToPool, caller, func(ctx context.Context, tx *journal.Tx) error {
		p, a, err := e.pools.Contribute(ctx, tx, id, amount)
		out, accepted = p, a
		return err
	})
	if err != nil {
		return domain.Pool{}, 0, err
	}
	return out, accepted, nil
}

// CheckPoolExpiry expires a pool past its deadline.
func (e *Engine) CheckPoolExpiry(ctx context.Context, caller domain.Address, id uint64) (domain.Pool, error) {
	var out domain.Pool
	err := e.mutate(ctx, access.OpCheckPoolExpiry, caller, func(_ context.Context, tx *journal.Tx) error {
		p, err := e.pools.CheckExpiry(tx, id)
		out = p
		return err
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return out, nil
}

// WithdrawFromExpiredPool refunds the caller's contribution.
func (e *Engine) WithdrawFromExpiredPool(ctx context.Context, caller domain.Address, id uint64) (domain.Amount, error) {
	var out domain.Amount
	err := e.mutate(ctx, access.OpWithdrawFromExpiredPool, caller, func(_ context.Context, tx *journal.Tx) error {
		a, err := e.pools.Withdraw(tx, id)
		out = a
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// SweepExpiredPools expires every Active pool past its deadline on behalf of
// keeper and returns how many it moved.
func (e *Engine) SweepExpiredPools(ctx context.Context, keeper domain.Address) (int, error) {
	if e.pause.Paused() {
		return 0, nil
	}
	var ids []uint64
	if err := e.read(ctx, "overdue_pools", func() error {
		ids = e.pools.Overdue(e.clock.Now())
		return nil
	}); err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		p, err := e.CheckPoolExpiry(ctx, keeper, id)
		if err != nil {
			e.logger.WarnContext(ctx, "engine: expire pool failed",
				slog.Uint64("pool_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p.Status == domain.PoolStatusExpired {
			expired++
		}
	}
	return expired, nil
}
