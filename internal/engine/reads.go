package engine

import (
	"context"
	"errors"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/ratelimit"
)

// Opinion returns opinion id and refreshes its cache entry. The fill runs
// under the lock, so it cannot overwrite a newer commit.
func (e *Engine) Opinion(ctx context.Context, id uint64) (domain.Opinion, error) {
	var out domain.Opinion
	err := e.read(ctx, "opinion", func() error {
		o, err := e.ledger.Opinion(id)
		if err != nil {
			return err
		}
		out = o
		e.refreshCache(ctx, []domain.Opinion{o})
		return nil
	})
	return out, err
}

// Opinions lists opinions ordered by id.
func (e *Engine) Opinions(ctx context.Context, opts domain.ListOpts) ([]domain.Opinion, error) {
	var out []domain.Opinion
	err := e.read(ctx, "opinions", func() error {
		out = e.ledger.List(opts)
		return nil
	})
	return out, err
}

// History returns the answer history of opinion id.
func (e *Engine) History(ctx context.Context, id uint64) ([]domain.AnswerHistoryEntry, error) {
	var out []domain.AnswerHistoryEntry
	err := e.read(ctx, "history", func() error {
		h, err := e.ledger.History(id)
		out = h
		return err
	})
	return out, err
}

// NextPrice returns the price of the next buyout of opinion id.
func (e *Engine) NextPrice(ctx context.Context, id uint64) (domain.Amount, error) {
	var out domain.Amount
	err := e.read(ctx, "next_price", func() error {
		p, err := e.ledger.NextPrice(id)
		out = p
		return err
	})
	return out, err
}

// Pool returns pool id.
func (e *Engine) Pool(ctx context.Context, id uint64) (domain.Pool, error) {
	var out domain.Pool
	err := e.read(ctx, "pool", func() error {
		p, err := e.pools.Pool(id)
		out = p
		return err
	})
	return out, err
}

// PoolsByOpinion returns the pools of opinion id.
func (e *Engine) PoolsByOpinion(ctx context.Context, opinionID uint64) ([]domain.Pool, error) {
	var out []domain.Pool
	err := e.read(ctx, "pools_by_opinion", func() error {
		if _, err := e.ledger.Opinion(opinionID); err != nil {
			return err
		}
		out = e.pools.ByOpinion(opinionID)
		return nil
	})
	return out, err
}

// Contribution returns contributor's standing in pool id.
func (e *Engine) Contribution(ctx context.Context, poolID uint64, contributor domain.Address) (domain.Contribution, error) {
	var out domain.Contribution
	err := e.read(ctx, "contribution", func() error {
		p, err := e.pools.Pool(poolID)
		if err != nil {
			return err
		}
		if i := p.ContributionIndex(contributor); i >= 0 {
			out = p.Contributions[i]
		} else {
			out = domain.Contribution{Contributor: contributor}
		}
		return nil
	})
	return out, err
}

// AccumulatedFees returns account's claimable balance.
func (e *Engine) AccumulatedFees(ctx context.Context, account domain.Address) (domain.Amount, error) {
	var out domain.Amount
	err := e.read(ctx, "accumulated_fees", func() error {
		out = e.dist.Balance(account)
		return nil
	})
	return out, err
}

// PlatformFees returns the platform's accumulated balance.
func (e *Engine) PlatformFees(ctx context.Context) (domain.Amount, error) {
	var out domain.Amount
	err := e.read(ctx, "platform_fees", func() error {
		out = e.dist.Platform()
		return nil
	})
	return out, err
}

// Roles returns the roles held by account.
func (e *Engine) Roles(ctx context.Context, account domain.Address) ([]domain.Role, error) {
	var out []domain.Role
	err := e.read(ctx, "roles", func() error {
		out = e.control.Roles(account)
		return nil
	})
	return out, err
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool { return e.pause.Paused() }

// SettlementToken is the address of the token prices are paid in.
func (e *Engine) SettlementToken() domain.Address { return e.token.Address() }

// Events queries the committed event log.
func (e *Engine) Events(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	if e.events == nil {
		return nil, errors.New("engine: no event log configured")
	}
	return e.events.Events(ctx, f)
}

// Snapshot returns the full committed state.
func (e *Engine) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	var out *domain.Snapshot
	err := e.read(ctx, "snapshot", func() error {
		ops, hist := e.ledger.Snapshot()
		m := e.meta()
		out = &domain.Snapshot{
			Opinions:      ops,
			History:       hist,
			Pools:         e.pools.Snapshot(),
			Fees:          e.dist.Balances(),
			PlatformFees:  m.PlatformFees,
			Roles:         e.control.Grants(),
			NextOpinionID: m.NextOpinionID,
			NextPoolID:    m.NextPoolID,
			NextEventSeq:  m.NextEventSeq,
			Paused:        m.Paused,
		}
		if st, ok := e.limiter.(ratelimit.Stateful); ok {
			out.TradeMarks = st.Marks()
		}
		return nil
	})
	return out, err
}

// Ping checks the state store.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// liabilities sums claimable fee balances and platform revenue.
func (e *Engine) liabilities(ctx context.Context) (domain.Amount, error) {
	var out domain.Amount
	err := e.read(ctx, "liabilities", func() error {
		l, err := e.dist.Liabilities()
		out = l
		return err
	})
	return out, err
}
