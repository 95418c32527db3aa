// Package engine is the market's composition root. Every public operation
// runs under one logical lock inside a journal: effects are applied first,
// token transfers run next, and the changeset is persisted last. Any failure
// rolls the journal back and compensates transfers that already ran.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionmarket/internal/access"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/guard"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
	"github.com/alanyoungcy/opinionmarket/internal/pool"
	"github.com/alanyoungcy/opinionmarket/internal/pricing"
	"github.com/alanyoungcy/opinionmarket/internal/ratelimit"
)

// Deps wires the engine. Token, Blocks, Pricing and Fees are required; the
// rest fall back to in-process defaults.
type Deps struct {
	Token  domain.Token   // settlement token
	Tokens []domain.Token // other tokens the escrow may hold
	Blocks domain.BlockSource
	Clock  domain.Clock

	Store     domain.StateStore
	Events    domain.EventLog
	Cache     domain.OpinionCache
	Publisher domain.EventPublisher
	Audit     domain.AuditStore

	Pricing pricing.Policy
	Bounds  pricing.Bounds
	Fees    fees.Policy
	Limiter ratelimit.Policy
	Rules   ledger.Rules
	Pools   pool.Policy
	Access  access.Table

	Logger *slog.Logger
}

// Engine serves the market operations.
type Engine struct {
	token  domain.Token
	tokens map[domain.Address]domain.Token
	blocks domain.BlockSource
	clock  domain.Clock

	store     domain.StateStore
	events    domain.EventLog
	cache     domain.OpinionCache
	publisher domain.EventPublisher
	audit     domain.AuditStore

	lock    *guard.Lock
	pause   guard.Switch
	control *access.Control
	dist    *fees.Distributor
	ledger  *ledger.Ledger
	pools   *pool.Manager
	limiter ratelimit.Policy
	nextSeq uint64

	logger *slog.Logger
}

// New builds an Engine over empty state. Call Load to restore persisted state.
func New(d Deps) (*Engine, error) {
	var errs []error
	if d.Token == nil {
		errs = append(errs, errors.New("settlement token is required"))
	}
	if d.Blocks == nil {
		errs = append(errs, errors.New("block source is required"))
	}
	if d.Pricing == nil {
		errs = append(errs, errors.New("pricing policy is required"))
	}
	if d.Fees == nil {
		errs = append(errs, errors.New("fee policy is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("engine: %w", errors.Join(errs...))
	}

	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Store == nil {
		d.Store = NewMemoryStore()
	}
	if d.Events == nil {
		if log, ok := d.Store.(domain.EventLog); ok {
			d.Events = log
		}
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if d.Bounds == (pricing.Bounds{}) {
		d.Bounds = pricing.DefaultBounds
	}
	if d.Rules.QuestionMax == 0 {
		d.Rules = ledger.DefaultRules()
	}
	if d.Pools == (pool.Policy{}) {
		d.Pools = pool.DefaultPolicy()
	}
	if d.Access == nil {
		d.Access = access.DefaultTable()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	tokens := map[domain.Address]domain.Token{d.Token.Address(): d.Token}
	for _, t := range d.Tokens {
		tokens[t.Address()] = t
	}

	dist := fees.NewDistributor()
	l := ledger.New(ledger.Deps{
		Pricing:     d.Pricing,
		Bounds:      d.Bounds,
		Fees:        d.Fees,
		Distributor: dist,
		Limiter:     d.Limiter,
		Token:       d.Token,
		Rules:       d.Rules,
	})
	pm := pool.New(pool.Deps{
		Ledger:      l,
		Distributor: dist,
		Fees:        d.Fees,
		Token:       d.Token,
		Policy:      d.Pools,
	})
	dist.SetRouter(pm)

	return &Engine{
		token:     d.Token,
		tokens:    tokens,
		blocks:    d.Blocks,
		clock:     d.Clock,
		store:     d.Store,
		events:    d.Events,
		cache:     d.Cache,
		publisher: d.Publisher,
		audit:     d.Audit,
		lock:      guard.NewLock("market"),
		control:   access.NewControl(d.Access),
		dist:      dist,
		ledger:    l,
		pools:     pm,
		limiter:   d.Limiter,
		nextSeq:   1,
		logger:    d.Logger.With(slog.String("component", "engine")),
	}, nil
}

// Load replaces in-memory state with the store's committed snapshot.
func (e *Engine) Load(ctx context.Context) error {
	held, release, err := e.lock.Acquire(ctx, "load")
	if err != nil {
		return err
	}
	defer release()

	snap, err := e.store.Load(held)
	if err != nil {
		return fmt.Errorf("engine: load state: %w", err)
	}
	e.ledger.Restore(snap.Opinions, snap.History, snap.NextOpinionID)
	if st, ok := e.limiter.(ratelimit.Stateful); ok {
		st.Restore(snap.TradeMarks)
	}
	e.pools.Restore(snap.Pools, snap.NextPoolID)
	e.dist.Restore(snap.Fees, snap.PlatformFees)
	e.control.Restore(snap.Roles)
	e.pause.Restore(snap.Paused)
	e.nextSeq = max(snap.NextEventSeq, 1)

	e.logger.InfoContext(ctx, "engine: state loaded",
		slog.Int("opinions", len(snap.Opinions)),
		slog.Int("pools", len(snap.Pools)),
		slog.Int("roles", len(snap.Roles)),
		slog.Int("trade_marks", len(snap.TradeMarks)),
		slog.Uint64("next_event_seq", e.nextSeq),
		slog.Bool("paused", snap.Paused),
	)
	return nil
}

// Bootstrap grants roles without an authorization check. It is meant for
// the initial grants from configuration and is a no-op for held roles.
func (e *Engine) Bootstrap(ctx context.Context, grants []domain.RoleGrant) error {
	if len(grants) == 0 {
		return nil
	}
	return e.exec(ctx, access.OpGrantRole, domain.ZeroAddr, nil, func(_ context.Context, tx *journal.Tx) error {
		for _, g := range grants {
			if err := e.control.Grant(tx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// mutate runs a public operation: authorization and the pause gate first.
func (e *Engine) mutate(ctx context.Context, op access.Operation, caller domain.Address, fn func(context.Context, *journal.Tx) error) error {
	return e.exec(ctx, op, caller, func() error {
		if err := e.control.Authorize(caller, op); err != nil {
			return err
		}
		return e.pause.RequireRunning()
	}, fn)
}

// exec holds the lock across effects, transfers and persistence. Events are
// published after the lock is released.
func (e *Engine) exec(ctx context.Context, op access.Operation, caller domain.Address, check func() error, fn func(context.Context, *journal.Tx) error) error {
	held, release, err := e.lock.Acquire(ctx, string(op))
	if err != nil {
		return err
	}
	defer release()

	events, err := e.apply(held, op, caller, check, fn)
	release()
	if err != nil {
		e.logFailure(ctx, op, caller, err)
		return err
	}
	e.publish(ctx, events)
	return nil
}

func (e *Engine) apply(ctx context.Context, op access.Operation, caller domain.Address, check func() error, fn func(context.Context, *journal.Tx) error) ([]domain.Event, error) {
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}
	block, err := e.blocks.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: read block: %w", err)
	}
	tx := journal.New(string(op), caller, block, e.clock.Now())

	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	done, err := e.settle(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	events := tx.Events()
	for i := range events {
		events[i].Seq = e.nextSeq + uint64(i)
	}
	prevSeq := e.nextSeq
	e.nextSeq += uint64(len(events))

	cs := e.changeset(tx)
	if !cs.Empty() {
		if err := e.store.Commit(ctx, cs); err != nil {
			e.compensate(ctx, done)
			tx.Rollback()
			e.nextSeq = prevSeq
			return nil, fmt.Errorf("engine: commit %s: %w", op, err)
		}
	}
	e.refreshCache(ctx, cs.Opinions)
	return events, nil
}

// settle executes the queued transfers in order. On failure the ones that
// already ran are reversed.
func (e *Engine) settle(ctx context.Context, tx *journal.Tx) ([]journal.Transfer, error) {
	queued := tx.Transfers()
	done := make([]journal.Transfer, 0, len(queued))
	for _, t := range queued {
		if err := transfer(ctx, t.Token, t.Direction, t.Account, t.Amount); err != nil {
			e.compensate(ctx, done)
			return nil, fmt.Errorf("engine: %s %s %s (%s): %w", t.Direction, t.Amount, t.Account.Hex(), t.Reason, transferError(err))
		}
		done = append(done, t)
	}
	return done, nil
}

func (e *Engine) compensate(ctx context.Context, done []journal.Transfer) {
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		reverse := journal.Push
		if t.Direction == journal.Push {
			reverse = journal.Pull
		}
		if err := transfer(ctx, t.Token, reverse, t.Account, t.Amount); err != nil {
			e.logger.ErrorContext(ctx, "engine: compensation failed",
				slog.String("direction", reverse.String()),
				slog.String("account", t.Account.Hex()),
				slog.String("amount", t.Amount.String()),
				slog.String("reason", t.Reason),
				slog.String("error", err.Error()),
			)
		}
	}
}

func transfer(ctx context.Context, token domain.Token, dir journal.Direction, account domain.Address, amount domain.Amount) error {
	if dir == journal.Pull {
		return token.Pull(ctx, account, amount)
	}
	return token.Push(ctx, account, amount)
}

// transferError keeps market kinds raised by the token and tags everything
// else as TransferFailed.
func transferError(err error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %w", domain.TransferFailed, err)
}

func (e *Engine) changeset(tx *journal.Tx) domain.Changeset {
	cs := domain.Changeset{
		History: tx.History(),
		Events:  tx.Events(),
		Meta:    e.meta(),
	}
	for _, id := range tx.Opinions() {
		if o, err := e.ledger.Opinion(id); err == nil {
			cs.Opinions = append(cs.Opinions, o)
		}
	}
	for _, id := range tx.Pools() {
		if p, err := e.pools.Pool(id); err == nil {
			cs.Pools = append(cs.Pools, p)
		}
	}
	if accounts := tx.Fees(); len(accounts) > 0 {
		cs.Fees = make(map[domain.Address]domain.Amount, len(accounts))
		for _, a := range accounts {
			cs.Fees[a] = e.dist.Balance(a)
		}
	}
	if st, ok := e.limiter.(ratelimit.Stateful); ok {
		for _, t := range tx.Trades() {
			if m, ok := st.Mark(t.OpinionID, t.Actor); ok {
				cs.TradeMarks = append(cs.TradeMarks, m)
			}
		}
	}
	cs.RolesGranted, cs.RolesRevoked = tx.Grants()
	return cs
}

func (e *Engine) meta() domain.Meta {
	return domain.Meta{
		NextOpinionID: e.ledger.NextID(),
		NextPoolID:    e.pools.NextID(),
		NextEventSeq:  e.nextSeq,
		Paused:        e.pause.Paused(),
		PlatformFees:  e.dist.Platform(),
	}
}

func (e *Engine) refreshCache(ctx context.Context, ops []domain.Opinion) {
	if e.cache == nil {
		return
	}
	for _, o := range ops {
		if err := e.cache.Set(ctx, o); err != nil {
			e.logger.WarnContext(ctx, "engine: cache opinion failed",
				slog.Uint64("opinion_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	if err := e.publisher.PublishEvents(ctx, events); err != nil {
		e.logger.ErrorContext(ctx, "engine: publish events failed",
			slog.Int("count", len(events)),
			slog.Uint64("first_seq", events[0].Seq),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) logFailure(ctx context.Context, op access.Operation, caller domain.Address, err error) {
	attrs := []any{
		slog.String("op", string(op)),
		slog.String("caller", caller.Hex()),
		slog.String("error", err.Error()),
	}
	if domain.KindOf(err) != domain.KindUnknown {
		e.logger.DebugContext(ctx, "engine: operation rejected", attrs...)
		return
	}
	e.logger.ErrorContext(ctx, "engine: operation failed", attrs...)
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// read runs f under the lock so uncommitted state is never observed.
func (e *Engine) read(ctx context.Context, op string, f func() error) error {
	_, release, err := e.lock.Acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()
	return f()
}
