package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/opinionmarket/internal/codec"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// StateStore implements domain.StateStore, domain.EventLog and
// domain.HistoryArchive.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Ping checks connectivity.
func (s *StateStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Load reads the full committed state. An empty database yields an empty
// snapshot.
func (s *StateStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{Fees: make(map[domain.Address]domain.Amount)}

	var err error
	if snap.Opinions, err = queryPayloads(ctx, s.pool,
		`SELECT payload FROM opinions ORDER BY id`, codec.DecodeOpinion); err != nil {
		return nil, fmt.Errorf("postgres: load opinions: %w", err)
	}
	if snap.History, err = queryPayloads(ctx, s.pool,
		`SELECT payload FROM answer_history ORDER BY id`, codec.DecodeHistory); err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	if snap.Pools, err = queryPayloads(ctx, s.pool,
		`SELECT payload FROM pools ORDER BY id`, codec.DecodePool); err != nil {
		return nil, fmt.Errorf("postgres: load pools: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT account, amount FROM fee_balances`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load fee balances: %w", err)
	}
	for rows.Next() {
		var (
			account string
			amount  int64
		)
		if err := rows.Scan(&account, &amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan fee balance: %w", err)
		}
		snap.Fees[parseAddr(account)] = domain.Amount(amount)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load fee balances rows: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT role, account FROM role_grants ORDER BY role, account`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load roles: %w", err)
	}
	for rows.Next() {
		var role, account string
		if err := rows.Scan(&role, &account); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan role: %w", err)
		}
		snap.Roles = append(snap.Roles, domain.RoleGrant{Role: domain.Role(role), Account: parseAddr(account)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load roles rows: %w", err)
	}

	if snap.TradeMarks, err = s.tradeMarks(ctx); err != nil {
		return nil, err
	}

	var platform int64
	err = s.pool.QueryRow(ctx, `
		SELECT next_opinion_id, next_pool_id, next_event_seq, paused, platform_fees
		FROM market_meta WHERE id = 1`,
	).Scan(&snap.NextOpinionID, &snap.NextPoolID, &snap.NextEventSeq, &snap.Paused, &platform)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("postgres: load meta: %w", err)
	default:
		snap.PlatformFees = domain.Amount(platform)
	}
	return snap, nil
}

const upsertOpinion = `
	INSERT INTO opinions (
		id, question, creator, question_owner, current_answer_owner,
		next_price, sale_price, is_active, payload, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (id) DO UPDATE SET
		question_owner       = EXCLUDED.question_owner,
		current_answer_owner = EXCLUDED.current_answer_owner,
		next_price           = EXCLUDED.next_price,
		sale_price           = EXCLUDED.sale_price,
		is_active            = EXCLUDED.is_active,
		payload              = EXCLUDED.payload,
		updated_at           = NOW()`

const upsertPool = `
	INSERT INTO pools (id, opinion_id, status, deadline, payload, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (id) DO UPDATE SET
		status     = EXCLUDED.status,
		payload    = EXCLUDED.payload,
		updated_at = NOW()`

const upsertMeta = `
	INSERT INTO market_meta (id, next_opinion_id, next_pool_id, next_event_seq, paused, platform_fees, updated_at)
	VALUES (1, $1, $2, $3, $4, $5, NOW())
	ON CONFLICT (id) DO UPDATE SET
		next_opinion_id = EXCLUDED.next_opinion_id,
		next_pool_id    = EXCLUDED.next_pool_id,
		next_event_seq  = EXCLUDED.next_event_seq,
		paused          = EXCLUDED.paused,
		platform_fees   = EXCLUDED.platform_fees,
		updated_at      = NOW()`

const upsertTradeMark = `
	INSERT INTO trade_marks (opinion_id, actor, block, actor_trades, traded_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (opinion_id, actor) DO UPDATE SET
		block        = EXCLUDED.block,
		actor_trades = EXCLUDED.actor_trades,
		traded_at    = EXCLUDED.traded_at`

func (s *StateStore) tradeMarks(ctx context.Context) ([]domain.TradeMark, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT opinion_id, actor, block, actor_trades, traded_at FROM trade_marks ORDER BY opinion_id, actor`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load trade marks: %w", err)
	}
	marks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TradeMark, error) {
		var (
			opinionID, block int64
			actor            string
			m                domain.TradeMark
		)
		if err := row.Scan(&opinionID, &actor, &block, &m.ActorTrades, &m.At); err != nil {
			return m, err
		}
		m.OpinionID, m.Actor, m.Block = uint64(opinionID), parseAddr(actor), uint64(block)
		m.At = m.At.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade marks: %w", err)
	}
	return marks, nil
}

// Commit writes one operation's changeset in a single transaction.
func (s *StateStore) Commit(ctx context.Context, cs domain.Changeset) error {
	batch := &pgx.Batch{}
	for _, o := range cs.Opinions {
		batch.Queue(upsertOpinion,
			int64(o.ID), o.Question, o.Creator.Hex(), o.QuestionOwner.Hex(), o.CurrentAnswerOwner.Hex(),
			int64(o.NextPrice), int64(o.SalePrice), o.IsActive, codec.EncodeOpinion(o), o.CreatedAt,
		)
	}
	for _, h := range cs.History {
		batch.Queue(`INSERT INTO answer_history (opinion_id, owner, price, payload, ts) VALUES ($1, $2, $3, $4, $5)`,
			int64(h.OpinionID), h.Owner.Hex(), int64(h.Price), codec.EncodeHistory(h), h.Timestamp,
		)
	}
	for _, p := range cs.Pools {
		batch.Queue(upsertPool, int64(p.ID), int64(p.OpinionID), p.Status.String(), p.Deadline, codec.EncodePool(p))
	}
	for a, v := range cs.Fees {
		batch.Queue(`
			INSERT INTO fee_balances (account, amount, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
			a.Hex(), int64(v),
		)
	}
	for _, g := range cs.RolesGranted {
		batch.Queue(`INSERT INTO role_grants (role, account) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(g.Role), g.Account.Hex())
	}
	for _, g := range cs.RolesRevoked {
		batch.Queue(`DELETE FROM role_grants WHERE role = $1 AND account = $2`, string(g.Role), g.Account.Hex())
	}
	for _, ev := range cs.Events {
		payload, err := codec.EncodeEvent(ev)
		if err != nil {
			return fmt.Errorf("postgres: encode event %d: %w", ev.Seq, err)
		}
		batch.Queue(`
			INSERT INTO market_events (seq, id, kind, opinion_id, pool_id, actor, block, payload, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			int64(ev.Seq), ev.ID, string(ev.Kind), int64(ev.OpinionID), int64(ev.PoolID),
			ev.Actor.Hex(), int64(ev.Block), payload, ev.Timestamp,
		)
	}
	for _, tm := range cs.TradeMarks {
		batch.Queue(upsertTradeMark, int64(tm.OpinionID), tm.Actor.Hex(), int64(tm.Block), tm.ActorTrades, tm.At)
	}
	m := cs.Meta
	batch.Queue(upsertMeta, int64(m.NextOpinionID), int64(m.NextPoolID), int64(m.NextEventSeq), m.Paused, int64(m.PlatformFees))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: write changeset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit changeset: %w", err)
	}
	return nil
}

// Events returns events matching f in sequence order.
func (s *StateStore) Events(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	var q filter
	q.add("seq > ?", int64(f.AfterSeq))
	if f.Kind != "" {
		q.add("kind = ?", string(f.Kind))
	}
	if f.OpinionID != 0 {
		q.add("opinion_id = ?", int64(f.OpinionID))
	}
	if f.PoolID != 0 {
		q.add("pool_id = ?", int64(f.PoolID))
	}
	query, args := q.build(`SELECT payload FROM market_events`, "seq", f.Limit, 0)

	events, err := queryPayloads(ctx, s.pool, query, codec.DecodeEvent, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return events, nil
}

// EventsBefore returns every event older than before.
func (s *StateStore) EventsBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	events, err := queryPayloads(ctx, s.pool,
		`SELECT payload FROM market_events WHERE ts < $1 ORDER BY seq`, codec.DecodeEvent, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: events before %s: %w", before.Format(time.RFC3339), err)
	}
	return events, nil
}

// HistoryBefore returns every answer history entry older than before.
func (s *StateStore) HistoryBefore(ctx context.Context, before time.Time) ([]domain.AnswerHistoryEntry, error) {
	entries, err := queryPayloads(ctx, s.pool,
		`SELECT payload FROM answer_history WHERE ts < $1 ORDER BY id`, codec.DecodeHistory, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: history before %s: %w", before.Format(time.RFC3339), err)
	}
	return entries, nil
}

// queryPayloads runs a single-column payload query and decodes every row.
func queryPayloads[T any](ctx context.Context, pool *pgxpool.Pool, query string, decode func([]byte) (T, error), args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			var zero T
			return zero, err
		}
		return decode(payload)
	})
}

func parseAddr(s string) domain.Address { return common.HexToAddress(s) }
