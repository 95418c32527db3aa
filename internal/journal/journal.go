// Package journal records what a single market operation did so it can be
// committed as a unit or rolled back without leaving partial state.
package journal

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Direction of a queued token transfer relative to the escrow.
type Direction uint8

const (
	Pull Direction = iota + 1 // user -> escrow
	Push                      // escrow -> user
)

func (d Direction) String() string {
	if d == Pull {
		return "pull"
	}
	return "push"
}

// Transfer is a token movement executed after all effects are applied.
type Transfer struct {
	Token     domain.Token
	Direction Direction
	Account   domain.Address
	Amount    domain.Amount
	Reason    string
}

// Trade names an actor's trade on an opinion.
type Trade struct {
	OpinionID uint64
	Actor     domain.Address
}

// Tx is the journal of one operation.
type Tx struct {
	Op     string
	Caller domain.Address
	Block  uint64
	Now    time.Time

	undo      []func()
	transfers []Transfer
	events    []domain.Event
	history   []domain.AnswerHistoryEntry
	opinions  map[uint64]struct{}
	pools     map[uint64]struct{}
	fees      map[domain.Address]struct{}
	trades    map[Trade]struct{}
	granted   []domain.RoleGrant
	revoked   []domain.RoleGrant
}

// New opens a journal for op.
func New(op string, caller domain.Address, block uint64, now time.Time) *Tx {
	return &Tx{
		Op:       op,
		Caller:   caller,
		Block:    block,
		Now:      now,
		opinions: make(map[uint64]struct{}),
		pools:    make(map[uint64]struct{}),
		fees:     make(map[domain.Address]struct{}),
		trades:   make(map[Trade]struct{}),
	}
}

// OnRollback registers f to run, in reverse registration order, if the
// operation fails.
func (tx *Tx) OnRollback(f func()) {
	if f != nil {
		tx.undo = append(tx.undo, f)
	}
}

// Rollback reverts every registered effect. It is safe to call once.
func (tx *Tx) Rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.transfers = nil
	tx.events = nil
	tx.history = nil
	tx.granted = nil
	tx.revoked = nil
}

// Pull queues amount from account into the escrow.
func (tx *Tx) Pull(token domain.Token, from domain.Address, amount domain.Amount, reason string) {
	tx.queue(Transfer{Token: token, Direction: Pull, Account: from, Amount: amount, Reason: reason})
}

// Push queues amount from the escrow to account.
func (tx *Tx) Push(token domain.Token, to domain.Address, amount domain.Amount, reason string) {
	tx.queue(Transfer{Token: token, Direction: Push, Account: to, Amount: amount, Reason: reason})
}

func (tx *Tx) queue(t Transfer) {
	if t.Amount <= 0 {
		return
	}
	tx.transfers = append(tx.transfers, t)
}

// Transfers returns the queued transfers in order.
func (tx *Tx) Transfers() []Transfer { return tx.transfers }

// Emit appends an event stamped with the operation's block and time.
func (tx *Tx) Emit(kind domain.EventKind, opinionID, poolID uint64, data map[string]any) {
	tx.events = append(tx.events, domain.Event{
		ID:        uuid.New(),
		Kind:      kind,
		OpinionID: opinionID,
		PoolID:    poolID,
		Actor:     tx.Caller,
		Block:     tx.Block,
		Timestamp: tx.Now,
		Data:      data,
	})
}

// Events returns the emitted events.
func (tx *Tx) Events() []domain.Event { return tx.events }

// AppendHistory records a new answer history entry.
func (tx *Tx) AppendHistory(e domain.AnswerHistoryEntry) { tx.history = append(tx.history, e) }

// History returns the appended entries.
func (tx *Tx) History() []domain.AnswerHistoryEntry { return tx.history }

// TouchOpinion marks an opinion for persistence.
func (tx *Tx) TouchOpinion(id uint64) { tx.opinions[id] = struct{}{} }

// TouchPool marks a pool for persistence.
func (tx *Tx) TouchPool(id uint64) { tx.pools[id] = struct{}{} }

// TouchFee marks a fee balance for persistence.
func (tx *Tx) TouchFee(addr domain.Address) { tx.fees[addr] = struct{}{} }

// TouchTrade marks the rate state of actor on opinionID for persistence.
func (tx *Tx) TouchTrade(opinionID uint64, actor domain.Address) {
	tx.trades[Trade{OpinionID: opinionID, Actor: actor}] = struct{}{}
}

// Grant records a role grant.
func (tx *Tx) Grant(g domain.RoleGrant) { tx.granted = append(tx.granted, g) }

// Revoke records a role revocation.
func (tx *Tx) Revoke(g domain.RoleGrant) { tx.revoked = append(tx.revoked, g) }

// Grants returns the granted and revoked roles.
func (tx *Tx) Grants() (granted, revoked []domain.RoleGrant) { return tx.granted, tx.revoked }

// Opinions returns touched opinion ids in ascending order.
func (tx *Tx) Opinions() []uint64 { return sortedIDs(tx.opinions) }

// Pools returns touched pool ids in ascending order.
func (tx *Tx) Pools() []uint64 { return sortedIDs(tx.pools) }

// Fees returns touched fee accounts.
func (tx *Tx) Fees() []domain.Address {
	out := make([]domain.Address, 0, len(tx.fees))
	for a := range tx.fees {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Trades returns touched trades ordered by opinion, then actor.
func (tx *Tx) Trades() []Trade {
	out := make([]Trade, 0, len(tx.trades))
	for t := range tx.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpinionID != out[j].OpinionID {
			return out[i].OpinionID < out[j].OpinionID
		}
		return out[i].Actor.Cmp(out[j].Actor) < 0
	})
	return out
}

func sortedIDs(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
