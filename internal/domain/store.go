package domain

import (
	"context"
	"time"
)

// Snapshot is the full committed market state as loaded at startup.
type Snapshot struct {
	Opinions      []Opinion
	History       []AnswerHistoryEntry
	Pools         []Pool
	Fees          map[Address]Amount
	PlatformFees  Amount
	Roles         []RoleGrant
	NextOpinionID uint64
	NextPoolID    uint64
	NextEventSeq  uint64
	Paused        bool
	TradeMarks    []TradeMark
}

// TradeMark is the trade rate state one actor left on one opinion: the block
// and time of their latest trade there, and how many trades they had made
// in that block across all opinions.
type TradeMark struct {
	OpinionID   uint64
	Actor       Address
	Block       uint64
	ActorTrades int
	At          time.Time
}

// Meta holds the scalar market counters.
type Meta struct {
	NextOpinionID uint64
	NextPoolID    uint64
	NextEventSeq  uint64
	Paused        bool
	PlatformFees  Amount
}

// Changeset is everything one committed operation wrote. Opinions, pools and
// fee balances are full upserts; history and events are appends.
type Changeset struct {
	Opinions     []Opinion
	History      []AnswerHistoryEntry
	Pools        []Pool
	Fees         map[Address]Amount
	RolesGranted []RoleGrant
	RolesRevoked []RoleGrant
	Events       []Event
	TradeMarks   []TradeMark
	Meta         Meta
}

// Empty reports whether the changeset carries no entity writes.
func (c Changeset) Empty() bool {
	return len(c.Opinions) == 0 && len(c.History) == 0 && len(c.Pools) == 0 &&
		len(c.Fees) == 0 && len(c.RolesGranted) == 0 && len(c.RolesRevoked) == 0 &&
		len(c.Events) == 0 && len(c.TradeMarks) == 0
}

// StateStore persists committed market state.
type StateStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, cs Changeset) error
	Ping(ctx context.Context) error
}

// EventLog queries the append-only event log.
type EventLog interface {
	Events(ctx context.Context, f EventFilter) ([]Event, error)
	EventsBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// HistoryArchive reads answer history for cold storage export.
type HistoryArchive interface {
	HistoryBefore(ctx context.Context, before time.Time) ([]AnswerHistoryEntry, error)
}

// AuditEntry is one operational audit record.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
