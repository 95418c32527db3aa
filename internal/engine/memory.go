package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

// MemoryStore keeps committed state in process. It implements
// domain.StateStore, domain.EventLog and domain.HistoryArchive.
type MemoryStore struct {
	mu       sync.RWMutex
	opinions map[uint64]domain.Opinion
	history  []domain.AnswerHistoryEntry
	pools    map[uint64]domain.Pool
	fees     map[domain.Address]domain.Amount
	roles    map[domain.RoleGrant]struct{}
	events   []domain.Event
	marks    map[journal.Trade]domain.TradeMark
	meta     domain.Meta

	// FailCommit, when set, is returned by the next Commit and then cleared.
	FailCommit error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		opinions: make(map[uint64]domain.Opinion),
		pools:    make(map[uint64]domain.Pool),
		fees:     make(map[domain.Address]domain.Amount),
		roles:    make(map[domain.RoleGrant]struct{}),
		marks:    make(map[journal.Trade]domain.TradeMark),
	}
}

// Load implements domain.StateStore.
func (s *MemoryStore) Load(context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.Snapshot{
		History:       append([]domain.AnswerHistoryEntry(nil), s.history...),
		Fees:          make(map[domain.Address]domain.Amount, len(s.fees)),
		PlatformFees:  s.meta.PlatformFees,
		NextOpinionID: s.meta.NextOpinionID,
		NextPoolID:    s.meta.NextPoolID,
		NextEventSeq:  s.meta.NextEventSeq,
		Paused:        s.meta.Paused,
	}
	for _, o := range s.opinions {
		snap.Opinions = append(snap.Opinions, o.Clone())
	}
	sort.Slice(snap.Opinions, func(i, j int) bool { return snap.Opinions[i].ID < snap.Opinions[j].ID })
	for _, p := range s.pools {
		snap.Pools = append(snap.Pools, p.Clone())
	}
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].ID < snap.Pools[j].ID })
	for a, v := range s.fees {
		snap.Fees[a] = v
	}
	for g := range s.roles {
		snap.Roles = append(snap.Roles, g)
	}
	for _, m := range s.marks {
		snap.TradeMarks = append(snap.TradeMarks, m)
	}
	return snap, nil
}

// Commit implements domain.StateStore.
func (s *MemoryStore) Commit(_ context.Context, cs domain.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailCommit; err != nil {
		s.FailCommit = nil
		return err
	}
	for _, o := range cs.Opinions {
		s.opinions[o.ID] = o.Clone()
	}
	s.history = append(s.history, cs.History...)
	for _, p := range cs.Pools {
		s.pools[p.ID] = p.Clone()
	}
	for a, v := range cs.Fees {
		s.fees[a] = v
	}
	for _, g := range cs.RolesGranted {
		s.roles[g] = struct{}{}
	}
	for _, g := range cs.RolesRevoked {
		delete(s.roles, g)
	}
	s.events = append(s.events, cs.Events...)
	for _, m := range cs.TradeMarks {
		s.marks[journal.Trade{OpinionID: m.OpinionID, Actor: m.Actor}] = m
	}
	s.meta = cs.Meta
	return nil
}

// Ping implements domain.StateStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Events implements domain.EventLog.
func (s *MemoryStore) Events(_ context.Context, f domain.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, e := range s.events {
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// EventsBefore implements domain.EventLog.
func (s *MemoryStore) EventsBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, e := range s.events {
		if e.Timestamp.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// HistoryBefore implements domain.HistoryArchive.
func (s *MemoryStore) HistoryBefore(_ context.Context, before time.Time) ([]domain.AnswerHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AnswerHistoryEntry
	for _, h := range s.history {
		if h.Timestamp.Before(before) {
			out = append(out, h)
		}
	}
	return out, nil
}
