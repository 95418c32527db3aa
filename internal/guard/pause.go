package guard

import (
	"sync/atomic"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

// Switch is the process-wide pause flag.
type Switch struct {
	paused atomic.Bool
}

// Paused reports the flag.
func (s *Switch) Paused() bool { return s.paused.Load() }

// Restore sets the flag from persisted state.
func (s *Switch) Restore(paused bool) { s.paused.Store(paused) }

// RequireRunning fails with Paused while the flag is set.
func (s *Switch) RequireRunning() error {
	if s.paused.Load() {
		return domain.Fail(domain.Paused)
	}
	return nil
}

// RequirePaused fails with NotPaused unless the flag is set.
func (s *Switch) RequirePaused() error {
	if !s.paused.Load() {
		return domain.Fail(domain.NotPaused)
	}
	return nil
}

// Set changes the flag within tx.
func (s *Switch) Set(tx *journal.Tx, paused bool) {
	prev := s.paused.Swap(paused)
	tx.OnRollback(func() { s.paused.Store(prev) })
	kind := domain.EventUnpaused
	if paused {
		kind = domain.EventPaused
	}
	tx.Emit(kind, 0, 0, nil)
}
