package guard

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Seen is an in-process domain.ReplayGuard for single-instance deployments.
// Expired keys are dropped lazily.
type Seen struct {
	Now func() time.Time

	mu        sync.Mutex
	keys      map[string]time.Time
	nextSweep time.Time
}

// NewSeen returns an empty Seen on the wall clock.
func NewSeen() *Seen {
	return &Seen{Now: time.Now, keys: make(map[string]time.Time)}
}

// Remember implements domain.ReplayGuard.
func (s *Seen) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if now.After(s.nextSweep) {
		for k, exp := range s.keys {
			if !now.Before(exp) {
				delete(s.keys, k)
			}
		}
		s.nextSweep = now.Add(ttl)
	}
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

var _ domain.ReplayGuard = (*Seen)(nil)
