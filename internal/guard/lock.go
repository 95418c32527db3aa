// Package guard serializes market operations and rejects re-entry from
// within an operation's own call chain.
package guard

import (
	"context"
	"sync/atomic"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

type heldKey struct{}

// Lock is a logical mutex held for the whole of an operation, including its
// token transfers. Waiting honours ctx cancellation. A ctx derived from the
// one returned by Acquire is recognised as re-entry and rejected instead of
// deadlocking.
type Lock struct {
	name  string
	token chan struct{}
	gen   atomic.Uint64
}

// NewLock returns an unlocked Lock.
func NewLock(name string) *Lock {
	l := &Lock{name: name, token: make(chan struct{}, 1)}
	l.token <- struct{}{}
	return l
}

type hold struct {
	lock *Lock
	gen  uint64
	op   string
}

// Acquire waits for the lock. The returned ctx marks the holder; pass it to
// everything the operation calls.
func (l *Lock) Acquire(ctx context.Context, op string) (context.Context, func(), error) {
	if h, ok := ctx.Value(heldKey{}).(*hold); ok && h.lock == l && h.gen == l.gen.Load() {
		return nil, nil, domain.Fail(domain.Reentrancy, "lock", l.name, "held_by", h.op, "op", op)
	}
	select {
	case <-l.token:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	gen := l.gen.Add(1)
	held := context.WithValue(ctx, heldKey{}, &hold{lock: l, gen: gen, op: op})

	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			l.gen.Add(1)
			l.token <- struct{}{}
		}
	}
	return held, release, nil
}

// Held reports whether ctx is inside an operation holding l.
func (l *Lock) Held(ctx context.Context) bool {
	h, ok := ctx.Value(heldKey{}).(*hold)
	return ok && h.lock == l && h.gen == l.gen.Load()
}
