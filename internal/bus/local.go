package bus

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Local is an in-process domain.SignalBus for single-node runs and tests.
// Slow subscribers drop messages rather than block publishers.
type Local struct {
	mu      sync.Mutex
	subs    map[int]localSub
	nextSub int
	streams map[string][]domain.StreamMessage
	maxLen  int
}

type localSub struct {
	pattern string
	ch      chan []byte
}

// NewLocal creates a Local bus keeping at most maxLen entries per stream.
func NewLocal(maxLen int) *Local {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Local{
		subs:    make(map[int]localSub),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every matching subscriber.
func (l *Local) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern.
func (l *Local) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}
	ch := make(chan []byte, 128)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = localSub{pattern: channel, ch: ch}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload with IDs "{n}-0".
func (l *Local) StreamAppend(_ context.Context, stream string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.streams[stream]
	var n uint64 = 1
	if len(entries) > 0 {
		n = streamSeq(entries[len(entries)-1].ID) + 1
	}
	entries = append(entries, domain.StreamMessage{
		ID:      strconv.FormatUint(n, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(entries) > l.maxLen {
		entries = entries[len(entries)-l.maxLen:]
	}
	l.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID.
func (l *Local) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range l.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseUint(head, 10, 64)
	return n
}

var _ domain.SignalBus = (*Local)(nil)
