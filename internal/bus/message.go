// Package bus carries committed market events over a domain.SignalBus. Each
// event is JSON on channel "events:{kind}" and appended to stream "events".
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const (
	// Stream is the replayable stream of every event.
	Stream = "events"
	// AllEvents subscribes to every event kind.
	AllEvents = "events:*"
)

// Channel returns the Pub/Sub channel for kind.
func Channel(kind domain.EventKind) string { return "events:" + string(kind) }

// Message is the JSON shape of an event on the bus and the WebSocket.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	OpinionID uint64         `json:"opinion_id,omitempty"`
	PoolID    uint64         `json:"pool_id,omitempty"`
	Actor     string         `json:"actor"`
	Block     uint64         `json:"block"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// FromEvent converts e to its wire shape.
func FromEvent(e domain.Event) Message {
	return Message{
		ID:        e.ID,
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		OpinionID: e.OpinionID,
		PoolID:    e.PoolID,
		Actor:     e.Actor.Hex(),
		Block:     e.Block,
		Timestamp: e.Timestamp.UTC(),
		Data:      e.Data,
	}
}

// Event converts m back to a domain event.
func (m Message) Event() domain.Event {
	return domain.Event{
		ID:        m.ID,
		Seq:       m.Seq,
		Kind:      domain.EventKind(m.Kind),
		OpinionID: m.OpinionID,
		PoolID:    m.PoolID,
		Actor:     common.HexToAddress(m.Actor),
		Block:     m.Block,
		Timestamp: m.Timestamp,
		Data:      m.Data,
	}
}

// Encode marshals e as a bus payload.
func Encode(e domain.Event) ([]byte, error) {
	b, err := json.Marshal(FromEvent(e))
	if err != nil {
		return nil, fmt.Errorf("bus: encode event %d: %w", e.Seq, err)
	}
	return b, nil
}

// Decode parses a bus payload.
func Decode(payload []byte) (domain.Event, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return domain.Event{}, fmt.Errorf("bus: decode event: %w", err)
	}
	return m.Event(), nil
}
