// Package ws relays committed market events from the signal bus to
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin and API key checks run in the HTTP middleware before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	Paused    func() bool
}

// frame is every message the hub writes.
type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bus events out to connected clients by topic. Topics are bus
// channels ("events:answer_submitted") and entity filters ("opinion:7",
// "pool:3").
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	clients map[*conn]struct{}
	closed  bool
}

// NewHub creates a hub bridging bus events to WebSocket clients.
func NewHub(b domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     b,
		logger:  logger.With(slog.String("component", "ws")),
		cfg:     cfg,
		clients: make(map[*conn]struct{}),
	}
}

// Run relays every bus event until ctx is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, bus.AllEvents)
	if err != nil {
		return err
	}
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return nil
			}
			e, err := bus.Decode(data)
			if err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			channel := bus.Channel(e.Kind)
			out, err := json.Marshal(frame{Type: "event", Channel: channel, Payload: data})
			if err != nil {
				continue
			}
			h.fanout(eventTopics(e), out)
		}
	}
}

// eventTopics lists every topic an event is published under.
func eventTopics(e domain.Event) []string {
	t := []string{bus.Channel(e.Kind)}
	if e.OpinionID != 0 {
		t = append(t, "opinion:"+strconv.FormatUint(e.OpinionID, 10))
	}
	if e.PoolID != 0 {
		t = append(t, "pool:"+strconv.FormatUint(e.PoolID, 10))
	}
	return t
}

func (h *Hub) fanout(topics []string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.subscribed(topics) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("remote", c.remote))
		}
	}
}

// HandleWS upgrades the request and subscribes the new client to every
// event until it says otherwise.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newConn(h, ws, r.RemoteAddr)
	if !h.add(c) {
		_ = ws.Close()
		return
	}
	c.enqueue(h.statusFrame())

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) statusFrame() []byte {
	status := map[string]any{
		"mode":           h.cfg.Mode,
		"ws_connected":   true,
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
	}
	if h.cfg.Paused != nil {
		status["paused"] = h.cfg.Paused()
	}
	raw, _ := json.Marshal(status)
	out, _ := json.Marshal(frame{Type: "market_status", Payload: raw})
	return out
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.String("remote", c.remote), slog.Int("total_clients", n))
	return true
}

// remove closes c's send queue exactly once.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("total_clients", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
