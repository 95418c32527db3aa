package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// control is a client request to change its topics.
type control struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// topicSet holds exact topics and "prefix*" patterns.
type topicSet map[string]struct{}

func (s topicSet) matches(topics []string) bool {
	for _, t := range topics {
		if _, ok := s[t]; ok {
			return true
		}
		for sub := range s {
			if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(t, prefix) {
				return true
			}
		}
	}
	return false
}

type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	remote string
	send   chan []byte

	mu   sync.RWMutex
	subs topicSet
}

func newConn(h *Hub, ws *websocket.Conn, remote string) *conn {
	return &conn{
		hub:    h,
		ws:     ws,
		remote: remote,
		send:   make(chan []byte, sendBufferSize),
		subs:   topicSet{bus.AllEvents: {}},
	}
}

func (c *conn) subscribed(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs.matches(topics)
}

func (c *conn) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = struct{}{}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// enqueue is only called before the write loop starts.
func (c *conn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *conn) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// writeLoop drains send and keeps the connection alive with pings. A closed
// send queue ends the connection with a close frame.
func (c *conn) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
