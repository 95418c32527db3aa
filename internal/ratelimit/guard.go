// Package ratelimit bounds how many trades land on one opinion or one actor
// within a block and prices rapid repeat trades with a decaying penalty.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Config holds the guard parameters.
type Config struct {
	MaxTradesPerBlock int
	RapidTradeWindow  time.Duration
	PenaltyBps        int64 // of the trade price at elapsed=0
	MaxPenaltyShare   int64 // bps of the owner share the penalty may take
}

// DefaultConfig is 3 trades per actor per block, 30s window, 20% penalty
// capped at half of the owner share.
func DefaultConfig() Config {
	return Config{
		MaxTradesPerBlock: 3,
		RapidTradeWindow:  30 * time.Second,
		PenaltyBps:        2_000,
		MaxPenaltyShare:   5_000,
	}
}

// Policy is the admission and penalty contract consumed by the ledger.
type Policy interface {
	Admit(opinionID uint64, actor domain.Address, block uint64) error
	Record(opinionID uint64, actor domain.Address, block uint64, at time.Time) (undo func())
	Penalty(opinionID uint64, actor domain.Address, at time.Time, price, ownerShare domain.Amount) (domain.Amount, error)
}

// Stateful is a Policy whose state is persisted with each trade and restored
// at startup.
type Stateful interface {
	Policy
	Mark(opinionID uint64, actor domain.Address) (domain.TradeMark, bool)
	Marks() []domain.TradeMark
	Restore(marks []domain.TradeMark)
}

type actorCounter struct {
	block uint64
	count int
}

// tradeStamp is an actor's latest trade on one opinion.
type tradeStamp struct {
	block uint64
	at    time.Time
}

type pairKey struct {
	opinionID uint64
	actor     domain.Address
}

// Guard is the in-memory Policy. The engine persists it through Mark and
// reloads it with Restore.
type Guard struct {
	cfg Config

	mu          sync.Mutex
	opinionLast map[uint64]uint64
	actors      map[domain.Address]actorCounter
	lastTrade   map[pairKey]tradeStamp
}

// New creates a Guard.
func New(cfg Config) *Guard {
	if cfg.MaxTradesPerBlock <= 0 {
		cfg.MaxTradesPerBlock = DefaultConfig().MaxTradesPerBlock
	}
	if cfg.MaxPenaltyShare <= 0 {
		cfg.MaxPenaltyShare = DefaultConfig().MaxPenaltyShare
	}
	return &Guard{
		cfg:         cfg,
		opinionLast: make(map[uint64]uint64),
		actors:      make(map[domain.Address]actorCounter),
		lastTrade:   make(map[pairKey]tradeStamp),
	}
}

// Admit rejects a trade that would be the second on the opinion in block or
// the N+1th by actor in block. It does not mutate state.
func (g *Guard) Admit(opinionID uint64, actor domain.Address, block uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.opinionLast[opinionID]; ok && last == block {
		return domain.Fail(domain.OneTradePerBlock, "opinion_id", opinionID, "block", block)
	}
	if c, ok := g.actors[actor]; ok && c.block == block && c.count >= g.cfg.MaxTradesPerBlock {
		return domain.Fail(domain.MaxTradesPerBlockExceeded,
			"actor", actor.Hex(), "block", block, "max", g.cfg.MaxTradesPerBlock)
	}
	return nil
}

// Record books a successful trade. The returned func restores the previous
// state when the surrounding operation rolls back.
func (g *Guard) Record(opinionID uint64, actor domain.Address, block uint64, at time.Time) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	prevBlock, hadBlock := g.opinionLast[opinionID]
	prevCounter, hadCounter := g.actors[actor]
	key := pairKey{opinionID: opinionID, actor: actor}
	prevTrade, hadTrade := g.lastTrade[key]

	g.opinionLast[opinionID] = block
	c := g.actors[actor]
	if c.block != block {
		c = actorCounter{block: block}
	}
	c.count++
	g.actors[actor] = c
	g.lastTrade[key] = tradeStamp{block: block, at: at}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if hadBlock {
			g.opinionLast[opinionID] = prevBlock
		} else {
			delete(g.opinionLast, opinionID)
		}
		if hadCounter {
			g.actors[actor] = prevCounter
		} else {
			delete(g.actors, actor)
		}
		if hadTrade {
			g.lastTrade[key] = prevTrade
		} else {
			delete(g.lastTrade, key)
		}
	}
}

// Mark returns the state actor's latest trade on opinionID left behind.
// ActorTrades is zero once the actor has traded in a later block.
func (g *Guard) Mark(opinionID uint64, actor domain.Address) (domain.TradeMark, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markLocked(pairKey{opinionID: opinionID, actor: actor})
}

func (g *Guard) markLocked(key pairKey) (domain.TradeMark, bool) {
	stamp, ok := g.lastTrade[key]
	if !ok {
		return domain.TradeMark{}, false
	}
	m := domain.TradeMark{
		OpinionID: key.opinionID,
		Actor:     key.actor,
		Block:     stamp.block,
		At:        stamp.at,
	}
	if c := g.actors[key.actor]; c.block == stamp.block {
		m.ActorTrades = c.count
	}
	return m, true
}

// Marks returns one mark per (opinion, actor) pair ordered by opinion, then
// actor.
func (g *Guard) Marks() []domain.TradeMark {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.TradeMark, 0, len(g.lastTrade))
	for key := range g.lastTrade {
		m, _ := g.markLocked(key)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpinionID != out[j].OpinionID {
			return out[i].OpinionID < out[j].OpinionID
		}
		return out[i].Actor.Cmp(out[j].Actor) < 0
	})
	return out
}

// Restore replaces the guard state with marks. An opinion's last block is
// the newest mark on it; an actor's counter comes from their newest block
// and the highest count recorded there.
func (g *Guard) Restore(marks []domain.TradeMark) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.opinionLast = make(map[uint64]uint64, len(marks))
	g.actors = make(map[domain.Address]actorCounter, len(marks))
	g.lastTrade = make(map[pairKey]tradeStamp, len(marks))
	for _, m := range marks {
		if last, ok := g.opinionLast[m.OpinionID]; !ok || m.Block > last {
			g.opinionLast[m.OpinionID] = m.Block
		}
		c, ok := g.actors[m.Actor]
		if !ok || m.Block > c.block || (m.Block == c.block && m.ActorTrades > c.count) {
			g.actors[m.Actor] = actorCounter{block: m.Block, count: m.ActorTrades}
		}
		key := pairKey{opinionID: m.OpinionID, actor: m.Actor}
		if prev, ok := g.lastTrade[key]; !ok || m.At.After(prev.at) {
			g.lastTrade[key] = tradeStamp{block: m.Block, at: m.At}
		}
	}
}

// Penalty is price * PenaltyBps * (window-elapsed)/window, zero once elapsed
// reaches the window, capped at MaxPenaltyShare of ownerShare.
func (g *Guard) Penalty(opinionID uint64, actor domain.Address, at time.Time, price, ownerShare domain.Amount) (domain.Amount, error) {
	g.mu.Lock()
	prev, ok := g.lastTrade[pairKey{opinionID: opinionID, actor: actor}]
	g.mu.Unlock()
	if !ok {
		return 0, nil
	}
	return DecayedPenalty(g.cfg, at.Sub(prev.at), price, ownerShare)
}

// DecayedPenalty computes the penalty for a trade elapsed after the actor's
// previous trade on the same opinion.
func DecayedPenalty(cfg Config, elapsed time.Duration, price, ownerShare domain.Amount) (domain.Amount, error) {
	window := cfg.RapidTradeWindow
	if window <= 0 || elapsed >= window || cfg.PenaltyBps <= 0 {
		return 0, nil
	}
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int64((window - elapsed) / time.Millisecond)
	total := int64(window / time.Millisecond)
	if total == 0 {
		return 0, nil
	}

	base, err := price.Bps(cfg.PenaltyBps)
	if err != nil {
		return 0, err
	}
	penalty, err := base.MulDiv(remaining, total)
	if err != nil {
		return 0, err
	}
	limit, err := ownerShare.Bps(cfg.MaxPenaltyShare)
	if err != nil {
		return 0, err
	}
	if penalty > limit {
		penalty = limit
	}
	if penalty < 0 {
		penalty = 0
	}
	return penalty, nil
}

var _ Stateful = (*Guard)(nil)
