// Package testutil holds fakes shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Clock is a manually advanced domain.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now implements domain.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Well-known test accounts.
var (
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	Bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Carol    = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	Dave     = common.HexToAddress("0x000000000000000000000000000000000000da7e")
	Admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	Mod      = common.HexToAddress("0x000000000000000000000000000000000000000d")
	Treasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	TokenA   = common.HexToAddress("0x00000000000000000000000000000000000005dc")
	Escrow   = common.HexToAddress("0x00000000000000000000000000000000e5c40000")
)
