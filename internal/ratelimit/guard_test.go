package ratelimit_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/ratelimit"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestGuard_OneTradePerOpinionPerBlock(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())

	require.NoError(t, g.Admit(1, alice, 10))
	g.Record(1, alice, 10, t0)

	err := g.Admit(1, bob, 10)
	assert.ErrorIs(t, err, domain.OneTradePerBlock)

	assert.NoError(t, g.Admit(2, bob, 10), "other opinions are unaffected")
	assert.NoError(t, g.Admit(1, bob, 11), "next block resets")
}

func TestGuard_MaxTradesPerActor(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, g.Admit(id, alice, 5))
		g.Record(id, alice, 5, t0)
	}

	err := g.Admit(4, alice, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.MaxTradesPerBlockExceeded)

	assert.NoError(t, g.Admit(4, alice, 6))
}

func TestGuard_RecordUndo(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())

	undo := g.Record(1, alice, 10, t0)
	require.ErrorIs(t, g.Admit(1, bob, 10), domain.OneTradePerBlock)

	undo()
	assert.NoError(t, g.Admit(1, bob, 10))

	p, err := g.Penalty(1, alice, t0.Add(time.Second), 100*domain.USDC, 95*domain.USDC)
	require.NoError(t, err)
	assert.Zero(t, p, "undone trade leaves no penalty history")
}

func TestDecayedPenalty_Monotonic(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	price := 130 * domain.USDC
	owner := domain.Amount(123_500_000)

	prev := domain.Amount(-1)
	for s := 30; s >= 0; s-- {
		p, err := ratelimit.DecayedPenalty(cfg, time.Duration(s)*time.Second, price, owner)
		require.NoError(t, err)
		if prev >= 0 {
			assert.GreaterOrEqual(t, p, prev, "penalty must not grow with elapsed time")
		}
		prev = p
	}
}

func TestDecayedPenalty_Values(t *testing.T) {
	cfg := ratelimit.DefaultConfig()

	tests := []struct {
		name    string
		elapsed time.Duration
		price   domain.Amount
		owner   domain.Amount
		want    domain.Amount
	}{
		{name: "at window", elapsed: 30 * time.Second, price: 100 * domain.USDC, owner: 95 * domain.USDC, want: 0},
		{name: "past window", elapsed: time.Minute, price: 100 * domain.USDC, owner: 95 * domain.USDC, want: 0},
		{name: "half window", elapsed: 15 * time.Second, price: 100 * domain.USDC, owner: 95 * domain.USDC, want: 10 * domain.USDC},
		{name: "immediate", elapsed: 0, price: 100 * domain.USDC, owner: 95 * domain.USDC, want: 20 * domain.USDC},
		{name: "capped at half owner share", elapsed: 0, price: 100 * domain.USDC, owner: 30 * domain.USDC, want: 15 * domain.USDC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ratelimit.DecayedPenalty(cfg, tt.elapsed, tt.price, tt.owner)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_PenaltyOnlyForSameActorAndOpinion(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())
	g.Record(1, alice, 1, t0)

	p, err := g.Penalty(1, bob, t0.Add(time.Second), 100*domain.USDC, 95*domain.USDC)
	require.NoError(t, err)
	assert.Zero(t, p)

	p, err = g.Penalty(2, alice, t0.Add(time.Second), 100*domain.USDC, 95*domain.USDC)
	require.NoError(t, err)
	assert.Zero(t, p)

	p, err = g.Penalty(1, alice, t0.Add(time.Second), 100*domain.USDC, 95*domain.USDC)
	require.NoError(t, err)
	assert.Positive(t, p)
}

func TestGuard_MarksRestoreIntoFreshGuard(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())
	g.Record(2, bob, 6, t0)
	g.Record(1, alice, 5, t0)
	g.Record(2, alice, 7, t0.Add(time.Second))
	g.Record(3, alice, 7, t0.Add(2*time.Second))

	m, ok := g.Mark(3, alice)
	require.True(t, ok)
	assert.Equal(t, domain.TradeMark{OpinionID: 3, Actor: alice, Block: 7, ActorTrades: 2, At: t0.Add(2 * time.Second)}, m)
	_, ok = g.Mark(3, bob)
	assert.False(t, ok)

	marks := g.Marks()
	require.Len(t, marks, 4)
	assert.Equal(t, domain.TradeMark{OpinionID: 1, Actor: alice, Block: 5, At: t0}, marks[0])

	restored := ratelimit.New(ratelimit.Config{MaxTradesPerBlock: 3, RapidTradeWindow: 30 * time.Second, PenaltyBps: 2_000})
	restored.Restore(marks)

	assert.ErrorIs(t, restored.Admit(3, bob, 7), domain.OneTradePerBlock)
	assert.ErrorIs(t, restored.Admit(2, bob, 7), domain.OneTradePerBlock, "opinion 2 keeps its newest block")
	assert.NoError(t, restored.Admit(1, bob, 7))
	assert.ErrorIs(t, restored.Admit(1, bob, 5), domain.OneTradePerBlock, "opinion 1 keeps its own block")

	// Alice has two trades in block 7; a third is allowed, a fourth is not.
	restored.Record(4, alice, 7, t0.Add(3*time.Second))
	assert.ErrorIs(t, restored.Admit(5, alice, 7), domain.MaxTradesPerBlockExceeded)

	p, err := restored.Penalty(2, alice, t0.Add(2*time.Second), 100*domain.USDC, 95*domain.USDC)
	require.NoError(t, err)
	assert.Positive(t, p)
}

func TestGuard_RestoreReplacesState(t *testing.T) {
	g := ratelimit.New(ratelimit.DefaultConfig())
	g.Record(1, alice, 10, t0)

	g.Restore(nil)
	assert.NoError(t, g.Admit(1, bob, 10))
	assert.Empty(t, g.Marks())
}
