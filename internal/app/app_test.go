package app

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/config"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/engine"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

func TestWire_InMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Access.Admins = []string{testutil.Admin.Hex()}
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(ctx, &cfg, testutil.Logger())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Engine)
	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.SignalBus)
	assert.False(t, deps.Notifier.Enabled())

	require.NoError(t, deps.Engine.Ping(ctx))
	assert.False(t, deps.Engine.Paused())
	assert.Equal(t, common.HexToAddress(cfg.Chain.SettlementToken), deps.Engine.SettlementToken())

	roles, err := deps.Engine.Roles(ctx, testutil.Admin)
	require.NoError(t, err)
	assert.Contains(t, roles, domain.RoleAdmin)
}

func TestWire_UnknownPricing(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.Pricing = "auction"

	_, _, err := Wire(context.Background(), &cfg, testutil.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pricing")
}

func TestSnapshotChangeset_SeedsStore(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	snap := &domain.Snapshot{
		Opinions: []domain.Opinion{{
			ID: 1, Question: "Best L2?", Creator: testutil.Alice, QuestionOwner: testutil.Alice,
			CurrentAnswer: "Base", CurrentAnswerOwner: testutil.Bob, Categories: []string{"Crypto"},
			LastPrice: 13 * domain.USDC, NextPrice: 16 * domain.USDC, IsActive: true, CreatedAt: at,
		}},
		History:       []domain.AnswerHistoryEntry{{OpinionID: 1, Answer: "Base", Owner: testutil.Bob, Price: 13 * domain.USDC, Timestamp: at}},
		Fees:          map[domain.Address]domain.Amount{testutil.Alice: domain.USDC},
		PlatformFees:  2 * domain.USDC,
		Roles:         []domain.RoleGrant{{Role: domain.RoleAdmin, Account: testutil.Admin}},
		NextOpinionID: 2,
		NextPoolID:    1,
		NextEventSeq:  5,
	}

	store := engine.NewMemoryStore()
	require.NoError(t, store.Commit(ctx, snapshotChangeset(snap)))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Opinions, got.Opinions)
	assert.Equal(t, snap.History, got.History)
	assert.Equal(t, snap.Fees, got.Fees)
	assert.Equal(t, snap.Roles, got.Roles)
	assert.Equal(t, snap.PlatformFees, got.PlatformFees)
	assert.Equal(t, uint64(5), got.NextEventSeq)
}

func TestPolicyMapping(t *testing.T) {
	cfg := config.Defaults()

	rules := ledgerRules(&cfg)
	assert.Equal(t, cfg.Market.QuestionMax, rules.QuestionMax)
	assert.NotEmpty(t, rules.Categories)

	fp := feePolicy(&cfg)
	assert.Equal(t, int64(300), fp.CreatorBps)
	assert.Equal(t, 5*domain.USDC, fp.MinCreationFee)

	lc := limiterConfig(&cfg)
	assert.Equal(t, 3, lc.MaxTradesPerBlock)
	assert.Equal(t, 30*time.Second, lc.RapidTradeWindow)

	pp := poolPolicy(&cfg)
	assert.Equal(t, time.Hour, pp.MinDuration)
	assert.Equal(t, domain.USDC, pp.MinContribution)
}

func TestApp_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trading"
	a := New(&cfg, testutil.Logger())
	assert.ErrorContains(t, a.Run(context.Background()), `unsupported mode "trading"`)
	a.Close()
}

func TestApp_ServerModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Keeper.Interval.Duration = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	a := New(&cfg, testutil.Logger())
	require.NoError(t, a.Run(ctx))
	a.Close()
	a.Close()
}

func TestWireChain_BlocksContinueAcrossBoots(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	epoch := cfg.Chain.BlockEpoch
	interval := cfg.Chain.BlockInterval.Duration

	clock := testutil.NewClock(epoch.Add(10 * interval))
	_, _, blocks, _, err := wireChain(ctx, &cfg, clock, testutil.Logger())
	require.NoError(t, err)
	first, err := blocks.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), first)

	// A later boot wires a fresh block source from the same config.
	clock.Advance(3 * interval)
	_, _, rebooted, _, err := wireChain(ctx, &cfg, clock, testutil.Logger())
	require.NoError(t, err)
	second, err := rebooted.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), second)
	assert.Greater(t, second, first)
}
