package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/chain"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/engine"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
	"github.com/alanyoungcy/opinionmarket/internal/pool"
	"github.com/alanyoungcy/opinionmarket/internal/pricing"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

var tokenB = common.HexToAddress("0x00000000000000000000000000000000000000b2")

type env struct {
	eng    *engine.Engine
	token  *chain.MemoryToken
	other  *chain.MemoryToken
	store  *engine.MemoryStore
	blocks *chain.ManualBlocks
	clock  *testutil.Clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		token:  chain.NewMemoryToken(testutil.TokenA, testutil.Escrow),
		other:  chain.NewMemoryToken(tokenB, testutil.Escrow),
		store:  engine.NewMemoryStore(),
		blocks: chain.NewManualBlocks(1),
		clock:  testutil.NewClock(time.Unix(1_700_000_000, 0)),
	}
	for _, a := range []domain.Address{testutil.Alice, testutil.Bob, testutil.Carol, testutil.Dave} {
		e.token.Mint(a, 1_000*domain.USDC)
		e.token.Approve(a, 1_000*domain.USDC)
	}
	e.eng = e.build(t)
	require.NoError(t, e.eng.Bootstrap(context.Background(), []domain.RoleGrant{
		{Role: domain.RoleAdmin, Account: testutil.Admin},
		{Role: domain.RoleTreasury, Account: testutil.Treasury},
	}))
	return e
}

func (e *env) build(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Deps{
		Token:   e.token,
		Tokens:  []domain.Token{e.other},
		Blocks:  e.blocks,
		Clock:   e.clock,
		Store:   e.store,
		Pricing: pricing.NewPercentStep(pricing.DefaultBounds.Min),
		Fees:    fees.DefaultStandard(),
		Logger:  testutil.Logger(),
	})
	require.NoError(t, err)
	return eng
}

// step moves to the next block a minute later.
func (e *env) step() {
	e.blocks.Advance()
	e.clock.Advance(time.Minute)
}

func (e *env) create(t *testing.T, price domain.Amount) domain.Opinion {
	t.Helper()
	o, err := e.eng.CreateOpinion(context.Background(), testutil.Alice, ledger.CreateOpinionInput{
		Question:     "Which chain wins 2027?",
		Answer:       "Ethereum",
		InitialPrice: price,
		Categories:   []string{"Crypto"},
	})
	require.NoError(t, err)
	e.step()
	return o
}

func (e *env) balance(a domain.Address) domain.Amount {
	b, _ := e.token.BalanceOf(context.Background(), a)
	return b
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := engine.New(engine.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement token is required")
	assert.Contains(t, err.Error(), "block source is required")
}

func TestTradeAndClaim(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 100*domain.USDC)

	res, err := e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	assert.Equal(t, fees.Split{Creator: 3_900_000, Owner: 123_500_000, Platform: 2_600_000}, res.Split)
	assert.Equal(t, 870*domain.USDC, e.balance(testutil.Bob))

	next, err := e.eng.NextPrice(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 169*domain.USDC, next)

	owed, err := e.eng.AccumulatedFees(ctx, testutil.Alice)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(127_400_000), owed)

	claimed, err := e.eng.ClaimAccumulatedFees(ctx, testutil.Alice)
	require.NoError(t, err)
	assert.Equal(t, owed, claimed)
	assert.Equal(t, 1_000*domain.USDC-20*domain.USDC+owed, e.balance(testutil.Alice))

	platform, err := e.eng.PlatformFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(22_600_000), platform)
	assert.Equal(t, platform, e.balance(testutil.Escrow))

	claimed, err = e.eng.ClaimAccumulatedFees(ctx, testutil.Alice)
	require.NoError(t, err)
	assert.Zero(t, claimed)

	events, err := e.eng.Events(ctx, domain.EventFilter{OpinionID: o.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOpinionCreated, events[0].Kind)
	assert.Equal(t, domain.EventAnswerSubmitted, events[1].Kind)
	assert.Less(t, events[0].Seq, events[1].Seq)

	claims, err := e.eng.Events(ctx, domain.EventFilter{Kind: domain.EventFeesClaimed})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestQuestionResale(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)

	_, err := e.eng.ListQuestionForSale(ctx, testutil.Alice, o.ID, 50*domain.USDC)
	require.NoError(t, err)
	sold, split, err := e.eng.BuyQuestion(ctx, testutil.Bob, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 45*domain.USDC, split.Seller)
	assert.Equal(t, 5*domain.USDC, split.Platform)
	assert.Equal(t, testutil.Bob, sold.QuestionOwner)
	assert.Zero(t, sold.SalePrice)

	owed, _ := e.eng.AccumulatedFees(ctx, testutil.Alice)
	assert.Equal(t, 45*domain.USDC, owed)
}

func TestPoolFundedBySecondContribution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)

	p, err := e.eng.CreatePool(ctx, testutil.Bob, pool.CreateInput{
		OpinionID:           o.ID,
		ProposedAnswer:      "Solana",
		Deadline:            e.clock.Now().Add(7 * 24 * time.Hour),
		InitialContribution: 5 * domain.USDC,
		Name:                "sol crew",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusActive, p.Status)
	e.step()

	p, accepted, err := e.eng.ContributeToPool(ctx, testutil.Carol, p.ID, 8*domain.USDC)
	require.NoError(t, err)
	assert.Equal(t, 8*domain.USDC, accepted)
	assert.Equal(t, domain.PoolStatusExecuted, p.Status)

	got, err := e.eng.Opinion(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solana", got.CurrentAnswer)
	assert.Equal(t, p.Address(), got.CurrentAnswerOwner)

	pools, err := e.eng.PoolsByOpinion(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	c, err := e.eng.Contribution(ctx, p.ID, testutil.Carol)
	require.NoError(t, err)
	assert.Equal(t, 8*domain.USDC, c.Amount)

	_, err = e.eng.PoolsByOpinion(ctx, 42)
	assert.ErrorIs(t, err, domain.OpinionNotFound)
}

func TestSweepExpiredPools(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)

	p, err := e.eng.CreatePool(ctx, testutil.Bob, pool.CreateInput{
		OpinionID:           o.ID,
		ProposedAnswer:      "Solana",
		Deadline:            e.clock.Now().Add(2 * time.Hour),
		InitialContribution: 4 * domain.USDC,
		Name:                "sol crew",
	})
	require.NoError(t, err)

	n, err := e.eng.SweepExpiredPools(ctx, testutil.Dave)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(3 * time.Hour)
	n, err = e.eng.SweepExpiredPools(ctx, testutil.Dave)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	refund, err := e.eng.WithdrawFromExpiredPool(ctx, testutil.Bob, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4*domain.USDC, refund)
	assert.Equal(t, 1_000*domain.USDC, e.balance(testutil.Bob))
}

func TestPauseGatesOperations(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, 10*domain.USDC)

	assert.ErrorIs(t, e.eng.Pause(ctx, testutil.Bob), domain.Unauthorized)
	_, err := e.eng.EmergencyWithdraw(ctx, testutil.Admin, testutil.TokenA)
	assert.ErrorIs(t, err, domain.NotPaused)

	require.NoError(t, e.eng.Pause(ctx, testutil.Admin))
	assert.True(t, e.eng.Paused())
	assert.ErrorIs(t, e.eng.Pause(ctx, testutil.Admin), domain.Paused)

	_, err = e.eng.CreateOpinion(ctx, testutil.Bob, ledger.CreateOpinionInput{
		Question: "Is this paused yet?", Answer: "Yes", InitialPrice: 10 * domain.USDC, Categories: []string{"Other"},
	})
	assert.ErrorIs(t, err, domain.Paused)
	_, err = e.eng.ClaimAccumulatedFees(ctx, testutil.Alice)
	assert.ErrorIs(t, err, domain.Paused)

	_, err = e.eng.EmergencyWithdraw(ctx, testutil.Bob, testutil.TokenA)
	assert.ErrorIs(t, err, domain.Unauthorized)
	_, err = e.eng.EmergencyWithdraw(ctx, testutil.Admin, tokenB)
	require.NoError(t, err)
	_, err = e.eng.EmergencyWithdraw(ctx, testutil.Admin, testutil.Dave)
	assert.ErrorIs(t, err, domain.UnknownToken)

	out, err := e.eng.EmergencyWithdraw(ctx, testutil.Admin, testutil.TokenA)
	require.NoError(t, err)
	assert.Equal(t, 5*domain.USDC, out)
	assert.Zero(t, e.balance(testutil.Escrow))
	assert.Equal(t, 5*domain.USDC, e.balance(testutil.Admin))

	require.NoError(t, e.eng.Unpause(ctx, testutil.Admin))
	assert.False(t, e.eng.Paused())
	assert.ErrorIs(t, e.eng.Unpause(ctx, testutil.Admin), domain.NotPaused)
}

func TestReentryIsRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	var inner error
	e.token.Hook = func(ctx context.Context, _ string, account domain.Address, _ domain.Amount) error {
		e.token.Hook = nil
		_, inner = e.eng.ClaimAccumulatedFees(ctx, account)
		return inner
	}
	_, err := e.eng.CreateOpinion(ctx, testutil.Alice, ledger.CreateOpinionInput{
		Question: "Which chain wins 2027?", Answer: "Ethereum", InitialPrice: 10 * domain.USDC, Categories: []string{"Crypto"},
	})
	assert.ErrorIs(t, inner, domain.Reentrancy)
	assert.ErrorIs(t, err, domain.Reentrancy)

	_, err = e.eng.Opinion(ctx, 1)
	assert.ErrorIs(t, err, domain.OpinionNotFound)
	platform, _ := e.eng.PlatformFees(ctx)
	assert.Zero(t, platform)
	assert.Equal(t, 1_000*domain.USDC, e.balance(testutil.Alice))
}

func TestTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)
	_, err := e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	owed, _ := e.eng.AccumulatedFees(ctx, testutil.Alice)

	e.token.Hook = func(context.Context, string, domain.Address, domain.Amount) error {
		return errors.New("rpc timeout")
	}
	_, err = e.eng.ClaimAccumulatedFees(ctx, testutil.Alice)
	assert.ErrorIs(t, err, domain.TransferFailed)
	e.token.Hook = nil

	after, _ := e.eng.AccumulatedFees(ctx, testutil.Alice)
	assert.Equal(t, owed, after)

	claims, _ := e.eng.Events(ctx, domain.EventFilter{Kind: domain.EventFeesClaimed})
	assert.Empty(t, claims)
}

func TestCommitFailureCompensatesTransfers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)
	before, _ := e.eng.Events(ctx, domain.EventFilter{})

	e.store.FailCommit = errors.New("disk full")
	_, err := e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 1_000*domain.USDC, e.balance(testutil.Bob))
	got, _ := e.eng.Opinion(ctx, o.ID)
	assert.Equal(t, "Ethereum", got.CurrentAnswer)

	// the rolled back trade left no rate-limit record and no sequence gap
	_, err = e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	after, _ := e.eng.Events(ctx, domain.EventFilter{})
	require.Len(t, after, len(before)+1)
	assert.Equal(t, before[len(before)-1].Seq+1, after[len(after)-1].Seq)
}

func TestLoadRestoresCommittedState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)
	_, err := e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	require.NoError(t, e.eng.Pause(ctx, testutil.Admin))
	owed, _ := e.eng.AccumulatedFees(ctx, testutil.Alice)
	last, _ := e.eng.Events(ctx, domain.EventFilter{})

	restarted := e.build(t)
	require.NoError(t, restarted.Load(ctx))
	assert.True(t, restarted.Paused())

	got, err := restarted.Opinion(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solana", got.CurrentAnswer)
	hist, _ := restarted.History(ctx, o.ID)
	assert.Len(t, hist, 2)
	restored, _ := restarted.AccumulatedFees(ctx, testutil.Alice)
	assert.Equal(t, owed, restored)
	roles, _ := restarted.Roles(ctx, testutil.Admin)
	assert.Equal(t, []domain.Role{domain.RoleAdmin}, roles)

	require.NoError(t, restarted.Unpause(ctx, testutil.Admin))
	all, _ := restarted.Events(ctx, domain.EventFilter{AfterSeq: last[len(last)-1].Seq})
	require.Len(t, all, 1)
	assert.Equal(t, last[len(last)-1].Seq+1, all[0].Seq)

	e.step()
	o2, err := restarted.CreateOpinion(ctx, testutil.Carol, ledger.CreateOpinionInput{
		Question: "Next big L2 by TVL?", Answer: "Base", InitialPrice: 10 * domain.USDC, Categories: []string{"Crypto"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), o2.ID)
}

func TestLoadRestoresTradeRateState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)
	_, err := e.eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)

	restarted := e.build(t)
	require.NoError(t, restarted.Load(ctx))

	_, err = restarted.SubmitAnswer(ctx, testutil.Carol, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Base"})
	assert.ErrorIs(t, err, domain.OneTradePerBlock, "same block after restart")

	e.blocks.Advance()
	e.clock.Advance(5 * time.Second)
	_, err = restarted.SubmitAnswer(ctx, testutil.Carol, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Base"})
	require.NoError(t, err)

	e.blocks.Advance()
	e.clock.Advance(5 * time.Second)
	res, err := restarted.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	assert.Positive(t, res.Split.Penalty, "rapid repeat trade is still penalised")
}

func TestPlatformWithdrawal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, 10*domain.USDC)
	e.other.Mint(testutil.Escrow, 7*domain.USDC)

	_, err := e.eng.WithdrawPlatformFees(ctx, testutil.Bob, testutil.TokenA, testutil.Bob)
	assert.ErrorIs(t, err, domain.Unauthorized)
	_, err = e.eng.WithdrawPlatformFees(ctx, testutil.Treasury, testutil.Dave, testutil.Treasury)
	assert.ErrorIs(t, err, domain.UnknownToken)
	_, err = e.eng.WithdrawPlatformFees(ctx, testutil.Treasury, testutil.TokenA, domain.ZeroAddr)
	assert.ErrorIs(t, err, domain.ZeroAddress)

	out, err := e.eng.WithdrawPlatformFees(ctx, testutil.Treasury, testutil.TokenA, testutil.Treasury)
	require.NoError(t, err)
	assert.Equal(t, 5*domain.USDC, out)
	assert.Equal(t, 5*domain.USDC, e.balance(testutil.Treasury))
	platform, _ := e.eng.PlatformFees(ctx)
	assert.Zero(t, platform)

	out, err = e.eng.WithdrawPlatformFees(ctx, testutil.Treasury, tokenB, testutil.Treasury)
	require.NoError(t, err)
	assert.Equal(t, 7*domain.USDC, out)
	b, _ := e.other.BalanceOf(ctx, testutil.Treasury)
	assert.Equal(t, 7*domain.USDC, b)
}

func TestRoleManagement(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.create(t, 10*domain.USDC)

	_, err := e.eng.DeactivateOpinion(ctx, testutil.Mod, o.ID)
	assert.ErrorIs(t, err, domain.Unauthorized)
	assert.ErrorIs(t, e.eng.GrantRole(ctx, testutil.Bob, domain.RoleGrant{Role: domain.RoleModerator, Account: testutil.Bob}), domain.Unauthorized)

	require.NoError(t, e.eng.GrantRole(ctx, testutil.Admin, domain.RoleGrant{Role: domain.RoleModerator, Account: testutil.Mod}))
	off, err := e.eng.DeactivateOpinion(ctx, testutil.Mod, o.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	on, err := e.eng.ReactivateOpinion(ctx, testutil.Mod, o.ID)
	require.NoError(t, err)
	assert.True(t, on.IsActive)

	require.NoError(t, e.eng.RevokeRole(ctx, testutil.Admin, domain.RoleGrant{Role: domain.RoleModerator, Account: testutil.Mod}))
	_, err = e.eng.DeactivateOpinion(ctx, testutil.Mod, o.ID)
	assert.ErrorIs(t, err, domain.Unauthorized)

	err = e.eng.GrantRole(ctx, testutil.Admin, domain.RoleGrant{Role: domain.RoleModerator, Account: domain.ZeroAddr})
	assert.ErrorIs(t, err, domain.ZeroAddress)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, 10*domain.USDC)
	e.create(t, 20*domain.USDC)

	snap, err := e.eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Opinions, 2)
	assert.Len(t, snap.History, 2)
	assert.Equal(t, uint64(3), snap.NextOpinionID)
	assert.Equal(t, 10*domain.USDC, snap.PlatformFees)
	assert.Len(t, snap.Roles, 2)
}

func TestOpinionReadFillsCacheWithCommittedState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cache := testutil.NewCache()
	eng, err := engine.New(engine.Deps{
		Token:   e.token,
		Blocks:  e.blocks,
		Clock:   e.clock,
		Store:   e.store,
		Cache:   cache,
		Pricing: pricing.NewPercentStep(pricing.DefaultBounds.Min),
		Fees:    fees.DefaultStandard(),
		Logger:  testutil.Logger(),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Load(ctx))

	o, err := eng.CreateOpinion(ctx, testutil.Alice, ledger.CreateOpinionInput{
		Question: "Which chain wins 2027?", Answer: "Ethereum", InitialPrice: 10 * domain.USDC, Categories: []string{"Crypto"},
	})
	require.NoError(t, err)
	e.step()
	require.NoError(t, cache.Invalidate(ctx, o.ID))

	got, err := eng.Opinion(ctx, o.ID)
	require.NoError(t, err)
	cached, err := cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, got, cached)

	_, err = eng.SubmitAnswer(ctx, testutil.Bob, ledger.SubmitAnswerInput{OpinionID: o.ID, Answer: "Solana"})
	require.NoError(t, err)
	cached, err = cache.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Solana", cached.CurrentAnswer)

	_, err = eng.Opinion(ctx, 99)
	assert.ErrorIs(t, err, domain.OpinionNotFound)
	_, err = cache.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
