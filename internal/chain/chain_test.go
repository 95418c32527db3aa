package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/chain"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

type fakeFetcher struct {
	n     uint64
	err   error
	calls int
}

func (f *fakeFetcher) BlockNumber(context.Context) (uint64, error) {
	f.calls++
	return f.n, f.err
}

func TestHeadTracker_CachesWithinTTL(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	f := &fakeFetcher{n: 100}
	h := chain.NewHeadTracker(f, chain.HeadConfig{TTL: time.Second, StaleWindow: time.Minute}, clock, testutil.Logger())

	n, err := h.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	f.n = 101
	n, err = h.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
	assert.Equal(t, 1, f.calls)

	clock.Advance(2 * time.Second)
	n, err = h.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), n)
}

func TestHeadTracker_StaleFallback(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	f := &fakeFetcher{n: 7}
	h := chain.NewHeadTracker(f, chain.HeadConfig{TTL: time.Second, StaleWindow: 10 * time.Second}, clock, testutil.Logger())

	_, err := h.BlockNumber(context.Background())
	require.NoError(t, err)

	f.err = errors.New("rpc down")
	clock.Advance(5 * time.Second)
	n, err := h.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	clock.Advance(time.Minute)
	_, err = h.BlockNumber(context.Background())
	assert.Error(t, err)
}

func TestTimeBlocks(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	clock := testutil.NewClock(genesis)
	b := chain.TimeBlocks{Clock: clock, Genesis: genesis, Interval: 2 * time.Second}

	n, _ := b.BlockNumber(context.Background())
	assert.Equal(t, uint64(0), n)
	clock.Advance(3 * time.Second)
	n, _ = b.BlockNumber(context.Background())
	assert.Equal(t, uint64(1), n)
}

func TestMemoryToken_PullPush(t *testing.T) {
	ctx := context.Background()
	tok := chain.NewMemoryToken(testutil.TokenA, testutil.Escrow)
	tok.Mint(testutil.Alice, 10*domain.USDC)

	err := tok.Pull(ctx, testutil.Alice, 5*domain.USDC)
	assert.ErrorIs(t, err, domain.InsufficientAllowance)

	tok.Approve(testutil.Alice, 20*domain.USDC)
	err = tok.Pull(ctx, testutil.Alice, 15*domain.USDC)
	assert.ErrorIs(t, err, domain.InsufficientBalance)

	require.NoError(t, tok.Pull(ctx, testutil.Alice, 4*domain.USDC))
	require.NoError(t, tok.Push(ctx, testutil.Bob, domain.USDC))

	bal, _ := tok.BalanceOf(ctx, testutil.Escrow)
	assert.Equal(t, 3*domain.USDC, bal)
	bal, _ = tok.BalanceOf(ctx, testutil.Bob)
	assert.Equal(t, domain.USDC, bal)
	allow, _ := tok.Allowance(ctx, testutil.Alice)
	assert.Equal(t, 16*domain.USDC, allow)

	assert.ErrorIs(t, tok.Push(ctx, testutil.Bob, 10*domain.USDC), domain.InsufficientBalance)
}
