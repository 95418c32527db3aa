package journal_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

func TestTx_RollbackRunsInReverse(t *testing.T) {
	tx := journal.New("test", common.Address{}, 1, time.Now())

	var order []int
	tx.OnRollback(func() { order = append(order, 1) })
	tx.OnRollback(func() { order = append(order, 2) })
	tx.OnRollback(nil)
	tx.Emit(domain.EventPaused, 0, 0, nil)

	tx.Rollback()
	assert.Equal(t, []int{2, 1}, order)
	assert.Empty(t, tx.Events())

	tx.Rollback()
	assert.Equal(t, []int{2, 1}, order, "second rollback is a no-op")
}

func TestTx_ZeroTransfersAreDropped(t *testing.T) {
	tx := journal.New("test", common.Address{}, 1, time.Now())
	a := common.HexToAddress("0x01")

	tx.Pull(nil, a, 0, "nothing")
	tx.Push(nil, a, 5, "claim")

	require.Len(t, tx.Transfers(), 1)
	assert.Equal(t, journal.Push, tx.Transfers()[0].Direction)
}

func TestTx_EmitStampsContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	caller := common.HexToAddress("0xabc")
	tx := journal.New("submit_answer", caller, 42, now)

	tx.Emit(domain.EventAnswerSubmitted, 7, 0, map[string]any{"price": 1})

	require.Len(t, tx.Events(), 1)
	e := tx.Events()[0]
	assert.Equal(t, caller, e.Actor)
	assert.Equal(t, uint64(42), e.Block)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, uint64(7), e.OpinionID)
	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID))
}

func TestTx_TouchedSetsAreSorted(t *testing.T) {
	tx := journal.New("test", common.Address{}, 1, time.Now())
	tx.TouchOpinion(3)
	tx.TouchOpinion(1)
	tx.TouchOpinion(3)
	tx.TouchPool(9)

	assert.Equal(t, []uint64{1, 3}, tx.Opinions())
	assert.Equal(t, []uint64{9}, tx.Pools())
}
