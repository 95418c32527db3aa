package codec_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/codec"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleOpinion() domain.Opinion {
	return domain.Opinion{
		ID:                       7,
		Question:                 "Which chain wins 2027?",
		Creator:                  testutil.Alice,
		QuestionOwner:            testutil.Bob,
		CurrentAnswer:            "Solana",
		CurrentAnswerOwner:       testutil.Carol,
		CurrentAnswerDescription: "fast",
		Link:                     "https://example.org",
		Categories:               []string{"Crypto", "Technology"},
		LastPrice:                130 * domain.USDC,
		NextPrice:                169 * domain.USDC,
		TotalVolume:              130 * domain.USDC,
		SalePrice:                50 * domain.USDC,
		IsActive:                 true,
		CreatedAt:                at,
	}
}

func TestOpinion(t *testing.T) {
	o := sampleOpinion()
	got, err := codec.DecodeOpinion(codec.EncodeOpinion(o))
	require.NoError(t, err)
	assert.Equal(t, o, got)

	entity, version, err := codec.Peek(codec.EncodeOpinion(o))
	require.NoError(t, err)
	assert.Equal(t, codec.EntityOpinion, entity)
	assert.Equal(t, codec.Version(codec.EntityOpinion), version)
}

func TestOpinion_MigratesV1(t *testing.T) {
	o := sampleOpinion()
	got, err := codec.DecodeOpinion(codec.OpinionV1(o))
	require.NoError(t, err)
	assert.Equal(t, o.Creator, got.QuestionOwner)
	assert.Equal(t, o.CurrentAnswer, got.CurrentAnswer)
	assert.Equal(t, o.Categories, got.Categories)
}

func TestEnvelopeErrors(t *testing.T) {
	_, err := codec.DecodePool(codec.EncodeOpinion(sampleOpinion()))
	assert.ErrorIs(t, err, codec.ErrEntityMismatch)

	_, err = codec.DecodeHistory(codec.Seal(codec.EntityHistory, 9, nil))
	assert.ErrorIs(t, err, codec.ErrFutureVersion)

	_, err = codec.DecodePool(codec.Seal(codec.EntityPool, 0, nil))
	assert.ErrorIs(t, err, codec.ErrNoMigration)

	_, err = codec.DecodeOpinion([]byte{0xff})
	assert.Error(t, err)
}

func TestPool(t *testing.T) {
	p := domain.Pool{
		ID:             3,
		OpinionID:      7,
		ProposedAnswer: "Base",
		Creator:        testutil.Bob,
		Deadline:       at.Add(7 * 24 * time.Hour),
		TotalAmount:    13 * domain.USDC,
		TargetPrice:    13 * domain.USDC,
		Status:         domain.PoolStatusExecuted,
		Name:           "base gang",
		Contributions: []domain.Contribution{
			{Contributor: testutil.Bob, Amount: 5 * domain.USDC},
			{Contributor: testutil.Carol, Amount: 8 * domain.USDC, Withdrawn: true},
		},
		CreatedAt:  at,
		ExecutedAt: at.Add(time.Hour),
	}
	got, err := codec.DecodePool(codec.EncodePool(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestHistoryAndEvent(t *testing.T) {
	h := domain.AnswerHistoryEntry{OpinionID: 1, Answer: "Ethereum", Owner: testutil.Alice, Price: 10 * domain.USDC, Timestamp: at}
	gotH, err := codec.DecodeHistory(codec.EncodeHistory(h))
	require.NoError(t, err)
	assert.Equal(t, h, gotH)

	ev := domain.Event{
		ID:        uuid.New(),
		Seq:       12,
		Kind:      domain.EventPoolExecuted,
		OpinionID: 1,
		PoolID:    2,
		Actor:     testutil.Carol,
		Block:     99,
		Timestamp: at,
		Data:      map[string]any{"price": "13000000", "contributors": 2.0},
	}
	raw, err := codec.EncodeEvent(ev)
	require.NoError(t, err)
	gotE, err := codec.DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ev, gotE)
}

func TestSnapshot(t *testing.T) {
	s := &domain.Snapshot{
		Opinions:      []domain.Opinion{sampleOpinion()},
		History:       []domain.AnswerHistoryEntry{{OpinionID: 7, Answer: "Ethereum", Owner: testutil.Alice, Price: domain.USDC, Timestamp: at}},
		Pools:         []domain.Pool{{ID: 1, OpinionID: 7, ProposedAnswer: "Base", Status: domain.PoolStatusExpired}},
		Fees:          map[domain.Address]domain.Amount{testutil.Alice: 3 * domain.USDC, testutil.Bob: 1},
		PlatformFees:  9 * domain.USDC,
		Roles:         []domain.RoleGrant{{Role: domain.RoleAdmin, Account: testutil.Admin}},
		NextOpinionID: 8,
		NextPoolID:    2,
		NextEventSeq:  40,
		Paused:        true,
		TradeMarks:    []domain.TradeMark{{OpinionID: 7, Actor: testutil.Bob, Block: 12, ActorTrades: 2, At: at}},
	}
	got, err := codec.DecodeSnapshot(codec.EncodeSnapshot(s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
