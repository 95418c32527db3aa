//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/store/postgres"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

var client *postgres.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DB_DSN")
	var container *tcpostgres.PostgresContainer
	if dsn == "" {
		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("opinionmarket"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("start postgres container: %v\n", err)
			os.Exit(1)
		}
		if dsn, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
			fmt.Printf("connection string: %v\n", err)
			_ = container.Terminate(ctx)
			os.Exit(1)
		}
	}

	var err error
	client, err = postgres.New(ctx, postgres.ClientConfig{DSN: dsn})
	if err == nil {
		err = client.RunMigrations(ctx)
	}
	if err != nil {
		fmt.Printf("prepare database: %v\n", err)
		if container != nil {
			_ = container.Terminate(ctx)
		}
		os.Exit(1)
	}

	code := m.Run()

	client.Close()
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func TestStateStore_CommitAndLoad(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewStateStore(client.Pool())
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	op := domain.Opinion{
		ID: 1, Question: "Best L2?", Creator: testutil.Alice, QuestionOwner: testutil.Alice,
		CurrentAnswer: "Base", CurrentAnswerOwner: testutil.Alice, Categories: []string{"Crypto"},
		LastPrice: 10 * domain.USDC, NextPrice: 13 * domain.USDC, IsActive: true, CreatedAt: at,
	}
	ev := domain.Event{ID: uuid.New(), Seq: 1, Kind: domain.EventOpinionCreated, OpinionID: 1, Actor: testutil.Alice, Block: 5, Timestamp: at}

	require.NoError(t, store.Commit(ctx, domain.Changeset{
		Opinions:     []domain.Opinion{op},
		History:      []domain.AnswerHistoryEntry{{OpinionID: 1, Answer: "Base", Owner: testutil.Alice, Price: 10 * domain.USDC, Timestamp: at}},
		Fees:         map[domain.Address]domain.Amount{testutil.Alice: 2 * domain.USDC},
		RolesGranted: []domain.RoleGrant{{Role: domain.RoleAdmin, Account: testutil.Admin}},
		Events:       []domain.Event{ev},
		Meta:         domain.Meta{NextOpinionID: 2, NextPoolID: 1, NextEventSeq: 2, PlatformFees: 5 * domain.USDC},
	}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Opinions, 1)
	assert.Equal(t, op, snap.Opinions[0])
	assert.Len(t, snap.History, 1)
	assert.Equal(t, 2*domain.USDC, snap.Fees[testutil.Alice])
	assert.Equal(t, []domain.RoleGrant{{Role: domain.RoleAdmin, Account: testutil.Admin}}, snap.Roles)
	assert.Equal(t, uint64(2), snap.NextOpinionID)
	assert.Equal(t, uint64(2), snap.NextEventSeq)
	assert.Equal(t, 5*domain.USDC, snap.PlatformFees)

	events, err := store.Events(ctx, domain.EventFilter{Kind: domain.EventOpinionCreated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)

	old, err := store.HistoryBefore(ctx, at.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, old, 1)

	require.NoError(t, store.Commit(ctx, domain.Changeset{
		RolesRevoked: []domain.RoleGrant{{Role: domain.RoleAdmin, Account: testutil.Admin}},
		Meta:         domain.Meta{NextOpinionID: 2, NextPoolID: 1, NextEventSeq: 2, Paused: true, PlatformFees: 5 * domain.USDC},
	}))
	snap, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Roles)
	assert.True(t, snap.Paused)
}

func TestStateStore_TradeMarksUpsert(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewStateStore(client.Pool())
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	meta := domain.Meta{NextOpinionID: 2, NextPoolID: 1, NextEventSeq: 2, Paused: true, PlatformFees: 5 * domain.USDC}

	require.NoError(t, store.Commit(ctx, domain.Changeset{
		TradeMarks: []domain.TradeMark{{OpinionID: 1, Actor: testutil.Bob, Block: 7, ActorTrades: 1, At: at}},
		Meta:       meta,
	}))
	latest := domain.TradeMark{OpinionID: 1, Actor: testutil.Bob, Block: 9, ActorTrades: 2, At: at.Add(4 * time.Second)}
	require.NoError(t, store.Commit(ctx, domain.Changeset{TradeMarks: []domain.TradeMark{latest}, Meta: meta}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TradeMark{latest}, snap.TradeMarks)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	audit := postgres.NewAuditStore(client.Pool())

	require.NoError(t, audit.Log(ctx, "emergency_withdraw", map[string]any{"token": testutil.TokenA.Hex()}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "emergency_withdraw", entries[0].Event)
	assert.Equal(t, testutil.TokenA.Hex(), entries[0].Detail["token"])
}
