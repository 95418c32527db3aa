package s3blob_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/opinionmarket/internal/blob/s3"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/engine"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path > out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var march = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *engine.MemoryStore {
	t.Helper()
	store := engine.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), domain.Changeset{
		History: []domain.AnswerHistoryEntry{
			{OpinionID: 1, Answer: "<a>", Owner: testutil.Alice, Price: domain.USDC, Timestamp: march},
			{OpinionID: 1, Answer: "later", Owner: testutil.Bob, Price: 2 * domain.USDC, Timestamp: march.Add(48 * time.Hour)},
		},
		Events: []domain.Event{
			{ID: uuid.New(), Seq: 1, Kind: domain.EventOpinionCreated, OpinionID: 1, Actor: testutil.Alice, Timestamp: march},
			{ID: uuid.New(), Seq: 2, Kind: domain.EventAnswerSubmitted, OpinionID: 1, Actor: testutil.Bob, Timestamp: march.Add(48 * time.Hour)},
		},
	}))
	return store
}

func lines(b []byte) []map[string]any {
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		if json.Unmarshal(sc.Bytes(), &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestArchiver_EventsAndHistory(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	store := seeded(t)
	audit := &memAudit{}
	a := s3blob.NewArchiver(blobs, blobs, store, store, audit)
	cutoff := march.Add(24 * time.Hour)

	n, err := a.ArchiveEvents(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	events := lines(blobs.objects["archive/events/2026-03.jsonl"])
	require.Len(t, events, 1)
	assert.Equal(t, "opinion_created", events[0]["kind"])

	n, err = a.ArchiveHistory(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	raw := blobs.objects["archive/history/2026-03.jsonl"]
	assert.Contains(t, string(raw), `"answer":"<a>"`)
	assert.Equal(t, []string{"archive.events", "archive.history"}, audit.events)

	n, err = a.ArchiveEvents(ctx, march.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit.events, 2)
}

func TestArchiver_Snapshots(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	store := seeded(t)
	a := s3blob.NewArchiver(blobs, blobs, store, store, nil)

	_, _, err := a.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	older := &domain.Snapshot{NextOpinionID: 2, Fees: map[domain.Address]domain.Amount{}}
	newer := &domain.Snapshot{NextOpinionID: 9, PlatformFees: 5 * domain.USDC, Fees: map[domain.Address]domain.Amount{testutil.Alice: 1}}
	_, err = a.ExportSnapshot(ctx, older, march)
	require.NoError(t, err)
	path, err := a.ExportSnapshot(ctx, newer, march.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "snapshots/"))

	got, gotPath, err := a.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, newer, got)
}
