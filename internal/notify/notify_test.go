package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/notify"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	ready chan struct{}
}

func newRecorder() *recorder { return &recorder{ready: make(chan struct{}, 16)} }

func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	r.sent = append(r.sent, title)
	r.mu.Unlock()
	select {
	case r.ready <- struct{}{}:
	default:
	}
	return r.fail
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestNotifier_FiltersKinds(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	n := notify.NewNotifier([]notify.Sender{rec}, nil, testutil.Logger())

	require.NoError(t, n.Notify(ctx, domain.Event{Kind: domain.EventAnswerSubmitted}))
	require.NoError(t, n.Notify(ctx, domain.Event{Kind: domain.EventPaused}))
	assert.Equal(t, []string{"Market paused"}, rec.titles())

	custom := notify.NewNotifier([]notify.Sender{rec}, []string{" answer_submitted "}, testutil.Logger())
	require.NoError(t, custom.Notify(ctx, domain.Event{Kind: domain.EventAnswerSubmitted}))
	assert.Len(t, rec.titles(), 2)
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := newRecorder()
	bad.fail = boom
	good := newRecorder()
	n := notify.NewNotifier([]notify.Sender{bad, good}, nil, testutil.Logger())

	err := n.Notify(context.Background(), domain.Event{Kind: domain.EventUnpaused})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.titles(), 1)
}

func TestFormat(t *testing.T) {
	title, body := notify.Format(domain.Event{
		Kind:      domain.EventPoolExecuted,
		OpinionID: 3,
		PoolID:    9,
		Actor:     testutil.Carol,
		Block:     77,
		Data:      map[string]any{"price": float64(13_000_000), "contributors": 2},
	})
	assert.Equal(t, "Pool 9 executed on opinion 3", title)
	assert.Contains(t, body, "price: 13.000000")
	assert.Contains(t, body, "contributors: 2")
	assert.Contains(t, body, "block: 77")
}

func TestSenders(t *testing.T) {
	var got []map[string]string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	tg := notify.NewTelegramSender(srv.URL, "tok", "42")
	require.NoError(t, tg.Send(ctx, "T", "M"))

	dc := notify.NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(ctx, "T", "M"))

	err := notify.NewDiscordSender(srv.URL+"/fail").Send(ctx, "T", "M")
	assert.ErrorContains(t, err, "unexpected status 400")

	require.Len(t, got, 3)
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*T*\nM", got[0]["text"])
	assert.Equal(t, "**T**\nM", got[1]["content"])
}

func TestForwarder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := bus.NewLocal(0)
	rec := newRecorder()
	fwd := notify.NewForwarder(local, notify.NewNotifier([]notify.Sender{rec}, nil, testutil.Logger()), testutil.Logger())

	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	pub := bus.NewPublisher(local, testutil.Logger())
	require.Eventually(t, func() bool {
		_ = pub.PublishEvents(ctx, []domain.Event{{Seq: 1, Kind: domain.EventEmergencyWithdraw}})
		select {
		case <-rec.ready:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, rec.titles(), "Emergency withdrawal")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}
