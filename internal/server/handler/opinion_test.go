package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/server/handler"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

// racingService answers Opinion with the state it read, after a trade has
// already committed and cached a newer version.
type racingService struct {
	handler.OpinionService
	read, committed domain.Opinion
	cache           *testutil.Cache
	calls           int
}

func (s *racingService) Opinion(ctx context.Context, _ uint64) (domain.Opinion, error) {
	s.calls++
	if err := s.cache.Set(ctx, s.committed); err != nil {
		return domain.Opinion{}, err
	}
	return s.read, nil
}

func getOpinion(t *testing.T, h *handler.OpinionHandler) (int, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/opinions/{id}", h.GetOpinion)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opinions/1", nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestGetOpinion_MissDoesNotOverwriteNewerEntry(t *testing.T) {
	ctx := context.Background()
	cache := testutil.NewCache()
	svc := &racingService{
		read:      domain.Opinion{ID: 1, Question: "Best L2?", CurrentAnswer: "Base", Categories: []string{"Crypto"}},
		committed: domain.Opinion{ID: 1, Question: "Best L2?", CurrentAnswer: "Arbitrum", Categories: []string{"Crypto"}},
		cache:     cache,
	}
	h := handler.NewOpinionHandler(svc, cache, testutil.Logger())

	code, body := getOpinion(t, h)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Base", body["current_answer"])

	cached, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Arbitrum", cached.CurrentAnswer)
	assert.Equal(t, 1, cache.Sets())

	// Warm entries are served without touching the service.
	code, body = getOpinion(t, h)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Arbitrum", body["current_answer"])
	assert.Equal(t, 1, svc.calls)
}
