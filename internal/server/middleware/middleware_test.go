package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/server/middleware"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := middleware.Auth("k3y")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is open", "/api/health", nil, http.StatusOK},
		{"missing key", "/api/opinions", nil, http.StatusUnauthorized},
		{"wrong key", "/api/opinions", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"x-api-key", "/api/opinions", map[string]string{"X-API-Key": "k3y"}, http.StatusOK},
		{"bearer", "/api/opinions", map[string]string{"Authorization": "bearer k3y"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}

	disabled := middleware.Auth("")(okHandler)
	assert.Equal(t, http.StatusOK, serve(disabled, httptest.NewRequest(http.MethodGet, "/api/opinions", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := middleware.CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/opinions", nil)
	req.Header.Set("Origin", "https://APP.example")
	rec := serve(h, req)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/opinions", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.Empty(t, serve(h, req).Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest(http.MethodOptions, "/api/opinions", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, pre).Code)
}

type stubLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	lim := &stubLimiter{}
	h := middleware.RateLimit(lim, 10, 1500*time.Millisecond, testutil.Logger())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/opinions", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	signed := httptest.NewRequest(http.MethodGet, "/api/opinions", nil)
	signed = signed.WithContext(middleware.WithCaller(signed.Context(), testutil.Alice))
	lim.allow = true
	assert.Equal(t, http.StatusOK, serve(h, signed).Code)

	require.Len(t, lim.keys, 2)
	assert.Equal(t, "api:ip:10.0.0.1", lim.keys[0])
	assert.Contains(t, lim.keys[1], "api:caller:0x")

	lim.allow, lim.err = false, errors.New("redis down")
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestLogging_RequestID(t *testing.T) {
	h := middleware.Logging(testutil.Logger())(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderRequestID, "abc")
	assert.Equal(t, "abc", serve(h, req).Header().Get(middleware.HeaderRequestID))
}
