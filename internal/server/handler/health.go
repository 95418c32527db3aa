package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// HealthService reports market liveness.
type HealthService interface {
	Ping(ctx context.Context) error
	Paused() bool
	SettlementToken() domain.Address
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	svc    HealthService
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{svc: svc, logger: logger}
}

// HealthCheck reports whether the state store is reachable. A paused market
// is still healthy.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	store := "ok"
	if err := h.svc.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "handler: store ping failed", slog.String("error", err.Error()))
		status, code, store = "degraded", http.StatusServiceUnavailable, err.Error()
	}
	writeJSON(w, code, map[string]any{
		"status":           status,
		"store":            store,
		"paused":           h.svc.Paused(),
		"settlement_token": h.svc.SettlementToken().Hex(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}
