package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// FeeService is the slice of the market the fee endpoints use.
type FeeService interface {
	AccumulatedFees(ctx context.Context, account domain.Address) (domain.Amount, error)
	ClaimAccumulatedFees(ctx context.Context, caller domain.Address) (domain.Amount, error)
}

// FeeHandler serves claimable fee balances.
type FeeHandler struct {
	svc    FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(svc FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{svc: svc, logger: logger}
}

// GetFees returns an account's claimable balance.
// GET /api/fees/{address}
func (h *FeeHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid address")
		return
	}
	amount, err := h.svc.AccumulatedFees(r.Context(), addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":        addr.Hex(),
		"amount":         int64(amount),
		"amount_display": amount.String(),
	})
}

// Claim pays out the caller's whole balance. A zero balance claims nothing
// and still succeeds.
// POST /api/fees/claim
func (h *FeeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := h.svc.ClaimAccumulatedFees(r.Context(), caller)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAmount(amount))
}
