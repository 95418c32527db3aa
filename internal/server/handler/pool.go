package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/pool"
)

// PoolService is the slice of the market the pool endpoints use.
type PoolService interface {
	CreatePool(ctx context.Context, caller domain.Address, in pool.CreateInput) (domain.Pool, error)
	ContributeToPool(ctx context.Context, caller domain.Address, id uint64, amount domain.Amount) (domain.Pool, domain.Amount, error)
	CheckPoolExpiry(ctx context.Context, caller domain.Address, id uint64) (domain.Pool, error)
	WithdrawFromExpiredPool(ctx context.Context, caller domain.Address, id uint64) (domain.Amount, error)
	Pool(ctx context.Context, id uint64) (domain.Pool, error)
}

// PoolHandler serves the crowdfunding pool endpoints.
type PoolHandler struct {
	svc    PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(svc PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{svc: svc, logger: logger}
}

type createPoolRequest struct {
	OpinionID           uint64    `json:"opinion_id"`
	ProposedAnswer      string    `json:"proposed_answer"`
	ProposedDescription string    `json:"proposed_description"`
	Deadline            time.Time `json:"deadline"`
	InitialContribution int64     `json:"initial_contribution"`
	Name                string    `json:"name"`
	ContentHash         string    `json:"content_hash"`
}

// CreatePool opens a pool funded by the caller's initial contribution.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePool(r.Context(), caller, pool.CreateInput{
		OpinionID:           req.OpinionID,
		ProposedAnswer:      req.ProposedAnswer,
		ProposedDescription: req.ProposedDescription,
		Deadline:            req.Deadline,
		InitialContribution: domain.Amount(req.InitialContribution),
		Name:                req.Name,
		ContentHash:         req.ContentHash,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewPool(p))
}

// GetPool returns a pool with its contributions.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.Pool(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPool(p))
}

type contributeRequest struct {
	Amount int64 `json:"amount"`
}

// Contribute adds the caller's stake. The accepted amount may be capped at
// what the pool still needs.
// POST /api/pools/{id}/contributions
func (h *PoolHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req contributeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, accepted, err := h.svc.ContributeToPool(r.Context(), caller, id, domain.Amount(req.Amount))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":     viewPool(p),
		"accepted": viewAmount(accepted),
	})
}

// CheckExpiry marks the pool expired once its deadline has passed.
// POST /api/pools/{id}/expiry
func (h *PoolHandler) CheckExpiry(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.CheckPoolExpiry(r.Context(), caller, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPool(p))
}

// Withdraw refunds the caller's contribution from an expired pool.
// POST /api/pools/{id}/withdrawal
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	amount, err := h.svc.WithdrawFromExpiredPool(r.Context(), caller, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAmount(amount))
}
