package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
)

// OpinionService is the slice of the market the opinion endpoints use.
type OpinionService interface {
	CreateOpinion(ctx context.Context, caller domain.Address, in ledger.CreateOpinionInput) (domain.Opinion, error)
	SubmitAnswer(ctx context.Context, caller domain.Address, in ledger.SubmitAnswerInput) (ledger.TradeResult, error)
	ListQuestionForSale(ctx context.Context, caller domain.Address, id uint64, price domain.Amount) (domain.Opinion, error)
	CancelQuestionSale(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error)
	BuyQuestion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, fees.ResaleSplit, error)
	DeactivateOpinion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error)
	ReactivateOpinion(ctx context.Context, caller domain.Address, id uint64) (domain.Opinion, error)

	Opinion(ctx context.Context, id uint64) (domain.Opinion, error)
	Opinions(ctx context.Context, opts domain.ListOpts) ([]domain.Opinion, error)
	History(ctx context.Context, id uint64) ([]domain.AnswerHistoryEntry, error)
	NextPrice(ctx context.Context, id uint64) (domain.Amount, error)
	PoolsByOpinion(ctx context.Context, opinionID uint64) ([]domain.Pool, error)
}

// OpinionHandler serves opinion, answer and question marketplace endpoints.
type OpinionHandler struct {
	svc    OpinionService
	cache  domain.OpinionCache
	logger *slog.Logger
}

// NewOpinionHandler creates an OpinionHandler. cache may be nil.
func NewOpinionHandler(svc OpinionService, cache domain.OpinionCache, logger *slog.Logger) *OpinionHandler {
	return &OpinionHandler{svc: svc, cache: cache, logger: logger}
}

type createOpinionRequest struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Description  string   `json:"description"`
	Link         string   `json:"link"`
	InitialPrice int64    `json:"initial_price"`
	Categories   []string `json:"categories"`
}

// CreateOpinion registers a new opinion owned by the caller.
// POST /api/opinions
func (h *OpinionHandler) CreateOpinion(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createOpinionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.svc.CreateOpinion(r.Context(), caller, ledger.CreateOpinionInput{
		Question:     req.Question,
		Answer:       req.Answer,
		Description:  req.Description,
		Link:         req.Link,
		InitialPrice: domain.Amount(req.InitialPrice),
		Categories:   req.Categories,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOpinion(o))
}

// ListOpinions returns opinions ordered by id.
// GET /api/opinions?limit=&offset=&active=
func (h *OpinionHandler) ListOpinions(w http.ResponseWriter, r *http.Request) {
	ops, err := h.svc.Opinions(r.Context(), parseListOpts(r))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	out := make([]opinionView, len(ops))
	for i, o := range ops {
		out[i] = viewOpinion(o)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOpinion returns a single opinion, served from the cache when warm.
// GET /api/opinions/{id}
func (h *OpinionHandler) GetOpinion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if h.cache != nil {
		if o, err := h.cache.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, viewOpinion(o))
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: opinion cache read failed",
				slog.Uint64("opinion_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	// A miss is filled by the service under its state lock.
	o, err := h.svc.Opinion(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOpinion(o))
}

// GetHistory returns the answer history of an opinion, oldest first.
// GET /api/opinions/{id}/history
func (h *OpinionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	hist, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewHistory(hist))
}

// GetNextPrice returns the price of the next answer buyout.
// GET /api/opinions/{id}/next-price
func (h *OpinionHandler) GetNextPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.NextPrice(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opinion_id":         id,
		"next_price":         int64(p),
		"next_price_display": p.String(),
	})
}

// ListPools returns the pools targeting an opinion.
// GET /api/opinions/{id}/pools
func (h *OpinionHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pools, err := h.svc.PoolsByOpinion(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	out := make([]poolView, len(pools))
	for i, p := range pools {
		out[i] = viewPool(p)
	}
	writeJSON(w, http.StatusOK, out)
}

type submitAnswerRequest struct {
	Answer      string `json:"answer"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// SubmitAnswer buys out the current answer at the opinion's next price.
// POST /api/opinions/{id}/answers
func (h *OpinionHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.SubmitAnswer(r.Context(), caller, ledger.SubmitAnswerInput{
		OpinionID:   id,
		Answer:      req.Answer,
		Description: req.Description,
		Link:        req.Link,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTrade(res))
}

type listingRequest struct {
	Price int64 `json:"price"`
}

// ListForSale offers the question on the resale marketplace.
// POST /api/opinions/{id}/listing
func (h *OpinionHandler) ListForSale(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req listingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.svc.ListQuestionForSale(r.Context(), caller, id, domain.Amount(req.Price))
	h.respondOpinion(w, r, o, err)
}

// CancelListing withdraws the question from sale.
// DELETE /api/opinions/{id}/listing
func (h *OpinionHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	h.opinionAction(w, r, h.svc.CancelQuestionSale)
}

// Purchase buys a listed question.
// POST /api/opinions/{id}/purchase
func (h *OpinionHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, split, err := h.svc.BuyQuestion(r.Context(), caller, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResale(o, split))
}

// Deactivate hides an opinion from trading. Moderators only.
// POST /api/opinions/{id}/deactivate
func (h *OpinionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.opinionAction(w, r, h.svc.DeactivateOpinion)
}

// Reactivate restores a deactivated opinion.
// POST /api/opinions/{id}/reactivate
func (h *OpinionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.opinionAction(w, r, h.svc.ReactivateOpinion)
}

func (h *OpinionHandler) opinionAction(w http.ResponseWriter, r *http.Request,
	op func(context.Context, domain.Address, uint64) (domain.Opinion, error)) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := op(r.Context(), caller, id)
	h.respondOpinion(w, r, o, err)
}

func (h *OpinionHandler) respondOpinion(w http.ResponseWriter, r *http.Request, o domain.Opinion, err error) {
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOpinion(o))
}
