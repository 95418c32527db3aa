package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// EventService reads the market event log.
type EventService interface {
	Events(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
}

// EventHandler serves the event log.
type EventHandler struct {
	svc    EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

// ListEvents returns events in sequence order. Page with after=<last seq>.
// GET /api/events?kind=&opinion_id=&pool_id=&after=&limit=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.EventFilter{
		Kind:  domain.EventKind(q.Get("kind")),
		Limit: parseListOpts(r).Limit,
	}
	for name, dst := range map[string]*uint64{
		"opinion_id": &f.OpinionID,
		"pool_id":    &f.PoolID,
		"after":      &f.AfterSeq,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
			return
		}
		*dst = n
	}

	events, err := h.svc.Events(r.Context(), f)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	out := make([]bus.Message, len(events))
	for i, e := range events {
		out[i] = bus.FromEvent(e)
	}
	writeJSON(w, http.StatusOK, out)
}
