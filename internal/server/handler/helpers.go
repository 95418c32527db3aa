package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/server/middleware"
)

// writeJSON marshals v and writes it with status. Marshal failures become a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// writeError sends a request-level error that has no domain kind.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeFailure maps an operation error to its HTTP status. Domain failures
// carry their kind and parameters; anything else is logged and hidden.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindUnknown {
		logger.ErrorContext(r.Context(), "handler: operation failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	body := errorBody{Error: kind.String(), Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) && len(de.Params) > 0 {
		body.Params = make(map[string]any, len(de.Params))
		for _, p := range de.Params {
			body.Params[p.Key] = p.Value
		}
	}
	writeJSON(w, StatusFor(kind), body)
}

// StatusFor returns the HTTP status of a domain failure kind.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.OpinionNotFound, domain.PoolNotFound:
		return http.StatusNotFound
	case domain.Unauthorized, domain.NotTheOwner:
		return http.StatusForbidden
	case domain.Paused:
		return http.StatusServiceUnavailable
	case domain.OneTradePerBlock, domain.MaxTradesPerBlockExceeded:
		return http.StatusTooManyRequests
	case domain.Reentrancy, domain.NotPaused:
		return http.StatusConflict
	case domain.TransferFailed:
		return http.StatusBadGateway
	case domain.OpinionNotActive, domain.OpinionAlreadyActive, domain.SameAsCurrentAnswer,
		domain.NotForSale, domain.AlreadyOwner,
		domain.PoolNotActive, domain.PoolExpired, domain.PoolNotExpired, domain.PoolSameAnswer,
		domain.NothingToWithdraw, domain.InsufficientAllowance, domain.InsufficientBalance,
		domain.Overflow:
		return http.StatusUnprocessableEntity
	case domain.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

const maxBody = 64 << 10

// decodeJSON reads a JSON body into v, rejecting unknown fields. It writes
// the 400 itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

// pathID parses the {name} path segment as a positive integer.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseAddress parses a 0x hex address.
func parseAddress(s string) (domain.Address, bool) {
	if !common.IsHexAddress(s) {
		return domain.ZeroAddr, false
	}
	return common.HexToAddress(s), true
}

// requireCaller returns the authenticated caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "signed caller required")
		return domain.ZeroAddr, false
	}
	return caller, true
}

// parseListOpts reads limit (default 50, max 500), offset and active.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if v := q.Get("active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Active = &b
		}
	}
	return opts
}
