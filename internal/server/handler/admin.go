package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// AdminService is the slice of the market the admin endpoints use.
type AdminService interface {
	Pause(ctx context.Context, caller domain.Address) error
	Unpause(ctx context.Context, caller domain.Address) error
	EmergencyWithdraw(ctx context.Context, caller, token domain.Address) (domain.Amount, error)
	WithdrawPlatformFees(ctx context.Context, caller, token, recipient domain.Address) (domain.Amount, error)
	GrantRole(ctx context.Context, caller domain.Address, g domain.RoleGrant) error
	RevokeRole(ctx context.Context, caller domain.Address, g domain.RoleGrant) error
	Paused() bool
}

// AdminHandler serves the pause, treasury and role endpoints.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// Pause stops every mutating operation.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Pause)
}

// Unpause resumes trading.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Unpause)
}

func (h *AdminHandler) toggle(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Address) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), caller); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": h.svc.Paused()})
}

type tokenRequest struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient,omitempty"`
}

// EmergencyWithdraw drains the escrow's balance of a token to the caller
// while paused.
// POST /api/admin/emergency-withdraw
func (h *AdminHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, ok := parseAddress(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid token address")
		return
	}
	amount, err := h.svc.EmergencyWithdraw(r.Context(), caller, token)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAmount(amount))
}

// WithdrawPlatformFees sends platform revenue to a recipient.
// POST /api/admin/platform-fees/withdraw
func (h *AdminHandler) WithdrawPlatformFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, ok := parseAddress(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid token address")
		return
	}
	recipient := caller
	if req.Recipient != "" {
		if recipient, ok = parseAddress(req.Recipient); !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid recipient address")
			return
		}
	}
	amount, err := h.svc.WithdrawPlatformFees(r.Context(), caller, token, recipient)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAmount(amount))
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

// GrantRole grants a role. Admins only.
// POST /api/admin/roles
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.role(w, r, h.svc.GrantRole)
}

// RevokeRole revokes a role. Admins only.
// DELETE /api/admin/roles
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.role(w, r, h.svc.RevokeRole)
}

func (h *AdminHandler) role(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Address, domain.RoleGrant) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid account address")
		return
	}
	g := domain.RoleGrant{Role: role, Account: account}
	if err := op(r.Context(), caller, g); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": string(g.Role), "account": g.Account.Hex()})
}
