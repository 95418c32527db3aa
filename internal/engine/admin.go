package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionmarket/internal/access"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

// ClaimAccumulatedFees pays out the caller's claimable balance. A zero
// balance succeeds with nothing transferred.
func (e *Engine) ClaimAccumulatedFees(ctx context.Context, caller domain.Address) (domain.Amount, error) {
	var out domain.Amount
	err := e.mutate(ctx, access.OpClaimAccumulatedFees, caller, func(_ context.Context, tx *journal.Tx) error {
		out = e.dist.Claim(tx, e.token, caller)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// WithdrawPlatformFees sends platform revenue to recipient. For the
// settlement token that is the accumulated platform balance; for any other
// registered token it is the escrow's whole balance of it.
func (e *Engine) WithdrawPlatformFees(ctx context.Context, caller, token, recipient domain.Address) (domain.Amount, error) {
	var out domain.Amount
	err := e.mutate(ctx, access.OpWithdrawPlatformFees, caller, func(ctx context.Context, tx *journal.Tx) error {
		if recipient == domain.ZeroAddr {
			return domain.Fail(domain.ZeroAddress, "recipient", recipient.Hex())
		}
		t, err := e.lookupToken(token)
		if err != nil {
			return err
		}
		if t == e.token {
			out = e.dist.WithdrawPlatform(tx, t, recipient)
		} else {
			bal, err := t.BalanceOf(ctx, t.Escrow())
			if err != nil {
				return fmt.Errorf("engine: read escrow balance: %w", err)
			}
			out = bal
			tx.Push(t, recipient, bal, "platform_withdrawal")
		}
		if out > 0 {
			tx.Emit(domain.EventPlatformFeesWithdrawn, 0, 0, map[string]any{
				"token":     token.Hex(),
				"recipient": recipient.Hex(),
				"amount":    int64(out),
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.auditLog(ctx, "platform_fees_withdrawn", map[string]any{
		"by":        caller.Hex(),
		"token":     token.Hex(),
		"recipient": recipient.Hex(),
		"amount":    int64(out),
	})
	return out, nil
}

// Pause stops every mutating operation except Unpause and EmergencyWithdraw.
func (e *Engine) Pause(ctx context.Context, caller domain.Address) error {
	err := e.mutate(ctx, access.OpPause, caller, func(_ context.Context, tx *journal.Tx) error {
		e.pause.Set(tx, true)
		return nil
	})
	if err == nil {
		e.logger.WarnContext(ctx, "engine: market paused", slog.String("by", caller.Hex()))
		e.auditLog(ctx, "paused", map[string]any{"by": caller.Hex()})
	}
	return err
}

// Unpause resumes the market.
func (e *Engine) Unpause(ctx context.Context, caller domain.Address) error {
	err := e.exec(ctx, access.OpUnpause, caller, func() error {
		if err := e.control.Authorize(caller, access.OpUnpause); err != nil {
			return err
		}
		return e.pause.RequirePaused()
	}, func(_ context.Context, tx *journal.Tx) error {
		e.pause.Set(tx, false)
		return nil
	})
	if err == nil {
		e.logger.InfoContext(ctx, "engine: market unpaused", slog.String("by", caller.Hex()))
		e.auditLog(ctx, "unpaused", map[string]any{"by": caller.Hex()})
	}
	return err
}

// EmergencyWithdraw moves the escrow's whole balance of token to caller. It
// is only allowed while paused. Accounting is left untouched.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller, token domain.Address) (domain.Amount, error) {
	var out domain.Amount
	err := e.exec(ctx, access.OpEmergencyWithdraw, caller, func() error {
		if err := e.control.Authorize(caller, access.OpEmergencyWithdraw); err != nil {
			return err
		}
		return e.pause.RequirePaused()
	}, func(ctx context.Context, tx *journal.Tx) error {
		t, err := e.lookupToken(token)
		if err != nil {
			return err
		}
		bal, err := t.BalanceOf(ctx, t.Escrow())
		if err != nil {
			return fmt.Errorf("engine: read escrow balance: %w", err)
		}
		if bal <= 0 {
			return nil
		}
		out = bal
		tx.Push(t, caller, bal, "emergency_withdraw")
		tx.Emit(domain.EventEmergencyWithdraw, 0, 0, map[string]any{
			"token":     token.Hex(),
			"recipient": caller.Hex(),
			"amount":    int64(bal),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if out > 0 {
		liabilities, _ := e.liabilities(ctx)
		e.logger.WarnContext(ctx, "engine: emergency withdrawal",
			slog.String("token", token.Hex()),
			slog.String("amount", out.String()),
			slog.String("liabilities", liabilities.String()),
		)
		e.auditLog(ctx, "emergency_withdraw", map[string]any{
			"by":     caller.Hex(),
			"token":  token.Hex(),
			"amount": int64(out),
		})
	}
	return out, nil
}

// GrantRole gives account a role.
func (e *Engine) GrantRole(ctx context.Context, caller domain.Address, g domain.RoleGrant) error {
	err := e.mutate(ctx, access.OpGrantRole, caller, func(_ context.Context, tx *journal.Tx) error {
		return e.control.Grant(tx, g)
	})
	if err == nil {
		e.auditLog(ctx, "role_granted", map[string]any{
			"by": caller.Hex(), "role": string(g.Role), "account": g.Account.Hex(),
		})
	}
	return err
}

// RevokeRole removes a role from account.
func (e *Engine) RevokeRole(ctx context.Context, caller domain.Address, g domain.RoleGrant) error {
	err := e.mutate(ctx, access.OpRevokeRole, caller, func(_ context.Context, tx *journal.Tx) error {
		return e.control.Revoke(tx, g)
	})
	if err == nil {
		e.auditLog(ctx, "role_revoked", map[string]any{
			"by": caller.Hex(), "role": string(g.Role), "account": g.Account.Hex(),
		})
	}
	return err
}

func (e *Engine) lookupToken(addr domain.Address) (domain.Token, error) {
	t, ok := e.tokens[addr]
	if !ok {
		return nil, domain.Fail(domain.UnknownToken, "token", addr.Hex())
	}
	return t, nil
}
