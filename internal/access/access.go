// Package access maps roles to the market operations they may invoke.
package access

import (
	"sort"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/journal"
)

// Operation names a public entry point.
type Operation string

const (
	OpCreateOpinion           Operation = "create_opinion"
	OpSubmitAnswer            Operation = "submit_answer"
	OpListQuestionForSale     Operation = "list_question_for_sale"
	OpCancelQuestionSale      Operation = "cancel_question_sale"
	OpBuyQuestion             Operation = "buy_question"
	OpDeactivateOpinion       Operation = "deactivate_opinion"
	OpReactivateOpinion       Operation = "reactivate_opinion"
	OpCreatePool              Operation = "create_pool"
	OpContributeToPool        Operation = "contribute_to_pool"
	OpCheckPoolExpiry         Operation = "check_pool_expiry"
	OpWithdrawFromExpiredPool Operation = "withdraw_from_expired_pool"
	OpClaimAccumulatedFees    Operation = "claim_accumulated_fees"
	OpWithdrawPlatformFees    Operation = "withdraw_platform_fees"
	OpPause                   Operation = "pause"
	OpUnpause                 Operation = "unpause"
	OpEmergencyWithdraw       Operation = "emergency_withdraw"
	OpGrantRole               Operation = "grant_role"
	OpRevokeRole              Operation = "revoke_role"
)

// Public operations need no role.
var Public = map[Operation]bool{
	OpCreateOpinion:           true,
	OpSubmitAnswer:            true,
	OpListQuestionForSale:     true,
	OpCancelQuestionSale:      true,
	OpBuyQuestion:             true,
	OpCreatePool:              true,
	OpContributeToPool:        true,
	OpCheckPoolExpiry:         true,
	OpWithdrawFromExpiredPool: true,
	OpClaimAccumulatedFees:    true,
}

// Table is the capability table role -> permitted operations.
type Table map[domain.Role]map[Operation]bool

// DefaultTable grants the restricted operations.
func DefaultTable() Table {
	return Table{
		domain.RoleAdmin: set(OpPause, OpUnpause, OpEmergencyWithdraw,
			OpGrantRole, OpRevokeRole, OpDeactivateOpinion, OpReactivateOpinion),
		domain.RoleModerator: set(OpDeactivateOpinion, OpReactivateOpinion),
		domain.RoleOperator:  set(OpPause, OpUnpause),
		domain.RoleTreasury:  set(OpWithdrawPlatformFees),
	}
}

func set(ops ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Control holds role grants and checks calls against the table. Callers
// serialize access.
type Control struct {
	table  Table
	grants map[domain.Address]map[domain.Role]bool
}

// NewControl creates a Control over table.
func NewControl(table Table) *Control {
	return &Control{table: table, grants: make(map[domain.Address]map[domain.Role]bool)}
}

// Restore replaces grants with persisted ones.
func (c *Control) Restore(grants []domain.RoleGrant) {
	c.grants = make(map[domain.Address]map[domain.Role]bool)
	for _, g := range grants {
		c.add(g)
	}
}

func (c *Control) add(g domain.RoleGrant) {
	roles, ok := c.grants[g.Account]
	if !ok {
		roles = make(map[domain.Role]bool)
		c.grants[g.Account] = roles
	}
	roles[g.Role] = true
}

// Has reports whether account holds role.
func (c *Control) Has(account domain.Address, role domain.Role) bool {
	return c.grants[account][role]
}

// Roles returns the roles held by account, sorted.
func (c *Control) Roles(account domain.Address) []domain.Role {
	out := make([]domain.Role, 0, len(c.grants[account]))
	for r := range c.grants[account] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authorize returns Unauthorized unless op is public or caller holds a role
// permitting it.
func (c *Control) Authorize(caller domain.Address, op Operation) error {
	if Public[op] {
		return nil
	}
	for role := range c.grants[caller] {
		if c.table[role][op] {
			return nil
		}
	}
	return domain.Fail(domain.Unauthorized, "caller", caller.Hex(), "operation", string(op))
}

// Grant gives account role within tx.
func (c *Control) Grant(tx *journal.Tx, g domain.RoleGrant) error {
	if g.Account == domain.ZeroAddr {
		return domain.Fail(domain.ZeroAddress, "role", string(g.Role))
	}
	if c.Has(g.Account, g.Role) {
		return nil
	}
	c.add(g)
	tx.Grant(g)
	tx.OnRollback(func() { delete(c.grants[g.Account], g.Role) })
	tx.Emit(domain.EventRoleGranted, 0, 0, map[string]any{
		"role":    string(g.Role),
		"account": g.Account.Hex(),
	})
	return nil
}

// Revoke removes role from account within tx.
func (c *Control) Revoke(tx *journal.Tx, g domain.RoleGrant) error {
	if !c.Has(g.Account, g.Role) {
		return nil
	}
	delete(c.grants[g.Account], g.Role)
	tx.Revoke(g)
	tx.OnRollback(func() { c.add(g) })
	tx.Emit(domain.EventRoleRevoked, 0, 0, map[string]any{
		"role":    string(g.Role),
		"account": g.Account.Hex(),
	})
	return nil
}

// Grants returns every grant.
func (c *Control) Grants() []domain.RoleGrant {
	var out []domain.RoleGrant
	for a, roles := range c.grants {
		for r := range roles {
			out = append(out, domain.RoleGrant{Role: r, Account: a})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account.Cmp(out[j].Account) < 0
		}
		return out[i].Role < out[j].Role
	})
	return out
}
