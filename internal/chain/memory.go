package chain

import (
	"context"
	"sync"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// MemoryToken is an in-process settlement token for development deployments
// and tests. Approvals are always towards the escrow.
type MemoryToken struct {
	addr   domain.Address
	escrow domain.Address

	mu         sync.Mutex
	balances   map[domain.Address]domain.Amount
	allowances map[domain.Address]domain.Amount

	// Hook, when set, runs before every transfer and may fail it.
	Hook func(ctx context.Context, dir string, account domain.Address, amount domain.Amount) error
}

// NewMemoryToken creates a token at addr whose escrow is escrow.
func NewMemoryToken(addr, escrow domain.Address) *MemoryToken {
	return &MemoryToken{
		addr:       addr,
		escrow:     escrow,
		balances:   make(map[domain.Address]domain.Amount),
		allowances: make(map[domain.Address]domain.Amount),
	}
}

// Address implements domain.Token.
func (t *MemoryToken) Address() domain.Address { return t.addr }

// Escrow implements domain.Token.
func (t *MemoryToken) Escrow() domain.Address { return t.escrow }

// Mint credits account.
func (t *MemoryToken) Mint(account domain.Address, amount domain.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
}

// Approve sets owner's allowance towards the escrow.
func (t *MemoryToken) Approve(owner domain.Address, amount domain.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[owner] = amount
}

// Allowance implements domain.Token.
func (t *MemoryToken) Allowance(_ context.Context, owner domain.Address) (domain.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner], nil
}

// BalanceOf implements domain.Token.
func (t *MemoryToken) BalanceOf(_ context.Context, account domain.Address) (domain.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

// Pull implements domain.Token.
func (t *MemoryToken) Pull(ctx context.Context, from domain.Address, amount domain.Amount) error {
	if t.Hook != nil {
		if err := t.Hook(ctx, "pull", from, amount); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[from] < amount {
		return domain.Fail(domain.InsufficientAllowance,
			"owner", from.Hex(), "allowance", t.allowances[from], "required", amount)
	}
	if t.balances[from] < amount {
		return domain.Fail(domain.InsufficientBalance,
			"account", from.Hex(), "balance", t.balances[from], "required", amount)
	}
	t.allowances[from] -= amount
	t.balances[from] -= amount
	t.balances[t.escrow] += amount
	return nil
}

// Push implements domain.Token.
func (t *MemoryToken) Push(ctx context.Context, to domain.Address, amount domain.Amount) error {
	if t.Hook != nil {
		if err := t.Hook(ctx, "push", to, amount); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[t.escrow] < amount {
		return domain.Fail(domain.InsufficientBalance,
			"account", t.escrow.Hex(), "balance", t.balances[t.escrow], "required", amount)
	}
	t.balances[t.escrow] -= amount
	t.balances[to] += amount
	return nil
}
