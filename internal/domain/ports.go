package domain

import (
	"context"
	"time"
)

// Token is a fungible asset held in the market's escrow account. All
// transfers move value between users and the escrow.
type Token interface {
	Address() Address
	// Allowance is what owner has approved the escrow to pull.
	Allowance(ctx context.Context, owner Address) (Amount, error)
	// BalanceOf returns the token balance of account.
	BalanceOf(ctx context.Context, account Address) (Amount, error)
	// Pull moves amount from user into the escrow.
	Pull(ctx context.Context, from Address, amount Amount) error
	// Push moves amount from the escrow to user.
	Push(ctx context.Context, to Address, amount Amount) error
	// Escrow is the account holding market funds.
	Escrow() Address
}

// BlockSource yields the current ordering unit.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
