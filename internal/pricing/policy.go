// Package pricing computes the buyout price ladder of an opinion.
package pricing

import (
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Policy returns the price required for the next buyout given the price just
// paid. Implementations must be pure and must return a value strictly greater
// than paid, or an error.
type Policy interface {
	Name() string
	Next(paid domain.Amount) (domain.Amount, error)
}

// Bounds limits the initial price accepted at opinion creation. Later trades
// are not capped by Max.
type Bounds struct {
	Min domain.Amount
	Max domain.Amount
}

// DefaultBounds is 1 to 100 settlement tokens.
var DefaultBounds = Bounds{Min: 1 * domain.USDC, Max: 100 * domain.USDC}

// CheckInitial validates a creation price.
func (b Bounds) CheckInitial(price domain.Amount) error {
	if price < b.Min || price > b.Max {
		return domain.Fail(domain.PriceRange,
			"price", price, "min", b.Min, "max", b.Max)
	}
	return nil
}

// atLeast enforces the strict increase and the floor shared by every policy.
func atLeast(paid, next, floor domain.Amount) (domain.Amount, error) {
	if next < floor {
		next = floor
	}
	if next <= paid {
		bumped, err := paid.Add(1)
		if err != nil {
			return 0, err
		}
		next = bumped
	}
	return next, nil
}
