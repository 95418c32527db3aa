package pricing

import (
	"sort"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Tier applies GrowthBps to prices up to and including UpTo. A zero UpTo
// covers everything above the previous tier.
type Tier struct {
	UpTo      domain.Amount
	GrowthBps int64
}

// Tiered slows growth as the price climbs through bands.
type Tiered struct {
	Tiers []Tier
	Min   domain.Amount
}

// DefaultTiers: +30% under 100, +20% under 1000, +10% above.
var DefaultTiers = []Tier{
	{UpTo: 100 * domain.USDC, GrowthBps: 13_000},
	{UpTo: 1_000 * domain.USDC, GrowthBps: 12_000},
	{UpTo: 0, GrowthBps: 11_000},
}

// NewTiered sorts tiers ascending, keeping the open-ended tier last.
func NewTiered(tiers []Tier, min domain.Amount) Tiered {
	ts := append([]Tier(nil), tiers...)
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].UpTo == 0 {
			return false
		}
		if ts[j].UpTo == 0 {
			return true
		}
		return ts[i].UpTo < ts[j].UpTo
	})
	return Tiered{Tiers: ts, Min: min}
}

// Name implements Policy.
func (Tiered) Name() string { return "tiered" }

// Next implements Policy.
func (t Tiered) Next(paid domain.Amount) (domain.Amount, error) {
	if paid < 0 {
		return 0, domain.Fail(domain.InvalidAmount, "paid", paid)
	}
	growth := int64(domain.BasisPoints)
	for _, tier := range t.Tiers {
		growth = tier.GrowthBps
		if tier.UpTo == 0 || paid <= tier.UpTo {
			break
		}
	}
	next, err := paid.Bps(growth)
	if err != nil {
		return 0, err
	}
	return atLeast(paid, next, t.Min)
}
