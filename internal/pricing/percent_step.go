package pricing

import (
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// PercentStep grows the price by a fixed ratio per trade. GrowthBps of 13000
// is a 30% step.
type PercentStep struct {
	GrowthBps int64
	Min       domain.Amount
}

// NewPercentStep returns the default 30% step with a floor of min.
func NewPercentStep(min domain.Amount) PercentStep {
	return PercentStep{GrowthBps: 13_000, Min: min}
}

// Name implements Policy.
func (PercentStep) Name() string { return "percent_step" }

// Next implements Policy.
func (p PercentStep) Next(paid domain.Amount) (domain.Amount, error) {
	if paid < 0 {
		return 0, domain.Fail(domain.InvalidAmount, "paid", paid)
	}
	next, err := paid.Bps(p.GrowthBps)
	if err != nil {
		return 0, err
	}
	return atLeast(paid, next, p.Min)
}
