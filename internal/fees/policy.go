// Package fees splits trade prices and keeps the claimable fee balances.
package fees

import (
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Split is the three-way division of an answer buyout.
type Split struct {
	Creator  domain.Amount
	Owner    domain.Amount
	Platform domain.Amount
	Penalty  domain.Amount // included in Platform
}

// Total sums the shares.
func (s Split) Total() domain.Amount { return s.Creator + s.Owner + s.Platform }

// ResaleSplit is the division of a question resale.
type ResaleSplit struct {
	Seller   domain.Amount
	Platform domain.Amount
}

// Policy prices every fee the market charges.
type Policy interface {
	// OwnerShare is the owner portion before any penalty.
	OwnerShare(price domain.Amount) (domain.Amount, error)
	TradeSplit(price, penalty domain.Amount) (Split, error)
	ResaleSplit(price domain.Amount) (ResaleSplit, error)
	CreationFee(initialPrice domain.Amount) (domain.Amount, error)
	PoolCreationFee() domain.Amount
}

// Standard is the default fee schedule.
type Standard struct {
	CreatorBps        int64
	PlatformBps       int64
	ResalePlatformBps int64
	CreationFeeBps    int64
	MinCreationFee    domain.Amount
	PoolFee           domain.Amount
}

// DefaultStandard: creator 3%, platform 2%, resale 10%, creation 20% with a
// 5 token minimum, free pools.
func DefaultStandard() Standard {
	return Standard{
		CreatorBps:        300,
		PlatformBps:       200,
		ResalePlatformBps: 1_000,
		CreationFeeBps:    2_000,
		MinCreationFee:    5 * domain.USDC,
	}
}

// OwnerShare implements Policy.
func (s Standard) OwnerShare(price domain.Amount) (domain.Amount, error) {
	return price.Bps(domain.BasisPoints - s.CreatorBps - s.PlatformBps)
}

// TradeSplit implements Policy. The platform receives whatever the creator and
// owner shares leave, so rounding dust and the penalty both land there.
func (s Standard) TradeSplit(price, penalty domain.Amount) (Split, error) {
	if price < 0 {
		return Split{}, domain.Fail(domain.InvalidAmount, "price", price)
	}
	creator, err := price.Bps(s.CreatorBps)
	if err != nil {
		return Split{}, err
	}
	owner, err := s.OwnerShare(price)
	if err != nil {
		return Split{}, err
	}
	if penalty < 0 || penalty > owner {
		return Split{}, domain.Fail(domain.InvalidAmount, "penalty", penalty, "owner_share", owner)
	}
	owner -= penalty
	platform := price - creator - owner
	return Split{Creator: creator, Owner: owner, Platform: platform, Penalty: penalty}, nil
}

// ResaleSplit implements Policy.
func (s Standard) ResaleSplit(price domain.Amount) (ResaleSplit, error) {
	if price <= 0 {
		return ResaleSplit{}, domain.Fail(domain.InvalidAmount, "price", price)
	}
	platform, err := price.Bps(s.ResalePlatformBps)
	if err != nil {
		return ResaleSplit{}, err
	}
	return ResaleSplit{Seller: price - platform, Platform: platform}, nil
}

// CreationFee implements Policy.
func (s Standard) CreationFee(initialPrice domain.Amount) (domain.Amount, error) {
	fee, err := initialPrice.Bps(s.CreationFeeBps)
	if err != nil {
		return 0, err
	}
	if fee < s.MinCreationFee {
		fee = s.MinCreationFee
	}
	return fee, nil
}

// PoolCreationFee implements Policy.
func (s Standard) PoolCreationFee() domain.Amount { return s.PoolFee }
