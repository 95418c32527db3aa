package domain

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a value in the settlement token's smallest unit (6 decimals).
type Amount int64

// USDC is one whole settlement token.
const USDC Amount = 1_000_000

// AmountDecimals is the settlement token precision.
const AmountDecimals = 6

// BasisPoints is the denominator for every bps rate in the market.
const BasisPoints = 10_000

// String renders the amount as a fixed 6-decimal value, e.g. "123.500000".
func (a Amount) String() string {
	return decimal.New(int64(a), -AmountDecimals).StringFixed(AmountDecimals)
}

// Decimal returns the amount as a decimal in whole tokens.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountDecimals)
}

// Add returns a+b or an Overflow error.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, Fail(Overflow, "op", "add", "a", int64(a), "b", int64(b))
	}
	return a + b, nil
}

// Sub returns a-b or an Overflow error.
func (a Amount) Sub(b Amount) (Amount, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, Fail(Overflow, "op", "sub", "a", int64(a), "b", int64(b))
	}
	return a - b, nil
}

// MulDiv returns floor(a*num/den) computed without intermediate overflow. The
// result must fit in an Amount.
func (a Amount) MulDiv(num, den int64) (Amount, error) {
	if den == 0 {
		return 0, Fail(Overflow, "op", "muldiv", "reason", "zero denominator")
	}
	p := new(big.Int).Mul(big.NewInt(int64(a)), big.NewInt(num))
	q := new(big.Int).Quo(p, big.NewInt(den))
	if !q.IsInt64() {
		return 0, Fail(Overflow, "op", "muldiv", "a", int64(a), "num", num, "den", den)
	}
	return Amount(q.Int64()), nil
}

// Bps returns floor(a*bps/10000).
func (a Amount) Bps(bps int64) (Amount, error) {
	return a.MulDiv(bps, BasisPoints)
}

// BigInt converts the amount for on-chain calls.
func (a Amount) BigInt() *big.Int {
	return big.NewInt(int64(a))
}

// AmountFromBig converts an on-chain value, rejecting values that do not fit.
func AmountFromBig(v *big.Int) (Amount, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsInt64() {
		return 0, Fail(Overflow, "op", "from_big", "value", v.String())
	}
	return Amount(v.Int64()), nil
}

// ParseAmount parses a decimal token string such as "12.5" into smallest units.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, Fail(InvalidAmount, "value", s)
	}
	units := d.Shift(AmountDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, Fail(InvalidAmount, "value", s, "reason", "more than 6 decimals")
	}
	if !units.BigInt().IsInt64() {
		return 0, Fail(Overflow, "op", "parse", "value", s)
	}
	return Amount(units.IntPart()), nil
}
