package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"voucherpay/internal/common/money"
)

// ErrCannotConvert means the rate table has no path between two currencies.
// It points at a configuration gap rather than bad input.
var ErrCannotConvert = errors.New("cannot convert between currencies")

// Convert converts an amount in minor units of from into minor units of to.
//
// Lookup order is fixed: identity, the direct pair, the inverse pair, then a
// bridge through USD where each leg may itself be direct or inverse. The
// result is not rounded. ok is false when no path exists.
func Convert(amount int64, from, to money.Currency, rates Rates) (decimal.Decimal, bool) {
	v := decimal.NewFromInt(amount)
	if from == to {
		return v, true
	}

	if h, ok := findHop(from, to, rates); ok {
		return h.apply(v), true
	}

	toUSD, ok := findHop(from, money.USD, rates)
	if !ok {
		return decimal.Zero, false
	}
	fromUSD, ok := findHop(money.USD, to, rates)
	if !ok {
		return decimal.Zero, false
	}
	return fromUSD.apply(toUSD.apply(v)), true
}

// ConvertMinor converts and rounds half away from zero to a whole subunit.
func ConvertMinor(amount int64, from, to money.Currency, rates Rates) (int64, error) {
	v, ok := Convert(amount, from, to, rates)
	if !ok {
		return 0, fmt.Errorf("%s to %s: %w", from, to, ErrCannotConvert)
	}
	return v.Round(0).IntPart(), nil
}

const divisionPrecision = 16

type hop struct {
	rate    decimal.Decimal
	inverse bool
}

func (h hop) apply(v decimal.Decimal) decimal.Decimal {
	if h.inverse {
		return v.DivRound(h.rate, divisionPrecision)
	}
	return v.Mul(h.rate)
}

// findHop resolves a single conversion step, preferring the direct pair.
func findHop(from, to money.Currency, rates Rates) (hop, bool) {
	if from == to {
		return hop{rate: decimal.NewFromInt(1)}, true
	}
	if r, ok := rates[PairKey(from, to)]; ok && r > 0 {
		return hop{rate: decimal.NewFromFloat(r)}, true
	}
	if r, ok := rates[PairKey(to, from)]; ok && r > 0 {
		return hop{rate: decimal.NewFromFloat(r), inverse: true}, true
	}
	return hop{}, false
}
