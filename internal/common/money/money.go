package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	ZAR Currency = "ZAR"
	NGN Currency = "NGN"
	KES Currency = "KES"
	GHS Currency = "GHS"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// Settlement is the currency every voucher amount is stored in.
const Settlement = ZAR

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int32
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	ZAR: {Code: ZAR, MinorUnits: 2, Symbol: "R"},
	NGN: {Code: NGN, MinorUnits: 2, Symbol: "₦"},
	KES: {Code: KES, MinorUnits: 2, Symbol: "KSh"},
	GHS: {Code: GHS, MinorUnits: 2, Symbol: "GH₵"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
}

// ParseCurrency normalises a code and checks it against the supported table.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

// IsSupported reports whether c is in the currency table.
func (c Currency) IsSupported() bool {
	_, ok := currencies[c]
	return ok
}

func (c Currency) String() string { return string(c) }

// Money represents a monetary amount in minor units (cents, kobo, etc.)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Major returns the amount in major units as an exact decimal.
func (m Money) Major() decimal.Decimal {
	return decimal.New(m.AmountMinor, -minorUnits(m.Currency))
}

// Percentage calculates a share in basis points, rounded half away from zero.
func (m Money) Percentage(basisPoints int64) Money {
	share := decimal.NewFromInt(m.AmountMinor).Mul(decimal.NewFromInt(basisPoints)).Div(decimal.NewFromInt(10000))
	return Money{AmountMinor: share.Round(0).IntPart(), Currency: m.Currency}
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return info.Symbol + m.Major().StringFixed(info.MinorUnits)
}

// Format renders an amount in minor units for notification text.
func Format(amountMinor int64, c Currency) string {
	return New(amountMinor, c).String()
}

func minorUnits(c Currency) int32 {
	if info, ok := currencies[c]; ok {
		return info.MinorUnits
	}
	return 2
}
