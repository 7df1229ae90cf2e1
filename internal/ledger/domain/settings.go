package domain

import (
	"errors"
	"time"

	"voucherpay/internal/exchange"
)

// Fees holds the admin-configured fee schedule
type Fees struct {
	// CheckoutFeeBps is charged on top of a card checkout.
	CheckoutFeeBps int64 `json:"checkout_fee_bps"`
	// CheckoutFlatFee is in gateway currency minor units.
	CheckoutFlatFee int64 `json:"checkout_flat_fee"`
	// ConversionFeeBps is taken from credits on a base currency change.
	ConversionFeeBps int64 `json:"conversion_fee_bps"`
}

// DefaultFees returns the fee schedule used until an admin sets one
func DefaultFees() Fees {
	return Fees{
		CheckoutFeeBps:   150,
		CheckoutFlatFee:  0,
		ConversionFeeBps: 200,
	}
}

// Validate checks the fee schedule
func (f Fees) Validate() error {
	if f.CheckoutFeeBps < 0 || f.CheckoutFeeBps > 10000 {
		return errors.New("checkout_fee_bps must be between 0 and 10000")
	}
	if f.ConversionFeeBps < 0 || f.ConversionFeeBps > 10000 {
		return errors.New("conversion_fee_bps must be between 0 and 10000")
	}
	if f.CheckoutFlatFee < 0 {
		return errors.New("checkout_flat_fee must not be negative")
	}
	return nil
}

// Settings is the single admin-editable configuration document. Rates holds
// only admin overrides; EffectiveRates layers them on the defaults.
type Settings struct {
	Rates     exchange.Rates `json:"rates"`
	Fees      Fees           `json:"fees"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DefaultSettings returns settings with no overrides
func DefaultSettings() *Settings {
	return &Settings{Rates: exchange.Rates{}, Fees: DefaultFees()}
}

// EffectiveRates returns base with the stored overrides applied
func (s *Settings) EffectiveRates(base exchange.Rates) exchange.Rates {
	return base.Merge(s.Rates)
}
