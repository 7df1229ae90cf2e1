// Package exchange holds exchange-rate snapshots and the pure conversion
// functions the ledger engines run over them.
package exchange

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"voucherpay/internal/common/money"
)

// Rates maps a pair key such as "USD_TO_ZAR" to the number of units of the
// target currency bought by one unit of the source currency.
type Rates map[string]float64

// ErrInvalidRate is returned when a rate table entry cannot be used.
var ErrInvalidRate = errors.New("invalid exchange rate")

// PairKey builds the rate table key for from → to.
func PairKey(from, to money.Currency) string {
	return string(from) + "_TO_" + string(to)
}

// ParsePairKey splits a rate table key into its two currencies.
func ParsePairKey(key string) (money.Currency, money.Currency, bool) {
	parts := strings.Split(key, "_TO_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return "", "", false
	}
	return money.Currency(parts[0]), money.Currency(parts[1]), true
}

// DefaultRates returns the rates used for any pair the admin has not set.
func DefaultRates() Rates {
	return Rates{
		"USD_TO_ZAR": 18.5,
		"USD_TO_NGN": 1500,
		"USD_TO_KES": 129,
		"USD_TO_GHS": 15.5,
		"USD_TO_EUR": 0.92,
		"USD_TO_GBP": 0.79,
	}
}

// Validate checks that every key is a well-formed pair and every rate is a
// positive number.
func (r Rates) Validate() error {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, _, ok := ParsePairKey(k); !ok {
			return fmt.Errorf("%w: malformed pair %q", ErrInvalidRate, k)
		}
		if v := r[k]; !(v > 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidRate, k, v)
		}
	}
	return nil
}

// Merge returns a new table with overrides applied on top of r.
func (r Rates) Merge(overrides Rates) Rates {
	out := make(Rates, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Clone copies the table.
func (r Rates) Clone() Rates {
	return Rates{}.Merge(r)
}

type seedFile struct {
	Rates Rates `yaml:"rates"`
}

// LoadFile reads a YAML rate seed of the form:
//
//	rates:
//	  USD_TO_ZAR: 18.5
func LoadFile(path string) (Rates, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rates file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing rates file: %w", err)
	}
	if err := f.Rates.Validate(); err != nil {
		return nil, err
	}
	return f.Rates, nil
}
