package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"voucherpay/internal/common/money"
)

// VoucherStatus represents the redemption state of a voucher
type VoucherStatus string

const (
	VoucherDelivered VoucherStatus = "delivered"
	VoucherRedeemed  VoucherStatus = "redeemed"
	// VoucherPaid is written by older clients and means the same as redeemed.
	VoucherPaid VoucherStatus = "paid"
)

// VoucherSource records how a voucher was funded
type VoucherSource string

const (
	SourceBalance  VoucherSource = "balance"
	SourceCheckout VoucherSource = "checkout"
)

// Voucher is a value transfer earmarked for a recipient phone. Amount is
// always in settlement currency subunits.
type Voucher struct {
	ID                string         `json:"id"`
	Code              string         `json:"code"`
	SenderID          string         `json:"sender_id"`
	SenderPhone       string         `json:"sender_phone"`
	RecipientPhone    string         `json:"recipient_phone"`
	Amount            int64          `json:"amount"`
	RecipientCurrency money.Currency `json:"recipient_currency"`
	OriginalAmount    int64          `json:"original_amount"`
	OriginalCurrency  money.Currency `json:"original_currency"`
	Message           string         `json:"message,omitempty"`
	Status            VoucherStatus  `json:"status"`
	Source            VoucherSource  `json:"source"`
	PaymentReference  string         `json:"payment_reference,omitempty"`
	RedeemedAmount    int64          `json:"redeemed_amount,omitempty"`
	RedeemedCurrency  money.Currency `json:"redeemed_currency,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	RedeemedAt        *time.Time     `json:"redeemed_at,omitempty"`
}

// NewVoucher creates a delivered voucher
func NewVoucher(id, code string, sender *User, recipientPhone string, amount int64, recipientCurrency money.Currency, source VoucherSource) (*Voucher, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if len(code) != CodeLength {
		return nil, fmt.Errorf("code must be %d digits", CodeLength)
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if recipientPhone == "" {
		return nil, errors.New("recipient phone is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &Voucher{
		ID:                id,
		Code:              code,
		SenderID:          sender.ID,
		SenderPhone:       sender.Phone,
		RecipientPhone:    recipientPhone,
		Amount:            amount,
		RecipientCurrency: recipientCurrency,
		Status:            VoucherDelivered,
		Source:            source,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsRedeemed returns true once the value has reached a wallet
func (v *Voucher) IsRedeemed() bool {
	return v.Status == VoucherRedeemed || v.Status == VoucherPaid
}

// Redeem marks the voucher redeemed with the amount credited to the wallet.
func (v *Voucher) Redeem(credited int64, currency money.Currency) error {
	if v.Status != VoucherDelivered {
		return fmt.Errorf("%w: voucher %s is %s", ErrInvalidTransition, v.ID, v.Status)
	}
	now := time.Now().UTC()
	v.Status = VoucherRedeemed
	v.RedeemedAmount = credited
	v.RedeemedCurrency = currency
	v.RedeemedAt = &now
	v.UpdatedAt = now
	return nil
}

// Validate checks a voucher record read back from the store
func (v *Voucher) Validate() error {
	if v.ID == "" || v.RecipientPhone == "" {
		return fmt.Errorf("%w: voucher is missing id or recipient", ErrCorruptRecord)
	}
	if v.Amount <= 0 {
		return fmt.Errorf("%w: voucher %s has non-positive amount", ErrCorruptRecord, v.ID)
	}
	switch v.Status {
	case VoucherDelivered, VoucherRedeemed, VoucherPaid:
	default:
		return fmt.Errorf("%w: voucher %s has status %q", ErrCorruptRecord, v.ID, v.Status)
	}
	return nil
}

// CodeLength is the number of digits in a voucher code.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a random zero-padded six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generating voucher code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
