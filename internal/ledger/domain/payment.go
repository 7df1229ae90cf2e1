package domain

import (
	"errors"
	"fmt"
	"time"

	"voucherpay/internal/common/money"
)

// PaymentStatus represents the processor-side state of a charge
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccessful PaymentStatus = "successful"
)

// PaymentPurpose is what a confirmed charge turns into
type PaymentPurpose string

const (
	PurposeVoucher PaymentPurpose = "voucher"
	PurposeTopUp   PaymentPurpose = "top_up"
)

// Payment records a hosted checkout charge keyed by its reference.
// Amount and FeeAmount are in Currency minor units; OriginalAmount is what
// the payer asked to send before fees.
type Payment struct {
	Reference        string         `json:"reference"`
	PayerID          string         `json:"payer_id"`
	PayerPhone       string         `json:"payer_phone"`
	Purpose          PaymentPurpose `json:"purpose"`
	RecipientPhone   string         `json:"recipient_phone,omitempty"`
	Message          string         `json:"message,omitempty"`
	Amount           int64          `json:"amount"`
	FeeAmount        int64          `json:"fee_amount"`
	Currency         money.Currency `json:"currency"`
	OriginalAmount   int64          `json:"original_amount"`
	OriginalCurrency money.Currency `json:"original_currency"`
	ConvertedAmount  int64          `json:"converted_amount,omitempty"`
	Status           PaymentStatus  `json:"status"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
	VoucherID        string         `json:"voucher_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	SettledAt        *time.Time     `json:"settled_at,omitempty"`
}

// NewPayment creates a pending payment
func NewPayment(reference string, payer *User, purpose PaymentPurpose, amount, fee int64, currency money.Currency) (*Payment, error) {
	if reference == "" {
		return nil, errors.New("reference is required")
	}
	if payer == nil {
		return nil, errors.New("payer is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if fee < 0 || fee >= amount {
		return nil, errors.New("fee must be non-negative and less than amount")
	}

	now := time.Now().UTC()
	return &Payment{
		Reference:  reference,
		PayerID:    payer.ID,
		PayerPhone: payer.Phone,
		Purpose:    purpose,
		Amount:     amount,
		FeeAmount:  fee,
		Currency:   currency,
		Status:     PaymentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsSettled returns true once the charge has been confirmed
func (p *Payment) IsSettled() bool {
	return p.Status == PaymentSuccessful
}

// NetOf returns what is left of a confirmed charge once the recorded fee is
// taken. A short charge pays the fee first.
func (p *Payment) NetOf(confirmed int64) int64 {
	net := confirmed - p.FeeAmount
	if net < 0 {
		return 0
	}
	return net
}

// MarkSuccessful records the processor-confirmed amount
func (p *Payment) MarkSuccessful(confirmed, converted int64, voucherID string) error {
	if p.Status != PaymentPending {
		return fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, p.Reference, p.Status)
	}
	now := time.Now().UTC()
	p.Status = PaymentSuccessful
	p.Amount = confirmed
	p.ConvertedAmount = converted
	p.VoucherID = voucherID
	p.SettledAt = &now
	p.UpdatedAt = now
	return nil
}

// Validate checks a payment record read back from the store
func (p *Payment) Validate() error {
	if p.Reference == "" || p.PayerID == "" {
		return fmt.Errorf("%w: payment is missing reference or payer", ErrCorruptRecord)
	}
	switch p.Status {
	case PaymentPending, PaymentSuccessful:
	default:
		return fmt.Errorf("%w: payment %s has status %q", ErrCorruptRecord, p.Reference, p.Status)
	}
	return nil
}
