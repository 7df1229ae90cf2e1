package domain

import (
	"errors"
	"fmt"
	"time"

	"voucherpay/internal/common/money"
)

// RedemptionMethod is where a payout is sent
type RedemptionMethod string

const (
	MethodBankAccount  RedemptionMethod = "bank_account"
	MethodMobileWallet RedemptionMethod = "mobile_wallet"
)

// RedemptionStatus represents the payout state of a redemption
type RedemptionStatus string

const (
	RedemptionRequested  RedemptionStatus = "redemption_requested"
	RedemptionApproved   RedemptionStatus = "approved"
	RedemptionProcessing RedemptionStatus = "processing"
	RedemptionPaid       RedemptionStatus = "paid"
	RedemptionFailed     RedemptionStatus = "failed"
	RedemptionReversed   RedemptionStatus = "reversed"
	RedemptionRejected   RedemptionStatus = "rejected"
)

// BankDetails identifies the payout destination
type BankDetails struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name,omitempty"`
}

// Redemption is a withdrawal of wallet credits to an external account.
// While it holds funds, Amount sits in the wallet's pending credits.
type Redemption struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Phone             string           `json:"phone"`
	Amount            int64            `json:"amount"`
	Currency          money.Currency   `json:"currency"`
	Method            RedemptionMethod `json:"method"`
	BankDetails       BankDetails      `json:"bank_details"`
	Status            RedemptionStatus `json:"status"`
	RecipientCode     string           `json:"recipient_code,omitempty"`
	TransferCode      string           `json:"transfer_code,omitempty"`
	TransferReference string           `json:"transfer_reference"`
	PayoutAmount      int64            `json:"payout_amount,omitempty"`
	PayoutCurrency    money.Currency   `json:"payout_currency,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// NewRedemption creates a requested redemption
func NewRedemption(id string, user *User, amount int64, currency money.Currency, method RedemptionMethod, bank BankDetails) (*Redemption, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if user == nil {
		return nil, errors.New("user is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if method != MethodBankAccount && method != MethodMobileWallet {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if bank.AccountNumber == "" || bank.BankCode == "" {
		return nil, errors.New("account number and bank code are required")
	}

	now := time.Now().UTC()
	return &Redemption{
		ID:                id,
		UserID:            user.ID,
		Phone:             user.Phone,
		Amount:            amount,
		Currency:          currency,
		Method:            method,
		BankDetails:       bank,
		Status:            RedemptionRequested,
		TransferReference: id,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Approve gates the redemption for payout
func (r *Redemption) Approve() error {
	if r.Status != RedemptionRequested {
		return r.invalid(RedemptionApproved)
	}
	r.touch(RedemptionApproved)
	return nil
}

// Reject cancels a redemption before any transfer has been initiated.
func (r *Redemption) Reject(reason string) error {
	if r.Status != RedemptionRequested && r.Status != RedemptionApproved {
		return r.invalid(RedemptionRejected)
	}
	r.FailureReason = reason
	r.touch(RedemptionRejected)
	r.complete()
	return nil
}

// CacheRecipient stores the processor recipient code for reuse on retry.
func (r *Redemption) CacheRecipient(code string) {
	r.RecipientCode = code
	r.UpdatedAt = time.Now().UTC()
}

// MarkProcessing records an initiated transfer
func (r *Redemption) MarkProcessing(recipientCode, transferCode string) error {
	if r.Status != RedemptionApproved {
		return r.invalid(RedemptionProcessing)
	}
	r.RecipientCode = recipientCode
	r.TransferCode = transferCode
	r.touch(RedemptionProcessing)
	return nil
}

// MarkPaid records a confirmed payout. A success can arrive before the
// processing write lands, so approved is accepted too.
func (r *Redemption) MarkPaid(amount int64, currency money.Currency) error {
	if r.Status != RedemptionProcessing && r.Status != RedemptionApproved {
		return r.invalid(RedemptionPaid)
	}
	r.PayoutAmount = amount
	r.PayoutCurrency = currency
	r.touch(RedemptionPaid)
	r.complete()
	return nil
}

// MarkFailed records a failed or reversed payout.
func (r *Redemption) MarkFailed(status RedemptionStatus, reason string) error {
	if status != RedemptionFailed && status != RedemptionReversed {
		return r.invalid(status)
	}
	if r.Status != RedemptionProcessing && r.Status != RedemptionApproved {
		return r.invalid(status)
	}
	r.FailureReason = reason
	r.touch(status)
	r.complete()
	return nil
}

// IsTerminal returns true if no further transition is possible
func (r *Redemption) IsTerminal() bool {
	switch r.Status {
	case RedemptionPaid, RedemptionFailed, RedemptionReversed, RedemptionRejected:
		return true
	}
	return false
}

// Validate checks a redemption record read back from the store
func (r *Redemption) Validate() error {
	if r.ID == "" || r.Phone == "" {
		return fmt.Errorf("%w: redemption is missing id or phone", ErrCorruptRecord)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: redemption %s has non-positive amount", ErrCorruptRecord, r.ID)
	}
	switch r.Status {
	case RedemptionRequested, RedemptionApproved, RedemptionProcessing,
		RedemptionPaid, RedemptionFailed, RedemptionReversed, RedemptionRejected:
	default:
		return fmt.Errorf("%w: redemption %s has status %q", ErrCorruptRecord, r.ID, r.Status)
	}
	return nil
}

func (r *Redemption) touch(s RedemptionStatus) {
	r.Status = s
	r.UpdatedAt = time.Now().UTC()
}

func (r *Redemption) complete() {
	now := time.Now().UTC()
	r.CompletedAt = &now
}

func (r *Redemption) invalid(to RedemptionStatus) error {
	return fmt.Errorf("%w: redemption %s cannot move from %s to %s", ErrInvalidTransition, r.ID, r.Status, to)
}
