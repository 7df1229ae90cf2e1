package ledger

import (
	"context"

	"voucherpay/internal/common/money"
)

// ChargeRequest asks the processor for a hosted payment page
type ChargeRequest struct {
	Email       string
	Amount      int64
	Currency    money.Currency
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

// ChargeSession is an initialized hosted payment page
type ChargeSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// ChargeVerification is the processor's view of a charge
type ChargeVerification struct {
	Reference string
	// Status is "success" once money has moved.
	Status   string
	Amount   int64
	Currency money.Currency
}

// Succeeded reports whether the processor confirmed the charge
func (v *ChargeVerification) Succeeded() bool {
	return v != nil && v.Status == "success"
}

// PayoutRecipientRequest registers a payout destination
type PayoutRecipientRequest struct {
	Type          string
	AccountName   string
	AccountNumber string
	BankCode      string
	Currency      money.Currency
}

// TransferRequest sends money to a registered recipient. Reference is the
// processor-side idempotency key.
type TransferRequest struct {
	RecipientCode string
	Amount        int64
	Currency      money.Currency
	Reason        string
	Reference     string
	Source        string
}

// TransferResult is the processor's acknowledgement of a transfer
type TransferResult struct {
	TransferCode string
	Status       string
}

// PaymentGateway is the card and payout processor
type PaymentGateway interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeSession, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error)
	CreatePayoutRecipient(ctx context.Context, req PayoutRecipientRequest) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}
