package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Nothing has been written.
	ErrValidation = errors.New("validation failed")
	// ErrSelfSend is returned when sender and recipient resolve to the same phone.
	ErrSelfSend = errors.New("cannot send to yourself")
	// ErrRecipientNotFound is returned when a handle does not resolve.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrInsufficientFunds is returned when balances cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyRedeemed is returned on a second redeem of the same voucher.
	ErrAlreadyRedeemed = errors.New("voucher already redeemed")
	// ErrInvalidState is returned when a record is not in a status the
	// operation can start from.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrNotRegistered is returned when the caller has no user record.
	ErrNotRegistered = errors.New("user not registered")
	// ErrAlreadyRegistered is returned when registering an existing user.
	ErrAlreadyRegistered = errors.New("user already registered")
	// ErrUserInactive is returned for blocked or banned users.
	ErrUserInactive = errors.New("user is not active")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
	// ErrHandleTaken is returned when a handle is already in use.
	ErrHandleTaken = errors.New("handle already taken")
	// ErrGateway wraps payment processor failures. The caller may retry.
	ErrGateway = errors.New("payment gateway unavailable")
	// ErrPaymentNotConfirmed is returned when the processor has not
	// confirmed a charge.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrRedemptionInFlight blocks a base currency change while credits
	// are reserved for a payout.
	ErrRedemptionInFlight = errors.New("a withdrawal is in progress")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
