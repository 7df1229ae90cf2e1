package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"voucherpay/internal/common/money"
)

// Role represents what a user does in the app
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
	RoleAdmin     Role = "admin"
)

// UserStatus represents the account standing of a user
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
	UserStatusBanned  UserStatus = "banned"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusBlocked, UserStatusBanned:
		return true
	}
	return false
}

// User is an app user. SenderBalance is the preloaded sending pool in USD
// cents; the redeemed pool lives on the user's Wallet in BaseCurrency.
type User struct {
	ID            string         `json:"id"`
	Phone         string         `json:"phone"`
	FullName      string         `json:"full_name"`
	Email         string         `json:"email,omitempty"`
	Handle        string         `json:"handle,omitempty"`
	BaseCurrency  money.Currency `json:"base_currency"`
	Role          Role           `json:"role"`
	Status        UserStatus     `json:"status"`
	SenderBalance int64          `json:"sender_balance"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SenderBalanceCurrency is the denomination of User.SenderBalance.
const SenderBalanceCurrency = money.USD

// NewUser creates a new active user
func NewUser(id, phone, fullName string, baseCurrency money.Currency) (*User, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if phone == "" {
		return nil, errors.New("phone is required")
	}
	if baseCurrency == "" {
		baseCurrency = money.Settlement
	}
	if !baseCurrency.IsSupported() {
		return nil, fmt.Errorf("unsupported base currency %s", baseCurrency)
	}

	now := time.Now().UTC()
	return &User{
		ID:           id,
		Phone:        phone,
		FullName:     fullName,
		BaseCurrency: baseCurrency,
		Role:         RoleSender,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsActive returns true if the user may move money
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// DebitSenderBalance removes cents from the sending pool.
func (u *User) DebitSenderBalance(cents int64) error {
	if cents < 0 {
		return errors.New("debit must not be negative")
	}
	if cents > u.SenderBalance {
		return ErrInsufficientBalance
	}
	u.SenderBalance -= cents
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// CreditSenderBalance adds cents to the sending pool.
func (u *User) CreditSenderBalance(cents int64) error {
	if cents < 0 {
		return errors.New("credit must not be negative")
	}
	u.SenderBalance += cents
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks a user record read back from the store
func (u *User) Validate() error {
	if u.ID == "" || u.Phone == "" {
		return fmt.Errorf("%w: user is missing id or phone", ErrCorruptRecord)
	}
	if u.SenderBalance < 0 {
		return fmt.Errorf("%w: user %s has negative sender balance", ErrCorruptRecord, u.ID)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("%w: user %s has status %q", ErrCorruptRecord, u.ID, u.Status)
	}
	return nil
}

// NormalizeHandle lowercases a handle and strips a leading @.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// Wallet holds redeemed credits for one phone in the owner's base currency
type Wallet struct {
	Phone            string         `json:"phone"`
	UserID           string         `json:"user_id"`
	AvailableCredits int64          `json:"available_credits"`
	PendingCredits   int64          `json:"pending_credits"`
	Currency         money.Currency `json:"currency"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewWallet creates an empty wallet
func NewWallet(phone, userID string, currency money.Currency) *Wallet {
	return &Wallet{
		Phone:     phone,
		UserID:    userID,
		Currency:  currency,
		UpdatedAt: time.Now().UTC(),
	}
}

// Credit adds to available credits
func (w *Wallet) Credit(amount int64) {
	w.AvailableCredits += amount
	w.UpdatedAt = time.Now().UTC()
}

// Debit removes from available credits
func (w *Wallet) Debit(amount int64) error {
	if amount > w.AvailableCredits {
		return ErrInsufficientBalance
	}
	w.AvailableCredits -= amount
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Reserve moves amount from available into pending for a payout
func (w *Wallet) Reserve(amount int64) error {
	if err := w.Debit(amount); err != nil {
		return err
	}
	w.PendingCredits += amount
	return nil
}

// Release returns a reserved amount to available credits
func (w *Wallet) Release(amount int64) {
	w.Settle(amount)
	w.AvailableCredits += amount
}

// Settle drops a reserved amount once the payout has left the system
func (w *Wallet) Settle(amount int64) {
	w.PendingCredits -= amount
	if w.PendingCredits < 0 {
		w.PendingCredits = 0
	}
	w.UpdatedAt = time.Now().UTC()
}

// Validate checks a wallet record read back from the store
func (w *Wallet) Validate() error {
	if w.Phone == "" {
		return fmt.Errorf("%w: wallet is missing phone", ErrCorruptRecord)
	}
	if w.AvailableCredits < 0 || w.PendingCredits < 0 {
		return fmt.Errorf("%w: wallet %s has a negative balance", ErrCorruptRecord, w.Phone)
	}
	return nil
}
