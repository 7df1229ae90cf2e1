// Package store defines the transactional ledger store used by the engines
// and its Postgres implementation.
package store

import (
	"context"

	"voucherpay/internal/ledger/domain"
)

// Tx is a read-modify-write unit of work. Every read inside a Tx sees the
// latest committed state and every write commits or rolls back together.
// Get methods return database.ErrNotFound for missing records.
type Tx interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, u *domain.User) error

	GetWallet(ctx context.Context, phone string) (*domain.Wallet, error)
	PutWallet(ctx context.Context, w *domain.Wallet) error

	GetVoucher(ctx context.Context, id string) (*domain.Voucher, error)
	GetVoucherByCode(ctx context.Context, recipientPhone, code string) (*domain.Voucher, error)
	CreateVoucher(ctx context.Context, v *domain.Voucher) error
	UpdateVoucher(ctx context.Context, v *domain.Voucher) error

	GetPayment(ctx context.Context, reference string) (*domain.Payment, error)
	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error

	GetRedemption(ctx context.Context, id string) (*domain.Redemption, error)
	CreateRedemption(ctx context.Context, r *domain.Redemption) error
	UpdateRedemption(ctx context.Context, r *domain.Redemption) error

	CreateMicroGift(ctx context.Context, g *domain.MicroGift) error

	// GetSettings returns default settings when none have been saved.
	GetSettings(ctx context.Context) (*domain.Settings, error)
	PutSettings(ctx context.Context, s *domain.Settings) error
}

// RedemptionFilter narrows ListRedemptions. Zero fields match everything.
type RedemptionFilter struct {
	UserID string
	Status domain.RedemptionStatus
}

// Store is the ledger store
type Store interface {
	// WithTx runs fn atomically. fn may be invoked more than once when the
	// backend retries a conflicting transaction, so it must not have side
	// effects outside tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListVouchersBySender(ctx context.Context, senderID string) ([]*domain.Voucher, error)
	ListVouchersByRecipient(ctx context.Context, phone string) ([]*domain.Voucher, error)
	ListRedemptions(ctx context.Context, f RedemptionFilter) ([]*domain.Redemption, error)
	ListGiftsReceived(ctx context.Context, phone string) ([]*domain.MicroGift, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)

	SaveNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error

	HealthCheck(ctx context.Context) error
}
