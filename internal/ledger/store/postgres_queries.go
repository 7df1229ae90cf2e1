package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger/domain"
)

func currencyOf(s *string) money.Currency {
	return money.Currency(deref(s))
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListVouchersBySender lists vouchers a user has sent, newest first
func (s *PostgresStore) ListVouchersBySender(ctx context.Context, senderID string) ([]*domain.Voucher, error) {
	rows, err := s.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE sender_id = $1 ORDER BY created_at DESC`, senderID)
	if err != nil {
		return nil, fmt.Errorf("listing sent vouchers: %w", err)
	}
	return collect(rows, scanVoucher)
}

// ListVouchersByRecipient lists vouchers addressed to a phone, newest first
func (s *PostgresStore) ListVouchersByRecipient(ctx context.Context, phone string) ([]*domain.Voucher, error) {
	rows, err := s.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE recipient_phone = $1 ORDER BY created_at DESC`, phone)
	if err != nil {
		return nil, fmt.Errorf("listing received vouchers: %w", err)
	}
	return collect(rows, scanVoucher)
}

// ListRedemptions lists redemptions matching f, newest first
func (s *PostgresStore) ListRedemptions(ctx context.Context, f RedemptionFilter) ([]*domain.Redemption, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, f.UserID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return collect(rows, scanRedemption)
}

func scanGift(row rowScanner) (*domain.MicroGift, error) {
	var g domain.MicroGift
	err := row.Scan(&g.ID, &g.SenderID, &g.SenderPhone, &g.RecipientPhone, &g.IconID, &g.IconName, &g.Amount, &g.Status, &g.CreatedAt)
	return &g, err
}

// ListGiftsReceived lists micro-gifts sent to a phone, newest first
func (s *PostgresStore) ListGiftsReceived(ctx context.Context, phone string) ([]*domain.MicroGift, error) {
	rows, err := s.db.Query(ctx, `SELECT `+giftColumns+` FROM micro_gifts WHERE recipient_phone = $1 ORDER BY created_at DESC`, phone)
	if err != nil {
		return nil, fmt.Errorf("listing gifts: %w", err)
	}
	return collect(rows, scanGift)
}

// ListUsers lists every user
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return collect(rows, scanUser)
}

// SaveNotification stores an inbox entry
func (s *PostgresStore) SaveNotification(ctx context.Context, n *domain.Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, body, type, related_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Title, n.Body, n.Type, nullStr(n.RelatedID), n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving notification: %w", err)
	}
	return nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var related *string
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type, &related, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.RelatedID = deref(related)
	return &n, nil
}

// ListNotifications lists a user's inbox, newest first
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, body, type, related_id, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return collect(rows, scanNotification)
}

// MarkNotificationRead flags one of a user's notifications as read
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, database.ErrNotFound)
	}
	return nil
}
