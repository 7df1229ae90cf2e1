package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"voucherpay/internal/common/database"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the ledger schema up to date.
func Migrate(databaseURL string, logger *slog.Logger) error {
	return database.Migrate(databaseURL, migrations, "migrations", logger)
}

// PostgresStore is the Postgres-backed ledger store. Transactions run at
// serializable isolation and lock the rows they read for update.
type PostgresStore struct {
	db *database.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a new Postgres ledger store
func NewPostgres(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx runs fn in a serializable transaction, retried on conflicts
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

type pgTx struct {
	q database.Querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, database.ErrNotFound)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}

func writeErr(err error, what string) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, database.ErrAlreadyExists)
	}
	return fmt.Errorf("writing %s: %w", what, err)
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Users

const userColumns = `id, phone, full_name, email, handle, base_currency, role, status, sender_balance, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var email, handle *string
	if err := row.Scan(&u.ID, &u.Phone, &u.FullName, &email, &handle, &u.BaseCurrency,
		&u.Role, &u.Status, &u.SenderBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email, u.Handle = deref(email), deref(handle)
	return &u, u.Validate()
}

func (t *pgTx) getUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	row := t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` FOR UPDATE`, arg)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return t.getUser(ctx, `id = $1`, id)
}

func (t *pgTx) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return t.getUser(ctx, `phone = $1`, phone)
}

func (t *pgTx) GetUserByHandle(ctx context.Context, handle string) (*domain.User, error) {
	return t.getUser(ctx, `lower(handle) = lower($1)`, handle)
}

func (t *pgTx) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Phone, u.FullName, nullStr(u.Email), nullStr(u.Handle), u.BaseCurrency,
		u.Role, u.Status, u.SenderBalance, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "user")
	}
	return nil
}

func (t *pgTx) UpdateUser(ctx context.Context, u *domain.User) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users SET full_name = $2, email = $3, handle = $4, base_currency = $5,
			role = $6, status = $7, sender_balance = $8, updated_at = $9
		WHERE id = $1`,
		u.ID, u.FullName, nullStr(u.Email), nullStr(u.Handle), u.BaseCurrency,
		u.Role, u.Status, u.SenderBalance, u.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, database.ErrNotFound)
	}
	return nil
}

// Wallets

func (t *pgTx) GetWallet(ctx context.Context, phone string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := t.q.QueryRow(ctx, `
		SELECT phone, user_id, available_credits, pending_credits, currency, updated_at
		FROM wallets WHERE phone = $1 FOR UPDATE`, phone,
	).Scan(&w.Phone, &w.UserID, &w.AvailableCredits, &w.PendingCredits, &w.Currency, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "wallet")
	}
	return &w, w.Validate()
}

func (t *pgTx) PutWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO wallets (phone, user_id, available_credits, pending_credits, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			available_credits = EXCLUDED.available_credits,
			pending_credits = EXCLUDED.pending_credits,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at`,
		w.Phone, w.UserID, w.AvailableCredits, w.PendingCredits, w.Currency, w.UpdatedAt,
	)
	if err != nil {
		return writeErr(err, "wallet")
	}
	return nil
}

// Vouchers

const voucherColumns = `id, code, sender_id, sender_phone, recipient_phone, amount, recipient_currency,
	original_amount, original_currency, message, status, source, payment_reference,
	redeemed_amount, redeemed_currency, created_at, updated_at, redeemed_at`

func scanVoucher(row rowScanner) (*domain.Voucher, error) {
	var v domain.Voucher
	var message, paymentRef, redeemedCurrency *string
	if err := row.Scan(&v.ID, &v.Code, &v.SenderID, &v.SenderPhone, &v.RecipientPhone, &v.Amount,
		&v.RecipientCurrency, &v.OriginalAmount, &v.OriginalCurrency, &message, &v.Status, &v.Source,
		&paymentRef, &v.RedeemedAmount, &redeemedCurrency, &v.CreatedAt, &v.UpdatedAt, &v.RedeemedAt); err != nil {
		return nil, err
	}
	v.Message = deref(message)
	v.PaymentReference = deref(paymentRef)
	v.RedeemedCurrency = currencyOf(redeemedCurrency)
	return &v, v.Validate()
}

func (t *pgTx) GetVoucher(ctx context.Context, id string) (*domain.Voucher, error) {
	v, err := scanVoucher(t.q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "voucher")
	}
	return v, nil
}

func (t *pgTx) GetVoucherByCode(ctx context.Context, recipientPhone, code string) (*domain.Voucher, error) {
	v, err := scanVoucher(t.q.QueryRow(ctx, `
		SELECT `+voucherColumns+` FROM vouchers
		WHERE recipient_phone = $1 AND code = $2 AND status = 'delivered'
		FOR UPDATE`, recipientPhone, code))
	if err != nil {
		return nil, notFound(err, "voucher")
	}
	return v, nil
}

func (t *pgTx) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO vouchers (`+voucherColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		v.ID, v.Code, v.SenderID, v.SenderPhone, v.RecipientPhone, v.Amount, v.RecipientCurrency,
		v.OriginalAmount, v.OriginalCurrency, nullStr(v.Message), v.Status, v.Source,
		nullStr(v.PaymentReference), v.RedeemedAmount, nullStr(string(v.RedeemedCurrency)),
		v.CreatedAt, v.UpdatedAt, v.RedeemedAt,
	)
	if err != nil {
		return writeErr(err, "voucher")
	}
	return nil
}

func (t *pgTx) UpdateVoucher(ctx context.Context, v *domain.Voucher) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE vouchers SET status = $2, redeemed_amount = $3, redeemed_currency = $4,
			updated_at = $5, redeemed_at = $6
		WHERE id = $1`,
		v.ID, v.Status, v.RedeemedAmount, nullStr(string(v.RedeemedCurrency)), v.UpdatedAt, v.RedeemedAt,
	)
	if err != nil {
		return writeErr(err, "voucher")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("voucher %s: %w", v.ID, database.ErrNotFound)
	}
	return nil
}

// Payments

const paymentColumns = `reference, payer_id, payer_phone, purpose, recipient_phone, message, amount,
	fee_amount, currency, original_amount, original_currency, converted_amount, status,
	authorization_url, voucher_id, created_at, updated_at, settled_at`

func (t *pgTx) GetPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	var p domain.Payment
	var recipient, message, authURL, voucherID *string
	err := t.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, reference).Scan(
		&p.Reference, &p.PayerID, &p.PayerPhone, &p.Purpose, &recipient, &message, &p.Amount,
		&p.FeeAmount, &p.Currency, &p.OriginalAmount, &p.OriginalCurrency, &p.ConvertedAmount, &p.Status,
		&authURL, &voucherID, &p.CreatedAt, &p.UpdatedAt, &p.SettledAt,
	)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	p.RecipientPhone, p.Message = deref(recipient), deref(message)
	p.AuthorizationURL, p.VoucherID = deref(authURL), deref(voucherID)
	return &p, p.Validate()
}

func (t *pgTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.Reference, p.PayerID, p.PayerPhone, p.Purpose, nullStr(p.RecipientPhone), nullStr(p.Message),
		p.Amount, p.FeeAmount, p.Currency, p.OriginalAmount, p.OriginalCurrency, p.ConvertedAmount,
		p.Status, nullStr(p.AuthorizationURL), nullStr(p.VoucherID), p.CreatedAt, p.UpdatedAt, p.SettledAt,
	)
	if err != nil {
		return writeErr(err, "payment")
	}
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE payments SET amount = $2, converted_amount = $3, status = $4, authorization_url = $5,
			voucher_id = $6, updated_at = $7, settled_at = $8
		WHERE reference = $1`,
		p.Reference, p.Amount, p.ConvertedAmount, p.Status, nullStr(p.AuthorizationURL),
		nullStr(p.VoucherID), p.UpdatedAt, p.SettledAt,
	)
	if err != nil {
		return writeErr(err, "payment")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", p.Reference, database.ErrNotFound)
	}
	return nil
}

// Redemptions

const redemptionColumns = `id, user_id, phone, amount, currency, method, bank_details, status,
	recipient_code, transfer_code, transfer_reference, payout_amount, payout_currency,
	failure_reason, created_at, updated_at, completed_at`

func scanRedemption(row rowScanner) (*domain.Redemption, error) {
	var r domain.Redemption
	var bank []byte
	var recipientCode, transferCode, payoutCurrency, reason *string
	if err := row.Scan(&r.ID, &r.UserID, &r.Phone, &r.Amount, &r.Currency, &r.Method, &bank, &r.Status,
		&recipientCode, &transferCode, &r.TransferReference, &r.PayoutAmount, &payoutCurrency,
		&reason, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bank, &r.BankDetails); err != nil {
		return nil, fmt.Errorf("%w: redemption %s bank details: %v", domain.ErrCorruptRecord, r.ID, err)
	}
	r.RecipientCode, r.TransferCode = deref(recipientCode), deref(transferCode)
	r.PayoutCurrency = currencyOf(payoutCurrency)
	r.FailureReason = deref(reason)
	return &r, r.Validate()
}

func (t *pgTx) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	r, err := scanRedemption(t.q.QueryRow(ctx, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "redemption")
	}
	return r, nil
}

func (t *pgTx) CreateRedemption(ctx context.Context, r *domain.Redemption) error {
	bank, err := json.Marshal(r.BankDetails)
	if err != nil {
		return fmt.Errorf("encoding bank details: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID, r.UserID, r.Phone, r.Amount, r.Currency, r.Method, bank, r.Status,
		nullStr(r.RecipientCode), nullStr(r.TransferCode), r.TransferReference, r.PayoutAmount,
		nullStr(string(r.PayoutCurrency)), nullStr(r.FailureReason), r.CreatedAt, r.UpdatedAt, r.CompletedAt,
	)
	if err != nil {
		return writeErr(err, "redemption")
	}
	return nil
}

func (t *pgTx) UpdateRedemption(ctx context.Context, r *domain.Redemption) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE redemptions SET status = $2, recipient_code = $3, transfer_code = $4,
			payout_amount = $5, payout_currency = $6, failure_reason = $7,
			updated_at = $8, completed_at = $9
		WHERE id = $1`,
		r.ID, r.Status, nullStr(r.RecipientCode), nullStr(r.TransferCode), r.PayoutAmount,
		nullStr(string(r.PayoutCurrency)), nullStr(r.FailureReason), r.UpdatedAt, r.CompletedAt,
	)
	if err != nil {
		return writeErr(err, "redemption")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("redemption %s: %w", r.ID, database.ErrNotFound)
	}
	return nil
}

// Micro-gifts

const giftColumns = `id, sender_id, sender_phone, recipient_phone, icon_id, icon_name, amount, status, created_at`

func (t *pgTx) CreateMicroGift(ctx context.Context, g *domain.MicroGift) error {
	_, err := t.q.Exec(ctx, `INSERT INTO micro_gifts (`+giftColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.SenderID, g.SenderPhone, g.RecipientPhone, g.IconID, g.IconName, g.Amount, g.Status, g.CreatedAt,
	)
	if err != nil {
		return writeErr(err, "micro gift")
	}
	return nil
}

// Settings

func (t *pgTx) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var rates, fees []byte
	s := domain.DefaultSettings()
	err := t.q.QueryRow(ctx, `SELECT rates, fees, updated_at FROM settings WHERE id = 1`).Scan(&rates, &fees, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := json.Unmarshal(rates, &s.Rates); err != nil {
		return nil, fmt.Errorf("%w: settings rates: %v", domain.ErrCorruptRecord, err)
	}
	if err := json.Unmarshal(fees, &s.Fees); err != nil {
		return nil, fmt.Errorf("%w: settings fees: %v", domain.ErrCorruptRecord, err)
	}
	if s.Rates == nil {
		s.Rates = exchange.Rates{}
	}
	return s, nil
}

func (t *pgTx) PutSettings(ctx context.Context, s *domain.Settings) error {
	rates, err := json.Marshal(s.Rates)
	if err != nil {
		return fmt.Errorf("encoding rates: %w", err)
	}
	fees, err := json.Marshal(s.Fees)
	if err != nil {
		return fmt.Errorf("encoding fees: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO settings (id, rates, fees, updated_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET rates = EXCLUDED.rates, fees = EXCLUDED.fees, updated_at = EXCLUDED.updated_at`,
		rates, fees, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
