package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// Config holds ledger engine configuration
type Config struct {
	// GatewayCurrency is what checkout charges are denominated in.
	GatewayCurrency money.Currency `envconfig:"GATEWAY_CURRENCY" default:"ZAR"`
	CallbackURL     string         `envconfig:"CHECKOUT_CALLBACK_URL"`
	TransferSource  string         `envconfig:"TRANSFER_SOURCE" default:"balance"`
	// BaseRates apply to every pair an admin has not overridden.
	BaseRates exchange.Rates `ignored:"true"`
}

// Identity is the verified caller supplied by the auth layer
type Identity struct {
	UserID string
	Phone  string
}

// Notifier receives best-effort side effects after a commit
type Notifier interface {
	Emit(ctx context.Context, userID, title, body string, typ domain.NotificationType, relatedID string)
	Publish(ctx context.Context, eventType, aggregateType, aggregateID string, data any)
}

// Service runs the voucher, checkout, redemption and gift engines
type Service struct {
	store     store.Store
	gateway   PaymentGateway
	notifier  Notifier
	cfg       Config
	baseRates exchange.Rates
	logger    *slog.Logger
}

// NewService creates a new ledger service
func NewService(st store.Store, gateway PaymentGateway, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.GatewayCurrency == "" {
		cfg.GatewayCurrency = money.Settlement
	}
	if cfg.TransferSource == "" {
		cfg.TransferSource = "balance"
	}
	base := cfg.BaseRates
	if base == nil {
		base = exchange.DefaultRates()
	}
	return &Service{
		store:     st,
		gateway:   gateway,
		notifier:  notifier,
		cfg:       cfg,
		baseRates: base,
		logger:    logger,
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func newID() string {
	return ulid.Make().String()
}

// activeUser loads the caller and checks they may move money.
func (s *Service) activeUser(ctx context.Context, tx store.Tx, caller Identity) (*domain.User, error) {
	u, err := s.caller(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	if !u.IsActive() {
		return nil, fmt.Errorf("user %s is %s: %w", u.ID, u.Status, ErrUserInactive)
	}
	return u, nil
}

func (s *Service) caller(ctx context.Context, tx store.Tx, caller Identity) (*domain.User, error) {
	if caller.UserID == "" {
		return nil, ErrNotRegistered
	}
	u, err := tx.GetUser(ctx, caller.UserID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", caller.UserID, ErrNotRegistered)
		}
		return nil, err
	}
	if caller.Phone != "" && caller.Phone != u.Phone {
		return nil, fmt.Errorf("identity phone does not match user %s: %w", u.ID, ErrForbidden)
	}
	return u, nil
}

// resolveRecipient turns a phone or @handle into the addressing phone. The
// returned user is nil for a phone nobody has registered yet.
func (s *Service) resolveRecipient(ctx context.Context, tx store.Tx, recipient string) (string, *domain.User, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", nil, invalid("recipient is required")
	}

	if isPhone(recipient) {
		u, err := tx.GetUserByPhone(ctx, recipient)
		if err != nil {
			if database.IsNotFound(err) {
				return recipient, nil, nil
			}
			return "", nil, err
		}
		return u.Phone, u, nil
	}

	handle := domain.NormalizeHandle(recipient)
	u, err := tx.GetUserByHandle(ctx, handle)
	if err != nil {
		if database.IsNotFound(err) {
			return "", nil, fmt.Errorf("handle @%s: %w", handle, ErrRecipientNotFound)
		}
		return "", nil, err
	}
	return u.Phone, u, nil
}

func isPhone(s string) bool {
	return strings.HasPrefix(s, "+") && validate.Var(s, "e164") == nil
}

// settledRates reads the settings document and the effective rate table.
func (s *Service) settledRates(ctx context.Context, tx store.Tx) (*domain.Settings, exchange.Rates, error) {
	settings, err := tx.GetSettings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading settings: %w", err)
	}
	return settings, settings.EffectiveRates(s.baseRates), nil
}

// walletFor returns the wallet for phone, or a new empty one in currency.
func walletFor(ctx context.Context, tx store.Tx, phone, userID string, currency money.Currency) (*domain.Wallet, error) {
	w, err := tx.GetWallet(ctx, phone)
	if err == nil {
		if w.Currency == "" {
			w.Currency = currency
		}
		return w, nil
	}
	if database.IsNotFound(err) {
		return domain.NewWallet(phone, userID, currency), nil
	}
	return nil, err
}

// uniqueCode picks a code no delivered voucher for recipientPhone uses.
func uniqueCode(ctx context.Context, tx store.Tx, recipientPhone string) (string, error) {
	const attempts = 10
	for i := 0; i < attempts; i++ {
		code, err := domain.GenerateCode()
		if err != nil {
			return "", err
		}
		_, err = tx.GetVoucherByCode(ctx, recipientPhone, code)
		if database.IsNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("could not allocate a unique voucher code")
}

func recipientCurrency(u *domain.User) money.Currency {
	if u != nil && u.BaseCurrency != "" {
		return u.BaseCurrency
	}
	return money.Settlement
}

func userID(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func parseCurrency(c money.Currency, fallback money.Currency) (money.Currency, error) {
	if c == "" {
		return fallback, nil
	}
	parsed, err := money.ParseCurrency(string(c))
	if err != nil {
		return "", invalid("%v", err)
	}
	return parsed, nil
}
