package ledger

import (
	"context"
	"fmt"
	"time"

	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// RatesView is the rate table an admin sees
type RatesView struct {
	// Effective is what conversions use right now.
	Effective exchange.Rates `json:"effective"`
	// Overrides are the pairs an admin has set.
	Overrides exchange.Rates `json:"overrides"`
}

// GetExchangeRates returns the effective rate table and the stored overrides
func (s *Service) GetExchangeRates(ctx context.Context) (*RatesView, error) {
	var view *RatesView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		settings, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		view = &RatesView{Effective: rates, Overrides: settings.Rates.Clone()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateExchangeRates merges rate overrides. Every supplied rate must be a
// positive number on a well-formed pair; otherwise nothing is saved.
func (s *Service) UpdateExchangeRates(ctx context.Context, rates exchange.Rates) (*RatesView, error) {
	if len(rates) == 0 {
		return nil, invalid("at least one rate is required")
	}
	if err := rates.Validate(); err != nil {
		return nil, invalid("%v", err)
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		settings.Rates = settings.Rates.Merge(rates)
		settings.UpdatedAt = time.Now().UTC()
		return tx.PutSettings(ctx, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("updating exchange rates: %w", err)
	}
	s.logger.Info("exchange rates updated", "pairs", len(rates))
	return s.GetExchangeRates(ctx)
}

// GetFees returns the fee schedule
func (s *Service) GetFees(ctx context.Context) (domain.Fees, error) {
	var fees domain.Fees
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		fees = settings.Fees
		return nil
	})
	return fees, err
}

// UpdateFees replaces the fee schedule
func (s *Service) UpdateFees(ctx context.Context, fees domain.Fees) (domain.Fees, error) {
	if err := fees.Validate(); err != nil {
		return domain.Fees{}, invalid("%v", err)
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		settings.Fees = fees
		settings.UpdatedAt = time.Now().UTC()
		return tx.PutSettings(ctx, settings)
	})
	if err != nil {
		return domain.Fees{}, fmt.Errorf("updating fees: %w", err)
	}
	s.logger.Info("fees updated",
		"checkout_fee_bps", fees.CheckoutFeeBps,
		"checkout_flat_fee", fees.CheckoutFlatFee,
		"conversion_fee_bps", fees.ConversionFeeBps,
	)
	return fees, nil
}

// BroadcastRequest is an announcement to every user
type BroadcastRequest struct {
	Title string `json:"title" validate:"required,max=120"`
	Body  string `json:"body" validate:"required,max=1000"`
}

// Broadcast sends one notification per user and returns how many were sent.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (int, error) {
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		s.notifier.Emit(ctx, u.ID, req.Title, req.Body, domain.NotifyBroadcast, "")
	}
	s.logger.Info("broadcast sent", "recipients", len(users))
	return len(users), nil
}

// ListNotifications returns the caller's newest notifications
func (s *Service) ListNotifications(ctx context.Context, caller Identity, limit int) ([]*domain.Notification, error) {
	if caller.UserID == "" {
		return nil, ErrNotRegistered
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListNotifications(ctx, caller.UserID, limit)
}

// MarkNotificationRead marks one of the caller's notifications read
func (s *Service) MarkNotificationRead(ctx context.Context, caller Identity, id string) error {
	if caller.UserID == "" {
		return ErrNotRegistered
	}
	return s.store.MarkNotificationRead(ctx, caller.UserID, id)
}

// HealthCheck checks the ledger store
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
