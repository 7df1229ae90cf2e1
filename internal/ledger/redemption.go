package ledger

import (
	"context"
	"errors"
	"fmt"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// RedemptionRequest withdraws wallet credits to a bank or mobile wallet
type RedemptionRequest struct {
	// Amount is in the wallet currency's minor units.
	Amount      int64                   `json:"amount" validate:"gt=0"`
	Method      domain.RedemptionMethod `json:"method" validate:"required,oneof=bank_account mobile_wallet"`
	BankDetails domain.BankDetails      `json:"bank_details"`
}

// RequestRedemption reserves credits for a payout. The credits move from
// available to pending in the same transaction that creates the request.
func (s *Service) RequestRedemption(ctx context.Context, caller Identity, req RedemptionRequest) (*domain.Redemption, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.BankDetails.AccountNumber == "" || req.BankDetails.BankCode == "" {
		return nil, invalid("account_number and bank_code are required")
	}

	var redemption *domain.Redemption
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := s.activeUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		wallet, err := walletFor(ctx, tx, user.Phone, user.ID, user.BaseCurrency)
		if err != nil {
			return err
		}
		if err := wallet.Reserve(req.Amount); err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}
		r, err := domain.NewRedemption(newID(), user, req.Amount, wallet.Currency, req.Method, req.BankDetails)
		if err != nil {
			return invalid("%v", err)
		}
		if err := tx.PutWallet(ctx, wallet); err != nil {
			return err
		}
		if err := tx.CreateRedemption(ctx, r); err != nil {
			return err
		}
		redemption = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("requesting redemption: %w", err)
	}

	s.logger.Info("redemption requested",
		"redemption_id", redemption.ID,
		"user_id", redemption.UserID,
		"amount", redemption.Amount,
		"currency", redemption.Currency,
	)
	s.redemptionEvent(ctx, events.EventRedemptionRequested, redemption)
	s.notifier.Emit(ctx, redemption.UserID, "Withdrawal requested",
		fmt.Sprintf("Your withdrawal of %s is awaiting approval", money.Format(redemption.Amount, redemption.Currency)),
		domain.NotifyRedemptionUpdate, redemption.ID)
	return redemption, nil
}

// ApproveRedemption gates a request for payout. Approving a redemption
// that is already approved or further along is a no-op.
func (s *Service) ApproveRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	var redemption *domain.Redemption
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		redemption = r
		switch r.Status {
		case domain.RedemptionApproved, domain.RedemptionProcessing, domain.RedemptionPaid:
			return nil
		case domain.RedemptionRequested:
		default:
			return fmt.Errorf("redemption %s is %s: %w", id, r.Status, ErrInvalidState)
		}
		if err := r.Approve(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		changed = true
		return tx.UpdateRedemption(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("approving redemption: %w", err)
	}
	if changed {
		s.logger.Info("redemption approved", "redemption_id", id)
		s.redemptionEvent(ctx, events.EventRedemptionApproved, redemption)
	}
	return redemption, nil
}

// RejectRedemption cancels a request that has not been submitted to the
// processor and returns the reserved credits.
func (s *Service) RejectRedemption(ctx context.Context, id, reason string) (*domain.Redemption, error) {
	var redemption *domain.Redemption
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		redemption = r
		if r.Status == domain.RedemptionRejected {
			return nil
		}
		if err := r.Reject(reason); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if err := s.releaseReserved(ctx, tx, r); err != nil {
			return err
		}
		changed = true
		return tx.UpdateRedemption(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("rejecting redemption: %w", err)
	}
	if changed {
		s.logger.Info("redemption rejected", "redemption_id", id, "reason", reason)
		s.redemptionEvent(ctx, events.EventRedemptionRejected, redemption)
		s.notifier.Emit(ctx, redemption.UserID, "Withdrawal rejected",
			fmt.Sprintf("Your withdrawal of %s was rejected and the credits returned", money.Format(redemption.Amount, redemption.Currency)),
			domain.NotifyRedemptionUpdate, redemption.ID)
	}
	return redemption, nil
}

// InitiateTransfer submits an approved redemption to the processor. The
// status only advances after the processor has accepted the transfer; a
// processor failure leaves the redemption approved so it can be retried.
func (s *Service) InitiateTransfer(ctx context.Context, id string) (*domain.Redemption, error) {
	var redemption *domain.Redemption
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		redemption, err = tx.GetRedemption(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initiating transfer: %w", err)
	}
	switch redemption.Status {
	case domain.RedemptionProcessing, domain.RedemptionPaid:
		return redemption, nil
	case domain.RedemptionApproved:
	default:
		return nil, fmt.Errorf("redemption %s is %s, not approved: %w", id, redemption.Status, ErrInvalidState)
	}

	recipientCode := redemption.RecipientCode
	if recipientCode == "" {
		recipientCode, err = s.gateway.CreatePayoutRecipient(ctx, PayoutRecipientRequest{
			Type:          payoutType(redemption.Method, redemption.Currency),
			AccountName:   redemption.BankDetails.AccountName,
			AccountNumber: redemption.BankDetails.AccountNumber,
			BankCode:      redemption.BankDetails.BankCode,
			Currency:      redemption.Currency,
		})
		if err != nil {
			s.logger.Error("payout recipient failed", "redemption_id", id, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		if err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			r, err := tx.GetRedemption(ctx, id)
			if err != nil {
				return err
			}
			r.CacheRecipient(recipientCode)
			return tx.UpdateRedemption(ctx, r)
		}); err != nil {
			s.logger.Warn("caching recipient code failed", "redemption_id", id, "error", err)
		}
	}

	transfer, err := s.gateway.InitiateTransfer(ctx, TransferRequest{
		RecipientCode: recipientCode,
		Amount:        redemption.Amount,
		Currency:      redemption.Currency,
		Reason:        "Voucher credit withdrawal",
		Reference:     redemption.TransferReference,
		Source:        s.cfg.TransferSource,
	})
	if err != nil {
		s.logger.Error("transfer initiation failed", "redemption_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		redemption = r
		if r.Status != domain.RedemptionApproved {
			// A webhook finished the transfer first.
			return nil
		}
		if err := r.MarkProcessing(recipientCode, transfer.TransferCode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return tx.UpdateRedemption(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("recording transfer: %w", err)
	}

	s.logger.Info("transfer initiated",
		"redemption_id", id,
		"transfer_code", transfer.TransferCode,
		"status", redemption.Status,
	)
	s.redemptionEvent(ctx, events.EventRedemptionSubmitted, redemption)
	return redemption, nil
}

// ApproveAndTransfer approves a request and submits it in one call.
func (s *Service) ApproveAndTransfer(ctx context.Context, id string) (*domain.Redemption, error) {
	if _, err := s.ApproveRedemption(ctx, id); err != nil {
		return nil, err
	}
	return s.InitiateTransfer(ctx, id)
}

// CompleteTransfer records a successful payout. The debit happened at
// request time so only the pending reservation is dropped. Replays are
// no-ops.
func (s *Service) CompleteTransfer(ctx context.Context, reference string, amount int64, currency money.Currency) (*domain.Redemption, error) {
	var redemption *domain.Redemption
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRedemption(ctx, reference)
		if err != nil {
			return err
		}
		redemption = r
		if r.IsTerminal() {
			return nil
		}
		if amount <= 0 {
			amount = r.Amount
		}
		if currency == "" {
			currency = r.Currency
		}
		if err := r.MarkPaid(amount, currency); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		wallet, err := tx.GetWallet(ctx, r.Phone)
		if err != nil {
			return err
		}
		wallet.Settle(r.Amount)
		if err := tx.PutWallet(ctx, wallet); err != nil {
			return err
		}
		changed = true
		return tx.UpdateRedemption(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("completing transfer %s: %w", reference, err)
	}
	if !changed {
		s.logger.Info("transfer already settled", "redemption_id", reference, "status", redemption.Status)
		return redemption, nil
	}

	s.logger.Info("redemption paid",
		"redemption_id", reference,
		"payout_amount", redemption.PayoutAmount,
		"payout_currency", redemption.PayoutCurrency,
	)
	s.redemptionEvent(ctx, events.EventRedemptionPaid, redemption)
	s.notifier.Emit(ctx, redemption.UserID, "Withdrawal paid",
		fmt.Sprintf("%s is on its way to your account", money.Format(redemption.PayoutAmount, redemption.PayoutCurrency)),
		domain.NotifyRedemptionUpdate, redemption.ID)
	return redemption, nil
}

// FailTransfer records a failed or reversed payout and refunds the
// reserved credits. Replays are no-ops.
func (s *Service) FailTransfer(ctx context.Context, reference string, status domain.RedemptionStatus, reason string) (*domain.Redemption, error) {
	if status != domain.RedemptionFailed && status != domain.RedemptionReversed {
		return nil, invalid("status must be failed or reversed")
	}

	var redemption *domain.Redemption
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRedemption(ctx, reference)
		if err != nil {
			return err
		}
		redemption = r
		if r.IsTerminal() {
			return nil
		}
		if err := r.MarkFailed(status, reason); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if err := s.releaseReserved(ctx, tx, r); err != nil {
			return err
		}
		changed = true
		return tx.UpdateRedemption(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("failing transfer %s: %w", reference, err)
	}
	if !changed {
		s.logger.Info("transfer already settled", "redemption_id", reference, "status", redemption.Status)
		return redemption, nil
	}

	s.logger.Warn("redemption failed",
		"redemption_id", reference,
		"status", status,
		"reason", reason,
	)
	s.redemptionEvent(ctx, events.EventRedemptionFailed, redemption)
	s.notifier.Emit(ctx, redemption.UserID, "Withdrawal failed",
		fmt.Sprintf("Your withdrawal of %s did not go through and the credits were returned", money.Format(redemption.Amount, redemption.Currency)),
		domain.NotifyRedemptionUpdate, redemption.ID)
	return redemption, nil
}

// releaseReserved returns r.Amount from pending to available.
func (s *Service) releaseReserved(ctx context.Context, tx store.Tx, r *domain.Redemption) error {
	wallet, err := tx.GetWallet(ctx, r.Phone)
	if err != nil {
		return err
	}
	wallet.Release(r.Amount)
	return tx.PutWallet(ctx, wallet)
}

// ListMyRedemptions lists the caller's redemptions
func (s *Service) ListMyRedemptions(ctx context.Context, caller Identity) ([]*domain.Redemption, error) {
	if caller.UserID == "" {
		return nil, ErrNotRegistered
	}
	return s.store.ListRedemptions(ctx, store.RedemptionFilter{UserID: caller.UserID})
}

// ListRedemptions lists redemptions for the admin queue
func (s *Service) ListRedemptions(ctx context.Context, status domain.RedemptionStatus) ([]*domain.Redemption, error) {
	return s.store.ListRedemptions(ctx, store.RedemptionFilter{Status: status})
}

func (s *Service) redemptionEvent(ctx context.Context, eventType string, r *domain.Redemption) {
	s.notifier.Publish(ctx, eventType, "redemption", r.ID, events.RedemptionData{
		RedemptionID: r.ID,
		UserID:       r.UserID,
		Amount:       r.Amount,
		Currency:     string(r.Currency),
		Status:       string(r.Status),
		Reason:       r.FailureReason,
	})
}

// payoutType maps a method and currency to the processor recipient type.
func payoutType(m domain.RedemptionMethod, c money.Currency) string {
	if m == domain.MethodMobileWallet {
		return "mobile_money"
	}
	switch c {
	case money.ZAR:
		return "basa"
	case money.GHS:
		return "ghipss"
	default:
		return "nuban"
	}
}
