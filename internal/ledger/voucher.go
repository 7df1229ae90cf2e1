package ledger

import (
	"context"
	"errors"
	"fmt"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// SendVoucherRequest is the request to send a voucher from balances
type SendVoucherRequest struct {
	// Recipient is an E.164 phone or a handle.
	Recipient string `json:"recipient" validate:"required"`
	// Amount is in minor units of Currency.
	Amount   int64          `json:"amount" validate:"gt=0"`
	Currency money.Currency `json:"currency" validate:"omitempty,len=3"`
	Message  string         `json:"message" validate:"max=280"`
}

// SendVoucher debits the sender's balances and creates a delivered voucher.
// The sender balance is spent first and any shortfall comes out of the
// sender's wallet credits at the current rate.
func (s *Service) SendVoucher(ctx context.Context, caller Identity, req SendVoucherRequest) (*domain.Voucher, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	currency, err := parseCurrency(req.Currency, domain.SenderBalanceCurrency)
	if err != nil {
		return nil, err
	}

	var voucher *domain.Voucher
	var recipient *domain.User
	var debitedCredits int64
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sender, err := s.activeUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		phone, ru, err := s.resolveRecipient(ctx, tx, req.Recipient)
		if err != nil {
			return err
		}
		if phone == sender.Phone || (ru != nil && ru.ID == sender.ID) {
			return ErrSelfSend
		}
		recipient = ru

		_, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		amountUSD, err := exchange.ConvertMinor(req.Amount, currency, domain.SenderBalanceCurrency, rates)
		if err != nil {
			return err
		}
		if amountUSD <= 0 {
			return invalid("amount is below one cent")
		}

		wallet, err := walletFor(ctx, tx, sender.Phone, sender.ID, sender.BaseCurrency)
		if err != nil {
			return err
		}
		debitedCredits, err = debitBalances(sender, wallet, amountUSD, rates)
		if err != nil {
			return err
		}

		amount, err := exchange.ConvertMinor(amountUSD, domain.SenderBalanceCurrency, money.Settlement, rates)
		if err != nil {
			return err
		}
		code, err := uniqueCode(ctx, tx, phone)
		if err != nil {
			return err
		}
		v, err := domain.NewVoucher(newID(), code, sender, phone, amount, recipientCurrency(ru), domain.SourceBalance)
		if err != nil {
			return invalid("%v", err)
		}
		v.OriginalAmount = req.Amount
		v.OriginalCurrency = currency
		v.Message = req.Message

		if err := tx.UpdateUser(ctx, sender); err != nil {
			return err
		}
		if debitedCredits > 0 {
			if err := tx.PutWallet(ctx, wallet); err != nil {
				return err
			}
		}
		if err := tx.CreateVoucher(ctx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sending voucher: %w", err)
	}

	s.logger.Info("voucher sent",
		"voucher_id", voucher.ID,
		"sender_id", voucher.SenderID,
		"amount", voucher.Amount,
		"original_amount", voucher.OriginalAmount,
		"original_currency", voucher.OriginalCurrency,
		"credits_used", debitedCredits,
	)
	s.voucherCreated(ctx, voucher)
	s.notifier.Emit(ctx, userID(recipient), "You received a voucher",
		fmt.Sprintf("%s sent you %s", voucher.SenderPhone, money.Format(voucher.Amount, money.Settlement)),
		domain.NotifyVoucherReceived, voucher.ID)

	return voucher, nil
}

// debitBalances takes amountUSD from the sender balance first and the rest
// from wallet credits. It returns the credits debited.
func debitBalances(sender *domain.User, wallet *domain.Wallet, amountUSD int64, rates exchange.Rates) (int64, error) {
	fromBalance := min(sender.SenderBalance, amountUSD)
	shortfall := amountUSD - fromBalance

	var credits int64
	if shortfall > 0 {
		if wallet.AvailableCredits <= 0 {
			return 0, ErrInsufficientFunds
		}
		creditsUSD, err := exchange.ConvertMinor(wallet.AvailableCredits, wallet.Currency, domain.SenderBalanceCurrency, rates)
		if err != nil {
			return 0, err
		}
		if creditsUSD < shortfall {
			return 0, ErrInsufficientFunds
		}
		credits, err = exchange.ConvertMinor(shortfall, domain.SenderBalanceCurrency, wallet.Currency, rates)
		if err != nil {
			return 0, err
		}
		credits = min(credits, wallet.AvailableCredits)
		if err := wallet.Debit(credits); err != nil {
			return 0, ErrInsufficientFunds
		}
	}

	if err := sender.DebitSenderBalance(fromBalance); err != nil {
		return 0, ErrInsufficientFunds
	}
	return credits, nil
}

// RedeemResult is a redeemed voucher and the wallet it was credited to
type RedeemResult struct {
	Voucher *domain.Voucher `json:"voucher"`
	Wallet  *domain.Wallet  `json:"wallet"`
}

// RedeemVoucher credits a delivered voucher to the caller's wallet exactly
// once. A second call fails with ErrAlreadyRedeemed.
func (s *Service) RedeemVoucher(ctx context.Context, caller Identity, voucherID string) (*RedeemResult, error) {
	return s.redeem(ctx, caller, func(ctx context.Context, tx store.Tx, _ *domain.User) (*domain.Voucher, error) {
		return tx.GetVoucher(ctx, voucherID)
	})
}

// RedeemVoucherByCode redeems the caller's delivered voucher with code.
func (s *Service) RedeemVoucherByCode(ctx context.Context, caller Identity, code string) (*RedeemResult, error) {
	if len(code) != domain.CodeLength {
		return nil, invalid("code must be %d digits", domain.CodeLength)
	}
	return s.redeem(ctx, caller, func(ctx context.Context, tx store.Tx, u *domain.User) (*domain.Voucher, error) {
		return tx.GetVoucherByCode(ctx, u.Phone, code)
	})
}

type voucherLookup func(ctx context.Context, tx store.Tx, u *domain.User) (*domain.Voucher, error)

func (s *Service) redeem(ctx context.Context, caller Identity, lookup voucherLookup) (*RedeemResult, error) {
	var result *RedeemResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := s.activeUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		v, err := lookup(ctx, tx, user)
		if err != nil {
			return err
		}
		if v.RecipientPhone != user.Phone {
			return fmt.Errorf("voucher %s: %w", v.ID, ErrForbidden)
		}
		if v.Status != domain.VoucherDelivered {
			return fmt.Errorf("voucher %s: %w", v.ID, ErrAlreadyRedeemed)
		}

		wallet, err := walletFor(ctx, tx, user.Phone, user.ID, user.BaseCurrency)
		if err != nil {
			return err
		}
		_, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		credit, err := exchange.ConvertMinor(v.Amount, money.Settlement, wallet.Currency, rates)
		if err != nil {
			return err
		}

		if err := v.Redeem(credit, wallet.Currency); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return ErrAlreadyRedeemed
			}
			return err
		}
		wallet.Credit(credit)

		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		if err := tx.PutWallet(ctx, wallet); err != nil {
			return err
		}
		result = &RedeemResult{Voucher: v, Wallet: wallet}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redeeming voucher: %w", err)
	}

	v := result.Voucher
	s.logger.Info("voucher redeemed",
		"voucher_id", v.ID,
		"recipient_phone", v.RecipientPhone,
		"credited", v.RedeemedAmount,
		"currency", v.RedeemedCurrency,
	)
	s.notifier.Publish(ctx, events.EventVoucherRedeemed, "voucher", v.ID, events.VoucherData{
		VoucherID:      v.ID,
		SenderID:       v.SenderID,
		RecipientPhone: v.RecipientPhone,
		Amount:         v.RedeemedAmount,
		Currency:       string(v.RedeemedCurrency),
	})
	s.notifier.Emit(ctx, v.SenderID, "Your voucher was redeemed",
		fmt.Sprintf("%s redeemed your %s voucher", v.RecipientPhone, money.Format(v.Amount, money.Settlement)),
		domain.NotifyVoucherRedeemed, v.ID)

	return result, nil
}

func (s *Service) voucherCreated(ctx context.Context, v *domain.Voucher) {
	s.notifier.Publish(ctx, events.EventVoucherCreated, "voucher", v.ID, events.VoucherData{
		VoucherID:      v.ID,
		SenderID:       v.SenderID,
		RecipientPhone: v.RecipientPhone,
		Amount:         v.Amount,
		Currency:       string(money.Settlement),
		Source:         string(v.Source),
	})
}

// ListSentVouchers lists vouchers the caller has sent
func (s *Service) ListSentVouchers(ctx context.Context, caller Identity) ([]*domain.Voucher, error) {
	return s.store.ListVouchersBySender(ctx, caller.UserID)
}

// ListReceivedVouchers lists vouchers addressed to the caller's phone
func (s *Service) ListReceivedVouchers(ctx context.Context, caller Identity) ([]*domain.Voucher, error) {
	if caller.Phone == "" {
		return nil, ErrNotRegistered
	}
	return s.store.ListVouchersByRecipient(ctx, caller.Phone)
}

// GetVoucher returns a voucher the caller sent or received
func (s *Service) GetVoucher(ctx context.Context, caller Identity, id string) (*domain.Voucher, error) {
	var v *domain.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		v, err = tx.GetVoucher(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v.SenderID != caller.UserID && v.RecipientPhone != caller.Phone {
		return nil, fmt.Errorf("voucher %s: %w", id, database.ErrNotFound)
	}
	return v, nil
}
