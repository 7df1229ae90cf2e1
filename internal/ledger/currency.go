package ledger

import (
	"context"
	"fmt"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// CurrencyChange is the outcome of a base currency change
type CurrencyChange struct {
	From       money.Currency `json:"from"`
	To         money.Currency `json:"to"`
	OldCredits int64          `json:"old_credits"`
	NewCredits int64          `json:"new_credits"`
	Fee        int64          `json:"fee"`
}

// ChangeBaseCurrency re-denominates the caller's wallet credits. The
// conversion fee is taken from the converted amount. Nothing changes when
// no rate path exists.
func (s *Service) ChangeBaseCurrency(ctx context.Context, caller Identity, to money.Currency) (*CurrencyChange, error) {
	target, err := money.ParseCurrency(string(to))
	if err != nil {
		return nil, invalid("%v", err)
	}

	var change *CurrencyChange
	var uid string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := s.activeUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		uid = user.ID
		wallet, err := walletFor(ctx, tx, user.Phone, user.ID, user.BaseCurrency)
		if err != nil {
			return err
		}
		from := wallet.Currency
		if from == target {
			// Credits are already in target; nothing to convert.
			change = &CurrencyChange{From: from, To: target, OldCredits: wallet.AvailableCredits, NewCredits: wallet.AvailableCredits}
			if user.BaseCurrency == target {
				return nil
			}
			user.BaseCurrency = target
			return tx.UpdateUser(ctx, user)
		}
		if wallet.PendingCredits > 0 {
			return ErrRedemptionInFlight
		}

		settings, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		converted, err := exchange.ConvertMinor(wallet.AvailableCredits, from, target, rates)
		if err != nil {
			return err
		}
		fee := money.New(converted, target).Percentage(settings.Fees.ConversionFeeBps).AmountMinor
		change = &CurrencyChange{
			From:       from,
			To:         target,
			OldCredits: wallet.AvailableCredits,
			NewCredits: converted - fee,
			Fee:        fee,
		}

		user.BaseCurrency = target
		wallet.Currency = target
		wallet.AvailableCredits = change.NewCredits
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		return tx.PutWallet(ctx, wallet)
	})
	if err != nil {
		return nil, fmt.Errorf("changing base currency: %w", err)
	}
	if change.From == change.To {
		return change, nil
	}

	s.logger.Info("base currency changed",
		"user_id", uid,
		"from", change.From,
		"to", change.To,
		"old_credits", change.OldCredits,
		"new_credits", change.NewCredits,
		"fee", change.Fee,
	)
	s.notifier.Publish(ctx, events.EventBaseCurrencyChanged, "user", uid, events.CurrencyChangedData{
		UserID:     uid,
		From:       string(change.From),
		To:         string(change.To),
		OldCredits: change.OldCredits,
		NewCredits: change.NewCredits,
		Fee:        change.Fee,
	})
	s.notifier.Emit(ctx, uid, "Currency updated",
		fmt.Sprintf("Your credits are now %s", money.Format(change.NewCredits, change.To)),
		domain.NotifyCurrencyChanged, uid)
	return change, nil
}
