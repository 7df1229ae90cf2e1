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

// MicroGiftRequest sends a catalog gift
type MicroGiftRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	IconID    string `json:"icon_id" validate:"required"`
}

// SendMicroGift debits the sender balance for a catalog gift. Micro-gifts
// are informational for the recipient and never touch a wallet.
func (s *Service) SendMicroGift(ctx context.Context, caller Identity, req MicroGiftRequest) (*domain.MicroGift, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	icon, ok := domain.LookupGift(req.IconID)
	if !ok {
		return nil, invalid("unknown gift %q", req.IconID)
	}

	var gift *domain.MicroGift
	var recipient *domain.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
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

		if err := sender.DebitSenderBalance(icon.Amount); err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}
		g, err := domain.NewMicroGift(newID(), sender, phone, icon)
		if err != nil {
			return invalid("%v", err)
		}
		if err := tx.UpdateUser(ctx, sender); err != nil {
			return err
		}
		if err := tx.CreateMicroGift(ctx, g); err != nil {
			return err
		}
		gift = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sending micro-gift: %w", err)
	}

	s.logger.Info("micro-gift sent",
		"gift_id", gift.ID,
		"sender_id", gift.SenderID,
		"icon", gift.IconID,
		"amount", gift.Amount,
	)
	s.notifier.Publish(ctx, events.EventMicroGiftSent, "microgift", gift.ID, events.MicroGiftData{
		GiftID:         gift.ID,
		SenderID:       gift.SenderID,
		RecipientPhone: gift.RecipientPhone,
		IconID:         gift.IconID,
		Amount:         gift.Amount,
	})
	s.notifier.Emit(ctx, userID(recipient), "You received a gift",
		fmt.Sprintf("%s sent you a %s (%s)", gift.SenderPhone, gift.IconName, money.Format(gift.Amount, domain.SenderBalanceCurrency)),
		domain.NotifyGiftReceived, gift.ID)
	return gift, nil
}

// GiftCatalog returns the fixed micro-gift catalog
func (s *Service) GiftCatalog() []domain.GiftIcon {
	return domain.GiftCatalog()
}

// ListReceivedGifts lists micro-gifts addressed to the caller's phone
func (s *Service) ListReceivedGifts(ctx context.Context, caller Identity) ([]*domain.MicroGift, error) {
	if caller.Phone == "" {
		return nil, ErrNotRegistered
	}
	return s.store.ListGiftsReceived(ctx, caller.Phone)
}
