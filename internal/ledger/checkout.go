package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

// ReferencePrefix marks checkout references issued by this service
const ReferencePrefix = "vch_"

// CheckoutRequest starts a hosted card checkout
type CheckoutRequest struct {
	Purpose domain.PaymentPurpose `json:"purpose" validate:"omitempty,oneof=voucher top_up"`
	// Recipient is required for a voucher checkout.
	Recipient string         `json:"recipient"`
	Amount    int64          `json:"amount" validate:"gt=0"`
	Currency  money.Currency `json:"currency" validate:"omitempty,len=3"`
	Message   string         `json:"message" validate:"max=280"`
	Email     string         `json:"email" validate:"omitempty,email"`
}

// CheckoutSession is what the client needs to redirect the payer
type CheckoutSession struct {
	Reference        string         `json:"reference"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code,omitempty"`
	Amount           int64          `json:"amount"`
	FeeAmount        int64          `json:"fee_amount"`
	Currency         money.Currency `json:"currency"`
}

// CheckoutResult is the outcome of finalizing a charge
type CheckoutResult struct {
	Payment *domain.Payment `json:"payment"`
	Voucher *domain.Voucher `json:"voucher,omitempty"`
	// Replayed is true when the charge had already been finalized.
	Replayed bool `json:"replayed"`
}

// InitializeCheckout records a pending payment and opens a hosted charge
// session. No value exists until the processor confirms the charge.
func (s *Service) InitializeCheckout(ctx context.Context, caller Identity, req CheckoutRequest) (*CheckoutSession, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Purpose == "" {
		req.Purpose = domain.PurposeVoucher
	}
	currency, err := parseCurrency(req.Currency, domain.SenderBalanceCurrency)
	if err != nil {
		return nil, err
	}

	reference := ReferencePrefix + uuid.NewString()
	var payment *domain.Payment
	var email string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payer, err := s.activeUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		email = req.Email
		if email == "" {
			email = payer.Email
		}
		if email == "" {
			return invalid("an email is required for card checkout")
		}

		var recipientPhone string
		if req.Purpose == domain.PurposeVoucher {
			phone, ru, err := s.resolveRecipient(ctx, tx, req.Recipient)
			if err != nil {
				return err
			}
			if phone == payer.Phone || (ru != nil && ru.ID == payer.ID) {
				return ErrSelfSend
			}
			recipientPhone = phone
		}

		settings, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		base, err := exchange.ConvertMinor(req.Amount, currency, s.cfg.GatewayCurrency, rates)
		if err != nil {
			return err
		}
		if base <= 0 {
			return invalid("amount is below the smallest chargeable unit")
		}
		fee := money.New(base, s.cfg.GatewayCurrency).Percentage(settings.Fees.CheckoutFeeBps).AmountMinor +
			settings.Fees.CheckoutFlatFee

		p, err := domain.NewPayment(reference, payer, req.Purpose, base+fee, fee, s.cfg.GatewayCurrency)
		if err != nil {
			return invalid("%v", err)
		}
		p.RecipientPhone = recipientPhone
		p.Message = req.Message
		p.OriginalAmount = req.Amount
		p.OriginalCurrency = currency
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing checkout: %w", err)
	}

	charge, err := s.gateway.InitializeCharge(ctx, ChargeRequest{
		Email:       email,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Reference:   payment.Reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]string{
			"purpose":         string(payment.Purpose),
			"payer_id":        payment.PayerID,
			"recipient_phone": payment.RecipientPhone,
		},
	})
	if err != nil {
		s.logger.Error("charge session failed", "reference", reference, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	// A failure here leaves a pending payment without a URL; the webhook
	// still finalizes it by reference.
	if err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, reference)
		if err != nil {
			return err
		}
		p.AuthorizationURL = charge.AuthorizationURL
		return tx.UpdatePayment(ctx, p)
	}); err != nil {
		s.logger.Warn("storing authorization url failed", "reference", reference, "error", err)
	}

	s.logger.Info("checkout initialized",
		"reference", reference,
		"purpose", payment.Purpose,
		"amount", payment.Amount,
		"fee", payment.FeeAmount,
		"currency", payment.Currency,
	)
	s.notifier.Publish(ctx, events.EventPaymentInitialized, "payment", reference, events.PaymentData{
		Reference: reference,
		PayerID:   payment.PayerID,
		Purpose:   string(payment.Purpose),
		Amount:    payment.Amount,
		Currency:  string(payment.Currency),
	})

	return &CheckoutSession{
		Reference:        reference,
		AuthorizationURL: charge.AuthorizationURL,
		AccessCode:       charge.AccessCode,
		Amount:           payment.Amount,
		FeeAmount:        payment.FeeAmount,
		Currency:         payment.Currency,
	}, nil
}

// FinalizeCheckout turns a processor-confirmed charge into value exactly
// once. confirmed is the amount the processor reports, in currency minor
// units; the amount the client asked for is never used here.
func (s *Service) FinalizeCheckout(ctx context.Context, reference string, confirmed int64, currency money.Currency) (*CheckoutResult, error) {
	if reference == "" {
		return nil, invalid("reference is required")
	}

	var result *CheckoutResult
	var recipient *domain.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, reference)
		if err != nil {
			return err
		}
		if p.IsSettled() {
			result = &CheckoutResult{Payment: p, Replayed: true}
			return nil
		}
		if currency != "" && !strings.EqualFold(string(currency), string(p.Currency)) {
			return fmt.Errorf("charge %s settled in %s, expected %s: %w", reference, currency, p.Currency, ErrPaymentNotConfirmed)
		}
		if confirmed <= 0 {
			return fmt.Errorf("charge %s confirmed no amount: %w", reference, ErrPaymentNotConfirmed)
		}

		payer, err := tx.GetUser(ctx, p.PayerID)
		if err != nil {
			return err
		}
		_, rates, err := s.settledRates(ctx, tx)
		if err != nil {
			return err
		}
		net := p.NetOf(confirmed)
		if net <= 0 {
			return fmt.Errorf("charge %s confirmed %d, not more than the %d fee: %w", reference, confirmed, p.FeeAmount, ErrPaymentNotConfirmed)
		}

		result = &CheckoutResult{Payment: p}
		switch p.Purpose {
		case domain.PurposeTopUp:
			cents, err := exchange.ConvertMinor(net, p.Currency, domain.SenderBalanceCurrency, rates)
			if err != nil {
				return err
			}
			if cents <= 0 {
				return fmt.Errorf("charge %s is worth less than one cent: %w", reference, ErrPaymentNotConfirmed)
			}
			if err := payer.CreditSenderBalance(cents); err != nil {
				return err
			}
			if err := tx.UpdateUser(ctx, payer); err != nil {
				return err
			}
			if err := p.MarkSuccessful(confirmed, cents, ""); err != nil {
				return err
			}

		default:
			amount, err := exchange.ConvertMinor(net, p.Currency, money.Settlement, rates)
			if err != nil {
				return err
			}
			if amount <= 0 {
				return fmt.Errorf("charge %s is worth less than one settlement unit: %w", reference, ErrPaymentNotConfirmed)
			}
			ru, err := tx.GetUserByPhone(ctx, p.RecipientPhone)
			if err != nil && !database.IsNotFound(err) {
				return err
			}
			recipient = ru
			code, err := uniqueCode(ctx, tx, p.RecipientPhone)
			if err != nil {
				return err
			}
			v, err := domain.NewVoucher(newID(), code, payer, p.RecipientPhone, amount, recipientCurrency(ru), domain.SourceCheckout)
			if err != nil {
				return invalid("%v", err)
			}
			v.OriginalAmount = p.OriginalAmount
			v.OriginalCurrency = p.OriginalCurrency
			v.Message = p.Message
			v.PaymentReference = p.Reference
			if err := tx.CreateVoucher(ctx, v); err != nil {
				return err
			}
			if err := p.MarkSuccessful(confirmed, amount, v.ID); err != nil {
				return err
			}
			result.Voucher = v
		}
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("finalizing checkout %s: %w", reference, err)
	}

	p := result.Payment
	if result.Replayed {
		s.logger.Info("checkout already finalized", "reference", reference)
		return result, nil
	}

	s.logger.Info("checkout finalized",
		"reference", reference,
		"purpose", p.Purpose,
		"confirmed", p.Amount,
		"converted", p.ConvertedAmount,
	)
	s.notifier.Publish(ctx, events.EventPaymentSucceeded, "payment", reference, events.PaymentData{
		Reference: reference,
		PayerID:   p.PayerID,
		Purpose:   string(p.Purpose),
		Amount:    p.Amount,
		Currency:  string(p.Currency),
	})

	if v := result.Voucher; v != nil {
		s.voucherCreated(ctx, v)
		formatted := money.Format(v.Amount, money.Settlement)
		s.notifier.Emit(ctx, p.PayerID, "Voucher sent",
			fmt.Sprintf("Your %s voucher to %s was delivered", formatted, v.RecipientPhone),
			domain.NotifyVoucherSent, v.ID)
		s.notifier.Emit(ctx, userID(recipient), "You received a voucher",
			fmt.Sprintf("%s sent you %s", v.SenderPhone, formatted),
			domain.NotifyVoucherReceived, v.ID)
	} else {
		s.notifier.Emit(ctx, p.PayerID, "Balance topped up",
			fmt.Sprintf("%s was added to your sending balance", money.Format(p.ConvertedAmount, domain.SenderBalanceCurrency)),
			domain.NotifyTopUp, p.Reference)
	}
	return result, nil
}

// VerifyCheckout asks the processor about a charge the caller started and
// finalizes it if confirmed. It is the synchronous twin of the webhook.
func (s *Service) VerifyCheckout(ctx context.Context, caller Identity, reference string) (*CheckoutResult, error) {
	var payment *domain.Payment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payment, err = tx.GetPayment(ctx, reference)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("verifying checkout %s: %w", reference, err)
	}
	if payment.PayerID != caller.UserID {
		return nil, fmt.Errorf("payment %s: %w", reference, ErrForbidden)
	}
	if payment.IsSettled() {
		return &CheckoutResult{Payment: payment, Replayed: true}, nil
	}

	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if !verification.Succeeded() {
		return nil, fmt.Errorf("charge %s is %s: %w", reference, verification.Status, ErrPaymentNotConfirmed)
	}
	return s.FinalizeCheckout(ctx, reference, verification.Amount, verification.Currency)
}

// GetPayment returns a payment the caller started
func (s *Service) GetPayment(ctx context.Context, caller Identity, reference string) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.PayerID != caller.UserID {
		return nil, fmt.Errorf("payment %s: %w", reference, ErrForbidden)
	}
	return p, nil
}
