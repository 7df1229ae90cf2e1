package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"voucherpay/internal/common/database"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/providers/paystack"
)

// maxWebhookBody bounds how much of a delivery is read.
const maxWebhookBody = 1 << 20

// WebhookHandler handles Paystack webhook callbacks.
type WebhookHandler struct {
	service *ledger.Service
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler that verifies deliveries with secret.
func NewWebhookHandler(service *ledger.Service, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		logger:  logger,
	}
}

// ServeHTTP handles incoming Paystack webhook requests.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !paystack.VerifySignature(h.secret, body, r.Header.Get(paystack.SignatureHeader)) {
		h.logger.Warn("rejected webhook with bad signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	evt, err := paystack.ParseEvent(body)
	if err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	h.logger.Info("received paystack webhook",
		"event", evt.Event,
		"reference", evt.Data.Reference,
	)

	if err := h.dispatch(r.Context(), evt); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidState):
			// Acknowledged so it stops retrying, but the record needs a look.
			h.logger.Error("webhook dropped for record in unexpected state", "event", evt.Event, "reference", evt.Data.Reference, "error", err)
		case acknowledged(err):
			h.logger.Warn("webhook ignored", "event", evt.Event, "reference", evt.Data.Reference, "reason", err)
		default:
			h.logger.Error("webhook processing failed", "event", evt.Event, "reference", evt.Data.Reference, "error", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	}

	// Acknowledge the webhook
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) dispatch(ctx context.Context, evt *paystack.Event) error {
	d := evt.Data
	switch evt.Event {
	case paystack.EventChargeSuccess:
		// Charges made by other products on the same account are not ours.
		if !strings.HasPrefix(d.Reference, ledger.ReferencePrefix) {
			h.logger.Debug("ignoring foreign charge", "reference", d.Reference)
			return nil
		}
		_, err := h.service.FinalizeCheckout(ctx, d.Reference, d.Amount, d.CurrencyCode())
		return err
	case paystack.EventTransferSuccess:
		_, err := h.service.CompleteTransfer(ctx, d.Reference, d.Amount, d.CurrencyCode())
		return err
	case paystack.EventTransferFailed:
		_, err := h.service.FailTransfer(ctx, d.Reference, domain.RedemptionFailed, d.FailureReason())
		return err
	case paystack.EventTransferReversed:
		_, err := h.service.FailTransfer(ctx, d.Reference, domain.RedemptionReversed, d.FailureReason())
		return err
	default:
		h.logger.Debug("unhandled webhook event", "event", evt.Event)
		return nil
	}
}

// acknowledged reports errors that a redelivery can never fix. Paystack
// retries anything that is not a 200, so these are logged and accepted.
func acknowledged(err error) bool {
	return database.IsNotFound(err) ||
		errors.Is(err, ledger.ErrPaymentNotConfirmed) ||
		errors.Is(err, ledger.ErrInvalidState)
}
