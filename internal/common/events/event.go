package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements EventPublisher
func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// Event types
const (
	EventVoucherCreated  = "voucher.created"
	EventVoucherRedeemed = "voucher.redeemed"

	EventPaymentInitialized = "payment.initialized"
	EventPaymentSucceeded   = "payment.succeeded"

	EventRedemptionRequested = "redemption.requested"
	EventRedemptionApproved  = "redemption.approved"
	EventRedemptionRejected  = "redemption.rejected"
	EventRedemptionSubmitted = "redemption.submitted"
	EventRedemptionPaid      = "redemption.paid"
	EventRedemptionFailed    = "redemption.failed"

	EventMicroGiftSent = "microgift.sent"

	EventBaseCurrencyChanged = "user.base_currency.changed"

	EventNotificationCreated = "notification.created"
)

// VoucherData is the data for voucher events
type VoucherData struct {
	VoucherID      string `json:"voucher_id"`
	SenderID       string `json:"sender_id"`
	RecipientPhone string `json:"recipient_phone"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Source         string `json:"source,omitempty"`
}

// PaymentData is the data for payment events
type PaymentData struct {
	Reference string `json:"reference"`
	PayerID   string `json:"payer_id"`
	Purpose   string `json:"purpose"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// RedemptionData is the data for redemption events
type RedemptionData struct {
	RedemptionID string `json:"redemption_id"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// MicroGiftData is the data for microgift.sent events
type MicroGiftData struct {
	GiftID         string `json:"gift_id"`
	SenderID       string `json:"sender_id"`
	RecipientPhone string `json:"recipient_phone"`
	IconID         string `json:"icon_id"`
	Amount         int64  `json:"amount"`
}

// CurrencyChangedData is the data for user.base_currency.changed events
type CurrencyChangedData struct {
	UserID     string `json:"user_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	OldCredits int64  `json:"old_credits"`
	NewCredits int64  `json:"new_credits"`
	Fee        int64  `json:"fee"`
}

// NotificationData is the data for notification.created events
type NotificationData struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	RelatedID      string `json:"related_id,omitempty"`
}
