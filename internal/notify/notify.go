// Package notify delivers inbox notifications and domain events on a
// best-effort basis. Nothing here ever fails the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/middleware"
	"voucherpay/internal/ledger/domain"
)

// Sink stores inbox entries
type Sink interface {
	SaveNotification(ctx context.Context, n *domain.Notification) error
}

// Emitter writes notifications to the sink and fans events out to the broker
type Emitter struct {
	sink      Sink
	publisher events.EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewEmitter creates a new emitter. A nil publisher drops events.
func NewEmitter(sink Sink, publisher events.EventPublisher, logger *slog.Logger) *Emitter {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Emitter{
		sink:      sink,
		publisher: publisher,
		logger:    logger,
		timeout:   5 * time.Second,
	}
}

// Emit stores an inbox entry for userID and publishes notification.created.
func (e *Emitter) Emit(ctx context.Context, userID, title, body string, typ domain.NotificationType, relatedID string) {
	if userID == "" {
		return
	}
	ctx, cancel := e.detach(ctx)
	defer cancel()

	n := &domain.Notification{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Type:      typ,
		RelatedID: relatedID,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.sink.SaveNotification(ctx, n); err != nil {
		e.logger.Warn("failed to save notification",
			"error", err,
			"user_id", userID,
			"type", typ,
			"related_id", relatedID,
		)
		return
	}

	e.publish(ctx, events.EventNotificationCreated, "notification", n.ID, events.NotificationData{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Title:          n.Title,
		Body:           n.Body,
		RelatedID:      n.RelatedID,
	})
}

// Publish sends a domain event, logging any failure
func (e *Emitter) Publish(ctx context.Context, eventType, aggregateType, aggregateID string, data any) {
	ctx, cancel := e.detach(ctx)
	defer cancel()
	e.publish(ctx, eventType, aggregateType, aggregateID, data)
}

func (e *Emitter) publish(ctx context.Context, eventType, aggregateType, aggregateID string, data any) {
	evt, err := events.NewEvent(eventType, aggregateType, aggregateID, data)
	if err != nil {
		e.logger.Warn("failed to build event", "error", err, "type", eventType)
		return
	}
	evt.WithCorrelation(middleware.GetCorrelationID(ctx))

	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Warn("failed to publish event",
			"error", err,
			"type", eventType,
			"aggregate_id", aggregateID,
		)
	}
}

// detach keeps request values but drops the request's cancellation, so a
// client hanging up after a commit does not lose the notification.
func (e *Emitter) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}
