package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/events"
	"voucherpay/internal/ledger/domain"
)

type recordingSink struct {
	mu    sync.Mutex
	saved []*domain.Notification
	err   error
}

func (s *recordingSink) SaveNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.saved = append(s.saved, n)
	return nil
}

type recordingPublisher struct {
	events []*events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e *events.Event) error {
	p.events = append(p.events, e)
	return p.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmit_SavesAndPublishes(t *testing.T) {
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	e := NewEmitter(sink, pub, discard())

	e.Emit(context.Background(), "u1", "Voucher received", "You got R18.50", domain.NotifyVoucherReceived, "v1")

	require.Len(t, sink.saved, 1)
	assert.Equal(t, "u1", sink.saved[0].UserID)
	assert.Equal(t, "v1", sink.saved[0].RelatedID)
	assert.False(t, sink.saved[0].Read)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.EventNotificationCreated, pub.events[0].Type)
}

func TestEmit_SurvivesCancelledRequest(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Emit(ctx, "u1", "t", "b", domain.NotifyBroadcast, "")

	assert.Len(t, sink.saved, 1)
}

func TestEmit_SwallowsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("store down")}
	pub := &recordingPublisher{}
	e := NewEmitter(sink, pub, discard())

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), "u1", "t", "b", domain.NotifyBroadcast, "")
	})
	assert.Empty(t, pub.events, "no event for an unsaved notification")

	pub.err = errors.New("broker down")
	e = NewEmitter(&recordingSink{}, pub, discard())
	e.Publish(context.Background(), events.EventVoucherCreated, "voucher", "v1", events.VoucherData{VoucherID: "v1"})
	assert.Len(t, pub.events, 1)
}

func TestEmit_SkipsAnonymous(t *testing.T) {
	sink := &recordingSink{}
	NewEmitter(sink, nil, discard()).Emit(context.Background(), "", "t", "b", domain.NotifyBroadcast, "")
	assert.Empty(t, sink.saved)
}
