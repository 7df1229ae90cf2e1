package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
	"voucherpay/internal/ledger/store/memory"
	"voucherpay/internal/notify"
)

var errProcessorDown = errors.New("processor down")

type fakeGateway struct {
	mu sync.Mutex

	chargeErr    error
	recipientErr error
	transferErr  error

	charges       map[string]ledger.ChargeRequest
	verifications map[string]*ledger.ChargeVerification
	recipients    []ledger.PayoutRecipientRequest
	transfers     []ledger.TransferRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		charges:       map[string]ledger.ChargeRequest{},
		verifications: map[string]*ledger.ChargeVerification{},
	}
}

func (g *fakeGateway) InitializeCharge(_ context.Context, req ledger.ChargeRequest) (*ledger.ChargeSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges[req.Reference] = req
	return &ledger.ChargeSession{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyCharge(_ context.Context, reference string) (*ledger.ChargeVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.verifications[reference]; ok {
		return v, nil
	}
	return &ledger.ChargeVerification{Reference: reference, Status: "abandoned"}, nil
}

func (g *fakeGateway) CreatePayoutRecipient(_ context.Context, req ledger.PayoutRecipientRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.recipientErr != nil {
		return "", g.recipientErr
	}
	g.recipients = append(g.recipients, req)
	return fmt.Sprintf("RCP_%d", len(g.recipients)), nil
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, req)
	return &ledger.TransferResult{TransferCode: fmt.Sprintf("TRF_%d", len(g.transfers)), Status: "pending"}, nil
}

// confirm makes VerifyCharge report the charge as paid in full.
func (g *fakeGateway) confirm(reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req := g.charges[reference]
	g.verifications[reference] = &ledger.ChargeVerification{
		Reference: reference,
		Status:    "success",
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	svc       *ledger.Service
	store     *memory.Store
	gateway   *fakeGateway
	published *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRates(t, exchange.DefaultRates())
}

func newHarnessWithRates(t *testing.T, rates exchange.Rates) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	gw := newFakeGateway()
	pub := &recordingPublisher{}
	svc := ledger.NewService(st, gw, notify.NewEmitter(st, pub, logger), ledger.Config{
		GatewayCurrency: money.ZAR,
		CallbackURL:     "https://app.test/checkout/done",
		BaseRates:       rates,
	}, logger)
	return &harness{svc: svc, store: st, gateway: gw, published: pub}
}

func (h *harness) register(t *testing.T, id, phone, handle string, base money.Currency) ledger.Identity {
	t.Helper()
	caller := ledger.Identity{UserID: id, Phone: phone}
	_, err := h.svc.RegisterUser(context.Background(), caller, ledger.RegisterRequest{
		FullName:     "User " + id,
		Email:        id + "@example.com",
		Handle:       handle,
		BaseCurrency: base,
	})
	require.NoError(t, err)
	return caller
}

// fund sets the caller's balances directly.
func (h *harness) fund(t *testing.T, caller ledger.Identity, senderCents, credits int64) {
	t.Helper()
	require.NoError(t, h.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, caller.UserID)
		if err != nil {
			return err
		}
		u.SenderBalance = senderCents
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		w, err := tx.GetWallet(ctx, u.Phone)
		if err != nil {
			return err
		}
		w.AvailableCredits = credits
		return tx.PutWallet(ctx, w)
	}))
}

func (h *harness) balances(t *testing.T, caller ledger.Identity) (*domain.User, *domain.Wallet) {
	t.Helper()
	p, err := h.svc.GetProfile(context.Background(), caller)
	require.NoError(t, err)
	return p.User, p.Wallet
}

// totalValue sums every pool in ZAR subunits at the default rate: sender
// balances, wallet credits and delivered vouchers.
func (h *harness) totalValue(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	users, err := h.store.ListUsers(ctx)
	require.NoError(t, err)

	rates := exchange.DefaultRates()
	var total int64
	for _, u := range users {
		zar, err := exchange.ConvertMinor(u.SenderBalance, money.USD, money.ZAR, rates)
		require.NoError(t, err)
		total += zar

		_, w := h.balances(t, ledger.Identity{UserID: u.ID, Phone: u.Phone})
		credits, err := exchange.ConvertMinor(w.AvailableCredits+w.PendingCredits, w.Currency, money.ZAR, rates)
		require.NoError(t, err)
		total += credits

		sent, err := h.store.ListVouchersBySender(ctx, u.ID)
		require.NoError(t, err)
		for _, v := range sent {
			if v.Status == domain.VoucherDelivered {
				total += v.Amount
			}
		}
	}
	return total
}
