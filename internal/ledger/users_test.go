package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/domain"
)

func TestRegisterUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caller := ledger.Identity{UserID: "alice", Phone: alicePhone}

	p, err := h.svc.RegisterUser(ctx, caller, ledger.RegisterRequest{
		FullName: "Alice",
		Handle:   "@Alice_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice_1", p.User.Handle)
	assert.Equal(t, money.ZAR, p.User.BaseCurrency)
	assert.Equal(t, domain.UserStatusActive, p.User.Status)
	assert.Equal(t, alicePhone, p.Wallet.Phone)
	assert.Zero(t, p.Wallet.AvailableCredits)

	_, err = h.svc.RegisterUser(ctx, caller, ledger.RegisterRequest{FullName: "Alice"})
	require.ErrorIs(t, err, ledger.ErrAlreadyRegistered)

	_, err = h.svc.RegisterUser(ctx, ledger.Identity{UserID: "imposter", Phone: alicePhone}, ledger.RegisterRequest{FullName: "Eve"})
	require.ErrorIs(t, err, ledger.ErrAlreadyRegistered)

	_, err = h.svc.RegisterUser(ctx, ledger.Identity{UserID: "bob", Phone: bobPhone}, ledger.RegisterRequest{
		FullName: "Bob",
		Handle:   "ALICE_1",
	})
	require.ErrorIs(t, err, ledger.ErrHandleTaken)
}

func TestRegisterUser_Validation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		caller ledger.Identity
		req    ledger.RegisterRequest
	}{
		{"no phone", ledger.Identity{UserID: "u1"}, ledger.RegisterRequest{FullName: "A"}},
		{"bad phone", ledger.Identity{UserID: "u1", Phone: "0820000001"}, ledger.RegisterRequest{FullName: "A"}},
		{"no name", ledger.Identity{UserID: "u1", Phone: alicePhone}, ledger.RegisterRequest{}},
		{"bad handle", ledger.Identity{UserID: "u1", Phone: alicePhone}, ledger.RegisterRequest{FullName: "A", Handle: "a b"}},
		{"bad currency", ledger.Identity{UserID: "u1", Phone: alicePhone}, ledger.RegisterRequest{FullName: "A", BaseCurrency: "ABC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RegisterUser(context.Background(), tt.caller, tt.req)
			require.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestGetProfile_Unregistered(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetProfile(context.Background(), ledger.Identity{UserID: "ghost", Phone: alicePhone})
	require.ErrorIs(t, err, ledger.ErrNotRegistered)
}

func TestGetProfile_PhoneMismatch(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", alicePhone, "", money.ZAR)
	_, err := h.svc.GetProfile(context.Background(), ledger.Identity{UserID: "alice", Phone: bobPhone})
	require.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "alice", money.ZAR)
	h.register(t, "bob", bobPhone, "bob", money.ZAR)

	u, err := h.svc.UpdateProfile(ctx, alice, ledger.UpdateProfileRequest{FullName: "Alice A", Handle: "ali"})
	require.NoError(t, err)
	assert.Equal(t, "Alice A", u.FullName)
	assert.Equal(t, "ali", u.Handle)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = h.svc.UpdateProfile(ctx, alice, ledger.UpdateProfileRequest{Handle: "bob"})
	require.ErrorIs(t, err, ledger.ErrHandleTaken)
}

func TestSetUserStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice", alicePhone, "", money.ZAR)

	u, err := h.svc.SetUserStatus(ctx, "alice", domain.UserStatusBanned)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStatusBanned, u.Status)

	_, err = h.svc.SetUserStatus(ctx, "alice", "frozen")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestExchangeRates_AdminOverrides(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.svc.GetExchangeRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 18.5, view.Effective["USD_TO_ZAR"])
	assert.Empty(t, view.Overrides)

	_, err = h.svc.UpdateExchangeRates(ctx, exchange.Rates{"USD_TO_ZAR": -1})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.UpdateExchangeRates(ctx, exchange.Rates{"USDZAR": 2})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.UpdateExchangeRates(ctx, exchange.Rates{})
	require.ErrorIs(t, err, ledger.ErrValidation)

	view, err = h.svc.UpdateExchangeRates(ctx, exchange.Rates{"USD_TO_ZAR": 20})
	require.NoError(t, err)
	assert.Equal(t, 20.0, view.Effective["USD_TO_ZAR"])
	assert.Equal(t, 1500.0, view.Effective["USD_TO_NGN"])
	assert.Equal(t, exchange.Rates{"USD_TO_ZAR": 20}, view.Overrides)

	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)
	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v.Amount)
}

func TestFees(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fees, err := h.svc.GetFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultFees(), fees)

	_, err = h.svc.UpdateFees(ctx, domain.Fees{CheckoutFeeBps: 20000})
	require.ErrorIs(t, err, ledger.ErrValidation)

	want := domain.Fees{CheckoutFeeBps: 250, CheckoutFlatFee: 100, ConversionFeeBps: 0}
	_, err = h.svc.UpdateFees(ctx, want)
	require.NoError(t, err)
	fees, err = h.svc.GetFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, fees)
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	bob := h.register(t, "bob", bobPhone, "", money.ZAR)

	_, err := h.svc.Broadcast(ctx, ledger.BroadcastRequest{Title: "Hi"})
	require.ErrorIs(t, err, ledger.ErrValidation)

	n, err := h.svc.Broadcast(ctx, ledger.BroadcastRequest{Title: "Maintenance", Body: "Back at 6"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []ledger.Identity{alice, bob} {
		inbox, err := h.svc.ListNotifications(ctx, id, 10)
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, domain.NotifyBroadcast, inbox[0].Type)

		require.NoError(t, h.svc.MarkNotificationRead(ctx, id, inbox[0].ID))
		inbox, err = h.svc.ListNotifications(ctx, id, 10)
		require.NoError(t, err)
		assert.True(t, inbox[0].Read)
	}
}
