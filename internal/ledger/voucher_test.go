package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/events"
	"voucherpay/internal/common/money"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/domain"
)

const (
	alicePhone = "+27820000001"
	bobPhone   = "+27820000002"
)

func TestSendVoucher_FromSenderBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "alice", money.ZAR)
	h.register(t, "bob", bobPhone, "bob", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{
		Recipient: "@bob",
		Amount:    500,
		Message:   "enjoy",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VoucherDelivered, v.Status)
	assert.Equal(t, domain.SourceBalance, v.Source)
	assert.Equal(t, bobPhone, v.RecipientPhone)
	assert.Equal(t, int64(9250), v.Amount)
	assert.Equal(t, int64(500), v.OriginalAmount)
	assert.Equal(t, money.USD, v.OriginalCurrency)
	assert.Len(t, v.Code, domain.CodeLength)

	u, w := h.balances(t, alice)
	assert.Equal(t, int64(500), u.SenderBalance)
	assert.Zero(t, w.AvailableCredits)

	received, err := h.svc.ListReceivedVouchers(ctx, ledger.Identity{UserID: "bob", Phone: bobPhone})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, v.ID, received[0].ID)

	inbox, err := h.svc.ListNotifications(ctx, ledger.Identity{UserID: "bob"}, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.NotifyVoucherReceived, inbox[0].Type)
	assert.Equal(t, 1, h.published.count(events.EventVoucherCreated))
}

func TestSendVoucher_SpillsIntoWalletCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 500, 3700)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 700})
	require.NoError(t, err)

	assert.Equal(t, int64(12950), v.Amount)
	u, w := h.balances(t, alice)
	assert.Zero(t, u.SenderBalance)
	assert.Zero(t, w.AvailableCredits)

	sent, err := h.svc.ListSentVouchers(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestSendVoucher_LocalCurrencyAmount(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(context.Background(), alice, ledger.SendVoucherRequest{
		Recipient: bobPhone,
		Amount:    9250,
		Currency:  money.ZAR,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9250), v.Amount)

	u, _ := h.balances(t, alice)
	assert.Equal(t, int64(500), u.SenderBalance)
}

func TestSendVoucher_InsufficientBalanceLeavesBalances(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 500, 1000)

	_, err := h.svc.SendVoucher(context.Background(), alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 700})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	u, w := h.balances(t, alice)
	assert.Equal(t, int64(500), u.SenderBalance)
	assert.Equal(t, int64(1000), w.AvailableCredits)

	sent, err := h.svc.ListSentVouchers(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, sent)
}

func TestSendVoucher_RejectsSelfSend(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice", alicePhone, "alice", money.ZAR)
	h.fund(t, alice, 1000, 0)

	for _, recipient := range []string{alicePhone, "@alice", "ALICE"} {
		t.Run(recipient, func(t *testing.T) {
			_, err := h.svc.SendVoucher(context.Background(), alice, ledger.SendVoucherRequest{Recipient: recipient, Amount: 100})
			require.ErrorIs(t, err, ledger.ErrSelfSend)

			u, _ := h.balances(t, alice)
			assert.Equal(t, int64(1000), u.SenderBalance)
		})
	}
}

func TestSendVoucher_Validation(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	tests := []struct {
		name string
		req  ledger.SendVoucherRequest
		want error
	}{
		{"missing recipient", ledger.SendVoucherRequest{Amount: 100}, ledger.ErrValidation},
		{"zero amount", ledger.SendVoucherRequest{Recipient: bobPhone}, ledger.ErrValidation},
		{"unknown currency", ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 100, Currency: "XYZ"}, ledger.ErrValidation},
		{"unknown handle", ledger.SendVoucherRequest{Recipient: "@nobody", Amount: 100}, ledger.ErrRecipientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SendVoucher(context.Background(), alice, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSendVoucher_BlockedSender(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)
	_, err := h.svc.SetUserStatus(context.Background(), "alice", domain.UserStatusBlocked)
	require.NoError(t, err)

	_, err = h.svc.SendVoucher(context.Background(), alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 100})
	require.ErrorIs(t, err, ledger.ErrUserInactive)
}

func TestSendVoucher_UnconvertibleAmount(t *testing.T) {
	h := newHarnessWithRates(t, exchange.Rates{"USD_TO_ZAR": 18.5})
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	_, err := h.svc.SendVoucher(context.Background(), alice, ledger.SendVoucherRequest{
		Recipient: bobPhone,
		Amount:    100,
		Currency:  money.EUR,
	})
	require.ErrorIs(t, err, exchange.ErrCannotConvert)
}

func TestRedeemVoucher_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	bob := h.register(t, "bob", bobPhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 500})
	require.NoError(t, err)

	res, err := h.svc.RedeemVoucher(ctx, bob, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VoucherRedeemed, res.Voucher.Status)
	assert.NotNil(t, res.Voucher.RedeemedAt)
	assert.Equal(t, int64(9250), res.Wallet.AvailableCredits)

	_, err = h.svc.RedeemVoucher(ctx, bob, v.ID)
	require.ErrorIs(t, err, ledger.ErrAlreadyRedeemed)

	_, w := h.balances(t, bob)
	assert.Equal(t, int64(9250), w.AvailableCredits)

	inbox, err := h.svc.ListNotifications(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.NotifyVoucherRedeemed, inbox[0].Type)
	assert.Equal(t, 1, h.published.count(events.EventVoucherRedeemed))
}

func TestRedeemVoucher_ConvertsToRecipientCurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	bob := h.register(t, "bob", bobPhone, "", money.USD)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, money.USD, v.RecipientCurrency)

	res, err := h.svc.RedeemVoucher(ctx, bob, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Voucher.RedeemedAmount)
	assert.Equal(t, money.USD, res.Wallet.Currency)
	assert.Equal(t, int64(500), res.Wallet.AvailableCredits)
}

func TestRedeemVoucher_OnlyRecipient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	h.register(t, "bob", bobPhone, "", money.ZAR)
	carol := h.register(t, "carol", "+27820000003", "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 500})
	require.NoError(t, err)

	_, err = h.svc.RedeemVoucher(ctx, carol, v.ID)
	require.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = h.svc.RedeemVoucher(ctx, alice, v.ID)
	require.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestRedeemVoucherByCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	bob := h.register(t, "bob", bobPhone, "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 500})
	require.NoError(t, err)

	_, err = h.svc.RedeemVoucherByCode(ctx, bob, "12")
	require.ErrorIs(t, err, ledger.ErrValidation)

	res, err := h.svc.RedeemVoucherByCode(ctx, bob, v.Code)
	require.NoError(t, err)
	assert.Equal(t, v.ID, res.Voucher.ID)

	// Redeemed vouchers no longer resolve by code.
	_, err = h.svc.RedeemVoucherByCode(ctx, bob, v.Code)
	require.Error(t, err)
}

func TestVouchers_ConserveValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	bob := h.register(t, "bob", bobPhone, "", money.ZAR)
	h.fund(t, alice, 1000, 3700)
	before := h.totalValue(t)

	v1, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 400})
	require.NoError(t, err)
	assert.Equal(t, before, h.totalValue(t))

	_, err = h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 800})
	require.NoError(t, err)
	assert.Equal(t, before, h.totalValue(t))

	_, err = h.svc.RedeemVoucher(ctx, bob, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, before, h.totalValue(t))

	_, err = h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 5000})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, before, h.totalValue(t))
}

func TestGetVoucher_HiddenFromOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice", alicePhone, "", money.ZAR)
	carol := h.register(t, "carol", "+27820000003", "", money.ZAR)
	h.fund(t, alice, 1000, 0)

	v, err := h.svc.SendVoucher(ctx, alice, ledger.SendVoucherRequest{Recipient: bobPhone, Amount: 100})
	require.NoError(t, err)

	got, err := h.svc.GetVoucher(ctx, alice, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = h.svc.GetVoucher(ctx, carol, v.ID)
	require.Error(t, err)
}
