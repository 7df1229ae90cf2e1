package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/money"
	"voucherpay/internal/ledger/domain"
	"voucherpay/internal/ledger/store"
)

func seedUser(t *testing.T, s *Store, id, phone, handle string) {
	t.Helper()
	u, err := domain.NewUser(id, phone, id, money.ZAR)
	require.NoError(t, err)
	u.Handle = handle
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	}))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "+27820000001", "")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		u.SenderBalance = 999
		require.NoError(t, tx.UpdateUser(ctx, u))
		require.NoError(t, tx.PutWallet(ctx, domain.NewWallet(u.Phone, u.ID, money.ZAR)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, u.SenderBalance)
		_, err = tx.GetWallet(ctx, u.Phone)
		assert.ErrorIs(t, err, database.ErrNotFound)
		return nil
	}))
}

func TestWithTx_ReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "+27820000001", "")

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		u.SenderBalance = 500
		again, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, again.SenderBalance, "mutating a read must not write through")
		return nil
	}))
}

func TestCreateUser_Uniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "+27820000001", "Thandi")

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, _ := domain.NewUser("u2", "+27820000002", "x", money.ZAR)
		u.Handle = "thandi"
		return tx.CreateUser(ctx, u)
	})
	assert.ErrorIs(t, err, database.ErrAlreadyExists)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, _ := domain.NewUser("u3", "+27820000001", "x", money.ZAR)
		return tx.CreateUser(ctx, u)
	})
	assert.ErrorIs(t, err, database.ErrAlreadyExists)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUserByHandle(ctx, "THANDI")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		return nil
	}))
}

func TestVoucherCodeUniquePerRecipient(t *testing.T) {
	s := New()
	ctx := context.Background()
	sender, _ := domain.NewUser("u1", "+27820000001", "a", money.ZAR)

	mk := func(id, recipient string) *domain.Voucher {
		v, err := domain.NewVoucher(id, "123456", sender, recipient, 100, money.ZAR, domain.SourceBalance)
		require.NoError(t, err)
		return v
	}

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateVoucher(ctx, mk("v1", "+27820000002")))
		require.NoError(t, tx.CreateVoucher(ctx, mk("v2", "+27820000003")), "same code, other recipient")
		assert.ErrorIs(t, tx.CreateVoucher(ctx, mk("v3", "+27820000002")), database.ErrAlreadyExists)

		v, err := tx.GetVoucherByCode(ctx, "+27820000002", "123456")
		require.NoError(t, err)
		assert.Equal(t, "v1", v.ID)
		return nil
	}))
}

func TestSettingsDefaultsAndIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultFees(), st.Fees)
		st.Rates["USD_TO_ZAR"] = 19
		return tx.PutSettings(ctx, st)
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 19.0, st.Rates["USD_TO_ZAR"])
		st.Rates["USD_TO_ZAR"] = 1
		return errors.New("abort")
	})
	require.Error(t, err)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 19.0, st.Rates["USD_TO_ZAR"], "unsaved edits must not leak")
		return nil
	}))
}

func TestNotifications(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, s.SaveNotification(ctx, &domain.Notification{ID: id, UserID: "u1"}))
	}
	require.NoError(t, s.SaveNotification(ctx, &domain.Notification{ID: "n4", UserID: "u2"}))

	list, err := s.ListNotifications(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].ID)

	require.NoError(t, s.MarkNotificationRead(ctx, "u1", "n1"))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "u1", "n4"), database.ErrNotFound)
}
