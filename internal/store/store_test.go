package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lnurldevice/internal/lnurldevice"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedDevice(t *testing.T, db *DB, b lnurldevice.Behavior) *lnurldevice.Device {
	t.Helper()
	d := &lnurldevice.Device{
		ID:            uuid.NewString(),
		Title:         "Coffee",
		WalletID:      "wallet1",
		Currency:      "EUR",
		EncryptionKey: "secret",
		Behavior:      b,
	}
	require.NoError(t, db.CreateDevice(context.Background(), d))
	return d
}

func TestDevices(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	t.Run("round trips each behaviour", func(t *testing.T) {
		behaviours := []lnurldevice.Behavior{
			lnurldevice.PointOfSale{ProfitPercent: decimal.RequireFromString("2.5")},
			lnurldevice.Atm{ProfitPercent: decimal.NewFromInt(5)},
			lnurldevice.Switch{Profiles: []lnurldevice.SwitchProfile{
				{Pin: 12, DurationMs: 1000, Amount: decimal.RequireFromString("0.5"), Comment: true, Description: "Door"},
			}},
		}
		for _, b := range behaviours {
			d := seedDevice(t, db, b)
			got, err := db.GetDevice(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, d.Title, got.Title)
			assert.Equal(t, d.EncryptionKey, got.EncryptionKey)
			assert.Equal(t, b.Kind(), got.Behavior.Kind())
			assert.False(t, got.CreatedAt.IsZero())

			switch want := b.(type) {
			case lnurldevice.PointOfSale:
				assert.True(t, want.ProfitPercent.Equal(got.Behavior.(lnurldevice.PointOfSale).ProfitPercent))
			case lnurldevice.Atm:
				assert.True(t, want.ProfitPercent.Equal(got.Behavior.(lnurldevice.Atm).ProfitPercent))
			case lnurldevice.Switch:
				profiles := got.Behavior.(lnurldevice.Switch).Profiles
				require.Len(t, profiles, 1)
				assert.Equal(t, 12, profiles[0].Pin)
				assert.Equal(t, 1000, profiles[0].DurationMs)
				assert.True(t, profiles[0].Comment)
				assert.True(t, decimal.RequireFromString("0.5").Equal(profiles[0].Amount))
			}
		}

		all, err := db.ListDevices(ctx)
		require.NoError(t, err)
		assert.Len(t, all, len(behaviours))
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := db.GetDevice(ctx, "missing")
		assert.ErrorIs(t, err, lnurldevice.ErrNotFound)
	})

	t.Run("delete cascades to payments", func(t *testing.T) {
		d := seedDevice(t, db, lnurldevice.PointOfSale{})
		p := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindPointOfSale, Payload: "tok", AmountMsat: 1000}
		require.NoError(t, db.CreatePayment(ctx, p))

		require.NoError(t, db.DeleteDevice(ctx, d.ID))
		_, err := db.GetPayment(ctx, p.ID)
		assert.ErrorIs(t, err, lnurldevice.ErrNotFound)
		assert.ErrorIs(t, db.DeleteDevice(ctx, d.ID), lnurldevice.ErrNotFound)
	})
}

func TestPayments(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	d := seedDevice(t, db, lnurldevice.Switch{})

	t.Run("stores nullable pin", func(t *testing.T) {
		pin := 4
		withPin := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindSwitch, Payload: "500", AmountMsat: 2000, Pin: &pin}
		noPin := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindSwitch, Payload: "500", AmountMsat: 2000}
		require.NoError(t, db.CreatePayment(ctx, withPin))
		require.NoError(t, db.CreatePayment(ctx, noPin))

		got, err := db.GetPayment(ctx, withPin.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Pin)
		assert.Equal(t, 4, *got.Pin)
		assert.True(t, got.Pending())
		assert.Equal(t, int64(2000), got.AmountMsat)

		got, err = db.GetPayment(ctx, noPin.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Pin)

		list, err := db.ListPayments(ctx, d.ID, 10)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("claims exactly once", func(t *testing.T) {
		p := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindSwitch, Payload: "500", AmountMsat: 1000}
		require.NoError(t, db.CreatePayment(ctx, p))

		require.NoError(t, db.ClaimPayment(ctx, p.ID, "hash1"))
		assert.ErrorIs(t, db.ClaimPayment(ctx, p.ID, "hash2"), lnurldevice.ErrAlreadyClaimed)

		got, err := db.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash1", got.Redemption)
		assert.False(t, got.Pending())
	})

	t.Run("claim of unknown payment", func(t *testing.T) {
		assert.ErrorIs(t, db.ClaimPayment(ctx, "missing", "x"), lnurldevice.ErrNotFound)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		p := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindSwitch, Payload: "500", AmountMsat: 1000}
		require.NoError(t, db.CreatePayment(ctx, p))

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := db.ClaimPayment(ctx, p.ID, uuid.NewString())
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, lnurldevice.ErrAlreadyClaimed):
					losses.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(15), losses.Load())
	})
}

func TestRegisterWithdrawal(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	d := seedDevice(t, db, lnurldevice.Atm{})

	newWithdrawal := func(payload string, msat int64) *lnurldevice.PendingPayment {
		return &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindAtm, Payload: payload, AmountMsat: msat}
	}

	first, err := db.RegisterWithdrawal(ctx, newWithdrawal("tokenA", 5000))
	require.NoError(t, err)

	t.Run("rescanning returns the stored record", func(t *testing.T) {
		again, err := db.RegisterWithdrawal(ctx, newWithdrawal("tokenA", 9999))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, int64(5000), again.AmountMsat)
	})

	t.Run("claimed record is returned as claimed", func(t *testing.T) {
		require.NoError(t, db.ClaimPayment(ctx, first.ID, "tokenA"))
		again, err := db.RegisterWithdrawal(ctx, newWithdrawal("tokenA", 5000))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.False(t, again.Pending())
	})

	t.Run("other tokens get their own record", func(t *testing.T) {
		other, err := db.RegisterWithdrawal(ctx, newWithdrawal("tokenB", 5000))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("sales with the same token are not constrained", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			sale := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindPointOfSale, Payload: "tokenA", AmountMsat: 1000}
			require.NoError(t, db.CreatePayment(ctx, sale))
		}
	})

	t.Run("concurrent registrations converge", func(t *testing.T) {
		ids := make([]string, 8)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := db.RegisterWithdrawal(ctx, newWithdrawal("tokenC", 1000))
				if assert.NoError(t, err) {
					ids[i] = p.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})
}

func TestPrunePending(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	d := seedDevice(t, db, lnurldevice.Atm{})

	old := time.Now().Add(-48 * time.Hour)
	stale := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindAtm, Payload: "a", AmountMsat: 1000, CreatedAt: old}
	claimed := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindAtm, Payload: "b", AmountMsat: 1000, CreatedAt: old}
	fresh := &lnurldevice.PendingPayment{ID: uuid.NewString(), DeviceID: d.ID, Kind: lnurldevice.KindAtm, Payload: "c", AmountMsat: 1000}
	for _, p := range []*lnurldevice.PendingPayment{stale, claimed, fresh} {
		require.NoError(t, db.CreatePayment(ctx, p))
	}
	require.NoError(t, db.ClaimPayment(ctx, claimed.ID, "b"))

	n, err := db.PrunePending(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetPayment(ctx, stale.ID)
	assert.ErrorIs(t, err, lnurldevice.ErrNotFound)
	_, err = db.GetPayment(ctx, claimed.ID)
	assert.NoError(t, err)
	_, err = db.GetPayment(ctx, fresh.ID)
	assert.NoError(t, err)
}
