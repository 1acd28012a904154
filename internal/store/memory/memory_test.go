package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

func TestWithTxDiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, &domain.Tenant{ID: "t1", ChatID: "pending_1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.TenantByID(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinkTenantConsumesToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	token := "ABC234"
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTenant(ctx, &domain.Tenant{ID: "t1", ChatID: "pending_1", RegistrationToken: &token})
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.LinkTenant(ctx, "t1", "-100", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	tn, err := s.TenantByChatID(ctx, "-100")
	require.NoError(t, err)
	assert.Nil(t, tn.RegistrationToken)
	assert.True(t, tn.Linked())

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.LockTenantByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "t1", found.ID)
		inUse, err := tx.TokenInUse(ctx, token)
		require.NoError(t, err)
		assert.True(t, inUse)
		ok, err := tx.LinkTenant(ctx, "t1", "-200", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestFinishRequestOnlyFromPending(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := &domain.RegistrationRequest{CompanyName: "Acme"}
	require.NoError(t, s.CreateRequest(ctx, req))

	finish := store.Finish{RequestID: req.ID, Status: domain.RequestRejected, ProcessedBy: 1, ProcessedAt: time.Now()}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.FinishRequest(ctx, finish)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		finish.Status = domain.RequestApproved
		ok, err := tx.FinishRequest(ctx, finish)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	got, err := s.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, got.Status)
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkPaid(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := &domain.Unit{TenantID: "t1", OperatorName: "Juan", UnitNumber: "U1"}
	require.NoError(t, s.CreateUnit(ctx, u))
	assert.ErrorIs(t, s.CreateUnit(ctx, &domain.Unit{TenantID: "t1", UnitNumber: "u1"}), store.ErrDuplicate)

	rec := &domain.FuelRecord{ID: "r1", TenantID: "t1", UnitID: u.ID, SaleNumber: "4521", PaymentStatus: domain.Unpaid}
	require.NoError(t, s.InsertFuel(ctx, rec))

	ok, err := s.MarkPaid(ctx, "t1", "r1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkPaid(ctx, "t1", "r1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.MarkPaid(ctx, "t2", "r1", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := s.SearchBySale(ctx, "t1", "4521", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.Paid, found[0].PaymentStatus)
}
