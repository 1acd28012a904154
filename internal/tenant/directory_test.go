package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
	"github.com/Fechomap/cargas-gas/internal/store/memory"
)

type failingStore struct{ *memory.Store }

func (failingStore) TenantByChatID(context.Context, string) (*domain.Tenant, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) LoadSettings(context.Context, string) (*store.SettingsRecord, error) {
	return nil, errors.New("connection reset")
}

func seed(t *testing.T, st *memory.Store, tn domain.Tenant) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertTenant(context.Background(), &tn)
	}))
}

func TestResolveDistinguishesNotFoundFromFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seed(t, st, domain.Tenant{ID: "t1", ChatID: "-100", IsActive: true, IsApproved: true})
	dir := NewDirectory(st, "America/Mexico_City")

	tn, err := dir.Resolve(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, "t1", tn.ID)

	_, err = dir.Resolve(ctx, -200)
	assert.True(t, domain.Is(err, domain.KindNotFound))

	_, err = NewDirectory(failingStore{st}, "UTC").Resolve(ctx, -100)
	assert.True(t, domain.Is(err, domain.KindTransient))
}

func TestGate(t *testing.T) {
	assert.NoError(t, Gate(&domain.Tenant{IsActive: true, IsApproved: true}))
	assert.Equal(t, "TENANT_INACTIVE", domain.CodeOf(Gate(&domain.Tenant{IsApproved: true})))
	assert.Equal(t, "TENANT_PENDING", domain.CodeOf(Gate(&domain.Tenant{IsActive: true})))
}

func TestSettingsCreatedLazily(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	dir := NewDirectory(st, "America/Mexico_City")

	s, err := dir.Settings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "MXN", s.Currency)
	assert.True(t, s.Enabled(domain.FeatureFuelCapture))

	rec, err := st.LoadSettings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "America/Mexico_City", rec.Timezone)
}

func TestSettingsFailureFallsBackToDefaults(t *testing.T) {
	s, err := NewDirectory(failingStore{memory.New()}, "UTC").Settings(context.Background(), "t1")
	assert.True(t, domain.Is(err, domain.KindTransient))
	assert.Equal(t, domain.DefaultFeatures(), s.Features)
}

func TestMergeDropsUnknownAndMistyped(t *testing.T) {
	rec := store.SettingsRecord{
		TenantID:      "t1",
		Currency:      "usd",
		Timezone:      "Mars/Olympus",
		Features:      []byte(`{"note_search": false, "price_per_liter": "yes", "teleport": true}`),
		Notifications: []byte(`[1,2]`),
	}
	s, dropped := Merge(rec, "America/Mexico_City")

	assert.Equal(t, "USD", s.Currency)
	assert.Equal(t, "America/Mexico_City", s.Timezone)
	assert.False(t, s.Enabled(domain.FeatureNoteSearch))
	assert.True(t, s.Enabled(domain.FeaturePricePerLiter))
	assert.False(t, s.Enabled("teleport"))
	assert.Equal(t, domain.DefaultNotifications(), s.Notifications)
	assert.ElementsMatch(t, []string{
		"timezone", "features.price_per_liter", "features.teleport", "notifications",
	}, dropped)
}
