package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/membership"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

const (
	operatorID = int64(1)
	memberID   = int64(7)
	groupID    = int64(-500)
)

type fakeTenants struct {
	byChat      map[int64]*domain.Tenant
	err         error
	settings    domain.TenantSettings
	settingsErr error
	resolves    int
}

func (f *fakeTenants) Resolve(_ context.Context, chatID int64) (*domain.Tenant, error) {
	f.resolves++
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.byChat[chatID]; ok {
		return t, nil
	}
	return nil, domain.NotFound(tenant.CodeNotFound, "Este grupo no está registrado. Usa /registro.")
}

func (f *fakeTenants) Settings(_ context.Context, tenantID string) (domain.TenantSettings, error) {
	if f.settingsErr != nil {
		return domain.DefaultSettings(tenantID, "UTC"), domain.Transient(tenant.CodeSettings, f.settingsErr)
	}
	return f.settings, nil
}

type fakeRoles struct {
	elevated map[int64]bool
	admins   []int64
	err      error
}

func (f *fakeRoles) Elevated(_ context.Context, _, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.elevated[userID], nil
}

func (f *fakeRoles) Admins(context.Context, int64) ([]int64, error) {
	return f.admins, f.err
}

func activeTenant() *domain.Tenant {
	return &domain.Tenant{ID: "t1", CompanyName: "Acme", ChatID: strconv.FormatInt(groupID, 10), IsActive: true, IsApproved: true}
}

func noop(tele.Context) error { return nil }

func testRegistry(t *testing.T) *tg.Registry {
	t.Helper()
	reg := tg.NewRegistry()
	reg.RegisterCommand("/carga", commands.Command{Handler: noop, Description: "carga", Rule: commands.Rule{Feature: domain.FeatureFuelCapture}})
	reg.RegisterCommand("/vincular", commands.Command{Handler: noop, Description: "vincular", Rule: commands.Rule{SkipTenant: true, GroupBypass: true}})
	reg.RegisterCommand("/aprobar", commands.Command{Handler: noop, Description: "aprobar", Rule: commands.Rule{AdminOnly: true}})
	reg.RegisterCommand("/unidad", commands.Command{Handler: noop, Description: "unidad", Rule: commands.Rule{TenantAdminOnly: true}})
	require.NoError(t, reg.RegisterCallback("pay_mark", commands.Callback{Handler: noop, Rule: commands.Rule{Sensitive: true, Feature: domain.FeaturePaymentTracking}}))
	return reg
}

type harness struct {
	cfg     *coreconfig.Config
	tenants *fakeTenants
	roles   *fakeRoles
	called  int
	res     *tenant.Resolution
	handler tele.HandlerFunc
}

func newHarness(t *testing.T, cfg *coreconfig.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &coreconfig.Config{}
	}
	cfg.Telegram.AdminIDs = []int64{operatorID}
	cfg.Timezone = "UTC"
	h := &harness{
		cfg:     cfg,
		tenants: &fakeTenants{byChat: map[int64]*domain.Tenant{}, settings: domain.DefaultSettings("t1", "UTC")},
		roles:   &fakeRoles{elevated: map[int64]bool{}},
	}
	p := New(cfg, testRegistry(t), h.tenants, h.roles)
	var final tele.HandlerFunc = func(c tele.Context) error {
		h.called++
		h.res, _ = tenant.FromContext(tghelpers.BuildContext(c))
		return nil
	}
	mws := p.Middlewares()
	for i := len(mws) - 1; i >= 0; i-- {
		final = mws[i].Use(final)
	}
	h.handler = final
	return h
}

func (h *harness) run(t *testing.T, upd tele.Update) *teletest.Context {
	t.Helper()
	c := teletest.NewContext(upd)
	require.NoError(t, h.handler(c))
	return c
}

var (
	group   = teletest.Chat(groupID, tele.ChatGroup)
	private = teletest.Chat(memberID, tele.ChatPrivate)
	member  = teletest.User(memberID)
	oper    = teletest.User(operatorID)
)

func TestUnlistedGroupIsDropped(t *testing.T) {
	h := newHarness(t, &coreconfig.Config{Access: coreconfig.AccessConfig{AllowedGroups: []int64{-1}}})
	c := h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.Empty(t, c.Sent())
}

func TestLinkedGroupPassesRestrictionWithOneLookup(t *testing.T) {
	h := newHarness(t, &coreconfig.Config{Access: coreconfig.AccessConfig{AllowedGroups: []int64{-1}, AllowLinkedGroups: true}})
	h.tenants.byChat[groupID] = activeTenant()

	h.run(t, teletest.Message(group, member, "/carga"))
	assert.Equal(t, 1, h.called)
	assert.Equal(t, 1, h.tenants.resolves)
	require.NotNil(t, h.res)
	assert.Equal(t, "t1", h.res.Tenant.ID)
}

func TestGroupBypassNeedsVerifiedAdmin(t *testing.T) {
	cfg := &coreconfig.Config{Access: coreconfig.AccessConfig{AllowedGroups: []int64{-1}}}
	h := newHarness(t, cfg)

	h.run(t, teletest.Message(group, member, "/vincular ABC234"))
	assert.Zero(t, h.called)

	h.roles.elevated[memberID] = true
	h.run(t, teletest.Message(group, member, "/vincular ABC234"))
	assert.Equal(t, 1, h.called)
	assert.True(t, h.res.Bypassed)

	h.roles.err = membership.ErrTimeout
	h.run(t, teletest.Message(group, member, "/vincular ABC234"))
	assert.Equal(t, 1, h.called)

	h.run(t, teletest.Message(group, oper, "/vincular ABC234"))
	assert.Equal(t, 2, h.called)
}

func TestUnknownGroupGetsRegistrationHint(t *testing.T) {
	h := newHarness(t, nil)

	c := h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.True(t, c.Saw("/registro"))

	chatter := h.run(t, teletest.Message(group, member, "hola a todos"))
	assert.Empty(t, chatter.Sent())
}

func TestLookupFailureIsGeneric(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.err = domain.Transient(tenant.CodeLookup, errors.New("db down"))

	c := h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.Equal(t, lookupFailedText, c.LastText())
}

func TestInactiveAndPendingTenantsStop(t *testing.T) {
	h := newHarness(t, nil)
	inactive := activeTenant()
	inactive.IsActive = false
	h.tenants.byChat[groupID] = inactive

	c := h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.True(t, c.Saw("desactivada"))

	pending := activeTenant()
	pending.IsApproved = false
	h.tenants.byChat[groupID] = pending
	c = h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.True(t, c.Saw("pendiente"))
}

func TestSettingsAreAttached(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[groupID] = activeTenant()
	h.tenants.settings.Features[domain.FeatureNoteSearch] = false

	h.run(t, teletest.Message(group, member, "/carga"))
	require.Equal(t, 1, h.called)
	assert.False(t, h.res.Settings.Enabled(domain.FeatureNoteSearch))
	assert.True(t, h.res.Settings.Enabled(domain.FeatureFuelCapture))
}

func TestSettingsFailureUsesDefaults(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[groupID] = activeTenant()
	h.tenants.settingsErr = errors.New("timeout")

	h.run(t, teletest.Message(group, member, "/carga"))
	require.Equal(t, 1, h.called)
	assert.True(t, h.res.Settings.Enabled(domain.FeatureFuelCapture))
}

func TestDisabledFeatureIsDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[groupID] = activeTenant()
	h.tenants.settings.Features[domain.FeatureFuelCapture] = false

	c := h.run(t, teletest.Message(group, member, "/carga"))
	assert.Zero(t, h.called)
	assert.Equal(t, featureOffText, c.LastText())
}

func TestOperatorOnlyCommand(t *testing.T) {
	h := newHarness(t, nil)

	c := h.run(t, teletest.Message(private, member, "/aprobar 1"))
	assert.Zero(t, h.called)
	assert.Equal(t, operatorOnlyText, c.LastText())

	h.run(t, teletest.Message(teletest.Chat(operatorID, tele.ChatPrivate), oper, "/aprobar 1"))
	assert.Equal(t, 1, h.called)
}

func TestTenantAdminOnlyFailsOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[groupID] = activeTenant()
	h.roles.admins = []int64{99}

	c := h.run(t, teletest.Message(group, member, "/unidad Juan 12"))
	assert.Zero(t, h.called)
	assert.Equal(t, tenantAdminText, c.LastText())

	h.roles.admins = []int64{99, memberID}
	h.run(t, teletest.Message(group, member, "/unidad Juan 12"))
	assert.Equal(t, 1, h.called)

	h.roles.admins = nil
	h.roles.err = errors.New("api down")
	h.run(t, teletest.Message(group, member, "/unidad Juan 12"))
	assert.Equal(t, 2, h.called)
}

func TestSensitiveActionsFailClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[groupID] = activeTenant()

	c := h.run(t, teletest.Callback(group, member, "pay_mark", "rec-1"))
	assert.Zero(t, h.called)
	require.NotEmpty(t, c.Responses())
	assert.Equal(t, sensitiveDenied, c.Responses()[0].Text)

	h.roles.err = membership.ErrTimeout
	c = h.run(t, teletest.Callback(group, member, "pay_mark", "rec-1"))
	assert.Zero(t, h.called)
	assert.Equal(t, sensitiveRetryText, c.Responses()[0].Text)

	h.roles.err = nil
	h.roles.elevated[memberID] = true
	h.run(t, teletest.Callback(group, member, "pay_mark", "rec-1"))
	assert.Equal(t, 1, h.called)

	h.run(t, teletest.Callback(group, oper, "pay_mark", "rec-1"))
	assert.Equal(t, 2, h.called)
}

func TestSensitiveInPrivateNeedsOperator(t *testing.T) {
	h := newHarness(t, nil)
	h.tenants.byChat[memberID] = activeTenant()

	c := h.run(t, teletest.Callback(private, member, "pay_mark", "rec-1"))
	assert.Zero(t, h.called)
	assert.Equal(t, sensitiveDenied, c.Responses()[0].Text)
}
