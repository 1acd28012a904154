package help

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/fuel"
	"github.com/Fechomap/cargas-gas/internal/onboarding"

	tele "gopkg.in/telebot.v4"
)

type fakeTenants struct {
	byChat map[int64]*domain.Tenant
	err    error
}

func (f fakeTenants) Resolve(_ context.Context, chatID int64) (*domain.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.byChat[chatID]; ok {
		return t, nil
	}
	return nil, domain.NotFound("TENANT_NOT_FOUND", "")
}

type cancelSpy struct{ calls int }

func (s *cancelSpy) Cancel(tele.Context) error {
	s.calls++
	return nil
}

func setup(t *testing.T, tenants fakeTenants) (*Handlers, *tg.Registry, *cancelSpy) {
	t.Helper()
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = []int64{1}
	spy := &cancelSpy{}
	h := New(tenants, spy, cfg)
	reg := tg.NewRegistry()
	h.Register(reg)
	reg.RegisterCommand("/solicitudes", commands.Command{
		Handler:     func(tele.Context) error { return nil },
		Description: "Listar solicitudes pendientes",
		Rule:        commands.Rule{AdminOnly: true},
	})
	return h, reg, spy
}

func private(text string, user int64) *teletest.Context {
	return teletest.NewContext(teletest.Message(teletest.Chat(user, tele.ChatPrivate), teletest.User(user), text))
}

func group(text string) *teletest.Context {
	return teletest.NewContext(teletest.Message(teletest.Chat(-100, tele.ChatGroup), teletest.User(7), text))
}

func TestStartInPrivateOffersRegistration(t *testing.T) {
	h, _, _ := setup(t, fakeTenants{})
	c := private("/start", 7)
	require.NoError(t, h.Start(c))
	require.Len(t, c.Sent(), 1)
	markup := c.Sent()[0].Markup()
	require.NotNil(t, markup)
	assert.Equal(t, onboarding.ActionStart, markup.InlineKeyboard[0][0].Unique)
}

func TestStartInGroup(t *testing.T) {
	linked := &domain.Tenant{ID: "t1", CompanyName: "Fletes", IsActive: true, IsApproved: true}
	h, _, _ := setup(t, fakeTenants{byChat: map[int64]*domain.Tenant{-100: linked}})

	c := group("/start")
	require.NoError(t, h.Start(c))
	require.Len(t, c.Sent(), 1)
	assert.Contains(t, c.Sent()[0].Text(), "Fletes")
	assert.Equal(t, fuel.ActionStart, c.Sent()[0].Markup().InlineKeyboard[0][0].Unique)

	linked.IsActive = false
	c = group("/start")
	require.NoError(t, h.Start(c))
	assert.True(t, c.Saw("desactivada"))
}

func TestStartInUnlinkedGroup(t *testing.T) {
	h, _, _ := setup(t, fakeTenants{})
	c := group("/start")
	require.NoError(t, h.Start(c))
	assert.True(t, c.Saw("/vincular"))

	h, _, _ = setup(t, fakeTenants{err: domain.Transient("TENANT_LOOKUP", errors.New("db down"))})
	c = group("/start")
	require.NoError(t, h.Start(c))
	assert.True(t, c.Saw("No pude consultar"))
}

func TestAyudaHidesOperatorCommands(t *testing.T) {
	h, _, _ := setup(t, fakeTenants{})

	c := private("/ayuda", 7)
	require.NoError(t, h.Ayuda(c))
	assert.True(t, c.Saw("/cancelar"))
	assert.False(t, c.Saw("/solicitudes"))
	assert.False(t, c.Saw("/start"))

	c = private("/ayuda", 1)
	require.NoError(t, h.Ayuda(c))
	assert.True(t, c.Saw("/solicitudes"))
}

func TestCancelarDelegates(t *testing.T) {
	_, reg, spy := setup(t, fakeTenants{})
	_, cmd, ok := reg.LookupCommand("/cancelar")
	require.True(t, ok)
	require.NoError(t, cmd.Handler(private("/cancelar", 7)))
	assert.Equal(t, 1, spy.calls)

	_, _, ok = reg.LookupCommand("/help")
	assert.True(t, ok)
}

func TestFallbacks(t *testing.T) {
	_, reg, _ := setup(t, fakeTenants{})

	c := private("hola", 7)
	require.NoError(t, reg.TextFallback()(c))
	assert.True(t, c.Saw("/ayuda"))

	c = group("hola a todos")
	require.NoError(t, reg.TextFallback()(c))
	assert.Empty(t, c.Sent())

	c = teletest.NewContext(teletest.Photo(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), "f1"))
	require.NoError(t, reg.PhotoFallback()(c))
	assert.True(t, c.Saw("No esperaba una foto"))

	c = teletest.NewContext(teletest.Callback(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), "gone", ""))
	require.NoError(t, reg.CallbackNotFound()(c))
	require.Len(t, c.Responses(), 1)
	assert.Equal(t, staleButton, c.Responses()[0].Text)
}
