package app

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"

	tele "gopkg.in/telebot.v4"
)

func testConfig() *coreconfig.Config {
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = []int64{1}
	cfg.Database.Driver = coreconfig.DriverMemory
	cfg.Timezone = "America/Mexico_City"
	return cfg
}

func newApp(t *testing.T) *App {
	t.Helper()
	a, err := New(testConfig(), nil, teletest.Bot())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// deliver runs c through the composed chain and the route telebot would pick.
func (a *App) deliver(t *testing.T, c *teletest.Context) *teletest.Context {
	t.Helper()
	var endpoint any = tele.OnText
	switch {
	case c.Callback() != nil:
		endpoint = tele.OnCallback
	case c.Message() != nil && c.Message().Photo != nil:
		endpoint = tele.OnPhoto
	case commands.Name(c.Text()) != "":
		endpoint = commands.Name(c.Text())
	}

	var h tele.HandlerFunc
	for _, r := range a.routes {
		if r.Endpoint == endpoint {
			h = r.Handler
		}
	}
	require.NotNil(t, h, "no route for %v", endpoint)
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i].Use(h)
	}
	require.NoError(t, h(c))
	return c
}

func private(text string) *teletest.Context {
	return teletest.NewContext(teletest.Message(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), text))
}

func TestChainOrder(t *testing.T) {
	a := newApp(t)
	var names []string
	for _, mw := range a.middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, []string{
		"recover", "metrics", "logger", "session",
		"groups", "tenant", "settings", "access", "sensitive",
	}, names)
}

func TestEverythingIsRegistered(t *testing.T) {
	a := newApp(t)
	for _, name := range []string{
		"/start", "/ayuda", "/registro", "/cancelar", "/solicitudes", "/aprobar",
		"/rechazar", "/vincular", "/carga", "/unidad", "/buscar",
	} {
		_, _, ok := a.registry.LookupCommand(name)
		assert.True(t, ok, name)
	}
	for _, key := range []string{
		"onb_start", "onb_confirm", "onb_cancel", "adm_approve", "adm_reject",
		"fuel_start", "fuel_unit", "fuel_price", "fuel_type", "fuel_skip_photo",
		"fuel_pay", "fuel_save", "date_keep", "date_change", "date_days",
		"date_custom", "wf_cancel", "pay_mark",
	} {
		_, ok := a.registry.GetCallback(key)
		assert.True(t, ok, key)
	}

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, a.dispatcher, opts.Dispatcher)
	assert.Same(t, a.registry, opts.Registry)
}

func TestRegistrationFormSurvivesTurns(t *testing.T) {
	a := newApp(t)

	c := a.deliver(t, private("/registro"))
	assert.True(t, c.Saw("nombre de tu empresa"))

	c = a.deliver(t, private("Fletes del Norte"))
	assert.True(t, c.Saw("persona de contacto"))

	c = a.deliver(t, private("/cancelar"))
	assert.True(t, c.Saw("Operación cancelada"))

	c = a.deliver(t, private("Ana"))
	assert.True(t, c.Saw("/ayuda"))
}

func TestChatterInUnknownGroupIsDropped(t *testing.T) {
	a := newApp(t)
	c := teletest.NewContext(teletest.Message(teletest.Chat(-100, tele.ChatGroup), teletest.User(7), "buenos días"))
	a.deliver(t, c)
	assert.Empty(t, c.Sent())

	c = teletest.NewContext(teletest.Message(teletest.Chat(-100, tele.ChatGroup), teletest.User(7), "/carga"))
	a.deliver(t, c)
	assert.True(t, c.Saw("/registro"))
}

func TestMetricsEndpoint(t *testing.T) {
	a := newApp(t)
	a.deliver(t, private("/start"))

	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cargas_bot_updates_total")
}
