package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"

	tele "gopkg.in/telebot.v4"
)

type fakeConv struct {
	active      bool
	text, photo int
}

func (f *fakeConv) Active(tele.Context) bool { return f.active }

func (f *fakeConv) HandleText(tele.Context) error {
	f.text++
	return nil
}

func (f *fakeConv) HandlePhoto(tele.Context) error {
	f.photo++
	return nil
}

func private(text string) *teletest.Context {
	return teletest.NewContext(teletest.Message(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), text))
}

func press(key, payload string) *teletest.Context {
	return teletest.NewContext(teletest.Callback(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), key, payload))
}

func route(t *testing.T, routes []tg.Route, endpoint any) tele.HandlerFunc {
	t.Helper()
	for _, r := range routes {
		if r.Endpoint == endpoint {
			return r.Handler
		}
	}
	t.Fatalf("no route for %v", endpoint)
	return nil
}

func TestCommandRoutesIncludeAliases(t *testing.T) {
	reg := tg.NewRegistry()
	calls := 0
	reg.RegisterCommand("/ayuda", commands.Command{
		Handler: func(tele.Context) error {
			calls++
			return nil
		},
		Description: "Ayuda",
		Aliases:     []string{"help", "/h", ""},
	})
	routes := CommandRoutes(reg)
	require.Len(t, routes, 3)
	for _, ep := range []string{"/ayuda", "/help", "/h"} {
		require.NoError(t, route(t, routes, ep)(private(ep)))
	}
	assert.Equal(t, 3, calls)
	assert.Nil(t, CommandRoutes(nil))
}

func TestCallbackRouteAcknowledges(t *testing.T) {
	reg := tg.NewRegistry()
	require.NoError(t, reg.RegisterCallback("fuel_save", commands.Callback{
		Handler: func(tele.Context) error { return nil },
	}))
	require.NoError(t, reg.RegisterCallback("fuel_pay", commands.Callback{
		Handler: func(c tele.Context) error { return tghelpers.Answer(c, "Listo") },
	}))
	h := CallbackRoute(reg, CallbackOptions{}).Handler

	c := press("fuel_save", "")
	require.NoError(t, h(c))
	require.Len(t, c.Responses(), 1)
	assert.Empty(t, c.Responses()[0].Text)

	c = press("fuel_pay", "PAGADA")
	require.NoError(t, h(c))
	require.Len(t, c.Responses(), 1, "answered once")
	assert.Equal(t, "Listo", c.Responses()[0].Text)
}

func TestCallbackRouteFallbacks(t *testing.T) {
	reg := tg.NewRegistry()
	optsCalls := 0
	h := CallbackRoute(reg, CallbackOptions{NotFound: func(tele.Context) error {
		optsCalls++
		return nil
	}}).Handler

	require.NoError(t, h(press("gone", "")))
	assert.Equal(t, 1, optsCalls)

	reg.SetCallbackNotFound(func(c tele.Context) error { return tghelpers.Answer(c, "caducó") })
	c := press("gone", "")
	require.NoError(t, h(c))
	assert.Equal(t, 1, optsCalls)
	assert.Equal(t, "caducó", c.Responses()[0].Text)
}

func TestTextRoutesPreferWorkflowInput(t *testing.T) {
	reg := tg.NewRegistry()
	cmdCalls := 0
	reg.RegisterCommand("/cancelar", commands.Command{
		Description: "Cancelar",
		Handler:     func(tele.Context) error {
			cmdCalls++
			return nil
		},
	})
	conv := &fakeConv{active: true}
	routes := TextRoutes(conv, reg, TextOptions{})
	text, photo := route(t, routes, tele.OnText), route(t, routes, tele.OnPhoto)

	require.NoError(t, text(private("Fletes del Norte")))
	require.NoError(t, text(private("/cancelar")))
	require.NoError(t, photo(teletest.NewContext(teletest.Photo(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), "f1"))))

	assert.Equal(t, 1, conv.text)
	assert.Equal(t, 1, conv.photo)
	assert.Equal(t, 1, cmdCalls)
}

func TestTextRoutesFallbacks(t *testing.T) {
	reg := tg.NewRegistry()
	var got []string
	opts := TextOptions{
		UnknownText: func(tele.Context) error {
			got = append(got, "opts")
			return nil
		},
	}
	text := route(t, TextRoutes(&fakeConv{}, reg, opts), tele.OnText)

	require.NoError(t, text(private("hola")))
	reg.SetTextFallback(func(tele.Context) error {
		got = append(got, "registry")
		return errors.New("x")
	})
	assert.Error(t, text(private("hola")))
	assert.Equal(t, []string{"opts", "registry"}, got)

	photo := route(t, TextRoutes(nil, nil, TextOptions{}), tele.OnPhoto)
	assert.NoError(t, photo(teletest.NewContext(teletest.Photo(teletest.Chat(7, tele.ChatPrivate), teletest.User(7), "f1"))))
}

func TestRouteName(t *testing.T) {
	assert.Equal(t, "carga", routeName("/Carga"))
	assert.Equal(t, "unknown", routeName(" / "))
	assert.Equal(t, "fuel_save", routeName("fuel save"))
}
