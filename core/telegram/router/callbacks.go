package router

import (
	"log/slog"

	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	// NotFound is used when the registry has no callback fallback.
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every button press by key. The press is answered
// after the handler unless the handler answered it.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	return tg.Route{Endpoint: tele.OnCallback, Handler: func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key, _ := callbacks.ParseCallbackData(c.Callback())
		s := begin(c, "callback."+routeName(key), slog.String("cb_key", key))

		h, ok := reg.GetCallback(key)
		if !ok || h == nil {
			s.attrs = append(s.attrs, slog.String("reason", "not_found"))
			if h = reg.CallbackNotFound(); h == nil {
				h = opts.NotFound
			}
		}
		return s.run(func(c tele.Context) error {
			defer acknowledge(c)
			if h == nil {
				return nil
			}
			return h(c)
		})
	}}
}

func acknowledge(c tele.Context) {
	if !tghelpers.Answered(c) {
		_ = tghelpers.Answer(c, "")
	}
}
