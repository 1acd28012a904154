package middleware

import (
	"log/slog"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware gives the update its correlation id and log context, then
// writes an update.done line once the chain returns. A sample of updates is
// also logged on receipt at debug level. Errors pass through unchanged.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		upd := c.Update()
		chatID, userID := tghelpers.IDs(c)
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set(tghelpers.RIDKey, rid)
		c.Set("update_start", start)

		ctx := logger.WithUpdateMeta(logger.WithRID(logger.Background(), rid), upd.ID, userID, chatID)
		tghelpers.StoreContext(c, logger.WithLogger(ctx, logger.TG))

		kind := tghelpers.Kind(c)
		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", received(c, kind)...)
		}

		err := next(c)

		msgs, kb := GetCounters(c)
		done := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.String("op", kind),
			slog.Int("messages", msgs),
			slog.Bool("kb", kb),
			slog.Duration("duration", logger.Took(start)),
		}
		if err != nil {
			done = append(done, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		}
		logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelInfo, "update.done", done...)
		return err
	}
}

// received describes the inbound update without its sender's personal data.
func received(c tele.Context, kind string) []slog.Attr {
	attrs := []slog.Attr{slog.String("op", kind)}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if cb := c.Callback(); cb != nil {
		key, payload := callbacks.ParseCallbackData(cb)
		return append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	}
	if t := c.Text(); t != "" {
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
	}
	return attrs
}
