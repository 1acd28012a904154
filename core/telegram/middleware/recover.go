package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// DefaultFailureText is sent when nothing more specific is known.
const DefaultFailureText = "Ocurrió un error procesando tu solicitud. Intenta de nuevo en unos momentos."

// RecoverOptions configures the error boundary.
type RecoverOptions struct {
	// Message maps an escaped error to the text shown to the user.
	Message func(err error) string
	// Code extracts a stable error code for the log line.
	Code func(err error) string
}

// PanicError is what a recovered panic turns into.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Code is read by the handler summary logger.
func (e *PanicError) Code() string { return "PANIC" }

// Recover is the outermost stage. It turns panics and returned errors into a
// log line plus a generic reply and never lets either escape.
func Recover(opts RecoverOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (out error) {
			defer func() {
				if r := recover(); r != nil {
					handleEscaped(c, opts, &PanicError{Value: r, Stack: debug.Stack()})
				}
				out = nil
			}()
			if err := next(c); err != nil {
				handleEscaped(c, opts, err)
			}
			return nil
		}
	}
}

func handleEscaped(c tele.Context, opts RecoverOptions, err error) {
	ctx := tghelpers.BuildContext(c)
	upd := c.Update()
	attrs := []slog.Attr{
		slog.String("status", "fail"),
		slog.Int("update_id", upd.ID),
		slog.String("op", tghelpers.Kind(c)),
		slog.String("err", logger.SanitizeLimit(err.Error(), 512)),
	}
	if opts.Code != nil {
		if code := opts.Code(err); code != "" {
			attrs = append(attrs, slog.String("err_code", code))
		}
	}
	if upd.Callback != nil {
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs, slog.String("cb_key", key), slog.String("payload", logger.SanitizeLimit(payload, 128)))
	}
	event := "pipeline.error"
	if pe, ok := err.(*PanicError); ok {
		event = "tg.panic"
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelError, event, attrs...)

	text := DefaultFailureText
	if opts.Message != nil {
		if m := opts.Message(err); m != "" {
			text = m
		}
	}
	sendFailure(c, text)
}

// sendFailure must not panic back into the boundary.
func sendFailure(c tele.Context, text string) {
	defer func() { _ = recover() }()
	if c.Callback() != nil {
		_ = tghelpers.Answer(c, "")
	}
	if c.Chat() == nil {
		return
	}
	if err := c.Send(text); err != nil {
		logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "pipeline.error_reply_failed",
			slog.String("err", err.Error()),
		)
	}
}
