// Package router turns the registry into telebot routes. Every routed update
// ends with one handler.handled log line.
package router

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// span times one routed handler.
type span struct {
	c     tele.Context
	name  string
	start time.Time
	attrs []slog.Attr
}

func begin(c tele.Context, name string, attrs ...slog.Attr) *span {
	return &span{c: c, name: name, start: time.Now(), attrs: attrs}
}

// run calls h with the handler name attached to the update's log context.
func (s *span) run(h tele.HandlerFunc) error {
	tghelpers.WithHandler(s.c, s.name)
	err := h(s.c)
	s.end("", err)
	return err
}

// skip records that nothing handled the update.
func (s *span) skip() { s.end("skip", nil) }

func (s *span) end(status string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fail"
	}
	if status == "" {
		status = outcome
	}
	msgs, kb := middleware.GetCounters(s.c)
	attrs := append([]slog.Attr{
		slog.String("status", status),
		slog.String("handler", s.name),
		slog.String("outcome", outcome),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(s.start)),
	}, s.attrs...)
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errCode(err)),
		)
	}
	logger.LogEvent(tghelpers.WithHandler(s.c, s.name), logger.TG, slog.LevelInfo, "handler.handled", attrs...)
}

// routeName turns "/Carga" into "carga" for the handler field.
func routeName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

func errCode(err error) string {
	var c interface{ Code() string }
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(code)
		}
	}
	return "UNCLASSIFIED"
}
