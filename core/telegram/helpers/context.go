// Package helpers carries per-update context and the send shortcuts shared by
// the handlers.
package helpers

import (
	"context"
	"strings"

	"github.com/Fechomap/cargas-gas/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Keys under which the middleware chain stores values on tele.Context.
const (
	RIDKey      = "rid"
	contextKey  = "logger_ctx"
	answeredKey = "cb_answered"
)

// StoreContext replaces the context later helpers hand to services.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(contextKey, ctx)
	}
}

// BuildContext returns the context stored for this update. The first call
// derives one carrying the request id and the update, user and chat ids.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := c.Get(contextKey).(context.Context); ok {
		return ctx
	}
	chatID, userID := IDs(c)
	updateID := c.Update().ID
	rid, _ := c.Get(RIDKey).(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}

	ctx := logger.WithUpdateMeta(logger.WithRID(context.Background(), rid), updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// UpdateContext stores fn applied to the current context and returns it.
func UpdateContext(c tele.Context, fn func(context.Context) context.Context) context.Context {
	ctx := fn(BuildContext(c))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the stored context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	return UpdateContext(c, func(ctx context.Context) context.Context {
		return logger.WithHandler(ctx, handler)
	})
}

// IDs returns the chat and sender ids, zero when absent.
func IDs(c tele.Context) (chatID, userID int64) {
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	return chatID, userID
}

// IsPrivate reports whether the update comes from a one-to-one chat.
func IsPrivate(c tele.Context) bool {
	chat := c.Chat()
	return chat != nil && chat.Type == tele.ChatPrivate
}

// Update kinds reported by Kind.
const (
	KindCommand  = "command"
	KindText     = "text"
	KindPhoto    = "photo"
	KindCallback = "callback"
	KindOther    = "other"
)

// Kind classifies the update for logs, metrics and routing.
func Kind(c tele.Context) string {
	upd := c.Update()
	if upd.Callback != nil {
		return KindCallback
	}
	msg := upd.Message
	switch {
	case msg == nil:
		return KindOther
	case msg.Photo != nil:
		return KindPhoto
	case len(msg.Text) > 1 && strings.HasPrefix(msg.Text, "/"):
		return KindCommand
	}
	return KindText
}
