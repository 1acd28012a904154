package logger

import (
	"context"
	"log/slog"
)

type (
	metaKey   struct{}
	loggerKey struct{}
)

// meta is the correlation data one update carries through every layer.
type meta struct {
	rid      string
	updateID int
	userID   int64
	chatID   int64
	handler  string
	tenantID string
}

func metaFrom(ctx context.Context) meta {
	if ctx == nil {
		return meta{}
	}
	m, _ := ctx.Value(metaKey{}).(meta)
	return m
}

func withMeta(ctx context.Context, edit func(*meta)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metaFrom(ctx)
	edit(&m)
	return context.WithValue(ctx, metaKey{}, m)
}

// WithLogger stores log in ctx. A nil logger leaves ctx untouched.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, log)
}

// FromContext returns the logger stored by WithLogger, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID sets the correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withMeta(ctx, func(m *meta) { m.rid = rid })
}

// WithUpdateMeta sets the update, user and chat ids.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withMeta(ctx, func(m *meta) {
		m.updateID = updateID
		m.userID = userID
		m.chatID = chatID
	})
}

// WithHandler names the handler serving the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withMeta(ctx, func(m *meta) { m.handler = handler })
}

// WithTenantID tags downstream logs with the resolved tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withMeta(ctx, func(m *meta) { m.tenantID = tenantID })
}

// RIDFrom returns the correlation id of ctx.
func RIDFrom(ctx context.Context) string { return metaFrom(ctx).rid }

// UpdateIDFrom returns the Telegram update id of ctx.
func UpdateIDFrom(ctx context.Context) int { return metaFrom(ctx).updateID }

// UserIDFrom returns the Telegram user id of ctx.
func UserIDFrom(ctx context.Context) int64 { return metaFrom(ctx).userID }

// ChatIDFrom returns the chat id of ctx.
func ChatIDFrom(ctx context.Context) int64 { return metaFrom(ctx).chatID }

// HandlerFrom returns the handler name of ctx.
func HandlerFrom(ctx context.Context) string { return metaFrom(ctx).handler }

// TenantIDFrom returns the tenant id of ctx.
func TenantIDFrom(ctx context.Context) string { return metaFrom(ctx).tenantID }

// fill copies the non-zero correlation data into e without overriding
// attributes logged explicitly.
func (m meta) fill(e entry) {
	if m.rid != "" {
		e.setDefault("rid", m.rid)
	}
	if m.updateID != 0 {
		e.setDefault("update_id", int64(m.updateID))
	}
	if m.userID != 0 {
		e.setDefault("user_id", m.userID)
	}
	if m.chatID != 0 {
		e.setDefault("chat_id", m.chatID)
	}
	if m.tenantID != "" {
		e.setDefault("tenant_id", m.tenantID)
	}
	if m.handler != "" {
		e.setDefault("handler", m.handler)
	}
}
