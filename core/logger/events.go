package logger

import (
	"context"
	"log/slog"
	"strings"
)

// Background is context.Background for call sites without a request.
func Background() context.Context { return context.Background() }

// LogEvent writes one event through log, falling back to the context logger.
func LogEvent(ctx context.Context, log *slog.Logger, lv slog.Level, event string, attrs ...slog.Attr) {
	if log == nil {
		log = FromContext(ctx)
	}
	if log == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	log.LogAttrs(ctx, lv, "", attrs...)
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Debug logs a debug event for component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelDebug, event, attrs...)
}

// Info logs an info event for component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelInfo, event, attrs...)
}

// Warn logs a warning event for component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelWarn, event, attrs...)
}

// Error logs an error event for component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug event should be
// written. TRACE=1 lets every event through.
func ShouldSampleDebug() bool {
	return traceAll || debugSampler.allow()
}
