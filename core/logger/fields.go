package logger

import (
	"log/slog"
	"strings"
)

// levelName maps slog levels to the names written in the level field.
// Anything above error is reported as FATAL.
func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	case l == slog.LevelError:
		return "ERROR"
	default:
		return "FATAL"
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// enums lists the closed vocabularies of a few fields. Values outside them
// are dropped, except for status which is only lower-cased.
var enums = map[string]map[string]bool{
	"cache":   {"hit": true, "miss": true, "refresh": true},
	"outcome": {"ok": true, "fail": true, "cancelled": true, "rate_limited": true, "denied": true, "dropped": true},
}

func (e entry) normalizeEnums() {
	if s, ok := e["status"].(string); ok {
		e["status"] = strings.ToLower(s)
	}
	for key, allowed := range enums {
		s, ok := e[key].(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		if allowed[s] {
			e[key] = s
		} else {
			delete(e, key)
		}
	}
}

// defaultKeyOrder puts correlation fields first and domain ids next; keys
// missing here follow in alphabetical order.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type",
	"tenant_id", "handler", "operation", "cb_key", "outcome", "duration_ms",
	"messages", "kb", "count",
	"request_id", "record_id", "unit_id", "workflow", "state", "stage",
	"mode", "listen", "public_url", "http_code", "db", "host", "port",
	"reason", "err", "err_code", "cause", "retryable",
	"attempts", "backoff_ms", "rate_limited", "pending_count",
	"stack",
}

func parseKeyOrder(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return defaultKeyOrder
	}
	var order []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return defaultKeyOrder
	}
	return order
}
