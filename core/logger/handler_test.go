package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture logs one event through a fresh handler and returns the written line.
func capture(t *testing.T, format lineFormat, stacks bool, emit func(*slog.Logger)) string {
	t.Helper()
	buf := &bytes.Buffer{}
	s := newSink(1024, buf)
	emit(slog.New(newHandler(handlerOptions{
		level:  slog.LevelDebug,
		out:    s,
		format: format,
		stacks: stacks,
	})))
	require.NoError(t, s.flush())
	require.NoError(t, s.close())
	return strings.TrimSpace(buf.String())
}

func TestKVLineStartsWithFixedKeys(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(Background(), "rid-123"), 42, 7, 9)
	line := capture(t, formatKV, false, func(log *slog.Logger) {
		LogEvent(ctx, log.With("component", "app"), slog.LevelInfo, "test.event",
			slog.String("status", "OK"),
			slog.String("cause", "capture"),
		)
	})

	tokens := strings.Split(line, " ")
	require.GreaterOrEqual(t, len(tokens), 6, line)
	for i, prefix := range []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123"} {
		assert.True(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s", i, tokens[i])
	}
	assert.Contains(t, line, "update_id=42 user_id=7 chat_id=9")
}

func TestJSONLineIsOrderedAndValid(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(Background(), "rid-json"), 11, 22, 33)
	line := capture(t, formatJSON, false, func(log *slog.Logger) {
		LogEvent(ctx, log.With("component", "service.fuel"), slog.LevelError, "fuel.save_failed",
			slog.String("status", "fail"),
			slog.Any("err", errors.New("boom")),
			slog.Duration("duration", 1500*time.Microsecond),
		)
	})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded), line)
	assert.Equal(t, "boom", decoded["err"])
	assert.EqualValues(t, 2, decoded["duration_ms"])

	pos := -1
	for _, part := range []string{`{"ts":`, `"level":"ERROR"`, `"component":"service.fuel"`, `"event":"fuel.save_failed"`, `"status":"fail"`, `"rid":"rid-json"`} {
		idx := strings.Index(line, part)
		require.Greater(t, idx, pos, "%s out of order in %s", part, line)
		pos = idx
	}
}

func TestRIDIsCompacted(t *testing.T) {
	ctx := WithRID(Background(), BuildRID(123, 456, 789))

	kv := capture(t, formatKV, false, func(log *slog.Logger) {
		LogEvent(ctx, log, slog.LevelInfo, "rid.test")
	})
	assert.Contains(t, kv, "rid=3f.co.lx")
	assert.NotContains(t, kv, "rid_full=")

	js := capture(t, formatJSON, false, func(log *slog.Logger) {
		LogEvent(ctx, log, slog.LevelInfo, "rid.test")
	})
	assert.Contains(t, js, `"rid":"3f.co.lx"`)
	assert.Contains(t, js, `"rid_full":"123:456:789"`)
	assert.Contains(t, js, `"ts_unix_nano"`)
}

func TestDefaultsAndPruning(t *testing.T) {
	line := capture(t, formatKV, false, func(log *slog.Logger) {
		log.Info("plain message", slog.String("empty", ""), slog.String("outcome", "weird"), slog.String("cache", "HIT"))
	})
	assert.Contains(t, line, `event="plain message"`)
	assert.Contains(t, line, "component=app")
	assert.Contains(t, line, "cache=hit")
	assert.NotContains(t, line, "empty=")
	assert.NotContains(t, line, "outcome=")
}

func TestSensitiveKeysAreMasked(t *testing.T) {
	line := capture(t, formatKV, false, func(log *slog.Logger) {
		LogEvent(Background(), log.With("component", "service.onboarding"), slog.LevelInfo, "onboarding.approved",
			slog.String("token", "ABC234"),
			slog.Group("contact", slog.String("phone", "5512345678"), slog.String("email", "ana@acme.mx")),
			slog.String("company", "Acme"),
		)
	})
	for _, leaked := range []string{"ABC234", "5512345678", "ana@acme.mx"} {
		assert.NotContains(t, line, leaked)
	}
	assert.Contains(t, line, "token=A****4")
	assert.Contains(t, line, "contact.phone=5********8")
	assert.Contains(t, line, "company=Acme")
}

func TestGroupsPrefixKeys(t *testing.T) {
	line := capture(t, formatKV, false, func(log *slog.Logger) {
		log.WithGroup("req").With("id", "r1").Info("x", slog.Int("n", 2))
	})
	assert.Contains(t, line, "req.id=r1")
	assert.Contains(t, line, "req.n=2")
}

func TestStacksToggle(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		line := capture(t, formatJSON, enabled, func(log *slog.Logger) {
			LogEvent(Background(), log, slog.LevelError, "pipeline.panic",
				slog.String("stack", "goroutine 1 [running]"),
			)
		})
		assert.Equal(t, enabled, strings.Contains(line, `"stack":`), line)
	}
}

func TestContextMetaDoesNotOverrideAttrs(t *testing.T) {
	ctx := WithHandler(WithTenantID(WithRID(Background(), "1:2:3"), "t-42"), "carga")
	line := capture(t, formatKV, false, func(log *slog.Logger) {
		LogEvent(ctx, log, slog.LevelInfo, "tenant.resolved", slog.String("handler", "explicit"))
	})
	assert.Contains(t, line, "tenant_id=t-42")
	assert.Contains(t, line, "handler=explicit")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	s := newSink(0, buf)
	log := slog.New(newHandler(handlerOptions{level: slog.LevelWarn, out: s}))
	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, s.close())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.ErrorIs(t, s.write([]byte("late\n")), errSinkClosed)
}

func TestMaskValue(t *testing.T) {
	for in, want := range map[string]string{"": "", "ab": "**", "abcd": "****", "ABC234": "A****4"} {
		assert.Equal(t, want, maskValue(in), in)
	}
}
