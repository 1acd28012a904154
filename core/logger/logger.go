// Package logger writes the bot's structured logs: one flat line per event
// with a component, an event name and the correlation ids of the update.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Fechomap/cargas-gas/core/buildinfo"
	coreconfig "github.com/Fechomap/cargas-gas/core/config"
)

var (
	initOnce sync.Once
	stopOnce sync.Once

	out   *sink
	files []io.Closer
	level slog.LevelVar

	debugSampler = newSampler(1, 50)

	traceAll bool

	// L is the root logger.
	L *slog.Logger

	// Component loggers, rebuilt from L by InitLogger.
	DB            *slog.Logger
	TG            *slog.Logger
	MIG           *slog.Logger
	TWire         *slog.Logger
	SVCOnboarding *slog.Logger
	SVCFuel       *slog.Logger
	SVCTenants    *slog.Logger
	SVCSessions   *slog.Logger
	SVCNotify     *slog.Logger
	Storage       *slog.Logger
)

// Output is discarded until InitLogger runs, so packages and tests can log
// unconditionally.
func init() {
	L = slog.New(slog.NewTextHandler(io.Discard, nil))
	scopeComponents()
}

// options is the resolved logging configuration.
type options struct {
	format  lineFormat
	order   []string
	level   slog.Level
	stacks  bool
	sampleN int
	sampleD int
	file    string
	profile string
}

func resolve(cfg *coreconfig.Config) options {
	o := options{format: formatJSON, order: defaultKeyOrder, level: slog.LevelInfo, sampleN: 1, sampleD: 50, profile: "prod"}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}
	o.order = parseKeyOrder(lc.KeysOrder)
	o.level = parseLevel(lc.Level)
	o.stacks = truthy(lc.Stacks)
	if ratio := strings.TrimSpace(lc.DebugSample); ratio != "" {
		n, d := parseRatio(ratio)
		switch {
		case n == 0 && d == 0:
			o.sampleN, o.sampleD = 0, 0
		case n > 0 && d > 0:
			o.sampleN, o.sampleD = n, d
		}
	}
	if dir, name := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.BotFile); dir != "" && name != "" {
		o.file = filepath.Join(dir, name)
	}
	return o
}

// InitLogger installs the configured handler as L and slog's default.
// Calls after the first are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		o := resolve(cfg)
		level.Set(o.level)
		debugSampler.set(o.sampleN, o.sampleD)
		traceAll = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))

		outputs := []io.Writer{os.Stdout}
		if o.file != "" {
			f, ferr := openLogFile(o.file)
			if ferr != nil {
				// The file is optional; stdout keeps working.
				fmt.Fprintf(os.Stderr, "logger: %v\n", ferr)
			} else {
				outputs = append(outputs, f)
				files = append(files, f)
			}
		}
		out = newSink(64<<10, outputs...)

		L = slog.New(newHandler(handlerOptions{
			level:  &level,
			out:    out,
			format: o.format,
			order:  o.order,
			stacks: o.stacks,
		}))
		slog.SetDefault(L)
		scopeComponents()
		announce(cfg, o)
	})
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func scopeComponents() {
	DB = L.With("component", "db")
	TG = L.With("component", "tg")
	MIG = L.With("component", "db.migrate")
	TWire = L.With("component", "tg.wire")
	SVCOnboarding = L.With("component", "service.onboarding")
	SVCFuel = L.With("component", "service.fuel")
	SVCTenants = L.With("component", "service.tenants")
	SVCSessions = L.With("component", "service.sessions")
	SVCNotify = L.With("component", "service.notify")
	Storage = L.With("component", "storage")
}

func announce(cfg *coreconfig.Config, o options) {
	attrs := []slog.Attr{
		slog.String("component", "app"),
		slog.String("go_version", runtime.Version()),
		slog.String("build", buildinfo.String()),
		slog.String("cfg_profile", o.profile),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("mode", cfg.Telegram.RunMode),
			slog.String("db", cfg.Database.Driver),
			slog.String("storage", cfg.Storage.Driver),
			slog.Int("admins", len(cfg.Telegram.AdminIDs)),
			slog.Int("allowed_groups", len(cfg.Access.AllowedGroups)),
		)
	}
	LogEvent(context.Background(), L, slog.LevelInfo, "startup", attrs...)
}

// Shutdown flushes pending lines and closes the log file.
func Shutdown() error {
	var errs []error
	stopOnce.Do(func() {
		if out != nil {
			errs = append(errs, out.flush(), out.close())
		}
		for _, f := range files {
			errs = append(errs, f.Close())
		}
	})
	return errors.Join(errs...)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
