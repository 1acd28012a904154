// Package cmd is the process entry point shared by the binaries: it resolves
// the config path, bootstraps the app and runs the bot until a signal arrives.
package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	coretelegram "github.com/Fechomap/cargas-gas/core/telegram"
)

// ConfigCarrier exposes the core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp builds the bot runtime options.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// MetricsApp is implemented by apps that serve /metrics.
type MetricsApp interface {
	MetricsHandler() http.Handler
}

// Closer is implemented by apps holding connections to release on exit.
type Closer interface {
	Close() error
}

// Options wires Run. LoadConfig and Bootstrap are required.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
	// Signals stop the bot. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

func (o Options) configPath() (string, error) {
	env := cmp.Or(o.ConfigEnvVar, "CONFIG_PATH")
	if p := cmp.Or(os.Getenv(env), o.DefaultConfigPath); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("cmd: no config path in $%s and no default", env)
}

// Run blocks until the bot stops. The metrics server, when enabled, shares the
// bot's lifetime: either one failing stops both.
func Run(opts Options) error {
	if opts.LoadConfig == nil || opts.Bootstrap == nil {
		return errors.New("cmd: LoadConfig and Bootstrap are required")
	}
	path, err := opts.configPath()
	if err != nil {
		return err
	}
	log.Printf("loading config: %s", path)
	carrier, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}
	cfg := carrier.CoreConfig()
	if cfg == nil {
		return errors.New("cmd: config has no core section")
	}

	started := time.Now()
	app, err := opts.Bootstrap(carrier)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer release(app, shutdownLogger)

	runOpts, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	hook(&runOpts, started)

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return run(gctx, runOpts) })
	if m, ok := app.(MetricsApp); ok && cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen, m.MetricsHandler()) })
	}
	return g.Wait()
}

// hook logs when the bot is ready and when it begins to stop, around any
// callbacks the app already set.
func hook(o *coretelegram.RunOptions, started time.Time) {
	onStart, onStop := o.OnStart, o.OnStop
	o.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready", slog.Duration("startup", logger.Took(started)))
		return nil
	}
	o.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown")
		if onStop == nil {
			return nil
		}
		return onStop(ctx, rt)
	}
}

func release(app TelegramApp, shutdownLogger func() error) {
	if c, ok := app.(Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn(logger.Background(), "app", "close.fail", slog.String("err", err.Error()))
		}
	}
	if err := shutdownLogger(); err != nil {
		log.Printf("logger shutdown: %v", err)
	}
}
