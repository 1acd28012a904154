package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	tgsender "github.com/Fechomap/cargas-gas/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Bot is used as is when set; otherwise one is built from Config.
	Bot *tele.Bot

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// NewBot builds a bot with the poller and HTTP client derived from cfg. The
// client timeout leaves headroom over the long poll timeout.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: NewPoller(cfg),
		Client: NewHTTPClient(ClientOptions{Timeout: longPollTimeout(cfg) + 20*time.Second}),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return bot, nil
}

// DispatcherOptionsFrom maps sender config onto dispatcher options.
func DispatcherOptionsFrom(cfg coreconfig.SenderConfig) tgsender.Options {
	return tgsender.Options{
		QueueSize:     cfg.QueueSize,
		Workers:       cfg.Workers,
		MaxRetries:    cfg.MaxRetries,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}
}

// RunTelegram wires opts into a bot and serves updates until ctx is done.
// OnStop runs before the dispatcher is closed.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt, release, err := prepare(ctx, opts)
	if err != nil {
		return err
	}
	defer release()

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			rt.Bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			rt.Bot.Handle(r.Endpoint, r.Handler)
		}
	}
	InitBotCommands(rt.Bot, rt.Registry)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}
	runErr := serve(ctx, rt.Bot)
	if opts.OnStop != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := opts.OnStop(stopCtx, rt); err != nil {
			return err
		}
	}
	return runErr
}

// prepare resolves the bot, registry and dispatcher. release closes the
// dispatcher and detaches it from the send helpers.
func prepare(ctx context.Context, opts RunOptions) (Runtime, func(), error) {
	start := time.Now()
	bot := opts.Bot
	if bot == nil {
		var err error
		if bot, err = NewBot(opts.Config); err != nil {
			return Runtime{}, nil, err
		}
	}
	announceMode(ctx, bot, opts, time.Since(start))

	rt := Runtime{Bot: bot, Registry: opts.Registry, Dispatcher: opts.Dispatcher}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Dispatcher == nil {
		do := opts.DispatcherOptions
		if do == (tgsender.Options{}) {
			do = DispatcherOptionsFrom(opts.Config.Sender)
		}
		rt.Dispatcher = tgsender.NewDispatcher(do)
	}
	if !opts.DisableHelperDispatcher {
		tghelpers.SetDispatcher(rt.Dispatcher)
	}
	release := func() {
		rt.Dispatcher.Close()
		if !opts.DisableHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}
	return rt, release, nil
}

// announceMode logs how updates arrive. In long poll mode a leftover webhook
// would keep getUpdates failing, so it is removed first.
func announceMode(ctx context.Context, bot *tele.Bot, opts RunOptions, took time.Duration) {
	if wh, ok := bot.Poller.(*tele.Webhook); ok {
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
			slog.String("mode", "webhook"),
			slog.String("listen", wh.Listen),
			slog.String("public_url", wh.Endpoint.PublicURL),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
		slog.String("mode", "polling"),
		slog.Duration("timeout", longPollTimeout(opts.Config)),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	if opts.DisableWebhookCleanup {
		return
	}
	if err := bot.RemoveWebhook(false); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "webhook.delete",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "webhook.delete", slog.String("status", "ok"))
}

// serve blocks in bot.Start until it returns or ctx is done. Cancellation is
// a clean stop.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}
