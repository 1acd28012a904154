// Package app composes the bot: infrastructure from bootstrap, the record
// store, the workflows and the update chain in its fixed order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Fechomap/cargas-gas/core/bootstrap"
	"github.com/Fechomap/cargas-gas/core/cmd"
	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/middleware"
	"github.com/Fechomap/cargas-gas/core/telegram/router"
	tgsender "github.com/Fechomap/cargas-gas/core/telegram/sender"
	"github.com/Fechomap/cargas-gas/core/telegram/state"
	"github.com/Fechomap/cargas-gas/internal/audit"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/fuel"
	"github.com/Fechomap/cargas-gas/internal/help"
	"github.com/Fechomap/cargas-gas/internal/membership"
	"github.com/Fechomap/cargas-gas/internal/notify"
	"github.com/Fechomap/cargas-gas/internal/onboarding"
	"github.com/Fechomap/cargas-gas/internal/pipeline"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/storage"
	"github.com/Fechomap/cargas-gas/internal/store/memory"
	"github.com/Fechomap/cargas-gas/internal/store/postgres"
	"github.com/Fechomap/cargas-gas/internal/tenant"
	"github.com/Fechomap/cargas-gas/internal/workflow"
	"github.com/Fechomap/cargas-gas/migrations"

	tele "gopkg.in/telebot.v4"
)

const sessionPrefix = "cargas:session:"

// Store is everything the services read and write.
type Store interface {
	tenant.Store
	onboarding.Store
	fuel.Store
}

// App holds the composed bot.
type App struct {
	cfg        *coreconfig.Config
	infra      *bootstrap.Result
	bot        *tele.Bot
	dispatcher *tgsender.Dispatcher
	registry   *tg.Registry
	metrics    *prometheus.Registry
	engine     *workflow.Engine
	store      Store

	middlewares []tg.Middleware
	routes      []tg.Route
}

var (
	_ cmd.TelegramApp = (*App)(nil)
	_ cmd.MetricsApp  = (*App)(nil)
	_ cmd.Closer      = (*App)(nil)
)

// LoadConfig adapts config.Load to the runner.
func LoadConfig(path string) (cmd.ConfigCarrier, error) {
	cfg, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bootstrap opens the infrastructure and builds the bot.
func Bootstrap(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg := carrier.CoreConfig()
	infra, err := bootstrap.Run(context.Background(), bootstrap.Options{
		Config:     cfg,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}
	bot, err := tg.NewBot(cfg)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	a, err := New(cfg, infra, bot)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return a, nil
}

// New composes the app over already opened infrastructure. A nil DB selects
// the memory store and a nil Redis keeps sessions in process.
func New(cfg *coreconfig.Config, infra *bootstrap.Result, bot *tele.Bot) (*App, error) {
	if cfg == nil || bot == nil {
		return nil, errors.New("app: config and bot are required")
	}
	if infra == nil {
		infra = &bootstrap.Result{}
	}
	a := &App{
		cfg:        cfg,
		infra:      infra,
		bot:        bot,
		dispatcher: tgsender.NewDispatcher(tg.DispatcherOptionsFrom(cfg.Sender)),
		registry:   tg.NewRegistry(),
		metrics:    prometheus.NewRegistry(),
	}
	if err := a.compose(); err != nil {
		a.dispatcher.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) compose() error {
	cfg := a.cfg
	loc := cfg.Location()

	if a.infra.DB != nil {
		a.store = postgres.New(a.infra.DB)
	} else {
		a.store = memory.New()
	}
	recorder := audit.New(a.infra.Redis, cfg.Redis.AuditStream)
	directory := tenant.NewDirectory(a.store, cfg.Timezone)
	roles := membership.NewChecker(a.bot, cfg.MembershipTimeout())

	photos, err := storage.New(cfg.Storage, a.bot)
	if err != nil {
		return fmt.Errorf("app: storage: %w", err)
	}
	var username string
	if a.bot.Me != nil {
		username = a.bot.Me.Username
	}
	notifier := notify.New(a.bot, a.dispatcher, cfg, username)

	onb := onboarding.NewService(onboarding.Options{
		Store:           a.store,
		Notifier:        notifier,
		Audit:           recorder,
		DefaultTimezone: cfg.Timezone,
	})
	fuelSvc := fuel.NewService(fuel.Options{
		Store:     a.store,
		Photos:    photos,
		Announcer: notifier,
		Audit:     recorder,
	})

	a.engine, err = workflow.NewEngine(onboarding.NewMachine(onb), fuel.NewMachine(fuelSvc, loc))
	if err != nil {
		return err
	}
	if err := a.engine.Register(a.registry); err != nil {
		return err
	}
	if err := onboarding.NewHandlers(onb, a.engine, cfg).Register(a.registry); err != nil {
		return err
	}
	if err := fuel.NewHandlers(fuelSvc, a.engine, loc).Register(a.registry); err != nil {
		return err
	}
	help.New(directory, a.engine, cfg).Register(a.registry)

	metrics, err := middleware.NewMetrics(a.metrics)
	if err != nil {
		return fmt.Errorf("app: metrics: %w", err)
	}
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.middlewares = tg.DefaultMiddlewares(metrics, middleware.RecoverOptions{
		Message: func(err error) string { return domain.UserMessage(err, middleware.DefaultFailureText) },
		Code:    domain.CodeOf,
	})
	a.middlewares = append(a.middlewares, tg.Middleware{
		Name: "session",
		Use: state.WithSession[session.Session](state.Options[session.Session]{
			Store: a.sessionStore(),
			Codec: a.engine.Codec(),
		}),
	})
	a.middlewares = append(a.middlewares, pipeline.New(cfg, a.registry, directory, roles).Middlewares()...)

	a.routes = append(a.routes, router.CommandRoutes(a.registry)...)
	a.routes = append(a.routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	a.routes = append(a.routes, router.TextRoutes(a.engine, a.registry, router.TextOptions{})...)
	return nil
}

func (a *App) sessionStore() state.Store {
	if a.infra.Redis == nil {
		logger.LogEvent(context.Background(), logger.SVCSessions, slog.LevelWarn, "session.memory",
			slog.String("reason", "no_redis"),
		)
		return state.NewMemoryStore()
	}
	ttl := time.Duration(a.cfg.Redis.SessionTTLS) * time.Second
	return state.NewRedisStore(a.infra.Redis, sessionPrefix, ttl)
}

// CoreConfig implements cmd.ConfigCarrier.
func (a *App) CoreConfig() *coreconfig.Config { return a.cfg }

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    a.registry,
		Bot:         a.bot,
		Dispatcher:  a.dispatcher,
		Middlewares: a.middlewares,
		Routes:      a.routes,
	}, nil
}

// MetricsHandler implements cmd.MetricsApp.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})
}

// Close implements cmd.Closer. It also stops the dispatcher, which is safe
// after the runtime closed it.
func (a *App) Close() error {
	a.dispatcher.Close()
	return a.infra.Close()
}
