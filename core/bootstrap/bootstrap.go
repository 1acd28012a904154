// Package bootstrap opens the process-wide infrastructure in order: logger,
// schema, database pool and Redis.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	coredatabase "github.com/Fechomap/cargas-gas/core/database"
	"github.com/Fechomap/cargas-gas/core/logger"
)

const redisPingTimeout = 3 * time.Second

// Options selects what Run opens. The function fields default to the real
// implementations and exist for tests.
type Options struct {
	Config     *coreconfig.Config
	Migrations fs.FS

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig, fs.FS) error
	Redis      func(context.Context, coreconfig.RedisConfig) (redis.UniversalClient, error)
}

func (o *Options) defaults() {
	if o.LoggerInit == nil {
		o.LoggerInit = logger.InitLogger
	}
	if o.Connect == nil {
		o.Connect = coredatabase.Connect
	}
	if o.Migrate == nil {
		o.Migrate = coredatabase.Migrate
	}
	if o.Redis == nil {
		o.Redis = OpenRedis
	}
}

// Result holds the opened connections. DB is nil for the memory driver and
// Redis is nil when no URL is configured.
type Result struct {
	DB    *sqlx.DB
	Redis redis.UniversalClient
}

// Close releases every opened connection.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

type step struct {
	name string
	run  func(context.Context, *Result) error
}

// Run executes the steps in order. On failure whatever was opened is closed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	opts.defaults()

	steps := []step{{"logger", func(context.Context, *Result) error { return opts.LoggerInit(cfg) }}}
	if cfg.Database.Driver == coreconfig.DriverPostgres {
		if opts.Migrations != nil {
			steps = append(steps, step{"migrations", func(ctx context.Context, _ *Result) error {
				return opts.Migrate(ctx, cfg.Database, opts.Migrations)
			}})
		}
		steps = append(steps, step{"database", func(ctx context.Context, r *Result) (err error) {
			r.DB, err = opts.Connect(ctx, cfg.Database)
			return err
		}})
	}
	if cfg.Redis.URL != "" {
		steps = append(steps, step{"redis", func(ctx context.Context, r *Result) (err error) {
			r.Redis, err = opts.Redis(ctx, cfg.Redis)
			return err
		}})
	}

	res := &Result{}
	for _, s := range steps {
		if err := s.run(ctx, res); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: %s: %w", s.name, err)
		}
	}
	if res.DB == nil {
		logger.LogEvent(ctx, logger.DB, slog.LevelWarn, "db.memory", slog.String("driver", cfg.Database.Driver))
	}
	return res, nil
}

// OpenRedis parses the URL and pings the server once.
func OpenRedis(ctx context.Context, cfg coreconfig.RedisConfig) (redis.UniversalClient, error) {
	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(ropts)
	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.LogEvent(ctx, logger.Storage, slog.LevelInfo, "redis.connected", slog.String("addr", ropts.Addr))
	return client, nil
}
