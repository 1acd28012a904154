package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
)

const (
	driverName   = "postgres"
	pingTimeout  = 5 * time.Second
	readyTimeout = 30 * time.Second
	readyPause   = 2 * time.Second
)

// open is replaced in tests.
var open = func(dsn string) (*sqlx.DB, error) { return sqlx.Open(driverName, dsn) }

// Connect opens the pool and pings the server once.
func Connect(ctx context.Context, cfg coreconfig.DatabaseConfig) (*sqlx.DB, error) {
	start := time.Now()
	attrs := []slog.Attr{slog.String("host", cfg.Host), slog.String("db", cfg.Name)}

	db, err := open(DSN(cfg))
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pctx)
		cancel()
		if err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		logger.LogEvent(ctx, logger.DB, slog.LevelError, "db.connect", append(attrs,
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)...)
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	conns := max(cfg.MaxConnections, 1)
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(max(conns/2, 1))
	db.SetConnMaxIdleTime(30 * time.Minute)

	logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.connect", append(attrs,
		slog.Int("pool_open", conns),
		slog.Duration("duration", logger.Took(start)),
	)...)
	return db, nil
}

// WaitReady pings until the server answers, ctx ends or timeout passes.
func WaitReady(ctx context.Context, cfg coreconfig.DatabaseConfig, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dsn := DSN(cfg)
	for attempt := 1; ; attempt++ {
		err := ping(ctx, dsn)
		if err == nil {
			return nil
		}
		logger.LogEvent(ctx, logger.DB, slog.LevelDebug, "db.wait", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		select {
		case <-ctx.Done():
			return fmt.Errorf("database: not ready after %d attempts: %w", attempt, err)
		case <-time.After(readyPause):
		}
	}
}

func ping(ctx context.Context, dsn string) error {
	db, err := open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
