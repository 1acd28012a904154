package bootstrap

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemoryDriverSkipsDatabase(t *testing.T) {
	cfg := &coreconfig.Config{Database: coreconfig.DatabaseConfig{Driver: coreconfig.DriverMemory}}
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			t.Fatal("connect must not run for memory driver")
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.Nil(t, res.Redis)
	assert.NoError(t, res.Close())
}

func TestRunMigrationsBeforeConnect(t *testing.T) {
	cfg := &coreconfig.Config{Database: coreconfig.DatabaseConfig{Driver: coreconfig.DriverPostgres}}
	var order []string
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		Migrations: fstest.MapFS{},
		LoggerInit: noLogger,
		Migrate: func(context.Context, coreconfig.DatabaseConfig, fs.FS) error {
			order = append(order, "migrate")
			return nil
		},
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			order = append(order, "connect")
			return nil, errors.New("refused")
		},
	})
	assert.ErrorContains(t, err, "bootstrap: database: refused")
	assert.Equal(t, []string{"migrate", "connect"}, order)
}

func TestRunOpensRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &coreconfig.Config{
		Database: coreconfig.DatabaseConfig{Driver: coreconfig.DriverMemory},
		Redis:    coreconfig.RedisConfig{URL: "redis://" + mr.Addr()},
	}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	require.NoError(t, err)
	require.NotNil(t, res.Redis)
	require.NoError(t, res.Redis.Set(context.Background(), "k", "v", 0).Err())
	assert.NoError(t, res.Close())
}

func TestRunRedisFailure(t *testing.T) {
	cfg := &coreconfig.Config{
		Database: coreconfig.DatabaseConfig{Driver: coreconfig.DriverMemory},
		Redis:    coreconfig.RedisConfig{URL: "redis://x"},
	}
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Redis: func(context.Context, coreconfig.RedisConfig) (redis.UniversalClient, error) {
			return nil, errors.New("down")
		},
	})
	assert.ErrorContains(t, err, "bootstrap: redis: down")
}

func TestRunStopsOnLoggerFailure(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return errors.New("no dir") },
	})
	assert.ErrorContains(t, err, "bootstrap: logger")
}
