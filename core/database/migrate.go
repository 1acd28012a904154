package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
)

const upSuffix = ".up.sql"

// Migrate waits for the server and applies every pending up migration in
// fsys. Running it on an up-to-date schema is a no-op.
func Migrate(ctx context.Context, cfg coreconfig.DatabaseConfig, fsys fs.FS) error {
	if err := WaitReady(ctx, cfg, readyTimeout); err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate", slog.String("err", err.Error()))
		return err
	}

	versions := upVersions(fsys)
	preview, truncated := logger.SummarizeStrings(upFiles(fsys), 6)
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "resolve",
		slog.Int("files_total", len(versions)),
		slog.String("files_preview", preview),
		slog.Bool("files_truncated", truncated),
	)

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("database: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, URL(cfg))
	if err != nil {
		return fmt.Errorf("database: init migrations: %w", err)
	}
	defer m.Close()

	from, _, _ := m.Version()
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "apply",
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("database: migrate up: %w", err)
	}
	to, _, _ := m.Version()

	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "summary",
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", applied(versions, uint64(from), uint64(to))),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// upFiles lists the up migrations at the root of fsys in name order.
func upFiles(fsys fs.FS) []string {
	names, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil
	}
	slices.Sort(names)
	return names
}

// upVersions is the sorted numeric prefix of every up migration.
func upVersions(fsys fs.FS) []uint64 {
	var out []uint64
	for _, name := range upFiles(fsys) {
		head, _, _ := strings.Cut(path.Base(name), "_")
		if v, err := strconv.ParseUint(head, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// applied counts the versions in (from, to].
func applied(versions []uint64, from, to uint64) int {
	n := 0
	for _, v := range versions {
		if v > from && v <= to {
			n++
		}
	}
	return n
}
