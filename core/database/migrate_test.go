package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/migrations"
)

func TestUpFilesSkipsDownAndDirs(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("--")},
		"000001_a.up.sql":   {Data: []byte("--")},
		"000001_a.down.sql": {Data: []byte("--")},
		"nested/x.up.sql":   {Data: []byte("--")},
	}
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, upFiles(fsys))
	assert.Equal(t, []uint64{1, 2}, upVersions(fsys))
}

func TestApplied(t *testing.T) {
	versions := []uint64{1, 2, 3}
	assert.Equal(t, 3, applied(versions, 0, 3))
	assert.Equal(t, 2, applied(versions, 1, 3))
	assert.Zero(t, applied(versions, 3, 3))
	assert.Zero(t, applied(versions, 2, 1))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups := upFiles(migrations.FS)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, upSuffix) + ".down.sql"
		f, err := migrations.FS.Open(down)
		require.NoError(t, err, down)
		_ = f.Close()
	}
}

func TestURLEscapesCredentials(t *testing.T) {
	got := URL(coreconfig.DatabaseConfig{User: "gas", Password: "p@ss word", Host: "db", Name: "cargas", SSLMode: "disable"})
	assert.Equal(t, "postgres://gas:p%40ss%20word@db:5432/cargas?sslmode=disable", got)
}

func TestDSNQuotesValues(t *testing.T) {
	got := DSN(coreconfig.DatabaseConfig{User: "gas", Password: "it's secret", Host: "db", Name: "cargas"})
	assert.Equal(t, `host=db port=5432 user=gas password='it\'s secret' dbname=cargas`, got)
}

func stubOpen(t *testing.T, ping error) sqlmock.Sqlmock {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(ping)
	if ping != nil {
		mock.ExpectClose()
	}
	prev := open
	open = func(string) (*sqlx.DB, error) { return sqlx.NewDb(raw, "sqlmock"), nil }
	t.Cleanup(func() { open = prev })
	return mock
}

func TestConnectConfiguresPool(t *testing.T) {
	mock := stubOpen(t, nil)
	db, err := Connect(context.Background(), coreconfig.DatabaseConfig{Host: "db", Name: "cargas", MaxConnections: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, db.Stats().MaxOpenConnections)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectClosesOnPingFailure(t *testing.T) {
	mock := stubOpen(t, assert.AnError)
	_, err := Connect(context.Background(), coreconfig.DatabaseConfig{Host: "db"})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
