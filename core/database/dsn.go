// Package database opens the Postgres pool and applies the embedded schema
// migrations.
package database

import (
	"cmp"
	"net"
	"net/url"
	"strings"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
)

const defaultPort = "5432"

// DSN renders the lib/pq keyword/value form. Values are quoted when they
// contain spaces or quotes.
func DSN(cfg coreconfig.DatabaseConfig) string {
	pairs := [][2]string{
		{"host", cfg.Host},
		{"port", cmp.Or(cfg.Port, defaultPort)},
		{"user", cfg.User},
		{"password", cfg.Password},
		{"dbname", cfg.Name},
		{"sslmode", cfg.SSLMode},
	}
	var b strings.Builder
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(quote(kv[1]))
	}
	return b.String()
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// URL renders the postgres:// form golang-migrate expects.
func URL(cfg coreconfig.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cmp.Or(cfg.Port, defaultPort)),
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}
