package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load reads path, then a .env file in the working directory, then the
// environment. Later sources win.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills defaults and reports every invalid setting at once.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	err := errors.Join(
		cfg.normalizeTelegram(),
		cfg.normalizeDatabase(),
		cfg.normalizeStorage(),
		cfg.normalizeRest(),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.index()
	return nil
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (c *Config) normalizeTelegram() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token (BOT_TOKEN) is required"))
	}
	mode := lower(c.Telegram.RunMode)
	if mode == "" || mode == "polling" {
		mode = RunModeLongpoll
	}
	c.Telegram.RunMode = mode
	switch mode {
	case RunModeLongpoll:
		if c.Telegram.LongPollTimeoutSeconds < 0 {
			errs = append(errs, errors.New("telegram.longpoll_timeout_seconds must be >= 0"))
		}
	case RunModeWebhook:
		if strings.TrimSpace(c.Webhook.URL) == "" {
			errs = append(errs, errors.New("webhook.url is required in webhook mode"))
		}
		if strings.TrimSpace(c.Webhook.Listen) == "" {
			errs = append(errs, errors.New("webhook.listen is required in webhook mode"))
		}
		if c.Webhook.Port <= 0 {
			errs = append(errs, errors.New("webhook.port must be > 0 in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.run_mode %q: want webhook or longpoll", mode))
	}
	return errors.Join(errs...)
}

func (c *Config) normalizeDatabase() error {
	db := &c.Database
	db.Driver = lower(db.Driver)
	switch db.Driver {
	case "":
		db.Driver = DriverPostgres
		fallthrough
	case DriverPostgres:
		if db.Host == "" || db.Name == "" {
			return errors.New("database.host and database.name are required for postgres")
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 10
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q: want postgres or memory", db.Driver)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	st := &c.Storage
	st.Driver = lower(st.Driver)
	switch st.Driver {
	case "":
		st.Driver = StorageTelegram
	case StorageTelegram:
	case StorageS3:
		if st.Bucket == "" {
			return errors.New("storage.bucket is required for s3")
		}
		if st.Region == "" {
			st.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("storage.driver %q: want telegram or s3", st.Driver)
	}
	return nil
}

func (c *Config) normalizeRest() error {
	var errs []error
	if c.Access.MembershipTimeoutMS < 0 {
		errs = append(errs, errors.New("access.membership_timeout_ms must be >= 0"))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Redis.SessionTTLS <= 0 {
		c.Redis.SessionTTLS = int((24 * time.Hour).Seconds())
	}
	if c.Timezone = strings.TrimSpace(c.Timezone); c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}
