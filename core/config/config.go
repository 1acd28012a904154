// Package config loads the process configuration from YAML, a .env file and
// the environment, then checks it before anything starts.
package config

import (
	"slices"
	"time"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// AdminIDs lists the bot operators allowed to process registration requests.
	AdminIDs []int64 `yaml:"admin_ids" envconfig:"TELEGRAM_ADMIN_IDS"`
	RunMode  string  `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds of 0 selects the runtime default.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig is required when RunMode is webhook.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig is read by logger.InitLogger.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile "debug" or "dev" switches the default format to kv.
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// AccessConfig drives the group restriction and sensitive-action stages.
type AccessConfig struct {
	// AllowedGroups is the chat allow-list. Empty disables group restriction.
	AllowedGroups []int64 `yaml:"allowed_groups" envconfig:"ALLOWED_GROUPS"`
	// AllowLinkedGroups lets chats already linked to a tenant through the restriction.
	AllowLinkedGroups   bool `yaml:"allow_linked_groups" envconfig:"ALLOW_LINKED_GROUPS"`
	MembershipTimeoutMS int  `yaml:"membership_timeout_ms" envconfig:"MEMBERSHIP_TIMEOUT_MS"`
}

// SenderConfig configures the outbound Telegram queue.
type SenderConfig struct {
	QueueSize      int     `yaml:"queue_size"`
	Workers        int     `yaml:"workers"`
	MaxRetries     int     `yaml:"max_retries"`
	RatePerSecond  float64 `yaml:"rate_per_second" envconfig:"SENDER_RATE_PER_SECOND"`
	Burst          int     `yaml:"burst"`
	FollowUpDelayS int     `yaml:"follow_up_delay_seconds"`
}

// DatabaseConfig holds the record store connection settings.
type DatabaseConfig struct {
	// Driver selects "postgres" or "memory".
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// RedisConfig enables the persisted session store and the audit stream.
type RedisConfig struct {
	URL         string `yaml:"url" envconfig:"REDIS_URL"`
	SessionTTLS int    `yaml:"session_ttl_seconds"`
	AuditStream string `yaml:"audit_stream"`
}

// StorageConfig selects where ticket photos end up.
type StorageConfig struct {
	// Driver is "telegram" (keep file ids) or "s3".
	Driver   string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	Bucket   string `yaml:"bucket" envconfig:"STORAGE_BUCKET"`
	Region   string `yaml:"region" envconfig:"STORAGE_REGION"`
	Endpoint string `yaml:"endpoint" envconfig:"STORAGE_ENDPOINT"`
	Prefix   string `yaml:"prefix"`
	// PublicURL is prepended to object keys when building links.
	PublicURL string `yaml:"public_url" envconfig:"STORAGE_PUBLIC_URL"`
}

// MetricsConfig exposes the Prometheus endpoint used by the diagnostics stage.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Update sources.
const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	StorageTelegram = "telegram"
	StorageS3       = "s3"
)

const (
	defaultMembershipTimeout = 3 * time.Second
	defaultTimezone          = "America/Mexico_City"
)

// Config aggregates the whole process configuration. It is read once at
// start and shared by reference afterwards.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
	Access   AccessConfig   `yaml:"access"`
	Sender   SenderConfig   `yaml:"sender"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Timezone string         `yaml:"timezone" envconfig:"DEFAULT_TIMEZONE"`

	admins map[int64]struct{}
	groups map[int64]struct{}
}

func (c *Config) index() {
	c.admins = make(map[int64]struct{}, len(c.Telegram.AdminIDs))
	for _, id := range c.Telegram.AdminIDs {
		if id != 0 {
			c.admins[id] = struct{}{}
		}
	}
	c.groups = make(map[int64]struct{}, len(c.Access.AllowedGroups))
	for _, id := range c.Access.AllowedGroups {
		c.groups[id] = struct{}{}
	}
}

// IsAdmin reports whether userID is one of the configured bot operators.
func (c *Config) IsAdmin(userID int64) bool {
	if c == nil {
		return false
	}
	if c.admins == nil {
		return containsID(c.Telegram.AdminIDs, userID)
	}
	_, ok := c.admins[userID]
	return ok
}

// GroupAllowed reports whether chatID is on the group allow-list.
func (c *Config) GroupAllowed(chatID int64) bool {
	if c == nil {
		return false
	}
	if c.groups == nil {
		return containsID(c.Access.AllowedGroups, chatID)
	}
	_, ok := c.groups[chatID]
	return ok
}

func containsID(ids []int64, id int64) bool { return slices.Contains(ids, id) }

// RestrictGroups reports whether the allow-list is active.
func (c *Config) RestrictGroups() bool {
	return c != nil && len(c.Access.AllowedGroups) > 0
}

// MembershipTimeout bounds live admin-role lookups against Telegram.
func (c *Config) MembershipTimeout() time.Duration {
	if c == nil || c.Access.MembershipTimeoutMS <= 0 {
		return defaultMembershipTimeout
	}
	return time.Duration(c.Access.MembershipTimeoutMS) * time.Millisecond
}

// Location returns the default timezone for tenants without one.
func (c *Config) Location() *time.Location {
	if c != nil {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// CoreConfig lets *Config satisfy the runner's config carrier.
func (c *Config) CoreConfig() *Config { return c }
