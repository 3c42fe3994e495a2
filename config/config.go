package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. PORTAL_PUSH_VAPID_PRIVATE_KEY.
const EnvPrefix = "PORTAL"

// Config represents the overall application configuration.
type Config struct {
	Env      string         `yaml:"env"      envconfig:"ENV"`
	Server   ServerConfig   `yaml:"server"   envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Push     PushConfig     `yaml:"push"     envconfig:"PUSH"`
	Feed     FeedConfig     `yaml:"feed"     envconfig:"FEED"`
	Poller   PollerConfig   `yaml:"poller"   envconfig:"POLLER"`
	Realtime RealtimeConfig `yaml:"realtime" envconfig:"REALTIME"`
	Log      LogConfig      `yaml:"log"      envconfig:"LOG"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"               envconfig:"PORT"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" envconfig:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"   envconfig:"RATE_LIMIT_BURST"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"  envconfig:"CACHE_TTL_SECONDS"`
	AllowedOrigins  []string `yaml:"allowed_origins"    envconfig:"ALLOWED_ORIGINS"`
	// TriggerToken, when set, must be sent as a bearer token to POST /api/check-earthquakes.
	TriggerToken string `yaml:"trigger_token" envconfig:"TRIGGER_TOKEN"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"                    envconfig:"DRIVER"`
	DSN                    string `yaml:"dsn"                       envconfig:"DSN"`
	MaxOpenConns           int    `yaml:"max_open_conns"            envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"max_idle_conns"            envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" envconfig:"CONN_MAX_LIFETIME_MINUTES"`
	LogLevel               string `yaml:"log_level"                 envconfig:"LOG_LEVEL"`
}

// PushConfig holds the VAPID keys and delivery policy for web push notifications.
type PushConfig struct {
	PublicKey      string `yaml:"vapid_public_key"  envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey     string `yaml:"vapid_private_key" envconfig:"VAPID_PRIVATE_KEY"`
	Subject        string `yaml:"subject"           envconfig:"SUBJECT"`
	TTL            int    `yaml:"ttl"               envconfig:"TTL"`
	Concurrency    int    `yaml:"concurrency"       envconfig:"CONCURRENCY"`
	TimeoutSeconds int    `yaml:"timeout_seconds"   envconfig:"TIMEOUT_SECONDS"`
	PruneExpired   *bool  `yaml:"prune_expired"     envconfig:"PRUNE_EXPIRED"`
}

// FeedConfig describes the upstream earthquake feed.
type FeedConfig struct {
	URL            string        `yaml:"url"             envconfig:"URL"`
	HTTPProxy      string        `yaml:"http_proxy"      envconfig:"HTTP_PROXY"`
	TimeoutSeconds int           `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
	Timeout        time.Duration `yaml:"-"               ignored:"true"`
}

// PollerConfig controls the optional in-process schedule for the fan-out job.
type PollerConfig struct {
	Enabled         bool          `yaml:"enabled"          envconfig:"ENABLED"`
	IntervalSeconds int           `yaml:"interval_seconds" envconfig:"INTERVAL_SECONDS"`
	Interval        time.Duration `yaml:"-"                ignored:"true"`
}

// RealtimeConfig selects the broadcast broker.
type RealtimeConfig struct {
	Broker     string `yaml:"broker"      envconfig:"BROKER"`
	RedisURL   string `yaml:"redis_url"   envconfig:"REDIS_URL"`
	SendBuffer int    `yaml:"send_buffer" envconfig:"SEND_BUFFER"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"  envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

const (
	DefaultFeedURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/2.5_day.geojson"

	BrokerMemory = "memory"
	BrokerRedis  = "redis"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrInvalidBroker is returned when realtime.broker names an unknown implementation.
var ErrInvalidBroker = errors.New("realtime.broker must be memory or redis")

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

// ShouldPruneExpired reports whether expired push endpoints are deleted after delivery.
func (c PushConfig) ShouldPruneExpired() bool {
	return c.PruneExpired == nil || *c.PruneExpired
}

// Load reads the configuration from the given path. An empty path skips the
// file and builds the configuration from defaults and the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if os.Getenv(EnvPrefix+"_ENV") == "" && cfg.IsDevelopment() {
		// .env is optional; missing files are not an error.
		_ = godotenv.Load()
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Env == "" {
		c.Env = "development"
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 30
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("database.driver must be %s or %s, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.Push.Concurrency <= 0 {
		slog.Debug("push.concurrency is not set or invalid; defaulting to 8")
		c.Push.Concurrency = 8
	}
	if c.Push.TimeoutSeconds <= 0 {
		c.Push.TimeoutSeconds = 10
	}

	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.TimeoutSeconds <= 0 {
		c.Feed.TimeoutSeconds = 30
	}
	c.Feed.Timeout = time.Duration(c.Feed.TimeoutSeconds) * time.Second

	if c.Poller.IntervalSeconds <= 0 {
		c.Poller.IntervalSeconds = 60
	}
	c.Poller.Interval = time.Duration(c.Poller.IntervalSeconds) * time.Second

	if c.Realtime.Broker == "" {
		c.Realtime.Broker = BrokerMemory
	}
	if c.Realtime.Broker != BrokerMemory && c.Realtime.Broker != BrokerRedis {
		return ErrInvalidBroker
	}
	if c.Realtime.Broker == BrokerRedis && c.Realtime.RedisURL == "" {
		c.Realtime.RedisURL = "redis://localhost:6379/0"
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = 32
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	return nil
}
