// Package config loads service settings from the environment (and an optional .env file).
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config holds every setting the service reads at startup.
type Config struct {
	// --- Application ---
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Port     string `envconfig:"PORT" default:"5200"`
	// Comma separated list, trimmed in AllowedOriginList.
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	// Calendar-day rate limit windows are computed in this zone.
	Timezone string `envconfig:"APP_TIMEZONE" default:"Asia/Seoul"`

	// --- Database ---
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"loci.db"`

	// --- Gateway / upstream services ---
	ServiceToken     string        `envconfig:"LOCI_SERVICE_TOKEN" required:"true"`
	AuthServiceURL   string        `envconfig:"AUTH_SERVICE_URL"`
	SyncServiceURL   string        `envconfig:"SYNC_SERVICE_URL"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"1m"`
	PushGatewayURL   string        `envconfig:"PUSH_GATEWAY_URL"`
	PushGatewayToken string        `envconfig:"PUSH_GATEWAY_TOKEN"`

	// --- Intimacy ---
	LevelUpQueueSize int `envconfig:"LEVELUP_QUEUE_SIZE" default:"1024"`

	// --- Request limiting (user-facing trigger routes) ---
	UserRateLimitRPS   float64 `envconfig:"USER_RATE_LIMIT_RPS" default:"5"`
	UserRateLimitBurst int     `envconfig:"USER_RATE_LIMIT_BURST" default:"20"`

	// --- Notifications ---
	NotificationRetentionDays int `envconfig:"NOTIFICATION_RETENTION_DAYS" default:"30"`

	// --- Object storage (profile images) ---
	S3Bucket          string        `envconfig:"S3_BUCKET"`
	S3Region          string        `envconfig:"S3_REGION" default:"auto"`
	S3Endpoint        string        `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID     string        `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3PresignTTL      time.Duration `envconfig:"S3_PRESIGN_TTL" default:"24h"`
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("⚠️  No .env file found, reading environment variables directly")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (postgres|sqlite)", c.DBDriver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.LevelUpQueueSize <= 0 {
		return fmt.Errorf("LEVELUP_QUEUE_SIZE must be > 0")
	}
	if c.UserRateLimitRPS <= 0 || c.UserRateLimitBurst <= 0 {
		return fmt.Errorf("USER_RATE_LIMIT_RPS and USER_RATE_LIMIT_BURST must be > 0")
	}
	if c.NotificationRetentionDays <= 0 {
		return fmt.Errorf("NOTIFICATION_RETENTION_DAYS must be > 0")
	}
	return nil
}

// Location returns the reference time zone. Validate has already checked the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowedOriginList splits ALLOWED_ORIGINS and trims each entry.
func (c *Config) AllowedOriginList() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigureLogging applies LOG_LEVEL and picks a formatter for APP_ENV.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("unknown LOG_LEVEL %q, falling back to info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
