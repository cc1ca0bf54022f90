package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env string
	Log LogConfig

	Port        string
	MetricsAddr string // worker only; the API serves /metrics on Port

	StateBackend string // memory | mysql | postgres
	DSN          string // required for mysql and postgres

	// Optional: run migrations at startup (dev convenience)
	RunMigrations bool
	MigrationsDir string

	RulesFile string // empty uses the embedded defaults

	JWTPublicKeyPEM string

	Channel ChannelConfig
	Outbox  OutboxConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type ChannelConfig struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
	RPS     float64
	Batch   bool
}

type OutboxConfig struct {
	BatchSize         int
	PollEvery         time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxRetries        int
	StuckAfter        time.Duration
	PurgeAfter        time.Duration
	HousekeepingEvery time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Env: v.GetString("ENV"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Port:            v.GetString("PORT"),
		MetricsAddr:     v.GetString("METRICS_ADDR"),
		StateBackend:    strings.ToLower(strings.TrimSpace(v.GetString("STATE_BACKEND"))),
		DSN:             v.GetString("DB_DSN"),
		RunMigrations:   v.GetBool("RUN_MIGRATIONS"),
		MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
		RulesFile:       v.GetString("RULES_FILE"),
		JWTPublicKeyPEM: v.GetString("JWT_PUBLIC_KEY_PEM"),
		Channel: ChannelConfig{
			Name:    v.GetString("CHANNEL_NAME"),
			BaseURL: v.GetString("CHANNEL_BASE_URL"),
			Token:   v.GetString("CHANNEL_TOKEN"),
			Timeout: v.GetDuration("CHANNEL_TIMEOUT"),
			RPS:     v.GetFloat64("CHANNEL_RPS"),
			Batch:   v.GetBool("CHANNEL_BATCH"),
		},
		Outbox: OutboxConfig{
			BatchSize:         v.GetInt("OUTBOX_BATCH_SIZE"),
			PollEvery:         v.GetDuration("OUTBOX_POLL_EVERY"),
			BackoffBase:       v.GetDuration("OUTBOX_BACKOFF_BASE"),
			BackoffMax:        v.GetDuration("OUTBOX_BACKOFF_MAX"),
			MaxRetries:        v.GetInt("OUTBOX_MAX_RETRIES"),
			StuckAfter:        v.GetDuration("OUTBOX_STUCK_AFTER"),
			PurgeAfter:        v.GetDuration("OUTBOX_PURGE_AFTER"),
			HousekeepingEvery: v.GetDuration("OUTBOX_HOUSEKEEPING_EVERY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("PORT", "8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("STATE_BACKEND", "memory")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("RUN_MIGRATIONS", false)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("RULES_FILE", "")
	v.SetDefault("JWT_PUBLIC_KEY_PEM", "")

	v.SetDefault("CHANNEL_NAME", "main")
	v.SetDefault("CHANNEL_BASE_URL", "")
	v.SetDefault("CHANNEL_TOKEN", "")
	v.SetDefault("CHANNEL_TIMEOUT", 10*time.Second)
	v.SetDefault("CHANNEL_RPS", 5.0)
	v.SetDefault("CHANNEL_BATCH", false)

	v.SetDefault("OUTBOX_BATCH_SIZE", 10)
	v.SetDefault("OUTBOX_POLL_EVERY", time.Second)
	v.SetDefault("OUTBOX_BACKOFF_BASE", 2*time.Second)
	v.SetDefault("OUTBOX_BACKOFF_MAX", 5*time.Minute)
	v.SetDefault("OUTBOX_MAX_RETRIES", 5)
	v.SetDefault("OUTBOX_STUCK_AFTER", 10*time.Minute)
	v.SetDefault("OUTBOX_PURGE_AFTER", 7*24*time.Hour)
	v.SetDefault("OUTBOX_HOUSEKEEPING_EVERY", time.Minute)
}

func (c Config) Validate() error {
	switch c.StateBackend {
	case "memory":
	case "mysql", "postgres":
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("DB_DSN is required when STATE_BACKEND=%s", c.StateBackend)
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q (use memory, mysql or postgres)", c.StateBackend)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.Outbox.BackoffBase <= 0 || c.Outbox.BackoffMax < c.Outbox.BackoffBase {
		return fmt.Errorf("OUTBOX_BACKOFF_BASE must be positive and not above OUTBOX_BACKOFF_MAX")
	}
	if strings.TrimSpace(c.Channel.Name) == "" {
		return fmt.Errorf("CHANNEL_NAME must not be empty")
	}
	return nil
}

// IsProduction reports whether ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// MigrationsPath returns the dialect subdirectory of MigrationsDir.
func (c Config) MigrationsPath() string {
	return strings.TrimRight(c.MigrationsDir, "/") + "/" + c.StateBackend
}
