// Package config loads and validates the auditd configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUDIT_ prefix, so AUDIT_QUEUE_CAPACITY
// overrides queue.capacity in the YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	audit "github.com/fanengagement/go-audit"
)

// Config holds all auditd configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Persister PersisterConfig `mapstructure:"persister"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redaction RedactionConfig `mapstructure:"redaction"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Format string `mapstructure:"format"` // json or text
	Level  string `mapstructure:"level"`
}

// DatabaseConfig selects the event store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type QueueConfig struct {
	Capacity       int    `mapstructure:"capacity"`
	OverflowPolicy string `mapstructure:"overflow_policy"`
}

type PersisterConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff  time.Duration `mapstructure:"max_retry_backoff"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	SyncTimeout      time.Duration `mapstructure:"sync_timeout"`
}

// FallbackConfig configures the rotating spill file. An empty Path disables
// the file and leaves only the last-resort log.
type FallbackConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RetentionConfig struct {
	Days         int           `mapstructure:"days"`
	BatchSize    int           `mapstructure:"batch_size"`
	Pause        time.Duration `mapstructure:"pause"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RunHour      int           `mapstructure:"run_hour"`
	RunMinute    int           `mapstructure:"run_minute"`
}

type ExportConfig struct {
	MaxRange   time.Duration `mapstructure:"max_range"`
	BatchSize  int           `mapstructure:"batch_size"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RatePeriod time.Duration `mapstructure:"rate_period"`
	RateBurst  int           `mapstructure:"rate_burst"`
}

// RedisConfig points the export limiter at a shared Redis. An empty Addr
// keeps the limiter in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RedactionConfig struct {
	Fields []string `mapstructure:"fields"`
}

// bindEnvVars binds every key explicitly; AutomaticEnv alone is not consulted
// by Unmarshal for keys that have no default or file value.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.addr",
		"server.read_timeout",
		"server.shutdown_timeout",

		"log.format",
		"log.level",

		"database.driver",
		"database.dsn",
		"database.max_conns",

		"queue.capacity",
		"queue.overflow_policy",

		"persister.batch_size",
		"persister.flush_interval",
		"persister.max_retries",
		"persister.retry_backoff",
		"persister.max_retry_backoff",
		"persister.drain_timeout",
		"persister.breaker_threshold",
		"persister.breaker_cooldown",
		"persister.sync_timeout",

		"fallback.path",
		"fallback.max_size_mb",
		"fallback.max_backups",
		"fallback.max_age_days",
		"fallback.compress",

		"retention.days",
		"retention.batch_size",
		"retention.pause",
		"retention.batch_timeout",
		"retention.run_hour",
		"retention.run_minute",

		"export.max_range",
		"export.batch_size",
		"export.rate_limit",
		"export.rate_period",
		"export.rate_burst",

		"redis.addr",
		"redis.password",
		"redis.db",

		"auth.jwt_secret",
		"auth.issuer",

		"redaction.fields",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from configPath (or config.yaml in the usual
// locations when empty), applies AUDIT_* overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/auditd")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = os.ExpandEnv(cfg.Auth.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := audit.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("queue.capacity", d.QueueCapacity)
	v.SetDefault("queue.overflow_policy", d.OverflowPolicy.String())

	v.SetDefault("persister.batch_size", d.Persister.BatchSize)
	v.SetDefault("persister.flush_interval", d.Persister.FlushInterval)
	v.SetDefault("persister.max_retries", d.Persister.MaxRetries)
	v.SetDefault("persister.retry_backoff", d.Persister.RetryBackoff)
	v.SetDefault("persister.max_retry_backoff", d.Persister.MaxRetryBackoff)
	v.SetDefault("persister.drain_timeout", d.Persister.DrainTimeout)
	v.SetDefault("persister.breaker_threshold", d.Persister.BreakerThreshold)
	v.SetDefault("persister.breaker_cooldown", d.Persister.BreakerCooldown)
	v.SetDefault("persister.sync_timeout", d.SyncTimeout)

	v.SetDefault("fallback.path", "/var/lib/auditd/fallback.jsonl")
	v.SetDefault("fallback.max_size_mb", 100)
	v.SetDefault("fallback.max_backups", 10)
	v.SetDefault("fallback.max_age_days", 0)
	v.SetDefault("fallback.compress", true)

	v.SetDefault("retention.days", d.Retention.RetentionDays)
	v.SetDefault("retention.batch_size", d.Retention.BatchSize)
	v.SetDefault("retention.pause", d.Retention.Pause)
	v.SetDefault("retention.batch_timeout", d.Retention.BatchTimeout)
	v.SetDefault("retention.run_hour", d.Retention.RunHour)
	v.SetDefault("retention.run_minute", d.Retention.RunMinute)

	v.SetDefault("export.max_range", d.Query.MaxExportRange)
	v.SetDefault("export.batch_size", d.Query.ExportBatchSize)
	v.SetDefault("export.rate_limit", d.ExportRateLimit.Limit)
	v.SetDefault("export.rate_period", d.ExportRateLimit.Period)
	v.SetDefault("export.rate_burst", d.ExportRateLimit.Burst)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("redaction.fields", d.SensitiveFields)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or memory)", c.Database.Driver)
	}

	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if _, err := audit.ParseOverflowPolicy(c.Queue.OverflowPolicy); err != nil {
		return fmt.Errorf("queue.overflow_policy: %w", err)
	}
	if c.Persister.BatchSize < 1 {
		return fmt.Errorf("persister.batch_size must be at least 1, got %d", c.Persister.BatchSize)
	}
	if c.Persister.MaxRetries < 0 {
		return fmt.Errorf("persister.max_retries must not be negative")
	}

	if c.Retention.Days < audit.MinRetentionDays {
		return fmt.Errorf("retention.days must be at least %d, got %d", audit.MinRetentionDays, c.Retention.Days)
	}
	if c.Retention.BatchSize < 1 {
		return fmt.Errorf("retention.batch_size must be at least 1, got %d", c.Retention.BatchSize)
	}
	if c.Retention.RunHour < 0 || c.Retention.RunHour > 23 {
		return fmt.Errorf("retention.run_hour must be between 0 and 23, got %d", c.Retention.RunHour)
	}
	if c.Retention.RunMinute < 0 || c.Retention.RunMinute > 59 {
		return fmt.Errorf("retention.run_minute must be between 0 and 59, got %d", c.Retention.RunMinute)
	}

	if c.Export.MaxRange <= 0 {
		return fmt.Errorf("export.max_range must be positive")
	}
	if c.Export.RateLimit < 1 || c.Export.RatePeriod <= 0 {
		return fmt.Errorf("export.rate_limit and export.rate_period must be positive")
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Log.Format)
	}
	return nil
}

// ToPipeline maps the loaded configuration onto the pipeline's Config.
func (c *Config) ToPipeline() audit.Config {
	policy, _ := audit.ParseOverflowPolicy(c.Queue.OverflowPolicy)
	return audit.Config{
		QueueCapacity:   c.Queue.Capacity,
		OverflowPolicy:  policy,
		SyncTimeout:     c.Persister.SyncTimeout,
		SensitiveFields: c.Redaction.Fields,
		Persister: audit.PersisterConfig{
			BatchSize:        c.Persister.BatchSize,
			FlushInterval:    c.Persister.FlushInterval,
			MaxRetries:       c.Persister.MaxRetries,
			RetryBackoff:     c.Persister.RetryBackoff,
			MaxRetryBackoff:  c.Persister.MaxRetryBackoff,
			WriteTimeout:     audit.DefaultConfig().Persister.WriteTimeout,
			DrainTimeout:     c.Persister.DrainTimeout,
			BreakerThreshold: c.Persister.BreakerThreshold,
			BreakerCooldown:  c.Persister.BreakerCooldown,
		},
		Retention: audit.PurgerConfig{
			RetentionDays: c.Retention.Days,
			BatchSize:     c.Retention.BatchSize,
			Pause:         c.Retention.Pause,
			BatchTimeout:  c.Retention.BatchTimeout,
			RunHour:       c.Retention.RunHour,
			RunMinute:     c.Retention.RunMinute,
		},
		Query: audit.QueryConfig{
			MaxExportRange:  c.Export.MaxRange,
			ExportBatchSize: c.Export.BatchSize,
		},
		ExportRateLimit: audit.RateLimitConfig{
			Limit:  c.Export.RateLimit,
			Period: c.Export.RatePeriod,
			Burst:  c.Export.RateBurst,
		},
	}
}

// FileSink returns the fallback sink settings.
func (c *Config) FileSink() audit.FileSinkConfig {
	return audit.FileSinkConfig{
		Path:       c.Fallback.Path,
		MaxSizeMB:  c.Fallback.MaxSizeMB,
		MaxBackups: c.Fallback.MaxBackups,
		MaxAgeDays: c.Fallback.MaxAgeDays,
		Compress:   c.Fallback.Compress,
	}
}
