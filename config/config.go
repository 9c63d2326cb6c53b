// Package config loads and validates the SecuriWatch engine configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"securiwatch/core"

	"github.com/spf13/viper"
)

// DestinationConfig configures one alert sink.
type DestinationConfig struct {
	Name        string `mapstructure:"name"`
	Type        string `mapstructure:"type"` // "webhook" or "email"
	MinSeverity string `mapstructure:"min_severity"`

	// Webhook settings
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`

	// Email settings
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUsername string   `mapstructure:"smtp_username"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	FromAddress  string   `mapstructure:"from_address"`
	ToAddresses  []string `mapstructure:"to_addresses"`
}

// Config holds all configuration for the engine.
type Config struct {
	DataPaths struct {
		// DataDir is the base data directory (SECURIWATCH_DATA_DIR).
		DataDir string `mapstructure:"data_dir"`
		// SQLitePath is the database file path (SECURIWATCH_SQLITE_PATH).
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"data_paths"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		// RateLimit is the sustained ingress rate in records per second;
		// RateBurst the tolerated burst above it.
		RateLimit float64 `mapstructure:"rate_limit"`
		RateBurst int     `mapstructure:"rate_burst"`
	} `mapstructure:"api"`

	Engine struct {
		// Workers and QueueSize shape the pipeline worker pool.
		Workers   int `mapstructure:"workers"`
		QueueSize int `mapstructure:"queue_size"`
		// DedupCacheSize bounds the normalizer's fingerprint LRU.
		DedupCacheSize int `mapstructure:"dedup_cache_size"`
		// RuleReloadSeconds is the rule snapshot refresh cadence.
		RuleReloadSeconds int `mapstructure:"rule_reload_seconds"`
		// CorrelationWindowHours bounds incident correlation, default 24.
		CorrelationWindowHours int `mapstructure:"correlation_window_hours"`
		// AutoResolveDays closes open incidents idle for this many days;
		// zero disables the sweep.
		AutoResolveDays int `mapstructure:"auto_resolve_days"`
		// SweepIntervalMinutes is the auto-resolve trigger cadence.
		SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
	} `mapstructure:"engine"`

	Alerting struct {
		// SeverityThreshold gates dispatching, default HIGH.
		SeverityThreshold string `mapstructure:"severity_threshold"`
		// MaxAttempts is the delivery retry budget per alert, default 3.
		MaxAttempts  int                 `mapstructure:"max_attempts"`
		Destinations []DestinationConfig `mapstructure:"destinations"`
	} `mapstructure:"alerting"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults registers default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rate_limit", 500.0)
	v.SetDefault("api.rate_burst", 1000)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.dedup_cache_size", 4096)
	v.SetDefault("engine.rule_reload_seconds", 30)
	v.SetDefault("engine.correlation_window_hours", 24)
	v.SetDefault("engine.auto_resolve_days", 7)
	v.SetDefault("engine.sweep_interval_minutes", 60)
	v.SetDefault("alerting.severity_threshold", string(core.SeverityHigh))
	v.SetDefault("alerting.max_attempts", 3)
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from the given file (optional), environment
// variables prefixed SECURIWATCH_, and defaults, in that precedence order.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SECURIWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataPaths.SQLitePath == "" {
		cfg.DataPaths.SQLitePath = cfg.DataPaths.DataDir + "/securiwatch.db"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port: %d", c.API.Port)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Engine.CorrelationWindowHours < 1 {
		return fmt.Errorf("engine.correlation_window_hours must be at least 1, got %d", c.Engine.CorrelationWindowHours)
	}
	if !core.Severity(c.Alerting.SeverityThreshold).IsValid() {
		return fmt.Errorf("invalid alerting.severity_threshold: %q", c.Alerting.SeverityThreshold)
	}
	if c.Alerting.MaxAttempts < 1 {
		return fmt.Errorf("alerting.max_attempts must be at least 1, got %d", c.Alerting.MaxAttempts)
	}
	for i, dest := range c.Alerting.Destinations {
		switch dest.Type {
		case "webhook":
			if dest.URL == "" {
				return fmt.Errorf("destination %d (%s): webhook requires url", i, dest.Name)
			}
		case "email":
			if dest.SMTPHost == "" || len(dest.ToAddresses) == 0 {
				return fmt.Errorf("destination %d (%s): email requires smtp_host and to_addresses", i, dest.Name)
			}
		default:
			return fmt.Errorf("destination %d (%s): unknown type %q", i, dest.Name, dest.Type)
		}
		if dest.MinSeverity != "" && !core.Severity(dest.MinSeverity).IsValid() {
			return fmt.Errorf("destination %d (%s): invalid min_severity %q", i, dest.Name, dest.MinSeverity)
		}
	}
	return nil
}

// CorrelationWindow returns the configured window as a duration.
func (c *Config) CorrelationWindow() time.Duration {
	return time.Duration(c.Engine.CorrelationWindowHours) * time.Hour
}

// RuleReloadInterval returns the snapshot refresh cadence.
func (c *Config) RuleReloadInterval() time.Duration {
	return time.Duration(c.Engine.RuleReloadSeconds) * time.Second
}
