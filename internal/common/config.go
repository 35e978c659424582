package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "YTCOMMENTS_"

// Config represents the application configuration
type Config struct {
	API       APIConfig       `toml:"api" yaml:"api"`
	Collector CollectorConfig `toml:"collector" yaml:"collector"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Ledger    LedgerConfig    `toml:"ledger" yaml:"ledger"`
	Claims    ClaimsConfig    `toml:"claims" yaml:"claims"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
}

// APIConfig configures the YouTube Data API client.
type APIConfig struct {
	BaseURL   string `toml:"base_url" yaml:"base_url" validate:"required,url"`
	Auth      string `toml:"auth" yaml:"auth" validate:"oneof=key bearer"` // "key" or "bearer"
	Timeout   string `toml:"timeout" yaml:"timeout" validate:"duration"`   // per request, e.g. "30s"
	PageSize  int    `toml:"page_size" yaml:"page_size" validate:"min=1,max=100"`
	TokenFile string `toml:"token_file" yaml:"token_file"` // credential file, read by LoadCredential
	APIKey    string `toml:"-" yaml:"-"`                   // YTCOMMENTS_API_KEY only, never from files
}

type CollectorConfig struct {
	Parallel       int     `toml:"parallel" yaml:"parallel" validate:"min=1,max=256"`
	BufferSize     int     `toml:"buffer_size" yaml:"buffer_size" validate:"min=1"`
	MaxRPS         float64 `toml:"max_rps" yaml:"max_rps" validate:"gte=0"` // per worker, 0 = unlimited
	MaxAttempts    int     `toml:"max_attempts" yaml:"max_attempts" validate:"min=1,max=50"`
	InitialBackoff string  `toml:"initial_backoff" yaml:"initial_backoff" validate:"duration"`
	MaxBackoff     string  `toml:"max_backoff" yaml:"max_backoff" validate:"duration"`
	ShutdownGrace  string  `toml:"shutdown_grace" yaml:"shutdown_grace" validate:"duration"`
	Output         string  `toml:"output" yaml:"output" validate:"required"` // base path, may contain {video_id}
}

type LoggingConfig struct {
	Level  string   `toml:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output" yaml:"output" validate:"dive,oneof=stdout console file"`
	File   string   `toml:"file" yaml:"file"` // used when output includes "file"
}

// LedgerConfig controls the on-disk run history.
type LedgerConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// ClaimsConfig enables cross-process video claims when RedisURL is set.
type ClaimsConfig struct {
	RedisURL string `toml:"redis_url" yaml:"redis_url"`
	TTL      string `toml:"ttl" yaml:"ttl" validate:"duration"`
}

type MetricsConfig struct {
	Addr string `toml:"addr" yaml:"addr"` // e.g. ":9090"; empty disables the endpoint
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://www.googleapis.com/youtube/v3",
			Auth:      "key",
			Timeout:   "30s",
			PageSize:  100,
			TokenFile: "token.txt",
		},
		Collector: CollectorConfig{
			Parallel:       8,
			BufferSize:     500,
			MaxRPS:         0,
			MaxAttempts:    5,
			InitialBackoff: "1s",
			MaxBackoff:     "30s",
			ShutdownGrace:  "10s",
			Output:         "comments.jsonl",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			File:   "logs/ytcomments.log",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "data/ledger",
		},
		Claims: ClaimsConfig{
			TTL: "1h",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
// CLI flags are applied by the caller afterwards.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies YTCOMMENTS_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// API
	if v := os.Getenv(EnvPrefix + "API_BASE_URL"); v != "" {
		config.API.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "API_AUTH"); v != "" {
		config.API.Auth = v
	}
	if v := os.Getenv(EnvPrefix + "API_TIMEOUT"); v != "" {
		config.API.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		config.API.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvPrefix + "TOKEN_FILE"); v != "" {
		config.API.TokenFile = v
	}

	// Collector
	if v := os.Getenv(EnvPrefix + "PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Collector.Parallel = n
		}
	}
	if v := os.Getenv(EnvPrefix + "BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Collector.BufferSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Collector.MaxRPS = f
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Collector.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SHUTDOWN_GRACE"); v != "" {
		config.Collector.ShutdownGrace = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT"); v != "" {
		config.Collector.Output = v
	}

	// Logging
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_OUTPUT"); v != "" {
		var outputs []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		config.Logging.File = v
	}

	// Ledger
	if v := os.Getenv(EnvPrefix + "LEDGER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Ledger.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "LEDGER_PATH"); v != "" {
		config.Ledger.Path = v
	}

	// Claims
	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		config.Claims.RedisURL = v
	}
	if v := os.Getenv(EnvPrefix + "CLAIM_TTL"); v != "" {
		config.Claims.TTL = v
	}

	// Metrics
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("duration", validDuration); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// parseDuration parses s, falling back to def when s is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return def
}

func (c APIConfig) RequestTimeout() time.Duration { return parseDuration(c.Timeout, 30*time.Second) }

func (c CollectorConfig) InitialBackoffDuration() time.Duration {
	return parseDuration(c.InitialBackoff, time.Second)
}

func (c CollectorConfig) MaxBackoffDuration() time.Duration {
	return parseDuration(c.MaxBackoff, 30*time.Second)
}

func (c CollectorConfig) ShutdownGraceDuration() time.Duration {
	return parseDuration(c.ShutdownGrace, 10*time.Second)
}

func (c ClaimsConfig) TTLDuration() time.Duration { return parseDuration(c.TTL, time.Hour) }

// ClaimsEnabled reports whether a Redis URL is configured.
func (c ClaimsConfig) ClaimsEnabled() bool { return strings.TrimSpace(c.RedisURL) != "" }
