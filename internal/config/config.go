package config

import (
	"fmt"
	"os"
	"playsync/internal/constants"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Username    string
	AuthCookie  string
	APIBaseURL  string
	GeekPlayURL string
	DBPath      string
	ServerPort  string
	LogLevel    string

	Sync  SyncConfig  `yaml:"sync"`
	Retry RetryConfig `yaml:"retry"`
	Stats StatsConfig `yaml:"stats"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	UploadPause time.Duration `yaml:"upload_pause"`
	Enabled     bool          `yaml:"enabled"`
}

// RetryConfig tunes the three backoff policies used by the retry interceptor.
type RetryConfig struct {
	StillProcessing ExponentialConfig `yaml:"still_processing"`
	RateLimited     FixedConfig       `yaml:"rate_limited"`
	Overloaded      FixedConfig       `yaml:"overloaded"`
}

type ExponentialConfig struct {
	InitialWait   time.Duration `yaml:"initial_wait"`
	Multiplier    float64       `yaml:"multiplier"`
	JitterPercent uint64        `yaml:"jitter_percent"`
	MaxWait       time.Duration `yaml:"max_wait"`
	MaxElapsed    time.Duration `yaml:"max_elapsed"`
}

type FixedConfig struct {
	Wait       time.Duration `yaml:"wait"`
	MaxRetries uint64        `yaml:"max_retries"`
}

type StatsConfig struct {
	IncludeIncomplete bool `yaml:"include_incomplete"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		Username:    getEnv("BGG_USERNAME", ""),
		AuthCookie:  getEnv("BGG_AUTH_COOKIE", ""),
		APIBaseURL:  getEnv("BGG_API_BASE_URL", "https://boardgamegeek.com"),
		GeekPlayURL: getEnv("BGG_GEEKPLAY_URL", "https://boardgamegeek.com/geekplay.php"),
		DBPath:      getEnv("DB_PATH", "plays.db"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
	cfg.Sync.Enabled = true

	if path := getEnv("SYNC_TUNING_FILE", ""); path != "" {
		if err := cfg.loadTuning(path); err != nil {
			return nil, err
		}
	}

	if v := getEnv("SYNC_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_INTERVAL %q: %w", v, err)
		}
		cfg.Sync.Interval = d
	}
	if v := getEnv("SYNC_ENABLED", ""); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_ENABLED %q: %w", v, err)
		}
		cfg.Sync.Enabled = enabled
	}

	cfg.applyDefaults()

	if cfg.Username == "" {
		return nil, fmt.Errorf("BGG_USERNAME is required")
	}

	logger.Info().
		Str("username", cfg.Username).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("sync_interval", cfg.Sync.Interval).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Bool("has_auth_cookie", cfg.AuthCookie != "").
		Msg("configuration loaded")

	return cfg, nil
}

// loadTuning reads the optional YAML file carrying sync, retry and stats settings.
func (c *Config) loadTuning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading tuning file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing tuning file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Sync.Interval == 0 {
		c.Sync.Interval = constants.DefaultDownloadInterval
	}
	if c.Sync.UploadPause == 0 {
		c.Sync.UploadPause = constants.DefaultUploadPause
	}
	c.Retry.applyDefaults()
}

func (r *RetryConfig) applyDefaults() {
	sp := &r.StillProcessing
	if sp.InitialWait == 0 {
		sp.InitialWait = constants.StillProcessingInitialWait
	}
	if sp.Multiplier == 0 {
		sp.Multiplier = constants.StillProcessingMultiplier
	}
	if sp.JitterPercent == 0 {
		sp.JitterPercent = constants.StillProcessingJitter
	}
	if sp.MaxWait == 0 {
		sp.MaxWait = constants.StillProcessingMaxWait
	}
	if sp.MaxElapsed == 0 {
		sp.MaxElapsed = constants.StillProcessingMaxElapsed
	}

	if r.RateLimited.Wait == 0 {
		r.RateLimited.Wait = constants.RateLimitedWait
	}
	if r.RateLimited.MaxRetries == 0 {
		r.RateLimited.MaxRetries = constants.RateLimitedMaxRetries
	}

	if r.Overloaded.Wait == 0 {
		r.Overloaded.Wait = constants.OverloadedWait
	}
	if r.Overloaded.MaxRetries == 0 {
		r.Overloaded.MaxRetries = constants.OverloadedMaxRetries
	}
}

// DefaultRetryConfig returns the retry settings used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	var r RetryConfig
	r.applyDefaults()
	return r
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
