package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Tracking modes for visits served by the edge cache without reaching the app
const (
	TrackingLog  = "log"
	TrackingHook = "hook"
	TrackingOff  = "off"
)

type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	Port           string `yaml:"port"`
	BaseURL        string `yaml:"base_url"`     // Base URL for generating short URLs (e.g., http://localhost:8080)
	FrontendURL    string `yaml:"frontend_url"` // Allowed CORS origin for the JSON API
	Env            string `yaml:"env"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json or text
	} `yaml:"log"`

	Cache struct {
		TTL     time.Duration `yaml:"ttl"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"cache"`

	Edge struct {
		PurgeURL     string        `yaml:"purge_url"` // e.g. http://127.0.0.1, empty disables purging
		PurgeTimeout time.Duration `yaml:"purge_timeout"`
	} `yaml:"edge"`

	NatsURL string `yaml:"nats_url"`

	Tracking struct {
		Mode          string        `yaml:"mode"`
		AccessLogPath string        `yaml:"access_log_path"`
		OffsetPath    string        `yaml:"offset_path"`
		PollInterval  time.Duration `yaml:"poll_interval"`
		LookupTTL     time.Duration `yaml:"lookup_ttl"`
	} `yaml:"tracking"`

	Clicks struct {
		QueueSize     int           `yaml:"queue_size"`
		Workers       int           `yaml:"workers"`
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"clicks"`

	Password struct {
		MinDuration time.Duration `yaml:"min_duration"`
		RateLimit   int           `yaml:"rate_limit"`
		RateWindow  time.Duration `yaml:"rate_window"`
		BcryptCost  int           `yaml:"bcrypt_cost"`
	} `yaml:"password"`

	API struct {
		RateLimit         int           `yaml:"rate_limit"`
		RateWindow        time.Duration `yaml:"rate_window"`
		TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
	} `yaml:"api"`

	Codes struct {
		Length      int `yaml:"length"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"codes"`
}

// Default returns the configuration used when nothing overrides a value.
func Default() *Config {
	cfg := &Config{
		RedisURL:       "localhost:6379",
		Port:           "8080",
		Env:            "development",
		MigrateOnStart: true,
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Cache.TTL = time.Hour
	cfg.Cache.Timeout = 100 * time.Millisecond
	cfg.Edge.PurgeTimeout = 2 * time.Second
	cfg.Tracking.Mode = TrackingLog
	cfg.Tracking.OffsetPath = "access_log.offset"
	cfg.Tracking.PollInterval = time.Second
	cfg.Tracking.LookupTTL = 10 * time.Minute
	cfg.Clicks.QueueSize = 10000
	cfg.Clicks.Workers = 4
	cfg.Clicks.BatchSize = 100
	cfg.Clicks.FlushInterval = time.Second
	cfg.Password.MinDuration = 500 * time.Millisecond
	cfg.Password.RateLimit = 5
	cfg.Password.RateWindow = time.Minute
	cfg.Password.BcryptCost = 10
	cfg.API.RateLimit = 100
	cfg.API.RateWindow = time.Minute
	cfg.API.TrustProxyHeaders = true
	cfg.Codes.Length = 6
	cfg.Codes.MaxAttempts = 10
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, a .env file if present, and finally environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:3000"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.Port, "PORT")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.FrontendURL, "FRONTEND_URL")
	setString(&c.Env, "ENV")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Edge.PurgeURL, "EDGE_PURGE_URL")
	setString(&c.NatsURL, "NATS_URL")
	setString(&c.Tracking.Mode, "TRACKING_MODE")
	setString(&c.Tracking.AccessLogPath, "ACCESS_LOG_PATH")
	setString(&c.Tracking.OffsetPath, "OFFSET_PATH")

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	collect(setBool(&c.MigrateOnStart, "MIGRATE_ON_START"))
	collect(setBool(&c.API.TrustProxyHeaders, "TRUST_PROXY_HEADERS"))

	collect(setDuration(&c.Cache.TTL, "CACHE_TTL"))
	collect(setDuration(&c.Cache.Timeout, "CACHE_TIMEOUT"))
	collect(setDuration(&c.Edge.PurgeTimeout, "EDGE_PURGE_TIMEOUT"))
	collect(setDuration(&c.Tracking.PollInterval, "TRACKING_POLL_INTERVAL"))
	collect(setDuration(&c.Tracking.LookupTTL, "TRACKING_LOOKUP_TTL"))
	collect(setDuration(&c.Clicks.FlushInterval, "CLICK_FLUSH_INTERVAL"))
	collect(setDuration(&c.Password.MinDuration, "PASSWORD_MIN_DURATION"))
	collect(setDuration(&c.Password.RateWindow, "PASSWORD_RATE_WINDOW"))
	collect(setDuration(&c.API.RateWindow, "API_RATE_WINDOW"))

	collect(setInt(&c.Clicks.QueueSize, "CLICK_QUEUE_SIZE"))
	collect(setInt(&c.Clicks.Workers, "CLICK_WORKERS"))
	collect(setInt(&c.Clicks.BatchSize, "CLICK_BATCH_SIZE"))
	collect(setInt(&c.Password.RateLimit, "PASSWORD_RATE_LIMIT"))
	collect(setInt(&c.Password.BcryptCost, "BCRYPT_COST"))
	collect(setInt(&c.API.RateLimit, "API_RATE_LIMIT"))
	collect(setInt(&c.Codes.Length, "CODE_LENGTH"))
	collect(setInt(&c.Codes.MaxAttempts, "CODE_MAX_ATTEMPTS"))

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	switch c.Tracking.Mode {
	case TrackingLog, TrackingHook, TrackingOff:
	default:
		return fmt.Errorf("TRACKING_MODE must be one of log, hook, off (got %q)", c.Tracking.Mode)
	}
	if c.Tracking.Mode == TrackingLog && c.Tracking.AccessLogPath == "" {
		return fmt.Errorf("ACCESS_LOG_PATH is required when TRACKING_MODE=log")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.Password.MinDuration < 500*time.Millisecond {
		return fmt.Errorf("PASSWORD_MIN_DURATION must be at least 500ms")
	}
	if c.Codes.MaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Codes.Length < 1 || c.Codes.Length > 50 {
		return fmt.Errorf("CODE_LENGTH must be between 1 and 50")
	}
	if c.Password.RateLimit < 1 || c.Password.RateWindow <= 0 {
		return fmt.Errorf("PASSWORD_RATE_LIMIT and PASSWORD_RATE_WINDOW must be positive")
	}
	if c.API.RateLimit < 1 || c.API.RateWindow <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_RATE_WINDOW must be positive")
	}
	if c.Clicks.QueueSize < 1 || c.Clicks.Workers < 1 || c.Clicks.BatchSize < 1 {
		return fmt.Errorf("click queue size, workers and batch size must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
