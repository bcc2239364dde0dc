package paykit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/payclient/pkg/httpx"
	"github.com/aussiebroadwan/payclient/pkg/payclient"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Required for the redis store
	Password string `yaml:"password"` // Optional
	DB       int    `yaml:"db"`       // Optional: database index (default: 0)
	Prefix   string `yaml:"prefix"`   // Optional: key prefix (default: payclient:)
}

type Config struct {
	ClientID     string `yaml:"client_id"`     // Required: OAuth2 client id
	ClientSecret string `yaml:"client_secret"` // Required: OAuth2 client secret

	BaseURL    string `yaml:"base_url"`     // Optional: standard API root (default: https://api.paypal.com/)
	AltBaseURL string `yaml:"alt_base_url"` // Optional: alternate API root (default: https://api-m.paypal.com/)
	Provider   string `yaml:"provider"`     // Optional: key for the persisted token record (default: paypal)

	SafetyMargin   time.Duration `yaml:"safety_margin"`   // Subtracted from token lifetime (default: 180s)
	AuthTimeout    time.Duration `yaml:"auth_timeout"`    // Token exchange timeout (default: 30s)
	RequestTimeout time.Duration `yaml:"request_timeout"` // API call timeout (default: 60s)

	Store      string      `yaml:"store"`       // Token store (memory, redis, sqlite) (default: memory)
	Redis      RedisConfig `yaml:"redis"`       // Used when Store is redis
	SQLitePath string      `yaml:"sqlite_path"` // Used when Store is sqlite (default: ./payclient.db)
	SealKey    string      `yaml:"seal_key"`    // Optional: encrypts persisted tokens when set

	RateLimit       httpx.RateLimitConfig `yaml:"rate_limit"`        // Optional: outbound throttling (default: off)
	RequestIDHeader string                `yaml:"request_id_header"` // Optional: header stamped with a ULID per request

	Env       string `yaml:"env"`        // Environment (dev, staging, prod) (default: dev)
	LogLevel  string `yaml:"log_level"`  // Log level (debug, info, warn, error) (default: info)
	LogFormat string `yaml:"log_format"` // Log format (json, text) (default: json)
}

func defaultConfig() Config {
	return Config{
		BaseURL:        payclient.DefaultBaseURL,
		AltBaseURL:     payclient.DefaultAlternateBaseURL,
		Provider:       payclient.DefaultProviderName,
		SafetyMargin:   payclient.DefaultSafetyMargin,
		AuthTimeout:    payclient.DefaultAuthTimeout,
		RequestTimeout: payclient.DefaultRequestTimeout,
		Store:          StoreMemory,
		Redis:          RedisConfig{Addr: "localhost:6379"},
		SQLitePath:     "payclient.db",
		RateLimit:      httpx.Unlimited,
		Env:            "dev",
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadConfig builds a Config from defaults and PAYCLIENT_* environment variables.
func LoadConfig() Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return cfg
}

// LoadConfigFile reads a YAML file on top of the defaults. Environment
// variables still take precedence over the file.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ClientID = getEnvOrDefault("PAYCLIENT_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getEnvOrDefault("PAYCLIENT_CLIENT_SECRET", cfg.ClientSecret)
	cfg.BaseURL = getEnvOrDefault("PAYCLIENT_BASE_URL", cfg.BaseURL)
	cfg.AltBaseURL = getEnvOrDefault("PAYCLIENT_ALT_BASE_URL", cfg.AltBaseURL)
	cfg.Provider = getEnvOrDefault("PAYCLIENT_PROVIDER", cfg.Provider)

	cfg.SafetyMargin = getEnvDurationOrDefault("PAYCLIENT_SAFETY_MARGIN", cfg.SafetyMargin)
	cfg.AuthTimeout = getEnvDurationOrDefault("PAYCLIENT_AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.RequestTimeout = getEnvDurationOrDefault("PAYCLIENT_REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.Store = strings.ToLower(getEnvOrDefault("PAYCLIENT_STORE", cfg.Store))
	cfg.Redis.Addr = getEnvOrDefault("PAYCLIENT_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("PAYCLIENT_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("PAYCLIENT_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Prefix = getEnvOrDefault("PAYCLIENT_REDIS_PREFIX", cfg.Redis.Prefix)
	cfg.SQLitePath = getEnvOrDefault("PAYCLIENT_SQLITE_PATH", cfg.SQLitePath)
	cfg.SealKey = getEnvOrDefault("PAYCLIENT_SEAL_KEY", cfg.SealKey)

	cfg.RateLimit = httpx.ParseRateLimitFromEnv("PAYCLIENT", cfg.RateLimit)
	cfg.RequestIDHeader = getEnvOrDefault("PAYCLIENT_REQUEST_ID_HEADER", cfg.RequestIDHeader)

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if err := c.ClientConfig().Validate(); err != nil {
		return err
	}

	switch c.Store {
	case StoreMemory, "":
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("paykit: redis store requires an address")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("paykit: sqlite store requires a path")
		}
	default:
		return fmt.Errorf("paykit: unknown token store %q", c.Store)
	}

	if c.RateLimit.RequestsPerWindow < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("paykit: rate limit values must not be negative")
	}
	return nil
}

// ClientConfig converts c into the payclient configuration.
func (c Config) ClientConfig() payclient.Config {
	return payclient.Config{
		ClientID:         c.ClientID,
		ClientSecret:     c.ClientSecret,
		BaseURL:          c.BaseURL,
		AlternateBaseURL: c.AltBaseURL,
		ProviderName:     c.Provider,
		SafetyMargin:     c.SafetyMargin,
		AuthTimeout:      c.AuthTimeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "3m", "30s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds, matching the provider's expires_in unit
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
