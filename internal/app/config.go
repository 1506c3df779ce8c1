package app

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	BaseURL    string // Required: application origin (TABSESSION_BASE_URL)
	CookieName string // Optional: JWT cookie name (default: authsdk.DefaultCookieName)

	Backend      string // Optional: cookie storage (memory, sqlite, redis) (default: sqlite)
	DatabaseFile string // Optional: SQLite database file (default: ./tabsession.db)
	RedisURL     string // Optional: redis:// URL for the redis backend (default: redis://localhost:6379/0)
	RedisPrefix  string // Optional: key prefix for the redis backend (default: redisstore.DefaultPrefix)
	SealKeyFile  string // Optional: file holding key material for sealing cookie values; falls back to TABSESSION_SEAL_KEY

	MaxRetries     int           // Optional: retries for requests that got no response (default: 2, negative disables)
	MaxBackoff     time.Duration // Optional: cap on a single retry delay (default: 16s)
	RequestTimeout time.Duration // Optional: timeout for a request including retries (default: 30s)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: warn)
	LogFormat            string        // Log format (json, text) (default: text)
	HousekeepingInterval time.Duration // Expired cookie purge interval (default: 1h)
}

// SealKeyEnv holds cookie sealing key material when no key file is set.
const SealKeyEnv = "TABSESSION_SEAL_KEY"

// LoadConfig reads the configuration with priority flag > env > default. A
// .env file in the working directory is loaded first when present. args are
// the command line arguments without the program name; the remaining
// positional arguments are returned.
func LoadConfig(args []string) (Config, []string, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("tabsession", flag.ContinueOnError)
	flagBaseURL := fs.String("base-url", "", "application base URL (or TABSESSION_BASE_URL env)")
	flagBackend := fs.String("backend", "", "cookie storage: memory, sqlite or redis (or TABSESSION_BACKEND env)")
	flagDatabase := fs.String("db", "", "SQLite database file (or TABSESSION_DATABASE_FILE env)")
	flagRedisURL := fs.String("redis-url", "", "Redis URL (or TABSESSION_REDIS_URL env)")
	flagLogLevel := fs.String("log-level", "", "log level (or LOG_LEVEL env)")
	flagRetries := fs.String("max-retries", "", "retries for failed connections (or TABSESSION_MAX_RETRIES env)")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	cfg := Config{
		BaseURL:      getConfig(*flagBaseURL, "TABSESSION_BASE_URL", ""),
		CookieName:   os.Getenv("TABSESSION_COOKIE_NAME"),
		Backend:      getConfig(*flagBackend, "TABSESSION_BACKEND", BackendSQLite),
		DatabaseFile: getConfig(*flagDatabase, "TABSESSION_DATABASE_FILE", "tabsession.db"),
		RedisURL:     getConfig(*flagRedisURL, "TABSESSION_REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:  os.Getenv("TABSESSION_REDIS_PREFIX"),
		SealKeyFile:  os.Getenv("TABSESSION_SEAL_KEY_FILE"),

		MaxRetries:     getEnvIntOrDefault("TABSESSION_MAX_RETRIES", 0),
		MaxBackoff:     getEnvDurationOrDefault("TABSESSION_MAX_BACKOFF", 0),
		RequestTimeout: getEnvDurationOrDefault("TABSESSION_REQUEST_TIMEOUT", 0),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getConfig(*flagLogLevel, "LOG_LEVEL", "warn"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if *flagRetries != "" {
		n, err := strconv.Atoi(*flagRetries)
		if err != nil {
			return Config{}, nil, fmt.Errorf("invalid -max-retries: %w", err)
		}
		cfg.MaxRetries = n
	}

	if err := cfg.validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

func (cfg Config) validate() error {
	if err := validateBaseURL(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid TABSESSION_BASE_URL: %w", err)
	}
	switch cfg.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

func validateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnvOrDefault(envKey, defaultValue)
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

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
