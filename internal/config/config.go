// Package config provides configuration management for the market scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Cache    CacheConfig
	Load     LoadConfig
	Renewal  RenewalConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// UpstreamConfig holds upstream marketplace API configuration
type UpstreamConfig struct {
	BaseURL       string
	LanguageCode  string
	ListTimeout   time.Duration
	DetailTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// PostgresConfig holds the optional snapshot archive database configuration.
// Archiving is disabled when Host is empty.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// CacheConfig holds cache TTL configuration
type CacheConfig struct {
	DetailTTL       time.Duration
	CatalogTTL      time.Duration
	StatNamesTTL    time.Duration
	StatusStaleness time.Duration
}

// LoadConfig holds catalog load configuration
type LoadConfig struct {
	BatchSize   int
	Workers     int
	UnitTimeout time.Duration
	PageDelay   time.Duration
	MaxPages    int
}

// RenewalConfig holds auto-renewal scheduler configuration
type RenewalConfig struct {
	Enabled      bool
	Interval     time.Duration
	PollInterval time.Duration
	InitialDelay time.Duration
	MinRatio     float64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func Load() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Upstream: UpstreamConfig{
			BaseURL:       getEnv("UPSTREAM_BASE_URL", "https://webapi.mir4global.com"),
			LanguageCode:  getEnv("UPSTREAM_LANGUAGE_CODE", "pt"),
			ListTimeout:   getEnvAsDuration("UPSTREAM_LIST_TIMEOUT", 15*time.Second),
			DetailTimeout: getEnvAsDuration("UPSTREAM_DETAIL_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
		},
		Postgres: PostgresConfig{
			Host:           getEnv("POSTGRES_HOST", ""),
			Port:           getEnv("POSTGRES_PORT", "5432"),
			Database:       getEnv("POSTGRES_DB", "market_scanner"),
			User:           getEnv("POSTGRES_USER", "scanner"),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
		},
		Cache: CacheConfig{
			DetailTTL:       getEnvAsDuration("CACHE_DETAIL_TTL", 720*time.Minute),
			CatalogTTL:      getEnvAsDuration("CACHE_CATALOG_TTL", 60*time.Minute),
			StatNamesTTL:    getEnvAsDuration("CACHE_STAT_NAMES_TTL", 120*time.Minute),
			StatusStaleness: getEnvAsDuration("CACHE_STATUS_STALENESS", 6*time.Hour),
		},
		Load: LoadConfig{
			BatchSize:   getEnvAsInt("LOAD_BATCH_SIZE", 10),
			Workers:     getEnvAsInt("LOAD_WORKERS", 5),
			UnitTimeout: getEnvAsDuration("LOAD_UNIT_TIMEOUT", 30*time.Second),
			PageDelay:   getEnvAsDuration("LOAD_PAGE_DELAY", 500*time.Millisecond),
			MaxPages:    getEnvAsInt("LOAD_MAX_PAGES", 100),
		},
		Renewal: RenewalConfig{
			Enabled:      getEnvAsBool("RENEWAL_ENABLED", true),
			Interval:     getEnvAsDuration("RENEWAL_INTERVAL", 4*time.Hour),
			PollInterval: getEnvAsDuration("RENEWAL_POLL_INTERVAL", 2*time.Minute),
			InitialDelay: getEnvAsDuration("RENEWAL_INITIAL_DELAY", 90*time.Second),
			MinRatio:     getEnvAsFloat("RENEWAL_MIN_RATIO", 0.5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// ArchiveEnabled reports whether the snapshot archive database is configured
func (c *Config) ArchiveEnabled() bool {
	return c.Postgres.Host != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
