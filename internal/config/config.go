package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMinIO    = "minio"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int `validate:"gte=0"`
	MaxIdleConns       int `validate:"gte=0"`
	ConnMaxLifetimeSec int `validate:"gte=0"`
}

// SQLiteConfig holds the SQLite database location.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	// Prefix namespaces every key written by the service.
	Prefix string
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// BreakerConfig controls the circuit breaker placed in front of the storage backend.
type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures int `validate:"gte=1"`
	TimeoutSec          int `validate:"gte=1"`
}

// PagingConfig bounds collection responses.
type PagingConfig struct {
	DefaultLimit int `validate:"gte=0"`
	MaxLimit     int `validate:"gte=0"`
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost        string
	Port           string `validate:"required,numeric"`
	Timezone       string
	LogLevel       string `validate:"oneof=debug info warn error"`
	Backend        string `validate:"oneof=memory postgres sqlite redis minio"`
	ConnectRetries int    `validate:"gte=0"`
	// CacheSize enables a read-through entity cache per resource when positive.
	CacheSize     int `validate:"gte=0"`
	BodyLimitByte int `validate:"gt=0"`
	Database      DatabaseConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	MinIO         MinIOConfig
	Breaker       BreakerConfig
	Paging        PagingConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:8080"),
		Port:           getEnv("PORT", "8080"),
		Timezone:       getEnv("APP_TIMEZONE", "UTC"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Backend:        getEnv("STORAGE_BACKEND", BackendMemory),
		ConnectRetries: getEnvInt("CONNECT_RETRIES", 5),
		CacheSize:      getEnvInt("CACHE_SIZE", 0),
		BodyLimitByte:  getEnvInt("BODY_LIMIT_BYTES", 4*1024*1024),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "resourceapi.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "resourceapi"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			Prefix:    getEnv("MINIO_PREFIX", "resources"),
		},
		Breaker: BreakerConfig{
			Enabled:             getEnvBool("BREAKER_ENABLED", true),
			ConsecutiveFailures: getEnvInt("BREAKER_FAILURES", 5),
			TimeoutSec:          getEnvInt("BREAKER_TIMEOUT_SEC", 30),
		},
		Paging: PagingConfig{
			DefaultLimit: getEnvInt("PAGE_DEFAULT_LIMIT", 50),
			MaxLimit:     getEnvInt("PAGE_MAX_LIMIT", 500),
		},
	}
}

var validate = validator.New()

// Validate checks field constraints and the settings the selected backend needs.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var errs []error
	switch c.Backend {
	case BackendPostgres:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("postgres backend requires DB_HOST, DB_USER and DB_NAME"))
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite backend requires SQLITE_PATH"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend requires REDIS_ADDR"))
		}
	case BackendMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			errs = append(errs, errors.New("minio backend requires MINIO_ENDPOINT and MINIO_BUCKET"))
		}
	}
	if c.Paging.MaxLimit > 0 && c.Paging.DefaultLimit > c.Paging.MaxLimit {
		errs = append(errs, fmt.Errorf("PAGE_DEFAULT_LIMIT %d exceeds PAGE_MAX_LIMIT %d", c.Paging.DefaultLimit, c.Paging.MaxLimit))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
