package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"policyengine.dev/core/core/db"
)

// Config holds all application configuration for cmd/policyd and cmd/policyctl.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the debug HTTP server port (internal/httpapi)
	Port string

	// DB holds database configuration for the optional snapshot/audit store.
	// DSN is empty unless DATABASE_URL (or the DATABASE_* parts) is set.
	DB db.Config

	// RedisURL configures the optional jinnang/notice side-channel (internal/notify)
	// and, when set, is also where cmd/policyd consumes tool-call requests from.
	// Empty disables both.
	RedisURL string

	// SourcePrefix/TargetPrefix are the Path Mapper's default sandbox/host
	// path boundary.
	SourcePrefix string
	TargetPrefix string

	Queue QueueConfig
	LLM   LLMConfig
	OTel  OTelConfig
}

// LLMConfig configures the optional Context Compressor LLM client. An empty
// APIKey leaves the Task's LLMClient nil, which is valid: only Compress
// calls need it, and a transcript that never crosses the condense threshold
// never reaches the provider.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// QueueConfig configures the internal/queue consumer group cmd/policyd
// reads tool-call requests from.
type QueueConfig struct {
	Stream       string
	Group        string
	Consumer     string
	DLQStream    string
	BatchSize    int64
	BlockSeconds int
	MaxAttempts  int
}

// OTelConfig configures the optional OTLP tracing/logging export.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Headers        string
}

// Enabled reports whether an OTLP endpoint has been configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load loads configuration from environment variables, first loading a
// local .env file if one is present (silently ignored otherwise, since
// production deployments set real environment variables instead).
// It provides sensible defaults for local development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:          getEnv("POLICYD_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		RedisURL:     getEnv("REDIS_URL", ""),
		SourcePrefix: getEnv("POLICY_SOURCE_PREFIX", "/testbed"),
		TargetPrefix: getEnv("POLICY_TARGET_PREFIX", "/workspace/repo"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Queue: QueueConfig{
			Stream:       getEnv("POLICYD_QUEUE_STREAM", "policyd:requests"),
			Group:        getEnv("POLICYD_QUEUE_GROUP", "policyd"),
			Consumer:     getEnv("POLICYD_QUEUE_CONSUMER", hostnameOr("policyd-1")),
			DLQStream:    getEnv("POLICYD_QUEUE_DLQ_STREAM", "policyd:requests:dlq"),
			BatchSize:    int64(getEnvInt("POLICYD_QUEUE_BATCH_SIZE", 10)),
			BlockSeconds: getEnvInt("POLICYD_QUEUE_BLOCK_SECONDS", 5),
			MaxAttempts:  getEnvInt("POLICYD_QUEUE_MAX_ATTEMPTS", 5),
		},
		LLM: LLMConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		OTel: OTelConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "policyd"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		},
	}
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

// buildDSN constructs the database connection string from individual env vars.
// Returns "" (DB disabled) when DATABASE_URL is not set and no DATABASE_HOST is given.
func buildDSN() string {
	if dsn, ok := os.LookupEnv("DATABASE_URL"); ok {
		return dsn
	}
	host, ok := os.LookupEnv("DATABASE_HOST")
	if !ok {
		return ""
	}
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "policyengine")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
