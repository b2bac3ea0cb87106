package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all process configuration so main stays lean.
type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	Kafka    Kafka
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	ShutdownTimeout time.Duration
}

// Database configures the PostgreSQL connection. An empty URL runs the
// service against in-memory stores, which is the development default.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis configures the idempotency-key store. Empty URL disables Redis and
// falls back to the in-memory implementation.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit event publisher. No brokers means audit events
// are persisted locally only.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds the full configuration from environment variables with
// development defaults.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envOr("GRANTA_ADDR", ":8080"),
			JWTSigningKey:   envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			ShutdownTimeout: envDurationOr("GRANTA_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envIntOr("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envIntOr("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDurationOr("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "granta.audit.events"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
