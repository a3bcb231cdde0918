package config

import (
	"os"
	"strconv"
	"time"

	"pinabook/internal/cache"
	"pinabook/internal/database"
	"pinabook/internal/external"
	"pinabook/internal/messaging"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// Драйверы: postgres|memory, redis|local, nats|local
	StoreDriver string
	LockDriver  string
	BusDriver   string

	Database      database.Config
	NATS          messaging.Config
	Valkey        cache.Config
	Billing       external.BillingConfig
	ObjectStore   external.ObjectStoreConfig
	Elasticsearch ElasticsearchConfig

	RabbitMQURL string

	JWTSecret string
	JWTIssuer string

	Reservations  ReservationConfig
	Subscriptions SubscriptionConfig
	RateLimit     RateLimitConfig
}

type ReservationConfig struct {
	// LockTimeout bounds the wait for a contended slot.
	LockTimeout time.Duration
	LockTTL     time.Duration
}

type SubscriptionConfig struct {
	Cycle              time.Duration
	GracePeriod        time.Duration
	EvaluationInterval time.Duration
	DriftCheckInterval time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		LockDriver:  getEnv("LOCK_DRIVER", "local"),
		BusDriver:   getEnv("BUS_DRIVER", "local"),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "pinabook"),
			Password:           getEnv("DB_PASSWORD", "pinabook"),
			DBName:             getEnv("DB_NAME", "pinabook"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "pinabook"),
			ClientID:  getEnv("NATS_CLIENT_ID", "pinabook"),
		},

		Valkey: cache.Config{
			Addr:      getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:  os.Getenv("VALKEY_PASSWORD"),
			KeyPrefix: getEnv("VALKEY_LOCK_PREFIX", "pinabook:lock:"),
		},

		Billing: external.BillingConfig{
			BaseURL:  getEnv("BILLING_GATEWAY_URL", "http://localhost:8090"),
			TeamSlug: getEnv("BILLING_TEAM_SLUG", ""),
			Password: getEnv("BILLING_PASSWORD", ""),
			Timeout:  time.Duration(getEnvInt("BILLING_TIMEOUT_SEC", 10)) * time.Second,
			Retry: external.RetryPolicy{
				Attempts:        uint(getEnvInt("BILLING_RETRY_ATTEMPTS", 3)),
				InitialInterval: getEnvDuration("BILLING_RETRY_INITIAL", 200*time.Millisecond),
				MaxInterval:     getEnvDuration("BILLING_RETRY_MAX", 2*time.Second),
				Timeout:         time.Duration(getEnvInt("BILLING_TIMEOUT_SEC", 10)) * time.Second,
			},
		},

		ObjectStore: external.ObjectStoreConfig{
			Bucket:          os.Getenv("GCS_BUCKET"),
			CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			PublicBaseURL:   os.Getenv("GCS_PUBLIC_BASE_URL"),
			Retry:           external.DefaultRetryPolicy(),
		},

		Elasticsearch: LoadElasticsearchConfig(),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		Reservations: ReservationConfig{
			LockTimeout: getEnvDuration("SLOT_LOCK_TIMEOUT", 5*time.Second),
			LockTTL:     getEnvDuration("SLOT_LOCK_TTL", 15*time.Second),
		},

		Subscriptions: SubscriptionConfig{
			Cycle:              getEnvDuration("SUBSCRIPTION_CYCLE", 30*24*time.Hour),
			GracePeriod:        getEnvDuration("SUBSCRIPTION_GRACE_PERIOD", 7*24*time.Hour),
			EvaluationInterval: getEnvDuration("SUBSCRIPTION_EVALUATION_INTERVAL", time.Hour),
			DriftCheckInterval: getEnvDuration("COUNTER_DRIFT_CHECK_INTERVAL", 6*time.Hour),
		},

		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			RPS:     getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:   getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration принимает значения вида "30s", "720h"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
