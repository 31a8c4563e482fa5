// Package config loads runtime settings for the API, worker and idemctl binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Backend names accepted by IDEMPOTENCY_BACKEND.
const (
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds shared runtime configuration.
type Config struct {
	RunLocal     bool
	HTTPAddr     string
	FunctionName string `validate:"required"`
	LogLevel     string `validate:"oneof=debug info warn error"`

	Backend            string        `validate:"oneof=dynamodb redis postgres memory"`
	Table              string        `validate:"required_if=Backend dynamodb"`
	TTL                time.Duration `validate:"gte=0"`
	UseLocalCache      bool
	LocalCacheMaxItems int `validate:"gte=1"`
	HashFunction       string
	ThrowOnNoKey       bool
	EventKeyJMESPath   string
	ValidationJMESPath string
	Disabled           bool

	KeyAttr              string
	ExpiryAttr           string
	InProgressExpiryAttr string
	StatusAttr           string
	DataAttr             string
	ValidationAttr       string
	SortKeyAttr          string
	StaticPKValue        string

	RedisAddr      string `validate:"required_if=Backend redis"`
	RedisPassword  string
	RedisDB        int `validate:"gte=0"`
	RedisKeyPrefix string

	PostgresDSN   string `validate:"required_if=Backend postgres"`
	PostgresTable string

	PaymentsTable         string
	ChargesQueueURL       string
	NotificationsQueueURL string
	MetricsNamespace      string
	MetricsFlushInterval  time.Duration `validate:"gt=0"`
}

// Load reads configuration from environment variables with defaults for local development.
func Load() (Config, error) {
	cfg := Config{
		RunLocal:     getEnvBool("RUN_LOCAL", false),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		FunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", "local"),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),

		Backend:            strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", BackendDynamoDB)),
		Table:              getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		TTL:                getEnvDuration("IDEMPOTENCY_TTL", time.Hour),
		UseLocalCache:      getEnvBool("IDEMPOTENCY_USE_LOCAL_CACHE", false),
		LocalCacheMaxItems: getEnvInt("IDEMPOTENCY_LOCAL_CACHE_MAX_ITEMS", 256),
		HashFunction:       getEnv("IDEMPOTENCY_HASH_FUNCTION", "MD5"),
		ThrowOnNoKey:       getEnvBool("IDEMPOTENCY_THROW_ON_NO_KEY", false),
		EventKeyJMESPath:   getEnv("IDEMPOTENCY_EVENT_KEY_JMESPATH", ""),
		ValidationJMESPath: getEnv("IDEMPOTENCY_PAYLOAD_VALIDATION_JMESPATH", ""),
		Disabled:           getEnvBool("POWERTOOLS_IDEMPOTENCY_DISABLED", false),

		KeyAttr:              getEnv("IDEMPOTENCY_KEY_ATTR", "id"),
		ExpiryAttr:           getEnv("IDEMPOTENCY_EXPIRY_ATTR", "expiration"),
		InProgressExpiryAttr: getEnv("IDEMPOTENCY_IN_PROGRESS_EXPIRY_ATTR", "in_progress_expiration"),
		StatusAttr:           getEnv("IDEMPOTENCY_STATUS_ATTR", "status"),
		DataAttr:             getEnv("IDEMPOTENCY_DATA_ATTR", "data"),
		ValidationAttr:       getEnv("IDEMPOTENCY_VALIDATION_ATTR", "validation"),
		SortKeyAttr:          getEnv("IDEMPOTENCY_SORT_KEY_ATTR", ""),
		StaticPKValue:        getEnv("IDEMPOTENCY_STATIC_PK_VALUE", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "idempotency"),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		PostgresTable: getEnv("POSTGRES_TABLE", "idempotency_records"),

		PaymentsTable:         getEnv("PAYMENTS_TABLE", "payments"),
		ChargesQueueURL:       getEnv("CHARGES_QUEUE_URL", ""),
		NotificationsQueueURL: getEnv("NOTIFICATIONS_QUEUE_URL", ""),
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "Payments/Idempotency"),
		MetricsFlushInterval:  getEnvDuration("METRICS_FLUSH_INTERVAL", time.Minute),
	}

	if err := validatorv10.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are seconds
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return def
}
