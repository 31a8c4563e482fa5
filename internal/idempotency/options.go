package idempotency

import (
	"log/slog"
	"os"
	"time"
)

// Environment variables read by DefaultConfig.
const (
	FunctionNameEnv = "AWS_LAMBDA_FUNCTION_NAME"
	DisabledEnv     = "POWERTOOLS_IDEMPOTENCY_DISABLED"
)

// DefaultExpiration is how long a completed record is reused.
const DefaultExpiration = time.Hour

// Config holds coordinator settings.
type Config struct {
	// FunctionName and Operation form the key scope "{FunctionName}.{Operation}".
	FunctionName string `validate:"required"`
	Operation    string
	// Expiration is the record TTL. Zero or less stores records that never expire.
	Expiration         time.Duration
	UseLocalCache      bool
	LocalCacheMaxItems int `validate:"gte=1"`
	HashFunction       string
	// EventKeyJMESPath selects the idempotency key; empty selects the whole payload.
	EventKeyJMESPath string
	// PayloadValidationJMESPath enables payload validation when set.
	PayloadValidationJMESPath string
	ThrowOnNoIdempotencyKey   bool
	// Disabled bypasses persistence entirely.
	Disabled bool

	Logger   *slog.Logger     `validate:"-"`
	Clock    func() time.Time `validate:"-"`
	Observer Observer         `validate:"-"`
}

// DefaultConfig returns the defaults, honoring the Lambda function name and kill switch env vars.
func DefaultConfig() Config {
	fn := os.Getenv(FunctionNameEnv)
	if fn == "" {
		fn = "local"
	}
	disabled := os.Getenv(DisabledEnv)
	return Config{
		FunctionName:       fn,
		Expiration:         DefaultExpiration,
		LocalCacheMaxItems: DefaultLocalCacheMaxItems,
		HashFunction:       DefaultHashFunction,
		Disabled:           disabled != "" && disabled != "false" && disabled != "0",
	}
}

// Scope returns the key namespace.
func (c Config) Scope() string {
	if c.Operation == "" {
		return c.FunctionName
	}
	return c.FunctionName + "." + c.Operation
}

// Option is a functional option for configuring the coordinator.
type Option func(*Config)

// WithFunctionName overrides the function part of the key scope.
func WithFunctionName(name string) Option {
	return func(c *Config) {
		c.FunctionName = name
	}
}

// WithOperation sets the operation part of the key scope, so two operations
// receiving the same payload never share records.
func WithOperation(name string) Option {
	return func(c *Config) {
		c.Operation = name
	}
}

// WithExpiration sets the record TTL.
func WithExpiration(d time.Duration) Option {
	return func(c *Config) {
		c.Expiration = d
	}
}

// WithLocalCache enables the in-process LRU with the given capacity.
func WithLocalCache(maxItems int) Option {
	return func(c *Config) {
		c.UseLocalCache = true
		c.LocalCacheMaxItems = maxItems
	}
}

// WithHashFunction selects the digest algorithm by name (MD5, SHA-1, SHA-256, SHA-512, XXH64).
func WithHashFunction(name string) Option {
	return func(c *Config) {
		c.HashFunction = name
	}
}

// WithEventKeyJMESPath sets the expression selecting the idempotency key.
func WithEventKeyJMESPath(expr string) Option {
	return func(c *Config) {
		c.EventKeyJMESPath = expr
	}
}

// WithPayloadValidationJMESPath enables payload validation on the selected fragment.
func WithPayloadValidationJMESPath(expr string) Option {
	return func(c *Config) {
		c.PayloadValidationJMESPath = expr
	}
}

// WithThrowOnNoIdempotencyKey makes a missing key a KeyExtraction error instead of a bypass.
func WithThrowOnNoIdempotencyKey(strict bool) Option {
	return func(c *Config) {
		c.ThrowOnNoIdempotencyKey = strict
	}
}

// WithDisabled turns the coordinator into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(c *Config) {
		c.Disabled = disabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithClock injects the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}

// WithObserver receives lifecycle events, e.g. for metrics.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}
