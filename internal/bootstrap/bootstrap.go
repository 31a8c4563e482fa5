// Package bootstrap wires config into loggers, record stores and coordinators.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/config"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/dynamostore"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/memstore"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/pgstore"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/redisstore"
)

// NewLogger returns a JSON logger at cfg.LogLevel tagged with the function name.
func NewLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("function_name", cfg.FunctionName)
}

// NewStore builds the record store selected by cfg.Backend. dynamo may be nil, in
// which case a client is created from the default AWS config when needed. The
// returned close func releases backend connections.
func NewStore(ctx context.Context, cfg config.Config, dynamo aws.DynamoDBAPI) (idempotency.RecordStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendDynamoDB:
		if dynamo == nil {
			awsCfg, err := aws.LoadAWSConfig(ctx)
			if err != nil {
				return nil, noop, err
			}
			dynamo = dynamodb.NewFromConfig(awsCfg)
		}
		s, err := dynamostore.NewStore(dynamo, cfg.Table, dynamostore.Attributes{
			Key:                  cfg.KeyAttr,
			Expiry:               cfg.ExpiryAttr,
			InProgressExpiry:     cfg.InProgressExpiryAttr,
			Status:               cfg.StatusAttr,
			Data:                 cfg.DataAttr,
			Validation:           cfg.ValidationAttr,
			SortKey:              cfg.SortKeyAttr,
			StaticPartitionValue: cfg.StaticPKValue,
		})
		return s, noop, err

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		s, err := redisstore.NewStore(client, redisstore.Options{
			Prefix:           cfg.RedisKeyPrefix,
			KeyAttr:          cfg.KeyAttr,
			Expiry:           cfg.ExpiryAttr,
			InProgressExpiry: cfg.InProgressExpiryAttr,
			Status:           cfg.StatusAttr,
			Data:             cfg.DataAttr,
			Validation:       cfg.ValidationAttr,
		})
		return s, func() { client.Close() }, err

	case config.BackendPostgres:
		s, err := pgstore.New(ctx, cfg.PostgresDSN, cfg.PostgresTable, pgstore.Columns{
			Key:              cfg.KeyAttr,
			Expiry:           cfg.ExpiryAttr,
			InProgressExpiry: cfg.InProgressExpiryAttr,
			Status:           cfg.StatusAttr,
			Data:             cfg.DataAttr,
			Validation:       cfg.ValidationAttr,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, noop, err
		}
		return s, s.Close, nil

	case config.BackendMemory:
		return memstore.New(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
}

// CoordinatorOptions maps cfg onto coordinator options. defaults are applied first,
// so a binary can supply its own key paths and env vars still win.
func CoordinatorOptions(cfg config.Config, defaults ...idempotency.Option) []idempotency.Option {
	opts := []idempotency.Option{
		idempotency.WithFunctionName(cfg.FunctionName),
		idempotency.WithExpiration(cfg.TTL),
		idempotency.WithHashFunction(cfg.HashFunction),
		idempotency.WithThrowOnNoIdempotencyKey(cfg.ThrowOnNoKey),
		idempotency.WithDisabled(cfg.Disabled),
	}
	opts = append(opts, defaults...)
	if cfg.UseLocalCache {
		opts = append(opts, idempotency.WithLocalCache(cfg.LocalCacheMaxItems))
	}
	if cfg.EventKeyJMESPath != "" {
		opts = append(opts, idempotency.WithEventKeyJMESPath(cfg.EventKeyJMESPath))
	}
	if cfg.ValidationJMESPath != "" {
		opts = append(opts, idempotency.WithPayloadValidationJMESPath(cfg.ValidationJMESPath))
	}
	return opts
}
