package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/bootstrap"
	"github.com/imrishuroy/lambda-idempotency/internal/config"
	"github.com/imrishuroy/lambda-idempotency/internal/handlers"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/telemetry"
)

func setupRouter(cfg handlers.HandlerConfig, metrics *telemetry.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	handlers.RegisterPaymentsRoutes(r, cfg)

	return r
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg)

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	store, closeStore, err := bootstrap.NewStore(ctx, cfg, clients.DynamoDB)
	if err != nil {
		log.Fatalf("failed to init idempotency store: %v", err)
	}
	defer closeStore()

	metrics := telemetry.NewMetrics("payments")
	opts := bootstrap.CoordinatorOptions(cfg,
		idempotency.WithEventKeyJMESPath(handlers.EventKeyJMESPath),
		idempotency.WithPayloadValidationJMESPath(handlers.ValidationJMESPath),
	)
	opts = append(opts, idempotency.WithLogger(logger), idempotency.WithObserver(metrics))
	coord, err := idempotency.New(store, opts...)
	if err != nil {
		log.Fatalf("failed to init idempotency coordinator: %v", err)
	}

	r := setupRouter(handlers.HandlerConfig{
		Coordinator:     coord,
		DynamoDBClient:  clients.DynamoDB,
		SQSClient:       clients.SQS,
		PaymentsTable:   cfg.PaymentsTable,
		ChargesQueueURL: cfg.ChargesQueueURL,
		Logger:          logger,
	}, metrics)

	cw := telemetry.NewCloudWatchPublisher(clients.CloudWatch, metrics, cfg.MetricsNamespace, cfg.FunctionName)

	// if RUN_LOCAL is set, run local HTTP server for development.
	if cfg.RunLocal {
		runCtx, stop := context.WithCancel(ctx)
		defer stop()
		go cw.Run(runCtx, cfg.MetricsFlushInterval, func(err error) {
			logger.Warn("failed to flush idempotency metrics", "error", err)
		})
		logger.Info("running local server", slog.String("addr", cfg.HTTPAddr))
		if err := r.Run(cfg.HTTPAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if ferr := cw.Flush(ctx); ferr != nil {
			logger.Warn("failed to flush idempotency metrics", "error", ferr)
		}
		return resp, err
	})
}
