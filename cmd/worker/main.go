package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/bootstrap"
	"github.com/imrishuroy/lambda-idempotency/internal/config"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/telemetry"
	"github.com/imrishuroy/lambda-idempotency/internal/worker"
)

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
		idempotency.WithEventKeyJMESPath(worker.EventKeyJMESPath),
		idempotency.WithPayloadValidationJMESPath(worker.ValidationJMESPath),
	)
	opts = append(opts, idempotency.WithLogger(logger), idempotency.WithObserver(metrics))
	coord, err := idempotency.New(store, opts...)
	if err != nil {
		log.Fatalf("failed to init idempotency coordinator: %v", err)
	}

	proc := worker.NewProcessor(worker.Config{
		Coordinator:           coord,
		DynamoDBClient:        clients.DynamoDB,
		SQSClient:             clients.SQS,
		PaymentsTable:         cfg.PaymentsTable,
		NotificationsQueueURL: cfg.NotificationsQueueURL,
		CloudWatch:            telemetry.NewCloudWatchPublisher(clients.CloudWatch, metrics, cfg.MetricsNamespace, cfg.FunctionName),
		Logger:                logger,
	})

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"charge_id":"local-charge-1","idempotency_key":"local-key-1","amount":10,"currency":"USD"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := proc.Handle(ctx, event)
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		out, _ := json.Marshal(resp)
		log.Printf("local batch response: %s", out)
		return
	}

	lambda.Start(proc.Handle)
}
