// Package worker captures requested charges delivered over SQS.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/payments"
	"github.com/imrishuroy/lambda-idempotency/internal/telemetry"
)

// Key paths the worker coordinator should be built with: a message is identified
// by its charge and must carry the same amount on redelivery.
const (
	EventKeyJMESPath   = "charge_id"
	ValidationJMESPath = "amount"
)

// Config groups the processor's dependencies.
type Config struct {
	Coordinator           *idempotency.Coordinator
	DynamoDBClient        aws.DynamoDBAPI
	SQSClient             aws.SQSAPI
	PaymentsTable         string
	NotificationsQueueURL string
	// CloudWatch, when set, is flushed after every batch.
	CloudWatch *telemetry.CloudWatchPublisher
	Logger     *slog.Logger
}

// Processor handles SQS messages and performs charge lifecycle transitions.
type Processor struct {
	coord         *idempotency.Coordinator
	charges       *payments.Store
	notifications *aws.Publisher
	cloudwatch    *telemetry.CloudWatchPublisher
	logger        *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		coord:         cfg.Coordinator,
		charges:       payments.NewStore(cfg.DynamoDBClient, cfg.PaymentsTable),
		notifications: aws.NewPublisher(cfg.SQSClient, cfg.NotificationsQueueURL),
		cloudwatch:    cfg.CloudWatch,
		logger:        logger,
	}
}

// Handle processes an SQS batch. Each message is captured at most once per charge;
// failed messages are reported individually so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	if p.cloudwatch != nil {
		if err := p.cloudwatch.Flush(ctx); err != nil {
			p.logger.Warn("failed to flush idempotency metrics", "error", err)
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	body := json.RawMessage(rec.Body)
	_, err := idempotency.Execute(ctx, p.coord, body, func(ctx context.Context) (payments.ChargeMessage, error) {
		return p.capture(ctx, body)
	})
	if errors.Is(err, idempotency.ErrAlreadyInProgress) {
		// another delivery holds the charge; let SQS hand it back after the visibility timeout
		return fmt.Errorf("charge busy: %w", err)
	}
	return err
}

func (p *Processor) capture(ctx context.Context, body json.RawMessage) (payments.ChargeMessage, error) {
	var msg payments.ChargeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ChargeID == "" {
		return msg, errors.New("message has no charge_id")
	}
	log := p.logger.With("charge_id", msg.ChargeID, "idempotency_key", msg.IdempotencyKey, "correlation_id", msg.CorrelationID)

	// PENDING -> CAPTURED
	err := p.charges.UpdateStatus(ctx, msg.ChargeID, payments.StatusPending, payments.StatusCaptured)
	if errors.Is(err, payments.ErrStatusMismatch) {
		// Already captured by an attempt whose idempotency record was released:
		// treat as success and make sure the notification goes out.
		charge, gerr := p.charges.Get(ctx, msg.ChargeID)
		if gerr != nil {
			return msg, fmt.Errorf("failed to fetch charge: %w", gerr)
		}
		switch {
		case charge == nil:
			return msg, fmt.Errorf("charge not found: %s", msg.ChargeID)
		case charge.Status == payments.StatusCaptured:
			log.Info("charge already captured")
		default:
			return msg, fmt.Errorf("charge=%s cannot be captured from status %s", msg.ChargeID, charge.Status)
		}
	} else if err != nil {
		return msg, fmt.Errorf("failed to update status to CAPTURED: %w", err)
	}

	msg.Status = payments.StatusCaptured
	attrs := map[string]string{"charge_id": msg.ChargeID}
	if msg.CorrelationID != "" {
		attrs["correlation_id"] = msg.CorrelationID
	}
	if err := p.notifications.Publish(ctx, payments.EventChargeCompleted, msg, attrs); err != nil {
		return msg, fmt.Errorf("publish completion: %w", err)
	}

	log.Info("charge captured")
	return msg, nil
}
