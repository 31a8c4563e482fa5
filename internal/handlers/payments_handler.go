package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/payments"
	"github.com/imrishuroy/lambda-idempotency/internal/validation"
)

// Request and response headers.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "X-Idempotency-Replayed"
	RequestIDHeader      = "X-Request-Id"
)

// Key paths the payments coordinator should be built with. The request document is
// {"idempotency_key": <header>, "body": <ChargeRequest>}.
const (
	EventKeyJMESPath   = "idempotency_key"
	ValidationJMESPath = "body"
)

// HandlerConfig groups dependencies for the payments handler.
type HandlerConfig struct {
	Coordinator     *idempotency.Coordinator
	DynamoDBClient  aws.DynamoDBAPI
	SQSClient       aws.SQSAPI
	PaymentsTable   string
	ChargesQueueURL string
	Logger          *slog.Logger
}

// ChargeResponse is the body returned by POST /payments and replayed for duplicates.
type ChargeResponse struct {
	ChargeID string  `json:"charge_id"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type chargeDocument struct {
	IdempotencyKey string                   `json:"idempotency_key"`
	Body           validation.ChargeRequest `json:"body"`
}

// RegisterPaymentsRoutes registers routes for the payments API.
func RegisterPaymentsRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	store := payments.NewStore(cfg.DynamoDBClient, cfg.PaymentsTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.ChargesQueueURL)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.POST("/payments", func(c *gin.Context) {
		ctx := c.Request.Context()

		// Bind + validate request
		var req validation.ChargeRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Require idempotency key header
		idempKey := c.GetHeader(IdempotencyKeyHeader)
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}
		correlationID := c.GetHeader(RequestIDHeader)

		replayed := false
		doc := chargeDocument{IdempotencyKey: idempKey, Body: req}
		resp, err := idempotency.Execute(ctx, cfg.Coordinator, doc, func(ctx context.Context) (ChargeResponse, error) {
			return createCharge(ctx, store, publisher, logger, idempKey, correlationID, req)
		}, idempotency.WithResponseHook(func(stored ChargeResponse, _ *idempotency.Record) ChargeResponse {
			replayed = true
			return stored
		}))
		if err != nil {
			writeError(c, logger, idempKey, err)
			return
		}

		if replayed {
			c.Header(ReplayedHeader, "true")
		}
		c.Header("Location", fmt.Sprintf("/payments/%s", resp.ChargeID))
		c.JSON(http.StatusCreated, resp)
	})

	r.GET("/payments/:id", func(c *gin.Context) {
		charge, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "detail": err.Error()})
			return
		}
		if charge == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "charge_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"charge_id":   charge.ChargeID,
			"customer_id": charge.CustomerID,
			"status":      charge.Status,
			"amount":      charge.Amount,
			"currency":    charge.Currency,
			"created_at":  charge.CreatedAt.Format(time.RFC3339),
			"updated_at":  charge.UpdatedAt.Format(time.RFC3339),
		})
	})
}

// createCharge writes a PENDING charge and enqueues it for capture. If the enqueue
// fails the charge is marked FAILED and the error is returned, which releases the
// idempotency key so the client can retry.
func createCharge(ctx context.Context, store *payments.Store, publisher *aws.Publisher, logger *slog.Logger,
	idempKey, correlationID string, req validation.ChargeRequest) (ChargeResponse, error) {
	charge := payments.Charge{
		ChargeID:       uuid.NewString(),
		CustomerID:     req.CustomerID,
		IdempotencyKey: idempKey,
		Status:         payments.StatusPending,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Metadata:       req.Metadata,
	}
	for _, it := range req.Items {
		charge.Items = append(charge.Items, payments.LineItem{SKU: it.SKU, Quantity: it.Quantity, Price: it.Price})
	}
	if err := store.Create(ctx, charge); err != nil {
		return ChargeResponse{}, fmt.Errorf("create charge: %w", err)
	}

	msg := payments.ChargeMessage{
		ChargeID:       charge.ChargeID,
		IdempotencyKey: idempKey,
		Amount:         charge.Amount,
		Currency:       charge.Currency,
		CorrelationID:  correlationID,
	}
	attrs := map[string]string{
		"idempotency_key": idempKey,
		"charge_id":       charge.ChargeID,
	}
	if correlationID != "" {
		attrs["correlation_id"] = correlationID
	}
	if err := publisher.Publish(ctx, payments.EventChargeRequested, msg, attrs); err != nil {
		if uerr := store.UpdateStatus(context.WithoutCancel(ctx), charge.ChargeID, payments.StatusPending, payments.StatusFailed); uerr != nil {
			logger.Error("failed to mark charge failed", "charge_id", charge.ChargeID, "error", uerr)
		}
		return ChargeResponse{}, fmt.Errorf("enqueue charge: %w", err)
	}

	logger.Info("charge requested", "charge_id", charge.ChargeID, "idempotency_key", idempKey)
	return ChargeResponse{
		ChargeID: charge.ChargeID,
		Status:   charge.Status,
		Amount:   charge.Amount,
		Currency: charge.Currency,
	}, nil
}

func writeError(c *gin.Context, logger *slog.Logger, idempKey string, err error) {
	switch {
	case errors.Is(err, idempotency.ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	case errors.Is(err, idempotency.ErrValidationMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "detail": "payload differs from the original request"})
	case errors.Is(err, idempotency.ErrKeyExtraction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
	default:
		logger.Error("payment request failed", "idempotency_key", idempKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_failed", "detail": err.Error()})
	}
}
