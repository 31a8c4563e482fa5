package payments

import "time"

// Charge statuses
const (
	StatusPending  = "PENDING"
	StatusCaptured = "CAPTURED"
	StatusFailed   = "FAILED"
)

// LineItem is a single priced line of a charge.
type LineItem struct {
	SKU      string  `dynamodbav:"sku" json:"sku"`
	Quantity int     `dynamodbav:"quantity" json:"quantity"`
	Price    float64 `dynamodbav:"price" json:"price"`
}

// Charge represents the item stored in the payments DynamoDB table.
type Charge struct {
	ChargeID       string                 `dynamodbav:"charge_id"`             // PK
	CustomerID     string                 `dynamodbav:"customer_id,omitempty"` // customer reference
	IdempotencyKey string                 `dynamodbav:"idempotency_key,omitempty"`
	Status         string                 `dynamodbav:"status"` // PENDING | CAPTURED | FAILED
	Amount         float64                `dynamodbav:"amount"`
	Currency       string                 `dynamodbav:"currency"`
	Items          []LineItem             `dynamodbav:"items,omitempty"`
	Metadata       map[string]interface{} `dynamodbav:"metadata,omitempty"`
	CreatedAt      time.Time              `dynamodbav:"created_at"`
	UpdatedAt      time.Time              `dynamodbav:"updated_at"`
}

// Event types published on the payments queues.
const (
	EventChargeRequested = "charge.requested"
	EventChargeCompleted = "charge.completed"
)

// ChargeMessage is the payload sent from API -> SQS -> Worker -> notifications.
type ChargeMessage struct {
	ChargeID       string  `json:"charge_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status,omitempty"`
	CorrelationID  string  `json:"correlation_id,omitempty"`
}
