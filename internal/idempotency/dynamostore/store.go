// Package dynamostore persists idempotency records in a DynamoDB table.
//
// The acquire step is a single conditional PutItem, so concurrent writers across
// processes are arbitrated by DynamoDB itself.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/lambda-idempotency/internal/aws"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// PutCondition lets a put through only when the key is free, expired or held by an
// abandoned INPROGRESS record. Records with expiration 0 never expire.
const PutCondition = "attribute_not_exists(#id) OR (#expiry < :now AND #expiry <> :zero) OR " +
	"(#status = :inprogress AND attribute_exists(#in_progress_expiry) AND #in_progress_expiry < :now_in_millis)"

// Attributes names the table's attributes.
type Attributes struct {
	Key              string
	Expiry           string
	InProgressExpiry string
	Status           string
	Data             string
	Validation       string
	// SortKey, when set, turns the table into a composite key table: the partition
	// key holds StaticPartitionValue and the sort key holds the idempotency key.
	SortKey              string
	StaticPartitionValue string
}

// DefaultAttributes returns the attribute names used when none are configured.
func DefaultAttributes() Attributes {
	return Attributes{
		Key:              "id",
		Expiry:           "expiration",
		InProgressExpiry: "in_progress_expiration",
		Status:           "status",
		Data:             "data",
		Validation:       "validation",
	}
}

func (a Attributes) withDefaults() Attributes {
	d := DefaultAttributes()
	if a.Key == "" {
		a.Key = d.Key
	}
	if a.Expiry == "" {
		a.Expiry = d.Expiry
	}
	if a.InProgressExpiry == "" {
		a.InProgressExpiry = d.InProgressExpiry
	}
	if a.Status == "" {
		a.Status = d.Status
	}
	if a.Data == "" {
		a.Data = d.Data
	}
	if a.Validation == "" {
		a.Validation = d.Validation
	}
	if a.SortKey != "" && a.StaticPartitionValue == "" {
		fn := os.Getenv(idempotency.FunctionNameEnv)
		if fn == "" {
			fn = "local"
		}
		a.StaticPartitionValue = "idempotency#" + fn
	}
	return a
}

// Store implements idempotency.RecordStore against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	attrs     Attributes
}

// NewStore returns a configured Store. Empty attribute names take their defaults.
func NewStore(client aws.DynamoDBAPI, tableName string, attrs Attributes) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	attrs = attrs.withDefaults()
	if attrs.SortKey == attrs.Key {
		return nil, fmt.Errorf("sort key attribute %q must differ from the key attribute", attrs.SortKey)
	}
	return &Store{client: client, tableName: tableName, attrs: attrs}, nil
}

// Attributes returns the effective attribute names.
func (s *Store) Attributes() Attributes { return s.attrs }

func (s *Store) key(idemKey string) map[string]types.AttributeValue {
	if s.attrs.SortKey != "" {
		return map[string]types.AttributeValue{
			s.attrs.Key:     &types.AttributeValueMemberS{Value: s.attrs.StaticPartitionValue},
			s.attrs.SortKey: &types.AttributeValueMemberS{Value: idemKey},
		}
	}
	return map[string]types.AttributeValue{
		s.attrs.Key: &types.AttributeValueMemberS{Value: idemKey},
	}
}

func (s *Store) item(rec *idempotency.Record) map[string]types.AttributeValue {
	item := s.key(rec.Key)
	item[s.attrs.Status] = &types.AttributeValueMemberS{Value: string(rec.Status)}
	if rec.ExpiryTimestamp != 0 {
		item[s.attrs.Expiry] = number(rec.ExpiryTimestamp)
	}
	if rec.InProgressExpiryTimestamp != nil {
		item[s.attrs.InProgressExpiry] = number(*rec.InProgressExpiryTimestamp)
	}
	if rec.ResponseData != nil {
		item[s.attrs.Data] = &types.AttributeValueMemberS{Value: *rec.ResponseData}
	}
	if rec.PayloadHash != "" {
		item[s.attrs.Validation] = &types.AttributeValueMemberS{Value: rec.PayloadHash}
	}
	return item
}

// Get retrieves a record with a strongly consistent read. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return s.decode(key, out.Item)
}

func (s *Store) decode(key string, item map[string]types.AttributeValue) (*idempotency.Record, error) {
	rec := &idempotency.Record{Key: key}

	var status string
	if err := attributevalue.Unmarshal(item[s.attrs.Status], &status); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", s.attrs.Status, err)
	}
	st, ok := idempotency.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown record status %q", status)
	}
	rec.Status = st

	if av, ok := item[s.attrs.Expiry]; ok {
		if err := attributevalue.Unmarshal(av, &rec.ExpiryTimestamp); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", s.attrs.Expiry, err)
		}
	}
	if av, ok := item[s.attrs.InProgressExpiry]; ok {
		var v uint64
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", s.attrs.InProgressExpiry, err)
		}
		rec.InProgressExpiryTimestamp = &v
	}
	if av, ok := item[s.attrs.Data]; ok {
		var v string
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", s.attrs.Data, err)
		}
		rec.ResponseData = &v
	}
	if av, ok := item[s.attrs.Validation]; ok {
		if err := attributevalue.Unmarshal(av, &rec.PayloadHash); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", s.attrs.Validation, err)
		}
	}
	return rec, nil
}

// PutIfAbsentOrExpired writes rec under PutCondition.
// Returns PutAlreadyExists when the condition fails.
func (s *Store) PutIfAbsentOrExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (idempotency.PutResult, error) {
	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                s.item(rec),
		ConditionExpression: awsString(PutCondition),
		ExpressionAttributeNames: map[string]string{
			"#id":                 s.attrs.Key,
			"#expiry":             s.attrs.Expiry,
			"#in_progress_expiry": s.attrs.InProgressExpiry,
			"#status":             s.attrs.Status,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":           number(uint64(now.Unix())),
			":zero":          number(0),
			":now_in_millis": number(uint64(now.UnixMilli())),
			":inprogress":    &types.AttributeValueMemberS{Value: string(idempotency.StatusInProgress)},
		},
	}

	_, err := s.client.PutItem(ctx, input)
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return idempotency.PutAlreadyExists, nil
		}
		return idempotency.PutAlreadyExists, fmt.Errorf("put item: %w", err)
	}
	return idempotency.PutOK, nil
}

// Update stores the completion fields of rec. The in-progress deadline is left as is.
func (s *Store) Update(ctx context.Context, rec *idempotency.Record) error {
	names := map[string]string{
		"#status": s.attrs.Status,
		"#expiry": s.attrs.Expiry,
		"#data":   s.attrs.Data,
	}
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(rec.Status)},
		":data":   &types.AttributeValueMemberS{Value: rec.Response()},
	}
	expr := "SET #status = :status, #data = :data"
	if rec.ExpiryTimestamp != 0 {
		values[":expiry"] = number(rec.ExpiryTimestamp)
		expr += ", #expiry = :expiry"
	}
	if rec.PayloadHash != "" {
		names["#validation"] = s.attrs.Validation
		values[":validation"] = &types.AttributeValueMemberS{Value: rec.PayloadHash}
		expr += ", #validation = :validation"
	}
	// a zero expiry means the record never expires, same as an absent attribute on put
	if rec.ExpiryTimestamp == 0 {
		expr += " REMOVE #expiry"
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(rec.Key),
		UpdateExpression:          awsString(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// Delete removes key unconditionally.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

var _ idempotency.RecordStore = (*Store)(nil)

func number(v uint64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)}
}

// Helpers
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
