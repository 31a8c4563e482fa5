// Package paymentstest provides an in-memory payments table for tests.
package paymentstest

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table is an aws.DynamoDBAPI holding charges keyed by charge_id. It understands
// the conditions issued by payments.Store.
type Table struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// UpdateErr, when set, is returned by every UpdateItem call.
	UpdateErr error
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{items: map[string]map[string]types.AttributeValue{}}
}

func chargeID(m map[string]types.AttributeValue) (string, error) {
	v, ok := m["charge_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("no charge_id attribute")
	}
	return v.Value, nil
}

func (t *Table) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := chargeID(in.Item)
	if err != nil {
		return nil, err
	}
	if _, ok := t.items[id]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t.items[id] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (t *Table) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := chargeID(in.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: t.items[id]}, nil
}

func (t *Table) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.UpdateErr != nil {
		return nil, t.UpdateErr
	}
	id, err := chargeID(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[id]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if exp, ok := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS); ok {
		cur, _ := item["status"].(*types.AttributeValueMemberS)
		if cur == nil || cur.Value != exp.Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	item["status"] = in.ExpressionAttributeValues[":new"]
	if ua, ok := in.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = ua
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (t *Table) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := chargeID(in.Key)
	if err != nil {
		return nil, err
	}
	delete(t.items, id)
	return &dyn.DeleteItemOutput{}, nil
}

// Len returns the number of stored charges.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Status returns the stored status of id, or "" if it does not exist.
func (t *Table) Status(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.items[id]["status"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// Statuses returns the status of every stored charge.
func (t *Table) Statuses() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.items))
	for id, item := range t.items {
		if v, ok := item["status"].(*types.AttributeValueMemberS); ok {
			out[id] = v.Value
		}
	}
	return out
}
