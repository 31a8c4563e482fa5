package dynamostore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory DynamoDB table for unit tests. It understands
// PutCondition and the SET expressions the store issues, nothing more.
type simpleMock struct {
	mu          sync.Mutex
	keyAttrs    []string
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
	deleteCalls int
	failNext    error
	lastUpdate  *dyn.UpdateItemInput
}

func newSimpleMock(keyAttrs ...string) *simpleMock {
	if len(keyAttrs) == 0 {
		keyAttrs = []string{"id"}
	}
	return &simpleMock{
		keyAttrs: keyAttrs,
		table:    map[string]map[string]types.AttributeValue{},
	}
}

func (m *simpleMock) tableKey(attrs map[string]types.AttributeValue) (string, error) {
	parts := make([]string, 0, len(m.keyAttrs))
	for _, name := range m.keyAttrs {
		av, ok := attrs[name].(*types.AttributeValueMemberS)
		if !ok {
			return "", errors.New("missing key attribute " + name)
		}
		parts = append(parts, av.Value)
	}
	return strings.Join(parts, "|"), nil
}

func (m *simpleMock) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := m.tableKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if *params.ConditionExpression != PutCondition {
			return nil, errors.New("mock: unsupported condition expression")
		}
		if cur, ok := m.table[k]; ok && !putAllowed(cur, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			// simulate conditional failure
			return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
		}
	}
	m.table[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

// putAllowed evaluates PutCondition against an existing item.
func putAllowed(cur map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	now := numberValue(values[":now"])
	nowMillis := numberValue(values[":now_in_millis"])
	zero := numberValue(values[":zero"])

	if av, ok := cur[names["#expiry"]]; ok {
		if exp := numberValue(av); exp < now && exp != zero {
			return true
		}
	}
	status, _ := cur[names["#status"]].(*types.AttributeValueMemberS)
	inprogress := values[":inprogress"].(*types.AttributeValueMemberS)
	if status != nil && status.Value == inprogress.Value {
		if av, ok := cur[names["#in_progress_expiry"]]; ok && numberValue(av) < nowMillis {
			return true
		}
	}
	return false
}

func numberValue(av types.AttributeValue) uint64 {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseUint(n.Value, 10, 64)
	return v
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := m.tableKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	m.lastUpdate = params
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := m.tableKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		// UpdateItem upserts
		item = copyItem(params.Key)
	}
	// very naive update: only "SET #a = :a, #b = :b [REMOVE #c, #d]" forms
	expr, removals, _ := strings.Cut(*params.UpdateExpression, " REMOVE ")
	expr = strings.TrimPrefix(expr, "SET ")
	for _, assignment := range strings.Split(expr, ",") {
		lhs, rhs, found := strings.Cut(strings.TrimSpace(assignment), " = ")
		if !found {
			return nil, errors.New("mock: unsupported update expression")
		}
		item[params.ExpressionAttributeNames[lhs]] = params.ExpressionAttributeValues[rhs]
	}
	if removals != "" {
		for _, name := range strings.Split(removals, ",") {
			delete(item, params.ExpressionAttributeNames[strings.TrimSpace(name)])
		}
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := m.tableKey(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *simpleMock) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.table))
	for k := range m.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
