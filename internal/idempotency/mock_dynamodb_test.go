package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock of the idempotency table.
type simpleMock struct {
	mu            sync.Mutex
	table         map[string]map[string]types.AttributeValue
	putCalls      int
	getCalls      int
	updateCalls   int
	transactCalls int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func keyOf(item map[string]types.AttributeValue) (string, error) {
	attr, ok := item["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return attr.Value, nil
}

// guardAllows evaluates GuardCondition against the stored item.
func (m *simpleMock) guardAllows(k string, values map[string]types.AttributeValue) bool {
	existing, ok := m.table[k]
	if !ok {
		return true
	}
	if st, ok := existing["status"].(*types.AttributeValueMemberS); ok && st.Value == StatusFailed {
		return true
	}
	exp, ok := existing["expires_at"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	expires, _ := strconv.ParseInt(exp.Value, 10, 64)
	now, _ := strconv.ParseInt(values[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	return expires <= now
}

func (m *simpleMock) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if *params.ConditionExpression != GuardCondition {
			return nil, errors.New("unsupported condition")
		}
		if !m.guardAllows(k, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(_ context.Context, params *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	for _, clause := range strings.Split(strings.TrimPrefix(*params.UpdateExpression, "SET "), ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		attr := parts[0]
		if name, ok := params.ExpressionAttributeNames[attr]; ok {
			attr = name
		}
		item[attr] = params.ExpressionAttributeValues[parts[1]]
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *simpleMock) Query(context.Context, *dyn.QueryInput, ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not supported")
}

func (m *simpleMock) Scan(context.Context, *dyn.ScanInput, ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not supported")
}

func (m *simpleMock) TransactWriteItems(context.Context, *dyn.TransactWriteItemsInput, ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported")
}
