package cart

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// cartsMock is an in-memory carts table honouring the two condition
// expressions the Store writes with.
type cartsMock struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	putCalls int
	getCalls int
	putErr   error
}

func newCartsMock() *cartsMock {
	return &cartsMock{items: map[string]map[string]types.AttributeValue{}}
}

func (m *cartsMock) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}
	pk := in.Item["user_id"].(*types.AttributeValueMemberS).Value
	existing, exists := m.items[pk]

	if in.ConditionExpression != nil {
		switch *in.ConditionExpression {
		case "attribute_not_exists(user_id)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#v = :expected":
			if in.ExpressionAttributeNames["#v"] != "version" {
				return nil, errors.New("unexpected attribute name")
			}
			want := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
			got, ok := existing["version"].(*types.AttributeValueMemberN)
			if !ok || got.Value != want {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unsupported condition: " + *in.ConditionExpression)
		}
	}
	m.items[pk] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *cartsMock) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	pk := in.Key["user_id"].(*types.AttributeValueMemberS).Value
	return &dyn.GetItemOutput{Item: m.items[pk]}, nil
}

func (m *cartsMock) UpdateItem(context.Context, *dyn.UpdateItemInput, ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not supported")
}

func (m *cartsMock) Query(context.Context, *dyn.QueryInput, ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not supported")
}

func (m *cartsMock) Scan(context.Context, *dyn.ScanInput, ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not supported")
}

func (m *cartsMock) TransactWriteItems(context.Context, *dyn.TransactWriteItemsInput, ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported")
}
