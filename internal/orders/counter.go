package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// OrderNumberCounter is the counter_id of the order number sequence.
const OrderNumberCounter = "order_number"

// Counter hands out monotonically increasing values from the counters table.
// Each call is a single atomic UpdateItem, so concurrent callers never observe
// the same value.
type Counter struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewCounter creates a Counter over the counters table.
func NewCounter(client aws.DynamoDBAPI, tableName string) *Counter {
	return &Counter{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Next increments the named counter and returns its new value. A missing
// counter starts at zero.
func (c *Counter) Next(ctx context.Context, name string) (int64, error) {
	out, err := c.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression: aws.String("SET current_value = if_not_exists(current_value, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: c.nowFunc().UTC().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	attr, ok := out.Attributes["current_value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("increment counter %s: current_value missing from response", name)
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return v, nil
}

// NextOrderNumber returns the next formatted order number.
func (c *Counter) NextOrderNumber(ctx context.Context) (string, error) {
	n, err := c.Next(ctx, OrderNumberCounter)
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(n), nil
}

// FormatOrderNumber renders a sequence value as ORD-000042.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("ORD-%06d", n)
}
