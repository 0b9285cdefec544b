package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// ErrVersionConflict means the cart changed between read and write.
var ErrVersionConflict = errors.New("cart version conflict")

// Repository persists carts keyed by owner.
type Repository interface {
	// FindByOwner returns (nil, nil) when the owner has no cart.
	FindByOwner(ctx context.Context, ownerID string) (*Cart, error)
	// Save writes cart if its Version still matches the stored one and returns
	// the stored copy with the incremented Version.
	Save(ctx context.Context, cart *Cart) (*Cart, error)
}

// Store encapsulates operations on the carts table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new carts Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// FindByOwner fetches the cart for user_id.
func (s *Store) FindByOwner(ctx context.Context, ownerID string) (*Cart, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: ownerID},
		},
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Cart
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

// Save puts the whole cart document guarded by its version: a first write
// requires the item to be absent, later writes require the stored version to
// equal cart.Version.
func (s *Store) Save(ctx context.Context, cart *Cart) (*Cart, error) {
	next := cart.Clone()
	expected := cart.Version
	next.Version = expected + 1

	now := s.nowFunc().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return nil, fmt.Errorf("marshal cart: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(user_id)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return next, nil
}

func sdkBool(b bool) *bool { return &b }
