package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// UserIndex is the GSI on user_id used by ListByUser.
const UserIndex = "user_id-index"

var (
	// ErrOrderExists means an order with the same order_id is already stored.
	ErrOrderExists = errors.New("order already exists")
	// ErrIdempotencyKeyExists means the idempotency guard of a transactional
	// create failed.
	ErrIdempotencyKeyExists = errors.New("idempotency key already exists")
	// ErrStatusMismatch means a conditional status update found a different status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TableName returns the orders table name.
func (s *Store) TableName() string { return s.tableName }

// Create stores a new order. Returns ErrOrderExists if order_id is taken.
func (s *Store) Create(ctx context.Context, order Order) error {
	item, err := s.marshalNew(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrOrderExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// CreateWithIdempotency atomically writes guard (the idempotency record put,
// carrying its own condition) and the order. A cancelled transaction is mapped
// to ErrIdempotencyKeyExists or ErrOrderExists from its cancellation reasons.
func (s *Store) CreateWithIdempotency(ctx context.Context, guard types.TransactWriteItem, order Order) error {
	item, err := s.marshalNew(order)
	if err != nil {
		return err
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			guard,
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 0 && conditionFailed(reasons[0]) {
				return ErrIdempotencyKeyExists
			}
			if len(reasons) > 1 && conditionFailed(reasons[1]) {
				return ErrOrderExists
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func conditionFailed(r types.CancellationReason) bool {
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

func (s *Store) marshalNew(order Order) (map[string]types.AttributeValue, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return item, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Update applies patch to an existing order and returns the new state.
// Returns (nil, nil) if the order does not exist.
func (s *Store) Update(ctx context.Context, orderID string, patch Patch) (*Order, error) {
	if patch.IsEmpty() {
		return s.Get(ctx, orderID)
	}

	now := s.nowFunc().UTC()
	sets := []string{"updated_at = :ua"}
	values := map[string]types.AttributeValue{
		":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if patch.PaymentStatus != nil {
		sets = append(sets, "payment_status = :ps")
		values[":ps"] = &types.AttributeValueMemberS{Value: *patch.PaymentStatus}
	}
	if patch.TrackingNumber != nil {
		sets = append(sets, "tracking_number = :tn")
		values[":tn"] = &types.AttributeValueMemberS{Value: *patch.TrackingNumber}
	}
	if patch.Carrier != nil {
		sets = append(sets, "carrier = :ca")
		values[":ca"] = &types.AttributeValueMemberS{Value: *patch.Carrier}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(order_id)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// StatusUpdate builds the transactional write that projects a status
// activity onto an existing order. The write only applies while no later
// activity has been projected, so commits that land out of order leave the
// status of the newest activity in place. With ALL_OLD a failed check returns
// the stored item, which tells a superseded write from a missing order.
func (s *Store) StatusUpdate(orderID, status, activityKey string, at time.Time) types.TransactWriteItem {
	ts := &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"order_id": &types.AttributeValueMemberS{Value: orderID},
			},
			UpdateExpression:         aws.String("SET #s = :new, status_activity_key = :key, status_updated_at = :ts, updated_at = :ts"),
			ConditionExpression:      aws.String(StatusUpdateCondition),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":new": &types.AttributeValueMemberS{Value: status},
				":key": &types.AttributeValueMemberS{Value: activityKey},
				":ts":  ts,
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

// StatusUpdateCondition guards StatusUpdate.
const StatusUpdateCondition = "attribute_exists(order_id) AND (attribute_not_exists(status_activity_key) OR status_activity_key < :key)"

// UpdateStatus conditionally updates the order status from expected -> newStatus
// and records activityKey as the activity it reflects.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus, activityKey string, at time.Time) error {
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         aws.String("SET #s = :new, status_activity_key = :key, status_updated_at = :ts, updated_at = :ts"),
		ConditionExpression:      aws.String("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":key":      &types.AttributeValueMemberS{Value: activityKey},
			":ts":       &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	var (
		result    []Order
		startKeys map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              aws.String(UserIndex),
			KeyConditionExpression: aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ExclusiveStartKey: startKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders by user: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKeys = out.LastEvaluatedKey
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if result == nil {
		result = []Order{}
	}
	return result, nil
}

// CountByStatus scans the status attribute of every order and returns the
// number of orders per status together with the overall count.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, int, error) {
	counts := map[string]int{}
	total := 0
	var startKeys map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                &s.tableName,
			ProjectionExpression:     aws.String("#s"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExclusiveStartKey:        startKeys,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("scan order statuses: %w", err)
		}
		for _, item := range out.Items {
			total++
			if v, ok := item["status"].(*types.AttributeValueMemberS); ok {
				counts[v.Value]++
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKeys = out.LastEvaluatedKey
	}
	return counts, total, nil
}

func sdkBool(b bool) *bool { return &b }
