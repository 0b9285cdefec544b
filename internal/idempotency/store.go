// Package idempotency stores Idempotency-Key records for order placement so a
// retried request replays the first response instead of creating a second order.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// GuardCondition lets a new record replace a missing, failed or expired one.
const GuardCondition = "attribute_not_exists(idempotency_key) OR #s = :failed OR expires_at <= :now"

// ErrConditionFailed indicates the record was not in a state that allows the write.
var ErrConditionFailed = errors.New("conditional check failed")

// Store reads and writes idempotency records in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	lease     time.Duration
	nowFunc   func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithLease makes an IN_PROGRESS claim expire after d instead of the TTL
// window, so a claim abandoned by a crashed worker can be taken over once d
// has passed. MarkDone extends a completed record to the full TTL window.
func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

// NewStore returns a Store whose records expire ttlWindow after they are
// claimed.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newRecord(key, orderID string) Record {
	now := s.nowFunc().UTC()
	hold := s.ttlWindow
	if s.lease > 0 {
		hold = s.lease
	}
	return Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(hold).Unix(),
	}
}

func (s *Store) guardValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":failed": &types.AttributeValueMemberS{Value: StatusFailed},
		":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(s.nowFunc().Unix(), 10)},
	}
}

// Guard builds the conditional put of an IN_PROGRESS record for use inside a
// caller-managed TransactWriteItems.
func (s *Store) Guard(key, orderID string) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(s.newRecord(key, orderID))
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal record: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 &s.tableName,
			Item:                      item,
			ConditionExpression:       aws.String(GuardCondition),
			ExpressionAttributeNames:  map[string]string{"#s": "status"},
			ExpressionAttributeValues: s.guardValues(),
		},
	}, nil
}

// CreateIfNotExists claims key with an IN_PROGRESS record. It reports false
// without error when a live, non-failed record already holds the key; callers
// then Get the record to decide between replay and conflict.
func (s *Store) CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error) {
	item, err := attributevalue.MarshalMap(s.newRecord(key, orderID))
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       aws.String(GuardCondition),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: s.guardValues(),
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves an idempotency record by key. Missing and expired records
// both return (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: sdkBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if rec.Expired(s.nowFunc()) {
		return nil, nil
	}
	return &rec, nil
}

// MarkDone completes the record and keeps the response for replays for the
// full TTL window from now.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	expires := s.nowFunc().Add(s.ttlWindow).Unix()
	return s.setStatus(ctx, key, StatusDone, map[string]types.AttributeValue{
		"response_body":   &types.AttributeValueMemberS{Value: responseBody},
		"response_status": &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
		"expires_at":      &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
	})
}

// MarkFailed records why the attempt failed. A failed key may be reused by a
// later request.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.setStatus(ctx, key, StatusFailed, map[string]types.AttributeValue{
		"note": &types.AttributeValueMemberS{Value: note},
	})
}

// setStatus moves an existing record to status and sets the given attributes.
func (s *Store) setStatus(ctx context.Context, key, status string, attrs map[string]types.AttributeValue) error {
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":s":  &types.AttributeValueMemberS{Value: status},
		":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	sets := []string{"#s = :s", "updated_at = :ua"}
	for i, attr := range sortedKeys(attrs) {
		ref := ":a" + strconv.Itoa(i)
		sets = append(sets, attr+" = "+ref)
		values[ref] = attrs[attr]
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(key),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(idempotency_key)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (%s): %w", strings.ToLower(status), err)
	}
	return nil
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func sortedKeys(m map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sdkBool(b bool) *bool { return &b }
