package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// SlugIndex is the GSI on slug of the order statuses table.
const SlugIndex = "slug-index"

var (
	// ErrDefinitionExists means a definition with the same status_id is stored.
	ErrDefinitionExists = errors.New("status definition already exists")
	// ErrDefinitionMissing means the definition to update does not exist.
	ErrDefinitionMissing = errors.New("status definition does not exist")
	// ErrOrderMissing means the order of a transition does not exist.
	ErrOrderMissing = errors.New("order does not exist")
)

// DefinitionStore encapsulates operations on the order statuses table.
type DefinitionStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDefinitionStore creates a new DefinitionStore.
func NewDefinitionStore(client aws.DynamoDBAPI, tableName string) *DefinitionStore {
	return &DefinitionStore{client: client, tableName: tableName}
}

// FindAll returns every stored definition, including inactive and deleted ones.
func (s *DefinitionStore) FindAll(ctx context.Context) ([]StatusDefinition, error) {
	var (
		result    []StatusDefinition
		startKeys map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("scan statuses: %w", err)
		}
		var page []StatusDefinition
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal statuses: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		startKeys = out.LastEvaluatedKey
	}
}

// FindByID fetches a definition. Returns (nil, nil) if not found.
func (s *DefinitionStore) FindByID(ctx context.Context, id string) (*StatusDefinition, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"status_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var d StatusDefinition
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &d, nil
}

// FindBySlug returns the non-deleted definition with slug, or (nil, nil).
func (s *DefinitionStore) FindBySlug(ctx context.Context, slug string) (*StatusDefinition, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(SlugIndex),
		KeyConditionExpression: aws.String("slug = :slug"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":slug": &types.AttributeValueMemberS{Value: slug},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query status by slug: %w", err)
	}
	var defs []StatusDefinition
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &defs); err != nil {
		return nil, fmt.Errorf("unmarshal statuses: %w", err)
	}
	for i := range defs {
		if defs[i].DeletedAt == nil {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// Create stores a new definition.
func (s *DefinitionStore) Create(ctx context.Context, d StatusDefinition) error {
	return s.put(ctx, d, "attribute_not_exists(status_id)", ErrDefinitionExists)
}

// Update replaces an existing definition.
func (s *DefinitionStore) Update(ctx context.Context, d StatusDefinition) error {
	return s.put(ctx, d, "attribute_exists(status_id)", ErrDefinitionMissing)
}

func (s *DefinitionStore) put(ctx context.Context, d StatusDefinition, condition string, conflict error) error {
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return conflict
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// SoftDelete deactivates a definition and stamps deleted_at. Activities that
// reference it are left untouched.
func (s *DefinitionStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ts := &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"status_id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET active = :f, deleted_at = :ts, updated_at = :ts"),
		ConditionExpression: aws.String("attribute_exists(status_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f":  &types.AttributeValueMemberBOOL{Value: false},
			":ts": ts,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDefinitionMissing
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ActivityStore encapsulates operations on the status activities table.
type ActivityStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(client aws.DynamoDBAPI, tableName string) *ActivityStore {
	return &ActivityStore{client: client, tableName: tableName}
}

// FindByOrder returns the order's activities in activity_key order, which is
// creation time ascending.
func (s *ActivityStore) FindByOrder(ctx context.Context, orderID string) ([]Activity, error) {
	var (
		result    []Activity
		startKeys map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: aws.String("order_id = :oid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":oid": &types.AttributeValueMemberS{Value: orderID},
			},
			ScanIndexForward:  sdkBool(true),
			ConsistentRead:    sdkBool(true),
			ExclusiveStartKey: startKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("query activities: %w", err)
		}
		var page []Activity
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal activities: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		startKeys = out.LastEvaluatedKey
	}
}

// RecordTransition appends activity and applies statusUpdate in one
// transaction, so an activity is never projected onto the order without being
// logged. When the order already reflects a later activity the update's
// condition fails with the stored item attached; the activity is then appended
// on its own and applied is false. Returns ErrOrderMissing when the order does
// not exist.
func (s *ActivityStore) RecordTransition(ctx context.Context, activity Activity, statusUpdate types.TransactWriteItem) (applied bool, err error) {
	item, err := attributevalue.MarshalMap(activity)
	if err != nil {
		return false, fmt.Errorf("marshal activity: %w", err)
	}
	put := &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(activity_key)"),
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: put}, statusUpdate},
	})
	if err == nil {
		return true, nil
	}

	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false, fmt.Errorf("transact write: %w", err)
	}
	reasons := tce.CancellationReasons
	if len(reasons) < 2 || reasons[1].Code == nil || *reasons[1].Code != "ConditionalCheckFailed" {
		return false, fmt.Errorf("transaction canceled: %w", err)
	}
	if len(reasons[1].Item) == 0 {
		return false, ErrOrderMissing
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	if err != nil {
		return false, fmt.Errorf("put superseded activity: %w", err)
	}
	return false, nil
}

func sdkBool(b bool) *bool { return &b }
