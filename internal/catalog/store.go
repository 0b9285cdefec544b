// Package catalog resolves product identifiers to canonical prices. It is a
// read-only collaborator of the cart and the pricing engine.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
)

// Lookup resolves a product id. Implementations return apperr.ProductNotFound
// for unknown ids.
type Lookup interface {
	FindProduct(ctx context.Context, productID string) (Product, error)
}

// Store reads products from the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// FindProduct fetches a product by product_id.
func (s *Store) FindProduct(ctx context.Context, productID string) (Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return Product{}, apperr.System("catalog.find_product", fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return Product{}, apperr.ProductNotFound(productID)
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return Product{}, apperr.System("catalog.find_product", fmt.Errorf("unmarshal product: %w", err))
	}
	return p, nil
}

// Put writes a product, stamping timestamps. Used by seeding and tests.
func (s *Store) Put(ctx context.Context, p Product) error {
	now := s.nowFunc().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}
