package cart

import (
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// ProductSnapshot is the catalog data captured when a line was first added.
type ProductSnapshot struct {
	Name      string        `dynamodbav:"name" json:"name"`
	Price     money.Amount  `dynamodbav:"price" json:"price"`
	SalePrice *money.Amount `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
}

// VariationSnapshot is the variation data captured when a line was first added.
type VariationSnapshot struct {
	Name  string       `dynamodbav:"name" json:"name"`
	Price money.Amount `dynamodbav:"price" json:"price"`
}

// LineItem is one (product, variation) pairing in a cart. SubTotal is the unit
// price times Quantity; the unit price itself is never stored.
type LineItem struct {
	ID          string             `dynamodbav:"item_id" json:"id"`
	ProductID   string             `dynamodbav:"product_id" json:"product_id"`
	VariationID string             `dynamodbav:"variation_id,omitempty" json:"variation_id,omitempty"`
	Quantity    int                `dynamodbav:"quantity" json:"quantity"`
	SubTotal    money.Amount       `dynamodbav:"sub_total" json:"sub_total"`
	Product     *ProductSnapshot   `dynamodbav:"product,omitempty" json:"product,omitempty"`
	Variation   *VariationSnapshot `dynamodbav:"variation,omitempty" json:"variation,omitempty"`
	AddedAt     time.Time          `dynamodbav:"added_at" json:"added_at"`
	UpdatedAt   time.Time          `dynamodbav:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time         `dynamodbav:"deleted_at,omitempty" json:"-"`
}

// Cart is the item stored in the Carts DynamoDB table, one per owner.
type Cart struct {
	OwnerID   string       `dynamodbav:"user_id" json:"user_id"` // PK
	Items     []LineItem   `dynamodbav:"items" json:"items"`
	Subtotal  money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	Total     money.Amount `dynamodbav:"total" json:"total"`
	Version   int64        `dynamodbav:"version" json:"version"`
	CreatedAt time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of c.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	for i, it := range c.Items {
		if it.Product != nil {
			p := *it.Product
			if p.SalePrice != nil {
				sp := *p.SalePrice
				p.SalePrice = &sp
			}
			it.Product = &p
		}
		if it.Variation != nil {
			v := *it.Variation
			it.Variation = &v
		}
		if it.DeletedAt != nil {
			d := *it.DeletedAt
			it.DeletedAt = &d
		}
		out.Items[i] = it
	}
	return &out
}
