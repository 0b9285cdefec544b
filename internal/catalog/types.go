package catalog

import (
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// Variation is a purchasable option of a product (size, colour). A variation
// without its own price inherits the product's.
type Variation struct {
	ID        string        `dynamodbav:"variation_id" json:"id"`
	Name      string        `dynamodbav:"name" json:"name"`
	Price     *money.Amount `dynamodbav:"price,omitempty" json:"price,omitempty"`
	SalePrice *money.Amount `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
}

// Product is the item stored in the Products DynamoDB table.
type Product struct {
	ProductID  string        `dynamodbav:"product_id" json:"id"` // PK
	StoreID    string        `dynamodbav:"store_id,omitempty" json:"store_id,omitempty"`
	Name       string        `dynamodbav:"name" json:"name"`
	Price      money.Amount  `dynamodbav:"price" json:"price"`
	SalePrice  *money.Amount `dynamodbav:"sale_price,omitempty" json:"sale_price,omitempty"`
	Variations []Variation   `dynamodbav:"variations,omitempty" json:"variations,omitempty"`
	CreatedAt  time.Time     `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `dynamodbav:"updated_at" json:"updated_at"`
}

// Prices is the canonical price pair resolved for a product or one of its variations.
type Prices struct {
	Price     money.Amount
	SalePrice *money.Amount
}

// Effective is the amount a shopper pays per unit: the sale price when set.
func (p Prices) Effective() money.Amount {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// Variation looks up a variation by id.
func (p Product) Variation(id string) (Variation, bool) {
	for _, v := range p.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

// PricesFor resolves the catalog prices of the product, or of variationID when
// given. ok is false when the variation does not exist.
func (p Product) PricesFor(variationID string) (prices Prices, ok bool) {
	prices = Prices{Price: p.Price, SalePrice: p.SalePrice}
	if variationID == "" {
		return prices, true
	}
	v, found := p.Variation(variationID)
	if !found {
		return Prices{}, false
	}
	if v.Price != nil {
		prices = Prices{Price: *v.Price, SalePrice: v.SalePrice}
	} else if v.SalePrice != nil {
		prices.SalePrice = v.SalePrice
	}
	return prices, true
}
