// Package pricing validates a checkout request against the catalog and turns it
// into a priced, unnumbered order. It performs no writes.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/catalog"
	"github.com/imrishuroy/go-retail-orderflow/internal/money"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
)

// ItemRequest is one requested line. Nil prices fall back to the catalog.
type ItemRequest struct {
	ProductID   string        `json:"product_id"`
	VariationID string        `json:"variation_id,omitempty"`
	Quantity    int           `json:"quantity"`
	Price       *money.Amount `json:"price,omitempty"`
	SalePrice   *money.Amount `json:"sale_price,omitempty"`
	Discount    *money.Amount `json:"discount,omitempty"`
	// LineTotal is the settled amount for all Quantity units, such as a cart
	// line's sub-total. When set it is the item total as is.
	LineTotal *money.Amount `json:"-"`
}

// Request is a checkout request.
type Request struct {
	UserID          string          `json:"user_id"`
	StoreID         string          `json:"store_id"`
	Items           []ItemRequest   `json:"items"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress *orders.Address `json:"shipping_address"`
	BillingAddress  *orders.Address `json:"billing_address"`
	TaxAmount       *money.Amount   `json:"tax_amount,omitempty"`
	ShippingCost    *money.Amount   `json:"shipping_cost,omitempty"`
	DiscountAmount  *money.Amount   `json:"discount_amount,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          string          `json:"status,omitempty"`
	PaymentStatus   string          `json:"payment_status,omitempty"`
}

// Engine prices orders.
type Engine struct {
	catalog catalog.Lookup
	clock   func() time.Time
	newID   func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithIDGenerator replaces the order id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine returns an Engine reading prices from lookup. Concurrent lookups
// of the same product are coalesced.
func NewEngine(lookup catalog.Lookup, opts ...Option) (*Engine, error) {
	if lookup == nil {
		return nil, errors.New("pricing engine: catalog lookup is required")
	}
	e := &Engine{
		catalog: catalog.NewCoalescingLookup(lookup),
		clock:   time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Validate checks the request-level fields in a fixed order and returns the
// first failure. Items are checked by Price against the catalog.
func Validate(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return apperr.MissingField("user_id")
	}
	if strings.TrimSpace(req.StoreID) == "" {
		return apperr.MissingField("store_id")
	}
	if len(req.Items) == 0 {
		return apperr.EmptyOrder()
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return apperr.MissingField("payment_method")
	}
	if req.ShippingAddress.IsZero() {
		return apperr.MissingField("shipping_address")
	}
	if req.BillingAddress.IsZero() {
		return apperr.MissingField("billing_address")
	}
	return nil
}

// Price validates req and computes the order. The returned order has an id,
// timestamps and totals but no order number.
func (e *Engine) Price(ctx context.Context, req Request) (*orders.Order, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	items := make([]orders.Item, 0, len(req.Items))
	subtotal, discount := money.Zero, money.Zero
	for _, in := range req.Items {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return nil, apperr.MissingField("product_id")
		}
		product, err := e.catalog.FindProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if in.Quantity < 1 {
			return nil, apperr.InvalidQuantity(productID)
		}
		variationID := strings.TrimSpace(in.VariationID)
		catalogPrices, ok := product.PricesFor(variationID)
		if !ok {
			return nil, apperr.VariationNotFound(variationID)
		}

		item := priceItem(in, productID, variationID, catalogPrices)
		subtotal = subtotal.Add(item.Total)
		discount = discount.Add(item.Price.Mul(item.Quantity).Sub(item.Total))
		items = append(items, item)
	}

	tax := valueOr(req.TaxAmount, money.Zero).Round()
	shipping := valueOr(req.ShippingCost, money.Zero).Round()
	if req.DiscountAmount != nil {
		discount = req.DiscountAmount.Round()
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = orders.StatusPending
	}
	paymentStatus := strings.TrimSpace(req.PaymentStatus)
	if paymentStatus == "" {
		paymentStatus = orders.PaymentPending
	}

	now := e.clock().UTC()
	return &orders.Order{
		ID:              e.newID(),
		UserID:          strings.TrimSpace(req.UserID),
		StoreID:         strings.TrimSpace(req.StoreID),
		Items:           items,
		Subtotal:        subtotal,
		TaxAmount:       tax,
		ShippingCost:    shipping,
		DiscountAmount:  discount,
		TotalAmount:     money.Sum(subtotal, tax, shipping, discount.Neg()),
		Status:          status,
		PaymentStatus:   paymentStatus,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		StatusUpdatedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// priceItem applies the request overrides on top of the catalog prices.
func priceItem(in ItemRequest, productID, variationID string, catalogPrices catalog.Prices) orders.Item {
	price := catalogPrices.Price
	if in.Price != nil {
		price = *in.Price
	}
	salePrice := price
	switch {
	case in.SalePrice != nil:
		salePrice = *in.SalePrice
	case catalogPrices.SalePrice != nil:
		salePrice = *catalogPrices.SalePrice
	}
	price = price.Round()
	salePrice = salePrice.Round()

	total := salePrice.Mul(in.Quantity)
	if in.LineTotal != nil {
		total = in.LineTotal.Round()
	}

	return orders.Item{
		ProductID:   productID,
		VariationID: variationID,
		Quantity:    in.Quantity,
		Price:       price,
		SalePrice:   salePrice,
		Discount:    valueOr(in.Discount, money.Zero).Round(),
		Total:       total,
	}
}

func valueOr(v *money.Amount, def money.Amount) money.Amount {
	if v == nil {
		return def
	}
	return *v
}
