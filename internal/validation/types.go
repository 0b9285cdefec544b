package validation

import "github.com/imrishuroy/go-retail-orderflow/internal/money"

// AddCartItemRequest is the payload for POST /carts/:user_id/items. Lines are
// always priced from the catalog.
type AddCartItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	VariationID string `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity" validate:"required,min=1"`
}

// UpdateCartItemRequest is the payload for PATCH /carts/:user_id/items/:item_id.
// A quantity of zero or less removes the line.
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// Address is a postal address.
type Address struct {
	Name       string `json:"name,omitempty" validate:"max=200"`
	Line1      string `json:"line1,omitempty" validate:"max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city,omitempty" validate:"max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=20"`
	Country    string `json:"country,omitempty" validate:"max=100"`
	Phone      string `json:"phone,omitempty" validate:"max=40"`
}

// CheckoutItem is one requested order line. Nil prices fall back to the catalog.
type CheckoutItem struct {
	ProductID   string        `json:"product_id"`
	VariationID string        `json:"variation_id,omitempty"`
	Quantity    int           `json:"quantity"`
	Price       *money.Amount `json:"price,omitempty" validate:"omitempty,gte=0"`
	SalePrice   *money.Amount `json:"sale_price,omitempty" validate:"omitempty,gte=0"`
	Discount    *money.Amount `json:"discount,omitempty" validate:"omitempty,gte=0"`
}

// CheckoutRequest is the payload for POST /orders and, without items, for
// POST /carts/:user_id/checkout. Presence rules are enforced by the pricing
// engine so that every missing field yields the same error code on both paths.
type CheckoutRequest struct {
	UserID          string         `json:"user_id"`
	StoreID         string         `json:"store_id"`
	Items           []CheckoutItem `json:"items" validate:"dive"`
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress *Address       `json:"shipping_address"`
	BillingAddress  *Address       `json:"billing_address"`
	TaxAmount       *money.Amount  `json:"tax_amount,omitempty" validate:"omitempty,gte=0"`
	ShippingCost    *money.Amount  `json:"shipping_cost,omitempty" validate:"omitempty,gte=0"`
	DiscountAmount  *money.Amount  `json:"discount_amount,omitempty" validate:"omitempty,gte=0"`
	Notes           string         `json:"notes,omitempty" validate:"max=1000"`
	Status          string         `json:"status,omitempty" validate:"omitempty,slug"`
	PaymentStatus   string         `json:"payment_status,omitempty" validate:"omitempty,oneof=pending paid failed refunded"`
}

// PatchOrderRequest is the payload for PATCH /orders/:id
type PatchOrderRequest struct {
	PaymentStatus  *string `json:"payment_status,omitempty" validate:"omitempty,oneof=pending paid failed refunded"`
	TrackingNumber *string `json:"tracking_number,omitempty" validate:"omitempty,max=100"`
	Carrier        *string `json:"carrier,omitempty" validate:"omitempty,max=100"`
}

// RecordTransitionRequest is the payload for POST /orders/:id/status. Exactly
// one of StatusID and StatusSlug is required.
type RecordTransitionRequest struct {
	StatusID   string `json:"status_id,omitempty"`
	StatusSlug string `json:"status_slug,omitempty" validate:"omitempty,slug"`
	Note       string `json:"note,omitempty" validate:"max=500"`
}

// CreateStatusRequest is the payload for POST /order-statuses
type CreateStatusRequest struct {
	Slug     string `json:"slug" validate:"required,slug,max=64"`
	Name     string `json:"name" validate:"required,max=100"`
	Sequence int    `json:"sequence" validate:"gte=0"`
	Active   *bool  `json:"active,omitempty"`
}

// UpdateStatusRequest is the payload for PUT /order-statuses/:id
type UpdateStatusRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Sequence *int    `json:"sequence,omitempty" validate:"omitempty,gte=0"`
	Active   *bool   `json:"active,omitempty"`
}
