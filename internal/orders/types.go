package orders

import (
	"strings"
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// Order statuses. These are the slugs of the default status definitions.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Address is a postal address captured on the order.
type Address struct {
	Name       string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Line1      string `dynamodbav:"line1,omitempty" json:"line1,omitempty"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	City       string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	State      string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	PostalCode string `dynamodbav:"postal_code,omitempty" json:"postal_code,omitempty"`
	Country    string `dynamodbav:"country,omitempty" json:"country,omitempty"`
	Phone      string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

// IsZero reports whether every field of a is blank. A nil address is zero.
func (a *Address) IsZero() bool {
	if a == nil {
		return true
	}
	for _, f := range []string{a.Name, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone} {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Item is a priced order line. Total is SalePrice times Quantity unless the
// line was settled with an exact total, as cart lines are.
type Item struct {
	ProductID   string       `dynamodbav:"product_id" json:"product_id"`
	VariationID string       `dynamodbav:"variation_id,omitempty" json:"variation_id,omitempty"`
	Quantity    int          `dynamodbav:"quantity" json:"quantity"`
	Price       money.Amount `dynamodbav:"price" json:"price"`
	SalePrice   money.Amount `dynamodbav:"sale_price" json:"sale_price"`
	Discount    money.Amount `dynamodbav:"discount" json:"discount"`
	Total       money.Amount `dynamodbav:"total" json:"total"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	ID              string       `dynamodbav:"order_id" json:"id"` // PK
	OrderNumber     string       `dynamodbav:"order_number" json:"order_number"`
	UserID          string       `dynamodbav:"user_id" json:"user_id"` // GSI user_id-index
	StoreID         string       `dynamodbav:"store_id" json:"store_id"`
	Items           []Item       `dynamodbav:"items" json:"items"`
	Subtotal        money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	TaxAmount       money.Amount `dynamodbav:"tax_amount" json:"tax_amount"`
	ShippingCost    money.Amount `dynamodbav:"shipping_cost" json:"shipping_cost"`
	DiscountAmount  money.Amount `dynamodbav:"discount_amount" json:"discount_amount"`
	TotalAmount     money.Amount `dynamodbav:"total_amount" json:"total_amount"`
	Status          string       `dynamodbav:"status" json:"status"`
	PaymentStatus   string       `dynamodbav:"payment_status" json:"payment_status"`
	PaymentMethod   string       `dynamodbav:"payment_method" json:"payment_method"`
	ShippingAddress *Address     `dynamodbav:"shipping_address,omitempty" json:"shipping_address,omitempty"`
	BillingAddress  *Address     `dynamodbav:"billing_address,omitempty" json:"billing_address,omitempty"`
	Notes           string       `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	TrackingNumber  string       `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	Carrier         string       `dynamodbav:"carrier,omitempty" json:"carrier,omitempty"`
	StatusUpdatedAt *time.Time   `dynamodbav:"status_updated_at,omitempty" json:"status_updated_at,omitempty"`
	// StatusActivityKey is the sort key of the activity that set Status.
	StatusActivityKey string    `dynamodbav:"status_activity_key,omitempty" json:"-"`
	CreatedAt         time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Patch lists the order fields that may change after creation outside the
// status workflow. Nil fields are left untouched.
type Patch struct {
	PaymentStatus  *string
	TrackingNumber *string
	Carrier        *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.PaymentStatus == nil && p.TrackingNumber == nil && p.Carrier == nil
}
