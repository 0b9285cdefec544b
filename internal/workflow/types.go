package workflow

import (
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
)

// StatusDefinition is the item stored in the OrderStatuses DynamoDB table.
type StatusDefinition struct {
	ID        string     `dynamodbav:"status_id" json:"id"` // PK
	Slug      string     `dynamodbav:"slug" json:"slug"`    // GSI slug-index
	Name      string     `dynamodbav:"name" json:"name"`
	Sequence  int        `dynamodbav:"sequence" json:"sequence"`
	Active    bool       `dynamodbav:"active" json:"active"`
	DeletedAt *time.Time `dynamodbav:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// Usable reports whether orders may be moved into this status.
func (d *StatusDefinition) Usable() bool {
	return d != nil && d.Active && d.DeletedAt == nil
}

// Activity is one immutable entry of an order's status history, stored in the
// StatusActivities table under (order_id, activity_key).
type Activity struct {
	OrderID     string    `dynamodbav:"order_id" json:"order_id"` // PK
	ActivityKey string    `dynamodbav:"activity_key" json:"-"`    // SK: fixed-width timestamp#id
	ID          string    `dynamodbav:"activity_id" json:"id"`
	StatusID    string    `dynamodbav:"status_id" json:"status_id"`
	StatusSlug  string    `dynamodbav:"status_slug" json:"status_slug"`
	StatusName  string    `dynamodbav:"status_name" json:"status_name"`
	Note        string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"created_at"`
}

// activityKeyLayout sorts lexicographically in time order.
const activityKeyLayout = "2006-01-02T15:04:05.000000000Z"

// ActivityKey builds the sort key of an activity.
func ActivityKey(at time.Time, id string) string {
	return at.UTC().Format(activityKeyLayout) + "#" + id
}

// StatusCounts is the number of orders per canonical status. Total counts
// every order, including those in non-canonical statuses.
type StatusCounts struct {
	Pending    int `json:"pending"`
	Confirmed  int `json:"confirmed"`
	Processing int `json:"processing"`
	Shipped    int `json:"shipped"`
	Delivered  int `json:"delivered"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// DefaultStatuses returns the canonical status catalog in sequence order.
func DefaultStatuses() []StatusDefinition {
	return []StatusDefinition{
		{Slug: orders.StatusPending, Name: "Pending", Sequence: 1, Active: true},
		{Slug: orders.StatusConfirmed, Name: "Confirmed", Sequence: 2, Active: true},
		{Slug: orders.StatusProcessing, Name: "Processing", Sequence: 3, Active: true},
		{Slug: orders.StatusShipped, Name: "Shipped", Sequence: 4, Active: true},
		{Slug: orders.StatusDelivered, Name: "Delivered", Sequence: 5, Active: true},
		{Slug: orders.StatusCancelled, Name: "Cancelled", Sequence: 6, Active: true},
	}
}
