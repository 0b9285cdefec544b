// Package events defines the order lifecycle messages published to SQS.
package events

import (
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// Event types
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the JSON body of every order lifecycle message.
type OrderEvent struct {
	Type           string        `json:"type"`
	OrderID        string        `json:"order_id"`
	OrderNumber    string        `json:"order_number,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	PreviousStatus string        `json:"previous_status,omitempty"`
	Status         string        `json:"status"`
	Note           string        `json:"note,omitempty"`
	TotalAmount    *money.Amount `json:"total_amount,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}
