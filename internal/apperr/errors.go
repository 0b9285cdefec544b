// Package apperr is the error taxonomy shared by the cart, pricing and
// workflow services. Every error a service returns to its caller is an *Error
// so the transport can map it without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Error codes
const (
	CodeMissingField      = "missing_field"
	CodeInvalidInput      = "invalid_input"
	CodeEmptyOrder        = "empty_order"
	CodeInvalidQuantity   = "invalid_quantity"
	CodeProductNotFound   = "product_not_found"
	CodeVariationNotFound = "variation_not_found"
	CodeCartNotFound      = "cart_not_found"
	CodeItemNotFound      = "item_not_found"
	CodeOrderNotFound     = "order_not_found"
	CodeUnknownStatus     = "unknown_status"
	CodeConflict          = "conflict"
	CodeSystem            = "internal_error"
)

// Error is a classified failure. Field names the offending input field for
// validation errors; Subject carries the identifier the error is about.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	switch {
	case e.Field != "":
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	case e.Subject != "":
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code, and on Field/Subject when the target sets them, so callers
// can write errors.Is(err, apperr.ErrMissingField) or compare against
// apperr.MissingField("store_id").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	if t.Field != "" && t.Field != e.Field {
		return false
	}
	if t.Subject != "" && t.Subject != e.Subject {
		return false
	}
	return true
}

// Sentinels for errors.Is.
var (
	ErrMissingField      = &Error{Kind: KindValidation, Code: CodeMissingField}
	ErrInvalidInput      = &Error{Kind: KindValidation, Code: CodeInvalidInput}
	ErrEmptyOrder        = &Error{Kind: KindValidation, Code: CodeEmptyOrder}
	ErrInvalidQuantity   = &Error{Kind: KindValidation, Code: CodeInvalidQuantity}
	ErrProductNotFound   = &Error{Kind: KindNotFound, Code: CodeProductNotFound}
	ErrVariationNotFound = &Error{Kind: KindNotFound, Code: CodeVariationNotFound}
	ErrCartNotFound      = &Error{Kind: KindNotFound, Code: CodeCartNotFound}
	ErrItemNotFound      = &Error{Kind: KindNotFound, Code: CodeItemNotFound}
	ErrOrderNotFound     = &Error{Kind: KindNotFound, Code: CodeOrderNotFound}
	ErrUnknownStatus     = &Error{Kind: KindNotFound, Code: CodeUnknownStatus}
	ErrConflict          = &Error{Kind: KindConflict, Code: CodeConflict}
	ErrSystem            = &Error{Kind: KindSystem, Code: CodeSystem}
)

func MissingField(field string) *Error {
	return &Error{Kind: KindValidation, Code: CodeMissingField, Field: field, Message: "missing field"}
}

func InvalidInput(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Field: field, Message: message}
}

func EmptyOrder() *Error {
	return &Error{Kind: KindValidation, Code: CodeEmptyOrder, Message: "order has no items"}
}

func InvalidQuantity(productID string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidQuantity, Subject: productID, Message: "quantity must be at least 1"}
}

func ProductNotFound(productID string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeProductNotFound, Subject: productID, Message: "product not found"}
}

func VariationNotFound(variationID string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeVariationNotFound, Subject: variationID, Message: "variation not found"}
}

func CartNotFound(ownerID string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeCartNotFound, Subject: ownerID, Message: "cart not found"}
}

func ItemNotFound(itemID string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeItemNotFound, Subject: itemID, Message: "cart item not found"}
}

func OrderNotFound(orderID string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeOrderNotFound, Subject: orderID, Message: "order not found"}
}

func UnknownStatus(status string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeUnknownStatus, Subject: status, Message: "unknown order status"}
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message, Err: err}
}

// System wraps a storage or infrastructure failure. op names the operation.
func System(op string, err error) *Error {
	return &Error{Kind: KindSystem, Code: CodeSystem, Message: op, Err: err}
}

// KindOf returns the Kind of err, KindSystem for unclassified errors and 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
