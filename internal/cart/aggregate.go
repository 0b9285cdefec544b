package cart

import (
	"fmt"
	"time"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// FindLine returns the index of the line whose identity is (productID,
// variationID), or -1.
func FindLine(items []LineItem, productID, variationID string) int {
	for i, it := range items {
		if it.ProductID == productID && it.VariationID == variationID {
			return i
		}
	}
	return -1
}

// IndexOfItem returns the index of the line with the given id, or -1.
func IndexOfItem(items []LineItem, itemID string) int {
	for i, it := range items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

// UnitPrice derives the unit price of a line from its sub-total, keeping
// sub-cent digits. A stored line never has a zero quantity, so hitting one is
// a data defect.
func UnitPrice(item LineItem) (money.Amount, error) {
	if err := checkQuantity(item); err != nil {
		return money.Zero, err
	}
	return item.SubTotal.Div(item.Quantity), nil
}

func checkQuantity(item LineItem) error {
	if item.Quantity <= 0 {
		return apperr.System("cart.unit_price", fmt.Errorf("line %s has quantity %d", item.ID, item.Quantity))
	}
	return nil
}

// MergeLine adds quantity to an existing line and rescales its sub-total by
// the derived unit price.
func MergeLine(item *LineItem, quantity int, now time.Time) error {
	return RescaleLine(item, item.Quantity+quantity, now)
}

// RescaleLine sets a line's quantity and rescales its sub-total by the derived
// unit price, rounded to cents.
func RescaleLine(item *LineItem, quantity int, now time.Time) error {
	if err := checkQuantity(*item); err != nil {
		return err
	}
	item.SubTotal = item.SubTotal.Scale(quantity, item.Quantity)
	item.Quantity = quantity
	item.UpdatedAt = now
	return nil
}

// RemoveLine removes the line at idx, preserving order.
func RemoveLine(items []LineItem, idx int) []LineItem {
	out := make([]LineItem, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

// Recompute restores the aggregate invariants: subtotal is the sum of line
// sub-totals and total equals subtotal.
func Recompute(c *Cart) {
	subtotal := money.Zero
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.SubTotal)
	}
	c.Subtotal = subtotal
	c.Total = subtotal
}

// Normalize drops soft-deleted lines and folds lines sharing an identity into
// the first occurrence. Carts written by this package never need it; documents
// written by older clients might.
func Normalize(c *Cart) {
	if c.Items == nil {
		c.Items = []LineItem{}
		return
	}
	out := make([]LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.DeletedAt != nil {
			continue
		}
		if idx := FindLine(out, it.ProductID, it.VariationID); idx >= 0 {
			out[idx].Quantity += it.Quantity
			out[idx].SubTotal = out[idx].SubTotal.Add(it.SubTotal)
			continue
		}
		out = append(out, it)
	}
	c.Items = out
}
