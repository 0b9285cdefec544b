package catalog

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// CoalescingLookup collapses concurrent lookups of the same product into one
// call to the underlying Lookup.
type CoalescingLookup struct {
	next Lookup
	sfg  singleflight.Group
}

func NewCoalescingLookup(next Lookup) *CoalescingLookup {
	return &CoalescingLookup{next: next}
}

// FindProduct joins an in-flight lookup of productID or starts one. The shared
// call does not inherit the caller's cancellation; a cancelled caller stops
// waiting while the others still get the result.
func (l *CoalescingLookup) FindProduct(ctx context.Context, productID string) (Product, error) {
	ch := l.sfg.DoChan(productID, func() (interface{}, error) {
		return l.next.FindProduct(context.WithoutCancel(ctx), productID)
	})
	select {
	case <-ctx.Done():
		return Product{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Product{}, res.Err
		}
		return res.Val.(Product), nil
	}
}
