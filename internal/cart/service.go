// Package cart owns per-user shopping carts: merging line items by
// (product, variation), rescaling sub-totals from the derived unit price and
// keeping the cart totals equal to the sum of its lines.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/catalog"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

const defaultMaxRetries = 5

// ServiceDeps bundles collaborators required to construct a Service.
type ServiceDeps struct {
	Repository Repository
	// Cache is optional.
	Cache Cache
	// Catalog is optional; without it AddItem requires a sub-total hint.
	Catalog     catalog.Lookup
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
	MaxRetries  int
}

// Service is the cart aggregator. Mutations for one owner never interleave
// inside a process, and the version check in Repository.Save catches
// interleavings across processes.
type Service struct {
	repo       Repository
	cache      Cache
	catalog    catalog.Lookup
	logger     *zap.Logger
	clock      func() time.Time
	newID      func() string
	maxRetries int
	locks      *keyedMutex
	sfg        singleflight.Group
}

// AddItemCommand adds Quantity units of a product to the owner's cart.
// SubTotal is the line amount for Quantity units; when zero it is priced from
// the catalog. It is set by internal callers only.
type AddItemCommand struct {
	OwnerID     string
	ProductID   string
	VariationID string
	Quantity    int
	SubTotal    money.Amount
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	retries := deps.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Service{
		repo:    deps.Repository,
		cache:   deps.Cache,
		catalog: deps.Catalog,
		logger:  logging.OrNop(deps.Logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      newID,
		maxRetries: retries,
		locks:      newKeyedMutex(),
	}, nil
}

// Get returns the owner's cart, or an empty unsaved cart when none exists.
func (s *Service) Get(ctx context.Context, ownerID string) (*Cart, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}

	shared := context.WithoutCancel(ctx)
	ch := s.sfg.DoChan(ownerID, func() (interface{}, error) {
		return s.load(shared, ownerID)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.System("cart.get", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Cart).Clone(), nil
	}
}

// load reads through the cache. The copy read from storage is offered to the
// cache, which keeps it only if nothing newer is cached.
func (s *Service) load(ctx context.Context, ownerID string) (*Cart, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cart cache get failed", zap.String("user_id", ownerID), zap.Error(err))
		}
	}

	c, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.System("cart.get", err)
	}
	if c == nil {
		return s.newCart(ownerID), nil
	}
	Normalize(c)
	Recompute(c)
	s.storeInCache(ctx, ownerID, c)
	return c, nil
}

// AddItem merges the product into the cart, creating the cart if needed.
func (s *Service) AddItem(ctx context.Context, cmd AddItemCommand) (*Cart, error) {
	ownerID := strings.TrimSpace(cmd.OwnerID)
	productID := strings.TrimSpace(cmd.ProductID)
	variationID := strings.TrimSpace(cmd.VariationID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}
	if productID == "" {
		return nil, apperr.MissingField("product_id")
	}
	if cmd.Quantity < 1 {
		return nil, apperr.InvalidQuantity(productID)
	}
	if cmd.SubTotal.IsNegative() {
		return nil, apperr.InvalidInput("sub_total", "sub_total must be non-negative")
	}

	subTotal := cmd.SubTotal.Round()
	var productSnap *ProductSnapshot
	var variationSnap *VariationSnapshot
	if s.catalog != nil {
		product, err := s.catalog.FindProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		prices, ok := product.PricesFor(variationID)
		if !ok {
			return nil, apperr.VariationNotFound(variationID)
		}
		productSnap = &ProductSnapshot{Name: product.Name, Price: product.Price, SalePrice: product.SalePrice}
		if variationID != "" {
			v, _ := product.Variation(variationID)
			variationSnap = &VariationSnapshot{Name: v.Name, Price: prices.Effective()}
		}
		if subTotal.IsZero() {
			subTotal = prices.Effective().Mul(cmd.Quantity).Round()
		}
	} else if subTotal.IsZero() {
		return nil, apperr.MissingField("sub_total")
	}

	return s.mutate(ctx, ownerID, true, func(c *Cart, now time.Time) (bool, error) {
		if idx := FindLine(c.Items, productID, variationID); idx >= 0 {
			if err := MergeLine(&c.Items[idx], cmd.Quantity, now); err != nil {
				return false, err
			}
			return true, nil
		}
		c.Items = append(c.Items, LineItem{
			ID:          s.newID(),
			ProductID:   productID,
			VariationID: variationID,
			Quantity:    cmd.Quantity,
			SubTotal:    subTotal,
			Product:     productSnap,
			Variation:   variationSnap,
			AddedAt:     now,
			UpdatedAt:   now,
		})
		return true, nil
	})
}

// UpdateItemQuantity sets a line's quantity. A quantity of zero or less removes
// the line.
func (s *Service) UpdateItemQuantity(ctx context.Context, ownerID, itemID string, quantity int) (*Cart, error) {
	ownerID = strings.TrimSpace(ownerID)
	itemID = strings.TrimSpace(itemID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}
	if itemID == "" {
		return nil, apperr.MissingField("item_id")
	}

	return s.mutate(ctx, ownerID, false, func(c *Cart, now time.Time) (bool, error) {
		idx := IndexOfItem(c.Items, itemID)
		if idx < 0 {
			return false, apperr.ItemNotFound(itemID)
		}
		if quantity <= 0 {
			c.Items = RemoveLine(c.Items, idx)
			return true, nil
		}
		if err := RescaleLine(&c.Items[idx], quantity, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// RemoveItem deletes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, ownerID, itemID string) (*Cart, error) {
	ownerID = strings.TrimSpace(ownerID)
	itemID = strings.TrimSpace(itemID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}
	if itemID == "" {
		return nil, apperr.MissingField("item_id")
	}

	return s.mutate(ctx, ownerID, false, func(c *Cart, _ time.Time) (bool, error) {
		idx := IndexOfItem(c.Items, itemID)
		if idx < 0 {
			return false, apperr.ItemNotFound(itemID)
		}
		c.Items = RemoveLine(c.Items, idx)
		return true, nil
	})
}

// Clear empties the cart. Clearing a missing or empty cart succeeds without a write.
func (s *Service) Clear(ctx context.Context, ownerID string) (*Cart, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}

	return s.mutate(ctx, ownerID, true, func(c *Cart, _ time.Time) (bool, error) {
		if len(c.Items) == 0 {
			return false, nil
		}
		c.Items = []LineItem{}
		return true, nil
	})
}

// Checkout reserves the owner's cart for an order. Under the owner's lock the
// cart is read from storage and saved empty under the version that was read;
// place then runs on the reserved lines. A cart changed by another instance
// in between fails the version check and is read again, so place never sees a
// stale snapshot. When place fails the reserved lines are merged back.
// A missing or empty cart fails with EmptyOrder.
func (s *Service) Checkout(ctx context.Context, ownerID string, place func(ctx context.Context, reserved *Cart) error) (*Cart, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}

	unlock := s.locks.Lock(ownerID)
	defer unlock()

	var reserved *Cart
	cleared, err := s.mutateLocked(ctx, ownerID, true, func(c *Cart, _ time.Time) (bool, error) {
		if len(c.Items) == 0 {
			return false, apperr.EmptyOrder()
		}
		reserved = c.Clone()
		Recompute(reserved)
		c.Items = []LineItem{}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := place(ctx, reserved.Clone()); err != nil {
		s.restore(context.WithoutCancel(ctx), ownerID, reserved)
		return nil, err
	}
	return cleared, nil
}

// restore merges reserved lines back into the owner's cart after a failed
// checkout. Lines added since the reservation are kept.
func (s *Service) restore(ctx context.Context, ownerID string, reserved *Cart) {
	_, err := s.mutateLocked(ctx, ownerID, true, func(c *Cart, now time.Time) (bool, error) {
		for _, line := range reserved.Items {
			if idx := FindLine(c.Items, line.ProductID, line.VariationID); idx >= 0 {
				c.Items[idx].Quantity += line.Quantity
				c.Items[idx].SubTotal = c.Items[idx].SubTotal.Add(line.SubTotal)
				c.Items[idx].UpdatedAt = now
				continue
			}
			c.Items = append(c.Items, line)
		}
		return len(reserved.Items) > 0, nil
	})
	if err != nil {
		s.logger.Error("restore cart after failed checkout",
			zap.String("user_id", ownerID),
			zap.Int("lines", len(reserved.Items)),
			zap.Error(err),
		)
	}
}

// mutate loads the owner's cart, applies fn and saves the result, retrying
// from a fresh read when another writer won the version race. Recompute is the
// last step before every save.
func (s *Service) mutate(ctx context.Context, ownerID string, create bool, fn func(c *Cart, now time.Time) (bool, error)) (*Cart, error) {
	unlock := s.locks.Lock(ownerID)
	defer unlock()
	return s.mutateLocked(ctx, ownerID, create, fn)
}

// mutateLocked is mutate for callers already holding the owner's lock.
func (s *Service) mutateLocked(ctx context.Context, ownerID string, create bool, fn func(c *Cart, now time.Time) (bool, error)) (*Cart, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.System("cart.mutate", err)
		}

		current, err := s.repo.FindByOwner(ctx, ownerID)
		if err != nil {
			return nil, apperr.System("cart.load", err)
		}
		if current == nil {
			if !create {
				return nil, apperr.CartNotFound(ownerID)
			}
			current = s.newCart(ownerID)
		}
		Normalize(current)

		now := s.clock()
		changed, err := fn(current, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			Recompute(current)
			return current, nil
		}

		current.UpdatedAt = now
		Recompute(current)

		saved, err := s.repo.Save(ctx, current)
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			s.logger.Info("cart version conflict, retrying",
				zap.String("user_id", ownerID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, apperr.System("cart.save", err)
		}

		s.storeInCache(ctx, ownerID, saved)
		return saved.Clone(), nil
	}
	return nil, apperr.Conflict("cart was modified concurrently", lastErr)
}

// storeInCache offers c to the cache. The cache keeps the highest version it
// has seen, so a delayed write from another instance cannot replace a newer
// cart. On failure the entry is dropped.
func (s *Service) storeInCache(ctx context.Context, ownerID string, c *Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(ctx, ownerID, c); err != nil {
		s.logger.Warn("cart cache store failed, invalidating", zap.String("user_id", ownerID), zap.Error(err))
		if err := s.cache.Delete(ctx, ownerID); err != nil {
			s.logger.Error("cart cache invalidate failed", zap.String("user_id", ownerID), zap.Error(err))
		}
	}
}

func (s *Service) newCart(ownerID string) *Cart {
	now := s.clock()
	return &Cart{
		OwnerID:   ownerID,
		Items:     []LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
