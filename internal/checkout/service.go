// Package checkout turns a priced request or a user's cart into a persisted,
// numbered order.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/cart"
	"github.com/imrishuroy/go-retail-orderflow/internal/events"
	"github.com/imrishuroy/go-retail-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
	"github.com/imrishuroy/go-retail-orderflow/internal/pricing"
)

const (
	maxCreateAttempts = 3
	// MetricOrdersCreated is the CloudWatch metric emitted per placed order.
	MetricOrdersCreated = "OrdersCreated"
)

// Pricer validates and prices a request.
type Pricer interface {
	Price(ctx context.Context, req pricing.Request) (*orders.Order, error)
}

// OrderRepository persists new orders.
type OrderRepository interface {
	Create(ctx context.Context, order orders.Order) error
	CreateWithIdempotency(ctx context.Context, guard types.TransactWriteItem, order orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// NumberGenerator hands out unique order numbers.
type NumberGenerator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// IdempotencyStore tracks Idempotency-Key records.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	Guard(key, orderID string) (types.TransactWriteItem, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
}

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event events.OrderEvent) error
}

// MetricsRecorder records business counters.
type MetricsRecorder interface {
	Count(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

// Carts is the part of the cart aggregator checkout needs. Checkout empties
// the owner's cart, runs place on the removed lines and puts them back when
// place fails.
type Carts interface {
	Checkout(ctx context.Context, ownerID string, place func(ctx context.Context, reserved *cart.Cart) error) (*cart.Cart, error)
}

// errReplayed aborts a cart checkout whose idempotency key completed while
// the cart was being reserved, so the lines go back into the cart.
var errReplayed = errors.New("checkout replayed")

// Deps bundles collaborators required to construct a Service.
type Deps struct {
	Pricer      Pricer
	Orders      OrderRepository
	Numbers     NumberGenerator
	Idempotency IdempotencyStore
	Carts       Carts
	// Publisher and Metrics are optional.
	Publisher   EventPublisher
	Metrics     MetricsRecorder
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
}

// Service places orders.
type Service struct {
	pricer    Pricer
	orders    OrderRepository
	numbers   NumberGenerator
	idem      IdempotencyStore
	carts     Carts
	publisher EventPublisher
	metrics   MetricsRecorder
	logger    *zap.Logger
	clock     func() time.Time
	newID     func() string
}

// Result is the outcome of placing an order. Replayed is true when the order
// was created by an earlier request with the same idempotency key.
type Result struct {
	Order    *orders.Order
	Replayed bool
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Pricer == nil:
		return nil, errors.New("checkout service: pricer is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Numbers == nil:
		return nil, errors.New("checkout service: number generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		pricer:    deps.Pricer,
		orders:    deps.Orders,
		numbers:   deps.Numbers,
		idem:      deps.Idempotency,
		carts:     deps.Carts,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logging.OrNop(deps.Logger),
		clock:     clock,
		newID:     newID,
	}, nil
}

// PlaceOrder prices req and persists it under a fresh order number. With a
// non-empty idempotencyKey a completed earlier request is replayed and a
// concurrent one is rejected with a conflict.
func (s *Service) PlaceOrder(ctx context.Context, req pricing.Request, idempotencyKey string) (*Result, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idem == nil {
		return nil, apperr.System("checkout.place_order", errors.New("idempotency store is not configured"))
	}

	order, err := s.pricer.Price(ctx, req)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		replay, err := s.replay(ctx, idempotencyKey)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	if err := s.persist(ctx, order, idempotencyKey); err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
	)
	log.Info("order created", zap.Float64("total_amount", order.TotalAmount.Float64()))

	s.announce(ctx, log, order)

	if idempotencyKey != "" {
		body, err := json.Marshal(order)
		if err != nil {
			log.Error("marshal idempotent response", zap.Error(err))
		} else if err := s.idem.MarkDone(ctx, idempotencyKey, string(body), http.StatusCreated); err != nil {
			log.Error("mark idempotency record done", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		}
	}
	return &Result{Order: order}, nil
}

// replay returns the stored result for a completed key, a conflict for a key
// still in progress, and nil when the request should proceed.
func (s *Service) replay(ctx context.Context, key string) (*Result, error) {
	rec, err := s.idem.Get(ctx, key)
	if err != nil {
		return nil, apperr.System("checkout.idempotency_get", err)
	}
	if rec == nil {
		return nil, nil
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			var stored orders.Order
			if err := json.Unmarshal([]byte(rec.ResponseBody), &stored); err == nil {
				return &Result{Order: &stored, Replayed: true}, nil
			}
		}
		stored, err := s.orders.Get(ctx, rec.OrderID)
		if err != nil {
			return nil, apperr.System("checkout.replay", err)
		}
		if stored == nil {
			return nil, apperr.System("checkout.replay", fmt.Errorf("order %s of idempotency key %s is missing", rec.OrderID, key))
		}
		return &Result{Order: stored, Replayed: true}, nil
	case idempotency.StatusInProgress:
		return nil, apperr.Conflict("a request with this idempotency key is in progress", nil)
	default:
		return nil, nil
	}
}

// persist numbers and writes the order, retrying with a fresh id and number
// when the id is already taken.
func (s *Service) persist(ctx context.Context, order *orders.Order, key string) error {
	var lastErr error
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		number, err := s.numbers.NextOrderNumber(ctx)
		if err != nil {
			return apperr.System("checkout.order_number", err)
		}
		order.OrderNumber = number

		if key != "" {
			guard, err := s.idem.Guard(key, order.ID)
			if err != nil {
				return apperr.System("checkout.idempotency_guard", err)
			}
			err = s.orders.CreateWithIdempotency(ctx, guard, *order)
			if errors.Is(err, orders.ErrIdempotencyKeyExists) {
				return apperr.Conflict("a request with this idempotency key is in progress", err)
			}
			lastErr = err
		} else {
			lastErr = s.orders.Create(ctx, *order)
		}

		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, orders.ErrOrderExists) {
			return apperr.System("checkout.create_order", lastErr)
		}
		s.logger.Warn("order id collision, retrying",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
		)
		order.ID = s.newID()
	}
	return apperr.Conflict("could not allocate a unique order id", lastErr)
}

func (s *Service) announce(ctx context.Context, log *zap.Logger, order *orders.Order) {
	if s.publisher != nil {
		total := order.TotalAmount
		err := s.publisher.PublishOrderEvent(ctx, events.OrderEvent{
			Type:        events.TypeOrderCreated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Status:      order.Status,
			TotalAmount: &total,
			OccurredAt:  s.clock().UTC(),
		})
		if err != nil {
			log.Error("publish order created event", zap.Error(err))
		}
	}
	if s.metrics != nil {
		if err := s.metrics.Count(ctx, MetricOrdersCreated, 1, map[string]string{"StoreID": order.StoreID}); err != nil {
			log.Warn("emit orders created metric", zap.Error(err))
		}
	}
}

// CheckoutCart places an order for the owner's cart and empties it. req.Items
// is ignored; the lines come from the cart at the amounts they were added
// with. The cart is emptied before the order is written, so lines added while
// the order is placed stay in the cart, and a failed order puts the checked
// out lines back.
func (s *Service) CheckoutCart(ctx context.Context, ownerID string, req pricing.Request, idempotencyKey string) (*Result, error) {
	if s.carts == nil {
		return nil, apperr.System("checkout.cart", errors.New("cart service is not configured"))
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.MissingField("user_id")
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if s.idem == nil {
			return nil, apperr.System("checkout.cart", errors.New("idempotency store is not configured"))
		}
		replay, err := s.replay(ctx, idempotencyKey)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	var res *Result
	_, err := s.carts.Checkout(ctx, ownerID, func(ctx context.Context, reserved *cart.Cart) error {
		req.UserID = ownerID
		req.Items = ItemsFromCart(reserved)
		placed, err := s.PlaceOrder(ctx, req, idempotencyKey)
		if err != nil {
			return err
		}
		res = placed
		if placed.Replayed {
			return errReplayed
		}
		return nil
	})
	if errors.Is(err, errReplayed) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ItemsFromCart converts cart lines into pricing requests. Each line keeps its
// sub-total as the item total; the sale price is the unit price derived from
// it, rounded to cents.
func ItemsFromCart(c *cart.Cart) []pricing.ItemRequest {
	items := make([]pricing.ItemRequest, 0, len(c.Items))
	for _, line := range c.Items {
		lineTotal := line.SubTotal
		req := pricing.ItemRequest{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			LineTotal:   &lineTotal,
		}
		if unit, err := cart.UnitPrice(line); err == nil {
			unit = unit.Round()
			req.SalePrice = &unit
		}
		items = append(items, req)
	}
	return items
}
