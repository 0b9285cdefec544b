package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/checkout"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
	"github.com/imrishuroy/go-retail-orderflow/internal/pricing"
	"github.com/imrishuroy/go-retail-orderflow/internal/validation"
)

// IdempotencyKeyHeader names the optional header that makes order creation
// safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// CheckoutService places orders.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, req pricing.Request, idempotencyKey string) (*checkout.Result, error)
	CheckoutCart(ctx context.Context, ownerID string, req pricing.Request, idempotencyKey string) (*checkout.Result, error)
}

// OrderStore reads and patches stored orders.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Update(ctx context.Context, orderID string, patch orders.Patch) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
}

func (a *api) registerOrderRoutes(r *gin.Engine) {
	if a.Checkout != nil {
		r.POST("/orders", a.placeOrder)
	}
	if a.Orders == nil {
		return
	}

	r.GET("/orders/:id", func(c *gin.Context) {
		id := c.Param("id")
		order, err := a.Orders.Get(c.Request.Context(), id)
		if err == nil && order == nil {
			err = apperr.OrderNotFound(id)
		}
		a.respond(c, http.StatusOK, order, err)
	})

	r.PATCH("/orders/:id", func(c *gin.Context) {
		var req validation.PatchOrderRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		id := c.Param("id")
		order, err := a.Orders.Update(c.Request.Context(), id, orders.Patch{
			PaymentStatus:  req.PaymentStatus,
			TrackingNumber: req.TrackingNumber,
			Carrier:        req.Carrier,
		})
		if err == nil && order == nil {
			err = apperr.OrderNotFound(id)
		}
		a.respond(c, http.StatusOK, order, err)
	})

	r.GET("/users/:user_id/orders", func(c *gin.Context) {
		list, err := a.Orders.ListByUser(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			writeError(c, a.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})
}

func (a *api) placeOrder(c *gin.Context) {
	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	key := c.GetHeader(IdempotencyKeyHeader)
	res, err := a.Checkout.PlaceOrder(c.Request.Context(), toPricingRequest(req), key)
	a.writeOrderResult(c, res, err, key)
}

func (a *api) checkoutCart(c *gin.Context) {
	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
		return
	}
	key := c.GetHeader(IdempotencyKeyHeader)
	res, err := a.Checkout.CheckoutCart(c.Request.Context(), c.Param("user_id"), toPricingRequest(req), key)
	a.writeOrderResult(c, res, err, key)
}

// writeOrderResult answers 201 with a Location for a new order and 200 for a
// replayed one.
func (a *api) writeOrderResult(c *gin.Context, res *checkout.Result, err error, key string) {
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	if res.Replayed {
		a.logger.Info("replayed idempotent order",
			zap.String("idempotency_key", key),
			zap.String("order_id", res.Order.ID),
		)
		c.JSON(http.StatusOK, res.Order)
		return
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.ID))
	c.JSON(http.StatusCreated, res.Order)
}

func toPricingRequest(req validation.CheckoutRequest) pricing.Request {
	out := pricing.Request{
		UserID:          req.UserID,
		StoreID:         req.StoreID,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: toAddress(req.ShippingAddress),
		BillingAddress:  toAddress(req.BillingAddress),
		TaxAmount:       req.TaxAmount,
		ShippingCost:    req.ShippingCost,
		DiscountAmount:  req.DiscountAmount,
		Notes:           req.Notes,
		Status:          req.Status,
		PaymentStatus:   req.PaymentStatus,
	}
	if len(req.Items) > 0 {
		out.Items = make([]pricing.ItemRequest, 0, len(req.Items))
		for _, it := range req.Items {
			out.Items = append(out.Items, pricing.ItemRequest{
				ProductID:   it.ProductID,
				VariationID: it.VariationID,
				Quantity:    it.Quantity,
				Price:       it.Price,
				SalePrice:   it.SalePrice,
				Discount:    it.Discount,
			})
		}
	}
	return out
}

func toAddress(in *validation.Address) *orders.Address {
	if in == nil {
		return nil
	}
	return &orders.Address{
		Name:       in.Name,
		Line1:      in.Line1,
		Line2:      in.Line2,
		City:       in.City,
		State:      in.State,
		PostalCode: in.PostalCode,
		Country:    in.Country,
		Phone:      in.Phone,
	}
}
