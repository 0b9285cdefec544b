package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-retail-orderflow/internal/cart"
	"github.com/imrishuroy/go-retail-orderflow/internal/validation"
)

// CartService is the cart aggregator.
type CartService interface {
	Get(ctx context.Context, ownerID string) (*cart.Cart, error)
	AddItem(ctx context.Context, cmd cart.AddItemCommand) (*cart.Cart, error)
	UpdateItemQuantity(ctx context.Context, ownerID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, ownerID, itemID string) (*cart.Cart, error)
	Clear(ctx context.Context, ownerID string) (*cart.Cart, error)
}

func (a *api) registerCartRoutes(r *gin.Engine) {
	g := r.Group("/carts/:user_id")

	g.GET("", func(c *gin.Context) {
		out, err := a.Carts.Get(c.Request.Context(), c.Param("user_id"))
		a.respond(c, http.StatusOK, out, err)
	})

	g.POST("/items", func(c *gin.Context) {
		var req validation.AddCartItemRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		cmd := cart.AddItemCommand{
			OwnerID:     c.Param("user_id"),
			ProductID:   req.ProductID,
			VariationID: req.VariationID,
			Quantity:    req.Quantity,
		}
		out, err := a.Carts.AddItem(c.Request.Context(), cmd)
		a.respond(c, http.StatusOK, out, err)
	})

	g.PATCH("/items/:item_id", func(c *gin.Context) {
		var req validation.UpdateCartItemRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		out, err := a.Carts.UpdateItemQuantity(c.Request.Context(), c.Param("user_id"), c.Param("item_id"), *req.Quantity)
		a.respond(c, http.StatusOK, out, err)
	})

	g.DELETE("/items/:item_id", func(c *gin.Context) {
		out, err := a.Carts.RemoveItem(c.Request.Context(), c.Param("user_id"), c.Param("item_id"))
		a.respond(c, http.StatusOK, out, err)
	})

	g.DELETE("", func(c *gin.Context) {
		out, err := a.Carts.Clear(c.Request.Context(), c.Param("user_id"))
		a.respond(c, http.StatusOK, out, err)
	})

	if a.Checkout != nil {
		g.POST("/checkout", a.checkoutCart)
	}
}

// respond writes out with status, or the mapped error.
func (a *api) respond(c *gin.Context, status int, out interface{}, err error) {
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(status, out)
}
