package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-retail-orderflow/internal/validation"
	"github.com/imrishuroy/go-retail-orderflow/internal/workflow"
)

// WorkflowService is the order status workflow.
type WorkflowService interface {
	RecordTransition(ctx context.Context, orderID, statusID, note string) (*workflow.Activity, error)
	RecordTransitionBySlug(ctx context.Context, orderID, slug, note string) (*workflow.Activity, error)
	History(ctx context.Context, orderID string) ([]workflow.Activity, error)
	StatusCounts(ctx context.Context) (workflow.StatusCounts, error)
	ListStatuses(ctx context.Context) ([]workflow.StatusDefinition, error)
	CreateStatus(ctx context.Context, in workflow.CreateStatusInput) (*workflow.StatusDefinition, error)
	UpdateStatus(ctx context.Context, id string, in workflow.UpdateStatusInput) (*workflow.StatusDefinition, error)
	DeleteStatus(ctx context.Context, id string) error
}

func (a *api) registerStatusRoutes(r *gin.Engine) {
	r.POST("/orders/:id/status", func(c *gin.Context) {
		var req validation.RecordTransitionRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		var (
			act *workflow.Activity
			err error
		)
		if req.StatusID != "" {
			act, err = a.Workflow.RecordTransition(c.Request.Context(), c.Param("id"), req.StatusID, req.Note)
		} else {
			act, err = a.Workflow.RecordTransitionBySlug(c.Request.Context(), c.Param("id"), req.StatusSlug, req.Note)
		}
		a.respond(c, http.StatusCreated, act, err)
	})

	r.GET("/orders/:id/history", func(c *gin.Context) {
		acts, err := a.Workflow.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, a.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"activities": acts})
	})

	r.GET("/order-status-counts", func(c *gin.Context) {
		counts, err := a.Workflow.StatusCounts(c.Request.Context())
		a.respond(c, http.StatusOK, counts, err)
	})

	g := r.Group("/order-statuses")

	g.GET("", func(c *gin.Context) {
		list, err := a.Workflow.ListStatuses(c.Request.Context())
		if err != nil {
			writeError(c, a.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"statuses": list})
	})

	g.POST("", func(c *gin.Context) {
		var req validation.CreateStatusRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		def, err := a.Workflow.CreateStatus(c.Request.Context(), workflow.CreateStatusInput{
			Slug:     req.Slug,
			Name:     req.Name,
			Sequence: req.Sequence,
			Active:   req.Active,
		})
		a.respond(c, http.StatusCreated, def, err)
	})

	g.PUT("/:id", func(c *gin.Context) {
		var req validation.UpdateStatusRequest
		if err := validation.BindAndValidate(c, &req, a.validate); err != nil {
			return
		}
		def, err := a.Workflow.UpdateStatus(c.Request.Context(), c.Param("id"), workflow.UpdateStatusInput{
			Name:     req.Name,
			Sequence: req.Sequence,
			Active:   req.Active,
		})
		a.respond(c, http.StatusOK, def, err)
	})

	g.DELETE("/:id", func(c *gin.Context) {
		if err := a.Workflow.DeleteStatus(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, a.logger, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
