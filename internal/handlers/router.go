package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/metrics"
	"github.com/imrishuroy/go-retail-orderflow/internal/validation"
)

// RouterConfig groups the services the HTTP API exposes. A nil service leaves
// its routes unregistered.
type RouterConfig struct {
	Carts    CartService
	Checkout CheckoutService
	Orders   OrderStore
	Workflow WorkflowService
	Metrics  *metrics.ServerMetrics
	Logger   *zap.Logger
}

type api struct {
	RouterConfig
	validate *validatorv10.Validate
	logger   *zap.Logger
}

// NewRouter builds the gin engine with recovery, request logging, metrics and
// every resource route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	a := &api{
		RouterConfig: cfg,
		validate:     validation.New(),
		logger:       logging.OrNop(cfg.Logger),
	}

	r := gin.New()
	r.Use(recovery(a.logger))
	r.Use(requestLogger(a.logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Carts != nil {
		a.registerCartRoutes(r)
	}
	if cfg.Checkout != nil || cfg.Orders != nil {
		a.registerOrderRoutes(r)
	}
	if cfg.Workflow != nil {
		a.registerStatusRoutes(r)
	}
	return r
}

// recovery logs panics and answers with the opaque system error.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperr.CodeSystem})
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("http request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
