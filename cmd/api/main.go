package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
	"github.com/imrishuroy/go-retail-orderflow/internal/cart"
	"github.com/imrishuroy/go-retail-orderflow/internal/catalog"
	"github.com/imrishuroy/go-retail-orderflow/internal/checkout"
	"github.com/imrishuroy/go-retail-orderflow/internal/config"
	"github.com/imrishuroy/go-retail-orderflow/internal/handlers"
	"github.com/imrishuroy/go-retail-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/metrics"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
	"github.com/imrishuroy/go-retail-orderflow/internal/pricing"
	"github.com/imrishuroy/go-retail-orderflow/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	router, err := setupRouter(ctx, cfg, clients, logger)
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}

	// if RUN_LOCAL is true, run a local HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := router.Run(cfg.HTTPAddr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(router)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func setupRouter(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		publisher *aws.Publisher
		cartCache cart.Cache
	)
	if cfg.Queues.OrderEventsURL != "" {
		publisher = aws.NewPublisher(clients.SQS, cfg.Queues.OrderEventsURL)
	} else {
		logger.Warn("ORDER_EVENTS_QUEUE_URL is empty, order events are not published")
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unavailable, cart cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			cartCache = cart.NewRedisCache(rdb, cfg.Cart.CacheTTL)
		}
	}

	products := catalog.NewStore(clients.DynamoDB, cfg.Tables.Products)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders)

	carts, err := cart.NewService(cart.ServiceDeps{
		Repository: cart.NewStore(clients.DynamoDB, cfg.Tables.Carts),
		Cache:      cartCache,
		Catalog:    products,
		Logger:     logger.Named("cart"),
		MaxRetries: cfg.Cart.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	engine, err := pricing.NewEngine(products)
	if err != nil {
		return nil, err
	}

	checkoutDeps := checkout.Deps{
		Pricer:      engine,
		Orders:      orderStore,
		Numbers:     orders.NewCounter(clients.DynamoDB, cfg.Tables.Counters),
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		Carts:       carts,
		Metrics:     aws.NewMetricsEmitter(clients.CloudWatch, cfg.MetricsNamespace),
		Logger:      logger.Named("checkout"),
	}
	workflowDeps := workflow.Deps{
		Definitions: workflow.NewDefinitionStore(clients.DynamoDB, cfg.Tables.OrderStatuses),
		Activities:  workflow.NewActivityStore(clients.DynamoDB, cfg.Tables.StatusActivities),
		Orders:      orderStore,
		Logger:      logger.Named("workflow"),
	}
	if publisher != nil {
		checkoutDeps.Publisher = publisher
		workflowDeps.Publisher = publisher
	}

	placer, err := checkout.NewService(checkoutDeps)
	if err != nil {
		return nil, err
	}
	statuses, err := workflow.NewService(workflowDeps)
	if err != nil {
		return nil, err
	}

	if cfg.SeedStatuses {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := statuses.SeedDefaults(seedCtx); err != nil {
			logger.Warn("failed to seed order statuses", zap.Error(err))
		}
	}

	return handlers.NewRouter(handlers.RouterConfig{
		Carts:    carts,
		Checkout: placer,
		Orders:   orderStore,
		Workflow: statuses,
		Metrics:  metrics.NewServerMetrics("api", prometheus.NewRegistry()),
		Logger:   logger,
	}), nil
}
