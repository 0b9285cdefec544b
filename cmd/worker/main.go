package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/aws"
	"github.com/imrishuroy/go-retail-orderflow/internal/config"
	"github.com/imrishuroy/go-retail-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
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

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	deps := workflow.Deps{
		Definitions: workflow.NewDefinitionStore(clients.DynamoDB, cfg.Tables.OrderStatuses),
		Activities:  workflow.NewActivityStore(clients.DynamoDB, cfg.Tables.StatusActivities),
		Orders:      orders.NewStore(clients.DynamoDB, cfg.Tables.Orders),
		Logger:      logger.Named("workflow"),
	}
	if cfg.Queues.OrderEventsURL != "" {
		deps.Publisher = aws.NewPublisher(clients.SQS, cfg.Queues.OrderEventsURL)
	}
	wf, err := workflow.NewService(deps)
	if err != nil {
		logger.Fatal("failed to init workflow", zap.Error(err))
	}

	p := NewProcessor(wf,
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL, idempotency.WithLease(cfg.WorkerClaimLease)),
		logger.Named("worker"),
	)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_id":"local-order-1","status_slug":"processing"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
