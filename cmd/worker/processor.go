package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/workflow"
)

// Workflow is the part of the status workflow the worker drives.
type Workflow interface {
	RecordTransition(ctx context.Context, orderID, statusID, note string) (*workflow.Activity, error)
	RecordTransitionBySlug(ctx context.Context, orderID, slug, note string) (*workflow.Activity, error)
	Reconcile(ctx context.Context, orderID string) (*workflow.ReconcileResult, error)
}

// Deduper records which messages were handled, keyed by SQS message id.
type Deduper interface {
	CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// errInFlight means another invocation holds the message's dedup record.
var errInFlight = errors.New("message is being processed by another invocation")

// Processor handles SQS messages and applies status commands.
type Processor struct {
	workflow Workflow
	dedup    Deduper
	logger   *zap.Logger
}

// NewProcessor creates a worker processor. dedup may be nil.
func NewProcessor(wf Workflow, dedup Deduper, logger *zap.Logger) *Processor {
	return &Processor{
		workflow: wf,
		dedup:    dedup,
		logger:   logging.OrNop(logger),
	}
}

// Handle processes a batch and reports the messages that should be retried.
// Messages that can never succeed are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error, message will be retried",
				zap.String("message_id", rec.MessageId),
				zap.Error(err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func dedupKey(messageID string) string {
	return "worker:" + messageID
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	log := p.logger.With(zap.String("message_id", rec.MessageId))

	var cmd StatusCommand
	if err := json.Unmarshal([]byte(rec.Body), &cmd); err != nil {
		log.Error("dropping message with invalid body", zap.Error(err), zap.String("body", rec.Body))
		return nil
	}
	if err := cmd.validate(); err != nil {
		log.Error("dropping invalid status command", zap.Error(err))
		return nil
	}
	log = log.With(zap.String("order_id", cmd.OrderID))

	key := dedupKey(rec.MessageId)
	if p.dedup != nil && rec.MessageId != "" {
		skip, err := p.claim(ctx, key, cmd.OrderID)
		if err != nil {
			return err
		}
		if skip {
			log.Info("duplicate delivery, already processed")
			return nil
		}
	}

	result, err := p.apply(ctx, cmd)
	if err != nil {
		permanent := isPermanent(err)
		p.markFailed(ctx, log, key, rec.MessageId, err)
		if permanent {
			log.Warn("dropping status command", zap.Error(err))
			return nil
		}
		return fmt.Errorf("apply status command: %w", err)
	}

	if p.dedup != nil && rec.MessageId != "" {
		body, err := json.Marshal(result)
		if err == nil {
			err = p.dedup.MarkDone(ctx, key, string(body), http.StatusOK)
		}
		if err != nil {
			log.Warn("mark message done", zap.Error(err))
		}
	}
	log.Info("status command applied")
	return nil
}

// claim reserves the message. skip is true when an earlier delivery finished it.
func (p *Processor) claim(ctx context.Context, key, orderID string) (skip bool, err error) {
	created, err := p.dedup.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	if created {
		return false, nil
	}
	existing, err := p.dedup.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read message claim: %w", err)
	}
	switch {
	case existing == nil:
		// expired between the two calls; the next delivery claims it afresh
		return false, errInFlight
	case existing.Status == idempotency.StatusDone:
		return true, nil
	default:
		return false, errInFlight
	}
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, key, messageID string, cause error) {
	if p.dedup == nil || messageID == "" {
		return
	}
	if err := p.dedup.MarkFailed(ctx, key, cause.Error()); err != nil {
		log.Warn("mark message failed", zap.Error(err))
	}
}

func (p *Processor) apply(ctx context.Context, cmd StatusCommand) (interface{}, error) {
	switch {
	case cmd.Reconcile:
		return p.workflow.Reconcile(ctx, cmd.OrderID)
	case cmd.StatusID != "":
		return p.workflow.RecordTransition(ctx, cmd.OrderID, cmd.StatusID, cmd.Note)
	default:
		return p.workflow.RecordTransitionBySlug(ctx, cmd.OrderID, cmd.StatusSlug, cmd.Note)
	}
}

// isPermanent reports whether retrying the command cannot change the outcome.
func isPermanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return true
	}
	return false
}

func (c *StatusCommand) validate() error {
	c.OrderID = strings.TrimSpace(c.OrderID)
	c.StatusID = strings.TrimSpace(c.StatusID)
	c.StatusSlug = strings.TrimSpace(c.StatusSlug)
	if c.OrderID == "" {
		return apperr.MissingField("order_id")
	}
	if !c.Reconcile && c.StatusID == "" && c.StatusSlug == "" {
		return apperr.MissingField("status_id")
	}
	return nil
}
