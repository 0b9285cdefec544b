// Package workflow moves orders through the configurable status catalog. Every
// transition appends an immutable activity and updates the order's
// denormalized status in the same transaction. Any usable status may follow
// any other; sequence only orders the catalog for display.
package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/events"
	"github.com/imrishuroy/go-retail-orderflow/internal/logging"
	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
)

// Definitions persists status definitions.
type Definitions interface {
	FindAll(ctx context.Context) ([]StatusDefinition, error)
	FindByID(ctx context.Context, id string) (*StatusDefinition, error)
	FindBySlug(ctx context.Context, slug string) (*StatusDefinition, error)
	Create(ctx context.Context, d StatusDefinition) error
	Update(ctx context.Context, d StatusDefinition) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// Activities persists the append-only activity log.
type Activities interface {
	FindByOrder(ctx context.Context, orderID string) ([]Activity, error)
	RecordTransition(ctx context.Context, activity Activity, statusUpdate types.TransactWriteItem) (bool, error)
}

// Orders is the order storage the workflow reads and projects status onto.
type Orders interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	StatusUpdate(orderID, status, activityKey string, at time.Time) types.TransactWriteItem
	UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus, activityKey string, at time.Time) error
	CountByStatus(ctx context.Context) (map[string]int, int, error)
}

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event events.OrderEvent) error
}

// Deps bundles collaborators required to construct a Service.
type Deps struct {
	Definitions Definitions
	Activities  Activities
	Orders      Orders
	// Publisher is optional.
	Publisher   EventPublisher
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
}

// Service is the order status workflow.
type Service struct {
	defs       Definitions
	activities Activities
	orders     Orders
	publisher  EventPublisher
	logger     *zap.Logger
	clock      func() time.Time
	newID      func() string
}

// CreateStatusInput describes a new status definition. Active defaults to true.
type CreateStatusInput struct {
	Slug     string
	Name     string
	Sequence int
	Active   *bool
}

// UpdateStatusInput changes a status definition. Nil fields are left untouched.
type UpdateStatusInput struct {
	Name     *string
	Sequence *int
	Active   *bool
}

// ReconcileResult reports what Reconcile found.
type ReconcileResult struct {
	OrderID  string `json:"order_id"`
	Previous string `json:"previous_status"`
	Status   string `json:"status"`
	Changed  bool   `json:"changed"`
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Definitions == nil:
		return nil, errors.New("workflow service: definitions store is required")
	case deps.Activities == nil:
		return nil, errors.New("workflow service: activity store is required")
	case deps.Orders == nil:
		return nil, errors.New("workflow service: order store is required")
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
		defs:       deps.Definitions,
		activities: deps.Activities,
		orders:     deps.Orders,
		publisher:  deps.Publisher,
		logger:     logging.OrNop(deps.Logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

// ListStatuses returns the usable definitions by sequence ascending.
func (s *Service) ListStatuses(ctx context.Context) ([]StatusDefinition, error) {
	all, err := s.defs.FindAll(ctx)
	if err != nil {
		return nil, apperr.System("workflow.list_statuses", err)
	}
	out := make([]StatusDefinition, 0, len(all))
	for i := range all {
		if all[i].Usable() {
			out = append(out, all[i])
		}
	}
	sortDefinitions(out)
	return out, nil
}

func sortDefinitions(defs []StatusDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Sequence != defs[j].Sequence {
			return defs[i].Sequence < defs[j].Sequence
		}
		return defs[i].Slug < defs[j].Slug
	})
}

// RecordTransition moves the order into the status with statusID.
func (s *Service) RecordTransition(ctx context.Context, orderID, statusID, note string) (*Activity, error) {
	statusID = strings.TrimSpace(statusID)
	if statusID == "" {
		return nil, apperr.MissingField("status_id")
	}
	def, err := s.defs.FindByID(ctx, statusID)
	if err != nil {
		return nil, apperr.System("workflow.find_status", err)
	}
	if !def.Usable() {
		return nil, apperr.UnknownStatus(statusID)
	}
	return s.transition(ctx, orderID, def, note)
}

// RecordTransitionBySlug moves the order into the status with slug.
func (s *Service) RecordTransitionBySlug(ctx context.Context, orderID, slug, note string) (*Activity, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperr.MissingField("status_slug")
	}
	def, err := s.defs.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperr.System("workflow.find_status", err)
	}
	if !def.Usable() {
		return nil, apperr.UnknownStatus(slug)
	}
	return s.transition(ctx, orderID, def, note)
}

func (s *Service) transition(ctx context.Context, orderID string, def *StatusDefinition, note string) (*Activity, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.MissingField("order_id")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	id := s.newID()
	activity := Activity{
		OrderID:     orderID,
		ActivityKey: ActivityKey(now, id),
		ID:          id,
		StatusID:    def.ID,
		StatusSlug:  def.Slug,
		StatusName:  def.Name,
		Note:        strings.TrimSpace(note),
		CreatedAt:   now,
	}

	applied, err := s.activities.RecordTransition(ctx, activity, s.orders.StatusUpdate(orderID, def.Slug, activity.ActivityKey, now))
	if errors.Is(err, ErrOrderMissing) {
		return nil, apperr.OrderNotFound(orderID)
	}
	if err != nil {
		return nil, apperr.System("workflow.record_transition", err)
	}

	log := s.logger.With(zap.String("order_id", orderID), zap.String("status", def.Slug))
	if !applied {
		log.Info("status activity recorded behind a later one", zap.String("activity_key", activity.ActivityKey))
	} else {
		log.Info("order status changed", zap.String("previous_status", order.Status))
	}

	if s.publisher != nil {
		err := s.publisher.PublishOrderEvent(ctx, events.OrderEvent{
			Type:           events.TypeOrderStatusChanged,
			OrderID:        orderID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: order.Status,
			Status:         def.Slug,
			Note:           activity.Note,
			OccurredAt:     now,
		})
		if err != nil {
			log.Error("publish status changed event", zap.Error(err))
		}
	}
	return &activity, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.System("workflow.get_order", err)
	}
	if order == nil {
		return nil, apperr.OrderNotFound(orderID)
	}
	return order, nil
}

// History returns the order's activities by creation time ascending.
func (s *Service) History(ctx context.Context, orderID string) ([]Activity, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.history(ctx, orderID)
}

func (s *Service) history(ctx context.Context, orderID string) ([]Activity, error) {
	acts, err := s.activities.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.System("workflow.history", err)
	}
	sort.SliceStable(acts, func(i, j int) bool {
		if !acts[i].CreatedAt.Equal(acts[j].CreatedAt) {
			return acts[i].CreatedAt.Before(acts[j].CreatedAt)
		}
		return acts[i].ActivityKey < acts[j].ActivityKey
	})
	if acts == nil {
		acts = []Activity{}
	}
	return acts, nil
}

// CurrentStatus derives the order's status from its latest activity. An order
// without activities is still in the status it was created with.
func (s *Service) CurrentStatus(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	acts, err := s.history(ctx, orderID)
	if err != nil {
		return "", err
	}
	if len(acts) == 0 {
		return order.Status, nil
	}
	return acts[len(acts)-1].StatusSlug, nil
}

// Reconcile projects the latest activity onto the order's denormalized status
// when the two disagree. Running it again is a no-op.
func (s *Service) Reconcile(ctx context.Context, orderID string) (*ReconcileResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	acts, err := s.history(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{OrderID: orderID, Previous: order.Status, Status: order.Status}
	if len(acts) == 0 {
		return res, nil
	}
	latest := acts[len(acts)-1]
	if latest.StatusSlug == order.Status {
		return res, nil
	}

	err = s.orders.UpdateStatus(ctx, orderID, order.Status, latest.StatusSlug, latest.ActivityKey, latest.CreatedAt)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return nil, apperr.Conflict("order status changed during reconcile", err)
	}
	if err != nil {
		return nil, apperr.System("workflow.reconcile", err)
	}
	s.logger.Warn("order status reconciled",
		zap.String("order_id", orderID),
		zap.String("previous_status", order.Status),
		zap.String("status", latest.StatusSlug),
	)
	res.Status = latest.StatusSlug
	res.Changed = true
	return res, nil
}

// StatusCounts counts orders by their denormalized status.
func (s *Service) StatusCounts(ctx context.Context) (StatusCounts, error) {
	counts, total, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return StatusCounts{}, apperr.System("workflow.status_counts", err)
	}
	return StatusCounts{
		Pending:    counts[orders.StatusPending],
		Confirmed:  counts[orders.StatusConfirmed],
		Processing: counts[orders.StatusProcessing],
		Shipped:    counts[orders.StatusShipped],
		Delivered:  counts[orders.StatusDelivered],
		Cancelled:  counts[orders.StatusCancelled],
		Total:      total,
	}, nil
}

// CreateStatus adds a definition. Slugs are unique among non-deleted definitions.
func (s *Service) CreateStatus(ctx context.Context, in CreateStatusInput) (*StatusDefinition, error) {
	slug := strings.TrimSpace(in.Slug)
	name := strings.TrimSpace(in.Name)
	if slug == "" {
		return nil, apperr.MissingField("slug")
	}
	if name == "" {
		return nil, apperr.MissingField("name")
	}
	if in.Sequence < 0 {
		return nil, apperr.InvalidInput("sequence", "sequence must be non-negative")
	}

	existing, err := s.defs.FindBySlug(ctx, slug)
	if err != nil {
		return nil, apperr.System("workflow.find_status", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("status slug already exists: "+slug, nil)
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	now := s.clock()
	def := StatusDefinition{
		ID:        s.newID(),
		Slug:      slug,
		Name:      name,
		Sequence:  in.Sequence,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.defs.Create(ctx, def); err != nil {
		if errors.Is(err, ErrDefinitionExists) {
			return nil, apperr.Conflict("status already exists", err)
		}
		return nil, apperr.System("workflow.create_status", err)
	}
	return &def, nil
}

// UpdateStatus changes the name, sequence or active flag of a definition.
func (s *Service) UpdateStatus(ctx context.Context, id string, in UpdateStatusInput) (*StatusDefinition, error) {
	def, err := s.liveDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.MissingField("name")
		}
		def.Name = name
	}
	if in.Sequence != nil {
		if *in.Sequence < 0 {
			return nil, apperr.InvalidInput("sequence", "sequence must be non-negative")
		}
		def.Sequence = *in.Sequence
	}
	if in.Active != nil {
		def.Active = *in.Active
	}
	def.UpdatedAt = s.clock()

	if err := s.defs.Update(ctx, *def); err != nil {
		if errors.Is(err, ErrDefinitionMissing) {
			return nil, apperr.UnknownStatus(id)
		}
		return nil, apperr.System("workflow.update_status", err)
	}
	return def, nil
}

// DeleteStatus soft-deletes a definition. Past activities keep their snapshot.
func (s *Service) DeleteStatus(ctx context.Context, id string) error {
	if _, err := s.liveDefinition(ctx, id); err != nil {
		return err
	}
	if err := s.defs.SoftDelete(ctx, id, s.clock()); err != nil {
		if errors.Is(err, ErrDefinitionMissing) {
			return apperr.UnknownStatus(id)
		}
		return apperr.System("workflow.delete_status", err)
	}
	return nil
}

func (s *Service) liveDefinition(ctx context.Context, id string) (*StatusDefinition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.MissingField("status_id")
	}
	def, err := s.defs.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.System("workflow.find_status", err)
	}
	if def == nil || def.DeletedAt != nil {
		return nil, apperr.UnknownStatus(id)
	}
	return def, nil
}

// SeedDefaults creates the canonical statuses whose slugs are not defined yet
// and returns how many were created.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	all, err := s.defs.FindAll(ctx)
	if err != nil {
		return 0, apperr.System("workflow.seed", err)
	}
	have := make(map[string]bool, len(all))
	for _, d := range all {
		if d.DeletedAt == nil {
			have[d.Slug] = true
		}
	}

	created := 0
	for _, d := range DefaultStatuses() {
		if have[d.Slug] {
			continue
		}
		active := d.Active
		if _, err := s.CreateStatus(ctx, CreateStatusInput{Slug: d.Slug, Name: d.Name, Sequence: d.Sequence, Active: &active}); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		s.logger.Info("seeded order statuses", zap.Int("created", created))
	}
	return created, nil
}
