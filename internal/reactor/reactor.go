// Package reactor applies the secondary, idempotent store patch for each
// todo lifecycle event.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"todoflow/internal/events"
	"todoflow/internal/platform/tracing"
	"todoflow/internal/todo/models"
	"todoflow/pkg/platform/sentinel"
)

// Store is the one store operation reactors need.
type Store interface {
	Confirm(ctx context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) error
}

// Route is the (source, detail-type) pair a reactor is bound to.
type Route struct {
	Source     string
	DetailType events.DetailType
}

// Reactor handles the decoded todo snapshot carried by an event.
type Reactor func(ctx context.Context, todo *models.Todo) error

// Dispatcher routes envelopes through a closed table built at construction.
type Dispatcher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	routes  map[Route]Reactor
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the confirmation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.routes = map[Route]Reactor{
		{Source: events.SourceTodos, DetailType: events.TodoCreated}: d.onTodoCreated,
		{Source: events.SourceTodos, DetailType: events.TodoDeleted}: d.onTodoDeleted,
	}
	return d
}

// Pattern is the subscription that covers every route in the table.
func (d *Dispatcher) Pattern() events.Pattern {
	p := events.Pattern{Source: events.SourceTodos}
	for route := range d.routes {
		p.DetailTypes = append(p.DetailTypes, route.DetailType)
	}
	slices.Sort(p.DetailTypes)
	return p
}

// Handle is an events.Handler. Unroutable envelopes are acknowledged, malformed
// ones are permanent failures, and store errors are returned for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, env events.Envelope) (err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	reactor, ok := d.routes[Route{Source: env.Source, DetailType: env.DetailType}]
	if !ok {
		d.logger.WarnContext(ctx, "no reactor for event, skipping",
			"event_id", env.ID,
			"source", env.Source,
			"detail_type", env.DetailType,
		)
		d.metrics.IncOutcome(env.DetailType.String(), OutcomeUnroutable)
		return nil
	}

	todo, err := env.Todo()
	if err != nil {
		d.logger.ErrorContext(ctx, "event detail is not a todo",
			"event_id", env.ID,
			"detail_type", env.DetailType,
			"error", err,
		)
		d.metrics.IncOutcome(env.DetailType.String(), OutcomeRejected)
		return err
	}

	if err := reactor(ctx, todo); err != nil {
		d.logger.ErrorContext(ctx, "reactor failed",
			"event_id", env.ID,
			"detail_type", env.DetailType,
			"list_id", todo.ListID,
			"todo_id", todo.ID,
			"error", err,
		)
		d.metrics.IncOutcome(env.DetailType.String(), OutcomeFailed)
		return fmt.Errorf("%s reactor: %w", env.DetailType, err)
	}
	return nil
}

func (d *Dispatcher) onTodoCreated(ctx context.Context, todo *models.Todo) error {
	return d.confirm(ctx, events.TodoCreated, todo, models.ConfirmCreated)
}

// onTodoDeleted targets a row the delete already removed. The conditional
// patch turns that into NotFound, so the row is never recreated.
func (d *Dispatcher) onTodoDeleted(ctx context.Context, todo *models.Todo) error {
	return d.confirm(ctx, events.TodoDeleted, todo, models.ConfirmDeleted)
}

func (d *Dispatcher) confirm(ctx context.Context, detailType events.DetailType, todo *models.Todo, kind models.ConfirmationKind) error {
	err := d.store.Confirm(ctx, todo.Key(), kind, d.now())
	switch {
	case err == nil:
		d.metrics.IncOutcome(detailType.String(), OutcomeApplied)
		d.logger.DebugContext(ctx, "todo confirmed",
			"list_id", todo.ListID,
			"todo_id", todo.ID,
			"kind", kind,
		)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		d.metrics.IncOutcome(detailType.String(), OutcomeNoop)
		d.logger.DebugContext(ctx, "todo gone before confirmation, nothing to do",
			"list_id", todo.ListID,
			"todo_id", todo.ID,
			"kind", kind,
		)
		return nil
	default:
		return err
	}
}
