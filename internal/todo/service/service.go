package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"todoflow/internal/events"
	"todoflow/internal/idempotency"
	"todoflow/internal/todo/metrics"
	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/platform/sentinel"
	"todoflow/pkg/requestcontext"
)

// Store is the narrow store contract the write and read paths need.
type Store interface {
	Put(ctx context.Context, todo *models.Todo) error
	Query(ctx context.Context, listID id.ListID, req models.PageRequest) (*models.Page, error)
	Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (*models.Todo, error)
}

// Publisher hands lifecycle events to the event channel.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Service owns the todo lifecycle: every committed mutation is paired with
// exactly one publish attempt. Handlers stay thin.
type Service struct {
	store          Store
	publisher      Publisher
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
	pendingTTL     time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIdempotency enables Idempotency-Key handling on Create. ttl is how long
// a completed result is replayed.
func WithIdempotency(store idempotency.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.idempotency = store
		s.idempotencyTTL = ttl
	}
}

// WithPendingTTL bounds how long a reservation blocks retries when its
// request dies before it can release the key. Keep it just above the request
// timeout.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.pendingTTL = ttl
		}
	}
}

func New(store Store, publisher Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("todo store is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	s := &Service{
		store:          store,
		publisher:      publisher,
		idempotencyTTL: 24 * time.Hour,
		pendingTTL:     time.Minute,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// publish sends one event for a committed mutation. Failures are logged and
// counted, never returned: the store write already happened.
func (s *Service) publish(ctx context.Context, detailType events.DetailType, todo *models.Todo) {
	env, err := events.NewTodoEvent(detailType, todo, requestcontext.Now(ctx))
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		s.metrics.IncrementPublishDegraded(detailType.String())
		s.logger.ErrorContext(ctx, "event publish failed after commit, delivery degraded",
			"request_id", requestcontext.RequestID(ctx),
			"detail_type", detailType,
			"list_id", todo.ListID,
			"todo_id", todo.ID,
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "event published",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", env.ID,
		"detail_type", detailType,
		"todo_id", todo.ID,
	)
}

// translate maps infrastructure errors to domain codes. Errors that already
// carry a code pass through.
func translate(err error, action string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, action+" timed out")
	case errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, action+" was cancelled")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "todo not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "todo already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "todo store is unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
	}
}
