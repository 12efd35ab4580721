package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"todoflow/internal/events"
	"todoflow/internal/idempotency"
	"todoflow/internal/platform/tracing"
	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/requestcontext"
)

// CreateCommand carries validated input for Create.
type CreateCommand struct {
	ListID         id.ListID
	Title          string
	Description    string
	IdempotencyKey string
}

// CreateResult reports the todo and whether it was replayed from an earlier
// request with the same Idempotency-Key.
type CreateResult struct {
	Todo     *models.Todo
	Replayed bool
}

// Create stores a new todo and publishes TODO_CREATED.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (result *CreateResult, err error) {
	defer s.metrics.ObserveCreate(time.Now())
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	todo, err := models.NewTodo(cmd.ListID, cmd.Title, cmd.Description, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	var idemKey string
	if cmd.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = idempotency.Key(requestcontext.Caller(ctx), cmd.ListID.String(), cmd.IdempotencyKey)
		replayed, err := s.reserve(ctx, idemKey, fingerprint(cmd))
		if err != nil || replayed != nil {
			return replayed, err
		}
	}

	if err := s.store.Put(ctx, todo); err != nil {
		if idemKey != "" {
			s.release(ctx, idemKey)
		}
		return nil, translate(err, "create todo")
	}

	if idemKey != "" {
		s.complete(ctx, idemKey, fingerprint(cmd), todo)
	}
	s.metrics.IncrementTodosCreated()
	s.logger.InfoContext(ctx, "todo created",
		"request_id", requestcontext.RequestID(ctx),
		"caller", requestcontext.Caller(ctx),
		"list_id", todo.ListID,
		"todo_id", todo.ID,
	)

	s.publish(ctx, events.TodoCreated, todo)
	return &CreateResult{Todo: todo}, nil
}

// idempotencyCleanupTimeout bounds Complete and Release, which run detached
// from the request so a timed-out request still settles its key.
const idempotencyCleanupTimeout = 2 * time.Second

// idempotentResult is what a completed key replays. Fingerprint ties the key
// to the request body it was first used with.
type idempotentResult struct {
	Fingerprint string       `json:"fingerprint"`
	Todo        *models.Todo `json:"todo"`
}

// fingerprint identifies the request body. The list and caller are already
// part of the key.
func fingerprint(cmd CreateCommand) string {
	sum := sha256.Sum256([]byte(cmd.Title + "\x00" + cmd.Description))
	return hex.EncodeToString(sum[:])
}

func (s *Service) reserve(ctx context.Context, key, fp string) (*CreateResult, error) {
	stored, err := s.idempotency.Reserve(ctx, key, s.pendingTTL)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		return nil, dErrors.New(dErrors.CodeConflict, "a request with this Idempotency-Key is still in progress")
	case err != nil:
		return nil, translate(err, "reserve idempotency key")
	case stored == nil:
		return nil, nil
	}

	var prior idempotentResult
	if err := json.Unmarshal(stored, &prior); err != nil || prior.Todo == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "stored idempotent result is unreadable")
	}
	if prior.Fingerprint != fp {
		return nil, dErrors.New(dErrors.CodeUnprocessable, "Idempotency-Key was already used with a different request body")
	}
	s.metrics.IncrementCreateReplayed()
	s.logger.InfoContext(ctx, "create replayed from idempotency key",
		"request_id", requestcontext.RequestID(ctx),
		"list_id", prior.Todo.ListID,
		"todo_id", prior.Todo.ID,
	)
	return &CreateResult{Todo: prior.Todo, Replayed: true}, nil
}

func (s *Service) complete(ctx context.Context, key, fp string, todo *models.Todo) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyCleanupTimeout)
	defer cancel()

	body, err := json.Marshal(idempotentResult{Fingerprint: fp, Todo: todo})
	if err == nil {
		err = s.idempotency.Complete(cleanupCtx, key, body, s.idempotencyTTL)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record idempotent result",
			"request_id", requestcontext.RequestID(ctx),
			"todo_id", todo.ID,
			"error", err,
		)
	}
}

func (s *Service) release(ctx context.Context, key string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyCleanupTimeout)
	defer cancel()

	if err := s.idempotency.Release(cleanupCtx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to release idempotency key",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
