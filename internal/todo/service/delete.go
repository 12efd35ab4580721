package service

import (
	"context"
	"time"

	"todoflow/internal/events"
	"todoflow/internal/platform/tracing"
	id "todoflow/pkg/domain"
	"todoflow/pkg/requestcontext"
)

// Delete hard-deletes a todo and publishes TODO_DELETED with the snapshot the
// store returned. A missing todo publishes nothing.
func (s *Service) Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (err error) {
	defer s.metrics.ObserveDelete(time.Now())
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	snapshot, err := s.store.Delete(ctx, listID, todoID)
	if err != nil {
		return translate(err, "delete todo")
	}

	s.metrics.IncrementTodosDeleted()
	s.logger.InfoContext(ctx, "todo deleted",
		"request_id", requestcontext.RequestID(ctx),
		"caller", requestcontext.Caller(ctx),
		"list_id", listID,
		"todo_id", todoID,
	)

	s.publish(ctx, events.TodoDeleted, snapshot)
	return nil
}
