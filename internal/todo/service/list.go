package service

import (
	"context"
	"time"

	"todoflow/internal/platform/tracing"
	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
)

// List returns every todo in the list, paging through the store until the
// cursor is exhausted. An empty list is an empty, non-nil slice.
func (s *Service) List(ctx context.Context, listID id.ListID) (todos []*models.Todo, err error) {
	defer s.metrics.ObserveList(time.Now())
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	todos = []*models.Todo{}
	seen := make(map[string]struct{})
	req := models.PageRequest{Limit: models.DefaultPageSize}
	for {
		page, err := s.store.Query(ctx, listID, req)
		if err != nil {
			return nil, translate(err, "list todos")
		}
		todos = append(todos, page.Items...)
		if page.NextCursor == "" {
			return todos, nil
		}
		if _, dup := seen[page.NextCursor]; dup {
			return nil, dErrors.New(dErrors.CodeInternal, "store returned a repeating cursor")
		}
		seen[page.NextCursor] = struct{}{}
		req.Cursor = page.NextCursor
	}
}

// ListPage returns a single page for callers that paginate themselves.
func (s *Service) ListPage(ctx context.Context, listID id.ListID, req models.PageRequest) (page *models.Page, err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	page, err = s.store.Query(ctx, listID, req.Normalize())
	if err != nil {
		return nil, translate(err, "list todos")
	}
	if page.Items == nil {
		page.Items = []*models.Todo{}
	}
	return page, nil
}
