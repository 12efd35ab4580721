package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	"todoflow/pkg/platform/sentinel"
)

// InMemory is a process-local store for development and tests. Every method is
// atomic with respect to a single key, mirroring the conditional writes of the
// durable backends.
type InMemory struct {
	mu    sync.RWMutex
	lists map[id.ListID]map[id.TodoID]*models.Todo
}

func NewInMemory() *InMemory {
	return &InMemory{lists: make(map[id.ListID]map[id.TodoID]*models.Todo)}
}

func (s *InMemory) Put(_ context.Context, todo *models.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.lists[todo.ListID]
	if !ok {
		list = make(map[id.TodoID]*models.Todo)
		s.lists[todo.ListID] = list
	}
	if _, exists := list[todo.ID]; exists {
		return sentinel.ErrConflict
	}
	list[todo.ID] = clone(todo)
	return nil
}

func (s *InMemory) Get(_ context.Context, key models.Key) (*models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	todo, ok := s.lists[key.ListID][key.ID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(todo), nil
}

func (s *InMemory) Query(_ context.Context, listID id.ListID, req models.PageRequest) (*models.Page, error) {
	req = req.Normalize()
	after, hasAfter, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := make([]*models.Todo, 0, len(s.lists[listID]))
	for todoID, todo := range s.lists[listID] {
		if hasAfter && todoID.String() <= after.String() {
			continue
		}
		items = append(items, clone(todo))
	}
	s.mu.RUnlock()

	slices.SortFunc(items, func(a, b *models.Todo) int {
		switch {
		case a.ID.String() < b.ID.String():
			return -1
		case a.ID.String() > b.ID.String():
			return 1
		}
		return 0
	})

	page := &models.Page{Items: items}
	if len(items) > req.Limit {
		page.Items = items[:req.Limit]
		page.NextCursor = encodeCursor(page.Items[req.Limit-1].ID)
	}
	return page, nil
}

func (s *InMemory) Delete(_ context.Context, listID id.ListID, todoID id.TodoID) (*models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	todo, ok := s.lists[listID][todoID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.lists[listID], todoID)
	if len(s.lists[listID]) == 0 {
		delete(s.lists, listID)
	}
	return todo, nil
}

func (s *InMemory) Confirm(_ context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	todo, ok := s.lists[key.ListID][key.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	todo.Confirm(kind, at)
	return nil
}

func (s *InMemory) Health(context.Context) error { return nil }

func clone(t *models.Todo) *models.Todo {
	c := *t
	if t.CreatedConfirmedAt != nil {
		at := *t.CreatedConfirmedAt
		c.CreatedConfirmedAt = &at
	}
	if t.DeletedConfirmedAt != nil {
		at := *t.DeletedConfirmedAt
		c.DeletedConfirmedAt = &at
	}
	return &c
}
