package models

import (
	"strings"
	"time"

	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
)

const (
	maxTitleLength       = 512
	maxDescriptionLength = 4096
)

// Todo is the only aggregate in the service.
//
// Invariants:
//   - (ListID, ID) is unique among live todos
//   - Title is non-empty after trimming
//   - ID and CreatedAt are immutable after construction
//   - Confirmation timestamps are set at most once and never hide the todo
type Todo struct {
	ListID      id.ListID `json:"listId"`
	ID          id.TodoID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`

	CreatedConfirmedAt *time.Time `json:"-"`
	DeletedConfirmedAt *time.Time `json:"-"`
}

// NewTodo validates the caller-supplied fields and assigns a fresh id.
func NewTodo(listID id.ListID, title, description string, now time.Time) (*Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "title is required")
	}
	if len(title) > maxTitleLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "title is too long")
	}
	if len(description) > maxDescriptionLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "description is too long")
	}
	todoID, err := id.NewTodoID()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate todo id")
	}
	return &Todo{
		ListID:      listID,
		ID:          todoID,
		Title:       title,
		Description: description,
		CreatedAt:   now.UTC(),
	}, nil
}

// Key returns the composite key.
func (t *Todo) Key() Key {
	return Key{ListID: t.ListID, ID: t.ID}
}

// IsCreateConfirmed reports whether the TODO_CREATED reactor has run.
func (t *Todo) IsCreateConfirmed() bool {
	return t.CreatedConfirmedAt != nil
}

// Confirm records the first confirmation of kind. Later calls are no-ops so
// duplicate or reordered deliveries converge.
func (t *Todo) Confirm(kind ConfirmationKind, at time.Time) {
	at = at.UTC()
	switch kind {
	case ConfirmCreated:
		if t.CreatedConfirmedAt == nil {
			t.CreatedConfirmedAt = &at
		}
	case ConfirmDeleted:
		if t.DeletedConfirmedAt == nil {
			t.DeletedConfirmedAt = &at
		}
	}
}

// Key addresses a single todo.
type Key struct {
	ListID id.ListID
	ID     id.TodoID
}

// ConfirmationKind names the lifecycle event a reactor acknowledged.
type ConfirmationKind string

const (
	ConfirmCreated ConfirmationKind = "created"
	ConfirmDeleted ConfirmationKind = "deleted"
)

func (k ConfirmationKind) IsValid() bool {
	return k == ConfirmCreated || k == ConfirmDeleted
}

// DefaultPageSize bounds one store round-trip when the caller gives no limit.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// PageRequest asks for at most Limit todos after the opaque Cursor.
type PageRequest struct {
	Limit  int
	Cursor string
}

// Normalize clamps Limit into [1, MaxPageSize].
func (p PageRequest) Normalize() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Page is one slice of a list scan. An empty NextCursor means the scan is done.
type Page struct {
	Items      []*Todo
	NextCursor string
}
