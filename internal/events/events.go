// Package events defines the todo event contract shared by publishers,
// transports and reactors.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"todoflow/internal/todo/models"
)

// SourceTodos is the source of every event the API emits.
const SourceTodos = "api.todos"

// DetailType names the lifecycle change an event describes.
type DetailType string

const (
	TodoCreated DetailType = "TODO_CREATED"
	TodoDeleted DetailType = "TODO_DELETED"
)

func (d DetailType) String() string { return string(d) }

// Envelope is the wire shape on every transport. Field names follow the
// EventBridge event structure so the same JSON crosses all of them.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType DetailType      `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// NewTodoEvent wraps a todo snapshot in an envelope.
func NewTodoEvent(detailType DetailType, todo *models.Todo, now time.Time) (Envelope, error) {
	detail, err := json.Marshal(todo)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal todo detail: %w", err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Source:     SourceTodos,
		DetailType: detailType,
		Time:       now.UTC(),
		Detail:     detail,
	}, nil
}

// Todo decodes the detail as a todo snapshot. A detail without a list id or
// todo id cannot address a store row and is reported as permanent.
func (e Envelope) Todo() (*models.Todo, error) {
	var todo models.Todo
	if err := json.Unmarshal(e.Detail, &todo); err != nil {
		return nil, Permanent(fmt.Errorf("decode todo detail: %w", err))
	}
	if todo.ListID == "" || todo.ID.IsNil() {
		return nil, Permanent(errors.New("todo detail is missing listId or id"))
	}
	return &todo, nil
}

// Publisher hands envelopes to a transport.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Handler consumes one delivery. A nil return acknowledges it.
type Handler func(ctx context.Context, env Envelope) error

// Pattern selects envelopes by source and detail type.
type Pattern struct {
	Source      string
	DetailTypes []DetailType
}

// Matches reports whether env is selected. An empty DetailTypes matches any type from Source.
func (p Pattern) Matches(env Envelope) bool {
	if env.Source != p.Source {
		return false
	}
	return len(p.DetailTypes) == 0 || slices.Contains(p.DetailTypes, env.DetailType)
}

// TodoLifecycle matches every event the API emits.
var TodoLifecycle = Pattern{Source: SourceTodos, DetailTypes: []DetailType{TodoCreated, TodoDeleted}}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one redelivery cannot fix. Transports dead-letter
// such deliveries without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
