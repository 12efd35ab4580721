// Package domain holds the typed identifiers shared across packages. Parsing
// happens once at the trust boundary; everything past it works with typed ids.
package domain

import (
	"github.com/google/uuid"

	dErrors "todoflow/pkg/domain-errors"
)

// maxListIDLength bounds caller-supplied list identifiers so they fit every
// backend's key limits with room for prefixes.
const maxListIDLength = 128

// DefaultListID is used when a route omits the list identifier.
const DefaultListID ListID = "default"

// ListID groups todos into independent collections (the partition key).
type ListID string

// TodoID identifies a todo within its list (the sort key).
type TodoID uuid.UUID

// ParseListID validates a caller-supplied list identifier. Allowed characters
// are ASCII letters, digits, '-', '_' and '.'.
func ParseListID(s string) (ListID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "list id is required")
	}
	if len(s) > maxListIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "list id is too long")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "list id contains invalid characters")
		}
	}
	return ListID(s), nil
}

func (l ListID) String() string { return string(l) }

// NewTodoID returns a fresh time-ordered identifier so range scans by list
// come back in creation order.
func NewTodoID() (TodoID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return TodoID{}, err
	}
	return TodoID(id), nil
}

// ParseTodoID parses a todo identifier. Nil UUIDs are rejected.
func ParseTodoID(s string) (TodoID, error) {
	if s == "" {
		return TodoID{}, dErrors.New(dErrors.CodeInvalidInput, "todo id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return TodoID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid todo id format")
	}
	if id == uuid.Nil {
		return TodoID{}, dErrors.New(dErrors.CodeInvalidInput, "todo id cannot be nil")
	}
	return TodoID(id), nil
}

func (t TodoID) String() string { return uuid.UUID(t).String() }

func (t TodoID) IsNil() bool { return uuid.UUID(t) == uuid.Nil }

// MarshalText lets TodoID appear as a plain string in JSON and map keys.
func (t TodoID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts only non-nil UUIDs.
func (t *TodoID) UnmarshalText(b []byte) error {
	parsed, err := ParseTodoID(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
