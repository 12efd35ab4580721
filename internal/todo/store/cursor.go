package store

import (
	"encoding/base64"

	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
)

// Cursors are the last id of the previous page, base64url encoded so callers
// treat them as opaque. Every backend resumes strictly after that id.

func encodeCursor(last id.TodoID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(last.String()))
}

func decodeCursor(cursor string) (id.TodoID, bool, error) {
	if cursor == "" {
		return id.TodoID{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return id.TodoID{}, false, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	}
	after, err := id.ParseTodoID(string(raw))
	if err != nil {
		return id.TodoID{}, false, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")
	}
	return after, true, nil
}
