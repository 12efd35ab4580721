package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "todoflow/pkg/domain-errors"
)

// TestParseTodoID_Invariants validates the parsing invariant:
// "todo ids must be valid, non-empty, non-nil UUIDs"
func TestParseTodoID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTodoID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTodoID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTodoID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseTodoID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, TodoID(validUUID), id)
	})
}

func TestParseListID(t *testing.T) {
	t.Run("accepts letters digits and separators", func(t *testing.T) {
		id, err := ParseListID("groceries_2024-w1.home")
		require.NoError(t, err)
		assert.Equal(t, ListID("groceries_2024-w1.home"), id)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseListID("")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects key separators", func(t *testing.T) {
		_, err := ParseListID("TODO#other")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects overlong ids", func(t *testing.T) {
		_, err := ParseListID(strings.Repeat("a", maxListIDLength+1))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestNewTodoID_IsTimeOrdered(t *testing.T) {
	first, err := NewTodoID()
	require.NoError(t, err)
	second, err := NewTodoID()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Less(t, first.String(), second.String(), "v7 ids sort by creation time")
}

func TestTodoID_JSON(t *testing.T) {
	id := TodoID(uuid.New())
	raw, err := json.Marshal(map[string]TodoID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	var decoded struct {
		ID TodoID `json:"id"`
	}
	require.Error(t, json.Unmarshal([]byte(`{"id":"`+uuid.Nil.String()+`"}`), &decoded))
}
