package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
)

func TestNewTodo(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("trims and accepts a valid title", func(t *testing.T) {
		todo, err := NewTodo("groceries", "  Buy milk ", "2%", now)
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", todo.Title)
		assert.Equal(t, "2%", todo.Description)
		assert.Equal(t, id.ListID("groceries"), todo.ListID)
		assert.False(t, todo.ID.IsNil())
		assert.Equal(t, now, todo.CreatedAt)
		assert.False(t, todo.IsCreateConfirmed())
	})

	t.Run("allows an empty description", func(t *testing.T) {
		_, err := NewTodo(id.DefaultListID, "title", "", now)
		require.NoError(t, err)
	})

	for _, title := range []string{"", "   ", "\t\n"} {
		t.Run("rejects blank title "+title, func(t *testing.T) {
			_, err := NewTodo(id.DefaultListID, title, "x", now)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}

	t.Run("generates distinct ids", func(t *testing.T) {
		seen := make(map[id.TodoID]bool)
		for range 500 {
			todo, err := NewTodo(id.DefaultListID, "t", "", now)
			require.NoError(t, err)
			require.False(t, seen[todo.ID])
			seen[todo.ID] = true
		}
	})
}

func TestConfirmIsIdempotent(t *testing.T) {
	todo, err := NewTodo(id.DefaultListID, "t", "", time.Now())
	require.NoError(t, err)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	todo.Confirm(ConfirmCreated, first)
	todo.Confirm(ConfirmCreated, first.Add(time.Hour))

	require.NotNil(t, todo.CreatedConfirmedAt)
	assert.Equal(t, first, *todo.CreatedConfirmedAt)
	assert.Nil(t, todo.DeletedConfirmedAt)
}

func TestPageRequestNormalize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, PageRequest{}.Normalize().Limit)
	assert.Equal(t, MaxPageSize, PageRequest{Limit: MaxPageSize + 1}.Normalize().Limit)
	assert.Equal(t, 7, PageRequest{Limit: 7}.Normalize().Limit)
}
