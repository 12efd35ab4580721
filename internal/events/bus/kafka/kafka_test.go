package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoflow/internal/events"
	"todoflow/internal/todo/models"
)

func TestToRecordKeysByList(t *testing.T) {
	todo, err := models.NewTodo("groceries", "Buy milk", "2%", time.Now())
	require.NoError(t, err)
	env, err := events.NewTodoEvent(events.TodoCreated, todo, time.Now())
	require.NoError(t, err)

	record, err := toRecord("todos", env)
	require.NoError(t, err)

	assert.Equal(t, "todos", record.Topic)
	assert.Equal(t, []byte("groceries"), record.Key)
	require.Len(t, record.Headers, 1)
	assert.Equal(t, headerDetailType, record.Headers[0].Key)
	assert.Equal(t, []byte("TODO_CREATED"), record.Headers[0].Value)

	var back events.Envelope
	require.NoError(t, json.Unmarshal(record.Value, &back))
	assert.Equal(t, env.ID, back.ID)
}

func TestToRecordWithoutTodoDetailHasNoKey(t *testing.T) {
	record, err := toRecord("todos", events.Envelope{ID: "x", Source: events.SourceTodos, Detail: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Nil(t, record.Key)
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "todos.dlq", DeadLetterTopic("todos"))
}
