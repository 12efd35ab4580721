package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/platform/sentinel"
)

type todoStore interface {
	Put(ctx context.Context, todo *models.Todo) error
	Get(ctx context.Context, key models.Key) (*models.Todo, error)
	Query(ctx context.Context, listID id.ListID, req models.PageRequest) (*models.Page, error)
	Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (*models.Todo, error)
	Confirm(ctx context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) error
}

// storeContractSuite holds the behaviour every backend must share. Backend
// suites embed it and set newStore.
type storeContractSuite struct {
	suite.Suite
	newStore func() todoStore
	store    todoStore
	ctx      context.Context
}

func (s *storeContractSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func (s *storeContractSuite) newTodo(listID id.ListID, title string) *models.Todo {
	todo, err := models.NewTodo(listID, title, "desc "+title, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return todo
}

func (s *storeContractSuite) TestPutAndGet() {
	s.Run("round-trips every caller-visible field", func() {
		todo := s.newTodo("groceries", "Buy milk")
		s.Require().NoError(s.store.Put(s.ctx, todo))

		found, err := s.store.Get(s.ctx, todo.Key())
		s.Require().NoError(err)
		s.Equal(todo.ListID, found.ListID)
		s.Equal(todo.ID, found.ID)
		s.Equal(todo.Title, found.Title)
		s.Equal(todo.Description, found.Description)
		s.True(todo.CreatedAt.Equal(found.CreatedAt))
		s.Nil(found.CreatedConfirmedAt)
	})

	s.Run("rejects a duplicate key", func() {
		todo := s.newTodo("groceries", "Eggs")
		s.Require().NoError(s.store.Put(s.ctx, todo))
		s.ErrorIs(s.store.Put(s.ctx, todo), sentinel.ErrConflict)
	})

	s.Run("same id in another list is a different key", func() {
		todo := s.newTodo("a", "x")
		s.Require().NoError(s.store.Put(s.ctx, todo))
		other := *todo
		other.ListID = "b"
		s.NoError(s.store.Put(s.ctx, &other))
	})

	s.Run("returns ErrNotFound for unknown key", func() {
		todoID, err := id.NewTodoID()
		s.Require().NoError(err)
		_, err = s.store.Get(s.ctx, models.Key{ListID: "groceries", ID: todoID})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *storeContractSuite) TestQuery() {
	s.Run("empty list yields an empty page", func() {
		page, err := s.store.Query(s.ctx, "nothing-here", models.PageRequest{})
		s.Require().NoError(err)
		s.Empty(page.Items)
		s.Empty(page.NextCursor)
	})

	s.Run("scopes to the list and pages until exhausted", func() {
		var want []id.TodoID
		for i := range 5 {
			todo := s.newTodo("paged", string(rune('a'+i)))
			s.Require().NoError(s.store.Put(s.ctx, todo))
			want = append(want, todo.ID)
		}
		s.Require().NoError(s.store.Put(s.ctx, s.newTodo("other", "noise")))

		var got []id.TodoID
		cursor := ""
		pages := 0
		for {
			page, err := s.store.Query(s.ctx, "paged", models.PageRequest{Limit: 2, Cursor: cursor})
			s.Require().NoError(err)
			for _, todo := range page.Items {
				s.Equal(id.ListID("paged"), todo.ListID)
				got = append(got, todo.ID)
			}
			pages++
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		s.Equal(3, pages)
		s.ElementsMatch(want, got)
	})

	s.Run("rejects a malformed cursor", func() {
		_, err := s.store.Query(s.ctx, "paged", models.PageRequest{Cursor: "%%%"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *storeContractSuite) TestDelete() {
	s.Run("returns the snapshot and removes the row", func() {
		todo := s.newTodo("groceries", "Bread")
		s.Require().NoError(s.store.Put(s.ctx, todo))

		snapshot, err := s.store.Delete(s.ctx, todo.ListID, todo.ID)
		s.Require().NoError(err)
		s.Equal(todo.Title, snapshot.Title)
		s.Equal(todo.Description, snapshot.Description)

		_, err = s.store.Get(s.ctx, todo.Key())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("second delete is not found", func() {
		todo := s.newTodo("groceries", "Butter")
		s.Require().NoError(s.store.Put(s.ctx, todo))
		_, err := s.store.Delete(s.ctx, todo.ListID, todo.ID)
		s.Require().NoError(err)
		_, err = s.store.Delete(s.ctx, todo.ListID, todo.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("concurrent deletes have exactly one winner", func() {
		todo := s.newTodo("groceries", "Jam")
		s.Require().NoError(s.store.Put(s.ctx, todo))

		const goroutines = 20
		var wg sync.WaitGroup
		var wins, notFound atomic.Int32
		for range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.Delete(s.ctx, todo.ListID, todo.ID)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, sentinel.ErrNotFound):
					notFound.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), wins.Load())
		s.Equal(int32(goroutines-1), notFound.Load())
	})
}

func (s *storeContractSuite) TestConfirm() {
	s.Run("first confirmation wins and repeats are no-ops", func() {
		todo := s.newTodo("groceries", "Tea")
		s.Require().NoError(s.store.Put(s.ctx, todo))

		first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.Require().NoError(s.store.Confirm(s.ctx, todo.Key(), models.ConfirmCreated, first))
		once, err := s.store.Get(s.ctx, todo.Key())
		s.Require().NoError(err)

		s.Require().NoError(s.store.Confirm(s.ctx, todo.Key(), models.ConfirmCreated, first.Add(time.Hour)))
		twice, err := s.store.Get(s.ctx, todo.Key())
		s.Require().NoError(err)

		s.Require().NotNil(once.CreatedConfirmedAt)
		s.True(first.Equal(*once.CreatedConfirmedAt))
		s.Equal(once.CreatedConfirmedAt.UnixNano(), twice.CreatedConfirmedAt.UnixNano())
	})

	s.Run("confirmation does not hide the todo", func() {
		todo := s.newTodo("visible", "Coffee")
		s.Require().NoError(s.store.Put(s.ctx, todo))
		s.Require().NoError(s.store.Confirm(s.ctx, todo.Key(), models.ConfirmCreated, time.Now()))

		page, err := s.store.Query(s.ctx, "visible", models.PageRequest{})
		s.Require().NoError(err)
		s.Len(page.Items, 1)
	})

	s.Run("missing key is not found and never creates a row", func() {
		todo := s.newTodo("ghosts", "Boo")
		s.Require().NoError(s.store.Put(s.ctx, todo))
		_, err := s.store.Delete(s.ctx, todo.ListID, todo.ID)
		s.Require().NoError(err)

		err = s.store.Confirm(s.ctx, todo.Key(), models.ConfirmDeleted, time.Now())
		s.ErrorIs(err, sentinel.ErrNotFound)

		_, err = s.store.Get(s.ctx, todo.Key())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
