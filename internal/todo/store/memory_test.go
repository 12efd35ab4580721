package store

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type InMemorySuite struct {
	storeContractSuite
}

func TestInMemorySuite(t *testing.T) {
	s := new(InMemorySuite)
	s.newStore = func() todoStore { return NewInMemory() }
	suite.Run(t, s)
}

func (s *InMemorySuite) TestReturnedTodosAreCopies() {
	todo := s.newTodo("groceries", "Milk")
	s.Require().NoError(s.store.Put(s.ctx, todo))

	found, err := s.store.Get(s.ctx, todo.Key())
	s.Require().NoError(err)
	found.Title = "mutated"

	again, err := s.store.Get(s.ctx, todo.Key())
	s.Require().NoError(err)
	s.Equal("Milk", again.Title)
}
