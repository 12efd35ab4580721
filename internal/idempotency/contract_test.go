package idempotency

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"
)

// storeContractSuite runs against every Store implementation.
type storeContractSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
}

func (s *storeContractSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func (s *storeContractSuite) TestFirstReserveOwnsKey() {
	result, err := s.store.Reserve(s.ctx, Key("AKID", "groceries", "k1"), time.Minute)
	s.NoError(err)
	s.Nil(result)
}

func (s *storeContractSuite) TestSecondReserveWhileInFlight() {
	key := Key("AKID", "groceries", "k1")
	_, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.Require().NoError(err)

	_, err = s.store.Reserve(s.ctx, key, time.Minute)
	s.ErrorIs(err, ErrInFlight)
}

func (s *storeContractSuite) TestReplayAfterComplete() {
	key := Key("AKID", "groceries", "k1")
	_, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Complete(s.ctx, key, []byte(`{"title":"Buy milk"}`), time.Minute))

	result, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.NoError(err)
	s.JSONEq(`{"title":"Buy milk"}`, string(result))
}

func (s *storeContractSuite) TestReleaseFreesPendingKey() {
	key := Key("AKID", "groceries", "k1")
	_, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Release(s.ctx, key))

	result, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.NoError(err)
	s.Nil(result)
}

func (s *storeContractSuite) TestReleaseKeepsCompletedResult() {
	key := Key("AKID", "groceries", "k1")
	_, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Complete(s.ctx, key, []byte(`{}`), time.Minute))
	s.Require().NoError(s.store.Release(s.ctx, key))

	result, err := s.store.Reserve(s.ctx, key, time.Minute)
	s.NoError(err)
	s.Equal([]byte(`{}`), result)
}

func (s *storeContractSuite) TestKeysAreScopedByCallerAndList() {
	_, err := s.store.Reserve(s.ctx, Key("AKID-A", "groceries", "k1"), time.Minute)
	s.Require().NoError(err)

	_, err = s.store.Reserve(s.ctx, Key("AKID-B", "groceries", "k1"), time.Minute)
	s.NoError(err)
	_, err = s.store.Reserve(s.ctx, Key("AKID-A", "chores", "k1"), time.Minute)
	s.NoError(err)
}
