package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type InMemorySuite struct {
	storeContractSuite
}

func TestInMemorySuite(t *testing.T) {
	s := new(InMemorySuite)
	s.newStore = func() Store { return NewInMemory() }
	suite.Run(t, s)
}

func (s *InMemorySuite) TestExpiredReservationCanBeRetaken() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewInMemory()
	st.now = func() time.Time { return now }

	_, err := st.Reserve(s.ctx, "k", time.Minute)
	s.Require().NoError(err)

	now = now.Add(2 * time.Minute)
	result, err := st.Reserve(s.ctx, "k", time.Minute)
	s.NoError(err)
	s.Nil(result)
}

func TestValidClientKey(t *testing.T) {
	assert.True(t, ValidClientKey("3f1d2a4b-retry"))
	assert.False(t, ValidClientKey(""))
	assert.False(t, ValidClientKey(" padded "))
	assert.False(t, ValidClientKey(string(make([]byte, 256))))
}
