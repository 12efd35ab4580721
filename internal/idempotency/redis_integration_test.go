//go:build integration

package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"todoflow/pkg/testutil/containers"
)

type RedisSuite struct {
	storeContractSuite
	redis *containers.RedisContainer
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.newStore = func() Store { return NewRedis(s.redis.Client) }
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.storeContractSuite.SetupTest()
}

func (s *RedisSuite) TearDownSuite() {
	_ = s.redis.Client.Close()
	_ = s.redis.Container.Terminate(context.Background())
}
