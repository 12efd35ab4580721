//go:build integration

package redisstream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"todoflow/internal/events"
	"todoflow/pkg/testutil/containers"
)

type StreamSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestStreamSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StreamSuite))
}

func (s *StreamSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *StreamSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *StreamSuite) TearDownSuite() {
	_ = s.redis.Client.Close()
	_ = s.redis.Container.Terminate(context.Background())
}

func (s *StreamSuite) run(stream *Stream) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = stream.Run(ctx) }()
	return cancel
}

func (s *StreamSuite) envelope() events.Envelope {
	return events.Envelope{ID: "evt-1", Source: events.SourceTodos, DetailType: events.TodoCreated, Time: time.Now().UTC()}
}

func (s *StreamSuite) TestDeliversAndAcks() {
	stream := New(s.redis.Client, "todos", WithBlock(100*time.Millisecond))
	var got atomic.Value
	stream.Subscribe(events.TodoLifecycle, func(_ context.Context, env events.Envelope) error {
		got.Store(env.ID)
		return nil
	})
	s.Require().NoError(stream.EnsureGroup(context.Background()))
	cancel := s.run(stream)
	defer cancel()

	s.Require().NoError(stream.Publish(context.Background(), s.envelope()))

	s.Eventually(func() bool { return got.Load() == "evt-1" }, 5*time.Second, 50*time.Millisecond)
	s.Eventually(func() bool {
		pending, err := s.redis.Client.XPending(context.Background(), "todos", "todoflow-reactors").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func (s *StreamSuite) TestRedeliversThenDeadLetters() {
	stream := New(s.redis.Client, "todos",
		WithBlock(50*time.Millisecond),
		WithClaimIdle(100*time.Millisecond),
		WithMaxAttempts(3),
	)
	var calls atomic.Int32
	stream.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})
	s.Require().NoError(stream.EnsureGroup(context.Background()))
	cancel := s.run(stream)
	defer cancel()

	s.Require().NoError(stream.Publish(context.Background(), s.envelope()))

	s.Eventually(func() bool {
		n, err := s.redis.Client.XLen(context.Background(), stream.DeadLetterStream()).Result()
		return err == nil && n == 1
	}, 10*time.Second, 50*time.Millisecond)
	s.Equal(int32(3), calls.Load())
}

func (s *StreamSuite) TestUnroutableIsAcked() {
	stream := New(s.redis.Client, "todos", WithBlock(50*time.Millisecond))
	stream.Subscribe(events.Pattern{Source: "api.other"}, func(context.Context, events.Envelope) error {
		return errors.New("never called")
	})
	s.Require().NoError(stream.EnsureGroup(context.Background()))
	cancel := s.run(stream)
	defer cancel()

	s.Require().NoError(stream.Publish(context.Background(), s.envelope()))

	s.Eventually(func() bool {
		info, err := s.redis.Client.XInfoGroups(context.Background(), "todos").Result()
		return err == nil && len(info) == 1 && info[0].Pending == 0 && info[0].EntriesRead == 1
	}, 5*time.Second, 50*time.Millisecond)
}
