//go:build integration

package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"todoflow/internal/events"
	"todoflow/internal/todo/models"
	"todoflow/pkg/testutil/containers"
)

type KafkaSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSuite))
}

func (s *KafkaSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
}

func (s *KafkaSuite) TearDownSuite() {
	_ = s.redpanda.Container.Terminate(context.Background())
}

func (s *KafkaSuite) envelope() events.Envelope {
	todo, err := models.NewTodo("groceries", "Buy milk", "2%", time.Now())
	s.Require().NoError(err)
	env, err := events.NewTodoEvent(events.TodoCreated, todo, time.Now())
	s.Require().NoError(err)
	return env
}

func (s *KafkaSuite) TestPublishAndConsume() {
	ctx := context.Background()
	topic := "todos-consume"
	s.Require().NoError(EnsureTopics(ctx, s.redpanda.Brokers, topic, 1, 1))

	producer, err := NewProducer(s.redpanda.Brokers, topic, nil)
	s.Require().NoError(err)
	defer producer.Close()

	consumer, err := NewConsumer(s.redpanda.Brokers, topic, "test-group")
	s.Require().NoError(err)
	var got atomic.Value
	consumer.Subscribe(events.TodoLifecycle, func(_ context.Context, env events.Envelope) error {
		got.Store(env.ID)
		return nil
	})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = consumer.Run(runCtx) }()

	env := s.envelope()
	s.Require().NoError(producer.Publish(ctx, env))

	s.Eventually(func() bool { return got.Load() == env.ID }, 20*time.Second, 100*time.Millisecond)
}

func (s *KafkaSuite) TestExhaustedRecordGoesToDeadLetterTopic() {
	ctx := context.Background()
	topic := "todos-dlq"
	s.Require().NoError(EnsureTopics(ctx, s.redpanda.Brokers, topic, 1, 1))

	producer, err := NewProducer(s.redpanda.Brokers, topic, nil)
	s.Require().NoError(err)
	defer producer.Close()

	consumer, err := NewConsumer(s.redpanda.Brokers, topic, "dlq-group", WithMaxAttempts(2), WithBackoff(10*time.Millisecond))
	s.Require().NoError(err)
	var calls atomic.Int32
	consumer.Subscribe(events.TodoLifecycle, func(context.Context, events.Envelope) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = consumer.Run(runCtx) }()

	env := s.envelope()
	s.Require().NoError(producer.Publish(ctx, env))

	reader, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(DeadLetterTopic(topic)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer reader.Close()

	pollCtx, pollCancel := context.WithTimeout(ctx, 20*time.Second)
	defer pollCancel()
	fetches := reader.PollFetches(pollCtx)
	s.Require().NotEmpty(fetches.Records())
	s.Equal(int32(2), calls.Load())
}
