// Package kafka carries events over a Kafka topic using franz-go. Records are
// keyed by list id so one list's events stay on one partition. Offsets are
// committed only after every matching handler returns, and records that keep
// failing are produced to "<topic>.dlq" before their offset is committed.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"todoflow/internal/events"
	"todoflow/internal/events/metrics"
	"todoflow/pkg/platform/sentinel"
)

const (
	transportName    = "kafka"
	headerDetailType = "detail-type"
	headerAttempts   = "attempts"
	headerError      = "error"
)

// Producer publishes envelopes to a topic.
type Producer struct {
	client  *kgo.Client
	topic   string
	metrics *metrics.Metrics
}

// NewProducer connects a producer that waits for all in-sync replicas.
func NewProducer(brokers []string, topic string, m *metrics.Metrics) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, topic: topic, metrics: m}, nil
}

func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	record, err := toRecord(p.topic, env)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.metrics.IncPublishFailed(transportName, env.DetailType.String())
		return fmt.Errorf("produce to %s: %w", p.topic, sentinel.Unavailable(err))
	}
	p.metrics.IncPublished(transportName, env.DetailType.String())
	return nil
}

func (p *Producer) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}

func toRecord(topic string, env events.Envelope) (*kgo.Record, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	var key []byte
	if todo, err := env.Todo(); err == nil {
		key = []byte(todo.ListID.String())
	}
	return &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: headerDetailType, Value: []byte(env.DetailType.String())},
		},
	}, nil
}

// EnsureTopics creates the event topic and its dead-letter topic if missing.
func EnsureTopics(ctx context.Context, brokers []string, topic string, partitions int32, replication int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, partitions, replication, nil, topic, DeadLetterTopic(topic))
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, resp := range resps.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// DeadLetterTopic names the topic exhausted records are copied to.
func DeadLetterTopic(topic string) string { return topic + ".dlq" }

type subscription struct {
	pattern events.Pattern
	handler events.Handler
}

// Consumer reads the topic as part of a consumer group.
type Consumer struct {
	client      *kgo.Client
	topic       string
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	subs        []subscription
}

type ConsumerOption func(*Consumer)

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.backoff = d }
}

// NewConsumer joins group on topic. Offsets start at the earliest record for a new group.
func NewConsumer(brokers []string, topic, group string, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		topic:       topic,
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// Subscribe registers handler for envelopes matching pattern. Call before Run.
func (c *Consumer) Subscribe(pattern events.Pattern, handler events.Handler) {
	c.subs = append(c.subs, subscription{pattern: pattern, handler: handler})
}

// Run polls until ctx is cancelled, then leaves the group.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	c.logger.Info("kafka consumer started", "topic", c.topic)

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch failed", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		for _, record := range fetches.Records() {
			if !c.process(ctx, record) {
				break
			}
			done = append(done, record)
		}
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "records", len(done), "error", err)
		}
	}
}

// process returns true once the record is settled (handled, unroutable or
// dead-lettered). Kafka has no per-record redelivery, so retries happen here.
// It returns false only when ctx ends first; nothing after that record is
// committed and the group resumes from it on restart.
func (c *Consumer) process(ctx context.Context, record *kgo.Record) bool {
	var env events.Envelope
	if err := json.Unmarshal(record.Value, &env); err != nil {
		return c.deadLetter(ctx, record, env, 1, fmt.Errorf("decode envelope: %w", err))
	}

	routed := false
	for _, sub := range c.subs {
		if !sub.pattern.Matches(env) {
			continue
		}
		routed = true
		if settled := c.deliver(ctx, sub, record, env); !settled {
			return false
		}
	}
	if !routed {
		c.logger.WarnContext(ctx, "no subscription for event, committing",
			"event_id", env.ID,
			"source", env.Source,
			"detail_type", env.DetailType,
		)
		c.metrics.IncDelivery(transportName, metrics.OutcomeUnroutable)
	}
	return true
}

func (c *Consumer) deliver(ctx context.Context, sub subscription, record *kgo.Record, env events.Envelope) bool {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = sub.handler(ctx, env); err == nil {
			c.metrics.IncDelivery(transportName, metrics.OutcomeAcked)
			return true
		}
		if events.IsPermanent(err) {
			return c.deadLetter(ctx, record, env, attempt, err)
		}
		c.metrics.IncDelivery(transportName, metrics.OutcomeRetried)
		c.logger.WarnContext(ctx, "event delivery failed, retrying",
			"event_id", env.ID,
			"detail_type", env.DetailType,
			"attempt", attempt,
			"error", err,
		)
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	return c.deadLetter(ctx, record, env, c.maxAttempts, err)
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, env events.Envelope, attempts int, cause error) bool {
	dlq := &kgo.Record{
		Topic: DeadLetterTopic(c.topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: append(append([]kgo.RecordHeader(nil), record.Headers...),
			kgo.RecordHeader{Key: headerAttempts, Value: []byte(strconv.Itoa(attempts))},
			kgo.RecordHeader{Key: headerError, Value: []byte(cause.Error())},
		),
	}
	for {
		err := c.client.ProduceSync(ctx, dlq).FirstErr()
		if err == nil {
			break
		}
		c.logger.ErrorContext(ctx, "failed to write dead letter, retrying",
			"event_id", env.ID,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
	c.metrics.IncDelivery(transportName, metrics.OutcomeDeadLettered)
	c.logger.ErrorContext(ctx, "event dead-lettered",
		"event_id", env.ID,
		"detail_type", env.DetailType,
		"attempts", attempts,
		"error", cause,
	)
	return true
}

func (c *Consumer) Health(ctx context.Context) error {
	return c.client.Ping(ctx)
}
