// Package redisstream carries events over a Redis stream with a consumer
// group. Unacknowledged entries are reclaimed after an idle period and moved
// to "<stream>:dlq" once their delivery count reaches the limit.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"todoflow/internal/events"
	"todoflow/internal/events/metrics"
	"todoflow/pkg/platform/sentinel"
)

const (
	transportName = "redis"
	fieldEnvelope = "envelope"
	fieldType     = "detail_type"
	maxStreamLen  = 100_000
)

type subscription struct {
	pattern events.Pattern
	handler events.Handler
}

// Stream publishes to and consumes from one Redis stream.
type Stream struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string

	maxAttempts int
	claimIdle   time.Duration
	block       time.Duration
	batch       int64

	logger  *slog.Logger
	metrics *metrics.Metrics
	subs    []subscription
}

type Option func(*Stream)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// WithConsumerGroup sets the group and this process's consumer name.
func WithConsumerGroup(group, consumer string) Option {
	return func(s *Stream) {
		s.group = group
		s.consumer = consumer
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClaimIdle sets how long an entry stays pending before another read reclaims it.
func WithClaimIdle(d time.Duration) Option {
	return func(s *Stream) { s.claimIdle = d }
}

func WithBlock(d time.Duration) Option {
	return func(s *Stream) { s.block = d }
}

func New(client redis.UniversalClient, stream string, opts ...Option) *Stream {
	s := &Stream{
		client:      client,
		stream:      stream,
		group:       "todoflow-reactors",
		consumer:    "todoflow",
		maxAttempts: 5,
		claimIdle:   30 * time.Second,
		block:       2 * time.Second,
		batch:       16,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeadLetterStream is where exhausted entries are copied.
func (s *Stream) DeadLetterStream() string { return s.stream + ":dlq" }

func (s *Stream) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{fieldEnvelope: payload, fieldType: env.DetailType.String()},
	}).Err()
	if err != nil {
		s.metrics.IncPublishFailed(transportName, env.DetailType.String())
		return fmt.Errorf("xadd %s: %w", s.stream, sentinel.Unavailable(err))
	}
	s.metrics.IncPublished(transportName, env.DetailType.String())
	return nil
}

// Subscribe registers handler for envelopes matching pattern. Call before Run.
func (s *Stream) Subscribe(pattern events.Pattern, handler events.Handler) {
	s.subs = append(s.subs, subscription{pattern: pattern, handler: handler})
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", s.group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	s.logger.Info("redis stream consumer started",
		"stream", s.stream,
		"group", s.group,
		"consumer", s.consumer,
	)

	lastReclaim := time.Now()
	for ctx.Err() == nil {
		if err := s.readNew(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "redis stream read failed", "stream", s.stream, "error", err)
			sleep(ctx, time.Second)
		}
		if time.Since(lastReclaim) >= s.claimIdle/2 {
			if err := s.Reclaim(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "redis stream reclaim failed", "stream", s.stream, "error", err)
			}
			lastReclaim = time.Now()
		}
	}
	return nil
}

func (s *Stream) readNew(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batch,
		Block:    s.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, st := range streams {
		for _, msg := range st.Messages {
			s.handle(ctx, msg, 1)
		}
	}
	return nil
}

// Reclaim takes over entries idle longer than the claim window. Entries that
// already reached the delivery limit are dead-lettered instead.
func (s *Stream) Reclaim(ctx context.Context) error {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   s.claimIdle,
		Start:  "-",
		End:    "+",
		Count:  s.batch,
	}).Result()
	if err != nil {
		return err
	}

	for _, p := range pending {
		claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		for _, msg := range claimed {
			if int(p.RetryCount) >= s.maxAttempts {
				env, _ := decode(msg)
				s.deadLetter(ctx, msg, env, int(p.RetryCount), errors.New("delivery attempts exhausted"))
				continue
			}
			s.handle(ctx, msg, int(p.RetryCount)+1)
		}
	}
	return nil
}

func (s *Stream) handle(ctx context.Context, msg redis.XMessage, attempt int) {
	env, err := decode(msg)
	if err != nil {
		s.deadLetter(ctx, msg, env, attempt, err)
		return
	}

	routed := false
	for _, sub := range s.subs {
		if !sub.pattern.Matches(env) {
			continue
		}
		routed = true
		if err := sub.handler(ctx, env); err != nil {
			if events.IsPermanent(err) {
				s.deadLetter(ctx, msg, env, attempt, err)
				return
			}
			s.metrics.IncDelivery(transportName, metrics.OutcomeRetried)
			s.logger.WarnContext(ctx, "event delivery failed, leaving pending",
				"event_id", env.ID,
				"detail_type", env.DetailType,
				"attempt", attempt,
				"error", err,
			)
			return
		}
	}

	if !routed {
		s.logger.WarnContext(ctx, "no subscription for event, acknowledging",
			"event_id", env.ID,
			"source", env.Source,
			"detail_type", env.DetailType,
		)
		s.metrics.IncDelivery(transportName, metrics.OutcomeUnroutable)
	} else {
		s.metrics.IncDelivery(transportName, metrics.OutcomeAcked)
	}
	s.ack(ctx, msg.ID)
}

func (s *Stream) deadLetter(ctx context.Context, msg redis.XMessage, env events.Envelope, attempts int, cause error) {
	values := map[string]any{
		"source_id": msg.ID,
		"attempts":  attempts,
		"error":     cause.Error(),
	}
	if raw, ok := msg.Values[fieldEnvelope]; ok {
		values[fieldEnvelope] = raw
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.DeadLetterStream(), Values: values}).Err(); err != nil {
		// keep it pending so the next reclaim tries again
		s.logger.ErrorContext(ctx, "failed to write dead letter", "event_id", env.ID, "error", err)
		return
	}
	s.metrics.IncDelivery(transportName, metrics.OutcomeDeadLettered)
	s.logger.ErrorContext(ctx, "event dead-lettered",
		"event_id", env.ID,
		"detail_type", env.DetailType,
		"attempts", attempts,
		"error", cause,
	)
	s.ack(ctx, msg.ID)
}

func (s *Stream) ack(ctx context.Context, id string) {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to ack stream entry", "entry_id", id, "error", err)
	}
}

func (s *Stream) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(msg redis.XMessage) (events.Envelope, error) {
	var env events.Envelope
	raw, ok := msg.Values[fieldEnvelope].(string)
	if !ok {
		return env, errors.New("stream entry has no envelope field")
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
