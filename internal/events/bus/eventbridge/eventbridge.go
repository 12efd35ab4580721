// Package eventbridge publishes events to an Amazon EventBridge bus.
// Consumption runs through rules targeting the reactor Lambda, so this package
// only covers the publish side and the inbound event conversion.
package eventbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	todoevents "todoflow/internal/events"
	"todoflow/internal/events/metrics"
	"todoflow/pkg/platform/sentinel"
)

const transportName = "eventbridge"

// API is the subset of the EventBridge client the publisher calls.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	DescribeEventBus(ctx context.Context, params *eventbridge.DescribeEventBusInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeEventBusOutput, error)
}

var _ API = (*eventbridge.Client)(nil)

// Publisher sends one PutEvents entry per envelope.
type Publisher struct {
	client  API
	busName string
	metrics *metrics.Metrics
}

func NewPublisher(client API, busName string, m *metrics.Metrics) *Publisher {
	return &Publisher{client: client, busName: busName, metrics: m}
}

func (p *Publisher) Publish(ctx context.Context, env todoevents.Envelope) error {
	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(env.Source),
			DetailType:   aws.String(env.DetailType.String()),
			Detail:       aws.String(string(env.Detail)),
			Time:         aws.Time(env.Time),
		}},
	})
	if err != nil {
		p.metrics.IncPublishFailed(transportName, env.DetailType.String())
		return fmt.Errorf("put events: %w", sentinel.Unavailable(err))
	}
	// PutEvents succeeds as a call even when individual entries are rejected.
	if out.FailedEntryCount > 0 {
		p.metrics.IncPublishFailed(transportName, env.DetailType.String())
		code, msg := "unknown", ""
		if len(out.Entries) > 0 {
			code = aws.ToString(out.Entries[0].ErrorCode)
			msg = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("put events entry rejected (%s: %s): %w", code, msg, sentinel.ErrUnavailable)
	}
	p.metrics.IncPublished(transportName, env.DetailType.String())
	return nil
}

func (p *Publisher) Health(ctx context.Context) error {
	_, err := p.client.DescribeEventBus(ctx, &eventbridge.DescribeEventBusInput{Name: aws.String(p.busName)})
	return err
}

// FromCloudWatchEvent converts the payload a rule target receives into an envelope.
func FromCloudWatchEvent(e events.CloudWatchEvent) todoevents.Envelope {
	return todoevents.Envelope{
		ID:         e.ID,
		Source:     e.Source,
		DetailType: todoevents.DetailType(e.DetailType),
		Time:       e.Time.UTC(),
		Detail:     e.Detail,
	}
}

// LambdaHandler adapts a Handler to a rule-target Lambda. Transient failures
// are returned so the invocation's retry policy and on-failure destination
// apply; permanent ones are logged and dropped since a retry cannot succeed.
func LambdaHandler(handler todoevents.Handler, pattern todoevents.Pattern, logger *slog.Logger, m *metrics.Metrics) func(ctx context.Context, e events.CloudWatchEvent) error {
	return func(ctx context.Context, e events.CloudWatchEvent) error {
		env := FromCloudWatchEvent(e)
		if !pattern.Matches(env) {
			m.IncDelivery(transportName, metrics.OutcomeUnroutable)
			logger.WarnContext(ctx, "event does not match the reactor pattern",
				"event_id", env.ID,
				"source", env.Source,
				"detail_type", env.DetailType,
			)
			return nil
		}

		err := handler(ctx, env)
		switch {
		case err == nil:
			m.IncDelivery(transportName, metrics.OutcomeAcked)
			return nil
		case todoevents.IsPermanent(err):
			m.IncDelivery(transportName, metrics.OutcomeDropped)
			logger.ErrorContext(ctx, "dropping event that cannot be processed",
				"event_id", env.ID,
				"detail_type", env.DetailType,
				"error", err,
			)
			return nil
		default:
			m.IncDelivery(transportName, metrics.OutcomeRetried)
			return err
		}
	}
}
