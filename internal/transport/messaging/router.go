// Package messaging routes consumed Kafka messages to the command saga and the projector.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/infra/kafka"
	"github.com/arklim/social-platform-profiles/internal/infra/logger"
)

// SagaInbox receives the messages that drive command sagas.
type SagaInbox interface {
	Submit(ctx context.Context, msg domain.SubmitCommand) (string, error)
	HandleValidationResponse(ctx context.Context, msg domain.ValidationCompositeResponse) error
	HandleProjectionSuccess(ctx context.Context, msg domain.CommandProjectionSuccess) error
	HandleProjectionFailure(ctx context.Context, msg domain.CommandProjectionFailure) error
	// Fault rejects the saga once a message for it is given up on.
	Fault(ctx context.Context, correlationID string, cause error) error
	// FailSubmission answers a submission that is given up on.
	FailSubmission(ctx context.Context, msg domain.SubmitCommand, cause error) error
}

// Projector applies published domain events.
type Projector interface {
	Project(ctx context.Context, event domain.ProfileEvent) error
}

// RetryPolicy is the redelivery policy for failed handlers.
type RetryPolicy struct {
	Attempts uint
	Interval time.Duration
}

// job is one decoded message: run handles it, fail answers its saga once retries run out.
type job struct {
	run  func(ctx context.Context) error
	fail func(ctx context.Context, cause error) error
}

type route func(envelope kafka.Envelope) (job, error)

// Router implements kafka.MessageHandler. Each message is retried according to the policy;
// undecodable messages are dropped at once. A message that still fails after the last
// attempt rejects its saga.
type Router struct {
	routes    map[string]route
	inbox     SagaInbox
	projector Projector
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewRouter builds a router for topics under prefix. projector may be nil when the
// service does not project its own events.
func NewRouter(prefix string, inbox SagaInbox, projector Projector, retry RetryPolicy) *Router {
	if retry.Attempts == 0 {
		retry.Attempts = 1
	}
	r := &Router{
		routes:    make(map[string]route),
		inbox:     inbox,
		projector: projector,
		retry:     retry,
		logger:    zap.NewNop(),
	}

	r.routes[kafka.TopicName(prefix, kafka.TopicSubmitCommand)] = func(env kafka.Envelope) (job, error) {
		var msg domain.SubmitCommand
		if err := decodePayload(env, &msg); err != nil {
			return job{}, err
		}
		return job{
			run: func(ctx context.Context) error {
				_, err := inbox.Submit(ctx, msg)
				return err
			},
			fail: func(ctx context.Context, cause error) error { return inbox.FailSubmission(ctx, msg, cause) },
		}, nil
	}
	r.routes[kafka.TopicName(prefix, kafka.TopicValidationResponse)] = func(env kafka.Envelope) (job, error) {
		var msg domain.ValidationCompositeResponse
		if err := decodePayload(env, &msg); err != nil {
			return job{}, err
		}
		return job{
			run:  func(ctx context.Context) error { return inbox.HandleValidationResponse(ctx, msg) },
			fail: r.faultSaga(msg.CollectingID),
		}, nil
	}
	r.routes[kafka.TopicName(prefix, kafka.TopicProjectionSuccess)] = func(env kafka.Envelope) (job, error) {
		var msg domain.CommandProjectionSuccess
		if err := decodePayload(env, &msg); err != nil {
			return job{}, err
		}
		return job{
			run:  func(ctx context.Context) error { return inbox.HandleProjectionSuccess(ctx, msg) },
			fail: r.faultSaga(msg.ID),
		}, nil
	}
	r.routes[kafka.TopicName(prefix, kafka.TopicProjectionFailure)] = func(env kafka.Envelope) (job, error) {
		var msg domain.CommandProjectionFailure
		if err := decodePayload(env, &msg); err != nil {
			return job{}, err
		}
		return job{
			run:  func(ctx context.Context) error { return inbox.HandleProjectionFailure(ctx, msg) },
			fail: r.faultSaga(msg.ID),
		}, nil
	}
	if projector != nil {
		r.routes[kafka.TopicName(prefix, kafka.TopicDomainEvents)] = func(env kafka.Envelope) (job, error) {
			event, _, err := env.DomainEvent()
			if err != nil {
				return job{}, err
			}
			return r.projectJob(event), nil
		}
	}
	return r
}

func (r *Router) faultSaga(correlationID string) func(ctx context.Context, cause error) error {
	return func(ctx context.Context, cause error) error {
		if correlationID == "" {
			return nil
		}
		return r.inbox.Fault(ctx, correlationID, cause)
	}
}

func (r *Router) projectJob(event domain.ProfileEvent) job {
	return job{
		run:  func(ctx context.Context) error { return r.projector.Project(ctx, event) },
		fail: r.faultSaga(event.Metadata().CorrelationID),
	}
}

// WithLogger attaches a structured logger.
func (r *Router) WithLogger(log *zap.Logger) *Router {
	if log != nil {
		r.logger = log
	}
	return r
}

// Topics lists the bare topic names the router serves, for kafka.NewConsumerGroup.
func Topics(withProjection bool) []string {
	topics := []string{
		kafka.TopicSubmitCommand,
		kafka.TopicValidationResponse,
		kafka.TopicProjectionSuccess,
		kafka.TopicProjectionFailure,
	}
	if withProjection {
		topics = append(topics, kafka.TopicDomainEvents)
	}
	return topics
}

// HandleMessage implements kafka.MessageHandler.
func (r *Router) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	build, ok := r.routes[msg.Topic]
	if !ok {
		return fmt.Errorf("no route for topic %s", msg.Topic)
	}

	envelope, err := kafka.DecodeEnvelope(msg.Value)
	if err != nil {
		return err
	}
	work, err := build(envelope)
	if err != nil {
		return fmt.Errorf("decode %s from %s: %w", envelope.EventType, msg.Topic, err)
	}
	ctx = logger.ContextWithRequestID(ctx, envelope.EventID)
	return r.execute(ctx, msg.Topic, envelope.EventType, work)
}

// ProjectEvent projects an event delivered in-process, with the same retry and
// rejection handling as events consumed from Kafka.
func (r *Router) ProjectEvent(ctx context.Context, event domain.ProfileEvent) error {
	if r.projector == nil {
		return nil
	}
	return r.execute(ctx, "in-process", event.EventType(), r.projectJob(event))
}

func (r *Router) execute(ctx context.Context, source, eventType string, work job) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := work.run(ctx)
		if err != nil && isCancellation(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.retry.Interval)),
		backoff.WithMaxTries(r.retry.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("message handling failed, retrying",
				zap.String("topic", source),
				zap.String("event_type", eventType),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("handle %s from %s after %d attempts: %w", eventType, source, attempt, err)
	if isCancellation(err) {
		return err
	}

	if faultErr := work.fail(context.WithoutCancel(ctx), err); faultErr != nil {
		r.logger.Error("rejecting saga after failed delivery failed",
			zap.String("topic", source),
			zap.String("event_type", eventType),
			zap.Error(faultErr),
		)
		return errors.Join(err, faultErr)
	}
	r.logger.Warn("message given up, saga rejected",
		zap.String("topic", source),
		zap.String("event_type", eventType),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	return err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func decodePayload(env kafka.Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return nil
}

var _ kafka.MessageHandler = (*Router)(nil)
