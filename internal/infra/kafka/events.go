package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

const schemaVersion = "1.0"

// Metadata keys copied from the publish context.
const (
	metaCommand      = "command"
	metaCommandID    = "command_id"
	metaCollectingID = "collecting_id"
)

type envelopeMetadata map[string]string

// Envelope is the JSON shape of every message this service writes.
type Envelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Key       string           `json:"key,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type envelopeBuilder struct {
	appCfg config.AppSettings
	now    func() time.Time
}

func (b envelopeBuilder) build(ctx context.Context, eventID, eventType, key string, ts time.Time, payload any) (Envelope, error) {
	if ts.IsZero() {
		ts = b.now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	metadata := envelopeMetadata{
		"service":     b.appCfg.Name,
		"environment": b.appCfg.Env,
	}
	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	return Envelope{
		EventID:   eventID,
		EventType: eventType,
		Key:       key,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   raw,
		Metadata:  metadata,
	}, nil
}

func (e Envelope) message(topic string) (*sarama.ProducerMessage, error) {
	bytes, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(bytes),
	}
	if e.Key != "" {
		msg.Key = sarama.StringEncoder(e.Key)
	}
	return msg, nil
}

// EventStreamPublisher implements port.EventPublisher by writing domain events to the
// events topic, keyed by the event's primary stream.
type EventStreamPublisher struct {
	producer *Producer
	logger   *zap.Logger
	builder  envelopeBuilder
}

// NewEventStreamPublisher constructs a Kafka-backed domain event publisher.
func NewEventStreamPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventStreamPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStreamPublisher{
		producer: producer,
		logger:   logger,
		builder:  envelopeBuilder{appCfg: appCfg, now: func() time.Time { return time.Now().UTC() }},
	}
}

// Publish implements port.EventPublisher.
func (p *EventStreamPublisher) Publish(ctx context.Context, event domain.ProfileEvent, pctx domain.PublishContext) error {
	encoded, err := domain.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	meta := event.Metadata()

	envelope, err := p.builder.build(ctx, meta.EventID, event.EventType(), domain.PrimaryStream(event).Stream(), meta.Timestamp, encoded)
	if err != nil {
		return err
	}
	envelope.Metadata[metaCommand] = string(pctx.CommandName)
	envelope.Metadata[metaCommandID] = pctx.CommandID
	if pctx.CollectingID != "" {
		envelope.Metadata[metaCollectingID] = pctx.CollectingID
	}

	msg, err := envelope.message(p.producer.TopicName(TopicDomainEvents))
	if err != nil {
		return err
	}
	if err := p.producer.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}

	p.logger.Debug("domain event published",
		zap.String("event_type", event.EventType()),
		zap.String("correlation_id", meta.CorrelationID),
		zap.String("stream", envelope.Key),
	)
	return nil
}

// DecodeEnvelope parses a message value written by one of the publishers.
func DecodeEnvelope(value []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event_type")
	}
	return envelope, nil
}

// DomainEvent restores the domain event and its publish context from an events topic envelope.
func (e Envelope) DomainEvent() (domain.ProfileEvent, domain.PublishContext, error) {
	var encoded domain.EventEnvelope
	if err := json.Unmarshal(e.Payload, &encoded); err != nil {
		return nil, domain.PublishContext{}, fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	event, err := domain.DecodeEvent(encoded)
	if err != nil {
		return nil, domain.PublishContext{}, err
	}
	pctx := domain.PublishContext{
		CommandName:  domain.CommandKind(e.Metadata[metaCommand]),
		CommandID:    e.Metadata[metaCommandID],
		CollectingID: e.Metadata[metaCollectingID],
	}
	return event, pctx, nil
}

var _ port.EventPublisher = (*EventStreamPublisher)(nil)
