package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

const eventsTable = "profiles.events"

// EventStore appends profile events to per-stream rows. Rewriting an event id is a no-op.
type EventStore struct {
	db      DB
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewEventStore constructs an event store.
func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db, builder: newBuilder(), now: time.Now}
}

type eventRow struct {
	stream  string
	batchID *string
	event   domain.ProfileEvent
	pctx    domain.PublishContext
}

func (s *EventStore) insert(rows []eventRow) (string, []any, error) {
	stmt := s.builder.Insert(eventsTable).
		Columns("event_id", "stream", "batch_id", "event_type", "envelope", "command", "command_id", "created_at")
	for _, row := range rows {
		envelope, err := domain.EncodeEvent(row.event)
		if err != nil {
			return "", nil, err
		}
		raw, err := json.Marshal(envelope)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s envelope: %w", row.event.EventType(), err)
		}
		at := envelope.Metadata.Timestamp
		if at.IsZero() {
			at = s.now().UTC()
		}
		stmt = stmt.Values(envelope.Metadata.EventID, row.stream, row.batchID, envelope.Type, raw,
			nullable(string(row.pctx.CommandName)), nullable(row.pctx.CommandID), at)
	}
	sql, args, err := stmt.Suffix("ON CONFLICT (event_id) DO NOTHING").ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert events sql: %w", err)
	}
	return sql, args, nil
}

// Publish implements port.EventPublisher.
func (s *EventStore) Publish(ctx context.Context, event domain.ProfileEvent, pctx domain.PublishContext) error {
	sql, args, err := s.insert([]eventRow{{stream: domain.PrimaryStream(event).Stream(), event: event, pctx: pctx}})
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("append %s: %w", event.EventType(), err)
	}
	return nil
}

// ExecuteBatch implements port.EventBatchExecutor. The batch commits in one transaction.
func (s *EventStore) ExecuteBatch(ctx context.Context, batchID string, events []domain.ResolvedEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		id := batchID
		rows = append(rows, eventRow{stream: ev.Stream(), batchID: &id, event: ev.Event})
	}
	sql, args, err := s.insert(rows)
	if err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", batchID, err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("append batch %s: %w", batchID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %s: %w", batchID, err)
	}
	return nil
}

// Stream reads the events of one stream in append order.
func (s *EventStore) Stream(ctx context.Context, stream string) ([]domain.ProfileEvent, error) {
	sql, args, err := s.builder.Select("envelope").From(eventsTable).Where(squirrel.Eq{"stream": stream}).OrderBy("seq").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select stream sql: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select stream %s: %w", stream, err)
	}
	defer rows.Close()

	var out []domain.ProfileEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decode event envelope: %w", err)
		}
		event, err := domain.DecodeEvent(envelope)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream %s: %w", stream, err)
	}
	return out, nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var (
	_ port.EventPublisher     = (*EventStore)(nil)
	_ port.EventBatchExecutor = (*EventStore)(nil)
)
