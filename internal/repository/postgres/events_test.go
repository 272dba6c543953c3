package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

var eventAt = time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)

func createdEvent(id string) domain.ProfileCreated {
	return domain.ProfileCreated{
		EventBase: domain.EventBase{Meta: domain.EventMetadata{EventID: id, CorrelationID: "corr-1", Timestamp: eventAt}},
		Profile:   domain.Profile{ID: "user-1", Type: domain.ObjectUser, Name: "Ada"},
	}
}

func TestEventStore_PublishAppendsToPrimaryStream(t *testing.T) {
	mock := newMock(t)
	store := NewEventStore(mock)

	mock.ExpectExec(`INSERT INTO profiles\.events \(event_id,stream,batch_id,event_type,envelope,command,command_id,created_at\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8\) ON CONFLICT \(event_id\) DO NOTHING`).
		WithArgs("evt-1", "User-user-1", pgxmock.AnyArg(), domain.EventProfileCreated, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), eventAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Publish(context.Background(), createdEvent("evt-1"), domain.PublishContext{CommandName: domain.CommandCreateUser, CommandID: "cmd-1"})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestEventStore_ExecuteBatchCommitsOnce(t *testing.T) {
	mock := newMock(t)
	store := NewEventStore(mock)

	batch := []domain.ResolvedEvent{
		{Target: domain.ObjectIdent{ID: "user-1", Type: domain.ObjectUser}, Event: createdEvent("evt-1")},
		{Target: domain.ObjectIdent{ID: "group-1", Type: domain.ObjectGroup}, Event: createdEvent("evt-2")},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles\.events .* VALUES \(\$1,.*\),\(\$9,.*\) ON CONFLICT \(event_id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	if err := store.ExecuteBatch(context.Background(), "batch-1", batch); err != nil {
		t.Fatalf("ExecuteBatch returned error: %v", err)
	}
	if err := store.ExecuteBatch(context.Background(), "batch-2", nil); err != nil {
		t.Fatalf("empty batch returned error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestEventStore_ExecuteBatchRollsBackOnFailure(t *testing.T) {
	mock := newMock(t)
	store := NewEventStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles\.events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	batch := []domain.ResolvedEvent{{Target: domain.ObjectIdent{ID: "user-1", Type: domain.ObjectUser}, Event: createdEvent("evt-1")}}
	if err := store.ExecuteBatch(context.Background(), "batch-1", batch); err == nil {
		t.Fatalf("expected ExecuteBatch to fail")
	}
	expectationsMet(t, mock)
}

func TestEventStore_StreamDecodesEnvelopes(t *testing.T) {
	mock := newMock(t)
	store := NewEventStore(mock)

	envelope, err := domain.EncodeEvent(createdEvent("evt-1"))
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	mock.ExpectQuery(`SELECT envelope FROM profiles\.events WHERE stream = \$1 ORDER BY seq`).
		WithArgs("User-user-1").
		WillReturnRows(pgxmock.NewRows([]string{"envelope"}).AddRow(raw))

	events, err := store.Stream(context.Background(), "User-user-1")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	created, ok := events[0].(domain.ProfileCreated)
	if !ok || created.Profile.Name != "Ada" || created.Metadata().EventID != "evt-1" {
		t.Fatalf("unexpected event %#v", events[0])
	}
	expectationsMet(t, mock)
}
