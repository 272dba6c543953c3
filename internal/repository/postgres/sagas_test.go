package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var sagaCreatedAt = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

func testSaga() domain.SagaInstance {
	return domain.SagaInstance{
		CorrelationID: "corr-1",
		CurrentState:  domain.SagaSubmitted,
		Command:       domain.CommandCreateUser,
		Data:          json.RawMessage(`{"name":"Ada"}`),
		Version:       1,
		CreatedAt:     sagaCreatedAt,
		UpdatedAt:     sagaCreatedAt,
	}
}

func sagaRows(t *testing.T, instances ...domain.SagaInstance) *pgxmock.Rows {
	t.Helper()
	rows := pgxmock.NewRows([]string{"snapshot"})
	for _, instance := range instances {
		raw, err := json.Marshal(instance)
		if err != nil {
			t.Fatalf("marshal saga: %v", err)
		}
		rows.AddRow(raw)
	}
	return rows
}

func TestSagaRepository_InsertWithOutbox(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, port.ConcurrencyOptimistic)
	saga := testSaga()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles\.sagas`).
		WithArgs("corr-1", int(domain.SagaSubmitted), "CreateUser", pgxmock.AnyArg(), int64(1), sagaCreatedAt, sagaCreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO profiles\.saga_outbox`).
		WithArgs("corr-1:validate", "corr-1", "trigger_validation", pgxmock.AnyArg(), sagaCreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.Insert(ctx, saga); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	effect := domain.Effect{ID: "corr-1:validate", Kind: domain.EffectTriggerValidation, CorrelationID: "corr-1", CreatedAt: sagaCreatedAt}
	if err := tx.Enqueue(ctx, []domain.Effect{effect}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, repository.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed on second commit, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after commit must be a no-op, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestSagaRepository_DuplicateInsertConflicts(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, port.ConcurrencyOptimistic)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles\.sagas`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.Insert(ctx, testSaga()); !errors.Is(err, repository.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestSagaRepository_UpdateChecksVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, port.ConcurrencyOptimistic)
	next := testSaga().TransitionTo(domain.SagaExecuted, sagaCreatedAt.Add(time.Second))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE profiles\.sagas SET state = \$1, snapshot = \$2, version = \$3, updated_at = \$4 WHERE correlation_id = \$5 AND version = \$6`).
		WithArgs(int(domain.SagaExecuted), pgxmock.AnyArg(), int64(2), next.UpdatedAt, "corr-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE profiles\.sagas`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`DELETE FROM profiles\.sagas WHERE correlation_id = \$1 AND version = \$2`).
		WithArgs("corr-1", int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.Update(ctx, next, 1); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := tx.Update(ctx, next, 1); !errors.Is(err, repository.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict for stale version, got %v", err)
	}
	if err := tx.Delete(ctx, "corr-1", 7); !errors.Is(err, repository.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict for stale delete, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestSagaRepository_PessimisticLoadLocksRow(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, port.ConcurrencyPessimistic)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT snapshot FROM profiles\.sagas WHERE correlation_id = \$1 FOR UPDATE`).
		WithArgs("corr-1").
		WillReturnRows(sagaRows(t, testSaga()))
	mock.ExpectQuery(`SELECT snapshot FROM profiles\.sagas WHERE correlation_id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	saga, err := tx.Load(ctx, "corr-1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if saga.CurrentState != domain.SagaSubmitted || string(saga.Data) != `{"name":"Ada"}` {
		t.Fatalf("unexpected saga %+v", saga)
	}
	if _, err := tx.Load(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if repo.Mode() != port.ConcurrencyPessimistic {
		t.Fatalf("unexpected mode %s", repo.Mode())
	}

	expectationsMet(t, mock)
}

func TestSagaRepository_LoadPages(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, "")

	second := testSaga()
	second.CorrelationID = "corr-2"

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM profiles\.sagas`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT snapshot FROM profiles\.sagas ORDER BY updated_at DESC, correlation_id DESC LIMIT 2 OFFSET 1`).
		WillReturnRows(sagaRows(t, testSaga(), second))

	total, items, err := repo.Load(context.Background(), port.SagaQuery{Limit: 2, Offset: 1, OrderBy: "updated_at", Desc: true})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if total != 3 || len(items) != 2 || items[1].CorrelationID != "corr-2" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}

	if _, _, err := repo.Load(context.Background(), port.SagaQuery{OrderBy: "command; DROP TABLE"}); err == nil {
		t.Fatalf("expected error for unsupported order column")
	}

	expectationsMet(t, mock)
}

func TestSagaRepository_PendingEffects(t *testing.T) {
	mock := newMock(t)
	repo := NewSagaRepository(mock, port.ConcurrencyOptimistic)
	cutoff := sagaCreatedAt.Add(time.Minute)

	effect := domain.Effect{ID: "corr-1:execute:0", Kind: domain.EffectPublishEvent, CorrelationID: "corr-1", CreatedAt: sagaCreatedAt}
	raw, err := json.Marshal(effect)
	if err != nil {
		t.Fatalf("marshal effect: %v", err)
	}

	mock.ExpectQuery(`SELECT effect FROM profiles\.saga_outbox WHERE created_at < \$1 ORDER BY created_at ASC, id ASC LIMIT 100`).
		WithArgs(cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"effect"}).AddRow(raw))
	mock.ExpectExec(`DELETE FROM profiles\.saga_outbox WHERE id = \$1`).
		WithArgs("corr-1:execute:0").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	effects, err := repo.PendingEffects(context.Background(), cutoff, 100)
	if err != nil {
		t.Fatalf("PendingEffects returned error: %v", err)
	}
	if len(effects) != 1 || effects[0].ID != effect.ID || effects[0].Kind != domain.EffectPublishEvent {
		t.Fatalf("unexpected effects %+v", effects)
	}
	if err := repo.DeleteEffect(context.Background(), effect.ID); err != nil {
		t.Fatalf("DeleteEffect returned error: %v", err)
	}

	expectationsMet(t, mock)
}
