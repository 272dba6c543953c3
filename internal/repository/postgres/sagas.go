package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

const (
	sagasTable  = "profiles.sagas"
	outboxTable = "profiles.saga_outbox"
)

var sagaOrderColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"state":      "state",
}

// SagaRepository implements port.SagaRepository. Snapshots are stored as JSONB next to
// the columns used for ordering and version checks; effects live in an outbox table.
type SagaRepository struct {
	db      DB
	mode    port.ConcurrencyMode
	builder squirrel.StatementBuilderType
}

// NewSagaRepository constructs a saga repository.
func NewSagaRepository(db DB, mode port.ConcurrencyMode) *SagaRepository {
	if mode == "" {
		mode = port.ConcurrencyOptimistic
	}
	return &SagaRepository{db: db, mode: mode, builder: newBuilder()}
}

// Mode implements port.SagaRepository.
func (r *SagaRepository) Mode() port.ConcurrencyMode {
	return r.mode
}

// Begin implements port.SagaRepository.
func (r *SagaRepository) Begin(ctx context.Context) (port.SagaTx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin saga tx: %w", err)
	}
	return &sagaTx{pgTx: pgTx{tx: tx}, repo: r}, nil
}

// Load implements port.SagaRepository.
func (r *SagaRepository) Load(ctx context.Context, query port.SagaQuery) (int, []domain.SagaInstance, error) {
	column, ok := sagaOrderColumns[query.OrderBy]
	if !ok {
		return 0, nil, fmt.Errorf("unsupported saga order %q", query.OrderBy)
	}

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").From(sagasTable).ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build count sagas sql: %w", err)
	}
	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count sagas: %w", err)
	}

	direction := "ASC"
	if query.Desc {
		direction = "DESC"
	}
	stmt := r.builder.Select("snapshot").
		From(sagasTable).
		OrderBy(fmt.Sprintf("%s %s", column, direction), "correlation_id "+direction).
		Offset(uint64(max(query.Offset, 0)))
	if query.Limit > 0 {
		stmt = stmt.Limit(uint64(query.Limit))
	}
	sql, args, err := stmt.ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build list sagas sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SagaInstance, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return 0, nil, fmt.Errorf("scan saga: %w", err)
		}
		instance, err := decodeSaga(raw)
		if err != nil {
			return 0, nil, err
		}
		items = append(items, *instance)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate sagas: %w", err)
	}
	return total, items, nil
}

// Get implements port.SagaRepository.
func (r *SagaRepository) Get(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	return loadSaga(ctx, r.db, r.builder, correlationID, false)
}

// PendingEffects implements port.SagaRepository.
func (r *SagaRepository) PendingEffects(ctx context.Context, olderThan time.Time, limit int) ([]domain.Effect, error) {
	stmt := r.builder.Select("effect").
		From(outboxTable).
		Where(squirrel.Lt{"created_at": olderThan}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		stmt = stmt.Limit(uint64(limit))
	}
	sql, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending effects sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending effects: %w", err)
	}
	defer rows.Close()

	effects := make([]domain.Effect, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan effect: %w", err)
		}
		var effect domain.Effect
		if err := json.Unmarshal(raw, &effect); err != nil {
			return nil, fmt.Errorf("decode effect: %w", err)
		}
		effects = append(effects, effect)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effects: %w", err)
	}
	return effects, nil
}

// DeleteEffect implements port.SagaRepository.
func (r *SagaRepository) DeleteEffect(ctx context.Context, id string) error {
	sql, args, err := r.builder.Delete(outboxTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete effect sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete effect: %w", err)
	}
	return nil
}

func loadSaga(ctx context.Context, exec pgExecutor, builder squirrel.StatementBuilderType, correlationID string, forUpdate bool) (*domain.SagaInstance, error) {
	stmt := builder.Select("snapshot").From(sagasTable).Where(squirrel.Eq{"correlation_id": correlationID})
	if forUpdate {
		stmt = stmt.Suffix("FOR UPDATE")
	}
	sql, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select saga sql: %w", err)
	}

	var raw []byte
	if err := exec.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select saga: %w", err)
	}
	return decodeSaga(raw)
}

func decodeSaga(raw []byte) (*domain.SagaInstance, error) {
	var instance domain.SagaInstance
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("decode saga snapshot: %w", err)
	}
	return &instance, nil
}

type sagaTx struct {
	pgTx
	repo *SagaRepository
}

func (t *sagaTx) Load(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	exec, err := t.exec()
	if err != nil {
		return nil, err
	}
	return loadSaga(ctx, exec, t.repo.builder, correlationID, t.repo.mode == port.ConcurrencyPessimistic)
}

func (t *sagaTx) Insert(ctx context.Context, instance domain.SagaInstance) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode saga snapshot: %w", err)
	}

	sql, args, err := t.repo.builder.Insert(sagasTable).
		Columns("correlation_id", "state", "command", "snapshot", "version", "created_at", "updated_at").
		Values(instance.CorrelationID, int(instance.CurrentState), string(instance.Command), snapshot, instance.Version, instance.CreatedAt, instance.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert saga sql: %w", err)
	}
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConcurrencyConflict
		}
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

func (t *sagaTx) Update(ctx context.Context, instance domain.SagaInstance, expectedVersion int64) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode saga snapshot: %w", err)
	}

	sql, args, err := t.repo.builder.Update(sagasTable).
		Set("state", int(instance.CurrentState)).
		Set("snapshot", snapshot).
		Set("version", instance.Version).
		Set("updated_at", instance.UpdatedAt).
		Where(squirrel.Eq{"correlation_id": instance.CorrelationID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update saga sql: %w", err)
	}
	tag, err := exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConcurrencyConflict
	}
	return nil
}

func (t *sagaTx) Delete(ctx context.Context, correlationID string, expectedVersion int64) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	sql, args, err := t.repo.builder.Delete(sagasTable).
		Where(squirrel.Eq{"correlation_id": correlationID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete saga sql: %w", err)
	}
	tag, err := exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete saga: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConcurrencyConflict
	}
	return nil
}

func (t *sagaTx) Enqueue(ctx context.Context, effects []domain.Effect) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	if len(effects) == 0 {
		return nil
	}

	stmt := t.repo.builder.Insert(outboxTable).Columns("id", "correlation_id", "kind", "effect", "created_at")
	for _, effect := range effects {
		raw, err := json.Marshal(effect)
		if err != nil {
			return fmt.Errorf("encode effect %s: %w", effect.ID, err)
		}
		stmt = stmt.Values(effect.ID, effect.CorrelationID, string(effect.Kind), raw, effect.CreatedAt)
	}
	sql, args, err := stmt.ToSql()
	if err != nil {
		return fmt.Errorf("build insert effects sql: %w", err)
	}
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConcurrencyConflict
		}
		return fmt.Errorf("insert effects: %w", err)
	}
	return nil
}

func (t *sagaTx) Commit(ctx context.Context) error {
	if err := t.commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

func (t *sagaTx) Rollback(ctx context.Context) error {
	return t.rollback(ctx)
}

var _ port.SagaRepository = (*SagaRepository)(nil)
