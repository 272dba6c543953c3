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
	profilesTable       = "profiles.profiles"
	edgesTable          = "profiles.edges"
	functionsTable      = "profiles.functions"
	clientSettingsTable = "profiles.client_settings"
	assignmentsTable    = "profiles.temporary_assignments"
)

// profileLockKey serializes writers of the profile graph across instances.
const profileLockKey int64 = 0x70726f66

// ProfileStore implements port.ProfileStore on PostgreSQL. Every transaction takes the
// same advisory lock, so graph writers run one at a time.
type ProfileStore struct {
	db      DB
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewProfileStore constructs a profile store.
func NewProfileStore(db DB) *ProfileStore {
	return &ProfileStore{db: db, builder: newBuilder(), now: time.Now}
}

// Begin implements port.ProfileStore.
func (s *ProfileStore) Begin(ctx context.Context) (port.ProfileTx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin profile tx: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", profileLockKey); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("lock profile graph: %w", err)
	}
	return &profileTx{pgTx: pgTx{tx: tx}, store: s}, nil
}

type profileTx struct {
	pgTx
	store *ProfileStore
}

func (t *profileTx) edges(ctx context.Context, where squirrel.Eq) ([]domain.TreeEdgeRelation, error) {
	exec, err := t.exec()
	if err != nil {
		return nil, err
	}
	sql, args, err := t.store.builder.
		Select("parent_id", "parent_type", "child_id", "child_type", "conditions").
		From(edgesTable).
		Where(where).
		OrderBy("parent_type", "parent_id", "child_type", "child_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select edges sql: %w", err)
	}

	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select edges: %w", err)
	}
	defer rows.Close()

	var out []domain.TreeEdgeRelation
	for rows.Next() {
		var (
			edge       domain.TreeEdgeRelation
			parentType string
			childType  string
			conditions []byte
		)
		if err := rows.Scan(&edge.Parent.ID, &parentType, &edge.Child.ID, &childType, &conditions); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edge.Parent.Type = domain.ObjectType(parentType)
		edge.Child.Type = domain.ObjectType(childType)
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &edge.Conditions); err != nil {
				return nil, fmt.Errorf("decode edge conditions: %w", err)
			}
		}
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

func (t *profileTx) ParentsOf(ctx context.Context, child domain.ObjectIdent) ([]domain.TreeEdgeRelation, error) {
	return t.edges(ctx, squirrel.Eq{"child_id": child.ID, "child_type": string(child.Type)})
}

func (t *profileTx) ChildrenOf(ctx context.Context, parent domain.ObjectIdent) ([]domain.TreeEdgeRelation, error) {
	return t.edges(ctx, squirrel.Eq{"parent_id": parent.ID, "parent_type": string(parent.Type)})
}

// document loads a JSONB column into target.
func (t *profileTx) document(ctx context.Context, table string, where squirrel.Eq, target any) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	sql, args, err := t.store.builder.Select("document").From(table).Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build select %s sql: %w", table, err)
	}
	var raw []byte
	if err := exec.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s document: %w", table, err)
	}
	return nil
}

func (t *profileTx) upsert(ctx context.Context, table string, columns []string, values []any, conflict string, updates ...string) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflict)
	for i, column := range updates {
		if i > 0 {
			suffix += ", "
		}
		suffix += fmt.Sprintf("%s = EXCLUDED.%s", column, column)
	}
	sql, args, err := t.store.builder.Insert(table).Columns(columns...).Values(values...).Suffix(suffix).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert %s sql: %w", table, err)
	}
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (t *profileTx) GetProfile(ctx context.Context, ident domain.ObjectIdent) (*domain.Profile, error) {
	var profile domain.Profile
	if err := t.document(ctx, profilesTable, squirrel.Eq{"id": ident.ID, "object_type": string(ident.Type)}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (t *profileTx) SaveProfile(ctx context.Context, profile domain.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return t.upsert(ctx, profilesTable,
		[]string{"id", "object_type", "document", "updated_at"},
		[]any{profile.ID, string(profile.Type), raw, t.updatedAt(profile.UpdatedAt)},
		"object_type, id", "document", "updated_at")
}

func (t *profileTx) AddEdge(ctx context.Context, edge domain.TreeEdgeRelation) error {
	conditions := edge.Conditions
	if conditions == nil {
		conditions = []domain.RangeCondition{}
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("encode edge conditions: %w", err)
	}
	return t.upsert(ctx, edgesTable,
		[]string{"parent_id", "parent_type", "child_id", "child_type", "conditions"},
		[]any{edge.Parent.ID, string(edge.Parent.Type), edge.Child.ID, string(edge.Child.Type), raw},
		"parent_type, parent_id, child_type, child_id", "conditions")
}

func (t *profileTx) RemoveEdge(ctx context.Context, parent, child domain.ObjectIdent) error {
	exec, err := t.exec()
	if err != nil {
		return err
	}
	sql, args, err := t.store.builder.Delete(edgesTable).
		Where(squirrel.Eq{
			"parent_id":   parent.ID,
			"parent_type": string(parent.Type),
			"child_id":    child.ID,
			"child_type":  string(child.Type),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete edge sql: %w", err)
	}
	tag, err := exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *profileTx) GetFunction(ctx context.Context, id string) (*domain.Function, error) {
	var function domain.Function
	if err := t.document(ctx, functionsTable, squirrel.Eq{"id": id}, &function); err != nil {
		return nil, err
	}
	return &function, nil
}

func (t *profileTx) SaveFunction(ctx context.Context, function domain.Function) error {
	raw, err := json.Marshal(function)
	if err != nil {
		return fmt.Errorf("encode function: %w", err)
	}
	return t.upsert(ctx, functionsTable,
		[]string{"id", "document", "updated_at"},
		[]any{function.ID, raw, t.updatedAt(function.UpdatedAt)},
		"id", "document", "updated_at")
}

func (t *profileTx) ClientSettingsOf(ctx context.Context, profile domain.ObjectIdent) ([]domain.ClientSetting, error) {
	exec, err := t.exec()
	if err != nil {
		return nil, err
	}
	sql, args, err := t.store.builder.Select("settings").
		From(clientSettingsTable).
		Where(squirrel.Eq{"profile_id": profile.ID, "profile_type": string(profile.Type)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select client settings sql: %w", err)
	}
	var raw []byte
	if err := exec.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select client settings: %w", err)
	}
	var settings []domain.ClientSetting
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode client settings: %w", err)
	}
	return settings, nil
}

func (t *profileTx) SaveClientSettings(ctx context.Context, profile domain.ObjectIdent, settings []domain.ClientSetting) error {
	if settings == nil {
		settings = []domain.ClientSetting{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode client settings: %w", err)
	}
	return t.upsert(ctx, clientSettingsTable,
		[]string{"profile_id", "profile_type", "settings"},
		[]any{profile.ID, string(profile.Type), raw},
		"profile_type, profile_id", "settings")
}

func (t *profileTx) ListTemporaryAssignments(ctx context.Context) ([]domain.TemporaryAssignment, error) {
	exec, err := t.exec()
	if err != nil {
		return nil, err
	}
	sql, args, err := t.store.builder.Select("document").
		From(assignmentsTable).
		Where(squirrel.NotEq{"state": string(domain.AssignmentInactive)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list assignments sql: %w", err)
	}

	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TemporaryAssignment, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		var assignment domain.TemporaryAssignment
		if err := json.Unmarshal(raw, &assignment); err != nil {
			return nil, fmt.Errorf("decode assignment: %w", err)
		}
		out = append(out, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

func (t *profileTx) SaveTemporaryAssignment(ctx context.Context, assignment domain.TemporaryAssignment) error {
	raw, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	return t.upsert(ctx, assignmentsTable,
		[]string{"id", "state", "document", "updated_at"},
		[]any{assignment.ID, string(assignment.State), raw, t.updatedAt(assignment.UpdatedAt)},
		"id", "state", "document", "updated_at")
}

// Savepoint implements port.ProfileTx with a pgx nested transaction, i.e. SAVEPOINT.
// Commit releases it and Rollback rolls back to it.
func (t *profileTx) Savepoint(ctx context.Context) (port.ProfileTx, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create savepoint: %w", err)
	}
	return &profileTx{pgTx: pgTx{tx: nested}, store: t.store}, nil
}

func (t *profileTx) Commit(ctx context.Context) error {
	return t.commit(ctx)
}

func (t *profileTx) Rollback(ctx context.Context) error {
	return t.rollback(ctx)
}

func (t *profileTx) updatedAt(at time.Time) time.Time {
	if at.IsZero() {
		return t.store.now().UTC()
	}
	return at
}

var _ port.ProfileStore = (*ProfileStore)(nil)
