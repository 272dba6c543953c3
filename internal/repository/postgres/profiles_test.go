package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

func expectProfileBegin(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(profileLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestProfileStore_ReadsEdges(t *testing.T) {
	mock := newMock(t)
	store := NewProfileStore(mock)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	conditions, err := json.Marshal([]domain.RangeCondition{{Start: &start}})
	if err != nil {
		t.Fatalf("marshal conditions: %v", err)
	}

	expectProfileBegin(mock)
	mock.ExpectQuery(`SELECT parent_id, parent_type, child_id, child_type, conditions FROM profiles\.edges WHERE parent_id = \$1 AND parent_type = \$2`).
		WithArgs("group-1", "Group").
		WillReturnRows(pgxmock.NewRows([]string{"parent_id", "parent_type", "child_id", "child_type", "conditions"}).
			AddRow("group-1", "Group", "user-1", "User", conditions).
			AddRow("group-1", "Group", "group-2", "Group", []byte(`[]`)))
	mock.ExpectQuery(`FROM profiles\.edges WHERE child_id = \$1 AND child_type = \$2`).
		WithArgs("user-1", "User").
		WillReturnRows(pgxmock.NewRows([]string{"parent_id", "parent_type", "child_id", "child_type", "conditions"}))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	children, err := tx.ChildrenOf(ctx, domain.ObjectIdent{ID: "group-1", Type: domain.ObjectGroup})
	if err != nil {
		t.Fatalf("ChildrenOf returned error: %v", err)
	}
	if len(children) != 2 || children[0].Child.Type != domain.ObjectUser || len(children[0].Conditions) != 1 {
		t.Fatalf("unexpected children %+v", children)
	}
	if !children[0].Conditions[0].Start.Equal(start) || len(children[1].Conditions) != 0 {
		t.Fatalf("conditions did not round-trip: %+v", children)
	}

	parents, err := tx.ParentsOf(ctx, domain.ObjectIdent{ID: "user-1", Type: domain.ObjectUser})
	if err != nil || len(parents) != 0 {
		t.Fatalf("unexpected parents %+v (%v)", parents, err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if _, err := tx.ChildrenOf(ctx, domain.ObjectIdent{ID: "group-1", Type: domain.ObjectGroup}); !errors.Is(err, repository.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed after rollback, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestProfileStore_WritesGraph(t *testing.T) {
	mock := newMock(t)
	store := NewProfileStore(mock)
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	group := domain.ObjectIdent{ID: "group-1", Type: domain.ObjectGroup}
	user := domain.ObjectIdent{ID: "user-1", Type: domain.ObjectUser}

	expectProfileBegin(mock)
	mock.ExpectExec(`INSERT INTO profiles\.profiles \(id,object_type,document,updated_at\) VALUES \(\$1,\$2,\$3,\$4\) ON CONFLICT \(object_type, id\) DO UPDATE SET document = EXCLUDED\.document, updated_at = EXCLUDED\.updated_at`).
		WithArgs("user-1", "User", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO profiles\.edges .* ON CONFLICT \(parent_type, parent_id, child_type, child_id\) DO UPDATE SET conditions = EXCLUDED\.conditions`).
		WithArgs("group-1", "Group", "user-1", "User", []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM profiles\.edges WHERE child_id = \$1 AND child_type = \$2 AND parent_id = \$3 AND parent_type = \$4`).
		WithArgs("user-1", "User", "group-1", "Group").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO profiles\.client_settings .* ON CONFLICT \(profile_type, profile_id\) DO UPDATE SET settings = EXCLUDED\.settings`).
		WithArgs("group-1", "Group", []byte(`[{"key":"theme","value":"dark"}]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if err := tx.SaveProfile(ctx, domain.Profile{ID: "user-1", Type: domain.ObjectUser, Name: "Ada"}); err != nil {
		t.Fatalf("SaveProfile returned error: %v", err)
	}
	if err := tx.AddEdge(ctx, domain.TreeEdgeRelation{Parent: group, Child: user}); err != nil {
		t.Fatalf("AddEdge returned error: %v", err)
	}
	if err := tx.RemoveEdge(ctx, group, user); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing edge, got %v", err)
	}
	if err := tx.SaveClientSettings(ctx, group, []domain.ClientSetting{{Key: "theme", Value: "dark"}}); err != nil {
		t.Fatalf("SaveClientSettings returned error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestProfileStore_DocumentsAndAssignments(t *testing.T) {
	mock := newMock(t)
	store := NewProfileStore(mock)

	function := domain.Function{ID: "func-1", Name: "Ops Lead", Role: domain.FunctionPart{ID: "role-1"}}
	rawFunction, _ := json.Marshal(function)
	assignment := domain.TemporaryAssignment{ID: "assign-1", ProfileID: "user-1", ProfileType: domain.ObjectUser, TargetID: "group-1", TargetType: domain.ObjectGroup, State: domain.AssignmentActive}
	rawAssignment, _ := json.Marshal(assignment)

	expectProfileBegin(mock)
	mock.ExpectQuery(`SELECT document FROM profiles\.profiles WHERE id = \$1 AND object_type = \$2`).
		WithArgs("user-9", "User").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT document FROM profiles\.functions WHERE id = \$1`).
		WithArgs("func-1").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(rawFunction))
	mock.ExpectQuery(`SELECT settings FROM profiles\.client_settings`).
		WithArgs("group-1", "Group").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT document FROM profiles\.temporary_assignments WHERE state <> \$1 ORDER BY id`).
		WithArgs("Inactive").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(rawAssignment))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := tx.GetProfile(ctx, domain.ObjectIdent{ID: "user-9", Type: domain.ObjectUser}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := tx.GetFunction(ctx, "func-1")
	if err != nil || got.Name != "Ops Lead" || got.Role.ID != "role-1" {
		t.Fatalf("unexpected function %+v (%v)", got, err)
	}
	settings, err := tx.ClientSettingsOf(ctx, domain.ObjectIdent{ID: "group-1", Type: domain.ObjectGroup})
	if err != nil || len(settings) != 0 {
		t.Fatalf("missing settings are empty, got %+v (%v)", settings, err)
	}
	assignments, err := tx.ListTemporaryAssignments(ctx)
	if err != nil || len(assignments) != 1 || assignments[0].State != domain.AssignmentActive {
		t.Fatalf("unexpected assignments %+v (%v)", assignments, err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestProfileStore_BeginFailsWhenLockFails(t *testing.T) {
	mock := newMock(t)
	store := NewProfileStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	if _, err := store.Begin(context.Background()); err == nil {
		t.Fatalf("expected Begin to fail")
	}

	expectationsMet(t, mock)
}
