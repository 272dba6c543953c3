package port

import (
	"context"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// RelationReader reads the edges of the profile graph.
type RelationReader interface {
	ParentsOf(ctx context.Context, child domain.ObjectIdent) ([]domain.TreeEdgeRelation, error)
	ChildrenOf(ctx context.Context, parent domain.ObjectIdent) ([]domain.TreeEdgeRelation, error)
}

// ProfileRepository stores first-level profiles and their memberships.
type ProfileRepository interface {
	GetProfile(ctx context.Context, ident domain.ObjectIdent) (*domain.Profile, error)
	SaveProfile(ctx context.Context, profile domain.Profile) error
	AddEdge(ctx context.Context, edge domain.TreeEdgeRelation) error
	RemoveEdge(ctx context.Context, parent, child domain.ObjectIdent) error
}

// FunctionRepository stores function aggregates.
type FunctionRepository interface {
	GetFunction(ctx context.Context, id string) (*domain.Function, error)
	SaveFunction(ctx context.Context, function domain.Function) error
}

// ClientSettingsRepository stores client settings defined directly on a profile.
type ClientSettingsRepository interface {
	ClientSettingsOf(ctx context.Context, profile domain.ObjectIdent) ([]domain.ClientSetting, error)
	SaveClientSettings(ctx context.Context, profile domain.ObjectIdent, settings []domain.ClientSetting) error
}

// TemporaryAssignmentRepository stores time-bounded assignments.
type TemporaryAssignmentRepository interface {
	ListTemporaryAssignments(ctx context.Context) ([]domain.TemporaryAssignment, error)
	SaveTemporaryAssignment(ctx context.Context, assignment domain.TemporaryAssignment) error
}

// ProfileTx is a read-consistent handle over the profile store.
type ProfileTx interface {
	RelationReader
	ProfileRepository
	FunctionRepository
	ClientSettingsRepository
	TemporaryAssignmentRepository
	// Savepoint opens a nested transaction. Its Rollback undoes only its own writes and
	// leaves the enclosing transaction usable; its Commit folds them into the parent.
	Savepoint(ctx context.Context) (ProfileTx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ProfileStore opens transactions over the profile store.
type ProfileStore interface {
	Begin(ctx context.Context) (ProfileTx, error)
}
