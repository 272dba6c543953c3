package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// ConcurrencyMode selects how the saga store prevents concurrent writers.
type ConcurrencyMode string

const (
	// ConcurrencyOptimistic detects conflicting writes through the snapshot version.
	ConcurrencyOptimistic ConcurrencyMode = "optimistic"
	// ConcurrencyPessimistic locks the saga row for the duration of one transition.
	ConcurrencyPessimistic ConcurrencyMode = "pessimistic"
)

// SagaQuery pages through stored saga instances.
type SagaQuery struct {
	Limit   int
	Offset  int
	OrderBy string
	Desc    bool
}

// SagaTx is one unit of work against the saga store.
type SagaTx interface {
	// Load returns repository.ErrNotFound when no instance exists.
	Load(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
	// Insert returns repository.ErrConcurrencyConflict when the id is taken.
	Insert(ctx context.Context, instance domain.SagaInstance) error
	// Update returns repository.ErrConcurrencyConflict when the stored version differs.
	Update(ctx context.Context, instance domain.SagaInstance, expectedVersion int64) error
	Delete(ctx context.Context, correlationID string, expectedVersion int64) error
	Enqueue(ctx context.Context, effects []domain.Effect) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SagaRepository persists saga instances and their outbox.
type SagaRepository interface {
	Begin(ctx context.Context) (SagaTx, error)
	Load(ctx context.Context, query SagaQuery) (int, []domain.SagaInstance, error)
	Get(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
	// PendingEffects returns undispatched effects created before olderThan, oldest first.
	PendingEffects(ctx context.Context, olderThan time.Time, limit int) ([]domain.Effect, error)
	DeleteEffect(ctx context.Context, id string) error
	Mode() ConcurrencyMode
}

// ClaimResult is the outcome of claiming a fingerprint.
type ClaimResult int

const (
	// ClaimAcquired means the caller holds the lease and must Complete or Release it.
	ClaimAcquired ClaimResult = iota
	// ClaimInFlight means another writer holds an unexpired lease.
	ClaimInFlight
	// ClaimCompleted means the action already ran.
	ClaimCompleted
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// FingerprintStore guarantees an action runs at most once per fingerprint. A claim is a
// lease: when its holder dies before Complete, the next claim after lease takes over.
type FingerprintStore interface {
	Claim(ctx context.Context, fingerprint string, lease time.Duration) (ClaimResult, error)
	// Complete marks the action done. Later claims return ClaimCompleted.
	Complete(ctx context.Context, fingerprint string) error
	// Release drops a pending lease so the action can be retried at once.
	Release(ctx context.Context, fingerprint string) error
}
