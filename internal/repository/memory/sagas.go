package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

// SagaStore keeps saga snapshots and their outbox in process memory.
type SagaStore struct {
	mode port.ConcurrencyMode

	mu      sync.Mutex
	sagas   map[string]domain.SagaInstance
	effects map[string]domain.Effect
	locks   map[string]*sagaLock
}

// sagaLock serializes pessimistic transactions on one saga. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type sagaLock struct {
	ch   chan struct{}
	refs int
}

// NewSagaStore constructs an empty store.
func NewSagaStore(mode port.ConcurrencyMode) *SagaStore {
	if mode == "" {
		mode = port.ConcurrencyOptimistic
	}
	return &SagaStore{
		mode:    mode,
		sagas:   make(map[string]domain.SagaInstance),
		effects: make(map[string]domain.Effect),
		locks:   make(map[string]*sagaLock),
	}
}

// Mode implements port.SagaRepository.
func (s *SagaStore) Mode() port.ConcurrencyMode {
	return s.mode
}

// Begin implements port.SagaRepository.
func (s *SagaStore) Begin(_ context.Context) (port.SagaTx, error) {
	return &sagaTx{store: s}, nil
}

// Load implements port.SagaRepository.
func (s *SagaStore) Load(_ context.Context, query port.SagaQuery) (int, []domain.SagaInstance, error) {
	s.mu.Lock()
	items := make([]domain.SagaInstance, 0, len(s.sagas))
	for _, saga := range s.sagas {
		items = append(items, saga)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if query.Desc {
			return lessSaga(items[j], items[i], query.OrderBy)
		}
		return lessSaga(items[i], items[j], query.OrderBy)
	})

	total := len(items)
	if query.Offset >= total {
		return total, []domain.SagaInstance{}, nil
	}
	items = items[query.Offset:]
	if query.Limit > 0 && query.Limit < len(items) {
		items = items[:query.Limit]
	}
	return total, items, nil
}

func lessSaga(a, b domain.SagaInstance, orderBy string) bool {
	switch orderBy {
	case "updated_at":
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	case "state":
		if a.CurrentState != b.CurrentState {
			return a.CurrentState < b.CurrentState
		}
	default:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	return a.CorrelationID < b.CorrelationID
}

// Get implements port.SagaRepository.
func (s *SagaStore) Get(_ context.Context, correlationID string) (*domain.SagaInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saga, ok := s.sagas[correlationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &saga, nil
}

// PendingEffects implements port.SagaRepository.
func (s *SagaStore) PendingEffects(_ context.Context, olderThan time.Time, limit int) ([]domain.Effect, error) {
	s.mu.Lock()
	out := make([]domain.Effect, 0, len(s.effects))
	for _, effect := range s.effects {
		if effect.CreatedAt.Before(olderThan) {
			out = append(out, effect)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteEffect implements port.SagaRepository.
func (s *SagaStore) DeleteEffect(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.effects, id)
	return nil
}

// Effects returns the undispatched outbox content.
func (s *SagaStore) Effects() []domain.Effect {
	out, _ := s.PendingEffects(context.Background(), time.Now().Add(time.Hour), 0)
	return out
}

func (s *SagaStore) lock(ctx context.Context, id string) error {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sagaLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.dropLocked(id, l)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *SagaStore) unlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return
	}
	<-l.ch
	s.dropLocked(id, l)
}

func (s *SagaStore) dropLocked(id string, l *sagaLock) {
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

type sagaOp struct {
	instance        domain.SagaInstance
	expectedVersion int64
	insert          bool
	remove          bool
}

type sagaTx struct {
	store   *SagaStore
	ops     []sagaOp
	effects []domain.Effect
	locked  []string
	closed  bool
}

func (t *sagaTx) Load(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	if t.store.mode == port.ConcurrencyPessimistic && !t.holds(correlationID) {
		if err := t.store.lock(ctx, correlationID); err != nil {
			return nil, err
		}
		t.locked = append(t.locked, correlationID)
	}
	return t.store.Get(ctx, correlationID)
}

func (t *sagaTx) holds(id string) bool {
	for _, held := range t.locked {
		if held == id {
			return true
		}
	}
	return false
}

func (t *sagaTx) Insert(_ context.Context, instance domain.SagaInstance) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.ops = append(t.ops, sagaOp{instance: instance, insert: true})
	return nil
}

func (t *sagaTx) Update(_ context.Context, instance domain.SagaInstance, expectedVersion int64) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.ops = append(t.ops, sagaOp{instance: instance, expectedVersion: expectedVersion})
	return nil
}

func (t *sagaTx) Delete(_ context.Context, correlationID string, expectedVersion int64) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.ops = append(t.ops, sagaOp{instance: domain.SagaInstance{CorrelationID: correlationID}, expectedVersion: expectedVersion, remove: true})
	return nil
}

func (t *sagaTx) Enqueue(_ context.Context, effects []domain.Effect) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.effects = append(t.effects, effects...)
	return nil
}

func (t *sagaTx) Commit(_ context.Context) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range t.ops {
		current, exists := s.sagas[op.instance.CorrelationID]
		switch {
		case op.insert && exists:
			return repository.ErrConcurrencyConflict
		case !op.insert && !exists:
			return repository.ErrConcurrencyConflict
		case !op.insert && current.Version != op.expectedVersion:
			return repository.ErrConcurrencyConflict
		}
	}
	for _, op := range t.ops {
		if op.remove {
			delete(s.sagas, op.instance.CorrelationID)
			continue
		}
		s.sagas[op.instance.CorrelationID] = op.instance
	}
	for _, effect := range t.effects {
		s.effects[effect.ID] = effect
	}
	return nil
}

func (t *sagaTx) Rollback(_ context.Context) error {
	if t.closed {
		return nil
	}
	t.release()
	return nil
}

func (t *sagaTx) release() {
	t.closed = true
	for _, id := range t.locked {
		t.store.unlock(id)
	}
	t.locked = nil
}

var _ port.SagaRepository = (*SagaStore)(nil)
