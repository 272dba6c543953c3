package memory

import (
	"context"
	"sort"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

type profileState struct {
	profiles    map[domain.ObjectIdent]domain.Profile
	edges       []domain.TreeEdgeRelation
	functions   map[string]domain.Function
	settings    map[domain.ObjectIdent][]domain.ClientSetting
	assignments map[string]domain.TemporaryAssignment
}

func newProfileState() *profileState {
	return &profileState{
		profiles:    make(map[domain.ObjectIdent]domain.Profile),
		functions:   make(map[string]domain.Function),
		settings:    make(map[domain.ObjectIdent][]domain.ClientSetting),
		assignments: make(map[string]domain.TemporaryAssignment),
	}
}

func (s *profileState) clone() *profileState {
	out := newProfileState()
	for k, v := range s.profiles {
		out.profiles[k] = v
	}
	out.edges = append(out.edges, s.edges...)
	for k, v := range s.functions {
		out.functions[k] = v
	}
	for k, v := range s.settings {
		out.settings[k] = append([]domain.ClientSetting(nil), v...)
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	return out
}

// ProfileStore is an in-memory profile graph. Transactions are serialized and work on a
// private copy that replaces the shared state on commit.
type ProfileStore struct {
	sem   chan struct{}
	state *profileState
}

// NewProfileStore constructs an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{sem: make(chan struct{}, 1), state: newProfileState()}
}

// Begin implements port.ProfileStore.
func (s *ProfileStore) Begin(ctx context.Context) (port.ProfileTx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &profileTx{
		state:   s.state.clone(),
		publish: func(state *profileState) { s.state = state },
		release: func() { <-s.sem },
	}, nil
}

// Seed applies fn to the store in its own transaction.
func (s *ProfileStore) Seed(ctx context.Context, fn func(tx port.ProfileTx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Assignment returns a stored temporary assignment.
func (s *ProfileStore) Assignment(id string) (domain.TemporaryAssignment, bool) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	a, ok := s.state.assignments[id]
	return a, ok
}

// Function returns a stored function.
func (s *ProfileStore) Function(id string) (domain.Function, bool) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	f, ok := s.state.functions[id]
	return f, ok
}

// Profile returns a stored profile.
func (s *ProfileStore) Profile(ident domain.ObjectIdent) (domain.Profile, bool) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	p, ok := s.state.profiles[ident]
	return p, ok
}

// profileTx works on a private copy; publish hands it to the store or to the enclosing
// transaction on commit.
type profileTx struct {
	state   *profileState
	publish func(*profileState)
	release func()
	closed  bool
}

func (t *profileTx) Savepoint(_ context.Context) (port.ProfileTx, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	return &profileTx{
		state:   t.state.clone(),
		publish: func(state *profileState) { t.state = state },
		release: func() {},
	}, nil
}

func (t *profileTx) ParentsOf(_ context.Context, child domain.ObjectIdent) ([]domain.TreeEdgeRelation, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	var out []domain.TreeEdgeRelation
	for _, edge := range t.state.edges {
		if edge.Child == child {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (t *profileTx) ChildrenOf(_ context.Context, parent domain.ObjectIdent) ([]domain.TreeEdgeRelation, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	var out []domain.TreeEdgeRelation
	for _, edge := range t.state.edges {
		if edge.Parent == parent {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (t *profileTx) GetProfile(_ context.Context, ident domain.ObjectIdent) (*domain.Profile, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	profile, ok := t.state.profiles[ident]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &profile, nil
}

func (t *profileTx) SaveProfile(_ context.Context, profile domain.Profile) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.state.profiles[profile.Ident()] = profile
	return nil
}

func (t *profileTx) AddEdge(_ context.Context, edge domain.TreeEdgeRelation) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	for i, existing := range t.state.edges {
		if existing.Parent == edge.Parent && existing.Child == edge.Child {
			t.state.edges[i] = edge
			return nil
		}
	}
	t.state.edges = append(t.state.edges, edge)
	return nil
}

func (t *profileTx) RemoveEdge(_ context.Context, parent, child domain.ObjectIdent) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	kept := t.state.edges[:0]
	removed := false
	for _, edge := range t.state.edges {
		if edge.Parent == parent && edge.Child == child {
			removed = true
			continue
		}
		kept = append(kept, edge)
	}
	t.state.edges = kept
	if !removed {
		return repository.ErrNotFound
	}
	return nil
}

func (t *profileTx) GetFunction(_ context.Context, id string) (*domain.Function, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	function, ok := t.state.functions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &function, nil
}

func (t *profileTx) SaveFunction(_ context.Context, function domain.Function) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.state.functions[function.ID] = function
	return nil
}

func (t *profileTx) ClientSettingsOf(_ context.Context, profile domain.ObjectIdent) ([]domain.ClientSetting, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	return append([]domain.ClientSetting(nil), t.state.settings[profile]...), nil
}

func (t *profileTx) SaveClientSettings(_ context.Context, profile domain.ObjectIdent, settings []domain.ClientSetting) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.state.settings[profile] = append([]domain.ClientSetting(nil), settings...)
	return nil
}

func (t *profileTx) ListTemporaryAssignments(_ context.Context) ([]domain.TemporaryAssignment, error) {
	if t.closed {
		return nil, repository.ErrTxClosed
	}
	out := make([]domain.TemporaryAssignment, 0, len(t.state.assignments))
	for _, a := range t.state.assignments {
		if a.State == domain.AssignmentInactive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *profileTx) SaveTemporaryAssignment(_ context.Context, assignment domain.TemporaryAssignment) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.state.assignments[assignment.ID] = assignment
	return nil
}

func (t *profileTx) Commit(_ context.Context) error {
	if t.closed {
		return repository.ErrTxClosed
	}
	t.publish(t.state)
	t.close()
	return nil
}

func (t *profileTx) Rollback(_ context.Context) error {
	if t.closed {
		return nil
	}
	t.close()
	return nil
}

func (t *profileTx) close() {
	t.closed = true
	t.release()
}

var _ port.ProfileStore = (*ProfileStore)(nil)
