package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// StoredEvent is one appended event.
type StoredEvent struct {
	Stream  string
	BatchID string
	Event   domain.ProfileEvent
	Context domain.PublishContext
}

// EventLog is an append-only in-memory event store. Appending an event id to the same
// stream twice is a no-op.
type EventLog struct {
	mu     sync.Mutex
	events []StoredEvent
	seen   map[string]struct{}
}

// NewEventLog constructs an empty log.
func NewEventLog() *EventLog {
	return &EventLog{seen: make(map[string]struct{})}
}

func (l *EventLog) firstSeen(stream string, event domain.ProfileEvent) bool {
	id := event.Metadata().EventID
	if id == "" {
		return true
	}
	id = stream + "/" + id
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}

// Publish implements port.EventPublisher by appending to the event's own stream.
func (l *EventLog) Publish(_ context.Context, event domain.ProfileEvent, pctx domain.PublishContext) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.firstSeen(domain.PrimaryStream(event).Stream(), event) {
		return nil
	}
	l.events = append(l.events, StoredEvent{
		Stream:  domain.PrimaryStream(event).Stream(),
		Event:   event,
		Context: pctx,
	})
	return nil
}

// ExecuteBatch implements port.EventBatchExecutor. The batch is appended as a unit.
func (l *EventLog) ExecuteBatch(ctx context.Context, batchID string, events []domain.ResolvedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range events {
		if !l.firstSeen(ev.Stream(), ev.Event) {
			continue
		}
		l.events = append(l.events, StoredEvent{Stream: ev.Stream(), BatchID: batchID, Event: ev.Event})
	}
	return nil
}

// Events returns a copy of everything appended so far.
func (l *EventLog) Events() []StoredEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StoredEvent(nil), l.events...)
}

// Stream returns the events appended to one stream.
func (l *EventLog) Stream(name string) []domain.ProfileEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ProfileEvent
	for _, ev := range l.events {
		if ev.Stream == name {
			out = append(out, ev.Event)
		}
	}
	return out
}

type fingerprintEntry struct {
	done bool
	at   time.Time
}

// FingerprintStore keeps fingerprint leases in memory.
type FingerprintStore struct {
	mu      sync.Mutex
	entries map[string]fingerprintEntry
	now     func() time.Time
}

// NewFingerprintStore constructs an empty store.
func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{entries: make(map[string]fingerprintEntry), now: time.Now}
}

// WithNow overrides the clock used to age leases.
func (s *FingerprintStore) WithNow(now func() time.Time) *FingerprintStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Claim implements port.FingerprintStore. A pending entry older than lease is taken over.
func (s *FingerprintStore) Claim(_ context.Context, fingerprint string, lease time.Duration) (port.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if entry, ok := s.entries[fingerprint]; ok {
		if entry.done {
			return port.ClaimCompleted, nil
		}
		if now.Sub(entry.at) < lease {
			return port.ClaimInFlight, nil
		}
	}
	s.entries[fingerprint] = fingerprintEntry{at: now}
	return port.ClaimAcquired, nil
}

// Complete implements port.FingerprintStore.
func (s *FingerprintStore) Complete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = fingerprintEntry{done: true, at: s.now()}
	return nil
}

// Release implements port.FingerprintStore. Completed fingerprints stay.
func (s *FingerprintStore) Release(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[fingerprint]; ok && !entry.done {
		delete(s.entries, fingerprint)
	}
	return nil
}

var (
	_ port.EventPublisher     = (*EventLog)(nil)
	_ port.EventBatchExecutor = (*EventLog)(nil)
	_ port.FingerprintStore   = (*FingerprintStore)(nil)
)
