package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/social-platform-profiles/internal/core/port"
)

const (
	defaultFingerprintPrefix = "profiles:fingerprint"
	defaultLease             = time.Minute

	pendingMark = "pending"
	doneMark    = "done"
)

// releasePending deletes the key only while it still holds a pending lease.
var releasePending = red.NewScript(`
local value = redis.call("GET", KEYS[1])
if value and string.sub(value, 1, string.len(ARGV[1])) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// FingerprintStore leases effect fingerprints with SET NX PX so a domain event is written
// at most once across process instances. A lease expires on its own when its holder dies;
// Complete replaces it with a done mark kept for the retention ttl.
type FingerprintStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// FingerprintRecord is the stored state of one fingerprint.
type FingerprintRecord struct {
	Done bool
	At   time.Time
}

// NewFingerprintStore wires Redis storage for fingerprints. A non-positive ttl keeps done
// marks forever.
func NewFingerprintStore(client *red.Client, prefix string, ttl time.Duration) *FingerprintStore {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = defaultFingerprintPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &FingerprintStore{client: client, prefix: trimmed, ttl: ttl, now: time.Now}
}

func (s *FingerprintStore) key(fingerprint string) string {
	return fmt.Sprintf("%s:%s", s.prefix, fingerprint)
}

func (s *FingerprintStore) mark(state string) string {
	return state + "|" + s.now().UTC().Format(time.RFC3339Nano)
}

// Claim implements port.FingerprintStore.
func (s *FingerprintStore) Claim(ctx context.Context, fingerprint string, lease time.Duration) (port.ClaimResult, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return 0, fmt.Errorf("fingerprint required")
	}
	if lease <= 0 {
		lease = defaultLease
	}

	key := s.key(fingerprint)
	acquired, err := s.client.SetNX(ctx, key, s.mark(pendingMark), lease).Result()
	if err != nil {
		return 0, fmt.Errorf("redis setnx fingerprint: %w", err)
	}
	if acquired {
		return port.ClaimAcquired, nil
	}

	record, ok, err := s.Lookup(ctx, fingerprint)
	if err != nil {
		return 0, err
	}
	if ok && record.Done {
		return port.ClaimCompleted, nil
	}
	// Missing here means the lease expired between SETNX and GET; the next claim takes it.
	return port.ClaimInFlight, nil
}

// Complete implements port.FingerprintStore.
func (s *FingerprintStore) Complete(ctx context.Context, fingerprint string) error {
	if err := s.client.Set(ctx, s.key(fingerprint), s.mark(doneMark), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set fingerprint done: %w", err)
	}
	return nil
}

// Release implements port.FingerprintStore. Done marks are left in place.
func (s *FingerprintStore) Release(ctx context.Context, fingerprint string) error {
	if err := releasePending.Run(ctx, s.client, []string{s.key(fingerprint)}, pendingMark+"|").Err(); err != nil {
		return fmt.Errorf("redis release fingerprint: %w", err)
	}
	return nil
}

// Lookup returns the stored state of the fingerprint, or false when it is free.
func (s *FingerprintStore) Lookup(ctx context.Context, fingerprint string) (FingerprintRecord, bool, error) {
	value, err := s.client.Get(ctx, s.key(fingerprint)).Result()
	if errors.Is(err, red.Nil) {
		return FingerprintRecord{}, false, nil
	}
	if err != nil {
		return FingerprintRecord{}, false, fmt.Errorf("redis get fingerprint: %w", err)
	}
	state, stamp, found := strings.Cut(value, "|")
	if !found {
		return FingerprintRecord{}, false, fmt.Errorf("malformed fingerprint value %q", value)
	}
	at, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return FingerprintRecord{}, false, fmt.Errorf("parse fingerprint timestamp: %w", err)
	}
	return FingerprintRecord{Done: state == doneMark, At: at}, true, nil
}

var _ port.FingerprintStore = (*FingerprintStore)(nil)
