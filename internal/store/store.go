// Package store holds the shared low-latency state every scheduler replica
// reads and writes: the per-room period snapshot, the exclusive-processing
// lock, and the per-day sequence bookkeeping keys. Every mutation that must
// be exclusive is a single atomic store operation, never a separate
// read-then-write pair.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// SnapshotStore persists the canonical current-period snapshot per room.
// Entries expire on their own after a bounded TTL so a crashed writer never
// leaves stale data forever.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, snap models.PeriodSnapshot) error
	// ReadSnapshot returns (nil, nil) when no snapshot exists for the room.
	ReadSnapshot(ctx context.Context, room models.Room) (*models.PeriodSnapshot, error)
}

// Locker is the TTL-bounded, ownership-checked mutual-exclusion primitive.
// TryAcquire succeeds only if the key is absent; Release only removes a lock
// whose stored value still equals the caller's token.
type Locker interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// SequenceStore tracks the last observed in-day sequence per room per
// betting day. Purely bookkeeping for the daily reset job; the period clock
// never reads it.
type SequenceStore interface {
	RecordSequence(ctx context.Context, room models.Room, date string, seq int64) error
	// PurgeBefore removes bookkeeping keys for betting days strictly older
	// than date (YYYYMMDD) and returns how many were removed.
	PurgeBefore(ctx context.Context, date string) (int, error)
}

// storeKey converts a room key to the character set the KV layer accepts
// ("wingo:30" -> "wingo.30").
func storeKey(parts ...string) string {
	return strings.ReplaceAll(strings.Join(parts, "."), ":", ".")
}
