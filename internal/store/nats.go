package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// Bucket names in the shared JetStream deployment.
const (
	snapshotBucket = "wheelhouse_snapshots"
	lockBucket     = "wheelhouse_locks"
	sequenceBucket = "wheelhouse_sequences"

	snapshotKeySuffix = "current"
	sequenceKeyPrefix = "seq"
)

// Config sizes the KV buckets.
type Config struct {
	// SnapshotTTL bounds how long a crashed writer's snapshot can linger.
	// Should be the longest room duration plus a small margin.
	SnapshotTTL time.Duration
	// LockTTL bounds how long a crashed holder can keep a settlement lock.
	// Must exceed worst-case settlement latency with margin.
	LockTTL time.Duration
}

// KVStore implements SnapshotStore, Locker and SequenceStore on JetStream
// key-value buckets. Lock acquisition maps to the KV Create operation, which
// is atomic create-if-absent; release is a revision-bound delete, so a lock
// that expired and was re-acquired by another holder is never released by
// the old one.
type KVStore struct {
	snapshots jetstream.KeyValue
	locks     jetstream.KeyValue
	sequences jetstream.KeyValue
	lockTTL   time.Duration
}

// NewKVStore creates or binds the three buckets.
func NewKVStore(ctx context.Context, js jetstream.JetStream, cfg Config) (*KVStore, error) {
	snaps, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      snapshotBucket,
		Description: "per-room current period snapshots",
		TTL:         cfg.SnapshotTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}
	locks, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      lockBucket,
		Description: "exclusive settlement locks",
		TTL:         cfg.LockTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create lock bucket: %w", err)
	}
	seqs, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      sequenceBucket,
		Description: "per-room daily sequence bookkeeping",
	})
	if err != nil {
		return nil, fmt.Errorf("create sequence bucket: %w", err)
	}
	return &KVStore{snapshots: snaps, locks: locks, sequences: seqs, lockTTL: cfg.LockTTL}, nil
}

func (s *KVStore) WriteSnapshot(ctx context.Context, snap models.PeriodSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := storeKey(snap.Room().Key(), snapshotKeySuffix)
	if _, err := s.snapshots.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) ReadSnapshot(ctx context.Context, room models.Room) (*models.PeriodSnapshot, error) {
	key := storeKey(room.Key(), snapshotKeySuffix)
	entry, err := s.snapshots.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	var snap models.PeriodSnapshot
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// TryAcquire attempts an atomic create of the lock key. The ttl argument is
// accepted for interface symmetry; JetStream applies the bucket TTL.
func (s *KVStore) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl > s.lockTTL {
		log.Warn().
			Str("key", key).
			Dur("requested_ttl", ttl).
			Dur("bucket_ttl", s.lockTTL).
			Msg("requested lock ttl exceeds bucket ttl")
	}
	_, err := s.locks.Create(ctx, storeKey(key), []byte(token))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return true, nil
}

// Release deletes the lock only when the stored token is still ours and the
// delete is bound to the revision we read. A lock that already expired, or
// that passed to a different owner after expiry, is logged and left alone.
func (s *KVStore) Release(ctx context.Context, key, token string) error {
	kvKey := storeKey(key)
	entry, err := s.locks.Get(ctx, kvKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		log.Debug().Str("key", key).Msg("lock already expired at release")
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect lock %s: %w", key, err)
	}
	if string(entry.Value()) != token {
		log.Warn().Str("key", key).Msg("lock passed to another owner before release")
		return nil
	}
	err = s.locks.Delete(ctx, kvKey, jetstream.LastRevision(entry.Revision()))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) RecordSequence(ctx context.Context, room models.Room, date string, seq int64) error {
	key := storeKey(sequenceKeyPrefix, room.Key(), date)
	if _, err := s.sequences.Put(ctx, key, []byte(fmt.Sprintf("%d", seq))); err != nil {
		return fmt.Errorf("record sequence %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) PurgeBefore(ctx context.Context, date string) (int, error) {
	keys, err := s.sequences.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list sequence keys: %w", err)
	}
	purged := 0
	for _, key := range keys {
		// seq.<game>.<secs>.<YYYYMMDD>
		idx := strings.LastIndex(key, ".")
		if idx < 0 || idx == len(key)-1 {
			continue
		}
		if keyDate := key[idx+1:]; keyDate < date {
			if err := s.sequences.Purge(ctx, key); err != nil {
				return purged, fmt.Errorf("purge sequence key %s: %w", key, err)
			}
			purged++
		}
	}
	return purged, nil
}
