package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// MemoryLocker is a process-local Locker with the same TTL-and-token
// semantics as the KV implementation. It backs unit tests and single-node
// deployments.
type MemoryLocker struct {
	clock clockwork.Clock

	mu    sync.Mutex
	locks map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker(clock clockwork.Clock) *MemoryLocker {
	return &MemoryLocker{clock: clock, locks: make(map[string]memoryLock)}
}

func (m *MemoryLocker) TryAcquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if held, ok := m.locks[key]; ok && now.Before(held.expires) {
		return false, nil
	}
	m.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[key]; ok && held.token == token {
		delete(m.locks, key)
	}
	return nil
}

// MemorySnapshotStore keeps snapshots in a map. Test double for the KV
// snapshot bucket.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]models.PeriodSnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]models.PeriodSnapshot)}
}

func (m *MemorySnapshotStore) WriteSnapshot(_ context.Context, snap models.PeriodSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Room().Key()] = snap
	return nil
}

func (m *MemorySnapshotStore) ReadSnapshot(_ context.Context, room models.Room) (*models.PeriodSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[room.Key()]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// MemorySequenceStore is the bookkeeping counterpart for tests.
type MemorySequenceStore struct {
	mu   sync.Mutex
	seqs map[string]int64 // "<roomKey>.<date>" -> seq
}

func NewMemorySequenceStore() *MemorySequenceStore {
	return &MemorySequenceStore{seqs: make(map[string]int64)}
}

func (m *MemorySequenceStore) RecordSequence(_ context.Context, room models.Room, date string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[storeKey(room.Key(), date)] = seq
	return nil
}

func (m *MemorySequenceStore) PurgeBefore(_ context.Context, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for key := range m.seqs {
		if len(key) > 8 && key[len(key)-8:] < date {
			delete(m.seqs, key)
			purged++
		}
	}
	return purged, nil
}
