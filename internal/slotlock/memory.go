package slotlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/caremesh/scheduling/internal/redis"
)

// MemoryStore is a Store backed by process memory. The overlap check and
// insert happen under one mutex, matching the atomic check-then-insert
// the Postgres exclusion constraint provides. Used by tests and by
// single-node deployments without Postgres-backed locks.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[uuid.UUID]SlotLock // keyed by token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[uuid.UUID]SlotLock)}
}

func (s *MemoryStore) Insert(_ context.Context, lock SlotLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now()
	}

	end := lock.End()
	for _, l := range s.locks {
		if l.PractitionerID == lock.PractitionerID && !l.Expired(lock.CreatedAt) && l.Overlaps(lock.StartTime, end) {
			return ErrWindowTaken
		}
	}
	s.locks[lock.Token] = lock
	return nil
}

func (s *MemoryStore) FindOverlapping(_ context.Context, practitionerID uuid.UUID, start, end, now time.Time) (*SlotLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.locks {
		if l.PractitionerID == practitionerID && !l.Expired(now) && l.Overlaps(start, end) {
			found := l
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetByToken(_ context.Context, token uuid.UUID) (*SlotLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[token]
	if !ok {
		return nil, ErrLockNotFound
	}
	found := l
	return &found, nil
}

func (s *MemoryStore) DeleteByToken(_ context.Context, token, holderID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[token]
	if !ok || l.HolderID != holderID {
		return false, nil
	}
	delete(s.locks, token)
	return true, nil
}

func (s *MemoryStore) UpdateExpiry(_ context.Context, token uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[token]
	if !ok {
		return ErrLockNotFound
	}
	l.ExpiresAt = expiresAt
	s.locks[token] = l
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for token, l := range s.locks {
		if l.Expired(now) {
			delete(s.locks, token)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListUnexpired(_ context.Context, practitionerID uuid.UUID, from, to, now time.Time) ([]SlotLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []SlotLock
	for _, l := range s.locks {
		if l.PractitionerID == practitionerID && !l.Expired(now) && l.Overlaps(from, to) {
			result = append(result, l)
		}
	}
	return result, nil
}

// InProcessMutex mirrors the Redis SetNX try-lock semantics with plain
// sync.Mutex per practitioner. Used in tests and when no Redis is
// configured.
type InProcessMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*sync.Mutex
}

func NewInProcessMutex() *InProcessMutex {
	return &InProcessMutex{entries: make(map[uuid.UUID]*sync.Mutex)}
}

func (m *InProcessMutex) WithPractitioner(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	entry, ok := m.entries[practitionerID]
	if !ok {
		entry = &sync.Mutex{}
		m.entries[practitionerID] = entry
	}
	m.mu.Unlock()

	if !entry.TryLock() {
		return redisclient.ErrMutexNotAcquired
	}
	defer entry.Unlock()

	return fn(ctx)
}
