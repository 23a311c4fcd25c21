package slotlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/clock"
	redisclient "github.com/caremesh/scheduling/internal/redis"
)

// AppointmentChecker answers whether a non-cancelled appointment already
// occupies a window. Implemented by the booking repository.
type AppointmentChecker interface {
	HasActiveOverlap(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (bool, error)
}

// AcquireResult is the outcome of a lock acquisition attempt. Contention
// is a normal outcome: Granted=false with a message, never an error.
type AcquireResult struct {
	Granted   bool
	Token     uuid.UUID
	ExpiresAt time.Time
	Message   string
}

// Manager grants, extends and releases short-lived exclusive holds on
// (practitioner, start, duration) windows. It is the sole source of
// mutual exclusion during the booking negotiation window.
type Manager struct {
	store     Store
	mutex     redisclient.PractitionerMutex
	appts     AppointmentChecker
	clk       clock.Clock
	log       *zap.Logger
	ttl       time.Duration
	extension time.Duration
}

func NewManager(store Store, mutex redisclient.PractitionerMutex, appts AppointmentChecker, clk clock.Clock, log *zap.Logger, ttl, extension time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if extension <= 0 {
		extension = 5 * time.Minute
	}
	return &Manager{
		store:     store,
		mutex:     mutex,
		appts:     appts,
		clk:       clk,
		log:       log,
		ttl:       ttl,
		extension: extension,
	}
}

// Acquire grants a hold on the window, or reports why it cannot.
// Expired locks are swept first; a holder re-acquiring its own window
// gets the existing lock extended instead of a conflict.
func (m *Manager) Acquire(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, holderID uuid.UUID) (AcquireResult, error) {
	if durationMinutes <= 0 {
		return AcquireResult{Message: "duration must be positive"}, nil
	}

	if _, err := m.Sweep(ctx); err != nil {
		return AcquireResult{}, fmt.Errorf("sweep before acquire: %w", err)
	}

	var result AcquireResult

	err := m.mutex.WithPractitioner(ctx, practitionerID, func(ctx context.Context) error {
		r, err := m.tryAcquire(ctx, practitionerID, start, durationMinutes, holderID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrMutexNotAcquired) {
			// Another acquisition for this practitioner is in flight.
			return AcquireResult{Message: "slot is temporarily held by another user"}, nil
		}
		return AcquireResult{}, err
	}

	return result, nil
}

func (m *Manager) tryAcquire(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, holderID uuid.UUID) (AcquireResult, error) {
	now := m.clk.Now()
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	existing, err := m.store.FindOverlapping(ctx, practitionerID, start, end, now)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("find overlapping lock: %w", err)
	}
	if existing != nil {
		if existing.HolderID == holderID {
			// Idempotent re-entry: extend rather than conflict.
			expiresAt := now.Add(m.ttl)
			if err := m.store.UpdateExpiry(ctx, existing.Token, expiresAt); err != nil {
				return AcquireResult{}, fmt.Errorf("extend lock on re-acquire: %w", err)
			}
			return AcquireResult{
				Granted:   true,
				Token:     existing.Token,
				ExpiresAt: expiresAt,
				Message:   "existing lock extended",
			}, nil
		}
		return AcquireResult{Message: "slot is temporarily held by another user"}, nil
	}

	booked, err := m.appts.HasActiveOverlap(ctx, practitionerID, start, end)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("check booked window: %w", err)
	}
	if booked {
		return AcquireResult{Message: "slot is already booked"}, nil
	}

	lock := SlotLock{
		ID:              uuid.New(),
		PractitionerID:  practitionerID,
		StartTime:       start,
		DurationMinutes: durationMinutes,
		HolderID:        holderID,
		Token:           uuid.New(),
		ExpiresAt:       now.Add(m.ttl),
		CreatedAt:       now,
	}

	if err := m.store.Insert(ctx, lock); err != nil {
		if errors.Is(err, ErrWindowTaken) {
			// Lost the insert race; the constraint is the backstop.
			return AcquireResult{Message: "slot was just taken, please retry"}, nil
		}
		return AcquireResult{}, fmt.Errorf("insert lock: %w", err)
	}

	m.log.Debug("slot lock granted",
		zap.String("practitioner_id", practitionerID.String()),
		zap.String("holder_id", holderID.String()),
		zap.Time("start", start),
		zap.Int("duration_minutes", durationMinutes),
	)

	return AcquireResult{
		Granted:   true,
		Token:     lock.Token,
		ExpiresAt: lock.ExpiresAt,
	}, nil
}

// Validate reports whether the token exists, belongs to the holder and
// has not expired.
func (m *Manager) Validate(ctx context.Context, token, holderID uuid.UUID) (bool, error) {
	lock, err := m.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get lock: %w", err)
	}
	return lock.HolderID == holderID && !lock.Expired(m.clk.Now()), nil
}

// Release deletes the lock if owned by the holder. Releasing a lock
// that no longer exists is not an error.
func (m *Manager) Release(ctx context.Context, token, holderID uuid.UUID) (bool, error) {
	deleted, err := m.store.DeleteByToken(ctx, token, holderID)
	if err != nil {
		return false, fmt.Errorf("delete lock: %w", err)
	}
	return deleted, nil
}

// Extend pushes the lock's expiry out by extra (the default extension
// when extra <= 0). An already-expired lock cannot be extended.
func (m *Manager) Extend(ctx context.Context, token, holderID uuid.UUID, extra time.Duration) (bool, error) {
	if extra <= 0 {
		extra = m.extension
	}

	lock, err := m.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get lock: %w", err)
	}
	if lock.HolderID != holderID || lock.Expired(m.clk.Now()) {
		return false, nil
	}

	if err := m.store.UpdateExpiry(ctx, token, lock.ExpiresAt.Add(extra)); err != nil {
		return false, fmt.Errorf("update expiry: %w", err)
	}
	return true, nil
}

// Sweep deletes all expired locks. It runs before every acquisition and
// on a timer in cmd/lock-sweeper.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	count, err := m.store.DeleteExpired(ctx, m.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	if count > 0 {
		m.log.Debug("swept expired slot locks", zap.Int64("count", count))
	}
	return count, nil
}

// IsLocked reports whether an unexpired lock overlaps the window,
// optionally ignoring locks held by excludeHolder (uuid.Nil excludes
// nobody).
func (m *Manager) IsLocked(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, excludeHolder uuid.UUID) (bool, error) {
	now := m.clk.Now()
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	locks, err := m.store.ListUnexpired(ctx, practitionerID, start, end, now)
	if err != nil {
		return false, fmt.Errorf("list unexpired locks: %w", err)
	}
	for _, l := range locks {
		if excludeHolder != uuid.Nil && l.HolderID == excludeHolder {
			continue
		}
		if l.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}
