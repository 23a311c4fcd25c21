package slotlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrWindowTaken is surfaced by Store.Insert when the storage layer's
	// overlap constraint rejects the row. It is a benign race outcome,
	// not a failure.
	ErrWindowTaken = errors.New("slot lock window already taken")

	ErrLockNotFound = errors.New("slot lock not found")
)

// SlotLock is an ephemeral exclusive claim on a practitioner's time
// window. It is never evidence that a slot is booked, only that it is
// currently being negotiated.
type SlotLock struct {
	ID              uuid.UUID
	PractitionerID  uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	HolderID        uuid.UUID
	Token           uuid.UUID
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

func (l SlotLock) End() time.Time {
	return l.StartTime.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

func (l SlotLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Overlaps reports whether the lock's window intersects [start, end).
func (l SlotLock) Overlaps(start, end time.Time) bool {
	return l.StartTime.Before(end) && start.Before(l.End())
}

// Store persists slot locks. Insert must be atomic: the storage layer
// enforces that no two unexpired locks for one practitioner overlap,
// and reports a violation as ErrWindowTaken.
type Store interface {
	Insert(ctx context.Context, lock SlotLock) error
	FindOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end, now time.Time) (*SlotLock, error)
	GetByToken(ctx context.Context, token uuid.UUID) (*SlotLock, error)
	DeleteByToken(ctx context.Context, token, holderID uuid.UUID) (bool, error)
	UpdateExpiry(ctx context.Context, token uuid.UUID, expiresAt time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListUnexpired(ctx context.Context, practitionerID uuid.UUID, from, to, now time.Time) ([]SlotLock, error)
}
