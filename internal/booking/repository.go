package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/scheduling/internal/availability"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrIdempotencyKeyTaken is surfaced by the storage layer when the
	// same idempotency key is inserted twice.
	ErrIdempotencyKeyTaken = errors.New("idempotency key already recorded")
)

// Tx is an explicit transaction scope handed back to the engine. The
// engine decides when to commit; no ambient or nested transactions.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository contains all DB interactions needed by the negotiation
// engine and the auto-assignment adapter.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Insert(ctx context.Context, tx Tx, a Appointment) (*Appointment, error)
	Update(ctx context.Context, a Appointment) (*Appointment, error)

	// Conflict checks. statuses filters; an empty list means any
	// non-cancelled status.
	ListOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, statuses []Status) ([]Appointment, error)
	ListPatientOverlapping(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error)
	FindPatientActiveWithPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID, dayStart, dayEnd time.Time) (*Appointment, error)

	// Idempotency
	GetIdempotencyKey(ctx context.Context, key string) (*uuid.UUID, error)
	InsertIdempotencyKey(ctx context.Context, tx Tx, key string, appointmentID uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// Read side of the availability calculator.
	ListConfirmedBetween(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]availability.BookedWindow, error)

	// Read side of the lock manager's booked-window check.
	HasActiveOverlap(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (bool, error)
}
