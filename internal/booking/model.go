package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusPending awaits practitioner validation and does not occupy
	// the slot for availability purposes.
	StatusPending Status = "pending"
	// StatusConfirmed occupies the slot.
	StatusConfirmed Status = "confirmed"
	// StatusProposed means the practitioner countered with an alternate
	// time and the patient has not answered yet.
	StatusProposed  Status = "proposed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"

	// Administrative states outside the negotiation protocol.
	StatusInProgress Status = "in_progress"
	StatusNoShow     Status = "no_show"
)

// Terminal reports whether no further negotiation transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	PractitionerID     uuid.UUID
	ServiceID          uuid.UUID
	StartTime          time.Time
	DurationMinutes    int
	Status             Status
	Kind               string
	Reason             string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
	CancelledBy        *uuid.UUID
	CancellationReason string
	Notified           bool
}

func (a Appointment) End() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the appointment's [start, end) window
// intersects the given one.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.End())
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentValidated = "APPOINTMENT_VALIDATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventProposalMade         = "PROPOSAL_MADE"
	EventProposalAccepted     = "PROPOSAL_ACCEPTED"
	EventProposalRefused      = "PROPOSAL_REFUSED"
	EventStatusChanged        = "STATUS_CHANGED"
	EventAutoAssigned         = "AUTO_ASSIGNED"
)
