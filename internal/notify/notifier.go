// Package notify is the boundary to the notification collaborator.
// Calls are fire-and-forget: a delivery failure is logged and never
// rolls back the appointment state change that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentSnapshot is the payload handed to the collaborator: the
// appointment's state at the moment of the transition.
type AppointmentSnapshot struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	Start           time.Time  `json:"start"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	PreviousStart   *time.Time `json:"previous_start,omitempty"` // set on proposals
	Message         string     `json:"message,omitempty"`
}

type Notifier interface {
	NotifyCreated(ctx context.Context, snap AppointmentSnapshot)
	NotifyValidated(ctx context.Context, snap AppointmentSnapshot)
	NotifyCancelled(ctx context.Context, snap AppointmentSnapshot)
	NotifyProposal(ctx context.Context, snap AppointmentSnapshot)
}
