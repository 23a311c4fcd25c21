package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	PractitionerID  string    `json:"practitioner_id"`
	ServiceID       string    `json:"service_id,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Kind            string    `json:"kind,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
}

type UpdateAppointmentRequest struct {
	PatientID       string     `json:"patient_id"`
	Start           *time.Time `json:"start,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

type ValidateAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id"`
}

type ProposeSlotRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	NewStart       time.Time `json:"new_start"`
	Message        string    `json:"message,omitempty"`
}

type ProposalResponseRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason,omitempty"`
}

type SetStatusRequest struct {
	PractitionerID string `json:"practitioner_id"`
	Status         string `json:"status"`
}

type AutoAssignRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PractitionerID     uuid.UUID  `json:"practitioner_id"`
	ServiceID          uuid.UUID  `json:"service_id,omitempty"`
	Start              time.Time  `json:"start"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Kind               string     `json:"kind,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

type SlotResponse struct {
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	AbsenceReason   string     `json:"absence_reason,omitempty"`
}

type SlotsResponse struct {
	HasSchedule bool           `json:"has_schedule"`
	Message     string         `json:"message,omitempty"`
	Slots       []SlotResponse `json:"slots"`
}

type AutoAssignResponse struct {
	Assigned      bool       `json:"assigned"`
	Message       string     `json:"message"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type TemplateRequest struct {
	PractitionerID      string     `json:"practitioner_id"`
	Weekday             int        `json:"weekday"`
	StartMinute         int        `json:"start_minute"`
	EndMinute           int        `json:"end_minute"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Kind                string     `json:"kind"`
	ValidFrom           *time.Time `json:"valid_from,omitempty"`
	ValidTo             *time.Time `json:"valid_to,omitempty"`
}

type AbsenceRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason,omitempty"`
	WholeDay       bool      `json:"whole_day"`
}
