package booking

import (
	"errors"
	"fmt"
	"time"
)

// Contention and validation outcomes are expected; the API layer maps
// them to 4xx responses so a caller can tell "try another slot" apart
// from "something is broken".

var (
	ErrPastStart           = errors.New("appointment start must be in the future")
	ErrInvalidDuration     = errors.New("duration must be positive")
	ErrPractitionerAbsent  = errors.New("practitioner is absent on the requested date")
	ErrOutsideWorkingHours = errors.New("requested time is outside the practitioner's working hours")
	ErrNotOwner            = errors.New("appointment belongs to a different patient")
	ErrWrongPractitioner   = errors.New("appointment belongs to a different practitioner")
	ErrAlreadyProcessed    = errors.New("request already processed")
)

// ContentionError reports that the slot could not be held right now.
// The message comes verbatim from the lock manager.
type ContentionError struct {
	Message string
}

func (e *ContentionError) Error() string { return e.Message }

// ConflictError reports an overlap detected during re-validation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// StateError reports an operation applied to an appointment whose
// status does not allow it.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in status %q", e.Op, e.Status)
}

// LeadTimeError reports a cancellation attempted too close to the
// appointment start.
type LeadTimeError struct {
	Required time.Duration
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("cancellation requires at least %s notice before the appointment starts", e.Required)
}
