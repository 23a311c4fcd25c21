package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/notify"
	"github.com/caremesh/scheduling/internal/slotlock"
)

// Service is the appointment negotiation engine: the only component
// that mutates appointment state. Creation is serialized per
// (practitioner, window) through the lock manager; every acquired lock
// is released on every exit path.
type Service struct {
	repo           Repository
	locks          *slotlock.Manager
	templates      availability.TemplateSource
	absences       availability.AbsenceSource
	notifier       notify.Notifier
	clk            clock.Clock
	log            *zap.Logger
	cancelLeadTime time.Duration
}

func NewService(repo Repository, locks *slotlock.Manager, templates availability.TemplateSource, absences availability.AbsenceSource, notifier notify.Notifier, clk clock.Clock, log *zap.Logger, cancelLeadTime time.Duration) *Service {
	if cancelLeadTime <= 0 {
		cancelLeadTime = 2 * time.Hour
	}
	return &Service{
		repo:           repo,
		locks:          locks,
		templates:      templates,
		absences:       absences,
		notifier:       notifier,
		clk:            clk,
		log:            log,
		cancelLeadTime: cancelLeadTime,
	}
}

type CreateParams struct {
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	ServiceID       uuid.UUID
	Start           time.Time
	DurationMinutes int
	Kind            string
	Reason          string
	// IdempotencyKey, when set, makes repeat submissions fail with
	// ErrAlreadyProcessed instead of creating a duplicate.
	IdempotencyKey string
}

// Create books a pending appointment. Flow: validate, acquire the slot
// lock on behalf of the patient, re-check live state under the lock,
// insert within an explicit transaction, commit, release.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	if p.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	now := s.clk.Now()
	if !p.Start.After(now) {
		return nil, ErrPastStart
	}

	if p.IdempotencyKey != "" {
		existing, err := s.repo.GetIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
		if existing != nil {
			return nil, ErrAlreadyProcessed
		}
	}

	within, err := s.withinConfiguredHours(ctx, p.PractitionerID, p.Start, p.DurationMinutes)
	if err != nil {
		return nil, fmt.Errorf("check configured hours: %w", err)
	}
	if !within {
		return nil, ErrOutsideWorkingHours
	}

	absences, err := s.absences.ListAbsences(ctx, p.PractitionerID, p.Start, p.Start)
	if err != nil {
		return nil, fmt.Errorf("list absences: %w", err)
	}
	for _, a := range absences {
		if a.Covers(p.Start) {
			return nil, ErrPractitionerAbsent
		}
	}

	res, err := s.locks.Acquire(ctx, p.PractitionerID, p.Start, p.DurationMinutes, p.PatientID)
	if err != nil {
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !res.Granted {
		return nil, &ContentionError{Message: res.Message}
	}
	defer func() {
		if _, relErr := s.locks.Release(ctx, res.Token, p.PatientID); relErr != nil {
			s.log.Warn("release slot lock", zap.Error(relErr))
		}
	}()

	end := p.Start.Add(time.Duration(p.DurationMinutes) * time.Minute)

	// Availability computed before the lock is not trustworthy;
	// re-validate against live state inside the critical section.
	confirmed, err := s.repo.ListOverlapping(ctx, p.PractitionerID, p.Start, end, []Status{StatusConfirmed})
	if err != nil {
		return nil, fmt.Errorf("check confirmed overlap: %w", err)
	}
	if len(confirmed) > 0 {
		return nil, &ConflictError{Message: "slot already has a confirmed appointment"}
	}

	own, err := s.repo.ListPatientOverlapping(ctx, p.PatientID, p.Start, end)
	if err != nil {
		return nil, fmt.Errorf("check patient overlap: %w", err)
	}
	if len(own) > 0 {
		return nil, &ConflictError{Message: "patient already has an appointment in this time window"}
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := s.repo.Insert(ctx, tx, Appointment{
		ID:              uuid.New(),
		PatientID:       p.PatientID,
		PractitionerID:  p.PractitionerID,
		ServiceID:       p.ServiceID,
		StartTime:       p.Start,
		DurationMinutes: p.DurationMinutes,
		Status:          StatusPending,
		Kind:            p.Kind,
		Reason:          p.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if p.IdempotencyKey != "" {
		if err := s.repo.InsertIdempotencyKey(ctx, tx, p.IdempotencyKey, created.ID); err != nil {
			if errors.Is(err, ErrIdempotencyKeyTaken) {
				return nil, ErrAlreadyProcessed
			}
			return nil, fmt.Errorf("insert idempotency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"patient_id":      created.PatientID.String(),
		"practitioner_id": created.PractitionerID.String(),
		"start":           created.StartTime,
	})
	s.notifier.NotifyCreated(ctx, s.snapshot(created))

	return created, nil
}

type UpdateParams struct {
	Start           *time.Time
	DurationMinutes *int
	Reason          *string
	Notes           *string
}

// Update lets the owning patient change a non-terminal appointment.
// A time change re-validates overlap against the practitioner's other
// non-cancelled appointments. Unlike Create, this path does not go
// through the lock manager; the exclusion constraint on confirmed
// appointments remains the backstop.
func (s *Service) Update(ctx context.Context, id, patientID uuid.UUID, p UpdateParams) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if appt.Status.Terminal() {
		return nil, &StateError{Op: "update", Status: appt.Status}
	}

	newStart := appt.StartTime
	newDuration := appt.DurationMinutes
	if p.Start != nil {
		newStart = *p.Start
	}
	if p.DurationMinutes != nil {
		if *p.DurationMinutes <= 0 {
			return nil, ErrInvalidDuration
		}
		newDuration = *p.DurationMinutes
	}

	timeChanged := !newStart.Equal(appt.StartTime) || newDuration != appt.DurationMinutes
	if timeChanged {
		if !newStart.After(s.clk.Now()) {
			return nil, ErrPastStart
		}
		end := newStart.Add(time.Duration(newDuration) * time.Minute)
		others, err := s.repo.ListOverlapping(ctx, appt.PractitionerID, newStart, end, nil)
		if err != nil {
			return nil, fmt.Errorf("check overlap: %w", err)
		}
		for _, o := range others {
			if o.ID != appt.ID {
				return nil, &ConflictError{Message: "new time overlaps another appointment"}
			}
		}
		appt.StartTime = newStart
		appt.DurationMinutes = newDuration
	}

	if p.Reason != nil {
		appt.Reason = *p.Reason
	}
	if p.Notes != nil {
		appt.Notes = *p.Notes
	}

	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"time_changed": timeChanged,
	})

	return updated, nil
}

// Cancel lets the owning patient cancel with at least the configured
// lead time (default 2h) before the start.
func (s *Service) Cancel(ctx context.Context, id, patientID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if appt.Status.Terminal() {
		return nil, &StateError{Op: "cancel", Status: appt.Status}
	}

	now := s.clk.Now()
	if appt.StartTime.Sub(now) < s.cancelLeadTime {
		return nil, &LeadTimeError{Required: s.cancelLeadTime}
	}

	appt.Status = StatusCancelled
	appt.CancelledAt = &now
	appt.CancelledBy = &patientID
	appt.CancellationReason = reason

	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"cancelled_by": patientID.String(),
		"reason":       reason,
	})
	s.notifier.NotifyCancelled(ctx, s.snapshot(updated))

	return updated, nil
}

// ValidatePending confirms a pending appointment. The overlap re-check
// matters: a conflicting appointment may have been confirmed since this
// one was created. On conflict the appointment stays pending and the
// practitioner is expected to counter-propose.
func (s *Service) ValidatePending(ctx context.Context, id, practitionerID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PractitionerID != practitionerID {
		return nil, ErrWrongPractitioner
	}
	if appt.Status != StatusPending {
		return nil, &StateError{Op: "validate", Status: appt.Status}
	}

	if err := s.checkConfirmedConflict(ctx, appt); err != nil {
		return nil, err
	}

	appt.Status = StatusConfirmed
	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentValidated, nil)
	s.notifier.NotifyValidated(ctx, s.snapshot(updated))

	return updated, nil
}

// ProposeAlternate counters a pending request with a new start time.
func (s *Service) ProposeAlternate(ctx context.Context, id, practitionerID uuid.UUID, newStart time.Time, message string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PractitionerID != practitionerID {
		return nil, ErrWrongPractitioner
	}
	if appt.Status != StatusPending {
		return nil, &StateError{Op: "propose an alternate slot for", Status: appt.Status}
	}
	if !newStart.After(s.clk.Now()) {
		return nil, ErrPastStart
	}

	end := newStart.Add(time.Duration(appt.DurationMinutes) * time.Minute)
	confirmed, err := s.repo.ListOverlapping(ctx, appt.PractitionerID, newStart, end, []Status{StatusConfirmed})
	if err != nil {
		return nil, fmt.Errorf("check confirmed overlap: %w", err)
	}
	if len(confirmed) > 0 {
		return nil, &ConflictError{Message: "proposed time overlaps a confirmed appointment"}
	}

	oldStart := appt.StartTime
	appt.StartTime = newStart
	appt.Status = StatusProposed
	appt.Notes = appendNote(appt.Notes, fmt.Sprintf(
		"practitioner proposed %s instead of %s: %s",
		newStart.Format(time.RFC3339), oldStart.Format(time.RFC3339), message,
	))

	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("propose alternate slot: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventProposalMade, map[string]any{
		"old_start": oldStart,
		"new_start": newStart,
	})

	snap := s.snapshot(updated)
	snap.PreviousStart = &oldStart
	snap.Message = message
	s.notifier.NotifyProposal(ctx, snap)

	return updated, nil
}

// AcceptProposal confirms a proposed appointment, re-checking conflicts
// since time has passed since the proposal was made.
func (s *Service) AcceptProposal(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if appt.Status != StatusProposed {
		return nil, &StateError{Op: "accept a proposal for", Status: appt.Status}
	}

	if err := s.checkConfirmedConflict(ctx, appt); err != nil {
		return nil, err
	}

	appt.Status = StatusConfirmed
	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("accept proposal: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventProposalAccepted, nil)
	s.notifier.NotifyValidated(ctx, s.snapshot(updated))

	return updated, nil
}

// RefuseProposal cancels a proposed appointment with the patient's
// reason.
func (s *Service) RefuseProposal(ctx context.Context, id, patientID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}
	if appt.Status != StatusProposed {
		return nil, &StateError{Op: "refuse a proposal for", Status: appt.Status}
	}

	now := s.clk.Now()
	appt.Status = StatusCancelled
	appt.CancelledAt = &now
	appt.CancelledBy = &patientID
	appt.CancellationReason = reason

	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("refuse proposal: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventProposalRefused, map[string]any{
		"reason": reason,
	})
	s.notifier.NotifyCancelled(ctx, s.snapshot(updated))

	return updated, nil
}

// Administrative transitions allowed through SetStatus. Everything else
// is a state violation.
var allowedAdminTransitions = map[Status][]Status{
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// SetStatus applies an operational transition (in progress, no-show,
// completed) outside the negotiation protocol.
func (s *Service) SetStatus(ctx context.Context, id, practitionerID uuid.UUID, newStatus Status) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PractitionerID != practitionerID {
		return nil, ErrWrongPractitioner
	}

	allowed := false
	for _, to := range allowedAdminTransitions[appt.Status] {
		if to == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &StateError{Op: fmt.Sprintf("set status %q on", newStatus), Status: appt.Status}
	}

	appt.Status = newStatus
	updated, err := s.repo.Update(ctx, *appt)
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"status": string(newStatus),
	})

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// withinConfiguredHours reports whether the window fits inside an
// active template effective on that day, using the same override
// precedence as the availability calculator. A practitioner without
// templates has no bookable hours, and Sundays never have any.
func (s *Service) withinConfiguredHours(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int) (bool, error) {
	if start.Weekday() == time.Sunday {
		return false, nil
	}

	templates, err := s.templates.ListTemplates(ctx, practitionerID)
	if err != nil {
		return false, fmt.Errorf("list templates: %w", err)
	}

	active := templates[:0:0]
	for _, t := range templates {
		if t.Active {
			active = append(active, t)
		}
	}

	startMinute := start.Hour()*60 + start.Minute()
	for _, t := range availability.EffectiveTemplates(active, start) {
		if startMinute >= t.StartMinute && startMinute+durationMinutes <= t.EndMinute {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) checkConfirmedConflict(ctx context.Context, appt *Appointment) error {
	confirmed, err := s.repo.ListOverlapping(ctx, appt.PractitionerID, appt.StartTime, appt.End(), []Status{StatusConfirmed})
	if err != nil {
		return fmt.Errorf("check confirmed overlap: %w", err)
	}
	for _, o := range confirmed {
		if o.ID != appt.ID {
			return &ConflictError{Message: "conflict detected with a confirmed appointment"}
		}
	}
	return nil
}

func (s *Service) snapshot(a *Appointment) notify.AppointmentSnapshot {
	return notify.AppointmentSnapshot{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		Start:           a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.Reason,
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Warn("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
			data = nil
		}
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func appendNote(notes, line string) string {
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}
