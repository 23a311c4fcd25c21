package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/notify"
	"github.com/caremesh/scheduling/internal/slotlock"
)

// AutoAssigner claims the earliest free slot of the day on behalf of
// the billing collaborator, once full payment is confirmed. The
// appointment is inserted directly as confirmed: payment already
// constitutes authorization, so the pending stage is bypassed.
type AutoAssigner struct {
	repo     Repository
	locks    *slotlock.Manager
	calc     *availability.Calculator
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.Logger
}

func NewAutoAssigner(repo Repository, locks *slotlock.Manager, calc *availability.Calculator, notifier notify.Notifier, clk clock.Clock, log *zap.Logger) *AutoAssigner {
	return &AutoAssigner{
		repo:     repo,
		locks:    locks,
		calc:     calc,
		notifier: notifier,
		clk:      clk,
		log:      log,
	}
}

// AssignResult reports the adapter's outcome. Assigned=false is a hard
// failure for the billing caller: a paid-for consultation could not be
// honored, and the triggering transaction must abort.
type AssignResult struct {
	Assigned      bool
	Message       string
	AppointmentID *uuid.UUID
}

func (a *AutoAssigner) AssignEarliestToday(ctx context.Context, patientID, practitionerID uuid.UUID, reason string) (AssignResult, error) {
	now := a.clk.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	// Repeat invocation for the same payment must not duplicate.
	existing, err := a.repo.FindPatientActiveWithPractitioner(ctx, patientID, practitionerID, dayStart, dayEnd)
	if err != nil {
		return AssignResult{}, fmt.Errorf("check existing appointment: %w", err)
	}
	if existing != nil {
		id := existing.ID
		return AssignResult{
			Assigned:      true,
			Message:       "patient already has an appointment with this practitioner today",
			AppointmentID: &id,
		}, nil
	}

	result, err := a.calc.ComputeSlots(ctx, practitionerID, now, now)
	if err != nil {
		return AssignResult{}, fmt.Errorf("compute today's slots: %w", err)
	}
	if !result.HasSchedule {
		return AssignResult{Message: "no slot available today: " + result.Message}, nil
	}

	var free *availability.Slot
	for i := range result.Slots {
		if result.Slots[i].Status == availability.StatusFree {
			free = &result.Slots[i]
			break
		}
	}
	if free == nil {
		return AssignResult{Message: "no slot available today"}, nil
	}

	res, err := a.locks.Acquire(ctx, practitionerID, free.Start, free.DurationMinutes, patientID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !res.Granted {
		return AssignResult{Message: res.Message}, nil
	}
	defer func() {
		if _, relErr := a.locks.Release(ctx, res.Token, patientID); relErr != nil {
			a.log.Warn("release slot lock", zap.Error(relErr))
		}
	}()

	confirmed, err := a.repo.ListOverlapping(ctx, practitionerID, free.Start, free.End, []Status{StatusConfirmed})
	if err != nil {
		return AssignResult{}, fmt.Errorf("check confirmed overlap: %w", err)
	}
	if len(confirmed) > 0 {
		return AssignResult{Message: "slot was just booked, no slot assigned"}, nil
	}

	tx, err := a.repo.Begin(ctx)
	if err != nil {
		return AssignResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := a.repo.Insert(ctx, tx, Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		PractitionerID:  practitionerID,
		StartTime:       free.Start,
		DurationMinutes: free.DurationMinutes,
		Status:          StatusConfirmed,
		Kind:            "auto_assigned",
		Reason:          reason,
	})
	if err != nil {
		return AssignResult{}, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AssignResult{}, fmt.Errorf("commit appointment: %w", err)
	}

	a.logEvent(ctx, created.ID)

	a.notifier.NotifyValidated(ctx, notify.AppointmentSnapshot{
		ID:              created.ID,
		PatientID:       created.PatientID,
		PractitionerID:  created.PractitionerID,
		Start:           created.StartTime,
		DurationMinutes: created.DurationMinutes,
		Status:          string(created.Status),
		Reason:          created.Reason,
	})

	id := created.ID
	return AssignResult{
		Assigned:      true,
		Message:       "appointment assigned",
		AppointmentID: &id,
	}, nil
}

func (a *AutoAssigner) logEvent(ctx context.Context, appointmentID uuid.UUID) {
	apptID := appointmentID
	ev := EventLog{
		EventType:     EventAutoAssigned,
		AppointmentID: &apptID,
	}
	if err := a.repo.InsertEvent(ctx, ev); err != nil {
		a.log.Warn("insert event log",
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
