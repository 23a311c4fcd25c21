// Package availability computes the bookable slots of a practitioner
// over a date range. It only ever reads: templates and absences from the
// schedule store, confirmed appointments and unexpired locks from their
// stores. The result is recomputed fresh on every call.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/schedule"
	"github.com/caremesh/scheduling/internal/slotlock"
)

type SlotStatus string

const (
	StatusFree    SlotStatus = "free"
	StatusPast    SlotStatus = "past"
	StatusBooked  SlotStatus = "blocked_by_appointment"
	StatusAbsence SlotStatus = "blocked_by_absence"
	StatusLocked  SlotStatus = "blocked_by_lock"
)

const defaultSlotMinutes = 30

// Slot is one candidate booking window with the reason it is or is not
// available. Callers branch on Status.
type Slot struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Status          SlotStatus
	AppointmentID   *uuid.UUID // set when Status is StatusBooked
	AbsenceReason   string     // set when Status is StatusAbsence
}

// Result distinguishes "no schedule configured at all" from "no free
// slots": an unconfigured practitioner yields HasSchedule=false.
type Result struct {
	HasSchedule bool
	Message     string
	Slots       []Slot
}

// BookedWindow is a confirmed appointment's occupied interval.
type BookedWindow struct {
	AppointmentID   uuid.UUID
	Start           time.Time
	DurationMinutes int
}

func (w BookedWindow) End() time.Time {
	return w.Start.Add(time.Duration(w.DurationMinutes) * time.Minute)
}

type TemplateSource interface {
	ListTemplates(ctx context.Context, practitionerID uuid.UUID) ([]schedule.WeeklySlotTemplate, error)
}

type AbsenceSource interface {
	ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]schedule.AbsencePeriod, error)
}

type AppointmentSource interface {
	ListConfirmedBetween(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]BookedWindow, error)
}

type LockSource interface {
	ListUnexpired(ctx context.Context, practitionerID uuid.UUID, from, to, now time.Time) ([]slotlock.SlotLock, error)
}

type Calculator struct {
	templates    TemplateSource
	absences     AbsenceSource
	appointments AppointmentSource
	locks        LockSource
	clk          clock.Clock
}

func NewCalculator(templates TemplateSource, absences AbsenceSource, appointments AppointmentSource, locks LockSource, clk clock.Clock) *Calculator {
	return &Calculator{
		templates:    templates,
		absences:     absences,
		appointments: appointments,
		locks:        locks,
		clk:          clk,
	}
}

// ComputeSlots enumerates the practitioner's slots between rangeStart
// and rangeEnd (inclusive dates), each tagged free, past,
// blocked-by-appointment, blocked-by-absence or blocked-by-lock.
// A single canonical "now" is fixed for the whole computation.
func (c *Calculator) ComputeSlots(ctx context.Context, practitionerID uuid.UUID, rangeStart, rangeEnd time.Time) (Result, error) {
	templates, err := c.templates.ListTemplates(ctx, practitionerID)
	if err != nil {
		return Result{}, fmt.Errorf("list templates: %w", err)
	}

	active := templates[:0:0]
	for _, t := range templates {
		if t.Active {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return Result{
			HasSchedule: false,
			Message:     "practitioner has no configured schedule",
		}, nil
	}

	now := c.clk.Now()

	rangeEndOfDay := endOfDay(rangeEnd)
	absences, err := c.absences.ListAbsences(ctx, practitionerID, rangeStart, rangeEnd)
	if err != nil {
		return Result{}, fmt.Errorf("list absences: %w", err)
	}
	booked, err := c.appointments.ListConfirmedBetween(ctx, practitionerID, startOfDay(rangeStart), rangeEndOfDay)
	if err != nil {
		return Result{}, fmt.Errorf("list confirmed appointments: %w", err)
	}
	locks, err := c.locks.ListUnexpired(ctx, practitionerID, startOfDay(rangeStart), rangeEndOfDay, now)
	if err != nil {
		return Result{}, fmt.Errorf("list locks: %w", err)
	}

	var slots []Slot

	for day := startOfDay(rangeStart); !day.After(rangeEnd); day = day.AddDate(0, 0, 1) {
		// No slots are ever generated on Sundays.
		if day.Weekday() == time.Sunday {
			continue
		}

		dayTemplates := EffectiveTemplates(active, day)
		if len(dayTemplates) == 0 {
			continue
		}

		absence := absenceFor(absences, day)

		for _, t := range dayTemplates {
			slotMinutes := t.SlotDurationMinutes
			if slotMinutes <= 0 {
				slotMinutes = defaultSlotMinutes
			}

			for m := t.StartMinute; m+slotMinutes <= t.EndMinute; m += slotMinutes {
				start := day.Add(time.Duration(m) * time.Minute)
				end := start.Add(time.Duration(slotMinutes) * time.Minute)

				slot := Slot{
					Start:           start,
					End:             end,
					DurationMinutes: slotMinutes,
					Status:          StatusFree,
				}

				switch {
				case !start.After(now):
					slot.Status = StatusPast
				case absence != nil:
					slot.Status = StatusAbsence
					slot.AbsenceReason = absence.Reason
				default:
					if w := bookedOverlap(booked, start, end); w != nil {
						slot.Status = StatusBooked
						id := w.AppointmentID
						slot.AppointmentID = &id
					} else if lockOverlap(locks, start, end) {
						slot.Status = StatusLocked
					}
				}

				slots = append(slots, slot)
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	return Result{HasSchedule: true, Slots: slots}, nil
}

// EffectiveTemplates prefers override templates whose validity range
// covers the day; standing templates apply only when no override does.
func EffectiveTemplates(templates []schedule.WeeklySlotTemplate, day time.Time) []schedule.WeeklySlotTemplate {
	var overrides, standing []schedule.WeeklySlotTemplate
	for _, t := range templates {
		if !t.CoversDate(day) {
			continue
		}
		if t.Kind == schedule.KindOverride {
			overrides = append(overrides, t)
		} else {
			standing = append(standing, t)
		}
	}
	if len(overrides) > 0 {
		return overrides
	}
	return standing
}

func absenceFor(absences []schedule.AbsencePeriod, day time.Time) *schedule.AbsencePeriod {
	for i := range absences {
		if absences[i].Covers(day) {
			return &absences[i]
		}
	}
	return nil
}

func bookedOverlap(booked []BookedWindow, start, end time.Time) *BookedWindow {
	for i := range booked {
		if booked[i].Start.Before(end) && start.Before(booked[i].End()) {
			return &booked[i]
		}
	}
	return nil
}

func lockOverlap(locks []slotlock.SlotLock, start, end time.Time) bool {
	for _, l := range locks {
		if l.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}
