package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/clock"
	"github.com/caremesh/scheduling/internal/schedule"
	"github.com/caremesh/scheduling/internal/slotlock"
)

type memTemplates struct {
	templates []schedule.WeeklySlotTemplate
}

func (m *memTemplates) ListTemplates(_ context.Context, _ uuid.UUID) ([]schedule.WeeklySlotTemplate, error) {
	return m.templates, nil
}

type assignFixture struct {
	repo      *memRepo
	locks     *slotlock.Manager
	templates *memTemplates
	notifier  *recordingNotifier
	clk       *clock.Fixed
	assigner  *AutoAssigner
}

// newAssignFixture wires the adapter against an in-memory repo and a
// real calculator. baseTime is a Monday at 08:00.
func newAssignFixture(t *testing.T) *assignFixture {
	t.Helper()

	clk := &clock.Fixed{Instant: baseTime}
	repo := newMemRepo()
	store := slotlock.NewMemoryStore()
	locks := slotlock.NewManager(store, slotlock.NewInProcessMutex(), repo, clk, zap.NewNop(), 5*time.Minute, 5*time.Minute)
	templates := &memTemplates{}
	absences := &memAbsences{}
	notifier := &recordingNotifier{}

	calc := availability.NewCalculator(templates, absences, repo, store, clk)

	return &assignFixture{
		repo:      repo,
		locks:     locks,
		templates: templates,
		notifier:  notifier,
		clk:       clk,
		assigner:  NewAutoAssigner(repo, locks, calc, notifier, clk, zap.NewNop()),
	}
}

func mondayMorningTemplate(practitionerID uuid.UUID) schedule.WeeklySlotTemplate {
	return schedule.WeeklySlotTemplate{
		ID:                  uuid.New(),
		PractitionerID:      practitionerID,
		Weekday:             1,
		StartMinute:         9 * 60,
		EndMinute:           12 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		Kind:                schedule.KindStanding,
	}
}

func TestAssignEarliestToday(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{mondayMorningTemplate(practitionerID)}

	res, err := f.assigner.AssignEarliestToday(context.Background(), uuid.New(), practitionerID, "paid consultation")
	require.NoError(t, err)

	require.True(t, res.Assigned)
	require.NotNil(t, res.AppointmentID)

	created, err := f.repo.GetByID(context.Background(), *res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, created.Status)
	assert.Equal(t, "auto_assigned", created.Kind)
	assert.Equal(t, baseTime.Add(time.Hour), created.StartTime, "earliest slot of the day is 09:00")
	assert.Equal(t, 30, created.DurationMinutes)

	assert.Contains(t, f.repo.eventTypes(), EventAutoAssigned)
	assert.Len(t, f.notifier.validated, 1)
}

func TestAssignEarliestToday_SkipsOccupiedSlots(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{mondayMorningTemplate(practitionerID)}

	// 09:00 is already confirmed; 09:30 is the earliest free slot.
	f.repo.put(Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		PractitionerID:  practitionerID,
		StartTime:       baseTime.Add(time.Hour),
		DurationMinutes: 30,
		Status:          StatusConfirmed,
	})

	res, err := f.assigner.AssignEarliestToday(context.Background(), uuid.New(), practitionerID, "")
	require.NoError(t, err)

	require.True(t, res.Assigned)
	created, err := f.repo.GetByID(context.Background(), *res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(90*time.Minute), created.StartTime)
}

func TestAssignEarliestToday_SkipsPastSlots(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{mondayMorningTemplate(practitionerID)}

	// 10:45: everything up to and including 10:30 is gone.
	f.clk.Advance(2*time.Hour + 45*time.Minute)

	res, err := f.assigner.AssignEarliestToday(context.Background(), uuid.New(), practitionerID, "")
	require.NoError(t, err)

	require.True(t, res.Assigned)
	created, err := f.repo.GetByID(context.Background(), *res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(3*time.Hour), created.StartTime, "11:00 is the first slot still in the future")
}

func TestAssignEarliestToday_NoSchedule(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)

	res, err := f.assigner.AssignEarliestToday(context.Background(), uuid.New(), practitionerID, "")
	require.NoError(t, err)

	assert.False(t, res.Assigned)
	assert.Contains(t, res.Message, "no slot available today")
	assert.Nil(t, res.AppointmentID)
	assert.Equal(t, 0, f.repo.count())
}

func TestAssignEarliestToday_NoFreeSlot(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{{
		ID:                  uuid.New(),
		PractitionerID:      practitionerID,
		Weekday:             1,
		StartMinute:         9 * 60,
		EndMinute:           10 * 60,
		SlotDurationMinutes: 30,
		Active:              true,
		Kind:                schedule.KindStanding,
	}}

	// Both slots of the short day are confirmed.
	for _, offset := range []time.Duration{time.Hour, 90 * time.Minute} {
		f.repo.put(Appointment{
			ID:              uuid.New(),
			PatientID:       uuid.New(),
			PractitionerID:  practitionerID,
			StartTime:       baseTime.Add(offset),
			DurationMinutes: 30,
			Status:          StatusConfirmed,
		})
	}

	res, err := f.assigner.AssignEarliestToday(context.Background(), uuid.New(), practitionerID, "")
	require.NoError(t, err)

	assert.False(t, res.Assigned)
	assert.Equal(t, "no slot available today", res.Message)
	assert.Equal(t, 2, f.repo.count())
}

// A pending appointment must not occupy the slot in the calendar; only
// validation flips it to blocked.
func TestPendingAppointmentInvisibleUntilValidated(t *testing.T) {
	practitionerID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{mondayMorningTemplate(practitionerID)}

	calc := availability.NewCalculator(f.templates, &memAbsences{}, f.repo, slotlock.NewMemoryStore(), f.clk)
	svc := NewService(f.repo, f.locks, f.templates, &memAbsences{}, f.notifier, f.clk, zap.NewNop(), 2*time.Hour)

	nineOClock := baseTime.Add(time.Hour)
	appt, err := svc.Create(context.Background(), CreateParams{
		PatientID:       uuid.New(),
		PractitionerID:  practitionerID,
		Start:           nineOClock,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	result, err := calc.ComputeSlots(context.Background(), practitionerID, baseTime, baseTime)
	require.NoError(t, err)
	require.NotEmpty(t, result.Slots)
	assert.Equal(t, availability.StatusFree, result.Slots[0].Status, "pending must not occupy the 09:00 slot")

	_, err = svc.ValidatePending(context.Background(), appt.ID, practitionerID)
	require.NoError(t, err)

	result, err = calc.ComputeSlots(context.Background(), practitionerID, baseTime, baseTime)
	require.NoError(t, err)
	assert.Equal(t, availability.StatusBooked, result.Slots[0].Status)
	require.NotNil(t, result.Slots[0].AppointmentID)
	assert.Equal(t, appt.ID, *result.Slots[0].AppointmentID)
}

func TestAssignEarliestToday_RepeatInvocationIsIdempotent(t *testing.T) {
	practitionerID := uuid.New()
	patientID := uuid.New()
	f := newAssignFixture(t)
	f.templates.templates = []schedule.WeeklySlotTemplate{mondayMorningTemplate(practitionerID)}

	first, err := f.assigner.AssignEarliestToday(context.Background(), patientID, practitionerID, "paid consultation")
	require.NoError(t, err)
	require.True(t, first.Assigned)

	second, err := f.assigner.AssignEarliestToday(context.Background(), patientID, practitionerID, "paid consultation")
	require.NoError(t, err)

	assert.True(t, second.Assigned)
	require.NotNil(t, second.AppointmentID)
	assert.Equal(t, *first.AppointmentID, *second.AppointmentID)
	assert.Equal(t, 1, f.repo.count())
}
