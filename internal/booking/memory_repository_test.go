package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/scheduling/internal/availability"
	"github.com/caremesh/scheduling/internal/notify"
	"github.com/caremesh/scheduling/internal/schedule"
)

// memRepo implements Repository in process memory for the service tests.
// Writes staged in a memTx become visible only on Commit, mirroring the
// Postgres transaction boundary.
type memRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	keys         map[string]uuid.UUID
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		appointments: make(map[uuid.UUID]Appointment),
		keys:         make(map[string]uuid.UUID),
	}
}

// put seeds an appointment directly, bypassing the transaction flow.
func (r *memRepo) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = a
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.EventType)
	}
	return types
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appointments)
}

type memTx struct {
	repo  *memRepo
	appts []Appointment
	keys  map[string]uuid.UUID
	done  bool
}

func (r *memRepo) Begin(_ context.Context) (Tx, error) {
	return &memTx{repo: r, keys: make(map[string]uuid.UUID)}, nil
}

func (tx *memTx) Commit(_ context.Context) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()

	for k := range tx.keys {
		if _, exists := tx.repo.keys[k]; exists {
			return ErrIdempotencyKeyTaken
		}
	}
	for _, a := range tx.appts {
		tx.repo.appointments[a.ID] = a
	}
	for k, id := range tx.keys {
		tx.repo.keys[k] = id
	}
	tx.done = true
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	tx.appts = nil
	tx.keys = nil
	tx.done = true
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	found := a
	return &found, nil
}

func (r *memRepo) Insert(_ context.Context, tx Tx, a Appointment) (*Appointment, error) {
	mt := tx.(*memTx)
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	mt.appts = append(mt.appts, a)
	created := a
	return &created, nil
}

func (r *memRepo) Update(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	a.UpdatedAt = time.Now()
	r.appointments[a.ID] = a
	updated := a
	return &updated, nil
}

func (r *memRepo) ListOverlapping(_ context.Context, practitionerID uuid.UUID, start, end time.Time, statuses []Status) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID != practitionerID || !a.Overlaps(start, end) {
			continue
		}
		if len(statuses) == 0 {
			if a.Status != StatusCancelled {
				result = append(result, a)
			}
			continue
		}
		for _, st := range statuses {
			if a.Status == st {
				result = append(result, a)
				break
			}
		}
	}
	return result, nil
}

func (r *memRepo) ListPatientOverlapping(_ context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status != StatusCancelled && a.Overlaps(start, end) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *memRepo) FindPatientActiveWithPractitioner(_ context.Context, patientID, practitionerID uuid.UUID, dayStart, dayEnd time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.PatientID == patientID && a.PractitionerID == practitionerID &&
			a.Status != StatusCancelled &&
			!a.StartTime.Before(dayStart) && a.StartTime.Before(dayEnd) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetIdempotencyKey(_ context.Context, key string) (*uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.keys[key]
	if !ok {
		return nil, nil
	}
	found := id
	return &found, nil
}

func (r *memRepo) InsertIdempotencyKey(_ context.Context, tx Tx, key string, appointmentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[key]; exists {
		return ErrIdempotencyKeyTaken
	}
	mt := tx.(*memTx)
	if _, staged := mt.keys[key]; staged {
		return ErrIdempotencyKeyTaken
	}
	mt.keys[key] = appointmentID
	return nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) ListConfirmedBetween(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]availability.BookedWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []availability.BookedWindow
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Status == StatusConfirmed && a.Overlaps(from, to) {
			result = append(result, availability.BookedWindow{
				AppointmentID:   a.ID,
				Start:           a.StartTime,
				DurationMinutes: a.DurationMinutes,
			})
		}
	}
	return result, nil
}

func (r *memRepo) HasActiveOverlap(_ context.Context, practitionerID uuid.UUID, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Status != StatusCancelled && a.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

// memAbsences implements availability.AbsenceSource.
type memAbsences struct {
	absences []schedule.AbsencePeriod
}

func (m *memAbsences) ListAbsences(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]schedule.AbsencePeriod, error) {
	return m.absences, nil
}

// recordingNotifier counts calls per transition.
type recordingNotifier struct {
	mu        sync.Mutex
	created   []notify.AppointmentSnapshot
	validated []notify.AppointmentSnapshot
	cancelled []notify.AppointmentSnapshot
	proposals []notify.AppointmentSnapshot
}

func (n *recordingNotifier) NotifyCreated(_ context.Context, snap notify.AppointmentSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, snap)
}

func (n *recordingNotifier) NotifyValidated(_ context.Context, snap notify.AppointmentSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.validated = append(n.validated, snap)
}

func (n *recordingNotifier) NotifyCancelled(_ context.Context, snap notify.AppointmentSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, snap)
}

func (n *recordingNotifier) NotifyProposal(_ context.Context, snap notify.AppointmentSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proposals = append(n.proposals, snap)
}
