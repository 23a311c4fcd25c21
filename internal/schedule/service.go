package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidWeekday     = errors.New("weekday must be between 1 (Monday) and 7 (Sunday)")
	ErrInvalidTimeWindow  = errors.New("start time must be before end time")
	ErrTemplateOverlap    = errors.New("template overlaps an existing one for the same weekday and scope")
	ErrAbsenceOverlap     = errors.New("absence period overlaps an existing one")
	ErrInvalidDateRange   = errors.New("start date must not be after end date")
	ErrMissingValidityWindow = errors.New("override template requires a valid-from date")
)

// AbsenceConflictError is returned when an absence period would cover
// dates that already have non-cancelled appointments.
type AbsenceConflictError struct {
	AppointmentCount int
}

func (e *AbsenceConflictError) Error() string {
	return fmt.Sprintf("%d appointment(s) already scheduled in the requested absence range", e.AppointmentCount)
}

// Service owns writes to slot templates and absence periods. The
// availability calculator consumes both read-only.
type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

type TemplateParams struct {
	PractitionerID      uuid.UUID
	Weekday             int
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	Kind                TemplateKind
	ValidFrom           *time.Time
	ValidTo             *time.Time
}

func (s *Service) CreateTemplate(ctx context.Context, p TemplateParams) (*WeeklySlotTemplate, error) {
	t := WeeklySlotTemplate{
		ID:                  uuid.New(),
		PractitionerID:      p.PractitionerID,
		Weekday:             p.Weekday,
		StartMinute:         p.StartMinute,
		EndMinute:           p.EndMinute,
		SlotDurationMinutes: p.SlotDurationMinutes,
		Active:              true,
		Kind:                p.Kind,
		ValidFrom:           p.ValidFrom,
		ValidTo:             p.ValidTo,
	}

	if err := s.validateTemplate(ctx, t, uuid.Nil); err != nil {
		return nil, err
	}

	created, err := s.repo.InsertTemplate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	s.log.Info("slot template created",
		zap.String("template_id", created.ID.String()),
		zap.String("practitioner_id", created.PractitionerID.String()),
		zap.Int("weekday", created.Weekday),
		zap.String("kind", string(created.Kind)),
	)

	return created, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, p TemplateParams) (*WeeklySlotTemplate, error) {
	existing, err := s.repo.GetTemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Weekday = p.Weekday
	existing.StartMinute = p.StartMinute
	existing.EndMinute = p.EndMinute
	existing.SlotDurationMinutes = p.SlotDurationMinutes
	existing.ValidFrom = p.ValidFrom
	existing.ValidTo = p.ValidTo

	if err := s.validateTemplate(ctx, *existing, id); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateTemplate(ctx, *existing)
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return updated, nil
}

func (s *Service) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetTemplateActive(ctx, id, false)
}

func (s *Service) ListTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklySlotTemplate, error) {
	return s.repo.ListTemplates(ctx, practitionerID)
}

// validateTemplate enforces the same-scope overlap invariant: within the
// same weekday, standing templates must not overlap each other, and
// override templates must not overlap other overrides whose validity
// ranges intersect. Standing vs override overlap is allowed (override
// wins at computation time).
func (s *Service) validateTemplate(ctx context.Context, t WeeklySlotTemplate, skipID uuid.UUID) error {
	if t.Weekday < 1 || t.Weekday > 7 {
		return ErrInvalidWeekday
	}
	if t.StartMinute >= t.EndMinute {
		return ErrInvalidTimeWindow
	}
	if t.Kind == KindOverride && t.ValidFrom == nil {
		return ErrMissingValidityWindow
	}

	others, err := s.repo.ListTemplates(ctx, t.PractitionerID)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}

	for _, o := range others {
		if o.ID == skipID || !o.Active || o.Weekday != t.Weekday || o.Kind != t.Kind {
			continue
		}
		if t.Kind == KindOverride && !validityRangesIntersect(t, o) {
			continue
		}
		if t.StartMinute < o.EndMinute && o.StartMinute < t.EndMinute {
			return ErrTemplateOverlap
		}
	}

	return nil
}

func validityRangesIntersect(a, b WeeklySlotTemplate) bool {
	// nil ValidTo means open-ended
	if a.ValidTo != nil && b.ValidFrom != nil && a.ValidTo.Before(*b.ValidFrom) {
		return false
	}
	if b.ValidTo != nil && a.ValidFrom != nil && b.ValidTo.Before(*a.ValidFrom) {
		return false
	}
	return true
}

type AbsenceParams struct {
	PractitionerID uuid.UUID
	StartDate      time.Time
	EndDate        time.Time
	Kind           string
	Reason         string
	WholeDay       bool
}

func (s *Service) CreateAbsence(ctx context.Context, p AbsenceParams) (*AbsencePeriod, error) {
	if p.StartDate.After(p.EndDate) {
		return nil, ErrInvalidDateRange
	}

	existing, err := s.repo.ListAbsences(ctx, p.PractitionerID, p.StartDate, p.EndDate)
	if err != nil {
		return nil, fmt.Errorf("list absences: %w", err)
	}
	for _, a := range existing {
		if a.Overlaps(p.StartDate, p.EndDate) {
			return nil, ErrAbsenceOverlap
		}
	}

	count, err := s.repo.CountActiveAppointments(ctx, p.PractitionerID, p.StartDate, p.EndDate)
	if err != nil {
		return nil, fmt.Errorf("count appointments in range: %w", err)
	}
	if count > 0 {
		return nil, &AbsenceConflictError{AppointmentCount: count}
	}

	created, err := s.repo.InsertAbsence(ctx, AbsencePeriod{
		ID:             uuid.New(),
		PractitionerID: p.PractitionerID,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		Kind:           p.Kind,
		Reason:         p.Reason,
		WholeDay:       p.WholeDay,
	})
	if err != nil {
		return nil, fmt.Errorf("insert absence: %w", err)
	}

	s.log.Info("absence period created",
		zap.String("absence_id", created.ID.String()),
		zap.String("practitioner_id", created.PractitionerID.String()),
		zap.Time("start_date", created.StartDate),
		zap.Time("end_date", created.EndDate),
	)

	return created, nil
}

func (s *Service) DeleteAbsence(ctx context.Context, id, practitionerID uuid.UUID) error {
	return s.repo.DeleteAbsence(ctx, id, practitionerID)
}

func (s *Service) ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]AbsencePeriod, error) {
	return s.repo.ListAbsences(ctx, practitionerID, from, to)
}
