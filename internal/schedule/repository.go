package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTemplateNotFound = errors.New("slot template not found")
	ErrAbsenceNotFound  = errors.New("absence period not found")
)

// Repository contains all DB interactions needed by the schedule service
// and the availability calculator's read side.
type Repository interface {
	// Templates
	ListTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklySlotTemplate, error)
	GetTemplateByID(ctx context.Context, id uuid.UUID) (*WeeklySlotTemplate, error)
	InsertTemplate(ctx context.Context, t WeeklySlotTemplate) (*WeeklySlotTemplate, error)
	UpdateTemplate(ctx context.Context, t WeeklySlotTemplate) (*WeeklySlotTemplate, error)
	SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error

	// Absences
	ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]AbsencePeriod, error)
	InsertAbsence(ctx context.Context, a AbsencePeriod) (*AbsencePeriod, error)
	DeleteAbsence(ctx context.Context, id, practitionerID uuid.UUID) error

	// Absence creation must be refused when appointments already occupy
	// the range; the count is surfaced to the caller.
	CountActiveAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (int, error)
}
