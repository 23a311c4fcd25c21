package schedule

import (
	"time"

	"github.com/google/uuid"
)

type TemplateKind string

const (
	// KindStanding applies every matching weekday with no end date.
	KindStanding TemplateKind = "standing"
	// KindOverride applies only within its [ValidFrom, ValidTo] date range
	// and supersedes the standing template for the days it covers.
	KindOverride TemplateKind = "override"
)

// WeeklySlotTemplate is a recurring availability rule for one practitioner.
// Weekday is ISO: 1=Monday .. 7=Sunday. Start/End are minutes from midnight.
type WeeklySlotTemplate struct {
	ID                  uuid.UUID
	PractitionerID      uuid.UUID
	Weekday             int
	StartMinute         int
	EndMinute           int
	SlotDurationMinutes int
	Active              bool
	Kind                TemplateKind
	ValidFrom           *time.Time // override only
	ValidTo             *time.Time // override only; nil = open-ended
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CoversDate reports whether the template applies on the given calendar day.
func (t WeeklySlotTemplate) CoversDate(day time.Time) bool {
	if isoWeekday(day) != t.Weekday {
		return false
	}
	if t.Kind == KindStanding {
		return true
	}
	d := truncateToDay(day)
	if t.ValidFrom != nil && d.Before(truncateToDay(*t.ValidFrom)) {
		return false
	}
	if t.ValidTo != nil && d.After(truncateToDay(*t.ValidTo)) {
		return false
	}
	return true
}

// AbsencePeriod blocks a practitioner for an inclusive date range.
type AbsencePeriod struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartDate      time.Time // inclusive
	EndDate        time.Time // inclusive
	Kind           string
	Reason         string
	WholeDay       bool
	CreatedAt      time.Time
}

// Covers reports whether day falls inside the absence period.
func (a AbsencePeriod) Covers(day time.Time) bool {
	d := truncateToDay(day)
	return !d.Before(truncateToDay(a.StartDate)) && !d.After(truncateToDay(a.EndDate))
}

// Overlaps reports whether two inclusive date ranges intersect.
func (a AbsencePeriod) Overlaps(start, end time.Time) bool {
	return !truncateToDay(a.EndDate).Before(truncateToDay(start)) &&
		!truncateToDay(a.StartDate).After(truncateToDay(end))
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
