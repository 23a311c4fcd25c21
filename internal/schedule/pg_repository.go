package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const templateColumns = `
	id, practitioner_id, weekday, start_minute, end_minute,
	slot_duration_minutes, active, kind, valid_from, valid_to,
	created_at, updated_at
`

func scanTemplate(row pgx.Row) (*WeeklySlotTemplate, error) {
	var t WeeklySlotTemplate
	var validFrom, validTo *time.Time

	err := row.Scan(
		&t.ID,
		&t.PractitionerID,
		&t.Weekday,
		&t.StartMinute,
		&t.EndMinute,
		&t.SlotDurationMinutes,
		&t.Active,
		&t.Kind,
		&validFrom,
		&validTo,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	t.ValidFrom = validFrom
	t.ValidTo = validTo
	return &t, nil
}

func scanAbsence(row pgx.Row) (*AbsencePeriod, error) {
	var a AbsencePeriod

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.StartDate,
		&a.EndDate,
		&a.Kind,
		&a.Reason,
		&a.WholeDay,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAbsenceNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) ListTemplates(ctx context.Context, practitionerID uuid.UUID) ([]WeeklySlotTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM weekly_slot_templates
		WHERE practitioner_id = $1
		ORDER BY weekday, start_minute
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WeeklySlotTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*WeeklySlotTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM weekly_slot_templates
		WHERE id = $1
	`, id)
	return scanTemplate(row)
}

func (r *PgRepository) InsertTemplate(ctx context.Context, t WeeklySlotTemplate) (*WeeklySlotTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_slot_templates
			(id, practitioner_id, weekday, start_minute, end_minute,
			 slot_duration_minutes, active, kind, valid_from, valid_to,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+templateColumns+`
	`, t.ID, t.PractitionerID, t.Weekday, t.StartMinute, t.EndMinute,
		t.SlotDurationMinutes, t.Active, t.Kind, t.ValidFrom, t.ValidTo)

	return scanTemplate(row)
}

func (r *PgRepository) UpdateTemplate(ctx context.Context, t WeeklySlotTemplate) (*WeeklySlotTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE weekly_slot_templates
		SET weekday = $2,
		    start_minute = $3,
		    end_minute = $4,
		    slot_duration_minutes = $5,
		    active = $6,
		    valid_from = $7,
		    valid_to = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+templateColumns+`
	`, t.ID, t.Weekday, t.StartMinute, t.EndMinute,
		t.SlotDurationMinutes, t.Active, t.ValidFrom, t.ValidTo)

	return scanTemplate(row)
}

func (r *PgRepository) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE weekly_slot_templates
		SET active = $2, updated_at = now()
		WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *PgRepository) ListAbsences(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]AbsencePeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, start_date, end_date, kind, reason, whole_day, created_at
		FROM absence_periods
		WHERE practitioner_id = $1
		  AND end_date >= $2::date
		  AND start_date <= $3::date
		ORDER BY start_date
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AbsencePeriod
	for rows.Next() {
		a, err := scanAbsence(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertAbsence(ctx context.Context, a AbsencePeriod) (*AbsencePeriod, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO absence_periods
			(id, practitioner_id, start_date, end_date, kind, reason, whole_day, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, practitioner_id, start_date, end_date, kind, reason, whole_day, created_at
	`, a.ID, a.PractitionerID, a.StartDate, a.EndDate, a.Kind, a.Reason, a.WholeDay)

	return scanAbsence(row)
}

func (r *PgRepository) DeleteAbsence(ctx context.Context, id, practitionerID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM absence_periods
		WHERE id = $1 AND practitioner_id = $2
	`, id, practitionerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAbsenceNotFound
	}
	return nil
}

func (r *PgRepository) CountActiveAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE practitioner_id = $1
		  AND status NOT IN ('cancelled')
		  AND start_time >= $2
		  AND start_time < $3
	`, practitionerID, from, to.AddDate(0, 0, 1)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
