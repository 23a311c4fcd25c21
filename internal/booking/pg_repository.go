package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caremesh/scheduling/internal/availability"
)

const codeUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (r *PgRepository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

const appointmentColumns = `
	id, patient_id, practitioner_id, service_id, start_time,
	duration_minutes, status, kind, reason, notes,
	created_at, updated_at, cancelled_at, cancelled_by,
	cancellation_reason, notified
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var cancelledAt *time.Time
	var cancelledBy *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.ServiceID,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.Kind,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&cancelledAt,
		&cancelledBy,
		&a.CancellationReason,
		&a.Notified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.CancelledAt = cancelledAt
	a.CancelledBy = cancelledBy
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Insert(ctx context.Context, tx Tx, a Appointment) (*Appointment, error) {
	p, ok := tx.(*pgTx)
	if !ok {
		return nil, errors.New("insert requires a postgres transaction")
	}

	row := p.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, practitioner_id, service_id, start_time,
			 duration_minutes, status, kind, reason, notes,
			 created_at, updated_at, notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now(), false)
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.PractitionerID, a.ServiceID, a.StartTime,
		a.DurationMinutes, a.Status, a.Kind, a.Reason, a.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    duration_minutes = $3,
		    status = $4,
		    reason = $5,
		    notes = $6,
		    cancelled_at = $7,
		    cancelled_by = $8,
		    cancellation_reason = $9,
		    notified = $10,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.StartTime, a.DurationMinutes, a.Status, a.Reason, a.Notes,
		a.CancelledAt, a.CancelledBy, a.CancellationReason, a.Notified)

	return scanAppointment(row)
}

func (r *PgRepository) ListOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, statuses []Status) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_time < $2
		  AND start_time + make_interval(mins => duration_minutes) > $3
	`
	args := []any{practitionerID, end, start}

	if len(statuses) > 0 {
		vals := make([]string, len(statuses))
		for i, st := range statuses {
			vals[i] = string(st)
		}
		query += ` AND status = ANY($4)`
		args = append(args, vals)
	} else {
		query += ` AND status <> 'cancelled'`
	}
	query += ` ORDER BY start_time`

	return r.queryAppointments(ctx, query, args...)
}

func (r *PgRepository) ListPatientOverlapping(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $2
		  AND start_time + make_interval(mins => duration_minutes) > $3
		ORDER BY start_time
	`, patientID, end, start)
}

func (r *PgRepository) FindPatientActiveWithPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID, dayStart, dayEnd time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND practitioner_id = $2
		  AND status <> 'cancelled'
		  AND start_time >= $3
		  AND start_time < $4
		ORDER BY start_time
		LIMIT 1
	`, patientID, practitionerID, dayStart, dayEnd)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *PgRepository) GetIdempotencyKey(ctx context.Context, key string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (r *PgRepository) InsertIdempotencyKey(ctx context.Context, tx Tx, key string, appointmentID uuid.UUID) error {
	p, ok := tx.(*pgTx)
	if !ok {
		return errors.New("insert requires a postgres transaction")
	}

	_, err := p.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, appointment_id, created_at)
		VALUES ($1, $2, now())
	`, key, appointmentID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return ErrIdempotencyKeyTaken
		}
		return err
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, ev.EventType, ev.AppointmentID, ev.Payload)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) ListConfirmedBetween(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]availability.BookedWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, start_time, duration_minutes
		FROM appointments
		WHERE practitioner_id = $1
		  AND status = 'confirmed'
		  AND start_time < $2
		  AND start_time + make_interval(mins => duration_minutes) > $3
		ORDER BY start_time
	`, practitionerID, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.BookedWindow
	for rows.Next() {
		var w availability.BookedWindow
		if err := rows.Scan(&w.AppointmentID, &w.Start, &w.DurationMinutes); err != nil {
			return nil, err
		}
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) HasActiveOverlap(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE practitioner_id = $1
			  AND status <> 'cancelled'
			  AND start_time < $2
			  AND start_time + make_interval(mins => duration_minutes) > $3
		)
	`, practitionerID, end, start).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) queryAppointments(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
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
