package slotlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes treated as a lost insert race.
const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const lockColumns = `
	id, practitioner_id, start_time, duration_minutes,
	holder_id, token, expires_at, created_at
`

func scanLock(row pgx.Row) (*SlotLock, error) {
	var l SlotLock

	err := row.Scan(
		&l.ID,
		&l.PractitionerID,
		&l.StartTime,
		&l.DurationMinutes,
		&l.HolderID,
		&l.Token,
		&l.ExpiresAt,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, err
	}

	return &l, nil
}

func (s *PgStore) Insert(ctx context.Context, lock SlotLock) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slot_locks
			(id, practitioner_id, start_time, duration_minutes,
			 holder_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, lock.ID, lock.PractitionerID, lock.StartTime, lock.DurationMinutes,
		lock.HolderID, lock.Token, lock.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == codeExclusionViolation || pgErr.Code == codeUniqueViolation) {
			return ErrWindowTaken
		}
		return err
	}
	return nil
}

func (s *PgStore) FindOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end, now time.Time) (*SlotLock, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+lockColumns+`
		FROM slot_locks
		WHERE practitioner_id = $1
		  AND expires_at > $2
		  AND start_time < $3
		  AND start_time + make_interval(mins => duration_minutes) > $4
		ORDER BY created_at
		LIMIT 1
	`, practitionerID, now, end, start)

	l, err := scanLock(row)
	if errors.Is(err, ErrLockNotFound) {
		return nil, nil
	}
	return l, err
}

func (s *PgStore) GetByToken(ctx context.Context, token uuid.UUID) (*SlotLock, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+lockColumns+`
		FROM slot_locks
		WHERE token = $1
	`, token)
	return scanLock(row)
}

func (s *PgStore) DeleteByToken(ctx context.Context, token, holderID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM slot_locks
		WHERE token = $1 AND holder_id = $2
	`, token, holderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) UpdateExpiry(ctx context.Context, token uuid.UUID, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slot_locks
		SET expires_at = $2
		WHERE token = $1
	`, token, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (s *PgStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM slot_locks
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) ListUnexpired(ctx context.Context, practitionerID uuid.UUID, from, to, now time.Time) ([]SlotLock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lockColumns+`
		FROM slot_locks
		WHERE practitioner_id = $1
		  AND expires_at > $2
		  AND start_time < $3
		  AND start_time + make_interval(mins => duration_minutes) > $4
		ORDER BY start_time
	`, practitionerID, now, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
