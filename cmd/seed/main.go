package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caremesh/scheduling/internal/db"
	"github.com/caremesh/scheduling/internal/schedule"
)

// Seeds weekly slot templates and absence periods for a set of
// practitioner ids. Practitioners themselves live in an external
// directory; only their ids are referenced here.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	practitioners := make([]uuid.UUID, 0, 20)
	for i := 0; i < 20; i++ {
		practitioners = append(practitioners, uuid.New())
	}

	if err := seedTemplates(context.Background(), pool, practitioners); err != nil {
		log.Fatalf("seed templates: %v", err)
	}
	if err := seedAbsences(context.Background(), pool, practitioners); err != nil {
		log.Fatalf("seed absences: %v", err)
	}

	for _, id := range practitioners {
		log.Printf("practitioner %s", id)
	}
	log.Println("seed complete")
}

func seedTemplates(ctx context.Context, pool *pgxpool.Pool, practitioners []uuid.UUID) error {
	log.Printf("seeding templates for %d practitioners", len(practitioners))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	durations := []int{15, 20, 30, 45}

	for _, practitionerID := range practitioners {
		slotMinutes := durations[gofakeit.Number(0, len(durations)-1)]

		// Standing morning and afternoon windows, Monday to Friday.
		for weekday := 1; weekday <= 5; weekday++ {
			windows := [][2]int{{9 * 60, 12 * 60}, {14 * 60, 18 * 60}}
			for _, w := range windows {
				if err := insertTemplate(ctx, tx, schedule.WeeklySlotTemplate{
					ID:                  uuid.New(),
					PractitionerID:      practitionerID,
					Weekday:             weekday,
					StartMinute:         w[0],
					EndMinute:           w[1],
					SlotDurationMinutes: slotMinutes,
					Active:              true,
					Kind:                schedule.KindStanding,
				}); err != nil {
					return err
				}
			}
		}

		// One short override week for a third of the practitioners.
		if gofakeit.Number(0, 2) == 0 {
			from := time.Now().AddDate(0, 0, gofakeit.Number(7, 21))
			to := from.AddDate(0, 0, 4)
			if err := insertTemplate(ctx, tx, schedule.WeeklySlotTemplate{
				ID:                  uuid.New(),
				PractitionerID:      practitionerID,
				Weekday:             1,
				StartMinute:         10 * 60,
				EndMinute:           13 * 60,
				SlotDurationMinutes: slotMinutes,
				Active:              true,
				Kind:                schedule.KindOverride,
				ValidFrom:           &from,
				ValidTo:             &to,
			}); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func insertTemplate(ctx context.Context, tx pgx.Tx, t schedule.WeeklySlotTemplate) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO weekly_slot_templates
			(id, practitioner_id, weekday, start_minute, end_minute,
			 slot_duration_minutes, active, kind, valid_from, valid_to,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, t.ID, t.PractitionerID, t.Weekday, t.StartMinute, t.EndMinute,
		t.SlotDurationMinutes, t.Active, t.Kind, t.ValidFrom, t.ValidTo)
	return err
}

func seedAbsences(ctx context.Context, pool *pgxpool.Pool, practitioners []uuid.UUID) error {
	log.Println("seeding absences")

	kinds := []string{"vacation", "sick_leave", "training", "conference"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, practitionerID := range practitioners {
		if gofakeit.Number(0, 3) != 0 {
			continue
		}
		start := time.Now().AddDate(0, 0, gofakeit.Number(10, 40))
		end := start.AddDate(0, 0, gofakeit.Number(1, 7))

		_, err := tx.Exec(ctx, `
			INSERT INTO absence_periods
				(id, practitioner_id, start_date, end_date, kind, reason, whole_day, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, true, now())
		`, uuid.New(), practitionerID, start, end,
			kinds[gofakeit.Number(0, len(kinds)-1)], gofakeit.Sentence(6))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
