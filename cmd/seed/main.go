package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	repo := appointment.NewPgRepository(pool, cfg.Location)

	doctors, err := seedDoctors(context.Background(), pool, logger, 100)
	if err != nil {
		logger.Fatalf("seed doctors: %v", err)
	}
	if err := seedAvailability(context.Background(), repo, logger, doctors); err != nil {
		logger.Fatalf("seed availability: %v", err)
	}
	if err := seedPatients(context.Background(), pool, logger, 9000); err != nil {
		logger.Fatalf("seed patients: %v", err)
	}

	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, logger *logrus.Logger, count int) ([]uuid.UUID, error) {
	logger.Infof("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded")
	return ids, nil
}

// weekdayTemplate is a morning and an afternoon session on Monday to Friday.
// Every fifth doctor also works Saturday mornings.
func weekdayTemplate(saturday bool, slotMinutes int) schedule.Template {
	var tmpl schedule.Template
	for day := time.Monday; day <= time.Friday; day++ {
		tmpl = append(tmpl,
			schedule.AvailabilityEntry{
				Day:                 day,
				StartTime:           schedule.MustParseClock("09:00"),
				EndTime:             schedule.MustParseClock("12:00"),
				SlotDurationMinutes: slotMinutes,
				IsAvailable:         true,
			},
			schedule.AvailabilityEntry{
				Day:                 day,
				StartTime:           schedule.MustParseClock("14:00"),
				EndTime:             schedule.MustParseClock("17:00"),
				SlotDurationMinutes: slotMinutes,
				IsAvailable:         true,
			},
		)
	}
	tmpl = append(tmpl, schedule.AvailabilityEntry{
		Day:                 time.Saturday,
		StartTime:           schedule.MustParseClock("10:00"),
		EndTime:             schedule.MustParseClock("13:00"),
		SlotDurationMinutes: slotMinutes,
		IsAvailable:         saturday,
	})
	return tmpl
}

func seedAvailability(ctx context.Context, repo *appointment.PgRepository, logger *logrus.Logger, doctors []uuid.UUID) error {
	durations := []int{15, 20, 30, 45}

	for i, id := range doctors {
		tmpl := weekdayTemplate(i%5 == 0, durations[gofakeit.Number(0, len(durations)-1)])
		if err := repo.ReplaceAvailability(ctx, id, tmpl); err != nil {
			return err
		}
	}

	logger.WithField("doctors", len(doctors)).Info("availability seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, logger *logrus.Logger, count int) error {
	logger.Infof("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Infof("patients seeded: %d/%d", end, count)
	}

	logger.Info("patients seeded")
	return nil
}
