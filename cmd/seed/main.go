package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logger"
	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

func main() {
	cfg, err := config.LoadDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()
	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	_ = gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(context.Background(), pool, log, 50)
	if err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedTemplates(context.Background(), appointment.NewPgRepository(pool), log, doctors); err != nil {
		log.Fatal("seed schedules", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, log, 5000); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, count int) ([]uuid.UUID, error) {
	log.Info("seeding doctors", zap.Int("count", count))

	specializations := []string{
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

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			// Fees are in minor units.
			fee := int64(gofakeit.Number(30, 150)) * 1000
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, specialization, consultation_fee, follow_up_fee, is_active)
				VALUES ($1, $2, $3, $4, $5, TRUE)
			`, id, gofakeit.Name(), gofakeit.RandomString(specializations), fee, fee*6/10)
			if err != nil {
				return fmt.Errorf("insert doctor: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("doctors seeded")
	return ids, nil
}

// seedTemplates gives every doctor a weekday template: a morning block, and on
// some days an afternoon block with group slots.
func seedTemplates(ctx context.Context, repo *appointment.PgRepository, log *zap.Logger, doctors []uuid.UUID) error {
	log.Info("seeding weekly schedules", zap.Int("count", len(doctors)))

	durations := []int{15, 20, 30}
	for _, id := range doctors {
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		days := make([]schedule.Day, 0, schedule.DaysPerWeek)
		for w := schedule.Sunday; w <= schedule.Saturday; w++ {
			day := schedule.Day{Weekday: w}
			if w >= schedule.Monday && w <= schedule.Friday {
				day.IsWorking = true
				day.Blocks = []schedule.Block{{
					StartTime:           schedule.NewTimeOfDay(9, 0),
					EndTime:             schedule.NewTimeOfDay(13, 0),
					SlotDurationMinutes: duration,
					MaxPatientsPerSlot:  1,
				}}
				if gofakeit.Bool() {
					day.Blocks = append(day.Blocks, schedule.Block{
						StartTime:           schedule.NewTimeOfDay(14, 0),
						EndTime:             schedule.NewTimeOfDay(17, 0),
						SlotDurationMinutes: 30,
						MaxPatientsPerSlot:  gofakeit.Number(1, 3),
						SlotType:            "walk-in",
					})
				}
			}
			days = append(days, day)
		}

		tpl, err := schedule.NewTemplate(id, days)
		if err != nil {
			return err
		}
		tpl.UpdatedAt = time.Now()
		if err := repo.SaveTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("save schedule for %s: %w", id, err)
		}
	}

	log.Info("weekly schedules seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, count int) error {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, name, email)
				VALUES ($1, $2, $3)
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert patients: %w", err)
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}
