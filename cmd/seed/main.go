package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/clinic-scheduling/internal/db"
)

// Seeds a demo tenant with doctors, patients and weekly availability rules so
// the API and the simulator have something to book against.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	tenantID := uuid.New()
	log.Printf("seeding tenant %s", tenantID)

	doctors, err := seedDoctors(context.Background(), pool, tenantID, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, tenantID, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, tenantID, doctors); err != nil {
		log.Fatalf("seed availability: %v", err)
	}

	log.Printf("seed complete; tenant_id=%s", tenantID)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

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
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, tenant_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, tenantID, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, count int) error {
	log.Printf("seeding %d patients", count)

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
				INSERT INTO patients (id, tenant_id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, tenantID, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return nil
}

// seedAvailability gives every doctor a Monday-to-Friday morning rule and a
// random subset an afternoon rule, all effective from today and open-ended.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, doctors []uuid.UUID) error {
	log.Printf("seeding availability rules for %d doctors", len(doctors))

	today := time.Now().UTC().Truncate(24 * time.Hour)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := func(doctorID uuid.UUID, day, startMin, endMin, slotMin, bufferMin, capacity int) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO doctor_availability (
				id, tenant_id, doctor_id, day_of_week, start_minutes, end_minutes,
				slot_duration_minutes, buffer_time_minutes, max_patients_per_slot,
				availability_type, effective_from, effective_to, notes, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'regular', $10, NULL, '', now(), now())
		`, uuid.New(), tenantID, doctorID, day, startMin, endMin, slotMin, bufferMin, capacity, today)
		return err
	}

	for _, doc := range doctors {
		slotMin := []int{15, 20, 30}[gofakeit.Number(0, 2)]
		bufferMin := []int{0, 5, 10}[gofakeit.Number(0, 2)]
		capacity := gofakeit.Number(1, 3)

		for day := 1; day <= 5; day++ {
			// Morning 09:00-12:00.
			if err := insert(doc, day, 9*60, 12*60, slotMin, bufferMin, capacity); err != nil {
				return err
			}
			// Some doctors also take afternoons 14:00-17:00.
			if gofakeit.Bool() {
				if err := insert(doc, day, 14*60, 17*60, slotMin, bufferMin, capacity); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("availability rules seeded")
	return nil
}
