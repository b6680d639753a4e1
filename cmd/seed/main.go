package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/token-scheduling/internal/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS clinics (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS doctors (
		id uuid PRIMARY KEY,
		clinic_id uuid NOT NULL REFERENCES clinics(id),
		name text NOT NULL,
		specialty text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		email text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id uuid PRIMARY KEY,
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		clinic_id uuid NOT NULL REFERENCES clinics(id),
		kind text NOT NULL,
		weekdays integer[] NOT NULL DEFAULT '{}',
		start_minute integer NOT NULL,
		end_minute integer NOT NULL,
		break_start_minute integer,
		break_end_minute integer,
		effective_from date NOT NULL,
		effective_to date,
		duration_policy text NOT NULL,
		duration_minutes integer,
		target_tokens_per_day integer,
		calculated_duration_minutes integer,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		CHECK (start_minute < end_minute),
		CHECK (break_start_minute IS NULL OR (
			break_start_minute < break_end_minute
			AND break_start_minute >= start_minute
			AND break_end_minute <= end_minute)),
		CHECK (effective_to IS NULL OR effective_to >= effective_from)
	)`,
	`CREATE TABLE IF NOT EXISTS unavailability (
		id uuid PRIMARY KEY,
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		date date NOT NULL,
		start_minute integer,
		end_minute integer,
		kind text NOT NULL,
		reason text NOT NULL DEFAULT '',
		recurring boolean NOT NULL DEFAULT false,
		recurrence_end date,
		created_at timestamptz NOT NULL DEFAULT now(),
		CHECK (NOT recurring OR recurrence_end >= date)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id uuid PRIMARY KEY,
		doctor_id uuid NOT NULL REFERENCES doctors(id),
		patient_id uuid NOT NULL REFERENCES patients(id),
		clinic_id uuid NOT NULL REFERENCES clinics(id),
		date date NOT NULL,
		start_minute integer NOT NULL,
		duration_minutes integer NOT NULL,
		token_number integer NOT NULL,
		status text NOT NULL,
		duration_overridden boolean NOT NULL DEFAULT false,
		original_duration_minutes integer,
		override_reason text,
		expires_at timestamptz,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	// One active appointment per (doctor, date, time); cancelled and no-show
	// rows free the slot for rebooking under the same token.
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_slot_idx
		ON appointments (doctor_id, date, start_minute)
		WHERE status NOT IN ('cancelled', 'no_show')`,
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := applySchema(context.Background(), pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	clinicID, err := seedClinic(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed clinic: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, clinicID, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, clinicID, doctorIDs); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Println("schema applied")
	return nil
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	id := uuid.New()
	name := gofakeit.Company() + " Clinic"

	_, err := pool.Exec(ctx, `
		INSERT INTO clinics (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
	`, id, name)
	if err != nil {
		return uuid.Nil, err
	}

	log.Printf("clinic seeded: %s", name)
	return id, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) ([]uuid.UUID, error) {
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
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, clinicID, name, spec)
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

func seedSchedules(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, doctorIDs []uuid.UUID) error {
	log.Printf("seeding schedules for %d doctors", len(doctorIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		// Mon-Fri 08:00-16:00 with a 12:00-13:00 break; half the doctors run
		// on an explicit 30 min duration, the rest on a daily token target.
		policy := "direct"
		var duration, target *int
		if gofakeit.Bool() {
			d := 30
			duration = &d
		} else {
			policy = "token_based"
			t := gofakeit.Number(10, 20)
			target = &t
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO schedules (
				id, doctor_id, clinic_id, kind, weekdays,
				start_minute, end_minute, break_start_minute, break_end_minute,
				effective_from, duration_policy, duration_minutes,
				target_tokens_per_day, active, created_at, updated_at
			)
			VALUES ($1, $2, $3, 'regular', $4, $5, $6, $7, $8, $9, $10, $11, $12, true, now(), now())
		`, uuid.New(), doctorID, clinicID,
			[]int32{1, 2, 3, 4, 5},
			8*60, 16*60, 12*60, 13*60,
			time.Now().AddDate(0, -1, 0),
			policy, duration, target)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("schedules seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
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

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
