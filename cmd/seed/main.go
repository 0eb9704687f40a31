package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicbot/internal/db"
)

var specializations = []string{
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

	gofakeit.Seed(time.Now().UnixNano())
	seedCtx := context.Background()

	clinicIDs, err := seedClinics(seedCtx, pool, 3)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	doctorIDs, err := seedDoctors(seedCtx, pool, clinicIDs, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedSlots(seedCtx, pool, doctorIDs, clinicIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}
	if err := seedRoot(seedCtx, pool); err != nil {
		log.Fatalf("seed root: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := fmt.Sprintf("%s Clinic", gofakeit.City())
		address := gofakeit.Street()

		_, err := pool.Exec(ctx, `
			INSERT INTO clinics (id, name, address, created_at)
			VALUES ($1, $2, $3, now())
		`, id, name, address)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		phone := gofakeit.Phone()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, role, full_name, phone, specialization, conversation, conversation_version, created_at, updated_at)
			VALUES ($1, 'DOCTOR', $2, $3, $4, '{}', 0, now(), now())
		`, id, name, phone, spec)
		if err != nil {
			return nil, err
		}

		// Each doctor works at one or two clinics.
		clinic := clinicIDs[gofakeit.Number(0, len(clinicIDs)-1)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_clinics (doctor_id, clinic_id) VALUES ($1, $2)
		`, id, clinic); err != nil {
			return nil, err
		}
		if gofakeit.Bool() {
			other := clinicIDs[gofakeit.Number(0, len(clinicIDs)-1)]
			if other != clinic {
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctor_clinics (doctor_id, clinic_id) VALUES ($1, $2)
				`, id, other); err != nil {
					return nil, err
				}
			}
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	log.Println("doctors seeded")
	return ids, nil
}

// seedSlots templates a working day of 30-minute slots per doctor for the
// next `days` days, weekends skipped.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs, clinicIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d doctors over %d days", len(doctorIDs), days)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	today := time.Now()
	for _, doctorID := range doctorIDs {
		clinic := clinicIDs[gofakeit.Number(0, len(clinicIDs)-1)]
		for d := 1; d <= days; d++ {
			day := today.AddDate(0, 0, d)
			if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
				continue
			}
			date := day.Format("2006-01-02")

			start := time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC)
			end := time.Date(0, 1, 1, 17, 0, 0, 0, time.UTC)
			for t := start; t.Before(end); t = t.Add(30 * time.Minute) {
				_, err := tx.Exec(ctx, `
					INSERT INTO schedule_slots (id, doctor_id, clinic_id, visit_date, start_time, end_time, duration_minutes, created_at)
					VALUES ($1, $2, $3, $4::date, $5::time, $6::time, 30, now())
				`, uuid.New(), doctorID, clinic, date, t.Format("15:04"), t.Add(30*time.Minute).Format("15:04"))
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Printf("slots seeded: %d", total)
	return nil
}

// seedRoot creates the bootstrap root account; chat_id is claimed on first
// /start from the matching phone.
func seedRoot(ctx context.Context, pool *pgxpool.Pool) error {
	phone := os.Getenv("ROOT_PHONE")
	if phone == "" {
		log.Println("ROOT_PHONE not set, skipping root account")
		return nil
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, role, full_name, phone, conversation, conversation_version, created_at, updated_at)
		VALUES ($1, 'ROOT', 'Root', $2, '{}', 0, now(), now())
		ON CONFLICT (phone) DO UPDATE SET role = 'ROOT'
	`, uuid.New(), phone)
	if err != nil {
		return err
	}
	log.Printf("root account ensured for %s", phone)
	return nil
}
