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

	"github.com/careops/hospital-scheduling/internal/db"
)

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

	if err := seedResources(context.Background(), pool); err != nil {
		log.Fatalf("seed resources: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedResources(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	specialties := []string{
		"Internal Medicine",
		"Orthopedics",
		"Neurology",
		"Rehabilitation Medicine",
		"Family Medicine",
	}

	insert := func(kind, name string, order int) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO resource_instances (id, kind, name, display_order, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
		`, uuid.New(), kind, name, order)
		return err
	}

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("Dr. %s (%s)", gofakeit.LastName(), specialties[i%len(specialties)])
		if err := insert("doctor", name, i+1); err != nil {
			return err
		}
	}
	for i := 0; i < 6; i++ {
		if err := insert("room", fmt.Sprintf("Treatment Room %d", i+1), i+1); err != nil {
			return err
		}
	}
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("%s %s (PT)", gofakeit.FirstName(), gofakeit.LastName())
		if err := insert("therapist", name, i+1); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("resources seeded")
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
			birthDate := gofakeit.DateRange(
				time.Date(1935, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2015, 12, 31, 0, 0, 0, 0, time.UTC),
			)

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, birth_date, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), birthDate)
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
