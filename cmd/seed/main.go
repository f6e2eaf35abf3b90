package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/db"
)

const (
	doctorCount   = 40
	userCount     = 2000
	productCount  = 120
	slotDays      = 7
	slotsPerDay   = 16
	slotLength    = 30 * time.Minute
	firstSlotHour = 9
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != config.BackendPostgres {
		log.Fatalf("seed needs STORAGE_BACKEND=postgres, got %s", cfg.StorageBackend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, doctorCount); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedUsers(context.Background(), pool, faker, userCount); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	if err := seedProducts(context.Background(), pool, faker, productCount); err != nil {
		log.Fatalf("seed products: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d doctors with %d days of slots", count, slotDays)

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

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, phone, role)
				VALUES ($1, $2, $3, $4, 'doctor')
			`, id, "Dr. "+faker.Name(), faker.Email(), faker.Phone())
			if err != nil {
				return err
			}

			// Roughly one in ten doctors is still awaiting approval.
			_, err = tx.Exec(ctx, `
				INSERT INTO doctor_profiles (user_id, specialization, fee, approved)
				VALUES ($1, $2, $3, $4)
			`, id, specialties[faker.Number(0, len(specialties)-1)], faker.Number(3, 15)*100, faker.Number(1, 10) > 1)
			if err != nil {
				return err
			}

			batch := &pgx.Batch{}
			for d := 0; d < slotDays; d++ {
				for s := 0; s < slotsPerDay; s++ {
					start := day.AddDate(0, 0, d).Add(time.Duration(firstSlotHour)*time.Hour + time.Duration(s)*slotLength)
					batch.Queue(`
						INSERT INTO availability_slots (id, doctor_id, start_time, end_time)
						VALUES ($1, $2, $3, $4)
						ON CONFLICT (doctor_id, start_time) DO NOTHING
					`, uuid.New(), id, start, start.Add(slotLength))
				}
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		log.Println("doctors seeded")
		return nil
	})
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d users", count)

	const batchSize = 500
	methods := []string{"UPI", "Card", "Cash"}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()

				_, err := tx.Exec(ctx, `
					INSERT INTO users (id, name, email, phone, role, default_payment_method)
					VALUES ($1, $2, $3, $4, 'user', $5)
				`, id, faker.Name(), faker.Email(), faker.Phone(), methods[faker.Number(0, len(methods)-1)])
				if err != nil {
					return err
				}

				addr := faker.Address()
				_, err = tx.Exec(ctx, `
					INSERT INTO user_addresses (id, user_id, label, line1, line2, city, state, pincode, lat, lng)
					VALUES ($1, $2, 'Home', $3, '', $4, $5, $6, $7, $8)
				`, uuid.New(), id, addr.Street, addr.City, addr.State, addr.Zip,
					// Around Bengaluru.
					12.9716+faker.Float64Range(-0.15, 0.15), 77.5946+faker.Float64Range(-0.15, 0.15))
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Printf("users seeded: %d/%d", end, count)
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d products", count)

	categories := []string{"Pain Relief", "Antibiotics", "Vitamins", "Diabetes", "Cold & Flu", "Skin Care", "Digestive"}
	suffixes := []string{"250mg", "500mg", "650mg", "10ml", "Syrup", "Gel", "Forte"}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			name := faker.LastName() + "ex " + suffixes[faker.Number(0, len(suffixes)-1)]
			_, err := tx.Exec(ctx, `
				INSERT INTO products (id, name, category, price, stock)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), name, categories[faker.Number(0, len(categories)-1)],
				float64(faker.Number(20, 900)), faker.Number(0, 60))
			if err != nil {
				return err
			}
		}

		log.Println("products seeded")
		return nil
	})
}
