package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/criadorlab/planner/backend/internal/vocab"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

type planSeed struct {
	id          string
	name        string
	description string
	priceCents  int
	interval    string
}

var defaultPlans = []planSeed{
	{"free", "Free", "Weekly grid with read-only insights", 0, "month"},
	{"pro", "Pro", "Editable planner, AI generation, advanced insights", 2990, "month"},
	{"studio", "Studio", "Everything in Pro with unlimited generation", 7990, "month"},
}

func seedPlans(ctx context.Context, db *sql.DB) (int, error) {
	inserted := 0
	for _, p := range defaultPlans {
		res, err := db.ExecContext(ctx, `
			INSERT INTO public.billing_plans (id, name, description, price_cents, currency, interval, is_active)
			VALUES ($1, $2, $3, $4, 'brl', $5, true)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				price_cents = EXCLUDED.price_cents,
				interval = EXCLUDED.interval
		`, p.id, p.name, p.description, p.priceCents, p.interval)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	ctx := context.Background()

	nPlans, err := seedPlans(ctx, db)
	if err != nil {
		log.Fatalf("Failed to seed billing plans: %v", err)
	}
	log.Printf("[ManagePlans] billing plans upserted=%d", nPlans)

	nTerms, err := vocab.Seed(ctx, db)
	if err != nil {
		log.Fatalf("Failed to seed vocabulary: %v", err)
	}
	log.Printf("[ManagePlans] vocabulary terms inserted=%d", nTerms)
}
