package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"immo-subscriptions/internal/config"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/infra/api"
	"immo-subscriptions/internal/infra/db/migration"
	"immo-subscriptions/internal/infra/db/postgres"
	"immo-subscriptions/internal/infra/redis"
	"immo-subscriptions/internal/infra/security"
)

// This script is for setting up a clean, predictable database state
// for manual end-to-end testing against the sandbox rails.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// --- Connect to Postgres ---
	if err := migration.Up(cfg.Database.URL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	pool, err := postgres.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	// 1. Clean the Redis cache: cached plans, rate-limit counters, locks.
	log.Println("[1/4] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	// 2. Clean the database completely.
	log.Println("[2/4] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `TRUNCATE payments, subscriptions, subscription_plans CASCADE;`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	// 3. Seed the database with the standard plans.
	log.Println("[3/4] Seeding standard plans...")
	seedPlans(ctx, pool, cfg.Payment.Currency)

	// 4. Print what a tester needs to drive the API by hand.
	log.Println("[4/4] Minting test credentials...")
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminRole)
	userTok, err := auth.Mint("e2e-user", "", 24*time.Hour)
	if err != nil {
		log.Fatalf("mint user token: %v", err)
	}
	adminTok, err := auth.Mint("e2e-admin", cfg.Auth.AdminRole, 24*time.Hour)
	if err != nil {
		log.Fatalf("mint admin token: %v", err)
	}
	fmt.Printf("user token:  %s\nadmin token: %s\n", userTok, adminTok)

	if cfg.Payment.Moov.Enabled {
		body, _ := json.Marshal(map[string]string{
			"transaction_id": "MOOV-000001",
			"status":         "SUCCESSFUL",
		})
		fmt.Printf("\nsample moov callback (first sandbox transaction):\n  body: %s\n  X-Signature: sha256=%s\n",
			body, security.SignPayload(cfg.Payment.Moov.WebhookSecret, body))
	}

	log.Println("--- E2E Environment Setup Complete ---")
}

func seedPlans(ctx context.Context, pool *pgxpool.Pool, currency string) {
	planRepo := postgres.NewPostgresPlanRepo(pool)
	for _, s := range []struct {
		id, name string
		price    int64
	}{
		{"starter", "Starter", 9_900},
		{"professionnel", "Professionnel", 20_000},
		{"entreprise", "Entreprise", 45_000},
	} {
		p, err := model.NewPlan(s.id, s.name, 30, s.price, currency)
		if err != nil {
			log.Fatalf("plan %s: %v", s.id, err)
		}
		if err := planRepo.Save(ctx, nil, p); err != nil {
			log.Printf("failed to save %s plan: %v", s.id, err)
		}
	}
}
