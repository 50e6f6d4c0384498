package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"immo-subscriptions/internal/config"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/infra/api"
	pg "immo-subscriptions/internal/infra/db/postgres"
	"immo-subscriptions/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	tokenFor := flag.String("token", "", "also print a bearer token for this user id")
	role := flag.String("role", "", "role claim of the printed token (e.g. admin)")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPostgresPlanRepo(pool))

	plans, err := planUC.List(ctx)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s (id=%s, days=%d, price=%d %s)\n", p.Name, p.ID, p.DurationDays, p.Price, p.Currency)
		}
	} else {
		seed := []struct {
			ID, Name string
			Days     int
			Price    int64
		}{
			{"starter", "Starter", 30, 9_900},
			{"professionnel", "Professionnel", 30, 20_000},
			{"entreprise", "Entreprise", 30, 45_000},
		}
		for _, s := range seed {
			p, err := model.NewPlan(s.ID, s.Name, s.Days, s.Price, cfg.Payment.Currency)
			if err != nil {
				log.Fatalf("plan %q: %v", s.ID, err)
			}
			if err := planUC.Create(ctx, p); err != nil {
				log.Fatalf("create plan %q: %v", s.ID, err)
			}
			fmt.Printf("seeded: %s (id=%s, days=%d, price=%d %s)\n", p.Name, p.ID, p.DurationDays, p.Price, p.Currency)
		}
		fmt.Println("Seeding complete.")
	}

	if *tokenFor != "" {
		auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminRole)
		tok, err := auth.Mint(*tokenFor, *role, 24*time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Printf("\nBearer token for %s (24h):\n%s\n", *tokenFor, tok)
	}
}
