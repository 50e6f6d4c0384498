// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"immo-subscriptions/internal/config"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/adapter"
	payAdapters "immo-subscriptions/internal/infra/adapters/payment"
	"immo-subscriptions/internal/infra/api"
	"immo-subscriptions/internal/infra/api/apiv1"
	"immo-subscriptions/internal/infra/db/migration"
	pg "immo-subscriptions/internal/infra/db/postgres"
	"immo-subscriptions/internal/infra/i18n"
	"immo-subscriptions/internal/infra/logging"
	"immo-subscriptions/internal/infra/metrics"
	red "immo-subscriptions/internal/infra/redis"
	"immo-subscriptions/internal/infra/sched"
	"immo-subscriptions/internal/infra/security"
	"immo-subscriptions/internal/infra/worker"
	"immo-subscriptions/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted PII)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	if cfg.Database.Migrate {
		if err := migration.Up(cfg.Database.URL); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		logger.Info().Msg("schema up to date")
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Encryption ----
	var enc usecase.Encrypter
	encKey := cfg.Security.EncryptionKey
	if encKey == "" && cfg.Runtime.Dev {
		logger.Warn().Msg("security.encryption_key not set; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	if encKey != "" {
		encSvc, err := security.NewEncryptionService(encKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("encryption")
		}
		enc = encSvc
	} else {
		logger.Warn().Msg("security.encryption_key not set; mobile-money records keep the last phone digits only")
	}

	// ---- Repositories ----
	planStore := pg.NewPostgresPlanRepo(pool)
	cachedPlans := pg.NewPlanRepoCacheDecorator(planStore, redisClient, cfg.Redis.TTL, logger)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	txm := pg.NewTxManager(pool)

	// The ledger reads plans inside its transactions, so it gets the uncached repo.
	ledger := usecase.NewSubscriptionLedger(payRepo, subRepo, planStore, txm, cfg.TrialLength(), logger)

	// ---- Rails ----
	rails, phoneRules, webhookSecrets := buildRails(cfg, ledger, enc, logger)
	validator := usecase.NewRailValidator(phoneRules)
	orchestrator := usecase.NewPaymentOrchestrator(cachedPlans, validator, rails, ledger, cfg.Payment.Currency, logger)
	reconcileUC := usecase.NewReconcileUseCase(payRepo, ledger, rails, usecase.ReconcileConfig{
		StaleAfter:  cfg.Reconciler.StaleAfter,
		ExpireAfter: cfg.Reconciler.ExpireAfter,
		BatchSize:   cfg.Reconciler.BatchSize,
		Parallelism: cfg.Reconciler.Parallelism,
	}, logger)
	statsUC := usecase.NewStatsUseCase(subRepo, payRepo, logger)
	planUC := usecase.NewPlanUseCase(cachedPlans)

	// ---- HTTP ----
	catalog, err := i18n.NewCatalog(i18n.LocalesFS, cfg.I18n.DefaultLocale, "fr", "en")
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	webhookPool := worker.NewPool(cfg.Payment.WebhookWorkers, logger)
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminRole)

	srv := apiv1.NewServer(apiv1.Deps{
		Payments:       orchestrator,
		Subscriptions:  ledger,
		Plans:          planUC,
		Stats:          statsUC,
		Reconciler:     reconcileUC,
		Limiter:        rateLimiter,
		RateLimit:      cfg.Payment.RateLimit,
		RateWindow:     cfg.Payment.RateWindow,
		WebhookSecrets: webhookSecrets,
		Pool:           webhookPool,
		Catalog:        catalog,
		Logger:         logger,
	})
	checks := map[string]apiv1.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    redisClient.Ping,
	}
	router := apiv1.NewRouter(srv, auth, cfg.HTTP.RequestTimeout, checks, logger)
	httpSrv := api.NewHTTPServer(cfg.HTTP, router)

	// ---- Background ----
	reconciler := sched.NewPaymentReconciler(reconcileUC, locker, cfg.Reconciler.Interval, logger)
	expiry := sched.NewExpiryWorker(cfg.Reconciler.ExpiryInterval, ledger, statsUC, logger)

	g, gctx := errgroup.WithContext(ctx)
	webhookPool.Start(gctx)
	g.Go(func() error { return api.Serve(gctx, httpSrv, logger) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return expiry.Run(gctx) })
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
		return nil
	})

	logger.Info().Str("version", version).Str("addr", cfg.HTTP.Addr).Msg("subscription service started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
	}
	webhookPool.Stop()
	logger.Info().Msg("shutdown complete")
}

// buildRails wires one processor per enabled rail, choosing the HTTP client
// or the sandbox per config.
func buildRails(cfg *config.Config, refs usecase.RefRecorder, enc usecase.Encrypter, logger *zerolog.Logger) (*usecase.RailRegistry, map[model.Rail]usecase.PhoneRule, map[model.Rail]string) {
	var procs []usecase.RailProcessor
	phoneRules := map[model.Rail]usecase.PhoneRule{}
	secrets := map[model.Rail]string{}
	currency := cfg.Payment.Currency

	if c := cfg.Payment.Card; c.Enabled {
		var gw adapter.CardGateway
		if c.Sandbox {
			logger.Warn().Msg("card rail running against the sandbox gateway")
			gw = payAdapters.NewSandboxCardGateway()
		} else {
			httpGW, err := payAdapters.NewHTTPCardGateway(c.BaseURL, c.SecretKey, c.Timeout)
			if err != nil {
				logger.Fatal().Err(err).Msg("card gateway")
			}
			gw = httpGW
		}
		procs = append(procs, usecase.NewCardRailProcessor(gw, refs, currency, c.ConfirmTimeout, logger))
	}

	for _, o := range []struct {
		rail model.Rail
		cfg  config.OperatorConfig
	}{
		{model.RailMoov, cfg.Payment.Moov},
		{model.RailFlooz, cfg.Payment.Flooz},
	} {
		if !o.cfg.Enabled {
			continue
		}
		var op adapter.MobileMoneyOperator
		if o.cfg.Sandbox {
			logger.Warn().Str("rail", string(o.rail)).Msg("operator running against the sandbox")
			op = payAdapters.NewSandboxOperator(string(o.rail))
		} else {
			httpOp, err := payAdapters.NewHTTPOperator(string(o.rail), o.cfg.BaseURL, o.cfg.APIKey, o.cfg.Timeout)
			if err != nil {
				logger.Fatal().Err(err).Str("rail", string(o.rail)).Msg("operator client")
			}
			op = httpOp
		}
		procs = append(procs, usecase.NewMobileMoneyRailProcessor(o.rail, op, currency, enc, cfg.Runtime.Dev, logger))
		phoneRules[o.rail] = usecase.PhoneRule{CountryCode: o.cfg.CountryCode, SubscriberDigits: o.cfg.SubscriberDigits}
		secrets[o.rail] = o.cfg.WebhookSecret
	}

	if len(procs) == 0 {
		logger.Fatal().Msg("no payment rail enabled: enable payment.card, payment.moov or payment.flooz")
	}
	return usecase.NewRailRegistry(procs...), phoneRules, secrets
}
