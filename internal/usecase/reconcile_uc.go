package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
)

// ReconcileUseCase resolves Pending records, either from an operator
// callback or from a periodic sweep that queries the rails directly.
type ReconcileUseCase struct {
	payments    repository.PaymentRepository
	ledger      *SubscriptionLedger
	rails       *RailRegistry
	staleAfter  time.Duration
	expireAfter time.Duration
	batch       int
	parallel    int
	log         *zerolog.Logger
	now         func() time.Time
}

type ReconcileConfig struct {
	// StaleAfter is how old a Pending record must be before the sweep checks it.
	StaleAfter time.Duration
	// ExpireAfter is the confirmation window of asynchronous rails.
	ExpireAfter time.Duration
	BatchSize   int
	Parallelism int
}

func NewReconcileUseCase(payments repository.PaymentRepository, ledger *SubscriptionLedger, rails *RailRegistry, cfg ReconcileConfig, logger *zerolog.Logger) *ReconcileUseCase {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	l := logger.With().Str("component", "Reconciler").Logger()
	return &ReconcileUseCase{
		payments:    payments,
		ledger:      ledger,
		rails:       rails,
		staleAfter:  cfg.StaleAfter,
		expireAfter: cfg.ExpireAfter,
		batch:       cfg.BatchSize,
		parallel:    cfg.Parallelism,
		log:         &l,
		now:         time.Now,
	}
}

// Resolve applies a final status reported for (rail, ref). Pending reports
// are accepted and ignored. changed is false for duplicate deliveries.
func (r *ReconcileUseCase) Resolve(ctx context.Context, rail model.Rail, ref string, status model.PaymentStatus, meta map[string]string) (bool, error) {
	if ref == "" {
		return false, domain.InvalidField("reference", "missing")
	}
	if status == model.PaymentStatusPending {
		return false, nil
	}
	rec, changed, err := r.ledger.Resolve(ctx, rail, ref, status, meta)
	if err != nil {
		return false, err
	}
	if changed {
		r.log.Info().Str("payment_id", rec.ID).Str("rail", string(rail)).Str("external_ref", ref).
			Str("status", string(rec.Status)).Msg("payment resolved")
	}
	return changed, nil
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked   int
	Completed int
	Failed    int
	Expired   int
}

// Sweep checks every stale Pending record once. Mobile-money records that
// outlive the confirmation window become Expired. Card records are never
// expired here once they carry an intent id: money may have moved, so they
// stay Pending until the gateway answers. A record without a reference
// never reached a charge, since rails record it first, and expires with
// the window on any rail.
func (r *ReconcileUseCase) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()
	pending, err := r.payments.ListPendingOlderThan(ctx, repository.NoTX, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return res, nil
		}
		return res, err
	}

	outcomes := make([]model.PaymentStatus, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, rec := range pending {
		i, rec := i, rec
		g.Go(func() error {
			st, err := r.check(gctx, rec, now)
			if err != nil {
				r.log.Warn().Err(err).Str("payment_id", rec.ID).Str("idempotency_key", rec.IdempotencyKey).
					Msg("reconcile check failed")
				return nil
			}
			outcomes[i] = st
			return nil
		})
	}
	_ = g.Wait()

	res.Checked = len(pending)
	for _, st := range outcomes {
		switch st {
		case model.PaymentStatusCompleted:
			res.Completed++
		case model.PaymentStatusFailed:
			res.Failed++
		case model.PaymentStatusExpired:
			res.Expired++
		}
	}
	return res, ctx.Err()
}

// check returns the status it moved rec to, or "" if rec stays Pending.
func (r *ReconcileUseCase) check(ctx context.Context, rec *model.PaymentRecord, now time.Time) (model.PaymentStatus, error) {
	windowOver := now.Sub(rec.CreatedAt) >= r.expireAfter
	ref := rec.Ref()
	if ref == "" {
		// No reference was recorded, so nothing was charged. Leftover
		// reservations from a crash.
		if !windowOver {
			return "", nil
		}
		return r.expire(ctx, rec)
	}

	proc, ok := r.rails.Get(rec.Rail)
	if !ok {
		return "", errors.New("rail not enabled: " + string(rec.Rail))
	}
	outcome, err := proc.CheckStatus(ctx, ref)
	if err == nil {
		st := outcome.PaymentStatus()
		if st.IsTerminal() {
			meta := outcome.Metadata
			if outcome.DeclineReason != "" {
				if meta == nil {
					meta = map[string]string{}
				}
				meta["decline_reason"] = outcome.DeclineReason
			}
			changed, rerr := r.Resolve(ctx, rec.Rail, ref, st, meta)
			if rerr != nil || !changed {
				return "", rerr
			}
			return st, nil
		}
	}
	if rec.Rail.IsMobileMoney() && windowOver {
		return r.expire(ctx, rec)
	}
	return "", err
}

func (r *ReconcileUseCase) expire(ctx context.Context, rec *model.PaymentRecord) (model.PaymentStatus, error) {
	changed, err := r.ledger.Expire(ctx, rec.ID)
	if err != nil || !changed {
		return "", err
	}
	r.log.Info().Str("payment_id", rec.ID).Str("rail", string(rec.Rail)).Msg("pending payment expired")
	return model.PaymentStatusExpired, nil
}
