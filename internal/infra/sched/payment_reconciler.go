package sched

import (
	"context"
	"errors"
	"time"

	"immo-subscriptions/internal/infra/metrics"
	"immo-subscriptions/internal/infra/redis"
	"immo-subscriptions/internal/usecase"

	"github.com/rs/zerolog"
)

const reconcileLockKey = "lock:payments:reconcile"

type Sweeper interface {
	Sweep(ctx context.Context) (usecase.SweepResult, error)
}

// PaymentReconciler periodically sweeps stale Pending payments. This covers
// lost operator callbacks, card confirms that timed out and crashes between
// the rail call and the ledger write. With several replicas only the holder
// of the Redis lock sweeps.
type PaymentReconciler struct {
	sweeper  Sweeper
	locker   redis.Locker
	interval time.Duration
	timeout  time.Duration
	log      *zerolog.Logger
}

// NewPaymentReconciler builds the loop. locker may be nil for a single
// instance.
func NewPaymentReconciler(sweeper Sweeper, locker redis.Locker, interval time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		timeout:  interval,
		log:      &l,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	w.tick(ctx)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLockKey, w.interval)
		if err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				metrics.IncSweep("skipped")
				w.log.Debug().Msg("sweep skipped; another instance holds the lock")
			} else {
				metrics.IncSweep("error")
				w.log.Warn().Err(err).Msg("sweep lock unavailable")
			}
			return
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcileLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sweep unlock failed")
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()
	res, err := w.sweeper.Sweep(runCtx)
	metrics.AddReconciled("sweep", "completed", res.Completed)
	metrics.AddReconciled("sweep", "failed", res.Failed)
	metrics.AddReconciled("sweep", "expired", res.Expired)
	if err != nil {
		metrics.IncSweep("error")
		w.log.Error().Err(err).Int("checked", res.Checked).Msg("reconcile sweep failed")
		return
	}
	metrics.IncSweep("ok")
	if res.Checked > 0 {
		w.log.Info().
			Int("checked", res.Checked).
			Int("completed", res.Completed).
			Int("failed", res.Failed).
			Int("expired", res.Expired).
			Dur("duration", time.Since(start)).
			Msg("reconcile sweep done")
	}
}
