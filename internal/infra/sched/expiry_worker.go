package sched

import (
	"context"
	"time"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/infra/metrics"

	"github.com/rs/zerolog"
)

type LapseFinisher interface {
	FinishLapsed(ctx context.Context, limit int) (int, error)
}

type SubscriptionCounter interface {
	Subscriptions(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

// ExpiryWorker periodically moves subscriptions past their period end and
// refreshes the per-status gauges.
type ExpiryWorker struct {
	interval time.Duration
	batch    int
	ledger   LapseFinisher
	counts   SubscriptionCounter
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, ledger LapseFinisher, counts SubscriptionCounter, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		batch:    200,
		ledger:   ledger,
		counts:   counts,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n, err := w.ledger.FinishLapsed(ctx, w.batch)
		total += n
		if err != nil {
			w.log.Error().Err(err).Msg("expiry worker error")
			break
		}
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		metrics.IncSubscriptionsLapsed(total)
		w.log.Info().Int("count", total).Msg("lapsed subscriptions finished")
	}

	if w.counts == nil {
		return
	}
	counts, err := w.counts.Subscriptions(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("subscription gauge refresh failed")
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}
