package usecase

import (
	"context"
	"time"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Subscriptions(ctx context.Context) (map[model.SubscriptionStatus]int, error)
	Revenue(ctx context.Context) (week int64, month int64, year int64, err error)
}

type statsUC struct {
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository

	log *zerolog.Logger
	now func() time.Time
}

func NewStatsUseCase(subs repository.SubscriptionRepository, payments repository.PaymentRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{subs: subs, payments: payments, log: logger, now: time.Now}
}

func (s *statsUC) Subscriptions(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return s.subs.CountByStatus(ctx, repository.NoTX)
}

// Revenue sums completed payments over the trailing 7, 30 and 365 days.
func (s *statsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	now := s.now()
	w, err := s.payments.SumCompletedSince(ctx, repository.NoTX, now.AddDate(0, 0, -7))
	if err != nil {
		return 0, 0, 0, err
	}
	m, err := s.payments.SumCompletedSince(ctx, repository.NoTX, now.AddDate(0, 0, -30))
	if err != nil {
		return 0, 0, 0, err
	}
	y, err := s.payments.SumCompletedSince(ctx, repository.NoTX, now.AddDate(0, 0, -365))
	if err != nil {
		return 0, 0, 0, err
	}
	s.log.Debug().Int64("week", w).Int64("month", m).Int64("year", y).Msg("revenue computed")
	return w, m, y, nil
}
