//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/usecase"
)

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rail := model.RailCard
	s.store.putSub(&model.Subscription{ID: "1", UserID: "a", Status: model.SubscriptionStatusActive, PaymentMethod: &rail})
	s.store.putSub(&model.Subscription{ID: "2", UserID: "b", Status: model.SubscriptionStatusActive, PaymentMethod: &rail})
	s.store.putSub(&model.Subscription{ID: "3", UserID: "c", Status: model.SubscriptionStatusTrial})

	var sinces []time.Time
	s.payments.SumFunc = func(since time.Time) (int64, error) {
		sinces = append(sinces, since)
		return int64(len(sinces)) * 1000, nil
	}
	uc := usecase.NewStatsUseCase(s.subs, s.payments, newTestLogger())

	counts, err := uc.Subscriptions(ctx)
	if err != nil || counts[model.SubscriptionStatusActive] != 2 || counts[model.SubscriptionStatusTrial] != 1 {
		t.Fatalf("counts=%v err=%v", counts, err)
	}

	w, m, y, err := uc.Revenue(ctx)
	if err != nil || w != 1000 || m != 2000 || y != 3000 {
		t.Fatalf("revenue=%d/%d/%d err=%v", w, m, y, err)
	}
	if len(sinces) != 3 || !sinces[0].After(sinces[1]) || !sinces[1].After(sinces[2]) {
		t.Fatalf("windows not widening: %v", sinces)
	}

	s.payments.SumFunc = func(time.Time) (int64, error) { return 0, errors.New("db down") }
	if _, _, _, err := uc.Revenue(ctx); err == nil {
		t.Fatal("want error")
	}
}
