//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
)

func TestSubscriptionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewSubscriptionRepo(testPool)
	tm := NewTxManager(testPool)

	t.Run("one current subscription per user", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, "starter", 9900)
		now := time.Now().Truncate(time.Millisecond)

		first, _ := model.NewActiveSubscription(uuid.NewString(), "user-1", plan, model.RailCard, now)
		if err := repo.Save(ctx, nil, first); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		second, _ := model.NewActiveSubscription(uuid.NewString(), "user-1", plan, model.RailMoov, now)
		if err := repo.Save(ctx, nil, second); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}

		// Superseding inside one transaction is allowed.
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.LockUser(ctx, tx, "user-1"); err != nil {
				return err
			}
			cur, err := repo.FindCurrentByUser(ctx, tx, "user-1")
			if err != nil {
				return err
			}
			cur.Cancel(now)
			if err := repo.Save(ctx, tx, cur); err != nil {
				return err
			}
			return repo.Save(ctx, tx, second)
		})
		if err != nil {
			t.Fatalf("supersede failed: %v", err)
		}

		cur, err := repo.FindCurrentByUser(ctx, nil, "user-1")
		if err != nil || cur.ID != second.ID {
			t.Fatalf("expected the new subscription to be current: %v", err)
		}
		if cur.PaymentMethod == nil || *cur.PaymentMethod != model.RailMoov {
			t.Errorf("payment method not persisted: %+v", cur.PaymentMethod)
		}
		n, err := repo.CountByUser(ctx, nil, "user-1")
		if err != nil || n != 2 {
			t.Fatalf("CountByUser = %d, %v", n, err)
		}
	})

	t.Run("LockUser requires a transaction", func(t *testing.T) {
		if err := repo.LockUser(ctx, nil, "user-1"); !errors.Is(err, domain.ErrInvalidExecContext) {
			t.Fatalf("expected ErrInvalidExecContext, got %v", err)
		}
	})

	t.Run("lists lapsed subscriptions and counts by status", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, "starter", 9900)
		past := time.Now().Add(-60 * 24 * time.Hour)

		lapsed, _ := model.NewActiveSubscription(uuid.NewString(), "user-1", plan, model.RailCard, past)
		trial, _ := model.NewTrialSubscription(uuid.NewString(), "user-2", plan, time.Hour, time.Now())
		for _, s := range []*model.Subscription{lapsed, trial} {
			if err := repo.Save(ctx, nil, s); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}

		got, err := repo.ListLapsed(ctx, nil, time.Now(), 10)
		if err != nil {
			t.Fatalf("ListLapsed failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != lapsed.ID {
			t.Fatalf("expected one lapsed subscription, got %d", len(got))
		}

		counts, err := repo.CountByStatus(ctx, nil)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[model.SubscriptionStatusActive] != 1 || counts[model.SubscriptionStatusTrial] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})
}
