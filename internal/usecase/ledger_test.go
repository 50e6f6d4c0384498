//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
)

func TestLedger_BeginReplayAndConflict(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	req := cardRequest("u1", "k1", "starter", 9900, validCard)

	rec, created, err := s.ledger.Begin(ctx, req, "XOF")
	if err != nil || !created || rec.Status != model.PaymentStatusPending {
		t.Fatalf("Begin: rec=%+v created=%v err=%v", rec, created, err)
	}
	again, created, err := s.ledger.Begin(ctx, req, "XOF")
	if err != nil || created || again.ID != rec.ID {
		t.Fatalf("second Begin: id=%s created=%v err=%v", again.ID, created, err)
	}

	req.Amount = 20000
	req.PlanID = "professionnel"
	if _, _, err := s.ledger.Begin(ctx, req, "XOF"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestLedger_ConcurrentBeginCreatesOneRecord(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	req := cardRequest("u1", "k1", "starter", 9900, validCard)

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	createdCount := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, created, err := s.ledger.Begin(ctx, req, "XOF")
			if err != nil {
				t.Errorf("Begin: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[i] = rec.ID
			if created {
				createdCount++
			}
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("created=%d want 1", createdCount)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("submissions saw different records: %v", ids)
		}
	}
	if s.store.paymentCount() != 1 {
		t.Fatalf("records=%d", s.store.paymentCount())
	}
}

func TestLedger_ResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rec, _, _ := s.ledger.Begin(ctx, mobileRequest("u1", "k1", "starter", 9900, model.RailMoov, "+22890123456"), "XOF")
	if _, err := s.ledger.RecordAndActivateIfComplete(ctx, rec.ID, model.RailOutcome{Status: model.OutcomePending, ExternalRef: "MV-1"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		got, changed, err := s.ledger.Resolve(ctx, model.RailMoov, "MV-1", model.PaymentStatusCompleted, map[string]string{"callback": "1"})
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
		if changed != (i == 0) {
			t.Fatalf("Resolve #%d changed=%v", i, changed)
		}
		if got.Status != model.PaymentStatusCompleted {
			t.Fatalf("status=%s", got.Status)
		}
	}
	if subs := s.store.subsFor("u1"); len(subs) != 1 {
		t.Fatalf("subscriptions=%d want exactly 1", len(subs))
	}

	// A late contradictory report does not reopen a final record.
	got, changed, err := s.ledger.Resolve(ctx, model.RailMoov, "MV-1", model.PaymentStatusFailed, nil)
	if err != nil || changed || got.Status != model.PaymentStatusCompleted {
		t.Fatalf("late failure: status=%s changed=%v err=%v", got.Status, changed, err)
	}
}

func TestLedger_ConcurrentResolveActivatesOnce(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rec, _, _ := s.ledger.Begin(ctx, mobileRequest("u1", "k1", "starter", 9900, model.RailFlooz, "+22890123456"), "XOF")
	_, _ = s.ledger.RecordAndActivateIfComplete(ctx, rec.ID, model.RailOutcome{Status: model.OutcomePending, ExternalRef: "FZ-1"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	changes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.ledger.Resolve(ctx, model.RailFlooz, "FZ-1", model.PaymentStatusCompleted, nil)
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if changes != 1 || len(s.store.subsFor("u1")) != 1 {
		t.Fatalf("changes=%d subscriptions=%d", changes, len(s.store.subsFor("u1")))
	}
}

func TestLedger_ResolveRejectsNonFinalStatus(t *testing.T) {
	s := newStack()
	for _, st := range []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusRefunded} {
		if _, _, err := s.ledger.Resolve(context.Background(), model.RailMoov, "x", st, nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%s: want ErrInvalidArgument, got %v", st, err)
		}
	}
	if _, _, err := s.ledger.Resolve(context.Background(), model.RailMoov, "unknown", model.PaymentStatusCompleted, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown ref: want ErrNotFound, got %v", err)
	}
}

func TestLedger_ActivationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rec, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k1", "starter", 9900, validCard), "XOF")
	s.subs.SaveErr = errors.New("disk full")

	_, err := s.ledger.RecordAndActivateIfComplete(ctx, rec.ID, model.RailOutcome{Status: model.OutcomeCompleted, ExternalRef: "pi_1"})
	if err == nil {
		t.Fatal("want error")
	}
	got, _ := s.ledger.GetPayment(ctx, rec.ID)
	if got.Status != model.PaymentStatusPending || got.ExternalRef != nil {
		t.Fatalf("record partially written: %+v", got)
	}
	if len(s.store.subsFor("u1")) != 0 {
		t.Fatalf("subscription written without its payment")
	}
}

func TestLedger_DuplicateExternalRefIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	a, _, _ := s.ledger.Begin(ctx, mobileRequest("u1", "k1", "starter", 9900, model.RailMoov, "+22890123456"), "XOF")
	b, _, _ := s.ledger.Begin(ctx, mobileRequest("u1", "k2", "starter", 9900, model.RailMoov, "+22890123456"), "XOF")
	if _, err := s.ledger.RecordAndActivateIfComplete(ctx, a.ID, model.RailOutcome{Status: model.OutcomePending, ExternalRef: "MV-1"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.ledger.RecordAndActivateIfComplete(ctx, b.ID, model.RailOutcome{Status: model.OutcomePending, ExternalRef: "MV-1"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestLedger_AbandonOnlyUnacknowledged(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	a, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k1", "starter", 9900, validCard), "XOF")
	b, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k2", "starter", 9900, validCard), "XOF")
	_, _ = s.ledger.RecordAndActivateIfComplete(ctx, b.ID, model.RailOutcome{Status: model.OutcomeUnavailable, Ambiguous: true, ExternalRef: "pi_b"})

	c, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k3", "starter", 9900, validCard), "XOF")
	if err := s.ledger.AttachRef(ctx, c.ID, "pi_c"); err != nil {
		t.Fatal(err)
	}

	_ = s.ledger.Abandon(ctx, a.ID)
	_ = s.ledger.Abandon(ctx, b.ID)
	_ = s.ledger.Abandon(ctx, c.ID)

	if _, err := s.ledger.GetPayment(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unacknowledged reservation kept")
	}
	if _, err := s.ledger.GetPayment(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("reservation with a reference but no outcome kept")
	}
	if _, err := s.ledger.GetPayment(ctx, b.ID); err != nil {
		t.Errorf("acknowledged record removed: %v", err)
	}
}

func TestLedger_AttachRef(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rec, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k1", "starter", 9900, validCard), "XOF")

	if err := s.ledger.AttachRef(ctx, rec.ID, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty ref: %v", err)
	}
	if err := s.ledger.AttachRef(ctx, rec.ID, "pi_1"); err != nil {
		t.Fatalf("AttachRef: %v", err)
	}
	if err := s.ledger.AttachRef(ctx, rec.ID, "pi_1"); err != nil {
		t.Fatalf("same ref again: %v", err)
	}
	if err := s.ledger.AttachRef(ctx, rec.ID, "pi_2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("other ref: want ErrConflict, got %v", err)
	}
	got, _ := s.ledger.GetPayment(ctx, rec.ID)
	if got.Ref() != "pi_1" || got.Status != model.PaymentStatusPending || !got.InFlight() {
		t.Fatalf("record=%+v", got)
	}

	if _, err := s.ledger.RecordAndActivateIfComplete(ctx, rec.ID, model.RailOutcome{Status: model.OutcomeCompleted, ExternalRef: "pi_1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ledger.AttachRef(ctx, rec.ID, "pi_1"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("closed record: want ErrInvalidArgument, got %v", err)
	}
}

func TestLedger_LateSettlementIsFlagged(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	s.store.putPayment(stalePending("a", model.RailMoov, "MV-late", 20*time.Minute))
	if _, changed, err := s.ledger.Resolve(ctx, model.RailMoov, "MV-late", model.PaymentStatusExpired, nil); err != nil || !changed {
		t.Fatalf("expire: changed=%v err=%v", changed, err)
	}

	rec, changed, err := s.ledger.Resolve(ctx, model.RailMoov, "MV-late", model.PaymentStatusCompleted, map[string]string{"operator_status": "SUCCESSFUL"})
	if err != nil || changed {
		t.Fatalf("late success: changed=%v err=%v", changed, err)
	}
	if rec.Status != model.PaymentStatusExpired || rec.Metadata[model.MetaLateSettlement] != "completed" {
		t.Fatalf("late success not flagged: %+v", rec)
	}
	if len(s.store.subsFor("user-a")) != 0 {
		t.Fatalf("closed payment activated a subscription")
	}

	before, _ := s.ledger.GetPayment(ctx, "a")
	if _, changed, err := s.ledger.Resolve(ctx, model.RailMoov, "MV-late", model.PaymentStatusCompleted, nil); err != nil || changed {
		t.Fatalf("repeat: changed=%v err=%v", changed, err)
	}
	after, _ := s.ledger.GetPayment(ctx, "a")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("repeated late success rewrote the record")
	}
}

func TestLedger_Trial(t *testing.T) {
	ctx := context.Background()
	s := newStack()

	sub, err := s.ledger.StartTrial(ctx, "u1", "professionnel")
	if err != nil {
		t.Fatalf("StartTrial: %v", err)
	}
	if sub.Status != model.SubscriptionStatusTrial || sub.Price != 0 {
		t.Fatalf("trial=%+v", sub)
	}
	if d := sub.CurrentPeriodEnd.Sub(sub.StartedAt); d != 14*24*time.Hour {
		t.Fatalf("trial length=%s", d)
	}
	if _, err := s.ledger.StartTrial(ctx, "u1", "starter"); !errors.Is(err, domain.ErrTrialNotEligible) {
		t.Fatalf("second trial: want ErrTrialNotEligible, got %v", err)
	}
	if _, err := s.ledger.StartTrial(ctx, "u2", "gold"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown plan: want ErrNotFound, got %v", err)
	}

	// Paying during the trial supersedes it.
	if _, err := s.orch.ProcessPayment(ctx, cardRequest("u1", "k1", "starter", 9900, validCard)); err != nil {
		t.Fatal(err)
	}
	cur, err := s.ledger.CurrentSubscription(ctx, "u1")
	if err != nil || cur.Status != model.SubscriptionStatusActive || cur.PlanID != "starter" {
		t.Fatalf("current=%+v err=%v", cur, err)
	}
}

func TestLedger_CurrentSubscriptionNone(t *testing.T) {
	s := newStack()
	if _, err := s.ledger.CurrentSubscription(context.Background(), "nobody"); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("want ErrNoActiveSubscription, got %v", err)
	}
}

func TestLedger_FinishLapsed(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	past := time.Now().Add(-time.Hour)
	rail := model.RailCard
	s.store.putSub(&model.Subscription{ID: "s-active", UserID: "u1", PlanID: "starter", Status: model.SubscriptionStatusActive, PaymentMethod: &rail, CurrentPeriodEnd: past})
	s.store.putSub(&model.Subscription{ID: "s-trial", UserID: "u2", PlanID: "starter", Status: model.SubscriptionStatusTrial, CurrentPeriodEnd: past})
	s.store.putSub(&model.Subscription{ID: "s-live", UserID: "u3", PlanID: "starter", Status: model.SubscriptionStatusActive, PaymentMethod: &rail, CurrentPeriodEnd: time.Now().Add(time.Hour)})

	n, err := s.ledger.FinishLapsed(ctx, 10)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	want := map[string]model.SubscriptionStatus{
		"u1": model.SubscriptionStatusPastDue,
		"u2": model.SubscriptionStatusCanceled,
		"u3": model.SubscriptionStatusActive,
	}
	for user, st := range want {
		subs := s.store.subsFor(user)
		if len(subs) != 1 || subs[0].Status != st {
			t.Errorf("%s: %+v want %s", user, subs, st)
		}
	}

	if n, _ := s.ledger.FinishLapsed(ctx, 10); n != 0 {
		t.Fatalf("second pass changed %d", n)
	}
}

func TestLedger_FinishLapsedCountsOnlySaved(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rail := model.RailCard
	s.store.putSub(&model.Subscription{ID: "s1", UserID: "u1", PlanID: "starter", Status: model.SubscriptionStatusActive, PaymentMethod: &rail, CurrentPeriodEnd: time.Now().Add(-time.Hour)})
	s.subs.SaveErr = errors.New("disk full")

	n, err := s.ledger.FinishLapsed(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("failed save counted: n=%d err=%v", n, err)
	}
	if cur := s.store.currentFor("u1"); len(cur) != 1 {
		t.Fatalf("subscription changed despite failed save")
	}

	s.subs.SaveErr = nil
	if n, _ := s.ledger.FinishLapsed(ctx, 10); n != 1 {
		t.Fatalf("retry finished %d", n)
	}
}

func TestLedger_MarkRefundedRequiresCompleted(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	rec, _, _ := s.ledger.Begin(ctx, cardRequest("u1", "k1", "starter", 9900, validCard), "XOF")
	if _, err := s.ledger.MarkRefunded(ctx, rec.ID, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestLedger_HistoryLimit(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	for i := 0; i < 25; i++ {
		key := "k" + string(rune('a'+i))
		if _, _, err := s.ledger.Begin(ctx, cardRequest("u1", key, "starter", 9900, validCard), "XOF"); err != nil {
			t.Fatal(err)
		}
	}
	for _, tc := range []struct{ limit, want int }{{0, 20}, {5, 5}, {500, 20}} {
		got, err := s.ledger.PaymentHistory(ctx, "u1", tc.limit)
		if err != nil || len(got) != tc.want {
			t.Errorf("limit %d: len=%d err=%v", tc.limit, len(got), err)
		}
	}
}
