package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
	"immo-subscriptions/internal/infra/logging"
	"immo-subscriptions/internal/infra/metrics"
)

// SubscriptionLedger is the only writer of payment records and subscriptions.
// Every mutation runs in one transaction: either all rows change or none do.
type SubscriptionLedger struct {
	payments    repository.PaymentRepository
	subs        repository.SubscriptionRepository
	plans       repository.PlanRepository
	tm          repository.TransactionManager
	trialLength time.Duration
	log         *zerolog.Logger
	now         func() time.Time
}

func NewSubscriptionLedger(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	tm repository.TransactionManager,
	trialLength time.Duration,
	logger *zerolog.Logger,
) *SubscriptionLedger {
	if trialLength <= 0 {
		trialLength = 14 * 24 * time.Hour
	}
	l := logger.With().Str("component", "SubscriptionLedger").Logger()
	return &SubscriptionLedger{
		payments:    payments,
		subs:        subs,
		plans:       plans,
		tm:          tm,
		trialLength: trialLength,
		log:         &l,
		now:         time.Now,
	}
}

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Begin reserves the pending record for an attempt, keyed by the user's
// idempotency token. When a record already exists for the token it is
// returned unchanged with created=false; ErrConflict is returned if the
// resubmission carries different parameters.
func (l *SubscriptionLedger) Begin(ctx context.Context, req model.PaymentRequest, currency string) (*model.PaymentRecord, bool, error) {
	defer logging.TraceDuration(l.log, "SubscriptionLedger.Begin")()

	if existing, err := l.existingAttempt(ctx, req); err != nil || existing != nil {
		return existing, false, err
	}

	now := l.now()
	rec := &model.PaymentRecord{
		ID:             ulid.Make().String(),
		UserID:         req.UserID,
		PlanID:         req.PlanID,
		Amount:         req.Amount,
		Currency:       currency,
		Rail:           req.Method,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.PaymentStatusPending,
		Metadata:       map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := l.payments.Insert(ctx, repository.NoTX, rec)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost the race against a concurrent submission with the same token.
		existing, ferr := l.existingAttempt(ctx, req)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing == nil {
			return nil, false, fmt.Errorf("idempotency record vanished: %w", domain.ErrOperationFailed)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (l *SubscriptionLedger) existingAttempt(ctx context.Context, req model.PaymentRequest) (*model.PaymentRecord, error) {
	existing, err := l.payments.FindByIdempotencyKey(ctx, repository.NoTX, req.UserID, req.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !existing.SameAttempt(req.UserID, req.PlanID, req.Amount, req.Method) {
		return nil, domain.ErrConflict
	}
	return existing, nil
}

// AttachRef stores the rail's reference on an in-flight reservation before any
// money can move. If the process dies mid-call, reconciliation can still ask
// the rail what happened.
func (l *SubscriptionLedger) AttachRef(ctx context.Context, recordID, ref string) error {
	if ref == "" {
		return domain.ErrInvalidArgument
	}
	err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		rec, err := l.payments.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return domain.ErrInvalidArgument
		}
		switch cur := rec.Ref(); {
		case cur == ref:
			return nil
		case cur != "":
			return fmt.Errorf("%w: record already carries reference %s", domain.ErrConflict, cur)
		}
		rec.ExternalRef = &ref
		rec.UpdatedAt = l.now()
		return l.payments.Update(ctx, tx, rec)
	})
	return l.translate(err)
}

// Abandon removes a reserved record when the rail confirmed no external side
// effect, so the same token can be retried from scratch. Records whose rail
// outcome has been recorded are kept.
func (l *SubscriptionLedger) Abandon(ctx context.Context, recordID string) error {
	_, err := l.payments.DeleteUnacknowledged(ctx, repository.NoTX, recordID)
	return err
}

// RecordAndActivateIfComplete applies a rail outcome to a reserved record.
// Completed supersedes the user's current subscription and activates a new
// one; Failed and Expired only close the record; Pending only attaches the
// reference and metadata. Records already out of Pending are returned as is.
func (l *SubscriptionLedger) RecordAndActivateIfComplete(ctx context.Context, recordID string, outcome model.RailOutcome) (*model.PaymentRecord, error) {
	defer logging.TraceDuration(l.log, "SubscriptionLedger.RecordAndActivateIfComplete")()

	var out *model.PaymentRecord
	err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		rec, err := l.payments.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		out = rec
		if rec.Status.IsTerminal() {
			return nil
		}
		if outcome.ExternalRef != "" && rec.ExternalRef == nil {
			ref := outcome.ExternalRef
			rec.ExternalRef = &ref
		}
		mergeMeta(rec, outcome.Metadata)
		rec.Metadata[model.MetaRailOutcome] = string(outcome.Status)
		if outcome.DeclineReason != "" {
			rec.Metadata["decline_reason"] = outcome.DeclineReason
		}
		return l.apply(ctx, tx, rec, outcome.PaymentStatus())
	})
	if err != nil {
		return nil, l.translate(err)
	}
	return out, nil
}

// Resolve moves the pending record identified by (rail, ref) to a final
// status. changed is false when the record had already left Pending, which
// makes repeated callbacks harmless. A success reported for a record already
// closed as Failed or Expired does not reopen it; it is flagged with
// model.MetaLateSettlement for support to refund or activate by hand.
func (l *SubscriptionLedger) Resolve(ctx context.Context, rail model.Rail, ref string, status model.PaymentStatus, meta map[string]string) (rec *model.PaymentRecord, changed bool, err error) {
	defer logging.TraceDuration(l.log, "SubscriptionLedger.Resolve")()

	if !status.IsTerminal() || status == model.PaymentStatusRefunded {
		return nil, false, domain.ErrInvalidArgument
	}
	late := false
	err = l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		r, err := l.payments.FindByExternalRef(ctx, tx, rail, ref)
		if err != nil {
			return err
		}
		rec = r
		if r.Status.IsTerminal() {
			if !lateSettlement(r, status) {
				return nil
			}
			mergeMeta(r, meta)
			r.Metadata[model.MetaLateSettlement] = string(status)
			r.UpdatedAt = l.now()
			late = true
			return l.payments.Update(ctx, tx, r)
		}
		mergeMeta(r, meta)
		changed = true
		return l.apply(ctx, tx, r, status)
	})
	if err != nil {
		return nil, false, l.translate(err)
	}
	if late {
		metrics.IncLateSettlement(string(rail))
		l.log.Warn().Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("rail", string(rail)).
			Str("external_ref", ref).Str("status", string(rec.Status)).
			Msg("rail reports money collected for a closed payment; needs manual refund or activation")
	}
	return rec, changed, nil
}

// lateSettlement reports whether a success arrived for a record that was
// closed without one and has not been flagged yet.
func lateSettlement(rec *model.PaymentRecord, status model.PaymentStatus) bool {
	if status != model.PaymentStatusCompleted || rec.Metadata[model.MetaLateSettlement] != "" {
		return false
	}
	return rec.Status == model.PaymentStatusExpired || rec.Status == model.PaymentStatusFailed
}

// Expire closes a pending record that never got a usable confirmation.
func (l *SubscriptionLedger) Expire(ctx context.Context, recordID string) (bool, error) {
	changed := false
	err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		rec, err := l.payments.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return nil
		}
		changed = true
		return l.apply(ctx, tx, rec, model.PaymentStatusExpired)
	})
	if err != nil {
		return false, l.translate(err)
	}
	return changed, nil
}

// apply sets the record's new status, activating a subscription on
// completion, and persists the record. Must run inside a transaction.
func (l *SubscriptionLedger) apply(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord, status model.PaymentStatus) error {
	now := l.now()
	if status == model.PaymentStatusCompleted {
		sub, err := l.activate(ctx, tx, rec, now)
		if err != nil {
			return err
		}
		rec.SubscriptionID = &sub.ID
	}
	rec.Status = status
	rec.UpdatedAt = now
	return l.payments.Update(ctx, tx, rec)
}

func (l *SubscriptionLedger) activate(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord, now time.Time) (*model.Subscription, error) {
	if err := l.subs.LockUser(ctx, tx, rec.UserID); err != nil {
		return nil, err
	}
	plan, err := l.plans.FindByID(ctx, tx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	current, err := l.subs.FindCurrentByUser(ctx, tx, rec.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if current != nil {
		current.Cancel(now)
		if err := l.subs.Save(ctx, tx, current); err != nil {
			return nil, err
		}
	}
	sub, err := model.NewActiveSubscription(uuid.NewString(), rec.UserID, plan, rec.Rail, now)
	if err != nil {
		return nil, err
	}
	sub.Price = rec.Amount
	if err := l.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	l.log.Info().Str("user_id", rec.UserID).Str("plan_id", plan.ID).Str("payment_id", rec.ID).
		Str("subscription_id", sub.ID).Msg("subscription activated")
	return sub, nil
}

// MarkRefunded records a refund of a completed payment and cancels the
// subscription it activated if that subscription is still current.
func (l *SubscriptionLedger) MarkRefunded(ctx context.Context, recordID string, meta map[string]string) (*model.PaymentRecord, error) {
	var out *model.PaymentRecord
	err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		rec, err := l.payments.FindByID(ctx, tx, recordID)
		if err != nil {
			return err
		}
		out = rec
		if rec.Status != model.PaymentStatusCompleted {
			return domain.ErrInvalidArgument
		}
		now := l.now()
		if rec.SubscriptionID != nil {
			if err := l.subs.LockUser(ctx, tx, rec.UserID); err != nil {
				return err
			}
			sub, err := l.subs.FindByID(ctx, tx, *rec.SubscriptionID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if sub != nil && sub.Status.IsCurrent() {
				sub.Cancel(now)
				if err := l.subs.Save(ctx, tx, sub); err != nil {
					return err
				}
			}
		}
		mergeMeta(rec, meta)
		rec.Status = model.PaymentStatusRefunded
		rec.UpdatedAt = now
		return l.payments.Update(ctx, tx, rec)
	})
	if err != nil {
		return nil, l.translate(err)
	}
	return out, nil
}

// StartTrial gives a user who never subscribed a payment-less trial.
func (l *SubscriptionLedger) StartTrial(ctx context.Context, userID, planID string) (*model.Subscription, error) {
	var out *model.Subscription
	err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
		if err := l.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		n, err := l.subs.CountByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrTrialNotEligible
		}
		plan, err := l.plans.FindByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		sub, err := model.NewTrialSubscription(uuid.NewString(), userID, plan, l.trialLength, l.now())
		if err != nil {
			return err
		}
		if err := l.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, l.translate(err)
	}
	return out, nil
}

// FinishLapsed moves subscriptions past their period end: Active becomes
// PastDue, Trial becomes Canceled. Returns how many changed.
func (l *SubscriptionLedger) FinishLapsed(ctx context.Context, limit int) (int, error) {
	now := l.now()
	lapsed, err := l.subs.ListLapsed(ctx, repository.NoTX, now, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, s := range lapsed {
		finished := false
		err := l.tm.WithTx(ctx, readCommitted, func(ctx context.Context, tx repository.Tx) error {
			if err := l.subs.LockUser(ctx, tx, s.UserID); err != nil {
				return err
			}
			cur, err := l.subs.FindByID(ctx, tx, s.ID)
			if err != nil {
				return err
			}
			if !cur.Status.IsCurrent() || cur.CurrentPeriodEnd.After(now) {
				return nil
			}
			if cur.Status == model.SubscriptionStatusTrial {
				cur.Cancel(now)
			} else {
				cur.Status = model.SubscriptionStatusPastDue
				cur.UpdatedAt = now
			}
			finished = true
			return l.subs.Save(ctx, tx, cur)
		})
		if err != nil {
			l.log.Error().Err(err).Str("subscription_id", s.ID).Msg("finish lapsed subscription failed")
			continue
		}
		if finished {
			n++
		}
	}
	return n, nil
}

// CurrentSubscription returns the user's Trial or Active subscription.
func (l *SubscriptionLedger) CurrentSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	s, err := l.subs.FindCurrentByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActiveSubscription
	}
	return s, err
}

// PaymentHistory returns the user's most recent payment records first.
func (l *SubscriptionLedger) PaymentHistory(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return l.payments.ListByUser(ctx, repository.NoTX, userID, limit)
}

// GetPayment loads one record.
func (l *SubscriptionLedger) GetPayment(ctx context.Context, id string) (*model.PaymentRecord, error) {
	return l.payments.FindByID(ctx, repository.NoTX, id)
}

// translate turns constraint violations that escaped a transaction into the
// payment taxonomy.
func (l *SubscriptionLedger) translate(err error) error {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("%w: external reference already recorded", domain.ErrConflict)
	}
	return err
}

func mergeMeta(rec *model.PaymentRecord, meta map[string]string) {
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}
}
