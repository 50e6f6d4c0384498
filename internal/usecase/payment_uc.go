// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
	"immo-subscriptions/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*PaymentOrchestrator)(nil)

type PaymentUseCase interface {
	// ProcessPayment validates req, drives its rail and records the outcome.
	ProcessPayment(ctx context.Context, req model.PaymentRequest) (*PaymentResult, error)
	// GetPayment returns a record owned by userID.
	GetPayment(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error)
	// History lists the user's payment records, newest first.
	History(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error)
	// Refund returns the funds of a completed card payment.
	Refund(ctx context.Context, paymentID, reason string) (*model.PaymentRecord, error)
}

// PaymentResult is what a submission produced. Replayed is true when the
// idempotency token matched an earlier attempt and no rail was contacted.
type PaymentResult struct {
	Record   *model.PaymentRecord
	Replayed bool
}

// DeclineError carries the rail's refusal reason verbatim.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string { return "payment declined: " + e.Reason }
func (e *DeclineError) Unwrap() error { return domain.ErrDeclined }

// PaymentOrchestrator is the entry point for payment submissions. It holds
// no mutable state; durable state lives behind the ledger.
type PaymentOrchestrator struct {
	plans     repository.PlanRepository
	validator *RailValidator
	rails     *RailRegistry
	ledger    *SubscriptionLedger
	currency  string
	log       *zerolog.Logger
}

func NewPaymentOrchestrator(
	plans repository.PlanRepository,
	validator *RailValidator,
	rails *RailRegistry,
	ledger *SubscriptionLedger,
	currency string,
	logger *zerolog.Logger,
) *PaymentOrchestrator {
	l := logger.With().Str("component", "PaymentOrchestrator").Logger()
	return &PaymentOrchestrator{
		plans:     plans,
		validator: validator,
		rails:     rails,
		ledger:    ledger,
		currency:  currency,
		log:       &l,
	}
}

func (o *PaymentOrchestrator) ProcessPayment(ctx context.Context, req model.PaymentRequest) (*PaymentResult, error) {
	ctx = logging.WithIdempotencyKey(ctx, req.IdempotencyKey)
	log := o.log.With().Str("user_id", req.UserID).Str("idempotency_key", req.IdempotencyKey).
		Str("rail", string(req.Method)).Logger()

	plan, err := o.loadPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if err := o.validator.Validate(req, plan); err != nil {
		return nil, err
	}
	proc, ok := o.rails.Get(req.Method)
	if !ok {
		return nil, domain.InvalidField("method", "payment method not enabled")
	}

	currency := plan.Currency
	if currency == "" {
		currency = o.currency
	}
	rec, created, err := o.ledger.Begin(ctx, req, currency)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Warn().Msg("idempotency token reused with different parameters")
		}
		return nil, err
	}
	if !created && rec.InFlight() {
		// Another request holds this token and has not heard from the rail.
		log.Info().Str("payment_id", rec.ID).Msg("payment in progress")
		return nil, domain.ErrInProgress
	}
	if !created {
		log.Info().Str("payment_id", rec.ID).Str("status", string(rec.Status)).Msg("idempotent replay")
		return replay(rec)
	}

	outcome := proc.Process(ctx, req, rec)
	if req.Method.IsMobileMoney() && outcome.Status == model.OutcomeCompleted {
		// Initiation is never proof of payment.
		outcome.Status = model.OutcomePending
	}

	switch {
	case outcome.Status == model.OutcomeUnavailable && !outcome.Ambiguous:
		o.abandon(ctx, rec, log)
		return nil, domain.ErrGatewayUnavailable
	case outcome.Status == model.OutcomeRejected:
		o.abandon(ctx, rec, log)
		field := "card"
		if req.Method.IsMobileMoney() {
			field = "phone"
		}
		return nil, domain.InvalidField(field, outcome.DeclineReason)
	}

	rec, err = o.ledger.RecordAndActivateIfComplete(ctx, rec.ID, outcome)
	if err != nil {
		log.Error().Err(err).Str("external_ref", outcome.ExternalRef).Msg("ledger write failed after rail call")
		return nil, err
	}

	if outcome.Ambiguous {
		log.Warn().Str("payment_id", rec.ID).Str("external_ref", outcome.ExternalRef).
			Msg("rail outcome unknown; left pending for reconciliation")
		return &PaymentResult{Record: rec}, fmt.Errorf("%w: payment outcome not yet known", domain.ErrGatewayUnavailable)
	}
	if rec.Status == model.PaymentStatusFailed {
		return &PaymentResult{Record: rec}, &DeclineError{Reason: outcome.DeclineReason}
	}
	log.Info().Str("payment_id", rec.ID).Str("status", string(rec.Status)).Msg("payment processed")
	return &PaymentResult{Record: rec}, nil
}

func replay(rec *model.PaymentRecord) (*PaymentResult, error) {
	res := &PaymentResult{Record: rec, Replayed: true}
	switch rec.Status {
	case model.PaymentStatusFailed:
		reason := rec.Metadata["decline_reason"]
		if reason == "" {
			reason = defaultDeclineReason
		}
		return res, &DeclineError{Reason: reason}
	case model.PaymentStatusExpired:
		return res, domain.ErrExpired
	}
	return res, nil
}

func (o *PaymentOrchestrator) abandon(ctx context.Context, rec *model.PaymentRecord, log zerolog.Logger) {
	if err := o.ledger.Abandon(context.WithoutCancel(ctx), rec.ID); err != nil {
		log.Error().Err(err).Str("payment_id", rec.ID).Msg("abandon reservation failed")
	}
}

func (o *PaymentOrchestrator) loadPlan(ctx context.Context, planID string) (*model.Plan, error) {
	if planID == "" {
		return nil, nil
	}
	plan, err := o.plans.FindByID(ctx, repository.NoTX, planID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return plan, err
}

func (o *PaymentOrchestrator) GetPayment(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error) {
	rec, err := o.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if userID != "" && rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (o *PaymentOrchestrator) History(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	return o.ledger.PaymentHistory(ctx, userID, limit)
}

func (o *PaymentOrchestrator) Refund(ctx context.Context, paymentID, reason string) (*model.PaymentRecord, error) {
	rec, err := o.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.PaymentStatusCompleted {
		return nil, domain.InvalidField("payment_id", "only completed payments can be refunded")
	}
	proc, ok := o.rails.Get(rec.Rail)
	if !ok {
		return nil, domain.InvalidField("payment_id", "rail not enabled")
	}
	refunder, ok := proc.(Refunder)
	if !ok {
		return nil, domain.InvalidField("payment_id", "rail does not support refunds")
	}
	meta, err := refunder.Refund(ctx, rec, reason)
	if err != nil {
		o.log.Error().Err(err).Str("payment_id", rec.ID).Msg("gateway refund failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if reason != "" {
		meta["refund_reason"] = reason
	}
	return o.ledger.MarkRefunded(ctx, rec.ID, meta)
}
