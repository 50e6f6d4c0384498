package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/adapter"
)

var _ RailProcessor = (*CardRailProcessor)(nil)
var _ Refunder = (*CardRailProcessor)(nil)

const defaultDeclineReason = "card declined"

// RefRecorder persists a rail reference on a reserved record.
type RefRecorder interface {
	AttachRef(ctx context.Context, recordID, ref string) error
}

// CardRailProcessor drives the two-step card handshake: create an intent,
// then tokenize and confirm. The intent id is recorded through refs before
// the card can be charged; otherwise the processor keeps no state.
type CardRailProcessor struct {
	gw             adapter.CardGateway
	refs           RefRecorder
	currency       string
	confirmTimeout time.Duration
	queryTimeout   time.Duration
	log            *zerolog.Logger
}

func NewCardRailProcessor(gw adapter.CardGateway, refs RefRecorder, currency string, confirmTimeout time.Duration, logger *zerolog.Logger) *CardRailProcessor {
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "CardRail").Logger()
	return &CardRailProcessor{
		gw:             gw,
		refs:           refs,
		currency:       currency,
		confirmTimeout: confirmTimeout,
		queryTimeout:   10 * time.Second,
		log:            &l,
	}
}

func (c *CardRailProcessor) Rail() model.Rail { return model.RailCard }

func (c *CardRailProcessor) Process(ctx context.Context, req model.PaymentRequest, rec *model.PaymentRecord) model.RailOutcome {
	if req.Card == nil {
		return model.RailOutcome{Status: model.OutcomeRejected, DeclineReason: "missing card"}
	}
	month, year, err := ParseExpiry(req.Card.Expiry)
	if err != nil {
		return model.RailOutcome{Status: model.OutcomeRejected, DeclineReason: err.Error()}
	}

	meta := map[string]string{
		"user_id":         req.UserID,
		"plan_id":         req.PlanID,
		"payment_id":      rec.ID,
		"idempotency_key": req.IdempotencyKey,
	}
	intent, err := c.gw.CreateIntent(ctx, req.Amount, c.currency, meta)
	if err != nil {
		c.log.Warn().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("create intent failed")
		return model.RailOutcome{Status: model.OutcomeUnavailable}
	}
	if err := c.refs.AttachRef(ctx, rec.ID, intent.ID); err != nil {
		c.log.Error().Err(err).Str("payment_id", rec.ID).Str("intent_id", intent.ID).
			Msg("intent not recorded; card not charged")
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: intent.ID}
	}

	pm, err := c.gw.Tokenize(ctx, adapter.CardInput{
		Number:     StripCardNumber(req.Card.Number),
		ExpMonth:   month,
		ExpYear:    year,
		CVC:        req.Card.CVC,
		HolderName: req.Card.HolderName,
	})
	if err != nil {
		var pe *adapter.ProviderError
		if errors.As(err, &pe) && pe.Declined {
			// The card was refused before any charge was attempted.
			return declined(intent.ID, pe)
		}
		c.log.Warn().Err(err).Str("intent_id", intent.ID).Msg("tokenize failed")
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: intent.ID}
	}

	cctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	confirmed, err := c.gw.Confirm(cctx, intent.ID, pm)
	cancel()
	if err != nil {
		var pe *adapter.ProviderError
		if errors.As(err, &pe) && pe.Declined {
			return declined(intent.ID, pe)
		}
		// Timeouts, 5xx and refusals that are not a decline (bad intent
		// state, lock contention, credentials) say nothing about the money.
		// Never resubmit: ask the gateway what happened to the intent.
		c.log.Warn().Err(err).Str("intent_id", intent.ID).Msg("confirm outcome unknown; querying intent")
		return c.queryAfterConfirm(ctx, intent.ID, req.IdempotencyKey)
	}
	return mapIntent(confirmed)
}

func (c *CardRailProcessor) queryAfterConfirm(ctx context.Context, intentID, idemKey string) model.RailOutcome {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.queryTimeout)
	defer cancel()
	got, err := c.gw.GetIntent(qctx, intentID)
	if err != nil {
		c.log.Error().Err(err).Str("intent_id", intentID).Str("idempotency_key", idemKey).
			Msg("intent status unknown after confirm")
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: intentID, Ambiguous: true}
	}
	if got.Status == "requires_payment_method" && got.DeclineCode == "" && got.DeclineReason == "" {
		// The confirm never took effect: nothing was charged.
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: intentID}
	}
	return mapIntent(got)
}

func (c *CardRailProcessor) CheckStatus(ctx context.Context, ref string) (model.RailOutcome, error) {
	got, err := c.gw.GetIntent(ctx, ref)
	if err != nil {
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: ref, Ambiguous: true}, err
	}
	return mapIntent(got), nil
}

func (c *CardRailProcessor) Refund(ctx context.Context, rec *model.PaymentRecord, reason string) (map[string]string, error) {
	res, err := c.gw.Refund(ctx, rec.Ref(), rec.Amount, reason)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"refund_id":     res.ID,
		"refund_status": res.Status,
	}, nil
}

func mapIntent(in adapter.CardIntent) model.RailOutcome {
	out := model.RailOutcome{ExternalRef: in.ID, Metadata: map[string]string{"intent_status": in.Status}}
	switch in.Status {
	case "succeeded":
		out.Status = model.OutcomeCompleted
	case "canceled", "failed", "requires_payment_method":
		out.Status = model.OutcomeFailed
		out.DeclineReason = in.DeclineReason
		if out.DeclineReason == "" {
			out.DeclineReason = defaultDeclineReason
		}
		if in.DeclineCode != "" {
			out.Metadata["decline_code"] = in.DeclineCode
		}
	case "requires_action":
		// 3-D Secure cannot be completed server-side.
		out.Status = model.OutcomeFailed
		out.DeclineReason = "card requires authentication"
	default:
		// processing, requires_confirmation or anything new: money may move later.
		out.Status = model.OutcomeUnavailable
		out.Ambiguous = true
	}
	return out
}

func declined(intentID string, pe *adapter.ProviderError) model.RailOutcome {
	reason := pe.Message
	if reason == "" {
		reason = defaultDeclineReason
	}
	out := model.RailOutcome{
		Status:        model.OutcomeFailed,
		ExternalRef:   intentID,
		DeclineReason: reason,
		Metadata:      map[string]string{},
	}
	if pe.Code != "" {
		out.Metadata["decline_code"] = pe.Code
	}
	return out
}
