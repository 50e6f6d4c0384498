package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/adapter"
	"immo-subscriptions/internal/infra/logging"
)

var _ RailProcessor = (*MobileMoneyRailProcessor)(nil)

// Encrypter protects PII kept in record metadata. aad binds the sealed
// value to the record it belongs to.
type Encrypter interface {
	Seal(plaintext, aad string) (string, error)
}

// MobileMoneyRailProcessor initiates push payments on one operator. The
// operator's acknowledgement only means a prompt reached the subscriber, so
// the outcome is always Pending; completion arrives through reconciliation.
type MobileMoneyRailProcessor struct {
	rail     model.Rail
	op       adapter.MobileMoneyOperator
	currency string
	enc      Encrypter
	dev      bool
	log      *zerolog.Logger
}

func NewMobileMoneyRailProcessor(rail model.Rail, op adapter.MobileMoneyOperator, currency string, enc Encrypter, dev bool, logger *zerolog.Logger) *MobileMoneyRailProcessor {
	l := logger.With().Str("component", "MobileMoneyRail").Str("rail", string(rail)).Logger()
	return &MobileMoneyRailProcessor{rail: rail, op: op, currency: currency, enc: enc, dev: dev, log: &l}
}

func (m *MobileMoneyRailProcessor) Rail() model.Rail { return m.rail }

func (m *MobileMoneyRailProcessor) Process(ctx context.Context, req model.PaymentRequest, rec *model.PaymentRecord) model.RailOutcome {
	phone := NormalizePhone(req.Phone)
	desc := fmt.Sprintf("Abonnement %s", req.PlanID)
	ack, err := m.op.Initiate(ctx, phone, req.Amount, m.currency, desc, rec.ID)
	if err != nil {
		var pe *adapter.ProviderError
		if errors.As(err, &pe) {
			m.log.Info().Str("code", pe.Code).Str("phone", logging.Redact(phone, m.dev)).Msg("operator rejected initiation")
			return model.RailOutcome{Status: model.OutcomeRejected, DeclineReason: pe.Message}
		}
		m.log.Warn().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("operator initiation failed")
		return model.RailOutcome{Status: model.OutcomeUnavailable}
	}
	if ack.TxnID == "" {
		m.log.Warn().Str("idempotency_key", req.IdempotencyKey).Msg("operator acknowledged without a transaction id")
		return model.RailOutcome{Status: model.OutcomeUnavailable}
	}

	meta := map[string]string{
		"operator":    m.op.Name(),
		"phone_last4": lastN(phone, 4),
	}
	if m.enc != nil {
		if sealed, err := m.enc.Seal(phone, rec.ID); err == nil {
			meta["phone_enc"] = sealed
		} else {
			m.log.Warn().Err(err).Msg("phone encryption failed; storing last digits only")
		}
	}
	return model.RailOutcome{Status: model.OutcomePending, ExternalRef: ack.TxnID, Metadata: meta}
}

func (m *MobileMoneyRailProcessor) CheckStatus(ctx context.Context, ref string) (model.RailOutcome, error) {
	st, err := m.op.Status(ctx, ref)
	if err != nil {
		return model.RailOutcome{Status: model.OutcomeUnavailable, ExternalRef: ref}, err
	}
	return OperatorOutcome(ref, st.Status, st.Reason), nil
}

// OperatorOutcome maps an operator status report to a rail outcome.
func OperatorOutcome(ref string, status adapter.OperatorStatus, reason string) model.RailOutcome {
	out := model.RailOutcome{ExternalRef: ref, DeclineReason: reason}
	switch status {
	case adapter.OperatorStatusSuccessful:
		out.Status = model.OutcomeCompleted
	case adapter.OperatorStatusFailed:
		out.Status = model.OutcomeFailed
	case adapter.OperatorStatusExpired:
		out.Status = model.OutcomeExpired
	default:
		out.Status = model.OutcomePending
	}
	return out
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
