package usecase

import (
	"context"

	"immo-subscriptions/internal/domain/model"
)

// RailProcessor drives one rail's handshake. Expected business failures
// (declines, rejected input, unreachable provider) come back as outcomes,
// never as panics or errors.
type RailProcessor interface {
	Rail() model.Rail
	// Process runs the rail handshake for req. rec is the pending record the
	// ledger reserved for this attempt.
	Process(ctx context.Context, req model.PaymentRequest, rec *model.PaymentRecord) model.RailOutcome
	// CheckStatus asks the provider for the current state of ref.
	CheckStatus(ctx context.Context, ref string) (model.RailOutcome, error)
}

// Refunder is implemented by rails that can return captured funds.
type Refunder interface {
	Refund(ctx context.Context, rec *model.PaymentRecord, reason string) (map[string]string, error)
}

// RailRegistry is the lookup table the orchestrator dispatches through.
type RailRegistry struct {
	processors map[model.Rail]RailProcessor
}

func NewRailRegistry(processors ...RailProcessor) *RailRegistry {
	r := &RailRegistry{processors: make(map[model.Rail]RailProcessor, len(processors))}
	for _, p := range processors {
		if p == nil {
			continue
		}
		r.processors[p.Rail()] = p
	}
	return r
}

func (r *RailRegistry) Get(rail model.Rail) (RailProcessor, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.processors[rail]
	return p, ok
}
