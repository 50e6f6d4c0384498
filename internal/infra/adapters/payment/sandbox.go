package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"immo-subscriptions/internal/domain/ports/adapter"
)

var (
	_ adapter.CardGateway         = (*SandboxCardGateway)(nil)
	_ adapter.MobileMoneyOperator = (*SandboxOperator)(nil)
)

// Test card numbers understood by the sandbox.
const (
	SandboxCardDeclined          = "4000000000000002"
	SandboxCardInsufficientFunds = "4000000000009995"
	SandboxCardIncorrectCVC      = "4000000000000127"
)

type sandboxIntent struct {
	amount int64
	status string
	code   string
	reason string
}

// SandboxCardGateway is an in-memory card gateway for dev mode and tests.
// Every card succeeds except the SandboxCard* numbers.
type SandboxCardGateway struct {
	mu      sync.Mutex
	seq     int64
	intents map[string]*sandboxIntent
	methods map[string]string // pm id -> card number
}

func NewSandboxCardGateway() *SandboxCardGateway {
	return &SandboxCardGateway{
		intents: make(map[string]*sandboxIntent),
		methods: make(map[string]string),
	}
}

func (g *SandboxCardGateway) Name() string { return "card" }

func (g *SandboxCardGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_sandbox_%d", prefix, g.seq)
}

func (g *SandboxCardGateway) CreateIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (adapter.CardIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next("pi")
	g.intents[id] = &sandboxIntent{amount: amount, status: "requires_payment_method"}
	return adapter.CardIntent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (g *SandboxCardGateway) Tokenize(ctx context.Context, card adapter.CardInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if card.Number == SandboxCardIncorrectCVC {
		return "", &adapter.ProviderError{Code: "incorrect_cvc", Message: "Your card's security code is incorrect.", Declined: true}
	}
	id := g.next("pm")
	g.methods[id] = card.Number
	return id, nil
}

func (g *SandboxCardGateway) Confirm(ctx context.Context, intentID, paymentMethodID string) (adapter.CardIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return adapter.CardIntent{}, &adapter.ProviderError{Code: "resource_missing", Message: "no such payment_intent"}
	}
	number, ok := g.methods[paymentMethodID]
	if !ok {
		return adapter.CardIntent{}, &adapter.ProviderError{Code: "resource_missing", Message: "no such payment_method"}
	}
	switch number {
	case SandboxCardDeclined:
		in.status, in.code, in.reason = "requires_payment_method", "generic_decline", "Your card was declined."
	case SandboxCardInsufficientFunds:
		in.status, in.code, in.reason = "requires_payment_method", "insufficient_funds", "Your card has insufficient funds."
	default:
		in.status = "succeeded"
	}
	if in.code != "" {
		return adapter.CardIntent{}, &adapter.ProviderError{Code: in.code, Message: in.reason, Declined: true}
	}
	return adapter.CardIntent{ID: intentID, Status: in.status}, nil
}

func (g *SandboxCardGateway) GetIntent(ctx context.Context, intentID string) (adapter.CardIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return adapter.CardIntent{}, &adapter.ProviderError{Code: "resource_missing", Message: "no such payment_intent"}
	}
	return adapter.CardIntent{ID: intentID, Status: in.status, DeclineCode: in.code, DeclineReason: in.reason}, nil
}

func (g *SandboxCardGateway) Refund(ctx context.Context, intentID string, amount int64, reason string) (adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok || in.status != "succeeded" {
		return adapter.RefundResult{}, &adapter.ProviderError{Code: "charge_not_refundable", Message: "intent not succeeded"}
	}
	if amount > in.amount {
		return adapter.RefundResult{}, &adapter.ProviderError{Code: "amount_too_large", Message: "refund exceeds charge"}
	}
	return adapter.RefundResult{
		ID:           "re_" + strings.TrimPrefix(intentID, "pi_"),
		Status:       "succeeded",
		RefundAmount: amount,
		RefundTime:   time.Now(),
	}, nil
}

// SandboxOperator acknowledges every push and keeps it pending until Settle
// is called.
type SandboxOperator struct {
	name string
	mu   sync.Mutex
	seq  int64
	txns map[string]adapter.OperatorTransaction
}

func NewSandboxOperator(name string) *SandboxOperator {
	return &SandboxOperator{name: name, txns: make(map[string]adapter.OperatorTransaction)}
}

func (o *SandboxOperator) Name() string { return o.name }

func (o *SandboxOperator) Initiate(ctx context.Context, phone string, amount int64, currency, description, reference string) (adapter.OperatorTransaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	t := adapter.OperatorTransaction{
		TxnID:  fmt.Sprintf("%s-%06d", strings.ToUpper(o.name), o.seq),
		Status: adapter.OperatorStatusPending,
	}
	o.txns[t.TxnID] = t
	return t, nil
}

func (o *SandboxOperator) Status(ctx context.Context, txnID string) (adapter.OperatorTransaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.txns[txnID]
	if !ok {
		return adapter.OperatorTransaction{}, fmt.Errorf("%s: transaction %s not found", o.name, txnID)
	}
	return t, nil
}

// Settle moves a transaction to a final status, as if the subscriber had
// answered the prompt.
func (o *SandboxOperator) Settle(txnID string, status adapter.OperatorStatus, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.txns[txnID]
	if !ok {
		return false
	}
	t.Status, t.Reason = status, reason
	o.txns[txnID] = t
	return true
}
