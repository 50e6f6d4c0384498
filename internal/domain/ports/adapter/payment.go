package adapter

import (
	"context"
	"errors"
	"time"
)

// ErrTransport marks failures where the request may or may not have reached
// the provider (timeouts, connection resets, 5xx).
var ErrTransport = errors.New("payment provider transport error")

// ErrUnavailable marks a provider refusing the call itself (credentials,
// unknown route, conflicting state). Nothing was initiated and the payer's
// input is not at fault.
var ErrUnavailable = errors.New("payment provider refused the call")

// ProviderError is a refusal reported by a provider: a card decline or an
// operator rejecting the input. Code is the raw provider code.
type ProviderError struct {
	Code    string
	Message string
	// Declined is true for a refusal of the payment itself (as opposed to a
	// malformed request).
	Declined bool
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// --- Card network ---

// CardIntent is the gateway's view of a payment intent.
type CardIntent struct {
	ID            string
	ClientSecret  string
	Status        string // requires_payment_method | requires_confirmation | requires_action | processing | succeeded | canceled | failed
	DeclineCode   string
	DeclineReason string
}

// CardInput is the raw card data sent for tokenization.
type CardInput struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVC        string
	HolderName string
}

// RefundResult captures a provider-agnostic refund result.
type RefundResult struct {
	ID           string
	Status       string
	RefundAmount int64
	RefundTime   time.Time
}

// CardGateway is the hex port for the card network.
type CardGateway interface {
	Name() string
	CreateIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (CardIntent, error)
	Tokenize(ctx context.Context, card CardInput) (paymentMethodID string, err error)
	// Confirm returns the intent after confirmation. A decline is reported as a
	// *ProviderError with Declined set.
	Confirm(ctx context.Context, intentID, paymentMethodID string) (CardIntent, error)
	GetIntent(ctx context.Context, intentID string) (CardIntent, error)
	Refund(ctx context.Context, intentID string, amount int64, reason string) (RefundResult, error)
}

// --- Mobile money ---

// OperatorStatus is the operator's view of a push payment.
type OperatorStatus string

const (
	OperatorStatusPending    OperatorStatus = "pending"
	OperatorStatusSuccessful OperatorStatus = "successful"
	OperatorStatusFailed     OperatorStatus = "failed"
	OperatorStatusExpired    OperatorStatus = "expired"
)

// OperatorTransaction is the operator's acknowledgement or status report.
type OperatorTransaction struct {
	TxnID  string
	Status OperatorStatus
	Reason string
}

// MobileMoneyOperator is the hex port for one mobile-money operator API.
type MobileMoneyOperator interface {
	Name() string
	// Initiate pushes a payment prompt to the subscriber's device. The
	// returned acknowledgement is not proof of payment.
	Initiate(ctx context.Context, phone string, amount int64, currency, description, reference string) (OperatorTransaction, error)
	Status(ctx context.Context, txnID string) (OperatorTransaction, error)
}
