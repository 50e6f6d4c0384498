package model

// CardDetails is the card payload of a PaymentRequest. It is handed to the
// card gateway for tokenization and never stored.
type CardDetails struct {
	Number     string
	Expiry     string // MM/YY or MM/YYYY
	CVC        string
	HolderName string
}

// PaymentRequest is the ephemeral input of a payment submission.
type PaymentRequest struct {
	UserID         string
	PlanID         string
	Amount         int64
	Method         Rail
	Card           *CardDetails
	Phone          string
	IdempotencyKey string
	Locale         string
}

// OutcomeStatus is what a rail reports after one handshake.
type OutcomeStatus string

const (
	OutcomeCompleted   OutcomeStatus = "completed"
	OutcomeFailed      OutcomeStatus = "failed"      // declined; terminal
	OutcomePending     OutcomeStatus = "pending"     // async rail acknowledged the push
	OutcomeRejected    OutcomeStatus = "rejected"    // rail refused the input (e.g. malformed phone)
	OutcomeUnavailable OutcomeStatus = "unavailable" // transport failure or ambiguous state
	OutcomeExpired     OutcomeStatus = "expired"
)

// RailOutcome is the typed result of a rail call.
type RailOutcome struct {
	Status        OutcomeStatus
	ExternalRef   string
	DeclineReason string
	// Ambiguous marks an unavailable outcome where money may already have
	// moved; the record must stay pending for reconciliation.
	Ambiguous bool
	Metadata  map[string]string
}

// PaymentStatus maps a terminal or pending outcome to the record status.
func (o RailOutcome) PaymentStatus() PaymentStatus {
	switch o.Status {
	case OutcomeCompleted:
		return PaymentStatusCompleted
	case OutcomeFailed, OutcomeRejected:
		return PaymentStatusFailed
	case OutcomeExpired:
		return PaymentStatusExpired
	default:
		return PaymentStatusPending
	}
}

// PaymentResponse is what the user-facing surface displays.
type PaymentResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Error     string        `json:"error,omitempty"`
	Status    PaymentStatus `json:"status,omitempty"`
	PaymentID string        `json:"payment_id,omitempty"`
	Reference string        `json:"reference,omitempty"`
}
