package model

import (
	"strings"
	"time"
)

// Rail is one payment channel.
type Rail string

const (
	RailCard  Rail = "card"
	RailMoov  Rail = "moov"
	RailFlooz Rail = "flooz"
)

// Rails lists every supported rail.
var Rails = []Rail{RailCard, RailMoov, RailFlooz}

// ParseRail normalises a client-supplied method name.
func ParseRail(s string) (Rail, bool) {
	r := Rail(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Rails {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// IsMobileMoney reports whether completion on this rail arrives asynchronously.
func (r Rail) IsMobileMoney() bool { return r == RailMoov || r == RailFlooz }

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // reserved or awaiting rail confirmation
	PaymentStatusCompleted PaymentStatus = "completed" // money moved
	PaymentStatusFailed    PaymentStatus = "failed"    // declined or rejected by the rail
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusExpired   PaymentStatus = "expired" // no confirmation within the window
)

func (s PaymentStatus) IsTerminal() bool { return s != PaymentStatusPending }

// Metadata keys written by the ledger.
const (
	// MetaRailOutcome holds the rail's answer once it has been recorded.
	MetaRailOutcome = "rail_outcome"
	// MetaLateSettlement flags a record that was closed before the rail
	// reported the money as collected.
	MetaLateSettlement = "late_settlement"
)

// PaymentRecord is the durable record of one payment attempt.
type PaymentRecord struct {
	ID             string // ULID
	UserID         string
	PlanID         string
	SubscriptionID *string // set once the payment activated a subscription
	Amount         int64   // minor units
	Currency       string
	Rail           Rail
	ExternalRef    *string // intent id / operator txn id, set once the rail acknowledges
	IdempotencyKey string
	Status         PaymentStatus
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SameAttempt reports whether a resubmission carries the same parameters as
// the attempt that created this record.
func (p *PaymentRecord) SameAttempt(userID, planID string, amount int64, rail Rail) bool {
	return p.UserID == userID && p.PlanID == planID && p.Amount == amount && p.Rail == rail
}

// InFlight reports whether the attempt is reserved but its rail call has not
// been recorded yet. Such a reservation may still be abandoned.
func (p *PaymentRecord) InFlight() bool {
	return p.Status == PaymentStatusPending && p.Metadata[MetaRailOutcome] == ""
}

// Ref returns the external reference or "".
func (p *PaymentRecord) Ref() string {
	if p.ExternalRef == nil {
		return ""
	}
	return *p.ExternalRef
}
