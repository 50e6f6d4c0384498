package model

import (
	"time"

	"immo-subscriptions/internal/domain"
)

// Plan is a purchasable subscription plan. Price is authoritative: client
// supplied amounts are checked against it.
type Plan struct {
	ID           string // slug, e.g. "starter"
	Name         string
	DurationDays int
	Price        int64 // minor units
	Currency     string
	CreatedAt    time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, durationDays int, price int64, currency string) (*Plan, error) {
	if id == "" || name == "" || durationDays <= 0 || price <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		ID:           id,
		Name:         name,
		DurationDays: durationDays,
		Price:        price,
		Currency:     currency,
		CreatedAt:    time.Now(),
	}, nil
}
