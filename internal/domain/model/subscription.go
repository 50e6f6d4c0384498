package model

import (
	"time"

	"immo-subscriptions/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// IsCurrent reports whether the status counts toward the one-current-subscription rule.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionStatusTrial || s == SubscriptionStatusActive
}

// Subscription is a user's plan entitlement.
type Subscription struct {
	ID               string
	UserID           string
	PlanID           string
	Status           SubscriptionStatus
	Price            int64
	PaymentMethod    *Rail // last rail used; nil for trials
	StartedAt        time.Time
	CurrentPeriodEnd time.Time
	CanceledAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewActiveSubscription builds the subscription a completed payment activates.
func NewActiveSubscription(id, userID string, plan *Plan, rail Rail, now time.Time) (*Subscription, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	r := rail
	return &Subscription{
		ID:               id,
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           SubscriptionStatusActive,
		Price:            plan.Price,
		PaymentMethod:    &r,
		StartedAt:        now,
		CurrentPeriodEnd: now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// NewTrialSubscription builds a payment-less trial.
func NewTrialSubscription(id, userID string, plan *Plan, length time.Duration, now time.Time) (*Subscription, error) {
	if id == "" || userID == "" || plan.IsZero() || length <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:               id,
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           SubscriptionStatusTrial,
		Price:            0,
		StartedAt:        now,
		CurrentPeriodEnd: now.Add(length),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Cancel moves the subscription to Canceled.
func (s *Subscription) Cancel(now time.Time) {
	s.Status = SubscriptionStatusCanceled
	s.CanceledAt = &now
	s.UpdatedAt = now
}
