package apiv1

import (
	"time"

	"immo-subscriptions/internal/domain/model"
)

type CardPayload struct {
	Number     string `json:"number"`
	Expiry     string `json:"expiry"`
	CVC        string `json:"cvc"`
	HolderName string `json:"holder_name,omitempty"`
}

type CreatePaymentRequest struct {
	PlanID         string       `json:"plan_id"`
	Amount         int64        `json:"amount"`
	Method         string       `json:"method"`
	Card           *CardPayload `json:"card,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

type TrialRequest struct {
	PlanID string `json:"plan_id"`
}

type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

type Payment struct {
	ID             string              `json:"id"`
	PlanID         string              `json:"plan_id"`
	Amount         int64               `json:"amount"`
	Currency       string              `json:"currency"`
	Method         model.Rail          `json:"method"`
	Status         model.PaymentStatus `json:"status"`
	Reference      string              `json:"reference,omitempty"`
	SubscriptionID string              `json:"subscription_id,omitempty"`
	DeclineReason  string              `json:"decline_reason,omitempty"`
	PhoneLast4     string              `json:"phone_last4,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func toPayment(rec *model.PaymentRecord) Payment {
	p := Payment{
		ID:            rec.ID,
		PlanID:        rec.PlanID,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Method:        rec.Rail,
		Status:        rec.Status,
		Reference:     rec.Ref(),
		DeclineReason: rec.Metadata["decline_reason"],
		PhoneLast4:    rec.Metadata["phone_last4"],
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.SubscriptionID != nil {
		p.SubscriptionID = *rec.SubscriptionID
	}
	return p
}

type Subscription struct {
	ID               string                   `json:"id"`
	PlanID           string                   `json:"plan_id"`
	Status           model.SubscriptionStatus `json:"status"`
	Price            int64                    `json:"price"`
	PaymentMethod    *model.Rail              `json:"payment_method,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	CurrentPeriodEnd time.Time                `json:"current_period_end"`
	Message          string                   `json:"message,omitempty"`
}

func toSubscription(s *model.Subscription) Subscription {
	return Subscription{
		ID:               s.ID,
		PlanID:           s.PlanID,
		Status:           s.Status,
		Price:            s.Price,
		PaymentMethod:    s.PaymentMethod,
		StartedAt:        s.StartedAt,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
	}
}

type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DurationDays int    `json:"duration_days"`
	Price        int64  `json:"price"`
	Currency     string `json:"currency"`
}

type Revenue struct {
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
	Year  int64 `json:"year"`
}

type Stats struct {
	Subscriptions map[model.SubscriptionStatus]int `json:"subscriptions"`
	Revenue       Revenue                          `json:"revenue"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
