//go:build !integration

package usecase_test

import (
	"time"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/usecase"
)

const validCard = "4242424242424242"

type stack struct {
	store     *memStore
	payments  *MockPaymentRepo
	subs      *MockSubscriptionRepo
	plans     *MockPlanRepo
	tm        *MockTxManager
	card      *MockCardGateway
	moov      *MockOperator
	flooz     *MockOperator
	ledger    *usecase.SubscriptionLedger
	rails     *usecase.RailRegistry
	orch      *usecase.PaymentOrchestrator
	reconcile *usecase.ReconcileUseCase
}

func newStack() *stack {
	st := newMemStore()
	st.seedPlans()
	s := &stack{
		store:    st,
		payments: &MockPaymentRepo{s: st},
		subs:     &MockSubscriptionRepo{s: st},
		plans:    &MockPlanRepo{s: st},
		tm:       &MockTxManager{s: st},
		card:     &MockCardGateway{},
		moov:     &MockOperator{name: "moov"},
		flooz:    &MockOperator{name: "flooz"},
	}
	logger := newTestLogger()
	s.ledger = usecase.NewSubscriptionLedger(s.payments, s.subs, s.plans, s.tm, 14*24*time.Hour, logger)
	s.rails = usecase.NewRailRegistry(
		usecase.NewCardRailProcessor(s.card, s.ledger, "XOF", time.Second, logger),
		usecase.NewMobileMoneyRailProcessor(model.RailMoov, s.moov, "XOF", mockEncrypter{}, false, logger),
		usecase.NewMobileMoneyRailProcessor(model.RailFlooz, s.flooz, "XOF", mockEncrypter{}, false, logger),
	)
	validator := usecase.NewRailValidator(map[model.Rail]usecase.PhoneRule{
		model.RailMoov:  {CountryCode: "228", SubscriberDigits: 8},
		model.RailFlooz: {CountryCode: "228", SubscriberDigits: 8},
	})
	s.orch = usecase.NewPaymentOrchestrator(s.plans, validator, s.rails, s.ledger, "XOF", logger)
	s.reconcile = usecase.NewReconcileUseCase(s.payments, s.ledger, s.rails, usecase.ReconcileConfig{
		StaleAfter:  2 * time.Minute,
		ExpireAfter: 15 * time.Minute,
		BatchSize:   50,
		Parallelism: 2,
	}, logger)
	return s
}

func cardRequest(user, key, plan string, amount int64, number string) model.PaymentRequest {
	return model.PaymentRequest{
		UserID:         user,
		PlanID:         plan,
		Amount:         amount,
		Method:         model.RailCard,
		IdempotencyKey: key,
		Card: &model.CardDetails{
			Number:     number,
			Expiry:     "12/99",
			CVC:        "123",
			HolderName: "Kossi Mensah",
		},
	}
}

func mobileRequest(user, key, plan string, amount int64, rail model.Rail, phone string) model.PaymentRequest {
	return model.PaymentRequest{
		UserID:         user,
		PlanID:         plan,
		Amount:         amount,
		Method:         rail,
		Phone:          phone,
		IdempotencyKey: key,
	}
}

func strPtr(s string) *string { return &s }
