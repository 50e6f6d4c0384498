//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/adapter"
	"immo-subscriptions/internal/domain/ports/repository"
	"immo-subscriptions/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// In-memory store shared by the mock repositories
// =============================

type memStore struct {
	mu       sync.Mutex
	payments map[string]*model.PaymentRecord
	subs     map[string]*model.Subscription
	plans    map[string]*model.Plan
}

func newMemStore() *memStore {
	return &memStore{
		payments: map[string]*model.PaymentRecord{},
		subs:     map[string]*model.Subscription{},
		plans:    map[string]*model.Plan{},
	}
}

func copyPayment(p *model.PaymentRecord) *model.PaymentRecord {
	cp := *p
	cp.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	if p.ExternalRef != nil {
		ref := *p.ExternalRef
		cp.ExternalRef = &ref
	}
	if p.SubscriptionID != nil {
		id := *p.SubscriptionID
		cp.SubscriptionID = &id
	}
	return &cp
}

func copySub(s *model.Subscription) *model.Subscription {
	cp := *s
	if s.PaymentMethod != nil {
		r := *s.PaymentMethod
		cp.PaymentMethod = &r
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		cp.CanceledAt = &t
	}
	return &cp
}

func (s *memStore) snapshot() (map[string]*model.PaymentRecord, map[string]*model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := make(map[string]*model.PaymentRecord, len(s.payments))
	for k, v := range s.payments {
		ps[k] = copyPayment(v)
	}
	ss := make(map[string]*model.Subscription, len(s.subs))
	for k, v := range s.subs {
		ss[k] = copySub(v)
	}
	return ps, ss
}

func (s *memStore) restore(ps map[string]*model.PaymentRecord, ss map[string]*model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments, s.subs = ps, ss
}

// subsFor returns copies of every subscription of userID.
func (s *memStore) subsFor(userID string) []*model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Subscription
	for _, v := range s.subs {
		if v.UserID == userID {
			out = append(out, copySub(v))
		}
	}
	return out
}

func (s *memStore) currentFor(userID string) []*model.Subscription {
	var out []*model.Subscription
	for _, v := range s.subsFor(userID) {
		if v.Status.IsCurrent() {
			out = append(out, v)
		}
	}
	return out
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *memStore) putPayment(p *model.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = copyPayment(p)
}

// paymentsFor returns copies of every payment record of userID.
func (s *memStore) paymentsFor(userID string) []*model.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PaymentRecord
	for _, v := range s.payments {
		if v.UserID == userID {
			out = append(out, copyPayment(v))
		}
	}
	return out
}

// agePayment moves a record's timestamps d into the past.
func (s *memStore) agePayment(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.CreatedAt = p.CreatedAt.Add(-d)
		p.UpdatedAt = p.UpdatedAt.Add(-d)
	}
}

func (s *memStore) putSub(sub *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = copySub(sub)
}

func (s *memStore) seedPlans() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []model.Plan{
		{ID: "starter", Name: "Starter", DurationDays: 30, Price: 9900, Currency: "XOF"},
		{ID: "professionnel", Name: "Professionnel", DurationDays: 30, Price: 20000, Currency: "XOF"},
		{ID: "entreprise", Name: "Entreprise", DurationDays: 30, Price: 45000, Currency: "XOF"},
	} {
		p := p
		s.plans[p.ID] = &p
	}
}

// =============================
// Repositories
// =============================

// ---- MockPaymentRepo ----

type MockPaymentRepo struct {
	s *memStore

	// Optional error hooks.
	InsertErr error
	UpdateErr error
	SumFunc   func(since time.Time) (int64, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func (r *MockPaymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.payments {
		if e.ID == p.ID || (e.UserID == p.UserID && e.IdempotencyKey == p.IdempotencyKey) {
			return domain.ErrAlreadyExists
		}
		if p.ExternalRef != nil && e.ExternalRef != nil && e.Rail == p.Rail && *e.ExternalRef == *p.ExternalRef {
			return domain.ErrAlreadyExists
		}
	}
	r.s.payments[p.ID] = copyPayment(p)
	return nil
}

func (r *MockPaymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.ID]; !ok {
		return domain.ErrNotFound
	}
	for _, e := range r.s.payments {
		if e.ID != p.ID && p.ExternalRef != nil && e.ExternalRef != nil && e.Rail == p.Rail && *e.ExternalRef == *p.ExternalRef {
			return domain.ErrAlreadyExists
		}
	}
	r.s.payments[p.ID] = copyPayment(p)
	return nil
}

func (r *MockPaymentRepo) DeleteUnacknowledged(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || !p.InFlight() {
		return false, nil
	}
	delete(r.s.payments, id)
	return true, nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPayment(p), nil
}

func (r *MockPaymentRepo) FindByIdempotencyKey(ctx context.Context, tx repository.Tx, userID, key string) (*model.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.UserID == userID && p.IdempotencyKey == key {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, rail model.Rail, ref string) (*model.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.Rail == rail && p.ExternalRef != nil && *p.ExternalRef == ref {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range r.s.payments {
		if p.UserID == userID {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusPending && !p.CreatedAt.After(olderThan) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	if r.SumFunc != nil {
		return r.SumFunc(since)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusCompleted && !p.UpdatedAt.Before(since) {
			sum += p.Amount
		}
	}
	return sum, nil
}

// ---- MockSubscriptionRepo ----

type MockSubscriptionRepo struct {
	s *memStore

	mu        sync.Mutex
	lockCalls int
	SaveErr   error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

// Save enforces the one-current-subscription-per-user constraint the
// database carries as a partial unique index.
func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.Status.IsCurrent() {
		for _, e := range r.s.subs {
			if e.ID != sub.ID && e.UserID == sub.UserID && e.Status.IsCurrent() {
				return domain.ErrAlreadyExists
			}
		}
	}
	r.s.subs[sub.ID] = copySub(sub)
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySub(s), nil
}

func (r *MockSubscriptionRepo) FindCurrentByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.subs {
		if s.UserID == userID && s.Status.IsCurrent() {
			return copySub(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) CountByUser(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, s := range r.s.subs {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MockSubscriptionRepo) ListLapsed(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		if s.Status.IsCurrent() && !s.CurrentPeriodEnd.After(now) {
			out = append(out, copySub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.s.subs {
		out[s.Status]++
	}
	return out, nil
}

func (r *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if tx == nil {
		return domain.ErrInvalidExecContext
	}
	r.mu.Lock()
	r.lockCalls++
	r.mu.Unlock()
	return nil
}

// ---- MockPlanRepo ----

type MockPlanRepo struct {
	s *memStore
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *p
	r.s.plans[p.ID] = &cp
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (r *MockPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.plans, id)
	return nil
}

// ---- MockTxManager ----

// MockTxManager serializes transactions and restores the store when fn
// fails, which is enough to observe all-or-nothing ledger writes.
type MockTxManager struct {
	s   *memStore
	mu  sync.Mutex
	Txs int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

type mockTx struct{ n int }

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Txs++
	ps, ss := m.s.snapshot()
	if err := fn(ctx, &mockTx{n: m.Txs}); err != nil {
		m.s.restore(ps, ss)
		return err
	}
	return nil
}

// =============================
// Adapters
// =============================

// ---- MockCardGateway ----

type MockCardGateway struct {
	mu    sync.Mutex
	calls map[string]int

	CreateIntentFunc func(ctx context.Context, amount int64, currency string, meta map[string]string) (adapter.CardIntent, error)
	TokenizeFunc     func(ctx context.Context, card adapter.CardInput) (string, error)
	ConfirmFunc      func(ctx context.Context, intentID, pm string) (adapter.CardIntent, error)
	GetIntentFunc    func(ctx context.Context, intentID string) (adapter.CardIntent, error)
	RefundFunc       func(ctx context.Context, intentID string, amount int64, reason string) (adapter.RefundResult, error)
}

var _ adapter.CardGateway = (*MockCardGateway)(nil)

func (m *MockCardGateway) hit(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[op]++
}

func (m *MockCardGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockCardGateway) Name() string { return "card" }

func (m *MockCardGateway) CreateIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (adapter.CardIntent, error) {
	m.hit("create")
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, amount, currency, meta)
	}
	return adapter.CardIntent{ID: "pi_" + meta["payment_id"], Status: "requires_payment_method"}, nil
}

func (m *MockCardGateway) Tokenize(ctx context.Context, card adapter.CardInput) (string, error) {
	m.hit("tokenize")
	if m.TokenizeFunc != nil {
		return m.TokenizeFunc(ctx, card)
	}
	return "pm_" + card.Number[len(card.Number)-4:], nil
}

func (m *MockCardGateway) Confirm(ctx context.Context, intentID, pm string) (adapter.CardIntent, error) {
	m.hit("confirm")
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, intentID, pm)
	}
	return adapter.CardIntent{ID: intentID, Status: "succeeded"}, nil
}

func (m *MockCardGateway) GetIntent(ctx context.Context, intentID string) (adapter.CardIntent, error) {
	m.hit("get")
	if m.GetIntentFunc != nil {
		return m.GetIntentFunc(ctx, intentID)
	}
	return adapter.CardIntent{ID: intentID, Status: "succeeded"}, nil
}

func (m *MockCardGateway) Refund(ctx context.Context, intentID string, amount int64, reason string) (adapter.RefundResult, error) {
	m.hit("refund")
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, intentID, amount, reason)
	}
	return adapter.RefundResult{ID: "re_1", Status: "succeeded", RefundAmount: amount, RefundTime: time.Now()}, nil
}

// ---- MockRefRecorder ----

type MockRefRecorder struct {
	mu   sync.Mutex
	refs map[string]string
	Err  error
}

var _ usecase.RefRecorder = (*MockRefRecorder)(nil)

func (m *MockRefRecorder) AttachRef(ctx context.Context, recordID, ref string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == nil {
		m.refs = map[string]string{}
	}
	m.refs[recordID] = ref
	return nil
}

func (m *MockRefRecorder) Ref(recordID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[recordID]
}

// ---- MockOperator ----

type MockOperator struct {
	name string

	mu        sync.Mutex
	seq       int
	initiated []string // references passed to Initiate

	InitiateFunc func(ctx context.Context, phone string, amount int64, reference string) (adapter.OperatorTransaction, error)
	StatusFunc   func(ctx context.Context, txnID string) (adapter.OperatorTransaction, error)
}

var _ adapter.MobileMoneyOperator = (*MockOperator)(nil)

func (m *MockOperator) Name() string { return m.name }

func (m *MockOperator) Initiate(ctx context.Context, phone string, amount int64, currency, description, reference string) (adapter.OperatorTransaction, error) {
	m.mu.Lock()
	m.seq++
	n := m.seq
	m.initiated = append(m.initiated, reference)
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, phone, amount, reference)
	}
	return adapter.OperatorTransaction{TxnID: fmt.Sprintf("%s-%d", m.name, n), Status: adapter.OperatorStatusPending}, nil
}

func (m *MockOperator) Status(ctx context.Context, txnID string) (adapter.OperatorTransaction, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, txnID)
	}
	return adapter.OperatorTransaction{TxnID: txnID, Status: adapter.OperatorStatusPending}, nil
}

func (m *MockOperator) Initiated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.initiated...)
}

// ---- mockEncrypter ----

type mockEncrypter struct{}

func (mockEncrypter) Seal(plaintext, aad string) (string, error) {
	return "sealed:" + aad + ":" + plaintext, nil
}
