package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/infra/adapters/payment"
	"immo-subscriptions/internal/infra/api"
	"immo-subscriptions/internal/infra/i18n"
	"immo-subscriptions/internal/infra/logging"
	"immo-subscriptions/internal/infra/metrics"
	"immo-subscriptions/internal/infra/redis"
	"immo-subscriptions/internal/infra/security"
	"immo-subscriptions/internal/infra/worker"
	"immo-subscriptions/internal/usecase"
)

var _ ServerInterface = (*Server)(nil)

const (
	SignatureHeader = "X-Signature"
	maxBodyBytes    = 64 << 10
)

type SubscriptionService interface {
	CurrentSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	StartTrial(ctx context.Context, userID, planID string) (*model.Subscription, error)
}

type PlanLister interface {
	List(ctx context.Context) ([]*model.Plan, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rail model.Rail, ref string, status model.PaymentStatus, meta map[string]string) (bool, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Submitter interface {
	Submit(task worker.Task) error
}

type Deps struct {
	Payments      usecase.PaymentUseCase
	Subscriptions SubscriptionService
	Plans         PlanLister
	Stats         usecase.StatsUseCase
	Reconciler    Resolver
	// Limiter may be nil to disable rate limiting.
	Limiter    Limiter
	RateLimit  int
	RateWindow time.Duration
	// WebhookSecrets holds one HMAC secret per enabled operator.
	WebhookSecrets map[model.Rail]string
	// Pool may be nil; callbacks are then applied inline.
	Pool    Submitter
	Catalog *i18n.Catalog
	Logger  *zerolog.Logger
}

type Server struct {
	Deps
	log *zerolog.Logger
}

func NewServer(d Deps) *Server {
	l := d.Logger.With().Str("component", "apiv1").Logger()
	return &Server{Deps: d, log: &l}
}

func (s *Server) tr(r *http.Request) *i18n.Translator {
	return s.Catalog.For(r.Header.Get("Accept-Language"))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(s.tr(r), err)
	if status >= 500 {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	api.WriteJSON(w, status, body)
}

// ErrorHandler is used by the parameter binders.
func (s *Server) ErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, err)
}

func (s *Server) Unauthorized(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: codeUnauthorized, Message: s.tr(r).T("unauthorized")})
}

func (s *Server) Forbidden(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: codeForbidden, Message: s.tr(r).T("forbidden")})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.InvalidField("body", "malformed json")
	}
	return nil
}

func (s *Server) CreatePayment(w http.ResponseWriter, r *http.Request, params CreatePaymentParams) {
	tr := s.tr(r)
	userID := api.UserID(r.Context())

	var body CreatePaymentRequest
	if err := decodeJSON(r, &body); err != nil {
		status, resp := presentPayment(tr, nil, err)
		api.WriteJSON(w, status, resp)
		return
	}
	key := body.IdempotencyKey
	if params.IdempotencyKey != nil {
		key = *params.IdempotencyKey
	}
	method, ok := model.ParseRail(body.Method)
	if !ok {
		method = model.Rail(body.Method)
	}
	req := model.PaymentRequest{
		UserID:         userID,
		PlanID:         strings.TrimSpace(body.PlanID),
		Amount:         body.Amount,
		Method:         method,
		Phone:          body.Phone,
		IdempotencyKey: strings.TrimSpace(key),
		Locale:         tr.Lang(),
	}
	if body.Card != nil {
		req.Card = &model.CardDetails{
			Number:     body.Card.Number,
			Expiry:     body.Card.Expiry,
			CVC:        body.Card.CVC,
			HolderName: body.Card.HolderName,
		}
	}

	if !s.allow(r.Context(), userID) {
		status, resp := presentPayment(tr, nil, domain.ErrRateLimited)
		api.WriteJSON(w, status, resp)
		return
	}

	res, err := s.Payments.ProcessPayment(r.Context(), req)
	status, resp := presentPayment(tr, res, err)
	s.recordPayment(method, res, status, resp)
	if status >= 500 && !errors.Is(err, domain.ErrGatewayUnavailable) {
		l := logging.With(logging.WithIdempotencyKey(r.Context(), req.IdempotencyKey), s.log)
		l.Error().Err(err).Msg("payment submission failed")
	}
	api.WriteJSON(w, status, resp)
}

func (s *Server) recordPayment(rail model.Rail, res *usecase.PaymentResult, status int, resp model.PaymentResponse) {
	if res != nil && res.Replayed {
		metrics.IncReplay(string(rail))
		return
	}
	result := resp.Error
	if result == "" {
		result = string(resp.Status)
	}
	metrics.IncPayment(string(rail), result)
	if status == http.StatusOK && resp.Status == model.PaymentStatusCompleted {
		metrics.AddPaymentRevenue(res.Record.Currency, res.Record.Amount)
	}
}

// allow fails open when Redis is unreachable.
func (s *Server) allow(ctx context.Context, userID string) bool {
	if s.Limiter == nil || s.RateLimit <= 0 {
		return true
	}
	ok, err := s.Limiter.Allow(ctx, redis.UserActionKey(userID, "payment"), s.RateLimit, s.RateWindow)
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (s *Server) ListPayments(w http.ResponseWriter, r *http.Request, params ListPaymentsParams) {
	limit := 0
	if params.Limit != nil {
		limit = *params.Limit
	}
	recs, err := s.Payments.History(r.Context(), api.UserID(r.Context()), limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	items := make([]Payment, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toPayment(rec))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	rec, err := s.Payments.GetPayment(r.Context(), api.UserID(r.Context()), paymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toPayment(rec))
}

func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Subscriptions.CurrentSubscription(r.Context(), api.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toSubscription(sub))
}

func (s *Server) StartTrial(w http.ResponseWriter, r *http.Request) {
	var body TrialRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.PlanID) == "" {
		s.writeError(w, r, domain.InvalidField("plan_id", "missing"))
		return
	}
	sub, err := s.Subscriptions.StartTrial(r.Context(), api.UserID(r.Context()), body.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.IncTrialStarted()
	out := toSubscription(sub)
	out.Message = s.tr(r).T("trial_started", sub.CurrentPeriodEnd.Format("2006-01-02"))
	api.WriteJSON(w, http.StatusCreated, out)
}

func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.Plans.List(r.Context())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	items := make([]Plan, 0, len(plans))
	for _, p := range plans {
		items = append(items, Plan{ID: p.ID, Name: p.Name, DurationDays: p.DurationDays, Price: p.Price, Currency: p.Currency})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// OperatorWebhook verifies and applies an operator callback. Verified
// callbacks are acknowledged with 202 and applied on the worker pool; when
// the pool is saturated they are applied inline.
func (s *Server) OperatorWebhook(w http.ResponseWriter, r *http.Request, operator string) {
	rail, ok := model.ParseRail(operator)
	secret := s.WebhookSecrets[rail]
	if !ok || !rail.IsMobileMoney() || secret == "" {
		metrics.IncWebhook("unknown", "unknown_operator")
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, domain.InvalidField("body", "unreadable"))
		return
	}
	if !security.VerifyPayload(secret, raw, r.Header.Get(SignatureHeader)) {
		metrics.IncWebhook(string(rail), "bad_signature")
		l := logging.With(r.Context(), s.log)
		l.Warn().Str("operator", operator).Msg("webhook signature mismatch")
		s.Unauthorized(w, r)
		return
	}
	cb, err := payment.ParseCallback(raw)
	if err != nil {
		metrics.IncWebhook(string(rail), "malformed")
		s.writeError(w, r, domain.InvalidField("body", err.Error()))
		return
	}

	outcome := usecase.OperatorOutcome(cb.TxnID, cb.Status, cb.Reason)
	status := outcome.PaymentStatus()
	meta := map[string]string{"callback_status": string(cb.Status)}
	if outcome.DeclineReason != "" {
		meta["decline_reason"] = outcome.DeclineReason
	}
	apply := func(ctx context.Context) error {
		changed, err := s.Reconciler.Resolve(ctx, rail, cb.TxnID, status, meta)
		if err != nil {
			return err
		}
		if changed {
			metrics.IncReconciled("webhook", string(status))
		}
		return nil
	}

	if s.Pool != nil {
		task := func(ctx context.Context) error {
			if err := apply(ctx); err != nil {
				s.log.Warn().Err(err).Str("operator", operator).Str("external_ref", cb.TxnID).
					Msg("callback not applied; left for the sweep")
				return err
			}
			return nil
		}
		if err := s.Pool.Submit(task); err == nil {
			metrics.IncWebhook(string(rail), "queued")
			api.WriteJSON(w, http.StatusAccepted, map[string]bool{"received": true})
			return
		}
	}
	if err := apply(r.Context()); err != nil {
		// Non-2xx makes the operator redeliver.
		metrics.IncWebhook(string(rail), "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncWebhook(string(rail), "applied")
	api.WriteJSON(w, http.StatusAccepted, map[string]bool{"received": true})
}

func (s *Server) RefundPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	var body RefundRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	rec, err := s.Payments.Refund(r.Context(), paymentID, body.Reason)
	if err != nil {
		metrics.IncRefund("error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncRefund("ok")
	l := logging.With(r.Context(), s.log)
	l.Info().Str("payment_id", rec.ID).Msg("payment refunded")
	api.WriteJSON(w, http.StatusOK, toPayment(rec))
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Stats.Subscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	week, month, year, err := s.Stats.Revenue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, Stats{Subscriptions: counts, Revenue: Revenue{Week: week, Month: month, Year: year}})
}
