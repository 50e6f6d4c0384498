package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"immo-subscriptions/internal/infra/api"
)

// ServerInterface lists the operations of api/openapi.yaml.
type ServerInterface interface {
	// (POST /payments)
	CreatePayment(w http.ResponseWriter, r *http.Request, params CreatePaymentParams)
	// (GET /payments)
	ListPayments(w http.ResponseWriter, r *http.Request, params ListPaymentsParams)
	// (GET /payments/{paymentId})
	GetPayment(w http.ResponseWriter, r *http.Request, paymentID string)
	// (GET /subscription)
	GetSubscription(w http.ResponseWriter, r *http.Request)
	// (POST /subscription/trial)
	StartTrial(w http.ResponseWriter, r *http.Request)
	// (GET /plans)
	ListPlans(w http.ResponseWriter, r *http.Request)
	// (POST /webhooks/{operator})
	OperatorWebhook(w http.ResponseWriter, r *http.Request, operator string)
	// (POST /admin/payments/{paymentId}/refund)
	RefundPayment(w http.ResponseWriter, r *http.Request, paymentID string)
	// (GET /admin/stats)
	GetStats(w http.ResponseWriter, r *http.Request)
}

type CreatePaymentParams struct {
	IdempotencyKey *string
}

type ListPaymentsParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// ServerInterfaceWrapper binds path, query and header parameters before
// calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var params CreatePaymentParams
	if v := r.Header.Get("Idempotency-Key"); v != "" {
		var key string
		if err := runtime.BindStyledParameterWithOptions("simple", "Idempotency-Key", v, &key,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationHeader, Explode: false, Required: true}); err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "Idempotency-Key", Err: err})
			return
		}
		params.IdempotencyKey = &key
	}
	siw.Handler.CreatePayment(w, r, params)
}

func (siw *ServerInterfaceWrapper) ListPayments(w http.ResponseWriter, r *http.Request) {
	var params ListPaymentsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	siw.Handler.ListPayments(w, r, params)
}

func (siw *ServerInterfaceWrapper) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathParam(w, r, "paymentId")
	if !ok {
		return
	}
	siw.Handler.GetPayment(w, r, id)
}

func (siw *ServerInterfaceWrapper) GetSubscription(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetSubscription(w, r)
}

func (siw *ServerInterfaceWrapper) StartTrial(w http.ResponseWriter, r *http.Request) {
	siw.Handler.StartTrial(w, r)
}

func (siw *ServerInterfaceWrapper) ListPlans(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ListPlans(w, r)
}

func (siw *ServerInterfaceWrapper) OperatorWebhook(w http.ResponseWriter, r *http.Request) {
	op, ok := siw.pathParam(w, r, "operator")
	if !ok {
		return
	}
	siw.Handler.OperatorWebhook(w, r, op)
}

func (siw *ServerInterfaceWrapper) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.pathParam(w, r, "paymentId")
	if !ok {
		return
	}
	siw.Handler.RefundPayment(w, r, id)
}

func (siw *ServerInterfaceWrapper) GetStats(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetStats(w, r)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return "", false
	}
	return v, true
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// Guards are applied per route group. Webhooks authenticate by signature,
// everything else by bearer token.
type Guards struct {
	User  api.Middleware
	Admin api.Middleware
}

// RegisterAPIV1 mounts the /api/v1 routes on r.
func RegisterAPIV1(r chi.Router, si ServerInterface, g Guards, errHandler func(http.ResponseWriter, *http.Request, error)) {
	w := &ServerInterfaceWrapper{Handler: si, ErrorHandlerFunc: errHandler}
	if g.User == nil {
		g.User = func(h http.Handler) http.Handler { return h }
	}
	if g.Admin == nil {
		g.Admin = func(h http.Handler) http.Handler { return h }
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/{operator}", w.OperatorWebhook)
		r.Get("/plans", w.ListPlans)

		r.Group(func(r chi.Router) {
			r.Use(g.User)
			r.Post("/payments", w.CreatePayment)
			r.Get("/payments", w.ListPayments)
			r.Get("/payments/{paymentId}", w.GetPayment)
			r.Get("/subscription", w.GetSubscription)
			r.Post("/subscription/trial", w.StartTrial)

			r.Group(func(r chi.Router) {
				r.Use(g.Admin)
				r.Post("/admin/payments/{paymentId}/refund", w.RefundPayment)
				r.Get("/admin/stats", w.GetStats)
			})
		})
	})
}
