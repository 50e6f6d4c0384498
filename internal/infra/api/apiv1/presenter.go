package apiv1

import (
	"errors"
	"net/http"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/infra/i18n"
	"immo-subscriptions/internal/usecase"
)

// Machine-readable error codes carried in responses.
const (
	codeDeclined     = "declined"
	codeInvalid      = "invalid_request"
	codeUnavailable  = "gateway_unavailable"
	codeConflict     = "conflict"
	codeInProgress   = "in_progress"
	codeExpired      = "expired"
	codeRateLimited  = "rate_limited"
	codeNotFound     = "not_found"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotEligible  = "trial_not_eligible"
	codeInternal     = "internal"
)

// presentPayment turns the orchestrator's answer into the user-facing
// response. Raw provider codes never reach the message.
func presentPayment(tr *i18n.Translator, res *usecase.PaymentResult, err error) (int, model.PaymentResponse) {
	var out model.PaymentResponse
	if res != nil && res.Record != nil {
		out.PaymentID = res.Record.ID
		out.Status = res.Record.Status
		out.Reference = res.Record.Ref()
	}

	var decline *usecase.DeclineError
	var field *domain.FieldError
	switch {
	case err == nil:
	case errors.As(err, &decline):
		out.Error = codeDeclined
		out.Message = tr.T("payment_declined", decline.Reason)
		return http.StatusPaymentRequired, out
	case errors.As(err, &field):
		out.Error = codeInvalid
		out.Message = tr.T("payment_invalid", field.Field)
		return http.StatusBadRequest, out
	case errors.Is(err, domain.ErrConflict):
		out.Error = codeConflict
		out.Message = tr.T("payment_conflict")
		return http.StatusConflict, out
	case errors.Is(err, domain.ErrInProgress):
		out.Error = codeInProgress
		out.Message = tr.T("payment_in_progress")
		return http.StatusConflict, out
	case errors.Is(err, domain.ErrExpired):
		out.Error = codeExpired
		out.Message = tr.T("payment_expired")
		return http.StatusGone, out
	case errors.Is(err, domain.ErrRateLimited):
		out.Error = codeRateLimited
		out.Message = tr.T("payment_rate_limited")
		return http.StatusTooManyRequests, out
	case errors.Is(err, domain.ErrGatewayUnavailable):
		if out.Status == model.PaymentStatusPending {
			// The attempt is recorded; reconciliation will settle it.
			out.Success = true
			out.Message = tr.T("payment_pending_card")
			return http.StatusAccepted, out
		}
		out.Error = codeUnavailable
		out.Message = tr.T("payment_unavailable")
		return http.StatusServiceUnavailable, out
	default:
		out.Error = codeInternal
		out.Message = tr.T("payment_internal")
		return http.StatusInternalServerError, out
	}

	switch out.Status {
	case model.PaymentStatusCompleted:
		out.Success = true
		out.Message = tr.T("payment_completed", res.Record.PlanID)
		return http.StatusOK, out
	case model.PaymentStatusPending:
		out.Success = true
		if res.Record.Rail.IsMobileMoney() {
			out.Message = tr.T("payment_pending")
		} else {
			out.Message = tr.T("payment_pending_card")
		}
		return http.StatusAccepted, out
	case model.PaymentStatusRefunded:
		out.Message = tr.T("payment_refunded")
		return http.StatusOK, out
	default:
		out.Error = codeInternal
		out.Message = tr.T("payment_internal")
		return http.StatusInternalServerError, out
	}
}

// errorStatus maps errors of the non-payment endpoints.
func errorStatus(tr *i18n.Translator, err error) (int, ErrorResponse) {
	var field *domain.FieldError
	var param *InvalidParamFormatError
	switch {
	case errors.As(err, &field):
		return http.StatusBadRequest, ErrorResponse{Error: codeInvalid, Message: tr.T("payment_invalid", field.Field)}
	case errors.As(err, &param):
		return http.StatusBadRequest, ErrorResponse{Error: codeInvalid, Message: tr.T("payment_invalid", param.ParamName)}
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, ErrorResponse{Error: codeInvalid, Message: tr.T("payment_invalid", "request")}
	case errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusNotFound, ErrorResponse{Error: codeNotFound, Message: tr.T("no_subscription")}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: codeNotFound, Message: tr.T("not_found")}
	case errors.Is(err, domain.ErrTrialNotEligible):
		return http.StatusConflict, ErrorResponse{Error: codeNotEligible, Message: tr.T("trial_not_eligible")}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: codeConflict, Message: tr.T("payment_conflict")}
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: codeUnavailable, Message: tr.T("payment_unavailable")}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: codeInternal, Message: tr.T("payment_internal")}
	}
}
