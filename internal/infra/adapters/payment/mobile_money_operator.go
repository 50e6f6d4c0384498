// File: internal/infra/adapters/payment/mobile_money_operator.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"immo-subscriptions/internal/domain/ports/adapter"
	"immo-subscriptions/internal/infra/metrics"
)

var _ adapter.MobileMoneyOperator = (*HTTPOperator)(nil)

// HTTPOperator is a push-payment ("collection") client for one mobile-money
// operator. Moov and Flooz expose the same request shape behind different
// base URLs and keys.
type HTTPOperator struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPOperator(name, baseURL, apiKey string, timeout time.Duration) (*HTTPOperator, error) {
	if name == "" {
		return nil, errors.New("operator name empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid %s url: %w", name, err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPOperator{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (o *HTTPOperator) Name() string { return o.name }

type collectionJSON struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Reference     string `json:"reference"`
}

func (c collectionJSON) toTransaction() adapter.OperatorTransaction {
	return adapter.OperatorTransaction{
		TxnID:  c.TransactionID,
		Status: NormalizeOperatorStatus(c.Status),
		Reason: c.Reason,
	}
}

func (o *HTTPOperator) Initiate(ctx context.Context, phone string, amount int64, currency, description, reference string) (adapter.OperatorTransaction, error) {
	payload := map[string]any{
		"phone":       phone,
		"amount":      amount,
		"currency":    currency,
		"description": description,
		"reference":   reference,
	}
	var out collectionJSON
	if err := o.do(ctx, "initiate", http.MethodPost, "/v1/collections", payload, reference, &out); err != nil {
		return adapter.OperatorTransaction{}, err
	}
	return out.toTransaction(), nil
}

func (o *HTTPOperator) Status(ctx context.Context, txnID string) (adapter.OperatorTransaction, error) {
	var out collectionJSON
	if err := o.do(ctx, "status", http.MethodGet, "/v1/collections/"+url.PathEscape(txnID), nil, "", &out); err != nil {
		return adapter.OperatorTransaction{}, err
	}
	if out.TransactionID == "" {
		out.TransactionID = txnID
	}
	return out.toTransaction(), nil
}

func (o *HTTPOperator) do(ctx context.Context, op, method, path string, payload any, reference string, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRailCall(o.name, op, callResult(err), time.Since(start)) }()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", o.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reference != "" {
		req.Header.Set("X-Reference-Id", reference)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", adapter.ErrTransport, o.name, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s %s: read body: %v", adapter.ErrTransport, o.name, op, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s: http %d", adapter.ErrTransport, o.name, op, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && op == "status":
		return fmt.Errorf("%s: transaction not found: http 404", o.name)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s %s: http %d", adapter.ErrUnavailable, o.name, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		// 400 and 422: the operator rejected the payer's input.
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Code == "" {
			e.Code = strconv.Itoa(resp.StatusCode)
		}
		if e.Message == "" {
			e.Message = "request rejected by operator"
		}
		return &adapter.ProviderError{Code: e.Code, Message: e.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", adapter.ErrTransport, o.name, op, err)
	}
	return nil
}

// NormalizeOperatorStatus folds the spellings operators use into the four
// statuses the reconciler understands.
func NormalizeOperatorStatus(s string) adapter.OperatorStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED", "PAID":
		return adapter.OperatorStatusSuccessful
	case "FAILED", "REJECTED", "CANCELLED", "CANCELED", "DECLINED":
		return adapter.OperatorStatusFailed
	case "EXPIRED", "TIMEOUT":
		return adapter.OperatorStatusExpired
	default:
		return adapter.OperatorStatusPending
	}
}

// Callback is a decoded operator webhook.
type Callback struct {
	TxnID     string
	Status    adapter.OperatorStatus
	Reason    string
	Reference string
}

// ParseCallback decodes a webhook body. Signature checks happen before this.
func ParseCallback(body []byte) (Callback, error) {
	var c collectionJSON
	if err := json.Unmarshal(body, &c); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}
	if c.TransactionID == "" {
		return Callback{}, errors.New("callback without transaction_id")
	}
	if c.Status == "" {
		return Callback{}, errors.New("callback without status")
	}
	return Callback{
		TxnID:     c.TransactionID,
		Status:    NormalizeOperatorStatus(c.Status),
		Reason:    c.Reason,
		Reference: c.Reference,
	}, nil
}
