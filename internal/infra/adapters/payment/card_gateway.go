// File: internal/infra/adapters/payment/card_gateway.go
package payment

import (
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

var _ adapter.CardGateway = (*HTTPCardGateway)(nil)

// HTTPCardGateway talks to a payment-intent style card API: form-encoded
// requests, JSON responses, bearer secret key.
type HTTPCardGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewHTTPCardGateway(baseURL, secretKey string, timeout time.Duration) (*HTTPCardGateway, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid card gateway url: %w", err)
	}
	if secretKey == "" {
		return nil, errors.New("card gateway secret key empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPCardGateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (g *HTTPCardGateway) Name() string { return "card" }

type intentJSON struct {
	ID               string `json:"id"`
	ClientSecret     string `json:"client_secret"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

func (in intentJSON) toIntent() adapter.CardIntent {
	out := adapter.CardIntent{ID: in.ID, ClientSecret: in.ClientSecret, Status: in.Status}
	if e := in.LastPaymentError; e != nil {
		out.DeclineCode = e.DeclineCode
		if out.DeclineCode == "" {
			out.DeclineCode = e.Code
		}
		out.DeclineReason = e.Message
	}
	return out
}

type errorJSON struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (g *HTTPCardGateway) CreateIntent(ctx context.Context, amount int64, currency string, meta map[string]string) (adapter.CardIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("payment_method_types[]", "card")
	for k, v := range meta {
		form.Set("metadata["+k+"]", v)
	}
	var out intentJSON
	// The payment id makes a retried create return the same intent.
	if err := g.do(ctx, "create_intent", http.MethodPost, "/v1/payment_intents", form, meta["payment_id"], &out); err != nil {
		return adapter.CardIntent{}, err
	}
	if out.ID == "" {
		return adapter.CardIntent{}, fmt.Errorf("%w: intent without id", adapter.ErrTransport)
	}
	return out.toIntent(), nil
}

func (g *HTTPCardGateway) Tokenize(ctx context.Context, card adapter.CardInput) (string, error) {
	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[number]", card.Number)
	form.Set("card[exp_month]", strconv.Itoa(card.ExpMonth))
	form.Set("card[exp_year]", strconv.Itoa(card.ExpYear))
	form.Set("card[cvc]", card.CVC)
	form.Set("billing_details[name]", card.HolderName)
	var out struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, "tokenize", http.MethodPost, "/v1/payment_methods", form, "", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: payment method without id", adapter.ErrTransport)
	}
	return out.ID, nil
}

func (g *HTTPCardGateway) Confirm(ctx context.Context, intentID, paymentMethodID string) (adapter.CardIntent, error) {
	form := url.Values{}
	form.Set("payment_method", paymentMethodID)
	var out intentJSON
	if err := g.do(ctx, "confirm", http.MethodPost, "/v1/payment_intents/"+url.PathEscape(intentID)+"/confirm", form, "", &out); err != nil {
		return adapter.CardIntent{}, err
	}
	return out.toIntent(), nil
}

func (g *HTTPCardGateway) GetIntent(ctx context.Context, intentID string) (adapter.CardIntent, error) {
	var out intentJSON
	if err := g.do(ctx, "get_intent", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &out); err != nil {
		return adapter.CardIntent{}, err
	}
	return out.toIntent(), nil
}

func (g *HTTPCardGateway) Refund(ctx context.Context, intentID string, amount int64, reason string) (adapter.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(amount, 10))
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}
	var out struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Amount  int64  `json:"amount"`
		Created int64  `json:"created"`
	}
	if err := g.do(ctx, "refund", http.MethodPost, "/v1/refunds", form, "refund-"+intentID, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	return adapter.RefundResult{
		ID:           out.ID,
		Status:       out.Status,
		RefundAmount: out.Amount,
		RefundTime:   time.Unix(out.Created, 0),
	}, nil
}

// do sends one request. Transport failures and 5xx wrap adapter.ErrTransport;
// 4xx come back as *adapter.ProviderError.
func (g *HTTPCardGateway) do(ctx context.Context, op, method, path string, form url.Values, idemKey string, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRailCall(g.Name(), op, callResult(err), time.Since(start)) }()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", adapter.ErrTransport, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", adapter.ErrTransport, op, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: http %d", adapter.ErrTransport, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorJSON
		_ = json.Unmarshal(raw, &e)
		code := e.Error.DeclineCode
		if code == "" {
			code = e.Error.Code
		}
		if code == "" {
			code = strconv.Itoa(resp.StatusCode)
		}
		return &adapter.ProviderError{
			Code:     code,
			Message:  e.Error.Message,
			Declined: resp.StatusCode == http.StatusPaymentRequired || e.Error.Type == "card_error",
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", adapter.ErrTransport, op, err)
	}
	return nil
}

func callResult(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *adapter.ProviderError
	if errors.As(err, &pe) {
		return "declined"
	}
	return "error"
}
