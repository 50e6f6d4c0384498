package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
)

// PhoneRule describes a mobile-money operator's subscriber numbers: exactly
// one country-code prefix followed by a fixed number of digits.
type PhoneRule struct {
	CountryCode      string // digits only, e.g. "228"
	SubscriberDigits int
}

func (r PhoneRule) matches(phone string) bool {
	prefix := "+" + r.CountryCode
	if !strings.HasPrefix(phone, prefix) {
		return false
	}
	rest := phone[len(prefix):]
	return len(rest) == r.SubscriberDigits && allDigits(rest)
}

// RailValidator runs per-rail precondition checks. It performs no I/O.
type RailValidator struct {
	phones map[model.Rail]PhoneRule
	now    func() time.Time
}

func NewRailValidator(phones map[model.Rail]PhoneRule) *RailValidator {
	return &RailValidator{phones: phones, now: time.Now}
}

// Validate checks req against the plan it claims to buy. plan is nil when the
// plan id is unknown. The error is a *domain.FieldError.
func (v *RailValidator) Validate(req model.PaymentRequest, plan *model.Plan) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.InvalidField("user_id", "missing")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return domain.InvalidField("idempotency_key", "missing")
	}
	if len(req.IdempotencyKey) > 128 {
		return domain.InvalidField("idempotency_key", "too long")
	}
	if plan.IsZero() {
		return domain.InvalidField("plan_id", "unknown plan")
	}
	if req.Amount <= 0 {
		return domain.InvalidField("amount", "must be positive")
	}
	if req.Amount != plan.Price {
		return domain.InvalidField("amount", fmt.Sprintf("does not match the price of plan %s", plan.ID))
	}

	switch {
	case req.Method == model.RailCard:
		return v.validateCard(req.Card)
	case req.Method.IsMobileMoney():
		return v.validatePhone(req.Method, req.Phone)
	default:
		return domain.InvalidField("method", "unsupported payment method")
	}
}

func (v *RailValidator) validateCard(c *model.CardDetails) error {
	if c == nil {
		return domain.InvalidField("card", "missing")
	}
	if strings.TrimSpace(c.HolderName) == "" {
		return domain.InvalidField("card.holder_name", "missing")
	}
	number := StripCardNumber(c.Number)
	if number == "" {
		return domain.InvalidField("card.number", "missing")
	}
	if len(number) < 13 || len(number) > 19 || !allDigits(number) {
		return domain.InvalidField("card.number", "must be 13 to 19 digits")
	}
	if !luhnValid(number) {
		return domain.InvalidField("card.number", "checksum mismatch")
	}
	if strings.TrimSpace(c.Expiry) == "" {
		return domain.InvalidField("card.expiry", "missing")
	}
	month, year, err := ParseExpiry(c.Expiry)
	if err != nil {
		return domain.InvalidField("card.expiry", err.Error())
	}
	now := v.now()
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return domain.InvalidField("card.expiry", "card has expired")
	}
	cvc := strings.TrimSpace(c.CVC)
	if cvc == "" {
		return domain.InvalidField("card.cvc", "missing")
	}
	if (len(cvc) != 3 && len(cvc) != 4) || !allDigits(cvc) {
		return domain.InvalidField("card.cvc", "must be 3 or 4 digits")
	}
	return nil
}

func (v *RailValidator) validatePhone(rail model.Rail, phone string) error {
	rule, ok := v.phones[rail]
	if !ok {
		return domain.InvalidField("method", "unsupported payment method")
	}
	p := NormalizePhone(phone)
	if p == "" {
		return domain.InvalidField("phone", "missing")
	}
	if !rule.matches(p) {
		return domain.InvalidField("phone", fmt.Sprintf("expected +%s followed by %d digits", rule.CountryCode, rule.SubscriberDigits))
	}
	return nil
}

// NormalizePhone drops spaces, dots and dashes and turns a leading 00 into +.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}

// StripCardNumber removes the separators users type between digit groups.
func StripCardNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// ParseExpiry accepts MM/YY and MM/YYYY.
func ParseExpiry(s string) (month, year int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected MM/YY")
	}
	month, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month")
	}
	ys := strings.TrimSpace(parts[1])
	year, err = strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year")
	}
	switch len(ys) {
	case 2:
		year += 2000
	case 4:
	default:
		return 0, 0, fmt.Errorf("invalid year")
	}
	return month, year, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
