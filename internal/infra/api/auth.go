package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"immo-subscriptions/internal/infra/logging"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are issued by the identity provider. Subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret    []byte
	issuer    string
	adminRole string
}

func NewAuthenticator(secret, issuer, adminRole string) *Authenticator {
	if adminRole == "" {
		adminRole = "admin"
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, adminRole: adminRole}
}

// Mint signs a token for subject. Used by tooling and tests; production
// tokens come from the identity provider.
func (a *Authenticator) Mint(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ParseFromRequest(r *http.Request) (*Claims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return nil, ErrMissingToken
	}
	return a.Parse(strings.TrimSpace(hdr[7:]))
}

func (a *Authenticator) Parse(tok string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFrom returns the verified claims RequireUser stored in ctx.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// UserID is the authenticated caller, or "".
func UserID(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.Subject
	}
	return ""
}

// RequireUser rejects requests without a valid bearer token. onFail writes
// the response so callers can localize it.
func (a *Authenticator) RequireUser(onFail http.HandlerFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.ParseFromRequest(r)
			if err != nil {
				onFail(w, r)
				return
			}
			noteUser(w, claims.Subject)
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = logging.WithUserID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after RequireUser.
func (a *Authenticator) RequireAdmin(onFail http.HandlerFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFrom(r.Context())
			if !ok || c.Role != a.adminRole {
				onFail(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
