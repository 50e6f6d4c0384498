package apiv1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"immo-subscriptions/internal/infra/api"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the full HTTP surface: health, metrics and /api/v1.
func NewRouter(s *Server, auth *api.Authenticator, requestTimeout time.Duration, checks map[string]HealthCheck, logger *zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(api.TraceID(), api.RequestLog(logger), api.Recover(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			api.WriteJSON(w, http.StatusServiceUnavailable, failed)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(api.Timeout(requestTimeout))
		}
		g := Guards{}
		if auth != nil {
			g.User = auth.RequireUser(s.Unauthorized)
			g.Admin = auth.RequireAdmin(s.Forbidden)
		}
		RegisterAPIV1(r, s, g, s.ErrorHandler)
	})
	return r
}
