package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(railCallDuration) }

// Latency of outbound calls to card gateways and mobile-money operators.
// op: create_intent|tokenize|confirm|get_intent|refund|initiate|status
// result: ok|declined|error
var railCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rail_call_duration_seconds",
		Help:    "Duration of payment provider calls in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"provider", "op", "result"},
)

func ObserveRailCall(provider, op, result string, d time.Duration) {
	railCallDuration.WithLabelValues(norm(provider), norm(op), norm(result)).Observe(d.Seconds())
}
