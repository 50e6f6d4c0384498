package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconciledTotal,
		webhooksTotal,
		reconcileSweepsTotal,
		lateSettlementsTotal,
	)
}

var (
	// Pending records moved to a final status, by source (webhook|sweep).
	reconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_reconciled_total",
			Help: "Pending payments resolved, by source and final status.",
		},
		[]string{"source", "status"},
	)

	// result: queued|applied|bad_signature|malformed|unknown_operator|error
	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Operator callbacks by operator and result.",
		},
		[]string{"operator", "result"},
	)

	reconcileSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_sweeps_total",
			Help: "Reconciliation sweeps by result (ok|error|skipped).",
		},
		[]string{"result"},
	)

	// Successes reported for payments already closed as failed or expired.
	lateSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_late_settlements_total",
			Help: "Rail-confirmed payments that arrived after the record was closed, by rail.",
		},
		[]string{"rail"},
	)
)

func IncReconciled(source, status string) {
	reconciledTotal.WithLabelValues(norm(source), norm(status)).Inc()
}

func AddReconciled(source, status string, n int) {
	if n <= 0 {
		return
	}
	reconciledTotal.WithLabelValues(norm(source), norm(status)).Add(float64(n))
}

func IncWebhook(operator, result string) {
	webhooksTotal.WithLabelValues(norm(operator), norm(result)).Inc()
}

func IncSweep(result string) {
	reconcileSweepsTotal.WithLabelValues(norm(result)).Inc()
}

func IncLateSettlement(rail string) {
	lateSettlementsTotal.WithLabelValues(norm(rail)).Inc()
}
