package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentReplaysTotal,
		paymentRefundsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment submissions by rail and result (completed/pending/failed/invalid/unavailable/conflict).",
		},
		[]string{"rail", "result"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of completed payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	paymentReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_idempotent_replays_total",
			Help: "Submissions answered from an existing record without contacting the rail.",
		},
		[]string{"rail"},
	)

	paymentRefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Refund attempts by result.",
		},
		[]string{"result"},
	)
)

func IncPayment(rail, result string) {
	paymentsTotal.WithLabelValues(norm(rail), norm(result)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncReplay(rail string) {
	paymentReplaysTotal.WithLabelValues(norm(rail)).Inc()
}

func IncRefund(result string) {
	paymentRefundsTotal.WithLabelValues(norm(result)).Inc()
}
