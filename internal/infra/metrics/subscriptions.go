package metrics

import (
	"immo-subscriptions/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsLapsedTotal,
		subscriptionsTotal,
		trialsStartedTotal,
	)
}

var (
	subscriptionsLapsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_lapsed_total",
			Help: "Total number of subscriptions moved past their period end by the expiry worker.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"}, // 'trial', 'active', 'past_due', 'canceled'
	)

	trialsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_trials_started_total",
			Help: "Trials granted.",
		},
	)
)

func IncSubscriptionsLapsed(count int) {
	subscriptionsLapsedTotal.Add(float64(count))
}

func IncTrialStarted() { trialsStartedTotal.Inc() }

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusTrial,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusPastDue,
		model.SubscriptionStatusCanceled,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
