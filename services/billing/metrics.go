package billing

import "github.com/prometheus/client_golang/prometheus"

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Number of webhook events received by event type and outcome.",
	},
	[]string{"event_type", "outcome"},
)

func init() {
	prometheus.MustRegister(webhookEventsTotal)
}

func recordOutcome(eventType string, outcome Outcome) {
	webhookEventsTotal.WithLabelValues(eventType, string(outcome)).Inc()
}

func recordDuplicate(eventType string) {
	webhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
}
