package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the dispatch pipeline. RegisterMetrics is called
// once from main; tests exercise the counters unregistered.
var (
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sends_total",
			Help: "Outbound send attempts by result",
		},
		[]string{"result"},
	)

	statusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_status_events_total",
			Help: "Inbound delivery-status events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	campaignsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_completed_total",
			Help: "Campaigns that reached completed status",
		},
	)

	queueFetchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_queue_fetch_errors_total",
			Help: "Queue fetch failures seen by dispatcher loops",
		},
	)

	activeConsumers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_active_consumers",
			Help: "Dispatcher loops currently running",
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the dispatch metrics with the default
// Prometheus registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sendsTotal,
			statusEventsTotal,
			campaignsCompletedTotal,
			queueFetchErrorsTotal,
			activeConsumers,
		)
	})
}
