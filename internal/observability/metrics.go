package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	CycleEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notify_cycle_entries_total", Help: "Queue entries examined per worker cycle outcome"},
		[]string{"outcome", "identity"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "notify_cycle_duration_seconds", Help: "Wall time of one delivery cycle"},
	)
	GatewaySendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "notify_gateway_send_latency_seconds", Help: "Gateway send call latency"},
	)
	RateLimitSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notify_rate_limit_skips_total", Help: "Entries skipped by the hourly rate window"},
		[]string{"identity"},
	)
	TriggerEnqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notify_trigger_enqueues_total", Help: "Trigger engine enqueue results"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(CycleEntries, CycleDuration, GatewaySendLatency, RateLimitSkips, TriggerEnqueues)
}
