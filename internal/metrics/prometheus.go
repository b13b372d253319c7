package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeltasApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_deltas_applied_total",
			Help: "Total number of change feed deltas applied to transcripts",
		},
		[]string{"chat", "type"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "send_messages_total",
			Help: "Total number of messages persisted by the send pipeline",
		},
		[]string{"chat"},
	)

	UploadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "send_upload_failures_total",
			Help: "Total number of attachment uploads that failed or timed out",
		},
		[]string{"chat"},
	)

	NotificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_dispatch_failures_total",
			Help: "Total number of push dispatch attempts that failed",
		},
	)

	OpenFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_open_subscriptions",
			Help: "Number of currently open change feed subscriptions",
		},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(DeltasApplied)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(UploadFailures)
	prometheus.MustRegister(NotificationFailures)
	prometheus.MustRegister(OpenFeeds)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
