package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsArmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_watcher_sessions_armed_total",
			Help: "Watch sessions armed, by reason",
		},
		[]string{"reason"},
	)

	MutationCallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "restriction_watcher_mutation_callbacks_total",
			Help: "Mutation callbacks received from watched pages",
		},
	)

	// Check metrics
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_watcher_checks_total",
			Help: "Restriction checks executed, by result",
		},
		[]string{"result"},
	)

	CheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restriction_watcher_check_duration_seconds",
			Help:    "Time spent reading the restriction element",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	// Alert metrics
	AlertsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_watcher_alerts_delivered_total",
			Help: "Alerts delivered, by sink",
		},
		[]string{"sink"},
	)

	AlertErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_watcher_alert_errors_total",
			Help: "Alert delivery failures, by sink",
		},
		[]string{"sink"},
	)

	// Tab metrics
	WatchedTabs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "restriction_watcher_watched_tabs",
			Help: "Browser tabs currently watched",
		},
	)

	DroppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_watcher_dropped_events_total",
			Help: "Page events dropped because a tab pump was full",
		},
		[]string{"kind"},
	)
)

// Check results.
const (
	ResultMatch   = "match"
	ResultNoMatch = "no_match"
	ResultAbsent  = "absent"
	ResultError   = "error"
)

func init() {
	prometheus.MustRegister(
		SessionsArmed,
		MutationCallbacks,
		ChecksTotal,
		CheckDuration,
		AlertsDelivered,
		AlertErrors,
		WatchedTabs,
		DroppedEvents,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
