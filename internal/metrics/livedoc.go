package metrics

import "github.com/prometheus/client_golang/prometheus"

// Transaction and live query Prometheus metrics.
var (
	TxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livedoc",
			Name:      "tx_total",
			Help:      "Total number of committed transactions",
		},
		[]string{"kind", "status"},
	)

	TxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "livedoc",
			Name:      "tx_duration_seconds",
			Help:      "Transaction commit duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	FindTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livedoc",
			Name:      "find_total",
			Help:      "Total number of find requests",
		},
		[]string{"status"},
	)

	LiveQueryNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livedoc",
			Name:      "livequery_notifications_total",
			Help:      "Result snapshots delivered to subscribers",
		},
		[]string{"source"}, // "fetch" / "local" / "refresh"
	)

	LiveQueryRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livedoc",
			Name:      "livequery_refreshes_total",
			Help:      "Live query refreshes by outcome",
		},
		[]string{"result"}, // "applied" / "stale" / "disposed" / "error"
	)

	LiveQueriesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livedoc",
			Name:      "livequery_active",
			Help:      "Live queries with at least one subscriber",
		},
	)
)

var registered bool

// Register registers the HTTP, transaction and live query metrics. Call it from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestsInFlight)
	prometheus.MustRegister(TxTotal)
	prometheus.MustRegister(TxDuration)
	prometheus.MustRegister(FindTotal)
	prometheus.MustRegister(LiveQueryNotificationsTotal)
	prometheus.MustRegister(LiveQueryRefreshesTotal)
	prometheus.MustRegister(LiveQueriesActive)
	registered = true
}
