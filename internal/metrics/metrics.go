package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests by how they were answered (hit, miss, network, fallback, ...)
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_requests_total",
			Help: "Total number of intercepted requests by outcome",
		},
		[]string{"outcome"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_fallbacks_total",
			Help: "Total number of synthesized fallback responses by resource kind",
		},
		[]string{"kind"},
	)

	InstallEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_install_entries_total",
			Help: "Manifest entries attempted during install by result",
		},
		[]string{"result"},
	)

	GenerationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_generations_deleted_total",
			Help: "Stale store generations deleted during activation",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_store_errors_total",
			Help: "Store operations that failed",
		},
		[]string{"op"},
	)

	NetworkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offline_network_fetch_duration_seconds",
			Help:    "Duration of network fetches made by the proxy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	Lifecycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_lifecycle_state",
			Help: "Lifecycle state of the proxy (0 installing, 1 waiting, 2 updating, 3 active)",
		},
	)
)

func RecordRequest(outcome string) {
	Requests.WithLabelValues(outcome).Inc()
}

func RecordFallback(kind string) {
	Fallbacks.WithLabelValues(kind).Inc()
}

func RecordInstallEntry(result string) {
	InstallEntries.WithLabelValues(result).Inc()
}

func RecordGenerationDeleted() {
	GenerationsDeleted.Inc()
}

func RecordStoreError(op string) {
	StoreErrors.WithLabelValues(op).Inc()
}

// TimeNetworkFetch starts a timer; call the returned func with the fetch result.
func TimeNetworkFetch() func(result string) {
	start := time.Now()
	return func(result string) {
		NetworkDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

func SetLifecycleState(state int) {
	Lifecycle.Set(float64(state))
}
