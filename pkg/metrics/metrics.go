package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics, sampled by the Collector
	InstancesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_instances_total",
			Help: "Total number of registered instances",
		},
	)

	InstancesTLS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_instances_tls_total",
			Help: "Number of instances serving TLS",
		},
	)

	InstancesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_instances_online_total",
			Help: "Number of instances the supervisor reports online",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_api_rate_limited_total",
			Help: "Total number of API requests rejected by the rate limiter",
		},
	)

	// Bridge metrics
	BridgeActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_bridge_actions_total",
			Help: "Total number of actions forwarded to the bridge by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	BridgeActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "burrow_bridge_action_duration_seconds",
			Help: "Time taken by forwarded bridge actions in seconds",
			// Certificate issuance and DH parameter generation take minutes
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"action"},
	)

	// ComponentUp mirrors UpdateComponent: 1 healthy, 0 not
	ComponentUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_component_up",
			Help: "Whether an API component is healthy",
		},
		[]string{"component"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstancesTLS)
	prometheus.MustRegister(InstancesOnline)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIRateLimited)
	prometheus.MustRegister(BridgeActionsTotal)
	prometheus.MustRegister(BridgeActionDuration)
	prometheus.MustRegister(ComponentUp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
