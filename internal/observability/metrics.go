// Package observability provides Prometheus metrics for the host
// processes. The simulation core itself stays instrumentation-free.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Simulation metrics
	SimulationsStarted   prometheus.Counter
	SimulationsCompleted *prometheus.CounterVec // outcome: ok | error | partial
	SimulationDuration   prometheus.Histogram
	TradesExecuted       prometheus.Counter
	WarningsEmitted      prometheus.Counter

	// Data metrics
	SymbolsLoaded  prometheus.Counter
	BarsLoaded     prometheus.Counter
	DataLoadErrors prometheus.Counter

	// API metrics
	HTTPRequests       *prometheus.CounterVec // route, code
	ActiveWebSockets   prometheus.Gauge
	ResultsPersisted   prometheus.Counter
	PersistenceErrors  prometheus.Counter
	ComparisonsStarted prometheus.Counter
}

// New registers and returns the metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SimulationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "simulations_started_total",
			Help: "Simulations accepted for execution.",
		}),
		SimulationsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "simulations_completed_total",
			Help: "Simulations finished, by outcome.",
		}, []string{"outcome"}),
		SimulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulation_duration_seconds",
			Help:    "Wall-clock duration of simulation runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TradesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "trades_executed_total",
			Help: "Trade records produced across all runs.",
		}),
		WarningsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "warnings_emitted_total",
			Help: "Non-fatal warnings accumulated across all runs.",
		}),
		SymbolsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "symbols_loaded_total",
			Help: "Symbols loaded into price sources.",
		}),
		BarsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bars_loaded_total",
			Help: "Daily bars loaded into price sources.",
		}),
		DataLoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "data_load_errors_total",
			Help: "Failures while loading market data.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests, by route and status code.",
		}, []string{"route", "code"}),
		ActiveWebSockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_websockets",
			Help: "Open progress-streaming connections.",
		}),
		ResultsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "results_persisted_total",
			Help: "Result bundles written to storage.",
		}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "persistence_errors_total",
			Help: "Failures writing result bundles to storage.",
		}),
		ComparisonsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "comparisons_started_total",
			Help: "Multi-strategy comparison jobs accepted.",
		}),
	}
}

// Handler returns the HTTP handler that serves the metric endpoint for
// the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
