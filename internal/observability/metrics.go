// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Swap execution
	SwapsTotal        *prometheus.CounterVec
	SwapDuration      *prometheus.HistogramVec
	SubmitRetries     prometheus.Counter
	PriceImpactWarned prometheus.Counter

	// Pricing
	PriceBatches     *prometheus.CounterVec
	PricesMissing    prometheus.Counter
	PriceCacheLookup *prometheus.CounterVec

	// Construction and rebalancing
	ConstructionsTotal *prometheus.CounterVec
	RebalanceChecks    *prometheus.CounterVec
	RebalancesTotal    *prometheus.CounterVec
	SchedulerDuration  prometheus.Histogram
	ActivePortfolios   prometheus.Gauge

	// Latency
	RPCCallLatency *prometheus.HistogramVec

	// Database
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health
	LastSuccessfulSchedulerRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "xstock"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swaps_total",
			Help:      "Swaps by final stage and outcome",
		}, []string{"stage", "outcome"}),
		SwapDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swap_duration_seconds",
			Help:      "Time from quote to terminal stage",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90},
		}, []string{"outcome"}),
		SubmitRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "submit_retries_total",
			Help:      "Transaction resubmissions after a transient ledger error",
		}),
		PriceImpactWarned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "price_impact_warnings_total",
			Help:      "Quotes whose price impact exceeded the ceiling",
		}),

		PriceBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "batches_total",
			Help:      "Upstream price batches by status",
		}, []string{"status"}),
		PricesMissing: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "missing_total",
			Help:      "Requested addresses left without a price",
		}),
		PriceCacheLookup: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cache_lookups_total",
			Help:      "Price cache lookups by result",
		}, []string{"result"}),

		ConstructionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Order runs by aggregate outcome",
		}, []string{"kind", "outcome"}),
		RebalanceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "checks_total",
			Help:      "Drift checks by decision",
		}, []string{"decision"}),
		RebalancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "attempts_total",
			Help:      "Rebalance attempts by outcome",
		}, []string{"outcome"}),
		SchedulerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "scheduler_run_seconds",
			Help:      "Duration of one scheduler pass",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ActivePortfolios: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "active_portfolios",
			Help:      "Active portfolios seen by the last scheduler pass",
		}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulSchedulerRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scheduler_run_timestamp",
			Help:      "Unix timestamp of last scheduler pass without errors",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordSwap records a swap reaching a terminal stage.
func RecordSwap(stage string, success bool, seconds float64) {
	outcome := "failed"
	if success {
		outcome = "confirmed"
	}
	DefaultMetrics.SwapsTotal.WithLabelValues(stage, outcome).Inc()
	DefaultMetrics.SwapDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSubmitRetry increments the resubmission counter.
func RecordSubmitRetry() {
	DefaultMetrics.SubmitRetries.Inc()
}

// RecordPriceImpactWarning increments the price impact warning counter.
func RecordPriceImpactWarning() {
	DefaultMetrics.PriceImpactWarned.Inc()
}

// RecordPriceBatch records one upstream price batch and how many addresses it left unpriced.
func RecordPriceBatch(ok bool, missing int) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	DefaultMetrics.PriceBatches.WithLabelValues(status).Inc()
	DefaultMetrics.PricesMissing.Add(float64(missing))
}

// RecordPriceCache records cache hits and misses.
func RecordPriceCache(hits, misses int) {
	DefaultMetrics.PriceCacheLookup.WithLabelValues("hit").Add(float64(hits))
	DefaultMetrics.PriceCacheLookup.WithLabelValues("miss").Add(float64(misses))
}

// RecordOrderRun records an orchestrator run by kind (construct, rebalance) and outcome.
func RecordOrderRun(kind, outcome string) {
	DefaultMetrics.ConstructionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRebalanceCheck records a drift decision (rebalance, hold, skipped, error).
func RecordRebalanceCheck(decision string) {
	DefaultMetrics.RebalanceChecks.WithLabelValues(decision).Inc()
}

// RecordRebalance records a rebalance attempt outcome.
func RecordRebalance(outcome string) {
	DefaultMetrics.RebalancesTotal.WithLabelValues(outcome).Inc()
}

// RecordSchedulerRun records a scheduler pass.
func RecordSchedulerRun(seconds float64, active int, unixNow int64, clean bool) {
	DefaultMetrics.SchedulerDuration.Observe(seconds)
	DefaultMetrics.ActivePortfolios.Set(float64(active))
	if clean {
		DefaultMetrics.LastSuccessfulSchedulerRun.Set(float64(unixNow))
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
