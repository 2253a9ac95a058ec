package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the keeper.
type Metrics struct {
	// --- Book reconstruction ---
	BookRefreshTotal    *prometheus.CounterVec
	BookRefreshDuration prometheus.Histogram
	BookOrdersLoaded    prometheus.Gauge
	FundingRate         prometheus.Gauge

	// --- Ingestion ---
	EventsIngested  *prometheus.CounterVec
	EventsMalformed prometheus.Counter

	// --- Risk ---
	ActiveTraders        prometheus.Gauge
	LiquidationChecks    *prometheus.CounterVec
	LiquidationsExecuted prometheus.Counter
	LiquidationDuration  prometheus.Histogram

	// --- VIP ---
	VIPReconcileTotal *prometheus.CounterVec
	VIPCorrections    prometheus.Counter

	// --- Gateway ---
	TxSubmitted  *prometheus.CounterVec
	GuardTripped prometheus.Gauge

	// --- Read replica ---
	ReplicaQueries   *prometheus.CounterVec
	ReplicaFallbacks prometheus.Counter

	// --- API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	WSClients    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	cycleBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
	}

	return &Metrics{
		BookRefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_book_refresh_total",
			Help: "Book refresh cycles by outcome",
		}, []string{"status"}),

		BookRefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_book_refresh_duration_seconds",
			Help:    "Time for one full book reconstruction",
			Buckets: cycleBuckets,
		}),

		BookOrdersLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_book_orders_loaded",
			Help: "Live resting orders found in the last refresh",
		}),

		FundingRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_funding_rate_estimate",
			Help: "Latest estimated funding rate",
		}),

		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_events_ingested_total",
			Help: "Contract events consumed from the bus",
		}, []string{"event_type"}),

		EventsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_events_malformed_total",
			Help: "Bus messages dropped as unparseable",
		}),

		ActiveTraders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_active_traders",
			Help: "Traders currently tracked for liquidation checks",
		}),

		LiquidationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_liquidation_checks_total",
			Help: "Per-trader liquidation checks by outcome",
		}, []string{"result"}),

		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_liquidations_executed_total",
			Help: "Liquidations confirmed on-chain",
		}),

		LiquidationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_liquidation_cycle_duration_seconds",
			Help:    "Time for one liquidation sweep over all tracked traders",
			Buckets: cycleBuckets,
		}),

		VIPReconcileTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_vip_reconcile_total",
			Help: "VIP reconcile sweeps by outcome",
		}, []string{"status"}),

		VIPCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_vip_corrections_total",
			Help: "Tier corrections submitted on drift",
		}),

		TxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_tx_submitted_total",
			Help: "State-changing gateway calls by method and outcome",
		}, []string{"method", "status"}),

		GuardTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_guard_tripped",
			Help: "1 when the contract validity guard is tripped",
		}),

		ReplicaQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_replica_queries_total",
			Help: "Read-replica queries by kind and outcome",
		}, []string{"query", "status"}),

		ReplicaFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keeper_replica_fallbacks_total",
			Help: "API reads served from memory after a replica failure",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_http_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "code"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keeper_http_request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_ws_clients",
			Help: "Connected websocket subscribers",
		}),
	}
}
