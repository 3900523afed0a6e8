// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Decision loop metrics
	TicksTotal    *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	Iteration     prometheus.Gauge
	EntriesTotal  *prometheus.CounterVec
	ExitsTotal    *prometheus.CounterVec
	SkipsTotal    *prometheus.CounterVec
	OpenPositions prometheus.Gauge
	FreeWallets   prometheus.Gauge

	// Execution metrics
	TradesTotal        *prometheus.CounterVec
	TradeStageLatency  *prometheus.HistogramVec
	TradeStageFailures *prometheus.CounterVec

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Price metrics
	SOLPriceUSD      prometheus.Gauge
	PriceUpdatedAt   prometheus.Gauge
	PriceFetchErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "position_engine"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Decision loop metrics
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "ticks_total",
			Help:      "Total number of decision ticks by outcome",
		}, []string{"status"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "tick_duration_seconds",
			Help:      "Decision tick duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		Iteration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "iteration",
			Help:      "Current decision loop iteration",
		}),
		EntriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "entries_total",
			Help:      "Total number of entry attempts by result",
		}, []string{"result"}),
		ExitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "exits_total",
			Help:      "Total number of exit attempts by reason and result",
		}, []string{"reason", "result"}),
		SkipsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "skips_total",
			Help:      "Total number of tokens skipped for entry by reason",
		}, []string{"reason"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "open_positions",
			Help:      "Number of open positions after the last tick",
		}),
		FreeWallets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "free_wallets",
			Help:      "Number of free wallets after the last tick",
		}),

		// Execution metrics
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Total number of trades by side and result",
		}, []string{"side", "result"}),
		TradeStageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "stage_latency_seconds",
			Help:      "Trade stage latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"side", "stage"}),
		TradeStageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "stage_failures_total",
			Help:      "Total number of trade stage failures",
		}, []string{"side", "stage"}),

		// Solana metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),

		// Price metrics
		SOLPriceUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "sol_usd",
			Help:      "Latest SOL/USD price",
		}),
		PriceUpdatedAt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "last_update_timestamp",
			Help:      "Unix timestamp of the last successful SOL/USD refresh",
		}),
		PriceFetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed SOL/USD refreshes",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordStage records the latency of one trade stage and counts a failure.
func (m *Metrics) RecordStage(side, stage string, d time.Duration, err error) {
	m.TradeStageLatency.WithLabelValues(side, stage).Observe(d.Seconds())
	if err != nil {
		m.TradeStageFailures.WithLabelValues(side, stage).Inc()
	}
}

// RecordTrade counts a finished trade.
func (m *Metrics) RecordTrade(side string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.TradesTotal.WithLabelValues(side, result).Inc()
}

// RecordTick records a finished tick.
func (m *Metrics) RecordTick(status string, iteration int64, d time.Duration) {
	m.TicksTotal.WithLabelValues(status).Inc()
	m.TickDuration.Observe(d.Seconds())
	m.Iteration.Set(float64(iteration))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordSOLPrice records a SOL/USD refresh.
func RecordSOLPrice(price float64, at time.Time, err error) {
	if err != nil {
		DefaultMetrics.PriceFetchErrors.Inc()
		return
	}
	DefaultMetrics.SOLPriceUSD.Set(price)
	DefaultMetrics.PriceUpdatedAt.Set(float64(at.Unix()))
}
