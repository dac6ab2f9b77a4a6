package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_simulations_total",
		Help: "Total number of ROI simulations by outcome flag",
	}, []string{"outcome"})

	SimulationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_simulation_latency_seconds",
		Help:    "Latency of a single product ROI simulation",
		Buckets: prometheus.DefBuckets,
	})

	SimulationIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_simulation_iterations",
		Help:    "Monte Carlo iterations requested per simulation",
		Buckets: prometheus.ExponentialBuckets(1, 10, 6),
	})

	SignalFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signal_fallbacks_total",
		Help: "External signal lookups that degraded to the neutral multiplier",
	}, []string{"source", "reason"})

	SignalCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signal_cache_total",
		Help: "Signal cache lookups by result",
	}, []string{"result"})

	InteractionsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_interactions_recorded_total",
		Help: "Total number of recorded user interactions",
	}, []string{"action"})

	LiquidityEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_liquidity_evaluations_total",
		Help: "Liquidity evaluations by resulting decision",
	}, []string{"decision"})

	CashConversionCycleDays = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_cash_conversion_cycle_days",
		Help: "Last computed cash conversion cycle per tenant",
	}, []string{"tenant"})

	GuardTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_guard_transitions_total",
		Help: "Liquidity guard transition attempts by kind and status",
	}, []string{"kind", "status"})

	ActionsBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_actions_blocked_total",
		Help: "Pricing and reorder actions blocked by an open freeze",
	}, []string{"action"})

	PostMortemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_post_mortems_total",
		Help: "Post-mortem analyses by recommendation",
	}, []string{"recommendation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
