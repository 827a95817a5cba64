// Package metrics defines the Prometheus instrumentation for the funding
// arbitrage pipeline. All collectors are registered on the default registry
// and exposed through the server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FundingRatesCollected counts funding samples fetched per venue.
	FundingRatesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_rates_collected_total",
			Help: "Total number of funding-rate samples collected",
		},
		[]string{"exchange"},
	)

	// CollectErrors counts failed venue fetches.
	CollectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_collect_errors_total",
			Help: "Total number of failed funding-rate collections",
		},
		[]string{"exchange"},
	)

	// CollectDurationSeconds tracks one full collection round.
	CollectDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingbot_collect_duration_seconds",
		Help:    "Duration of a full funding-rate collection round",
		Buckets: prometheus.DefBuckets,
	})

	// OpportunitiesDetected counts opportunities that passed validation.
	OpportunitiesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundingbot_opportunities_detected_total",
		Help: "Total number of viable funding-arbitrage opportunities detected",
	})

	// OpportunitiesRejected counts opportunities dropped by the analyzer.
	OpportunitiesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_opportunities_rejected_total",
			Help: "Total number of opportunities rejected before execution",
		},
		[]string{"reason"},
	)

	// OpportunityNetAPR observes the net APR of detected opportunities.
	OpportunityNetAPR = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingbot_opportunity_net_apr",
		Help:    "Net APR percent of detected opportunities",
		Buckets: []float64{10, 25, 50, 80, 120, 200, 350, 500, 1000, 2000},
	})

	// ExecutionsTotal counts dual-leg executions by kind and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_executions_total",
			Help: "Total number of dual-leg executions",
		},
		[]string{"kind", "status"},
	)

	// ExecutionDurationSeconds tracks dual-leg entry/exit latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingbot_execution_duration_seconds",
		Help:    "Duration of a dual-leg execution, both legs included",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// ExecutionNotionalUSD observes the notional deployed per execution.
	ExecutionNotionalUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingbot_execution_notional_usd",
		Help:    "Notional size in USD of dual-leg executions",
		Buckets: prometheus.ExponentialBuckets(50, 2, 8), // 50, 100, ..., 6400
	})

	// Rollbacks counts partial fills unwound.
	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundingbot_rollbacks_total",
		Help: "Total number of single-leg rollbacks after a partial entry",
	})

	// OpenPositions gauges currently open arbitrage positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundingbot_open_positions",
		Help: "Number of currently open funding-arbitrage positions",
	})

	// PositionsClosed counts exits by reason.
	PositionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_positions_closed_total",
			Help: "Total number of positions closed",
		},
		[]string{"reason"},
	)

	// FundingReceivedUSD accumulates funding payments collected.
	FundingReceivedUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundingbot_funding_received_usd_total",
		Help: "Cumulative funding received across all positions in USD",
	})

	// CycleDurationSeconds tracks one full trading cycle.
	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundingbot_cycle_duration_seconds",
		Help:    "Duration of a full collect-analyze-execute-monitor cycle",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	// WSReconnects counts feed reconnections per venue.
	WSReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundingbot_ws_reconnects_total",
			Help: "Total number of websocket feed reconnections",
		},
		[]string{"exchange"},
	)
)
