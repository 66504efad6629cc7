// Package metrics registers the Prometheus metrics used by the router.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed requests labelled by channel, model, and
	// outcome ("success", "error", "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_requests_total",
			Help: "Total number of requests processed by the router.",
		},
		[]string{"channel", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "model"},
	)

	// TokensInput counts total prompt tokens sent upstream.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_input_total",
			Help: "Total prompt tokens sent upstream.",
		},
		[]string{"channel", "model"},
	)

	// TokensOutput counts total completion tokens received from upstreams.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_output_total",
			Help: "Total completion tokens received from upstreams.",
		},
		[]string{"channel", "model"},
	)

	// RouteCacheLookups counts route-cache lookups by result ("hit", "miss").
	RouteCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_route_cache_lookups_total",
			Help: "Route cache lookups by result.",
		},
		[]string{"result"},
	)

	// RouteDecisions counts routing decisions by how they were resolved:
	// "cache", or the discovery path ("plain", "tag", "param").
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_route_decisions_total",
			Help: "Routing decisions by resolution path.",
		},
		[]string{"path"},
	)

	// CandidatesFound observes how many candidates discovery produced per
	// request before filtering.
	CandidatesFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "router_candidates_found",
			Help:    "Candidates produced by discovery per request.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
	)

	// FailoversTotal counts dispatch failovers labelled by the error kind
	// that triggered them.
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_failovers_total",
			Help: "Dispatch failovers by triggering error kind.",
		},
		[]string{"kind"},
	)

	// BlacklistedPairs tracks the number of active blacklist entries.
	BlacklistedPairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_blacklisted_pairs",
			Help: "Currently blacklisted (channel, model) pairs.",
		},
	)

	// ChannelHealth exposes the rolling health score per channel.
	ChannelHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_channel_health_score",
			Help: "Rolling health score per channel (0-1).",
		},
		[]string{"channel"},
	)

	// SchedulerTaskRuns counts scheduler task completions by task and outcome.
	SchedulerTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_scheduler_task_runs_total",
			Help: "Scheduler task completions by outcome.",
		},
		[]string{"task", "status"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit
	// middleware, labelled by key_type ("ip", "api_key").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
