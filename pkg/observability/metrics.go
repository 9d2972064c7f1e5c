// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the faden gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ToolWaitBuckets covers the time a client takes to return a tool result,
// up to the default two minute timeout.
var ToolWaitBuckets = []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and model.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration records HTTP request duration in seconds by method and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faden_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faden_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// SessionsActive tracks live engine sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faden_sessions_active",
			Help: "Live engine sessions",
		},
	)

	// SessionsStartedTotal counts sessions started, by engine backend.
	SessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_sessions_started_total",
			Help: "Sessions started",
		},
		[]string{"engine"},
	)

	// SessionsEndedTotal counts sessions reaching a terminal state. The reason
	// label separates timeouts from client disconnects and other aborts.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_sessions_ended_total",
			Help: "Sessions ended",
		},
		[]string{"state", "reason"},
	)

	// ToolCallsPending tracks tool calls awaiting a client result.
	ToolCallsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faden_tool_calls_pending",
			Help: "Pending tool calls",
		},
	)

	// ToolCallsTotal counts tool call terminal transitions by outcome
	// (resolved, rejected, timeout, cancelled).
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_tool_calls_total",
			Help: "Tool call outcomes",
		},
		[]string{"outcome"},
	)

	// ToolCallWait records how long tool calls waited for their outcome.
	ToolCallWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faden_tool_call_wait_seconds",
			Help:    "Tool call wait time",
			Buckets: ToolWaitBuckets,
		},
	)

	// SnapshotLookupsTotal counts snapshot lookups by result (hit, miss, replay).
	SnapshotLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_snapshot_lookups_total",
			Help: "Snapshot lookups",
		},
		[]string{"result"},
	)

	// SnapshotTerminals tracks live terminal markings in the snapshot trie.
	SnapshotTerminals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faden_snapshot_terminals",
			Help: "Live snapshot terminals",
		},
	)

	// EngineTurnsTotal counts engine turns by backend and outcome
	// (tool_calls, completed, failed).
	EngineTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faden_engine_turns_total",
			Help: "Engine turns",
		},
		[]string{"engine", "outcome"},
	)

	// EngineTurnLatency records the time from turn start to its terminal event.
	EngineTurnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faden_engine_turn_latency_seconds",
			Help:    "Engine turn latency",
			Buckets: LLMBuckets,
		},
		[]string{"engine"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		SessionsActive,
		SessionsStartedTotal,
		SessionsEndedTotal,
		ToolCallsPending,
		ToolCallsTotal,
		ToolCallWait,
		SnapshotLookupsTotal,
		SnapshotTerminals,
		EngineTurnsTotal,
		EngineTurnLatency,
	)
}
