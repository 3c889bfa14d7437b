package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_gateway_active_sessions",
		Help: "Number of active conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_gateway_sessions_total",
		Help: "Total number of conversation sessions",
	})

	// Upstream request metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_upstream_requests_total",
		Help: "Total upstream request attempts",
	}, []string{"service", "status"}) // status: "success" or "error"

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_gateway_upstream_latency_seconds",
		Help:    "Upstream request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"service"})

	// Credential pool metrics
	credentialSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_credential_switches_total",
		Help: "Times a request moved to the next credential after a failure",
	}, []string{"service"})

	poolExhaustions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_pool_exhaustions_total",
		Help: "Times every credential in a pool was exhausted for one request",
	}, []string{"service"})

	healthyCredentials = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assistant_gateway_healthy_credentials",
		Help: "Number of healthy credentials per pool",
	}, []string{"service"})

	credentialProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_credential_probes_total",
		Help: "Background credential health probes",
	}, []string{"service", "status"})

	// Synthesis metrics
	synthesisCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_synthesis_cache_lookups_total",
		Help: "Synthesis cache lookups",
	}, []string{"result"}) // result: "hit" or "miss"

	synthesisFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_gateway_synthesis_fallbacks_total",
		Help: "Times the fallback synthesizer was invoked",
	})

	// Turn metrics
	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_gateway_turn_stage_duration_seconds",
		Help:    "Duration of a conversation turn stage",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"}) // stage: "completion" or "synthesis"

	turnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_gateway_turn_errors_total",
		Help: "Conversation turns that ended in an error state",
	}, []string{"kind"})
)

// RecordSessionStart records a new session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records a session finishing
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordUpstreamRequest records one upstream request attempt outcome
func RecordUpstreamRequest(service string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequests.WithLabelValues(service, status).Inc()
}

// ObserveUpstreamLatency records the latency of a successful upstream call
func ObserveUpstreamLatency(service string, seconds float64) {
	upstreamLatency.WithLabelValues(service).Observe(seconds)
}

// RecordCredentialSwitch records a failover to the next credential
func RecordCredentialSwitch(service string) {
	credentialSwitches.WithLabelValues(service).Inc()
}

// RecordPoolExhaustion records a request that exhausted every credential
func RecordPoolExhaustion(service string) {
	poolExhaustions.WithLabelValues(service).Inc()
}

// SetHealthyCredentials updates the healthy credential gauge for a pool
func SetHealthyCredentials(service string, count int) {
	healthyCredentials.WithLabelValues(service).Set(float64(count))
}

// RecordCredentialProbe records a background health probe outcome
func RecordCredentialProbe(service string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	credentialProbes.WithLabelValues(service, status).Inc()
}

// RecordCacheLookup records a synthesis cache lookup outcome
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	synthesisCacheLookups.WithLabelValues(result).Inc()
}

// RecordSynthesisFallback records a fallback synthesizer invocation
func RecordSynthesisFallback() {
	synthesisFallbacks.Inc()
}

// ObserveTurnStage records the duration of one stage of a conversation turn
func ObserveTurnStage(stage string, seconds float64) {
	turnDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordTurnError records a turn that entered the error state
func RecordTurnError(kind string) {
	turnErrors.WithLabelValues(kind).Inc()
}
