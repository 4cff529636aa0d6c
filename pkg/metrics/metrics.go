package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_gateway_requests_total",
			Help: "Total number of gateway requests by route and status code (count)",
		},
		[]string{"route", "code"},
	)

	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_inbound_messages_total",
			Help: "Total number of inbound webhook payloads by channel and outcome (count)",
		},
		[]string{"channel", "status"},
	)

	OutboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_outbound_messages_total",
			Help: "Total number of outbound send requests by channel and outcome (count)",
		},
		[]string{"channel", "status"},
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_publish_total",
			Help: "Total number of publish calls by stream and outcome (count)",
		},
		[]string{"stream", "status"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni_publish_duration_ms",
			Help:    "Publish duration including retries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"stream"},
	)

	PublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_publish_retries_total",
			Help: "Total number of publish retry attempts (count)",
		},
		[]string{"stream"},
	)

	TransportWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_transport_writes_total",
			Help: "Total number of transport appends by transport and outcome (count)",
		},
		[]string{"transport", "status"},
	)

	TransportWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni_transport_write_duration_ms",
			Help:    "Duration of a single transport append in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"transport"},
	)

	DedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_dedup_hits_total",
			Help: "Total number of publishes answered from the idempotency store (count)",
		},
		[]string{"transport"},
	)

	DedupCommitFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_dedup_commit_failures_total",
			Help: "Total number of appends whose entry id could not be stored for dedup (count)",
		},
		[]string{"transport"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	MonitoringResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omni_monitoring_resets_total",
			Help: "Total number of scheduled monitoring registry resets (count)",
		},
	)
)

var (
	gatewayOnce        sync.Once
	publisherOnce      sync.Once
	transportOnce      sync.Once
	circuitBreakerOnce sync.Once
)

func RegisterGatewayMetrics() {
	gatewayOnce.Do(func() {
		prometheus.MustRegister(GatewayRequestsTotal)
		prometheus.MustRegister(InboundMessagesTotal)
		prometheus.MustRegister(OutboundMessagesTotal)
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(MonitoringResetsTotal)
	})
}

func RegisterPublisherMetrics() {
	publisherOnce.Do(func() {
		prometheus.MustRegister(PublishTotal)
		prometheus.MustRegister(PublishDuration)
		prometheus.MustRegister(PublishRetriesTotal)
	})
}

func RegisterTransportMetrics() {
	transportOnce.Do(func() {
		prometheus.MustRegister(TransportWritesTotal)
		prometheus.MustRegister(TransportWriteDuration)
		prometheus.MustRegister(DedupHitsTotal)
		prometheus.MustRegister(DedupCommitFailuresTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func ObservePublishDuration(stream string, duration time.Duration) {
	PublishDuration.WithLabelValues(stream).Observe(float64(duration.Milliseconds()))
}

func IncPublish(stream, status string) {
	PublishTotal.WithLabelValues(stream, status).Inc()
}

func IncPublishRetry(stream string) {
	PublishRetriesTotal.WithLabelValues(stream).Inc()
}

func IncInbound(channel, status string) {
	InboundMessagesTotal.WithLabelValues(channel, status).Inc()
}

func IncOutbound(channel, status string) {
	OutboundMessagesTotal.WithLabelValues(channel, status).Inc()
}

func ObserveTransportWrite(transport, status string, duration time.Duration) {
	TransportWritesTotal.WithLabelValues(transport, status).Inc()
	TransportWriteDuration.WithLabelValues(transport).Observe(float64(duration.Milliseconds()))
}

func IncDedupHit(transport string) {
	DedupHitsTotal.WithLabelValues(transport).Inc()
}

func IncDedupCommitFailure(transport string) {
	DedupCommitFailuresTotal.WithLabelValues(transport).Inc()
}
