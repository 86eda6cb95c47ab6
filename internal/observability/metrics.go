package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opcuactl",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opcuactl",
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "Server sessions currently running.",
		},
	)
	sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "server",
			Name:      "sessions_finished_total",
			Help:      "Server sessions finished, by final status.",
		},
		[]string{"status"},
	)
	serviceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "server",
			Name:      "service_requests_total",
			Help:      "Service requests dispatched by the server.",
		},
		[]string{"service", "status"},
	)
	serviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opcuactl",
			Subsystem: "server",
			Name:      "service_duration_seconds",
			Help:      "Server service dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	clientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Client service calls, by outcome status.",
		},
		[]string{"service", "status"},
	)
	clientCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opcuactl",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Client service call round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	orphanResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "client",
			Name:      "orphan_responses_total",
			Help:      "Responses dropped because no request was inflight for their handle.",
		},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opcuactl",
			Subsystem: "transport",
			Name:      "frame_bytes_total",
			Help:      "Bytes of UA-TCP frames, by direction and message type.",
		},
		[]string{"direction", "message_type"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsActive, sessionsFinished,
			serviceRequests, serviceDuration,
			clientCalls, clientCallDuration, orphanResponses,
			frameBytes,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionStarted() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func RecordSessionFinished(status string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsFinished.WithLabelValues(status).Inc()
}

func RecordServiceRequest(service, status string, duration time.Duration) {
	RegisterMetrics()
	serviceRequests.WithLabelValues(service, status).Inc()
	serviceDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func RecordClientCall(service, status string, duration time.Duration) {
	RegisterMetrics()
	clientCalls.WithLabelValues(service, status).Inc()
	clientCallDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func RecordOrphanResponse() {
	RegisterMetrics()
	orphanResponses.Inc()
}

// RecordFrame counts frame bytes; direction is "in" or "out".
func RecordFrame(direction, messageType string, size int) {
	RegisterMetrics()
	frameBytes.WithLabelValues(direction, messageType).Add(float64(size))
}
