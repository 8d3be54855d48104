package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_evaluations_total",
			Help: "Sensor readings evaluated, by resulting alert type (none when below every threshold).",
		},
		[]string{"alert_type"},
	)
	lifecycleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_lifecycle_outcomes_total",
			Help: "Alert lifecycle decisions by outcome.",
		},
		[]string{"outcome"},
	)
	notificationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firewatch_notification_actions_total",
			Help: "Notification presenter calls by action.",
		},
		[]string{"action"},
	)
	telemetryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_telemetry_failures_total",
			Help: "ThingSpeak fetches that returned no usable reading.",
		},
	)
	droppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firewatch_change_events_dropped_total",
			Help: "Change events dropped because a subscriber was too slow.",
		},
	)
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firewatch_websocket_clients",
			Help: "Connected WebSocket clients.",
		},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpLatency, evaluations, lifecycleOutcomes,
			notificationActions, telemetryFailures, droppedEvents, connectedClients)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency per route template
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpLatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func IncEvaluation(alertType string) {
	if alertType == "" {
		alertType = "none"
	}
	evaluations.WithLabelValues(alertType).Inc()
}

func IncLifecycleOutcome(outcome string) {
	lifecycleOutcomes.WithLabelValues(outcome).Inc()
}

func IncNotificationAction(action string) {
	notificationActions.WithLabelValues(action).Inc()
}

func IncTelemetryFailure() {
	telemetryFailures.Inc()
}

func IncDroppedEvent() {
	droppedEvents.Inc()
}

func SetConnectedClients(n int) {
	connectedClients.Set(float64(n))
}
