package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_messages_received_total",
		Help: "Total number of message events received",
	}, []string{"message_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_messages_processed_total",
		Help: "Total number of message events processed",
	}, []string{"status"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qq_ai_bot_ai_request_duration_seconds",
		Help:    "Duration of AI completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_ai_requests_total",
		Help: "Total number of AI completion requests",
	}, []string{"status"})

	// Gate metrics
	rateLimitRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qq_ai_bot_rate_limit_rejected_total",
		Help: "Total number of triggers rejected by the rate gate",
	})

	cooldownRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_cooldown_rejected_total",
		Help: "Total number of commands rejected by cooldown",
	}, []string{"command"})

	// Filter metrics
	filterBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qq_ai_bot_filter_blocked_total",
		Help: "Total number of messages blocked by the content filter",
	}, []string{"reason"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message event
func (m *Metrics) RecordMessageReceived(messageType string) {
	messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageProcessed records a processed message event
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAIRequest records an AI completion request
func (m *Metrics) RecordAIRequest(status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitRejected records a rate gate rejection
func (m *Metrics) RecordRateLimitRejected() {
	rateLimitRejected.Inc()
}

// RecordCooldownRejected records a cooldown rejection
func (m *Metrics) RecordCooldownRejected(command string) {
	cooldownRejected.WithLabelValues(command).Inc()
}

// RecordFilterBlocked records a content filter rejection
func (m *Metrics) RecordFilterBlocked(reason string) {
	filterBlocked.WithLabelValues(reason).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
