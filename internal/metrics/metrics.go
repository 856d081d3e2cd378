package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// Upload metrics
	UploadSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_upload_sessions_active",
			Help: "Current number of open upload sessions",
		},
	)

	UploadChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_upload_chunks_total",
			Help: "Total number of chunk append attempts",
		},
		[]string{"result"},
	)

	UploadChunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_upload_chunk_bytes_total",
			Help: "Total bytes appended to temp upload files",
		},
	)

	UploadChunkRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_upload_chunk_retries_total",
			Help: "Total number of retried chunk appends after transient errors",
		},
	)

	UploadCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_upload_completions_total",
			Help: "Total number of upload completions",
		},
		[]string{"result"},
	)

	UploadSessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_upload_sessions_expired_total",
			Help: "Total number of abandoned upload sessions removed by the sweeper",
		},
	)

	// Chat metrics
	ChatClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_chat_clients_connected",
			Help: "Current number of connected WebSocket clients",
		},
	)

	ChatRoomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_chat_room_joins_total",
			Help: "Total number of room join attempts",
		},
		[]string{"result"},
	)

	ChatMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_chat_messages_sent_total",
			Help: "Total number of chat messages persisted",
		},
		[]string{"kind"},
	)

	ChatMessagesRecalled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_chat_messages_recalled_total",
			Help: "Total number of recalled chat messages",
		},
	)
)

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := httpStatusToString(status)
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// httpStatusToString buckets an HTTP status code into its class
func httpStatusToString(code int) string {
	if code >= 200 && code < 300 {
		return "2xx"
	} else if code >= 300 && code < 400 {
		return "3xx"
	} else if code >= 400 && code < 500 {
		return "4xx"
	} else if code >= 500 {
		return "5xx"
	}
	return "unknown"
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordChunk records the outcome of a chunk append
func RecordChunk(success bool, bytes int) {
	UploadChunksTotal.WithLabelValues(resultLabel(success)).Inc()
	if success {
		UploadChunkBytes.Add(float64(bytes))
	}
}

// RecordCompletion records the outcome of an upload completion
func RecordCompletion(success bool) {
	UploadCompletions.WithLabelValues(resultLabel(success)).Inc()
}

// RecordJoin records a room join attempt. result is "success", "duplicate", "already_joined" or "not_found".
func RecordJoin(result string) {
	ChatRoomJoins.WithLabelValues(result).Inc()
}

// RecordMessage increments the sent counter for a message kind
func RecordMessage(kind string) {
	ChatMessagesSent.WithLabelValues(kind).Inc()
}
