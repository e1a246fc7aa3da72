package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription agent
type Metrics struct {
	// Capture metrics
	FramesReceived prometheus.Counter
	ChunksEmitted  prometheus.Counter
	ChunksDropped  prometheus.Counter
	ChunkQueueSize prometheus.Gauge

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionErrors   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Transcription protocol metrics
	ChunksSent        prometheus.Counter
	ChunkSendFailures prometheus.Counter
	PollRequests      prometheus.Counter
	PollFailures      prometheus.Counter
	PollDuration      prometheus.Histogram
	StaleResponses    prometheus.Counter
	CommittedSegments prometheus.Gauge

	// Persistence metrics
	RecordsSaved       prometheus.Counter
	RecordSaveFailures prometheus.Counter

	// WebSocket ingest metrics
	WSConnections prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_received_total",
			Help: "Total number of audio frames received from capture clients",
		}),
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_emitted_total",
			Help: "Total number of fixed-size audio chunks emitted by the accumulator",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_dropped_total",
			Help: "Total number of audio chunks dropped due to a full queue",
		}),
		ChunkQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_chunk_queue_size",
			Help: "Current number of audio chunks waiting for transmission",
		}),

		// Session metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_started_total",
			Help: "Total number of transcription sessions started",
		}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_ended_total",
			Help: "Total number of transcription sessions ended",
		}),
		SessionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_session_errors_total",
			Help: "Total number of session lifecycle errors",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Transcription protocol metrics
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_sent_total",
			Help: "Total number of audio chunks transmitted to the backend",
		}),
		ChunkSendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunk_send_failures_total",
			Help: "Total number of failed chunk transmissions",
		}),
		PollRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_poll_requests_total",
			Help: "Total number of process polls issued",
		}),
		PollFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_poll_failures_total",
			Help: "Total number of failed process polls",
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_poll_duration_seconds",
			Help:    "Duration of process polls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		StaleResponses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_stale_responses_total",
			Help: "Total number of poll responses discarded as out of order",
		}),
		CommittedSegments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_committed_segments",
			Help: "Current number of committed segments in the active session",
		}),

		// Persistence metrics
		RecordsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_records_saved_total",
			Help: "Total number of transcription records persisted",
		}),
		RecordSaveFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_record_save_failures_total",
			Help: "Total number of failed transcription record saves",
		}),

		// WebSocket ingest metrics
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_ws_connections",
			Help: "Current number of open audio ingest WebSocket connections",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordChunkEmitted increments the chunks emitted counter
func (m *Metrics) RecordChunkEmitted() {
	m.ChunksEmitted.Inc()
}

// RecordChunkDropped increments the chunks dropped counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// SetChunkQueueSize sets the current chunk queue size
func (m *Metrics) SetChunkQueueSize(size int) {
	m.ChunkQueueSize.Set(float64(size))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded increments the sessions ended counter and records duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionError increments the session errors counter
func (m *Metrics) RecordSessionError() {
	m.SessionErrors.Inc()
}

// RecordChunkSent increments the chunks sent counter
func (m *Metrics) RecordChunkSent() {
	m.ChunksSent.Inc()
}

// RecordChunkSendFailure increments the chunk send failures counter
func (m *Metrics) RecordChunkSendFailure() {
	m.ChunkSendFailures.Inc()
}

// RecordPoll records a process poll and its outcome
func (m *Metrics) RecordPoll(success bool, durationSeconds float64) {
	m.PollRequests.Inc()
	if !success {
		m.PollFailures.Inc()
	}
	m.PollDuration.Observe(durationSeconds)
}

// RecordStaleResponse increments the stale responses counter
func (m *Metrics) RecordStaleResponse() {
	m.StaleResponses.Inc()
}

// SetCommittedSegments sets the committed segments gauge
func (m *Metrics) SetCommittedSegments(count int) {
	m.CommittedSegments.Set(float64(count))
}

// RecordRecordSaved increments the records saved counter
func (m *Metrics) RecordRecordSaved() {
	m.RecordsSaved.Inc()
}

// RecordRecordSaveFailure increments the record save failures counter
func (m *Metrics) RecordRecordSaveFailure() {
	m.RecordSaveFailures.Inc()
}

// WSConnectionOpened increments the WebSocket connections gauge
func (m *Metrics) WSConnectionOpened() {
	m.WSConnections.Inc()
}

// WSConnectionClosed decrements the WebSocket connections gauge
func (m *Metrics) WSConnectionClosed() {
	m.WSConnections.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
