package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assembler"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Runs, as seen by the worker
	RunsActive    prometheus.Gauge
	RunsFinished  *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec

	// Pipeline output
	ScenesRenderedTotal   prometheus.Counter
	MusicSourceTotal      *prometheus.CounterVec
	MusicMixFailuresTotal prometheus.Counter
	RenderedSecondsTotal  prometheus.Counter

	// Encoder invocations
	FFmpegInvocationsTotal *prometheus.CounterVec
	FFmpegErrorsTotal      *prometheus.CounterVec
	FFmpegDuration         *prometheus.HistogramVec

	// Progress websocket
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec
}

// Long-running buckets: a run or a single encode can take up to an hour.
var longBuckets = []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		}, []string{"method", "path", "status"}),

		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Assembly runs currently executing on this worker",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Assembly runs that reached a final status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of assembly runs",
			Buckets:   longBuckets,
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of assembly pipeline stages in seconds",
			Buckets:   longBuckets,
		}, []string{"stage", "status"}),

		ScenesRenderedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_rendered_total",
			Help:      "Scene segments rendered",
		}),
		MusicSourceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "music_source_total",
			Help:      "Background music sources used, by fallback tier",
		}, []string{"source"}),
		MusicMixFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "music_mix_failures_total",
			Help:      "Background music mixes that failed and were rolled back",
		}),
		RenderedSecondsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendered_seconds_total",
			Help:      "Seconds of finished video produced",
		}),

		FFmpegInvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ffmpeg_invocations_total",
			Help:      "FFmpeg invocations by operation and outcome",
		}, []string{"operation", "status"}),
		FFmpegErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ffmpeg_errors_total",
			Help:      "Failed FFmpeg invocations by error kind",
		}, []string{"operation", "error_type"}),
		FFmpegDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ffmpeg_duration_seconds",
			Help:      "FFmpeg invocation wall time",
			Buckets:   longBuckets,
		}, []string{"operation"}),

		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open progress websocket connections",
		}),
		WebSocketMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Progress messages delivered to websocket clients",
		}, []string{"type"}),
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordRunStarted marks a run as executing.
func (m *Metrics) RecordRunStarted() {
	m.RunsActive.Inc()
}

// RecordRunFinished records a run's final status and wall time.
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	m.RunsActive.Dec()
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordStage(stage string, success bool, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage, outcome(success)).Observe(duration.Seconds())
}

func (m *Metrics) RecordSceneRendered() {
	m.ScenesRenderedTotal.Inc()
}

// RecordMusicSource records which fallback tier supplied background music.
func (m *Metrics) RecordMusicSource(source string) {
	m.MusicSourceTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordMusicMixFailure() {
	m.MusicMixFailuresTotal.Inc()
}

func (m *Metrics) RecordRenderedSeconds(seconds float64) {
	m.RenderedSecondsTotal.Add(seconds)
}

// RecordFFmpegOperation records one encoder invocation.
func (m *Metrics) RecordFFmpegOperation(operation string, success bool, duration time.Duration) {
	m.FFmpegInvocationsTotal.WithLabelValues(operation, outcome(success)).Inc()
	m.FFmpegDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFFmpegError records the kind of a failed invocation (timeout, cancelled, ...).
func (m *Metrics) RecordFFmpegError(operation string, errorType string) {
	m.FFmpegErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
