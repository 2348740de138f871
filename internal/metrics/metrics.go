// Package metrics provides Prometheus metrics for the logsync client and
// server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Client: detection
	scanCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_scan_cycles_total",
			Help: "Detection cycles run, by outcome",
		},
		[]string{"status"},
	)

	filesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_files_detected_total",
			Help: "Changed files seen by the detector, by disposition",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logsync_upload_queue_depth",
			Help: "Tasks waiting in the upload queue",
		},
	)

	// Client: uploads
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_uploads_total",
			Help: "Upload attempts completed by the client, by outcome",
		},
		[]string{"status"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_upload_bytes_total",
			Help: "Bytes sent by successful client uploads",
		},
	)

	uploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logsync_upload_duration_seconds",
			Help:    "Time to send one file, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Server: ingestion
	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsync_ingest_total",
			Help: "Uploads handled by the server, by result",
		},
		[]string{"result"},
	)

	ingestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_ingest_bytes_total",
			Help: "Bytes stored by successful uploads",
		},
	)

	moveRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_move_retries_total",
			Help: "Retries of the landing-to-destination move",
		},
	)

	ledgerErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsync_ledger_errors_total",
			Help: "Ledger appends that failed",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric. path must come from a
// bounded set, such as route patterns.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScanCycle records the outcome of one detection cycle.
func RecordScanCycle(success bool) {
	scanCyclesTotal.WithLabelValues(status(success)).Inc()
}

// RecordDetection records changed files by disposition: queued, duplicate,
// rejected or excluded.
func RecordDetection(result string, n int) {
	if n > 0 {
		filesDetectedTotal.WithLabelValues(result).Add(float64(n))
	}
}

// SetQueueDepth records the current upload queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordUpload records one client upload.
func RecordUpload(bytes int64, success bool, duration time.Duration) {
	uploadsTotal.WithLabelValues(status(success)).Inc()
	uploadDuration.Observe(duration.Seconds())
	if success {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// RecordIngest records one server-side upload by result label, e.g.
// "stored", "unauthorized", "malformed", "error".
func RecordIngest(result string, bytes int64) {
	ingestTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		ingestBytesTotal.Add(float64(bytes))
	}
}

// RecordMoveRetry records one retried move.
func RecordMoveRetry() {
	moveRetriesTotal.Inc()
}

// RecordLedgerError records a failed ledger append.
func RecordLedgerError() {
	ledgerErrorsTotal.Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by the ServeMux pattern that served them, so next should be
// a *http.ServeMux; anything it did not route is labelled "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start))
	})
}

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}
