// Package metrics provides Prometheus metrics for camrelay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pass results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	// Orchestrator pass metrics
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_passes_total",
			Help: "Total number of orchestrator passes by result",
		},
		[]string{"orchestrator", "result"},
	)

	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camrelay_pass_duration_seconds",
			Help:    "Duration of orchestrator passes that did work",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"orchestrator"},
	)

	// Fetch side
	recordingsStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_recordings_staged_total",
			Help: "Total number of recordings staged from the camera",
		},
	)

	recordingsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_recordings_skipped_total",
			Help: "Total number of listed recordings already at or below the cursor",
		},
	)

	cameraDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_camera_deletes_total",
			Help: "Total number of camera delete requests",
		},
		[]string{"status"},
	)

	stagingPairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "camrelay_staging_pairs",
			Help: "Number of complete recordings waiting in staging",
		},
	)

	// Push side
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"outcome"},
	)

	uploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camrelay_uploaded_bytes_total",
			Help: "Total bytes transferred to the remote store",
		},
	)

	// Radio
	radioEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_radio_events_total",
			Help: "Total number of radio connect/disconnect events",
		},
		[]string{"type"},
	)

	// Status server
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camrelay_http_requests_total",
			Help: "Total number of status server requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camrelay_http_request_duration_seconds",
			Help:    "Status server request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPass records one orchestrator pass. Skipped passes do not observe
// a duration.
func RecordPass(orchestrator, result string, duration time.Duration) {
	passesTotal.WithLabelValues(orchestrator, result).Inc()
	if result != ResultSkipped {
		passDuration.WithLabelValues(orchestrator).Observe(duration.Seconds())
	}
}

// RecordStaged records the result of one staging attempt that did not fail.
func RecordStaged(stored bool) {
	if stored {
		recordingsStaged.Inc()
	} else {
		recordingsSkipped.Inc()
	}
}

// RecordCameraDelete records a camera delete request.
func RecordCameraDelete(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	cameraDeletesTotal.WithLabelValues(status).Inc()
}

// SetStagingPairs sets the number of staged pairs.
func SetStagingPairs(count int) {
	stagingPairs.Set(float64(count))
}

// RecordUpload records one upload outcome. Bytes are only counted for
// transfers that happened.
func RecordUpload(outcome string, bytes int64) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		uploadedBytes.Add(float64(bytes))
	}
}

// RecordRadioEvent records a radio event.
func RecordRadioEvent(eventType string) {
	radioEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records a status server request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
