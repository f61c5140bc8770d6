package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal      *prometheus.CounterVec
	uploadedBytes     *prometheus.HistogramVec
	enqueuedTotal     *prometheus.CounterVec
	scanStatusQueries *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dv",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dv",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Total document uploads by outcome.",
		},
		[]string{"service", "status"},
	)
	uploadedBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dv",
			Subsystem: "documents",
			Name:      "uploaded_bytes",
			Help:      "Distribution of uploaded document sizes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"service"},
	)
	enqueuedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "processing",
			Name:      "enqueued_total",
			Help:      "Total processing requests enqueued by processor.",
		},
		[]string{"service", "processor"},
	)
	scanStatusQueries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "documents",
			Name:      "scan_status_queries_total",
			Help:      "Total scan status lookups by resolved status.",
		},
		[]string{"service", "scan_status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadedBytes,
		enqueuedTotal,
		scanStatusQueries,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadsTotal:      uploadsTotal,
		uploadedBytes:     uploadedBytes,
		enqueuedTotal:     enqueuedTotal,
		scanStatusQueries: scanStatusQueries,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses document ids so the path label stays low-cardinality.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/documents/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/v1/documents/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return "/v1/documents/{document_id}/" + rest[idx+1:]
	}
	return "/v1/documents/{document_id}"
}

func (m *HTTPServerMetrics) RecordUpload(service, status string, sizeBytes int) {
	m.uploadsTotal.WithLabelValues(service, status).Inc()
	if sizeBytes > 0 {
		m.uploadedBytes.WithLabelValues(service).Observe(float64(sizeBytes))
	}
}

func (m *HTTPServerMetrics) RecordEnqueue(service, processor string) {
	if processor == "" {
		processor = "unknown"
	}
	m.enqueuedTotal.WithLabelValues(service, processor).Inc()
}

func (m *HTTPServerMetrics) RecordScanStatusQuery(service, scanStatus string) {
	if scanStatus == "" {
		scanStatus = "unknown"
	}
	m.scanStatusQueries.WithLabelValues(service, scanStatus).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
