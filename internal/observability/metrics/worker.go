package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// WorkerMetrics instruments the queue-consuming workers. The processing
// worker and the scan worker share the same instrument set under their own
// service label.
type WorkerMetrics struct {
	registry *prometheus.Registry

	handleTotal     *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	handleInFlight  prometheus.Gauge
	redeliveries    *prometheus.HistogramVec
	scanVerdicts    *prometheus.CounterVec
	resultsPersists *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	handleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Total handled queue messages by outcome (ack, nak, term).",
		},
		[]string{"service", "outcome"},
	)
	handleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dv",
			Subsystem: "worker",
			Name:      "message_duration_seconds",
			Help:      "Message handling duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	handleInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dv",
			Subsystem: "worker",
			Name:      "messages_in_flight",
			Help:      "Number of messages being handled right now.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	redeliveries := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dv",
			Subsystem: "worker",
			Name:      "delivery_attempt",
			Help:      "Delivery attempt number observed per handled message.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	scanVerdicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "antivirus",
			Name:      "verdicts_total",
			Help:      "Total completed scans by verdict (clean, infected).",
		},
		[]string{"service", "verdict"},
	)
	resultsPersists := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dv",
			Subsystem: "processing",
			Name:      "results_persisted_total",
			Help:      "Total persisted processor results by status.",
		},
		[]string{"service", "processor", "status"},
	)

	registry.MustRegister(handleTotal, handleDuration, handleInFlight, redeliveries, scanVerdicts, resultsPersists)

	return &WorkerMetrics{
		registry:        registry,
		handleTotal:     handleTotal,
		handleDuration:  handleDuration,
		handleInFlight:  handleInFlight,
		redeliveries:    redeliveries,
		scanVerdicts:    scanVerdicts,
		resultsPersists: resultsPersists,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartMessage() {
	m.handleInFlight.Inc()
}

func (m *WorkerMetrics) FinishMessage(service, outcome string, duration time.Duration, attempt uint64) {
	m.handleInFlight.Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.handleTotal.WithLabelValues(service, outcome).Inc()
	m.handleDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
	if attempt > 0 {
		m.redeliveries.WithLabelValues(service).Observe(float64(attempt))
	}
}

func (m *WorkerMetrics) RecordScanVerdict(service string, clean bool) {
	verdict := "clean"
	if !clean {
		verdict = "infected"
	}
	m.scanVerdicts.WithLabelValues(service, verdict).Inc()
}

func (m *WorkerMetrics) RecordResultPersisted(service, processor, status string) {
	m.resultsPersists.WithLabelValues(service, processor, status).Inc()
}

// InstrumentScanner counts verdicts produced by the wrapped scanner. Scan
// engine failures yield no verdict and are not counted here.
func InstrumentScanner(m *WorkerMetrics, service string, inner ports.VirusScanner) ports.VirusScanner {
	return &instrumentedScanner{m: m, service: service, inner: inner}
}

type instrumentedScanner struct {
	m       *WorkerMetrics
	service string
	inner   ports.VirusScanner
}

func (s *instrumentedScanner) Scan(ctx context.Context, data []byte, label string) (domain.ScanVerdict, error) {
	verdict, err := s.inner.Scan(ctx, data, label)
	if err == nil {
		s.m.RecordScanVerdict(s.service, verdict.Clean)
	}
	return verdict, err
}
