// Package metrics collects per-run signing metrics and exports them in
// the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the collectors of one run. A nil *Metrics discards
// every observation.
type Metrics struct {
	Registry *prometheus.Registry

	Documents        *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	SignSeconds      prometheus.Histogram
	PlaceholderUsage prometheus.Histogram
	Skipped          prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Documents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfbatchsign_documents_total",
				Help: "Documents processed, by result",
			},
			[]string{"result"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfbatchsign_failures_total",
				Help: "Failed documents, by reason",
			},
			[]string{"reason"},
		),
		SignSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdfbatchsign_document_seconds",
				Help:    "A histogram of latencies for processing one document",
				Buckets: buckets,
			},
		),
		PlaceholderUsage: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdfbatchsign_placeholder_usage_ratio",
				Help:    "Share of the reserved signature placeholder used by the CMS container",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		Skipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfbatchsign_manifest_lines_skipped_total",
				Help: "Malformed manifest lines that were ignored",
			},
		),
	}
}

// Signed records a successful document. used and reserved are the DER
// sizes of the container and the placeholder.
func (m *Metrics) Signed(start time.Time, used, reserved int) {
	if m == nil {
		return
	}
	m.Documents.WithLabelValues("signed").Inc()
	m.SignSeconds.Observe(time.Since(start).Seconds())
	if reserved > 0 {
		m.PlaceholderUsage.Observe(float64(used) / float64(reserved))
	}
}

// Failed records a failed document.
func (m *Metrics) Failed(start time.Time, reason string) {
	if m == nil {
		return
	}
	m.Documents.WithLabelValues("failed").Inc()
	m.Failures.WithLabelValues(reason).Inc()
	if !start.IsZero() {
		m.SignSeconds.Observe(time.Since(start).Seconds())
	}
}

// SkippedLines records malformed manifest lines.
func (m *Metrics) SkippedLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Skipped.Add(float64(n))
}

// WriteTextfile writes the current values to path for the textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
