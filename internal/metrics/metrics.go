package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logwhisperer"

// Metrics holds the Prometheus metrics of one analysis run
type Metrics struct {
	registry *prometheus.Registry

	LinesTotal          prometheus.Counter
	WindowPatterns      prometheus.Gauge
	NewPatternsTotal    prometheus.Counter
	AlertsTotal         prometheus.Counter
	DBRecords           prometheus.Gauge
	DBSkippedLinesTotal prometheus.Counter
	NotifyFailuresTotal *prometheus.CounterVec
	BaselineActive      prometheus.Gauge
	LastRunTimestamp    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LinesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Total number of raw log lines read from the source",
		}),
		WindowPatterns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patterns_window",
			Help:      "Number of distinct patterns in the current window",
		}),
		NewPatternsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_new_total",
			Help:      "Total number of patterns absent from the pattern database before the run",
		}),
		AlertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alert-worthy patterns",
		}),
		DBRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_records",
			Help:      "Number of records in the pattern database after the run",
		}),
		DBSkippedLinesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_skipped_lines_total",
			Help:      "Total number of malformed pattern database lines skipped while loading",
		}),
		NotifyFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Total number of failed notification deliveries",
		}, []string{"notifier"}),
		BaselineActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_active",
			Help:      "1 while baseline learning suppresses alerts",
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// AddLines adds n to the lines_total counter
func (m *Metrics) AddLines(n int) {
	m.LinesTotal.Add(float64(n))
}

// AddSkippedDBLines adds n to the db_skipped_lines_total counter
func (m *Metrics) AddSkippedDBLines(n int) {
	m.DBSkippedLinesTotal.Add(float64(n))
}

// IncrementNotifyFailures increments the failure counter of one notifier
func (m *Metrics) IncrementNotifyFailures(notifier string) {
	m.NotifyFailuresTotal.WithLabelValues(notifier).Inc()
}

// SetBaselineActive records the learning mode flag
func (m *Metrics) SetBaselineActive(active bool) {
	if active {
		m.BaselineActive.Set(1)
		return
	}
	m.BaselineActive.Set(0)
}

// ObserveRun records the end of a run
func (m *Metrics) ObserveRun(now time.Time) {
	m.LastRunTimestamp.Set(float64(now.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format for the
// node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
