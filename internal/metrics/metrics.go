package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Categories used across the harvester.
const (
	SymbolProcessing   = "symbol_processing"
	DatabaseOperations = "database_operations"
	NetworkRequests    = "network_requests"
	RateLimiting       = "rate_limiting"
	TotalExecution     = "total_execution"
)

// CategorySummary aggregates every observation of one category
type CategorySummary struct {
	Total      int           `json:"total_operations"`
	Successful int           `json:"successful_operations"`
	Min        time.Duration `json:"min_duration"`
	Max        time.Duration `json:"max_duration"`
	Sum        time.Duration `json:"total_duration"`
}

// SuccessRate returns the share of successful operations in [0, 1].
func (s CategorySummary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

// Average returns the mean duration.
func (s CategorySummary) Average() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Total)
}

// Recorder keeps an in-memory summary of timed operations and mirrors it into Prometheus collectors.
// A nil *Recorder discards everything.
type Recorder struct {
	mu      sync.Mutex
	summary map[string]*CategorySummary

	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	recordsTotal      *prometheus.CounterVec
	batchSize         prometheus.Histogram
	queueDepth        prometheus.Gauge
	lastRunSymbols    *prometheus.GaugeVec
	lastRunDuration   prometheus.Gauge
}

// NewRecorder creates a recorder with its own Prometheus registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		summary:  make(map[string]*CategorySummary),
		registry: reg,
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockharvest_operation_duration_seconds",
				Help:    "Duration of instrumented operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
			},
			[]string{"category", "operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockharvest_operations_total",
				Help: "Instrumented operations by outcome",
			},
			[]string{"category", "result"},
		),
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockharvest_records_total",
				Help: "Records handled by the batch writer",
			},
			[]string{"outcome"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockharvest_flush_batch_size",
				Help:    "Records per writer flush",
				Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10 to ~40k
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockharvest_writer_queue_depth",
				Help: "Batches waiting in the writer queue",
			},
		),
		lastRunSymbols: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockharvest_last_run_symbols",
				Help: "Symbols of the last completed run by outcome",
			},
			[]string{"outcome"},
		),
		lastRunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockharvest_last_run_duration_seconds",
				Help: "Wall time of the last completed run",
			},
		),
	}
}

// Observe records one operation.
func (r *Recorder) Observe(category, operation string, d time.Duration, success bool) {
	if r == nil {
		return
	}

	r.mu.Lock()
	s, ok := r.summary[category]
	if !ok {
		s = &CategorySummary{Min: d, Max: d}
		r.summary[category] = s
	}
	s.Total++
	if success {
		s.Successful++
	}
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Sum += d
	r.mu.Unlock()

	result := "success"
	if !success {
		result = "failure"
	}
	r.operationDuration.WithLabelValues(category, operation).Observe(d.Seconds())
	r.operationsTotal.WithLabelValues(category, result).Inc()
}

// Time runs fn and observes its duration. A non-nil error counts as a failure.
func (r *Recorder) Time(category, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(category, operation, time.Since(start), err == nil)
	return err
}

// AddRecords counts records by outcome, e.g. "written" or "dropped".
func (r *Recorder) AddRecords(outcome string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.recordsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveBatch records the size of a flushed batch.
func (r *Recorder) ObserveBatch(n int) {
	if r == nil {
		return
	}
	r.batchSize.Observe(float64(n))
}

// SetQueueDepth publishes the current writer queue length.
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// RunFinished publishes the outcome of a completed run.
func (r *Recorder) RunFinished(d time.Duration, succeeded, skipped, failed int) {
	if r == nil {
		return
	}
	r.lastRunDuration.Set(d.Seconds())
	r.lastRunSymbols.WithLabelValues("succeeded").Set(float64(succeeded))
	r.lastRunSymbols.WithLabelValues("skipped").Set(float64(skipped))
	r.lastRunSymbols.WithLabelValues("failed").Set(float64(failed))
}

// Summary returns a copy of the per-category aggregates.
func (r *Recorder) Summary() map[string]CategorySummary {
	out := make(map[string]CategorySummary)
	if r == nil {
		return out
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.summary {
		out[k] = *v
	}
	return out
}

// LogSummary writes one line per category.
func (r *Recorder) LogSummary(log *logrus.Entry) {
	summary := r.Summary()

	categories := make([]string, 0, len(summary))
	for c := range summary {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		s := summary[c]
		log.WithFields(logrus.Fields{
			"category":     c,
			"operations":   s.Total,
			"success_rate": s.SuccessRate(),
			"avg":          s.Average(),
			"min":          s.Min,
			"max":          s.Max,
			"total":        s.Sum,
		}).Info("Performance summary")
	}
}

// Registry exposes the collectors for custom exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collectors in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
