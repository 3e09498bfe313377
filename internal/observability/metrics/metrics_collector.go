// Package metrics provides metrics collection and exposition for HALOAlign.
// It integrates the Prometheus SDK to expose training progress (losses,
// rewards, KL estimate, learning rate), collective latency and checkpoint
// activity.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// Metrics Collector
// ============================================================================

// MetricsCollector manages Prometheus metrics collection
type MetricsCollector struct {
	// Prometheus registry
	registry *prometheus.Registry

	// Namespace for metrics
	namespace string

	// Subsystem for metrics
	subsystem string

	// Registered metrics
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	mu sync.RWMutex
}

// CollectorConfig defines metrics collector configuration
type CollectorConfig struct {
	// Namespace for all metrics
	Namespace string

	// Subsystem for metrics grouping
	Subsystem string

	// Enable default Go metrics
	EnableGoMetrics bool

	// Enable process metrics
	EnableProcessMetrics bool

	// Custom registry (optional)
	Registry *prometheus.Registry
}

// Metric names registered by every collector
const (
	MetricRunValue           = "run_metric_value"
	MetricExamplesTotal      = "examples_total"
	MetricUpdatesTotal       = "optimizer_updates_total"
	MetricLogsSkippedTotal   = "log_flushes_skipped_total"
	MetricForcedGCTotal      = "forced_gc_total"
	MetricStepDuration       = "train_step_duration_seconds"
	MetricCollectiveOps      = "collective_ops_total"
	MetricCollectiveDuration = "collective_duration_seconds"
	MetricCheckpointWrites   = "checkpoint_writes_total"
	MetricCheckpointErrors   = "checkpoint_errors_total"
	MetricSinkErrors         = "metrics_sink_errors_total"
)

// ============================================================================
// Collector Initialization
// ============================================================================

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(cfg CollectorConfig) *MetricsCollector {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.EnableGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}
	if cfg.EnableProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}

	collector := &MetricsCollector{
		registry:   registry,
		namespace:  cfg.Namespace,
		subsystem:  cfg.Subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	collector.registerCoreMetrics()

	return collector
}

// ============================================================================
// Core Training Metrics Registration
// ============================================================================

func (c *MetricsCollector) registerCoreMetrics() {
	// Flushed metric dictionaries, one series per dotted key
	c.RegisterGauge(MetricRunValue, "Latest flushed value of a training metric", []string{"key", "mode"})

	// Progress counters
	c.RegisterCounter(MetricExamplesTotal, "Training examples consumed", []string{"rank"})
	c.RegisterCounter(MetricUpdatesTotal, "Optimizer updates applied", []string{"rank"})
	c.RegisterCounter(MetricLogsSkippedTotal, "Log flushes skipped by the minimum interval", []string{"rank"})
	c.RegisterCounter(MetricForcedGCTotal, "Forced garbage collections after low free memory", []string{"rank"})
	c.RegisterHistogram(MetricStepDuration, "Train step duration in seconds", []string{"rank"}, prometheus.DefBuckets)

	// Collectives
	c.RegisterCounter(MetricCollectiveOps, "Collective operations issued", []string{"op", "status"})
	c.RegisterHistogram(MetricCollectiveDuration, "Collective operation latency in seconds", []string{"op"},
		[]float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5})

	// Checkpoints and sinks
	c.RegisterCounter(MetricCheckpointWrites, "Checkpoint artifacts written", []string{"kind"})
	c.RegisterCounter(MetricCheckpointErrors, "Checkpoint artifact failures", []string{"kind"})
	c.RegisterCounter(MetricSinkErrors, "Metrics sink delivery failures", []string{"sink"})
}

// ============================================================================
// Counter Operations
// ============================================================================

// RegisterCounter registers a new counter metric
func (c *MetricsCollector) RegisterCounter(name, help string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.counters[name]; exists {
		return
	}

	c.counters[name] = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// IncrementCounter increments a counter by 1
func (c *MetricsCollector) IncrementCounter(name string, labels prometheus.Labels) {
	c.AddCounter(name, 1, labels)
}

// AddCounter adds a value to a counter
func (c *MetricsCollector) AddCounter(name string, value float64, labels prometheus.Labels) {
	c.mu.RLock()
	counter, exists := c.counters[name]
	c.mu.RUnlock()

	if !exists {
		return
	}

	counter.With(labels).Add(value)
}

// ============================================================================
// Gauge Operations
// ============================================================================

// RegisterGauge registers a new gauge metric
func (c *MetricsCollector) RegisterGauge(name, help string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.gauges[name]; exists {
		return
	}

	c.gauges[name] = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// SetGauge sets a gauge value
func (c *MetricsCollector) SetGauge(name string, value float64, labels prometheus.Labels) {
	c.mu.RLock()
	gauge, exists := c.gauges[name]
	c.mu.RUnlock()

	if !exists {
		return
	}

	gauge.With(labels).Set(value)
}

// ============================================================================
// Histogram Operations
// ============================================================================

// RegisterHistogram registers a new histogram metric
func (c *MetricsCollector) RegisterHistogram(name, help string, labels []string, buckets []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.histograms[name]; exists {
		return
	}

	c.histograms[name] = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// ObserveHistogram records a value in a histogram
func (c *MetricsCollector) ObserveHistogram(name string, value float64, labels prometheus.Labels) {
	c.mu.RLock()
	histogram, exists := c.histograms[name]
	c.mu.RUnlock()

	if !exists {
		return
	}

	histogram.With(labels).Observe(value)
}

// ObserveDuration records duration since start in a histogram
func (c *MetricsCollector) ObserveDuration(name string, start time.Time, labels prometheus.Labels) {
	c.ObserveHistogram(name, time.Since(start).Seconds(), labels)
}

// ============================================================================
// HTTP Handler
// ============================================================================

// Handler returns HTTP handler for Prometheus metrics endpoint
func (c *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry
func (c *MetricsCollector) Registry() *prometheus.Registry {
	return c.registry
}

// ============================================================================
// Training Helpers
// ============================================================================

// RecordRunMetrics publishes a flushed metrics dictionary. The mode label is
// taken from the key namespace (e.g. "loss/eval" or "rewards_train/chosen").
func (c *MetricsCollector) RecordRunMetrics(values map[string]float64) {
	for key, value := range values {
		c.SetGauge(MetricRunValue, value, prometheus.Labels{"key": key, "mode": modeOf(key)})
	}
}

// RecordCollective records a collective op outcome and latency
func (c *MetricsCollector) RecordCollective(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.IncrementCounter(MetricCollectiveOps, prometheus.Labels{"op": op, "status": status})
	c.ObserveDuration(MetricCollectiveDuration, start, prometheus.Labels{"op": op})
}

// RecordCheckpoint records a checkpoint artifact outcome
func (c *MetricsCollector) RecordCheckpoint(kind string, err error) {
	if err != nil {
		c.IncrementCounter(MetricCheckpointErrors, prometheus.Labels{"kind": kind})
		return
	}
	c.IncrementCounter(MetricCheckpointWrites, prometheus.Labels{"kind": kind})
}

func modeOf(key string) string {
	switch {
	case strings.Contains(key, "eval"):
		return "eval"
	case strings.Contains(key, "train"):
		return "train"
	default:
		return ""
	}
}

//Personal.AI order the ending
