package fastlimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	decisionLabelResult = "result"

	resultAdmitted = "admitted"
	resultDenied   = "denied"
	resultError    = "error"
)

// DefaultCheckDurationBuckets is the default histogram layout for check latency.
var DefaultCheckDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

// MetricsCollectorOpts represents options for MetricsCollector.
type MetricsCollectorOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets into which check durations are counted.
	DurationBuckets []float64

	// ConstLabels is a set of labels applied to all metrics.
	ConstLabels prometheus.Labels
}

// MetricsCollector records admission decisions as Prometheus metrics.
type MetricsCollector struct {
	Decisions *prometheus.CounterVec
	Durations prometheus.Histogram
}

// NewMetricsCollector creates a collector with default options.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithOpts(MetricsCollectorOpts{})
}

// NewMetricsCollectorWithOpts is a more configurable version of NewMetricsCollector.
func NewMetricsCollectorWithOpts(opts MetricsCollectorOpts) *MetricsCollector {
	buckets := opts.DurationBuckets
	if buckets == nil {
		buckets = DefaultCheckDurationBuckets
	}
	return &MetricsCollector{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "rate_limit_decisions_total",
				Help:        "Number of rate limit checks by result.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{decisionLabelResult},
		),
		Durations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   opts.Namespace,
				Name:        "rate_limit_check_duration_seconds",
				Help:        "A histogram of rate limit check durations, including store round trips.",
				Buckets:     buckets,
				ConstLabels: opts.ConstLabels,
			},
		),
	}
}

// MustRegister registers the collector's metrics in the given registerer and panics on error.
func (c *MetricsCollector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.Decisions, c.Durations)
}

// Unregister removes the collector's metrics from the given registerer.
func (c *MetricsCollector) Unregister(reg prometheus.Registerer) {
	reg.Unregister(c.Decisions)
	reg.Unregister(c.Durations)
}

func (c *MetricsCollector) observe(d Decision, err error, elapsed time.Duration) {
	result := resultAdmitted
	switch {
	case err != nil:
		result = resultError
	case !d.Allowed:
		result = resultDenied
	}
	c.Decisions.WithLabelValues(result).Inc()
	c.Durations.Observe(elapsed.Seconds())
}
