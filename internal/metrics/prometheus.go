package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shape"

// PrometheusCounter wraps prometheus.Counter with the same interface as Counter.
type PrometheusCounter struct {
	counter prometheus.Counter
}

// NewPrometheusCounter creates a new Prometheus counter with the given name and help text.
func NewPrometheusCounter(subsystem, name, help string) *PrometheusCounter {
	return &PrometheusCounter{
		counter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (c *PrometheusCounter) Inc() {
	c.counter.Inc()
}

// PrometheusCounterVec is a counter partitioned by a single label.
type PrometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func NewPrometheusCounterVec(subsystem, name, help, label string) *PrometheusCounterVec {
	return &PrometheusCounterVec{
		vec: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{label}),
	}
}

func (c *PrometheusCounterVec) Inc(value string) {
	c.vec.WithLabelValues(value).Inc()
}

// PrometheusGauge wraps prometheus.Gauge with the same interface as Gauge.
type PrometheusGauge struct {
	gauge prometheus.Gauge
}

// NewPrometheusGauge creates a new Prometheus gauge with the given name and help text.
func NewPrometheusGauge(subsystem, name, help string) *PrometheusGauge {
	return &PrometheusGauge{
		gauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (g *PrometheusGauge) Set(v float64) {
	g.gauge.Set(v)
}

// PrometheusHistogram wraps prometheus.Histogram.
type PrometheusHistogram struct {
	histogram prometheus.Histogram
}

// NewPrometheusHistogram creates a new Prometheus histogram with the given buckets.
func NewPrometheusHistogram(subsystem, name, help string, buckets []float64) *PrometheusHistogram {
	return &PrometheusHistogram{
		histogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}),
	}
}

func (h *PrometheusHistogram) Observe(value uint64) {
	h.histogram.Observe(float64(value))
}

// Metrics is a centralized registry of all shape consumer metrics.
type Metrics struct {
	// Engine metrics
	MessagesTotal  *PrometheusCounterVec
	DecodeErrors   *PrometheusCounterVec
	OffsetReplays  *PrometheusCounter
	RecordsSkipped *PrometheusCounter
	DecodeLatency  *PrometheusHistogram
	OffsetSegment  *PrometheusGauge
	OffsetIndex    *PrometheusGauge
	SchemaEpoch    *PrometheusGauge

	// Publisher metrics
	Published       *PrometheusCounter
	PublishFailures *PrometheusCounter

	// Checkpoint metrics
	CheckpointsSaved  *PrometheusCounter
	CheckpointFailure *PrometheusCounter

	// Source metrics
	RecordsRead  *PrometheusCounter
	SourceErrors *PrometheusCounter
}

// NewMetrics creates a new centralized metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesTotal: NewPrometheusCounterVec("engine", "messages_total",
			"Total number of messages accepted, by kind", "kind"),
		DecodeErrors: NewPrometheusCounterVec("engine", "decode_errors_total",
			"Total number of rejected records, by error kind", "reason"),
		OffsetReplays: NewPrometheusCounter("engine", "offset_replays_total",
			"Change messages ignored because they replayed the current offset"),
		RecordsSkipped: NewPrometheusCounter("engine", "records_skipped_total",
			"Records dropped under the skip decode error policy"),
		DecodeLatency: NewPrometheusHistogram("engine", "decode_latency_nanoseconds",
			"Record decode latency in nanoseconds",
			[]float64{500, 1000, 5000, 10000, 50000, 100000, 500000}),
		OffsetSegment: NewPrometheusGauge("engine", "offset_segment",
			"Segment of the last accepted offset"),
		OffsetIndex: NewPrometheusGauge("engine", "offset_index",
			"Index of the last accepted offset"),
		SchemaEpoch: NewPrometheusGauge("engine", "schema_epoch",
			"Number of schema replacements applied"),

		Published: NewPrometheusCounter("publisher", "published_total",
			"Total number of events handed to the sink"),
		PublishFailures: NewPrometheusCounter("publisher", "publish_failures_total",
			"Total number of failed sink publishes"),

		CheckpointsSaved: NewPrometheusCounter("checkpoint", "saved_total",
			"Total number of offset checkpoints persisted"),
		CheckpointFailure: NewPrometheusCounter("checkpoint", "failures_total",
			"Total number of failed checkpoint writes"),

		RecordsRead: NewPrometheusCounter("source", "records_read_total",
			"Total number of raw records read from the transport"),
		SourceErrors: NewPrometheusCounter("source", "errors_total",
			"Total number of transport read errors"),
	}
}

// Global metrics instance
var GlobalMetrics = NewMetrics()
