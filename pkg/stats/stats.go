// Package stats exposes the engine's operational counters and histograms
// through a small Collector interface, backed by Prometheus metrics so the
// numbers can be scraped without the engine depending on any particular
// serving mux.
package stats

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Op names the kind of operation a Collector call is reporting on.
type Op string

const (
	OpPut        Op = "put"
	OpGet        Op = "get"
	OpDelete     Op = "delete"
	OpWriteBatch Op = "write_batch"
	OpFlush      Op = "flush"
	OpCompaction Op = "compaction"
	OpWALRotate  Op = "wal_rotate"
)

// Collector records counts, latencies, and point-in-time gauges for engine
// operations. Implementations must be safe for concurrent use.
type Collector interface {
	// IncrOps increments the completed-operation counter for op by n.
	IncrOps(op Op, n uint64)
	// IncrErrors increments the failed-operation counter for op by n.
	IncrErrors(op Op, n uint64)
	// ObserveLatency records how long one op call took.
	ObserveLatency(op Op, d time.Duration)
	// SetGauge sets a named point-in-time value (memtable bytes, SST
	// count per level, WAL size, and so on).
	SetGauge(name string, v float64)
	// Snapshot returns a flattened view of current counters/gauges,
	// mainly for tests and the CLI's `compact` output.
	Snapshot() map[string]float64
}

// PromCollector is the Prometheus-backed Collector used in production.
// Register it with a prometheus.Registerer to expose it via /metrics.
type PromCollector struct {
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	latency *prometheus.HistogramVec
	gauges  *prometheus.GaugeVec
}

// NewPromCollector builds a PromCollector and registers its metrics with
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "ops_total",
			Help:      "Completed engine operations by kind.",
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "op_errors_total",
			Help:      "Failed engine operations by kind.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "op_latency_seconds",
			Help:      "Engine operation latency by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lattice",
			Name:      "gauge",
			Help:      "Point-in-time engine gauges by name.",
		}, []string{"name"}),
	}
	reg.MustRegister(c.ops, c.errs, c.latency, c.gauges)
	return c
}

func (c *PromCollector) IncrOps(op Op, n uint64) {
	c.ops.WithLabelValues(string(op)).Add(float64(n))
}

func (c *PromCollector) IncrErrors(op Op, n uint64) {
	c.errs.WithLabelValues(string(op)).Add(float64(n))
}

func (c *PromCollector) ObserveLatency(op Op, d time.Duration) {
	c.latency.WithLabelValues(string(op)).Observe(d.Seconds())
}

func (c *PromCollector) SetGauge(name string, v float64) {
	c.gauges.WithLabelValues(name).Set(v)
}

// Snapshot reads back the op counters via the metric family, since
// CounterVec/GaugeVec expose no direct accessor for current values.
func (c *PromCollector) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	collectInto(out, "ops", c.ops)
	collectInto(out, "errors", c.errs)
	collectInto(out, "gauge", c.gauges)
	return out
}

func collectInto(out map[string]float64, prefix string, coll prometheus.Collector) {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		coll.Collect(ch)
		close(ch)
	}()
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		label := "unknown"
		if len(pb.Label) > 0 {
			label = pb.Label[0].GetValue()
		}
		var v float64
		switch {
		case pb.Counter != nil:
			v = pb.Counter.GetValue()
		case pb.Gauge != nil:
			v = pb.Gauge.GetValue()
		}
		out[prefix+"_"+label] = v
	}
}

// NopCollector discards every call; used where stats are not wired (tests,
// one-shot CLI invocations).
type NopCollector struct{}

func (NopCollector) IncrOps(Op, uint64)               {}
func (NopCollector) IncrErrors(Op, uint64)            {}
func (NopCollector) ObserveLatency(Op, time.Duration) {}
func (NopCollector) SetGauge(string, float64)         {}
func (NopCollector) Snapshot() map[string]float64     { return map[string]float64{} }
