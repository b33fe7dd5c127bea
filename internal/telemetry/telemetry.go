// Package telemetry wires an in-process OpenTelemetry tracer provider and a
// prometheus metric registry around the engine's hot paths (Store.Execute,
// effect dispatch). No exporter is attached — shipping spans or scraping
// metrics off-box is the same kind of I/O concern spec.md excludes for log
// shipping; this package only creates spans/metrics for in-process
// observability and testing.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the tracer and the metric registry the engine publishes
// to.
type Telemetry struct {
	tracerProvider *trace.TracerProvider
	tracer         oteltrace.Tracer
	Registry       *prometheus.Registry

	WALOperations   *prometheus.CounterVec
	EffectsTotal    *prometheus.CounterVec
	SchedulerQueued prometheus.Gauge
	QueueDepth      *prometheus.GaugeVec
}

// New constructs a Telemetry bundle with a fresh in-process tracer provider
// (no exporter) and a fresh prometheus registry populated with the core
// engine metrics.
func New() *Telemetry {
	tp := trace.NewTracerProvider()
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		tracerProvider: tp,
		tracer:         tp.Tracer("oj/engine"),
		Registry:       reg,
		WALOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oj_wal_operations_total",
			Help: "Number of operations appended to the write-ahead log.",
		}, []string{"op_kind"}),
		EffectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oj_effects_total",
			Help: "Number of effects dispatched, by kind.",
		}, []string{"kind"}),
		SchedulerQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oj_scheduler_pending",
			Help: "Number of due-time items currently queued in the scheduler.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oj_queue_depth",
			Help: "Pending+claimed item count per named queue.",
		}, []string{"name"}),
	}

	reg.MustRegister(t.WALOperations, t.EffectsTotal, t.SchedulerQueued, t.QueueDepth)
	return t
}

// StartSpan starts a span named for the given operation; callers must call
// the returned end function.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Shutdown flushes the tracer provider. Nothing in the tree calls it; it is
// not registered with a lifecycle.Group.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracerProvider.Shutdown(ctx)
}

// SetGlobal installs this tracer provider as the process-global one, for
// code paths that pull a tracer via otel.Tracer(...) instead of holding a
// reference to this Telemetry value.
func (t *Telemetry) SetGlobal() {
	otel.SetTracerProvider(t.tracerProvider)
}
