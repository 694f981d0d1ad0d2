// Package telemetry initializes an OTel SDK meter provider that
// mirrors package metrics' operational instruments, except the
// cache-results counter, which has no OTel counterpart here, so a
// surrounding binary can choose Prometheus scraping, OTLP push, or
// both. It carries no tracing and no OTel->LogRecord mapping: that
// bridge is implemented by callers against otelbridge, not here.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Point is one already-aggregated metric observation, the unit
// otelbridge.MetricExporter hands to a collector.
type Point struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// Instruments holds the meter instruments mirrored from package
// metrics. Counters are monotonic; queueDepth is an async gauge fed
// by a callback the caller registers via RegisterQueueDepthCallback.
type Instruments struct {
	meter metric.Meter

	EnqueueDrops       metric.Int64Counter
	Rotations          metric.Int64Counter
	RetentionDeletions metric.Int64Counter
	HistogramComplete  metric.Int64Counter
	IndexDuration      metric.Float64Histogram
	queueDepth         metric.Int64ObservableGauge
}

// NewInstruments builds the meter provider, using reader as its
// exporter-backed metric reader (an OTLP periodic reader, a
// Prometheus bridge reader, or a manual reader in tests). Callers own
// reader's lifecycle and shutdown.
func NewInstruments(reader sdkmetric.Reader) (*Instruments, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("journal-go")

	enqueueDrops, err := meter.Int64Counter("journal.indexing.enqueue_drops",
		metric.WithDescription("Indexing requests dropped because the queue was full."))
	if err != nil {
		return nil, err
	}
	rotations, err := meter.Int64Counter("journal.rotations",
		metric.WithDescription("Log file rotations performed."))
	if err != nil {
		return nil, err
	}
	retentionDeletions, err := meter.Int64Counter("journal.retention.deletions",
		metric.WithDescription("Files deleted by retention."))
	if err != nil {
		return nil, err
	}
	histogramComplete, err := meter.Int64Counter("journal.histogram.buckets_complete",
		metric.WithDescription("Histogram buckets that reached the Complete state."))
	if err != nil {
		return nil, err
	}
	indexDuration, err := meter.Float64Histogram("journal.indexing.duration",
		metric.WithDescription("Time to build a single file's index."), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64ObservableGauge("journal.indexing.queue_depth",
		metric.WithDescription("Number of indexing requests currently queued."))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		meter:              meter,
		EnqueueDrops:       enqueueDrops,
		Rotations:          rotations,
		RetentionDeletions: retentionDeletions,
		HistogramComplete:  histogramComplete,
		IndexDuration:      indexDuration,
		queueDepth:         queueDepth,
	}, nil
}

// RegisterQueueDepthCallback wires depthFn as the observable gauge's
// reader callback, invoked on every collection pass.
func (in *Instruments) RegisterQueueDepthCallback(depthFn func() int64) error {
	_, err := in.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(in.queueDepth, depthFn())
		return nil
	}, in.queueDepth)
	return err
}
