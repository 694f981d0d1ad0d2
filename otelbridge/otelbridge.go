// Package otelbridge defines the narrow interfaces an external OTel
// log-record-to-journal-entry mapping bridge is expected to satisfy
// against this repository. It contains no implementation: mapping an
// OTel LogRecord onto journal-go's field model is a surrounding
// binary's concern, not this core's.
package otelbridge

import (
	"context"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/telemetry"
)

// EntryWriter appends one already-mapped log record's fields to the
// currently open journal file, in writer field order.
type EntryWriter interface {
	WriteEntry(ctx context.Context, items []objfile.FieldValue, realtime, monotonic uint64, bootID [16]byte) error
}

// MetricExporter hands already-aggregated metric points to a
// collector. journal-go never produces OTel metric points for log
// content itself; it emits Prometheus counters/gauges (package
// metrics) and OTel SDK metrics (package telemetry) describing its
// own operation only.
type MetricExporter interface {
	Export(ctx context.Context, points []telemetry.Point) error
}
