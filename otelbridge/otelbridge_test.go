package otelbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/telemetry"
)

type fakeEntryWriter struct {
	writes int
}

func (f *fakeEntryWriter) WriteEntry(ctx context.Context, items []objfile.FieldValue, realtime, monotonic uint64, bootID [16]byte) error {
	f.writes++
	return nil
}

type fakeMetricExporter struct {
	exported []telemetry.Point
}

func (f *fakeMetricExporter) Export(ctx context.Context, points []telemetry.Point) error {
	f.exported = append(f.exported, points...)
	return nil
}

func TestFakesSatisfyInterfaces(t *testing.T) {
	var w EntryWriter = &fakeEntryWriter{}
	var e MetricExporter = &fakeMetricExporter{}

	require.NoError(t, w.WriteEntry(context.Background(), []objfile.FieldValue{{Field: "MESSAGE", Value: "hi"}}, 1, 1, [16]byte{}))
	require.NoError(t, e.Export(context.Background(), []telemetry.Point{{Name: "x", Value: 1}}))

	require.Equal(t, 1, w.(*fakeEntryWriter).writes)
	require.Len(t, e.(*fakeMetricExporter).exported, 1)
}
