package indexing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/window"
)

func writeFixture(t *testing.T, path string) {
	t.Helper()
	opts := objfile.DefaultCreateOptions()
	opts.Window = window.Config{MinWindow: 4096}
	w, err := objfile.Create(path, opts)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.AddEntry([]objfile.FieldValue{
		{Field: "MESSAGE", Value: "hello"},
		{Field: "PRIORITY", Value: "6"},
	}, 1000, 1000, [16]byte{})
	require.NoError(t, err)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	svc, err := New(ctx, Config{
		ChannelCapacity:  4,
		Workers:          2,
		AgeDropWindow:    time.Minute,
		MemoryCapacityMB: 1,
		DiskBlockPath:    filepath.Join(dir, "blocks"),
		Window:           window.Config{MinWindow: 4096},
	})
	require.NoError(t, err)
	svc.Start(ctx)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestEnqueueAndIndexPopulatesCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.journal")
	writeFixture(t, path)

	svc := newTestService(t)
	facets := []objfile.FieldName{"PRIORITY"}
	require.True(t, svc.TryEnqueue(Request{Path: path, Facets: facets, BucketDurationSeconds: 1}))

	require.Eventually(t, func() bool {
		_, ok, err := svc.Lookup(context.Background(), path, facets, 1)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTryEnqueueDropsWhenFull(t *testing.T) {
	svc := &Service{queue: make(chan Request)} // unbuffered, no workers draining
	require.False(t, svc.TryEnqueue(Request{Path: "x"}))
}

func TestFingerprintFacetsIsOrderSensitive(t *testing.T) {
	a := fingerprintFacets([]objfile.FieldName{"A", "B"})
	b := fingerprintFacets([]objfile.FieldName{"B", "A"})
	require.NotEqual(t, a, b)
}
