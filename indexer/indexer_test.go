package indexer

import (
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

	entries := []struct {
		realtime uint64
		message  string
		priority string
	}{
		{1000, "hello", "6"},
		{2000, "world", "3"},
		{3000, "!", "6"},
	}
	for _, e := range entries {
		_, err := w.AddEntry([]objfile.FieldValue{
			{Field: "MESSAGE", Value: e.message},
			{Field: "PRIORITY", Value: e.priority},
		}, e.realtime, e.realtime, [16]byte{})
		require.NoError(t, err)
	}
}

func TestIndexBuildsPriorityBitmaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.journal")
	writeFixture(t, path)

	of, err := objfile.Open(path, window.Config{MinWindow: 4096})
	require.NoError(t, err)
	defer of.Close()

	fi, err := Index(of, Options{
		Facets:                []objfile.FieldName{"PRIORITY", "MESSAGE"},
		BucketDurationSeconds: 1,
		Now:                   func() time.Time { return time.Unix(1000, 0) },
	})
	require.NoError(t, err)
	require.Equal(t, 3, fi.NEntries)

	prio6 := objfile.MustFieldValuePair("PRIORITY", "6")
	prio3 := objfile.MustFieldValuePair("PRIORITY", "3")
	require.Equal(t, []uint32{0, 2}, fi.Bitmaps[prio6].Iter())
	require.Equal(t, []uint32{1}, fi.Bitmaps[prio3].Iter())
}

func TestHistogramBucketsOneEntryPerBucket(t *testing.T) {
	// 10 entries uniformly spanning 100s, bucket_duration=10s.
	timestamps := make([]uint64, 10)
	for i := range timestamps {
		timestamps[i] = uint64(i*10) * 1_000_000
	}
	buckets := buildHistogram(timestamps, 10)
	require.Len(t, buckets, 10)
	for i, b := range buckets {
		require.Equal(t, int64(i*10), b.BucketSecond)
		require.Equal(t, i, b.LastEntryIdx)
	}
}

func TestHistogramEmptyFile(t *testing.T) {
	require.Nil(t, buildHistogram(nil, 10))
}

func TestHistogramSingleEntry(t *testing.T) {
	buckets := buildHistogram([]uint64{5_000_000}, 10)
	require.Len(t, buckets, 1)
	require.Equal(t, 0, buckets[0].LastEntryIdx)
}

func TestMergeWalkLinear(t *testing.T) {
	entries := []uint64{10, 20, 30, 40, 50}
	data := []uint64{20, 40}
	got := mergeWalk(entries, data)
	require.Equal(t, []int{1, 3}, got)
}
