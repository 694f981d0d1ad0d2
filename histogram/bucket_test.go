package histogram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/bitmap"
	"github.com/vkalintiris/journal-go/cursor"
	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/objfile"
)

func TestSelectBucketDurationPicksLargestQualifying(t *testing.T) {
	require.Equal(t, int64(1), SelectBucketDuration(0, 50))
	require.Equal(t, int64(10), SelectBucketDuration(0, 1000))
	require.Equal(t, int64(1), SelectBucketDuration(10, 10))
}

func TestAlignedBoundariesAreMultiplesOfDuration(t *testing.T) {
	b := AlignedBoundaries(5, 35, 10)
	require.Equal(t, []int64{0, 10, 20, 30}, b)
}

func TestIndexRangeForTimeBinarySearch(t *testing.T) {
	hist := []indexer.HistogramBucket{
		{BucketSecond: 0, LastEntryIdx: 2},
		{BucketSecond: 10, LastEntryIdx: 5},
		{BucketSecond: 30, LastEntryIdx: 9},
	}
	lo, hi := indexRangeForTime(hist, 10, 30)
	require.Equal(t, uint32(3), lo)
	require.Equal(t, uint32(6), hi)
}

func TestApplyFileIndexIgnoresNonPendingFile(t *testing.T) {
	s := newBucketState(BucketRequest{Start: 0, End: 100}, []string{"a"})
	fi := &indexer.FileIndex{BucketDuration: 1}
	s.applyFileIndex("b", fi, 1)
	require.Contains(t, s.pending, "a")
}

func TestApplyFileIndexSkipsCoarserIndex(t *testing.T) {
	s := newBucketState(BucketRequest{Start: 0, End: 100}, []string{"a"})
	fi := &indexer.FileIndex{BucketDuration: 10}
	s.applyFileIndex("a", fi, 1)
	require.Contains(t, s.pending, "a")
}

func TestApplyFileIndexPromotesAndCountsWithFilter(t *testing.T) {
	prio6 := objfile.MustFieldValuePair("PRIORITY", "6")
	prio3 := objfile.MustFieldValuePair("PRIORITY", "3")

	bm6, err := bitmap.FromSortedIter([]uint32{0, 2}, 3)
	require.NoError(t, err)
	bm3, err := bitmap.FromSortedIter([]uint32{1}, 3)
	require.NoError(t, err)

	fi := &indexer.FileIndex{
		BucketDuration: 1,
		Histogram: []indexer.HistogramBucket{
			{BucketSecond: 0, LastEntryIdx: 0},
			{BucketSecond: 1, LastEntryIdx: 1},
			{BucketSecond: 2, LastEntryIdx: 2},
		},
		Bitmaps: map[objfile.FieldValuePair]bitmap.Bitmap{prio6: bm6, prio3: bm3},
	}

	s := newBucketState(BucketRequest{
		Start:  0,
		End:    3,
		Filter: cursor.MatchValue(prio6),
	}, []string{"f"})
	s.applyFileIndex("f", fi, 1)

	require.True(t, s.isComplete())
	require.Equal(t, uint64(2), s.fvCounts[prio6].Unfiltered)
	require.Equal(t, uint64(2), s.fvCounts[prio6].Filtered)
	require.Equal(t, uint64(1), s.fvCounts[prio3].Unfiltered)
	require.Equal(t, uint64(0), s.fvCounts[prio3].Filtered)
}

func TestReapplyingSameFileIsNoOp(t *testing.T) {
	prio6 := objfile.MustFieldValuePair("PRIORITY", "6")
	bm6, err := bitmap.FromSortedIter([]uint32{0}, 1)
	require.NoError(t, err)
	fi := &indexer.FileIndex{
		BucketDuration: 1,
		Histogram:      []indexer.HistogramBucket{{BucketSecond: 0, LastEntryIdx: 0}},
		Bitmaps:        map[objfile.FieldValuePair]bitmap.Bitmap{prio6: bm6},
	}
	s := newBucketState(BucketRequest{Start: 0, End: 1}, []string{"f"})
	s.applyFileIndex("f", fi, 1)
	before := s.fvCounts[prio6]
	s.applyFileIndex("f", fi, 1) // file no longer pending: no-op
	require.Equal(t, before, s.fvCounts[prio6])
}
