// Package histogram implements the query-facing histogram service: it
// turns a time range, facet set, and filter into a sequence of bucket
// responses, driving the indexing service's cache and promoting
// buckets from Partial to Complete as their pending files resolve.
package histogram

import (
	"sort"

	"github.com/vkalintiris/journal-go/bitmap"
	"github.com/vkalintiris/journal-go/cursor"
	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/objfile"
)

// candidateDurations is the fixed table of bucket-width candidates, in
// seconds, from spec.md §4.9.
var candidateDurations = []int64{
	1, 2, 5, 10, 15, 30,
	60, 120, 180, 300, 600, 900, 1800,
	3600, 7200, 21600, 28800, 43200,
	86400, 172800, 259200, 432000, 604800, 1209600, 2592000,
}

// minBucketsTarget is the minimum number of buckets a selected
// duration must produce over the requested range.
const minBucketsTarget = 100

// SelectBucketDuration picks the largest candidate duration D such
// that (before-after)/D >= minBucketsTarget, defaulting to 1s if none
// qualify.
func SelectBucketDuration(afterSecs, beforeSecs uint64) int64 {
	span := int64(beforeSecs) - int64(afterSecs)
	if span <= 0 {
		return 1
	}
	best := int64(1)
	for _, d := range candidateDurations {
		if span/d >= minBucketsTarget {
			best = d
		}
	}
	return best
}

// AlignedBoundaries returns the ascending bucket start times covering
// [after, before), each a multiple of duration.
func AlignedBoundaries(afterSecs, beforeSecs uint64, duration int64) []int64 {
	start := (int64(afterSecs) / duration) * duration
	var out []int64
	for b := start; b < int64(beforeSecs); b += duration {
		out = append(out, b)
	}
	return out
}

// Counts is the (unfiltered, filtered) pair tracked per field=value.
type Counts struct {
	Unfiltered uint64
	Filtered   uint64
}

// BucketRequest identifies one histogram bucket's query parameters.
type BucketRequest struct {
	Start, End int64
	Facets     []objfile.FieldName
	Filter     cursor.Filter
}

// BucketResponse is the externally visible bucket result: §6's
// is_partial/is_complete/indexed_fields/unindexed_fields/fv_counts.
type BucketResponse struct {
	partial bool

	fvCounts        map[objfile.FieldValuePair]Counts
	indexedFields   map[objfile.FieldName]struct{}
	unindexedFields map[objfile.FieldName]struct{}
}

func (r *BucketResponse) IsPartial() bool  { return r.partial }
func (r *BucketResponse) IsComplete() bool { return !r.partial }

func (r *BucketResponse) IndexedFields() []objfile.FieldName {
	return fieldSetToSlice(r.indexedFields)
}

func (r *BucketResponse) UnindexedFields() []objfile.FieldName {
	return fieldSetToSlice(r.unindexedFields)
}

func (r *BucketResponse) FVCounts() map[objfile.FieldValuePair]Counts {
	return r.fvCounts
}

func fieldSetToSlice(m map[objfile.FieldName]struct{}) []objfile.FieldName {
	out := make([]objfile.FieldName, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// bucketState is the mutable internal record backing a BucketResponse,
// the Partial/Complete state machine of spec.md §4.9.
type bucketState struct {
	req BucketRequest

	pending map[string]struct{} // file identities (paths) not yet applied

	fvCounts        map[objfile.FieldValuePair]Counts
	indexedFields   map[objfile.FieldName]struct{}
	unindexedFields map[objfile.FieldName]struct{}
}

func newBucketState(req BucketRequest, pendingFiles []string) *bucketState {
	pending := make(map[string]struct{}, len(pendingFiles))
	for _, f := range pendingFiles {
		pending[f] = struct{}{}
	}
	return &bucketState{
		req:             req,
		pending:         pending,
		fvCounts:        make(map[objfile.FieldValuePair]Counts),
		indexedFields:   make(map[objfile.FieldName]struct{}),
		unindexedFields: make(map[objfile.FieldName]struct{}),
	}
}

func (s *bucketState) isComplete() bool { return len(s.pending) == 0 }

func (s *bucketState) response() *BucketResponse {
	return &BucketResponse{
		partial:         !s.isComplete(),
		fvCounts:        s.fvCounts,
		indexedFields:   s.indexedFields,
		unindexedFields: s.unindexedFields,
	}
}

// applyFileIndex is the four-step update rule of spec.md §4.9. It is a
// no-op (and leaves the file pending) if fi's bucket duration is
// coarser than the bucket's own requested duration, and a true no-op
// if the file is not in the pending set (reapplication safety).
func (s *bucketState) applyFileIndex(fileIdentity string, fi *indexer.FileIndex, duration int64) {
	if _, pending := s.pending[fileIdentity]; !pending {
		return
	}
	if fi.BucketDuration > duration {
		return
	}
	delete(s.pending, fileIdentity)

	for f := range fi.UnindexedFields {
		s.unindexedFields[f] = struct{}{}
	}
	for f := range fi.Fields {
		if _, already := fi.UnindexedFields[f]; !already {
			s.indexedFields[f] = struct{}{}
		}
	}

	lo, hi := indexRangeForTime(fi.Histogram, s.req.Start, s.req.End)

	var filterBitmap bitmap.Bitmap
	hasFilter := false
	if s.req.Filter.Kind != cursor.FilterNone {
		if bm, ok := s.req.Filter.Resolve(fi); ok {
			filterBitmap = bm
			hasFilter = true
		}
	}

	for pair, bm := range fi.Bitmaps {
		c := s.fvCounts[pair]
		c.Unfiltered += uint64(bm.RangeCardinality(lo, hi))
		if hasFilter {
			c.Filtered += uint64(bitmap.And(bm, filterBitmap).RangeCardinality(lo, hi))
		} else {
			c.Filtered = c.Unfiltered
		}
		s.fvCounts[pair] = c
	}
}

// indexRangeForTime maps a [startSec, endSec) query window onto the
// file's dense entry-index domain using its sparse histogram, via
// binary search on the (ascending) bucket_second column.
func indexRangeForTime(hist []indexer.HistogramBucket, startSec, endSec int64) (lo, hi uint32) {
	loBucket := sort.Search(len(hist), func(i int) bool { return hist[i].BucketSecond >= startSec })
	if loBucket > 0 {
		lo = uint32(hist[loBucket-1].LastEntryIdx + 1)
	}
	hiBucket := sort.Search(len(hist), func(i int) bool { return hist[i].BucketSecond >= endSec })
	if hiBucket > 0 {
		hi = uint32(hist[hiBucket-1].LastEntryIdx + 1)
	}
	return lo, hi
}
