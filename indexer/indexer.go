// Package indexer builds a per-file FileIndex: a time-bucketed
// histogram and field=value inverted bitmaps, from an open
// objfile.ObjectFile.
package indexer

import (
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/vkalintiris/journal-go/bitmap"
	"github.com/vkalintiris/journal-go/objfile"
)

var log = logging.Logger("indexer")

// HistogramBucket pairs a bucket's start second with the dense index
// (within the file's entry list) of the last entry belonging to it.
type HistogramBucket struct {
	BucketSecond  int64
	LastEntryIdx  int
}

// FileIndex is the complete per-file index produced by Index.
type FileIndex struct {
	BucketDuration  int64
	Histogram       []HistogramBucket
	Bitmaps         map[objfile.FieldValuePair]bitmap.Bitmap
	Fields          map[objfile.FieldName]struct{}
	UnindexedFields map[objfile.FieldName]struct{}
	NEntries        int
	IndexedAt       int64
}

// Options configures one Index run.
type Options struct {
	// SourceTimestampField, if non-empty, names a facet field whose
	// value (parsed as a decimal microsecond timestamp) is used for
	// bucket assignment instead of the entry's realtime.
	SourceTimestampField objfile.FieldName
	Facets                []objfile.FieldName
	BucketDurationSeconds int64
	CardinalityCap        int
	Now                   func() time.Time
}

// scratch holds reusable buffers for one worker goroutine's indexing
// calls; pooling it is a pure optimization, per the ambient note that
// thread-local scratch buffers are equivalent to per-call allocation.
type scratch struct {
	entryOffsets []uint64
	timestamps   []uint64
}

var scratchPool = sync.Pool{New: func() any { return &scratch{} }}

// Index builds a FileIndex for of using opts.
func Index(of *objfile.ObjectFile, opts Options) (*FileIndex, error) {
	s := scratchPool.Get().(*scratch)
	defer func() {
		s.entryOffsets = s.entryOffsets[:0]
		s.timestamps = s.timestamps[:0]
		scratchPool.Put(s)
	}()

	cur, err := of.EntryList()
	if err != nil {
		return nil, err
	}
	offsets, err := cur.Collect()
	if err != nil {
		return nil, err
	}
	s.entryOffsets = append(s.entryOffsets[:0], offsets...)
	n := len(s.entryOffsets)

	fi := &FileIndex{
		BucketDuration:  opts.BucketDurationSeconds,
		Bitmaps:         make(map[objfile.FieldValuePair]bitmap.Bitmap),
		Fields:          make(map[objfile.FieldName]struct{}),
		UnindexedFields: make(map[objfile.FieldName]struct{}),
		NEntries:        n,
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	fi.IndexedAt = now().Unix()

	s.timestamps = make([]uint64, n)
	for i, off := range s.entryOffsets {
		e, err := of.EntryRef(off)
		if err != nil {
			log.Warnw("skipping corrupt entry", "offset", off, "err", err)
			continue
		}
		ts := e.Realtime
		if opts.SourceTimestampField != "" {
			if v, ok := sourceTimestamp(of, e, opts.SourceTimestampField); ok {
				ts = v
			}
		}
		s.timestamps[i] = ts
	}

	fi.Histogram = buildHistogram(s.timestamps, opts.BucketDurationSeconds)

	cap := opts.CardinalityCap
	if cap <= 0 {
		cap = 10000
	}

	seenFields := make(map[objfile.FieldName]struct{})
	for _, facet := range opts.Facets {
		dataOffsets, err := of.FieldDataObjects(facet)
		if err != nil {
			log.Warnw("facet field lookup failed", "field", facet, "err", err)
			continue
		}
		if len(dataOffsets) == 0 {
			continue
		}
		seenFields[facet] = struct{}{}
		valuesIndexed := 0
		for _, dOff := range dataOffsets {
			d, err := of.DataRef(dOff)
			if err != nil {
				log.Warnw("skipping corrupt data object", "offset", dOff, "err", err)
				continue
			}
			pair, ok := objfile.NewFieldValuePair(string(d.Payload))
			if !ok {
				continue
			}
			if valuesIndexed >= cap {
				fi.UnindexedFields[facet] = struct{}{}
				continue
			}
			ac, err := of.NewArrayCursor(d.EntryArrayOff)
			if err != nil {
				log.Warnw("skipping corrupt offset array", "offset", d.EntryArrayOff, "err", err)
				continue
			}
			od, err := ac.Collect()
			if err != nil {
				log.Warnw("skipping corrupt offset array", "offset", d.EntryArrayOff, "err", err)
				continue
			}
			indices := mergeWalk(s.entryOffsets, od)
			bm, err := bitmap.FromSortedIter(toUint32(indices), uint32(n))
			if err != nil {
				log.Warnw("bitmap build failed", "field", facet, "err", err)
				continue
			}
			fi.Bitmaps[pair] = bm
			valuesIndexed++
		}
	}

	// Field set includes every field name enumerated from the field
	// hash table, not only facets that produced bitmaps.
	allFields, err := enumerateFields(of)
	if err == nil {
		for _, f := range allFields {
			seenFields[f] = struct{}{}
		}
	}
	fi.Fields = seenFields

	return fi, nil
}

// sourceTimestamp looks up a decimal-encoded timestamp from one of the
// entry's own data items matching field, falling back to false if
// absent or unparsable (callers then use the entry's realtime).
func sourceTimestamp(of *objfile.ObjectFile, e objfile.EntryObject, field objfile.FieldName) (uint64, bool) {
	for _, it := range e.Items {
		d, err := of.DataRef(it.DataOffset)
		if err != nil {
			continue
		}
		pair, ok := objfile.NewFieldValuePair(string(d.Payload))
		if !ok || pair.Field() != field {
			continue
		}
		v, ok := parseUint(pair.Value())
		if ok {
			return v, true
		}
	}
	return 0, false
}

func parseUint(s string) (uint64, bool) {
	var v uint64
	if len(s) == 0 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}

// buildHistogram produces the sparse (bucket_second, last_entry_index)
// vector per spec.md §4.4 step 2: bucket membership floors to the
// bucket's lower boundary.
func buildHistogram(timestamps []uint64, bucketSeconds int64) []HistogramBucket {
	if len(timestamps) == 0 || bucketSeconds <= 0 {
		return nil
	}
	bucketMicros := bucketSeconds * 1_000_000
	var out []HistogramBucket
	var curBucket int64 = -1
	for i, ts := range timestamps {
		b := (int64(ts) / bucketMicros) * bucketSeconds
		if i == 0 {
			curBucket = b
			continue
		}
		if b != curBucket {
			out = append(out, HistogramBucket{BucketSecond: curBucket, LastEntryIdx: i - 1})
			curBucket = b
		}
	}
	out = append(out, HistogramBucket{BucketSecond: curBucket, LastEntryIdx: len(timestamps) - 1})
	return out
}

// mergeWalk computes { i : entryOffsets[i] in dataEntryOffsets },
// running in O(|entryOffsets|+|dataEntryOffsets|) since both are
// ascending by construction (entry list order and offset-array append
// order both follow arena append order, which is realtime-ascending).
func mergeWalk(entryOffsets []uint64, dataEntryOffsets []uint64) []int {
	var out []int
	i, j := 0, 0
	for i < len(entryOffsets) && j < len(dataEntryOffsets) {
		switch {
		case entryOffsets[i] == dataEntryOffsets[j]:
			out = append(out, i)
			i++
			j++
		case entryOffsets[i] < dataEntryOffsets[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func toUint32(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// enumerateFields lists every field name reachable from the field
// hash table, regardless of facet selection.
func enumerateFields(of *objfile.ObjectFile) ([]objfile.FieldName, error) {
	out, err := of.AllFields()
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
