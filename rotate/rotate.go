// Package rotate implements the log writer wrapper: it holds the
// current writer, checks rotation triggers before every append, and
// on rotation closes the current file, renames it to its archived
// name, and opens a successor whose hash tables are re-sized from the
// closed file's bucket utilization.
package rotate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/google/uuid"

	"github.com/vkalintiris/journal-go/journalerr"
	"github.com/vkalintiris/journal-go/metrics"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/registry"
	"github.com/vkalintiris/journal-go/retention"
	"github.com/vkalintiris/journal-go/telemetry"
)

var log = logging.Logger("rotate")

// Policy is the set of rotation triggers from spec.md §4.3, checked
// in size > count > span priority order.
type Policy struct {
	MaxSizeBytes  int64
	MaxEntries    uint64
	MaxSpanMicros uint64 // compared against (tail_monotonic - head_monotonic)
}

// sizeThresholds control hash-table resizing on rotation: double above
// highWatermark, halve below lowWatermark (never below minBuckets).
const (
	highWatermark = 0.75
	lowWatermark  = 0.25
	minBuckets    = 64
)

// Writer wraps an objfile.Writer, rotating it into a new file when a
// Policy trigger fires and invoking retention afterward.
type Writer struct {
	dir    string
	prefix string // e.g. "system", "user-1000"

	policy   Policy
	opts     objfile.CreateOptions
	seqnumID [16]byte

	cur     *objfile.Writer
	chain   *retention.Chain
	nowFunc func() time.Time
	otel    *telemetry.Instruments
}

// SetInstruments wires optional OTel SDK instrumentation alongside
// the ambient Prometheus rotation counter.
func (w *Writer) SetInstruments(in *telemetry.Instruments) { w.otel = in }

// Open creates a fresh active file and writer for (dir, prefix) and
// wires it to chain for post-rotation retention. An existing active
// file is not re-opened: Open fails with InvariantViolated instead.
func Open(dir, prefix string, policy Policy, opts objfile.CreateOptions, chain *retention.Chain) (*Writer, error) {
	w := &Writer{
		dir: dir, prefix: prefix, policy: policy, opts: opts,
		seqnumID: opts.SeqnumID, chain: chain, nowFunc: time.Now,
	}
	activePath := filepath.Join(dir, registry.ActiveName(prefix))
	if _, err := os.Stat(activePath); err == nil {
		return nil, journalerr.New(journalerr.InvariantViolated, "rotate.Open", activePath, fmt.Errorf("active file already exists"))
	}
	cw, err := objfile.Create(activePath, opts)
	if err != nil {
		return nil, err
	}
	w.cur = cw

	if chain != nil {
		if err := chain.Retain(); err != nil {
			log.Warnw("retention failed on startup", "dir", dir, "err", err)
		}
	}
	return w, nil
}

// AddEntry appends one entry, rotating first if a trigger fires.
func (w *Writer) AddEntry(items []objfile.FieldValue, realtime, monotonic uint64, bootID [16]byte) (uint64, error) {
	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return w.cur.AddEntry(items, realtime, monotonic, bootID)
}

func (w *Writer) shouldRotate() bool {
	if w.cur.EntryCount() == 0 {
		return false
	}
	if w.policy.MaxSizeBytes > 0 {
		if size, err := w.cur.Size(); err == nil && size >= w.policy.MaxSizeBytes {
			return true
		}
	}
	if w.policy.MaxEntries > 0 && w.cur.EntryCount() >= w.policy.MaxEntries {
		return true
	}
	if w.policy.MaxSpanMicros > 0 && w.cur.TailMonotonic()-w.cur.HeadMonotonic() >= w.policy.MaxSpanMicros {
		return true
	}
	return false
}

// rotate flushes and closes the current file, renames it to its
// archived name, creates a successor with re-sized hash tables, and
// runs retention.
func (w *Writer) rotate() error {
	dataUtil, fieldUtil, err := w.cur.BucketUtilization()
	if err != nil {
		return err
	}
	closedHeader := w.cur.Header()
	tailSeqnum := closedHeader.TailSeqnum
	if err := w.cur.Close(); err != nil {
		return err
	}

	activePath := filepath.Join(w.dir, registry.ActiveName(w.prefix))
	archivedPath := filepath.Join(w.dir, registry.ArchivedName(w.prefix, uuid.UUID(w.seqnumID), closedHeader.HeadSeqnum, closedHeader.HeadRealtime))
	if err := os.Rename(activePath, archivedPath); err != nil {
		return journalerr.Wrap(journalerr.Io, "rotate.rotate", err)
	}
	if w.chain != nil {
		w.chain.Add(archivedPath)
	}

	nextOpts := w.opts
	nextOpts.DataHashBuckets = resizeBuckets(nextOpts.DataHashBuckets, dataUtil)
	nextOpts.FieldHashBuckets = resizeBuckets(nextOpts.FieldHashBuckets, fieldUtil)
	nextOpts.StartSeqnum = tailSeqnum

	cw, err := objfile.Create(activePath, nextOpts)
	if err != nil {
		return err
	}
	w.cur = cw
	w.opts = nextOpts
	metrics.RotationsTotal.WithLabelValues(w.prefix).Inc()
	if w.otel != nil {
		w.otel.Rotations.Add(context.Background(), 1)
	}

	if w.chain != nil {
		if err := w.chain.Retain(); err != nil {
			log.Warnw("retention failed after rotation", "dir", w.dir, "err", err)
		}
	}
	return nil
}

func resizeBuckets(current uint64, util float64) uint64 {
	switch {
	case util > highWatermark:
		return current * 2
	case util < lowWatermark && current > minBuckets:
		n := current / 2
		if n < minBuckets {
			n = minBuckets
		}
		return n
	default:
		return current
	}
}

// Close closes the current writer without rotating.
func (w *Writer) Close() error { return w.cur.Close() }

// Current exposes the active writer, e.g. for Size()/EntryCount()
// introspection by callers.
func (w *Writer) Current() *objfile.Writer { return w.cur }
