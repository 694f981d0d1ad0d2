package cursor

import (
	"fmt"

	"github.com/vkalintiris/journal-go/bitmap"
	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/journalerr"
	"github.com/vkalintiris/journal-go/objfile"
)

// Direction is the step direction.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// LocationKind discriminates a cursor Location.
type LocationKind int

const (
	LocHead LocationKind = iota
	LocTail
	LocRealtime
	LocMonotonic
	LocSeqnum
	LocXorHash
	LocEntry         // unverified offset
	LocResolvedEntry // verified offset, paired with a position in the entry list
)

// Location is the tagged cursor-position type.
type Location struct {
	Kind      LocationKind
	Realtime  uint64
	Monotonic uint64
	BootID    [16]byte
	Seqnum    uint64
	StreamID  *[16]byte
	XorHash   uint64
	Offset    uint64
}

// Cursor drives ordered, optionally filtered entry iteration over one
// open journal file.
type Cursor struct {
	of       *objfile.ObjectFile
	fi       *indexer.FileIndex // optional: required only when a Filter is set
	loc      Location
	filter   Filter
	resolved bitmap.Bitmap
	filtered bool

	// entryOffsets is the dense, materialized entry-list cache used
	// both for partition-point search and for filtered index->offset
	// mapping. Built lazily on first use.
	entryOffsets []uint64
	// pos is the resolved entry's index into entryOffsets, valid only
	// when loc.Kind == LocResolvedEntry.
	pos int
}

// New creates a Cursor over of, initially at LocHead with no filter.
func New(of *objfile.ObjectFile) *Cursor {
	return &Cursor{of: of, loc: Location{Kind: LocHead}, pos: -1}
}

// SetLocation repositions the cursor and clears any cached inner
// position.
func (c *Cursor) SetLocation(loc Location) {
	c.loc = loc
	c.pos = -1
}

// SetFilter installs a filter, resolved against fi's bitmap table.
// Passing cursor.None clears filtering.
func (c *Cursor) SetFilter(f Filter, fi *indexer.FileIndex) {
	c.filter = f
	c.fi = fi
	if fi == nil {
		c.filtered = false
		return
	}
	bm, ok := f.Resolve(fi)
	c.resolved = bm
	c.filtered = ok
	c.pos = -1
}

func (c *Cursor) ensureOffsets() error {
	if c.entryOffsets != nil {
		return nil
	}
	list, err := c.of.EntryList()
	if err != nil {
		return err
	}
	offsets, err := list.Collect()
	if err != nil {
		return err
	}
	c.entryOffsets = offsets
	return nil
}

// isSet reports whether idx (an entry-list position) passes the
// current filter, when one is active.
func (c *Cursor) isSet(idx int) bool {
	if !c.filtered {
		return true
	}
	return c.resolved.Contains(uint32(idx))
}

// nextSetFrom finds the smallest index >= from (dir==Forward) or the
// largest index <= from (dir==Backward) that passes the filter.
func (c *Cursor) nextSetFrom(from int, dir Direction) (int, bool) {
	n := len(c.entryOffsets)
	if dir == Forward {
		for i := from; i < n; i++ {
			if c.isSet(i) {
				return i, true
			}
		}
		return 0, false
	}
	for i := from; i >= 0; i-- {
		if c.isSet(i) {
			return i, true
		}
	}
	return 0, false
}

// Step advances the cursor by one entry in dir, resolving the current
// Location to a ResolvedEntry on the way if needed. It returns false
// when there is no next entry.
func (c *Cursor) Step(dir Direction) (bool, error) {
	if err := c.ensureOffsets(); err != nil {
		return false, err
	}
	n := len(c.entryOffsets)
	if n == 0 {
		return false, nil
	}

	switch c.loc.Kind {
	case LocHead:
		if dir == Backward {
			return false, nil
		}
		idx, ok := c.nextSetFrom(0, Forward)
		return c.resolveTo(idx, ok)
	case LocTail:
		if dir == Forward {
			return false, nil
		}
		idx, ok := c.nextSetFrom(n-1, Backward)
		return c.resolveTo(idx, ok)
	case LocRealtime:
		idx, err := c.partitionOnRealtime(c.loc.Realtime)
		if err != nil {
			return false, err
		}
		ok := idx >= 0 && idx < n
		var startIdx int
		if dir == Forward {
			startIdx = idx
		} else {
			startIdx = idx - 1
		}
		if startIdx < 0 || startIdx >= n {
			return false, nil
		}
		found, ok2 := c.nextSetFrom(startIdx, dir)
		_ = ok
		return c.resolveTo(found, ok2)
	case LocResolvedEntry:
		var next int
		if dir == Forward {
			next = c.pos + 1
		} else {
			next = c.pos - 1
		}
		if next < 0 || next >= n {
			return false, nil
		}
		idx, ok := c.nextSetFrom(next, dir)
		return c.resolveTo(idx, ok)
	default:
		return false, journalerr.New(journalerr.InvariantViolated, "cursor.Step", "", fmt.Errorf("unsupported location kind for Step: %d", c.loc.Kind))
	}
}

func (c *Cursor) resolveTo(idx int, ok bool) (bool, error) {
	if !ok {
		return false, nil
	}
	c.pos = idx
	c.loc = Location{Kind: LocResolvedEntry, Offset: c.entryOffsets[idx]}
	return true, nil
}

// partitionOnRealtime returns the index of the first entry with
// realtime >= t. Step derives the Backward landing index from this
// same partition point (startIdx = idx-1), so dir does not change the
// comparison here.
func (c *Cursor) partitionOnRealtime(t uint64) (int, error) {
	n := len(c.entryOffsets)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := c.of.EntryRef(c.entryOffsets[mid])
		if err != nil {
			return 0, err
		}
		if e.Realtime >= t {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// Position returns the current resolved entry offset. It fails with
// UnsetCursor outside Entry/ResolvedEntry locations.
func (c *Cursor) Position() (uint64, error) {
	if c.loc.Kind != LocResolvedEntry && c.loc.Kind != LocEntry {
		return 0, journalerr.New(journalerr.UnsetCursor, "cursor.Position", "", fmt.Errorf("cursor not positioned on an entry"))
	}
	return c.loc.Offset, nil
}

// Seqnum is the pair returned by GetSeqnum.
type Seqnum struct {
	Seqnum   uint64
	StreamID [16]byte
}

// GetSeqnum returns the sequence number and stream (boot) id of the
// currently resolved entry.
func (c *Cursor) GetSeqnum() (Seqnum, error) {
	off, err := c.Position()
	if err != nil {
		return Seqnum{}, err
	}
	e, err := c.of.EntryRef(off)
	if err != nil {
		return Seqnum{}, err
	}
	return Seqnum{Seqnum: e.Seqnum, StreamID: e.BootID}, nil
}
