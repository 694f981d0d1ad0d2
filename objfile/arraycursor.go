package objfile

import (
	"fmt"

	"github.com/vkalintiris/journal-go/journalerr"
)

// ArrayCursor walks a chained offset-array: the on-disk representation
// of both per-data entry lists and the file's global entry list.
// Forward traversal follows next_offset_array pointers directly.
// Backward traversal requires a parent-pointer index that is built
// lazily on first use and cached for the cursor's lifetime.
type ArrayCursor struct {
	of        *ObjectFile
	headOff   uint64
	arrayOff  uint64
	slotIndex int
	cur       OffsetArrayObject

	parents map[uint64]uint64 // child array offset -> parent array offset
}

// NewArrayCursor creates a cursor positioned before the first slot of
// the chain rooted at headOffset.
func (of *ObjectFile) NewArrayCursor(headOffset uint64) (*ArrayCursor, error) {
	c := &ArrayCursor{of: of, headOff: headOffset, arrayOff: headOffset, slotIndex: -1}
	if headOffset == 0 {
		return c, nil
	}
	arr, err := of.OffsetArrayRef(headOffset)
	if err != nil {
		return nil, err
	}
	c.cur = arr
	return c, nil
}

// EntryList returns an ArrayCursor over the file's global entry list.
func (of *ObjectFile) EntryList() (*ArrayCursor, error) {
	return of.NewArrayCursor(of.Header.EntryArrayHead)
}

// Next advances to the next non-zero slot, following chained arrays as
// needed, and returns its value. ok is false once the chain and its
// tail slots are exhausted.
func (c *ArrayCursor) Next() (value uint64, ok bool, err error) {
	if c.arrayOff == 0 {
		return 0, false, nil
	}
	for {
		c.slotIndex++
		if c.slotIndex >= len(c.cur.Slots) {
			if c.cur.NextArray == 0 {
				return 0, false, nil
			}
			if err := c.advanceArray(c.cur.NextArray); err != nil {
				return 0, false, err
			}
			continue
		}
		v := c.cur.Slots[c.slotIndex]
		if v == 0 {
			// Unused trailing slot in the tail chunk: end of the
			// logical sequence.
			return 0, false, nil
		}
		return v, true, nil
	}
}

func (c *ArrayCursor) advanceArray(next uint64) error {
	arr, err := c.of.OffsetArrayRef(next)
	if err != nil {
		return err
	}
	if c.parents == nil {
		c.parents = make(map[uint64]uint64)
	}
	c.parents[next] = c.arrayOff
	c.arrayOff = next
	c.cur = arr
	c.slotIndex = -1
	return nil
}

// Previous moves backward one slot. It lazily builds the parent-
// pointer map by walking forward from the head the first time a
// backward step is needed from an array other than the head.
func (c *ArrayCursor) Previous() (value uint64, ok bool, err error) {
	if c.slotIndex > 0 {
		c.slotIndex--
		return c.cur.Slots[c.slotIndex], true, nil
	}
	if c.slotIndex == 0 {
		if c.arrayOff == c.headOff {
			c.slotIndex = -1
			return 0, false, nil
		}
		parent, err := c.parentOf(c.arrayOff)
		if err != nil {
			return 0, false, err
		}
		arr, err := c.of.OffsetArrayRef(parent)
		if err != nil {
			return 0, false, err
		}
		c.arrayOff = parent
		c.cur = arr
		c.slotIndex = len(arr.Slots) - 1
		if c.slotIndex < 0 {
			return 0, false, nil
		}
		return c.cur.Slots[c.slotIndex], true, nil
	}
	return 0, false, nil
}

// parentOf returns the array offset preceding child in the chain,
// building the full parent map by a single forward walk if needed.
func (c *ArrayCursor) parentOf(child uint64) (uint64, error) {
	if c.parents != nil {
		if p, ok := c.parents[child]; ok {
			return p, nil
		}
	}
	c.parents = make(map[uint64]uint64)
	prev := c.headOff
	offset := c.headOff
	visited := uint64(0)
	for {
		visited++
		if visited > c.of.Header.ObjectCount+1 {
			return 0, journalerr.New(journalerr.CorruptChain, "arraycursor.parentOf", c.of.Path, fmt.Errorf("chain exceeds object count"))
		}
		arr, err := c.of.OffsetArrayRef(offset)
		if err != nil {
			return 0, err
		}
		if arr.NextArray == 0 {
			break
		}
		c.parents[arr.NextArray] = offset
		prev = offset
		offset = arr.NextArray
		if offset == child {
			return prev, nil
		}
	}
	p, ok := c.parents[child]
	if !ok {
		return 0, journalerr.New(journalerr.CorruptChain, "arraycursor.parentOf", c.of.Path, fmt.Errorf("offset %d not found in chain", child))
	}
	return p, nil
}

// Collect drains the cursor from its current position, returning all
// remaining non-zero values in order.
func (c *ArrayCursor) Collect() ([]uint64, error) {
	var out []uint64
	for {
		v, ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// PartitionPoint performs a directed binary search over the logical
// sequence rooted at headOffset, returning the index of the first
// element for which pred returns true (assuming pred is monotonic:
// false* then true*). If no element satisfies pred, it returns
// len(sequence), false.
//
// This materializes the full chain once before searching rather than
// random-accessing array chunks, trading memory for simplicity; the
// sequence is already bounded by object count per file.
func (of *ObjectFile) PartitionPoint(headOffset uint64, pred func(value uint64) (bool, error)) (int, bool, error) {
	c, err := of.NewArrayCursor(headOffset)
	if err != nil {
		return 0, false, err
	}
	all, err := c.Collect()
	if err != nil {
		return 0, false, err
	}
	lo, hi := 0, len(all)
	for lo < hi {
		mid := (lo + hi) / 2
		ok, err := pred(all[mid])
		if err != nil {
			return 0, false, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo >= len(all) {
		return lo, false, nil
	}
	return lo, true, nil
}
