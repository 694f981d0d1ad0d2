package objfile

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/vkalintiris/journal-go/journalerr"
	"github.com/vkalintiris/journal-go/window"
)

// CompressionThreshold is the payload length (bytes) at or above
// which a data object's payload is compressed.
const CompressionThreshold = 512

// offsetArraySlots is the number of u64 slots allocated per tail
// offset-array chunk.
const offsetArraySlots = 32

// CreateOptions configures a freshly created journal file.
type CreateOptions struct {
	MachineID, BootID, SeqnumID [16]byte
	DataHashBuckets             uint64
	FieldHashBuckets            uint64
	KeyedHash                   bool
	HashVariant                 HashVariant
	Window                      window.Config

	// StartSeqnum is the sequence number assigned to this file's first
	// entry minus one; it lets a rotation successor continue the same
	// SeqnumID's numbering instead of restarting at 1.
	StartSeqnum uint64
}

// DefaultCreateOptions returns sane defaults for a new file.
func DefaultCreateOptions() CreateOptions {
	return CreateOptions{
		DataHashBuckets:  2048,
		FieldHashBuckets: 256,
		HashVariant:      HashXXH3,
		Window:           window.DefaultConfig,
	}
}

// Writer owns a journal file exclusively and appends entries to it.
// The writer keeps the authoritative header in memory and only
// writes it to the file after the arena bytes it references have been
// written and their windows released (each release issues an
// asynchronous msync).
type Writer struct {
	of       *ObjectFile
	seqnum   uint64
	arenaEnd uint64 // next free offset within the arena
	encoder  *zstd.Encoder

	dataOffsets  map[string]uint64 // payload string -> data object offset, in-memory mirror of the hash table for dedup during this session
	fieldOffsets map[string]uint64
}

// Create initializes a fresh journal file at path with a header and
// empty hash tables, ready to accept entries.
func Create(path string, opts CreateOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, journalerr.New(journalerr.Io, "writer.Create", path, err)
	}
	f.Close()

	h := NewHeader(opts.MachineID, opts.BootID, opts.SeqnumID, opts.DataHashBuckets*16, opts.FieldHashBuckets*16, opts.KeyedHash, opts.HashVariant)

	m, err := window.Open(path, true, opts.Window)
	if err != nil {
		return nil, err
	}

	arenaStart := uint64(HeaderSize)
	h.DataHTOffset = arenaStart
	h.FieldHTOffset = arenaStart + ObjectHeaderSize + h.DataHTSize
	arenaEnd := h.FieldHTOffset + ObjectHeaderSize + h.FieldHTSize

	if err := writeEmptyHashTable(m, h.DataHTOffset, h.DataHTSize); err != nil {
		m.Close()
		return nil, err
	}
	if err := writeEmptyHashTable(m, h.FieldHTOffset, h.FieldHTSize); err != nil {
		m.Close()
		return nil, err
	}
	h.ArenaSize = arenaEnd - arenaStart
	h.ObjectCount = 2

	if _, err := h.WriteTo(headerWriterAt{m}); err != nil {
		m.Close()
		return nil, err
	}

	of := &ObjectFile{Path: path, Header: h, Win: m, hash: hasherFor(&h)}
	enc, _ := zstd.NewWriter(nil)
	w := &Writer{
		of:           of,
		seqnum:       opts.StartSeqnum,
		arenaEnd:     arenaEnd,
		encoder:      enc,
		dataOffsets:  make(map[string]uint64),
		fieldOffsets: make(map[string]uint64),
	}
	return w, nil
}

// headerWriterAt adapts the window manager to io.Writer for header
// writes, always targeting offset 0.
type headerWriterAt struct{ m *window.Manager }

func (h headerWriterAt) Write(p []byte) (int, error) {
	g, err := h.m.CreateMut(0, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer g.Release()
	copy(g.Bytes(), p)
	return len(p), nil
}

func writeEmptyHashTable(m *window.Manager, offset, size uint64) error {
	g, err := m.CreateMut(int64(offset), int64(ObjectHeaderSize+size))
	if err != nil {
		return err
	}
	defer g.Release()
	encodeObjectHeader(g.Bytes()[:ObjectHeaderSize], ObjectHeader{Kind: KindHashTable, Size: size})
	for i := ObjectHeaderSize; i < len(g.Bytes()); i++ {
		g.Bytes()[i] = 0
	}
	return nil
}

func (w *Writer) readBucket(tableOffset, idx uint64) (Bucket, error) {
	off := tableOffset + ObjectHeaderSize + idx*16
	g, err := w.of.Win.Create(int64(off), 16)
	if err != nil {
		return Bucket{}, err
	}
	defer g.Release()
	bs, err := decodeHashTable(g.Bytes())
	if err != nil {
		return Bucket{}, err
	}
	return bs[0], nil
}

func (w *Writer) writeBucket(tableOffset, idx uint64, b Bucket) error {
	off := tableOffset + ObjectHeaderSize + idx*16
	g, err := w.of.Win.CreateMut(int64(off), 16)
	if err != nil {
		return err
	}
	defer g.Release()
	copy(g.Bytes(), encodeHashTable([]Bucket{b}))
	return nil
}

// appendObject writes a new object at the current arena end and
// advances it, 8-byte aligned. It returns the object's offset.
func (w *Writer) appendObject(kind Kind, flags byte, payload []byte) (uint64, error) {
	offset := w.arenaEnd
	total := ObjectHeaderSize + uint64(len(payload))
	padded := paddedSize(total)

	g, err := w.of.Win.CreateMut(int64(offset), int64(padded))
	if err != nil {
		return 0, err
	}
	defer g.Release()
	b := g.Bytes()
	encodeObjectHeader(b[:ObjectHeaderSize], ObjectHeader{Kind: kind, Flags: flags, Size: uint64(len(payload))})
	copy(b[ObjectHeaderSize:total], payload)
	for i := total; i < padded; i++ {
		b[i] = 0
	}

	w.arenaEnd += padded
	w.of.Header.ObjectCount++
	return offset, nil
}

func (w *Writer) patchDataNextHash(dataOffset, nextHash uint64) error {
	off := dataOffset + ObjectHeaderSize // Hash field at +0, NextHash at +8
	g, err := w.of.Win.CreateMut(int64(off+8), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), nextHash)
	return nil
}

func (w *Writer) patchFieldNextHash(fieldOffset, nextHash uint64) error {
	off := fieldOffset + ObjectHeaderSize + 8 // NextHash at +8 within field payload
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), nextHash)
	return nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func (w *Writer) patchDataNextField(dataOffset, nextField uint64) error {
	off := dataOffset + ObjectHeaderSize + 16 // NextField at +16
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), nextField)
	return nil
}

func (w *Writer) patchDataNEntries(dataOffset, n uint64) error {
	off := dataOffset + ObjectHeaderSize + 32 // NEntries at +32
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), n)
	return nil
}

func (w *Writer) patchDataEntryArrayOffset(dataOffset, arrOff uint64) error {
	off := dataOffset + ObjectHeaderSize + 24 // EntryArrayOffset at +24
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), arrOff)
	return nil
}

// ensureField returns the field object offset for name, creating it
// (and its hash-table entry) on first sight.
func (w *Writer) ensureField(name FieldName) (uint64, error) {
	if off, ok := w.fieldOffsets[string(name)]; ok {
		return off, nil
	}
	_, off, ok, err := w.of.FindField(name)
	if err != nil {
		return 0, err
	}
	if ok {
		w.fieldOffsets[string(name)] = off
		return off, nil
	}

	buckets := w.of.Header.FieldHTSize / 16
	h := w.of.hash.Hash([]byte(name))
	idx := h % buckets
	bucket, err := w.readBucket(w.of.Header.FieldHTOffset, idx)
	if err != nil {
		return 0, err
	}
	payload := encodeFieldObject(FieldObject{Hash: h, Name: []byte(name)})
	offset, err := w.appendObject(KindField, 0, payload)
	if err != nil {
		return 0, err
	}
	if bucket.HeadHashOffset == 0 {
		bucket.HeadHashOffset = offset
	} else {
		if err := w.patchFieldNextHash(bucket.TailHashOffset, offset); err != nil {
			return 0, err
		}
	}
	bucket.TailHashOffset = offset
	if err := w.writeBucket(w.of.Header.FieldHTOffset, idx, bucket); err != nil {
		return 0, err
	}
	w.fieldOffsets[string(name)] = offset
	return offset, nil
}

// ensureData returns the data object offset for pair, creating it and
// wiring it into both the data hash table and its field's data chain
// on first sight.
func (w *Writer) ensureData(pair FieldValuePair) (offset uint64, hash uint64, err error) {
	hash = w.of.hash.Hash(pair.Bytes())
	if off, ok := w.dataOffsets[pair.String()]; ok {
		return off, hash, nil
	}
	_, existingOff, ok, err := w.of.FindData(pair)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		w.dataOffsets[pair.String()] = existingOff
		return existingOff, hash, nil
	}

	fieldOff, err := w.ensureField(pair.Field())
	if err != nil {
		return 0, 0, err
	}

	raw := pair.Bytes()
	var flags byte
	var body []byte
	if len(raw) >= CompressionThreshold {
		body = w.encoder.EncodeAll(raw, nil)
		flags = ObjFlagCompressed
	} else {
		body = raw
	}

	buckets := w.of.Header.DataHTSize / 16
	idx := hash % buckets
	bucket, err := w.readBucket(w.of.Header.DataHTOffset, idx)
	if err != nil {
		return 0, 0, err
	}

	fixed := make([]byte, dataFixedSize+len(body))
	putU64At(fixed, 0, hash)
	putU64At(fixed, 8, 0) // next_hash patched below if chained
	putU64At(fixed, 16, 0)
	putU64At(fixed, 24, 0) // entry_array_offset, none yet
	putU64At(fixed, 32, 0) // n_entries
	copy(fixed[dataFixedSize:], body)

	offset, err = w.appendObject(KindData, flags, fixed)
	if err != nil {
		return 0, 0, err
	}

	if bucket.HeadHashOffset == 0 {
		bucket.HeadHashOffset = offset
	} else {
		if err := w.patchDataNextHash(bucket.TailHashOffset, offset); err != nil {
			return 0, 0, err
		}
	}
	bucket.TailHashOffset = offset
	if err := w.writeBucket(w.of.Header.DataHTOffset, idx, bucket); err != nil {
		return 0, 0, err
	}

	field, err := w.of.FieldRef(fieldOff)
	if err != nil {
		return 0, 0, err
	}
	if field.HeadDataOff == 0 {
		if err := w.patchFieldHeadData(fieldOff, offset); err != nil {
			return 0, 0, err
		}
	} else {
		last := field.HeadDataOff
		for {
			d, err := w.of.DataRef(last)
			if err != nil {
				return 0, 0, err
			}
			if d.NextField == 0 {
				break
			}
			last = d.NextField
		}
		if err := w.patchDataNextField(last, offset); err != nil {
			return 0, 0, err
		}
	}

	w.dataOffsets[pair.String()] = offset
	return offset, hash, nil
}

func (w *Writer) patchFieldHeadData(fieldOffset, dataOffset uint64) error {
	off := fieldOffset + ObjectHeaderSize + 16 // HeadDataOff at +16
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), dataOffset)
	return nil
}

func putU64At(b []byte, off int, v uint64) { putU64(b[off:off+8], v) }

// appendToOffsetArray appends value to the chain rooted at headOff
// (creating the head array if headOff == 0), returning the (possibly
// unchanged) head offset. The caller is responsible for persisting
// the returned head if it differs from headOff.
func (w *Writer) appendToOffsetArray(headOff uint64, value uint64) (newHead uint64, err error) {
	if headOff == 0 {
		payload := encodeOffsetArray(OffsetArrayObject{Slots: append([]uint64{value}, make([]uint64, offsetArraySlots-1)...)})
		off, err := w.appendObject(KindOffsetArray, 0, payload)
		if err != nil {
			return 0, err
		}
		return off, nil
	}

	// Walk to the tail array.
	cur := headOff
	for {
		arr, err := w.of.OffsetArrayRef(cur)
		if err != nil {
			return 0, err
		}
		if arr.NextArray != 0 {
			cur = arr.NextArray
			continue
		}
		// Find first free slot.
		slot := -1
		for i, s := range arr.Slots {
			if s == 0 {
				slot = i
				break
			}
		}
		if slot >= 0 {
			if err := w.patchOffsetArraySlot(cur, slot, value); err != nil {
				return 0, err
			}
			return headOff, nil
		}
		payload := encodeOffsetArray(OffsetArrayObject{Slots: append([]uint64{value}, make([]uint64, offsetArraySlots-1)...)})
		newArr, err := w.appendObject(KindOffsetArray, 0, payload)
		if err != nil {
			return 0, err
		}
		if err := w.patchOffsetArrayNext(cur, newArr); err != nil {
			return 0, err
		}
		return headOff, nil
	}
}

func (w *Writer) patchOffsetArraySlot(arrOffset uint64, slot int, value uint64) error {
	off := arrOffset + ObjectHeaderSize + 8 + uint64(slot)*8
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), value)
	return nil
}

func (w *Writer) patchOffsetArrayNext(arrOffset, next uint64) error {
	off := arrOffset + ObjectHeaderSize
	g, err := w.of.Win.CreateMut(int64(off), 8)
	if err != nil {
		return err
	}
	defer g.Release()
	putU64(g.Bytes(), next)
	return nil
}

// AddEntry appends a new entry referencing items, following the
// five-step algorithm: resolve/create data+field objects, append the
// entry object, extend each data object's entry-offset array, extend
// the global entry list, then update header head/tail fields. Every
// object is written in full before any offset to it is stored. On
// failure partway through, the on-disk header is not rewritten, but
// nothing is rolled back: data and field objects already linked into
// the hash tables, and the entry offset already appended to data
// objects' entry arrays, stay in the file, and the writer's seqnum
// counter stays advanced.
func (w *Writer) AddEntry(items []FieldValue, realtime, monotonic uint64, bootID [16]byte) (seqnum uint64, err error) {
	if len(items) == 0 {
		return 0, journalerr.New(journalerr.InvariantViolated, "writer.AddEntry", w.of.Path, fmt.Errorf("entry must have at least one item"))
	}

	entryItems := make([]EntryItem, len(items))
	dataOffsets := make([]uint64, len(items))
	var xor uint64
	for i, it := range items {
		pair := it.Pair()
		off, hash, err := w.ensureData(pair)
		if err != nil {
			return 0, journalerr.Wrap(journalerr.InvariantViolated, "writer.AddEntry", err)
		}
		entryItems[i] = EntryItem{DataOffset: off, Hash: hash}
		dataOffsets[i] = off
		xor ^= hash
	}

	w.seqnum++
	seqnum = w.seqnum

	entryPayload := encodeEntryObject(EntryObject{
		Seqnum: seqnum, Realtime: realtime, Monotonic: monotonic, BootID: bootID, XorHash: xor, Items: entryItems,
	})
	entryOffset, err := w.appendObject(KindEntry, 0, entryPayload)
	if err != nil {
		return 0, journalerr.Wrap(journalerr.Io, "writer.AddEntry", err)
	}

	for _, dOff := range dataOffsets {
		d, err := w.of.DataRef(dOff)
		if err != nil {
			return 0, journalerr.Wrap(journalerr.InvariantViolated, "writer.AddEntry", err)
		}
		newHead, err := w.appendToOffsetArray(d.EntryArrayOff, entryOffset)
		if err != nil {
			return 0, journalerr.Wrap(journalerr.Io, "writer.AddEntry", err)
		}
		if newHead != d.EntryArrayOff {
			if err := w.patchDataEntryArrayOffset(dOff, newHead); err != nil {
				return 0, err
			}
		}
		if err := w.patchDataNEntries(dOff, d.NEntries+1); err != nil {
			return 0, err
		}
	}

	newGlobalHead, err := w.appendToOffsetArray(w.of.Header.EntryArrayHead, entryOffset)
	if err != nil {
		return 0, journalerr.Wrap(journalerr.Io, "writer.AddEntry", err)
	}
	if w.of.Header.EntryArrayHead == 0 {
		w.of.Header.EntryArrayHead = newGlobalHead
	}

	if w.of.Header.EntryCount == 0 {
		w.of.Header.HeadRealtime = realtime
		w.of.Header.HeadMonotonic = monotonic
		w.of.Header.HeadSeqnum = seqnum
	}
	w.of.Header.TailRealtime = realtime
	w.of.Header.TailMonotonic = monotonic
	w.of.Header.TailSeqnum = seqnum
	w.of.Header.EntryCount++
	w.of.Header.ArenaSize = w.arenaEnd - uint64(HeaderSize)

	if err := w.Flush(); err != nil {
		return 0, err
	}
	if _, err := w.of.Header.WriteTo(headerWriterAt{w.of.Win}); err != nil {
		return 0, journalerr.Wrap(journalerr.Io, "writer.AddEntry", err)
	}
	return seqnum, nil
}

// Flush leases and releases a writable guard at offset 0, which
// issues an asynchronous msync (MS_ASYNC) of that window; arena
// windows were msync'd the same way when their own guards were
// released. It does not wait for the data to reach disk.
func (w *Writer) Flush() error {
	g, err := w.of.Win.CreateMut(0, 8)
	if err != nil {
		return journalerr.Wrap(journalerr.Io, "writer.Flush", err)
	}
	g.Release()
	return nil
}

// Size returns the current on-disk file length, which includes the
// unused tail of the last mapped window beyond header + arena.
func (w *Writer) Size() (int64, error) { return w.of.Win.Len() }

// EntryCount returns the number of entries written so far.
func (w *Writer) EntryCount() uint64 { return w.of.Header.EntryCount }

// HeadMonotonic / TailMonotonic report the file's current span, used
// by the rotation-trigger check in package rotate.
func (w *Writer) HeadMonotonic() uint64 { return w.of.Header.HeadMonotonic }
func (w *Writer) TailMonotonic() uint64 { return w.of.Header.TailMonotonic }

// BucketUtilization reports, for the data and field hash tables, the
// number of distinct objects this writer has added or looked up
// divided by the number of buckets (a load factor that can exceed 1,
// not a count of occupied buckets), used by package rotate to size a
// successor file's hash tables.
func (w *Writer) BucketUtilization() (dataUtil, fieldUtil float64, err error) {
	dataBuckets := w.of.Header.DataHTSize / 16
	fieldBuckets := w.of.Header.FieldHTSize / 16
	dataUsed := uint64(len(w.dataOffsets))
	fieldUsed := uint64(len(w.fieldOffsets))
	if dataBuckets > 0 {
		dataUtil = float64(dataUsed) / float64(dataBuckets)
	}
	if fieldBuckets > 0 {
		fieldUtil = float64(fieldUsed) / float64(fieldBuckets)
	}
	return
}

// Header returns a copy of the writer's current in-memory header.
func (w *Writer) Header() Header { return w.of.Header }

// ObjectFile exposes the underlying read path, e.g. for a reader
// opened concurrently against the same in-progress file via a
// separate Open call (cross-process write concurrency is a Non-goal;
// same-process read-your-writes is supported through this accessor).
func (w *Writer) ObjectFile() *ObjectFile { return w.of }

// Close flushes and releases the writer's window manager.
func (w *Writer) Close() error {
	if w.encoder != nil {
		w.encoder.Close()
	}
	return w.of.Win.Close()
}
