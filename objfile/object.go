package objfile

import (
	"encoding/binary"
	"fmt"

	"github.com/vkalintiris/journal-go/journalerr"
)

// ObjectHeaderSize is the size of the common object header shared by
// every arena object kind: kind(1) + flags(1) + reserved(6) + size(8).
const ObjectHeaderSize = 16

// ObjectHeader is the common prefix of every arena object.
type ObjectHeader struct {
	Kind  Kind
	Flags byte
	Size  uint64 // size of the payload following this header, in bytes (unpadded)
}

func encodeObjectHeader(b []byte, h ObjectHeader) {
	b[0] = byte(h.Kind)
	b[1] = h.Flags
	for i := 2; i < 8; i++ {
		b[i] = 0
	}
	binary.LittleEndian.PutUint64(b[8:16], h.Size)
}

func decodeObjectHeader(b []byte) (ObjectHeader, error) {
	if len(b) < ObjectHeaderSize {
		return ObjectHeader{}, journalerr.New(journalerr.CorruptHeader, "object.decode", "", fmt.Errorf("short object header"))
	}
	k := Kind(b[0])
	if k < KindData || k > KindOffsetArray {
		return ObjectHeader{}, journalerr.New(journalerr.CorruptHeader, "object.decode", "", fmt.Errorf("unknown object kind %d", b[0]))
	}
	return ObjectHeader{
		Kind:  k,
		Flags: b[1],
		Size:  binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// paddedSize rounds n up to the next multiple of 8, matching the
// arena's 8-byte object alignment.
func paddedSize(n uint64) uint64 {
	if r := n % 8; r != 0 {
		return n + (8 - r)
	}
	return n
}

// DataObject is the decoded payload of a KindData arena object.
type DataObject struct {
	Hash            uint64
	NextHash        uint64
	NextField       uint64
	EntryArrayOff   uint64
	NEntries        uint64
	Payload         []byte // raw "FIELD=value" bytes, decompressed
	CompressedAlgo  CompressionAlgo
}

const dataFixedSize = 8 * 5

func encodeDataObject(d DataObject, compressed []byte, algo CompressionAlgo) (flags byte, payload []byte) {
	buf := make([]byte, dataFixedSize+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:8], d.Hash)
	binary.LittleEndian.PutUint64(buf[8:16], d.NextHash)
	binary.LittleEndian.PutUint64(buf[16:24], d.NextField)
	binary.LittleEndian.PutUint64(buf[24:32], d.EntryArrayOff)
	binary.LittleEndian.PutUint64(buf[32:40], d.NEntries)
	copy(buf[dataFixedSize:], compressed)
	if algo != CompressionNone {
		flags |= ObjFlagCompressed
	}
	return flags, buf
}

func decodeDataObject(payload []byte, flags byte, decompress func([]byte) ([]byte, error)) (DataObject, error) {
	if len(payload) < dataFixedSize {
		return DataObject{}, journalerr.New(journalerr.CorruptHeader, "data.decode", "", fmt.Errorf("short data object"))
	}
	d := DataObject{
		Hash:          binary.LittleEndian.Uint64(payload[0:8]),
		NextHash:      binary.LittleEndian.Uint64(payload[8:16]),
		NextField:     binary.LittleEndian.Uint64(payload[16:24]),
		EntryArrayOff: binary.LittleEndian.Uint64(payload[24:32]),
		NEntries:      binary.LittleEndian.Uint64(payload[32:40]),
	}
	raw := payload[dataFixedSize:]
	if flags&ObjFlagCompressed != 0 {
		out, err := decompress(raw)
		if err != nil {
			return DataObject{}, journalerr.Wrap(journalerr.CorruptHeader, "data.decompress", err)
		}
		d.Payload = out
		d.CompressedAlgo = CompressionZstd
	} else {
		d.Payload = raw
	}
	return d, nil
}

// FieldObject is the decoded payload of a KindField arena object.
type FieldObject struct {
	Hash          uint64
	NextHash      uint64
	HeadDataOff   uint64
	Name          []byte
}

const fieldFixedSize = 8 * 3

func encodeFieldObject(f FieldObject) []byte {
	buf := make([]byte, fieldFixedSize+len(f.Name))
	binary.LittleEndian.PutUint64(buf[0:8], f.Hash)
	binary.LittleEndian.PutUint64(buf[8:16], f.NextHash)
	binary.LittleEndian.PutUint64(buf[16:24], f.HeadDataOff)
	copy(buf[fieldFixedSize:], f.Name)
	return buf
}

func decodeFieldObject(payload []byte) (FieldObject, error) {
	if len(payload) < fieldFixedSize {
		return FieldObject{}, journalerr.New(journalerr.CorruptHeader, "field.decode", "", fmt.Errorf("short field object"))
	}
	return FieldObject{
		Hash:        binary.LittleEndian.Uint64(payload[0:8]),
		NextHash:    binary.LittleEndian.Uint64(payload[8:16]),
		HeadDataOff: binary.LittleEndian.Uint64(payload[16:24]),
		Name:        payload[fieldFixedSize:],
	}, nil
}

// EntryItem references one data object contributed to an entry.
type EntryItem struct {
	DataOffset uint64
	Hash       uint64
}

// EntryObject is the decoded payload of a KindEntry arena object.
type EntryObject struct {
	Seqnum    uint64
	Realtime  uint64
	Monotonic uint64
	BootID    [16]byte
	XorHash   uint64
	Items     []EntryItem
}

const entryFixedSize = 8 + 8 + 8 + 16 + 8

func encodeEntryObject(e EntryObject) []byte {
	buf := make([]byte, entryFixedSize+len(e.Items)*16)
	binary.LittleEndian.PutUint64(buf[0:8], e.Seqnum)
	binary.LittleEndian.PutUint64(buf[8:16], e.Realtime)
	binary.LittleEndian.PutUint64(buf[16:24], e.Monotonic)
	copy(buf[24:40], e.BootID[:])
	binary.LittleEndian.PutUint64(buf[40:48], e.XorHash)
	for i, it := range e.Items {
		off := entryFixedSize + i*16
		binary.LittleEndian.PutUint64(buf[off:off+8], it.DataOffset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], it.Hash)
	}
	return buf
}

func decodeEntryObject(payload []byte) (EntryObject, error) {
	if len(payload) < entryFixedSize {
		return EntryObject{}, journalerr.New(journalerr.CorruptHeader, "entry.decode", "", fmt.Errorf("short entry object"))
	}
	e := EntryObject{
		Seqnum:    binary.LittleEndian.Uint64(payload[0:8]),
		Realtime:  binary.LittleEndian.Uint64(payload[8:16]),
		Monotonic: binary.LittleEndian.Uint64(payload[16:24]),
		XorHash:   binary.LittleEndian.Uint64(payload[40:48]),
	}
	copy(e.BootID[:], payload[24:40])
	rest := payload[entryFixedSize:]
	if len(rest)%16 != 0 {
		return EntryObject{}, journalerr.New(journalerr.CorruptHeader, "entry.decode", "", fmt.Errorf("misaligned entry items"))
	}
	n := len(rest) / 16
	e.Items = make([]EntryItem, n)
	for i := 0; i < n; i++ {
		off := i * 16
		e.Items[i] = EntryItem{
			DataOffset: binary.LittleEndian.Uint64(rest[off : off+8]),
			Hash:       binary.LittleEndian.Uint64(rest[off+8 : off+16]),
		}
	}
	return e, nil
}

// Bucket is one slot of a hash-table object.
type Bucket struct {
	HeadHashOffset uint64
	TailHashOffset uint64
}

func encodeHashTable(buckets []Bucket) []byte {
	buf := make([]byte, len(buckets)*16)
	for i, b := range buckets {
		off := i * 16
		binary.LittleEndian.PutUint64(buf[off:off+8], b.HeadHashOffset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], b.TailHashOffset)
	}
	return buf
}

func decodeHashTable(payload []byte) ([]Bucket, error) {
	if len(payload)%16 != 0 {
		return nil, journalerr.New(journalerr.CorruptHeader, "hashtable.decode", "", fmt.Errorf("misaligned hash table"))
	}
	n := len(payload) / 16
	out := make([]Bucket, n)
	for i := 0; i < n; i++ {
		off := i * 16
		out[i] = Bucket{
			HeadHashOffset: binary.LittleEndian.Uint64(payload[off : off+8]),
			TailHashOffset: binary.LittleEndian.Uint64(payload[off+8 : off+16]),
		}
	}
	return out, nil
}

// OffsetArrayObject is the decoded payload of a KindOffsetArray object.
type OffsetArrayObject struct {
	NextArray uint64
	Slots     []uint64 // zero value means "unused" for trailing slots
}

func encodeOffsetArray(o OffsetArrayObject) []byte {
	buf := make([]byte, 8+len(o.Slots)*8)
	binary.LittleEndian.PutUint64(buf[0:8], o.NextArray)
	for i, s := range o.Slots {
		off := 8 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], s)
	}
	return buf
}

func decodeOffsetArray(payload []byte) (OffsetArrayObject, error) {
	if len(payload) < 8 || (len(payload)-8)%8 != 0 {
		return OffsetArrayObject{}, journalerr.New(journalerr.CorruptHeader, "offsetarray.decode", "", fmt.Errorf("misaligned offset array"))
	}
	o := OffsetArrayObject{NextArray: binary.LittleEndian.Uint64(payload[0:8])}
	n := (len(payload) - 8) / 8
	o.Slots = make([]uint64, n)
	for i := 0; i < n; i++ {
		off := 8 + i*8
		o.Slots[i] = binary.LittleEndian.Uint64(payload[off : off+8])
	}
	return o, nil
}
