package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/vkalintiris/journal-go/journalerr"
)

var magicBytes = [8]byte{'N', 'J', 'R', 'N', 'L', '0', '0', '1'}

const currentVersion uint64 = 1

// Header is the fixed-size prefix of a journal file, little-endian
// throughout. Field order here is the wire order.
type Header struct {
	Magic          [8]byte
	Version        uint64
	FileID         [16]byte
	MachineID      [16]byte
	BootID         [16]byte
	SeqnumID       [16]byte
	ArenaSize      uint64
	HeadRealtime   uint64
	TailRealtime   uint64
	HeadMonotonic  uint64
	TailMonotonic  uint64
	HeadSeqnum     uint64
	TailSeqnum     uint64
	DataHTOffset   uint64
	DataHTSize     uint64
	FieldHTOffset  uint64
	FieldHTSize    uint64
	EntryArrayHead uint64
	TailEntryArray uint64
	EntryCount     uint64
	ObjectCount    uint64
	Flags          uint64
	HashKey        [16]byte
}

// HeaderSize is the exact on-disk size of Header, computed once from
// the struct layout so it can never drift from WriteTo/ReadHeader.
var HeaderSize = binarySize(Header{})

func binarySize(h Header) int {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, h)
	return buf.Len()
}

func newUUID() [16]byte {
	var out [16]byte
	copy(out[:], uuid.New()[:])
	return out
}

// NewHeader initializes a fresh header for a newly created file. The
// caller supplies the machine/boot/seqnum-stream identity; a fresh
// file ID is generated.
func NewHeader(machineID, bootID, seqnumID [16]byte, dataHTSize, fieldHTSize uint64, keyedHash bool, variant HashVariant) Header {
	h := Header{
		Magic:     magicBytes,
		Version:   currentVersion,
		FileID:    newUUID(),
		MachineID: machineID,
		BootID:    bootID,
		SeqnumID:  seqnumID,
	}
	h.Flags = flagsWithHashVariant(0, variant)
	if keyedHash {
		h.Flags |= FlagKeyedHash
		key := uuid.New()
		copy(h.HashKey[:], key[:])
	}
	h.DataHTSize = dataHTSize
	h.FieldHTSize = fieldHTSize
	return h
}

// WriteTo serializes h in wire order.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return 0, journalerr.Wrap(journalerr.Io, "header.WriteTo", err)
	}
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return int64(n), journalerr.Wrap(journalerr.Io, "header.WriteTo", err)
	}
	return int64(n), nil
}

// ReadHeader validates magic and version and parses the fixed prefix
// from b, which must be at least HeaderSize bytes.
func ReadHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, journalerr.New(journalerr.CorruptHeader, "header.Read", "", fmt.Errorf("short header: %d bytes", len(b)))
	}
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, journalerr.Wrap(journalerr.CorruptHeader, "header.Read", err)
	}
	if h.Magic != magicBytes {
		return h, journalerr.New(journalerr.CorruptHeader, "header.Read", "", fmt.Errorf("bad magic"))
	}
	if h.Version != currentVersion {
		return h, journalerr.New(journalerr.UnsupportedVersion, "header.Read", "", fmt.Errorf("version %d unsupported", h.Version))
	}
	return h, nil
}

func (h *Header) HashVariant() HashVariant { return hashVariantFromFlags(h.Flags) }
func (h *Header) KeyedHash() bool          { return h.Flags&FlagKeyedHash != 0 }
