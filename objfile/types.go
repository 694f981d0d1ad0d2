// Package objfile implements the on-disk journal file format: the
// fixed header, the append-only arena of typed objects, and the
// reader/writer operations over it. Byte layout is bit-exact per the
// wire format this repository is compatible with; see header.go and
// object.go for the exact field order.
package objfile

import (
	"fmt"
	"strings"
)

// Kind identifies an arena object's payload shape.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindField
	KindEntry
	KindHashTable
	KindOffsetArray
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindField:
		return "field"
	case KindEntry:
		return "entry"
	case KindHashTable:
		return "hash_table"
	case KindOffsetArray:
		return "offset_array"
	default:
		return "unknown"
	}
}

// Object header flag bits.
const (
	ObjFlagCompressed byte = 1 << 0
)

// Header flag bits.
const (
	FlagKeyedHash   uint64 = 1 << 0
	FlagCompression uint64 = 1 << 1
)

// HashVariant selects the unkeyed hash algorithm when FlagKeyedHash is
// not set. Stored in bits [2:4] of the header Flags field.
type HashVariant uint8

const (
	HashXXH3 HashVariant = iota
	HashXXHash64
)

func hashVariantFromFlags(flags uint64) HashVariant {
	return HashVariant((flags >> 2) & 0x3)
}

func flagsWithHashVariant(flags uint64, v HashVariant) uint64 {
	flags &^= 0x3 << 2
	return flags | (uint64(v) << 2)
}

// CompressionAlgo selects the data-object payload compression codec.
type CompressionAlgo uint8

const (
	CompressionNone CompressionAlgo = iota
	CompressionLZ4
	CompressionZstd
)

// FieldName is a non-empty field identifier containing no '='.
type FieldName string

// Valid reports whether n is a legal field name.
func (n FieldName) Valid() bool {
	return len(n) > 0 && !strings.Contains(string(n), "=")
}

// FieldValuePair is a "FIELD=value" pair with a cached split position
// so Field()/Value() are O(1) after construction. The first '=' is the
// split point; values may themselves contain '='.
type FieldValuePair struct {
	raw   string
	split int
}

// NewFieldValuePair parses "FIELD=value" into a FieldValuePair. It
// returns ok=false if raw contains no '=' or the field part is empty.
func NewFieldValuePair(raw string) (FieldValuePair, bool) {
	idx := strings.IndexByte(raw, '=')
	if idx <= 0 {
		return FieldValuePair{}, false
	}
	return FieldValuePair{raw: raw, split: idx}, true
}

// MustFieldValuePair joins field and value into a FieldValuePair
// without validating field: an empty name or one containing '=' is
// not rejected and does not panic. FieldValue.Pair uses it for writer
// input.
func MustFieldValuePair(field, value string) FieldValuePair {
	raw := field + "=" + value
	return FieldValuePair{raw: raw, split: len(field)}
}

func (p FieldValuePair) String() string     { return p.raw }
func (p FieldValuePair) Field() FieldName   { return FieldName(p.raw[:p.split]) }
func (p FieldValuePair) Value() string      { return p.raw[p.split+1:] }
func (p FieldValuePair) Bytes() []byte      { return []byte(p.raw) }

// GobEncode lets FieldValuePair participate in gob-encoded structures
// (e.g. as a FileIndex bitmap-table map key) despite its unexported
// fields: the raw string round-trips through NewFieldValuePair.
func (p FieldValuePair) GobEncode() ([]byte, error) {
	return []byte(p.raw), nil
}

// GobDecode is the inverse of GobEncode.
func (p *FieldValuePair) GobDecode(data []byte) error {
	pair, ok := NewFieldValuePair(string(data))
	if !ok {
		return fmt.Errorf("objfile: invalid encoded FieldValuePair %q", data)
	}
	*p = pair
	return nil
}

// FieldValue is a field/value item supplied to the writer when
// appending an entry.
type FieldValue struct {
	Field FieldName
	Value string
}

func (fv FieldValue) Pair() FieldValuePair {
	return MustFieldValuePair(string(fv.Field), fv.Value)
}
