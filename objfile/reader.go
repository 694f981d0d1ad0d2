package objfile

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/vkalintiris/journal-go/journalerr"
	"github.com/vkalintiris/journal-go/window"
)

// ObjectFile is a read-only (or read-write, via Writer) view over one
// journal file: a header snapshot plus the window manager that serves
// arena bytes on demand.
type ObjectFile struct {
	Path   string
	Header Header
	Win    *window.Manager
	hash   hasher

	decoder *zstd.Decoder
}

// Open validates the header and prepares an ObjectFile for reading.
// windowCfg configures the underlying sliding-window manager.
func Open(path string, windowCfg window.Config) (*ObjectFile, error) {
	m, err := window.Open(path, false, windowCfg)
	if err != nil {
		return nil, err
	}
	flen, err := m.Len()
	if err != nil {
		m.Close()
		return nil, err
	}
	if flen < int64(HeaderSize) {
		m.Close()
		return nil, journalerr.New(journalerr.CorruptHeader, "objfile.Open", path, fmt.Errorf("file too small"))
	}
	g, err := m.Create(0, int64(HeaderSize))
	if err != nil {
		m.Close()
		return nil, err
	}
	h, err := ReadHeader(g.Bytes())
	g.Release()
	if err != nil {
		m.Close()
		return nil, err
	}
	dec, _ := zstd.NewReader(nil)
	of := &ObjectFile{Path: path, Header: h, Win: m, hash: hasherFor(&h), decoder: dec}
	return of, nil
}

// Close releases the underlying window manager.
func (of *ObjectFile) Close() error {
	if of.decoder != nil {
		of.decoder.Close()
	}
	return of.Win.Close()
}

func (of *ObjectFile) decompress(b []byte) ([]byte, error) {
	return of.decoder.DecodeAll(b, nil)
}

// readObjectHeader reads and validates the common header at offset.
func (of *ObjectFile) readObjectHeader(offset uint64) (ObjectHeader, error) {
	g, err := of.Win.Create(int64(offset), int64(ObjectHeaderSize))
	if err != nil {
		return ObjectHeader{}, err
	}
	defer g.Release()
	return decodeObjectHeader(g.Bytes())
}

// readPayload reads the payload bytes following an object's common
// header at offset, given its declared (unpadded) size.
func (of *ObjectFile) readPayload(offset uint64, hdr ObjectHeader) ([]byte, error) {
	g, err := of.Win.Create(int64(offset+ObjectHeaderSize), int64(hdr.Size))
	if err != nil {
		return nil, err
	}
	defer g.Release()
	out := make([]byte, len(g.Bytes()))
	copy(out, g.Bytes())
	return out, nil
}

func (of *ObjectFile) objectAt(offset uint64, want Kind) (ObjectHeader, []byte, error) {
	oh, err := of.readObjectHeader(offset)
	if err != nil {
		return ObjectHeader{}, nil, err
	}
	if oh.Kind != want {
		return ObjectHeader{}, nil, journalerr.New(journalerr.InvalidOffset, "objfile.objectAt", of.Path, fmt.Errorf("expected kind %s, got %s at offset %d", want, oh.Kind, offset))
	}
	payload, err := of.readPayload(offset, oh)
	if err != nil {
		return ObjectHeader{}, nil, err
	}
	return oh, payload, nil
}

// DataRef validates and decodes the data object at offset.
func (of *ObjectFile) DataRef(offset uint64) (DataObject, error) {
	oh, payload, err := of.objectAt(offset, KindData)
	if err != nil {
		return DataObject{}, err
	}
	return decodeDataObject(payload, oh.Flags, of.decompress)
}

// FieldRef validates and decodes the field object at offset.
func (of *ObjectFile) FieldRef(offset uint64) (FieldObject, error) {
	_, payload, err := of.objectAt(offset, KindField)
	if err != nil {
		return FieldObject{}, err
	}
	return decodeFieldObject(payload)
}

// EntryRef validates and decodes the entry object at offset.
func (of *ObjectFile) EntryRef(offset uint64) (EntryObject, error) {
	_, payload, err := of.objectAt(offset, KindEntry)
	if err != nil {
		return EntryObject{}, err
	}
	return decodeEntryObject(payload)
}

// OffsetArrayRef validates and decodes the offset-array object at offset.
func (of *ObjectFile) OffsetArrayRef(offset uint64) (OffsetArrayObject, error) {
	_, payload, err := of.objectAt(offset, KindOffsetArray)
	if err != nil {
		return OffsetArrayObject{}, err
	}
	return decodeOffsetArray(payload)
}

// hashTableAt reads a hash table's bucket array. offset is the table
// object's header position; the bucket payload itself starts
// ObjectHeaderSize bytes further in, matching writeEmptyHashTable's
// and readBucket/writeBucket's placement of the header in front of
// the buckets.
func (of *ObjectFile) hashTableAt(offset, size uint64) ([]Bucket, error) {
	g, err := of.Win.Create(int64(offset+ObjectHeaderSize), int64(size))
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return decodeHashTable(g.Bytes())
}

// lookupHash walks a hash table's bucket chain for key, calling match
// for each candidate offset (of the declared kind) until match
// returns true or the chain is exhausted. It returns (0, false, nil)
// on a clean miss. A chain longer than ObjectCount is CorruptChain.
func (of *ObjectFile) lookupHash(tableOffset, tableSize uint64, key []byte, nextHash func(offset uint64) (uint64, error), match func(offset uint64) (bool, error)) (uint64, bool, error) {
	buckets, err := of.hashTableAt(tableOffset, tableSize)
	if err != nil {
		return 0, false, err
	}
	if len(buckets) == 0 {
		return 0, false, nil
	}
	h := of.hash.Hash(key)
	idx := h % uint64(len(buckets))
	offset := buckets[idx].HeadHashOffset

	visited := uint64(0)
	for offset != 0 {
		visited++
		if visited > of.Header.ObjectCount+1 {
			return 0, false, journalerr.New(journalerr.CorruptChain, "objfile.lookupHash", of.Path, fmt.Errorf("hash chain exceeds object count"))
		}
		ok, err := match(offset)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return offset, true, nil
		}
		offset, err = nextHash(offset)
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// FindField looks up a field object by name in the field hash table.
func (of *ObjectFile) FindField(name FieldName) (FieldObject, uint64, bool, error) {
	var found FieldObject
	offset, ok, err := of.lookupHash(
		of.Header.FieldHTOffset, of.Header.FieldHTSize, []byte(name),
		func(off uint64) (uint64, error) {
			f, err := of.FieldRef(off)
			if err != nil {
				return 0, err
			}
			return f.NextHash, nil
		},
		func(off uint64) (bool, error) {
			f, err := of.FieldRef(off)
			if err != nil {
				return false, err
			}
			if string(f.Name) == string(name) {
				found = f
				return true, nil
			}
			return false, nil
		},
	)
	return found, offset, ok, err
}

// FindData looks up a data object by its full "FIELD=value" bytes in
// the data hash table.
func (of *ObjectFile) FindData(pair FieldValuePair) (DataObject, uint64, bool, error) {
	var found DataObject
	offset, ok, err := of.lookupHash(
		of.Header.DataHTOffset, of.Header.DataHTSize, pair.Bytes(),
		func(off uint64) (uint64, error) {
			d, err := of.DataRef(off)
			if err != nil {
				return 0, err
			}
			return d.NextHash, nil
		},
		func(off uint64) (bool, error) {
			d, err := of.DataRef(off)
			if err != nil {
				return false, err
			}
			if string(d.Payload) == pair.String() {
				found = d
				return true, nil
			}
			return false, nil
		},
	)
	return found, offset, ok, err
}

// FieldDataObjects iterates the data objects whose payload starts
// with "field=", by locating the field object and walking its
// head_data_offset + next_field chain.
func (of *ObjectFile) FieldDataObjects(field FieldName) ([]uint64, error) {
	f, _, ok, err := of.FindField(field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var out []uint64
	offset := f.HeadDataOff
	visited := uint64(0)
	for offset != 0 {
		visited++
		if visited > of.Header.ObjectCount+1 {
			return nil, journalerr.New(journalerr.CorruptChain, "objfile.FieldDataObjects", of.Path, fmt.Errorf("field chain exceeds object count"))
		}
		out = append(out, offset)
		d, err := of.DataRef(offset)
		if err != nil {
			return nil, err
		}
		offset = d.NextField
	}
	return out, nil
}

// AllFields walks every bucket chain of the field hash table and
// returns every field name it contains, regardless of facet
// selection.
func (of *ObjectFile) AllFields() ([]FieldName, error) {
	if of.Header.FieldHTSize == 0 {
		return nil, nil
	}
	buckets, err := of.hashTableAt(of.Header.FieldHTOffset, of.Header.FieldHTSize)
	if err != nil {
		return nil, err
	}
	var out []FieldName
	for _, b := range buckets {
		offset := b.HeadHashOffset
		visited := uint64(0)
		for offset != 0 {
			visited++
			if visited > of.Header.ObjectCount+1 {
				return nil, journalerr.New(journalerr.CorruptChain, "objfile.AllFields", of.Path, fmt.Errorf("field bucket chain exceeds object count"))
			}
			f, err := of.FieldRef(offset)
			if err != nil {
				return nil, err
			}
			out = append(out, FieldName(f.Name))
			offset = f.NextHash
		}
	}
	return out, nil
}

// EntryDataObjects returns the data object offsets referenced by the
// entry at entryOffset, in stored order.
func (of *ObjectFile) EntryDataObjects(entryOffset uint64) ([]uint64, error) {
	e, err := of.EntryRef(entryOffset)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(e.Items))
	for i, it := range e.Items {
		out[i] = it.DataOffset
	}
	return out, nil
}
