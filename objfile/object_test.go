package objfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataObjectRoundTrip(t *testing.T) {
	d := DataObject{Hash: 1, NextHash: 2, NextField: 3, EntryArrayOff: 4, NEntries: 5, Payload: []byte("MESSAGE=hello")}
	flags, payload := encodeDataObject(d, d.Payload, CompressionNone)
	require.Zero(t, flags)

	got, err := decodeDataObject(payload, flags, nil)
	require.NoError(t, err)
	require.Equal(t, d.Hash, got.Hash)
	require.Equal(t, d.NextHash, got.NextHash)
	require.Equal(t, string(d.Payload), string(got.Payload))
}

func TestFieldObjectRoundTrip(t *testing.T) {
	f := FieldObject{Hash: 42, NextHash: 0, HeadDataOff: 99, Name: []byte("MESSAGE")}
	payload := encodeFieldObject(f)
	got, err := decodeFieldObject(payload)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestEntryObjectRoundTrip(t *testing.T) {
	e := EntryObject{
		Seqnum: 1, Realtime: 1000, Monotonic: 2000,
		BootID:  [16]byte{1, 2, 3},
		XorHash: 7,
		Items:   []EntryItem{{DataOffset: 10, Hash: 1}, {DataOffset: 20, Hash: 2}},
	}
	payload := encodeEntryObject(e)
	got, err := decodeEntryObject(payload)
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestOffsetArrayRoundTrip(t *testing.T) {
	o := OffsetArrayObject{NextArray: 123, Slots: []uint64{1, 2, 3, 0, 0}}
	payload := encodeOffsetArray(o)
	got, err := decodeOffsetArray(payload)
	require.NoError(t, err)
	require.Equal(t, o, got)
}

func TestFieldValuePairSplit(t *testing.T) {
	p, ok := NewFieldValuePair("MESSAGE=a=b=c")
	require.True(t, ok)
	require.Equal(t, FieldName("MESSAGE"), p.Field())
	require.Equal(t, "a=b=c", p.Value())

	_, ok = NewFieldValuePair("NOEQUALS")
	require.False(t, ok)
}
