package objfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/window"
)

func smallWindowConfig() window.Config {
	return window.Config{MaxResidentBytes: 0, MinWindow: 4096}
}

func TestWriteAndReadEntriesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")

	opts := DefaultCreateOptions()
	opts.Window = smallWindowConfig()
	w, err := Create(path, opts)
	require.NoError(t, err)

	type want struct {
		realtime uint64
		message  string
		priority string
	}
	entries := []want{
		{1000, "hello", "6"},
		{2000, "world", "3"},
		{3000, "!", "6"},
	}
	for i, e := range entries {
		_, err := w.AddEntry([]FieldValue{
			{Field: "MESSAGE", Value: e.message},
			{Field: "PRIORITY", Value: e.priority},
		}, e.realtime, e.realtime, [16]byte{})
		require.NoError(t, err, "entry %d", i)
	}
	require.NoError(t, w.Close())

	of, err := Open(path, smallWindowConfig())
	require.NoError(t, err)
	defer of.Close()

	require.Equal(t, uint64(3), of.Header.EntryCount)
	require.Equal(t, uint64(1000), of.Header.HeadRealtime)
	require.Equal(t, uint64(3000), of.Header.TailRealtime)

	cur, err := of.EntryList()
	require.NoError(t, err)
	offsets, err := cur.Collect()
	require.NoError(t, err)
	require.Len(t, offsets, 3)

	var gotRealtimes []uint64
	for _, off := range offsets {
		e, err := of.EntryRef(off)
		require.NoError(t, err)
		gotRealtimes = append(gotRealtimes, e.Realtime)
	}
	require.Equal(t, []uint64{1000, 2000, 3000}, gotRealtimes)

	// PRIORITY=6 data object's entry array should contain entries 0 and 2.
	prio6 := MustFieldValuePair("PRIORITY", "6")
	d, _, ok, err := of.FindData(prio6)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), d.NEntries)

	ac, err := of.NewArrayCursor(d.EntryArrayOff)
	require.NoError(t, err)
	prio6Entries, err := ac.Collect()
	require.NoError(t, err)
	require.Equal(t, []uint64{offsets[0], offsets[2]}, prio6Entries)
}

func TestWriterDataObjectDeduplication(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	opts := DefaultCreateOptions()
	opts.Window = smallWindowConfig()
	w, err := Create(path, opts)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.AddEntry([]FieldValue{{Field: "UNIT", Value: "a"}}, 1, 1, [16]byte{})
	require.NoError(t, err)
	_, err = w.AddEntry([]FieldValue{{Field: "UNIT", Value: "a"}}, 2, 2, [16]byte{})
	require.NoError(t, err)

	require.Len(t, w.dataOffsets, 1)
}
