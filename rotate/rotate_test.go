package rotate

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/window"
)

func testOpts() objfile.CreateOptions {
	opts := objfile.DefaultCreateOptions()
	opts.Window = window.Config{MinWindow: 4096}
	opts.DataHashBuckets = 4
	opts.FieldHashBuckets = 4
	opts.SeqnumID = uuid.New()
	return opts
}

func TestRotateOnMaxEntriesCreatesArchivedAndFreshActive(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "system", Policy{MaxEntries: 2}, testOpts(), nil)
	require.NoError(t, err)

	item := []objfile.FieldValue{{Field: "MESSAGE", Value: "a"}}
	for i := uint64(0); i < 3; i++ {
		_, err := w.AddEntry(item, 1_000_000+i, 1_000_000+i, [16]byte{})
		require.NoError(t, err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, entries, 2) // one archived, one active

	require.Equal(t, uint64(1), w.Current().EntryCount())
}

func TestShouldRotateFalseOnEmptyWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "system", Policy{MaxEntries: 1}, testOpts(), nil)
	require.NoError(t, err)
	require.False(t, w.shouldRotate())
}

func TestSeqnumContinuesAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "system", Policy{MaxEntries: 1}, testOpts(), nil)
	require.NoError(t, err)

	item := []objfile.FieldValue{{Field: "MESSAGE", Value: "a"}}
	s1, err := w.AddEntry(item, 1_000_000, 1_000_000, [16]byte{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), s1)

	s2, err := w.AddEntry(item, 2_000_000, 2_000_000, [16]byte{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), s2)
}

func TestResizeBuckets(t *testing.T) {
	require.Equal(t, uint64(200), resizeBuckets(100, 0.8))
	require.Equal(t, uint64(64), resizeBuckets(100, 0.1))
	require.Equal(t, uint64(100), resizeBuckets(100, 0.5))
	require.Equal(t, uint64(64), resizeBuckets(64, 0.1))
}
