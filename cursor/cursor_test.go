package cursor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/window"
)

func writeFixture(t *testing.T, path string) []uint64 {
	t.Helper()
	opts := objfile.DefaultCreateOptions()
	opts.Window = window.Config{MinWindow: 4096}
	w, err := objfile.Create(path, opts)
	require.NoError(t, err)
	defer w.Close()

	entries := []struct {
		realtime uint64
		message  string
		priority string
	}{
		{1000, "hello", "6"},
		{2000, "world", "3"},
		{3000, "!", "6"},
		{4000, "again", "6"},
	}
	realtimes := make([]uint64, len(entries))
	for i, e := range entries {
		_, err := w.AddEntry([]objfile.FieldValue{
			{Field: "MESSAGE", Value: e.message},
			{Field: "PRIORITY", Value: e.priority},
		}, e.realtime, e.realtime, [16]byte{})
		require.NoError(t, err)
		realtimes[i] = e.realtime
	}
	return realtimes
}

func openFixture(t *testing.T) (*objfile.ObjectFile, *indexer.FileIndex) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "t.journal")
	writeFixture(t, path)

	of, err := objfile.Open(path, window.Config{MinWindow: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { of.Close() })

	fi, err := indexer.Index(of, indexer.Options{
		Facets:                []objfile.FieldName{"PRIORITY", "MESSAGE"},
		BucketDurationSeconds: 1,
		Now:                   func() time.Time { return time.Unix(1000, 0) },
	})
	require.NoError(t, err)
	return of, fi
}

func TestCursorUnfilteredForwardVisitsAllEntries(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)

	var seqs []uint64
	for {
		ok, err := c.Step(Forward)
		require.NoError(t, err)
		if !ok {
			break
		}
		sn, err := c.GetSeqnum()
		require.NoError(t, err)
		seqs = append(seqs, sn.Seqnum)
	}
	require.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestCursorUnfilteredBackwardVisitsAllEntries(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)
	c.SetLocation(Location{Kind: LocTail})

	var seqs []uint64
	for {
		ok, err := c.Step(Backward)
		require.NoError(t, err)
		if !ok {
			break
		}
		sn, err := c.GetSeqnum()
		require.NoError(t, err)
		seqs = append(seqs, sn.Seqnum)
	}
	require.Equal(t, []uint64{4, 3, 2, 1}, seqs)
}

// TestCursorPriorityFilterStep exercises end-to-end scenario 4: stepping
// a cursor filtered on PRIORITY=6 must only visit entries 1, 3, 4 and
// skip entry 2 (PRIORITY=3).
func TestCursorPriorityFilterStep(t *testing.T) {
	of, fi := openFixture(t)
	c := New(of)
	c.SetFilter(MatchValue(objfile.MustFieldValuePair("PRIORITY", "6")), fi)

	var seqs []uint64
	for {
		ok, err := c.Step(Forward)
		require.NoError(t, err)
		if !ok {
			break
		}
		sn, err := c.GetSeqnum()
		require.NoError(t, err)
		seqs = append(seqs, sn.Seqnum)
	}
	require.Equal(t, []uint64{1, 3, 4}, seqs)
}

func TestCursorHeadThenBackwardStepFails(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)
	ok, err := c.Step(Backward)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorRealtimeSeeksForward(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)
	c.SetLocation(Location{Kind: LocRealtime, Realtime: 2500})

	ok, err := c.Step(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	sn, err := c.GetSeqnum()
	require.NoError(t, err)
	require.Equal(t, uint64(3), sn.Seqnum)
}

func TestCursorPositionUnsetBeforeFirstStep(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)
	_, err := c.Position()
	require.Error(t, err)
}

func TestCursorReverseImmediatelyReturnsToPrevious(t *testing.T) {
	of, _ := openFixture(t)
	c := New(of)

	ok, err := c.Step(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	first, err := c.GetSeqnum()
	require.NoError(t, err)

	ok, err = c.Step(Forward)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Step(Backward)
	require.NoError(t, err)
	require.True(t, ok)
	back, err := c.GetSeqnum()
	require.NoError(t, err)
	require.Equal(t, first.Seqnum, back.Seqnum)
}
