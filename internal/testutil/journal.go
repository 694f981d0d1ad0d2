// Package testutil holds small fixture generators shared across this
// repository's _test.go files, in place of importing a property-testing
// library the example corpus never reaches for.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/window"
)

// SmallWindowConfig is a window.Config tuned for fast, small-file
// tests: a 4KiB minimum window comfortably covers a fixture file
// without forcing multiple window rotations.
var SmallWindowConfig = window.Config{MinWindow: 4096}

// Entry is one fixture entry passed to WriteFixture.
type Entry struct {
	Items     []objfile.FieldValue
	Realtime  uint64
	Monotonic uint64
	BootID    [16]byte
}

// WriteFixture creates a fresh journal file at path containing
// entries in order, using SmallWindowConfig, and returns the
// per-entry sequence numbers assigned.
func WriteFixture(t *testing.T, path string, entries []Entry) []uint64 {
	t.Helper()
	opts := objfile.DefaultCreateOptions()
	opts.Window = SmallWindowConfig
	w, err := objfile.Create(path, opts)
	require.NoError(t, err)
	defer w.Close()

	seqnums := make([]uint64, len(entries))
	for i, e := range entries {
		monotonic := e.Monotonic
		if monotonic == 0 {
			monotonic = e.Realtime
		}
		seq, err := w.AddEntry(e.Items, e.Realtime, monotonic, e.BootID)
		require.NoError(t, err)
		seqnums[i] = seq
	}
	return seqnums
}

// SingleMessageFixture writes a one-entry file at path with the given
// field/value pair at the given realtime, the common case across this
// repository's package tests.
func SingleMessageFixture(t *testing.T, path string, field objfile.FieldName, value string, realtime uint64) {
	t.Helper()
	WriteFixture(t, path, []Entry{{
		Items:    []objfile.FieldValue{{Field: field, Value: value}},
		Realtime: realtime,
	}})
}
