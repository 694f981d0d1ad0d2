package registry

import (
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseActiveSystemPath(t *testing.T) {
	f, ok := Parse("/var/log/journal/0123456789abcdef0123456789abcdef/system.journal")
	require.True(t, ok)
	require.True(t, f.IsActive())
	require.Equal(t, SourceSystem, f.Origin.Source.Kind)
	require.True(t, f.Origin.HasMachineID)
}

func TestParseArchivedPath(t *testing.T) {
	id := uuid.New()
	path := "/var/log/journal/m/" + ArchivedName("system", id, 42, 0xdeadbeef)
	f, ok := Parse(path)
	require.True(t, ok)
	require.True(t, f.IsArchived())
	require.Equal(t, id, f.Status.SeqnumID)
	require.Equal(t, uint64(42), f.Status.HeadSeqnum)
	require.Equal(t, uint64(0xdeadbeef), f.Status.HeadRealtime)
}

func TestParseDisposedPath(t *testing.T) {
	path := "/var/log/journal/m/" + DisposedName("user-1000", 0x1, 0x2)
	f, ok := Parse(path)
	require.True(t, ok)
	require.True(t, f.IsDisposed())
	require.Equal(t, uint64(1), f.Status.Timestamp)
	require.Equal(t, uint64(2), f.Status.Number)
	require.Equal(t, SourceUser, f.Origin.Source.Kind)
	require.Equal(t, uint32(1000), f.Origin.Source.UID)
}

func TestParseRemoteAndNamespace(t *testing.T) {
	f, ok := Parse("/var/log/journal/0123456789abcdef0123456789abcdef.staging/remote-host1.journal")
	require.True(t, ok)
	require.Equal(t, SourceRemote, f.Origin.Source.Kind)
	require.Equal(t, "host1", f.Origin.Source.Host)
	require.True(t, f.Origin.HasNamespace)
	require.Equal(t, "staging", f.Origin.Namespace)
}

func TestParseUnknownUserFallsBackToUnknown(t *testing.T) {
	f, ok := Parse("/var/log/journal/m/user-notanumber.journal")
	require.True(t, ok)
	require.Equal(t, SourceUnknown, f.Origin.Source.Kind)
}

func TestParseRejectsNonAbsolutePath(t *testing.T) {
	_, ok := Parse("relative/system.journal")
	require.False(t, ok)
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	_, ok := Parse("/var/log/journal/m/system@deadbeef.journal")
	require.False(t, ok)
}

func TestParseRejectsBadHexWidth(t *testing.T) {
	id := uuid.New()
	_, ok := Parse("/var/log/journal/m/system@" + hex.EncodeToString(id[:]) + "-2a-deadbeef.journal")
	require.False(t, ok)
}
