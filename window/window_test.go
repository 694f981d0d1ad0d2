package window

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateMutExtendsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path, true, Config{MaxResidentBytes: 0, MinWindow: 4096})
	require.NoError(t, err)
	defer m.Close()

	g, err := m.CreateMut(0, 16)
	require.NoError(t, err)
	copy(g.Bytes(), []byte("hello world!!!!!"))
	g.Release()

	length, err := m.Len()
	require.NoError(t, err)
	require.GreaterOrEqual(t, length, int64(16))

	g2, err := m.Create(0, 16)
	require.NoError(t, err)
	defer g2.Release()
	require.Equal(t, "hello world!!!!!", string(g2.Bytes()))
}

func TestAlignedWindowGrowsToCoverRange(t *testing.T) {
	off, length := alignedWindow(100, 50, 64)
	require.LessOrEqual(t, off, int64(100))
	require.GreaterOrEqual(t, off+length, int64(150))
}

func TestCreateRejectsNegativeRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.journal")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	m, err := Open(path, false, DefaultConfig)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Create(-1, 10)
	require.Error(t, err)
}
