package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/internal/testutil"
)

var winCfg = testutil.SmallWindowConfig

func TestRetainDeletesOldestUntilMaxFilesSatisfied(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.journal")
	f2 := filepath.Join(dir, "f2.journal")
	f3 := filepath.Join(dir, "f3.journal")
	testutil.SingleMessageFixture(t, f1, "MESSAGE", "hi", 1_000_000)
	testutil.SingleMessageFixture(t, f2, "MESSAGE", "hi", 2_000_000)
	testutil.SingleMessageFixture(t, f3, "MESSAGE", "hi", 3_000_000)

	c := &Chain{dir: dir, policy: Policy{MaxFiles: 2}, winCfg: winCfg, nowFunc: func() time.Time { return time.Unix(0, 0) }}
	c.Add(f1)
	c.Add(f2)
	c.Add(f3)

	require.NoError(t, c.Retain())

	_, err := os.Stat(f1)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(f2)
	require.NoError(t, err)
	_, err = os.Stat(f3)
	require.NoError(t, err)
	require.Equal(t, []string{f2, f3}, c.Members())
}

func TestRetainSatisfiedDoesNothing(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.journal")
	testutil.SingleMessageFixture(t, f1, "MESSAGE", "hi", 1_000_000)

	c := &Chain{dir: dir, policy: Policy{MaxFiles: 5}, winCfg: winCfg, nowFunc: func() time.Time { return time.Unix(0, 0) }}
	c.Add(f1)

	require.NoError(t, c.Retain())
	require.Equal(t, []string{f1}, c.Members())
}
