package histogram

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vkalintiris/journal-go/indexing"
	"github.com/vkalintiris/journal-go/internal/testutil"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/registry"
	"github.com/vkalintiris/journal-go/window"
)

func TestGetHistogramEventuallyCompletesBucket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.journal")
	testutil.SingleMessageFixture(t, path, "PRIORITY", "6", 1_000_000)

	reg := registry.New(window.Config{MinWindow: 4096})
	require.NoError(t, reg.Scan(dir))

	ctx := context.Background()
	idx, err := indexing.New(ctx, indexing.Config{
		DiskBlockPath: filepath.Join(dir, "blocks"),
		Window:        window.Config{MinWindow: 4096},
	})
	require.NoError(t, err)
	idx.Start(ctx)
	t.Cleanup(func() { idx.Close() })

	svc, err := New(reg, idx, Config{})
	require.NoError(t, err)

	req := Request{AfterSecs: 0, BeforeSecs: 2, Facets: []objfile.FieldName{"PRIORITY"}}

	require.Eventually(t, func() bool {
		resp, err := svc.GetHistogram(ctx, req)
		if err != nil || len(resp.Buckets) == 0 {
			return false
		}
		for _, b := range resp.Buckets {
			if b.Response.IsComplete() {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
