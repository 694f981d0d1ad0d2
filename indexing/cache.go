package indexing

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/allegro/bigcache/v3"

	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/journalerr"
)

// diskLocation records where one evicted FileIndex lives in the
// append-only disk block file.
type diskLocation struct {
	offset int64
	size   int64
}

// hybridCache is a memory-first, disk-backed FileIndex cache. Memory
// tier is a bigcache ring buffer; on eviction the entry is persisted
// to an append-only block file with an in-memory offset directory, so
// a cold lookup still finds entries bigcache has since overwritten.
// Disk entries are never deleted individually: the block file grows
// monotonically and is compacted by a separate maintenance process,
// out of scope here.
type hybridCache struct {
	mem *bigcache.BigCache

	mu       sync.Mutex
	disk     *os.File
	diskSize int64
	dirIndex map[string]diskLocation
}

func newHybridCache(ctx context.Context, memCapacityMB int, diskPath string) (*hybridCache, error) {
	f, err := os.OpenFile(diskPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, journalerr.Wrap(journalerr.Io, "indexing.newHybridCache", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, journalerr.Wrap(journalerr.Io, "indexing.newHybridCache", err)
	}

	hc := &hybridCache{disk: f, diskSize: fi.Size(), dirIndex: make(map[string]diskLocation)}

	cfg := bigcache.DefaultConfig(0)
	cfg.HardMaxCacheSize = memCapacityMB
	cfg.OnRemove = func(key string, entry []byte) {
		if err := hc.spillToDisk(key, entry); err != nil {
			log.Warnw("failed to spill evicted index to disk", "key", key, "err", err)
		}
	}

	mem, err := bigcache.New(ctx, cfg)
	if err != nil {
		f.Close()
		return nil, journalerr.Wrap(journalerr.CacheError, "indexing.newHybridCache", err)
	}
	hc.mem = mem
	return hc, nil
}

func (hc *hybridCache) spillToDisk(key string, entry []byte) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	n, err := hc.disk.Write(entry)
	if err != nil {
		return err
	}
	hc.dirIndex[key] = diskLocation{offset: hc.diskSize, size: int64(n)}
	hc.diskSize += int64(n)
	return nil
}

// Insert stores fi in the memory tier under key.
func (hc *hybridCache) Insert(key string, fi *indexer.FileIndex) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fi); err != nil {
		return journalerr.Wrap(journalerr.CacheError, "indexing.hybridCache.Insert", err)
	}
	if err := hc.mem.Set(key, buf.Bytes()); err != nil {
		return journalerr.Wrap(journalerr.CacheError, "indexing.hybridCache.Insert", err)
	}
	return nil
}

// Get looks up key, checking the memory tier first and falling back to
// the disk tier's offset directory.
func (hc *hybridCache) Get(key string) (*indexer.FileIndex, bool, error) {
	if b, err := hc.mem.Get(key); err == nil {
		return decodeFileIndex(b)
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, journalerr.Wrap(journalerr.CacheError, "indexing.hybridCache.Get", err)
	}

	hc.mu.Lock()
	loc, ok := hc.dirIndex[key]
	hc.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	b := make([]byte, loc.size)
	if _, err := hc.disk.ReadAt(b, loc.offset); err != nil {
		return nil, false, journalerr.Wrap(journalerr.Io, "indexing.hybridCache.Get", err)
	}
	fi, _, err := decodeFileIndex(b)
	return fi, fi != nil, err
}

func decodeFileIndex(b []byte) (*indexer.FileIndex, bool, error) {
	var fi indexer.FileIndex
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&fi); err != nil {
		return nil, false, journalerr.Wrap(journalerr.CacheError, "indexing.decodeFileIndex", err)
	}
	return &fi, true, nil
}

// Close flushes pending writes: the disk file's dirty pages, and drops
// the memory tier.
func (hc *hybridCache) Close() error {
	if err := hc.mem.Close(); err != nil {
		return journalerr.Wrap(journalerr.CacheError, "indexing.hybridCache.Close", err)
	}
	if err := hc.disk.Sync(); err != nil {
		return journalerr.Wrap(journalerr.Io, "indexing.hybridCache.Close", err)
	}
	return hc.disk.Close()
}

// Key composes the cache key for a (file_identity, facets_fingerprint)
// pair.
func Key(fileIdentity, facetsFingerprint string) string {
	return fmt.Sprintf("%s|%s", fileIdentity, facetsFingerprint)
}
