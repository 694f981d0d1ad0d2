package registry

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/window"
)

var log = logging.Logger("registry")

// Entry is one registered journal file together with the time range it
// covers, derived from its header on registration.
type Entry struct {
	File         File
	HeadRealtime uint64
	TailRealtime uint64 // ignored (treated as +inf) when File.IsActive()
}

// Registry watches one or more directories and keeps an index of the
// journal files found there, keyed by path; FindFilesInRange returns
// its matches sorted by (head_realtime, path).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry // path -> entry
	watcher *fsnotify.Watcher
	winCfg  window.Config

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an empty, unwatched Registry. winCfg configures the
// window manager used to peek at a candidate file's header.
func New(winCfg window.Config) *Registry {
	return &Registry{entries: make(map[string]Entry), winCfg: winCfg, done: make(chan struct{})}
}

// Scan walks dir once, registering every journal file it can parse and
// open.
func (r *Registry) Scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		r.tryAdd(filepath.Join(dir, de.Name()))
	}
	return nil
}

// Watch begins watching dir for file creation/removal and keeps the
// index updated as files rotate in and out.
func (r *Registry) Watch(dir string) error {
	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		r.watcher = w
		go r.watchLoop()
	}
	if err := r.watcher.Add(dir); err != nil {
		return err
	}
	return r.Scan(dir)
}

func (r *Registry) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				r.tryAdd(ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				r.remove(ev.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("watcher error", "err", err)
		case <-r.done:
			return
		}
	}
}

func (r *Registry) tryAdd(path string) {
	f, ok := Parse(path)
	if !ok {
		log.Debugw("ignoring unparseable path", "path", path)
		return
	}
	entry := Entry{File: f}
	if h, err := peekHeader(path, r.winCfg); err == nil {
		entry.HeadRealtime = h.HeadRealtime
		entry.TailRealtime = h.TailRealtime
		if fi, statErr := os.Stat(path); statErr == nil {
			log.Debugw("registered journal file", "path", path, "size", humanize.Bytes(uint64(fi.Size())))
		}
	} else {
		log.Debugw("could not read header, registering without time range", "path", path, "err", err)
	}
	r.mu.Lock()
	r.entries[path] = entry
	r.mu.Unlock()
}

func (r *Registry) remove(path string) {
	r.mu.Lock()
	delete(r.entries, path)
	r.mu.Unlock()
}

func peekHeader(path string, cfg window.Config) (objfile.Header, error) {
	of, err := objfile.Open(path, cfg)
	if err != nil {
		return objfile.Header{}, err
	}
	defer of.Close()
	return of.Header, nil
}

// FindFilesInRange returns every registered file whose
// [head_realtime, tail_realtime] intersects [afterSecs, beforeSecs],
// where active files' tail is treated as +infinity, sorted by
// (head_realtime, path) ascending.
func (r *Registry) FindFilesInRange(afterSecs, beforeSecs uint64) []Entry {
	afterMicros := afterSecs * 1_000_000
	beforeMicros := beforeSecs * 1_000_000

	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		tail := e.TailRealtime
		if e.File.IsActive() {
			tail = ^uint64(0)
		}
		if e.HeadRealtime <= beforeMicros && tail >= afterMicros {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].HeadRealtime != out[j].HeadRealtime {
			return out[i].HeadRealtime < out[j].HeadRealtime
		}
		return out[i].File.Path < out[j].File.Path
	})
	return out
}

// All returns every registered entry, unordered.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Close stops the watch loop, if any.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
