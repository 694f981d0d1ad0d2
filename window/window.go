// Package window implements the sliding mmap window manager that
// backs every read and write against a journal file. Callers never
// touch mmap syscalls directly; they lease byte ranges through a
// Manager and release them when done.
package window

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"

	logging "github.com/ipfs/go-log/v2"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/vkalintiris/journal-go/journalerr"
)

var log = logging.Logger("window")

// Config bounds the Manager's resident memory.
type Config struct {
	// MaxResidentBytes caps the sum of resident window lengths. Zero
	// means unbounded (only used in tests).
	MaxResidentBytes int64
	// MinWindow is the smallest window size requested lengths are
	// rounded up to; it must be a power of two.
	MinWindow int64
}

// DefaultConfig matches typical page-aligned windows with a generous
// resident budget for a single open file.
var DefaultConfig = Config{
	MaxResidentBytes: 64 << 20,
	MinWindow:        1 << 16,
}

type win struct {
	offset   int64
	length   int64
	writable bool
	data     []byte
	refs     int
	// For a read-only window, data is a copy read through roReaderAt;
	// for a writable one, data is the unix.Mmap-returned slice (which
	// must be Munmap'd, not just dropped).
	roReaderAt *mmap.ReaderAt
}

// winKey identifies a cached window by its aligned offset and
// whether it was mapped writable. A writable manager only creates
// writable windows and a read-only manager only read-only copy
// windows; keeping the flag in the key prevents CreateMut from ever
// being handed a throwaway read-only buffer.
type winKey struct {
	offset   int64
	writable bool
}

// Manager owns the backing mmap(s) for one open file and hands out
// reference-counted Guards over byte ranges of it.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	writable bool
	cfg      Config

	windows  map[winKey]*win
	lru      *lru.LRU[winKey, *win]
	resident int64
}

// Open creates a Manager over path. If writable is true, windows are
// created with PROT_READ|PROT_WRITE and msync'd on release.
func Open(path string, writable bool, cfg Config) (*Manager, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, journalerr.New(journalerr.Io, "window.Open", path, err)
	}
	m := &Manager{file: f, path: path, writable: writable, cfg: cfg}
	m.lru, _ = lru.NewLRU[winKey, *win](1<<30, m.onEvict)
	return m, nil
}

func (m *Manager) onEvict(key winKey, w *win) {
	// Called with m.mu already held by Release or create paths.
	if w.refs > 0 {
		return
	}
	m.evictWindow(w)
}

func (m *Manager) evictWindow(w *win) {
	if w.writable && w.data != nil {
		if err := unix.Msync(w.data, unix.MS_SYNC); err != nil {
			log.Warnw("msync on evict failed", "path", m.path, "err", err)
		}
		if err := unix.Munmap(w.data); err != nil {
			log.Warnw("munmap on evict failed", "path", m.path, "err", err)
		}
	} else if w.roReaderAt != nil {
		w.roReaderAt.Close()
	}
	m.resident -= w.length
	delete(m.windows, winKey{offset: w.offset, writable: w.writable})
}

func roundUp(v, mult int64) int64 {
	if mult <= 0 {
		return v
	}
	r := v % mult
	if r == 0 {
		return v
	}
	return v + (mult - r)
}

func nextPow2(v int64) int64 {
	p := int64(1)
	for p < v {
		p <<= 1
	}
	return p
}

func alignedWindow(offset, length, minWindow int64) (winOffset, winLen int64) {
	size := nextPow2(length)
	if size < minWindow {
		size = minWindow
	}
	winOffset = (offset / size) * size
	winLen = size
	for winOffset+winLen < offset+length {
		winLen *= 2
	}
	return
}

// Guard is a leased byte range. Callers must call Release exactly once.
type Guard struct {
	m      *Manager
	w      *win
	offset int64 // absolute file offset
	length int64
}

// Bytes returns the leased range's backing slice. The slice is only
// valid until Release is called.
func (g *Guard) Bytes() []byte {
	start := g.offset - g.w.offset
	return g.w.data[start : start+g.length]
}

// Release drops the guard's reference on its window. The window may
// be evicted immediately afterward if the manager is over budget.
func (g *Guard) Release() {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	g.w.refs--
	if g.w.refs == 0 {
		if g.w.writable {
			if err := unix.Msync(g.w.data, unix.MS_ASYNC); err != nil {
				log.Warnw("msync on release failed", "path", g.m.path, "err", err)
			}
		}
		g.m.lru.Add(winKey{offset: g.w.offset, writable: g.w.writable}, g.w)
		g.m.enforceBudget()
	}
}

func (m *Manager) enforceBudget() {
	if m.cfg.MaxResidentBytes <= 0 {
		return
	}
	for m.resident > m.cfg.MaxResidentBytes {
		k, w, ok := m.lru.GetOldest()
		if !ok {
			return
		}
		if w.refs > 0 {
			return
		}
		m.lru.Remove(k)
		m.evictWindow(w)
	}
}

func (m *Manager) getOrCreate(offset, length int64, writable bool) (*win, error) {
	minWindow := m.cfg.MinWindow
	if minWindow == 0 {
		minWindow = DefaultConfig.MinWindow
	}
	// A writable manager serves read leases from its shared writable
	// mappings too, so reads observe earlier writes through CreateMut.
	if m.writable {
		writable = true
	}
	wOff, wLen := alignedWindow(offset, length, minWindow)
	key := winKey{offset: wOff, writable: writable}

	if w, ok := m.windows[key]; ok && w.length >= wLen {
		return w, nil
	}
	if w, ok := m.lru.Peek(key); ok && w.length >= wLen {
		m.lru.Remove(key)
		m.windows[key] = w
		return w, nil
	}

	if writable {
		need := wOff + wLen
		st, err := m.file.Stat()
		if err != nil {
			return nil, journalerr.New(journalerr.Io, "window.stat", m.path, err)
		}
		if st.Size() < need {
			if err := m.file.Truncate(need); err != nil {
				return nil, journalerr.New(journalerr.DiskFull, "window.extend", m.path, err)
			}
		}
		data, err := unix.Mmap(int(m.file.Fd()), wOff, int(wLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, journalerr.New(journalerr.Io, "window.mmap", m.path, err)
		}
		w := &win{offset: wOff, length: wLen, writable: true, data: data}
		m.windows[key] = w
		m.resident += w.length
		return w, nil
	}

	ra, err := mmap.Open(m.path)
	if err != nil {
		return nil, journalerr.New(journalerr.Io, "window.mmap", m.path, err)
	}
	end := wOff + wLen
	if int64(ra.Len()) < end {
		end = int64(ra.Len())
	}
	if end <= wOff {
		ra.Close()
		return nil, journalerr.New(journalerr.InvalidOffset, "window.mmap", m.path, fmt.Errorf("offset %d beyond file length %d", wOff, ra.Len()))
	}
	buf := make([]byte, end-wOff)
	if _, err := ra.ReadAt(buf, wOff); err != nil {
		ra.Close()
		return nil, journalerr.New(journalerr.Io, "window.read", m.path, err)
	}
	w := &win{offset: wOff, length: int64(len(buf)), writable: false, data: buf, roReaderAt: ra}
	m.windows[key] = w
	m.resident += w.length
	return w, nil
}

func (m *Manager) lease(offset, length int64, writable bool) (*Guard, error) {
	if offset < 0 || length < 0 {
		return nil, journalerr.New(journalerr.InvalidOffset, "window.lease", m.path, fmt.Errorf("negative offset/length"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windows == nil {
		m.windows = make(map[winKey]*win)
	}
	w, err := m.getOrCreate(offset, length, writable)
	if err != nil {
		return nil, err
	}
	if offset+length > w.offset+w.length {
		return nil, journalerr.New(journalerr.InvalidOffset, "window.lease", m.path, fmt.Errorf("range exceeds window"))
	}
	w.refs++
	return &Guard{m: m, w: w, offset: offset, length: length}, nil
}

// Create returns a read-only guard over [offset, offset+length).
func (m *Manager) Create(offset, length int64) (*Guard, error) {
	return m.lease(offset, length, false)
}

// CreateMut returns a writable guard, extending the backing file if
// necessary. Writes through Bytes() are flushed to disk on Release.
func (m *Manager) CreateMut(offset, length int64) (*Guard, error) {
	if !m.writable {
		return nil, journalerr.New(journalerr.InvariantViolated, "window.CreateMut", m.path, fmt.Errorf("manager opened read-only"))
	}
	return m.lease(offset, length, true)
}

// Close releases the manager's underlying file handle. All windows
// must have zero outstanding guards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A released window sits in both m.windows and the LRU until
	// budget pressure evicts it; evict each distinct *win once.
	seen := make(map[*win]bool)
	for _, w := range m.windows {
		if !seen[w] {
			seen[w] = true
			m.evictWindow(w)
		}
	}
	for _, k := range m.lru.Keys() {
		if w, ok := m.lru.Peek(k); ok && !seen[w] {
			seen[w] = true
			m.evictWindow(w)
		}
	}
	return m.file.Close()
}

// Len returns the current on-disk file length.
func (m *Manager) Len() (int64, error) {
	st, err := m.file.Stat()
	if err != nil {
		return 0, journalerr.New(journalerr.Io, "window.Len", m.path, err)
	}
	return st.Size(), nil
}
