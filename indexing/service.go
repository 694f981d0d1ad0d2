// Package indexing implements the on-demand indexing service: a
// bounded work queue, a worker pool that runs the indexer and
// populates a hybrid memory+disk cache, and a cache-sufficiency
// lookup used by the histogram service.
package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/metrics"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/telemetry"
	"github.com/vkalintiris/journal-go/window"
)

var log = logging.Logger("indexing")

// Request is one unit of indexing work.
type Request struct {
	Path                  string
	Facets                []objfile.FieldName
	BucketDurationSeconds int64
	EnqueuedAt            time.Time
}

// Config configures a Service. Zero values fall back to the spec's
// stated defaults.
type Config struct {
	ChannelCapacity int           // default 100
	Workers         int           // default runtime.NumCPU()
	AgeDropWindow   time.Duration // default 2s (also the dedup TTL)
	MemoryCapacityMB int          // default 64
	DiskBlockPath    string       // default "<tempdir>/journal-go-index.blocks"
	Window           window.Config
}

func (c *Config) setDefaults() {
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = 100
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.AgeDropWindow <= 0 {
		c.AgeDropWindow = 2 * time.Second
	}
	if c.MemoryCapacityMB <= 0 {
		c.MemoryCapacityMB = 64
	}
}

// Service is the on-demand indexing pipeline described in
// spec.md §4.8.
type Service struct {
	cfg   Config
	queue chan Request
	cache *hybridCache

	inFlight *ttlcache.Cache[string, struct{}]

	enqueueRate ewma.MovingAverage
	rateMu      sync.Mutex

	group  *errgroup.Group
	cancel context.CancelFunc

	// otel is optional OTel SDK instrumentation mirroring package
	// metrics; nil unless SetInstruments is called.
	otel *telemetry.Instruments
}

// SetInstruments wires OTel SDK instrumentation alongside the ambient
// Prometheus metrics package, and registers the queue-depth gauge
// callback. Safe to call once before Start.
func (s *Service) SetInstruments(in *telemetry.Instruments) error {
	s.otel = in
	return in.RegisterQueueDepthCallback(func() int64 { return int64(len(s.queue)) })
}

// New constructs a Service and its cache; callers must call Start to
// launch the worker pool.
func New(ctx context.Context, cfg Config) (*Service, error) {
	cfg.setDefaults()
	if cfg.DiskBlockPath == "" {
		cfg.DiskBlockPath = filepath.Join(os.TempDir(), "journal-go-index.blocks")
	}
	cache, err := newHybridCache(ctx, cfg.MemoryCapacityMB, cfg.DiskBlockPath)
	if err != nil {
		return nil, err
	}
	inFlight := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.AgeDropWindow),
	)

	return &Service{
		cfg:         cfg,
		queue:       make(chan Request, cfg.ChannelCapacity),
		cache:       cache,
		inFlight:    inFlight,
		enqueueRate: ewma.NewMovingAverage(),
	}, nil
}

// Start launches the worker pool. It returns once all workers have
// been spawned; call Close (or cancel ctx) to stop them.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	go s.inFlight.Start()
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error { return s.worker(gctx) })
	}
}

// Close stops the worker pool and flushes the cache.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	s.inFlight.Stop()
	return s.cache.Close()
}

// TryEnqueue attempts a non-blocking send; it returns false if the
// queue is full, per the spec's try-send backpressure policy.
func (s *Service) TryEnqueue(req Request) bool {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	select {
	case s.queue <- req:
		s.rateMu.Lock()
		s.enqueueRate.Add(1)
		s.rateMu.Unlock()
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		log.Debugw("indexing queue full, dropping request", "path", req.Path)
		metrics.EnqueueDropsTotal.Inc()
		if s.otel != nil {
			s.otel.EnqueueDrops.Add(context.Background(), 1)
		}
		return false
	}
}

// EnqueueRate returns the smoothed requests/tick enqueue rate, used to
// inform backpressure logging.
func (s *Service) EnqueueRate() float64 {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	return s.enqueueRate.Value()
}

func (s *Service) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-s.queue:
			if !ok {
				return nil
			}
			s.handle(ctx, req)
		}
	}
}

func (s *Service) handle(ctx context.Context, req Request) {
	if time.Since(req.EnqueuedAt) > s.cfg.AgeDropWindow {
		log.Debugw("dropping aged-out indexing request", "path", req.Path)
		return
	}

	key := Key(req.Path, fingerprintFacets(req.Facets))
	if s.inFlight.Has(key) {
		return
	}

	if existing, ok, err := s.cache.Get(key); err == nil && ok && existing.BucketDuration <= req.BucketDurationSeconds {
		metrics.CacheResultsTotal.WithLabelValues("hit_memory").Inc()
		return
	}
	metrics.CacheResultsTotal.WithLabelValues("miss").Inc()

	s.inFlight.Set(key, struct{}{}, ttlcache.DefaultTTL)
	defer s.inFlight.Delete(key)

	start := time.Now()
	of, err := objfile.Open(req.Path, s.cfg.Window)
	if err != nil {
		log.Warnw("indexing: failed to open file", "path", req.Path, "err", err)
		metrics.IndexDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return
	}
	defer of.Close()

	fi, err := indexer.Index(of, indexer.Options{
		Facets:                req.Facets,
		BucketDurationSeconds: req.BucketDurationSeconds,
	})
	if err != nil {
		log.Warnw("indexing failed", "path", req.Path, "err", err)
		metrics.IndexDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return
	}
	elapsed := time.Since(start)
	metrics.IndexDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
	if s.otel != nil {
		s.otel.IndexDuration.Record(ctx, elapsed.Seconds())
	}

	if err := s.cache.Insert(key, fi); err != nil {
		log.Warnw("indexing: cache insert failed", "path", req.Path, "err", err)
	}
}

// Lookup is the cache-sufficiency check used by the histogram service:
// it returns a hit only if the cached index's bucket duration is at
// least as fine as minBucketDuration.
func (s *Service) Lookup(ctx context.Context, path string, facets []objfile.FieldName, minBucketDuration int64) (*indexer.FileIndex, bool, error) {
	key := Key(path, fingerprintFacets(facets))
	fi, ok, err := s.cache.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if fi.BucketDuration > minBucketDuration {
		return nil, false, nil
	}
	return fi, true, nil
}

func fingerprintFacets(facets []objfile.FieldName) string {
	h := sha256.New()
	for _, f := range facets {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
