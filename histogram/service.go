package histogram

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vkalintiris/journal-go/cursor"
	"github.com/vkalintiris/journal-go/indexing"
	"github.com/vkalintiris/journal-go/metrics"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/registry"
	"github.com/vkalintiris/journal-go/telemetry"
)

var log = logging.Logger("histogram")

// Request is a HistogramRequest per spec.md §4.9/§6.
type Request struct {
	AfterSecs, BeforeSecs uint64
	Facets                []objfile.FieldName
	Filter                cursor.Filter
}

// Response pairs each bucket's request with its (partial or complete)
// response, in ascending bucket order.
type Response struct {
	Buckets []struct {
		Request  BucketRequest
		Response *BucketResponse
	}
}

// Config configures a Service's caches and per-query budgets.
type Config struct {
	PartialCacheSize  int           // default 4096
	CompleteCacheSize int           // default 4096
	TotalBudget       time.Duration // default 500ms
	PerFileBudget     time.Duration // default 100ms
}

func (c *Config) setDefaults() {
	if c.PartialCacheSize <= 0 {
		c.PartialCacheSize = 4096
	}
	if c.CompleteCacheSize <= 0 {
		c.CompleteCacheSize = 4096
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 500 * time.Millisecond
	}
	if c.PerFileBudget <= 0 {
		c.PerFileBudget = 100 * time.Millisecond
	}
}

// Service is the histogram query engine of spec.md §4.9.
type Service struct {
	cfg Config
	reg *registry.Registry
	idx *indexing.Service

	partial  *lru.Cache[uint64, *bucketState]
	complete *lru.Cache[uint64, *bucketState]

	otel *telemetry.Instruments
}

// SetInstruments wires optional OTel SDK instrumentation alongside
// the ambient Prometheus histogram-completion counter.
func (s *Service) SetInstruments(in *telemetry.Instruments) { s.otel = in }

// New constructs a Service backed by reg (file discovery) and idx
// (the indexing cache).
func New(reg *registry.Registry, idx *indexing.Service, cfg Config) (*Service, error) {
	cfg.setDefaults()
	partial, err := lru.New[uint64, *bucketState](cfg.PartialCacheSize)
	if err != nil {
		return nil, err
	}
	complete, err := lru.New[uint64, *bucketState](cfg.CompleteCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, reg: reg, idx: idx, partial: partial, complete: complete}, nil
}

// GetHistogram runs the process-then-emit loop of spec.md §4.9: select
// a bucket duration, resolve each bucket's pending files against the
// indexing cache within budget, promote completed buckets, and return
// every bucket's response (partial or complete) in order.
func (s *Service) GetHistogram(ctx context.Context, req Request) (*Response, error) {
	duration := SelectBucketDuration(req.AfterSecs, req.BeforeSecs)
	boundaries := AlignedBoundaries(req.AfterSecs, req.BeforeSecs, duration)

	totalCtx, cancel := context.WithTimeout(ctx, s.cfg.TotalBudget)
	defer cancel()

	resp := &Response{}
	for i, start := range boundaries {
		end := start + duration
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		bucketReq := BucketRequest{Start: start, End: end, Facets: req.Facets, Filter: req.Filter}
		state := s.resolveBucket(totalCtx, bucketReq, duration)
		resp.Buckets = append(resp.Buckets, struct {
			Request  BucketRequest
			Response *BucketResponse
		}{Request: bucketReq, Response: state.response()})
	}
	return resp, nil
}

func (s *Service) resolveBucket(ctx context.Context, req BucketRequest, duration int64) *bucketState {
	key := hashBucketRequest(req)

	if state, ok := s.complete.Get(key); ok {
		return state
	}

	state, ok := s.partial.Get(key)
	if !ok {
		files := s.reg.FindFilesInRange(uint64(req.Start), uint64(req.End))
		identities := make([]string, len(files))
		for i, f := range files {
			identities[i] = f.File.Path
		}
		state = newBucketState(req, identities)
		s.partial.Add(key, state)
	}

	s.processPending(ctx, state, req, duration)

	if state.isComplete() {
		s.partial.Remove(key)
		s.complete.Add(key, state)
		metrics.HistogramBucketsComplete.Inc()
		if s.otel != nil {
			s.otel.HistogramComplete.Add(context.Background(), 1)
		}
	}
	return state
}

// processPending issues per-file cache lookups bounded by the
// service's total and per-file budgets, applying every hit to state.
// Misses are left pending for a future call, per spec.md §4.8's
// best-effort backfill contract.
func (s *Service) processPending(ctx context.Context, state *bucketState, req BucketRequest, duration int64) {
	for fileIdentity := range state.pending {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fileCtx, cancel := context.WithTimeout(ctx, s.cfg.PerFileBudget)
		fi, ok, err := s.idx.Lookup(fileCtx, fileIdentity, req.Facets, duration)
		cancel()
		if err != nil {
			log.Debugw("histogram: cache lookup failed", "file", fileIdentity, "err", err)
			continue
		}
		if !ok {
			s.idx.TryEnqueue(indexing.Request{Path: fileIdentity, Facets: req.Facets, BucketDurationSeconds: duration})
			continue
		}
		state.applyFileIndex(fileIdentity, fi, duration)
	}
}
