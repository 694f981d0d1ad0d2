// Package retention implements the chain/retention component: the
// directory's files ordered by (head_realtime, head_seqnum), and a
// delete-oldest-first policy enforcer invoked on startup and after
// every rotation.
package retention

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vkalintiris/journal-go/metrics"
	"github.com/vkalintiris/journal-go/objfile"
	"github.com/vkalintiris/journal-go/registry"
	"github.com/vkalintiris/journal-go/telemetry"
	"github.com/vkalintiris/journal-go/window"
)

var log = logging.Logger("retention")

// Policy bounds a chain's retained files. A zero value for any field
// means that dimension is unbounded.
type Policy struct {
	MaxFiles uint64
	MaxBytes uint64
	MaxAge   time.Duration
}

type member struct {
	path         string
	headRealtime uint64
	headSeqnum   uint64
	size         int64
}

// Chain tracks a directory's files in (head_realtime, head_seqnum)
// order and enforces a Policy against them.
type Chain struct {
	mu       sync.Mutex
	dir      string
	policy   Policy
	winCfg   window.Config
	members  []member
	nowFunc  func() time.Time
	otel     *telemetry.Instruments
}

// SetInstruments wires optional OTel SDK instrumentation alongside
// the ambient Prometheus retention-deletions counter.
func (c *Chain) SetInstruments(in *telemetry.Instruments) { c.otel = in }

// NewChain builds a Chain over reg's current entries, used at
// startup to seed the in-memory ordering from a directory scan.
func NewChain(dir string, policy Policy, winCfg window.Config, reg *registry.Registry) *Chain {
	c := &Chain{dir: dir, policy: policy, winCfg: winCfg, nowFunc: time.Now}
	for _, e := range reg.All() {
		c.addEntry(e.File.Path, e.HeadRealtime)
	}
	return c
}

func (c *Chain) addEntry(path string, headRealtime uint64) {
	size, headSeqnum := c.statMember(path)
	c.mu.Lock()
	c.members = append(c.members, member{path: path, headRealtime: headRealtime, headSeqnum: headSeqnum, size: size})
	c.mu.Unlock()
}

func (c *Chain) statMember(path string) (size int64, headSeqnum uint64) {
	fi, err := os.Stat(path)
	if err == nil {
		size = fi.Size()
	}
	of, err := objfile.Open(path, c.winCfg)
	if err == nil {
		headSeqnum = of.Header.HeadSeqnum
		of.Close()
	}
	return
}

// Add registers a newly archived file in the chain, e.g. right after
// rotation renames the active file.
func (c *Chain) Add(path string) {
	size, headSeqnum := c.statMember(path)
	var headRealtime uint64
	if of, err := objfile.Open(path, c.winCfg); err == nil {
		headRealtime = of.Header.HeadRealtime
		of.Close()
	}
	c.mu.Lock()
	c.members = append(c.members, member{path: path, headRealtime: headRealtime, headSeqnum: headSeqnum, size: size})
	c.mu.Unlock()
}

// Retain deletes the oldest files until count, total bytes, and age
// all satisfy the policy. Filesystem errors during deletion are
// logged and do not abort the loop; the member is dropped from the
// in-memory chain regardless so retention still converges.
func (c *Chain) Retain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(c.members, func(i, j int) bool {
		if c.members[i].headRealtime != c.members[j].headRealtime {
			return c.members[i].headRealtime < c.members[j].headRealtime
		}
		return c.members[i].headSeqnum < c.members[j].headSeqnum
	})

	now := c.nowFunc()
	var cutoff uint64
	if c.policy.MaxAge > 0 {
		cutoff = uint64(now.Add(-c.policy.MaxAge).UnixMicro())
	}

	for c.violatesPolicy(cutoff) {
		victim := c.members[0]
		c.members = c.members[1:]
		if err := os.Remove(victim.path); err != nil && !os.IsNotExist(err) {
			log.Warnw("retention delete failed", "path", victim.path, "err", err)
			metrics.RetentionDeletionsTotal.WithLabelValues("error").Inc()
			continue
		}
		log.Infow("retention deleted file", "path", victim.path, "size", humanize.Bytes(uint64(victim.size)), "age", c.nowFunc().Sub(time.UnixMicro(int64(victim.headRealtime))))
		metrics.RetentionDeletionsTotal.WithLabelValues("ok").Inc()
		if c.otel != nil {
			c.otel.RetentionDeletions.Add(context.Background(), 1)
		}
	}
	return nil
}

func (c *Chain) violatesPolicy(cutoff uint64) bool {
	if len(c.members) == 0 {
		return false
	}
	if c.policy.MaxFiles > 0 && uint64(len(c.members)) > c.policy.MaxFiles {
		return true
	}
	if c.policy.MaxBytes > 0 {
		var total int64
		for _, m := range c.members {
			total += m.size
		}
		if uint64(total) > c.policy.MaxBytes {
			return true
		}
	}
	if c.policy.MaxAge > 0 && c.members[0].headRealtime < cutoff {
		return true
	}
	return false
}

// Members returns a snapshot of the current chain, oldest first.
func (c *Chain) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.members))
	for i, m := range c.members {
		out[i] = m.path
	}
	return out
}
