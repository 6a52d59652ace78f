// Package globalheap implements the process-wide superblock reservoir
// (spec §3 "GlobalHeap", §4.3). It is the overflow/underflow path for every
// LocalHeap: on a LocalHeap miss it hands out a non-full superblock of the
// requested size class (or carves a fresh one via internal/pagesource); on
// a LocalHeap eviction it accepts a mostly-empty superblock back and, once
// its empty-superblock cache grows past a small cap, returns the region to
// the OS.
//
// Grounded on the single-mutex, size-keyed bin bookkeeping in the
// teacher's internal/allocator/pool.go (PoolAllocatorImpl.pools), adapted
// from a map-of-fixed-size-pools to per-size-class emptiness bins so a
// superblock can be found "preferring the most-full bin" as spec §4.3
// requires.
package globalheap

import (
	"fmt"
	"sync"

	"github.com/orizon-lang/tieredalloc/internal/pagesource"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
)

// Bins is the number of emptiness bins per size class (spec's F, plus the
// full bin: F+1 total). Kept equal to localheap.Bins so superblocks moving
// between tiers keep a comparable bin index.
const Bins = 4

type classBins struct {
	blockSize uintptr
	bins      [Bins + 1][]*superblock.Header
}

// Heap is the single process-wide GlobalHeap instance.
type Heap struct {
	mu          sync.Mutex
	table       *sizeclass.Table
	pages       pagesource.Source
	sbSize      uintptr
	classes     []classBins
	emptyCache  []*superblock.Header
	emptyCap    int
	releaseHook func()
}

// New creates a GlobalHeap. emptyCap bounds how many fully-empty
// superblocks are kept warm (reusable across size classes via Relabel)
// before being handed back to pages.
func New(table *sizeclass.Table, pages pagesource.Source, sbSize uintptr, emptyCap int) *Heap {
	classes := make([]classBins, table.NumClasses())
	for i := range classes {
		classes[i].blockSize = table.BlockSize(i)
	}

	return &Heap{
		table:    table,
		pages:    pages,
		sbSize:   sbSize,
		classes:  classes,
		emptyCap: emptyCap,
	}
}

// Acquire returns a non-full superblock for sizeClass. The caller (a
// LocalHeap) is expected to set the returned superblock's owner under its
// own lock immediately afterward (spec §3 invariant 4); Acquire itself
// never touches owner beyond clearing it to OwnerNone for a fresh carve.
func (g *Heap) Acquire(sizeClass int) (*superblock.Header, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb := &g.classes[sizeClass]

	// Prefer the fullest non-full bin, minimizing internal fragmentation
	// left behind in emptier bins (spec §4.3).
	for bin := Bins - 1; bin >= 0; bin-- {
		if sb := popFrom(&cb.bins[bin]); sb != nil {
			return sb, nil
		}
	}

	// No partial superblock of this class anywhere: reuse a fully-empty
	// superblock from the cache, relabeling it to this class (spec §4.3,
	// valid per superblock.Relabel's precondition).
	if n := len(g.emptyCache); n > 0 {
		sb := g.emptyCache[n-1]
		g.emptyCache = g.emptyCache[:n-1]
		sb.Relabel(sizeClass, cb.blockSize)

		return sb, nil
	}

	region, err := g.pages.Acquire(g.sbSize)
	if err != nil {
		return nil, fmt.Errorf("globalheap: acquire region: %w", err)
	}

	return superblock.New(region, sizeClass, cb.blockSize), nil
}

// Release accepts a superblock evicted from a LocalHeap. The caller must
// have already cleared its owner to OwnerNone under the LocalHeap's lock
// before calling this.
func (g *Heap) Release(sb *superblock.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sb.SetOwner(superblock.OwnerGlobal)

	if sb.Used() == 0 {
		g.emptyCache = append(g.emptyCache, sb)
		g.trimEmptyCache()

		return
	}

	cb := &g.classes[sb.SizeClass()]
	bin := sb.EmptinessBin(Bins)
	sb.SetBinIndex(int32(bin))
	cb.bins[bin] = append(cb.bins[bin], sb)
}

// trimEmptyCache returns regions to the OS once the idle cache grows past
// its cap (spec §4.3: "If used==0 and the empty cache exceeds a small cap,
// returns the region to PageSource").
func (g *Heap) trimEmptyCache() {
	for len(g.emptyCache) > g.emptyCap {
		sb := g.emptyCache[0]
		g.emptyCache = g.emptyCache[1:]

		_ = g.pages.Release(sb.Region())
		if g.releaseHook != nil {
			g.releaseHook()
		}
	}
}

// SetReleaseHook installs a callback invoked once per region returned to
// the OS; used by tests to observe the release counter
// (spec §8 scenario 4).
func (g *Heap) SetReleaseHook(f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseHook = f
}

// Stats is a point-in-time, lock-protected snapshot for introspection.
type Stats struct {
	EmptyCached int
	PerClass    []ClassStats
}

type ClassStats struct {
	SizeClass int
	BlockSize uintptr
	PerBin    [Bins + 1]int
}

// Snapshot copies out current bin occupancy without holding the lock for
// longer than the copy itself (SPEC_FULL §4.9).
func (g *Heap) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{EmptyCached: len(g.emptyCache), PerClass: make([]ClassStats, len(g.classes))}
	for i, cb := range g.classes {
		cs := ClassStats{SizeClass: i, BlockSize: cb.blockSize}
		for b := 0; b <= Bins; b++ {
			cs.PerBin[b] = len(cb.bins[b])
		}

		s.PerClass[i] = cs
	}

	return s
}

func popFrom(bin *[]*superblock.Header) *superblock.Header {
	n := len(*bin)
	if n == 0 {
		return nil
	}

	sb := (*bin)[n-1]
	*bin = (*bin)[:n-1]

	return sb
}
