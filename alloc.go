// Package tieredalloc is a tiered, concurrent general-purpose allocator:
// a per-thread allocation buffer (TLAB) backed by a fixed fleet of
// per-processor LocalHeaps, backed in turn by one process-wide GlobalHeap
// reservoir, backed by raw OS pages (internal/pagesource). See
// SPEC_FULL.md for the full component design.
//
// Go has no true per-OS-thread TLS, so the primary surface here is an
// explicit handle: call Bind to obtain a *Cache standing in for what an
// out-of-process cgo shim would keep in thread-local storage, use it for
// the life of one execution context, and Close it on exit. The
// package-level Malloc/Free/AlignedAlloc/UsableSize functions exist for
// bootstrap and single-goroutine callers that never bind explicitly; they
// are backed by a bump-only arena, not the tiered heap (see bootstrap.go).
package tieredalloc

import (
	"runtime"
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/binding"
	"github.com/orizon-lang/tieredalloc/internal/config"
	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/localheap"
	"github.com/orizon-lang/tieredalloc/internal/pagesource"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
	"github.com/orizon-lang/tieredalloc/internal/tlab"
)

// emptyCacheCap bounds how many fully-empty superblocks the GlobalHeap
// keeps warm before returning them to pagesource (spec §4.3).
const emptyCacheCap = 8

// Allocator is one process-lifetime instance of the whole tiered heap
// (spec §9: "GlobalHeap, the LocalHeap fleet, and PageSource are
// process-lifetime singletons; only the TLAB is created/destroyed per
// thread"). Most programs use the package-level default instance via
// Bind/Malloc/Free rather than constructing one directly.
type Allocator struct {
	cfg     config.Config
	table   *sizeclass.Table
	pages   pagesource.Source
	global  *globalheap.Heap
	locals  []*localheap.Heap
	binder  *binding.Manager
	live    *config.Live
	watcher *config.Watcher
	big     *bigRegistry
	sbSize  uintptr
}

// New builds an Allocator from cfg, initializing GlobalHeap before the
// LocalHeap fleet before anything else can touch them (spec §9 init
// order). NumLocalHeaps of 0 resolves to 2x GOMAXPROCS.
func New(cfg config.Config) (*Allocator, error) {
	if cfg.NumLocalHeaps <= 0 {
		cfg.NumLocalHeaps = 2 * runtime.GOMAXPROCS(0)
	}

	// DebugMode gates a process-wide canary check (internal/superblock),
	// not a per-Allocator one: there is normally exactly one process-
	// lifetime Allocator (spec §9), so this only matters if a program
	// builds more than one with different settings, in which case the
	// most recently constructed one wins.
	superblock.DebugMode.Store(cfg.DebugMode)

	pages := pagesource.Default()
	table := sizeclass.New(cfg.SMax)
	global := globalheap.New(table, pages, cfg.SBSize, emptyCacheCap)

	evict := localheap.EvictionParams{F: cfg.EvictFraction, K: cfg.EvictSlack}
	locals := make([]*localheap.Heap, cfg.NumLocalHeaps)

	for i := range locals {
		locals[i] = localheap.New(i, table, global, cfg.SBSize, evict)
	}

	live := config.NewLive(cfg)

	watcher, err := config.WatchFile(cfg, live)
	if err != nil {
		return nil, err
	}

	return &Allocator{
		cfg:     cfg,
		table:   table,
		pages:   pages,
		global:  global,
		locals:  locals,
		binder:  binding.New(locals),
		live:    live,
		watcher: watcher,
		big:     newBigRegistry(pages),
		sbSize:  cfg.SBSize,
	}, nil
}

// Close stops the config watcher, if any. It does not return any
// outstanding superblocks; Allocators are meant to live for the process.
func (a *Allocator) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}

	return nil
}

// cleanupArgs is what a Cache's runtime.AddCleanup safety net closes over.
// It must not reference the Cache itself (or any value that points back to
// it), since a cleanup argument that keeps its own target alive would never
// run.
type cleanupArgs struct {
	tlab   *tlab.Cache
	binder *binding.Manager
	idx    int
	sbSize uintptr
}

func flushAndUnbind(a cleanupArgs) {
	a.tlab.Flush(func(p unsafe.Pointer) *superblock.Header {
		return superblock.OwnerOf(p, a.sbSize)
	})
	a.binder.Unbind(a.idx)
}

// Bind hands the calling execution context its own *Cache, load-balanced
// across the LocalHeap fleet by bound-thread count (spec §4.7). The
// calling goroutine's OS thread is pinned for the binding's lifetime with
// runtime.LockOSThread (spec §5: "threads ... realized as goroutines
// pinned with runtime.LockOSThread"), so the caller must eventually call
// Close from the same goroutine that called Bind.
//
// A caller that never calls Close leaks its ref count and cached blocks
// forever; as a safety net, a runtime.AddCleanup is registered on the
// returned Cache to flush its TLAB and release the binding once the Cache
// itself becomes unreachable (spec §5's "Unbind fallback"). This is a
// backstop, not a substitute for calling Close promptly: the cleanup only
// fires on the next GC cycle after the Cache is collected, not on the
// thread exit it is meant to model.
func (a *Allocator) Bind() *Cache {
	local, idx := a.binder.Bind()
	runtime.LockOSThread()

	c := &Cache{
		a:     a,
		local: local,
		idx:   idx,
		tlab:  newTLAB(a, local),
	}

	runtime.AddCleanup(c, flushAndUnbind, cleanupArgs{
		tlab:   c.tlab,
		binder: a.binder,
		idx:    idx,
		sbSize: a.sbSize,
	})

	return c
}

// GlobalHeap returns the process-wide reservoir, for introspect.Take.
func (a *Allocator) GlobalHeap() *globalheap.Heap { return a.global }

// LocalHeaps returns the per-processor fleet, for introspect.Take.
func (a *Allocator) LocalHeaps() []*localheap.Heap { return a.locals }

// remoteFree delivers a block to the LocalHeap that owns it when the
// freeing Cache is bound to a different heap (spec §4.4, §4.5 "remote
// free"). It bypasses the freeing Cache's TLAB entirely, going straight to
// the owning heap's single-block path.
func (a *Allocator) remoteFree(owner superblock.Owner, p unsafe.Pointer, sb *superblock.Header) {
	a.binder.Heap(int(owner)).Free(p, sb)
}
