// Package localheap implements one of the P per-processor heaps that sit
// between the TLAB and the GlobalHeap (spec §3 "LocalHeap", §4.4). Each
// Heap owns its superblocks per size class, bucketed into emptiness bins,
// and applies the emptiness-fraction eviction heuristic that bounds total
// unused memory to O(P * SB_SIZE), preventing producer/consumer blowup.
//
// Grounded on the mutex-guarded, per-size bookkeeping in the teacher's
// internal/allocator/pool.go (PoolAllocatorImpl), generalized from a single
// flat pool per size to emptiness-binned superblock lists plus the
// aggregate u/a counters spec §3 assigns to LocalHeap.
package localheap

import (
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"

	"sync"
)

// Bins mirrors globalheap.Bins: superblocks keep a comparable emptiness
// bin index as they migrate between tiers.
const Bins = globalheap.Bins

// EvictionParams are the emptiness-heuristic knobs (spec §4.4, §9):
// after a free, a superblock is evicted back to the GlobalHeap when both
// U < A - K*SB_SIZE (at least K superblocks' worth of slack) and
// U < (1-F)*A hold.
type EvictionParams struct {
	F float64 // default 1/4
	K uint64  // default 1
}

type classBins struct {
	blockSize uintptr
	bins      [Bins + 1][]*superblock.Header
}

// Heap is one per-processor local heap.
type Heap struct {
	mu       sync.Mutex
	id       int
	table    *sizeclass.Table
	global   *globalheap.Heap
	sbSize   uintptr
	evict    EvictionParams
	classes  []classBins
	u        uintptr // bytes currently in use across all size classes
	a        uintptr // bytes held in superblocks owned by this heap
	refCount int32   // bound-thread count, read by binding for load balancing
}

// New creates a LocalHeap with the given identity (used as its Owner tag).
func New(id int, table *sizeclass.Table, global *globalheap.Heap, sbSize uintptr, evict EvictionParams) *Heap {
	classes := make([]classBins, table.NumClasses())
	for i := range classes {
		classes[i].blockSize = table.BlockSize(i)
	}

	return &Heap{id: id, table: table, global: global, sbSize: sbSize, evict: evict, classes: classes}
}

// ID returns this heap's index, also its superblock.Owner tag.
func (h *Heap) ID() int { return h.id }

// Malloc services a single-block TLAB miss (spec §4.4 steps 1-5).
func (h *Heap) Malloc(classIdx int) unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	sb := h.findOrAcquire(classIdx)
	if sb == nil {
		return nil
	}

	p := sb.Pop()
	h.u += sb.BlockSize()
	h.rebucket(classIdx, sb)

	return p
}

// BatchMalloc hands out up to want blocks of classIdx in one lock
// acquisition (spec §4.4 "Batch transfer"), drawing from as many
// superblocks as needed.
func (h *Heap) BatchMalloc(classIdx, want int) []unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]unsafe.Pointer, 0, want)

	for len(out) < want {
		sb := h.findOrAcquire(classIdx)
		if sb == nil {
			break
		}

		for len(out) < want {
			p := sb.Pop()
			if p == nil {
				break
			}

			h.u += sb.BlockSize()
			out = append(out, p)
		}

		h.rebucket(classIdx, sb)
	}

	return out
}

// findOrAcquire returns a non-full superblock of classIdx, acquiring one
// from the GlobalHeap if this heap has none (spec §4.4 steps 2-3). The
// GlobalHeap lock is always taken and released self-contained inside
// Acquire while this heap's lock is already held: LocalHeap is the outer
// lock, GlobalHeap the inner one, and GlobalHeap never re-enters a
// LocalHeap, so no cycle of waiters can form across the fleet of heaps.
func (h *Heap) findOrAcquire(classIdx int) *superblock.Header {
	cb := &h.classes[classIdx]

	for bin := Bins - 1; bin >= 0; bin-- {
		if n := len(cb.bins[bin]); n > 0 {
			sb := cb.bins[bin][n-1]
			cb.bins[bin] = cb.bins[bin][:n-1]

			return sb
		}
	}

	sb, err := h.global.Acquire(classIdx)
	if err != nil {
		return nil
	}

	sb.SetOwner(superblock.Owner(h.id))
	h.a += h.sbSize

	return sb
}

// rebucket reinserts sb into the bin matching its current emptiness, after
// a malloc or free changed its used count.
func (h *Heap) rebucket(classIdx int, sb *superblock.Header) {
	bin := sb.EmptinessBin(Bins)
	sb.SetBinIndex(int32(bin))
	cb := &h.classes[classIdx]
	cb.bins[bin] = append(cb.bins[bin], sb)
}

// removeFromBin unlinks sb from whichever bin it currently occupies.
func (h *Heap) removeFromBin(classIdx int, sb *superblock.Header) {
	cb := &h.classes[classIdx]
	bin := cb.bins[sb.BinIndex()]

	for i, cand := range bin {
		if cand == sb {
			cb.bins[sb.BinIndex()] = append(bin[:i], bin[i+1:]...)

			return
		}
	}
}

// Free returns a single block to sb, which this heap must own, and applies
// the emptiness eviction heuristic (spec §4.4 "free").
func (h *Heap) Free(p unsafe.Pointer, sb *superblock.Header) {
	h.mu.Lock()

	classIdx := sb.SizeClass()
	h.removeFromBin(classIdx, sb)
	sb.Push(p)
	h.u -= sb.BlockSize()
	h.rebucket(classIdx, sb)

	evict := h.maybeEvict()

	h.mu.Unlock()

	if evict != nil {
		h.global.Release(evict)
	}
}

// FreeBatchEntry pairs a freed block with its own owning superblock. A
// TLAB's cached free list for one size class can hold blocks carved from
// several superblocks over its lifetime (refills and frees don't all draw
// from or return to the same one), so a batch free must carry each
// block's superblock individually rather than assume one for the whole
// batch.
type FreeBatchEntry struct {
	P  unsafe.Pointer
	SB *superblock.Header
}

// BatchFree returns a batch of blocks to this heap, which must own every
// entry's SB, in one lock acquisition (spec §4.4 "Batch transfer"; used by
// a TLAB spill). Entries are grouped by their distinct SB so each
// superblock is unbucketed and rebucketed exactly once, regardless of how
// many superblocks the batch spans.
func (h *Heap) BatchFree(classIdx int, blocks []FreeBatchEntry) {
	h.mu.Lock()

	touched := make([]*superblock.Header, 0, 4)

	for _, b := range blocks {
		already := false

		for _, t := range touched {
			if t == b.SB {
				already = true
				break
			}
		}

		if !already {
			h.removeFromBin(classIdx, b.SB)
			touched = append(touched, b.SB)
		}

		b.SB.Push(b.P)
		h.u -= b.SB.BlockSize()
	}

	for _, sb := range touched {
		h.rebucket(classIdx, sb)
	}

	evict := h.maybeEvict()

	h.mu.Unlock()

	if evict != nil {
		h.global.Release(evict)
	}
}

// maybeEvict implements the emptiness heuristic from spec §4.4: called
// with h.mu held, it picks at most one mostly-empty superblock to migrate
// back to the GlobalHeap and returns it with owner already cleared, for
// the caller to hand to global.Release after unlocking.
func (h *Heap) maybeEvict() *superblock.Header {
	slack := h.evict.K * uint64(h.sbSize)
	if !(h.a > h.u && uint64(h.a-h.u) >= slack) {
		return nil
	}

	if !(float64(h.u) < (1-h.evict.F)*float64(h.a)) {
		return nil
	}

	for classIdx := range h.classes {
		cb := &h.classes[classIdx]
		for bin := 0; bin < Bins; bin++ {
			if n := len(cb.bins[bin]); n > 0 {
				sb := cb.bins[bin][n-1]
				cb.bins[bin] = cb.bins[bin][:n-1]
				sb.SetOwner(superblock.OwnerNone)
				h.a -= h.sbSize

				return sb
			}
		}
	}

	return nil
}

// Stats is a lock-protected snapshot for introspection.
type Stats struct {
	ID            int
	BytesInUse    uintptr
	BytesReserved uintptr
	BoundThreads  int32
}

func (h *Heap) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{ID: h.id, BytesInUse: h.u, BytesReserved: h.a, BoundThreads: h.refCount}
}

// IncRef/DecRef track bound-thread counts for binding's load-balancing
// policy (spec §4.7); guarded by the same mutex as everything else here
// since they are read/written far less often than malloc/free.
func (h *Heap) IncRef() {
	h.mu.Lock()
	h.refCount++
	h.mu.Unlock()
}

func (h *Heap) DecRef() {
	h.mu.Lock()
	h.refCount--
	h.mu.Unlock()
}

func (h *Heap) RefCount() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.refCount
}
