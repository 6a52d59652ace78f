// Package tlab implements the per-thread allocation buffer that sits in
// front of a LocalHeap (spec §3 "TLAB", §4.5). A Cache is touched only by
// its owning execution context, so its fast path takes no lock; refills
// and spills batch through the bound LocalHeap to keep cross-heap
// contention rare.
//
// Grounded on the teacher's sync.Pool-backed MemoryPool
// (internal/allocator/allocator.go), replaced with a plain per-class LIFO
// slice since a TLAB's defining property is exclusive ownership by one
// caller, which sync.Pool does not guarantee (it may hand the same item to
// any goroutine).
package tlab

import (
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/localheap"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
)

// DefaultBudget bounds total cached bytes per TLAB across all size
// classes (spec §3: "e.g. 64 KiB/thread").
const DefaultBudget = 64 * 1024

// DefaultBatch is B, the number of blocks moved per refill/spill (spec §4.5).
const DefaultBatch = 32

type classCache struct {
	blockSize uintptr
	free      []unsafe.Pointer
	cap       int // C_k: soft per-class cap before a spill is triggered
}

// Cache is one thread's TLAB, bound to exactly one LocalHeap for its
// lifetime.
type Cache struct {
	table   *sizeclass.Table
	heap    *localheap.Heap
	sbSize  uintptr
	classes []classCache
	batch   int
	budget  uintptr
	used    uintptr
}

// New creates a TLAB bound to heap. sbSize is the superblock size used to
// recover a cached block's owning superblock via superblock.OwnerOf when
// spilling. batch and budget default to DefaultBatch/DefaultBudget when
// zero.
func New(table *sizeclass.Table, heap *localheap.Heap, sbSize uintptr, batch int, budget uintptr) *Cache {
	if batch <= 0 {
		batch = DefaultBatch
	}

	if budget == 0 {
		budget = DefaultBudget
	}

	classes := make([]classCache, table.NumClasses())
	for i := range classes {
		bs := table.BlockSize(i)
		classes[i].blockSize = bs

		perClassCap := int(budget / bs / uintptr(table.NumClasses()))
		if perClassCap < batch {
			perClassCap = batch
		}

		classes[i].cap = perClassCap
	}

	return &Cache{table: table, heap: heap, sbSize: sbSize, classes: classes, batch: batch, budget: budget}
}

// Heap returns the LocalHeap this TLAB is bound to.
func (c *Cache) Heap() *localheap.Heap { return c.heap }

// MallocClass services a small-block allocation for size class idx (spec
// §4.5 "malloc"): pop the cached LIFO, or refill a batch from the bound
// LocalHeap on miss.
func (c *Cache) MallocClass(idx int) unsafe.Pointer {
	cls := &c.classes[idx]

	if n := len(cls.free); n > 0 {
		p := cls.free[n-1]
		cls.free = cls.free[:n-1]
		c.used -= cls.blockSize

		return p
	}

	batch := c.heap.BatchMalloc(idx, c.batch)
	if len(batch) == 0 {
		return nil
	}

	p := batch[0]
	rest := batch[1:]
	cls.free = append(cls.free, rest...)
	c.used += cls.blockSize * uintptr(len(rest))

	return p
}

// FreeOwned returns a block to this TLAB's cache for classIdx, spilling
// half the cache to the bound LocalHeap in one batched call if the
// per-class cap or the total budget is exceeded (spec §4.5 "free").
// Callers must have already verified sb.Owner() == c.heap.ID(); a remote
// free (different owner) bypasses the TLAB entirely (spec §4.5) and is
// handled by the caller, not this method.
func (c *Cache) FreeOwned(p unsafe.Pointer, classIdx int, sb *superblock.Header) {
	cls := &c.classes[classIdx]
	cls.free = append(cls.free, p)
	c.used += cls.blockSize

	if len(cls.free) > cls.cap || c.used > c.budget {
		c.spill(classIdx)
	}
}

// spill drains the oldest half of classIdx's LIFO back to the LocalHeap in
// a single batched free call. The cache's free list accumulates blocks
// across many refills and frees, and a single size class routinely spans
// several superblocks over a TLAB's lifetime (MallocClass's refill and
// LocalHeap.BatchMalloc's outer loop both draw from more than one
// superblock once the first runs dry), so each victim's owning superblock
// is re-resolved individually via superblock.OwnerOf rather than assumed
// to be the one superblock that happened to trigger this spill.
func (c *Cache) spill(classIdx int) {
	cls := &c.classes[classIdx]

	half := len(cls.free) / 2
	if half == 0 {
		return
	}

	victims := make([]localheap.FreeBatchEntry, half)
	for i, p := range cls.free[:half] {
		victims[i] = localheap.FreeBatchEntry{P: p, SB: superblock.OwnerOf(p, c.sbSize)}
	}

	cls.free = append(cls.free[:0], cls.free[half:]...)
	c.used -= cls.blockSize * uintptr(half)

	c.heap.BatchFree(classIdx, victims)
}

// Flush drains every class's cache back to the bound LocalHeap. Called on
// thread exit (spec §4.5 "Thread exit flush"); after Flush the Cache must
// not be used again.
//
// A TLAB's cached blocks may span several superblocks of the same class
// over the cache's lifetime, so Flush resolves each block's superblock with
// ownerOf and frees it through the LocalHeap's single-block path, trading
// batching for simplicity on what is already a one-time teardown path.
func (c *Cache) Flush(ownerOf func(p unsafe.Pointer) *superblock.Header) {
	for idx := range c.classes {
		cls := &c.classes[idx]
		for _, p := range cls.free {
			sb := ownerOf(p)
			c.heap.Free(p, sb)
		}

		cls.free = nil
	}

	c.used = 0
}

// UsedBytes reports the TLAB's current cached footprint, for
// introspection and tests.
func (c *Cache) UsedBytes() uintptr { return c.used }
