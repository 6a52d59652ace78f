package tieredalloc

import (
	"runtime"
	"unsafe"

	errs "github.com/orizon-lang/tieredalloc/internal/errors"
	"github.com/orizon-lang/tieredalloc/internal/localheap"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
	"github.com/orizon-lang/tieredalloc/internal/tlab"
)

// Cache is one execution context's handle into the tiered heap: a TLAB
// bound to one LocalHeap for its lifetime (spec §3 "TLAB"). Obtain one
// with Allocator.Bind and release it with Close when the context exits.
type Cache struct {
	a     *Allocator
	local *localheap.Heap
	idx   int
	tlab  *tlab.Cache
}

func newTLAB(a *Allocator, local *localheap.Heap) *tlab.Cache {
	return tlab.New(a.table, local, a.sbSize, a.live.Batch(), a.cfg.TLABBudgetBytes)
}

// Malloc services a request of size bytes (spec §6 "Malloc"). A zero size
// returns a distinguished non-nil pointer (spec §7) rather than nil or an
// allocation.
func (c *Cache) Malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return zeroSentinel()
	}

	if c.a.table.IsLarge(size) {
		addr, err := c.a.big.acquire(size, 1)
		if err != nil {
			errs.Fatal(errs.OutOfMemory(size))
		}

		return unsafe.Pointer(addr)
	}

	idx, _, _ := c.a.table.ClassOf(size)

	p := c.tlab.MallocClass(idx)
	if p == nil {
		errs.Fatal(errs.OutOfMemory(size))
	}

	return p
}

// AlignedAlloc services a request for size bytes aligned to align, which
// must be a power of two (spec §6 "AlignedAlloc"). When a tiered size
// class's block size is itself a multiple of align the allocation stays
// on the fast path; otherwise it falls back to a dedicated big-block
// region sized for the alignment.
func (c *Cache) AlignedAlloc(align, size uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 {
		errs.Fatal(errs.InvalidAlignment(align))
	}

	if size == 0 {
		return zeroSentinel()
	}

	if !c.a.table.IsLarge(size) {
		if idx, ok := c.a.table.ClassForAligned(size, align); ok {
			if p := c.tlab.MallocClass(idx); p != nil {
				return p
			}
		}
	}

	addr, err := c.a.big.acquire(size, align)
	if err != nil {
		errs.Fatal(errs.OutOfMemory(size))
	}

	return unsafe.Pointer(addr)
}

// Free returns p, previously returned by Malloc or AlignedAlloc on any
// Cache sharing this Allocator, to the heap (spec §6 "Free"). Free(nil)
// and freeing the zero-size sentinel are silent no-ops (spec §7).
func (c *Cache) Free(p unsafe.Pointer) {
	if p == nil || isZeroSentinel(p) {
		return
	}

	if c.a.big.release(uintptr(p)) {
		return
	}

	sb := superblock.OwnerOf(p, c.a.sbSize)
	classIdx := sb.SizeClass()

	if int(sb.Owner()) == c.idx {
		c.tlab.FreeOwned(p, classIdx, sb)
		return
	}

	c.a.remoteFree(sb.Owner(), p, sb)
}

// UsableSize reports, for a small block, the block size of its size class,
// which may exceed the size originally requested; for a big block it
// reports the size that was requested (spec §6 "UsableSize").
func (c *Cache) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil || isZeroSentinel(p) {
		return 0
	}

	if bb, ok := c.a.big.lookup(uintptr(p)); ok {
		return bb.size
	}

	return superblock.OwnerOf(p, c.a.sbSize).BlockSize()
}

// Close flushes every cached block in this Cache's TLAB back to its
// LocalHeap and releases the binding (spec §4.5 "Thread exit flush"), then
// unpins the calling goroutine's OS thread. Must be called from the same
// goroutine that called Bind (runtime.LockOSThread/UnlockOSThread are
// goroutine-scoped), and the Cache must not be used again afterward.
func (c *Cache) Close() {
	c.tlab.Flush(func(p unsafe.Pointer) *superblock.Header {
		return superblock.OwnerOf(p, c.a.sbSize)
	})
	c.a.binder.Unbind(c.idx)
	runtime.UnlockOSThread()
}
