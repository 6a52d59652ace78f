package tlab

import (
	"testing"
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/localheap"
	"github.com/orizon-lang/tieredalloc/internal/pagesource"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
)

const testSBSize = 64 * 1024

func newTestCache(t *testing.T) (*Cache, *localheap.Heap) {
	t.Helper()

	tbl := sizeclass.New(4096)
	pages := pagesource.Default()
	global := globalheap.New(tbl, pages, testSBSize, 4)
	local := localheap.New(0, tbl, global, testSBSize, localheap.EvictionParams{F: 0.25, K: 1})

	return New(tbl, local, testSBSize, 8, 4096), local
}

func TestMallocClassFastPathAfterRefill(t *testing.T) {
	c, _ := newTestCache(t)

	seen := make(map[unsafe.Pointer]bool)

	for i := 0; i < 100; i++ {
		p := c.MallocClass(0)
		if p == nil {
			t.Fatalf("MallocClass(0) returned nil at iteration %d", i)
		}

		if seen[p] {
			t.Fatalf("MallocClass(0) returned a duplicate pointer at iteration %d", i)
		}

		seen[p] = true
	}
}

func TestFreeOwnedCachesThenSpills(t *testing.T) {
	c, local := newTestCache(t)

	const classIdx = 0
	blockSize := c.classes[classIdx].blockSize

	var sb *superblock.Header

	ptrs := make([]unsafe.Pointer, 0, 64)
	for i := 0; i < 64; i++ {
		p := c.MallocClass(classIdx)
		if sb == nil {
			sb = superblock.OwnerOf(p, testSBSize)
		}

		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		c.FreeOwned(p, classIdx, sb)
	}

	if c.UsedBytes() > c.budget {
		t.Fatalf("UsedBytes() = %d exceeds budget %d after spills", c.UsedBytes(), c.budget)
	}

	_ = blockSize
	_ = local
}

// TestSpillAcrossMultipleSuperblocksPreservesOwnership forces a small
// enough superblock that one size class's cache fills from several
// superblocks before a spill triggers, then checks that spilling routes
// each cached block back to its own true owner (via superblock.OwnerOf)
// instead of lumping the whole batch onto whichever superblock happened to
// trigger the spill.
func TestSpillAcrossMultipleSuperblocksPreservesOwnership(t *testing.T) {
	const smallSB = 512

	tbl := sizeclass.New(16) // single class, block size 16
	pages := pagesource.Default()
	global := globalheap.New(tbl, pages, smallSB, 4)
	local := localheap.New(0, tbl, global, smallSB, localheap.EvictionParams{F: 0.25, K: 1})
	c := New(tbl, local, smallSB, 4, 256)

	const n = 80

	ptrs := make([]unsafe.Pointer, 0, n)
	owners := make(map[unsafe.Pointer]*superblock.Header, n)

	for i := 0; i < n; i++ {
		p := c.MallocClass(0)
		if p == nil {
			t.Fatalf("MallocClass(0) returned nil at iteration %d", i)
		}

		ptrs = append(ptrs, p)
		owners[p] = superblock.OwnerOf(p, smallSB)
	}

	distinct := make(map[*superblock.Header]bool)
	for _, sb := range owners {
		distinct[sb] = true
	}

	if len(distinct) < 2 {
		t.Fatalf("expected allocations to span multiple superblocks with a %d-byte superblock, got %d", smallSB, len(distinct))
	}

	// Free in an order that does not track allocation order, so the cache
	// accumulates a free list whose entries interleave superblocks rather
	// than clumping one at a time.
	for i := len(ptrs) - 1; i >= 0; i-- {
		p := ptrs[i]
		c.FreeOwned(p, 0, owners[p])
	}

	c.Flush(func(p unsafe.Pointer) *superblock.Header {
		return superblock.OwnerOf(p, smallSB)
	})

	for sb := range distinct {
		if got := sb.Used(); got != 0 {
			t.Fatalf("superblock %p has Used() = %d after every block was freed, want 0", sb, got)
		}
	}

	snap := local.Snapshot()
	if snap.BytesInUse != 0 {
		t.Fatalf("LocalHeap BytesInUse = %d after every block was freed, want 0", snap.BytesInUse)
	}
}

func TestFlushDrainsEveryClass(t *testing.T) {
	c, local := newTestCache(t)

	p := c.MallocClass(0)
	sb := superblock.OwnerOf(p, testSBSize)
	c.FreeOwned(p, 0, sb)

	if c.UsedBytes() == 0 {
		t.Fatal("expected a cached block before Flush")
	}

	c.Flush(func(p unsafe.Pointer) *superblock.Header {
		return superblock.OwnerOf(p, testSBSize)
	})

	if c.UsedBytes() != 0 {
		t.Fatalf("UsedBytes() = %d after Flush, want 0", c.UsedBytes())
	}

	snap := local.Snapshot()
	if snap.BytesInUse != 0 {
		t.Fatalf("LocalHeap BytesInUse = %d after Flush returned the block, want 0", snap.BytesInUse)
	}
}
