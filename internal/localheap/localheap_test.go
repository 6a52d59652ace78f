package localheap

import (
	"testing"
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/pagesource"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
	"github.com/orizon-lang/tieredalloc/internal/superblock"
)

const testSBSize = 64 * 1024

func newTestFleet(t *testing.T, evict EvictionParams) (*Heap, *globalheap.Heap) {
	t.Helper()

	tbl := sizeclass.New(4096)
	pages := pagesource.Default()
	global := globalheap.New(tbl, pages, testSBSize, 4)

	return New(0, tbl, global, testSBSize, evict), global
}

func TestMallocReturnsDistinctPointers(t *testing.T) {
	local, _ := newTestFleet(t, EvictionParams{F: 0.25, K: 1})

	seen := make(map[unsafe.Pointer]bool)

	for i := 0; i < 500; i++ {
		p := local.Malloc(0)
		if p == nil {
			t.Fatalf("Malloc returned nil at iteration %d", i)
		}

		if seen[p] {
			t.Fatalf("Malloc returned a pointer already in use at iteration %d", i)
		}

		seen[p] = true
	}
}

func TestFreeThenMallocReusesBlock(t *testing.T) {
	local, _ := newTestFleet(t, EvictionParams{F: 0.25, K: 1})

	p := local.Malloc(0)
	sb := superblock.OwnerOf(p, testSBSize)
	local.Free(p, sb)

	p2 := local.Malloc(0)
	if p2 != p {
		t.Fatalf("expected the freed block to be reused (LIFO), got a different pointer")
	}
}

func TestBatchMallocAndFree(t *testing.T) {
	local, _ := newTestFleet(t, EvictionParams{F: 0.25, K: 1})

	batch := local.BatchMalloc(0, 16)
	if len(batch) != 16 {
		t.Fatalf("BatchMalloc returned %d pointers, want 16", len(batch))
	}

	entries := make([]FreeBatchEntry, len(batch))
	for i, p := range batch {
		entries[i] = FreeBatchEntry{P: p, SB: superblock.OwnerOf(p, testSBSize)}
	}

	local.BatchFree(0, entries)

	snap := local.Snapshot()
	if snap.BytesInUse != 0 {
		t.Fatalf("BytesInUse = %d after freeing the whole batch, want 0", snap.BytesInUse)
	}
}

// TestBatchFreeAcrossSuperblocksRoutesEachEntry guards against mixing
// blocks from distinct superblocks into one BatchFree call under a single
// assumed owner: it forces small superblocks so a single BatchMalloc draws
// from more than one, then frees the mixed batch and checks each
// superblock's own Used() count reflects exactly its own blocks returned,
// not another superblock's.
func TestBatchFreeAcrossSuperblocksRoutesEachEntry(t *testing.T) {
	const smallSB = 512

	tbl := sizeclass.New(16) // single class, block size 16
	pages := pagesource.Default()
	global := globalheap.New(tbl, pages, smallSB, 4)
	local := New(0, tbl, global, smallSB, EvictionParams{F: 0.25, K: 1})

	const want = 80

	batch := local.BatchMalloc(0, want)
	if len(batch) != want {
		t.Fatalf("BatchMalloc returned %d pointers, want %d", len(batch), want)
	}

	bySB := make(map[*superblock.Header][]unsafe.Pointer)
	for _, p := range batch {
		sb := superblock.OwnerOf(p, smallSB)
		bySB[sb] = append(bySB[sb], p)
	}

	if len(bySB) < 2 {
		t.Fatalf("expected the batch to span multiple superblocks with a %d-byte superblock, got %d", smallSB, len(bySB))
	}

	entries := make([]FreeBatchEntry, len(batch))
	for i, p := range batch {
		entries[i] = FreeBatchEntry{P: p, SB: superblock.OwnerOf(p, smallSB)}
	}

	local.BatchFree(0, entries)

	for sb, ptrs := range bySB {
		if got := sb.Used(); got != 0 {
			t.Fatalf("superblock holding %d of the freed blocks has Used() = %d, want 0", len(ptrs), got)
		}
	}

	snap := local.Snapshot()
	if snap.BytesInUse != 0 {
		t.Fatalf("BytesInUse = %d after freeing the whole mixed batch, want 0", snap.BytesInUse)
	}
}

func TestEvictionBoundsReservedMemory(t *testing.T) {
	local, _ := newTestFleet(t, EvictionParams{F: 0.25, K: 1})

	// Blowup bound (spec §8): 4000 16-byte blocks fill most of one 64 KiB
	// superblock; freeing every one of them leaves a whole superblock of
	// slack, and the eviction heuristic must hand that superblock back to
	// the GlobalHeap rather than keep it reserved by this heap.
	const n = 4000

	type liveBlock struct {
		p  unsafe.Pointer
		sb *superblock.Header
	}

	blocks := make([]liveBlock, 0, n)
	for i := 0; i < n; i++ {
		p := local.Malloc(0)
		blocks = append(blocks, liveBlock{p: p, sb: superblock.OwnerOf(p, testSBSize)})
	}

	before := local.Snapshot()

	for _, b := range blocks {
		local.Free(b.p, b.sb)
	}

	after := local.Snapshot()

	if after.BytesReserved >= before.BytesReserved {
		t.Fatalf("BytesReserved did not shrink after freeing every block: before=%d after=%d",
			before.BytesReserved, after.BytesReserved)
	}

	if after.BytesInUse != 0 {
		t.Fatalf("BytesInUse = %d after freeing every block, want 0", after.BytesInUse)
	}
}

func TestRefCounting(t *testing.T) {
	local, _ := newTestFleet(t, EvictionParams{F: 0.25, K: 1})

	local.IncRef()
	local.IncRef()

	if got := local.RefCount(); got != 2 {
		t.Fatalf("RefCount() = %d, want 2", got)
	}

	local.DecRef()

	if got := local.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
}
