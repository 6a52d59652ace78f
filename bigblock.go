package tieredalloc

import (
	"sync"

	"github.com/orizon-lang/tieredalloc/internal/pagesource"
)

// bigBlock records the (size, alignment, backing region) of one allocation
// that bypassed the tiered heap (spec §4.6 "Large allocations"): either its
// size exceeds S_MAX, or AlignedAlloc asked for more alignment than any
// size class's block size guarantees.
type bigBlock struct {
	size   uintptr
	align  uintptr
	region pagesource.Region
}

// bigRegistry is the single process-wide map from a big block's address to
// its metadata, guarded by one lock (spec §4.6: "a single mutex-guarded
// map is sufficient since large allocations are assumed rare").
type bigRegistry struct {
	mu    sync.Mutex
	pages pagesource.Source
	table map[uintptr]bigBlock
}

func newBigRegistry(pages pagesource.Source) *bigRegistry {
	return &bigRegistry{pages: pages, table: make(map[uintptr]bigBlock)}
}

// acquire carves a fresh region sized/aligned to satisfy (size, align) and
// records it. pagesource.Source only guarantees a region aligned to its
// own size, so the registry always requests the smallest power of two that
// is at least max(size, align).
func (r *bigRegistry) acquire(size, align uintptr) (uintptr, error) {
	regionSize := nextPow2(size)
	if align > regionSize {
		regionSize = nextPow2(align)
	}

	region, err := r.pages.Acquire(regionSize)
	if err != nil {
		return 0, err
	}

	addr := uintptr(region.Ptr)

	r.mu.Lock()
	r.table[addr] = bigBlock{size: size, align: align, region: region}
	r.mu.Unlock()

	return addr, nil
}

// lookup reports the recorded metadata for addr, if any.
func (r *bigRegistry) lookup(addr uintptr) (bigBlock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bb, ok := r.table[addr]

	return bb, ok
}

// release returns addr's region to the OS and forgets it. Reports false if
// addr was never a big block.
func (r *bigRegistry) release(addr uintptr) bool {
	r.mu.Lock()
	bb, ok := r.table[addr]
	if ok {
		delete(r.table, addr)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	_ = r.pages.Release(bb.region)

	return true
}

func nextPow2(v uintptr) uintptr {
	if v == 0 {
		return 1
	}

	p := uintptr(1)
	for p < v {
		p <<= 1
	}

	return p
}
