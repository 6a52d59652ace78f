// Package pagesource acquires raw, superblock-aligned memory regions from
// the OS. It is the leaf of the tiered heap (spec §2, "PageSource"): the
// rest of the allocator trusts that every Region it hands out starts at an
// address that is a multiple of the requested size, which is what lets
// Free(p) recover a superblock header via a pointer mask instead of a hash
// lookup (see internal/superblock).
//
// Grounded on the teacher's platform-specific golang.org/x/sys/unix usage in
// internal/runtime/asyncio (zerocopy_unix_file.go, kqueue_poller_bsd.go):
// same split of a shared cross-platform type plus a //go:build-tagged
// implementation per OS family.
package pagesource

import "unsafe"

// Region is a single aligned memory region handed out by a Source.
type Region struct {
	Ptr  unsafe.Pointer
	Size uintptr

	// keep anchors the backing allocation for sources that hand out
	// Go-heap memory (the non-unix fallback) so the GC never reclaims it
	// out from under the raw pointer above. Unix mmap regions leave this
	// nil: that memory is already outside any Go span.
	keep any
}

// Source acquires and releases superblock-aligned regions.
type Source interface {
	// Acquire returns a region of exactly size bytes whose start address
	// is a multiple of size. size must be a power of two.
	Acquire(size uintptr) (Region, error)
	// Release returns a previously acquired region to the OS. The region
	// must have used == 0 at the superblock level before this is called.
	Release(Region) error
}

// Default returns the platform-appropriate Source.
func Default() Source {
	return newPlatformSource()
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
