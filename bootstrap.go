package tieredalloc

import (
	"sync/atomic"
	"unsafe"

	errs "github.com/orizon-lang/tieredalloc/internal/errors"
)

// bootstrapArena is a single bump allocator carved out of one Go-heap-backed
// buffer, created on first use, and used only by the package-level
// convenience functions (Malloc/Free/AlignedAlloc/UsableSize), which serve
// callers that have not called Bind. It never reclaims individual blocks;
// the real per-thread path is the *Cache returned by Bind, which is backed
// by the full tiered heap.
type bootstrapArena struct {
	base   uintptr
	size   uintptr
	offset atomic.Uintptr
	keep   []byte // anchors base against the GC
}

func newBootstrapArena(size uintptr) *bootstrapArena {
	buf := make([]byte, size)
	return &bootstrapArena{base: uintptr(unsafe.Pointer(&buf[0])), size: size, keep: buf}
}

// alloc bump-allocates size bytes aligned to align (a power of two). It
// fails with BootstrapOverflow once the arena is exhausted; the
// package-level callers treat that as fatal (spec §7).
func (b *bootstrapArena) alloc(size, align uintptr) (unsafe.Pointer, *errs.StandardError) {
	for {
		cur := b.offset.Load()
		start := alignUp(b.base+cur, align) - b.base
		next := start + size

		if next > b.size {
			return nil, errs.BootstrapOverflow(size, b.size-cur)
		}

		if b.offset.CompareAndSwap(cur, next) {
			return unsafe.Pointer(b.base + start), nil
		}
	}
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
