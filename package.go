package tieredalloc

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/config"
	errs "github.com/orizon-lang/tieredalloc/internal/errors"
)

// bootstrapHeaderSize is the per-block size tag the package-level
// convenience functions write just before the pointer they hand back, so
// UsableSize can answer without the bootstrap arena tracking a separate
// address table.
const bootstrapHeaderSize = unsafe.Sizeof(uintptr(0))

var (
	defaultArenaOnce sync.Once
	defaultArena     *bootstrapArena
)

func arena() *bootstrapArena {
	defaultArenaOnce.Do(func() {
		defaultArena = newBootstrapArena(config.Default().BootstrapBytes)
	})

	return defaultArena
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// Default returns the process-wide default Allocator, built from
// config.Load on first use. Most callers never need it directly: use
// Bind to get a *Cache, or the package-level Malloc/Free/AlignedAlloc/
// UsableSize functions for bootstrap/single-goroutine code.
func Default() *Allocator {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			errs.Fatal(errs.NewStandardError(errs.CategorySystem, "CONFIG_LOAD",
				err.Error(), nil))
		}

		a, err := New(cfg)
		if err != nil {
			errs.Fatal(errs.NewStandardError(errs.CategorySystem, "INIT_FAILED",
				err.Error(), nil))
		}

		defaultAlloc = a
	})

	return defaultAlloc
}

// Bind is shorthand for Default().Bind.
func Bind() *Cache { return Default().Bind() }

// Malloc is a bootstrap/single-goroutine convenience wrapper. It is backed
// by a bump-only arena distinct from the tiered heap (see bootstrap.go):
// it never reclaims individual blocks, so it is appropriate only for
// allocations made before a caller binds its own *Cache, not as a
// substitute for Bind in steady-state concurrent code.
func Malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return zeroSentinel()
	}

	raw, err := arena().alloc(size+bootstrapHeaderSize, bootstrapHeaderSize)
	if err != nil {
		errs.Fatal(err)
	}

	*(*uintptr)(raw) = size

	return unsafe.Pointer(uintptr(raw) + bootstrapHeaderSize)
}

// Free is a no-op for bootstrap-arena pointers, matching spec §7's benign
// handling of Free(nil) extended to a bump allocator that never reclaims.
func Free(p unsafe.Pointer) {}

// AlignedAlloc is the bootstrap-arena counterpart to Cache.AlignedAlloc.
func AlignedAlloc(align, size uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 {
		errs.Fatal(errs.InvalidAlignment(align))
	}

	if size == 0 {
		return zeroSentinel()
	}

	headerAndAlign := bootstrapHeaderSize
	if align > headerAndAlign {
		headerAndAlign = align
	}

	raw, err := arena().alloc(size+headerAndAlign, headerAndAlign)
	if err != nil {
		errs.Fatal(err)
	}

	p := uintptr(raw) + headerAndAlign
	*(*uintptr)(unsafe.Pointer(p - bootstrapHeaderSize)) = size

	return unsafe.Pointer(p)
}

// UsableSize reads the size tag written by Malloc/AlignedAlloc.
func UsableSize(p unsafe.Pointer) uintptr {
	if p == nil || isZeroSentinel(p) {
		return 0
	}

	return *(*uintptr)(unsafe.Pointer(uintptr(p) - bootstrapHeaderSize))
}
