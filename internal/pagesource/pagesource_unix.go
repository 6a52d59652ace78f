//go:build unix

package pagesource

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixSource acquires superblock-aligned regions via an anonymous mmap,
// over-allocating by 2x and trimming the unaligned head/tail back to the
// kernel. Partial munmap of a still-mapped region is well defined on every
// unix the teacher targets (Linux, Darwin, the BSDs).
type unixSource struct{}

func newPlatformSource() Source { return unixSource{} }

func (unixSource) Acquire(size uintptr) (Region, error) {
	raw, err := unix.Mmap(-1, 0, int(size*2), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return Region{}, fmt.Errorf("pagesource: mmap %d bytes: %w", size*2, err)
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := alignUp(base, size)

	if head := aligned - base; head > 0 {
		if err := unix.Munmap(raw[:head]); err != nil {
			return Region{}, fmt.Errorf("pagesource: trim head: %w", err)
		}
	}

	tailStart := (aligned - base) + size
	if tailStart < uintptr(len(raw)) {
		if err := unix.Munmap(raw[tailStart:]); err != nil {
			return Region{}, fmt.Errorf("pagesource: trim tail: %w", err)
		}
	}

	return Region{Ptr: unsafe.Pointer(aligned), Size: size}, nil
}

func (unixSource) Release(r Region) error {
	b := unsafe.Slice((*byte)(r.Ptr), int(r.Size))
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("pagesource: munmap: %w", err)
	}

	return nil
}
