//go:build !unix

package pagesource

import (
	"runtime"
	"unsafe"
)

// fallbackSource backs Region memory with ordinary Go-heap slices on
// platforms without a unix-style mmap (e.g. Windows, wasm). It cannot hand
// the memory back to the OS eagerly; Release just drops the GC anchor.
type fallbackSource struct{}

func newPlatformSource() Source { return fallbackSource{} }

func (fallbackSource) Acquire(size uintptr) (Region, error) {
	buf := make([]byte, size*2)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := alignUp(base, size)

	runtime.KeepAlive(buf)

	return Region{Ptr: unsafe.Pointer(aligned), Size: size, keep: buf}, nil
}

func (fallbackSource) Release(Region) error {
	// The backing slice becomes collectible once the caller drops the
	// Region; there is no OS-level unmap to perform.
	return nil
}
