// Package sizeclass maps allocation request sizes to a fixed, monotone
// schedule of block sizes. Grounded on the class/bin bookkeeping in
// internal/allocator/allocator.go (sizeClasses table, getSizeClass) from the
// teacher repository, generalized from its five fixed buckets to a full
// geometric schedule with a fragmentation bound.
package sizeclass

import "sort"

// DefaultMinBlock is the smallest block size ever handed out.
const DefaultMinBlock = 16

// growthNumerator/growthDenominator set the spacing between consecutive
// classes: the next class is block_size(idx) * (1 + growthNumerator/growthDenominator)
// plus one byte, rounded up to alignmentFor(block_size(idx)). The rounding
// makes the actual steps larger than 1/8: 50% from 16 to 24 bytes, and at
// most about 19% (256 to 304 bytes) for classes of 256 bytes and above.
const (
	growthNumerator   = 1
	growthDenominator = 8
)

// Table is an immutable size-class schedule for one allocator instance.
type Table struct {
	sizes []uintptr // block size per class index, strictly increasing
	sMax  uintptr
}

// New builds a size-class table covering [DefaultMinBlock, sMax].
// Requests above sMax are large allocations (see IsLarge).
func New(sMax uintptr) *Table {
	if sMax < DefaultMinBlock {
		sMax = DefaultMinBlock
	}

	var sizes []uintptr

	size := uintptr(DefaultMinBlock)
	for size < sMax {
		sizes = append(sizes, size)

		next := size + (size*growthNumerator)/growthDenominator + 1
		next = alignUp(next, alignmentFor(size))

		if next <= size {
			next = size + 8
		}

		size = next
	}

	sizes = append(sizes, sMax)

	return &Table{sizes: sizes, sMax: sMax}
}

// alignmentFor scales the rounding granularity with block size so that
// small classes stay tightly packed and large ones stay cacheline friendly.
func alignmentFor(size uintptr) uintptr {
	switch {
	case size < 128:
		return 8
	case size < 2048:
		return 16
	default:
		return 64
	}
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// NumClasses returns the number of size classes in the table.
func (t *Table) NumClasses() int {
	return len(t.sizes)
}

// BlockSize returns the block size backing size class idx.
func (t *Table) BlockSize(idx int) uintptr {
	return t.sizes[idx]
}

// SMax returns the largest size serviced by the tiered heap; requests above
// this bypass size classes entirely and go to the big-block path.
func (t *Table) SMax() uintptr {
	return t.sMax
}

// IsLarge reports whether sz must be serviced by the big-block registry.
func (t *Table) IsLarge(sz uintptr) bool {
	return sz > t.sMax
}

// ClassOf maps a request size to (class index, block size). ok is false
// when sz is a large allocation (see IsLarge); callers must check IsLarge
// (or ok) before indexing with idx.
func (t *Table) ClassOf(sz uintptr) (idx int, blockSize uintptr, ok bool) {
	if sz > t.sMax {
		return 0, 0, false
	}

	if sz == 0 {
		sz = 1
	}

	i := sort.Search(len(t.sizes), func(i int) bool { return t.sizes[i] >= sz })
	if i == len(t.sizes) {
		i = len(t.sizes) - 1
	}

	return i, t.sizes[i], true
}

// ClassForAligned searches upward from ClassOf(sz) for a class whose block
// size is itself a multiple of align, so a block handed out from it
// satisfies an over-alignment request without leaving the tiered heap.
// Used by AlignedAlloc before it falls back to the big-block path.
func (t *Table) ClassForAligned(sz, align uintptr) (idx int, ok bool) {
	start, _, ok := t.ClassOf(sz)
	if !ok {
		return 0, false
	}

	for i := start; i < len(t.sizes); i++ {
		if t.sizes[i]%align == 0 {
			return i, true
		}
	}

	return 0, false
}
