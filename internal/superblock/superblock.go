// Package superblock implements the fixed-size, block-carved regions that
// back every small allocation (spec §3 "Superblock", §4.1). A Header is
// placed directly at the start of the raw Region the owning heap obtained
// from internal/pagesource, so the identity in spec invariant 1 holds:
// for any live pointer p, p &^ (sbSize-1) recovers *Header.
//
// Grounded on the free-list/chunk bookkeeping in the teacher's
// internal/allocator/pool.go (Pool.freeList, Pool.allocateChunk), adapted
// from a Go-slice free list to an intrusive singly-linked list threaded
// through the free blocks themselves (no separate bookkeeping slice,
// O(1) push/pop independent of block_count), matching spec §4.1's LIFO
// rationale.
package superblock

import (
	"sync/atomic"
	"unsafe"

	errs "github.com/orizon-lang/tieredalloc/internal/errors"
	"github.com/orizon-lang/tieredalloc/internal/pagesource"
)

// DebugMode gates the per-block double-free tombstone check (spec §7,
// §8 invariant 1). Off by default, since it costs a canary read/write on
// every Push/Pop; set from internal/config.Config.DebugMode at Allocator
// construction, before any Cache is bound.
var DebugMode atomic.Bool

// tombstone is written into a freed block's second word while DebugMode is
// set, and cleared the next time that block is handed out by Pop. Every
// size class is at least two words wide (internal/sizeclass.DefaultMinBlock
// is 16 bytes, i.e. two 8-byte words), so the word after freeNode.next is
// always inside the block and never aliases live caller data: a block only
// carries a tombstone while it is on the free list, and Pop clears it
// before the block is handed back out.
const tombstone = uintptr(0xDEADF2EE)

func canaryOf(b unsafe.Pointer) *uintptr {
	return (*uintptr)(unsafe.Pointer(uintptr(b) + unsafe.Sizeof(uintptr(0))))
}

// tombstoned reports whether b already carries a tombstone, i.e. whether
// pushing it now would be a double free. Split out of Push so the
// detection logic itself can be exercised without going through
// errs.Fatal's os.Exit.
func tombstoned(b unsafe.Pointer) bool {
	return *canaryOf(b) == tombstone
}

// Owner tags who currently holds a superblock. Stored as a small integer
// rather than a pointer so GlobalHeap<->LocalHeap ownership never forms a
// Go-pointer cycle (spec §9, "cyclic references" design note).
type Owner int32

const (
	// OwnerNone marks a superblock mid-migration: it has been removed
	// from its previous owner's bins but not yet inserted into its next
	// owner's (spec §3 invariant 4).
	OwnerNone Owner = -1
	// OwnerGlobal marks a superblock held by the GlobalHeap.
	OwnerGlobal Owner = -2
	// Owner >= 0 identifies a LocalHeap by index.
)

// headerSize is the aligned footprint of Header at the front of a Region.
// Carved blocks start after this many bytes.
const headerSize = unsafe.Sizeof(Header{})

// freeNode is the shape of a free block's first word: a pointer to the
// next free block. Only valid while the block is on the free list.
type freeNode struct {
	next unsafe.Pointer
}

// Header is the metadata block embedded at the start of every superblock's
// Region. It is never placed in ordinary Go-managed memory on unix
// platforms (its Region comes straight from mmap), so the fields below are
// read/written directly without the Go allocator's involvement.
type Header struct {
	region     pagesource.Region
	freeHead   unsafe.Pointer // *freeNode, LIFO top
	dataStart  uintptr
	sbSize     uintptr
	blockSize  uintptr
	blockCount int32
	used       int32
	sizeClass  int32
	binIndex   int32
	owner      Owner
}

// New carves a freshly acquired Region into blocks of blockSize for
// sizeClass, writing the Header at the Region's start.
func New(region pagesource.Region, sizeClass int, blockSize uintptr) *Header {
	h := (*Header)(region.Ptr)
	dataStart := alignUp(uintptr(region.Ptr)+headerSize, blockSize)
	blockCount := int32((uintptr(region.Ptr) + region.Size - dataStart) / blockSize)

	*h = Header{
		region:     region,
		dataStart:  dataStart,
		sbSize:     region.Size,
		blockSize:  blockSize,
		blockCount: blockCount,
		sizeClass:  int32(sizeClass),
		owner:      OwnerNone,
	}

	h.carve()

	return h
}

// carve rebuilds the free list across every block in the data area. Used
// both at construction and by Relabel when an emptied superblock is handed
// a new size class.
func (h *Header) carve() {
	var head unsafe.Pointer

	for i := int32(h.blockCount) - 1; i >= 0; i-- {
		p := unsafe.Pointer(h.dataStart + uintptr(i)*h.blockSize)
		(*freeNode)(p).next = head
		head = p
	}

	h.freeHead = head
	h.used = 0
}

// OwnerOf recovers the superblock Header that owns p, given the process's
// configured SB_SIZE. This is spec invariant 1's pointer-to-owner identity
// function: no hash map lookup is ever needed on the free path.
func OwnerOf(p unsafe.Pointer, sbSize uintptr) *Header {
	return (*Header)(unsafe.Pointer(uintptr(p) &^ (sbSize - 1)))
}

// Pop removes and returns the head of the free list, or nil if full.
// Precondition: Used() < BlockCount() (spec §4.1).
func (h *Header) Pop() unsafe.Pointer {
	if h.freeHead == nil {
		return nil
	}

	n := (*freeNode)(h.freeHead)
	p := h.freeHead
	h.freeHead = n.next
	h.used++

	if DebugMode.Load() {
		*canaryOf(p) = 0
	}

	return p
}

// Push returns a block to the free list. Precondition: b lies within this
// superblock's data area and is block-size aligned (spec §4.1). In
// DebugMode, a block whose tombstone canary is already set was freed
// without an intervening malloc — a double free — and is reported fatally
// instead of being relinked, since doing so would corrupt the free list
// (the same address linked in twice).
func (h *Header) Push(b unsafe.Pointer) {
	if DebugMode.Load() {
		if tombstoned(b) {
			errs.Fatal(errs.DoubleFree(uintptr(b)))
		}

		*canaryOf(b) = tombstone
	}

	n := (*freeNode)(b)
	n.next = h.freeHead
	h.freeHead = b
	h.used--
}

// EmptinessBin quantizes used/blockCount into one of f+1 bins (spec §3,
// §4.1): bins 0..f-1 split the partially used range into f equal slices
// (quartiles for f=4, bin 0 the emptiest), and bin f holds only full
// superblocks.
func (h *Header) EmptinessBin(f int) int {
	if h.blockCount == 0 {
		return 0
	}

	if h.used >= h.blockCount {
		return f
	}

	frac := float64(h.used) / float64(h.blockCount)
	bin := int(frac * float64(f))

	if bin >= f {
		bin = f - 1
	}

	return bin
}

// Relabel re-carves an empty superblock for a new size class. Only valid
// when Used() == 0 (spec §4.3: "re-labeling ... is allowed because
// invariant 3 holds trivially when used == 0").
func (h *Header) Relabel(sizeClass int, blockSize uintptr) {
	if h.used != 0 {
		panic("superblock: Relabel called on non-empty superblock")
	}

	dataStart := alignUp(uintptr(h.region.Ptr)+headerSize, blockSize)
	blockCount := int32((uintptr(h.region.Ptr) + h.region.Size - dataStart) / blockSize)

	h.dataStart = dataStart
	h.blockSize = blockSize
	h.blockCount = blockCount
	h.sizeClass = int32(sizeClass)
	h.binIndex = 0
	h.carve()
}

func (h *Header) Used() int32           { return h.used }
func (h *Header) BlockCount() int32     { return h.blockCount }
func (h *Header) BlockSize() uintptr    { return h.blockSize }
func (h *Header) SizeClass() int        { return int(h.sizeClass) }
func (h *Header) Owner() Owner          { return h.owner }
func (h *Header) BinIndex() int32       { return h.binIndex }
func (h *Header) SetBinIndex(bin int32) { h.binIndex = bin }
func (h *Header) Region() pagesource.Region { return h.region }

// SetOwner reassigns ownership. Callers must hold the current owner's lock
// (spec §3 invariant 4); for a migration to GlobalHeap/LocalHeap_j the new
// owner's lock is not required to be held yet since the superblock is
// OwnerNone and unreachable from any bin in between.
func (h *Header) SetOwner(o Owner) { h.owner = o }

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
