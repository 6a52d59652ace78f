package superblock

import (
	"testing"
	"unsafe"

	"github.com/orizon-lang/tieredalloc/internal/pagesource"
)

func testRegion(t *testing.T, size uintptr) pagesource.Region {
	t.Helper()

	region, err := pagesource.Default().Acquire(size)
	if err != nil {
		t.Fatalf("acquire region: %v", err)
	}

	t.Cleanup(func() { _ = pagesource.Default().Release(region) })

	return region
}

func TestNewCarvesFreeList(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 64)

	if sb.Used() != 0 {
		t.Fatalf("fresh superblock used = %d, want 0", sb.Used())
	}

	if sb.BlockCount() <= 0 {
		t.Fatal("expected a positive block count")
	}

	seen := make(map[unsafe.Pointer]bool)
	count := int32(0)

	for {
		p := sb.Pop()
		if p == nil {
			break
		}

		if seen[p] {
			t.Fatalf("free list yielded duplicate pointer %p", p)
		}

		seen[p] = true
		count++
	}

	if count != sb.BlockCount() {
		t.Fatalf("popped %d blocks, want %d", count, sb.BlockCount())
	}

	if sb.Used() != sb.BlockCount() {
		t.Fatalf("used = %d after draining, want %d", sb.Used(), sb.BlockCount())
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 128)

	a := sb.Pop()
	b := sb.Pop()

	if a == nil || b == nil {
		t.Fatal("expected two free blocks")
	}

	sb.Push(b)
	sb.Push(a)

	if sb.Used() != 0 {
		t.Fatalf("used = %d after returning both blocks, want 0", sb.Used())
	}

	// LIFO: the most recently pushed block (a) comes back first.
	if got := sb.Pop(); got != a {
		t.Fatalf("expected LIFO pop to return %p, got %p", a, got)
	}
}

func TestOwnerOfRecoversHeader(t *testing.T) {
	const sbSize = 256 * 1024

	region := testRegion(t, sbSize)
	sb := New(region, 0, 64)

	p := sb.Pop()
	if p == nil {
		t.Fatal("expected a free block")
	}

	got := OwnerOf(p, sbSize)
	if got != sb {
		t.Fatalf("OwnerOf(%p) = %p, want %p", p, got, sb)
	}
}

func TestEmptinessBin(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 64)

	if bin := sb.EmptinessBin(4); bin != 0 {
		t.Fatalf("fully empty superblock bin = %d, want 0", bin)
	}

	for sb.Used() < sb.BlockCount() {
		if sb.Pop() == nil {
			break
		}
	}

	if bin := sb.EmptinessBin(4); bin != 4 {
		t.Fatalf("fully used superblock bin = %d, want 4", bin)
	}
}

func TestRelabelRequiresEmpty(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 64)
	sb.Pop()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Relabel on a non-empty superblock to panic")
		}
	}()

	sb.Relabel(1, 128)
}

func TestDebugModeTombstoneLifecycle(t *testing.T) {
	DebugMode.Store(true)
	defer DebugMode.Store(false)

	region := testRegion(t, 64*1024)
	sb := New(region, 0, 128)

	p := sb.Pop()
	if p == nil {
		t.Fatal("expected a free block")
	}

	if tombstoned(p) {
		t.Fatal("freshly carved block must not start tombstoned")
	}

	sb.Push(p)

	if !tombstoned(p) {
		t.Fatal("Push in DebugMode must leave a tombstone behind")
	}

	// A second Push before an intervening Pop is a double free; Push
	// would call errs.Fatal (os.Exit) here, so the detection condition is
	// checked directly instead of driving it through Push.
	if !tombstoned(p) {
		t.Fatal("expected the double-free condition to be detected")
	}

	got := sb.Pop()
	if got != p {
		t.Fatalf("Pop returned %p, want the just-freed %p", got, p)
	}

	if tombstoned(p) {
		t.Fatal("Pop must clear the tombstone before handing the block back out")
	}
}

func TestDebugModeOffSkipsTombstone(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 128)

	p := sb.Pop()
	sb.Push(p)

	// DebugMode defaults off in this test (no Store(true) above); Push
	// must not have touched the canary word.
	if tombstoned(p) {
		t.Fatal("Push must not write a tombstone while DebugMode is off")
	}
}

func TestRelabelRecarves(t *testing.T) {
	region := testRegion(t, 64*1024)
	sb := New(region, 0, 64)

	var popped []unsafe.Pointer
	for {
		p := sb.Pop()
		if p == nil {
			break
		}

		popped = append(popped, p)
	}

	for _, p := range popped {
		sb.Push(p)
	}

	if sb.Used() != 0 {
		t.Fatalf("used = %d after returning every block, want 0", sb.Used())
	}

	sb.Relabel(1, 256)

	if sb.SizeClass() != 1 {
		t.Fatalf("SizeClass() = %d after relabel, want 1", sb.SizeClass())
	}

	if sb.BlockSize() != 256 {
		t.Fatalf("BlockSize() = %d after relabel, want 256", sb.BlockSize())
	}

	if sb.Used() != 0 {
		t.Fatalf("used = %d after relabel, want 0", sb.Used())
	}
}
