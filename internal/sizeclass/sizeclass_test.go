package sizeclass

import "testing"

func TestTableMonotone(t *testing.T) {
	tbl := New(32 * 1024)

	prev := uintptr(0)
	for i := 0; i < tbl.NumClasses(); i++ {
		bs := tbl.BlockSize(i)
		if bs <= prev {
			t.Fatalf("class %d block size %d not strictly increasing after %d", i, bs, prev)
		}

		prev = bs
	}

	if last := tbl.BlockSize(tbl.NumClasses() - 1); last != tbl.SMax() {
		t.Fatalf("last class block size %d, want SMax %d", last, tbl.SMax())
	}
}

func TestClassOfCoversRequest(t *testing.T) {
	tbl := New(32 * 1024)

	sizes := []uintptr{1, 15, 16, 17, 100, 1000, 8192, 32 * 1024}
	for _, sz := range sizes {
		idx, bs, ok := tbl.ClassOf(sz)
		if !ok {
			t.Fatalf("ClassOf(%d) not ok", sz)
		}

		if bs < sz {
			t.Fatalf("ClassOf(%d) = (%d, %d): block smaller than request", sz, idx, bs)
		}

		if idx > 0 && tbl.BlockSize(idx-1) >= sz {
			t.Fatalf("ClassOf(%d) picked class %d but class %d already fits", sz, idx, idx-1)
		}
	}
}

func TestIsLarge(t *testing.T) {
	tbl := New(4096)

	if tbl.IsLarge(4096) {
		t.Fatal("SMax itself must not be large")
	}

	if !tbl.IsLarge(4097) {
		t.Fatal("SMax+1 must be large")
	}
}

func TestClassForAligned(t *testing.T) {
	tbl := New(32 * 1024)

	idx, ok := tbl.ClassForAligned(100, 64)
	if !ok {
		t.Fatal("expected a 64-byte-aligned class to exist for a 100-byte request")
	}

	if tbl.BlockSize(idx)%64 != 0 {
		t.Fatalf("class %d block size %d is not a multiple of 64", idx, tbl.BlockSize(idx))
	}
}

func TestFragmentationBound(t *testing.T) {
	tbl := New(32 * 1024)

	// Alignment granularity dominates the growth ratio for the smallest
	// few classes (an 8-byte rounding step is a large fraction of a
	// 16-byte block); the 1/8 schedule only bounds steady-state growth
	// once blocks are comfortably larger than the rounding granularity.
	for i := 1; i < tbl.NumClasses(); i++ {
		prev := tbl.BlockSize(i - 1)
		cur := tbl.BlockSize(i)

		if prev < 256 {
			continue
		}

		growth := float64(cur-prev) / float64(prev)
		if growth > 0.20 {
			t.Fatalf("class %d -> %d grows by %.2f%%, exceeds fragmentation bound", i-1, i, growth*100)
		}
	}
}
