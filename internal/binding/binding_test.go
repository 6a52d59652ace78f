package binding

import (
	"testing"

	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/localheap"
	"github.com/orizon-lang/tieredalloc/internal/pagesource"
	"github.com/orizon-lang/tieredalloc/internal/sizeclass"
)

func newTestManager(t *testing.T, n int) *Manager {
	t.Helper()

	tbl := sizeclass.New(4096)
	pages := pagesource.Default()
	global := globalheap.New(tbl, pages, 64*1024, 4)

	heaps := make([]*localheap.Heap, n)
	for i := range heaps {
		heaps[i] = localheap.New(i, tbl, global, 64*1024, localheap.EvictionParams{F: 0.25, K: 1})
	}

	return New(heaps)
}

func TestBindLoadBalancesByCount(t *testing.T) {
	m := newTestManager(t, 3)

	_, idx0 := m.Bind()
	_, idx1 := m.Bind()
	_, idx2 := m.Bind()

	seen := map[int]bool{idx0: true, idx1: true, idx2: true}
	if len(seen) != 3 {
		t.Fatalf("expected binding to spread evenly across 3 heaps, got indices %d %d %d", idx0, idx1, idx2)
	}
}

func TestUnbindFreesUpLeastLoadedSlot(t *testing.T) {
	m := newTestManager(t, 2)

	_, idx0 := m.Bind()
	_, idx1 := m.Bind()

	m.Unbind(idx0)

	_, idx2 := m.Bind()
	if idx2 != idx0 {
		t.Fatalf("expected the third Bind to reuse the unbound heap %d, got %d", idx0, idx2)
	}

	_ = idx1
}
