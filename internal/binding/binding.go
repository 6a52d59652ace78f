// Package binding assigns each execution context (in spec terms, a
// "thread"; here, whatever goroutine-scoped lifetime the caller manages
// explicitly — see SPEC_FULL.md §5) to one of the P LocalHeaps, and load
// balances by binding new contexts to whichever heap currently has the
// fewest bound threads (spec §4.7 "ThreadBinding").
//
// Grounded on the teacher's reference-counted resource lifecycle idiom
// (internal/allocator/runtime.go's Runtime/Shutdown pairing), adapted to
// a fixed-size fleet with an explicit Bind/Unbind pair standing in for the
// thread-create/thread-exit hooks spec §9 says an external interposition
// layer would supply.
package binding

import (
	"sync"

	"github.com/orizon-lang/tieredalloc/internal/localheap"
)

// Manager owns the fixed fleet of P LocalHeaps and binds callers to one.
type Manager struct {
	mu    sync.Mutex
	heaps []*localheap.Heap
}

// New wraps an already-constructed fleet of LocalHeaps. The fleet itself
// is a process-lifetime singleton (spec §9): Manager never grows or
// shrinks it, only tracks which heap each caller is bound to.
func New(heaps []*localheap.Heap) *Manager {
	return &Manager{heaps: heaps}
}

// Bind picks the LocalHeap with the fewest bound threads, ties broken by
// lowest index, increments its ref count, and returns it along with its
// index (spec §4.7). Hash-based binding (goroutine/thread id mod P) is an
// acceptable alternative per spec §4.7 when counting is impractical; this
// Manager always uses the count-based policy since LocalHeap already
// tracks its own ref count cheaply.
func (m *Manager) Bind() (*localheap.Heap, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := 0
	bestCount := m.heaps[0].RefCount()

	for i := 1; i < len(m.heaps); i++ {
		if c := m.heaps[i].RefCount(); c < bestCount {
			best, bestCount = i, c
		}
	}

	m.heaps[best].IncRef()

	return m.heaps[best], best
}

// Unbind releases a previous Bind's ref count.
func (m *Manager) Unbind(idx int) {
	m.heaps[idx].DecRef()
}

// NumHeaps returns P.
func (m *Manager) NumHeaps() int { return len(m.heaps) }

// Heap returns the LocalHeap at idx, for remote-free delivery by owner
// index without going through Bind/Unbind.
func (m *Manager) Heap(idx int) *localheap.Heap { return m.heaps[idx] }
