package pagesource

import "sync/atomic"

// Counting wraps a Source and tracks how many regions have been acquired
// from and released back to the OS, so GlobalHeap's "return excess empty
// superblocks" policy (spec §4.3) can be observed in tests (spec §8
// scenario 4: "PageSource release counter > 0").
type Counting struct {
	Source
	acquires uint64
	releases uint64
}

// NewCounting wraps s with acquire/release counters.
func NewCounting(s Source) *Counting {
	return &Counting{Source: s}
}

func (c *Counting) Acquire(size uintptr) (Region, error) {
	r, err := c.Source.Acquire(size)
	if err == nil {
		atomic.AddUint64(&c.acquires, 1)
	}

	return r, err
}

func (c *Counting) Release(r Region) error {
	err := c.Source.Release(r)
	if err == nil {
		atomic.AddUint64(&c.releases, 1)
	}

	return err
}

// Acquires returns the number of regions successfully acquired.
func (c *Counting) Acquires() uint64 { return atomic.LoadUint64(&c.acquires) }

// Releases returns the number of regions successfully returned to the OS.
func (c *Counting) Releases() uint64 { return atomic.LoadUint64(&c.releases) }
