// Package introspect aggregates a read-only stats snapshot across the
// GlobalHeap and LocalHeap fleet (spec §4.9, SPEC_FULL.md "Introspection"
// component). It never sits on the allocation fast path: every method
// here acquires a heap's lock only long enough to copy its counters, the
// same pattern globalheap.Heap.Snapshot/localheap.Heap.Snapshot already
// use internally.
package introspect

import (
	"github.com/orizon-lang/tieredalloc/internal/globalheap"
	"github.com/orizon-lang/tieredalloc/internal/localheap"
)

// Snapshot is a point-in-time view of the whole tiered heap, suitable for
// JSON encoding by an HTTP/3 introspection daemon or a one-shot stat CLI.
type Snapshot struct {
	Global     globalheap.Stats  `json:"global"`
	LocalHeaps []localheap.Stats `json:"local_heaps"`
	TotalInUse uintptr           `json:"total_bytes_in_use"`
	TotalHeld  uintptr           `json:"total_bytes_reserved"`
}

// Source is the subset of an Allocator's internals introspect needs,
// satisfied by any type that can hand back its GlobalHeap and LocalHeap
// fleet. Kept as an interface so introspect never imports the root
// tieredalloc package (it would form an import cycle).
type Source interface {
	GlobalHeap() *globalheap.Heap
	LocalHeaps() []*localheap.Heap
}

// Take builds a Snapshot from src.
func Take(src Source) Snapshot {
	locals := src.LocalHeaps()
	snap := Snapshot{
		Global:     src.GlobalHeap().Snapshot(),
		LocalHeaps: make([]localheap.Stats, len(locals)),
	}

	for i, lh := range locals {
		s := lh.Snapshot()
		snap.LocalHeaps[i] = s
		snap.TotalInUse += s.BytesInUse
		snap.TotalHeld += s.BytesReserved
	}

	return snap
}
