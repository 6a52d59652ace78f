package tieredalloc

import "unsafe"

// zeroAlloc backs the distinguished non-nil pointer returned for a
// zero-size request (spec §7: "Malloc(0) ... returns a distinguished
// non-nil pointer; Free on it is a no-op"). Every zero-size request shares
// this single byte; callers must never write through it.
var zeroAlloc byte

func zeroSentinel() unsafe.Pointer { return unsafe.Pointer(&zeroAlloc) }

func isZeroSentinel(p unsafe.Pointer) bool { return p == unsafe.Pointer(&zeroAlloc) }
