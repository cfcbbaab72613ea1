package common

import "fmt"

// Assert checks an internal invariant and panics if it does not hold.
//
// Invariant breakage in a storage engine means in-memory state may no longer
// match what is on disk; continuing risks persisting corruption, so we crash
// immediately with a message pointing at the broken condition. User input and
// I/O failures are not invariants and must surface as errors instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// CeilDiv returns the ceiling of a/b for positive operands.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}
