// Package errors provides standardized error messaging for the tiered
// allocator, grounded on the teacher's category+code+context error shape
// (originally internal/errors/standard.go in the source repository).
package errors

import (
	"fmt"
	"os"
	"runtime"
)

// ErrorCategory groups related fatal conditions (spec §7's error
// taxonomy).
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryOverflow   ErrorCategory = "OVERFLOW"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategorySystem     ErrorCategory = "SYSTEM"
)

// StandardError is a consistently shaped fatal error.
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError builds a StandardError, capturing the immediate caller
// for the diagnostic.
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(2)
	caller := "unknown"

	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// OutOfMemory reports that PageSource could not satisfy a request (spec
// §7: "OOM ... fatal, abort the process with a diagnostic").
func OutOfMemory(requested uintptr) *StandardError {
	return NewStandardError(CategorySystem, "OOM",
		fmt.Sprintf("out of memory: failed to satisfy a %d-byte request", requested),
		map[string]interface{}{"requested": requested})
}

// DoubleFree reports a block freed twice, detected by debug-mode
// per-block marking (spec §7, §8 invariant 1).
func DoubleFree(p uintptr) *StandardError {
	return NewStandardError(CategoryMemory, "DOUBLE_FREE",
		fmt.Sprintf("double free detected at %#x", p),
		map[string]interface{}{"pointer": p})
}

// InvalidAlignment reports a malformed alignment request to AlignedAlloc
// (spec §6: "align a power of two").
func InvalidAlignment(align uintptr) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_ALIGNMENT",
		fmt.Sprintf("alignment %d is not a power of two", align),
		map[string]interface{}{"align": align})
}

// BootstrapOverflow reports the bootstrap bump arena running out of space
// before the caller's TLAB was available (spec §4.6, §7).
func BootstrapOverflow(requested, remaining uintptr) *StandardError {
	return NewStandardError(CategorySystem, "BOOTSTRAP_OVERFLOW",
		fmt.Sprintf("bootstrap arena overflow: requested %d, %d remaining", requested, remaining),
		map[string]interface{}{"requested": requested, "remaining": remaining})
}

// IntegerOverflow reports an arithmetic overflow while sizing a request.
func IntegerOverflow(operation string, values ...interface{}) *StandardError {
	return NewStandardError(CategoryOverflow, "INTEGER_OVERFLOW",
		fmt.Sprintf("integer overflow in %s operation", operation),
		map[string]interface{}{"operation": operation, "values": values})
}

// Fatal prints a short diagnostic to stderr and terminates the process
// immediately (spec §7: "a short stderr diagnostic followed by immediate
// termination"). It never returns.
func Fatal(err *StandardError) {
	fmt.Fprintf(os.Stderr, "tieredalloc: fatal: %s\n", err.Error())
	os.Exit(2)
}
