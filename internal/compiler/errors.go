package compiler

import "fmt"

// AssemblerError wraps a failure from the underlying golang-asm
// framework. Per spec.md §7 this is an internal/unexpected error: the
// assembler should never fail on a well-formed IR sequence, so a
// non-nil AssemblerError signals a bug in this package, not in the
// user's program.
type AssemblerError struct {
	cause error
}

func (e *AssemblerError) Error() string {
	return fmt.Sprintf("bf-jit: internal assembler error: %v", e.cause)
}

func (e *AssemblerError) Unwrap() error { return e.cause }
