// Package vm owns the tape, the two I/O streams, and the assembled
// code for one Brainfuck program, and drives a single invocation of
// it (spec.md §4.3).
package vm

import (
	"io"
	"os"
	"runtime"
	"unsafe"

	"github.com/liangyongrui/bf-jit/internal/compiler"
	"github.com/liangyongrui/bf-jit/internal/ir"
)

// TapeSize is the fixed 4 MiB linear memory every program executes
// against (spec.md §6).
const TapeSize = 4 * 1024 * 1024

// nativecall invokes the assembled function at codeAddr with the
// System V (this, tapeStart, tapeEnd) argument triple and returns its
// AX result: zero on success, otherwise non-zero (see
// nativecall_amd64.s).
func nativecall(codeAddr, this, tapeStart, tapeEnd uintptr) uintptr

// VM is not thread-safe and not reusable across concurrent goroutines;
// Run consumes the receiver for the duration of one invocation
// (spec.md §5).
type VM struct {
	code      *compiler.Code
	tape      []byte
	callbacks compiler.HostCallbacks
	input     io.Reader
	output    io.Writer

	// pendingErr holds the *RuntimeError a callback or the overflow
	// handler produced during the in-flight Run call. It is a real
	// field on a reachable struct rather than a pointer smuggled
	// through the emitted function's integer return register, so the
	// object stays visible to the garbage collector for the whole
	// round trip through native code — see Run and errSignal below.
	pendingErr *RuntimeError
}

// New reads sourcePath, compiles it to IR, assembles native code, and
// allocates a zeroed tape. Any sub-step failure short-circuits with
// its own typed error (spec.md §4.3/§7): *os.PathError from the read,
// *ir.CompileError from compilation, or *compiler.AssemblerError from
// assembly.
func New(sourcePath string, input io.Reader, output io.Writer) (*VM, error) {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}

	ops, err := ir.Compile(string(src))
	if err != nil {
		return nil, err
	}

	code, err := compiler.Assemble(ops)
	if err != nil {
		return nil, err
	}

	v := &VM{
		tape:   make([]byte, TapeSize),
		code:   code,
		input:  input,
		output: output,
	}
	v.callbacks = compiler.HostCallbacks{
		ReadByte:  v.readByte,
		WriteByte: v.writeByte,
		Overflow:  v.overflowError,
	}
	return v, nil
}

// errSignal is the only value the emitted function's AX return
// register ever needs to carry across the native-code boundary: zero
// for success, non-zero for failure. The real *RuntimeError travels
// through v.pendingErr instead of through this bit pattern, so it
// stays reachable to the garbage collector for the whole call.
const errSignal = 1

// Run invokes the assembled function once. A null return becomes
// success; a non-null return means a callback or the overflow handler
// left the failure in v.pendingErr, whose ownership Run takes over
// (spec.md §4.3, §7).
func (v *VM) Run() error {
	tapeStart := uintptr(unsafe.Pointer(&v.tape[0]))
	tapeEnd := tapeStart + TapeSize
	this := uintptr(unsafe.Pointer(&v.callbacks))

	ret := nativecall(v.code.Addr(), this, tapeStart, tapeEnd)
	// Keep the tape and code reachable across the native call: nothing
	// in Go's view of the world references v.tape's backing array or
	// v.code's mmap'd bytes while control is in emitted code, and
	// runtime.SetFinalizer on *compiler.Code would otherwise be free
	// to run concurrently with it.
	runtime.KeepAlive(v.tape)
	runtime.KeepAlive(v.code)

	if ret == 0 {
		return nil
	}
	err := v.pendingErr
	v.pendingErr = nil
	return err
}

// readByte implements vm_read (spec.md §4.3): one byte from input
// into *cellPtr, leaving the cell unchanged on EOF.
func (v *VM) readByte(_ uintptr, cellPtr *byte) uintptr {
	var buf [1]byte
	n, err := v.input.Read(buf[:])
	if n == 1 {
		*cellPtr = buf[0]
	}
	if err != nil && err != io.EOF {
		v.pendingErr = &RuntimeError{Kind: IOError, Cause: err}
		return errSignal
	}
	return 0
}

// writeByte implements vm_write (spec.md §4.3): the single byte
// *cellPtr to output.
func (v *VM) writeByte(_ uintptr, cellPtr *byte) uintptr {
	if _, err := v.output.Write([]byte{*cellPtr}); err != nil {
		v.pendingErr = &RuntimeError{Kind: IOError, Cause: err}
		return errSignal
	}
	return 0
}

// overflowError implements vm_overflow_error (spec.md §4.3): it never
// returns null.
func (v *VM) overflowError(_ uintptr) uintptr {
	v.pendingErr = &RuntimeError{Kind: PointerOverflow}
	return errSignal
}
