package compiler

import "unsafe"

// vmReadEntry, vmWriteEntry, and vmOverflowEntry are the three stable
// addresses materialized as immediates inside emitted code (spec.md
// §9). They are bodyless on purpose: their real implementation lives
// in trampolines_amd64.s and is reached by a direct CALL from JIT code
// using the System V convention (this in DI, cell pointer in SI where
// applicable) rather than Go's own calling convention. The Go compiler
// is never asked to call them, only to report their address via
// reflect.ValueOf(vmReadEntry).Pointer() (see Assemble), so the
// zero-argument Go signature declared here is a formality that the
// mismatched asm body never needs to honor.
func vmReadEntry()
func vmWriteEntry()
func vmOverflowEntry()

// vmReadCallback, vmWriteCallback, and vmOverflowCallback are the
// actual Go-ABI0 functions the trampolines above CALL into after
// saving R12, R13, BX, and R15 (see trampolines_amd64.s). ctx is the "this" pointer
// JIT code was invoked with; it addresses the *HostCallbacks for the
// running VM.
func vmReadCallback(ctx uintptr, cellPtr *byte) uintptr {
	cb := (*HostCallbacks)(unsafe.Pointer(ctx))
	return cb.ReadByte(ctx, cellPtr)
}

func vmWriteCallback(ctx uintptr, cellPtr *byte) uintptr {
	cb := (*HostCallbacks)(unsafe.Pointer(ctx))
	return cb.WriteByte(ctx, cellPtr)
}

func vmOverflowCallback(ctx uintptr) uintptr {
	cb := (*HostCallbacks)(unsafe.Pointer(ctx))
	return cb.Overflow(ctx)
}
