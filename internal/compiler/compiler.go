// Package compiler is the JIT backend: it translates a folded IR
// sequence (internal/ir) into native x86-64 machine code held in
// executable memory, per spec.md §4.2.
package compiler

import (
	"bytes"
	"reflect"
	"runtime"
	"unsafe"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/liangyongrui/bf-jit/internal/ir"
	"github.com/liangyongrui/bf-jit/internal/platform"
)

// Stable addresses of the three host-callback trampolines (§4.2.1),
// resolved once via reflect since vmReadEntry/vmWriteEntry/
// vmOverflowEntry are bodyless Go declarations backed entirely by
// trampolines_amd64.s.
var (
	vmReadAddr     = reflect.ValueOf(vmReadEntry).Pointer()
	vmWriteAddr    = reflect.ValueOf(vmWriteEntry).Pointer()
	vmOverflowAddr = reflect.ValueOf(vmOverflowEntry).Pointer()
)

// Code is an assembled, executable function implementing spec.md's
// emitted-function contract: three arguments (this, tape_start,
// tape_end) in DI/SI/DX and a zero (success) or non-zero (failure)
// return in AX. Per
// SPEC_FULL.md §5, Code holds no mutable state after Assemble returns
// and is safe for concurrent invocation against distinct tapes and
// HostCallbacks.
type Code struct {
	mem []byte
}

// Addr is the entry point of the assembled function, for
// internal/vm's nativecall shim.
func (c *Code) Addr() uintptr {
	return uintptr(unsafe.Pointer(&c.mem[0]))
}

func releaseCode(c *Code) {
	_ = platform.MunmapCodeSegment(c.mem)
}

// loopLabels tracks the two jump instructions belonging to one nested
// loop, resolved when the matching LoopBegin/LoopEnd pair completes.
type loopLabels struct {
	left  *obj.Prog // LoopEnd's backward jump targets this
	right *obj.Prog // LoopBegin's forward jump (the CMP/JEQ prog itself)
}

// Assemble translates ops into native code, per spec.md §4.2's
// register assignment, per-opcode emission table, and epilogue/error
// trampoline structure. The three trampoline addresses are embedded
// as immediates in the generated CALL sites (spec.md §9); the
// callbacks themselves are supplied per-invocation via the "this"
// pointer passed to the assembled function, not baked in here (see
// internal/compiler/host.go).
func Assemble(ops []ir.Op) (*Code, error) {
	b, err := goasm.NewBuilder("amd64", 64+16*len(ops))
	if err != nil {
		return nil, &AssemblerError{cause: err}
	}

	var pending []func(next *obj.Prog)
	add := func(p *obj.Prog) *obj.Prog {
		for _, fn := range pending {
			fn(p)
		}
		pending = pending[:0]
		b.AddInstruction(p)
		return p
	}
	bindNext := func(fn func(next *obj.Prog)) {
		pending = append(pending, fn)
	}
	newProg := func() *obj.Prog { return b.NewProg() }

	regAddr := func(r int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }
	memAddr := func(r int16, off int64) obj.Addr { return obj.Addr{Type: obj.TYPE_MEM, Reg: r, Offset: off} }
	cstAddr := func(v int64) obj.Addr { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }

	emit := func(as obj.As, from, to obj.Addr) *obj.Prog {
		p := newProg()
		p.As = as
		p.From = from
		p.To = to
		return add(p)
	}
	branch := func(as obj.As) *obj.Prog {
		p := newProg()
		p.As = as
		p.To.Type = obj.TYPE_BRANCH
		return add(p)
	}
	call := func(addr uintptr) {
		emit(x86.AMOVQ, cstAddr(int64(addr)), regAddr(x86.REG_AX))
		p := newProg()
		p.As = obj.ACALL
		p.To = regAddr(x86.REG_AX)
		add(p)
	}

	// Prologue. Register assignment is R12=this, R13=tape_start,
	// BX=tape_end, CX=ptr, R15=spill (SPEC_FULL.md §4.2; this diverges
	// from original_source/src/jit.rs's r14=tape_end because Go's
	// amd64 ABI reserves R14 for the goroutine pointer across the CALLs
	// this package makes into real Go functions). PUSHQ AX / POPQ DX
	// is pure 16-byte stack-alignment bookkeeping, matching the
	// original's own push/pop pair.
	emit(x86.APUSHQ, obj.Addr{}, regAddr(x86.REG_AX))
	emit(x86.AMOVQ, regAddr(x86.REG_DI), regAddr(x86.REG_R12))
	emit(x86.AMOVQ, regAddr(x86.REG_SI), regAddr(x86.REG_R13))
	emit(x86.AMOVQ, regAddr(x86.REG_DX), regAddr(x86.REG_BX))
	emit(x86.AMOVQ, regAddr(x86.REG_SI), regAddr(x86.REG_CX))

	var overflowJumps []*obj.Prog
	var exitJumps []*obj.Prog
	var loopStack []*loopLabels

	for _, op := range ops {
		switch op.Kind {
		case ir.AddPtr:
			emit(x86.AADDQ, cstAddr(int64(op.N)), regAddr(x86.REG_CX))
			overflowJumps = append(overflowJumps, branch(x86.AJCS))
			emit(x86.ACMPQ, regAddr(x86.REG_CX), regAddr(x86.REG_BX))
			overflowJumps = append(overflowJumps, branch(x86.AJCC))

		case ir.SubPtr:
			emit(x86.ASUBQ, cstAddr(int64(op.N)), regAddr(x86.REG_CX))
			overflowJumps = append(overflowJumps, branch(x86.AJCS))
			emit(x86.ACMPQ, regAddr(x86.REG_CX), regAddr(x86.REG_R13))
			overflowJumps = append(overflowJumps, branch(x86.AJCS))

		case ir.AddCell:
			emit(x86.AADDB, cstAddr(int64(op.N)), memAddr(x86.REG_CX, 0))

		case ir.SubCell:
			emit(x86.ASUBB, cstAddr(int64(op.N)), memAddr(x86.REG_CX, 0))

		case ir.ReadByte:
			emit(x86.AMOVQ, regAddr(x86.REG_CX), regAddr(x86.REG_R15))
			emit(x86.AMOVQ, regAddr(x86.REG_R12), regAddr(x86.REG_DI))
			emit(x86.AMOVQ, regAddr(x86.REG_CX), regAddr(x86.REG_SI))
			call(vmReadAddr)
			emit(x86.AMOVQ, regAddr(x86.REG_R15), regAddr(x86.REG_CX))
			emit(x86.ATESTQ, regAddr(x86.REG_AX), regAddr(x86.REG_AX))
			exitJumps = append(exitJumps, branch(x86.AJNE))

		case ir.WriteByte:
			emit(x86.AMOVQ, regAddr(x86.REG_CX), regAddr(x86.REG_R15))
			emit(x86.AMOVQ, regAddr(x86.REG_R12), regAddr(x86.REG_DI))
			emit(x86.AMOVQ, regAddr(x86.REG_CX), regAddr(x86.REG_SI))
			call(vmWriteAddr)
			emit(x86.AMOVQ, regAddr(x86.REG_R15), regAddr(x86.REG_CX))
			emit(x86.ATESTQ, regAddr(x86.REG_AX), regAddr(x86.REG_AX))
			exitJumps = append(exitJumps, branch(x86.AJNE))

		case ir.LoopBegin:
			emit(x86.ACMPB, memAddr(x86.REG_CX, 0), cstAddr(0))
			right := branch(x86.AJEQ)
			ll := &loopLabels{right: right}
			loopStack = append(loopStack, ll)
			bindNext(func(next *obj.Prog) { ll.left = next })

		case ir.LoopEnd:
			// The IR compiler guarantees balanced brackets (spec.md
			// §9); an empty stack here is a bug in the IR producer,
			// not a user error, so a direct index panic is acceptable.
			ll := loopStack[len(loopStack)-1]
			loopStack = loopStack[:len(loopStack)-1]
			emit(x86.ACMPB, memAddr(x86.REG_CX, 0), cstAddr(0))
			left := branch(x86.AJNE)
			left.To.SetTarget(ll.left)
			bindNext(func(next *obj.Prog) { ll.right.To.SetTarget(next) })
		}
	}

	// Epilogue: success sentinel, then a shared exit reached either by
	// falling through the overflow handler or by jumping directly from
	// an I/O-error check (AX already holds the callback's non-null
	// return in that case).
	emit(x86.AXORQ, regAddr(x86.REG_AX), regAddr(x86.REG_AX))
	jmpExit := branch(obj.AJMP)

	overflowEntry := emit(x86.AMOVQ, regAddr(x86.REG_R12), regAddr(x86.REG_DI))
	for _, j := range overflowJumps {
		j.To.SetTarget(overflowEntry)
	}
	call(vmOverflowAddr)

	exit := emit(x86.APOPQ, obj.Addr{}, regAddr(x86.REG_DX))
	jmpExit.To.SetTarget(exit)
	for _, j := range exitJumps {
		j.To.SetTarget(exit)
	}
	retProg := newProg()
	retProg.As = obj.ARET
	add(retProg)

	machineCode := b.Assemble()

	mem, err := platform.MmapCodeSegment(bytes.NewReader(machineCode), len(machineCode))
	if err != nil {
		return nil, &AssemblerError{cause: err}
	}
	c := &Code{mem: mem}
	runtime.SetFinalizer(c, releaseCode)
	return c, nil
}
