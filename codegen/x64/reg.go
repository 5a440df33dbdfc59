// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package codegenx64 lowers a regalloc-assigned ir.BasicBlock into
// executable x86-64 machine code. It covers the register/ALU/shift/flag
// fast path directly (hand-encoded REX/ModRM sequences, grounded on
// other_examples/jam-duna-jamduna__recompiler.go's encodeMovImm/
// generateBranchImm family); memory and coprocessor accesses, which
// require a real Go interface call through mem.Bus/mem.Coprocessor,
// instead end the current native segment and are interpreted by the
// cpu package directly, following the pattern
// other_examples/tetratelabs-wazero__jit_value_location_amd64.go
// documents for its own JIT ("we never invoke 'call' instruction ...
// save rbp/rsp ... write them back before returns"): rather than calling
// out from inside emitted code, emitted code simply returns, and the Go
// side resumes it after performing the one pending operation.
package codegenx64

import "github.com/dynarm/dynarm/regalloc"

// physReg is one concrete x86-64 general-purpose register.
type physReg struct {
	name string
	bits byte // 3-bit ModRM/SIB register field
	rex  byte // REX.B/R/X extension bit (0 or 1)
}

var (
	rax = physReg{"rax", 0, 0}
	rcx = physReg{"rcx", 1, 0}
	rdx = physReg{"rdx", 2, 0}
	rbx = physReg{"rbx", 3, 0}
	rsp = physReg{"rsp", 4, 0}
	rbp = physReg{"rbp", 5, 0}
	rsi = physReg{"rsi", 6, 0}
	rdi = physReg{"rdi", 7, 0}
	r8  = physReg{"r8", 0, 1}
	r9  = physReg{"r9", 1, 1}
	r10 = physReg{"r10", 2, 1}
	r11 = physReg{"r11", 3, 1}
	r12 = physReg{"r12", 4, 1}
	r13 = physReg{"r13", 5, 1}
	r14 = physReg{"r14", 6, 1}
	r15 = physReg{"r15", 7, 1}
)

// generalPool maps the allocator's eleven abstract regalloc.Reg values
// onto concrete host registers, in the same order regalloc.NewAllocator
// hands them out. RSP is never used (it remains the native stack
// pointer throughout) and RBP is reserved for regalloc.RFrame.
var generalPool = [regalloc.NumGeneral]physReg{
	rax, rcx, rdx, rbx, rsi, rdi, r8, r9, r10, r11, r12,
}

// reserved maps the allocator's four fixed-purpose registers.
var reserved = map[regalloc.Reg]physReg{
	regalloc.RFlags:   r13,
	regalloc.RState:   r14,
	regalloc.RFrame:   rbp,
	regalloc.RScratch: r15,
}

// scratch is the physical register emitNative/emitALU stage values
// through when an op needs a register no live variable currently owns —
// computing a comparison-only result, or untangling a non-commutative
// op whose allocated destination happens to alias its second operand.
func scratch() physReg { return physOf(regalloc.RScratch) }

// physOf resolves an abstract regalloc.Reg to its concrete encoding.
func physOf(r regalloc.Reg) physReg {
	if r < regalloc.NumGeneral {
		return generalPool[r]
	}
	return reserved[r]
}
