// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "github.com/dynarm/dynarm/guest"

// Kind tags the family an Op belongs to. Op is a tagged sum (spec.md §9's
// design note): one struct, one Kind per case, rather than an interface
// hierarchy with a method per opcode. reads/writes below are therefore a
// single switch each rather than a vtable call, and an Op is a flat,
// cache-friendly value instead of a pointer to a distinct concrete type
// per kind.
type Kind uint8

const (
	// Guest register / status register load-store.
	LoadGuestReg Kind = iota
	StoreGuestReg
	LoadCPSR
	StoreCPSR
	LoadSPSR
	StoreSPSR

	// Arithmetic/bitwise, parameterised by ALUOp.
	ALU

	// Shifts, parameterised by ShiftOp. Produces the shifted value and,
	// for the carry-out variant, feeds UpdateNZC.
	Shift

	// Memory, parameterised by MemSize/Signed/Rotate.
	MemLoad
	MemStore

	// Condition-flag updaters. Exactly one of these follows any opcode
	// that is marked as flag-setting.
	UpdateNZ
	UpdateNZC
	UpdateNZCV
	UpdateQ

	// Control-flow primitives (§3): fold the current PC and mode into
	// the successor key.
	Flush
	FlushExchange
	FlushNoSwitch

	// Coprocessor side-channel.
	CoprocRead
	CoprocWrite

	// EmitAdvancePC: materialises current_PC + 2*instruction_size into
	// Dst, per §4.1's PC-read semantics. Lifters emit this before any
	// operand read that needs "PC as read by this instruction".
	AdvancePC
)

// ALUOp is the 4-bit ARM data-processing opcode field.
type ALUOp uint8

const (
	AND ALUOp = iota
	EOR
	SUB
	RSB
	ADD
	ADC
	SBC
	RSC
	TST
	TEQ
	CMP
	CMN
	ORR
	MOV
	BIC
	MVN

	// MUL has no ARM data-processing encoding of its own (it lives in
	// the multiply instruction space) but is modelled as an ALUOp so
	// Thumb's format-4 MUL and ARM's 32x32->32 multiply share the same
	// lowering path as every other two-operand arithmetic op.
	MUL
)

// SetsFlagsOnly reports whether op is one of the comparison forms that
// write only the flags and have no destination register (TST/TEQ/CMP/CMN).
func (op ALUOp) SetsFlagsOnly() bool {
	switch op {
	case TST, TEQ, CMP, CMN:
		return true
	}
	return false
}

// ShiftOp is the 2-bit ARM shift-type field, plus RRX (encoded as ROR #0
// on real hardware, but distinguished here because its carry-in/out
// semantics differ from a true rotate).
type ShiftOp uint8

const (
	LSL ShiftOp = iota
	LSR
	ASR
	ROR
	RRX
)

// MemSize is the width of a memory access.
type MemSize uint8

const (
	Byte MemSize = iota
	Half
	Word
)

// MemAttrs carries the access-mode bits spec.md §3 groups under "memory
// load/store (byte/half/word, signed/unsigned, with byte-swap and rotate
// variants)".
type MemAttrs struct {
	Size    MemSize
	Signed  bool // sign-extend on load; meaningless for Word
	Rotate  bool // misaligned LDR word: rotate right by (addr&3)*8 after load
	ByteSwap bool // halfword/word byte-swap variant (ARMv5TE-only opcode, wired for completeness)
}

// Op is one IR opcode: a Kind tag, a destination (or Invalid), up to
// three source operands, and the handful of kind-specific fields used by
// exactly one family each.
type Op struct {
	Kind Kind
	Dst  VarID

	// Src holds the generic operand list; which slots are populated and
	// what they mean depends on Kind:
	//   ALU:            Src[0]=Rn, Src[1]=operand2
	//   Shift:          Src[0]=value, Src[1]=shift amount
	//   MemLoad:        Src[0]=base address
	//   MemStore:       Src[0]=base address, Src[1]=value
	//   StoreGuestReg:  Src[0]=value
	//   StoreCPSR/SPSR: Src[0]=value
	//   UpdateNZ:       Src[0]=result
	//   UpdateNZC:      Src[0]=result, Src[1]=shifter carry-out (0/1 operand)
	//   UpdateNZCV:     Src[0]=result, Src[1]=lhs, Src[2]=rhs (for carry/overflow
	//                   recompute; ALUOp says which arithmetic family lhs/rhs
	//                   combined under, since ADD- and SUB-shaped ops and
	//                   RSB/RSC's reversed operand order each define carry
	//                   differently)
	//   UpdateQ:        Src[0]=saturated flag (0/1 operand)
	//   CoprocWrite:    Src[0]=value
	Src [3]Operand

	GuestReg GuestReg // LoadGuestReg/StoreGuestReg
	Mode     guest.Mode // LoadSPSR/StoreSPSR: which mode's SPSR

	ALUOp    ALUOp
	SetFlags bool // ALU: append an UpdateNZC(V) after this op

	ShiftOp ShiftOp

	Mem MemAttrs

	// Flush family: the computed successor key. Addr/Thumb may be
	// operands rather than known constants for register-indirect
	// branches (BX); FlushAddr.IsVar() reports whether the address is one.
	FlushAddr  Operand
	FlushThumb bool // FlushExchange: ignored, thumb bit comes from FlushAddr bit 0

	Coproc       int // slot 0-15
	CoprocFields [4]uint8 // opcode1, CRn, CRm, opcode2

	// PCValue is AdvancePC's result: current_PC + 2*instruction_size,
	// the "PC as read" value per §4.1. It is always a translate-time
	// constant, computed once by the translator from the instruction
	// address/width it already has in hand.
	PCValue uint32
}

// reads reports whether op reads the value of v as one of its operands.
// Coprocessor destination/guest-register destinations do not count as a
// read of Dst even though Dst is "mentioned" by the opcode.
func (op *Op) reads(v VarID) bool {
	for _, s := range op.Src {
		if s.IsVar() && s.Var() == v {
			return true
		}
	}
	if op.Kind == FlushExchange || op.Kind == Flush || op.Kind == FlushNoSwitch {
		if op.FlushAddr.IsVar() && op.FlushAddr.Var() == v {
			return true
		}
	}
	return false
}

// writes reports whether op defines v. Since variables are
// single-assignment, this is true for at most one v at a time and, over
// the life of a well-formed block, true for exactly one Op per Var.
func (op *Op) writes(v VarID) bool {
	return op.Dst != Invalid && op.Dst == v
}

// Reads and Writes are the exported forms of reads/writes, used by the
// register allocator and by tests asserting the SSA invariant.
func (op *Op) Reads(v VarID) bool  { return op.reads(v) }
func (op *Op) Writes(v VarID) bool { return op.writes(v) }
