// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import (
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir/pool"
)

// Builder assembles one BasicBlock's worth of IR. It owns no state beyond
// the block under construction and the arenas it carves nodes from — a
// CPU keeps one Builder per translation and calls Reset between blocks
// rather than allocating a new one. Reset starts the arena on a fresh
// slab; the old slabs are not reused (see pool.Arena.Reset).
type Builder struct {
	ops  *pool.Arena[Op]
	vars int32

	block   *BasicBlock
	current *MicroBlock
}

// NewBuilder returns a Builder backed by fresh arenas sized to
// pool.DefaultSlots.
func NewBuilder() *Builder {
	return &Builder{ops: pool.NewArena[Op](0)}
}

// Reset discards the in-progress block (if any) and releases every node
// carved from the Builder's arenas in bulk, making it ready to translate
// the next block.
func (b *Builder) Reset() {
	b.ops.Reset()
	b.vars = 0
	b.block = nil
	b.current = nil
}

// StartBlock begins a new BasicBlock at key and returns it. The block
// remains the Builder's target until the next StartBlock or Reset.
func (b *Builder) StartBlock(key Key) *BasicBlock {
	b.block = NewBasicBlock(key)
	b.current = nil
	return b.block
}

// Block returns the block currently under construction.
func (b *Builder) Block() *BasicBlock { return b.block }

// StartMicroBlock closes out the previous micro-block (if any) and opens
// a new one predicated on p. The translator calls this whenever a
// lifted instruction's condition code differs from the block's current
// micro-block.
func (b *Builder) StartMicroBlock(p Predicate) {
	if b.current != nil {
		b.block.AppendMicroBlock(*b.current)
	}
	b.current = &MicroBlock{Predicate: p}
}

// Finish closes out the final micro-block and returns the completed
// block. The Builder must be Reset before starting another.
func (b *Builder) Finish() *BasicBlock {
	if b.current != nil {
		b.block.AppendMicroBlock(*b.current)
		b.current = nil
	}
	return b.block
}

// CreateVar allocates a fresh SSA variable. label is carried only for
// disassembly and may be empty.
func (b *Builder) CreateVar(label string) VarID {
	id := VarID(b.vars)
	b.vars++
	_ = label // Var.Label is populated by callers that keep a side table; the id is what IR references carry
	return id
}

// emit carves a new Op out of the arena, fills it in, and appends it to
// the current micro-block.
func (b *Builder) emit(op Op) *Op {
	slot, _ := b.ops.Allocate()
	*slot = op
	b.current.Ops = append(b.current.Ops, slot)
	return slot
}

// LoadGuestReg reads reg into a freshly allocated variable.
func (b *Builder) LoadGuestReg(reg GuestReg) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: LoadGuestReg, Dst: dst, GuestReg: reg})
	return dst
}

// StoreGuestReg writes value into reg.
func (b *Builder) StoreGuestReg(reg GuestReg, value Operand) {
	b.emit(Op{Kind: StoreGuestReg, Dst: Invalid, GuestReg: reg, Src: [3]Operand{value}})
}

// LoadCPSR reads the current CPSR into a fresh variable.
func (b *Builder) LoadCPSR() VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: LoadCPSR, Dst: dst})
	return dst
}

// StoreCPSR writes value as the new CPSR, triggering a mode switch if its
// mode field differs from the currently active one.
func (b *Builder) StoreCPSR(value Operand) {
	b.emit(Op{Kind: StoreCPSR, Dst: Invalid, Src: [3]Operand{value}})
}

// LoadSPSR reads the SPSR belonging to mode m.
func (b *Builder) LoadSPSR(m guest.Mode) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: LoadSPSR, Dst: dst, Mode: m})
	return dst
}

// StoreSPSR writes value into the SPSR belonging to mode m.
func (b *Builder) StoreSPSR(m guest.Mode, value Operand) {
	b.emit(Op{Kind: StoreSPSR, Dst: Invalid, Mode: m, Src: [3]Operand{value}})
}

// Alu emits a data-processing operation. When setFlags is true the
// translator is responsible for following this call with the appropriate
// UpdateNZ/UpdateNZC/UpdateNZCV emitted against the same operands; Alu
// itself only records the intent via SetFlags so the register allocator
// and emitter can recognise the pair.
func (b *Builder) Alu(op ALUOp, rn, operand2 Operand, setFlags bool) VarID {
	var dst VarID = Invalid
	if !op.SetsFlagsOnly() {
		dst = b.CreateVar("")
	}
	b.emit(Op{Kind: ALU, Dst: dst, ALUOp: op, SetFlags: setFlags, Src: [3]Operand{rn, operand2}})
	return dst
}

// Shift emits a barrel-shifter operation over value by amount.
func (b *Builder) Shift(op ShiftOp, value, amount Operand) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: Shift, Dst: dst, ShiftOp: op, Src: [3]Operand{value, amount}})
	return dst
}

// MemLoad emits a memory read from addr with the given size/sign/rotate
// attributes.
func (b *Builder) MemLoad(addr Operand, attrs MemAttrs) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: MemLoad, Dst: dst, Mem: attrs, Src: [3]Operand{addr}})
	return dst
}

// MemStore emits a memory write of value to addr.
func (b *Builder) MemStore(addr, value Operand, attrs MemAttrs) {
	b.emit(Op{Kind: MemStore, Dst: Invalid, Mem: attrs, Src: [3]Operand{addr, value}})
}

// UpdateNZ emits the flag update following a MOV/logical op with S set.
func (b *Builder) UpdateNZ(result Operand) {
	b.emit(Op{Kind: UpdateNZ, Dst: Invalid, Src: [3]Operand{result}})
}

// UpdateNZC emits the flag update following a shifted logical op with S
// set, carrying the barrel shifter's carry-out.
func (b *Builder) UpdateNZC(result, carry Operand) {
	b.emit(Op{Kind: UpdateNZC, Dst: Invalid, Src: [3]Operand{result, carry}})
}

// UpdateNZCV emits the flag update following an arithmetic op with S set;
// lhs/rhs are retained so carry/overflow can be recomputed from the
// operands rather than carried as a separate out-of-band signal. op is the
// ALUOp that produced result (ADD/SUB and their carry-in and reverse forms
// all reach UpdateNZCV, and each defines carry-out differently), recorded
// on the emitted Op's own ALUOp field for that recompute.
func (b *Builder) UpdateNZCV(op ALUOp, result, lhs, rhs Operand) {
	b.emit(Op{Kind: UpdateNZCV, Dst: Invalid, ALUOp: op, Src: [3]Operand{result, lhs, rhs}})
}

// UpdateQ emits the sticky-saturation flag update for the ARMv5TE
// saturating arithmetic and SMLAxy family.
func (b *Builder) UpdateQ(saturated Operand) {
	b.emit(Op{Kind: UpdateQ, Dst: Invalid, Src: [3]Operand{saturated}})
}

// AdvancePC emits the "PC as read by this instruction" value: the
// address of the instruction currently being lifted, plus two
// instruction widths, per §4.1's PC-read-advance rule. The caller
// computes pc (it already knows the current address and instruction
// width); AdvancePC just records it as a constant-valued op so the
// emitter/interpreter has a uniform Dst to read PC from rather than a
// bare ir.ConstOperand that every call site would have to build itself.
func (b *Builder) AdvancePC(pc uint32) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: AdvancePC, Dst: dst, PCValue: pc})
	return dst
}

// Flush ends the block with an unconditional transfer to a known
// address/mode/thumb state.
func (b *Builder) Flush(addr Operand, thumb bool) {
	b.emit(Op{Kind: Flush, Dst: Invalid, FlushAddr: addr, FlushThumb: thumb})
}

// FlushExchange ends the block with a BX/BLX-style transfer: addr's low
// bit selects Thumb state and is masked off the target address.
func (b *Builder) FlushExchange(addr Operand) {
	b.emit(Op{Kind: FlushExchange, Dst: Invalid, FlushAddr: addr})
}

// FlushNoSwitch ends the block with a transfer that leaves Thumb state
// unchanged (ARM B/BL, and Thumb's own unconditional branch forms).
func (b *Builder) FlushNoSwitch(addr Operand, thumb bool) {
	b.emit(Op{Kind: FlushNoSwitch, Dst: Invalid, FlushAddr: addr, FlushThumb: thumb})
}

// CoprocRead emits a coprocessor register read (MRC).
func (b *Builder) CoprocRead(coproc int, opc1, crn, crm, opc2 uint8) VarID {
	dst := b.CreateVar("")
	b.emit(Op{Kind: CoprocRead, Dst: dst, Coproc: coproc, CoprocFields: [4]uint8{opc1, crn, crm, opc2}})
	return dst
}

// CoprocWrite emits a coprocessor register write (MCR).
func (b *Builder) CoprocWrite(coproc int, opc1, crn, crm, opc2 uint8, value Operand) {
	b.emit(Op{Kind: CoprocWrite, Dst: Invalid, Coproc: coproc, CoprocFields: [4]uint8{opc1, crn, crm, opc2}, Src: [3]Operand{value}})
}
