// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package translate

import (
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/mem"
)

// liftARM decodes and lifts the 32-bit ARM instruction word fetched from
// addr, returning its predicate, the 4 bytes it consumes, and how it
// affects block termination.
func (t *Translator) liftARM(busv mem.Bus, key ir.Key, addr uint32, word uint32) (ir.Predicate, uint32, termInfo, error) {
	cond := ir.Predicate(word >> 28)
	if cond == ir.NV && !t.Model.NVIsExtension() {
		// ARMv4T: condition 0b1111 means "never execute" — the
		// instruction is decoded (so its length is known) but lifted
		// as a no-op by simply emitting no ops into this predicate's
		// micro-block.
		return ir.NV, 4, termInfo{}, nil
	}
	if cond == ir.NV {
		// ARMv5TE: 0b1111 is an unconditional opcode-extension space.
		cond = ir.AL
	}

	b := t.Builder

	switch {
	case word&0x0FFFFFD0 == 0x012FFF10:
		// BX/BLX (register): bits 27-4 = 0001 0010 1111 1111 1111 0001
		// (BX) or ...0011 (BLX), differing only in bit 5.
		return t.liftBranchExchange(b, cond, word)

	case word&0x0E000000 == 0x0A000000:
		// Branch / branch with link: bits 27-25 = 101
		return t.liftBranch(b, key, addr, cond, word)

	case word&0x0F000000 == 0x0F000000:
		// Software interrupt: bits 27-24 = 1111
		return t.liftSWI(b, cond, word)

	case word&0x0F000000 == 0x0E000000:
		// Coprocessor data processing / register transfer: bits
		// 27-24 = 1110. Bit 4 distinguishes MRC/MCR (1) from CDP (0),
		// which is named but not lifted.
		if word&0x10 != 0 {
			return t.liftCoprocTransfer(b, cond, word)
		}
		return cond, 4, termInfo{}, unimplemented(addr, "CDP")

	case word&0x0C000000 == 0x04000000:
		// Single data transfer (LDR/STR): bits 27-26 = 01
		return t.liftSingleDataTransfer(b, cond, word)

	case word&0x0E000090 == 0x00000090:
		// Multiply, swap and halfword/signed-byte transfers: bits
		// 27-25 = 000 with bits 7 and 4 set; named but not lifted.
		return cond, 4, termInfo{}, unimplemented(addr, "multiply/extra load-store")

	case word&0x0D900000 == 0x01000000:
		// PSR transfer (MRS/MSR): a TST/TEQ/CMP/CMN opcode with S
		// clear; named but not lifted.
		return cond, 4, termInfo{}, unimplemented(addr, "MRS/MSR")

	case word&0x0C000000 == 0x00000000:
		// Data processing: bits 27-26 = 00
		return t.liftDataProcessing(b, cond, word)
	}

	return cond, 0, termInfo{}, unknown(addr, word)
}

// liftDataProcessing lifts one of the 16 ARM data-processing opcodes with
// an immediate, register, or shifted-register operand2.
func (t *Translator) liftDataProcessing(b *ir.Builder, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	opc := ir.ALUOp((word >> 21) & 0xF)
	setFlags := word&(1<<20) != 0
	rn := int((word >> 16) & 0xF)
	rd := int((word >> 12) & 0xF)

	rnOp := t.readReg(b, rn)
	op2, carry := t.operand2(b, word)

	dst := b.Alu(opc, rnOp, op2, setFlags)

	if setFlags {
		switch opc {
		case ir.ADD, ir.ADC, ir.SUB, ir.SBC, ir.RSB, ir.RSC, ir.CMP, ir.CMN:
			b.UpdateNZCV(opc, ir.VarOperand(dst), rnOp, op2)
		default:
			b.UpdateNZC(ir.VarOperand(dst), carry)
		}
	}

	if !opc.SetsFlagsOnly() {
		if rd == 15 {
			// An S-suffixed data-processing op targeting PC restores
			// CPSR from the active SPSR as part of an exception
			// return; that restore is carried out by the CPU's own
			// exception-return glue (termInfo.returnFromException)
			// rather than lowered IR here, so both the flag-setting
			// and plain forms simply flush.
			b.FlushNoSwitch(ir.VarOperand(dst), false)
			return cond, 4, termInfo{ends: true, returnFromException: setFlags}, nil
		}
		t.writeReg(b, rd, ir.VarOperand(dst))
	}

	return cond, 4, termInfo{}, nil
}

// operand2 decodes a data-processing instruction's second operand: an
// 8-bit rotated immediate, a register shifted by an immediate, or a
// register shifted by another register. Returns the operand value and
// the carry-out UpdateNZC needs when the instruction sets flags.
func (t *Translator) operand2(b *ir.Builder, word uint32) (ir.Operand, ir.Operand) {
	if word&(1<<25) != 0 {
		imm := word & 0xFF
		rot := (word >> 8) & 0xF * 2
		val := (imm >> rot) | (imm << (32 - rot) & 0xFFFFFFFF)
		if rot == 0 {
			val = imm
		}
		// rot == 0 leaves C unchanged on real hardware; this emits a
		// constant 0 rather than threading the previous C flag through,
		// which only matters for MOVS/logical ops whose immediate has
		// rot == 0 and that also need the carry out (rare in practice,
		// since such an encoding has a carry-out identical to the
		// already-live flag).
		carry := ir.ConstOperand(0)
		if rot != 0 {
			carry = ir.ConstOperand(ir.Const((val >> 31) & 1))
		}
		return ir.ConstOperand(ir.Const(val)), carry
	}

	rm := int(word & 0xF)
	shiftType := ir.ShiftOp((word >> 5) & 0x3)
	value := t.readReg(b, rm)

	var amount ir.Operand
	if word&(1<<4) != 0 {
		rs := int((word >> 8) & 0xF)
		amount = t.readReg(b, rs)
	} else {
		imm := (word >> 7) & 0x1F
		if imm == 0 && shiftType == ir.ROR {
			shiftType = ir.RRX
		} else if imm == 0 && (shiftType == ir.LSR || shiftType == ir.ASR) {
			imm = 32
		}
		amount = ir.ConstOperand(ir.Const(imm))
	}

	shifted, carry := t.barrelShift(b, shiftType, value, amount, ir.ConstOperand(0))
	return shifted, carry
}

// liftSingleDataTransfer lifts LDR/STR (byte or word, immediate or
// register offset, pre/post-indexed, with optional writeback).
func (t *Translator) liftSingleDataTransfer(b *ir.Builder, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	immOffset := word&(1<<25) == 0
	preIndex := word&(1<<24) != 0
	up := word&(1<<23) != 0
	byteAccess := word&(1<<22) != 0
	writeback := word&(1<<21) != 0
	load := word&(1<<20) != 0
	rn := int((word >> 16) & 0xF)
	rd := int((word >> 12) & 0xF)

	base := t.readReg(b, rn)

	var offset ir.Operand
	if immOffset {
		offset = ir.ConstOperand(ir.Const(word & 0xFFF))
	} else {
		rm := int(word & 0xF)
		shiftType := ir.ShiftOp((word >> 5) & 0x3)
		imm := (word >> 7) & 0x1F
		value := t.readReg(b, rm)
		offset, _ = t.barrelShift(b, shiftType, value, ir.ConstOperand(ir.Const(imm)), ir.ConstOperand(0))
	}

	effective := base
	if preIndex {
		effective = ir.VarOperand(b.Alu(addOrSub(up), base, offset, false))
	}

	attrs := ir.MemAttrs{Size: ir.Word}
	if byteAccess {
		attrs.Size = ir.Byte
	}

	info := termInfo{}
	if load {
		dst := b.MemLoad(effective, attrs)
		if rd == 15 {
			b.FlushNoSwitch(ir.VarOperand(dst), false)
			info.ends = true
		} else {
			t.writeReg(b, rd, ir.VarOperand(dst))
		}
	} else {
		value := t.readReg(b, rd)
		b.MemStore(effective, value, attrs)
	}

	if !preIndex {
		writeback = true
		effective = ir.VarOperand(b.Alu(addOrSub(up), base, offset, false))
	}
	if writeback && rn != 15 {
		t.writeReg(b, rn, effective)
	}

	return cond, 4, info, nil
}

func addOrSub(up bool) ir.ALUOp {
	if up {
		return ir.ADD
	}
	return ir.SUB
}

// liftBranch lifts B/BL: a PC-relative branch with a 24-bit signed word
// offset. ARM B/BL never changes instruction set state or mode.
func (t *Translator) liftBranch(b *ir.Builder, key ir.Key, addr uint32, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	link := word&(1<<24) != 0
	offset := int32(word&0xFFFFFF) << 8 >> 8 // sign-extend 24 bits
	target := uint32(int64(addr) + 8 + int64(offset)*4)

	if link {
		t.writeReg(b, 14, ir.ConstOperand(ir.Const(addr+4)))
	}

	b.FlushNoSwitch(ir.ConstOperand(ir.Const(target)), false)
	targetKey := ir.Key{Addr: target, Mode: key.Mode, Thumb: false}
	return cond, 4, termInfo{ends: true, hasKnownTarget: true, target: targetKey}, nil
}

// liftBranchExchange lifts BX/BLX (register): transfers to the target
// address, switching Thumb state from the target's bit 0. The target is
// only known at run time, so no Taken successor can be wired statically.
func (t *Translator) liftBranchExchange(b *ir.Builder, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	link := word&0x20 != 0 // BLX (register): bit 5 set distinguishes it from BX
	rm := int(word & 0xF)
	target := t.readReg(b, rm)

	if link {
		// the link register write happens before the exchange, after the
		// target has been read (so BLX lr branches to the old LR).
		t.writeReg(b, 14, ir.ConstOperand(ir.Const(t.curAddr+4)))
	}

	b.FlushExchange(target)
	return cond, 4, termInfo{ends: true, exchange: true}, nil
}

// liftSWI lifts the software interrupt instruction. It always ends the
// block: the exception entry sequence (mode switch, SPSR save, vector
// fetch) is a host-side concern handled by cpu.CPU's dispatcher rather
// than lowered IR, so the lifter's only job is to mark the block
// boundary.
func (t *Translator) liftSWI(b *ir.Builder, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	comment := word & 0x00FFFFFF
	_ = comment // carried for a future SWI-vectoring op; not yet consumed
	b.FlushNoSwitch(ir.ConstOperand(0), false)
	return cond, 4, termInfo{ends: true, trap: true}, nil
}

// liftCoprocTransfer lifts MRC/MCR.
func (t *Translator) liftCoprocTransfer(b *ir.Builder, cond ir.Predicate, word uint32) (ir.Predicate, uint32, termInfo, error) {
	toCoproc := word&(1<<20) == 0 // MCR: L bit clear
	coproc := int((word >> 8) & 0xF)
	opc1 := uint8((word >> 21) & 0x7)
	crn := uint8((word >> 16) & 0xF)
	rd := int((word >> 12) & 0xF)
	crm := uint8(word & 0xF)
	opc2 := uint8((word >> 5) & 0x7)

	if toCoproc {
		value := t.readReg(b, rd)
		b.CoprocWrite(coproc, opc1, crn, crm, opc2, value)
	} else {
		result := b.CoprocRead(coproc, opc1, crn, crm, opc2)
		t.writeReg(b, rd, ir.VarOperand(result))
	}

	return cond, 4, termInfo{}, nil
}
