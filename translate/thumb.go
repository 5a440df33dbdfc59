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

// liftThumb decodes and lifts one 16-bit Thumb instruction. Thumb has no
// per-instruction condition field outside the conditional-branch format
// itself, so every lift here runs under predicate AL except format 16
// (conditional branch), which returns its own condition.
func (t *Translator) liftThumb(busv mem.Bus, key ir.Key, addr uint32, word uint32) (ir.Predicate, uint32, termInfo, error) {
	w := uint16(word)
	b := t.Builder

	switch {
	case w&0xF800 == 0x1800:
		return t.thumbAddSubtract(b, w)

	case w&0xE000 == 0x0000:
		return t.thumbMoveShifted(b, w)

	case w&0xE000 == 0x2000:
		return t.thumbImmediate(b, w)

	case w&0xFC00 == 0x4000:
		return t.thumbALU(b, w)

	case w&0xFC00 == 0x4400:
		return t.thumbHiRegister(b, w)

	case w&0xF800 == 0x4800:
		return t.thumbPCRelativeLoad(b, addr, w)

	case w&0xF200 == 0x5000:
		return t.thumbLoadStoreRegOffset(b, w)

	case w&0xF200 == 0x5200:
		return t.thumbLoadStoreSignExtended(b, w)

	case w&0xE000 == 0x6000:
		return t.thumbLoadStoreImmOffset(b, w)

	case w&0xF000 == 0x8000:
		return t.thumbLoadStoreHalfword(b, w)

	case w&0xF000 == 0x9000:
		return t.thumbSPRelativeLoadStore(b, w)

	case w&0xF000 == 0xA000:
		return t.thumbLoadAddress(b, w)

	case w&0xFF00 == 0xB000:
		return t.thumbAddOffsetToSP(b, w)

	case w&0xF600 == 0xB400:
		return t.thumbPushPop(b, w)

	case w&0xF000 == 0xC000:
		return t.thumbLoadStoreMultiple(b, w)

	case w&0xFF00 == 0xDF00:
		return t.thumbSWI(b, w)

	case w&0xF000 == 0xD000:
		return t.thumbConditionalBranch(b, key, addr, w)

	case w&0xF800 == 0xE000:
		return t.thumbUnconditionalBranch(b, key, addr, w)

	case w&0xF000 == 0xF000:
		return t.thumbLongBranchLink(b, addr, w)
	}

	return ir.AL, 0, termInfo{}, unknown(addr, word)
}

// thumbMoveShifted: format 1, LSL/LSR/ASR Rd,Rs,#imm5.
func (t *Translator) thumbMoveShifted(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	op := ir.ShiftOp((w >> 11) & 0x3)
	imm := uint32((w >> 6) & 0x1F)
	rs := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	if imm == 0 && op != ir.LSL {
		imm = 32
	}

	value := t.readReg(b, rs)
	shifted, carry := t.barrelShift(b, op, value, ir.ConstOperand(ir.Const(imm)), ir.ConstOperand(0))
	t.writeReg(b, rd, shifted)
	b.UpdateNZC(shifted, carry)
	return ir.AL, 2, termInfo{}, nil
}

// thumbAddSubtract: format 2, ADD/SUB Rd,Rs,Rn or Rd,Rs,#imm3.
func (t *Translator) thumbAddSubtract(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	immediate := w&(1<<10) != 0
	subtract := w&(1<<9) != 0
	rs := int((w >> 3) & 0x7)
	rd := int(w & 0x7)
	field := uint32((w >> 6) & 0x7)

	lhs := t.readReg(b, rs)
	var rhs ir.Operand
	if immediate {
		rhs = ir.ConstOperand(ir.Const(field))
	} else {
		rhs = t.readReg(b, int(field))
	}

	op := ir.ADD
	if subtract {
		op = ir.SUB
	}
	dst := b.Alu(op, lhs, rhs, true)
	b.UpdateNZCV(op, ir.VarOperand(dst), lhs, rhs)
	t.writeReg(b, rd, ir.VarOperand(dst))
	return ir.AL, 2, termInfo{}, nil
}

// thumbImmediate: format 3, MOV/CMP/ADD/SUB Rd,#imm8.
func (t *Translator) thumbImmediate(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	opc := (w >> 11) & 0x3
	rd := int((w >> 8) & 0x7)
	imm := ir.ConstOperand(ir.Const(w & 0xFF))

	rdVal := t.readReg(b, rd)

	switch opc {
	case 0: // MOV
		dst := b.Alu(ir.MOV, ir.ConstOperand(0), imm, true)
		b.UpdateNZC(ir.VarOperand(dst), ir.ConstOperand(0))
		t.writeReg(b, rd, ir.VarOperand(dst))
	case 1: // CMP
		dst := b.Alu(ir.CMP, rdVal, imm, true)
		b.UpdateNZCV(ir.CMP, ir.VarOperand(dst), rdVal, imm)
	case 2: // ADD
		dst := b.Alu(ir.ADD, rdVal, imm, true)
		b.UpdateNZCV(ir.ADD, ir.VarOperand(dst), rdVal, imm)
		t.writeReg(b, rd, ir.VarOperand(dst))
	case 3: // SUB
		dst := b.Alu(ir.SUB, rdVal, imm, true)
		b.UpdateNZCV(ir.SUB, ir.VarOperand(dst), rdVal, imm)
		t.writeReg(b, rd, ir.VarOperand(dst))
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbALUOps maps format 4's remaining opcodes (everything not handled
// as a shift, ADC/SBC, NEG, or MUL above) onto ir.ALUOp.
var thumbALUOps = map[uint16]ir.ALUOp{
	0: ir.AND, 1: ir.EOR, 8: ir.TST,
	10: ir.CMP, 11: ir.CMN, 12: ir.ORR, 14: ir.BIC, 15: ir.MVN,
}

// thumbALU: format 4, sixteen two-operand ALU operations (Rd,Rs).
func (t *Translator) thumbALU(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	opc := (w >> 6) & 0xF
	rs := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	lhs := t.readReg(b, rd)
	rhs := t.readReg(b, rs)

	switch opc {
	case 2, 3, 4, 7: // LSL, LSR, ASR, ROR by register
		var op ir.ShiftOp
		switch opc {
		case 2:
			op = ir.LSL
		case 3:
			op = ir.LSR
		case 4:
			op = ir.ASR
		case 7:
			op = ir.ROR
		}
		shifted, carry := t.barrelShift(b, op, lhs, rhs, ir.ConstOperand(0))
		b.UpdateNZC(shifted, carry)
		t.writeReg(b, rd, shifted)
		return ir.AL, 2, termInfo{}, nil

	case 5: // ADC
		dst := b.Alu(ir.ADC, lhs, rhs, true)
		b.UpdateNZCV(ir.ADC, ir.VarOperand(dst), lhs, rhs)
		t.writeReg(b, rd, ir.VarOperand(dst))
		return ir.AL, 2, termInfo{}, nil

	case 6: // SBC
		dst := b.Alu(ir.SBC, lhs, rhs, true)
		b.UpdateNZCV(ir.SBC, ir.VarOperand(dst), lhs, rhs)
		t.writeReg(b, rd, ir.VarOperand(dst))
		return ir.AL, 2, termInfo{}, nil

	case 9: // NEG Rd,Rs == RSB Rd,Rs,#0
		dst := b.Alu(ir.RSB, rhs, ir.ConstOperand(0), true)
		b.UpdateNZCV(ir.RSB, ir.VarOperand(dst), rhs, ir.ConstOperand(0))
		t.writeReg(b, rd, ir.VarOperand(dst))
		return ir.AL, 2, termInfo{}, nil

	case 13: // MUL Rd,Rs: a 32x32->32 multiply, truncated to the low
		// half (ARMv4T's Thumb MUL has no widening result).
		dst := b.Alu(ir.MUL, lhs, rhs, false)
		b.UpdateNZ(ir.VarOperand(dst))
		t.writeReg(b, rd, ir.VarOperand(dst))
		return ir.AL, 2, termInfo{}, nil
	}

	op, ok := thumbALUOps[opc]
	if !ok {
		return ir.AL, 2, termInfo{}, nil
	}
	dst := b.Alu(op, lhs, rhs, true)
	if op.SetsFlagsOnly() {
		if op == ir.CMP || op == ir.CMN {
			b.UpdateNZCV(op, ir.VarOperand(dst), lhs, rhs)
		} else {
			b.UpdateNZC(ir.VarOperand(dst), ir.ConstOperand(0))
		}
	} else {
		b.UpdateNZC(ir.VarOperand(dst), ir.ConstOperand(0))
		t.writeReg(b, rd, ir.VarOperand(dst))
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbHiRegister: format 5, ADD/CMP/MOV on any of r0-r15, and BX Rs.
func (t *Translator) thumbHiRegister(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	opc := (w >> 8) & 0x3
	h1 := w&(1<<7) != 0
	h2 := w&(1<<6) != 0
	rs := int((w >> 3) & 0x7)
	if h2 {
		rs += 8
	}
	rd := int(w & 0x7)
	if h1 {
		rd += 8
	}

	rsVal := t.readReg(b, rs)

	switch opc {
	case 0: // ADD
		rdVal := t.readReg(b, rd)
		dst := b.Alu(ir.ADD, rdVal, rsVal, false)
		if rd == 15 {
			b.FlushNoSwitch(ir.VarOperand(dst), true)
			return ir.AL, 2, termInfo{ends: true}, nil
		}
		t.writeReg(b, rd, ir.VarOperand(dst))
	case 1: // CMP
		rdVal := t.readReg(b, rd)
		dst := b.Alu(ir.CMP, rdVal, rsVal, true)
		b.UpdateNZCV(ir.CMP, ir.VarOperand(dst), rdVal, rsVal)
	case 2: // MOV
		if rd == 15 {
			b.FlushNoSwitch(rsVal, true)
			return ir.AL, 2, termInfo{ends: true}, nil
		}
		t.writeReg(b, rd, rsVal)
	case 3: // BX/BLX Rs
		b.FlushExchange(rsVal)
		return ir.AL, 2, termInfo{ends: true, exchange: true}, nil
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbPCRelativeLoad: format 6, LDR Rd,[PC,#imm8*4] (word-aligned).
func (t *Translator) thumbPCRelativeLoad(b *ir.Builder, addr uint32, w uint16) (ir.Predicate, uint32, termInfo, error) {
	rd := int((w >> 8) & 0x7)
	imm := uint32(w&0xFF) * 4
	base := (addr + 4) &^ 3
	effective := ir.ConstOperand(ir.Const(base + imm))
	dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Word})
	t.writeReg(b, rd, ir.VarOperand(dst))
	return ir.AL, 2, termInfo{}, nil
}

// thumbLoadStoreRegOffset: format 7, STR/LDR/STRB/LDRB Rd,[Rb,Ro].
func (t *Translator) thumbLoadStoreRegOffset(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	load := w&(1<<11) != 0
	byteAccess := w&(1<<10) != 0
	ro := int((w >> 6) & 0x7)
	rb := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	base := t.readReg(b, rb)
	offset := t.readReg(b, ro)
	effective := ir.VarOperand(b.Alu(ir.ADD, base, offset, false))

	attrs := ir.MemAttrs{Size: ir.Word}
	if byteAccess {
		attrs.Size = ir.Byte
	}

	if load {
		dst := b.MemLoad(effective, attrs)
		t.writeReg(b, rd, ir.VarOperand(dst))
	} else {
		b.MemStore(effective, t.readReg(b, rd), attrs)
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbLoadStoreSignExtended: format 8, STRH/LDRH/LDSB/LDSH Rd,[Rb,Ro].
func (t *Translator) thumbLoadStoreSignExtended(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	hFlag := w&(1<<11) != 0
	sFlag := w&(1<<10) != 0
	ro := int((w >> 6) & 0x7)
	rb := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	base := t.readReg(b, rb)
	offset := t.readReg(b, ro)
	effective := ir.VarOperand(b.Alu(ir.ADD, base, offset, false))

	switch {
	case !sFlag && !hFlag: // STRH
		b.MemStore(effective, t.readReg(b, rd), ir.MemAttrs{Size: ir.Half})
	case !sFlag && hFlag: // LDRH
		dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Half})
		t.writeReg(b, rd, ir.VarOperand(dst))
	case sFlag && !hFlag: // LDSB
		dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Byte, Signed: true})
		t.writeReg(b, rd, ir.VarOperand(dst))
	case sFlag && hFlag: // LDSH
		dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Half, Signed: true})
		t.writeReg(b, rd, ir.VarOperand(dst))
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbLoadStoreImmOffset: format 9, STR/LDR/STRB/LDRB Rd,[Rb,#imm].
func (t *Translator) thumbLoadStoreImmOffset(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	byteAccess := w&(1<<12) != 0
	load := w&(1<<11) != 0
	imm := uint32((w >> 6) & 0x1F)
	if !byteAccess {
		imm *= 4
	}
	rb := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	base := t.readReg(b, rb)
	effective := ir.VarOperand(b.Alu(ir.ADD, base, ir.ConstOperand(ir.Const(imm)), false))

	attrs := ir.MemAttrs{Size: ir.Word}
	if byteAccess {
		attrs.Size = ir.Byte
	}
	if load {
		dst := b.MemLoad(effective, attrs)
		t.writeReg(b, rd, ir.VarOperand(dst))
	} else {
		b.MemStore(effective, t.readReg(b, rd), attrs)
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbLoadStoreHalfword: format 10, STRH/LDRH Rd,[Rb,#imm5*2].
func (t *Translator) thumbLoadStoreHalfword(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	load := w&(1<<11) != 0
	imm := uint32((w>>6)&0x1F) * 2
	rb := int((w >> 3) & 0x7)
	rd := int(w & 0x7)

	base := t.readReg(b, rb)
	effective := ir.VarOperand(b.Alu(ir.ADD, base, ir.ConstOperand(ir.Const(imm)), false))

	if load {
		dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Half})
		t.writeReg(b, rd, ir.VarOperand(dst))
	} else {
		b.MemStore(effective, t.readReg(b, rd), ir.MemAttrs{Size: ir.Half})
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbSPRelativeLoadStore: format 11, STR/LDR Rd,[SP,#imm8*4].
func (t *Translator) thumbSPRelativeLoadStore(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	load := w&(1<<11) != 0
	rd := int((w >> 8) & 0x7)
	imm := uint32(w&0xFF) * 4

	base := t.readReg(b, 13)
	effective := ir.VarOperand(b.Alu(ir.ADD, base, ir.ConstOperand(ir.Const(imm)), false))

	if load {
		dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Word})
		t.writeReg(b, rd, ir.VarOperand(dst))
	} else {
		b.MemStore(effective, t.readReg(b, rd), ir.MemAttrs{Size: ir.Word})
	}
	return ir.AL, 2, termInfo{}, nil
}

// thumbLoadAddress: format 12, ADD Rd,PC/SP,#imm8*4.
func (t *Translator) thumbLoadAddress(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	sp := w&(1<<11) != 0
	rd := int((w >> 8) & 0x7)
	imm := uint32(w&0xFF) * 4

	reg := 15
	if sp {
		reg = 13
	}
	base := t.readReg(b, reg)
	if !sp {
		// the PC-relative form aligns PC down to a word boundary before
		// adding, matching thumbPCRelativeLoad's base computation.
		base = ir.VarOperand(b.Alu(ir.AND, base, ir.ConstOperand(ir.Const(^uint32(3))), false))
	}
	dst := b.Alu(ir.ADD, base, ir.ConstOperand(ir.Const(imm)), false)
	t.writeReg(b, rd, ir.VarOperand(dst))
	return ir.AL, 2, termInfo{}, nil
}

// thumbAddOffsetToSP: format 13, ADD SP,#+/-imm7*4.
func (t *Translator) thumbAddOffsetToSP(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	negative := w&(1<<7) != 0
	imm := uint32(w&0x7F) * 4

	sp := t.readReg(b, 13)
	op := ir.ADD
	if negative {
		op = ir.SUB
	}
	dst := b.Alu(op, sp, ir.ConstOperand(ir.Const(imm)), false)
	t.writeReg(b, 13, ir.VarOperand(dst))
	return ir.AL, 2, termInfo{}, nil
}

// thumbPushPop: format 14, PUSH/POP {Rlist}{LR/PC}.
func (t *Translator) thumbPushPop(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	pop := w&(1<<11) != 0
	includeExtra := w&(1<<8) != 0 // LR on PUSH, PC on POP
	regList := uint8(w & 0xFF)

	sp := t.readReg(b, 13)
	info := termInfo{}

	if pop {
		effective := sp
		for r := 0; r < 8; r++ {
			if regList&(1<<r) == 0 {
				continue
			}
			dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Word})
			t.writeReg(b, r, ir.VarOperand(dst))
			effective = ir.VarOperand(b.Alu(ir.ADD, effective, ir.ConstOperand(4), false))
		}
		if includeExtra {
			dst := b.MemLoad(effective, ir.MemAttrs{Size: ir.Word})
			b.FlushNoSwitch(ir.VarOperand(dst), false)
			effective = ir.VarOperand(b.Alu(ir.ADD, effective, ir.ConstOperand(4), false))
			info.ends = true
		}
		t.writeReg(b, 13, effective)
	} else {
		count := 0
		for r := 0; r < 8; r++ {
			if regList&(1<<r) != 0 {
				count++
			}
		}
		if includeExtra {
			count++
		}
		effective := ir.VarOperand(b.Alu(ir.SUB, sp, ir.ConstOperand(ir.Const(uint32(count*4))), false))
		t.writeReg(b, 13, effective)

		cursor := effective
		for r := 0; r < 8; r++ {
			if regList&(1<<r) == 0 {
				continue
			}
			b.MemStore(cursor, t.readReg(b, r), ir.MemAttrs{Size: ir.Word})
			cursor = ir.VarOperand(b.Alu(ir.ADD, cursor, ir.ConstOperand(4), false))
		}
		if includeExtra {
			b.MemStore(cursor, t.readReg(b, 14), ir.MemAttrs{Size: ir.Word})
		}
	}

	return ir.AL, 2, info, nil
}

// thumbLoadStoreMultiple: format 15, STMIA/LDMIA Rb!,{Rlist}.
func (t *Translator) thumbLoadStoreMultiple(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	load := w&(1<<11) != 0
	rb := int((w >> 8) & 0x7)
	regList := uint8(w & 0xFF)

	cursor := t.readReg(b, rb)
	for r := 0; r < 8; r++ {
		if regList&(1<<r) == 0 {
			continue
		}
		if load {
			dst := b.MemLoad(cursor, ir.MemAttrs{Size: ir.Word})
			t.writeReg(b, r, ir.VarOperand(dst))
		} else {
			b.MemStore(cursor, t.readReg(b, r), ir.MemAttrs{Size: ir.Word})
		}
		cursor = ir.VarOperand(b.Alu(ir.ADD, cursor, ir.ConstOperand(4), false))
	}
	t.writeReg(b, rb, cursor)
	return ir.AL, 2, termInfo{}, nil
}

// thumbConditionalBranch: format 16, Bcc label (8-bit signed, x2). Always
// ends the block, condition or no: the not-taken path continues at the
// next instruction (Fallthrough), the taken path jumps to the computed
// target (Taken).
func (t *Translator) thumbConditionalBranch(b *ir.Builder, key ir.Key, addr uint32, w uint16) (ir.Predicate, uint32, termInfo, error) {
	cond := ir.Predicate((w >> 8) & 0xF)
	offset := int32(int8(w&0xFF)) * 2
	target := uint32(int64(addr) + 4 + int64(offset))
	b.FlushNoSwitch(ir.ConstOperand(ir.Const(target)), true)
	targetKey := ir.Key{Addr: target, Mode: key.Mode, Thumb: true}
	return cond, 2, termInfo{ends: true, hasKnownTarget: true, target: targetKey}, nil
}

// thumbSWI: format 17.
func (t *Translator) thumbSWI(b *ir.Builder, w uint16) (ir.Predicate, uint32, termInfo, error) {
	_ = w & 0xFF
	b.FlushNoSwitch(ir.ConstOperand(0), false)
	return ir.AL, 2, termInfo{ends: true, trap: true}, nil
}

// thumbUnconditionalBranch: format 18, B label (11-bit signed, x2).
func (t *Translator) thumbUnconditionalBranch(b *ir.Builder, key ir.Key, addr uint32, w uint16) (ir.Predicate, uint32, termInfo, error) {
	offset := int32(int16(w&0x7FF<<5)) >> 4 // sign-extend 11 bits, then x2
	target := uint32(int64(addr) + 4 + int64(offset))
	b.FlushNoSwitch(ir.ConstOperand(ir.Const(target)), true)
	targetKey := ir.Key{Addr: target, Mode: key.Mode, Thumb: true}
	return ir.AL, 2, termInfo{ends: true, hasKnownTarget: true, target: targetKey}, nil
}

// thumbLongBranchLink: format 19, the two-halfword BL/BLX sequence. The
// first halfword (H=10) stashes PC+4+(offset<<12) into LR; the second
// (H=11 for BL, H=01 for the ARMv5TE BLX form) combines it with the low
// 11 bits and an alignment rule, then branches. H=01 is only valid on
// ARMv5TE and switches to ARM state. The
// target is only known once the first halfword's LR write has actually
// executed, so it is treated as runtime-valued here rather than wired as
// a static Taken successor.
func (t *Translator) thumbLongBranchLink(b *ir.Builder, addr uint32, w uint16) (ir.Predicate, uint32, termInfo, error) {
	h := (w >> 11) & 0x3

	if h == 0x2 {
		offset := int32(int16(w&0x7FF<<5)) >> 5 << 12
		lr := uint32(int64(addr) + 4 + int64(offset))
		t.writeReg(b, 14, ir.ConstOperand(ir.Const(lr)))
		return ir.AL, 2, termInfo{}, nil
	}

	// h == 0x3 (BL, stay in Thumb) or h == 0x1 (BLX, switch to ARM,
	// ARMv5TE only)
	lr := t.readReg(b, 14)
	offLow := uint32(w&0x7FF) * 2
	toArm := h == 0x1 && t.Model.IsARMv5TE()

	target := ir.VarOperand(b.Alu(ir.ADD, lr, ir.ConstOperand(ir.Const(offLow)), false))
	if toArm {
		target = ir.VarOperand(b.Alu(ir.AND, target, ir.ConstOperand(ir.Const(^uint32(3))), false))
	}
	t.writeReg(b, 14, ir.ConstOperand(ir.Const(addr+3)))
	if toArm {
		// the ARMv5TE BLX(1) form switches instruction sets, so the
		// target's state is explicit rather than "unchanged".
		b.Flush(target, false)
	} else {
		b.FlushNoSwitch(target, true)
	}
	return ir.AL, 2, termInfo{ends: true}, nil
}
