// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegenx64

import "encoding/binary"

// asm accumulates the machine code for one native segment. It is the
// emitter's scratch buffer: codeBuf grows by append as each instruction
// is encoded, mirroring encodeMovImm/encodeMovRegToMem's "build a []byte
// and append" style from the retrieval pack's recompiler rather than a
// fixed-size buffer with manual bounds tracking.
type asm struct {
	code []byte
}

func (a *asm) emit(b ...byte) { a.code = append(a.code, b...) }

// rex builds a REX prefix. w selects 64-bit operand size; r/x/b extend
// the ModRM reg/SIB index/ModRM rm (or opcode-reg) fields respectively
// to registers 8-15.
func rex(w, r, x, b bool) byte {
	out := byte(0x40)
	if w {
		out |= 0x08
	}
	if r {
		out |= 0x04
	}
	if x {
		out |= 0x02
	}
	if b {
		out |= 0x01
	}
	return out
}

// modrmReg builds a ModRM byte for register-direct addressing (mod=11).
func modrmReg(regField, rm byte) byte {
	return 0xC0 | (regField&0x7)<<3 | (rm & 0x7)
}

// movRegReg: MOV dst, src (64-bit).
func (a *asm) movRegReg(dst, src physReg) {
	a.emit(rex(true, src.rex != 0, false, dst.rex != 0), 0x89, modrmReg(src.bits, dst.bits))
}

// movRegImm32 zero-extends a 32-bit immediate into dst (the common case
// for loading a guest word, which is always a 32-bit value).
func (a *asm) movRegImm32(dst physReg, imm uint32) {
	a.emit(rex(false, false, false, dst.rex != 0), 0xB8+dst.bits)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], imm)
	a.emit(buf[:]...)
}

// movRegImm64 loads a full 64-bit immediate (used for absolute
// addresses: the guest-state pointer, frame pointer).
func (a *asm) movRegImm64(dst physReg, imm uint64) {
	a.emit(rex(true, false, false, dst.rex != 0), 0xB8+dst.bits)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], imm)
	a.emit(buf[:]...)
}

// loadMem32: MOV dst(32-bit), [base+disp32]. Used for every guest
// register / spill-slot read; always zero-extends into the full 64-bit
// dst per x86-64's implicit upper-32 zeroing on a 32-bit write.
func (a *asm) loadMem32(dst, base physReg, disp int32) {
	a.emit(rex(false, dst.rex != 0, false, base.rex != 0), 0x8B)
	a.emitMemOperand(dst.bits, base, disp)
}

// storeMem32: MOV [base+disp32], src(32-bit).
func (a *asm) storeMem32(base physReg, disp int32, src physReg) {
	a.emit(rex(false, src.rex != 0, false, base.rex != 0), 0x89)
	a.emitMemOperand(src.bits, base, disp)
}

// emitMemOperand appends the ModRM (+ SIB, if base is RSP/R12) and
// displacement for a [base+disp32] operand with the given ModRM reg
// field. disp32 is always used (mod=10) rather than the shorter disp8
// form, trading a few bytes for a simpler, branch-free encoder.
func (a *asm) emitMemOperand(regField byte, base physReg, disp int32) {
	rm := base.bits
	needsSIB := rm == 0x4 // RSP/R12 require a SIB byte to avoid colliding with the RIP-relative encoding
	mod := byte(0x80)     // disp32
	if needsSIB {
		a.emit(mod | (regField&0x7)<<3 | 0x4)
		a.emit(0x24) // SIB: scale=0, index=none (100), base=RSP/R12
	} else {
		a.emit(mod | (regField&0x7)<<3 | (rm & 0x7))
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(disp))
	a.emit(buf[:]...)
}

// aluRegReg encodes one of ADD/SUB/AND/OR/XOR/CMP dst, src (32-bit,
// dst op= src) using each opcode's register-register form (/r).
func (a *asm) aluRegReg(op byte, dst, src physReg) {
	a.emit(rex(false, src.rex != 0, false, dst.rex != 0), op, modrmReg(src.bits, dst.bits))
}

// Opcodes for aluRegReg, in Intel's Ev,Gv-style r/m,r encoding (32-bit
// operand size, REX.W clear).
const (
	opADD = 0x01
	opSUB = 0x29
	opAND = 0x21
	opOR  = 0x09
	opXOR = 0x31
	opCMP = 0x39
)

// aluRegImm32 encodes the group-1 0x81 /digit reg,imm32 form (32-bit,
// REX.W clear), used for every ALU op against a constant second operand
// so the emitter never needs a spare register to materialise the
// immediate first.
func (a *asm) aluRegImm32(digit byte, dst physReg, imm uint32) {
	a.emit(rex(false, false, false, dst.rex != 0), 0x81, modrmReg(digit, dst.bits))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], imm)
	a.emit(buf[:]...)
}

// Group-1 /digit selectors for aluRegImm32.
const (
	aluDigitADD = 0
	aluDigitOR  = 1
	aluDigitADC = 2
	aluDigitSBB = 3
	aluDigitAND = 4
	aluDigitSUB = 5
	aluDigitXOR = 6
	aluDigitCMP = 7
)

// notReg: NOT dst (one's complement, used for MVN/BIC's "AND NOT").
func (a *asm) notReg(dst physReg) {
	a.emit(rex(false, false, false, dst.rex != 0), 0xF7, modrmReg(2, dst.bits))
}

// negReg: NEG dst (two's complement, used for RSB #0's NEG shortcut).
func (a *asm) negReg(dst physReg) {
	a.emit(rex(false, false, false, dst.rex != 0), 0xF7, modrmReg(3, dst.bits))
}

// imulRegReg: IMUL dst, src (used for MUL's truncated 32x32->32 result;
// the low 32 bits of IMUL and MUL's unsigned result are identical).
func (a *asm) imulRegReg(dst, src physReg) {
	a.emit(rex(false, dst.rex != 0, false, src.rex != 0), 0x0F, 0xAF, modrmReg(dst.bits, src.bits))
}

// shiftRegImm8: SHL/SHR/SAR/ROR dst, #imm8 (32-bit).
func (a *asm) shiftRegImm8(ext byte, dst physReg, imm uint8) {
	a.emit(rex(false, false, false, dst.rex != 0), 0xC1, modrmReg(ext, dst.bits), imm)
}

// Shift-group /digit values for the 0xC1 opcode.
const (
	shiftSHL = 4
	shiftSHR = 5
	shiftSAR = 7
	shiftROR = 1
)

// setcc: SETcc dst8 (writes 0/1 into the low byte of dst, zero-extend
// the rest with a prior XOR if the caller needs the full register clean).
func (a *asm) setcc(cc byte, dst physReg) {
	a.emit(rex(false, false, false, dst.rex != 0), 0x0F, 0x90+cc, modrmReg(0, dst.bits))
}

// SETcc condition codes used by the flag-update lowering (§4.4's
// LAHF/SETcc flag materialisation).
const (
	ccS  = 0x8 // SF=1 (negative)
	ccNS = 0x9 // SF=0
	ccZ  = 0x4 // ZF=1 (equal/zero)
	ccNZ = 0x5
	ccC  = 0x2 // CF=1
	ccNC = 0x3
	ccO  = 0x0 // OF=1
	ccNO = 0x1
)

func (a *asm) ret()             { a.emit(0xC3) }
func (a *asm) xorRegReg(r physReg) { a.emit(rex(false, r.rex != 0, false, r.rex != 0), 0x31, modrmReg(r.bits, r.bits)) }
