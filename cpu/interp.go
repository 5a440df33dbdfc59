// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cpu

import (
	"math"

	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	dynarmerrors "github.com/dynarm/dynarm/errors"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/ir"
	"github.com/dynarm/dynarm/logger"
	"github.com/dynarm/dynarm/mem"
)

// evalCond reports whether the ARM condition code pred holds against the
// flags in c. It is called for every Interpreted segment, including the
// always-interpreted kinds under AL, for which it returns true. NV
// evaluates false: the translator opens NV micro-blocks only for ARMv4T
// "never execute" words, and leaves them empty.
func evalCond(pred ir.Predicate, c guest.CPSR) bool {
	switch pred {
	case ir.EQ:
		return c.Z()
	case ir.NE:
		return !c.Z()
	case ir.CS:
		return c.C()
	case ir.CC:
		return !c.C()
	case ir.MI:
		return c.N()
	case ir.PL:
		return !c.N()
	case ir.VS:
		return c.V()
	case ir.VC:
		return !c.V()
	case ir.HI:
		return c.C() && !c.Z()
	case ir.LS:
		return !c.C() || c.Z()
	case ir.GE:
		return c.N() == c.V()
	case ir.LT:
		return c.N() != c.V()
	case ir.GT:
		return !c.Z() && c.N() == c.V()
	case ir.LE:
		return c.Z() || c.N() != c.V()
	case ir.AL:
		return true
	default: // NV
		return false
	}
}

// interpResult reports what interpreting one op did, beyond whatever
// side effect it had on state/busv: fired reports whether the op's
// guest predicate held (irrelevant for non-branch kinds, which always
// report true), and successor carries the runtime branch target for a
// Flush-family op that fired.
type interpResult struct {
	fired     bool
	successor uint32
	thumb     bool
}

// interpret executes one Interpreted segment directly against Go state,
// performing whatever memory/coprocessor/register/status-register effect
// op has, per the split codegenx64 documents: every Kind that reaches
// here either always needs Go-level work (memory, coprocessor, SPSR,
// CPSR), or needs it because its guest predicate must be evaluated
// against the live CPSR before it is allowed to do anything at all. Every
// write or externally-visible read (StoreGuestReg, StoreSPSR, StoreCPSR,
// MemLoad/MemStore, CoprocRead/CoprocWrite, the Update* family, Flush) is
// gated on evalCond; LoadGuestReg/LoadSPSR are plain register-file reads
// with no side effect, so — as on real hardware, where predication only
// suppresses the write-back stage — they run unconditionally even though
// whatever consumes their value downstream may itself be gated off.
func interpret(seg codegenx64.Segment, state *guest.State, busv mem.Bus, coprocs [16]mem.Coprocessor, fr *frame, layout codegenx64.FrameLayout) (interpResult, error) {
	op := seg.Op
	cpsr := state.GetCPSR()

	switch op.Kind {
	case ir.LoadGuestReg:
		v, err := state.GetGPRMode(op.GuestReg.Reg, resolveReg(op.GuestReg, cpsr))
		if err != nil {
			return interpResult{}, err
		}
		fr.writeDst(op.Dst, v, layout)
		return interpResult{fired: true}, nil

	case ir.StoreGuestReg:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		v := fr.readOperand(op.Src[0], layout)
		if err := state.SetGPRMode(op.GuestReg.Reg, resolveReg(op.GuestReg, cpsr), v); err != nil {
			return interpResult{}, err
		}
		return interpResult{fired: true}, nil

	case ir.LoadSPSR:
		v, err := state.GetSPSR(op.Mode)
		if err != nil {
			return interpResult{}, err
		}
		fr.writeDst(op.Dst, uint32(v), layout)
		return interpResult{fired: true}, nil

	case ir.StoreSPSR:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		v := fr.readOperand(op.Src[0], layout)
		if err := state.SetSPSR(op.Mode, guest.CPSR(v)); err != nil {
			return interpResult{}, err
		}
		return interpResult{fired: true}, nil

	case ir.StoreCPSR:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		v := fr.readOperand(op.Src[0], layout)
		if err := state.SetCPSR(guest.CPSR(v)); err != nil {
			// An MSR writing an undefined mode field is guest
			// misbehaviour with UNPREDICTABLE hardware semantics;
			// dynarm logs it and leaves CPSR unchanged rather than
			// propagating a fault through Run's cycle-counting
			// return value.
			logger.Logf("cpu", "StoreCPSR rejected: %v", err)
		}
		return interpResult{fired: true}, nil

	case ir.MemLoad:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		addr := fr.readOperand(op.Src[0], layout)
		fr.writeDst(op.Dst, loadMem(busv, addr, op.Mem), layout)
		return interpResult{fired: true}, nil

	case ir.MemStore:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		addr := fr.readOperand(op.Src[0], layout)
		v := fr.readOperand(op.Src[1], layout)
		storeMem(busv, addr, v, op.Mem)
		return interpResult{fired: true}, nil

	case ir.CoprocRead:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		cp := coprocs[op.Coproc]
		var v uint32
		if cp == nil {
			return interpResult{}, dynarmerrors.New(dynarmerrors.UnimplementedInstruction, "coprocessor read on unwired slot", op.Coproc)
		}
		v = cp.Read(op.CoprocFields[0], op.CoprocFields[1], op.CoprocFields[2], op.CoprocFields[3])
		fr.writeDst(op.Dst, v, layout)
		return interpResult{fired: true}, nil

	case ir.CoprocWrite:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		cp := coprocs[op.Coproc]
		if cp == nil {
			return interpResult{}, dynarmerrors.New(dynarmerrors.UnimplementedInstruction, "coprocessor write on unwired slot", op.Coproc)
		}
		v := fr.readOperand(op.Src[0], layout)
		cp.Write(op.CoprocFields[0], op.CoprocFields[1], op.CoprocFields[2], op.CoprocFields[3], v)
		return interpResult{fired: true}, nil

	case ir.UpdateNZ, ir.UpdateNZC, ir.UpdateNZCV, ir.UpdateQ:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		updateFlags(state, op, fr, layout)
		return interpResult{fired: true}, nil

	case ir.Flush, ir.FlushExchange, ir.FlushNoSwitch:
		if !evalCond(seg.Pred, cpsr) {
			return interpResult{}, nil
		}
		addr := fr.readOperand(op.FlushAddr, layout)
		thumb := op.FlushThumb
		if op.Kind == ir.FlushExchange {
			thumb = addr&1 != 0
			addr &^= 1
		}
		return interpResult{fired: true, successor: addr, thumb: thumb}, nil

	default:
		return interpResult{}, dynarmerrors.New(dynarmerrors.UnimplementedInstruction, "interpreted lowering", 0)
	}
}

// resolveReg turns a GuestReg's Mode field into the concrete mode a
// cross-mode access should read/write: CurrentMode is resolved against
// the live CPSR at the instant the op runs, exactly as native LoadGuestReg
// (restricted to the CurrentMode case) does via RState's active bank.
func resolveReg(g ir.GuestReg, cpsr guest.CPSR) guest.Mode {
	if g.Mode == guest.CurrentMode {
		return cpsr.Mode()
	}
	return g.Mode
}

func loadMem(busv mem.Bus, addr uint32, attrs ir.MemAttrs) uint32 {
	switch attrs.Size {
	case ir.Byte:
		v := busv.Read8(addr)
		if attrs.Signed {
			return uint32(int32(int8(v)))
		}
		return uint32(v)
	case ir.Half:
		v := busv.Read16(addr)
		if attrs.ByteSwap {
			v = v<<8 | v>>8
		}
		if attrs.Signed {
			return uint32(int32(int16(v)))
		}
		return uint32(v)
	default: // Word
		v := busv.Read32(addr)
		if attrs.ByteSwap {
			v = v<<24 | v&0xFF00<<8 | v&0xFF0000>>8 | v>>24
		}
		if attrs.Rotate {
			shift := (addr & 3) * 8
			v = v>>shift | v<<(32-shift)
		}
		return v
	}
}

func storeMem(busv mem.Bus, addr, v uint32, attrs ir.MemAttrs) {
	switch attrs.Size {
	case ir.Byte:
		busv.Write8(addr, uint8(v))
	case ir.Half:
		if attrs.ByteSwap {
			v = uint32(uint16(v)<<8 | uint16(v)>>8)
		}
		busv.Write16(addr, uint16(v))
	default: // Word
		if attrs.ByteSwap {
			v = v<<24 | v&0xFF00<<8 | v&0xFF0000>>8 | v>>24
		}
		busv.Write32(addr, v)
	}
}

// updateFlags applies one of the UpdateNZ/NZC/NZCV/Q ops to state's CPSR.
// UpdateNZCV's carry/overflow are recomputed from lhs/rhs rather than
// carried as a separate signal, per Op.Src's documented layout; doing that
// correctly needs op.ALUOp, since ADD-shaped (ADD/ADC/CMN) and SUB-shaped
// (SUB/SBC/CMP) families define carry-out oppositely, RSB/RSC compute
// rhs-lhs rather than lhs-rhs, and ADC/SBC/RSC fold the live C flag into
// the computation while their non-carrying counterparts don't.
func updateFlags(state *guest.State, op *ir.Op, fr *frame, layout codegenx64.FrameLayout) {
	cpsr := state.GetCPSR()
	result := fr.readOperand(op.Src[0], layout)
	n := int32(result) < 0
	z := result == 0

	switch op.Kind {
	case ir.UpdateNZ:
		state.SetCPSR(cpsr.WithNZCV(n, z, cpsr.C(), cpsr.V()))
	case ir.UpdateNZC:
		carry := fr.readOperand(op.Src[1], layout) != 0
		state.SetCPSR(cpsr.WithNZCV(n, z, carry, cpsr.V()))
	case ir.UpdateNZCV:
		lhs := fr.readOperand(op.Src[1], layout)
		rhs := fr.readOperand(op.Src[2], layout)
		carry, overflow := addSubFlags(op.ALUOp, lhs, rhs, cpsr.C())
		state.SetCPSR(cpsr.WithNZCV(n, z, carry, overflow))
	case ir.UpdateQ:
		sat := fr.readOperand(op.Src[0], layout) != 0
		state.SetCPSR(cpsr.WithQ(sat))
	}
}

// addSubFlags computes carry and overflow for an ADD/SUB-family ALUOp from
// its two source operands, working in 64-bit arithmetic rather than
// inferring the carry from the wrapped 32-bit result: ADC/SBC/RSC fold the
// live C flag in as a third term, and a result-only recompute can't
// recover that bit in every case (lhs==0 with a set carry-in, for one).
// ADD/ADC/CMN compute lhs+rhs(+C); SUB/SBC/CMP compute lhs-rhs(-NOT C);
// RSB/RSC are the same subtraction with lhs and rhs swapped. Plain
// ADD/SUB/CMP/CMN/RSB ignore the live C flag, matching real ARM.
func addSubFlags(op ir.ALUOp, lhs, rhs uint32, c bool) (carry, overflow bool) {
	cin := int64(0)
	if c {
		cin = 1
	}

	switch op {
	case ir.ADD, ir.CMN:
		return addFlags(lhs, rhs, 0)
	case ir.ADC:
		return addFlags(lhs, rhs, cin)
	case ir.SUB, ir.CMP:
		return subFlags(lhs, rhs, 1)
	case ir.SBC:
		return subFlags(lhs, rhs, cin)
	case ir.RSB:
		return subFlags(rhs, lhs, 1)
	case ir.RSC:
		return subFlags(rhs, lhs, cin)
	default:
		return addFlags(lhs, rhs, 0)
	}
}

// addFlags computes carry/overflow for an unsigned/signed 32-bit a+b+cin.
func addFlags(a, b uint32, cin int64) (carry, overflow bool) {
	sum := uint64(a) + uint64(b) + uint64(cin)
	carry = sum > 0xFFFFFFFF
	signed := int64(int32(a)) + int64(int32(b)) + cin
	overflow = signed < math.MinInt32 || signed > math.MaxInt32
	return carry, overflow
}

// subFlags computes carry/overflow for a-b-borrowIn, where borrowIn is
// passed as cin=1 meaning "no extra borrow" (plain subtract) and cin=0
// meaning "borrow one more" (SBC/RSC with the C flag clear).
func subFlags(a, b uint32, cin int64) (carry, overflow bool) {
	diff := int64(a) - int64(b) - (1 - cin)
	carry = diff >= 0
	signed := int64(int32(a)) - int64(int32(b)) - (1 - cin)
	overflow = signed < math.MinInt32 || signed > math.MaxInt32
	return carry, overflow
}
