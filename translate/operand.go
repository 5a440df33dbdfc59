// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package translate

import "github.com/dynarm/dynarm/ir"

// readReg returns an Operand for guest register reg as read by the
// instruction currently being lifted. Register 15 (PC) reads as the
// advanced value (current instruction address + 2*instruction widths,
// per §4.1's PC-read-advance rule) rather than the raw value live in
// guest.State, since a block's PC only moves when dispatch sets up the
// next block's starting address.
func (t *Translator) readReg(b *ir.Builder, reg int) ir.Operand {
	if reg == 15 {
		return ir.VarOperand(b.AdvancePC(t.curAddr + 2*t.curInstrSize))
	}
	return ir.VarOperand(b.LoadGuestReg(ir.CurrentGuestReg(reg)))
}

// writeReg stores value into guest register reg. Writing R15 is handled
// by each lifter's own control-flow emission (Flush/FlushExchange) rather
// than here, since the exact Flush variant depends on the instruction
// (plain data-processing vs BX vs a load that happens to target PC).
func (t *Translator) writeReg(b *ir.Builder, reg int, value ir.Operand) {
	b.StoreGuestReg(ir.CurrentGuestReg(reg), value)
}

// barrelShift lowers an ARM operand2 shift (or a Thumb move-shifted-
// register) into IR, returning the shifted value and, when the shift
// amount is non-zero, the carry-out operand UpdateNZC needs. When the
// shift amount is the constant 0, ARM's barrel shifter passes the value
// through unchanged and the carry flag is left alone by the instruction's
// own flag update (LSL #0 is the identity shift); callers that need a
// carry operand regardless should use carryIn.
func (t *Translator) barrelShift(b *ir.Builder, op ir.ShiftOp, value, amount ir.Operand, carryIn ir.Operand) (ir.Operand, ir.Operand) {
	if c, isConst := constU32(amount); isConst && c == 0 && op != ir.RRX {
		return value, carryIn
	}
	shifted := b.Shift(op, value, amount)
	// The carry-out of a barrel shift is materialised as a second
	// pseudo-result by the emitter once operands are assigned host
	// locations; at the IR level it is referenced as the same VarID
	// the Shift op writes, reinterpreted as a single-bit value by
	// UpdateNZC's consumer.
	return ir.VarOperand(shifted), ir.VarOperand(shifted)
}

func constU32(o ir.Operand) (uint32, bool) {
	if o.IsVar() {
		return 0, false
	}
	return uint32(o.Const()), true
}
