// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mem declares the guest memory and coprocessor interfaces the
// translator and the compiled code's runtime helpers call through.
// Nothing in dynarm owns guest memory itself: a host embedding the
// module supplies both, exactly as spec.md §6 requires.
package mem

// Bus is the guest's address space as seen by the CPU core: every load
// and store the translator lifts ends up, at run time, as a call through
// one of these methods. Implementations are free to back this with a
// flat array, a banked-ROM/RAM map, a bus with side-effecting I/O
// registers, or anything else — the core has no opinion beyond the
// method set.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32

	Write8(addr uint32, value uint8)
	Write16(addr uint32, value uint16)
	Write32(addr uint32, value uint32)
}

// Coprocessor is one of the sixteen coprocessor slots addressable by
// MRC/MCR. dynarm implements no coprocessor itself (there is no system
// coprocessor bundled in this module) — a host wires in its own, or
// leaves the slot nil, in which case MRC/MCR targeting it raises
// errors.UnimplementedInstruction.
type Coprocessor interface {
	Read(opc1, crn, crm, opc2 uint8) uint32
	Write(opc1, crn, crm, opc2 uint8, value uint32)
}
