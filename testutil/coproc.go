// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package testutil

// Coprocessor is a trivial mem.Coprocessor double backed by a flat array
// of 16x16x8 registers (CRn/CRm/opc2), ignoring opc1. Good enough to
// exercise MRC/MCR round-tripping through the pipeline without modelling
// any real coprocessor's semantics.
type Coprocessor struct {
	regs [16][16][8]uint32
}

func (c *Coprocessor) Read(opc1, crn, crm, opc2 uint8) uint32 {
	return c.regs[crn][crm][opc2]
}

func (c *Coprocessor) Write(opc1, crn, crm, opc2 uint8, value uint32) {
	c.regs[crn][crm][opc2] = value
}
