// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cpu_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dynarm/dynarm/config"
	"github.com/dynarm/dynarm/cpu"
	"github.com/dynarm/dynarm/guest"
	"github.com/dynarm/dynarm/mem"
	"github.com/dynarm/dynarm/testutil"
)

func newCore(size int) (*cpu.CPU, *testutil.Bus) {
	bus := testutil.NewBus(size)
	c := cpu.New(config.Default(), bus, [16]mem.Coprocessor{})
	return c, bus
}

func armWords(bus *testutil.Bus, addr uint32, words ...uint32) {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	bus.LoadProgram(addr, buf)
}

func thumbHalfwords(bus *testutil.Bus, addr uint32, words ...uint16) {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], w)
	}
	bus.LoadProgram(addr, buf)
}

// These specs follow the six concrete scenarios and the two round-trip
// properties named for the dispatcher: each is driven entirely through
// cpu.CPU's exported surface, never by reaching into its internals.
var _ = Describe("CPU.Run", func() {
	It("adds two immediates across two instructions (scenario 1)", func() {
		c, bus := newCore(0x100)
		armWords(bus, 0,
			0xE3A00005, // MOV R0, #5
			0xE2800003, // ADD R0, R0, #3
			0xEAFFFFFE, // B .
		)

		c.Run(8)

		r0, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(8)))
	})

	It("updates NZCV on an overflowing ADDS (scenario 2)", func() {
		c, bus := newCore(0x100)
		armWords(bus, 0,
			0xE3E00000, // MVN R0, #0  -> 0xFFFFFFFF
			0xE2900001, // ADDS R0, R0, #1 -> 0, carry out
		)

		c.Run(8)

		r0, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(0)))

		cpsr := c.GetCPSR()
		Expect(cpsr.Z()).To(BeTrue())
		Expect(cpsr.C()).To(BeTrue())
	})

	It("banks R8-R14 per mode independently of the active bank (scenario 3)", func() {
		c, _ := newCore(0x10)

		Expect(c.SetCPSR(c.GetCPSR().WithMode(guest.FIQ))).To(Succeed())
		Expect(c.SetGPR(8, 0xAA)).To(Succeed())

		Expect(c.SetCPSR(c.GetCPSR().WithMode(guest.User))).To(Succeed())
		Expect(c.SetGPR(8, 0xBB)).To(Succeed())

		fiqR8, err := c.GetGPRMode(8, guest.FIQ)
		Expect(err).NotTo(HaveOccurred())
		Expect(fiqR8).To(Equal(uint32(0xAA)))

		r8, err := c.GetGPR(8)
		Expect(err).NotTo(HaveOccurred())
		Expect(r8).To(Equal(uint32(0xBB)))
	})

	It("does not take a not-taken Thumb branch (scenario 4)", func() {
		c, bus := newCore(0x100)
		thumbHalfwords(bus, 0,
			0x2005, // MOVS r0, #5
			0xD000, // BEQ +0 (not taken: Z is clear at reset)
			0xE7FE, // B . (unconditional, self)
		)
		Expect(c.SetCPSR(c.GetCPSR().WithThumb(true))).To(Succeed())

		c.Run(8)

		r0, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(5)))

		pc, err := c.GetGPR(guest.PC)
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(Equal(uint32(4)), "execution should be parked in the trailing B ., not looped back to the BEQ")
	})

	It("re-translates a block after ClearICacheRange instead of reusing stale code (scenario 5)", func() {
		c, bus := newCore(0x2000)
		armWords(bus, 0x1000,
			0xE3A00005, // MOV R0, #5
			0xEAFFFFFE, // B .
		)

		c.Run(4)
		r0, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(5)))

		armWords(bus, 0x1000,
			0xE3A0000A, // MOV R0, #10
			0xEAFFFFFE, // B .
		)
		c.ClearICacheRange(0x1000, 0x1004)

		Expect(c.SetGPR(guest.PC, 0x1000)).To(Succeed())
		c.Run(4)

		r0, err = c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(10)), "stale cached code would have left R0 at 5")
	})

	It("vectors to the IRQ handler and banks LR/SPSR on injection (scenario 6)", func() {
		c, bus := newCore(0x100)
		armWords(bus, 0,
			0xE3A00005, // MOV R0, #5 (never reached before the IRQ fires)
		)
		// Parks execution at the vector once injected, so the single Run
		// tick below leaves PC sitting on the vector address itself
		// instead of whatever the handler's first block falls through to.
		armWords(bus, 0x18,
			0xEAFFFFFE, // B .
		)

		Expect(c.SetCPSR(c.GetCPSR().WithMaskIRQ(false))).To(Succeed())
		c.SetIRQLine(true)

		c.Run(1)

		pc, err := c.GetGPR(guest.PC)
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(Equal(c.GetExceptionBase() + 0x18))

		cpsr := c.GetCPSR()
		Expect(cpsr.Mode()).To(Equal(guest.IRQ))
		Expect(cpsr.MaskIRQ()).To(BeTrue())

		lr, err := c.GetGPRMode(14, guest.IRQ)
		Expect(err).NotTo(HaveOccurred())
		Expect(lr).To(Equal(uint32(4)))
	})

	It("round-trips every legal CPSR value through SetCPSR/GetCPSR", func() {
		c, _ := newCore(0x10)
		modes := []guest.Mode{guest.User, guest.FIQ, guest.IRQ, guest.Supervisor, guest.Abort, guest.Undefined, guest.System}
		for _, m := range modes {
			cpsr := guest.CPSR(0).WithMode(m).WithThumb(m == guest.User).WithNZCV(true, false, true, false)
			Expect(c.SetCPSR(cpsr)).To(Succeed())
			Expect(c.GetCPSR()).To(Equal(cpsr))
		}
	})

	It("restores exactly the state a snapshot captured, undoing a speculative continuation", func() {
		c, bus := newCore(0x100)
		armWords(bus, 0,
			0xE3A00005, // MOV R0, #5
			0xEAFFFFFE, // B .
		)
		c.Run(4)

		snap := c.Snapshot()
		pcAtSnapshot, err := c.GetGPR(guest.PC)
		Expect(err).NotTo(HaveOccurred())

		armWords(bus, 0x1000,
			0xE3A00063, // MOV R0, #99
			0xEAFFFFFE, // B .
		)
		Expect(c.SetGPR(guest.PC, 0x1000)).To(Succeed())
		c.Run(4)

		r0, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(99)), "speculative continuation should have run")

		c.Restore(snap)

		r0, err = c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r0).To(Equal(uint32(5)), "restore should undo the speculative continuation's register effects")

		pc, err := c.GetGPR(guest.PC)
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(Equal(pcAtSnapshot), "restore should undo the speculative continuation's PC movement too")
	})

	It("produces byte-identical guest-state effects after ClearICache on an unchanged block", func() {
		c, bus := newCore(0x100)
		armWords(bus, 0,
			0xE3A00005, // MOV R0, #5
			0xE2800003, // ADD R0, R0, #3
			0xEAFFFFFE, // B .
		)

		c.Run(8)
		first, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())

		c.ClearICache()
		Expect(c.SetGPR(guest.PC, 0)).To(Succeed())
		c.Run(8)

		second, err := c.GetGPR(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})
