// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package guest

import (
	"sync/atomic"

	dynarmerrors "github.com/dynarm/dynarm/errors"
)

// NumRegisters is the number of general-purpose registers in the active
// set, R0-R15 with R15 the program counter.
const NumRegisters = 16

// PC is the register index of the program counter.
const PC = 15

// State is the process-lifetime architectural state of one guest ARM
// core: the active register file, the banked spill copies of R8-R14, the
// current and saved status registers, and the two flags that may be
// written from outside the thread driving Run (§5).
//
// State is deliberately a plain value type so that codegenx64 can compute
// field offsets once (via reflect, at Emitter construction, which also
// finds the unexported fields by name) and use them in emitted code as
// displacements off the reserved state-pointer register. Only Registers
// is exported.
type State struct {
	Registers [NumRegisters]uint32

	banks [numBanks][7]uint32 // R8..R14 per bank

	cpsr CPSR
	spsr [numBanks]CPSR // indexed by bank; bankUser entry is unused

	// irqLine and halted are the only fields written from outside the
	// thread driving Run. Both must be read/written atomically.
	irqLine atomic.Bool
	halted  atomic.Bool
}

// NewState returns a State with CPSR set to Supervisor mode, ARM
// (non-Thumb), both interrupt masks set — the ARM7TDMI reset state.
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset returns the state to the ARM7TDMI reset condition: Supervisor
// mode, IRQ and FIQ masked, ARM instruction set, all registers and banks
// zeroed.
func (s *State) Reset() {
	*s = State{}
	s.cpsr = CPSR(0).WithMode(Supervisor).WithMaskFIQ(true).WithMaskIRQ(true)
}

// bankedIndex maps register 8-14 to an index into a bank's storage array.
func bankedIndex(reg int) int { return reg - 8 }

func isBanked(reg int) bool { return reg >= 8 && reg <= 14 }

// GetGPR returns the current value of register reg in the active bank
// (i.e. as CPSR.Mode() would select it).
func (s *State) GetGPR(reg int) (uint32, error) {
	if reg < 0 || reg >= NumRegisters {
		return 0, dynarmerrors.New(dynarmerrors.InvalidRegister, reg)
	}
	return s.Registers[reg], nil
}

// SetGPR sets register reg in the active bank.
func (s *State) SetGPR(reg int, value uint32) error {
	if reg < 0 || reg >= NumRegisters {
		return dynarmerrors.New(dynarmerrors.InvalidRegister, reg)
	}
	s.Registers[reg] = value
	return nil
}

// GetGPRMode returns the value register reg holds under mode m, regardless
// of the currently active mode. For an unbanked register (R0-R7, R15) this
// is simply the active value.
func (s *State) GetGPRMode(reg int, m Mode) (uint32, error) {
	if reg < 0 || reg >= NumRegisters {
		return 0, dynarmerrors.New(dynarmerrors.InvalidRegister, reg)
	}
	if !isBanked(reg) {
		return s.Registers[reg], nil
	}
	b, err := bankOf(m)
	if err != nil {
		return 0, err
	}
	if b == s.activeBank() {
		return s.Registers[reg], nil
	}
	return s.banks[b][bankedIndex(reg)], nil
}

// SetGPRMode sets register reg under mode m, regardless of the currently
// active mode.
func (s *State) SetGPRMode(reg int, m Mode, value uint32) error {
	if reg < 0 || reg >= NumRegisters {
		return dynarmerrors.New(dynarmerrors.InvalidRegister, reg)
	}
	if !isBanked(reg) {
		s.Registers[reg] = value
		return nil
	}
	b, err := bankOf(m)
	if err != nil {
		return err
	}
	if b == s.activeBank() {
		s.Registers[reg] = value
		return nil
	}
	s.banks[b][bankedIndex(reg)] = value
	return nil
}

func (s *State) activeBank() bank {
	b, _ := bankOf(s.cpsr.Mode())
	return b
}

// switchBank atomically swaps the live R8-R14 values between the
// currently active bank and newBank's storage, per spec.md §3's
// invariant that "mode transitions must atomically swap banks before
// exposing the new state". Atomic here means "as one step with no
// observer-visible half state" — State is not safe for concurrent mode
// switches from multiple goroutines, matching the single-threaded
// contract in §5.
func (s *State) switchBank(newBank bank) {
	old := s.activeBank()
	if old == newBank {
		return
	}
	for i := 0; i < 7; i++ {
		reg := 8 + i
		s.banks[old][i] = s.Registers[reg]
		s.Registers[reg] = s.banks[newBank][i]
	}
}

// GetCPSR returns the current program status register.
func (s *State) GetCPSR() CPSR { return s.cpsr }

// SetCPSR installs a new CPSR, performing the bank swap implied by any
// mode change. This is the single point through which a mode transition
// may happen; the interpreter's StoreCPSR and the CPU façade's exception
// entry and return all fold through here.
func (s *State) SetCPSR(c CPSR) error {
	if !c.Mode().valid() {
		return dynarmerrors.New(dynarmerrors.InvalidMode, uint8(c.Mode()))
	}
	newBank, err := bankOf(c.Mode())
	if err != nil {
		return err
	}
	s.switchBank(newBank)
	s.cpsr = c
	return nil
}

// GetSPSR returns the saved program status register for mode m. User and
// System have no SPSR; requesting one returns the zero value and an
// InvalidMode error.
func (s *State) GetSPSR(m Mode) (CPSR, error) {
	if !hasSPSR(m) {
		return 0, dynarmerrors.New(dynarmerrors.InvalidMode, uint8(m))
	}
	b, err := bankOf(m)
	if err != nil {
		return 0, err
	}
	return s.spsr[b], nil
}

// SetSPSR sets the saved program status register for mode m.
func (s *State) SetSPSR(m Mode, value CPSR) error {
	if !hasSPSR(m) {
		return dynarmerrors.New(dynarmerrors.InvalidMode, uint8(m))
	}
	b, err := bankOf(m)
	if err != nil {
		return err
	}
	s.spsr[b] = value
	return nil
}

// IRQLine reports whether the guest's single IRQ input line is currently
// asserted. Safe to call from outside the thread driving Run.
func (s *State) IRQLine() bool { return s.irqLine.Load() }

// SetIRQLine asserts or clears the guest's IRQ input line.
func (s *State) SetIRQLine(asserted bool) { s.irqLine.Store(asserted) }

// WaitForIRQ reports whether the core is halted awaiting an interrupt.
func (s *State) WaitForIRQ() bool { return s.halted.Load() }

// SetWaitForIRQ sets the halted-awaiting-interrupt flag. Cleared by the
// Run loop itself once an IRQ is serviced.
func (s *State) SetWaitForIRQ(halt bool) { s.halted.Store(halt) }

// Snapshot returns a deep copy of the state, suitable for save states or
// speculative compilation probes.
func (s *State) Snapshot() *State {
	n := &State{
		Registers: s.Registers,
		banks:     s.banks,
		cpsr:      s.cpsr,
		spsr:      s.spsr,
	}
	n.irqLine.Store(s.irqLine.Load())
	n.halted.Store(s.halted.Load())
	return n
}
