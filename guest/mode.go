// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package guest models the architectural state of the emulated ARM core:
// the sixteen active general registers, the banked copies of R8-R14 kept
// for each privilege mode, CPSR/SPSR, and the IRQ-line/wait-for-IRQ flags
// that are the only fields an outside thread may touch (§5 of the
// design).
package guest

import (
	"fmt"

	dynarmerrors "github.com/dynarm/dynarm/errors"
)

// Mode is the 5-bit CPSR mode field. Values match the real ARM encoding so
// that a CPSR round-tripped through SetCPSR/GetCPSR preserves bits an
// implementer might otherwise be tempted to normalise away.
type Mode uint8

// The six privilege modes named in spec.md §3. User and System share a
// register bank (they are listed together there) but are still distinct
// CPSR mode values.
const (
	User       Mode = 0b10000
	FIQ        Mode = 0b10001
	IRQ        Mode = 0b10010
	Supervisor Mode = 0b10011
	Abort      Mode = 0b10111
	Undefined  Mode = 0b11011
	System     Mode = 0b11111
)

// CurrentMode is a sentinel used by ir.GuestReg to mean "whichever bank
// is presently active", rather than naming one of the seven mode values
// above. It is not a legal CPSR mode field (all real mode values have
// bit 4 set) so it can never be confused with one.
const CurrentMode Mode = 0

// valid reports whether m is one of the seven defined mode values.
func (m Mode) valid() bool {
	switch m {
	case User, FIQ, IRQ, Supervisor, Abort, Undefined, System:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case User:
		return "User"
	case FIQ:
		return "FIQ"
	case IRQ:
		return "IRQ"
	case Supervisor:
		return "Supervisor"
	case Abort:
		return "Abort"
	case Undefined:
		return "Undefined"
	case System:
		return "System"
	default:
		return fmt.Sprintf("Mode(%#02x)", uint8(m))
	}
}

// bank identifies one of the six register banks that own a private copy
// of R8-R14. User and System share bankUser.
type bank int

const (
	bankUser bank = iota
	bankFIQ
	bankIRQ
	bankSVC
	bankAbort
	bankUndefined
	numBanks
)

func bankOf(m Mode) (bank, error) {
	switch m {
	case User, System:
		return bankUser, nil
	case FIQ:
		return bankFIQ, nil
	case IRQ:
		return bankIRQ, nil
	case Supervisor:
		return bankSVC, nil
	case Abort:
		return bankAbort, nil
	case Undefined:
		return bankUndefined, nil
	default:
		return 0, dynarmerrors.New(dynarmerrors.InvalidMode, uint8(m))
	}
}

// hasSPSR reports whether mode m has a saved program status register. User
// and System do not — there is nothing to save to on entry since they are
// never entered via exception.
func hasSPSR(m Mode) bool {
	return m != User && m != System
}
