// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package arch defines the Model type used to select between the two
// supported guest ARM variants, and the handful of architecture-level
// constants that depend on that choice. It plays the role the teacher's
// architecture.Map plays for cartridge/ARM variants, narrowed to the two
// models this recompiler targets.
package arch

// Model identifies the guest ARM core variant. The translator and guest
// state both branch on this value in the small number of places where
// ARMv4T and ARMv5TE genuinely differ (the NV condition code, and the
// presence of the ARMv5TE-only BLX/CLZ family).
type Model string

// The two supported guest models, matching §6 of the design.
const (
	// ARM7 selects ARMv4T behaviour (ARM7TDMI): integer + Thumb, no BLX/CLZ,
	// predicate 0b1111 (NV) is "never execute".
	ARM7 Model = "ARM7"

	// ARM9 selects ARMv5TE behaviour (ARM9TDMI/ARM968E-S): adds BLX/CLZ and
	// saturating arithmetic, and repurposes predicate 0b1111 as an
	// unconditional opcode-extension space rather than "never execute".
	ARM9 Model = "ARM9"
)

// IsARMv5TE reports whether m has ARMv5TE behaviour.
func (m Model) IsARMv5TE() bool {
	return m == ARM9
}

// NVIsExtension reports whether condition code 0b1111 should be treated as
// an unconditional opcode extension (ARMv5TE) rather than "never execute"
// (ARMv4T), per spec.md §4.1's condition-handling rule.
func (m Model) NVIsExtension() bool {
	return m.IsARMv5TE()
}

// DefaultBlockSize is the ceiling on guest instructions per translated
// basic block (spec.md §4.1's block_size, default 32).
const DefaultBlockSize = 32

// InstructionSizeARM and InstructionSizeThumb are the fetch granularities
// used by the PC-advance and fall-through rules in spec.md §4.1.
const (
	InstructionSizeARM   = 4
	InstructionSizeThumb = 2
)
