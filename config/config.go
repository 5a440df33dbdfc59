// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config holds the descriptors a cpu.CPU is constructed from.
// It mirrors the shape of the teacher's preferences package (one struct
// per subsystem, plain fields, a Default constructor) minus disk
// persistence — dynarm is a library, not an application, so there is no
// preferences file to load or save.
package config

import "github.com/dynarm/dynarm/arch"

// ABI selects the host calling convention the code generator targets.
// Both are required by spec.md §1; the CPU is constructed for exactly
// one per process.
type ABI uint8

const (
	SysV ABI = iota
	Win64
)

func (a ABI) String() string {
	if a == Win64 {
		return "Win64"
	}
	return "SysV"
}

// CPU is the full set of knobs a cpu.New call needs. Zero-value fields
// are filled in from Default by cpu.New where a zero is not itself a
// meaningful setting.
type CPU struct {
	// Model selects ARMv4T (ARM7TDMI) or ARMv5TE (ARM9) semantics.
	Model arch.Model

	// ABI selects the host calling convention the emitter targets.
	ABI ABI

	// BlockSize caps the number of guest instructions a single
	// translation unit may decode before it is forcibly terminated,
	// bounding worst-case compile latency per spec.md §4.1.
	BlockSize int

	// ExceptionBase is the guest address exception vectors are read
	// from; GetExceptionBase/SetExceptionBase (spec.md §6) read and
	// write this field at run time.
	ExceptionBase uint32

	// MaxBlockBytes caps the guest bytes a single block may decode
	// (instruction count times instruction size), checked by
	// translate.Block alongside BlockSize. It does not bound the size of
	// the emitted host code.
	MaxBlockBytes int

	// VarPoolSlots/OpPoolSlots are not read by cpu.New: its ir.Builder
	// arena is always sized to pool.DefaultSlots.
	VarPoolSlots int
	OpPoolSlots  int
}

// Default returns the configuration used when a caller does not
// otherwise specify one: ARMv4T, the host's native ABI expressed as
// SysV (the common case for this module's embedders), a 32-instruction
// block cap, and the real ARM7TDMI reset vector base of 0x00000000.
func Default() CPU {
	return CPU{
		Model:         arch.ARM7,
		ABI:           SysV,
		BlockSize:     arch.DefaultBlockSize,
		ExceptionBase: 0,
		MaxBlockBytes: 4096,
	}
}

// fillDefaults returns c with any zero-valued field that is not itself a
// legal setting replaced by Default()'s value.
func (c CPU) fillDefaults() CPU {
	d := Default()
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.MaxBlockBytes == 0 {
		c.MaxBlockBytes = d.MaxBlockBytes
	}
	return c
}

// Normalize returns c with defaults filled in, suitable for storing on a
// CPU instance after construction.
func (c CPU) Normalize() CPU { return c.fillDefaults() }
