// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package testutil collects the test doubles used across dynarm's own
// test suite. mem.Bus and mem.Coprocessor are consumed interfaces a host
// embedding dynarm must supply; this package's Bus is the flat-array
// stand-in the rest of the module's tests drive instead, grounded on the
// teacher's arm_test.go testMemory type.
package testutil

// Bus is a flat byte-array implementation of mem.Bus, addressed directly
// by guest address with no remapping. Large enough for the translator
// and cpu tests this module ships; not intended as a realistic memory
// map for an embedder.
type Bus struct {
	data []byte
}

// NewBus returns a Bus backed by size bytes, all initialised to zero.
func NewBus(size int) *Bus {
	return &Bus{data: make([]byte, size)}
}

// LoadProgram copies program into the bus starting at addr, for tests
// that want to seed a block of guest code/data in one call.
func (b *Bus) LoadProgram(addr uint32, program []byte) {
	copy(b.data[addr:], program)
}

func (b *Bus) Read8(addr uint32) uint8 { return b.data[addr] }

func (b *Bus) Read16(addr uint32) uint16 {
	return uint16(b.data[addr]) | uint16(b.data[addr+1])<<8
}

func (b *Bus) Read32(addr uint32) uint32 {
	return uint32(b.data[addr]) |
		uint32(b.data[addr+1])<<8 |
		uint32(b.data[addr+2])<<16 |
		uint32(b.data[addr+3])<<24
}

func (b *Bus) Write8(addr uint32, value uint8) { b.data[addr] = value }

func (b *Bus) Write16(addr uint32, value uint16) {
	b.data[addr] = uint8(value)
	b.data[addr+1] = uint8(value >> 8)
}

func (b *Bus) Write32(addr uint32, value uint32) {
	b.data[addr] = uint8(value)
	b.data[addr+1] = uint8(value >> 8)
	b.data[addr+2] = uint8(value >> 16)
	b.data[addr+3] = uint8(value >> 24)
}
