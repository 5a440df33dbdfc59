// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegenx64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as one line per decoded instruction, offset
// and raw bytes followed by the Intel-syntax mnemonic. Used by logging
// and tests to inspect what a Segment actually contains; never called
// from the hot EmitBlock path.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0

	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}

		var hexBytes []string
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		sb.WriteString(fmt.Sprintf(
			"0x%04x: %-24s %s\n",
			offset,
			strings.Join(hexBytes, " "),
			inst.String(),
		))

		offset += inst.Len
	}

	return sb.String()
}

// DisassembleSegments renders every Native segment's code, labelled by
// index, and a one-line summary of each Interpreted segment's op.
func DisassembleSegments(segments []Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		switch seg.Kind {
		case Native:
			fmt.Fprintf(&sb, "segment %d: native (%d bytes)\n", i, len(seg.Code))
			sb.WriteString(Disassemble(seg.Code))
		case Interpreted:
			fmt.Fprintf(&sb, "segment %d: interpreted kind=%d pred=%s\n", i, seg.Op.Kind, seg.Pred)
		}
	}
	return sb.String()
}
