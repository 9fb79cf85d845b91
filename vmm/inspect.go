package vmm

import (
	"fmt"

	"github.com/bobuhiro11/vlbl/memory"
	"golang.org/x/arch/x86/x86asm"
)

// Disassemble decodes up to n instructions starting at addr as 32-bit
// code, the mode the protected-mode segment is entered in. Decoding stops
// early at the end of RAM or at the first byte sequence that is not an
// instruction; the latter is reported as "(bad)".
func (v *VMM) Disassemble(addr uint64, n int) ([]string, error) {
	if v.mem == nil {
		return nil, errNotInitialized
	}

	var out []string

	for pc := addr; len(out) < n && pc < v.mem.Size(); {
		// We know the PC; grab a bunch of bytes there, then decode.
		insn, err := v.mem.Bytes(memory.Region{Base: pc, Len: min(16, v.mem.Size()-pc)})
		if err != nil {
			return out, fmt.Errorf("reading PC at %#x: %w", pc, err)
		}

		d, err := x86asm.Decode(insn, 32)
		if err != nil {
			out = append(out, fmt.Sprintf("%#x:(bad)", pc))

			break
		}

		out = append(out, fmt.Sprintf("%#x:%s", pc, x86asm.GNUSyntax(d, pc, nil)))
		pc += uint64(d.Len)
	}

	return out, nil
}
