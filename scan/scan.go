// Package scan looks for a 32-bit marker word in physical memory.
package scan

import (
	"encoding/binary"
	"iter"

	"github.com/bobuhiro11/vlbl/memory"
)

// Words yields base+off for every word-aligned offset off in buf whose
// little-endian word equals magic, in ascending order. A trailing partial
// word is never compared. The sequence holds no state of its own, so it
// may be ranged over any number of times.
func Words(buf []byte, base uint64, magic uint32) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for off := 0; off+memory.WordSize <= len(buf); off += memory.WordSize {
			if binary.LittleEndian.Uint32(buf[off:]) != magic {
				continue
			}

			if !yield(base + uint64(off)) {
				return
			}
		}
	}
}

// Region scans r in m. The bounds are checked once, up front.
func Region(m *memory.Memory, r memory.Region, magic uint32) (iter.Seq[uint64], error) {
	buf, err := m.Bytes(r)
	if err != nil {
		return nil, err
	}

	return Words(buf, r.Base, magic), nil
}

// At reports whether the word at addr equals magic. Addresses outside m
// never match.
func At(m *memory.Memory, addr uint64, magic uint32) bool {
	w, err := m.ReadWord(addr)

	return err == nil && w == magic
}
