package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrLengthMismatch = errors.New("source and destination lengths differ")

// Copy4 copies size bytes from src to dst one 32-bit word at a time,
// advancing both addresses by one word per step.
//
// Only whole words are moved: when size is not a multiple of 4 the last
// size%4 bytes are left uncopied. Overlap is not checked and addresses
// outside RAM panic; callers that cannot guarantee either use CopyRegion.
func Copy4(m *Memory, dst, src, size uint64) {
	for off := uint64(0); off+WordSize <= size; off += WordSize {
		w := binary.LittleEndian.Uint32(m.buf[src+off:])
		binary.LittleEndian.PutUint32(m.buf[dst+off:], w)
	}
}

// CopyRegion is Copy4 with the preconditions checked up front: equal
// lengths, both regions inside RAM and no overlap.
func CopyRegion(m *Memory, dst, src Region) error {
	if dst.Len != src.Len {
		return fmt.Errorf("copy %v to %v: %w", src, dst, ErrLengthMismatch)
	}

	for _, r := range []Region{src, dst} {
		if !r.Within(m.Region()) {
			return fmt.Errorf("copy %v to %v: %w", src, dst, ErrOutOfRange)
		}
	}

	if src.Overlaps(dst) {
		return fmt.Errorf("copy %v to %v: %w", src, dst, ErrOverlap)
	}

	Copy4(m, dst.Base, src.Base, src.Len)

	return nil
}
