package memory

import (
	"errors"
	"fmt"
)

// WordSize is the copy and scan granularity in bytes.
const WordSize = 4

var (
	ErrUnaligned = errors.New("region length is not a multiple of the word size")
	ErrOverflow  = errors.New("region wraps the address space")
)

// Region is a physical address range [Base, Base+Len).
// Regions built by NewRegion always have a word-aligned length.
type Region struct {
	Base uint64
	Len  uint64
}

func NewRegion(base, length uint64) (Region, error) {
	if length%WordSize != 0 {
		return Region{}, fmt.Errorf("%#x bytes at %#x: %w", length, base, ErrUnaligned)
	}

	if base+length < base {
		return Region{}, fmt.Errorf("%#x bytes at %#x: %w", length, base, ErrOverflow)
	}

	return Region{Base: base, Len: length}, nil
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Len
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// Overlaps reports whether r and o share at least one byte.
// Empty regions overlap nothing.
func (r Region) Overlaps(o Region) bool {
	if r.Len == 0 || o.Len == 0 {
		return false
	}

	return r.Base < o.End() && o.Base < r.End()
}

// Within reports whether r lies entirely inside o. A region that wraps
// the address space is inside nothing.
func (r Region) Within(o Region) bool {
	if r.wraps() || o.wraps() {
		return false
	}

	return r.Base >= o.Base && r.End() <= o.End()
}

func (r Region) wraps() bool {
	return r.End() < r.Base
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Base, r.End())
}
