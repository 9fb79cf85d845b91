// Package layout holds the physical addresses and sizes a target kernel
// expects its segments at.
package layout

import (
	"errors"
	"fmt"
	"os"

	"github.com/bobuhiro11/vlbl/memory"
	"gopkg.in/yaml.v3"
)

// Defaults match the image produced by the reference kernel build and the
// memory map the preceding stage uses.
const (
	DefaultSource       = 0x4000000
	DefaultRealDest     = 0x90000
	DefaultProtDest     = 0x100000
	DefaultRealModeSize = 0x5000
	DefaultProtOffset   = 0x100000
	DefaultHeaderPrefix = 0x1000
	DefaultProtEnd      = 0x2000000
	DefaultMagic        = 0x12c007
	DefaultVerifyAddr   = 0x132000
	DefaultMemSize      = 128 << 20
)

var ErrInvalid = errors.New("invalid boot layout")

// Layout is the boot layout for one target kernel and memory map.
//
//	image + 0                        real-mode extent, RealModeSize bytes
//	image + ProtOffset-HeaderPrefix  protected-mode extent, ProtEnd-ProtOffset bytes
//
// VerifyAddr pins where the marker word must land after relocation. Zero
// means the address is derived from where the marker was found.
type Layout struct {
	Source       uint64 `yaml:"source"`
	RealDest     uint64 `yaml:"realDest"`
	ProtDest     uint64 `yaml:"protDest"`
	RealModeSize uint64 `yaml:"realModeSize"`
	ProtOffset   uint64 `yaml:"protOffset"`
	HeaderPrefix uint64 `yaml:"headerPrefix"`
	ProtEnd      uint64 `yaml:"protEnd"`
	Magic        uint32 `yaml:"magic"`
	VerifyAddr   uint64 `yaml:"verifyAddr"`
	MemSize      uint64 `yaml:"memSize"`
}

func Default() Layout {
	return Layout{
		Source:       DefaultSource,
		RealDest:     DefaultRealDest,
		ProtDest:     DefaultProtDest,
		RealModeSize: DefaultRealModeSize,
		ProtOffset:   DefaultProtOffset,
		HeaderPrefix: DefaultHeaderPrefix,
		ProtEnd:      DefaultProtEnd,
		Magic:        DefaultMagic,
		VerifyAddr:   DefaultVerifyAddr,
		MemSize:      DefaultMemSize,
	}
}

// Parse decodes a YAML layout. Keys that are absent keep their defaults.
func Parse(data []byte) (Layout, error) {
	l := Default()

	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout: %w", err)
	}

	if err := l.Validate(); err != nil {
		return Layout{}, err
	}

	return l, nil
}

func Load(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}

	return Parse(data)
}

func (l Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

// ProtSize is the length of the protected-mode extent.
func (l Layout) ProtSize() uint64 {
	return l.ProtEnd - l.ProtOffset
}

// ProtSkip is the distance from the image base to the protected-mode extent.
func (l Layout) ProtSkip() uint64 {
	return l.ProtOffset - l.HeaderPrefix
}

// ImageSpan is how many bytes of the staged image the extents cover.
func (l Layout) ImageSpan() uint64 {
	return max(l.RealModeSize, l.ProtSkip()+l.ProtSize())
}

func (l Layout) Validate() error {
	switch {
	case l.RealModeSize == 0:
		return fmt.Errorf("%w: realModeSize is zero", ErrInvalid)
	case l.RealModeSize%memory.WordSize != 0:
		return fmt.Errorf("%w: realModeSize %#x is not word aligned", ErrInvalid, l.RealModeSize)
	case l.ProtEnd <= l.ProtOffset:
		return fmt.Errorf("%w: protEnd %#x not above protOffset %#x", ErrInvalid, l.ProtEnd, l.ProtOffset)
	case l.ProtSize()%memory.WordSize != 0:
		return fmt.Errorf("%w: protected size %#x is not word aligned", ErrInvalid, l.ProtSize())
	case l.HeaderPrefix > l.ProtOffset:
		return fmt.Errorf("%w: headerPrefix %#x exceeds protOffset %#x", ErrInvalid, l.HeaderPrefix, l.ProtOffset)
	case l.ProtSkip()%memory.WordSize != 0:
		return fmt.Errorf("%w: protected extent offset %#x is not word aligned", ErrInvalid, l.ProtSkip())
	case l.VerifyAddr%memory.WordSize != 0:
		return fmt.Errorf("%w: verifyAddr %#x is not word aligned", ErrInvalid, l.VerifyAddr)
	}

	return nil
}

// RealModeExtent is the real-mode part of an image staged at image.
func (l Layout) RealModeExtent(image uint64) (memory.Region, error) {
	return memory.NewRegion(image, l.RealModeSize)
}

// ProtectedExtent is the protected-mode part of an image staged at image,
// including the header prefix that precedes the payload.
func (l Layout) ProtectedExtent(image uint64) (memory.Region, error) {
	return memory.NewRegion(image+l.ProtSkip(), l.ProtSize())
}
