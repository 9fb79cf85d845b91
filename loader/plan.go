package loader

import (
	"fmt"

	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/memory"
)

// plan is the validated set of regions one relocation touches.
type plan struct {
	realSrc, realDst memory.Region
	protSrc, protDst memory.Region
}

func newPlan(m *memory.Memory, p Params, l layout.Layout) (*plan, error) {
	var (
		pl  plan
		err error
	)

	if pl.realSrc, err = l.RealModeExtent(p.Image); err != nil {
		return nil, fmt.Errorf("real-mode extent: %w", err)
	}

	if pl.protSrc, err = l.ProtectedExtent(p.Image); err != nil {
		return nil, fmt.Errorf("protected-mode extent: %w", err)
	}

	if pl.realDst, err = memory.NewRegion(p.RealDest, pl.realSrc.Len); err != nil {
		return nil, fmt.Errorf("real-mode destination: %w", err)
	}

	if pl.protDst, err = memory.NewRegion(p.ProtDest, pl.protSrc.Len); err != nil {
		return nil, fmt.Errorf("protected-mode destination: %w", err)
	}

	if p.ImageSize != 0 && p.ImageSize < l.ImageSpan() {
		return nil, fmt.Errorf("image of %#x bytes at %#x needs %#x: %w",
			p.ImageSize, p.Image, l.ImageSpan(), ErrImageTooSmall)
	}

	image, err := memory.NewRegion(p.Image, l.ImageSpan())
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}

	if err := pl.reserve(m, image); err != nil {
		return nil, err
	}

	return &pl, nil
}

// reserve places the image and both destinations in one address space so
// that any pair that intersects, or any region outside RAM, is caught
// before copying. The two source extents are views of the image and are
// not checked against each other.
func (pl *plan) reserve(m *memory.Memory, image memory.Region) error {
	as := memory.NewAddressSpace("phys-ram", m.Region())

	for _, r := range []struct {
		name string
		memory.Region
	}{
		{"image", image},
		{"real-mode destination", pl.realDst},
		{"protected-mode destination", pl.protDst},
	} {
		if !as.InRange(r.Region) {
			return fmt.Errorf("%s %v outside RAM %v: %w", r.name, r.Region, m.Region(), memory.ErrOutOfRange)
		}

		if err := as.Reserve(r.name, r.Region); err != nil {
			return fmt.Errorf("%w: %w", ErrDestinationOverlap, err)
		}
	}

	return nil
}

// relocated maps a protected-mode source address to its destination.
func (pl *plan) relocated(src uint64) uint64 {
	return pl.protDst.Base + (src - pl.protSrc.Base)
}

// source maps a protected-mode destination address back to the image.
func (pl *plan) source(dst uint64) uint64 {
	return pl.protSrc.Base + (dst - pl.protDst.Base)
}
