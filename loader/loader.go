// Package loader moves a staged kernel image into the places its boot
// protocol expects: the real-mode segment to one address and the
// protected-mode segment to another.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/memory"
	"github.com/bobuhiro11/vlbl/scan"
)

var (
	ErrImageTooSmall      = errors.New("staged image smaller than the layout extents")
	ErrDestinationOverlap = errors.New("relocation regions overlap")
)

// Console is where progress is reported. It is never read back.
type Console interface {
	Puts(s string)
	PutHex(v uint64, prefix bool, width int)
}

// Params locates the staged image and its destinations.
//
// StackEnd, InitramfsAddr and InitramfsSize belong to the boot interface
// but are not consulted: no stack is set up and no initramfs is placed.
// Relocate only logs a warning when they are set.
type Params struct {
	Image     uint64
	ImageSize uint64 // zero if the preceding stage did not report it
	RealDest  uint64
	ProtDest  uint64

	StackEnd      uint64
	InitramfsAddr uint64
	InitramfsSize uint64
}

// ParamsFor returns the Params a layout describes for an image of size
// bytes.
func ParamsFor(l layout.Layout, size uint64) Params {
	return Params{
		Image:     l.Source,
		ImageSize: size,
		RealDest:  l.RealDest,
		ProtDest:  l.ProtDest,
	}
}

// Relocate copies the real-mode and protected-mode segments of the image
// at p.Image to p.RealDest and p.ProtDest, then checks that the marker
// word found in the source landed where it should.
//
// Every region is checked before the first byte is written; an error
// return means memory was not modified. A nil error says nothing about
// placement, which is reported by Result.Status.
func Relocate(m *memory.Memory, p Params, l layout.Layout, out Console) (Result, error) {
	if err := l.Validate(); err != nil {
		return Result{}, err
	}

	warnUnused(p)

	out.Puts("[vlbl] loading kernel...")

	pl, err := newPlan(m, p, l)
	if err != nil {
		return Result{}, err
	}

	res := Result{Real: pl.realDst, Prot: pl.protDst}

	seq, err := scan.Region(m, pl.protSrc, l.Magic)
	if err != nil {
		return Result{}, err
	}

	for addr := range seq {
		out.PutHex(addr, true, 8)

		res.Candidates = append(res.Candidates, addr)
	}

	if err := memory.CopyRegion(m, pl.realDst, pl.realSrc); err != nil {
		return Result{}, fmt.Errorf("real-mode segment: %w", err)
	}

	if err := memory.CopyRegion(m, pl.protDst, pl.protSrc); err != nil {
		return Result{}, fmt.Errorf("protected-mode segment: %w", err)
	}

	res.Status, res.VerifyAddr = verify(m, pl, l, res.Candidates)
	if res.Status == Verified {
		out.Puts("\nload OK!")
	}

	return res, nil
}

// verify reads the marker back after copying. With no pinned address the
// first candidate is checked at its relocated address. A pinned address is
// checked when some candidate relocates onto it; otherwise the marker is
// misplaced and the first candidate's destination is reported.
func verify(m *memory.Memory, pl *plan, l layout.Layout, candidates []uint64) (Status, uint64) {
	if len(candidates) == 0 {
		if l.VerifyAddr != 0 && scan.At(m, l.VerifyAddr, l.Magic) {
			slog.Warn("marker at verify address was not copied from the image",
				"addr", fmt.Sprintf("%#x", l.VerifyAddr))
		}

		return SignatureNotFound, 0
	}

	expected := pl.relocated(candidates[0])

	if l.VerifyAddr != 0 {
		if !pl.protDst.Contains(l.VerifyAddr) || !slices.Contains(candidates, pl.source(l.VerifyAddr)) {
			slog.Warn("no marker relocated to the layout's verify address",
				"expected", fmt.Sprintf("%#x", l.VerifyAddr),
				"landed", fmt.Sprintf("%#x", expected))

			return Misplaced, expected
		}

		expected = l.VerifyAddr
	}

	// Only reachable if the copy did not carry the word across.
	if !scan.At(m, expected, l.Magic) {
		return NotVerified, expected
	}

	return Verified, expected
}

func warnUnused(p Params) {
	if p.StackEnd == 0 && p.InitramfsAddr == 0 && p.InitramfsSize == 0 {
		return
	}

	slog.Warn("stack and initramfs parameters are not consulted",
		"stackEnd", fmt.Sprintf("%#x", p.StackEnd),
		"initramfsAddr", fmt.Sprintf("%#x", p.InitramfsAddr),
		"initramfsSize", p.InitramfsSize)
}

// Debug is a bring-up marker with no effect on relocation.
func Debug(out Console) int {
	out.Puts("debug...")

	return 0
}
