package loader

import (
	"fmt"

	"github.com/bobuhiro11/vlbl/memory"
)

// Status is the outcome of the placement check after copying.
type Status int

const (
	// Verified means the marker found in the image was read back at its
	// relocated address.
	Verified Status = iota
	// NotVerified means the relocated address does not hold the marker.
	// Disjoint regions copied whole always carry the marker across, so
	// Relocate reports it only if the copy itself went wrong.
	NotVerified
	// SignatureNotFound means the protected-mode extent of the image held
	// no marker, so there was nothing to check.
	SignatureNotFound
	// Misplaced means no marker relocated to the address the layout pins.
	Misplaced
)

func (s Status) String() string {
	switch s {
	case Verified:
		return "verified"
	case NotVerified:
		return "not verified"
	case SignatureNotFound:
		return "signature not found"
	case Misplaced:
		return "misplaced"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

type Result struct {
	Status Status
	// Candidates are the source addresses of every marker word in the
	// protected-mode extent, ascending.
	Candidates []uint64
	// VerifyAddr is the address read back: the pinned address when a
	// candidate relocates onto it, else the first candidate's destination.
	VerifyAddr uint64
	Real       memory.Region
	Prot       memory.Region
}

func (r Result) OK() bool {
	return r.Status == Verified
}
