package memory

import (
	"errors"
	"fmt"
)

var ErrOverlap = errors.New("address space occupied")

// AddressSpace records named, mutually disjoint reservations inside a window
// of physical memory.
type AddressSpace struct {
	Name      string
	Window    Region
	Addresses []*Reservation
}

type Reservation struct {
	Name string
	Region
}

func NewAddressSpace(name string, window Region) *AddressSpace {
	return &AddressSpace{
		Name:   name,
		Window: window,
	}
}

// Reserve claims r for name. It fails if r leaves the window or intersects
// an earlier reservation; a failed call leaves the space unchanged.
func (a *AddressSpace) Reserve(name string, r Region) error {
	if !a.InRange(r) {
		return fmt.Errorf("%s %v outside %s %v: %w", name, r, a.Name, a.Window, ErrOutOfRange)
	}

	if holder := a.Holder(r); holder != nil {
		return fmt.Errorf("%s %v overlaps %s %v: %w", name, r, holder.Name, holder.Region, ErrOverlap)
	}

	a.Addresses = append(a.Addresses, &Reservation{Name: name, Region: r})

	return nil
}

func (a *AddressSpace) InRange(r Region) bool {
	return r.Within(a.Window)
}

// Holder returns the first reservation intersecting r, or nil.
func (a *AddressSpace) Holder(r Region) *Reservation {
	for _, res := range a.Addresses {
		if res.Overlaps(r) {
			return res
		}
	}

	return nil
}
