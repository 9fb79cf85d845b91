package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

var ErrOutOfRange = errors.New("address out of physical memory")

// Memory is a flat physical RAM starting at address 0.
//
// The backing store is an anonymous shared mapping, the same way guest RAM
// is allocated for a VM, so large layouts do not live on the Go heap.
type Memory struct {
	buf []byte
}

func New(size int) (*Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory size %d: %w", size, ErrOutOfRange)
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %#x bytes: %w", size, err)
	}

	return &Memory{buf: buf}, nil
}

// Close unmaps the RAM. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.buf == nil {
		return nil
	}

	err := unix.Munmap(m.buf)
	m.buf = nil

	return err
}

func (m *Memory) Size() uint64 {
	return uint64(len(m.buf))
}

// Region returns the whole RAM as a region.
func (m *Memory) Region() Region {
	return Region{Base: 0, Len: m.Size()}
}

// Bytes returns the live backing bytes of r. Writes through the slice
// modify physical memory.
func (m *Memory) Bytes(r Region) ([]byte, error) {
	if !r.Within(m.Region()) {
		return nil, fmt.Errorf("%v outside RAM %v: %w", r, m.Region(), ErrOutOfRange)
	}

	return m.buf[r.Base:r.End():r.End()], nil
}

func (m *Memory) ReadWord(addr uint64) (uint32, error) {
	if addr+WordSize < addr || addr+WordSize > m.Size() {
		return 0, fmt.Errorf("word at %#x: %w", addr, ErrOutOfRange)
	}

	return binary.LittleEndian.Uint32(m.buf[addr:]), nil
}

func (m *Memory) WriteWord(addr uint64, v uint32) error {
	if addr+WordSize < addr || addr+WordSize > m.Size() {
		return fmt.Errorf("word at %#x: %w", addr, ErrOutOfRange)
	}

	binary.LittleEndian.PutUint32(m.buf[addr:], v)

	return nil
}

// ReadAt implements io.ReaderAt over physical addresses.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) > m.Size() {
		return 0, fmt.Errorf("read at %#x: %w", off, ErrOutOfRange)
	}

	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt over physical addresses. Writes past the
// end of RAM are rejected without touching memory.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > m.Size() {
		return 0, fmt.Errorf("write %#x bytes at %#x: %w", len(p), off, ErrOutOfRange)
	}

	return copy(m.buf[off:], p), nil
}
