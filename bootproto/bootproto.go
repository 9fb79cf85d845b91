package bootproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	BootProtoMagicSignature = 0x53726448
)

// https://www.kernel.org/doc/html/latest/x86/boot.html
type BootProto struct {
	SetupSects          uint8
	RootFlags           uint16
	SysSize             uint32
	RAMSize             uint16
	VidMode             uint16
	RootDev             uint16
	BootFlag            uint16
	Jump                uint16
	Header              uint32
	Version             uint16
	ReadModeSwitch      uint32
	StartSysSeg         uint16
	KernelVersion       uint16
	TypeOfLoader        uint8
	LoadFlags           uint8
	SetupMoveSize       uint16
	Code32Start         uint32
	RamdiskImage        uint32
	RamdiskSize         uint32
	BootsectKludge      uint32
	HeapEndPtr          uint16
	ExtLoaderVer        uint8
	ExtLoaderType       uint8
	CmdlinePtr          uint32
	InitrdAddrMax       uint32
	KernelAlignment     uint32
	RelocatableKernel   uint8
	MinAlignment        uint8
	XloadFlags          uint16
	CmdlineSize         uint32
	HardwareSubarch     uint32
	HardwareSubarchData uint64
	PayloadOffset       uint32
	PayloadLength       uint32
	SetupData           uint64
	PrefAddress         uint64
	InitSize            uint32
	HandoverOffset      uint32
	KernelInfoOffset    uint32
}

var ErrorSignatureNotMatch = errors.New("signature not match in setup header")

// Offset is where the setup header starts in the image.
const Offset = 0x01F1

// Read decodes the setup header of an image, e.g. one staged in physical
// memory. Only the header is read.
func Read(r io.ReaderAt) (*BootProto, error) {
	b := &BootProto{}

	reader := io.NewSectionReader(r, Offset, int64(binary.Size(b)))
	if err := binary.Read(reader, binary.LittleEndian, b); err != nil {
		return b, fmt.Errorf("read setup header: %w", err)
	}

	if b.Header != BootProtoMagicSignature {
		return b, fmt.Errorf("header %#x: %w", b.Header, ErrorSignatureNotMatch)
	}

	return b, nil
}

// SetupSize is the size of the real-mode setup code including the boot
// sector. A setup_sects of 0 means 4.
func (b *BootProto) SetupSize() uint64 {
	sects := uint64(b.SetupSects)
	if sects == 0 {
		sects = 4
	}

	return (sects + 1) * 512
}

// ProtocolVersion formats Version as major.minor.
func (b *BootProto) ProtocolVersion() string {
	return fmt.Sprintf("%d.%02d", b.Version>>8, b.Version&0xff)
}
