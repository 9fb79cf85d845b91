package vmm_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobuhiro11/vlbl/bootproto"
	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/loader"
	"github.com/bobuhiro11/vlbl/memory"
	"github.com/bobuhiro11/vlbl/vmm"
	"github.com/google/go-cmp/cmp"
)

func testLayout() layout.Layout {
	return layout.Layout{
		Source:       0x8000,
		RealDest:     0x1000,
		ProtDest:     0x2000,
		RealModeSize: 0x400,
		ProtOffset:   0x1000,
		HeaderPrefix: 0x100,
		ProtEnd:      0x3000,
		Magic:        layout.DefaultMagic,
		MemSize:      0x10000,
	}
}

// writeImage builds an image with a setup header, three instructions at
// the start of the protected-mode extent and a marker 0x20 bytes in.
func writeImage(t *testing.T, l layout.Layout, size uint64) (string, []byte) {
	t.Helper()

	img := make([]byte, size)

	hdr := &bytes.Buffer{}
	if err := binary.Write(hdr, binary.LittleEndian, &bootproto.BootProto{
		SetupSects: 1,
		Header:     bootproto.BootProtoMagicSignature,
		Version:    0x020f,
	}); err != nil {
		t.Fatal(err)
	}

	copy(img[bootproto.Offset:], hdr.Bytes())

	copy(img[l.ProtSkip():], []byte{0xfc, 0xfa, 0x90}) // cld; cli; nop
	binary.LittleEndian.PutUint32(img[l.ProtSkip()+0x20:], l.Magic)

	path := filepath.Join(t.TempDir(), "kernel.img")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	return path, img
}

func newVMM(t *testing.T, path string, l layout.Layout, console *bytes.Buffer) *vmm.VMM {
	t.Helper()

	v := vmm.New(vmm.Config{
		Image:    path,
		Layout:   l,
		Console:  console,
		Progress: &bytes.Buffer{},
	})

	if err := v.Init(); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = v.Close() })

	return v
}

func TestSetupAndBoot(t *testing.T) {
	t.Parallel()

	l := testLayout()
	path, img := writeImage(t, l, l.ImageSpan())
	console := &bytes.Buffer{}
	v := newVMM(t, path, l, console)

	if err := v.Setup(); err != nil {
		t.Fatal(err)
	}

	hdr, err := v.Header()
	if err != nil {
		t.Fatal(err)
	}

	if hdr.SetupSize() != 0x400 {
		t.Fatalf("invalid setup size: %#x", hdr.SetupSize())
	}

	res, err := v.Boot()
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != loader.Verified {
		t.Fatalf("invalid status: %v", res.Status)
	}

	if !strings.HasSuffix(console.String(), "load OK!\n") {
		t.Fatalf("invalid console output: %q", console.String())
	}

	realSeg := &bytes.Buffer{}
	if err := v.Dump(realSeg, res.Real); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(realSeg.Bytes(), img[:l.RealModeSize]) {
		t.Fatal("real-mode segment differs from the image")
	}

	insts, err := v.Disassemble(l.ProtDest, 3)
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{"0x2000:cld", "0x2001:cli", "0x2002:nop"}
	if diff := cmp.Diff(exp, insts); diff != "" {
		t.Fatalf("unexpected instructions (-want +got):\n%s", diff)
	}
}

func TestSetupTooLarge(t *testing.T) {
	t.Parallel()

	l := testLayout()
	path, _ := writeImage(t, l, l.MemSize-l.Source+0x10)
	v := newVMM(t, path, l, &bytes.Buffer{})

	if err := v.Setup(); !errors.Is(err, memory.ErrOutOfRange) {
		t.Fatalf("oversized image accepted: %v", err)
	}
}

func TestBootTruncatedImage(t *testing.T) {
	t.Parallel()

	l := testLayout()
	path, _ := writeImage(t, l, l.ImageSpan()-0x100)
	v := newVMM(t, path, l, &bytes.Buffer{})

	if err := v.Setup(); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Boot(); !errors.Is(err, loader.ErrImageTooSmall) {
		t.Fatalf("truncated image accepted: %v", err)
	}
}

func TestBootWithoutImage(t *testing.T) {
	t.Parallel()

	v := newVMM(t, "", testLayout(), &bytes.Buffer{})

	if _, err := v.Boot(); err == nil {
		t.Fatal("boot without a staged image succeeded")
	}

	if _, err := v.Header(); err == nil {
		t.Fatal("header of a missing image decoded")
	}

	if err := v.Setup(); err == nil {
		t.Fatal("setup of a missing file succeeded")
	}
}
