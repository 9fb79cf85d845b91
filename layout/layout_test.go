package layout_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/memory"
	"github.com/google/go-cmp/cmp"
)

func TestDefaultExtents(t *testing.T) {
	t.Parallel()

	l := layout.Default()
	if err := l.Validate(); err != nil {
		t.Fatal(err)
	}

	realExt, err := l.RealModeExtent(0x4000000)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(memory.Region{Base: 0x4000000, Len: 0x5000}, realExt); diff != "" {
		t.Fatalf("real-mode extent (-want +got):\n%s", diff)
	}

	prot, err := l.ProtectedExtent(0x4000000)
	if err != nil {
		t.Fatal(err)
	}

	exp := memory.Region{Base: 0x4000000 + 0x100000 - 0x1000, Len: 0x2000000 - 0x100000}
	if diff := cmp.Diff(exp, prot); diff != "" {
		t.Fatalf("protected-mode extent (-want +got):\n%s", diff)
	}

	if l.ImageSpan() != 0x1fff000 {
		t.Fatalf("invalid image span: %#x", l.ImageSpan())
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	l, err := layout.Parse([]byte("protDest: 0x200000\nmagic: 0xdeadbeef\nverifyAddr: 0\n"))
	if err != nil {
		t.Fatal(err)
	}

	exp := layout.Default()
	exp.ProtDest = 0x200000
	exp.Magic = 0xdeadbeef
	exp.VerifyAddr = 0

	if diff := cmp.Diff(exp, l); diff != "" {
		t.Fatalf("unexpected layout (-want +got):\n%s", diff)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		data string
	}{
		{name: "unaligned real size", data: "realModeSize: 0x5001\n"},
		{name: "zero real size", data: "realModeSize: 0\n"},
		{name: "inverted protected extent", data: "protEnd: 0x1000\n"},
		{name: "prefix past offset", data: "headerPrefix: 0x200000\n"},
		{name: "unaligned verify address", data: "verifyAddr: 0x132002\n"},
	} {
		if _, err := layout.Parse([]byte(tt.data)); !errors.Is(err, layout.ErrInvalid) {
			t.Errorf("%s: got %v", tt.name, err)
		}
	}

	if _, err := layout.Parse([]byte("source: [1, 2]\n")); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	l := layout.Default()
	l.RealDest = 0x10000

	data, err := l.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := layout.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(l, got); diff != "" {
		t.Fatalf("loaded layout differs (-want +got):\n%s", diff)
	}

	if _, err := layout.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
