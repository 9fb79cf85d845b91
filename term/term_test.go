package term_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobuhiro11/vlbl/term"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if term.IsTerminal(&bytes.Buffer{}) {
		t.Fatalf("a buffer is not a terminal")
	}

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if term.IsTerminal(f) {
		t.Fatalf("a regular file is not a terminal")
	}

	if term.Width(f) != 0 {
		t.Fatalf("a regular file has no width")
	}
}
