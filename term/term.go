package term

import (
	"io"
	"os"

	xterm "golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal. Anything that
// is not an *os.File, such as a buffer, never is.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return xterm.IsTerminal(int(f.Fd()))
}

// Width returns the column count of w, or 0 when unknown.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}

	width, _, err := xterm.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}

	return width
}
