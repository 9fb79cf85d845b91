package serial

// Console is the line printer the loader reports progress through. It is
// write only; nothing printed is ever read back.
type Console struct {
	s *Serial
}

func NewConsole(s *Serial) *Console {
	return &Console{s: s}
}

func (c *Console) putc(b byte) {
	lsr := []byte{0}

	for {
		_ = c.s.In(COM1Addr+5, lsr)
		if lsr[0]&lsrTHREmpty != 0 {
			break
		}
	}

	// A failing sink is latched in Serial.Err; output is best effort.
	_ = c.s.Out(COM1Addr, []byte{b})
}

// Puts prints s followed by a newline.
func (c *Console) Puts(s string) {
	for i := 0; i < len(s); i++ {
		c.putc(s[i])
	}

	c.putc('\n')
}

// PutHex prints v in lowercase hex, zero padded to width digits, with an
// optional 0x prefix. Digits beyond width are never dropped.
func (c *Console) PutHex(v uint64, prefix bool, width int) {
	const digits = "0123456789abcdef"

	if prefix {
		c.putc('0')
		c.putc('x')
	}

	n := 1
	for x := v >> 4; x != 0; x >>= 4 {
		n++
	}

	n = max(n, width)

	for i := n - 1; i >= 0; i-- {
		shift := uint(i * 4)
		if shift >= 64 {
			c.putc('0')

			continue
		}

		c.putc(digits[(v>>shift)&0xf])
	}
}
