package serial

import (
	"io"
)

const (
	COM1Addr = 0x03f8

	lsrTHREmpty = 0x20
	lsrTEMT     = 0x40
	lcrDLAB     = 0x80
)

// Serial models the transmit side of a 16550 UART at COM1. Bytes written
// to THR go straight to the sink; nothing is ever received.
type Serial struct {
	IER byte
	LCR byte
	DLL byte
	DLM byte

	sink io.Writer
	err  error
}

func New(sink io.Writer) (*Serial, error) {
	s := &Serial{
		IER: 0, LCR: 0,
		DLL:  0xc, // baud rate 9600
		sink: sink,
	}

	return s, nil
}

// Err returns the first error the sink reported.
func (s *Serial) Err() error {
	return s.err
}

func (s *Serial) dlab() bool {
	return s.LCR&lcrDLAB != 0
}

func (s *Serial) In(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && !s.dlab():
		// RBR
		values[0] = 0
	case port == 0 && s.dlab():
		// DLL
		values[0] = s.DLL
	case port == 1 && !s.dlab():
		// IER
		values[0] = s.IER
	case port == 1 && s.dlab():
		// DLM
		values[0] = s.DLM
	case port == 2:
		// IIR, no interrupt pending
		values[0] = 0x1
	case port == 3:
		// LCR
		values[0] = s.LCR
	case port == 5:
		// LSR, transmitter is always idle
		values[0] = lsrTHREmpty | lsrTEMT
	default:
		values[0] = 0
	}

	return nil
}

func (s *Serial) Out(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && !s.dlab():
		// THR
		if s.err != nil {
			return s.err
		}

		if _, err := s.sink.Write(values[:1]); err != nil {
			s.err = err

			return err
		}
	case port == 0 && s.dlab():
		s.DLL = values[0]
	case port == 1 && !s.dlab():
		s.IER = values[0]
	case port == 1 && s.dlab():
		s.DLM = values[0]
	case port == 3:
		s.LCR = values[0]
	}

	return nil
}
