// Package vmm hosts a relocation run: it allocates physical memory, stages
// a kernel image the way the preceding boot stage would, and hands over to
// the loader.
package vmm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bobuhiro11/vlbl/bootproto"
	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/loader"
	"github.com/bobuhiro11/vlbl/memory"
	"github.com/bobuhiro11/vlbl/serial"
	"github.com/bobuhiro11/vlbl/term"
	"github.com/schollz/progressbar/v3"
)

var (
	errNotInitialized = errors.New("memory not initialized")
	errNotStaged      = errors.New("no image staged")
)

type Config struct {
	// Image is the raw kernel image file staged at Layout.Source.
	Image  string
	Layout layout.Layout
	// Console receives the loader's serial output.
	Console io.Writer
	// Progress receives the staging progress bar when it is a terminal.
	Progress io.Writer
}

type VMM struct {
	Config

	mem       *memory.Memory
	serial    *serial.Serial
	imageSize uint64
}

func New(c Config) *VMM {
	if c.Console == nil {
		c.Console = io.Discard
	}

	if c.Progress == nil {
		c.Progress = io.Discard
	}

	return &VMM{Config: c}
}

// Init allocates physical memory and the console UART.
func (v *VMM) Init() error {
	if err := v.Layout.Validate(); err != nil {
		return err
	}

	m, err := memory.New(int(v.Layout.MemSize))
	if err != nil {
		return err
	}

	s, err := serial.New(v.Console)
	if err != nil {
		_ = m.Close()

		return err
	}

	v.mem, v.serial = m, s

	slog.Debug("physical memory ready", "size", fmt.Sprintf("%#x", m.Size()))

	return nil
}

// Memory returns the physical memory, nil before Init.
func (v *VMM) Memory() *memory.Memory {
	return v.mem
}

// Setup copies the image file into memory at Layout.Source.
func (v *VMM) Setup() error {
	if v.mem == nil {
		return errNotInitialized
	}

	f, err := os.Open(v.Image)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	size := uint64(fi.Size())
	if v.Layout.Source+size < v.Layout.Source || v.Layout.Source+size > v.mem.Size() {
		return fmt.Errorf("image of %#x bytes at %#x does not fit in RAM of %#x: %w",
			size, v.Layout.Source, v.mem.Size(), memory.ErrOutOfRange)
	}

	var w io.Writer = io.NewOffsetWriter(v.mem, int64(v.Layout.Source))

	if term.IsTerminal(v.Progress) {
		bar := progressbar.NewOptions64(int64(size),
			progressbar.OptionSetWriter(v.Progress),
			progressbar.OptionSetDescription("staging "+fi.Name()),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(max(10, term.Width(v.Progress)/3)),
			progressbar.OptionClearOnFinish())
		defer bar.Close()

		w = io.MultiWriter(w, bar)
	}

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stage %s: %w", v.Image, err)
	}

	v.imageSize = size

	slog.Info("image staged", "path", v.Image,
		"addr", fmt.Sprintf("%#x", v.Layout.Source), "size", fmt.Sprintf("%#x", size))

	v.checkHeader()

	return nil
}

// checkHeader logs what the setup header says about the staged image. A
// missing header is not an error: raw images need not carry one.
func (v *VMM) checkHeader() {
	hdr, err := v.Header()
	if err != nil {
		slog.Debug("no setup header in staged image", "err", err)

		return
	}

	slog.Info("setup header", "protocol", hdr.ProtocolVersion(),
		"setupSize", fmt.Sprintf("%#x", hdr.SetupSize()))

	if hdr.SetupSize() > v.Layout.RealModeSize {
		slog.Warn("setup code is larger than the real-mode segment",
			"setupSize", fmt.Sprintf("%#x", hdr.SetupSize()),
			"realModeSize", fmt.Sprintf("%#x", v.Layout.RealModeSize))
	}
}

// Header decodes the setup header of the staged image.
func (v *VMM) Header() (*bootproto.BootProto, error) {
	if v.imageSize == 0 {
		return nil, errNotStaged
	}

	return bootproto.Read(io.NewSectionReader(v.mem, int64(v.Layout.Source), int64(v.imageSize)))
}

// Boot relocates the staged image.
func (v *VMM) Boot() (loader.Result, error) {
	if v.mem == nil {
		return loader.Result{}, errNotInitialized
	}

	if v.imageSize == 0 {
		return loader.Result{}, errNotStaged
	}

	res, err := loader.Relocate(v.mem, loader.ParamsFor(v.Layout, v.imageSize), v.Layout,
		serial.NewConsole(v.serial))
	if err != nil {
		return res, err
	}

	if err := v.serial.Err(); err != nil {
		slog.Warn("console output lost", "err", err)
	}

	slog.Info("relocation finished", "status", res.Status.String(),
		"candidates", len(res.Candidates), "verifyAddr", fmt.Sprintf("%#x", res.VerifyAddr),
		"real", res.Real.String(), "prot", res.Prot.String())

	return res, nil
}

// Dump writes the bytes of r to w.
func (v *VMM) Dump(w io.Writer, r memory.Region) error {
	if v.mem == nil {
		return errNotInitialized
	}

	b, err := v.mem.Bytes(r)
	if err != nil {
		return err
	}

	_, err = w.Write(b)

	return err
}

func (v *VMM) Close() error {
	if v.mem == nil {
		return nil
	}

	err := v.mem.Close()
	v.mem = nil

	return err
}
