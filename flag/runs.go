package flag

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/vlbl/layout"
	"github.com/bobuhiro11/vlbl/loader"
	"github.com/bobuhiro11/vlbl/memory"
	"github.com/bobuhiro11/vlbl/scan"
	"github.com/bobuhiro11/vlbl/vmm"
	"golang.org/x/sync/errgroup"
)

var errNotVerified = errors.New("relocation not verified")

// Globals are bound into every command's Run.
type Globals struct {
	LayoutFile string `name:"layout" short:"l" help:"boot layout YAML file" type:"existingfile"`
	MemSize    string `name:"mem-size" short:"m" help:"physical memory size as number[gGmMkK], overrides the layout"`
	LogLevel   string `name:"log-level" help:"log level" enum:"debug,info,warn,error" default:"info"`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

type CLI struct {
	Globals

	Relocate RelocateCMD `cmd:"" help:"stage a kernel image and relocate it"`
	Scan     ScanCMD     `cmd:"" help:"report marker words in the protected-mode extent of image files"`
	Inspect  InspectCMD  `cmd:"" help:"show the setup header and relocated entry code of an image"`
	Layout   LayoutCMD   `cmd:"" help:"print the effective boot layout"`
}

type RelocateCMD struct {
	Image    string `arg:"" help:"raw kernel image" type:"existingfile"`
	Source   string `help:"address the image is staged at"`
	RealDest string `name:"real-dest" help:"real-mode segment destination"`
	ProtDest string `name:"prot-dest" help:"protected-mode segment destination"`
	Dump     string `help:"directory to write the relocated segments to" type:"path"`
}

type ScanCMD struct {
	Images []string `arg:"" help:"raw kernel images" type:"existingfile"`
	Whole  bool     `help:"scan the whole file instead of the protected-mode extent"`
}

type InspectCMD struct {
	Image string `arg:"" help:"raw kernel image" type:"existingfile"`
	Count int    `short:"n" help:"instructions to disassemble" default:"8"`
}

type LayoutCMD struct{}

// Parse runs the command line of the process.
func Parse() error {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run parses args and runs the selected command.
func Run(args []string, stdout, stderr io.Writer) error {
	c := CLI{}
	c.Stdout, c.Stderr = stdout, stderr

	programName := "vlbl"
	programDesc := "vlbl relocates a staged kernel image into its boot layout"

	parser, err := kong.New(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel(c.LogLevel),
	})))

	return ctx.Run(&c.Globals)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}

	return l
}

// layout loads the layout file, if any, and applies the memory override.
func (g *Globals) layout() (layout.Layout, error) {
	l := layout.Default()

	if g.LayoutFile != "" {
		var err error
		if l, err = layout.Load(g.LayoutFile); err != nil {
			return l, err
		}
	}

	if g.MemSize != "" {
		memSize, err := ParseSize(g.MemSize, "m")
		if err != nil {
			return l, err
		}

		l.MemSize = uint64(memSize)
	}

	return l, nil
}

func overrideAddr(dst *uint64, s string) error {
	if s == "" {
		return nil
	}

	addr, err := ParseAddr(s)
	if err != nil {
		return err
	}

	*dst = addr

	return nil
}

func (r *RelocateCMD) Run(g *Globals) error {
	l, err := g.layout()
	if err != nil {
		return err
	}

	for _, o := range []struct {
		dst *uint64
		s   string
	}{
		{&l.Source, r.Source},
		{&l.RealDest, r.RealDest},
		{&l.ProtDest, r.ProtDest},
	} {
		if err := overrideAddr(o.dst, o.s); err != nil {
			return err
		}
	}

	v := vmm.New(vmm.Config{
		Image:    r.Image,
		Layout:   l,
		Console:  g.Stdout,
		Progress: g.Stderr,
	})

	if err := v.Init(); err != nil {
		return err
	}
	defer v.Close()

	if err := v.Setup(); err != nil {
		return err
	}

	res, err := v.Boot()
	if err != nil {
		return err
	}

	if r.Dump != "" {
		if err := dumpSegments(v, r.Dump, res); err != nil {
			return err
		}
	}

	if !res.OK() {
		return fmt.Errorf("%w: %s", errNotVerified, res.Status)
	}

	return nil
}

func dumpSegments(v *vmm.VMM, dir string, res loader.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for name, r := range map[string]memory.Region{"real.bin": res.Real, "prot.bin": res.Prot} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}

		if err := v.Dump(f, r); err != nil {
			f.Close()

			return err
		}

		if err := f.Close(); err != nil {
			return err
		}
	}

	return nil
}

func (s *ScanCMD) Run(g *Globals) error {
	l, err := g.layout()
	if err != nil {
		return err
	}

	found := make([][]uint64, len(s.Images))

	var eg errgroup.Group

	eg.SetLimit(4)

	for i, path := range s.Images {
		eg.Go(func() error {
			offs, err := scanFile(path, l, s.Whole)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			found[i] = offs

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	for i, path := range s.Images {
		if len(found[i]) == 0 {
			fmt.Fprintf(g.Stdout, "%s: no marker %#x\n", path, l.Magic)

			continue
		}

		for _, off := range found[i] {
			fmt.Fprintf(g.Stdout, "%s: %#x\n", path, off)
		}
	}

	return nil
}

// scanFile returns the file offsets of marker words in the image. Without
// whole the scan covers the protected-mode extent, clipped to the file.
func scanFile(path string, l layout.Layout, whole bool) ([]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	base := uint64(0)

	if !whole {
		base = min(l.ProtSkip(), uint64(len(data)))
		data = data[base:min(base+l.ProtSize(), uint64(len(data)))]
	}

	return slices.Collect(scan.Words(data, base, l.Magic)), nil
}

func (s *InspectCMD) Run(g *Globals) error {
	l, err := g.layout()
	if err != nil {
		return err
	}

	v := vmm.New(vmm.Config{
		Image:    s.Image,
		Layout:   l,
		Console:  io.Discard,
		Progress: g.Stderr,
	})

	if err := v.Init(); err != nil {
		return err
	}
	defer v.Close()

	if err := v.Setup(); err != nil {
		return err
	}

	if hdr, err := v.Header(); err != nil {
		fmt.Fprintf(g.Stdout, "setup header: %v\n", err)
	} else {
		fmt.Fprintf(g.Stdout, "protocol:     %s\n", hdr.ProtocolVersion())
		fmt.Fprintf(g.Stdout, "setup size:   %#x\n", hdr.SetupSize())
		fmt.Fprintf(g.Stdout, "code32 start: %#x\n", hdr.Code32Start)
		fmt.Fprintf(g.Stdout, "pref address: %#x\n", hdr.PrefAddress)
		fmt.Fprintf(g.Stdout, "init size:    %#x\n", hdr.InitSize)
	}

	res, err := v.Boot()
	if err != nil {
		return err
	}

	fmt.Fprintf(g.Stdout, "real-mode:    %v\n", res.Real)
	fmt.Fprintf(g.Stdout, "prot-mode:    %v\n", res.Prot)
	fmt.Fprintf(g.Stdout, "status:       %s\n", res.Status)

	// The payload proper starts after the header prefix.
	insts, err := v.Disassemble(res.Prot.Base+l.HeaderPrefix, s.Count)
	if err != nil {
		return err
	}

	for _, inst := range insts {
		fmt.Fprintln(g.Stdout, inst)
	}

	return nil
}

func (s *LayoutCMD) Run(g *Globals) error {
	l, err := g.layout()
	if err != nil {
		return err
	}

	data, err := l.Marshal()
	if err != nil {
		return err
	}

	_, err = g.Stdout.Write(data)

	return err
}
