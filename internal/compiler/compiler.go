// Package compiler drives a module from its document form to an ELF
// executable: build, verify, lint, optimise, generate code and write.
package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/seraph/internal/config"
	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/ir/irdoc"
	"github.com/tinyrange/seraph/internal/ir/opt"
	"github.com/tinyrange/seraph/internal/lint"
	"github.com/tinyrange/seraph/internal/proof"

	_ "github.com/tinyrange/seraph/internal/ir/amd64"
	_ "github.com/tinyrange/seraph/internal/ir/arm64"
	_ "github.com/tinyrange/seraph/internal/ir/riscv"
)

// Emit selects what the pipeline produces.
type Emit uint8

const (
	EmitELF Emit = iota
	EmitIR
	EmitAsm
	EmitC
)

func (e Emit) String() string {
	switch e {
	case EmitIR:
		return "ir"
	case EmitAsm:
		return "asm"
	case EmitC:
		return "c"
	}
	return "elf"
}

// ErrUnsupported is returned for outputs this compiler does not produce.
var ErrUnsupported = errors.New("not supported")

// Options controls one compilation.
type Options struct {
	// Target overrides Config.Target when set.
	Target string
	Level  opt.Level
	// Debug keeps source locations in the IR and assembly outputs.
	Debug  bool
	Emit   Emit
	Config config.Config
	Logger *slog.Logger
	// Progress is called as functions are compiled.
	Progress func(done, total int)
}

// Result is a finished compilation. Image holds the executable for
// EmitELF; Text holds the IR or listing for the textual outputs.
type Result struct {
	Module   string
	Target   string
	Image    []byte
	Text     []byte
	Entry    uint64
	Output   *backend.Output
	Opt      opt.Stats
	Findings []lint.Finding
	Proofs   int
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// CompileFile reads the module document at path and compiles it. The
// input must be a regular file.
func CompileFile(path string, opts Options) (*Result, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	doc, err := irdoc.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return CompileDocument(doc, opts)
}

// CompileDocument lowers doc and compiles the result.
func CompileDocument(doc *irdoc.Document, opts Options) (*Result, error) {
	if opts.Emit == EmitC {
		return nil, fmt.Errorf("--emit-c: C transpilation is %w by this compiler", ErrUnsupported)
	}
	tab, err := irdoc.ProofTable(doc)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", doc.Module, err)
	}
	m, err := irdoc.Build(doc, irdoc.Options{Logger: opts.logger()})
	if err != nil {
		return nil, err
	}
	defer m.Destroy()
	return Compile(m, tab, opts)
}

// Compile runs the pipeline on m. The optimiser rewrites m in place.
func Compile(m *ir.Module, tab *proof.Table, opts Options) (*Result, error) {
	log := opts.logger().With("module", m.Name)
	cfg := opts.Config
	if opts.Emit == EmitC {
		return nil, fmt.Errorf("--emit-c: C transpilation is %w by this compiler", ErrUnsupported)
	}

	name := opts.Target
	if name == "" {
		name = cfg.Target
	}
	if name == "" {
		name = config.DefaultTarget
	}
	tgt, err := backend.Lookup(name)
	if err != nil {
		return nil, err
	}

	if err := ir.Verify(m); err != nil {
		return nil, err
	}
	res := &Result{Module: m.Name, Target: tgt.Name, Proofs: tab.Len()}

	res.Findings = lint.CheckModule(m)
	if err := lint.Enforce(cfg.FPULint, res.Findings, log); err != nil {
		return nil, err
	}

	res.Opt = opt.Run(m, opts.Level, log)
	log.Debug("optimised", "level", opts.Level, "folded", res.Opt.Folded, "eliminated", res.Opt.Eliminated)
	if err := ir.Verify(m); err != nil {
		return nil, fmt.Errorf("after optimisation: %w", err)
	}

	if opts.Emit == EmitIR {
		var buf bytes.Buffer
		if err := ir.Fprint(&buf, m, ir.PrintOptions{Locations: opts.Debug}); err != nil {
			return nil, err
		}
		res.Text = buf.Bytes()
		return res, nil
	}

	total := 0
	for _, fn := range m.Functions() {
		if !fn.External {
			total++
		}
	}
	bopts := backend.Options{Logger: log, Entry: cfg.Entry}
	if opts.Progress != nil {
		done := 0
		bopts.Progress = func(string) {
			done++
			opts.Progress(done, total)
		}
	}
	out, err := backend.Compile(m, tgt, bopts)
	if err != nil {
		return nil, err
	}
	res.Output = out

	code := lint.ScanOutput(out)
	res.Findings = append(res.Findings, code...)
	if err := lint.Enforce(cfg.FPULint, code, log); err != nil {
		return nil, err
	}

	w, err := link(m, out, tab, cfg)
	if err != nil {
		return nil, err
	}
	res.Entry = w.EntryAddress()

	if opts.Emit == EmitAsm {
		listing := *out
		if !opts.Debug {
			listing.Listing = make([]backend.ListingEntry, len(out.Listing))
			for i, e := range out.Listing {
				e.Loc = ir.Location{}
				listing.Listing[i] = e
			}
		}
		var buf bytes.Buffer
		if err := listing.WriteListing(&buf, w.Layout().Text); err != nil {
			return nil, err
		}
		res.Text = buf.Bytes()
		return res, nil
	}

	res.Image, err = w.Bytes()
	if err != nil {
		return nil, err
	}
	log.Info("linked executable",
		"target", tgt.Name,
		"bytes", len(res.Image),
		"entry", fmt.Sprintf("%#x", res.Entry),
		"proofs", res.Proofs)
	return res, nil
}

// WriteOutput stores the result at path: executables with mode 0755,
// textual outputs with 0644.
func (r *Result) WriteOutput(path string) error {
	if r.Image == nil {
		return os.WriteFile(path, r.Text, 0o644)
	}
	if err := os.WriteFile(path, r.Image, 0o755); err != nil {
		return err
	}
	// an existing file keeps its mode
	return os.Chmod(path, 0o755)
}
