// Package cli implements the seraphc command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tinyrange/seraph/internal/compiler"
	"github.com/tinyrange/seraph/internal/config"
	"github.com/tinyrange/seraph/internal/ir/opt"
	"github.com/tinyrange/seraph/internal/lint"
)

// Version is reported by --version.
var Version = "0.1.0"

var _ pflag.Value = (*lint.Level)(nil)

// Options holds the parsed command line.
type Options struct {
	Output  string
	Level   int
	Debug   bool
	Verbose bool
	Target  string
	EmitIR  bool
	EmitAsm bool
	EmitC   bool
	Config  string
	FPULint lint.Level
}

// NewRootCommand creates the seraphc command.
func NewRootCommand() *cobra.Command {
	opts := &Options{FPULint: lint.LevelError}

	cmd := &cobra.Command{
		Use:   "seraphc [flags] FILE",
		Short: "Compile a SERAPH module to a static ELF executable",
		Long: `seraphc compiles a SERAPH module document to a static ELF64 executable
for x86-64, AArch64 or RV64.

The executable carries the module's proof blob, effect declarations,
capability templates and manifest in .seraph.* sections.`,
		Version:       Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}

	opts.bind(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("emit-ir", "emit-asm", "emit-c")

	return cmd
}

// bind registers the command line flags on f.
func (o *Options) bind(f *pflag.FlagSet) {
	f.StringVarP(&o.Output, "output", "o", "a.out", "output path")
	f.IntVarP(&o.Level, "optimize", "O", 0, "optimisation level 0..3")
	f.BoolVarP(&o.Debug, "debug", "g", false, "include source locations")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "verbose progress")
	f.StringVar(&o.Target, "target", "", "backend: x64, arm64 or riscv64 (default from config, else x64)")
	f.BoolVar(&o.EmitIR, "emit-ir", false, "write textual IR and exit")
	f.BoolVar(&o.EmitAsm, "emit-asm", false, "write an assembly listing and exit")
	f.BoolVar(&o.EmitC, "emit-c", false, "write C-transpiled source")
	f.StringVar(&o.Config, "config", "", "YAML build configuration")
	f.Var(&o.FPULint, "fpu-lint", "floating point findings: off, warn or error")
}

// Execute runs seraphc with args and returns the process exit status.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	// a nil slice would make cobra fall back to os.Args
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s %v\n", errorPrefix(isTerminal(stderr)), err)
		return 1
	}
	return 0
}

func runCompile(cmd *cobra.Command, opts *Options, path string) error {
	stderr := cmd.ErrOrStderr()

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("fpu-lint") {
		cfg.FPULint = opts.FPULint
	}

	olevel, err := opt.ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	copts := compiler.Options{
		Target: opts.Target,
		Level:  olevel,
		Debug:  opts.Debug,
		Emit:   opts.emit(),
		Config: cfg,
		Logger: log,
	}
	if opts.Verbose && isTerminal(stderr) {
		copts.Progress = progress(stderr, filepath.Base(path))
	}

	res, err := compiler.CompileFile(path, copts)
	if err != nil {
		return err
	}

	if res.Image == nil && !cmd.Flags().Changed("output") {
		_, err := cmd.OutOrStdout().Write(res.Text)
		return err
	}
	if err := res.WriteOutput(opts.Output); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Debug("wrote output", "path", opts.Output, "emit", copts.Emit)
	return nil
}

func (o *Options) emit() compiler.Emit {
	switch {
	case o.EmitIR:
		return compiler.EmitIR
	case o.EmitAsm:
		return compiler.EmitAsm
	case o.EmitC:
		return compiler.EmitC
	}
	return compiler.EmitELF
}

// progress returns a compiler progress callback drawing a bar on w. The bar
// is created on the first call, when the function count is known.
func progress(w io.Writer, name string) func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription(ansi.Truncate(name, 24, "…")),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
		}
	}
}

func errorPrefix(styled bool) string {
	if !styled {
		return "error:"
	}
	return ansi.Style{}.Bold().Styled("error:")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

