// Package lint enforces the no-floating-point rule on compiled programs:
// calls into the C float library are rejected at the IR level and the
// generated machine code is scanned for FPU and vector instructions.
package lint

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/backend"
)

// Level selects how findings are enforced.
type Level uint8

const (
	LevelOff Level = iota
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelOff:   "off",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("unknown lint level %q (want off, warn or error)", s)
}

// Set and Type make Level usable as a command-line flag.
func (l *Level) Set(s string) error {
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (l *Level) Type() string { return "level" }

func (l *Level) UnmarshalText(b []byte) error { return l.Set(string(b)) }

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ErrFloat is wrapped by the error Enforce returns at LevelError.
var ErrFloat = errors.New("floating point use")

// Finding is one violation. Offset is -1 for IR-level findings.
type Finding struct {
	Function string
	Offset   int
	Loc      ir.Location
	Message  string
}

func (f Finding) String() string {
	var sb strings.Builder
	sb.WriteString(f.Function)
	if f.Offset >= 0 {
		fmt.Fprintf(&sb, "+%#x", f.Offset)
	}
	if f.Loc.IsKnown() {
		fmt.Fprintf(&sb, " (%s)", f.Loc)
	}
	sb.WriteString(": ")
	sb.WriteString(f.Message)
	return sb.String()
}

var floatBase = []string{
	"sin", "cos", "tan", "asin", "acos", "atan", "atan2",
	"sinh", "cosh", "tanh", "asinh", "acosh", "atanh",
	"exp", "exp2", "expm1", "log", "log2", "log10", "log1p",
	"pow", "sqrt", "cbrt", "hypot",
	"floor", "ceil", "round", "trunc", "rint", "nearbyint",
	"fabs", "fmod", "fmin", "fmax", "fma", "fdim", "remainder",
	"frexp", "ldexp", "modf", "scalbn",
	"erf", "erfc", "tgamma", "lgamma",
}

// FloatFunctions holds the C float library names, with their float and
// long double variants, that programs may not call.
var FloatFunctions = func() map[string]bool {
	m := make(map[string]bool, 3*len(floatBase)+4)
	for _, name := range floatBase {
		m[name] = true
		m[name+"f"] = true
		m[name+"l"] = true
	}
	for _, name := range []string{"atof", "strtod", "strtof", "strtold"} {
		m[name] = true
	}
	return m
}()

// CheckModule reports every call to, or address taken of, a float library
// function.
func CheckModule(m *ir.Module) []Finding {
	var out []Finding
	for _, fn := range m.Functions() {
		if fn.External {
			continue
		}
		for _, b := range fn.Blocks() {
			for in := b.First(); in != nil; in = in.Next() {
				if in.Callee != nil && FloatFunctions[in.Callee.Name] {
					out = append(out, Finding{
						Function: fn.Name,
						Offset:   -1,
						Loc:      in.Loc,
						Message:  fmt.Sprintf("%s calls %s", in.Op, in.Callee.Name),
					})
				}
				for _, a := range in.Args {
					if a.Kind == ir.ValueFuncPtr && a.Func != nil && FloatFunctions[a.Func.Name] {
						out = append(out, Finding{
							Function: fn.Name,
							Offset:   -1,
							Loc:      in.Loc,
							Message:  fmt.Sprintf("%s takes the address of %s", in.Op, a.Func.Name),
						})
					}
				}
			}
		}
	}
	return out
}

// ScanOutput scans compiled code and attributes each finding to the
// function or stub containing it.
func ScanOutput(out *backend.Output) []Finding {
	findings := ScanCode(out.Target.Machine, out.Code, out.Instructions)
	for i := range findings {
		findings[i].Function = owner(out, findings[i].Offset)
	}
	return findings
}

func owner(out *backend.Output, off int) string {
	for _, syms := range [][]backend.Symbol{out.Functions, out.Stubs} {
		for _, s := range syms {
			if off >= s.Offset && off < s.Offset+s.Size {
				return s.Name
			}
		}
	}
	if off >= out.Entry && (len(out.Functions) == 0 || off < out.Functions[0].Offset) {
		return "_start"
	}
	return "?"
}

// Enforce applies level to findings: warnings are logged, errors returned.
func Enforce(level Level, findings []Finding, log *slog.Logger) error {
	if level == LevelOff || len(findings) == 0 {
		return nil
	}
	if level == LevelWarn {
		if log == nil {
			log = slog.Default()
		}
		for _, f := range findings {
			log.Warn("floating point use", "function", f.Function, "offset", f.Offset, "detail", f.Message)
		}
		return nil
	}
	msgs := make([]string, len(findings))
	for i, f := range findings {
		msgs[i] = f.String()
	}
	return fmt.Errorf("%w: %s", ErrFloat, strings.Join(msgs, "; "))
}
