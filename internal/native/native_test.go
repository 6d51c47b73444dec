//go:build linux && amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/tinyrange/seraph/internal/compiler"
	"github.com/tinyrange/seraph/internal/config"
	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/ir/interp"
	"github.com/tinyrange/seraph/internal/ir/irdoc"
	"github.com/tinyrange/seraph/internal/ir/irtest"

	_ "github.com/tinyrange/seraph/internal/ir/amd64"
)

func load(t *testing.T, m *ir.Module) *Image {
	t.Helper()
	tgt, err := backend.Lookup("x64")
	if err != nil {
		t.Fatal(err)
	}
	out, err := backend.Compile(m, tgt, backend.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	im, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { im.Close() })
	return im
}

func call(t *testing.T, im *Image, name string, args ...uint64) uint64 {
	t.Helper()
	got, err := im.Call(name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return got
}

func TestReturn42(t *testing.T) {
	im := load(t, irtest.New(t).Return42())
	if got := call(t, im, "main"); got != 42 {
		t.Fatalf("main() = %d, want 42", got)
	}
}

func TestVoidDivide(t *testing.T) {
	im := load(t, irtest.New(t).VoidDivide())
	if got := call(t, im, "divide", 5); got != ir.VoidBits {
		t.Fatalf("divide(5) = %#x, want VOID", got)
	}
}

func TestCalls(t *testing.T) {
	im := load(t, irtest.New(t).Calls())
	if got := call(t, im, "main"); got != 72 {
		t.Fatalf("main() = %d, want 72", got)
	}
	if got := call(t, im, "add3", 1, 10, 100); got != 111 {
		t.Fatalf("add3 = %d", got)
	}
}

// Only the exact VOID image is VOID. Other negative values, the one next to
// it included, are ordinary integers.
func TestNegativeIsNotVoid(t *testing.T) {
	im := load(t, irtest.New(t).Calls())
	neg := func(n int64) uint64 { return uint64(n) }
	if got := call(t, im, "add3", neg(-10), 1, 2); int64(got) != -7 {
		t.Fatalf("add3(-10, 1, 2) = %d, want -7", int64(got))
	}
	if got := call(t, im, "add3", 1, neg(-1<<62), neg(-1<<62)); got != ir.VoidBits+1 {
		t.Fatalf("add3(1, -2^62, -2^62) = %#x, want %#x", got, ir.VoidBits+1)
	}
	if got := call(t, im, "add3", ir.VoidBits, 1, 2); got != ir.VoidBits {
		t.Fatalf("add3(VOID, 1, 2) = %#x, want VOID", got)
	}
}

// Compiled code and the reference evaluator agree wherever no VOID arises.
func TestMatchesInterpreter(t *testing.T) {
	m := irtest.New(t).LoopSum()
	im := load(t, m)
	mc := interp.New(m, interp.Options{})
	for n := uint64(0); n < 64; n++ {
		want, err := mc.Call("sum", n)
		if err != nil {
			t.Fatalf("interp sum(%d): %v", n, err)
		}
		if got := call(t, im, "sum", n); got != want {
			t.Fatalf("sum(%d) = %d, interpreter says %d", n, got, want)
		}
	}
}

func TestRefusals(t *testing.T) {
	m := irtest.New(t).Capabilities()
	tgt, _ := backend.Lookup("x64")
	out, err := backend.Compile(m, tgt, backend.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(out); !errors.Is(err, ErrContext) {
		t.Fatalf("Load(capabilities) = %v, want ErrContext", err)
	}

	arm, _ := backend.Lookup("arm64")
	out, err = backend.Compile(irtest.New(t).Return42(), arm, backend.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(out); !errors.Is(err, ErrMachine) {
		t.Fatalf("Load(arm64) = %v, want ErrMachine", err)
	}

	im := load(t, irtest.New(t).Return42())
	if _, err := im.Call("missing"); err == nil {
		t.Fatalf("call of a missing function succeeded")
	}
	if _, err := im.Call("main", 1, 2, 3, 4, 5, 6, 7); err == nil {
		t.Fatalf("seven arguments accepted")
	}
	im.Close()
	if _, err := im.Call("main"); err == nil {
		t.Fatalf("call after Close succeeded")
	}
}

// runExecutable links res to a temporary file, runs it and returns its
// wait status. It skips when the temporary directory cannot execute.
func runExecutable(t *testing.T, res *compiler.Result) syscall.WaitStatus {
	t.Helper()
	path := filepath.Join(t.TempDir(), res.Module)
	if err := res.WriteOutput(path); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command(path)
	err := cmd.Run()
	var exit *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exit):
		return cmd.ProcessState.Sys().(syscall.WaitStatus)
	case errors.Is(err, os.ErrPermission):
		t.Skipf("temporary directory is not executable: %v", err)
	default:
		t.Fatalf("run: %v", err)
	}
	return 0
}

func compileModule(t *testing.T, m *ir.Module) *compiler.Result {
	t.Helper()
	res, err := compiler.Compile(m, nil, compiler.Options{Config: config.Default()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

// The linked executable exits with main's result.
func TestExecutableExitStatus(t *testing.T) {
	doc, err := irdoc.Parse([]byte(`
module: answer
functions:
  - name: main
    returns: i64
    blocks:
      - name: entry
        instrs:
          - {op: const, def: c, type: i64, args: [42]}
          - {op: ret, args: [c]}
`))
	if err != nil {
		t.Fatal(err)
	}
	res, err := compiler.CompileDocument(doc, compiler.Options{Config: config.Default()})
	if err != nil {
		t.Fatalf("CompileDocument: %v", err)
	}
	if ws := runExecutable(t, res); !ws.Exited() || ws.ExitStatus() != 42 {
		t.Fatalf("wait status %#x, want exit 42", ws)
	}
}

func TestStringLength(t *testing.T) {
	m := irtest.New(t).StringLength()
	want, err := interp.New(m, interp.Options{}).Call("main")
	if err != nil {
		t.Fatalf("interp: %v", err)
	}
	if got := call(t, load(t, m), "main"); got != 6 || got != want {
		t.Fatalf("main() = %d, interpreter says %d, want 6", got, want)
	}
}

// Every galactic component computed natively matches the reference
// arithmetic, including the mixed ε1ε2 terms of the product.
func TestGalacticMatchesInterpreter(t *testing.T) {
	m := irtest.New(t).Galactic()
	im := load(t, m)
	mc := interp.New(m, interp.Options{})

	names := []string{"predict"}
	for k := 0; k < 4; k++ {
		names = append(names, fmt.Sprintf("add%d", k), fmt.Sprintf("mul%d", k))
	}
	inputs := [][2]int64{{0, 0}, {3, 4}, {-5, 2}, {7, -11}, {-3, -9}, {1000, 1}, {12, 365}}
	for _, name := range names {
		for _, in := range inputs {
			x, y := uint64(in[0]), uint64(in[1])
			want, err := mc.Call(name, x, y)
			if err != nil {
				t.Fatalf("interp %s%v: %v", name, in, err)
			}
			if got := call(t, im, name, x, y); got != want {
				t.Errorf("%s%v = %d, interpreter says %d", name, in, int64(got), int64(want))
			}
		}
	}

	// x·x + y·y with no ε1·ε1 contribution
	if got := int64(call(t, im, "mul2", 3, 4)); got != 25 {
		t.Fatalf("mul2(3, 4) = %d, want 25", got)
	}
}

// Stores and loads through a capability over stack memory succeed within
// its bounds and read back VOID beyond them or after revocation.
func TestCapabilityExitStatus(t *testing.T) {
	for _, tt := range []struct {
		name        string
		store, load uint64
		revoke      bool
		want        int
	}{
		{"first word", 0, 0, false, 7},
		{"second word", 8, 8, false, 7},
		{"past the end", irtest.CapLength, irtest.CapLength, false, irtest.CapMissed},
		{"revoked", 0, 0, true, irtest.CapMissed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := irtest.New(t).CapRoundTrip(tt.store, tt.load, tt.revoke)
			res := compileModule(t, m)
			if !res.Output.UsesContext {
				t.Fatalf("capability module does not use the context block")
			}
			if ws := runExecutable(t, res); !ws.Exited() || ws.ExitStatus() != tt.want {
				t.Fatalf("wait status %#x, want exit %d", ws, tt.want)
			}
		})
	}
}

// Galactic division is a substrate runtime call. Without a runtime linked
// in, the executable stops at the trap stub.
func TestGalacticDivideTraps(t *testing.T) {
	m := irtest.New(t).GalacticQuotient()
	want, err := interp.New(m, interp.Options{}).Call("main")
	if err != nil || want != 2 {
		t.Fatalf("interp main() = %d, %v, want 2", want, err)
	}

	res := compileModule(t, m)
	if len(res.Output.Stubs) != 1 || res.Output.Stubs[0].Name != "seraph_galactic_div" {
		t.Fatalf("stubs = %+v, want seraph_galactic_div", res.Output.Stubs)
	}
	if ws := runExecutable(t, res); !ws.Signaled() || ws.Signal() != syscall.SIGILL {
		t.Fatalf("wait status %#x, want SIGILL", ws)
	}
}
