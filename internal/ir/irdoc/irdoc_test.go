package irdoc

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/seraph/internal/arena"
	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/interp"
	"github.com/tinyrange/seraph/internal/proof"
)

func load(t *testing.T, name string) *ir.Module {
	t.Helper()
	doc, err := Load(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	m, err := Build(doc, Options{})
	if err != nil {
		t.Fatalf("Build(%s): %v", name, err)
	}
	t.Cleanup(m.Destroy)
	if err := ir.Verify(m); err != nil {
		t.Fatalf("Verify(%s): %v", name, err)
	}
	return m
}

func build(t *testing.T, src string) (*ir.Module, error) {
	t.Helper()
	doc, err := Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	m, err := Build(doc, Options{})
	if err == nil {
		t.Cleanup(m.Destroy)
	}
	return m, err
}

func run(t *testing.T, m *ir.Module, fn string, args ...uint64) uint64 {
	t.Helper()
	got, err := interp.New(m, interp.Options{}).Call(fn, args...)
	if err != nil {
		t.Fatalf("%s: %v", fn, err)
	}
	return got
}

func TestReturn42(t *testing.T) {
	m := load(t, "return42.yaml")
	if got := run(t, m, "main"); got != 42 {
		t.Fatalf("main() = %d, want 42", got)
	}
	entry := m.Function("main").Blocks()[0]
	if loc := entry.First().Loc; loc.Line != 1 || loc.Column != 5 {
		t.Fatalf("location = %v", loc)
	}
}

func TestLoopWithForwardPhis(t *testing.T) {
	m := load(t, "loop.yaml")
	for n, want := range map[uint64]uint64{0: 0, 1: 0, 10: 45, 100: 4950} {
		if got := run(t, m, "sum", n); got != want {
			t.Fatalf("sum(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestCallsReferToLaterFunctions(t *testing.T) {
	m := load(t, "calls.yaml")
	if got := run(t, m, "main"); got != 36 {
		t.Fatalf("main() = %d, want 36", got)
	}
}

func TestVoidDivide(t *testing.T) {
	m, err := build(t, `
module: voiddiv
functions:
  - name: divide
    returns: i64
    params: [i64]
    blocks:
      - name: entry
        instrs:
          - {op: add, def: s, args: ["%0", 1]}
          - {op: div, def: q, args: [s, 0]}
          - {op: ret, args: [q]}
`)
	if err != nil {
		t.Fatal(err)
	}
	if got := run(t, m, "divide", 5); got != ir.VoidBits {
		t.Fatalf("divide(5) = %#x, want VOID", got)
	}
}

func TestGlobalsAndLiteralTypes(t *testing.T) {
	m, err := build(t, `
module: globals
types:
  - name: pair
    struct: [{name: lo, type: u32}, {name: hi, type: u32}]
globals:
  - {name: counter, type: i64, init: 7}
  - {name: greeting, type: "[4 x u8]", data: 'hi\n'}
  - {name: p, type: "%pair"}
functions:
  - name: main
    returns: i64
    effects: [read, write]
    blocks:
      - name: entry
        instrs:
          - {op: load, def: v, args: [{global: counter}], type: i64}
          - {op: store, args: [{global: counter}, 5]}
          - {op: load, def: w, args: [{global: counter}], type: i64}
          - {op: add, def: r, args: [v, w]}
          - {op: ret, args: [r]}
`)
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatal(err)
	}
	if got := run(t, m, "main"); got != 12 {
		t.Fatalf("main() = %d, want 12", got)
	}
	if g := m.Globals[1]; string(g.Init) != "hi\n" {
		t.Fatalf("greeting init = %q", g.Init)
	}
	if g := m.Globals[2]; g.Type.Kind != ir.TypeStruct || g.Type.Size() != 8 {
		t.Fatalf("pair global type = %s", g.Type)
	}
}

func TestLiteralTakesOperandType(t *testing.T) {
	m, err := build(t, `
module: narrow
functions:
  - name: f
    returns: u8
    params: [u8]
    blocks:
      - name: entry
        instrs:
          - {op: add, def: x, args: ["%0", 1]}
          - {op: ret, args: [x]}
  - name: g
    returns: u16
    blocks:
      - name: entry
        instrs:
          - {op: ret, args: [300]}
`)
	if err != nil {
		t.Fatal(err)
	}
	in := m.Function("f").Blocks()[0].First()
	if in.Args[1].Type.Kind != ir.TypeU8 {
		t.Fatalf("literal typed %s, want u8", in.Args[1].Type)
	}
	if got := run(t, m, "g"); got != 300 {
		t.Fatalf("g() = %d", got)
	}
}

func TestTypeSyntax(t *testing.T) {
	m, err := ir.NewModule("types", arena.New(1<<20))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Destroy()
	l := &lowerer{m: m, types: make(map[string]*ir.Type)}
	pt := TypeDecl{Name: "pt", Struct: []FieldDecl{{Name: "x", Type: "i64"}, {Name: "y", Type: "i64"}}}
	if err := l.declareTypes([]TypeDecl{pt}); err != nil {
		t.Fatal(err)
	}

	for in, want := range map[string]string{
		"i64":                              "i64",
		"*u8":                              "*u8",
		"[]i32":                            "[]i32",
		"??i64":                            "??i64",
		"[4 x u8]":                         "[4 x u8]",
		"pt":                               "%pt",
		"*[2 x %pt]":                       "*[2 x %pt]",
		"fn(i64, *u8) -> i64":              "fn(i64, *u8) -> i64",
		"fn() -> void effects{read,write}": "fn() -> void effects{read,write}",
	} {
		got, err := l.parseType(in)
		if err != nil {
			t.Fatalf("parseType(%q): %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("parseType(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "banana", "[4]u8", "fn(i64 -> i64", "fn(i64)", "fn() -> void effects{glow}"} {
		if _, err := l.parseType(bad); err == nil {
			t.Fatalf("parseType(%q) succeeded", bad)
		}
	}
	if err := l.declareTypes([]TypeDecl{pt}); err == nil {
		t.Fatalf("duplicate type accepted")
	}
}

func TestErrors(t *testing.T) {
	const head = "module: bad\nfunctions:\n  - name: main\n    returns: i64\n    blocks:\n      - name: entry\n        instrs:\n"
	tests := []struct {
		body string
		want string
	}{
		{`{op: ret, args: [x]}`, `undefined value "x"`},
		{`{op: frobnicate}`, `instr 0 (frobnicate): unknown op "frobnicate"`},
		{`{op: jump, targets: [nowhere]}`, `undefined block "nowhere"`},
		{`{op: add, args: [1]}`, "takes 2 operands"},
		{`{op: ret, args: ["%3"]}`, "no parameter %3"},
		{`{op: load, def: v, args: [1], type: thing}`, `unknown type "thing"`},
		{`{op: call, def: a, callee: nope}`, `undefined function "nope"`},
		{`{op: ret, args: [{int: 1, void: i64}]}`, "exactly one kind"},
		{`{op: ret, args: [1], colour: red}`, "colour"},
		{"{op: add, def: a, args: [1, 2]}\n          - {op: add, def: a, args: [1, 2]}", "a defined twice"},
	}
	for _, tt := range tests {
		_, err := build(t, head+"          - "+tt.body+"\n")
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.body, err, tt.want)
		}
	}

	if _, err := Parse([]byte("functions: []\n")); err == nil {
		t.Fatalf("missing module name accepted")
	}
	if _, err := Parse(nil); err == nil {
		t.Fatalf("empty document accepted")
	}
}

func TestProofTable(t *testing.T) {
	doc, err := Load(filepath.Join("testdata", "return42.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	tab, err := ProofTable(doc)
	if err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 2 || tab.Count(proof.StatusProven) != 1 || tab.Count(proof.StatusRuntime) != 1 {
		t.Fatalf("table = %+v", tab.Proofs)
	}
	p := tab.Proofs[0]
	if size, lo, hi := p.BoundsRange(); p.Kind != proof.KindBounds || p.Location != 10 || size != 16 || lo != 0 || hi != 15 {
		t.Fatalf("bounds proof = %+v", p)
	}
	if req, granted := tab.Proofs[1].Permissions(); req != 1 || granted != 3 {
		t.Fatalf("permission proof = %+v", tab.Proofs[1])
	}

	doc.Proofs = []ProofDecl{{Kind: "effect", Status: "proven", Declared: []string{"read", "write"}, Verified: []string{"read"}}}
	tab, err = ProofTable(doc)
	if err != nil {
		t.Fatal(err)
	}
	if d, v := tab.Proofs[0].EffectSets(); d != uint32(ir.EffectRead|ir.EffectWrite) || v != uint32(ir.EffectRead) {
		t.Fatalf("effect sets = %#x %#x", d, v)
	}

	for _, bad := range []ProofDecl{
		{Kind: "vibes", Status: "proven"},
		{Kind: "bounds", Status: "maybe"},
		{Kind: "bounds", Status: "proven", IndexMin: 3, IndexMax: 1},
		{Kind: "effect", Status: "proven", Declared: []string{"teleport"}},
	} {
		doc.Proofs = []ProofDecl{bad}
		if _, err := ProofTable(doc); err == nil {
			t.Fatalf("%+v accepted", bad)
		}
	}
}
