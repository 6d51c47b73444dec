package arm64

import (
	"debug/elf"
	"testing"

	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/asm/testutil"
)

func TestKitchenSinkDisassemblyARM64(t *testing.T) {
	buf, expect := buildARM64KitchenSink()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lines := testutil.DisassembleWithTool(t, "llvm-objdump", buf.Bytes(), elf.EM_AARCH64, "-d", "--no-show-raw-insn")
	testutil.VerifyExpectations(t, lines, expect)
}

type sinkBuilder struct {
	a            *Assembler
	expectations []testutil.Expectation
}

func (b *sinkBuilder) add(name, mnemonic string, emit func(*Assembler), contains ...string) {
	emit(b.a)
	b.expectations = append(b.expectations, testutil.Expectation{
		Name:     name,
		Mnemonic: mnemonic,
		Contains: contains,
	})
}

func buildARM64KitchenSink() (*asm.Buffer, []testutil.Expectation) {
	buf := asm.NewBuffer(1024)
	b := &sinkBuilder{a: New(buf, X15)}
	end := buf.NewLabel()

	b.add("stp", "stp", func(a *Assembler) { a.StorePairPre(FP, LR, SP, -16) }, "x29, x30, [sp")
	b.add("mov_fp", "mov", func(a *Assembler) { a.Mov(FP, SP) }, "x29, sp")
	b.add("mov_reg", "mov", func(a *Assembler) { a.Mov(X19, X20) }, "x19, x20")
	b.add("movz", "mov", func(a *Assembler) { a.MovImm(X0, 42) }, "x0")
	b.add("add", "add", func(a *Assembler) { a.Add(X1, X2, X3) }, "x1, x2, x3")
	b.add("adds", "adds", func(a *Assembler) { a.Adds(X1, X2, X3) }, "x1, x2, x3")
	b.add("sub", "sub", func(a *Assembler) { a.Sub(X4, X5, X6) }, "x4, x5, x6")
	b.add("mul", "mul", func(a *Assembler) { a.Mul(X7, X9, X10) }, "x7, x9, x10")
	b.add("smulh", "smulh", func(a *Assembler) { a.Smulh(X0, X1, X2) }, "x0, x1, x2")
	b.add("umulh", "umulh", func(a *Assembler) { a.Umulh(X0, X1, X2) }, "x0, x1, x2")
	b.add("sdiv", "sdiv", func(a *Assembler) { a.Sdiv(X0, X1, X2) }, "x0, x1, x2")
	b.add("msub", "msub", func(a *Assembler) { a.Msub(X0, X1, X2, X3) }, "x0, x1, x2, x3")
	b.add("and", "and", func(a *Assembler) { a.And(X0, X1, X2) }, "x0, x1, x2")
	b.add("eor", "eor", func(a *Assembler) { a.Eor(X0, X1, X2) }, "x0, x1, x2")
	b.add("lsl", "lsl", func(a *Assembler) { a.Lslv(X0, X1, X2) }, "x0, x1, x2")
	b.add("asr", "asr", func(a *Assembler) { a.Asrv(X0, X1, X2) }, "x0, x1, x2")
	b.add("cmp", "cmp", func(a *Assembler) { a.CmpImm(X0, 1) }, "x0")
	b.add("cset", "cset", func(a *Assembler) { a.Cset(X0, CondLT) }, "x0, lt")
	b.add("sxtb", "sxtb", func(a *Assembler) { a.Extend(X0, X1, W8, true) }, "x0, w1")
	b.add("ldr", "ldr", func(a *Assembler) { a.Load(X0, FP, 16, W64, false) }, "x0, [x29")
	b.add("ldur", "ldur", func(a *Assembler) { a.Load(X0, FP, -8, W64, false) }, "x0, [x29")
	b.add("strb", "strb", func(a *Assembler) { a.Store(X1, X0, 3, W8) }, "w1, [x0")
	b.add("bvs", "b.vs", func(a *Assembler) { a.BCond(CondVS, end) })
	b.add("cbz", "cbz", func(a *Assembler) { a.Cbz(X3, end) }, "x3")
	b.add("blr", "blr", func(a *Assembler) { a.Blr(X16) }, "x16")
	b.add("ldaxr", "ldaxr", func(a *Assembler) { a.LoadExclusive(X8, X15) }, "x8, [x15]")
	b.add("stlxr", "stlxr", func(a *Assembler) { a.StoreExclusive(X9, X8, X15) }, "w9, x8, [x15]")
	b.add("mrs", "mrs", func(a *Assembler) { a.ReadTimer(X0) }, "x0")
	b.add("svc", "svc", func(a *Assembler) { a.Svc() })
	buf.Bind(end)
	b.add("ldp", "ldp", func(a *Assembler) { a.LoadPairPost(FP, LR, SP, 16) }, "x29, x30, [sp]")
	b.add("ret", "ret", func(a *Assembler) { a.Ret() })
	return buf, b.expectations
}
