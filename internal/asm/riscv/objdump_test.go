package riscv

import (
	"debug/elf"
	"testing"

	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/asm/testutil"
)

func TestKitchenSinkDisassemblyRISCV(t *testing.T) {
	buf, expect := buildRISCVKitchenSink()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lines := testutil.DisassembleWithTool(t, "llvm-objdump", buf.Bytes(), elf.EM_RISCV,
		"-d", "--no-show-raw-insn", "-M", "no-aliases", "--mattr=+m,+a")
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

func buildRISCVKitchenSink() (*asm.Buffer, []testutil.Expectation) {
	buf := asm.NewBuffer(1024)
	b := &sinkBuilder{a: New(buf, T2)}
	end := buf.NewLabel()

	b.add("addi", "addi", func(a *Assembler) { a.Addi(SP, SP, -16) }, "sp, sp, -16")
	b.add("sd", "sd", func(a *Assembler) { a.Store(RA, SP, 8, W64) }, "ra, 8(sp)")
	b.add("ld", "ld", func(a *Assembler) { a.Load(A0, S0, 16, W64, false) }, "a0, 16(s0)")
	b.add("lbu", "lbu", func(a *Assembler) { a.Load(A1, A0, 3, W8, false) }, "a1, 3(a0)")
	b.add("lw", "lw", func(a *Assembler) { a.Load(A1, A0, 4, W32, true) }, "a1, 4(a0)")
	b.add("lui", "lui", func(a *Assembler) { a.MovImm(A0, 0x12345678) })
	b.add("addiw", "addiw", func(a *Assembler) {}, "a0, a0")
	b.add("add", "add", func(a *Assembler) { a.Add(S1, S2, S3) }, "s1, s2, s3")
	b.add("sub", "sub", func(a *Assembler) { a.Sub(S1, S2, S3) }, "s1, s2, s3")
	b.add("mul", "mul", func(a *Assembler) { a.Mul(A0, A1, A2) }, "a0, a1, a2")
	b.add("mulh", "mulh", func(a *Assembler) { a.Mulh(A0, A1, A2) }, "a0, a1, a2")
	b.add("mulhu", "mulhu", func(a *Assembler) { a.Mulhu(A0, A1, A2) }, "a0, a1, a2")
	b.add("div", "div", func(a *Assembler) { a.Div(A0, A1, A2) }, "a0, a1, a2")
	b.add("remu", "remu", func(a *Assembler) { a.Remu(A0, A1, A2) }, "a0, a1, a2")
	b.add("sltu", "sltu", func(a *Assembler) { a.Sltu(A0, A1, A2) }, "a0, a1, a2")
	b.add("sra", "sra", func(a *Assembler) { a.Sra(A0, A1, A2) }, "a0, a1, a2")
	b.add("slli", "slli", func(a *Assembler) { a.Slli(A0, A0, 63) }, "a0, a0, 63")
	b.add("bne", "bne", func(a *Assembler) { a.Branch(CondEQ, A0, A1, end) }, "a0, a1")
	b.add("jal", "jal", func(a *Assembler) {}, "zero")
	b.add("jalr", "jalr", func(a *Assembler) { a.CallReg(T0) }, "ra")
	b.add("amoadd", "amoadd.d.aqrl", func(a *Assembler) { a.AmoAdd(A0, A2, A1) }, "a0, a1, (a2)")
	b.add("ecall", "ecall", func(a *Assembler) { a.Ecall() })
	buf.Bind(end)
	b.add("ret", "jalr", func(a *Assembler) { a.Ret() }, "zero")
	return buf, b.expectations
}
