package amd64

import (
	"debug/elf"
	"testing"

	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/asm/testutil"
)

func TestKitchenSinkDisassemblyAMD64(t *testing.T) {
	buf, expect := buildAMD64KitchenSink()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lines := testutil.DisassembleWithObjdump(t, buf.Bytes(), elf.EM_X86_64, "-M", "att")
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

func buildAMD64KitchenSink() (*asm.Buffer, []testutil.Expectation) {
	buf := asm.NewBuffer(1024)
	b := &sinkBuilder{a: New(buf)}
	end := buf.NewLabel()

	b.add("mov_imm64", "movabs", func(a *Assembler) { a.MovImm(RAX, 0x1122334455667788) }, "$0x1122334455667788,%rax")
	b.add("mov_imm32", "mov", func(a *Assembler) { a.MovImm(R12, 42) }, "$0x2a,%r12d")
	b.add("mov_reg", "mov", func(a *Assembler) { a.Mov(R9, R10) }, "%r10,%r9")
	b.add("store", "mov", func(a *Assembler) { a.Store(Mem(RSP, 0x28), RAX, W64) }, "%rax,0x28(%rsp)")
	b.add("load", "mov", func(a *Assembler) { a.Load(RBX, Mem(RBP, -0x18), W64, false) }, "-0x18(%rbp),%rbx")
	b.add("store8", "mov", func(a *Assembler) { a.Store(Mem(RDI, 3), RSI, W8) }, "%sil,0x3(%rdi)")
	b.add("movzx8", "", func(a *Assembler) { a.Load(R12, Mem(RDI, 0x10), W8, false) }, "movzb", "0x10(%rdi)")
	b.add("movsx16", "", func(a *Assembler) { a.Load(R13, Mem(RSI, 0x14), W16, true) }, "movsw", "0x14(%rsi),%r13")
	b.add("movsxd", "", func(a *Assembler) { a.Load(RAX, Mem(R14, 8), W32, true) }, "movslq", "0x8(%r14),%rax")
	b.add("lea", "lea", func(a *Assembler) { a.Lea(RDI, Mem(RBP, -64)) }, "-0x40(%rbp),%rdi")
	b.add("add", "add", func(a *Assembler) { a.ALU(ALUAdd, R14, R15) }, "%r15,%r14")
	b.add("sub_imm", "sub", func(a *Assembler) { a.ALUImm(ALUSub, RSP, 0x120) }, "$0x120,%rsp")
	b.add("cmp_imm", "cmp", func(a *Assembler) { a.ALUImm(ALUCmp, R9, 1) }, "$0x1,%r9")
	b.add("xor", "xor", func(a *Assembler) { a.ALU(ALUXor, RDX, RDX) }, "%rdx,%rdx")
	b.add("imul", "imul", func(a *Assembler) { a.Imul(RAX, R11) }, "%r11,%rax")
	b.add("mul", "mul", func(a *Assembler) { a.Mul(RBX) }, "%rbx")
	b.add("cqo", "cqto", func(a *Assembler) { a.Cqo() })
	b.add("idiv", "idiv", func(a *Assembler) { a.Idiv(RCX) }, "%rcx")
	b.add("shl", "shl", func(a *Assembler) { a.ShiftCL(ShiftLeft, RBX) }, "%cl,%rbx")
	b.add("sar", "sar", func(a *Assembler) { a.ShiftImm(ShiftArith, RAX, 63) }, "$0x3f,%rax")
	b.add("movsbq", "movsbq", func(a *Assembler) { a.SignExtend(RAX, RDI, W8) }, "%dil,%rax")
	b.add("setb", "setb", func(a *Assembler) { a.Setcc(CondB, RSI) }, "%sil")
	b.add("cmovne", "cmovne", func(a *Assembler) { a.Cmov(CondNE, RAX, R8) }, "%r8,%rax")
	b.add("jo", "jo", func(a *Assembler) { a.Jcc(CondO, end) })
	b.add("call_reg", "", func(a *Assembler) { a.CallReg(R11) }, "call", "*%r11")
	b.add("push", "push", func(a *Assembler) { a.Push(R15) }, "%r15")
	b.add("pop", "pop", func(a *Assembler) { a.Pop(RBX) }, "%rbx")
	b.add("lock_inc", "lock", func(a *Assembler) { a.LockInc(Mem(R14, 0)) }, "incq", "(%r14)")
	b.add("rdtsc", "rdtsc", func(a *Assembler) { a.Rdtsc() })
	b.add("rep_movsb", "rep", func(a *Assembler) { a.RepMovsb() }, "movsb")
	b.add("rep_stosb", "rep", func(a *Assembler) { a.RepStosb() }, "stos")
	b.add("syscall", "syscall", func(a *Assembler) { a.Syscall() })
	buf.Bind(end)
	b.add("ud2", "ud2", func(a *Assembler) { a.UD2() })
	b.add("ret", "", func(a *Assembler) { a.Ret() }, "ret")
	return buf, b.expectations
}
