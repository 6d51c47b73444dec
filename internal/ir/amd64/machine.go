package amd64

import (
	"github.com/tinyrange/seraph/internal/asm"
	amd64asm "github.com/tinyrange/seraph/internal/asm/amd64"
	"github.com/tinyrange/seraph/internal/ir/backend"
)

// Internal registers. The driver never allocates them, so primitives may
// clobber them freely.
const (
	rax = amd64asm.RAX
	rcx = amd64asm.RCX
	rdx = amd64asm.RDX
	rbp = amd64asm.RBP
	rsp = amd64asm.RSP
	rsi = amd64asm.RSI
	rdi = amd64asm.RDI
)

type machine struct {
	a   *amd64asm.Assembler
	buf *asm.Buffer
}

func newMachine(buf *asm.Buffer) backend.Machine {
	return &machine{a: amd64asm.New(buf), buf: buf}
}

func reg(r backend.Reg) amd64asm.Register { return amd64asm.Register(r) }

func fits32(v int64) bool { return v >= -1<<31 && v < 1<<31 }

// mem addresses base+off, going through rax when off exceeds disp32.
func (m *machine) mem(base backend.Reg, off int64) amd64asm.Memory {
	if fits32(off) {
		return amd64asm.Mem(reg(base), int32(off))
	}
	m.a.MovImm(rax, uint64(off))
	return amd64asm.MemIndex(reg(base), rax, 1, 0)
}

func (m *machine) Buffer() *asm.Buffer { return m.buf }

func (m *machine) Mov(dst, src backend.Reg) { m.a.Mov(reg(dst), reg(src)) }
func (m *machine) MovImm(dst backend.Reg, imm uint64) { m.a.MovImm(reg(dst), imm) }

func (m *machine) AddImm(dst, src backend.Reg, imm int64) {
	if imm == 0 {
		m.a.Mov(reg(dst), reg(src))
		return
	}
	m.a.Lea(reg(dst), m.mem(src, imm))
}

func (m *machine) Load(dst, base backend.Reg, off int64, size int, signed bool) {
	m.a.Load(reg(dst), m.mem(base, off), amd64asm.Width(size), signed)
}

func (m *machine) Store(base backend.Reg, off int64, src backend.Reg, size int) {
	m.a.Store(m.mem(base, off), reg(src), amd64asm.Width(size))
}

var aluOps = map[backend.ALUOp]amd64asm.ALUOp{
	backend.ALUAdd: amd64asm.ALUAdd,
	backend.ALUSub: amd64asm.ALUSub,
	backend.ALUAnd: amd64asm.ALUAnd,
	backend.ALUOr:  amd64asm.ALUOr,
	backend.ALUXor: amd64asm.ALUXor,
}

var shiftOps = map[backend.ALUOp]amd64asm.ShiftOp{
	backend.ALUShl: amd64asm.ShiftLeft,
	backend.ALUShr: amd64asm.ShiftRight,
	backend.ALUSar: amd64asm.ShiftArith,
}

// twoOperand folds a three-operand op onto x86's destructive form. When dst
// aliases b alone the work happens in rax.
func (m *machine) twoOperand(dst, a, b backend.Reg, op func(d, s amd64asm.Register)) {
	d := reg(dst)
	if dst == b && dst != a {
		d = rax
	}
	m.a.Mov(d, reg(a))
	op(d, reg(b))
	m.a.Mov(reg(dst), d)
}

func (m *machine) ALU(op backend.ALUOp, dst, a, b backend.Reg) {
	switch op {
	case backend.ALUMul:
		m.twoOperand(dst, a, b, m.a.Imul)
	case backend.ALUShl, backend.ALUShr, backend.ALUSar:
		m.a.Mov(rcx, reg(b))
		m.a.Mov(reg(dst), reg(a))
		m.a.ShiftCL(shiftOps[op], reg(dst))
	default:
		x86op := aluOps[op]
		m.twoOperand(dst, a, b, func(d, s amd64asm.Register) { m.a.ALU(x86op, d, s) })
	}
}

func (m *machine) CheckedALU(op backend.ALUOp, dst, a, b backend.Reg, signed bool, overflow asm.Label) {
	if op == backend.ALUMul && !signed {
		m.a.Mov(rax, reg(a))
		m.a.Mul(reg(b))
		m.a.Jcc(amd64asm.CondO, overflow)
		m.a.Mov(reg(dst), rax)
		return
	}
	// the trailing register move leaves the flags intact
	m.ALU(op, dst, a, b)
	if signed {
		m.a.Jcc(amd64asm.CondO, overflow)
	} else {
		m.a.Jcc(amd64asm.CondB, overflow)
	}
}

func (m *machine) Div(dst, a, b backend.Reg, signed, rem bool) {
	m.a.Mov(rax, reg(a))
	if signed {
		m.a.Cqo()
		m.a.Idiv(reg(b))
	} else {
		m.a.ALU(amd64asm.ALUXor, rdx, rdx)
		m.a.Div(reg(b))
	}
	if rem {
		m.a.Mov(reg(dst), rdx)
	} else {
		m.a.Mov(reg(dst), rax)
	}
}

func (m *machine) MulWide(hi, lo, a, b backend.Reg) {
	m.a.Mov(rax, reg(a))
	m.a.Mul(reg(b))
	m.a.Mov(reg(lo), rax)
	m.a.Mov(reg(hi), rdx)
}

func (m *machine) Neg(dst, a backend.Reg) {
	m.a.Mov(reg(dst), reg(a))
	m.a.Neg(reg(dst))
}

func (m *machine) Not(dst, a backend.Reg) {
	m.a.Mov(reg(dst), reg(a))
	m.a.Not(reg(dst))
}

func (m *machine) Extend(dst, src backend.Reg, size int, signed bool) {
	switch {
	case size >= 8:
		m.a.Mov(reg(dst), reg(src))
	case signed:
		m.a.SignExtend(reg(dst), reg(src), amd64asm.Width(size))
	default:
		m.a.ZeroExtend(reg(dst), reg(src), amd64asm.Width(size))
	}
}

var conds = [...]amd64asm.Cond{
	backend.CondEq:  amd64asm.CondE,
	backend.CondNe:  amd64asm.CondNE,
	backend.CondLt:  amd64asm.CondL,
	backend.CondLe:  amd64asm.CondLE,
	backend.CondGt:  amd64asm.CondG,
	backend.CondGe:  amd64asm.CondGE,
	backend.CondULt: amd64asm.CondB,
	backend.CondULe: amd64asm.CondBE,
	backend.CondUGt: amd64asm.CondA,
	backend.CondUGe: amd64asm.CondAE,
}

func (m *machine) SetCmp(c backend.Cond, dst, a, b backend.Reg) {
	m.a.ALU(amd64asm.ALUXor, rax, rax)
	m.a.ALU(amd64asm.ALUCmp, reg(a), reg(b))
	m.a.Setcc(conds[c], rax)
	m.a.Mov(reg(dst), rax)
}

func (m *machine) BranchCmp(c backend.Cond, a, b backend.Reg, l asm.Label) {
	m.a.ALU(amd64asm.ALUCmp, reg(a), reg(b))
	m.a.Jcc(conds[c], l)
}

func (m *machine) BranchImm(c backend.Cond, a backend.Reg, imm uint64, l asm.Label) {
	if fits32(int64(imm)) {
		m.a.ALUImm(amd64asm.ALUCmp, reg(a), int32(int64(imm)))
	} else {
		m.a.MovImm(rax, imm)
		m.a.ALU(amd64asm.ALUCmp, reg(a), rax)
	}
	m.a.Jcc(conds[c], l)
}

func (m *machine) Jump(l asm.Label) { m.a.Jmp(l) }

// Prologue pushes the frame pointer and the saved registers, then reserves
// locals bytes. An odd number of saves is padded to keep rsp 16-aligned.
func (m *machine) Prologue(saves []backend.Reg, locals int64) {
	m.a.Push(rbp)
	m.a.Mov(rbp, rsp)
	for _, r := range saves {
		m.a.Push(reg(r))
	}
	if len(saves)%2 == 1 {
		locals += 8
	}
	if locals > 0 {
		m.a.ALUImm(amd64asm.ALUSub, rsp, int32(locals))
	}
}

func (m *machine) Epilogue(saves []backend.Reg, locals int64, ret bool) {
	m.a.Lea(rsp, amd64asm.Mem(rbp, int32(-8*len(saves))))
	for i := len(saves) - 1; i >= 0; i-- {
		m.a.Pop(reg(saves[i]))
	}
	m.a.Pop(rbp)
	if ret {
		m.a.Ret()
	}
}

func (m *machine) CallSite() int { return m.a.CallRel() }
func (m *machine) JumpSite() int { return m.a.JmpRel() }
func (m *machine) CallReg(r backend.Reg) { m.a.CallReg(reg(r)) }
func (m *machine) FuncAddr(dst backend.Reg) int { return m.a.LeaRIP(reg(dst)) }
func (m *machine) DataAddr(dst backend.Reg) int { return m.a.LeaRIP(reg(dst)) }

func (m *machine) Syscall() { m.a.Syscall() }
func (m *machine) Trap() { m.a.UD2() }

func (m *machine) ReadTimer(dst backend.Reg) {
	m.a.Rdtsc()
	m.a.ShiftImm(amd64asm.ShiftLeft, rdx, 32)
	m.a.ALU(amd64asm.ALUOr, rax, rdx)
	m.a.Mov(reg(dst), rax)
}

func (m *machine) AtomicInc(addr backend.Reg) { m.a.LockInc(amd64asm.Mem(reg(addr), 0)) }

// CopyBytes and SetBytes shuffle their operands into the string registers
// through the stack, which is safe for any aliasing of the inputs.
func (m *machine) CopyBytes(dst, src, n backend.Reg) {
	m.a.Push(reg(dst))
	m.a.Push(reg(src))
	m.a.Push(reg(n))
	m.a.Pop(rcx)
	m.a.Pop(rsi)
	m.a.Pop(rdi)
	m.a.RepMovsb()
}

func (m *machine) SetBytes(dst, val, n backend.Reg) {
	m.a.Push(reg(dst))
	m.a.Push(reg(val))
	m.a.Push(reg(n))
	m.a.Pop(rcx)
	m.a.Pop(rax)
	m.a.Pop(rdi)
	m.a.RepStosb()
}
