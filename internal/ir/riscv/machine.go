package riscv

import (
	"github.com/tinyrange/seraph/internal/asm"
	rvasm "github.com/tinyrange/seraph/internal/asm/riscv"
	"github.com/tinyrange/seraph/internal/ir/backend"
)

// Internal registers. t6 is also the assembler's scratch register.
const (
	a6   = rvasm.A6
	a7   = rvasm.A7
	t6   = rvasm.T6
	s0   = rvasm.S0
	ra   = rvasm.RA
	sp   = rvasm.SP
	zero = rvasm.Zero
)

type machine struct {
	a   *rvasm.Assembler
	buf *asm.Buffer
}

func newMachine(buf *asm.Buffer) backend.Machine {
	return &machine{a: rvasm.New(buf, t6), buf: buf}
}

func reg(r backend.Reg) rvasm.Register { return rvasm.Register(r) }

func (m *machine) Buffer() *asm.Buffer { return m.buf }

func (m *machine) Mov(dst, src backend.Reg) { m.a.Mov(reg(dst), reg(src)) }
func (m *machine) MovImm(dst backend.Reg, imm uint64) { m.a.MovImm(reg(dst), imm) }

func (m *machine) AddImm(dst, src backend.Reg, imm int64) {
	m.a.AddImm(reg(dst), reg(src), imm)
}

func (m *machine) Load(dst, base backend.Reg, off int64, size int, signed bool) {
	m.a.Load(reg(dst), reg(base), off, rvasm.Width(size), signed)
}

func (m *machine) Store(base backend.Reg, off int64, src backend.Reg, size int) {
	m.a.Store(reg(src), reg(base), off, rvasm.Width(size))
}

func (m *machine) ALU(op backend.ALUOp, dst, a, b backend.Reg) {
	d, x, y := reg(dst), reg(a), reg(b)
	switch op {
	case backend.ALUAdd:
		m.a.Add(d, x, y)
	case backend.ALUSub:
		m.a.Sub(d, x, y)
	case backend.ALUMul:
		m.a.Mul(d, x, y)
	case backend.ALUAnd:
		m.a.And(d, x, y)
	case backend.ALUOr:
		m.a.Or(d, x, y)
	case backend.ALUXor:
		m.a.Xor(d, x, y)
	case backend.ALUShl:
		m.a.Sll(d, x, y)
	case backend.ALUShr:
		m.a.Srl(d, x, y)
	case backend.ALUSar:
		m.a.Sra(d, x, y)
	}
}

// CheckedALU has no flags to lean on. The result is formed in a6 and
// compared against the operands before dst is written.
func (m *machine) CheckedALU(op backend.ALUOp, dst, a, b backend.Reg, signed bool, overflow asm.Label) {
	d, x, y := reg(dst), reg(a), reg(b)
	switch {
	case op == backend.ALUMul && signed:
		m.a.Mulh(a6, x, y)
		m.a.Mul(a7, x, y)
		m.a.Srai(t6, a7, 63)
		m.a.Branch(rvasm.CondNE, a6, t6, overflow)
		m.a.Mov(d, a7)
	case op == backend.ALUMul:
		m.a.Mulhu(a6, x, y)
		m.a.Bnez(a6, overflow)
		m.a.Mul(d, x, y)
	case op == backend.ALUSub && signed:
		// overflow when (b > 0) disagrees with (a-b < a)
		m.a.Sub(a6, x, y)
		m.a.Slt(a7, a6, x)
		m.a.Slt(t6, zero, y)
		m.a.Branch(rvasm.CondNE, a7, t6, overflow)
		m.a.Mov(d, a6)
	case op == backend.ALUSub:
		m.a.Branch(rvasm.CondLTU, x, y, overflow)
		m.a.Sub(d, x, y)
	case signed:
		// overflow when (b < 0) disagrees with (a+b < a)
		m.a.Add(a6, x, y)
		m.a.Slt(a7, a6, x)
		m.a.Slt(t6, y, zero)
		m.a.Branch(rvasm.CondNE, a7, t6, overflow)
		m.a.Mov(d, a6)
	default:
		m.a.Add(a6, x, y)
		m.a.Branch(rvasm.CondLTU, a6, x, overflow)
		m.a.Mov(d, a6)
	}
}

func (m *machine) Div(dst, a, b backend.Reg, signed, rem bool) {
	d, x, y := reg(dst), reg(a), reg(b)
	switch {
	case signed && rem:
		m.a.Rem(d, x, y)
	case signed:
		m.a.Div(d, x, y)
	case rem:
		m.a.Remu(d, x, y)
	default:
		m.a.Divu(d, x, y)
	}
}

func (m *machine) MulWide(hi, lo, a, b backend.Reg) {
	m.a.Mulhu(a6, reg(a), reg(b))
	m.a.Mul(reg(lo), reg(a), reg(b))
	m.a.Mov(reg(hi), a6)
}

func (m *machine) Neg(dst, a backend.Reg) { m.a.Neg(reg(dst), reg(a)) }
func (m *machine) Not(dst, a backend.Reg) { m.a.Not(reg(dst), reg(a)) }

func (m *machine) Extend(dst, src backend.Reg, size int, signed bool) {
	if size >= 8 {
		m.a.Mov(reg(dst), reg(src))
		return
	}
	m.a.Extend(reg(dst), reg(src), rvasm.Width(size), signed)
}

func (m *machine) SetCmp(c backend.Cond, dst, a, b backend.Reg) {
	d, x, y := reg(dst), reg(a), reg(b)
	switch c {
	case backend.CondEq:
		m.a.Sub(a6, x, y)
		m.a.Seqz(d, a6)
	case backend.CondNe:
		m.a.Sub(a6, x, y)
		m.a.Snez(d, a6)
	case backend.CondLt:
		m.a.Slt(d, x, y)
	case backend.CondGt:
		m.a.Slt(d, y, x)
	case backend.CondGe:
		m.a.Slt(a6, x, y)
		m.a.Xori(d, a6, 1)
	case backend.CondLe:
		m.a.Slt(a6, y, x)
		m.a.Xori(d, a6, 1)
	case backend.CondULt:
		m.a.Sltu(d, x, y)
	case backend.CondUGt:
		m.a.Sltu(d, y, x)
	case backend.CondUGe:
		m.a.Sltu(a6, x, y)
		m.a.Xori(d, a6, 1)
	case backend.CondULe:
		m.a.Sltu(a6, y, x)
		m.a.Xori(d, a6, 1)
	}
}

// branch maps c onto the six native conditions, swapping operands for the
// rest.
func (m *machine) branch(c backend.Cond, x, y rvasm.Register, l asm.Label) {
	switch c {
	case backend.CondEq:
		m.a.Branch(rvasm.CondEQ, x, y, l)
	case backend.CondNe:
		m.a.Branch(rvasm.CondNE, x, y, l)
	case backend.CondLt:
		m.a.Branch(rvasm.CondLT, x, y, l)
	case backend.CondGe:
		m.a.Branch(rvasm.CondGE, x, y, l)
	case backend.CondGt:
		m.a.Branch(rvasm.CondLT, y, x, l)
	case backend.CondLe:
		m.a.Branch(rvasm.CondGE, y, x, l)
	case backend.CondULt:
		m.a.Branch(rvasm.CondLTU, x, y, l)
	case backend.CondUGe:
		m.a.Branch(rvasm.CondGEU, x, y, l)
	case backend.CondUGt:
		m.a.Branch(rvasm.CondLTU, y, x, l)
	case backend.CondULe:
		m.a.Branch(rvasm.CondGEU, y, x, l)
	}
}

func (m *machine) BranchCmp(c backend.Cond, a, b backend.Reg, l asm.Label) {
	m.branch(c, reg(a), reg(b), l)
}

func (m *machine) BranchImm(c backend.Cond, a backend.Reg, imm uint64, l asm.Label) {
	y := zero
	if imm != 0 {
		m.a.MovImm(a6, imm)
		y = a6
	}
	m.branch(c, reg(a), y, l)
}

func (m *machine) Jump(l asm.Label) { m.a.J(l) }

func saveBytes(n int) int64 { return int64((n + 1) / 2 * 16) }

// Prologue stores ra and the old s0 as a 16-byte record, points s0 at it
// and reserves the save area and locals below.
func (m *machine) Prologue(saves []backend.Reg, locals int64) {
	m.a.Addi(sp, sp, -16)
	m.a.Store(ra, sp, 8, rvasm.W64)
	m.a.Store(s0, sp, 0, rvasm.W64)
	m.a.Mov(s0, sp)
	if total := saveBytes(len(saves)) + locals; total > 0 {
		m.a.AddImm(sp, sp, -total)
	}
	for i, r := range saves {
		m.a.Store(reg(r), s0, -8*int64(i+1), rvasm.W64)
	}
}

func (m *machine) Epilogue(saves []backend.Reg, locals int64, ret bool) {
	for i, r := range saves {
		m.a.Load(reg(r), s0, -8*int64(i+1), rvasm.W64, false)
	}
	m.a.Mov(sp, s0)
	m.a.Load(ra, sp, 8, rvasm.W64, false)
	m.a.Load(s0, sp, 0, rvasm.W64, false)
	m.a.Addi(sp, sp, 16)
	if ret {
		m.a.Ret()
	}
}

func (m *machine) CallSite() int { return m.a.CallRel() }
func (m *machine) JumpSite() int { return m.a.JRel() }
func (m *machine) CallReg(r backend.Reg) { m.a.CallReg(reg(r)) }
func (m *machine) FuncAddr(dst backend.Reg) int { return m.a.AuipcAddiRel(reg(dst)) }
func (m *machine) DataAddr(dst backend.Reg) int { return m.a.AuipcAddiRel(reg(dst)) }

func (m *machine) Syscall() { m.a.Ecall() }
func (m *machine) Trap() { m.a.Unimp() }
func (m *machine) ReadTimer(dst backend.Reg) { m.a.ReadTimer(reg(dst)) }

func (m *machine) AtomicInc(addr backend.Reg) {
	m.a.MovImm(a7, 1)
	m.a.AmoAdd(zero, reg(addr), a7)
}

// CopyBytes and SetBytes walk an index in t6 and leave their inputs
// untouched.
func (m *machine) CopyBytes(dst, src, n backend.Reg) {
	loop, done := m.buf.NewLabel(), m.buf.NewLabel()
	m.a.Mov(t6, zero)
	m.buf.Bind(loop)
	m.a.Branch(rvasm.CondGEU, t6, reg(n), done)
	m.a.Add(a7, reg(src), t6)
	m.a.Load(a7, a7, 0, rvasm.W8, false)
	m.a.Add(a6, reg(dst), t6)
	m.a.Store(a7, a6, 0, rvasm.W8)
	m.a.Addi(t6, t6, 1)
	m.a.J(loop)
	m.buf.Bind(done)
}

func (m *machine) SetBytes(dst, val, n backend.Reg) {
	loop, done := m.buf.NewLabel(), m.buf.NewLabel()
	m.a.Mov(t6, zero)
	m.buf.Bind(loop)
	m.a.Branch(rvasm.CondGEU, t6, reg(n), done)
	m.a.Add(a6, reg(dst), t6)
	m.a.Store(reg(val), a6, 0, rvasm.W8)
	m.a.Addi(t6, t6, 1)
	m.a.J(loop)
	m.buf.Bind(done)
}
