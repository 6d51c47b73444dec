package arm64

import (
	"github.com/tinyrange/seraph/internal/asm"
	arm64asm "github.com/tinyrange/seraph/internal/asm/arm64"
	"github.com/tinyrange/seraph/internal/ir/backend"
)

// Internal registers. x15 doubles as the assembler's scratch register, so
// it is only named directly where no far offset or large immediate can be
// emitted in between.
const (
	x8  = arm64asm.X8
	x14 = arm64asm.X14
	x15 = arm64asm.X15
	fp  = arm64asm.FP
	lr  = arm64asm.LR
	sp  = arm64asm.SP
)

type machine struct {
	a   *arm64asm.Assembler
	buf *asm.Buffer
}

func newMachine(buf *asm.Buffer) backend.Machine {
	return &machine{a: arm64asm.New(buf, x15), buf: buf}
}

func reg(r backend.Reg) arm64asm.Register { return arm64asm.Register(r) }

func (m *machine) Buffer() *asm.Buffer { return m.buf }

func (m *machine) Mov(dst, src backend.Reg) { m.a.Mov(reg(dst), reg(src)) }
func (m *machine) MovImm(dst backend.Reg, imm uint64) { m.a.MovImm(reg(dst), imm) }

func (m *machine) AddImm(dst, src backend.Reg, imm int64) {
	if imm == 0 {
		m.a.Mov(reg(dst), reg(src))
		return
	}
	m.a.AddImm(reg(dst), reg(src), imm)
}

func (m *machine) Load(dst, base backend.Reg, off int64, size int, signed bool) {
	m.a.Load(reg(dst), reg(base), off, arm64asm.Width(size), signed)
}

func (m *machine) Store(base backend.Reg, off int64, src backend.Reg, size int) {
	m.a.Store(reg(src), reg(base), off, arm64asm.Width(size))
}

func (m *machine) ALU(op backend.ALUOp, dst, a, b backend.Reg) {
	d, n, k := reg(dst), reg(a), reg(b)
	switch op {
	case backend.ALUAdd:
		m.a.Add(d, n, k)
	case backend.ALUSub:
		m.a.Sub(d, n, k)
	case backend.ALUMul:
		m.a.Mul(d, n, k)
	case backend.ALUAnd:
		m.a.And(d, n, k)
	case backend.ALUOr:
		m.a.Orr(d, n, k)
	case backend.ALUXor:
		m.a.Eor(d, n, k)
	case backend.ALUShl:
		m.a.Lslv(d, n, k)
	case backend.ALUShr:
		m.a.Lsrv(d, n, k)
	case backend.ALUSar:
		m.a.Asrv(d, n, k)
	}
}

func (m *machine) CheckedALU(op backend.ALUOp, dst, a, b backend.Reg, signed bool, overflow asm.Label) {
	d, n, k := reg(dst), reg(a), reg(b)
	switch op {
	case backend.ALUMul:
		if signed {
			// the high half must be the sign extension of the low half
			m.a.Smulh(x14, n, k)
			m.a.Mul(x8, n, k)
			m.a.Asr(x15, x8, 63)
			m.a.Cmp(x14, x15)
			m.a.BCond(arm64asm.CondNE, overflow)
		} else {
			m.a.Umulh(x14, n, k)
			m.a.Cbnz(x14, overflow)
			m.a.Mul(x8, n, k)
		}
		m.a.Mov(d, x8)
	case backend.ALUSub:
		m.a.Subs(d, n, k)
		if signed {
			m.a.BCond(arm64asm.CondVS, overflow)
		} else {
			m.a.BCond(arm64asm.CondLO, overflow)
		}
	default:
		m.a.Adds(d, n, k)
		if signed {
			m.a.BCond(arm64asm.CondVS, overflow)
		} else {
			m.a.BCond(arm64asm.CondHS, overflow)
		}
	}
}

func (m *machine) Div(dst, a, b backend.Reg, signed, rem bool) {
	if signed {
		m.a.Sdiv(x8, reg(a), reg(b))
	} else {
		m.a.Udiv(x8, reg(a), reg(b))
	}
	if rem {
		m.a.Msub(reg(dst), x8, reg(b), reg(a))
		return
	}
	m.a.Mov(reg(dst), x8)
}

func (m *machine) MulWide(hi, lo, a, b backend.Reg) {
	m.a.Umulh(x8, reg(a), reg(b))
	m.a.Mul(reg(lo), reg(a), reg(b))
	m.a.Mov(reg(hi), x8)
}

func (m *machine) Neg(dst, a backend.Reg) { m.a.Neg(reg(dst), reg(a)) }
func (m *machine) Not(dst, a backend.Reg) { m.a.Mvn(reg(dst), reg(a)) }

func (m *machine) Extend(dst, src backend.Reg, size int, signed bool) {
	if size >= 8 {
		m.a.Mov(reg(dst), reg(src))
		return
	}
	m.a.Extend(reg(dst), reg(src), arm64asm.Width(size), signed)
}

var conds = [...]arm64asm.Cond{
	backend.CondEq:  arm64asm.CondEQ,
	backend.CondNe:  arm64asm.CondNE,
	backend.CondLt:  arm64asm.CondLT,
	backend.CondLe:  arm64asm.CondLE,
	backend.CondGt:  arm64asm.CondGT,
	backend.CondGe:  arm64asm.CondGE,
	backend.CondULt: arm64asm.CondLO,
	backend.CondULe: arm64asm.CondLS,
	backend.CondUGt: arm64asm.CondHI,
	backend.CondUGe: arm64asm.CondHS,
}

func (m *machine) SetCmp(c backend.Cond, dst, a, b backend.Reg) {
	m.a.Cmp(reg(a), reg(b))
	m.a.Cset(reg(dst), conds[c])
}

func (m *machine) BranchCmp(c backend.Cond, a, b backend.Reg, l asm.Label) {
	m.a.Cmp(reg(a), reg(b))
	m.a.BCond(conds[c], l)
}

func (m *machine) BranchImm(c backend.Cond, a backend.Reg, imm uint64, l asm.Label) {
	switch v := int64(imm); {
	case v >= 0 && v <= 0xFFF:
		m.a.CmpImm(reg(a), uint32(v))
	case v < 0 && v >= -0xFFF:
		m.a.CmnImm(reg(a), uint32(-v))
	default:
		m.a.MovImm(x8, imm)
		m.a.Cmp(reg(a), x8)
	}
	m.a.BCond(conds[c], l)
}

func (m *machine) Jump(l asm.Label) { m.a.B(l) }

func saveBytes(n int) int64 { return int64((n + 1) / 2 * 16) }

// Prologue pushes the frame record, then reserves the save area and locals
// in one step. Saved registers sit directly below the frame pointer.
func (m *machine) Prologue(saves []backend.Reg, locals int64) {
	m.a.StorePairPre(fp, lr, sp, -16)
	m.a.Mov(fp, sp)
	if total := saveBytes(len(saves)) + locals; total > 0 {
		m.a.AddImm(sp, sp, -total)
	}
	for i, r := range saves {
		m.a.Store(reg(r), fp, -8*int64(i+1), arm64asm.W64)
	}
}

func (m *machine) Epilogue(saves []backend.Reg, locals int64, ret bool) {
	for i, r := range saves {
		m.a.Load(reg(r), fp, -8*int64(i+1), arm64asm.W64, false)
	}
	m.a.Mov(sp, fp)
	m.a.LoadPairPost(fp, lr, sp, 16)
	if ret {
		m.a.Ret()
	}
}

func (m *machine) CallSite() int { return m.a.BLRel() }
func (m *machine) JumpSite() int { return m.a.BRel() }
func (m *machine) CallReg(r backend.Reg) { m.a.Blr(reg(r)) }
func (m *machine) FuncAddr(dst backend.Reg) int { return m.a.AdrRel(reg(dst)) }
func (m *machine) DataAddr(dst backend.Reg) int { return m.a.AdrpAddRel(reg(dst)) }

func (m *machine) Syscall() { m.a.Svc() }
func (m *machine) Trap() { m.a.Udf() }
func (m *machine) ReadTimer(dst backend.Reg) { m.a.ReadTimer(reg(dst)) }

func (m *machine) AtomicInc(addr backend.Reg) {
	retry := m.buf.NewLabel()
	m.buf.Bind(retry)
	m.a.LoadExclusive(x8, reg(addr))
	m.a.AddImm(x8, x8, 1)
	m.a.StoreExclusive(x14, x8, reg(addr))
	m.a.Cbnz(x14, retry)
}

// CopyBytes and SetBytes walk an index in x15 and leave their inputs
// untouched, so any aliasing between them is harmless.
func (m *machine) CopyBytes(dst, src, n backend.Reg) {
	loop, done := m.buf.NewLabel(), m.buf.NewLabel()
	m.a.MovImm(x15, 0)
	m.buf.Bind(loop)
	m.a.Cmp(x15, reg(n))
	m.a.BCond(arm64asm.CondHS, done)
	m.a.Add(x8, reg(src), x15)
	m.a.Load(x8, x8, 0, arm64asm.W8, false)
	m.a.Add(x14, reg(dst), x15)
	m.a.Store(x8, x14, 0, arm64asm.W8)
	m.a.AddImm(x15, x15, 1)
	m.a.B(loop)
	m.buf.Bind(done)
}

func (m *machine) SetBytes(dst, val, n backend.Reg) {
	loop, done := m.buf.NewLabel(), m.buf.NewLabel()
	m.a.MovImm(x15, 0)
	m.buf.Bind(loop)
	m.a.Cmp(x15, reg(n))
	m.a.BCond(arm64asm.CondHS, done)
	m.a.Add(x14, reg(dst), x15)
	m.a.Store(reg(val), x14, 0, arm64asm.W8)
	m.a.AddImm(x15, x15, 1)
	m.a.B(loop)
	m.buf.Bind(done)
}
