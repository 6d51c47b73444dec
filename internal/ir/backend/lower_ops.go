package backend

import (
	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/ir"
)

// canonicalCheck jumps to void unless d is already canonical for t.
func (c *compiler) canonicalCheck(d Reg, t *ir.Type, void asm.Label) {
	ut := t.Underlying()
	if ut.Kind != ir.TypeBool && ut.Bits() >= 64 {
		return
	}
	c.m.Extend(c.tmp(2), d, width(t), signed(t))
	c.m.BranchCmp(CondNe, c.tmp(2), d, void)
}

func (c *compiler) canonicalize(d Reg, t *ir.Type) {
	ut := t.Underlying()
	if ut.Kind != ir.TypeBool && ut.Bits() >= 64 {
		return
	}
	c.m.Extend(d, d, width(t), signed(t))
}

func aluFor(op ir.Opcode) ALUOp {
	switch op {
	case ir.OpSub:
		return ALUSub
	case ir.OpMul:
		return ALUMul
	case ir.OpAnd:
		return ALUAnd
	case ir.OpOr:
		return ALUOr
	case ir.OpXor:
		return ALUXor
	case ir.OpShl:
		return ALUShl
	case ir.OpShr:
		return ALUShr
	case ir.OpSar:
		return ALUSar
	}
	return ALUAdd
}

// lowerBinary computes op over a and b of type t into result. VOID operands,
// zero divisors and results that do not fit t produce VOID.
func (c *compiler) lowerBinary(op ir.Opcode, t *ir.Type, av, bv, result *ir.Value) {
	ut := t.Underlying()
	isSigned := ut.IsSigned()
	wide := ut.Kind != ir.TypeBool && ut.Bits() >= 64
	pattern := ir.VoidPattern(t)

	a := c.get(av, c.tmp(0))
	b := c.get(bv, c.tmp(1))
	d := c.dst(result)
	void, done := c.label(), c.label()

	c.m.BranchImm(CondEq, a, pattern, void)
	c.m.BranchImm(CondEq, b, pattern, void)

	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		if wide {
			c.m.CheckedALU(aluFor(op), d, a, b, isSigned, void)
		} else {
			c.m.ALU(aluFor(op), d, a, b)
			c.canonicalCheck(d, t, void)
		}

	case ir.OpDiv, ir.OpMod:
		rem := op == ir.OpMod
		c.m.BranchImm(CondEq, b, 0, void)
		if isSigned {
			regular := c.label()
			c.m.BranchImm(CondNe, b, ^uint64(0), regular)
			if rem {
				c.m.MovImm(d, 0)
			} else {
				c.m.Neg(d, a)
				c.canonicalCheck(d, t, void)
			}
			c.m.Jump(done)
			c.buf.Bind(regular)
		}
		c.m.Div(d, a, b, isSigned, rem)
		c.canonicalCheck(d, t, void)

	case ir.OpShl:
		c.m.ALU(ALUShl, d, a, b)
		c.canonicalize(d, t)
	case ir.OpShr, ir.OpSar:
		src := a
		if !wide {
			// widen from the declared width before shifting
			c.m.Extend(c.tmp(2), a, width(t), op == ir.OpSar)
			src = c.tmp(2)
		}
		c.m.ALU(aluFor(op), d, src, b)
		c.canonicalize(d, t)

	default:
		c.m.ALU(aluFor(op), d, a, b)
	}

	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, pattern)
	c.buf.Bind(done)
	c.put(result, d)
}

func (c *compiler) lowerUnary(in *ir.Instr) {
	t := in.Result.Type
	ut := t.Underlying()
	pattern := ir.VoidPattern(t)

	a := c.get(in.Args[0], c.tmp(0))
	d := c.dst(in.Result)
	void, done := c.label(), c.label()
	c.m.BranchImm(CondEq, a, pattern, void)

	switch {
	case in.Op == ir.OpNeg && ut.IsSigned():
		c.m.Neg(d, a)
		c.canonicalCheck(d, t, void)
	case in.Op == ir.OpNeg:
		c.m.BranchImm(CondNe, a, 0, void)
		c.m.MovImm(d, 0)
	case ut.Kind == ir.TypeBool:
		c.m.MovImm(c.tmp(1), 1)
		c.m.ALU(ALUXor, d, a, c.tmp(1))
	default:
		c.m.Not(d, a)
		c.canonicalize(d, t)
	}

	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, pattern)
	c.buf.Bind(done)
	c.put(in.Result, d)
}

var compareConds = map[ir.Opcode]Cond{
	ir.OpEq:  CondEq,
	ir.OpNe:  CondNe,
	ir.OpLt:  CondLt,
	ir.OpLe:  CondLe,
	ir.OpGt:  CondGt,
	ir.OpGe:  CondGe,
	ir.OpULt: CondULt,
	ir.OpULe: CondULe,
	ir.OpUGt: CondUGt,
	ir.OpUGe: CondUGe,
}

// lowerCompare produces 0 or 1, or the VOID boolean when either side is VOID.
func (c *compiler) lowerCompare(in *ir.Instr) {
	pattern := voidImage(in.Args[0].Type)
	a := c.get(in.Args[0], c.tmp(0))
	b := c.get(in.Args[1], c.tmp(1))
	d := c.dst(in.Result)
	void, done := c.label(), c.label()

	c.m.BranchImm(CondEq, a, pattern, void)
	c.m.BranchImm(CondEq, b, pattern, void)
	c.m.SetCmp(compareConds[in.Op], d, a, b)
	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, ir.VoidByte)
	c.buf.Bind(done)
	c.put(in.Result, d)
}

func (c *compiler) lowerConvert(in *ir.Instr) {
	from := in.Args[0].Type
	to := in.Result.Type
	a := c.get(in.Args[0], c.tmp(0))
	d := c.dst(in.Result)
	void, done := c.label(), c.label()

	c.m.BranchImm(CondEq, a, voidImage(from), void)
	switch in.Op {
	case ir.OpTrunc:
		c.m.Extend(d, a, width(to), signed(to))
	case ir.OpZext:
		c.m.Extend(d, a, width(from), false)
	case ir.OpSext:
		c.m.Extend(d, a, width(from), true)
	default:
		c.m.Mov(d, a)
	}
	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, voidImage(to))
	c.buf.Bind(done)
	c.put(in.Result, d)
}

func (c *compiler) lowerVoid(in *ir.Instr) {
	switch in.Op {
	case ir.OpVoidConst:
		d := c.dst(in.Result)
		c.m.MovImm(d, voidImage(in.Result.Type))
		c.put(in.Result, d)

	case ir.OpVoidTest:
		a := c.get(in.Args[0], c.tmp(0))
		d := c.dst(in.Result)
		c.m.MovImm(c.tmp(1), voidImage(in.Args[0].Type))
		c.m.SetCmp(CondEq, d, a, c.tmp(1))
		c.put(in.Result, d)

	case ir.OpVoidAssert:
		a := c.get(in.Args[0], c.tmp(0))
		ok := c.label()
		c.m.BranchImm(CondNe, a, voidImage(in.Args[0].Type), ok)
		c.m.Trap()
		c.buf.Bind(ok)
		if in.Result != nil {
			c.put(in.Result, a)
		}

	case ir.OpVoidPropagate:
		a := c.get(in.Args[0], c.tmp(0))
		ok := c.label()
		c.m.BranchImm(CondNe, a, voidImage(in.Args[0].Type), ok)
		if rt := c.fn.ReturnType(); rt != nil && rt.Kind != ir.TypeVoid {
			c.m.MovImm(c.t.RetReg, voidImage(rt))
		}
		c.m.Jump(c.exit)
		c.buf.Bind(ok)
		if in.Result != nil {
			c.put(in.Result, a)
		}

	case ir.OpVoidCoalesce:
		x := c.get(in.Args[0], c.tmp(0))
		d := c.dst(in.Result)
		keep, done := c.label(), c.label()
		c.m.BranchImm(CondNe, x, voidImage(in.Args[0].Type), keep)
		y := c.get(in.Args[1], c.tmp(1))
		c.m.Mov(d, y)
		c.m.Jump(done)
		c.buf.Bind(keep)
		c.m.Mov(d, x)
		c.buf.Bind(done)
		c.put(in.Result, d)
	}
}

// lowerSelect picks x on 1 and y on 0; any other condition image is VOID.
func (c *compiler) lowerSelect(in *ir.Instr) {
	cond := c.get(in.Args[0], c.tmp(0))
	d := c.dst(in.Result)
	pickX, pickY, done := c.label(), c.label(), c.label()

	c.m.BranchImm(CondEq, cond, 1, pickX)
	c.m.BranchImm(CondEq, cond, 0, pickY)
	c.m.MovImm(d, voidImage(in.Result.Type))
	c.m.Jump(done)

	c.buf.Bind(pickX)
	c.m.Mov(d, c.get(in.Args[1], c.tmp(1)))
	c.m.Jump(done)

	c.buf.Bind(pickY)
	c.m.Mov(d, c.get(in.Args[2], c.tmp(1)))
	c.buf.Bind(done)
	c.put(in.Result, d)
}
