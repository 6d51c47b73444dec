package backend

import (
	"github.com/tinyrange/seraph/internal/ir"
)

const (
	q64Size      = 16
	galacticSize = 4 * q64Size
)

// q64Add adds the Q64 at FP+src into the Q64 at FP+dst.
func (c *compiler) q64Add(dst, src int64) {
	fp, a, b := c.t.FP, c.tmp(0), c.tmp(1)
	c.m.Load(a, fp, dst, 8, false)
	c.m.Load(b, fp, src, 8, false)
	c.m.ALU(ALUAdd, a, a, b)
	c.m.SetCmp(CondULt, b, a, b)
	c.m.Store(fp, dst, a, 8)
	c.m.Load(a, fp, dst+8, 8, false)
	c.m.ALU(ALUAdd, a, a, b)
	c.m.Load(b, fp, src+8, 8, false)
	c.m.ALU(ALUAdd, a, a, b)
	c.m.Store(fp, dst+8, a, 8)
}

// q64AddMem adds the Q64s at two base registers into FP+dst.
func (c *compiler) q64AddMem(dst int64, x, y Reg, off int64) {
	fp, t2, t3 := c.t.FP, c.tmp(2), c.tmp(3)
	c.m.Load(t2, x, off, 8, false)
	c.m.Load(t3, y, off, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.SetCmp(CondULt, t3, t2, t3)
	c.m.Store(fp, dst, t2, 8)
	c.m.Load(t2, x, off+8, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.Load(t3, y, off+8, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.Store(fp, dst+8, t2, 8)
}

// q64Mul writes the fixed-point product of the Q64s at FP+x and FP+y to
// FP+dst, keeping the middle 128 bits of the 256-bit product. work is a
// 16-byte area that must not overlap the operands.
func (c *compiler) q64Mul(dst, x, y, work int64) {
	fp := c.t.FP
	t0, t1, t2, t3 := c.tmp(0), c.tmp(1), c.tmp(2), c.tmp(3)
	w1, w2 := work, work+8

	// h00
	c.m.Load(t0, fp, x, 8, false)
	c.m.Load(t1, fp, y, 8, false)
	c.m.MulWide(t2, t3, t0, t1)
	c.m.Store(fp, w1, t2, 8)

	// a0*b1: w1 += lo, w2 = hi + carry
	c.m.Load(t1, fp, y+8, 8, false)
	c.m.MulWide(t2, t3, t0, t1)
	c.m.Store(fp, w2, t2, 8)
	c.m.Load(t2, fp, w1, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.SetCmp(CondULt, t3, t2, t3)
	c.m.Store(fp, w1, t2, 8)
	c.m.Load(t2, fp, w2, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.Store(fp, w2, t2, 8)

	// a1*b0: w1 += lo, w2 += hi + carry
	c.m.Load(t0, fp, x+8, 8, false)
	c.m.Load(t1, fp, y, 8, false)
	c.m.MulWide(t2, t3, t0, t1)
	c.m.Load(t0, fp, w2, 8, false)
	c.m.ALU(ALUAdd, t0, t0, t2)
	c.m.Store(fp, w2, t0, 8)
	c.m.Load(t2, fp, w1, 8, false)
	c.m.ALU(ALUAdd, t2, t2, t3)
	c.m.SetCmp(CondULt, t3, t2, t3)
	c.m.Store(fp, w1, t2, 8)
	c.m.Load(t0, fp, w2, 8, false)
	c.m.ALU(ALUAdd, t0, t0, t3)
	c.m.Store(fp, w2, t0, 8)

	// a1*b1 low word, then the signed corrections
	c.m.Load(t0, fp, x+8, 8, false)
	c.m.Load(t1, fp, y+8, 8, false)
	c.m.ALU(ALUMul, t2, t0, t1)
	c.m.Load(t3, fp, w2, 8, false)
	c.m.ALU(ALUAdd, t3, t3, t2)

	skipA, skipB := c.label(), c.label()
	c.m.BranchImm(CondGe, t0, 0, skipA)
	c.m.Load(t2, fp, y, 8, false)
	c.m.ALU(ALUSub, t3, t3, t2)
	c.buf.Bind(skipA)
	c.m.BranchImm(CondGe, t1, 0, skipB)
	c.m.Load(t2, fp, x, 8, false)
	c.m.ALU(ALUSub, t3, t3, t2)
	c.buf.Bind(skipB)

	c.m.Store(fp, dst+8, t3, 8)
	c.m.Load(t2, fp, w1, 8, false)
	c.m.Store(fp, dst, t2, 8)
}

// galacticTerms lists, per result component, the operand component pairs
// of the hyper-dual product. ε1² and ε2² vanish, so a1·b1 and a2·b2 never
// contribute.
var galacticTerms = [4][][2]int{
	{{0, 0}},
	{{0, 1}, {1, 0}},
	{{0, 2}, {2, 0}},
	{{0, 3}, {1, 2}, {2, 1}, {3, 0}},
}

// galacticMulInto multiplies the galactic copies at FP+a and FP+b into
// FP+dst.
func (c *compiler) galacticMulInto(dst, a, b, tmp, work int64) {
	comp := func(base int64, i int) int64 { return base + int64(i)*q64Size }
	for k, terms := range galacticTerms {
		c.q64Mul(comp(dst, k), comp(a, terms[0][0]), comp(b, terms[0][1]), work)
		for _, p := range terms[1:] {
			c.q64Mul(tmp, comp(a, p[0]), comp(b, p[1]), work)
			c.q64Add(comp(dst, k), tmp)
		}
	}
}

func (c *compiler) lowerGalactic(in *ir.Instr) {
	fp := c.t.FP
	t1 := c.tmp(1)
	void, done := c.label(), c.label()

	// every galactic operation is VOID when any operand is
	var regs [2]Reg
	for i, a := range in.Args {
		regs[i] = c.get(a, c.tmp(i))
		c.m.BranchImm(CondEq, regs[i], voidImage(a.Type), void)
	}
	a, b := regs[0], regs[1]
	r := c.regions[in]

	switch in.Op {
	case ir.OpGalacticAdd:
		for k := int64(0); k < 4; k++ {
			c.q64AddMem(r+k*q64Size, a, b, k*q64Size)
		}
		c.finishRegion(in, r, void, done)

	case ir.OpGalacticMul:
		s := c.scratch[in]
		c.copyMem(fp, s, a, 0, galacticSize, c.tmp(2))
		c.copyMem(fp, s+galScratchB, b, 0, galacticSize, c.tmp(2))
		c.galacticMulInto(r, s, s+galScratchB, s+galScratchWork, s+galScratchWork+q64Size)
		c.finishRegion(in, r, void, done)

	case ir.OpGalacticPredict:
		// g[0] + g[1]*dt
		s := c.scratch[in]
		c.copyMem(fp, s, a, 0, galacticSize, c.tmp(2))
		c.copyMem(fp, s+galScratchB, b, 0, q64Size, c.tmp(2))
		c.q64Mul(r, s+q64Size, s+galScratchB, s+galScratchWork)
		c.q64Add(r, s)
		c.finishRegion(in, r, void, done)

	case ir.OpGalacticExtract:
		d := c.dst(in.Result)
		c.m.AddImm(d, a, in.Imm*q64Size)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, ir.VoidBits)
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpGalacticInsert:
		c.copyMem(fp, r, a, 0, galacticSize, c.tmp(2))
		c.copyMem(fp, r+in.Imm*q64Size, b, 0, q64Size, c.tmp(2))
		c.finishRegion(in, r, void, done)

	case ir.OpToScalar:
		c.m.MovImm(c.tmp(2), 0)
		c.m.Store(fp, r, c.tmp(2), 8)
		c.m.Store(fp, r+8, a, 8)
		c.finishRegion(in, r, void, done)

	case ir.OpToGalactic:
		c.copyMem(fp, r, a, 0, q64Size, c.tmp(2))
		c.m.MovImm(c.tmp(2), 0)
		for off := int64(q64Size); off < galacticSize; off += 8 {
			c.m.Store(fp, r+off, c.tmp(2), 8)
		}
		c.finishRegion(in, r, void, done)

	case ir.OpFromGalactic:
		d := c.dst(in.Result)
		c.m.Mov(d, a)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, ir.VoidBits)
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpFromScalar:
		// the integer part, VOID when it does not fit the result type
		rt := in.Result.Type
		d := c.dst(in.Result)
		c.m.Load(t1, a, 8, 8, false)
		if !rt.Underlying().IsSigned() {
			c.m.BranchImm(CondLt, t1, 0, void)
		}
		c.canonicalCheck(t1, rt, void)
		c.m.Mov(d, t1)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, voidImage(rt))
		c.buf.Bind(done)
		c.put(in.Result, d)
	}
}
