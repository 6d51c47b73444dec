package backend

import (
	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/ir"
)

// capCheck jumps to fail unless the capability at cp admits an access at
// off with the need permissions. Checks run in a fixed order: VOID operands,
// a stale generation, the bound, then the permission mask.
func (c *compiler) capCheck(cp, off Reg, offType *ir.Type, need int64, fail asm.Label) {
	t2, t3 := c.tmp(2), c.tmp(3)
	c.m.BranchImm(CondEq, cp, ir.VoidBits, fail)
	c.m.BranchImm(CondEq, off, voidImage(offType), fail)

	c.m.Load(t2, cp, ir.CapGenerationOffset, 8, false)
	c.m.Load(t3, c.t.CapCtx, 0, 8, false)
	c.m.BranchCmp(CondULt, t2, t3, fail)

	c.m.Load(t2, cp, ir.CapLengthOffset, 8, false)
	c.m.BranchCmp(CondUGe, off, t2, fail)

	c.m.Load(t2, cp, ir.CapPermsOffset, 8, false)
	c.m.MovImm(t3, uint64(need))
	c.m.ALU(ALUAnd, t2, t2, t3)
	c.m.BranchCmp(CondNe, t2, t3, fail)
}

func (c *compiler) lowerCap(in *ir.Instr) {
	fp := c.t.FP
	t2, t3 := c.tmp(2), c.tmp(3)

	switch in.Op {
	case ir.OpCapCreate:
		r := c.regions[in]
		void, done := c.label(), c.label()
		base := c.get(in.Args[0], c.tmp(0))
		length := c.get(in.Args[1], c.tmp(1))
		perms := c.get(in.Args[2], t2)
		c.m.BranchImm(CondEq, base, voidImage(in.Args[0].Type), void)
		c.m.BranchImm(CondEq, length, voidImage(in.Args[1].Type), void)
		c.m.BranchImm(CondEq, perms, voidImage(in.Args[2].Type), void)
		c.m.Store(fp, r+ir.CapBaseOffset, base, 8)
		c.m.Store(fp, r+ir.CapLengthOffset, length, 8)
		c.m.Store(fp, r+ir.CapPermsOffset, perms, 8)
		c.m.Load(t3, c.t.CapCtx, 0, 8, false)
		c.m.Store(fp, r+ir.CapGenerationOffset, t3, 8)
		c.finishRegion(in, r, void, done)

	case ir.OpCapLoad:
		cp := c.get(in.Args[0], c.tmp(0))
		off := c.get(in.Args[1], c.tmp(1))
		fail, done := c.label(), c.label()
		c.capCheck(cp, off, in.Args[1].Type, ir.PermRead, fail)
		d := c.dst(in.Result)
		c.m.Load(t2, cp, ir.CapBaseOffset, 8, false)
		c.m.ALU(ALUAdd, t2, t2, off)
		c.m.Load(d, t2, 0, width(in.Type), signed(in.Type))
		c.m.Jump(done)
		c.buf.Bind(fail)
		c.m.MovImm(d, voidImage(in.Type))
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpCapStore:
		cp := c.get(in.Args[0], c.tmp(0))
		off := c.get(in.Args[1], c.tmp(1))
		fail := c.label()
		c.capCheck(cp, off, in.Args[1].Type, ir.PermWrite, fail)
		c.m.Load(t2, cp, ir.CapBaseOffset, 8, false)
		c.m.ALU(ALUAdd, t2, t2, off)
		v := c.get(in.Args[2], t3)
		c.m.Store(t2, 0, v, width(in.Type))
		c.buf.Bind(fail)

	case ir.OpCapCheck:
		cp := c.get(in.Args[0], c.tmp(0))
		off := c.get(in.Args[1], c.tmp(1))
		fail, done := c.label(), c.label()
		c.capCheck(cp, off, in.Args[1].Type, in.Imm, fail)
		d := c.dst(in.Result)
		c.m.MovImm(d, 1)
		c.m.Jump(done)
		c.buf.Bind(fail)
		c.m.MovImm(d, 0)
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpCapNarrow:
		r := c.regions[in]
		void, done := c.label(), c.label()
		cp := c.get(in.Args[0], c.tmp(0))
		off := c.get(in.Args[1], c.tmp(1))
		n := c.get(in.Args[2], t2)
		c.m.BranchImm(CondEq, cp, ir.VoidBits, void)
		c.m.BranchImm(CondEq, off, voidImage(in.Args[1].Type), void)
		c.m.BranchImm(CondEq, n, voidImage(in.Args[2].Type), void)
		c.m.Load(t3, cp, ir.CapLengthOffset, 8, false)
		c.m.BranchCmp(CondUGt, off, t3, void)
		c.m.ALU(ALUSub, t3, t3, off)
		c.m.BranchCmp(CondUGt, n, t3, void)

		c.m.Store(fp, r+ir.CapLengthOffset, n, 8)
		c.m.Load(t3, cp, ir.CapBaseOffset, 8, false)
		c.m.ALU(ALUAdd, t3, t3, off)
		c.m.Store(fp, r+ir.CapBaseOffset, t3, 8)
		c.m.Load(t3, cp, ir.CapGenerationOffset, 8, false)
		c.m.Store(fp, r+ir.CapGenerationOffset, t3, 8)
		c.m.Load(t3, cp, ir.CapPermsOffset, 8, false)
		c.m.MovImm(t2, ^uint64(ir.PermDerive))
		c.m.ALU(ALUAnd, t3, t3, t2)
		c.m.Store(fp, r+ir.CapPermsOffset, t3, 8)
		c.finishRegion(in, r, void, done)

	case ir.OpCapSplit:
		r := c.regions[in]
		void, done := c.label(), c.label()
		cp := c.get(in.Args[0], c.tmp(0))
		at := c.get(in.Args[1], c.tmp(1))
		c.m.BranchImm(CondEq, cp, ir.VoidBits, void)
		c.m.BranchImm(CondEq, at, voidImage(in.Args[1].Type), void)
		c.m.Load(t2, cp, ir.CapLengthOffset, 8, false)
		c.m.BranchCmp(CondUGt, at, t2, void)

		c.m.Load(t3, cp, ir.CapBaseOffset, 8, false)
		if in.Imm == 0 {
			c.m.Store(fp, r+ir.CapBaseOffset, t3, 8)
			c.m.Store(fp, r+ir.CapLengthOffset, at, 8)
		} else {
			c.m.ALU(ALUAdd, t3, t3, at)
			c.m.Store(fp, r+ir.CapBaseOffset, t3, 8)
			c.m.ALU(ALUSub, t2, t2, at)
			c.m.Store(fp, r+ir.CapLengthOffset, t2, 8)
		}
		c.m.Load(t3, cp, ir.CapGenerationOffset, 8, false)
		c.m.Store(fp, r+ir.CapGenerationOffset, t3, 8)
		c.m.Load(t3, cp, ir.CapPermsOffset, 8, false)
		c.m.Store(fp, r+ir.CapPermsOffset, t3, 8)
		c.finishRegion(in, r, void, done)

	case ir.OpCapRevoke:
		c.m.AtomicInc(c.t.CapCtx)
	}
}

// finishRegion ends an aggregate-producing sequence: the result is the
// region's address on the success path and VOID when void is taken.
func (c *compiler) finishRegion(in *ir.Instr, region int64, void, done asm.Label) {
	d := c.dst(in.Result)
	c.m.AddImm(d, c.t.FP, region)
	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, ir.VoidBits)
	c.buf.Bind(done)
	c.put(in.Result, d)
}

func (c *compiler) lowerMemory(in *ir.Instr) {
	fp := c.t.FP
	t2, t3 := c.tmp(2), c.tmp(3)

	switch in.Op {
	case ir.OpAlloca:
		d := c.dst(in.Result)
		c.m.AddImm(d, fp, c.regions[in])
		c.put(in.Result, d)

	case ir.OpLoad:
		p := c.get(in.Args[0], c.tmp(0))
		d := c.dst(in.Result)
		c.m.Load(d, p, 0, width(in.Type), signed(in.Type))
		c.put(in.Result, d)

	case ir.OpStore:
		p := c.get(in.Args[0], c.tmp(0))
		v := c.get(in.Args[1], c.tmp(1))
		c.m.Store(p, 0, v, width(in.Type))

	case ir.OpMemcpy, ir.OpMemset:
		d := c.get(in.Args[0], c.tmp(0))
		s := c.get(in.Args[1], c.tmp(1))
		n := c.get(in.Args[2], t2)
		if in.Op == ir.OpMemcpy {
			c.m.CopyBytes(d, s, n)
		} else {
			c.m.SetBytes(d, s, n)
		}

	case ir.OpGEP:
		void, done := c.label(), c.label()
		p := c.get(in.Args[0], c.tmp(0))
		o := c.get(in.Args[1], c.tmp(1))
		c.m.BranchImm(CondEq, p, voidImage(in.Args[0].Type), void)
		c.m.BranchImm(CondEq, o, voidImage(in.Args[1].Type), void)
		d := c.dst(in.Result)
		if len(in.Args) == 3 {
			s := c.get(in.Args[2], t2)
			c.m.BranchImm(CondEq, s, voidImage(in.Args[2].Type), void)
			c.m.ALU(ALUMul, t2, o, s)
			c.m.ALU(ALUAdd, d, p, t2)
		} else {
			c.m.ALU(ALUAdd, d, p, o)
		}
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, voidImage(in.Result.Type))
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpExtractField:
		ft, off := c.field(in.Args[0].Type, in.Imm)
		agg := c.get(in.Args[0], c.tmp(0))
		void, done := c.label(), c.label()
		c.m.BranchImm(CondEq, agg, ir.VoidBits, void)
		d := c.dst(in.Result)
		c.readMember(d, agg, int64(off), ft)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, voidImage(ft))
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpInsertField:
		at := in.Args[0].Type
		ft, off := c.field(at, in.Imm)
		r := c.regions[in]
		void, done := c.label(), c.label()
		agg := c.get(in.Args[0], c.tmp(0))
		c.m.BranchImm(CondEq, agg, ir.VoidBits, void)
		c.copyMem(fp, r, agg, 0, int64(at.Size()), t2)
		v := c.get(in.Args[1], c.tmp(1))
		c.writeMember(fp, r+int64(off), v, ft)
		c.finishRegion(in, r, void, done)

	case ir.OpExtractElem:
		void, done := c.label(), c.label()
		agg := c.get(in.Args[0], c.tmp(0))
		et := c.elemAddr(in, agg, void)
		ft := in.Result.Type
		d := c.dst(in.Result)
		c.readMember(d, et, 0, ft)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, voidImage(ft))
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpInsertElem:
		at := in.Args[0].Type
		r := c.regions[in]
		void, done := c.label(), c.label()
		agg := c.get(in.Args[0], c.tmp(0))
		ea := c.elemAddr(in, agg, void)
		// ea holds agg+idx*stride; rebase it onto the region copy
		c.m.ALU(ALUSub, ea, ea, agg)
		c.copyMem(fp, r, agg, 0, int64(at.Size()), t3)
		c.m.AddImm(c.tmp(0), fp, r)
		c.m.ALU(ALUAdd, ea, ea, c.tmp(0))
		v := c.get(in.Args[2], c.tmp(1))
		c.writeMember(ea, 0, v, at.Underlying().Elem)
		c.finishRegion(in, r, void, done)
	}
}

// field resolves a member of a verified aggregate type.
func (c *compiler) field(t *ir.Type, idx int64) (*ir.Type, uint64) {
	ft, off, err := c.fn.Module().AggregateField(t, int(idx))
	if err != nil {
		c.buf.Fail(err)
		return t, 0
	}
	return ft, off
}

// elemAddr bounds-checks the index operand of an element access and returns
// the register holding the element's address, jumping to void when the
// aggregate or index is VOID or the index is out of range.
func (c *compiler) elemAddr(in *ir.Instr, agg Reg, void asm.Label) Reg {
	at := in.Args[0].Type.Underlying()
	t2 := c.tmp(2)
	idx := c.get(in.Args[1], c.tmp(1))
	c.m.BranchImm(CondEq, agg, ir.VoidBits, void)
	c.m.BranchImm(CondEq, idx, voidImage(in.Args[1].Type), void)
	c.m.MovImm(t2, at.Len)
	c.m.BranchCmp(CondUGe, idx, t2, void)
	c.m.MovImm(t2, at.ElemStride())
	c.m.ALU(ALUMul, t2, idx, t2)
	c.m.ALU(ALUAdd, t2, agg, t2)
	return t2
}

// readMember yields a member at base+off: aggregates by interior address,
// register types by value.
func (c *compiler) readMember(d, base Reg, off int64, t *ir.Type) {
	if t.IsAggregate() {
		c.m.AddImm(d, base, off)
		return
	}
	c.m.Load(d, base, off, width(t), signed(t))
}

// writeMember stores v into base+off. A VOID aggregate leaves the member
// untouched.
func (c *compiler) writeMember(base Reg, off int64, v Reg, t *ir.Type) {
	if !t.IsAggregate() {
		c.m.Store(base, off, v, width(t))
		return
	}
	skip := c.label()
	c.m.BranchImm(CondEq, v, ir.VoidBits, skip)
	c.copyMem(base, off, v, 0, int64(t.Size()), c.tmp(3))
	c.buf.Bind(skip)
}

func (c *compiler) lowerSubstrate(in *ir.Instr) {
	ctx := c.t.SubstrateCtx
	switch in.Op {
	case ir.OpSubstrateEnter:
		d := c.dst(in.Result)
		c.m.Load(d, ctx, 0, 8, false)
		c.m.MovImm(c.tmp(0), uint64(in.Imm))
		c.m.Store(ctx, 0, c.tmp(0), 8)
		c.put(in.Result, d)

	case ir.OpSubstrateExit:
		v := c.get(in.Args[0], c.tmp(0))
		volatile, done := c.label(), c.label()
		c.m.BranchImm(CondEq, v, voidImage(in.Args[0].Type), volatile)
		c.m.Store(ctx, 0, v, 8)
		c.m.Jump(done)
		c.buf.Bind(volatile)
		c.m.MovImm(c.tmp(1), uint64(ir.SubstrateVolatile))
		c.m.Store(ctx, 0, c.tmp(1), 8)
		c.buf.Bind(done)
	}
}

func (c *compiler) lowerChronon(in *ir.Instr) {
	switch in.Op {
	case ir.OpChrononNow:
		d := c.dst(in.Result)
		c.m.ReadTimer(d)
		c.put(in.Result, d)

	case ir.OpChrononDelta:
		c.lowerBinary(ir.OpSub, in.Result.Type, in.Args[1], in.Args[0], in.Result)

	case ir.OpChrononBudget:
		start := c.get(in.Args[0], c.tmp(0))
		limit := c.get(in.Args[1], c.tmp(1))
		d := c.dst(in.Result)
		void, done := c.label(), c.label()
		c.m.BranchImm(CondEq, start, voidImage(in.Args[0].Type), void)
		c.m.BranchImm(CondEq, limit, voidImage(in.Args[1].Type), void)
		c.m.ReadTimer(c.tmp(2))
		c.m.ALU(ALUSub, c.tmp(2), c.tmp(2), start)
		c.m.SetCmp(CondULe, d, c.tmp(2), limit)
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(d, ir.VoidByte)
		c.buf.Bind(done)
		c.put(in.Result, d)

	case ir.OpChrononYield:
		c.m.MovImm(c.t.SyscallNum, c.t.SysYield)
		c.m.Syscall()
	}
}
