package backend

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/ir"
)

// compiler lowers one function. It is created per function by the module
// pass and shares the module's code buffer.
type compiler struct {
	mp  *modulePass
	t   *Target
	m   Machine
	buf *asm.Buffer
	fn  *ir.Function

	lv    *liveness
	alloc *allocation
	fr    frame

	regions    map[*ir.Instr]int64
	scratch    map[*ir.Instr]int64
	strRegions map[*ir.StringConst]int64
	phiStage   map[*ir.Instr]int64
	phiRegion  map[*ir.Instr]int64
	phiBuffer  map[*ir.Instr]int64

	labels  map[*ir.Block]asm.Label
	exit    asm.Label
	edges   []edge
	listing []ListingEntry
}

// edge is a stub that performs the phi copies of one CFG edge before
// jumping to the successor.
type edge struct {
	label    asm.Label
	from, to *ir.Block
}

func (mp *modulePass) newCompiler(fn *ir.Function) *compiler {
	return &compiler{
		mp:         mp,
		t:          mp.t,
		m:          mp.m,
		buf:        mp.buf,
		fn:         fn,
		regions:    make(map[*ir.Instr]int64),
		scratch:    make(map[*ir.Instr]int64),
		strRegions: make(map[*ir.StringConst]int64),
		phiStage:   make(map[*ir.Instr]int64),
		phiRegion:  make(map[*ir.Instr]int64),
		phiBuffer:  make(map[*ir.Instr]int64),
		labels:     make(map[*ir.Block]asm.Label),
	}
}

func (c *compiler) tmp(i int) Reg { return c.t.Temps[i] }

func (c *compiler) compile() error {
	c.lv = computeLiveness(c.fn)
	c.alloc = linearScan(c.t, c.lv.intervals)
	c.fr.saveArea = c.t.SaveArea(len(c.alloc.saves))
	c.assignSlots()
	c.plan()

	for _, b := range c.lv.order {
		c.labels[b] = c.buf.NewLabel()
	}
	c.exit = c.buf.NewLabel()

	c.m.Prologue(c.alloc.saves, c.fr.size())
	for i, p := range c.fn.Params {
		if i < len(c.t.ArgRegs) {
			c.m.Store(c.t.FP, c.lv.intervals[p.ID].slot, c.t.ArgRegs[i], 8)
		}
	}

	for i, b := range c.lv.order {
		c.buf.Bind(c.labels[b])
		var next *ir.Block
		if i+1 < len(c.lv.order) {
			next = c.lv.order[i+1]
		}
		for in := b.First(); in != nil; in = in.Next() {
			if in.Op == ir.OpPhi || in.Op == ir.OpNop {
				continue
			}
			start := c.buf.Len()
			if err := c.lower(in, next); err != nil {
				return fmt.Errorf("%s: %s: %w", c.fn.Name, in.Op, err)
			}
			c.listing = append(c.listing, ListingEntry{
				Function: c.fn.Name,
				Offset:   start,
				Size:     c.buf.Len() - start,
				Text:     ir.FormatInstr(in),
				Loc:      in.Loc,
			})
		}
		c.flushEdges()
	}

	c.buf.Bind(c.exit)
	c.m.Epilogue(c.alloc.saves, c.fr.size(), true)
	return c.buf.Err()
}

// assignSlots gives every interval without a register a frame slot.
// Parameters passed on the stack keep their incoming location.
func (c *compiler) assignSlots() {
	nregs := len(c.t.ArgRegs)
	for i, p := range c.fn.Params {
		iv := c.lv.intervals[p.ID]
		if iv == nil {
			continue
		}
		if i >= nregs {
			iv.slot = c.t.FirstStackArg + 8*int64(i-nregs)
		} else {
			iv.slot = c.fr.slot()
		}
	}
	for _, iv := range c.alloc.intervals {
		if !iv.inReg && iv.value.Kind != ir.ValueParam {
			iv.slot = c.fr.slot()
		}
	}
}

func producesRegion(op ir.Opcode) bool {
	switch op {
	case ir.OpCapCreate, ir.OpCapNarrow, ir.OpCapSplit,
		ir.OpInsertField, ir.OpInsertElem,
		ir.OpGalacticAdd, ir.OpGalacticMul, ir.OpGalacticDiv, ir.OpGalacticPredict,
		ir.OpGalacticInsert, ir.OpToScalar, ir.OpToGalactic,
		ir.OpCall, ir.OpCallIndirect:
		return true
	}
	return false
}

// galactic scratch: two 64-byte operand copies and a 32-byte work area
const (
	galScratchB    = 64
	galScratchWork = 128
	galScratchSize = 160
)

// plan reserves every region the body needs before the prologue fixes the
// frame size.
func (c *compiler) plan() {
	nregs := int64(len(c.t.ArgRegs))
	for _, b := range c.lv.order {
		for in := b.First(); in != nil; in = in.Next() {
			switch {
			case in.Op == ir.OpPhi:
				c.phiStage[in] = c.fr.slot()
				if t := in.Result.Type; t.IsAggregate() {
					c.phiRegion[in] = c.fr.alloc(int64(t.Size()), int64(t.Align()))
					c.phiBuffer[in] = c.fr.alloc(int64(t.Size()), int64(t.Align()))
				}
			case in.Op == ir.OpAlloca:
				c.regions[in] = c.fr.alloc(int64(in.Type.Size()), int64(in.Type.Align()))
			case in.Result != nil && in.Result.Type.IsAggregate() && producesRegion(in.Op):
				t := in.Result.Type
				c.regions[in] = c.fr.alloc(int64(t.Size()), int64(t.Align()))
			}
			if in.Op == ir.OpGalacticMul || in.Op == ir.OpGalacticPredict {
				c.scratch[in] = c.fr.alloc(galScratchSize, 16)
			}
			for _, a := range in.Args {
				if a.Kind == ir.ValueString {
					if _, ok := c.strRegions[a.Str]; !ok {
						c.strRegions[a.Str] = c.fr.alloc(16, 8)
					}
				}
			}

			switch {
			case in.Op.IsCall():
				n := int64(len(in.Args))
				if in.Op == ir.OpCallIndirect {
					n--
				}
				stack := n - nregs
				if stack < 0 {
					stack = 0
				}
				c.fr.reserveOutgoing(8 * (stack + n + 1))
			case in.Op == ir.OpSyscall || in.Op.IsRuntimeCall():
				c.fr.reserveOutgoing(8 * int64(len(in.Args)+1))
			}
		}
	}
}

// loc returns the allocation of a vreg or parameter.
func (c *compiler) loc(v *ir.Value) *interval { return c.lv.intervals[v.ID] }

// voidImage is the register image of VOID for values of t.
func voidImage(t *ir.Type) uint64 {
	if t.IsAggregate() {
		return ir.VoidBits
	}
	return ir.VoidPattern(t)
}

// width is the in-memory size of a register-held type.
func width(t *ir.Type) int {
	n := t.Underlying().Bits() / 8
	if n == 0 {
		return 1
	}
	return n
}

func signed(t *ir.Type) bool { return t.Underlying().IsSigned() }

// get returns a register holding v, materialising it in tmp when it does not
// already live in one.
func (c *compiler) get(v *ir.Value, tmp Reg) Reg {
	switch v.Kind {
	case ir.ValueVReg, ir.ValueParam:
		iv := c.loc(v)
		if iv.inReg {
			return iv.reg
		}
		c.m.Load(tmp, c.t.FP, iv.slot, 8, false)
	case ir.ValueConst:
		if v.Type.IsAggregate() {
			c.dataAddr(tmp, SectionRodata, c.mp.constant(v))
			break
		}
		c.m.MovImm(tmp, uint64(v.Int))
	case ir.ValueVoidConst:
		c.m.MovImm(tmp, voidImage(v.Type))
	case ir.ValueGlobal:
		c.dataAddr(tmp, SectionData, c.mp.globals[v.Global])
	case ir.ValueString:
		off := c.strRegions[v.Str]
		c.dataAddr(tmp, SectionRodata, c.mp.strings[v.Str])
		c.m.Store(c.t.FP, off, tmp, 8)
		c.m.MovImm(tmp, uint64(v.Str.Len()))
		c.m.Store(c.t.FP, off+8, tmp, 8)
		c.m.AddImm(tmp, c.t.FP, off)
	case ir.ValueFuncPtr:
		c.funcAddr(tmp, v.Func)
	}
	return tmp
}

// dst returns the register a result is computed into.
func (c *compiler) dst(v *ir.Value) Reg {
	if iv := c.loc(v); iv.inReg {
		return iv.reg
	}
	return c.tmp(3)
}

// put moves a computed result to its home.
func (c *compiler) put(v *ir.Value, r Reg) {
	iv := c.loc(v)
	if iv.inReg {
		c.m.Mov(iv.reg, r)
		return
	}
	c.m.Store(c.t.FP, iv.slot, r, 8)
}

func (c *compiler) dataAddr(dst Reg, sec Section, off uint64) {
	site := c.m.DataAddr(dst)
	c.mp.dataRefs = append(c.mp.dataRefs, DataRef{Site: site, Section: sec, Offset: off})
}

func (c *compiler) funcAddr(dst Reg, fn *ir.Function) {
	site := c.m.FuncAddr(dst)
	c.mp.addrFixups = append(c.mp.addrFixups, c.mp.fixupFor(site, fn))
}

// copyMem copies size bytes between two base+offset addresses through tmp.
func (c *compiler) copyMem(dstBase Reg, dstOff int64, srcBase Reg, srcOff int64, size int64, tmp Reg) {
	for n := int64(0); n < size; {
		chunk := int64(8)
		for chunk > size-n {
			chunk /= 2
		}
		c.m.Load(tmp, srcBase, srcOff+n, int(chunk), false)
		c.m.Store(dstBase, dstOff+n, tmp, int(chunk))
		n += chunk
	}
}

func (c *compiler) label() asm.Label { return c.buf.NewLabel() }

func hasPhis(b *ir.Block) bool {
	first := b.First()
	return first != nil && first.Op == ir.OpPhi
}

// edgeTarget returns where a branch from one block to another should land:
// the block itself, or a stub that first performs the phi copies.
func (c *compiler) edgeTarget(from, to *ir.Block) asm.Label {
	if !hasPhis(to) {
		return c.labels[to]
	}
	l := c.label()
	c.edges = append(c.edges, edge{label: l, from: from, to: to})
	return l
}

func (c *compiler) flushEdges() {
	for _, e := range c.edges {
		c.buf.Bind(e.label)
		c.phiCopies(e.from, e.to)
		c.m.Jump(c.labels[e.to])
	}
	c.edges = c.edges[:0]
}

// phiCopies assigns the phis of to from the edge leaving from. Sources are
// staged in the frame first so that every phi observes the values from
// before the edge. Aggregate phis own a region and receive a byte copy.
func (c *compiler) phiCopies(from, to *ir.Block) {
	var phis []*ir.Instr
	for in := to.First(); in != nil && in.Op == ir.OpPhi; in = in.Next() {
		phis = append(phis, in)
	}
	for _, p := range phis {
		var src *ir.Value
		for i, b := range p.Incoming {
			if b == from {
				src = p.Args[i]
				break
			}
		}
		if src == nil {
			c.buf.Fail(fmt.Errorf("phi %s has no value for edge from %s", p.Result, from.Label()))
			return
		}
		r := c.get(src, c.tmp(0))
		if t := p.Result.Type; t.IsAggregate() {
			skip := c.label()
			c.m.BranchImm(CondEq, r, ir.VoidBits, skip)
			c.copyMem(c.t.FP, c.phiBuffer[p], r, 0, int64(t.Size()), c.tmp(1))
			c.buf.Bind(skip)
		}
		c.m.Store(c.t.FP, c.phiStage[p], r, 8)
	}
	for _, p := range phis {
		r := c.tmp(0)
		c.m.Load(r, c.t.FP, c.phiStage[p], 8, false)
		if t := p.Result.Type; t.IsAggregate() {
			skip := c.label()
			c.m.BranchImm(CondEq, r, ir.VoidBits, skip)
			c.copyMem(c.t.FP, c.phiRegion[p], c.t.FP, c.phiBuffer[p], int64(t.Size()), c.tmp(1))
			c.m.AddImm(r, c.t.FP, c.phiRegion[p])
			c.buf.Bind(skip)
		}
		c.put(p.Result, r)
	}
}

// lower emits one instruction. next is the block laid out after the current
// one, so jumps to it can fall through.
func (c *compiler) lower(in *ir.Instr, next *ir.Block) error {
	op := in.Op
	switch {
	case op.IsArithmetic() && op != ir.OpNeg, op.IsBitwise() && op != ir.OpNot:
		c.lowerBinary(op, in.Result.Type, in.Args[0], in.Args[1], in.Result)
		return nil
	case op == ir.OpNeg || op == ir.OpNot:
		c.lowerUnary(in)
		return nil
	case op.IsCompare():
		c.lowerCompare(in)
		return nil
	case op.IsRuntimeCall():
		c.lowerRuntime(in)
		return nil
	}

	switch op {
	case ir.OpJump:
		c.phiCopies(in.Block(), in.Targets[0])
		if in.Targets[0] != next {
			c.m.Jump(c.labels[in.Targets[0]])
		}
	case ir.OpBranch:
		cond := c.get(in.Args[0], c.tmp(0))
		c.m.BranchImm(CondEq, cond, 1, c.edgeTarget(in.Block(), in.Targets[0]))
		c.m.Jump(c.edgeTarget(in.Block(), in.Targets[1]))
	case ir.OpSwitch:
		c.lowerSwitch(in)
	case ir.OpReturn:
		if len(in.Args) > 0 {
			r := c.get(in.Args[0], c.t.RetReg)
			c.m.Mov(c.t.RetReg, r)
		}
		c.m.Jump(c.exit)
	case ir.OpUnreachable, ir.OpTrap:
		c.m.Trap()

	case ir.OpCall:
		c.lowerCall(in, in.Callee, nil, in.Args, false)
	case ir.OpCallIndirect:
		c.lowerCall(in, nil, in.Args[0], in.Args[1:], false)
	case ir.OpTailCall:
		c.lowerCall(in, in.Callee, nil, in.Args, true)
	case ir.OpSyscall:
		c.lowerSyscall(in)

	case ir.OpVoidTest, ir.OpVoidPropagate, ir.OpVoidAssert, ir.OpVoidCoalesce, ir.OpVoidConst:
		c.lowerVoid(in)
	case ir.OpSelect:
		c.lowerSelect(in)
	case ir.OpTrunc, ir.OpZext, ir.OpSext, ir.OpBitcast:
		c.lowerConvert(in)

	case ir.OpCapCreate, ir.OpCapLoad, ir.OpCapStore, ir.OpCapCheck,
		ir.OpCapNarrow, ir.OpCapSplit, ir.OpCapRevoke:
		c.lowerCap(in)

	case ir.OpLoad, ir.OpStore, ir.OpAlloca, ir.OpMemcpy, ir.OpMemset, ir.OpGEP,
		ir.OpExtractField, ir.OpInsertField, ir.OpExtractElem, ir.OpInsertElem:
		c.lowerMemory(in)

	case ir.OpSubstrateEnter, ir.OpSubstrateExit:
		c.lowerSubstrate(in)

	case ir.OpGalacticAdd, ir.OpGalacticMul, ir.OpGalacticPredict, ir.OpGalacticExtract,
		ir.OpGalacticInsert, ir.OpToScalar, ir.OpFromScalar, ir.OpToGalactic, ir.OpFromGalactic:
		c.lowerGalactic(in)

	case ir.OpChrononNow, ir.OpChrononDelta, ir.OpChrononBudget, ir.OpChrononYield:
		c.lowerChronon(in)

	default:
		return fmt.Errorf("no lowering for %s", op)
	}
	return nil
}

func (c *compiler) lowerSwitch(in *ir.Instr) {
	v := c.get(in.Args[0], c.tmp(0))
	blk := in.Block()
	c.m.BranchImm(CondEq, v, voidImage(in.Args[0].Type), c.edgeTarget(blk, in.Targets[0]))
	for _, cs := range in.Cases {
		c.m.BranchImm(CondEq, v, uint64(cs.Value), c.edgeTarget(blk, cs.Target))
	}
	c.m.Jump(c.edgeTarget(blk, in.Targets[0]))
}
