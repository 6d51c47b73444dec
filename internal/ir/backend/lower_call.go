package backend

import (
	"github.com/tinyrange/seraph/internal/ir"
)

// lowerCall emits a direct, indirect or tail call. Arguments are staged in
// the outgoing area before any argument register is written, so sources
// living in argument registers or temporaries are never overwritten early.
//
//	SP + 0              arguments passed on the stack
//	SP + 8*stack        staged register arguments
//	SP + 8*(stack+n)    indirect callee
func (c *compiler) lowerCall(in *ir.Instr, callee *ir.Function, fp *ir.Value, args []*ir.Value, tail bool) {
	sp := c.t.SP
	nregs := len(c.t.ArgRegs)
	stack := len(args) - nregs
	if stack < 0 {
		stack = 0
	}
	staging := int64(8 * stack)

	for i, a := range args {
		r := c.get(a, c.tmp(0))
		if i < nregs {
			c.m.Store(sp, staging+8*int64(i), r, 8)
		} else {
			c.m.Store(sp, 8*int64(i-nregs), r, 8)
		}
	}
	if fp != nil {
		r := c.get(fp, c.tmp(0))
		c.m.Store(sp, staging+8*int64(len(args)), r, 8)
	}
	for i := 0; i < len(args) && i < nregs; i++ {
		c.m.Load(c.t.ArgRegs[i], sp, staging+8*int64(i), 8, false)
	}

	switch {
	case fp != nil:
		c.m.Load(c.t.CallScratch, sp, staging+8*int64(len(args)), 8, false)
		c.m.CallReg(c.t.CallScratch)
	case tail && stack == 0:
		// the callee returns straight to our caller
		c.m.Epilogue(c.alloc.saves, c.fr.size(), false)
		c.mp.calls = append(c.mp.calls, c.mp.fixupFor(c.m.JumpSite(), callee))
		return
	default:
		c.mp.calls = append(c.mp.calls, c.mp.fixupFor(c.m.CallSite(), callee))
	}

	if tail {
		// stack arguments live in our frame, so return through it
		c.m.Jump(c.exit)
		return
	}
	if in.Result != nil {
		c.callResult(in, c.t.RetReg)
	}
}

// callResult stores a value returned in r. Aggregates come back by address
// into the callee's dead frame and are copied out at once.
func (c *compiler) callResult(in *ir.Instr, r Reg) {
	t := in.Result.Type
	if !t.IsAggregate() {
		c.put(in.Result, r)
		return
	}
	src, d := c.tmp(1), c.tmp(3)
	region := c.regions[in]
	void, done := c.label(), c.label()
	c.m.Mov(src, r)
	c.m.BranchImm(CondEq, src, ir.VoidBits, void)
	c.copyMem(c.t.FP, region, src, 0, int64(t.Size()), c.tmp(0))
	c.m.AddImm(d, c.t.FP, region)
	c.m.Jump(done)
	c.buf.Bind(void)
	c.m.MovImm(d, ir.VoidBits)
	c.buf.Bind(done)
	c.put(in.Result, d)
}

// lowerRuntime calls the runtime entry point behind a runtime opcode.
// Operands are passed in argument registers in order.
func (c *compiler) lowerRuntime(in *ir.Instr) {
	if in.Op == ir.OpGalacticDiv {
		// VOID operands never reach the runtime
		void, done := c.label(), c.label()
		a := c.get(in.Args[0], c.tmp(0))
		b := c.get(in.Args[1], c.tmp(1))
		c.m.BranchImm(CondEq, a, ir.VoidBits, void)
		c.m.BranchImm(CondEq, b, ir.VoidBits, void)
		c.runtimeCall(in, in.Op.RuntimeSymbol())
		c.m.Jump(done)
		c.buf.Bind(void)
		c.m.MovImm(c.tmp(3), ir.VoidBits)
		c.put(in.Result, c.tmp(3))
		c.buf.Bind(done)
		return
	}
	c.runtimeCall(in, in.Op.RuntimeSymbol())
}

func (c *compiler) runtimeCall(in *ir.Instr, symbol string) {
	sp := c.t.SP
	for i, a := range in.Args {
		c.m.Store(sp, 8*int64(i), c.get(a, c.tmp(0)), 8)
	}
	for i := range in.Args {
		c.m.Load(c.t.ArgRegs[i], sp, 8*int64(i), 8, false)
	}
	c.mp.calls = append(c.mp.calls, c.mp.stubFixup(c.m.CallSite(), symbol))
	if in.Result != nil {
		c.callResult(in, c.t.RetReg)
	}
}

// lowerSyscall stages the number and arguments, then loads the kernel's
// argument registers. The result is the raw kernel return value.
func (c *compiler) lowerSyscall(in *ir.Instr) {
	sp := c.t.SP
	for i, a := range in.Args {
		c.m.Store(sp, 8*int64(i), c.get(a, c.tmp(0)), 8)
	}
	for i := 1; i < len(in.Args); i++ {
		c.m.Load(c.t.SyscallArgs[i-1], sp, 8*int64(i), 8, false)
	}
	c.m.Load(c.t.SyscallNum, sp, 0, 8, false)
	c.m.Syscall()
	c.put(in.Result, c.t.RetReg)
}
