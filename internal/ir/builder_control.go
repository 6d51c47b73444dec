package ir

import "fmt"

// Jump transfers control to target.
func (b *Builder) Jump(target *Block) error {
	if err := b.checkOperands(OpJump); err != nil {
		return err
	}
	if err := b.checkTarget(OpJump, target); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpJump, targets: [2]*Block{target}})
	return err
}

// Branch goes to onTrue when cond is 1 and to onFalse otherwise, including
// when cond is VOID.
func (b *Builder) Branch(cond *Value, onTrue, onFalse *Block) error {
	if err := b.checkOperands(OpBranch, cond); err != nil {
		return err
	}
	if cond.Type.Underlying().Kind != TypeBool {
		return mismatch(OpBranch, "condition %s is not a Vbit", cond.Type)
	}
	if err := b.checkTarget(OpBranch, onTrue, onFalse); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpBranch, args: []*Value{cond}, targets: [2]*Block{onTrue, onFalse}})
	return err
}

// Switch dispatches on an integer value. VOID and unmatched values go to def.
func (b *Builder) Switch(v *Value, def *Block, cases []SwitchCase) error {
	if err := b.checkOperands(OpSwitch, v); err != nil {
		return err
	}
	if !v.Type.Underlying().IsInteger() && v.Type.Underlying().Kind != TypeEnum {
		return mismatch(OpSwitch, "scrutinee %s", v.Type)
	}
	if v.Type.IsAggregate() {
		return mismatch(OpSwitch, "scrutinee %s", v.Type)
	}
	if err := b.checkTarget(OpSwitch, def); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(cases))
	for _, c := range cases {
		if err := b.checkTarget(OpSwitch, c.Target); err != nil {
			return err
		}
		if seen[c.Value] {
			return fmt.Errorf("ir: switch: duplicate case %d", c.Value)
		}
		seen[c.Value] = true
	}
	_, err := b.build(instrSpec{op: OpSwitch, args: []*Value{v}, targets: [2]*Block{def}, cases: append([]SwitchCase(nil), cases...)})
	return err
}

func checkArgs(op Opcode, ft *Type, args []*Value) error {
	if len(args) != len(ft.Params) {
		return fmt.Errorf("ir: %s: %d arguments for %d parameters", op, len(args), len(ft.Params))
	}
	for i, a := range args {
		if !a.Type.Equal(ft.Params[i]) {
			return mismatch(op, "argument %d is %s, parameter is %s", i, a.Type, ft.Params[i])
		}
	}
	return nil
}

func callResult(ft *Type) *Type {
	if ft.Return.Kind == TypeVoid {
		return nil
	}
	return ft.Return
}

// Call invokes fn directly. The result is nil for functions returning void.
func (b *Builder) Call(fn *Function, args ...*Value) (*Value, error) {
	if err := b.checkOperands(OpCall, args...); err != nil {
		return nil, err
	}
	if fn == nil || fn.module != b.m {
		return nil, fmt.Errorf("ir: call: callee is not in module %s", b.m.Name)
	}
	if err := checkArgs(OpCall, fn.Type, args); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpCall, args: args, result: callResult(fn.Type), tag: MaybeVoid, callee: fn, effects: fn.Effects})
}

// CallIndirect invokes the function whose address is fp.
func (b *Builder) CallIndirect(fp *Value, args ...*Value) (*Value, error) {
	all := append([]*Value{fp}, args...)
	if err := b.checkOperands(OpCallIndirect, all...); err != nil {
		return nil, err
	}
	ft := fp.Type.Underlying()
	if ft.Kind != TypeFunction {
		return nil, mismatch(OpCallIndirect, "callee %s is not a function", fp.Type)
	}
	if err := checkArgs(OpCallIndirect, ft, args); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpCallIndirect, args: all, result: callResult(ft), tag: MaybeVoid, effects: ft.Effects})
}

// MaxSyscallArgs is the number of register arguments a syscall accepts.
const MaxSyscallArgs = 6

// Syscall issues system call num with up to six arguments.
func (b *Builder) Syscall(num *Value, args ...*Value) (*Value, error) {
	all := append([]*Value{num}, args...)
	if err := b.checkOperands(OpSyscall, all...); err != nil {
		return nil, err
	}
	if len(args) > MaxSyscallArgs {
		return nil, fmt.Errorf("ir: syscall: %d arguments, at most %d", len(args), MaxSyscallArgs)
	}
	for i, a := range all {
		if a.Type.IsAggregate() || a.Type.Kind == TypeVoid {
			return nil, mismatch(OpSyscall, "operand %d has type %s", i, a.Type)
		}
	}
	return b.value(instrSpec{op: OpSyscall, args: all, result: b.m.prims[TypeI64], tag: NotVoid, effects: EffectRead | EffectWrite})
}

// TailCall transfers to fn, reusing the caller's return.
func (b *Builder) TailCall(fn *Function, args ...*Value) error {
	if err := b.checkOperands(OpTailCall, args...); err != nil {
		return err
	}
	if fn == nil || fn.module != b.m {
		return fmt.Errorf("ir: tailcall: callee is not in module %s", b.m.Name)
	}
	if err := checkArgs(OpTailCall, fn.Type, args); err != nil {
		return err
	}
	if !fn.Type.Return.Equal(b.blk.fn.Type.Return) {
		return mismatch(OpTailCall, "callee returns %s, caller returns %s", fn.Type.Return, b.blk.fn.Type.Return)
	}
	_, err := b.build(instrSpec{op: OpTailCall, args: args, callee: fn, effects: fn.Effects})
	return err
}

// Return leaves the function. v must be nil for void functions.
func (b *Builder) Return(v *Value) error {
	if b.blk == nil {
		return ErrNoInsertPoint
	}
	ret := b.blk.fn.Type.Return
	if v == nil {
		if ret.Kind != TypeVoid {
			return mismatch(OpReturn, "missing %s return value", ret)
		}
		_, err := b.build(instrSpec{op: OpReturn})
		return err
	}
	if err := b.checkOperands(OpReturn, v); err != nil {
		return err
	}
	if !v.Type.Equal(ret) {
		return mismatch(OpReturn, "returning %s from function returning %s", v.Type, ret)
	}
	_, err := b.build(instrSpec{op: OpReturn, args: []*Value{v}})
	return err
}

// galactic

func isGalactic(v *Value) bool { return v.Type.Underlying().Kind == TypeGalactic }
func isScalar(v *Value) bool   { return v.Type.Underlying().Kind == TypeScalar }

func (b *Builder) galacticBinary(op Opcode, x, y *Value) (*Value, error) {
	if err := b.checkOperands(op, x, y); err != nil {
		return nil, err
	}
	if !isGalactic(x) || !isGalactic(y) {
		return nil, mismatch(op, "operands %s and %s", x.Type, y.Type)
	}
	tag := x.Void.Join(y.Void)
	if op == OpGalacticDiv {
		tag = tag.Join(MaybeVoid)
	}
	return b.value(instrSpec{op: op, args: []*Value{x, y}, result: b.m.prims[TypeGalactic], tag: tag})
}

// GalacticAdd adds component-wise.
func (b *Builder) GalacticAdd(x, y *Value) (*Value, error) { return b.galacticBinary(OpGalacticAdd, x, y) }

// GalacticMul multiplies, propagating derivatives by the chain rule.
func (b *Builder) GalacticMul(x, y *Value) (*Value, error) { return b.galacticBinary(OpGalacticMul, x, y) }

// GalacticDiv divides. A zero primal divisor yields VOID.
func (b *Builder) GalacticDiv(x, y *Value) (*Value, error) { return b.galacticBinary(OpGalacticDiv, x, y) }

// GalacticPredict extrapolates the primal of g by dt.
func (b *Builder) GalacticPredict(g, dt *Value) (*Value, error) {
	if err := b.checkOperands(OpGalacticPredict, g, dt); err != nil {
		return nil, err
	}
	if !isGalactic(g) || !isScalar(dt) {
		return nil, mismatch(OpGalacticPredict, "operands %s and %s", g.Type, dt.Type)
	}
	return b.value(instrSpec{op: OpGalacticPredict, args: []*Value{g, dt}, result: b.m.prims[TypeScalar], tag: g.Void.Join(dt.Void)})
}

// GalacticExtract reads component idx (0..3).
func (b *Builder) GalacticExtract(g *Value, idx int) (*Value, error) {
	if err := b.checkOperands(OpGalacticExtract, g); err != nil {
		return nil, err
	}
	if !isGalactic(g) || idx < 0 || idx > 3 {
		return nil, mismatch(OpGalacticExtract, "component %d of %s", idx, g.Type)
	}
	return b.value(instrSpec{op: OpGalacticExtract, args: []*Value{g}, result: b.m.prims[TypeScalar], tag: g.Void, imm: int64(idx)})
}

// GalacticInsert yields g with component idx replaced by s.
func (b *Builder) GalacticInsert(g *Value, idx int, s *Value) (*Value, error) {
	if err := b.checkOperands(OpGalacticInsert, g, s); err != nil {
		return nil, err
	}
	if !isGalactic(g) || !isScalar(s) || idx < 0 || idx > 3 {
		return nil, mismatch(OpGalacticInsert, "component %d of %s from %s", idx, g.Type, s.Type)
	}
	return b.value(instrSpec{op: OpGalacticInsert, args: []*Value{g, s}, result: b.m.prims[TypeGalactic], tag: g.Void.Join(s.Void), imm: int64(idx)})
}

// chronon

// ChrononNow reads the strand's timer.
func (b *Builder) ChrononNow() (*Value, error) {
	if err := b.checkOperands(OpChrononNow); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpChrononNow, result: b.m.prims[TypeU64], tag: NotVoid, effects: EffectTimer})
}

// ChrononDelta yields to - from, VOID if it would be negative.
func (b *Builder) ChrononDelta(from, to *Value) (*Value, error) {
	if err := b.checkOperands(OpChrononDelta, from, to); err != nil {
		return nil, err
	}
	if !from.Type.Underlying().IsInteger() || !from.Type.Equal(to.Type) {
		return nil, mismatch(OpChrononDelta, "operands %s and %s", from.Type, to.Type)
	}
	return b.value(instrSpec{op: OpChrononDelta, args: []*Value{from, to}, result: from.Type, tag: MaybeVoid})
}

// ChrononBudget yields true while fewer than limit ticks have elapsed since
// start.
func (b *Builder) ChrononBudget(start, limit *Value) (*Value, error) {
	if err := b.checkOperands(OpChrononBudget, start, limit); err != nil {
		return nil, err
	}
	if !start.Type.Underlying().IsInteger() || !limit.Type.Underlying().IsInteger() {
		return nil, mismatch(OpChrononBudget, "operands %s and %s", start.Type, limit.Type)
	}
	return b.value(instrSpec{op: OpChrononBudget, args: []*Value{start, limit}, result: b.boolType(), tag: NotVoid, effects: EffectTimer})
}

// ChrononYield gives up the rest of the strand's time slice.
func (b *Builder) ChrononYield() error {
	if err := b.checkOperands(OpChrononYield); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpChrononYield, effects: EffectTimer})
	return err
}

// conversions

// Convert builds trunc, zext, sext or bitcast of v to t.
func (b *Builder) Convert(op Opcode, v *Value, t *Type) (*Value, error) {
	if err := b.checkOperands(op, v); err != nil {
		return nil, err
	}
	if !b.m.owns(t) {
		return nil, fmt.Errorf("ir: %s: type %s is not registered", op, t)
	}
	from := v.Type.Underlying()
	to := t.Underlying()
	intish := func(x *Type) bool { return x.IsInteger() || x.Kind == TypeBool }
	switch op {
	case OpTrunc:
		if !intish(from) || !intish(to) || to.Bits() > from.Bits() {
			return nil, mismatch(op, "%s to %s", v.Type, t)
		}
	case OpZext, OpSext:
		if !intish(from) || !intish(to) || to.Bits() < from.Bits() {
			return nil, mismatch(op, "%s to %s", v.Type, t)
		}
	case OpBitcast:
		if v.Type.IsAggregate() || t.IsAggregate() || from.Size() != to.Size() {
			return nil, mismatch(op, "%s to %s", v.Type, t)
		}
	default:
		return nil, fmt.Errorf("ir: %s is not a conversion", op)
	}
	return b.value(instrSpec{op: op, args: []*Value{v}, result: t, tag: v.Void, typ: t})
}

func (b *Builder) Trunc(v *Value, t *Type) (*Value, error)   { return b.Convert(OpTrunc, v, t) }
func (b *Builder) Zext(v *Value, t *Type) (*Value, error)    { return b.Convert(OpZext, v, t) }
func (b *Builder) Sext(v *Value, t *Type) (*Value, error)    { return b.Convert(OpSext, v, t) }
func (b *Builder) Bitcast(v *Value, t *Type) (*Value, error) { return b.Convert(OpBitcast, v, t) }

// ToScalar converts an integer to Q64.64.
func (b *Builder) ToScalar(v *Value) (*Value, error) {
	if err := b.checkOperands(OpToScalar, v); err != nil {
		return nil, err
	}
	if !v.Type.Underlying().IsInteger() {
		return nil, mismatch(OpToScalar, "operand %s", v.Type)
	}
	return b.value(instrSpec{op: OpToScalar, args: []*Value{v}, result: b.m.prims[TypeScalar], tag: v.Void})
}

// FromScalar takes the integer part of a Q64.64 scalar. Values outside t
// yield VOID.
func (b *Builder) FromScalar(v *Value, t *Type) (*Value, error) {
	if err := b.checkOperands(OpFromScalar, v); err != nil {
		return nil, err
	}
	if !isScalar(v) || !b.m.owns(t) || !t.Underlying().IsInteger() {
		return nil, mismatch(OpFromScalar, "%s to %s", v.Type, t)
	}
	return b.value(instrSpec{op: OpFromScalar, args: []*Value{v}, result: t, tag: v.Void.Join(MaybeVoid), typ: t})
}

// ToGalactic lifts a scalar into a galactic number with zero tangents.
func (b *Builder) ToGalactic(v *Value) (*Value, error) {
	if err := b.checkOperands(OpToGalactic, v); err != nil {
		return nil, err
	}
	if !isScalar(v) {
		return nil, mismatch(OpToGalactic, "operand %s", v.Type)
	}
	return b.value(instrSpec{op: OpToGalactic, args: []*Value{v}, result: b.m.prims[TypeGalactic], tag: v.Void})
}

// FromGalactic takes the primal of a galactic number.
func (b *Builder) FromGalactic(v *Value) (*Value, error) {
	if err := b.checkOperands(OpFromGalactic, v); err != nil {
		return nil, err
	}
	if !isGalactic(v) {
		return nil, mismatch(OpFromGalactic, "operand %s", v.Type)
	}
	return b.value(instrSpec{op: OpFromGalactic, args: []*Value{v}, result: b.m.prims[TypeScalar], tag: v.Void})
}

// misc

// Phi creates an empty phi of type t at the head of the current block.
func (b *Builder) Phi(t *Type) (*Value, error) {
	if err := b.checkOperands(OpPhi); err != nil {
		return nil, err
	}
	if !b.m.owns(t) || t.Kind == TypeVoid {
		return nil, mismatch(OpPhi, "type %s", t)
	}
	return b.value(instrSpec{op: OpPhi, result: t, tag: NotVoid, typ: t})
}

// AddIncoming adds the pair (v, from) to a phi.
func (b *Builder) AddIncoming(phi *Value, v *Value, from *Block) error {
	if phi == nil || phi.Def == nil || phi.Def.Op != OpPhi {
		return fmt.Errorf("ir: add incoming: value is not a phi")
	}
	if v == nil || from == nil {
		return fmt.Errorf("ir: add incoming: nil value or block")
	}
	if !v.Type.Equal(phi.Type) {
		return mismatch(OpPhi, "incoming %s for phi of %s", v.Type, phi.Type)
	}
	if from.fn != phi.Def.block.fn {
		return fmt.Errorf("ir: add incoming: block %s belongs to another function", from.Label())
	}
	in := phi.Def
	in.Args = append(in.Args, v)
	in.Incoming = append(in.Incoming, from)
	phi.Void = phi.Void.Join(v.Void)
	return nil
}

// Select yields x when cond is 1, y when it is 0 and VOID when cond is VOID.
func (b *Builder) Select(cond, x, y *Value) (*Value, error) {
	if err := b.checkOperands(OpSelect, cond, x, y); err != nil {
		return nil, err
	}
	if cond.Type.Underlying().Kind != TypeBool || !x.Type.Equal(y.Type) || x.Type.IsAggregate() {
		return nil, mismatch(OpSelect, "select %s ? %s : %s", cond.Type, x.Type, y.Type)
	}
	return b.value(instrSpec{op: OpSelect, args: []*Value{cond, x, y}, result: x.Type, tag: cond.Void.Join(x.Void).Join(y.Void)})
}

// Unreachable marks the end of a block control never reaches.
func (b *Builder) Unreachable() error {
	if err := b.checkOperands(OpUnreachable); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpUnreachable})
	return err
}

// Trap aborts execution.
func (b *Builder) Trap() error {
	if err := b.checkOperands(OpTrap); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpTrap, effects: EffectPanic})
	return err
}

// Nop appends a nop, useful as an anchor for source locations.
func (b *Builder) Nop() error {
	if err := b.checkOperands(OpNop); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpNop})
	return err
}
