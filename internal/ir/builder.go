package ir

import (
	"errors"
	"fmt"

	"github.com/tinyrange/seraph/internal/arena"
)

var (
	// ErrTypeMismatch classifies operand type errors reported by the builder.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrNoInsertPoint is returned when building without a current block.
	ErrNoInsertPoint = errors.New("ir: builder has no insertion block")
)

// Capability permission bits.
const (
	PermRead   int64 = 1 << 0
	PermWrite  int64 = 1 << 1
	PermExec   int64 = 1 << 2
	PermDerive int64 = 1 << 3

	PermAll = PermRead | PermWrite | PermExec | PermDerive
)

// Capability record layout.
const (
	CapBaseOffset       = 0
	CapLengthOffset     = 8
	CapGenerationOffset = 16
	CapPermsOffset      = 24
	CapRecordSize       = 32
)

// Builder appends instructions to a current block. A failed build call
// leaves the module unchanged.
type Builder struct {
	m         *Module
	blk       *Block
	loc       Location
	substrate SubstrateKind
}

// NewBuilder returns a builder for m with no insertion point.
func NewBuilder(m *Module) *Builder { return &Builder{m: m} }

func (b *Builder) Module() *Module { return b.m }

// InsertBlock returns the current block.
func (b *Builder) InsertBlock() *Block { return b.blk }

// PositionAtEnd makes blk the insertion block. Instructions go before its
// terminator when it already has one.
func (b *Builder) PositionAtEnd(blk *Block) {
	b.blk = blk
	if blk != nil {
		b.substrate = blk.Substrate
	}
}

// SetLocation sets the source location attached to subsequent instructions.
func (b *Builder) SetLocation(loc Location) { b.loc = loc }

func (b *Builder) fn() *Function {
	if b.blk == nil {
		return nil
	}
	return b.blk.fn
}

func mismatch(op Opcode, format string, args ...any) error {
	return fmt.Errorf("ir: %s: %w: %s", op, ErrTypeMismatch, fmt.Sprintf(format, args...))
}

// checkOperands verifies that every operand is usable from the current
// function.
func (b *Builder) checkOperands(op Opcode, args ...*Value) error {
	if b.blk == nil {
		return ErrNoInsertPoint
	}
	fn := b.blk.fn
	for i, a := range args {
		if a == nil {
			return fmt.Errorf("ir: %s: operand %d is nil", op, i)
		}
		if !b.m.owns(a.Type) {
			return fmt.Errorf("ir: %s: operand %d has type %s from another module", op, i, a.Type)
		}
		switch a.Kind {
		case ValueParam:
			if a.ID >= len(fn.Params) || fn.Params[a.ID] != a {
				return fmt.Errorf("ir: %s: operand %d is a parameter of another function", op, i)
			}
		case ValueVReg:
			if a.Def == nil || a.Def.block == nil || a.Def.block.fn != fn {
				return fmt.Errorf("ir: %s: operand %d is defined outside function %s", op, i, fn.Name)
			}
		case ValueFuncPtr:
			if a.Func.module != b.m {
				return fmt.Errorf("ir: %s: operand %d references a function of another module", op, i)
			}
		}
	}
	return nil
}

func (b *Builder) checkTarget(op Opcode, targets ...*Block) error {
	for _, t := range targets {
		if t == nil {
			return fmt.Errorf("ir: %s: nil target block", op)
		}
		if t.fn != b.blk.fn {
			return fmt.Errorf("ir: %s: target %s belongs to another function", op, t.Label())
		}
	}
	return nil
}

type instrSpec struct {
	op      Opcode
	args    []*Value
	result  *Type
	tag     VoidTag
	effects Effect
	typ     *Type
	imm     int64
	targets [2]*Block
	callee  *Function
	cases   []SwitchCase
}

func (b *Builder) build(s instrSpec) (*Instr, error) {
	in, err := b.prepare(s)
	if err != nil {
		return nil, err
	}
	b.commit(in)
	return in, nil
}

// prepare allocates an instruction and its result without linking it into
// the block.
func (b *Builder) prepare(s instrSpec) (*Instr, error) {
	if b.blk == nil {
		return nil, ErrNoInsertPoint
	}
	if s.op.IsTerminator() && b.blk.Terminator() != nil {
		return nil, fmt.Errorf("ir: %s: block %s already has a terminator", s.op, b.blk.Label())
	}
	a := b.m.arena
	in, err := arena.Alloc[Instr](a)
	if err != nil {
		return nil, err
	}
	if len(s.args) > 0 {
		args, err := arena.AllocSlice[*Value](a, len(s.args))
		if err != nil {
			return nil, err
		}
		copy(args, s.args)
		in.Args = args
	}
	var res *Value
	if s.result != nil {
		res, err = b.blk.fn.newVReg(s.result, s.tag)
		if err != nil {
			return nil, err
		}
		res.Def = in
	}
	in.Op = s.op
	in.Result = res
	in.Effects = s.effects
	in.Type = s.typ
	in.Imm = s.imm
	in.Targets = s.targets
	in.Callee = s.callee
	in.Cases = s.cases
	in.Loc = b.loc
	return in, nil
}

func (b *Builder) commit(in *Instr) {
	b.place(in)
	if in.Op.IsTerminator() {
		for _, succ := range in.Successors() {
			if len(succ.Preds) == 0 && succ != succ.fn.entry {
				succ.Substrate = b.substrate
			}
			b.blk.addSucc(succ)
		}
	}
}

func (b *Builder) place(in *Instr) {
	blk := b.blk
	switch {
	case in.Op == OpPhi:
		at := blk.first
		for at != nil && at.Op == OpPhi {
			at = at.next
		}
		blk.insertBefore(at, in)
	case in.Op.IsTerminator():
		blk.insertBefore(nil, in)
	default:
		blk.insertBefore(blk.Terminator(), in)
	}
}

func (b *Builder) value(s instrSpec) (*Value, error) {
	in, err := b.build(s)
	if err != nil {
		return nil, err
	}
	return in.Result, nil
}

func (b *Builder) boolType() *Type { return b.m.prims[TypeBool] }

// arithmetic and bitwise

func (b *Builder) binary(op Opcode, x, y *Value) (*Value, error) {
	if err := b.checkOperands(op, x, y); err != nil {
		return nil, err
	}
	t := x.Type.Underlying()
	switch {
	case op.IsArithmetic():
		if !t.IsInteger() {
			return nil, mismatch(op, "operand type %s is not an integer", x.Type)
		}
	case op == OpShl || op == OpShr || op == OpSar:
		if !t.IsInteger() || !y.Type.Underlying().IsInteger() {
			return nil, mismatch(op, "shift of %s by %s", x.Type, y.Type)
		}
	default:
		if !t.IsInteger() && t.Kind != TypeBool {
			return nil, mismatch(op, "operand type %s is not an integer or bool", x.Type)
		}
	}
	if op != OpShl && op != OpShr && op != OpSar && !x.Type.Equal(y.Type) {
		return nil, mismatch(op, "operands %s and %s", x.Type, y.Type)
	}
	tag := x.Void.Join(y.Void)
	if op.IsArithmetic() {
		tag = tag.Join(MaybeVoid)
	}
	return b.value(instrSpec{op: op, args: []*Value{x, y}, result: x.Type, tag: tag})
}

func (b *Builder) Add(x, y *Value) (*Value, error) { return b.binary(OpAdd, x, y) }
func (b *Builder) Sub(x, y *Value) (*Value, error) { return b.binary(OpSub, x, y) }
func (b *Builder) Mul(x, y *Value) (*Value, error) { return b.binary(OpMul, x, y) }
func (b *Builder) Div(x, y *Value) (*Value, error) { return b.binary(OpDiv, x, y) }
func (b *Builder) Mod(x, y *Value) (*Value, error) { return b.binary(OpMod, x, y) }
func (b *Builder) And(x, y *Value) (*Value, error) { return b.binary(OpAnd, x, y) }
func (b *Builder) Or(x, y *Value) (*Value, error)  { return b.binary(OpOr, x, y) }
func (b *Builder) Xor(x, y *Value) (*Value, error) { return b.binary(OpXor, x, y) }
func (b *Builder) Shl(x, y *Value) (*Value, error) { return b.binary(OpShl, x, y) }
func (b *Builder) Shr(x, y *Value) (*Value, error) { return b.binary(OpShr, x, y) }
func (b *Builder) Sar(x, y *Value) (*Value, error) { return b.binary(OpSar, x, y) }

// Binary builds any two-operand arithmetic, bitwise or comparison opcode.
func (b *Builder) Binary(op Opcode, x, y *Value) (*Value, error) {
	switch {
	case op.IsArithmetic() && op != OpNeg, op.IsBitwise() && op != OpNot:
		return b.binary(op, x, y)
	case op.IsCompare():
		return b.Compare(op, x, y)
	}
	return nil, fmt.Errorf("ir: %s is not a binary opcode", op)
}

// Neg builds 0 - x with overflow producing VOID.
func (b *Builder) Neg(x *Value) (*Value, error) {
	if err := b.checkOperands(OpNeg, x); err != nil {
		return nil, err
	}
	if !x.Type.Underlying().IsInteger() {
		return nil, mismatch(OpNeg, "operand type %s is not an integer", x.Type)
	}
	return b.value(instrSpec{op: OpNeg, args: []*Value{x}, result: x.Type, tag: x.Void.Join(MaybeVoid)})
}

// Not builds bitwise complement, or logical negation for booleans.
func (b *Builder) Not(x *Value) (*Value, error) {
	if err := b.checkOperands(OpNot, x); err != nil {
		return nil, err
	}
	t := x.Type.Underlying()
	if !t.IsInteger() && t.Kind != TypeBool {
		return nil, mismatch(OpNot, "operand type %s", x.Type)
	}
	return b.value(instrSpec{op: OpNot, args: []*Value{x}, result: x.Type, tag: x.Void})
}

// Compare builds a comparison producing a Vbit.
func (b *Builder) Compare(op Opcode, x, y *Value) (*Value, error) {
	if !op.IsCompare() {
		return nil, fmt.Errorf("ir: %s is not a comparison", op)
	}
	if err := b.checkOperands(op, x, y); err != nil {
		return nil, err
	}
	if !x.Type.Equal(y.Type) {
		return nil, mismatch(op, "operands %s and %s", x.Type, y.Type)
	}
	t := x.Type.Underlying()
	if !t.IsInteger() && t.Kind != TypeBool && !t.IsPointerLike() {
		return nil, mismatch(op, "cannot compare %s", x.Type)
	}
	return b.value(instrSpec{op: op, args: []*Value{x, y}, result: b.boolType(), tag: NotVoid})
}

// VOID operations

// VoidTest yields true when x is VOID.
func (b *Builder) VoidTest(x *Value) (*Value, error) {
	if err := b.checkOperands(OpVoidTest, x); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpVoidTest, args: []*Value{x}, result: b.boolType(), tag: NotVoid})
}

// VoidPropagate returns VOID from the enclosing function when x is VOID and
// otherwise yields x.
func (b *Builder) VoidPropagate(x *Value) (*Value, error) {
	if err := b.checkOperands(OpVoidPropagate, x); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpVoidPropagate, args: []*Value{x}, result: x.Type, tag: NotVoid, effects: EffectVoid})
}

// VoidAssert traps when x is VOID and otherwise yields x.
func (b *Builder) VoidAssert(x *Value) (*Value, error) {
	if err := b.checkOperands(OpVoidAssert, x); err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpVoidAssert, args: []*Value{x}, result: x.Type, tag: NotVoid, effects: EffectPanic})
}

// VoidCoalesce yields x, or repl when x is VOID.
func (b *Builder) VoidCoalesce(x, repl *Value) (*Value, error) {
	if err := b.checkOperands(OpVoidCoalesce, x, repl); err != nil {
		return nil, err
	}
	if !x.Type.Equal(repl.Type) {
		return nil, mismatch(OpVoidCoalesce, "value %s and replacement %s", x.Type, repl.Type)
	}
	tag := repl.Void
	if x.Void == NotVoid {
		tag = NotVoid
	}
	return b.value(instrSpec{op: OpVoidCoalesce, args: []*Value{x, repl}, result: x.Type, tag: tag})
}

// VoidConst materialises the VOID pattern of t into a fresh value.
func (b *Builder) VoidConst(t *Type) (*Value, error) {
	if err := b.checkOperands(OpVoidConst); err != nil {
		return nil, err
	}
	if !b.m.owns(t) || t.IsAggregate() {
		return nil, mismatch(OpVoidConst, "type %s", t)
	}
	return b.value(instrSpec{op: OpVoidConst, result: t, tag: DefinitelyVoid, typ: t})
}
