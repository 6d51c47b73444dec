// Package interp is a reference evaluator for IR modules. It executes
// functions over 64-bit two's-complement register images with the same VOID
// sentinels, capability checks and Q64.64 arithmetic the backends emit, and
// serves as the oracle for optimiser and backend tests.
package interp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tinyrange/seraph/internal/ir"
)

var (
	ErrTrap        = errors.New("interp: trap")
	ErrUnreachable = errors.New("interp: reached unreachable")
	ErrFault       = errors.New("interp: memory fault")
	ErrStepLimit   = errors.New("interp: step limit exceeded")
	ErrUnresolved  = errors.New("interp: unresolved symbol")
)

// Cell is a runtime value. Register-held values use Bits; aggregates carry
// their bytes, or Void when the aggregate is VOID.
type Cell struct {
	Bits  uint64
	Void  bool
	Bytes []byte
}

// Reg wraps a register image.
func Reg(x uint64) Cell { return Cell{Bits: x} }

// Options configures a Machine. The zero value is usable.
type Options struct {
	// Generation is the initial capability context generation.
	Generation uint64
	// Clock backs chronon.now. The default counts calls.
	Clock func() uint64
	// Syscall backs the syscall opcode. The default returns -ENOSYS.
	Syscall func(num uint64, args []uint64) uint64
	// Runtime backs atlas and aether opcodes and external functions.
	Runtime func(symbol string, args []Cell) (Cell, error)
	// MaxSteps bounds the number of executed instructions; 0 means 1<<24.
	MaxSteps int
	Logger   *slog.Logger
}

// Machine executes functions of one module.
type Machine struct {
	mod       *ir.Module
	opts      Options
	mem       *Memory
	gen       uint64
	substrate ir.SubstrateKind
	ticks     uint64
	steps     int
	log       *slog.Logger

	strings map[*ir.StringConst]uint64
	globals map[*ir.Global]uint64
	funcs   map[uint64]*ir.Function
	addrs   map[*ir.Function]uint64
}

// funcBase is where function addresses start; functions occupy 16 bytes
// each and no memory region is ever placed there.
const funcBase = 0x1000

func New(m *ir.Module, opts Options) *Machine {
	mc := &Machine{
		mod:     m,
		opts:    opts,
		mem:     NewMemory(),
		gen:     opts.Generation,
		log:     opts.Logger,
		strings: make(map[*ir.StringConst]uint64),
		globals: make(map[*ir.Global]uint64),
		funcs:   make(map[uint64]*ir.Function),
		addrs:   make(map[*ir.Function]uint64),
	}
	if mc.log == nil {
		mc.log = slog.Default()
	}
	if mc.opts.MaxSteps == 0 {
		mc.opts.MaxSteps = 1 << 24
	}
	for i, fn := range m.Functions() {
		a := uint64(funcBase + 16*i)
		mc.funcs[a] = fn
		mc.addrs[fn] = a
	}
	return mc
}

func (mc *Machine) Memory() *Memory { return mc.mem }

// Generation returns the capability context generation.
func (mc *Machine) Generation() uint64 { return mc.gen }

// Substrate returns the current substrate context.
func (mc *Machine) Substrate() ir.SubstrateKind { return mc.substrate }

// Call runs the named function with register arguments and returns its
// register result (0 for void functions).
func (mc *Machine) Call(name string, args ...uint64) (uint64, error) {
	fn := mc.mod.Function(name)
	if fn == nil {
		return 0, fmt.Errorf("%w: function %s", ErrUnresolved, name)
	}
	cells := make([]Cell, len(args))
	for i, a := range args {
		cells[i] = Reg(a)
	}
	r, err := mc.CallCells(fn, cells)
	return r.Bits, err
}

// CallCells runs fn with arbitrary arguments.
func (mc *Machine) CallCells(fn *ir.Function, args []Cell) (Cell, error) {
	if len(args) != len(fn.Params) {
		return Cell{}, fmt.Errorf("interp: %s takes %d arguments, got %d", fn.Name, len(fn.Params), len(args))
	}
	if fn.External {
		return mc.runtime(fn.Name, args)
	}
	mc.log.Debug("interp call", "fn", fn.Name, "args", len(args))
	return mc.run(fn, args)
}

func (mc *Machine) runtime(symbol string, args []Cell) (Cell, error) {
	if mc.opts.Runtime == nil {
		return Cell{}, fmt.Errorf("%w: %s", ErrUnresolved, symbol)
	}
	return mc.opts.Runtime(symbol, args)
}

type frame struct {
	mc   *Machine
	fn   *ir.Function
	regs []Cell
}

func (f *frame) get(v *ir.Value) (Cell, error) {
	mc := f.mc
	switch v.Kind {
	case ir.ValueVReg, ir.ValueParam:
		return f.regs[v.ID], nil
	case ir.ValueConst:
		return constCell(v), nil
	case ir.ValueVoidConst:
		return voidOf(v.Type), nil
	case ir.ValueGlobal:
		return Reg(mc.globalAddr(v.Global)), nil
	case ir.ValueString:
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b, mc.stringAddr(v.Str))
		binary.LittleEndian.PutUint64(b[8:], uint64(v.Str.Len()))
		return Cell{Bytes: b}, nil
	case ir.ValueFuncPtr:
		return Reg(mc.addrs[v.Func]), nil
	}
	return Cell{}, fmt.Errorf("interp: value kind %s", v.Kind)
}

func (f *frame) set(v *ir.Value, c Cell) {
	if v != nil {
		f.regs[v.ID] = c
	}
}

func (mc *Machine) globalAddr(g *ir.Global) uint64 {
	if a, ok := mc.globals[g]; ok {
		return a
	}
	a := mc.mem.Alloc(g.Type.Size(), "@"+g.Name)
	if len(g.Init) > 0 {
		_ = mc.mem.Write(a, g.Init)
	}
	mc.globals[g] = a
	return a
}

func (mc *Machine) stringAddr(s *ir.StringConst) uint64 {
	if a, ok := mc.strings[s]; ok {
		return a
	}
	a := mc.mem.Alloc(uint64(len(s.Bytes))+1, fmt.Sprintf("str#%d", s.ID))
	_ = mc.mem.Write(a, s.Bytes)
	mc.strings[s] = a
	return a
}

func constCell(v *ir.Value) Cell {
	switch v.Type.Underlying().Kind {
	case ir.TypeScalar:
		return Cell{Bytes: encodeQ64(v.Galactic[0])}
	case ir.TypeGalactic:
		return Cell{Bytes: encodeGalactic(v.Galactic)}
	}
	return Reg(uint64(v.Int))
}

func voidOf(t *ir.Type) Cell {
	if t.IsAggregate() {
		return Cell{Void: true, Bits: ir.VoidBits}
	}
	return Reg(ir.VoidPattern(t))
}

func isVoid(t *ir.Type, c Cell) bool {
	if t.IsAggregate() {
		return c.Void
	}
	return ir.IsVoidBits(t, c.Bits)
}

func boolCell(b bool) Cell {
	if b {
		return Reg(1)
	}
	return Reg(0)
}

func encodeQ64(q ir.Q64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b, q.Lo)
	binary.LittleEndian.PutUint64(b[8:], uint64(q.Hi))
	return b
}

func decodeQ64(b []byte) ir.Q64 {
	return ir.Q64{Lo: binary.LittleEndian.Uint64(b), Hi: int64(binary.LittleEndian.Uint64(b[8:]))}
}

func encodeGalactic(g ir.Galactic) []byte {
	b := make([]byte, 0, 64)
	for _, q := range g {
		b = append(b, encodeQ64(q)...)
	}
	return b
}

func decodeGalactic(b []byte) ir.Galactic {
	var g ir.Galactic
	for i := range g {
		g[i] = decodeQ64(b[16*i:])
	}
	return g
}

// ScalarCell and GalacticCell build aggregate arguments for CallCells.
func ScalarCell(q ir.Q64) Cell         { return Cell{Bytes: encodeQ64(q)} }
func GalacticCell(g ir.Galactic) Cell { return Cell{Bytes: encodeGalactic(g)} }

// CellGalactic decodes a galactic result.
func CellGalactic(c Cell) ir.Galactic { return decodeGalactic(c.Bytes) }

// CellScalar decodes a scalar result.
func CellScalar(c Cell) ir.Q64 { return decodeQ64(c.Bytes) }

func (mc *Machine) run(fn *ir.Function, args []Cell) (Cell, error) {
	f := &frame{mc: mc, fn: fn, regs: make([]Cell, fn.NumVRegs())}
	copy(f.regs, args)

	var prev *ir.Block
	blk := fn.Entry()
	if blk == nil {
		return Cell{}, fmt.Errorf("interp: %s has no blocks", fn.Name)
	}
	for {
		if err := f.enterPhis(blk, prev); err != nil {
			return Cell{}, err
		}
		next, ret, done, err := f.execBlock(blk)
		if err != nil {
			return Cell{}, fmt.Errorf("%s/%s: %w", fn.Name, blk.Label(), err)
		}
		if done {
			return ret, nil
		}
		prev, blk = blk, next
	}
}

// enterPhis assigns every phi of blk from the edge prev→blk at once.
func (f *frame) enterPhis(blk, prev *ir.Block) error {
	type pending struct {
		v *ir.Value
		c Cell
	}
	var ps []pending
	for in := blk.First(); in != nil && in.Op == ir.OpPhi; in = in.Next() {
		found := false
		for i, from := range in.Incoming {
			if from == prev {
				c, err := f.get(in.Args[i])
				if err != nil {
					return err
				}
				ps = append(ps, pending{in.Result, c})
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("interp: phi %s has no value for edge from %v", in.Result, prev)
		}
	}
	for _, p := range ps {
		f.set(p.v, p.c)
	}
	return nil
}

func (f *frame) execBlock(blk *ir.Block) (next *ir.Block, ret Cell, done bool, err error) {
	mc := f.mc
	for in := blk.First(); in != nil; in = in.Next() {
		if in.Op == ir.OpPhi || in.Op == ir.OpNop {
			continue
		}
		mc.steps++
		if mc.steps > mc.opts.MaxSteps {
			return nil, Cell{}, false, ErrStepLimit
		}
		args := make([]Cell, len(in.Args))
		for i, a := range in.Args {
			if args[i], err = f.get(a); err != nil {
				return nil, Cell{}, false, err
			}
		}
		switch in.Op {
		case ir.OpJump:
			return in.Targets[0], Cell{}, false, nil
		case ir.OpBranch:
			if args[0].Bits == 1 {
				return in.Targets[0], Cell{}, false, nil
			}
			return in.Targets[1], Cell{}, false, nil
		case ir.OpSwitch:
			if !isVoid(in.Args[0].Type, args[0]) {
				for _, c := range in.Cases {
					if uint64(c.Value) == args[0].Bits {
						return c.Target, Cell{}, false, nil
					}
				}
			}
			return in.Targets[0], Cell{}, false, nil
		case ir.OpReturn:
			if len(args) == 0 {
				return nil, Cell{}, true, nil
			}
			return nil, args[0], true, nil
		case ir.OpTailCall:
			r, err := mc.CallCells(in.Callee, args)
			return nil, r, true, err
		case ir.OpUnreachable:
			return nil, Cell{}, false, ErrUnreachable
		case ir.OpVoidPropagate:
			if isVoid(in.Args[0].Type, args[0]) {
				if rt := f.fn.ReturnType(); rt.Kind != ir.TypeVoid {
					return nil, voidOf(rt), true, nil
				}
				return nil, Cell{}, true, nil
			}
			f.set(in.Result, args[0])
			continue
		}
		r, err := mc.exec(in, args)
		if err != nil {
			return nil, Cell{}, false, fmt.Errorf("%s: %w", in.Op, err)
		}
		f.set(in.Result, r)
	}
	return nil, Cell{}, false, fmt.Errorf("interp: block %s fell through", blk.Label())
}

func (mc *Machine) exec(in *ir.Instr, args []Cell) (Cell, error) {
	rt := resultType(in)
	switch op := in.Op; {
	case op == ir.OpNeg || op == ir.OpNot:
		r, _ := ir.EvalUnary(op, rt, args[0].Bits)
		return Reg(r), nil
	case op.IsArithmetic() || op.IsBitwise():
		r, _ := ir.EvalBinary(op, rt, args[0].Bits, args[1].Bits)
		return Reg(r), nil
	case op.IsCompare():
		return Reg(ir.EvalCompare(op, in.Args[0].Type, args[0].Bits, args[1].Bits)), nil
	}

	switch in.Op {
	case ir.OpVoidTest:
		return boolCell(isVoid(in.Args[0].Type, args[0])), nil
	case ir.OpVoidAssert:
		if isVoid(in.Args[0].Type, args[0]) {
			return Cell{}, fmt.Errorf("%w: assertion on VOID", ErrTrap)
		}
		return args[0], nil
	case ir.OpVoidCoalesce:
		if isVoid(in.Args[0].Type, args[0]) {
			return args[1], nil
		}
		return args[0], nil
	case ir.OpVoidConst:
		return voidOf(rt), nil

	case ir.OpCapCreate, ir.OpCapLoad, ir.OpCapStore, ir.OpCapCheck,
		ir.OpCapNarrow, ir.OpCapSplit, ir.OpCapRevoke:
		return mc.execCap(in, args)

	case ir.OpLoad:
		if isVoid(in.Args[0].Type, args[0]) {
			return Cell{}, fmt.Errorf("%w: load through VOID pointer", ErrFault)
		}
		x, err := mc.mem.ReadUint(args[0].Bits, in.Type.Size())
		if err != nil {
			return Cell{}, err
		}
		return Reg(ir.Canonical(in.Type, x)), nil
	case ir.OpStore:
		if isVoid(in.Args[0].Type, args[0]) {
			return Cell{}, fmt.Errorf("%w: store through VOID pointer", ErrFault)
		}
		return Cell{}, mc.mem.WriteUint(args[0].Bits, in.Type.Size(), args[1].Bits)
	case ir.OpAlloca:
		return Reg(mc.mem.Alloc(in.Type.Size(), "alloca")), nil
	case ir.OpMemcpy:
		src, err := mc.mem.Read(args[1].Bits, args[2].Bits)
		if err != nil {
			return Cell{}, err
		}
		return Cell{}, mc.mem.Write(args[0].Bits, src)
	case ir.OpMemset:
		b := make([]byte, args[2].Bits)
		for i := range b {
			b[i] = byte(args[1].Bits)
		}
		return Cell{}, mc.mem.Write(args[0].Bits, b)
	case ir.OpGEP:
		for i, a := range in.Args {
			if isVoid(a.Type, args[i]) {
				return voidOf(rt), nil
			}
		}
		if len(args) == 2 {
			return Reg(args[0].Bits + args[1].Bits), nil
		}
		return Reg(args[0].Bits + args[1].Bits*args[2].Bits), nil
	case ir.OpExtractField:
		ft, off, err := mc.mod.AggregateField(in.Args[0].Type, int(in.Imm))
		if err != nil {
			return Cell{}, err
		}
		if args[0].Void {
			return voidOf(ft), nil
		}
		return readMember(args[0].Bytes, ft, off), nil
	case ir.OpInsertField:
		ft, off, err := mc.mod.AggregateField(in.Args[0].Type, int(in.Imm))
		if err != nil {
			return Cell{}, err
		}
		if args[0].Void {
			return args[0], nil
		}
		return writeMember(args[0].Bytes, ft, off, args[1]), nil
	case ir.OpExtractElem, ir.OpInsertElem:
		at := in.Args[0].Type.Underlying()
		if args[0].Void || isVoid(in.Args[1].Type, args[1]) || args[1].Bits >= at.Len {
			return voidOf(rt), nil
		}
		off := args[1].Bits * at.ElemStride()
		if in.Op == ir.OpExtractElem {
			return readMember(args[0].Bytes, at.Elem, off), nil
		}
		return writeMember(args[0].Bytes, at.Elem, off, args[2]), nil

	case ir.OpSubstrateEnter:
		prev := mc.substrate
		mc.substrate = ir.SubstrateKind(in.Imm)
		return Reg(uint64(prev)), nil
	case ir.OpSubstrateExit:
		if isVoid(in.Args[0].Type, args[0]) {
			mc.substrate = ir.SubstrateVolatile
		} else {
			mc.substrate = ir.SubstrateKind(args[0].Bits)
		}
		return Cell{}, nil

	case ir.OpCall:
		return mc.CallCells(in.Callee, args)
	case ir.OpCallIndirect:
		fn, ok := mc.funcs[args[0].Bits]
		if !ok {
			return Cell{}, fmt.Errorf("%w: no function at %#x", ErrFault, args[0].Bits)
		}
		return mc.CallCells(fn, args[1:])
	case ir.OpSyscall:
		regs := make([]uint64, len(args)-1)
		for i := range regs {
			regs[i] = args[i+1].Bits
		}
		if mc.opts.Syscall == nil {
			return Reg(uint64(math.MaxUint64 - 37)), nil // -ENOSYS
		}
		return Reg(mc.opts.Syscall(args[0].Bits, regs)), nil

	case ir.OpGalacticAdd, ir.OpGalacticMul, ir.OpGalacticDiv, ir.OpGalacticPredict,
		ir.OpGalacticExtract, ir.OpGalacticInsert, ir.OpToScalar, ir.OpFromScalar,
		ir.OpToGalactic, ir.OpFromGalactic:
		return mc.execGalactic(in, args)

	case ir.OpAtlasLoad, ir.OpAtlasStore, ir.OpAtlasBegin, ir.OpAtlasCommit,
		ir.OpAtlasRollback, ir.OpAetherLoad, ir.OpAetherStore, ir.OpAetherSync:
		return mc.runtime(in.Op.RuntimeSymbol(), args)

	case ir.OpChrononNow:
		return Reg(mc.now()), nil
	case ir.OpChrononDelta:
		r, _ := ir.EvalBinary(ir.OpSub, rt, args[1].Bits, args[0].Bits)
		return Reg(r), nil
	case ir.OpChrononBudget:
		t := in.Args[0].Type
		if isVoid(t, args[0]) || isVoid(in.Args[1].Type, args[1]) {
			return Reg(ir.VoidByte), nil
		}
		return boolCell(mc.now()-args[0].Bits <= args[1].Bits), nil
	case ir.OpChrononYield:
		return Cell{}, nil

	case ir.OpTrunc, ir.OpZext, ir.OpSext, ir.OpBitcast:
		return Reg(ir.EvalConvert(in.Op, in.Args[0].Type, rt, args[0].Bits)), nil

	case ir.OpSelect:
		switch args[0].Bits {
		case 1:
			return args[1], nil
		case 0:
			return args[2], nil
		}
		return voidOf(rt), nil
	case ir.OpTrap:
		return Cell{}, ErrTrap
	}
	return Cell{}, fmt.Errorf("interp: unsupported opcode %s", in.Op)
}

func resultType(in *ir.Instr) *ir.Type {
	if in.Result != nil {
		return in.Result.Type
	}
	return in.Type
}

func (mc *Machine) now() uint64 {
	if mc.opts.Clock != nil {
		return mc.opts.Clock()
	}
	mc.ticks++
	return mc.ticks
}

func readMember(agg []byte, t *ir.Type, off uint64) Cell {
	b := agg[off : off+t.Size()]
	if t.IsAggregate() {
		return Cell{Bytes: append([]byte(nil), b...)}
	}
	return Reg(ir.Canonical(t, getUint(b)))
}

func writeMember(agg []byte, t *ir.Type, off uint64, v Cell) Cell {
	out := append([]byte(nil), agg...)
	b := out[off : off+t.Size()]
	if t.IsAggregate() {
		copy(b, v.Bytes)
	} else {
		putUint(b, v.Bits)
	}
	return Cell{Bytes: out}
}
