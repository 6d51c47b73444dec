package irdoc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/seraph/internal/arena"
	"github.com/tinyrange/seraph/internal/ir"
)

// DefaultArenaSize bounds a module built without an explicit arena size.
const DefaultArenaSize = 16 << 20

// Options controls Build.
type Options struct {
	ArenaSize int64
	Logger    *slog.Logger
}

// Build lowers doc into a module through the IR builder, so every rule the
// builder enforces applies to documents too. The module is not verified.
func Build(doc *Document, opts Options) (*ir.Module, error) {
	size := opts.ArenaSize
	if size == 0 {
		size = DefaultArenaSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m, err := ir.NewModule(doc.Module, arena.New(size))
	if err != nil {
		return nil, err
	}
	l := &lowerer{
		m:       m,
		types:   make(map[string]*ir.Type),
		funcs:   make(map[string]*ir.Function),
		globals: make(map[string]*ir.Global),
	}
	if err := l.build(doc); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("module %s: %w", doc.Module, err)
	}
	log.Debug("lowered ir document",
		"module", doc.Module,
		"functions", len(doc.Functions),
		"externals", len(doc.Externals),
		"arena", m.Arena().Used())
	return m, nil
}

type lowerer struct {
	m       *ir.Module
	types   map[string]*ir.Type
	funcs   map[string]*ir.Function
	globals map[string]*ir.Global
}

func (l *lowerer) build(doc *Document) error {
	if err := l.declareTypes(doc.Types); err != nil {
		return err
	}
	for _, g := range doc.Globals {
		if err := l.global(g); err != nil {
			return fmt.Errorf("global %s: %w", g.Name, err)
		}
	}
	for _, d := range doc.Externals {
		if len(d.Blocks) != 0 {
			return fmt.Errorf("external %s has blocks", d.Name)
		}
		ft, err := l.signature(d)
		if err != nil {
			return fmt.Errorf("external %s: %w", d.Name, err)
		}
		fn, err := l.m.DeclareExternal(d.Name, ft)
		if err != nil {
			return err
		}
		l.funcs[d.Name] = fn
	}
	// every function exists before any body is lowered so calls and
	// function pointers may refer forward
	for _, d := range doc.Functions {
		if len(d.Blocks) == 0 {
			return fmt.Errorf("function %s has no blocks", d.Name)
		}
		ft, err := l.signature(d)
		if err != nil {
			return fmt.Errorf("function %s: %w", d.Name, err)
		}
		fn, err := l.m.CreateFunction(d.Name, ft)
		if err != nil {
			return err
		}
		l.funcs[d.Name] = fn
	}
	for _, d := range doc.Functions {
		if err := l.function(l.funcs[d.Name], d); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) signature(d FuncDecl) (*ir.Type, error) {
	ret := l.m.Primitive(ir.TypeVoid)
	if d.Returns != "" {
		t, err := l.parseType(d.Returns)
		if err != nil {
			return nil, err
		}
		ret = t
	}
	params, err := l.parseTypes(d.Params)
	if err != nil {
		return nil, err
	}
	eff, err := parseEffects(d.Effects)
	if err != nil {
		return nil, err
	}
	return l.m.FunctionType(ret, params, eff)
}

func (l *lowerer) global(g GlobalDecl) error {
	t, err := l.parseType(g.Type)
	if err != nil {
		return err
	}
	var init []byte
	switch {
	case g.Init != nil && g.Data != "":
		return errors.New("init and data are exclusive")
	case g.Init != nil:
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], uint64(*g.Init))
		init = word[:min(t.Size(), 8)]
	case g.Data != "":
		init, err = ir.UnescapeString([]byte(g.Data))
		if err != nil {
			return err
		}
	}
	gv, err := l.m.AddGlobal(g.Name, t, init)
	if err != nil {
		return err
	}
	l.globals[g.Name] = gv
	return nil
}

type funcLowerer struct {
	*lowerer
	fn     *ir.Function
	b      *ir.Builder
	blocks map[string]*ir.Block
	defs   map[string]*ir.Value
	phis   []pendingPhi
}

type pendingPhi struct {
	phi   *ir.Value
	in    []IncomingDecl
	where string
}

func (l *lowerer) function(fn *ir.Function, d FuncDecl) error {
	fl := &funcLowerer{
		lowerer: l,
		fn:      fn,
		b:       ir.NewBuilder(l.m),
		blocks:  make(map[string]*ir.Block),
		defs:    make(map[string]*ir.Value),
	}
	for _, bd := range d.Blocks {
		if _, dup := fl.blocks[bd.Name]; dup {
			return fmt.Errorf("function %s: block %s declared twice", d.Name, bd.Name)
		}
		kind, err := parseSubstrate(bd.Substrate)
		if err != nil {
			return fmt.Errorf("function %s block %s: %w", d.Name, bd.Name, err)
		}
		blk, err := fn.CreateBlock(bd.Name)
		if err != nil {
			return err
		}
		blk.Substrate = kind
		fl.blocks[bd.Name] = blk
	}
	for _, bd := range d.Blocks {
		fl.b.PositionAtEnd(fl.blocks[bd.Name])
		for i := range bd.Instrs {
			in := &bd.Instrs[i]
			fl.b.SetLocation(ir.Location{Line: in.Line, Column: in.Column})
			if err := fl.instr(in); err != nil {
				return fmt.Errorf("function %s block %s instr %d (%s): %w", d.Name, bd.Name, i, in.Op, err)
			}
		}
	}
	// incoming values may be defined in blocks lowered after the phi
	for _, p := range fl.phis {
		for _, inc := range p.in {
			from, err := fl.block(inc.From)
			if err != nil {
				return fmt.Errorf("function %s phi %s: %w", d.Name, p.where, err)
			}
			v, err := fl.operand(&inc.Value, p.phi.Type)
			if err != nil {
				return fmt.Errorf("function %s phi %s: %w", d.Name, p.where, err)
			}
			if err := fl.b.AddIncoming(p.phi, v, from); err != nil {
				return fmt.Errorf("function %s phi %s: %w", d.Name, p.where, err)
			}
		}
	}
	return nil
}

func (fl *funcLowerer) block(name string) (*ir.Block, error) {
	if blk, ok := fl.blocks[name]; ok {
		return blk, nil
	}
	return nil, fmt.Errorf("undefined block %q", name)
}

func (fl *funcLowerer) ref(name string) (*ir.Value, error) {
	if rest, ok := strings.CutPrefix(name, "%"); ok {
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 || i >= len(fl.fn.Params) {
			return nil, fmt.Errorf("no parameter %s", name)
		}
		return fl.fn.Params[i], nil
	}
	if v, ok := fl.defs[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("undefined value %q", name)
}

func parseInt(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", s)
	}
	return int64(u), nil
}

// parseQ64 reads an integer or a ratio such as -3/4.
func parseQ64(s string) (ir.Q64, error) {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseInt(strings.TrimSpace(num), 0, 64)
	if err != nil {
		return ir.Q64{}, fmt.Errorf("bad fixed-point value %q", s)
	}
	if !ok {
		return ir.Q64FromInt(n), nil
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 0, 64)
	if err != nil || d == 0 {
		return ir.Q64{}, fmt.Errorf("bad fixed-point value %q", s)
	}
	return ir.Q64FromRatio(n, d), nil
}

func isIntLiteral(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!int"
}

// operand resolves n. Integer literals take type hint, or i64 without one.
func (fl *funcLowerer) operand(n *yaml.Node, hint *ir.Type) (*ir.Value, error) {
	if hint == nil {
		hint = fl.m.Primitive(ir.TypeI64)
	}
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!int":
			v, err := parseInt(n.Value)
			if err != nil {
				return nil, err
			}
			return fl.m.ConstInt(hint, v)
		case "!!bool":
			return fl.m.ConstBool(strings.EqualFold(n.Value, "true"))
		case "!!str":
			return fl.ref(n.Value)
		}
	case yaml.MappingNode:
		return fl.constant(n, hint)
	}
	return nil, fmt.Errorf("line %d: unsupported operand", n.Line)
}

func (fl *funcLowerer) constant(n *yaml.Node, hint *ir.Type) (*ir.Value, error) {
	fields := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		fields[n.Content[i].Value] = n.Content[i+1]
	}
	if tn, ok := fields["type"]; ok {
		t, err := fl.parseType(tn.Value)
		if err != nil {
			return nil, err
		}
		hint = t
		delete(fields, "type")
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("line %d: constant needs exactly one kind", n.Line)
	}
	for key, v := range fields {
		switch key {
		case "int":
			x, err := parseInt(v.Value)
			if err != nil {
				return nil, err
			}
			return fl.m.ConstInt(hint, x)
		case "void":
			t, err := fl.parseType(v.Value)
			if err != nil {
				return nil, err
			}
			return fl.m.ConstVoid(t)
		case "string":
			sc, err := fl.m.InternString([]byte(v.Value))
			if err != nil {
				return nil, err
			}
			return fl.m.ConstString(sc)
		case "fn":
			f, ok := fl.funcs[v.Value]
			if !ok {
				return nil, fmt.Errorf("undefined function %q", v.Value)
			}
			return fl.m.FuncPtr(f)
		case "global":
			g, ok := fl.globals[v.Value]
			if !ok {
				return nil, fmt.Errorf("undefined global %q", v.Value)
			}
			return fl.m.GlobalAddr(g)
		case "scalar":
			q, err := parseQ64(v.Value)
			if err != nil {
				return nil, err
			}
			return fl.m.ConstScalar(q)
		case "galactic":
			if v.Kind != yaml.SequenceNode || len(v.Content) != 4 {
				return nil, fmt.Errorf("line %d: galactic constant needs four components", v.Line)
			}
			var q [4]ir.Q64
			for i, c := range v.Content {
				var err error
				if q[i], err = parseQ64(c.Value); err != nil {
					return nil, err
				}
			}
			return fl.m.ConstGalactic(q[0], q[1], q[2], q[3])
		}
		return nil, fmt.Errorf("line %d: unknown constant kind %q", n.Line, key)
	}
	panic("unreachable")
}

// args resolves the operands of in. Integer literals share the type given
// by ctype, else the first integer-typed operand, else def.
func (fl *funcLowerer) args(in *InstrDecl, def *ir.Type) ([]*ir.Value, error) {
	out := make([]*ir.Value, len(in.Args))
	var hint *ir.Type
	if in.CType != "" {
		t, err := fl.parseType(in.CType)
		if err != nil {
			return nil, err
		}
		hint = t
	}
	for i := range in.Args {
		if isIntLiteral(&in.Args[i]) {
			continue
		}
		v, err := fl.operand(&in.Args[i], nil)
		if err != nil {
			return nil, err
		}
		out[i] = v
		if hint == nil && v.Type.IsInteger() {
			hint = v.Type
		}
	}
	if hint == nil {
		hint = def
	}
	for i := range in.Args {
		if out[i] != nil {
			continue
		}
		v, err := fl.operand(&in.Args[i], hint)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fl *funcLowerer) typ(in *InstrDecl) (*ir.Type, error) {
	if in.Type == "" {
		return nil, fmt.Errorf("%s needs a type", in.Op)
	}
	return fl.parseType(in.Type)
}

func (fl *funcLowerer) target(in *InstrDecl, i int) (*ir.Block, error) {
	if i >= len(in.Targets) {
		return nil, fmt.Errorf("%s needs %d targets", in.Op, i+1)
	}
	return fl.block(in.Targets[i])
}

func (fl *funcLowerer) callee(in *InstrDecl) (*ir.Function, error) {
	f, ok := fl.funcs[in.Callee]
	if !ok {
		return nil, fmt.Errorf("undefined function %q", in.Callee)
	}
	return f, nil
}

func (fl *funcLowerer) bind(name string, v *ir.Value) error {
	if name == "" {
		return nil
	}
	if v == nil {
		return fmt.Errorf("no value to bind to %s", name)
	}
	if strings.HasPrefix(name, "%") {
		return fmt.Errorf("def %s uses the parameter prefix", name)
	}
	if _, dup := fl.defs[name]; dup {
		return fmt.Errorf("%s defined twice", name)
	}
	fl.defs[name] = v
	return nil
}

func arity(in *InstrDecl, args []*ir.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d operands, got %d", in.Op, n, len(args))
	}
	return nil
}

func (fl *funcLowerer) instr(in *InstrDecl) error {
	if in.Op == "const" {
		if len(in.Args) != 1 {
			return errors.New("const takes one operand")
		}
		var hint *ir.Type
		if in.Type != "" {
			t, err := fl.typ(in)
			if err != nil {
				return err
			}
			hint = t
		}
		v, err := fl.operand(&in.Args[0], hint)
		if err != nil {
			return err
		}
		return fl.bind(in.Def, v)
	}
	op, ok := ir.OpcodeByName(in.Op)
	if !ok {
		return fmt.Errorf("unknown op %q", in.Op)
	}
	if op == ir.OpCapSplit {
		return fl.capSplit(in)
	}
	v, err := fl.lower(op, in)
	if err != nil {
		return err
	}
	return fl.bind(in.Def, v)
}

func (fl *funcLowerer) capSplit(in *InstrDecl) error {
	args, err := fl.args(in, nil)
	if err != nil {
		return err
	}
	if err := arity(in, args, 2); err != nil {
		return err
	}
	lo, hi, err := fl.b.CapSplit(args[0], args[1])
	if err != nil {
		return err
	}
	if len(in.Defs) != 0 && len(in.Defs) != 2 {
		return errors.New("cap.split binds two defs")
	}
	if len(in.Defs) == 2 {
		if err := fl.bind(in.Defs[0], lo); err != nil {
			return err
		}
		return fl.bind(in.Defs[1], hi)
	}
	return nil
}

// lower emits one instruction. Operations without a result return nil.
func (fl *funcLowerer) lower(op ir.Opcode, in *InstrDecl) (*ir.Value, error) {
	b := fl.b
	var def *ir.Type
	if op == ir.OpReturn {
		def = fl.fn.Type.Return
	}
	args, err := fl.args(in, def)
	if err != nil {
		return nil, err
	}
	// n checks the operand count before args is indexed
	n := func(k int) error { return arity(in, args, k) }

	switch {
	case op == ir.OpNeg || op == ir.OpNot:
		if err := n(1); err != nil {
			return nil, err
		}
		if op == ir.OpNeg {
			return b.Neg(args[0])
		}
		return b.Not(args[0])
	case op.IsArithmetic() || op.IsBitwise():
		if err := n(2); err != nil {
			return nil, err
		}
		return b.Binary(op, args[0], args[1])
	case op >= ir.OpEq && op <= ir.OpUGe:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.Compare(op, args[0], args[1])
	}

	switch op {
	case ir.OpNop:
		return nil, b.Nop()

	case ir.OpVoidTest, ir.OpVoidPropagate, ir.OpVoidAssert:
		if err := n(1); err != nil {
			return nil, err
		}
		switch op {
		case ir.OpVoidTest:
			return b.VoidTest(args[0])
		case ir.OpVoidPropagate:
			return b.VoidPropagate(args[0])
		}
		return b.VoidAssert(args[0])
	case ir.OpVoidCoalesce:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.VoidCoalesce(args[0], args[1])
	case ir.OpVoidConst:
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		return b.VoidConst(t)

	case ir.OpCapCreate:
		if err := n(3); err != nil {
			return nil, err
		}
		return b.CapCreate(args[0], args[1], args[2])
	case ir.OpCapLoad:
		if err := n(2); err != nil {
			return nil, err
		}
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		return b.CapLoad(args[0], args[1], t)
	case ir.OpCapStore:
		if err := n(3); err != nil {
			return nil, err
		}
		return nil, b.CapStore(args[0], args[1], args[2])
	case ir.OpCapCheck:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.CapCheck(args[0], args[1], in.Imm)
	case ir.OpCapNarrow:
		if err := n(3); err != nil {
			return nil, err
		}
		return b.CapNarrow(args[0], args[1], args[2])
	case ir.OpCapRevoke:
		return nil, b.CapRevoke()

	case ir.OpLoad:
		if err := n(1); err != nil {
			return nil, err
		}
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		return b.Load(args[0], t)
	case ir.OpStore:
		if err := n(2); err != nil {
			return nil, err
		}
		return nil, b.Store(args[0], args[1])
	case ir.OpAlloca:
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		return b.Alloca(t)
	case ir.OpMemcpy, ir.OpMemset:
		if err := n(3); err != nil {
			return nil, err
		}
		if op == ir.OpMemcpy {
			return nil, b.Memcpy(args[0], args[1], args[2])
		}
		return nil, b.Memset(args[0], args[1], args[2])
	case ir.OpGEP:
		if err := n(2); err != nil {
			return nil, err
		}
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		return b.GEP(args[0], args[1], t)
	case ir.OpExtractField:
		if err := n(1); err != nil {
			return nil, err
		}
		return b.ExtractField(args[0], int(in.Imm))
	case ir.OpInsertField:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.InsertField(args[0], int(in.Imm), args[1])
	case ir.OpExtractElem:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.ExtractElem(args[0], args[1])
	case ir.OpInsertElem:
		if err := n(3); err != nil {
			return nil, err
		}
		return b.InsertElem(args[0], args[1], args[2])

	case ir.OpSubstrateEnter:
		kind, err := parseSubstrate(in.Substrate)
		if err != nil {
			return nil, err
		}
		return b.SubstrateEnter(kind)
	case ir.OpSubstrateExit:
		if err := n(1); err != nil {
			return nil, err
		}
		return nil, b.SubstrateExit(args[0])
	case ir.OpAtlasLoad, ir.OpAetherLoad:
		if err := n(1); err != nil {
			return nil, err
		}
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		if op == ir.OpAtlasLoad {
			return b.AtlasLoad(args[0], t)
		}
		return b.AetherLoad(args[0], t)
	case ir.OpAtlasStore, ir.OpAetherStore:
		if err := n(2); err != nil {
			return nil, err
		}
		if op == ir.OpAtlasStore {
			return nil, b.AtlasStore(args[0], args[1])
		}
		return nil, b.AetherStore(args[0], args[1])
	case ir.OpAtlasBegin:
		return b.AtlasBegin()
	case ir.OpAtlasCommit, ir.OpAtlasRollback, ir.OpAetherSync:
		if err := n(1); err != nil {
			return nil, err
		}
		switch op {
		case ir.OpAtlasCommit:
			return nil, b.AtlasCommit(args[0])
		case ir.OpAtlasRollback:
			return nil, b.AtlasRollback(args[0])
		}
		return nil, b.AetherSync(args[0])

	case ir.OpJump:
		t, err := fl.target(in, 0)
		if err != nil {
			return nil, err
		}
		return nil, b.Jump(t)
	case ir.OpBranch:
		if err := n(1); err != nil {
			return nil, err
		}
		t, err := fl.target(in, 0)
		if err != nil {
			return nil, err
		}
		f, err := fl.target(in, 1)
		if err != nil {
			return nil, err
		}
		return nil, b.Branch(args[0], t, f)
	case ir.OpSwitch:
		if err := n(1); err != nil {
			return nil, err
		}
		def, err := fl.target(in, 0)
		if err != nil {
			return nil, err
		}
		cases := make([]ir.SwitchCase, len(in.Cases))
		for i, c := range in.Cases {
			t, err := fl.block(c.Target)
			if err != nil {
				return nil, err
			}
			cases[i] = ir.SwitchCase{Value: c.Value, Target: t}
		}
		return nil, b.Switch(args[0], def, cases)
	case ir.OpCall, ir.OpTailCall:
		f, err := fl.callee(in)
		if err != nil {
			return nil, err
		}
		if op == ir.OpTailCall {
			return nil, b.TailCall(f, args...)
		}
		return b.Call(f, args...)
	case ir.OpCallIndirect:
		if len(args) == 0 {
			return nil, errors.New("call.indirect needs a function pointer")
		}
		return b.CallIndirect(args[0], args[1:]...)
	case ir.OpSyscall:
		if len(args) == 0 {
			return nil, errors.New("syscall needs a number")
		}
		return b.Syscall(args[0], args[1:]...)
	case ir.OpReturn:
		switch len(args) {
		case 0:
			return nil, b.Return(nil)
		case 1:
			return nil, b.Return(args[0])
		}
		return nil, errors.New("ret takes at most one operand")

	case ir.OpGalacticAdd, ir.OpGalacticMul, ir.OpGalacticDiv:
		if err := n(2); err != nil {
			return nil, err
		}
		switch op {
		case ir.OpGalacticAdd:
			return b.GalacticAdd(args[0], args[1])
		case ir.OpGalacticMul:
			return b.GalacticMul(args[0], args[1])
		}
		return b.GalacticDiv(args[0], args[1])
	case ir.OpGalacticPredict:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.GalacticPredict(args[0], args[1])
	case ir.OpGalacticExtract:
		if err := n(1); err != nil {
			return nil, err
		}
		return b.GalacticExtract(args[0], int(in.Imm))
	case ir.OpGalacticInsert:
		if err := n(2); err != nil {
			return nil, err
		}
		return b.GalacticInsert(args[0], int(in.Imm), args[1])

	case ir.OpChrononNow:
		return b.ChrononNow()
	case ir.OpChrononDelta, ir.OpChrononBudget:
		if err := n(2); err != nil {
			return nil, err
		}
		if op == ir.OpChrononDelta {
			return b.ChrononDelta(args[0], args[1])
		}
		return b.ChrononBudget(args[0], args[1])
	case ir.OpChrononYield:
		return nil, b.ChrononYield()

	case ir.OpTrunc, ir.OpZext, ir.OpSext, ir.OpBitcast, ir.OpFromScalar:
		if err := n(1); err != nil {
			return nil, err
		}
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		if op == ir.OpFromScalar {
			return b.FromScalar(args[0], t)
		}
		return b.Convert(op, args[0], t)
	case ir.OpToScalar, ir.OpToGalactic, ir.OpFromGalactic:
		if err := n(1); err != nil {
			return nil, err
		}
		switch op {
		case ir.OpToScalar:
			return b.ToScalar(args[0])
		case ir.OpToGalactic:
			return b.ToGalactic(args[0])
		}
		return b.FromGalactic(args[0])

	case ir.OpPhi:
		t, err := fl.typ(in)
		if err != nil {
			return nil, err
		}
		phi, err := b.Phi(t)
		if err != nil {
			return nil, err
		}
		fl.phis = append(fl.phis, pendingPhi{phi: phi, in: in.Incoming, where: in.Def})
		return phi, nil
	case ir.OpSelect:
		if err := n(3); err != nil {
			return nil, err
		}
		return b.Select(args[0], args[1], args[2])
	case ir.OpUnreachable:
		return nil, b.Unreachable()
	case ir.OpTrap:
		return nil, b.Trap()
	}
	return nil, fmt.Errorf("op %s cannot be written in a document", op)
}
