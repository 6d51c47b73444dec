package opt

import (
	"math"
	"strings"
	"testing"

	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/irtest"
)

func TestFoldChain(t *testing.T) {
	c := irtest.New(t)
	m, a, b := c.FoldChain()

	if n := FoldConstants(m); n != 2 {
		t.Fatalf("folded %d instructions, want 2", n)
	}
	if a.Kind != ir.ValueConst || a.Int != 5 {
		t.Fatalf("a = %s (%s), want constant 5", a, a.Kind)
	}
	if b.Kind != ir.ValueConst || b.Int != 20 {
		t.Fatalf("b = %s (%s), want constant 20", b, b.Kind)
	}
	if a.Def.Op != ir.OpNop || b.Def.Op != ir.OpNop {
		t.Fatalf("defining instructions are %s and %s, want nop", a.Def.Op, b.Def.Op)
	}
	ret := m.Function("main").Entry().Terminator()
	if ret.Args[0] != b {
		t.Fatalf("return no longer references b")
	}
	if !strings.Contains(m.String(), "nop ; folded i64 20") {
		t.Fatalf("printer does not show the fold:\n%s", m)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("Verify after fold: %v", err)
	}
}

func TestFoldSkipsVoidResults(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   ir.Opcode
		x, y int64
	}{
		{"div by zero", ir.OpDiv, 7, 0},
		{"mod by zero", ir.OpMod, 7, 0},
		{"add overflow", ir.OpAdd, math.MaxInt64, 1},
		{"mul overflow", ir.OpMul, math.MaxInt64, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := irtest.New(t)
			m := c.Module("skip")
			i64 := m.Primitive(ir.TypeI64)
			_, b := c.Func(m, "f", ir.EffectNone, i64)
			v := c.V(b.Binary(tc.op, c.I64(m, tc.x), c.I64(m, tc.y)))
			c.OK(b.Return(v))
			if n := FoldConstants(m); n != 0 {
				t.Fatalf("folded %d, want 0", n)
			}
			if v.Kind != ir.ValueVReg || v.Def.Op != tc.op {
				t.Fatalf("value became %s defined by %s", v.Kind, v.Def.Op)
			}
		})
	}
}

func TestFoldUnaryAndCompare(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("unary")
	i64 := m.Primitive(ir.TypeI64)
	_, b := c.Func(m, "f", ir.EffectNone, i64)
	neg := c.V(b.Neg(c.I64(m, 9)))
	not := c.V(b.Not(c.I64(m, 0)))
	lt := c.V(b.Compare(ir.OpLt, neg, not))
	ult := c.V(b.Compare(ir.OpULt, neg, not))
	sum := c.V(b.Add(neg, not))
	c.OK(b.Return(sum))

	if n := FoldConstants(m); n != 5 {
		t.Fatalf("folded %d, want 5", n)
	}
	if neg.Int != -9 || not.Int != -1 || sum.Int != -10 {
		t.Fatalf("neg=%d not=%d sum=%d, want -9 -1 -10", neg.Int, not.Int, sum.Int)
	}
	if lt.Int != 1 || ult.Int != 1 {
		t.Fatalf("lt=%d ult=%d, want 1 1", lt.Int, ult.Int)
	}
	if lt.Void != ir.NotVoid {
		t.Fatalf("folded comparison is %s", lt.Void)
	}
}

func TestFoldNarrowCanonical(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("narrow")
	u8 := m.Primitive(ir.TypeU8)
	i8 := m.Primitive(ir.TypeI8)
	_, b := c.Func(m, "f", ir.EffectNone, u8)
	over := c.V(b.Add(c.V(m.ConstInt(u8, 200)), c.V(m.ConstInt(u8, 100))))
	shifted := c.V(b.Shl(c.V(m.ConstInt(i8, 1)), c.V(m.ConstInt(i8, 7))))
	c.OK(b.Return(over))

	if n := FoldConstants(m); n != 1 {
		t.Fatalf("folded %d, want 1 (u8 overflow must stay)", n)
	}
	if over.Kind == ir.ValueConst {
		t.Fatalf("u8 200+100 folded to %d", over.Int)
	}
	if shifted.Int != -128 {
		t.Fatalf("i8 1<<7 = %d, want -128", shifted.Int)
	}
}

func TestDeadCodeElimination(t *testing.T) {
	c := irtest.New(t)
	m, d1, d2, live := c.Dead()

	if n := EliminateDeadCode(m); n != 2 {
		t.Fatalf("eliminated %d, want 2", n)
	}
	if d1.Def.Op != ir.OpNop || d2.Def.Op != ir.OpNop {
		t.Fatalf("dead chain kept: %s, %s", d1.Def.Op, d2.Def.Op)
	}
	if live.Def.Op != ir.OpAdd {
		t.Fatalf("live add became %s", live.Def.Op)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("Verify after DCE: %v", err)
	}
}

func TestDeadCodeKeepsSideEffects(t *testing.T) {
	c := irtest.New(t)
	m := c.Capabilities()
	before := countOps(m)
	if n := EliminateDeadCode(m); n != 0 {
		t.Fatalf("eliminated %d from capability module:\n%s", n, m)
	}
	if after := countOps(m); after != before {
		t.Fatalf("instruction count changed %d -> %d", before, after)
	}

	m = c.Calls()
	if n := EliminateDeadCode(m); n != 0 {
		t.Fatalf("eliminated %d from call module:\n%s", n, m)
	}
}

func TestDeadCodeKeepsLoopPhis(t *testing.T) {
	c := irtest.New(t)
	m := c.LoopSum()
	if n := EliminateDeadCode(m); n != 0 {
		t.Fatalf("eliminated %d from loop:\n%s", n, m)
	}
}

func TestRunLevels(t *testing.T) {
	for _, tc := range []struct {
		level      Level
		folded     int
		eliminated int
	}{
		{O0, 0, 0},
		{O1, 2, 0},
		{O2, 2, 0},
		{O3, 2, 0},
	} {
		c := irtest.New(t)
		m, _, _ := c.FoldChain()
		st := Run(m, tc.level, nil)
		if st.Folded != tc.folded || st.Eliminated != tc.eliminated {
			t.Fatalf("O%d: stats %+v, want folded=%d eliminated=%d", tc.level, st, tc.folded, tc.eliminated)
		}
	}

	c := irtest.New(t)
	m, _, _, _ := c.Dead()
	st := Run(m, O3, nil)
	if st.Eliminated != 2 || st.Rounds != 2 {
		t.Fatalf("O3 on dead chain: %+v, want 2 eliminated over 2 rounds", st)
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel(4); err == nil {
		t.Fatalf("ParseLevel(4) succeeded")
	}
	if l, err := ParseLevel(2); err != nil || l != O2 {
		t.Fatalf("ParseLevel(2) = %v, %v", l, err)
	}
}

func countOps(m *ir.Module) int {
	n := 0
	for _, fn := range m.Functions() {
		for _, b := range fn.Blocks() {
			for _, in := range b.Instrs() {
				if in.Op != ir.OpNop {
					n++
				}
			}
		}
	}
	return n
}
