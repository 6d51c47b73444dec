package ir

import "testing"

func TestEvalBinaryOverflowIsVoid(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	i8 := m.Primitive(TypeI8)
	u64 := m.Primitive(TypeU64)

	tests := []struct {
		name string
		op   Opcode
		typ  *Type
		a, b int64
		want int64
		void bool
	}{
		{"add", OpAdd, i64, 2, 3, 5, false},
		{"add overflow", OpAdd, i64, 1<<62 + (1<<62 - 1), 1, 0, true},
		{"sub", OpSub, i64, -5, 7, -12, false},
		{"mul overflow", OpMul, i64, 1 << 32, 1 << 32, 0, true},
		{"i8 wraps to void", OpAdd, i8, 100, 100, 0, true},
		{"i8 fits", OpAdd, i8, -100, -28, -128, false},
		{"div by zero", OpDiv, i64, 7, 0, 0, true},
		{"div truncates", OpDiv, i64, -7, 2, -3, false},
		{"mod sign", OpMod, i64, -7, 2, -1, false},
		{"u64 borrow", OpSub, u64, 1, 2, 0, true},
		{"shr i8", OpShr, i8, -8, 1, 124, false},
		{"sar i8", OpSar, i8, -8, 1, -4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, void := EvalBinary(tt.op, tt.typ, uint64(tt.a), uint64(tt.b))
			if void != tt.void {
				t.Fatalf("void=%v, want %v (got %#x)", void, tt.void, got)
			}
			if !void && int64(got) != tt.want {
				t.Fatalf("got=%d, want %d", int64(got), tt.want)
			}
			if void && got != VoidPattern(tt.typ) {
				t.Fatalf("void result %#x is not the VOID pattern", got)
			}
		})
	}
}

func TestEvalVoidOperandPropagates(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	if _, void := EvalBinary(OpAdd, i64, VoidBits, 1); !void {
		t.Fatalf("VOID + 1 is not VOID")
	}
	if got := EvalCompare(OpEq, i64, VoidBits, VoidBits); got != VoidByte {
		t.Fatalf("VOID == VOID gave %#x, want the VOID byte", got)
	}
	if got := EvalCompare(OpULt, i64, 1, ^uint64(0)>>1); got != 1 {
		t.Fatalf("ult=%d, want 1", got)
	}
	if got, _ := EvalUnary(OpNot, m.Primitive(TypeBool), 1); got != 0 {
		t.Fatalf("not true=%d", got)
	}
	if _, void := EvalUnary(OpNeg, m.Primitive(TypeU8), 1); !void {
		t.Fatalf("neg of unsigned non-zero is not VOID")
	}
}

func TestCanonical(t *testing.T) {
	m := newTestModule(t)
	if got := Canonical(m.Primitive(TypeI16), 0xFFFF); int64(got) != -1 {
		t.Fatalf("i16 canonical=%#x", got)
	}
	if got := Canonical(m.Primitive(TypeU16), 0x1FFFF); got != 0xFFFF {
		t.Fatalf("u16 canonical=%#x", got)
	}
	if got := EvalConvert(OpZext, m.Primitive(TypeI32), m.Primitive(TypeI64), ^uint64(0)); got != 0xFFFFFFFF {
		t.Fatalf("zext=%#x", got)
	}
}

func TestQ64Arithmetic(t *testing.T) {
	half := Q64FromRatio(1, 2)
	three := Q64FromInt(3)
	if got := three.Mul(half); got != (Q64{Hi: 1, Lo: 1 << 63}) {
		t.Fatalf("3*0.5=%s", got)
	}
	if got := Q64FromInt(-3).Mul(half); got != (Q64{Hi: -2, Lo: 1 << 63}) {
		t.Fatalf("-3*0.5=%s", got)
	}
	if got := Q64FromInt(-4).Mul(Q64FromInt(-5)); got != Q64FromInt(20) {
		t.Fatalf("-4*-5=%s", got)
	}
	q, ok := Q64FromInt(7).Div(Q64FromInt(2))
	if !ok || q != (Q64{Hi: 3, Lo: 1 << 63}) {
		t.Fatalf("7/2=%s", q)
	}
	if _, ok := three.Div(Q64{}); ok {
		t.Fatalf("division by zero succeeded")
	}
}

func TestGalacticChainRule(t *testing.T) {
	// x = 3 + ε1, x*x = 9 + 6ε1
	x := Galactic{Q64FromInt(3), Q64FromInt(1), Q64{}, Q64{}}
	sq := x.Mul(x)
	if sq[0] != Q64FromInt(9) || sq[1] != Q64FromInt(6) {
		t.Fatalf("x*x=%v", sq)
	}
	// x = 3 + ε1 + ε2, x*x has ε1ε2 coefficient 2
	y := Galactic{Q64FromInt(3), Q64FromInt(1), Q64FromInt(1), Q64{}}
	if got := y.Mul(y)[3]; got != Q64FromInt(2) {
		t.Fatalf("second derivative=%s, want 2", got)
	}
	q, ok := sq.Div(Galactic{Q64FromInt(2)})
	if !ok || q[0] != (Q64{Hi: 4, Lo: 1 << 63}) || q[1] != Q64FromInt(3) {
		t.Fatalf("(x*x)/2=%v", q)
	}
}
