package interp

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/irtest"
	"github.com/tinyrange/seraph/internal/ir/opt"
)

func TestVoidDivide(t *testing.T) {
	m := irtest.New(t).VoidDivide()
	got, err := New(m, Options{}).Call("divide", 5)
	if err != nil {
		t.Fatalf("divide: %v", err)
	}
	if got != ir.VoidBits {
		t.Fatalf("divide(5) = %#x, want %#x", got, ir.VoidBits)
	}
}

func TestCapabilityBounds(t *testing.T) {
	m := irtest.New(t).Capabilities()
	mc := New(m, Options{Generation: 1})
	base := mc.Memory().Alloc(32, "buffer")
	for i := uint64(0); i < 32; i++ {
		if err := mc.Memory().WriteUint(base+i, 1, i+1); err != nil {
			t.Fatal(err)
		}
	}

	for _, off := range []uint64{0, 8, 15} {
		got, err := mc.Call("cap_load", base, off)
		if err != nil {
			t.Fatalf("cap_load(%d): %v", off, err)
		}
		want, _ := mc.Memory().ReadUint(base+off, 8)
		if got != want {
			t.Fatalf("cap_load(%d) = %#x, want %#x", off, got, want)
		}
	}
	got, err := mc.Call("cap_load", base, irtest.CapLength)
	if err != nil {
		t.Fatalf("cap_load(16): %v", err)
	}
	if got != ir.VoidBits {
		t.Fatalf("cap_load(16) = %#x, want VOID", got)
	}

	if _, err := mc.Call("cap_store", base, 8, 0xdead); err != nil {
		t.Fatalf("cap_store(8): %v", err)
	}
	if v, _ := mc.Memory().ReadUint(base+8, 8); v != 0xdead {
		t.Fatalf("store at 8 not visible: %#x", v)
	}
	before, _ := mc.Memory().Read(base, 32)
	if _, err := mc.Call("cap_store", base, irtest.CapLength, 0xbeef); err != nil {
		t.Fatalf("cap_store(16): %v", err)
	}
	after, _ := mc.Memory().Read(base, 32)
	if string(before) != string(after) {
		t.Fatalf("out-of-bounds store modified memory")
	}
}

func TestCapabilityRevocation(t *testing.T) {
	m := irtest.New(t).Capabilities()
	mc := New(m, Options{Generation: 1})
	base := mc.Memory().Alloc(32, "buffer")
	_ = mc.Memory().WriteUint(base, 8, 77)

	got, err := mc.Call("cap_revoked_load", base, 0)
	if err != nil {
		t.Fatalf("cap_revoked_load: %v", err)
	}
	if got != ir.VoidBits {
		t.Fatalf("load after revoke = %#x, want VOID", got)
	}
	if g := mc.Generation(); g != 2 {
		t.Fatalf("generation = %d, want 2", g)
	}
	// a capability created at generation 2 still works
	if got, _ := mc.Call("cap_load", base, 0); got != 77 {
		t.Fatalf("fresh capability load = %d, want 77", got)
	}
	// an old one does not
	old := CapCell(base, 16, 1, uint64(ir.PermRead))
	c := irtest.New(t)
	m2 := c.Module("old")
	u64 := m2.Primitive(ir.TypeU64)
	fn, b := c.Func(m2, "load_old", ir.EffectRead, u64, m2.Primitive(ir.TypeCapability))
	c.OK(b.Return(c.V(b.CapLoad(fn.Params[0], c.U64(m2, 0), u64))))
	mc2 := New(c.Verify(m2), Options{Generation: 2})
	r, err := mc2.CallCells(fn, []Cell{old})
	if err != nil {
		t.Fatal(err)
	}
	if r.Bits != ir.VoidBits {
		t.Fatalf("stale capability load = %#x, want VOID", r.Bits)
	}
}

func TestCapabilityDerivation(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("derive")
	u64 := m.Primitive(ir.TypeU64)
	capT := m.Primitive(ir.TypeCapability)
	fn, b := c.Func(m, "narrow_len", ir.EffectNone, u64, capT, u64, u64)
	n := c.V(b.CapNarrow(fn.Params[0], fn.Params[1], fn.Params[2]))
	c.OK(b.Return(c.V(b.ExtractField(n, 1))))

	fn2, b := c.Func(m, "split_base", ir.EffectNone, u64, capT, u64)
	_, hi, err := b.CapSplit(fn2.Params[0], fn2.Params[1])
	c.OK(err)
	c.OK(b.Return(c.V(b.ExtractField(hi, 0))))
	c.Verify(m)

	mc := New(m, Options{})
	parent := CapCell(0x1000, 64, 0, uint64(ir.PermAll))
	r, err := mc.CallCells(fn, []Cell{parent, Reg(16), Reg(32)})
	if err != nil || r.Bits != 32 {
		t.Fatalf("narrow length = %d, %v; want 32", r.Bits, err)
	}
	r, _ = mc.CallCells(fn, []Cell{parent, Reg(40), Reg(32)})
	if r.Bits != ir.VoidBits {
		t.Fatalf("narrow beyond parent = %#x, want VOID", r.Bits)
	}
	r, _ = mc.CallCells(fn2, []Cell{parent, Reg(24)})
	if r.Bits != 0x1000+24 {
		t.Fatalf("split upper base = %#x, want %#x", r.Bits, 0x1000+24)
	}
}

func TestLoopAndCalls(t *testing.T) {
	c := irtest.New(t)
	mc := New(c.LoopSum(), Options{})
	for _, tc := range []struct{ n, want uint64 }{{0, 0}, {1, 0}, {10, 45}, {100, 4950}} {
		got, err := mc.Call("sum", tc.n)
		if err != nil || got != tc.want {
			t.Fatalf("sum(%d) = %d, %v; want %d", tc.n, got, err, tc.want)
		}
	}

	got, err := New(c.Calls(), Options{}).Call("main")
	if err != nil || got != 72 {
		t.Fatalf("calls main = %d, %v; want 72", got, err)
	}
}

func TestGalacticDerivative(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("galactic")
	i64 := m.Primitive(ir.TypeI64)
	fn, b := c.Func(m, "dsquare", ir.EffectNone, i64, i64)
	g := c.V(b.ToGalactic(c.V(b.ToScalar(fn.Params[0]))))
	g = c.V(b.GalacticInsert(g, 1, c.V(m.ConstScalar(ir.Q64FromInt(1)))))
	sq := c.V(b.GalacticMul(g, g))
	d := c.V(b.GalacticExtract(sq, 1))
	c.OK(b.Return(c.V(b.FromScalar(d, i64))))
	c.Verify(m)

	got, err := New(m, Options{}).Call("dsquare", 3)
	if err != nil || got != 6 {
		t.Fatalf("d/dx x^2 at 3 = %d, %v; want 6", got, err)
	}
}

func TestVoidOperations(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("voidops")
	i64 := m.Primitive(ir.TypeI64)

	fn, b := c.Func(m, "propagate", ir.EffectVoid, i64, i64)
	q := c.V(b.Div(c.I64(m, 10), fn.Params[0]))
	p := c.V(b.VoidPropagate(q))
	c.OK(b.Return(c.V(b.Add(p, c.I64(m, 1)))))

	fn, b = c.Func(m, "coalesce", ir.EffectNone, i64, i64)
	q = c.V(b.Div(c.I64(m, 10), fn.Params[0]))
	c.OK(b.Return(c.V(b.VoidCoalesce(q, c.I64(m, -1)))))

	fn, b = c.Func(m, "assert", ir.EffectPanic, i64, i64)
	q = c.V(b.Div(c.I64(m, 10), fn.Params[0]))
	c.OK(b.Return(c.V(b.VoidAssert(q))))

	fn, b = c.Func(m, "cmp", ir.EffectNone, m.Primitive(ir.TypeBool), i64)
	q = c.V(b.Div(c.I64(m, 10), fn.Params[0]))
	c.OK(b.Return(c.V(b.Compare(ir.OpEq, q, c.I64(m, 5)))))
	c.Verify(m)

	mc := New(m, Options{})
	for _, tc := range []struct {
		fn   string
		x    uint64
		want uint64
	}{
		{"propagate", 2, 6},
		{"propagate", 0, ir.VoidBits},
		{"coalesce", 5, 2},
		{"coalesce", 0, ^uint64(0)},
		{"assert", 5, 2},
		{"cmp", 2, 1},
		{"cmp", 3, 0},
		{"cmp", 0, ir.VoidByte},
	} {
		got, err := mc.Call(tc.fn, tc.x)
		if err != nil || got != tc.want {
			t.Fatalf("%s(%d) = %#x, %v; want %#x", tc.fn, tc.x, got, err, tc.want)
		}
	}
	if _, err := mc.Call("assert", 0); !errors.Is(err, ErrTrap) {
		t.Fatalf("assert on VOID: err = %v, want ErrTrap", err)
	}
}

func TestSubstrateAndMemory(t *testing.T) {
	c := irtest.New(t)
	m := c.Module("mem")
	i64 := m.Primitive(ir.TypeI64)
	_, b := c.Func(m, "enter", ir.EffectWrite, i64)
	prev := c.V(b.SubstrateEnter(ir.SubstratePersistent))
	c.OK(b.Return(prev))

	fn, b := c.Func(m, "roundtrip", ir.EffectRead|ir.EffectWrite, i64, i64)
	slot := c.V(b.Alloca(i64))
	c.OK(b.Store(slot, fn.Params[0]))
	c.OK(b.Return(c.V(b.Load(slot, i64))))
	c.Verify(m)

	mc := New(m, Options{})
	if got, _ := mc.Call("enter"); got != uint64(ir.SubstrateVolatile) {
		t.Fatalf("first enter returned %d", got)
	}
	if mc.Substrate() != ir.SubstratePersistent {
		t.Fatalf("substrate = %s, want persistent", mc.Substrate())
	}
	if got, _ := mc.Call("enter"); got != uint64(ir.SubstratePersistent) {
		t.Fatalf("second enter returned %d", got)
	}
	if got, err := mc.Call("roundtrip", 0x1234); err != nil || got != 0x1234 {
		t.Fatalf("roundtrip = %#x, %v", got, err)
	}
}

func TestMemoryFaults(t *testing.T) {
	mem := NewMemory()
	a := mem.Alloc(8, "a")
	if err := mem.WriteUint(a+4, 8, 1); !errors.Is(err, ErrFault) {
		t.Fatalf("straddling write: %v, want ErrFault", err)
	}
	if _, err := mem.ReadUint(a-1, 1); !errors.Is(err, ErrFault) {
		t.Fatalf("read before region: %v, want ErrFault", err)
	}
	if err := mem.WriteUint(a, 8, 42); err != nil {
		t.Fatal(err)
	}
	if v, _ := mem.ReadUint(a, 8); v != 42 {
		t.Fatalf("read back %d", v)
	}
}

func TestOptimiserIsObservationallyNeutral(t *testing.T) {
	ops := []ir.Opcode{ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr, ir.OpSar, ir.OpNeg, ir.OpNot}
	rng := rand.New(rand.NewSource(1))
	consts := []int64{0, 1, 2, 3, -1, 7, 63, 1 << 40, -1 << 62}

	build := func(seed int64) *ir.Module {
		r := rand.New(rand.NewSource(seed))
		c := irtest.New(t)
		m := c.Module("rand")
		i64 := m.Primitive(ir.TypeI64)
		fn, b := c.Func(m, "f", ir.EffectNone, i64, i64)
		pool := []*ir.Value{fn.Params[0]}
		var last *ir.Value
		for i := 0; i < 24; i++ {
			pick := func() *ir.Value {
				if r.Intn(3) == 0 {
					return c.I64(m, consts[r.Intn(len(consts))])
				}
				return pool[r.Intn(len(pool))]
			}
			op := ops[r.Intn(len(ops))]
			var v *ir.Value
			switch op {
			case ir.OpNeg:
				v = c.V(b.Neg(pick()))
			case ir.OpNot:
				v = c.V(b.Not(pick()))
			default:
				v = c.V(b.Binary(op, pick(), pick()))
			}
			pool = append(pool, v)
			last = v
		}
		c.OK(b.Return(last))
		return c.Verify(m)
	}

	for i := 0; i < 200; i++ {
		seed := rng.Int63()
		x := uint64(consts[rng.Intn(len(consts))])

		plain, err := New(build(seed), Options{}).Call("f", x)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		m := build(seed)
		opt.Run(m, opt.O3, nil)
		optimised, err := New(m, Options{}).Call("f", x)
		if err != nil {
			t.Fatalf("seed %d optimised: %v", seed, err)
		}
		if plain != optimised {
			t.Fatalf("seed %d x=%d: %#x before optimisation, %#x after\n%s", seed, x, plain, optimised, m)
		}
	}
}
