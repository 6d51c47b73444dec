package irtest

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/ir"
)

// CapLength is the length of the capability built by Capabilities.
const CapLength = 16

// Return42 is a module whose main returns 42.
func (c Checker) Return42() *ir.Module {
	m := c.Module("return42")
	_, b := c.Func(m, "main", ir.EffectNone, m.Primitive(ir.TypeI64))
	c.OK(b.Return(c.I64(m, 42)))
	return c.Verify(m)
}

// VoidDivide holds divide(x) = (x + 1) / 0.
func (c Checker) VoidDivide() *ir.Module {
	m := c.Module("voiddiv")
	i64 := m.Primitive(ir.TypeI64)
	fn, b := c.Func(m, "divide", ir.EffectNone, i64, i64)
	sum := c.V(b.Add(fn.Params[0], c.I64(m, 1)))
	q := c.V(b.Div(sum, c.I64(m, 0)))
	c.OK(b.Return(q))
	return c.Verify(m)
}

// FoldChain holds main() { a = 2 + 3; b = a * 4; return b } and returns the
// values a and b.
func (c Checker) FoldChain() (m *ir.Module, a, b *ir.Value) {
	m = c.Module("fold")
	_, bld := c.Func(m, "main", ir.EffectNone, m.Primitive(ir.TypeI64))
	a = c.V(bld.Add(c.I64(m, 2), c.I64(m, 3)))
	b = c.V(bld.Mul(a, c.I64(m, 4)))
	c.OK(bld.Return(b))
	return c.Verify(m), a, b
}

// Capabilities holds three functions over a read-write capability of
// CapLength bytes at base:
//
//	cap_load(base, off) u64
//	cap_store(base, off, v) u64      returns 0
//	cap_revoked_load(base, off) u64  revokes before loading
func (c Checker) Capabilities() *ir.Module {
	m := c.Module("caps")
	u64 := m.Primitive(ir.TypeU64)
	rw := c.U64(m, uint64(ir.PermRead|ir.PermWrite))
	length := c.U64(m, CapLength)

	fn, b := c.Func(m, "cap_load", ir.EffectRead, u64, u64, u64)
	capv := c.V(b.CapCreate(fn.Params[0], length, rw))
	c.OK(b.Return(c.V(b.CapLoad(capv, fn.Params[1], u64))))

	fn, b = c.Func(m, "cap_store", ir.EffectWrite, u64, u64, u64, u64)
	capv = c.V(b.CapCreate(fn.Params[0], length, rw))
	c.OK(b.CapStore(capv, fn.Params[1], fn.Params[2]))
	c.OK(b.Return(c.U64(m, 0)))

	fn, b = c.Func(m, "cap_revoked_load", ir.EffectRead|ir.EffectWrite, u64, u64, u64)
	capv = c.V(b.CapCreate(fn.Params[0], length, rw))
	c.OK(b.CapRevoke())
	c.OK(b.Return(c.V(b.CapLoad(capv, fn.Params[1], u64))))
	return c.Verify(m)
}

// LoopSum holds sum(n) = 0 + 1 + ... + n-1 written with phis.
func (c Checker) LoopSum() *ir.Module {
	m := c.Module("loop")
	i64 := m.Primitive(ir.TypeI64)
	fn, b := c.Func(m, "sum", ir.EffectNone, i64, i64)
	entry := b.InsertBlock()
	loop := c.B(fn.CreateBlock("loop"))
	body := c.B(fn.CreateBlock("body"))
	done := c.B(fn.CreateBlock("done"))
	c.OK(b.Jump(loop))

	b.PositionAtEnd(loop)
	i := c.V(b.Phi(i64))
	acc := c.V(b.Phi(i64))
	more := c.V(b.Compare(ir.OpLt, i, fn.Params[0]))
	c.OK(b.Branch(more, body, done))

	b.PositionAtEnd(body)
	acc1 := c.V(b.Add(acc, i))
	i1 := c.V(b.Add(i, c.I64(m, 1)))
	c.OK(b.Jump(loop))

	c.OK(b.AddIncoming(i, c.I64(m, 0), entry))
	c.OK(b.AddIncoming(i, i1, body))
	c.OK(b.AddIncoming(acc, c.I64(m, 0), entry))
	c.OK(b.AddIncoming(acc, acc1, body))

	b.PositionAtEnd(done)
	c.OK(b.Return(acc))
	return c.Verify(m)
}

// Calls holds direct, indirect and many-argument calls:
//
//	add3(a, b, c) = a + b + c
//	sum8(a..h)    = a + ... + h
//	apply(f, x)   = f(x, x, x)
//	main()        = add3(1, 2, 3) + sum8(1..8) + apply(&add3, 10)   // 6 + 36 + 30
func (c Checker) Calls() *ir.Module {
	m := c.Module("calls")
	i64 := m.Primitive(ir.TypeI64)

	add3, b := c.Func(m, "add3", ir.EffectNone, i64, i64, i64, i64)
	s := c.V(b.Add(add3.Params[0], add3.Params[1]))
	c.OK(b.Return(c.V(b.Add(s, add3.Params[2]))))

	eight := make([]*ir.Type, 8)
	for i := range eight {
		eight[i] = i64
	}
	sum8, b := c.Func(m, "sum8", ir.EffectNone, i64, eight...)
	acc := sum8.Params[0]
	for _, p := range sum8.Params[1:] {
		acc = c.V(b.Add(acc, p))
	}
	c.OK(b.Return(acc))

	apply, b := c.Func(m, "apply", ir.EffectNone, i64, add3.Type, i64)
	x := apply.Params[1]
	c.OK(b.Return(c.V(b.CallIndirect(apply.Params[0], x, x, x))))

	_, b = c.Func(m, "main", ir.EffectNone, i64)
	r1 := c.V(b.Call(add3, c.I64(m, 1), c.I64(m, 2), c.I64(m, 3)))
	args := make([]*ir.Value, 8)
	for i := range args {
		args[i] = c.I64(m, int64(i+1))
	}
	r2 := c.V(b.Call(sum8, args...))
	r3 := c.V(b.Call(apply, c.V(m.FuncPtr(add3)), c.I64(m, 10)))
	t := c.V(b.Add(r1, r2))
	c.OK(b.Return(c.V(b.Add(t, r3))))
	return c.Verify(m)
}

// Dead holds keep(x) where the chain d1 = x*3; d2 = d1+7 is unused and
// x+1 is returned.
func (c Checker) Dead() (m *ir.Module, d1, d2, live *ir.Value) {
	m = c.Module("dead")
	i64 := m.Primitive(ir.TypeI64)
	fn, b := c.Func(m, "keep", ir.EffectNone, i64, i64)
	d1 = c.V(b.Mul(fn.Params[0], c.I64(m, 3)))
	d2 = c.V(b.Add(d1, c.I64(m, 7)))
	live = c.V(b.Add(fn.Params[0], c.I64(m, 1)))
	c.OK(b.Return(live))
	return c.Verify(m), d1, d2, live
}

// StringLength holds main() = len("hello\n"), read through the string's
// length member.
func (c Checker) StringLength() *ir.Module {
	m := c.Module("strlen")
	_, b := c.Func(m, "main", ir.EffectNone, m.Primitive(ir.TypeU64))
	sc, err := m.InternString([]byte(`hello\n`))
	c.OK(err)
	s := c.V(m.ConstString(sc))
	c.OK(b.Return(c.V(b.ExtractField(s, 1))))
	return c.Verify(m)
}

// Galactic holds functions of (x, y i64) over the hyper-duals
//
//	gx = (x, 1000/3, y, -500/7)
//	gy = (y, 7/2, x, -1/5)
//
// add<k> and mul<k> return the integer part of component k of gx+gy and
// gx*gy; predict returns the integer part of gx predicted by dt = y.
func (c Checker) Galactic() *ir.Module {
	m := c.Module("galactic")
	i64 := m.Primitive(ir.TypeI64)

	operands := func(fn *ir.Function, b *ir.Builder) (gx, gy *ir.Value) {
		x := c.V(b.ToScalar(fn.Params[0]))
		y := c.V(b.ToScalar(fn.Params[1]))
		build := func(primal, mixed *ir.Value, d1, d3 ir.Q64) *ir.Value {
			g := c.V(b.ToGalactic(primal))
			g = c.V(b.GalacticInsert(g, 1, c.V(m.ConstScalar(d1))))
			g = c.V(b.GalacticInsert(g, 2, mixed))
			return c.V(b.GalacticInsert(g, 3, c.V(m.ConstScalar(d3))))
		}
		return build(x, y, ir.Q64FromRatio(1000, 3), ir.Q64FromRatio(-500, 7)),
			build(y, x, ir.Q64FromRatio(7, 2), ir.Q64FromRatio(-1, 5))
	}

	for k := 0; k < 4; k++ {
		for _, op := range []struct {
			name  string
			apply func(*ir.Builder, *ir.Value, *ir.Value) (*ir.Value, error)
		}{
			{"add", (*ir.Builder).GalacticAdd},
			{"mul", (*ir.Builder).GalacticMul},
		} {
			fn, b := c.Func(m, fmt.Sprintf("%s%d", op.name, k), ir.EffectNone, i64, i64, i64)
			gx, gy := operands(fn, b)
			r := c.V(op.apply(b, gx, gy))
			part := c.V(b.GalacticExtract(r, k))
			c.OK(b.Return(c.V(b.FromScalar(part, i64))))
		}
	}

	fn, b := c.Func(m, "predict", ir.EffectNone, i64, i64, i64)
	gx, _ := operands(fn, b)
	p := c.V(b.GalacticPredict(gx, c.V(b.ToScalar(fn.Params[1]))))
	c.OK(b.Return(c.V(b.FromScalar(p, i64))))
	return c.Verify(m)
}

// CapMissed is what CapRoundTrip's main returns when its load yields VOID.
const CapMissed = 99

// CapRoundTrip holds a main() that stores 7 at storeOff through a CapLength
// byte capability over a stack buffer, optionally revokes it, and returns
// the u64 loaded back at loadOff, or CapMissed when that load is VOID.
func (c Checker) CapRoundTrip(storeOff, loadOff uint64, revoke bool) *ir.Module {
	m := c.Module("caproundtrip")
	u64 := m.Primitive(ir.TypeU64)
	_, b := c.Func(m, "main", ir.EffectRead|ir.EffectWrite, u64)

	buf := c.V(b.Alloca(c.Type(m.ArrayType(u64, CapLength/8))))
	capv := c.V(b.CapCreate(buf, c.U64(m, CapLength), c.U64(m, uint64(ir.PermRead|ir.PermWrite))))
	c.OK(b.CapStore(capv, c.U64(m, storeOff), c.U64(m, 7)))
	if revoke {
		c.OK(b.CapRevoke())
	}
	v := c.V(b.CapLoad(capv, c.U64(m, loadOff), u64))
	c.OK(b.Return(c.V(b.VoidCoalesce(v, c.U64(m, CapMissed)))))
	return c.Verify(m)
}

// GalacticQuotient holds main() = the integer primal of 6/3 computed with
// galactic division.
func (c Checker) GalacticQuotient() *ir.Module {
	m := c.Module("galdiv")
	i64 := m.Primitive(ir.TypeI64)
	_, b := c.Func(m, "main", ir.EffectNone, i64)
	lift := func(n int64) *ir.Value {
		return c.V(b.ToGalactic(c.V(b.ToScalar(c.I64(m, n)))))
	}
	q := c.V(b.GalacticDiv(lift(6), lift(3)))
	c.OK(b.Return(c.V(b.FromScalar(c.V(b.FromGalactic(q)), i64))))
	return c.Verify(m)
}
