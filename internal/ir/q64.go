package ir

import (
	"fmt"
	"math/big"
	"math/bits"
)

// Q64 is a signed Q64.64 fixed-point number: Hi holds the integer part and
// Lo the fraction, together forming a 128-bit two's-complement value.
type Q64 struct {
	Lo uint64
	Hi int64
}

// Q64FromInt returns n as a fixed-point number.
func Q64FromInt(n int64) Q64 { return Q64{Hi: n} }

// Q64FromRatio returns num/den rounded toward zero.
func Q64FromRatio(num, den int64) Q64 {
	r := new(big.Int).Lsh(big.NewInt(num), 64)
	r.Quo(r, big.NewInt(den))
	return q64FromBig(r)
}

// Int returns the integer part, rounding toward negative infinity.
func (q Q64) Int() int64 { return q.Hi }

func (q Q64) IsNegative() bool { return q.Hi < 0 }

func (q Q64) Add(o Q64) Q64 {
	lo, carry := bits.Add64(q.Lo, o.Lo, 0)
	hi, _ := bits.Add64(uint64(q.Hi), uint64(o.Hi), carry)
	return Q64{Lo: lo, Hi: int64(hi)}
}

func (q Q64) Sub(o Q64) Q64 {
	lo, borrow := bits.Sub64(q.Lo, o.Lo, 0)
	hi, _ := bits.Sub64(uint64(q.Hi), uint64(o.Hi), borrow)
	return Q64{Lo: lo, Hi: int64(hi)}
}

func (q Q64) Neg() Q64 { return Q64{}.Sub(q) }

// Mul returns the middle 128 bits of the signed 256-bit product, which is the
// Q64.64 product truncated toward negative infinity.
func (q Q64) Mul(o Q64) Q64 {
	a0, a1 := q.Lo, uint64(q.Hi)
	b0, b1 := o.Lo, uint64(o.Hi)

	h00, _ := bits.Mul64(a0, b0)
	h01, l01 := bits.Mul64(a0, b1)
	h10, l10 := bits.Mul64(a1, b0)
	l11 := a1 * b1

	w1, c1 := bits.Add64(h00, l01, 0)
	w1, c2 := bits.Add64(w1, l10, 0)
	w2 := h01 + h10 + l11 + c1 + c2

	// unsigned to signed correction of the high word
	if q.Hi < 0 {
		w2 -= b0
	}
	if o.Hi < 0 {
		w2 -= a0
	}
	return Q64{Lo: w1, Hi: int64(w2)}
}

// Div returns q/o truncated toward zero. ok is false when o is zero.
func (q Q64) Div(o Q64) (Q64, bool) {
	if o == (Q64{}) {
		return Q64{}, false
	}
	n := new(big.Int).Lsh(q.big(), 64)
	n.Quo(n, o.big())
	return q64FromBig(n), true
}

func (q Q64) big() *big.Int {
	v := new(big.Int).SetInt64(q.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(q.Lo))
}

func q64FromBig(v *big.Int) Q64 {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	u := new(big.Int).And(v, mask)
	lo := new(big.Int).And(u, new(big.Int).SetUint64(^uint64(0))).Uint64()
	hi := new(big.Int).Rsh(u, 64).Uint64()
	return Q64{Lo: lo, Hi: int64(hi)}
}

func (q Q64) String() string {
	if q.Lo == 0 {
		return fmt.Sprintf("%d", q.Hi)
	}
	return fmt.Sprintf("%d+0x%016x/2^64", q.Hi, q.Lo)
}

// Galactic is a hyper-dual number a + b·ε1 + c·ε2 + d·ε1ε2 with ε1² = ε2² = 0.
type Galactic [4]Q64

func (g Galactic) Add(o Galactic) Galactic {
	var r Galactic
	for i := range r {
		r[i] = g[i].Add(o[i])
	}
	return r
}

// Mul propagates first and second derivatives through the product.
func (g Galactic) Mul(o Galactic) Galactic {
	return Galactic{
		g[0].Mul(o[0]),
		g[0].Mul(o[1]).Add(g[1].Mul(o[0])),
		g[0].Mul(o[2]).Add(g[2].Mul(o[0])),
		g[0].Mul(o[3]).Add(g[1].Mul(o[2])).Add(g[2].Mul(o[1])).Add(g[3].Mul(o[0])),
	}
}

// Div divides by o. ok is false when the primal of o is zero.
func (g Galactic) Div(o Galactic) (Galactic, bool) {
	// 1/o = 1/o0 - o1/o0² ε1 - o2/o0² ε2 + (2·o1·o2/o0³ - o3/o0²) ε1ε2
	inv0, ok := Q64FromInt(1).Div(o[0])
	if !ok {
		return Galactic{}, false
	}
	inv0sq := inv0.Mul(inv0)
	recip := Galactic{
		inv0,
		o[1].Mul(inv0sq).Neg(),
		o[2].Mul(inv0sq).Neg(),
		Q64FromInt(2).Mul(o[1]).Mul(o[2]).Mul(inv0sq).Mul(inv0).Sub(o[3].Mul(inv0sq)),
	}
	return g.Mul(recip), true
}

// Predict extrapolates the primal by dt along the first tangent.
func (g Galactic) Predict(dt Q64) Q64 {
	return g[0].Add(g[1].Mul(dt))
}
