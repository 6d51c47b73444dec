package ir

import "math/bits"

// VoidBits is the register image of VOID for every 64-bit and narrower
// integer, pointer and aggregate-address value.
const VoidBits uint64 = 0x8000000000000000

// VoidByte is the register image of a VOID boolean (Vbit).
const VoidByte uint64 = 0xFF

// VoidPattern returns the register image of VOID for values of type t.
func VoidPattern(t *Type) uint64 {
	if t.Underlying().Kind == TypeBool {
		return VoidByte
	}
	return VoidBits
}

// IsVoidBits reports whether the register image x is VOID for type t.
func IsVoidBits(t *Type, x uint64) bool { return x == VoidPattern(t) }

// Canonical truncates x to the width of t and re-extends it the way values
// of t are kept in registers: signed types sign-extended, everything else
// zero-extended.
func Canonical(t *Type, x uint64) uint64 {
	t = t.Underlying()
	if t.Kind == TypeBool {
		return x & 0xFF
	}
	n := t.Bits()
	if n >= 64 {
		return x
	}
	shift := uint(64 - n)
	if t.IsSigned() {
		return uint64(int64(x<<shift) >> shift)
	}
	return x << shift >> shift
}

// Representable reports whether x is already canonical for t.
func Representable(t *Type, x uint64) bool { return Canonical(t, x) == x }

// EvalBinary applies a binary arithmetic or bitwise opcode to canonical
// operands of integer type t. void is true when the result is VOID, either
// because an operand is VOID, a divisor is zero, or the result does not fit t.
func EvalBinary(op Opcode, t *Type, a, b uint64) (r uint64, void bool) {
	if IsVoidBits(t, a) || IsVoidBits(t, b) {
		return VoidPattern(t), true
	}
	ut := t.Underlying()
	signed := ut.IsSigned()
	wide := ut.Bits() == 64

	switch op {
	case OpAdd:
		if wide {
			if signed {
				s := int64(a) + int64(b)
				if (int64(a) >= 0) == (int64(b) >= 0) && (s >= 0) != (int64(a) >= 0) {
					return VoidPattern(t), true
				}
				r = uint64(s)
			} else {
				var c uint64
				r, c = bits.Add64(a, b, 0)
				if c != 0 {
					return VoidPattern(t), true
				}
			}
		} else {
			r = a + b
		}
	case OpSub:
		if wide {
			if signed {
				s := int64(a) - int64(b)
				if (int64(a) >= 0) != (int64(b) >= 0) && (s >= 0) != (int64(a) >= 0) {
					return VoidPattern(t), true
				}
				r = uint64(s)
			} else {
				var c uint64
				r, c = bits.Sub64(a, b, 0)
				if c != 0 {
					return VoidPattern(t), true
				}
			}
		} else {
			r = a - b
		}
	case OpMul:
		if signed {
			hi, lo := mulSigned(int64(a), int64(b))
			if hi != int64(lo)>>63 {
				return VoidPattern(t), true
			}
			r = lo
		} else {
			hi, lo := bits.Mul64(a, b)
			if hi != 0 {
				return VoidPattern(t), true
			}
			r = lo
		}
	case OpDiv, OpMod:
		if b == 0 {
			return VoidPattern(t), true
		}
		if signed {
			x, y := int64(a), int64(b)
			if y == -1 {
				// only MinInt64 / -1 overflows, and MinInt64 is VOID
				if op == OpDiv {
					r = uint64(-x)
				} else {
					r = 0
				}
			} else if op == OpDiv {
				r = uint64(x / y)
			} else {
				r = uint64(x % y)
			}
		} else if op == OpDiv {
			r = a / b
		} else {
			r = a % b
		}
	case OpAnd:
		r = a & b
	case OpOr:
		r = a | b
	case OpXor:
		r = a ^ b
	case OpShl:
		r = a << (b & 63)
	case OpShr:
		r = zeroExtend(ut, a) >> (b & 63)
	case OpSar:
		r = uint64(int64(signExtend(ut, a)) >> (b & 63))
	default:
		return 0, true
	}

	switch op {
	case OpShl, OpShr, OpSar:
		return Canonical(t, r), false
	case OpAnd, OpOr, OpXor:
		return r, false
	}
	if !Representable(t, r) {
		return VoidPattern(t), true
	}
	return r, false
}

// EvalUnary applies neg or not.
func EvalUnary(op Opcode, t *Type, a uint64) (uint64, bool) {
	if IsVoidBits(t, a) {
		return VoidPattern(t), true
	}
	ut := t.Underlying()
	switch op {
	case OpNeg:
		if ut.IsSigned() {
			r := uint64(-int64(a))
			if !Representable(t, r) {
				return VoidPattern(t), true
			}
			return r, false
		}
		if a != 0 {
			return VoidPattern(t), true
		}
		return 0, false
	case OpNot:
		if ut.Kind == TypeBool {
			return a ^ 1, false
		}
		return Canonical(t, ^a), false
	}
	return 0, true
}

// EvalCompare evaluates a comparison opcode on canonical operands.
// The result is 0, 1 or VoidByte.
func EvalCompare(op Opcode, t *Type, a, b uint64) uint64 {
	if IsVoidBits(t, a) || IsVoidBits(t, b) {
		return VoidByte
	}
	var r bool
	switch op {
	case OpEq:
		r = a == b
	case OpNe:
		r = a != b
	case OpLt:
		r = int64(a) < int64(b)
	case OpLe:
		r = int64(a) <= int64(b)
	case OpGt:
		r = int64(a) > int64(b)
	case OpGe:
		r = int64(a) >= int64(b)
	case OpULt:
		r = a < b
	case OpULe:
		r = a <= b
	case OpUGt:
		r = a > b
	case OpUGe:
		r = a >= b
	}
	if r {
		return 1
	}
	return 0
}

// EvalConvert applies trunc, zext, sext or bitcast from type from to type to.
func EvalConvert(op Opcode, from, to *Type, a uint64) uint64 {
	if IsVoidBits(from, a) {
		return VoidPattern(to)
	}
	switch op {
	case OpTrunc:
		return Canonical(to, a)
	case OpZext:
		return zeroExtend(from.Underlying(), a)
	case OpSext:
		return signExtend(from.Underlying(), a)
	}
	return a
}

func zeroExtend(t *Type, x uint64) uint64 {
	n := t.Bits()
	if n >= 64 {
		return x
	}
	return x & (1<<uint(n) - 1)
}

func signExtend(t *Type, x uint64) uint64 {
	n := t.Bits()
	if n >= 64 {
		return x
	}
	shift := uint(64 - n)
	return uint64(int64(x<<shift) >> shift)
}

func mulSigned(a, b int64) (hi int64, lo uint64) {
	uh, ul := bits.Mul64(uint64(a), uint64(b))
	h := int64(uh)
	if a < 0 {
		h -= b
	}
	if b < 0 {
		h -= a
	}
	return h, ul
}
