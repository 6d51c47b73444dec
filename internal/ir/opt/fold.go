// Package opt holds the whole-module IR passes: constant folding and
// dead-code elimination.
package opt

import "github.com/tinyrange/seraph/internal/ir"

// FoldConstants evaluates instructions whose operands are all integer
// constants. The defining instruction becomes a nop and its result value is
// turned into a constant in place, so users keep referencing it. Folds that
// would produce VOID (division by zero, overflow) are skipped. It returns
// the number of instructions folded.
func FoldConstants(m *ir.Module) int {
	total := 0
	for _, fn := range m.Functions() {
		if fn.External {
			continue
		}
		// Operands may be defined in a block laid out after their use, so
		// repeat until nothing changes.
		for {
			n := foldFunction(fn)
			if n == 0 {
				break
			}
			total += n
		}
	}
	return total
}

func foldFunction(fn *ir.Function) int {
	n := 0
	for b := fn.First(); b != nil; b = b.Next() {
		for in := b.First(); in != nil; in = in.Next() {
			if foldInstr(in) {
				n++
			}
		}
	}
	return n
}

func allIntConst(args []*ir.Value) bool {
	for _, a := range args {
		if !a.IsIntConst() || !a.Type.Underlying().IsInteger() && a.Type.Underlying().Kind != ir.TypeBool {
			return false
		}
	}
	return len(args) > 0
}

func foldInstr(in *ir.Instr) bool {
	if in.Result == nil || !allIntConst(in.Args) {
		return false
	}
	var (
		r    uint64
		void bool
	)
	switch {
	case in.Op == ir.OpNeg || in.Op == ir.OpNot:
		if len(in.Args) != 1 {
			return false
		}
		r, void = ir.EvalUnary(in.Op, in.Result.Type, uint64(in.Args[0].Int))
	case in.Op.IsArithmetic() || in.Op.IsBitwise():
		if len(in.Args) != 2 {
			return false
		}
		r, void = ir.EvalBinary(in.Op, in.Result.Type, uint64(in.Args[0].Int), uint64(in.Args[1].Int))
	case in.Op.IsCompare():
		x, y := in.Args[0], in.Args[1]
		r = ir.EvalCompare(in.Op, x.Type, uint64(x.Int), uint64(y.Int))
	default:
		return false
	}
	if void {
		return false
	}
	promote(in, r)
	return true
}

// promote rewrites the result of in into the constant r and retires in.
func promote(in *ir.Instr, r uint64) {
	v := in.Result
	v.Kind = ir.ValueConst
	v.Int = int64(r)
	v.Void = ir.NotVoid
	in.MakeNop()
}
