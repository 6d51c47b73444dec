package opt

import "github.com/tinyrange/seraph/internal/ir"

// EliminateDeadCode turns every instruction whose result is never used by
// a side-effecting instruction, directly or through other live values, into
// a nop. It returns the number of instructions removed.
func EliminateDeadCode(m *ir.Module) int {
	n := 0
	for _, fn := range m.Functions() {
		if !fn.External {
			n += dceFunction(fn)
		}
	}
	return n
}

func dceFunction(fn *ir.Function) int {
	live := make(map[*ir.Value]bool)
	var work []*ir.Value

	mark := func(v *ir.Value) {
		if v == nil || live[v] {
			return
		}
		live[v] = true
		if v.Def != nil && v.Def.Op != ir.OpNop {
			work = append(work, v)
		}
	}

	for b := fn.First(); b != nil; b = b.Next() {
		for in := b.First(); in != nil; in = in.Next() {
			if in.HasSideEffect() {
				for _, a := range in.Args {
					mark(a)
				}
				mark(in.Result)
			}
		}
	}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		for _, a := range v.Def.Args {
			mark(a)
		}
	}

	n := 0
	for b := fn.First(); b != nil; b = b.Next() {
		for in := b.First(); in != nil; in = in.Next() {
			if in.Op == ir.OpNop || in.Result == nil || in.HasSideEffect() {
				continue
			}
			if !live[in.Result] {
				in.MakeNop()
				n++
			}
		}
	}
	return n
}
