package ir

import (
	"errors"
	"fmt"
)

// ErrVerify classifies structural verification failures.
var ErrVerify = errors.New("ir: verification failed")

// VerifyError locates a verification failure.
type VerifyError struct {
	Function string
	Block    string
	Msg      string
}

func (e *VerifyError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("verify: function %s: %s", e.Function, e.Msg)
	}
	return fmt.Sprintf("verify: function %s, block %s: %s", e.Function, e.Block, e.Msg)
}

func (e *VerifyError) Unwrap() error { return ErrVerify }

// Verify checks that every function has a body of terminated blocks, that
// every instruction's result type agrees with its opcode and that every
// instruction's effects are declared by its function.
func Verify(m *Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", ErrVerify)
	}
	for f := m.first; f != nil; f = f.next {
		if err := verifyFunction(m, f); err != nil {
			return err
		}
	}
	return nil
}

func verifyFunction(m *Module, f *Function) error {
	if f.External {
		return nil
	}
	fail := func(b *Block, format string, args ...any) error {
		e := &VerifyError{Function: f.Name, Msg: fmt.Sprintf(format, args...)}
		if b != nil {
			e.Block = b.Label()
		}
		return e
	}
	if f.first == nil {
		return fail(nil, "has no blocks")
	}
	f.RecomputeCFG()
	for b := f.first; b != nil; b = b.next {
		if b.last == nil {
			return fail(b, "is empty")
		}
		if !b.last.Op.IsTerminator() {
			return fail(b, "does not end with a terminator (last is %s)", b.last.Op)
		}
		seenNonPhi := false
		for in := b.first; in != nil; in = in.next {
			if in.block != b {
				return fail(b, "%s is linked into the wrong block", in.Op)
			}
			if in.Op.IsTerminator() && in != b.last {
				return fail(b, "terminator %s is not last", in.Op)
			}
			if in.Op == OpPhi {
				if seenNonPhi {
					return fail(b, "phi after non-phi instruction")
				}
			} else if in.Op != OpNop {
				seenNonPhi = true
			}
			if !in.Effects.SubsetOf(f.Effects) {
				return fail(b, "%s has %s, function declares %s", in.Op, in.Effects, f.Effects)
			}
			for _, t := range in.Successors() {
				if t == nil || t.fn != f {
					return fail(b, "%s targets a block outside the function", in.Op)
				}
			}
			for i, a := range in.Args {
				if a == nil {
					return fail(b, "%s operand %d is nil", in.Op, i)
				}
				if a.Kind == ValueVReg && (a.Def == nil || a.Def.block == nil || a.Def.block.fn != f) {
					return fail(b, "%s operand %d is not defined in this function", in.Op, i)
				}
			}
			if msg := checkResult(m, f, in); msg != "" {
				return fail(b, "%s: %s", in.Op, msg)
			}
		}
	}
	return nil
}

func want(in *Instr, t *Type) string {
	if in.Result == nil {
		return fmt.Sprintf("missing result of type %s", t)
	}
	if !in.Result.Type.Equal(t) {
		return fmt.Sprintf("result is %s, want %s", in.Result.Type, t)
	}
	return ""
}

func wantNone(in *Instr) string {
	if in.Result != nil {
		return "produces a result"
	}
	return ""
}

func wantArgs(in *Instr, n int) string {
	if len(in.Args) != n {
		return fmt.Sprintf("has %d operands, want %d", len(in.Args), n)
	}
	return ""
}

func checkResult(m *Module, f *Function, in *Instr) string {
	p := func(k TypeKind) *Type { return m.prims[k] }
	switch op := in.Op; {
	case op == OpNop:
		return ""
	case op.IsArithmetic() && op != OpNeg, op.IsBitwise() && op != OpNot:
		if s := wantArgs(in, 2); s != "" {
			return s
		}
		return want(in, in.Args[0].Type)
	case op == OpNeg || op == OpNot:
		if s := wantArgs(in, 1); s != "" {
			return s
		}
		return want(in, in.Args[0].Type)
	case op.IsCompare():
		if s := wantArgs(in, 2); s != "" {
			return s
		}
		return want(in, p(TypeBool))
	}

	switch in.Op {
	case OpVoidTest, OpCapCheck, OpChrononBudget:
		return want(in, p(TypeBool))
	case OpVoidPropagate, OpVoidAssert, OpVoidCoalesce:
		return want(in, in.Args[0].Type)
	case OpVoidConst:
		return want(in, in.Type)
	case OpCapCreate, OpCapNarrow, OpCapSplit:
		return want(in, p(TypeCapability))
	case OpCapLoad, OpLoad, OpAtlasLoad, OpAetherLoad:
		return want(in, in.Type)
	case OpCapStore, OpCapRevoke, OpStore, OpMemcpy, OpMemset, OpSubstrateExit,
		OpAtlasStore, OpAtlasCommit, OpAtlasRollback, OpAetherStore, OpAetherSync,
		OpChrononYield, OpTrap, OpUnreachable, OpJump, OpBranch, OpSwitch, OpTailCall:
		return wantNone(in)
	case OpAlloca:
		if in.Result == nil || in.Result.Type.Kind != TypePointer || !in.Result.Type.Elem.Equal(in.Type) {
			return "result is not a pointer to the allocated type"
		}
	case OpGEP:
		if in.Result == nil || in.Result.Type.Kind != TypePointer {
			return "result is not a pointer"
		}
		if len(in.Args) != 2 && len(in.Args) != 3 {
			return fmt.Sprintf("has %d operands, want 2 or 3", len(in.Args))
		}
	case OpExtractField:
		ft, _, err := m.AggregateField(in.Args[0].Type, int(in.Imm))
		if err != nil {
			return err.Error()
		}
		return want(in, ft)
	case OpInsertField, OpInsertElem:
		return want(in, in.Args[0].Type)
	case OpExtractElem:
		return want(in, in.Args[0].Type.Underlying().Elem)
	case OpSubstrateEnter, OpSyscall:
		return want(in, p(TypeI64))
	case OpAtlasBegin, OpChrononNow:
		return want(in, p(TypeU64))
	case OpCall, OpCallIndirect:
		ft := in.Args
		var fnType *Type
		if in.Op == OpCall {
			if in.Callee == nil {
				return "missing callee"
			}
			fnType = in.Callee.Type
		} else {
			fnType = ft[0].Type.Underlying()
		}
		if r := callResult(fnType); r != nil {
			return want(in, r)
		}
		return wantNone(in)
	case OpReturn:
		ret := f.Type.Return
		if ret.Kind == TypeVoid {
			if len(in.Args) != 0 {
				return "returns a value from a void function"
			}
			return ""
		}
		if len(in.Args) != 1 || !in.Args[0].Type.Equal(ret) {
			return fmt.Sprintf("must return %s", ret)
		}
	case OpGalacticAdd, OpGalacticMul, OpGalacticDiv, OpGalacticInsert, OpToGalactic:
		return want(in, p(TypeGalactic))
	case OpGalacticPredict, OpGalacticExtract, OpToScalar, OpFromGalactic:
		return want(in, p(TypeScalar))
	case OpChrononDelta:
		return want(in, in.Args[0].Type)
	case OpTrunc, OpZext, OpSext, OpBitcast, OpFromScalar:
		return want(in, in.Type)
	case OpPhi:
		if len(in.Args) != len(in.Incoming) {
			return "operand and incoming block counts differ"
		}
		for i, a := range in.Args {
			if !a.Type.Equal(in.Result.Type) {
				return fmt.Sprintf("incoming %d is %s, phi is %s", i, a.Type, in.Result.Type)
			}
			if !in.block.hasPred(in.Incoming[i]) {
				return fmt.Sprintf("incoming block %s is not a predecessor", in.Incoming[i].Label())
			}
		}
	case OpSelect:
		return want(in, in.Args[1].Type)
	}
	return ""
}
