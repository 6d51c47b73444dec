package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/tinyrange/seraph/internal/arena"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m, err := NewModule("test", arena.New(1<<20))
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return m
}

func newTestFunction(t *testing.T, m *Module, name string, ret *Type, params ...*Type) (*Function, *Builder) {
	t.Helper()
	ft, err := m.FunctionType(ret, params, EffectNone)
	if err != nil {
		t.Fatalf("FunctionType: %v", err)
	}
	fn, err := m.CreateFunction(name, ft)
	if err != nil {
		t.Fatalf("CreateFunction: %v", err)
	}
	entry, err := fn.CreateBlock("entry")
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	b := NewBuilder(m)
	b.PositionAtEnd(entry)
	return fn, b
}

func TestPrimitiveTypesAreUnique(t *testing.T) {
	m := newTestModule(t)
	if m.Primitive(TypeI64) != m.Primitive(TypeI64) {
		t.Fatalf("primitive i64 is not unique")
	}
	i32, err := m.IntType(32, true)
	if err != nil {
		t.Fatalf("IntType: %v", err)
	}
	if i32 != m.Primitive(TypeI32) {
		t.Fatalf("IntType(32, true)=%s, want i32", i32)
	}
	u8, _ := m.IntType(8, false)
	if u8.Kind != TypeU8 {
		t.Fatalf("IntType(8, false)=%s, want u8", u8)
	}
}

func TestCompoundTypesRegistered(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	u8 := m.Primitive(TypeU8)
	st, err := m.StructType("pair", []Field{{Name: "tag", Type: u8}, {Name: "value", Type: i64}})
	if err != nil {
		t.Fatalf("StructType: %v", err)
	}
	if st.Size() != 16 || st.Fields[1].Offset != 8 {
		t.Fatalf("struct size=%d offset=%d, want 16 and 8", st.Size(), st.Fields[1].Offset)
	}
	arr, err := m.ArrayType(st, 4)
	if err != nil {
		t.Fatalf("ArrayType: %v", err)
	}
	if arr.Size() != 64 {
		t.Fatalf("array size=%d, want 64", arr.Size())
	}
	if len(m.Types) != 2 || m.Types[arr.Index()] != arr {
		t.Fatalf("types not registered: %d", len(m.Types))
	}

	other := newTestModule(t)
	if _, err := other.ArrayType(st, 2); err == nil {
		t.Fatalf("expected error using a type from another module")
	}
}

func TestParametersAreNumberedFirst(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	fn, b := newTestFunction(t, m, "f", i64, i64, i64)
	if fn.Params[0].ID != 0 || fn.Params[1].ID != 1 {
		t.Fatalf("param ids %d %d", fn.Params[0].ID, fn.Params[1].ID)
	}
	if fn.Params[0].Void != MaybeVoid {
		t.Fatalf("param tag=%s, want maybevoid", fn.Params[0].Void)
	}
	sum, err := b.Add(fn.Params[0], fn.Params[1])
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.ID != 2 {
		t.Fatalf("first vreg id=%d, want 2", sum.ID)
	}
}

func TestBuilderRejectsMismatchWithoutMutation(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	i32 := m.Primitive(TypeI32)
	fn, b := newTestFunction(t, m, "f", i64, i64, i32)

	before := fn.NumVRegs()
	_, err := b.Add(fn.Params[0], fn.Params[1])
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("err=%v, want ErrTypeMismatch", err)
	}
	if fn.NumVRegs() != before {
		t.Fatalf("vreg counter moved from %d to %d", before, fn.NumVRegs())
	}
	if fn.Entry().First() != nil {
		t.Fatalf("failed build inserted an instruction")
	}
}

func TestBuilderInsertsBeforeTerminator(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	fn, b := newTestFunction(t, m, "f", i64, i64)
	if err := b.Return(fn.Params[0]); err != nil {
		t.Fatalf("Return: %v", err)
	}
	one, _ := m.ConstInt(i64, 1)
	if _, err := b.Add(fn.Params[0], one); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if fn.Entry().Last().Op != OpReturn || fn.Entry().First().Op != OpAdd {
		t.Fatalf("instructions out of order: %s", m)
	}
	if err := b.Return(fn.Params[0]); err == nil {
		t.Fatalf("expected second terminator to be rejected")
	}
}

func TestVoidTags(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	fn, b := newTestFunction(t, m, "f", i64, i64)
	two, _ := m.ConstInt(i64, 2)
	void, _ := m.ConstVoid(i64)

	if two.Void != NotVoid || void.Void != DefinitelyVoid {
		t.Fatalf("constant tags %s %s", two.Void, void.Void)
	}
	sum, _ := b.Add(two, two)
	if sum.Void != MaybeVoid {
		t.Fatalf("add tag=%s, want maybevoid", sum.Void)
	}
	poisoned, _ := b.Add(void, two)
	if poisoned.Void != DefinitelyVoid {
		t.Fatalf("add of VOID tag=%s, want void", poisoned.Void)
	}
	cmp, _ := b.Compare(OpLt, fn.Params[0], two)
	if cmp.Void != NotVoid {
		t.Fatalf("compare tag=%s, want nonvoid", cmp.Void)
	}
	checked, _ := b.VoidAssert(fn.Params[0])
	if checked.Void != NotVoid {
		t.Fatalf("assert tag=%s, want nonvoid", checked.Void)
	}
	if NotVoid.Join(DefinitelyVoid) != DefinitelyVoid || MaybeVoid.Join(NotVoid) != MaybeVoid {
		t.Fatalf("join is not max")
	}
}

func TestCapSplitProducesTwoHalves(t *testing.T) {
	m := newTestModule(t)
	u64 := m.Primitive(TypeU64)
	fn, b := newTestFunction(t, m, "f", u64, u64)
	n16, _ := m.ConstInt(u64, 16)
	rw, _ := m.ConstInt(u64, PermRead|PermWrite)
	c, err := b.CapCreate(fn.Params[0], n16, rw)
	if err != nil {
		t.Fatalf("CapCreate: %v", err)
	}
	eight, _ := m.ConstInt(u64, 8)
	lo, hi, err := b.CapSplit(c, eight)
	if err != nil {
		t.Fatalf("CapSplit: %v", err)
	}
	if lo.Def.Imm != 0 || hi.Def.Imm != 1 || lo.Def.Next() != hi.Def {
		t.Fatalf("split halves not adjacent: %s", m)
	}
}

func TestInternStringEscapes(t *testing.T) {
	m := newTestModule(t)
	s, err := m.InternString([]byte(`a\n\t\\\"\'\0\x41`))
	if err != nil {
		t.Fatalf("InternString: %v", err)
	}
	want := "a\n\t\\\"'\x00A"
	if string(s.Bytes) != want {
		t.Fatalf("bytes=%q, want %q", s.Bytes, want)
	}
	s2, _ := m.InternString([]byte("second"))
	if s2.ID != s.ID+1 {
		t.Fatalf("ids %d then %d, want monotonic", s.ID, s2.ID)
	}
	if m.Strings()[0] != s2 {
		t.Fatalf("newest string is not at the head of the list")
	}
	again, _ := m.InternString([]byte("second"))
	if again != s2 {
		t.Fatalf("identical strings were not interned together")
	}
	for _, bad := range []string{`\q`, `\x4`, `tail\`} {
		if _, err := m.InternString([]byte(bad)); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestConstStringSharesOneType(t *testing.T) {
	m := newTestModule(t)
	_, b := newTestFunction(t, m, "main", m.Primitive(TypeU64))
	hello, _ := m.InternString([]byte(`hello\n`))
	bye, _ := m.InternString([]byte("bye"))
	s1, err := m.ConstString(hello)
	if err != nil {
		t.Fatalf("ConstString: %v", err)
	}
	s2, err := m.ConstString(bye)
	if err != nil {
		t.Fatalf("ConstString: %v", err)
	}
	if s1.Type != s2.Type || s1.Type.Kind != TypeString || !m.owns(s1.Type) {
		t.Fatalf("string constants typed %p %s and %p %s", s1.Type, s1.Type, s2.Type, s2.Type)
	}
	if st, _ := m.StringType(); st != s1.Type {
		t.Fatalf("StringType differs from the constants' type")
	}
	if s1.Type.Size() != 16 || !s1.Type.IsAggregate() {
		t.Fatalf("string size %d", s1.Type.Size())
	}
	n, err := b.ExtractField(s1, 1)
	if err != nil {
		t.Fatalf("ExtractField: %v", err)
	}
	if n.Type != m.Primitive(TypeU64) {
		t.Fatalf("length typed %s, want u64", n.Type)
	}
	if err := b.Return(n); err != nil {
		t.Fatalf("Return: %v", err)
	}
	if err := Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := m.ConstString(nil); err == nil {
		t.Fatalf("nil string accepted")
	}
}

func TestVerifyReportsFunctionAndBlock(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	fn, b := newTestFunction(t, m, "broken", i64, i64)
	if _, err := b.Add(fn.Params[0], fn.Params[0]); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := Verify(m)
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v, want *VerifyError", err)
	}
	if ve.Function != "broken" || ve.Block != "entry" {
		t.Fatalf("located %s/%s, want broken/entry", ve.Function, ve.Block)
	}
	if !errors.Is(err, ErrVerify) {
		t.Fatalf("error does not wrap ErrVerify")
	}
}

func TestVerifyEmptyFunction(t *testing.T) {
	m := newTestModule(t)
	ft, _ := m.FunctionType(m.Primitive(TypeVoid), nil, EffectNone)
	if _, err := m.CreateFunction("empty", ft); err != nil {
		t.Fatalf("CreateFunction: %v", err)
	}
	if err := Verify(m); err == nil || !strings.Contains(err.Error(), "no blocks") {
		t.Fatalf("err=%v, want no blocks", err)
	}
}

func TestVerifyEffectSubset(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	ptr, _ := m.PointerType(i64)
	fn, b := newTestFunction(t, m, "reader", i64, ptr)
	v, err := b.Load(fn.Params[0], i64)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Return(v); err != nil {
		t.Fatalf("Return: %v", err)
	}
	if err := Verify(m); err == nil || !strings.Contains(err.Error(), "read") {
		t.Fatalf("err=%v, want undeclared read effect", err)
	}
	fn.Effects = EffectRead
	if err := Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPhiAndDominance(t *testing.T) {
	m := newTestModule(t)
	i64 := m.Primitive(TypeI64)
	fn, b := newTestFunction(t, m, "abs", i64, i64)
	entry := fn.Entry()
	neg, _ := fn.CreateBlock("neg")
	join, _ := fn.CreateBlock("join")

	zero, _ := m.ConstInt(i64, 0)
	isNeg, _ := b.Compare(OpLt, fn.Params[0], zero)
	if err := b.Branch(isNeg, neg, join); err != nil {
		t.Fatalf("Branch: %v", err)
	}
	b.PositionAtEnd(neg)
	negated, _ := b.Neg(fn.Params[0])
	_ = b.Jump(join)
	b.PositionAtEnd(join)
	phi, err := b.Phi(i64)
	if err != nil {
		t.Fatalf("Phi: %v", err)
	}
	if err := b.AddIncoming(phi, fn.Params[0], entry); err != nil {
		t.Fatalf("AddIncoming: %v", err)
	}
	if err := b.AddIncoming(phi, negated, neg); err != nil {
		t.Fatalf("AddIncoming: %v", err)
	}
	_ = b.Return(phi)

	if err := Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	fn.ComputeDominance()
	if join.IDom != entry || neg.IDom != entry {
		t.Fatalf("idom(join)=%v idom(neg)=%v, want entry", join.IDom, neg.IDom)
	}
	if !entry.Dominates(join) || neg.Dominates(join) {
		t.Fatalf("dominance relation wrong")
	}
	if neg.DomDepth != 1 {
		t.Fatalf("depth=%d, want 1", neg.DomDepth)
	}
}

func TestArenaExhaustionIsReported(t *testing.T) {
	m, err := NewModule("tiny", arena.New(4096))
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	var lastErr error
	for i := 0; i < 1000; i++ {
		if _, lastErr = m.ConstInteger(64, int64(i)); lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, arena.ErrExhausted) {
		t.Fatalf("err=%v, want arena.ErrExhausted", lastErr)
	}
}
