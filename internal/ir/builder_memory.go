package ir

import "fmt"

func (b *Builder) capType() *Type { return b.m.prims[TypeCapability] }

func isCap(v *Value) bool { return v.Type.Underlying().Kind == TypeCapability }

func isIntLike(v *Value) bool {
	t := v.Type.Underlying()
	return t.IsInteger() || t.IsPointerLike()
}

// CapCreate builds a capability over [base, base+length) with the given
// permission bits, stamped with the current context generation.
func (b *Builder) CapCreate(base, length, perms *Value) (*Value, error) {
	if err := b.checkOperands(OpCapCreate, base, length, perms); err != nil {
		return nil, err
	}
	if !isIntLike(base) || !length.Type.Underlying().IsInteger() || !perms.Type.Underlying().IsInteger() {
		return nil, mismatch(OpCapCreate, "base %s, length %s, perms %s", base.Type, length.Type, perms.Type)
	}
	tag := base.Void.Join(length.Void).Join(perms.Void)
	return b.value(instrSpec{op: OpCapCreate, args: []*Value{base, length, perms}, result: b.capType(), tag: tag})
}

// CapLoad reads a value of type t at offset through c. Failed checks yield
// VOID.
func (b *Builder) CapLoad(c, offset *Value, t *Type) (*Value, error) {
	if err := b.checkOperands(OpCapLoad, c, offset); err != nil {
		return nil, err
	}
	if !isCap(c) || !offset.Type.Underlying().IsInteger() {
		return nil, mismatch(OpCapLoad, "capability %s, offset %s", c.Type, offset.Type)
	}
	if !b.m.owns(t) || t.IsAggregate() || t.Kind == TypeVoid {
		return nil, mismatch(OpCapLoad, "cannot load %s", t)
	}
	return b.value(instrSpec{op: OpCapLoad, args: []*Value{c, offset}, result: t, tag: MaybeVoid, typ: t, effects: EffectRead})
}

// CapStore writes v at offset through c. Failed checks drop the store.
func (b *Builder) CapStore(c, offset, v *Value) error {
	if err := b.checkOperands(OpCapStore, c, offset, v); err != nil {
		return err
	}
	if !isCap(c) || !offset.Type.Underlying().IsInteger() || v.Type.IsAggregate() {
		return mismatch(OpCapStore, "capability %s, offset %s, value %s", c.Type, offset.Type, v.Type)
	}
	_, err := b.build(instrSpec{op: OpCapStore, args: []*Value{c, offset, v}, typ: v.Type, effects: EffectWrite})
	return err
}

// CapCheck yields true when an access at offset with perms would succeed.
func (b *Builder) CapCheck(c, offset *Value, perms int64) (*Value, error) {
	if err := b.checkOperands(OpCapCheck, c, offset); err != nil {
		return nil, err
	}
	if !isCap(c) || !offset.Type.Underlying().IsInteger() {
		return nil, mismatch(OpCapCheck, "capability %s, offset %s", c.Type, offset.Type)
	}
	if perms&^PermAll != 0 {
		return nil, fmt.Errorf("ir: cap.check: unknown permission bits %#x", perms)
	}
	return b.value(instrSpec{op: OpCapCheck, args: []*Value{c, offset}, result: b.boolType(), tag: NotVoid, imm: perms})
}

// CapNarrow derives a capability over [offset, offset+length) of c. The
// derive permission is cleared; out-of-bounds requests yield VOID.
func (b *Builder) CapNarrow(c, offset, length *Value) (*Value, error) {
	if err := b.checkOperands(OpCapNarrow, c, offset, length); err != nil {
		return nil, err
	}
	if !isCap(c) || !offset.Type.Underlying().IsInteger() || !length.Type.Underlying().IsInteger() {
		return nil, mismatch(OpCapNarrow, "capability %s, offset %s, length %s", c.Type, offset.Type, length.Type)
	}
	return b.value(instrSpec{op: OpCapNarrow, args: []*Value{c, offset, length}, result: b.capType(), tag: MaybeVoid})
}

// CapSplit divides c at offset into [0, at) and [at, length). Both halves
// keep the parent's permissions and generation.
func (b *Builder) CapSplit(c, at *Value) (lo, hi *Value, err error) {
	if err := b.checkOperands(OpCapSplit, c, at); err != nil {
		return nil, nil, err
	}
	if !isCap(c) || !at.Type.Underlying().IsInteger() {
		return nil, nil, mismatch(OpCapSplit, "capability %s, offset %s", c.Type, at.Type)
	}
	fn := b.blk.fn
	mark := fn.nextVReg
	loIn, err := b.prepare(instrSpec{op: OpCapSplit, args: []*Value{c, at}, result: b.capType(), tag: MaybeVoid, imm: 0})
	if err != nil {
		return nil, nil, err
	}
	hiIn, err := b.prepare(instrSpec{op: OpCapSplit, args: []*Value{c, at}, result: b.capType(), tag: MaybeVoid, imm: 1})
	if err != nil {
		fn.nextVReg = mark
		return nil, nil, err
	}
	b.commit(loIn)
	b.commit(hiIn)
	return loIn.Result, hiIn.Result, nil
}

// CapRevoke advances the capability context generation, invalidating every
// capability created before it.
func (b *Builder) CapRevoke() error {
	if err := b.checkOperands(OpCapRevoke); err != nil {
		return err
	}
	_, err := b.build(instrSpec{op: OpCapRevoke, effects: EffectWrite})
	return err
}

// raw memory

func isPtr(v *Value) bool { return v.Type.Underlying().Kind == TypePointer }

// Load reads a value of type t from ptr.
func (b *Builder) Load(ptr *Value, t *Type) (*Value, error) {
	if err := b.checkOperands(OpLoad, ptr); err != nil {
		return nil, err
	}
	if !isPtr(ptr) {
		return nil, mismatch(OpLoad, "address %s is not a pointer", ptr.Type)
	}
	if !b.m.owns(t) || t.IsAggregate() || t.Kind == TypeVoid {
		return nil, mismatch(OpLoad, "cannot load %s", t)
	}
	return b.value(instrSpec{op: OpLoad, args: []*Value{ptr}, result: t, tag: MaybeVoid, typ: t, effects: EffectRead})
}

// Store writes v to ptr.
func (b *Builder) Store(ptr, v *Value) error {
	if err := b.checkOperands(OpStore, ptr, v); err != nil {
		return err
	}
	if !isPtr(ptr) || v.Type.IsAggregate() || v.Type.Kind == TypeVoid {
		return mismatch(OpStore, "store %s through %s", v.Type, ptr.Type)
	}
	_, err := b.build(instrSpec{op: OpStore, args: []*Value{ptr, v}, typ: v.Type, effects: EffectWrite})
	return err
}

// Alloca reserves frame space for a value of type t.
func (b *Builder) Alloca(t *Type) (*Value, error) {
	if err := b.checkOperands(OpAlloca); err != nil {
		return nil, err
	}
	if !b.m.owns(t) || t.Kind == TypeVoid {
		return nil, mismatch(OpAlloca, "cannot allocate %s", t)
	}
	pt, err := b.m.PointerType(t)
	if err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpAlloca, result: pt, tag: NotVoid, typ: t})
}

// Memcpy copies n bytes from src to dst.
func (b *Builder) Memcpy(dst, src, n *Value) error {
	if err := b.checkOperands(OpMemcpy, dst, src, n); err != nil {
		return err
	}
	if !isPtr(dst) || !isPtr(src) || !n.Type.Underlying().IsInteger() {
		return mismatch(OpMemcpy, "dst %s, src %s, length %s", dst.Type, src.Type, n.Type)
	}
	_, err := b.build(instrSpec{op: OpMemcpy, args: []*Value{dst, src, n}, effects: EffectRead | EffectWrite})
	return err
}

// Memset fills n bytes at dst with the low byte of v.
func (b *Builder) Memset(dst, v, n *Value) error {
	if err := b.checkOperands(OpMemset, dst, v, n); err != nil {
		return err
	}
	if !isPtr(dst) || !v.Type.Underlying().IsInteger() || !n.Type.Underlying().IsInteger() {
		return mismatch(OpMemset, "dst %s, value %s, length %s", dst.Type, v.Type, n.Type)
	}
	_, err := b.build(instrSpec{op: OpMemset, args: []*Value{dst, v, n}, effects: EffectWrite})
	return err
}

// GEP offsets ptr by a byte offset, typically a struct field offset.
func (b *Builder) GEP(ptr, offset *Value, result *Type) (*Value, error) {
	if err := b.checkOperands(OpGEP, ptr, offset); err != nil {
		return nil, err
	}
	if !isPtr(ptr) || !offset.Type.Underlying().IsInteger() || !b.m.owns(result) || result.Kind != TypePointer {
		return nil, mismatch(OpGEP, "base %s, offset %s, result %s", ptr.Type, offset.Type, result)
	}
	return b.value(instrSpec{op: OpGEP, args: []*Value{ptr, offset}, result: result, tag: ptr.Void.Join(offset.Void), typ: result})
}

// GEPIndex computes ptr + index*elemSize.
func (b *Builder) GEPIndex(ptr, index, elemSize *Value, result *Type) (*Value, error) {
	if err := b.checkOperands(OpGEP, ptr, index, elemSize); err != nil {
		return nil, err
	}
	if !isPtr(ptr) || !index.Type.Underlying().IsInteger() || !elemSize.Type.Underlying().IsInteger() ||
		!b.m.owns(result) || result.Kind != TypePointer {
		return nil, mismatch(OpGEP, "base %s, index %s, size %s, result %s", ptr.Type, index.Type, elemSize.Type, result)
	}
	tag := ptr.Void.Join(index.Void).Join(elemSize.Void)
	return b.value(instrSpec{op: OpGEP, args: []*Value{ptr, index, elemSize}, result: result, tag: tag, typ: result})
}

// AggregateField describes member idx of an aggregate type: its type and
// byte offset. Strings and slices expose pointer (0) and length (1); enums
// expose the discriminant (0) and the payload of variant k at 1+k.
func (m *Module) AggregateField(t *Type, idx int) (*Type, uint64, error) {
	t = t.Underlying()
	switch t.Kind {
	case TypeStruct:
		if idx < 0 || idx >= len(t.Fields) {
			return nil, 0, fmt.Errorf("ir: struct %s has no field %d", t, idx)
		}
		return t.Fields[idx].Type, t.Fields[idx].Offset, nil
	case TypeString, TypeSlice:
		switch idx {
		case 0:
			return m.prims[TypeU64], 0, nil
		case 1:
			return m.prims[TypeU64], 8, nil
		}
	case TypeEnum:
		if idx == 0 {
			return m.prims[TypeI64], 0, nil
		}
		if idx-1 < len(t.Variants) && t.Variants[idx-1].Payload != nil {
			return t.Variants[idx-1].Payload, 8, nil
		}
	case TypeCapability:
		if idx >= 0 && idx < 4 {
			return m.prims[TypeU64], uint64(idx) * 8, nil
		}
	}
	return nil, 0, fmt.Errorf("ir: %s has no member %d", t, idx)
}

// ExtractField reads member idx of an aggregate.
func (b *Builder) ExtractField(agg *Value, idx int) (*Value, error) {
	if err := b.checkOperands(OpExtractField, agg); err != nil {
		return nil, err
	}
	if !agg.Type.IsAggregate() {
		return nil, mismatch(OpExtractField, "%s is not an aggregate", agg.Type)
	}
	ft, _, err := b.m.AggregateField(agg.Type, idx)
	if err != nil {
		return nil, err
	}
	return b.value(instrSpec{op: OpExtractField, args: []*Value{agg}, result: ft, tag: agg.Void, imm: int64(idx)})
}

// InsertField yields a copy of agg with member idx replaced by v.
func (b *Builder) InsertField(agg *Value, idx int, v *Value) (*Value, error) {
	if err := b.checkOperands(OpInsertField, agg, v); err != nil {
		return nil, err
	}
	if !agg.Type.IsAggregate() {
		return nil, mismatch(OpInsertField, "%s is not an aggregate", agg.Type)
	}
	ft, _, err := b.m.AggregateField(agg.Type, idx)
	if err != nil {
		return nil, err
	}
	if !ft.Equal(v.Type) {
		return nil, mismatch(OpInsertField, "member %d is %s, value is %s", idx, ft, v.Type)
	}
	return b.value(instrSpec{op: OpInsertField, args: []*Value{agg, v}, result: agg.Type, tag: agg.Void.Join(v.Void), imm: int64(idx)})
}

// ExtractElem reads element idx of an array. Out-of-range indices yield VOID.
func (b *Builder) ExtractElem(arr, idx *Value) (*Value, error) {
	if err := b.checkOperands(OpExtractElem, arr, idx); err != nil {
		return nil, err
	}
	if arr.Type.Underlying().Kind != TypeArray || !idx.Type.Underlying().IsInteger() {
		return nil, mismatch(OpExtractElem, "array %s, index %s", arr.Type, idx.Type)
	}
	elem := arr.Type.Underlying().Elem
	return b.value(instrSpec{op: OpExtractElem, args: []*Value{arr, idx}, result: elem, tag: MaybeVoid})
}

// InsertElem yields a copy of arr with element idx replaced. Out-of-range
// indices yield VOID.
func (b *Builder) InsertElem(arr, idx, v *Value) (*Value, error) {
	if err := b.checkOperands(OpInsertElem, arr, idx, v); err != nil {
		return nil, err
	}
	at := arr.Type.Underlying()
	if at.Kind != TypeArray || !idx.Type.Underlying().IsInteger() || !at.Elem.Equal(v.Type) {
		return nil, mismatch(OpInsertElem, "array %s, index %s, value %s", arr.Type, idx.Type, v.Type)
	}
	return b.value(instrSpec{op: OpInsertElem, args: []*Value{arr, idx, v}, result: arr.Type, tag: MaybeVoid})
}

// substrates

// SubstrateEnter switches the substrate context to kind and yields the
// previous kind.
func (b *Builder) SubstrateEnter(kind SubstrateKind) (*Value, error) {
	if err := b.checkOperands(OpSubstrateEnter); err != nil {
		return nil, err
	}
	v, err := b.value(instrSpec{op: OpSubstrateEnter, result: b.m.prims[TypeI64], tag: NotVoid, imm: int64(kind), effects: EffectWrite})
	if err != nil {
		return nil, err
	}
	b.substrate = kind
	return v, nil
}

// SubstrateExit restores a kind returned by SubstrateEnter.
func (b *Builder) SubstrateExit(prev *Value) error {
	if err := b.checkOperands(OpSubstrateExit, prev); err != nil {
		return err
	}
	if !prev.Type.Underlying().IsInteger() {
		return mismatch(OpSubstrateExit, "previous context %s", prev.Type)
	}
	if _, err := b.build(instrSpec{op: OpSubstrateExit, args: []*Value{prev}, effects: EffectWrite}); err != nil {
		return err
	}
	if prev.Def != nil && prev.Def.Op == OpSubstrateEnter && prev.Def.block == b.blk {
		b.substrate = b.blk.Substrate
	} else {
		b.substrate = SubstrateVolatile
	}
	return nil
}

func (b *Builder) runtimeOp(op Opcode, args []*Value, result *Type, effects Effect) (*Instr, error) {
	if err := b.checkOperands(op, args...); err != nil {
		return nil, err
	}
	for i, a := range args {
		if a.Type.IsAggregate() {
			return nil, mismatch(op, "operand %d has aggregate type %s", i, a.Type)
		}
	}
	tag := NotVoid
	if result != nil {
		if !b.m.owns(result) || result.IsAggregate() {
			return nil, mismatch(op, "result type %s", result)
		}
		tag = MaybeVoid
	}
	return b.build(instrSpec{op: op, args: args, result: result, tag: tag, typ: result, effects: effects})
}

func resultOf(in *Instr, err error) (*Value, error) {
	if err != nil {
		return nil, err
	}
	return in.Result, nil
}

// AtlasLoad reads persistent storage at addr.
func (b *Builder) AtlasLoad(addr *Value, t *Type) (*Value, error) {
	return resultOf(b.runtimeOp(OpAtlasLoad, []*Value{addr}, t, EffectPersist|EffectRead))
}

// AtlasStore writes v to persistent storage at addr.
func (b *Builder) AtlasStore(addr, v *Value) error {
	_, err := b.runtimeOp(OpAtlasStore, []*Value{addr, v}, nil, EffectPersist|EffectWrite)
	return err
}

// AtlasBegin opens a journal transaction and yields its handle.
func (b *Builder) AtlasBegin() (*Value, error) {
	return resultOf(b.runtimeOp(OpAtlasBegin, nil, b.m.prims[TypeU64], EffectPersist))
}

// AtlasCommit commits a transaction.
func (b *Builder) AtlasCommit(txn *Value) error {
	_, err := b.runtimeOp(OpAtlasCommit, []*Value{txn}, nil, EffectPersist|EffectWrite)
	return err
}

// AtlasRollback abandons a transaction.
func (b *Builder) AtlasRollback(txn *Value) error {
	_, err := b.runtimeOp(OpAtlasRollback, []*Value{txn}, nil, EffectPersist|EffectWrite)
	return err
}

// AetherLoad reads networked memory at addr.
func (b *Builder) AetherLoad(addr *Value, t *Type) (*Value, error) {
	return resultOf(b.runtimeOp(OpAetherLoad, []*Value{addr}, t, EffectNetwork|EffectRead))
}

// AetherStore writes networked memory at addr.
func (b *Builder) AetherStore(addr, v *Value) error {
	_, err := b.runtimeOp(OpAetherStore, []*Value{addr, v}, nil, EffectNetwork|EffectWrite)
	return err
}

// AetherSync publishes pending networked writes covering addr.
func (b *Builder) AetherSync(addr *Value) error {
	_, err := b.runtimeOp(OpAetherSync, []*Value{addr}, nil, EffectNetwork)
	return err
}
