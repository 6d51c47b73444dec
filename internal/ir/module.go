package ir

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/arena"
)

// Module is a compilation unit. Every object reachable from it is owned by
// its arena.
type Module struct {
	Name string

	arena *arena.Arena

	first, last *Function
	numFuncs    int

	Globals []*Global
	Types   []*Type

	strings    *StringConst
	numStrings int

	prims [numPrimitiveKinds]*Type
	str   *Type
}

// NewModule creates an empty module owned by a.
func NewModule(name string, a *arena.Arena) (*Module, error) {
	if a == nil {
		return nil, fmt.Errorf("ir: module %q needs an arena", name)
	}
	m, err := arena.Alloc[Module](a)
	if err != nil {
		return nil, err
	}
	m.Name = name
	m.arena = a
	for k := TypeKind(0); k < numPrimitiveKinds; k++ {
		t, err := arena.Alloc[Type](a)
		if err != nil {
			return nil, err
		}
		t.Kind = k
		t.index = -1
		t.layout()
		m.prims[k] = t
	}
	return m, nil
}

// Arena returns the owning arena.
func (m *Module) Arena() *arena.Arena { return m.arena }

// Destroy releases the module's arena.
func (m *Module) Destroy() {
	m.arena.Release()
	m.first, m.last = nil, nil
	m.strings = nil
}

// Functions returns the functions in declaration order.
func (m *Module) Functions() []*Function {
	out := make([]*Function, 0, m.numFuncs)
	for f := m.first; f != nil; f = f.next {
		out = append(out, f)
	}
	return out
}

// FirstFunction is the head of the function list.
func (m *Module) FirstFunction() *Function { return m.first }

// Function looks a function up by name.
func (m *Module) Function(name string) *Function {
	for f := m.first; f != nil; f = f.next {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Primitive returns the module-wide instance of a primitive type kind.
func (m *Module) Primitive(k TypeKind) *Type {
	if !k.IsPrimitive() {
		panic(fmt.Sprintf("ir: %s is not a primitive type", k))
	}
	return m.prims[k]
}

// IntType returns the integer type of the given width and signedness.
func (m *Module) IntType(bits int, signed bool) (*Type, error) {
	var k TypeKind
	switch bits {
	case 8:
		k = TypeU8
	case 16:
		k = TypeU16
	case 32:
		k = TypeU32
	case 64:
		k = TypeU64
	default:
		return nil, fmt.Errorf("ir: unsupported integer width %d", bits)
	}
	if signed {
		k -= TypeU8 - TypeI8
	}
	return m.prims[k], nil
}

// StringType returns the module's string type, a pointer and byte length.
// It is registered on first use.
func (m *Module) StringType() (*Type, error) {
	if m.str != nil {
		return m.str, nil
	}
	t, err := m.register(&Type{Kind: TypeString})
	if err != nil {
		return nil, err
	}
	m.str = t
	return t, nil
}

func (m *Module) register(t *Type) (*Type, error) {
	nt, err := arena.Alloc[Type](m.arena)
	if err != nil {
		return nil, err
	}
	*nt = *t
	nt.layout()
	nt.index = len(m.Types)
	m.Types = append(m.Types, nt)
	return nt, nil
}

func (m *Module) owns(t *Type) bool {
	if t == nil {
		return false
	}
	if t.index < 0 {
		return t.Kind.IsPrimitive() && m.prims[t.Kind] == t
	}
	return t.index < len(m.Types) && m.Types[t.index] == t
}

func (m *Module) checkOwned(what string, ts ...*Type) error {
	for _, t := range ts {
		if !m.owns(t) {
			return fmt.Errorf("ir: %s: type %s is not registered in module %s", what, t, m.Name)
		}
	}
	return nil
}

// StructType registers a named struct type.
func (m *Module) StructType(name string, fields []Field) (*Type, error) {
	seen := make(map[string]bool, len(fields))
	fs := make([]Field, len(fields))
	for i, f := range fields {
		if err := m.checkOwned("struct "+name, f.Type); err != nil {
			return nil, err
		}
		if f.Type.Kind == TypeVoid {
			return nil, fmt.Errorf("ir: struct %s: field %s has void type", name, f.Name)
		}
		if f.Name != "" && seen[f.Name] {
			return nil, fmt.Errorf("ir: struct %s: duplicate field %s", name, f.Name)
		}
		seen[f.Name] = true
		fs[i] = Field{Name: f.Name, Type: f.Type}
	}
	return m.register(&Type{Kind: TypeStruct, Name: name, Fields: fs})
}

// ArrayType registers a fixed-length array type.
func (m *Module) ArrayType(elem *Type, n uint64) (*Type, error) {
	if err := m.checkOwned("array", elem); err != nil {
		return nil, err
	}
	if elem.Kind == TypeVoid {
		return nil, fmt.Errorf("ir: array of void")
	}
	return m.register(&Type{Kind: TypeArray, Elem: elem, Len: n})
}

// SliceType registers a slice type.
func (m *Module) SliceType(elem *Type) (*Type, error) {
	if err := m.checkOwned("slice", elem); err != nil {
		return nil, err
	}
	return m.register(&Type{Kind: TypeSlice, Elem: elem})
}

// EnumType registers a tagged enum type.
func (m *Module) EnumType(name string, variants []Variant) (*Type, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("ir: enum %s has no variants", name)
	}
	vs := make([]Variant, len(variants))
	discs := make(map[int64]bool, len(variants))
	for i, v := range variants {
		if v.Payload != nil {
			if err := m.checkOwned("enum "+name, v.Payload); err != nil {
				return nil, err
			}
		}
		if discs[v.Discriminant] {
			return nil, fmt.Errorf("ir: enum %s: duplicate discriminant %d", name, v.Discriminant)
		}
		discs[v.Discriminant] = true
		vs[i] = v
	}
	return m.register(&Type{Kind: TypeEnum, Name: name, Variants: vs})
}

// FunctionType registers a function type.
func (m *Module) FunctionType(ret *Type, params []*Type, effects Effect) (*Type, error) {
	if err := m.checkOwned("function type", ret); err != nil {
		return nil, err
	}
	if err := m.checkOwned("function type", params...); err != nil {
		return nil, err
	}
	if ret.IsAggregate() {
		return nil, fmt.Errorf("ir: function type returns aggregate %s; return it through a pointer", ret)
	}
	for i, p := range params {
		if p.Kind == TypeVoid {
			return nil, fmt.Errorf("ir: function type parameter %d has void type", i)
		}
	}
	return m.register(&Type{Kind: TypeFunction, Return: ret, Params: append([]*Type(nil), params...), Effects: effects})
}

// PointerType registers a raw pointer type.
func (m *Module) PointerType(elem *Type) (*Type, error) {
	if err := m.checkOwned("pointer", elem); err != nil {
		return nil, err
	}
	return m.register(&Type{Kind: TypePointer, Elem: elem})
}

// VoidableType registers a voidable wrapper.
func (m *Module) VoidableType(elem *Type) (*Type, error) {
	if err := m.checkOwned("voidable", elem); err != nil {
		return nil, err
	}
	if elem.Kind == TypeVoidable {
		return elem, nil
	}
	return m.register(&Type{Kind: TypeVoidable, Elem: elem})
}

// CreateFunction adds a function of type fnType. Parameters become the
// values %0..%N-1.
func (m *Module) CreateFunction(name string, fnType *Type) (*Function, error) {
	if fnType == nil || fnType.Kind != TypeFunction {
		return nil, fmt.Errorf("ir: function %s: type %s is not a function type", name, fnType)
	}
	if err := m.checkOwned("function "+name, fnType); err != nil {
		return nil, err
	}
	if m.Function(name) != nil {
		return nil, fmt.Errorf("ir: function %s already defined", name)
	}
	f, err := arena.Alloc[Function](m.arena)
	if err != nil {
		return nil, err
	}
	params, err := arena.AllocSlice[*Value](m.arena, len(fnType.Params))
	if err != nil {
		return nil, err
	}
	for i, pt := range fnType.Params {
		p, err := arena.Alloc[Value](m.arena)
		if err != nil {
			return nil, err
		}
		p.Kind = ValueParam
		p.Type = pt
		p.Void = MaybeVoid
		p.ID = i
		params[i] = p
	}
	f.Name = name
	f.Type = fnType
	f.Params = params
	f.Effects = fnType.Effects
	f.module = m
	f.nextVReg = len(params)
	f.index = m.numFuncs

	if m.last == nil {
		m.first = f
	} else {
		m.last.next = f
	}
	m.last = f
	m.numFuncs++
	return f, nil
}

// DeclareExternal adds a body-less function resolved outside the module.
func (m *Module) DeclareExternal(name string, fnType *Type) (*Function, error) {
	f, err := m.CreateFunction(name, fnType)
	if err != nil {
		return nil, err
	}
	f.External = true
	return f, nil
}

// AddGlobal defines a module-level variable.
func (m *Module) AddGlobal(name string, t *Type, init []byte) (*Global, error) {
	if err := m.checkOwned("global "+name, t); err != nil {
		return nil, err
	}
	if uint64(len(init)) > t.Size() {
		return nil, fmt.Errorf("ir: global %s: initialiser of %d bytes exceeds %s", name, len(init), t)
	}
	for _, g := range m.Globals {
		if g.Name == name {
			return nil, fmt.Errorf("ir: global %s already defined", name)
		}
	}
	g, err := arena.Alloc[Global](m.arena)
	if err != nil {
		return nil, err
	}
	buf, err := arena.CopyBytes(m.arena, init)
	if err != nil {
		return nil, err
	}
	g.Name = name
	g.Type = t
	g.Init = buf
	g.ID = len(m.Globals)
	m.Globals = append(m.Globals, g)
	return g, nil
}

func (m *Module) newValue(kind ValueKind, t *Type, tag VoidTag) (*Value, error) {
	v, err := arena.Alloc[Value](m.arena)
	if err != nil {
		return nil, err
	}
	v.Kind = kind
	v.Type = t
	v.Void = tag
	v.ID = -1
	return v, nil
}

// ConstInt returns an integer, boolean or pointer constant. The value must be
// representable in t.
func (m *Module) ConstInt(t *Type, value int64) (*Value, error) {
	if err := m.checkOwned("constant", t); err != nil {
		return nil, err
	}
	if !t.IsRegister() || t.Kind == TypeVoid {
		return nil, fmt.Errorf("ir: integer constant of type %s", t)
	}
	if !Representable(t, uint64(value)) {
		return nil, fmt.Errorf("ir: constant %d does not fit %s", value, t)
	}
	v, err := m.newValue(ValueConst, t, NotVoid)
	if err != nil {
		return nil, err
	}
	v.Int = value
	return v, nil
}

// ConstInteger returns a signed integer constant of the given width.
func (m *Module) ConstInteger(bits int, value int64) (*Value, error) {
	t, err := m.IntType(bits, true)
	if err != nil {
		return nil, err
	}
	return m.ConstInt(t, value)
}

// ConstBool returns a boolean constant.
func (m *Module) ConstBool(b bool) (*Value, error) {
	var x int64
	if b {
		x = 1
	}
	return m.ConstInt(m.prims[TypeBool], x)
}

// ConstVoid returns the VOID constant of t.
func (m *Module) ConstVoid(t *Type) (*Value, error) {
	if err := m.checkOwned("void constant", t); err != nil {
		return nil, err
	}
	return m.newValue(ValueVoidConst, t, DefinitelyVoid)
}

// ConstGalactic returns a galactic constant w + x·ε1 + y·ε2 + z·ε1ε2.
func (m *Module) ConstGalactic(w, x, y, z Q64) (*Value, error) {
	v, err := m.newValue(ValueConst, m.prims[TypeGalactic], NotVoid)
	if err != nil {
		return nil, err
	}
	v.Galactic = Galactic{w, x, y, z}
	return v, nil
}

// ConstScalar returns a Q64.64 scalar constant.
func (m *Module) ConstScalar(q Q64) (*Value, error) {
	v, err := m.newValue(ValueConst, m.prims[TypeScalar], NotVoid)
	if err != nil {
		return nil, err
	}
	v.Galactic[0] = q
	return v, nil
}

// ConstString references an interned string.
func (m *Module) ConstString(s *StringConst) (*Value, error) {
	if s == nil {
		return nil, fmt.Errorf("ir: nil string constant")
	}
	st, err := m.StringType()
	if err != nil {
		return nil, err
	}
	v, err := m.newValue(ValueString, st, NotVoid)
	if err != nil {
		return nil, err
	}
	v.Str = s
	return v, nil
}

// GlobalAddr returns a pointer to g.
func (m *Module) GlobalAddr(g *Global) (*Value, error) {
	pt, err := m.PointerType(g.Type)
	if err != nil {
		return nil, err
	}
	v, err := m.newValue(ValueGlobal, pt, NotVoid)
	if err != nil {
		return nil, err
	}
	v.Global = g
	return v, nil
}

// FuncPtr returns the address of fn as a value of its function type.
func (m *Module) FuncPtr(fn *Function) (*Value, error) {
	if fn == nil || fn.module != m {
		return nil, fmt.Errorf("ir: function pointer to a function outside module %s", m.Name)
	}
	v, err := m.newValue(ValueFuncPtr, fn.Type, NotVoid)
	if err != nil {
		return nil, err
	}
	v.Func = fn
	return v, nil
}

// Strings returns the interned strings, most recent first.
func (m *Module) Strings() []*StringConst {
	var out []*StringConst
	for s := m.strings; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}
