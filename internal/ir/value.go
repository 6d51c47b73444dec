package ir

import "fmt"

// VoidTag is the static may-be-VOID lattice NotVoid ⊑ MaybeVoid ⊑ DefinitelyVoid.
type VoidTag uint8

const (
	NotVoid VoidTag = iota
	MaybeVoid
	DefinitelyVoid
)

// Join returns the least upper bound of t and o.
func (t VoidTag) Join(o VoidTag) VoidTag {
	if o > t {
		return o
	}
	return t
}

func (t VoidTag) String() string {
	switch t {
	case NotVoid:
		return "nonvoid"
	case MaybeVoid:
		return "maybevoid"
	case DefinitelyVoid:
		return "void"
	}
	return fmt.Sprintf("VoidTag(%d)", t)
}

// ValueKind discriminates Value.
type ValueKind uint8

const (
	ValueConst ValueKind = iota
	ValueVReg
	ValueParam
	ValueGlobal
	ValueVoidConst
	ValueString
	ValueFuncPtr
)

func (k ValueKind) String() string {
	switch k {
	case ValueConst:
		return "const"
	case ValueVReg:
		return "vreg"
	case ValueParam:
		return "param"
	case ValueGlobal:
		return "global"
	case ValueVoidConst:
		return "voidconst"
	case ValueString:
		return "string"
	case ValueFuncPtr:
		return "fnptr"
	}
	return fmt.Sprintf("ValueKind(%d)", k)
}

// Value is a typed SSA value.
type Value struct {
	Kind ValueKind
	Type *Type
	Void VoidTag

	// ID is the vreg number for vregs and params, the parameter index is
	// also the vreg number.
	ID int

	// Int holds integer and boolean constants in their canonical 64-bit
	// register image.
	Int      int64
	Galactic Galactic

	Def    *Instr
	Global *Global
	Str    *StringConst
	Func   *Function
}

// IsConst reports whether v is known at compile time.
func (v *Value) IsConst() bool {
	switch v.Kind {
	case ValueConst, ValueVoidConst:
		return true
	}
	return false
}

// IsIntConst reports whether v is an integer or boolean constant.
func (v *Value) IsIntConst() bool {
	return v.Kind == ValueConst && v.Type.IsRegister()
}

// HasVReg reports whether v is defined by an instruction or is a parameter,
// and therefore needs a location during code generation.
func (v *Value) HasVReg() bool {
	return v.Kind == ValueVReg || v.Kind == ValueParam
}

func (v *Value) String() string {
	switch v.Kind {
	case ValueConst:
		if v.Type.Kind == TypeGalactic {
			return fmt.Sprintf("galactic(%s, %s, %s, %s)", v.Galactic[0], v.Galactic[1], v.Galactic[2], v.Galactic[3])
		}
		if v.Type.Kind == TypeScalar {
			return v.Galactic[0].String()
		}
		if v.Type.Kind == TypeBool {
			if v.Int != 0 {
				return "true"
			}
			return "false"
		}
		if !v.Type.IsSigned() {
			return fmt.Sprintf("%d", uint64(v.Int))
		}
		return fmt.Sprintf("%d", v.Int)
	case ValueVReg:
		return fmt.Sprintf("%%%d", v.ID)
	case ValueParam:
		return fmt.Sprintf("%%%d", v.ID)
	case ValueGlobal:
		return "@" + v.Global.Name
	case ValueVoidConst:
		return "VOID"
	case ValueString:
		return fmt.Sprintf("str#%d", v.Str.ID)
	case ValueFuncPtr:
		return "&" + v.Func.Name
	}
	return "?"
}

// Global is a module-level variable placed in the data segment.
type Global struct {
	Name string
	Type *Type
	Init []byte
	ID   int
}

// StringConst is an interned, escape-processed string literal.
type StringConst struct {
	ID    int
	Bytes []byte
	next  *StringConst
}

// Len returns the processed byte length.
func (s *StringConst) Len() int { return len(s.Bytes) }

// Next returns the following entry in the module's string list.
func (s *StringConst) Next() *StringConst { return s.next }

// Location is a source position. The zero value means unknown.
type Location struct {
	Line   uint32
	Column uint32
}

func (l Location) IsKnown() bool { return l.Line != 0 }

func (l Location) String() string { return fmt.Sprintf("%d:%d", l.Line, l.Column) }
