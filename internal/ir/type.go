package ir

import (
	"fmt"
	"strings"
)

// TypeKind discriminates Type.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeScalar
	TypeDual
	TypeGalactic
	TypeCapability
	TypeSubstrate
	TypeStruct
	TypeArray
	TypeSlice
	TypeString
	TypeEnum
	TypeFunction
	TypePointer
	TypeVoidable

	numPrimitiveKinds = TypeSubstrate + 1
)

var typeKindNames = [...]string{
	TypeVoid:       "void",
	TypeBool:       "bool",
	TypeI8:         "i8",
	TypeI16:        "i16",
	TypeI32:        "i32",
	TypeI64:        "i64",
	TypeU8:         "u8",
	TypeU16:        "u16",
	TypeU32:        "u32",
	TypeU64:        "u64",
	TypeScalar:     "scalar",
	TypeDual:       "dual",
	TypeGalactic:   "galactic",
	TypeCapability: "cap",
	TypeSubstrate:  "substrate",
	TypeStruct:     "struct",
	TypeArray:      "array",
	TypeSlice:      "slice",
	TypeString:     "string",
	TypeEnum:       "enum",
	TypeFunction:   "fn",
	TypePointer:    "ptr",
	TypeVoidable:   "voidable",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", k)
}

// IsPrimitive reports whether kind has a single module-wide instance.
func (k TypeKind) IsPrimitive() bool { return k < numPrimitiveKinds }

// Field is a named struct member.
type Field struct {
	Name   string
	Type   *Type
	Offset uint64
}

// Variant is an enum alternative. Payload is nil for bare variants.
type Variant struct {
	Name         string
	Payload      *Type
	Discriminant int64
}

// Type describes the static type of a Value.
type Type struct {
	Kind TypeKind
	Name string

	Fields   []Field
	Variants []Variant
	Elem     *Type
	Len      uint64

	Return  *Type
	Params  []*Type
	Effects Effect

	size  uint64
	align uint64
	index int
}

// Index returns the position of a compound type in its module's type vector,
// or -1 for primitives.
func (t *Type) Index() int { return t.index }

func (t *Type) IsInteger() bool {
	return t != nil && t.Kind >= TypeI8 && t.Kind <= TypeU64
}

func (t *Type) IsSigned() bool {
	return t != nil && t.Kind >= TypeI8 && t.Kind <= TypeI64
}

// Bits returns the width of integer and boolean types, 64 for other
// register-held types.
func (t *Type) Bits() int {
	switch t.Kind {
	case TypeBool, TypeI8, TypeU8:
		return 8
	case TypeI16, TypeU16:
		return 16
	case TypeI32, TypeU32:
		return 32
	case TypeVoidable:
		return t.Elem.Bits()
	default:
		return 64
	}
}

// IsAggregate reports whether values of t live in memory and are handled by
// address.
func (t *Type) IsAggregate() bool {
	switch t.Kind {
	case TypeScalar, TypeDual, TypeGalactic, TypeCapability,
		TypeStruct, TypeArray, TypeSlice, TypeString:
		return true
	case TypeEnum:
		for _, v := range t.Variants {
			if v.Payload != nil {
				return true
			}
		}
		return false
	case TypeVoidable:
		return t.Elem.IsAggregate()
	}
	return false
}

// IsRegister reports whether values of t fit a general purpose register.
func (t *Type) IsRegister() bool { return !t.IsAggregate() }

func (t *Type) IsPointerLike() bool {
	switch t.Kind {
	case TypePointer, TypeFunction, TypeSubstrate:
		return true
	}
	return false
}

// Underlying strips voidable wrappers.
func (t *Type) Underlying() *Type {
	for t != nil && t.Kind == TypeVoidable {
		t = t.Elem
	}
	return t
}

// Size is the in-memory size of t in bytes.
func (t *Type) Size() uint64 { return t.size }

// Align is the in-memory alignment of t in bytes.
func (t *Type) Align() uint64 { return t.align }

// FieldIndex returns the index of the named field or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports structural identity. Compound types registered separately
// but built from identical parts compare equal.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypeStruct:
		if t.Name != o.Name || len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	case TypeEnum:
		if t.Name != o.Name || len(t.Variants) != len(o.Variants) {
			return false
		}
		for i := range t.Variants {
			a, b := t.Variants[i], o.Variants[i]
			if a.Name != b.Name || a.Discriminant != b.Discriminant {
				return false
			}
			if (a.Payload == nil) != (b.Payload == nil) {
				return false
			}
			if a.Payload != nil && !a.Payload.Equal(b.Payload) {
				return false
			}
		}
		return true
	case TypeArray:
		return t.Len == o.Len && t.Elem.Equal(o.Elem)
	case TypeSlice, TypePointer, TypeVoidable:
		return t.Elem.Equal(o.Elem)
	case TypeFunction:
		if !t.Return.Equal(o.Return) || len(t.Params) != len(o.Params) || t.Effects != o.Effects {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
		return true
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeStruct:
		if t.Name != "" {
			return "%" + t.Name
		}
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Type.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeEnum:
		return "enum %" + t.Name
	case TypeArray:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case TypeSlice:
		return "[]" + t.Elem.String()
	case TypePointer:
		return "*" + t.Elem.String()
	case TypeVoidable:
		return "??" + t.Elem.String()
	case TypeFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		s := "fn(" + strings.Join(parts, ", ") + ") -> " + t.Return.String()
		if t.Effects != 0 {
			s += " " + t.Effects.String()
		}
		return s
	}
	return t.Kind.String()
}

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// layout computes size and alignment for t. Component types are already laid
// out because constructors only accept registered types.
func (t *Type) layout() {
	switch t.Kind {
	case TypeVoid:
		t.size, t.align = 0, 1
	case TypeBool, TypeI8, TypeU8:
		t.size, t.align = 1, 1
	case TypeI16, TypeU16:
		t.size, t.align = 2, 2
	case TypeI32, TypeU32:
		t.size, t.align = 4, 4
	case TypeI64, TypeU64, TypePointer, TypeFunction, TypeSubstrate:
		t.size, t.align = 8, 8
	case TypeScalar:
		t.size, t.align = 16, 8
	case TypeDual:
		t.size, t.align = 32, 8
	case TypeGalactic:
		t.size, t.align = 64, 8
	case TypeCapability:
		t.size, t.align = CapRecordSize, 8
	case TypeSlice, TypeString:
		t.size, t.align = 16, 8
	case TypeStruct:
		var off, align uint64 = 0, 1
		for i := range t.Fields {
			f := &t.Fields[i]
			off = alignUp(off, f.Type.align)
			f.Offset = off
			off += f.Type.size
			if f.Type.align > align {
				align = f.Type.align
			}
		}
		t.size, t.align = alignUp(off, align), align
	case TypeArray:
		t.size, t.align = t.Len*alignUp(t.Elem.size, t.Elem.align), t.Elem.align
	case TypeEnum:
		var payload uint64
		for _, v := range t.Variants {
			if v.Payload != nil && v.Payload.size > payload {
				payload = v.Payload.size
			}
		}
		if payload == 0 {
			t.size, t.align = 8, 8
		} else {
			t.size, t.align = 8+alignUp(payload, 8), 8
		}
	case TypeVoidable:
		t.size, t.align = t.Elem.size, t.Elem.align
		if t.size == 0 {
			t.size, t.align = 8, 8
		}
	}
}

// ElemStride is the distance between consecutive array elements.
func (t *Type) ElemStride() uint64 {
	return alignUp(t.Elem.size, t.Elem.align)
}
