package irdoc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyrange/seraph/internal/ir"
)

var primitives = func() map[string]ir.TypeKind {
	m := make(map[string]ir.TypeKind)
	for k := ir.TypeVoid; k.IsPrimitive(); k++ {
		m[k.String()] = k
	}
	return m
}()

// parseType resolves a type written the way the IR printer writes it:
// primitive names, %name for declared types, *T, []T, ??T, [N x T] and
// fn(P, ...) -> R with an optional effects{...} suffix. Declared names may
// also be written bare.
func (l *lowerer) parseType(s string) (*ir.Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}
	if k, ok := primitives[s]; ok {
		return l.m.Primitive(k), nil
	}
	if s == "string" {
		return l.m.StringType()
	}
	name := strings.TrimPrefix(strings.TrimPrefix(s, "enum "), "%")
	if t, ok := l.types[name]; ok {
		return t, nil
	}
	switch {
	case strings.HasPrefix(s, "*"):
		elem, err := l.parseType(s[1:])
		if err != nil {
			return nil, err
		}
		return l.m.PointerType(elem)
	case strings.HasPrefix(s, "[]"):
		elem, err := l.parseType(s[2:])
		if err != nil {
			return nil, err
		}
		return l.m.SliceType(elem)
	case strings.HasPrefix(s, "??"):
		elem, err := l.parseType(s[2:])
		if err != nil {
			return nil, err
		}
		return l.m.VoidableType(elem)
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		count, elemStr, ok := strings.Cut(s[1:len(s)-1], " x ")
		if !ok {
			return nil, fmt.Errorf("type %q: want [N x T]", s)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(count), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("type %q: bad length", s)
		}
		elem, err := l.parseType(elemStr)
		if err != nil {
			return nil, err
		}
		return l.m.ArrayType(elem, n)
	case strings.HasPrefix(s, "fn("):
		return l.parseFuncType(s)
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func (l *lowerer) parseFuncType(s string) (*ir.Type, error) {
	closing := matching(s, 2)
	if closing < 0 {
		return nil, fmt.Errorf("type %q: unbalanced parentheses", s)
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(s[closing+1:]), "->")
	if !ok {
		return nil, fmt.Errorf("type %q: missing -> return type", s)
	}
	rest = strings.TrimSpace(rest)
	var eff ir.Effect
	if i := strings.Index(rest, " effects{"); i >= 0 && strings.HasSuffix(rest, "}") {
		names := strings.Split(rest[i+len(" effects{"):len(rest)-1], ",")
		var err error
		if eff, err = parseEffects(names); err != nil {
			return nil, err
		}
		rest = rest[:i]
	}
	ret, err := l.parseType(rest)
	if err != nil {
		return nil, err
	}
	params, err := l.parseTypes(splitTop(s[3:closing]))
	if err != nil {
		return nil, err
	}
	return l.m.FunctionType(ret, params, eff)
}

// matching returns the index of the bracket closing the one at open.
func matching(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits a parameter list at commas outside brackets.
func splitTop(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func (l *lowerer) parseTypes(ss []string) ([]*ir.Type, error) {
	out := make([]*ir.Type, len(ss))
	for i, s := range ss {
		t, err := l.parseType(s)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func parseEffects(names []string) (ir.Effect, error) {
	var e ir.Effect
	for _, n := range names {
		bit, ok := ir.ParseEffect(strings.TrimSpace(n))
		if !ok {
			return 0, fmt.Errorf("unknown effect %q", n)
		}
		e |= bit
	}
	return e, nil
}

func parseSubstrate(s string) (ir.SubstrateKind, error) {
	switch s {
	case "", "volatile":
		return ir.SubstrateVolatile, nil
	case "persistent":
		return ir.SubstratePersistent, nil
	case "networked":
		return ir.SubstrateNetworked, nil
	}
	return 0, fmt.Errorf("unknown substrate %q", s)
}

// declareTypes registers the named types in order; later declarations may
// refer to earlier ones.
func (l *lowerer) declareTypes(decls []TypeDecl) error {
	for _, d := range decls {
		if _, dup := l.types[d.Name]; dup {
			return fmt.Errorf("type %s declared twice", d.Name)
		}
		if _, prim := primitives[d.Name]; prim || d.Name == "string" {
			return fmt.Errorf("type %s shadows a primitive", d.Name)
		}
		var (
			t   *ir.Type
			err error
		)
		switch {
		case d.Struct != nil && d.Enum == nil:
			fields := make([]ir.Field, len(d.Struct))
			for i, f := range d.Struct {
				ft, err := l.parseType(f.Type)
				if err != nil {
					return fmt.Errorf("type %s field %s: %w", d.Name, f.Name, err)
				}
				fields[i] = ir.Field{Name: f.Name, Type: ft}
			}
			t, err = l.m.StructType(d.Name, fields)
		case d.Enum != nil && d.Struct == nil:
			variants := make([]ir.Variant, len(d.Enum))
			for i, v := range d.Enum {
				variants[i] = ir.Variant{Name: v.Name, Discriminant: v.Discriminant}
				if v.Payload != "" {
					pt, err := l.parseType(v.Payload)
					if err != nil {
						return fmt.Errorf("type %s variant %s: %w", d.Name, v.Name, err)
					}
					variants[i].Payload = pt
				}
			}
			t, err = l.m.EnumType(d.Name, variants)
		default:
			return fmt.Errorf("type %s: exactly one of struct or enum is required", d.Name)
		}
		if err != nil {
			return err
		}
		l.types[d.Name] = t
	}
	return nil
}
