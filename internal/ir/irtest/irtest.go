// Package irtest builds small IR modules shared by the optimiser, evaluator,
// backend and writer tests.
package irtest

import (
	"testing"

	"github.com/tinyrange/seraph/internal/arena"
	"github.com/tinyrange/seraph/internal/ir"
)

// Checker turns builder errors into test failures so module construction
// reads as straight-line code.
type Checker struct {
	T testing.TB
}

func New(t testing.TB) Checker { return Checker{T: t} }

func (c Checker) V(v *ir.Value, err error) *ir.Value {
	c.T.Helper()
	if err != nil {
		c.T.Fatalf("build value: %v", err)
	}
	return v
}

func (c Checker) B(b *ir.Block, err error) *ir.Block {
	c.T.Helper()
	if err != nil {
		c.T.Fatalf("create block: %v", err)
	}
	return b
}

func (c Checker) Type(t *ir.Type, err error) *ir.Type {
	c.T.Helper()
	if err != nil {
		c.T.Fatalf("create type: %v", err)
	}
	return t
}

func (c Checker) OK(err error) {
	c.T.Helper()
	if err != nil {
		c.T.Fatalf("build: %v", err)
	}
}

// Module returns an empty module backed by a 16 MiB arena.
func (c Checker) Module(name string) *ir.Module {
	c.T.Helper()
	m, err := ir.NewModule(name, arena.New(16<<20))
	if err != nil {
		c.T.Fatalf("NewModule: %v", err)
	}
	return m
}

// Func creates fn with an entry block and a builder positioned on it.
func (c Checker) Func(m *ir.Module, name string, effects ir.Effect, ret *ir.Type, params ...*ir.Type) (*ir.Function, *ir.Builder) {
	c.T.Helper()
	ft := c.Type(m.FunctionType(ret, params, effects))
	fn, err := m.CreateFunction(name, ft)
	if err != nil {
		c.T.Fatalf("CreateFunction %s: %v", name, err)
	}
	entry := c.B(fn.CreateBlock("entry"))
	b := ir.NewBuilder(m)
	b.PositionAtEnd(entry)
	return fn, b
}

func (c Checker) I64(m *ir.Module, v int64) *ir.Value {
	c.T.Helper()
	return c.V(m.ConstInt(m.Primitive(ir.TypeI64), v))
}

func (c Checker) U64(m *ir.Module, v uint64) *ir.Value {
	c.T.Helper()
	return c.V(m.ConstInt(m.Primitive(ir.TypeU64), int64(v)))
}

// Verify fails the test when m is malformed.
func (c Checker) Verify(m *ir.Module) *ir.Module {
	c.T.Helper()
	if err := ir.Verify(m); err != nil {
		c.T.Fatalf("Verify: %v\n%s", err, m)
	}
	return m
}
