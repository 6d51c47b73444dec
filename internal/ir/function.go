package ir

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/arena"
)

// Function is an IR function.
type Function struct {
	Name    string
	Type    *Type
	Params  []*Value
	Effects Effect

	// External functions have no body and are resolved by the runtime.
	External bool

	module      *Module
	entry       *Block
	first, last *Block
	next        *Function
	nextVReg    int
	nextBlock   int
	index       int
}

func (f *Function) Module() *Module { return f.module }
func (f *Function) Entry() *Block   { return f.entry }
func (f *Function) First() *Block   { return f.first }
func (f *Function) Last() *Block    { return f.last }
func (f *Function) Next() *Function { return f.next }

// Index is the position of f in its module's function list.
func (f *Function) Index() int { return f.index }

// ReturnType is the declared return type.
func (f *Function) ReturnType() *Type { return f.Type.Return }

// Blocks returns the blocks of f in layout order.
func (f *Function) Blocks() []*Block {
	var out []*Block
	for b := f.first; b != nil; b = b.next {
		out = append(out, b)
	}
	return out
}

// NumVRegs is one past the largest vreg ID handed out.
func (f *Function) NumVRegs() int { return f.nextVReg }

// CreateBlock appends a block to f. The first block becomes the entry.
func (f *Function) CreateBlock(name string) (*Block, error) {
	if f.External {
		return nil, fmt.Errorf("ir: cannot add blocks to external function %s", f.Name)
	}
	b, err := arena.Alloc[Block](f.module.arena)
	if err != nil {
		return nil, err
	}
	b.ID = f.nextBlock
	b.Name = name
	b.fn = f
	f.nextBlock++
	if f.last == nil {
		f.first = b
		f.entry = b
	} else {
		f.last.next = b
		b.prev = f.last
	}
	f.last = b
	return b, nil
}

func (f *Function) newVReg(t *Type, tag VoidTag) (*Value, error) {
	v, err := arena.Alloc[Value](f.module.arena)
	if err != nil {
		return nil, err
	}
	v.Kind = ValueVReg
	v.Type = t
	v.Void = tag
	v.ID = f.nextVReg
	f.nextVReg++
	return v, nil
}

// RecomputeCFG rebuilds predecessor and successor lists from terminators.
func (f *Function) RecomputeCFG() {
	for b := f.first; b != nil; b = b.next {
		b.Preds = b.Preds[:0]
		b.Succs = b.Succs[:0]
	}
	for b := f.first; b != nil; b = b.next {
		if t := b.Terminator(); t != nil {
			for _, s := range t.Successors() {
				b.addSucc(s)
			}
		}
	}
}
