package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/seraph/internal/asm"
	"github.com/tinyrange/seraph/internal/ir"
)

// Section names the segment a data reference points into.
type Section uint8

const (
	SectionRodata Section = iota
	SectionData
	SectionBSS
)

func (s Section) String() string {
	switch s {
	case SectionRodata:
		return "rodata"
	case SectionData:
		return "data"
	case SectionBSS:
		return "bss"
	}
	return fmt.Sprintf("Section(%d)", s)
}

// DataRef is a code site that materialises the address of Offset within
// Section. It is patched once the final layout is known.
type DataRef struct {
	Site    int
	Section Section
	Offset  uint64
}

// Symbol is a named range of the text section.
type Symbol struct {
	Name   string
	Offset int
	Size   int
}

// Layout gives the virtual address of every output section.
type Layout struct {
	Text, Rodata, Data, BSS uint64
}

// ContextSize is the bss block holding the capability generation and the
// substrate word.
const ContextSize = 64

// substrateOffset is where the substrate word sits in the context block.
const substrateOffset = 32

// Output is a compiled module prior to placement.
type Output struct {
	Target *Target

	Code    []byte
	Rodata  []byte
	Data    []byte
	BSSSize uint64

	// Entry is the text offset of the startup stub.
	Entry int
	// EntryFunction is the function the startup stub calls.
	EntryFunction string

	Functions []Symbol
	// Stubs are the trapping entry points standing in for runtime
	// services and external functions.
	Stubs []Symbol

	DataRefs []DataRef
	Listing  []ListingEntry
	// Instructions holds the text offset of every emitted instruction.
	Instructions []int

	// UsesContext is set when the program touches capabilities or the
	// substrate and so needs the context block.
	UsesContext bool
}

// Options tune code generation.
type Options struct {
	Logger *slog.Logger
	// Capacity is the initial code buffer size.
	Capacity int
	// Entry names the function the startup stub calls. When empty, main is
	// used, falling back to the first defined function.
	Entry string
	// Progress, when set, is called after each function is compiled.
	Progress func(name string)
}

const (
	defaultCapacity = 1 << 20
	functionAlign   = 16
)

// ErrNoFunctions is returned for modules without any defined function.
var ErrNoFunctions = errors.New("backend: module defines no functions")

type fixup struct {
	site   int
	fn     *ir.Function
	symbol string
}

type modulePass struct {
	t    *Target
	m    Machine
	buf  *asm.Buffer
	mod  *ir.Module
	log  *slog.Logger
	opts Options

	strings map[*ir.StringConst]uint64
	globals map[*ir.Global]uint64
	consts  map[string]uint64
	rodata  []byte
	data    []byte

	dataRefs   []DataRef
	calls      []fixup
	addrFixups []fixup

	funcOffsets map[*ir.Function]int
	stubOffsets map[string]int
	stubOrder   []string
}

func (mp *modulePass) fixupFor(site int, fn *ir.Function) fixup {
	if fn.External {
		return mp.stubFixup(site, fn.Name)
	}
	return fixup{site: site, fn: fn}
}

func (mp *modulePass) stubFixup(site int, symbol string) fixup {
	if _, ok := mp.stubOffsets[symbol]; !ok {
		mp.stubOffsets[symbol] = -1
		mp.stubOrder = append(mp.stubOrder, symbol)
	}
	return fixup{site: site, symbol: symbol}
}

func appendAligned(sec []byte, b []byte, align int) ([]byte, uint64) {
	for len(sec)%align != 0 {
		sec = append(sec, 0)
	}
	off := uint64(len(sec))
	return append(sec, b...), off
}

// constant places a scalar or galactic constant in rodata, sharing equal
// images.
func (mp *modulePass) constant(v *ir.Value) uint64 {
	n := 1
	if v.Type.Underlying().Kind == ir.TypeGalactic {
		n = 4
	}
	b := make([]byte, n*q64Size)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(b[i*q64Size:], v.Galactic[i].Lo)
		binary.LittleEndian.PutUint64(b[i*q64Size+8:], uint64(v.Galactic[i].Hi))
	}
	if off, ok := mp.consts[string(b)]; ok {
		return off
	}
	var off uint64
	mp.rodata, off = appendAligned(mp.rodata, b, q64Size)
	mp.consts[string(b)] = off
	return off
}

func (mp *modulePass) layoutData() {
	for _, s := range mp.mod.Strings() {
		var off uint64
		mp.rodata, off = appendAligned(mp.rodata, append(append([]byte(nil), s.Bytes...), 0), 8)
		mp.strings[s] = off
	}
	for _, g := range mp.mod.Globals {
		b := make([]byte, g.Type.Size())
		copy(b, g.Init)
		align := int(g.Type.Align())
		if align < 8 {
			align = 8
		}
		var off uint64
		mp.data, off = appendAligned(mp.data, b, align)
		mp.globals[g] = off
	}
}

func usesContext(m *ir.Module) bool {
	for _, fn := range m.Functions() {
		for _, b := range fn.Blocks() {
			for in := b.First(); in != nil; in = in.Next() {
				switch in.Op {
				case ir.OpCapCreate, ir.OpCapLoad, ir.OpCapStore, ir.OpCapCheck,
					ir.OpCapNarrow, ir.OpCapSplit, ir.OpCapRevoke,
					ir.OpSubstrateEnter, ir.OpSubstrateExit:
					return true
				}
			}
		}
	}
	return false
}

func entryFunction(m *ir.Module, name string) (*ir.Function, error) {
	if name != "" {
		fn := m.Function(name)
		if fn == nil || fn.External {
			return nil, fmt.Errorf("backend: entry function %q is not defined", name)
		}
		return fn, nil
	}
	if fn := m.Function("main"); fn != nil && !fn.External {
		return fn, nil
	}
	for _, fn := range m.Functions() {
		if !fn.External {
			return fn, nil
		}
	}
	return nil, ErrNoFunctions
}

// Compile lowers every defined function of m for t. The module must have
// passed verification.
func Compile(m *ir.Module, t *Target, opts Options) (*Output, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	entry, err := entryFunction(m, opts.Entry)
	if err != nil {
		return nil, err
	}

	buf := asm.NewBuffer(opts.Capacity)
	mp := &modulePass{
		t:           t,
		m:           t.NewMachine(buf),
		buf:         buf,
		mod:         m,
		log:         opts.Logger.With("target", t.Name),
		opts:        opts,
		strings:     make(map[*ir.StringConst]uint64),
		globals:     make(map[*ir.Global]uint64),
		consts:      make(map[string]uint64),
		funcOffsets: make(map[*ir.Function]int),
		stubOffsets: make(map[string]int),
	}
	mp.layoutData()

	out := &Output{Target: t, EntryFunction: entry.Name, UsesContext: usesContext(m)}
	mp.startup(out, entry)

	for _, fn := range m.Functions() {
		if fn.External {
			continue
		}
		mp.align()
		start := buf.Len()
		mp.funcOffsets[fn] = start
		c := mp.newCompiler(fn)
		if err := c.compile(); err != nil {
			return nil, fmt.Errorf("backend: %s: %w", t.Name, err)
		}
		out.Functions = append(out.Functions, Symbol{Name: fn.Name, Offset: start, Size: buf.Len() - start})
		out.Listing = append(out.Listing, c.listing...)
		mp.log.Debug("compiled function",
			"function", fn.Name,
			"bytes", buf.Len()-start,
			"spilled", c.alloc.spilled,
			"frame", c.fr.size())
		if mp.opts.Progress != nil {
			mp.opts.Progress(fn.Name)
		}
	}

	for _, sym := range mp.stubOrder {
		mp.align()
		start := buf.Len()
		mp.stubOffsets[sym] = start
		mp.m.Trap()
		out.Stubs = append(out.Stubs, Symbol{Name: sym, Offset: start, Size: buf.Len() - start})
	}

	if err := buf.Err(); err != nil {
		return nil, fmt.Errorf("backend: %s: %w", t.Name, err)
	}
	if err := buf.Resolve(t.PatchLabel); err != nil {
		return nil, fmt.Errorf("backend: %s: %w", t.Name, err)
	}
	code := buf.Bytes()
	for _, f := range mp.calls {
		if err := t.PatchCall(code, f.site, mp.target(f)); err != nil {
			return nil, fmt.Errorf("backend: %s: call at %#x: %w", t.Name, f.site, err)
		}
	}
	for _, f := range mp.addrFixups {
		if err := t.PatchFuncAddr(code, f.site, mp.target(f)); err != nil {
			return nil, fmt.Errorf("backend: %s: function address at %#x: %w", t.Name, f.site, err)
		}
	}

	out.Code = append([]byte(nil), code...)
	out.Instructions = append([]int(nil), buf.Starts()...)
	out.Rodata = mp.rodata
	out.Data = mp.data
	if out.UsesContext {
		out.BSSSize = ContextSize
	}
	out.DataRefs = mp.dataRefs
	mp.log.Info("compiled module",
		"functions", len(out.Functions),
		"stubs", len(out.Stubs),
		"text", len(out.Code),
		"rodata", len(out.Rodata),
		"data", len(out.Data))
	return out, nil
}

func (mp *modulePass) target(f fixup) int {
	if f.fn != nil {
		return mp.funcOffsets[f.fn]
	}
	return mp.stubOffsets[f.symbol]
}

func (mp *modulePass) align() {
	if pad := (functionAlign - mp.buf.Len()%functionAlign) % functionAlign; pad > 0 {
		mp.buf.Emit(make([]byte, pad)...)
	}
}

// startup emits the process entry point: it establishes the context
// registers, calls the entry function and exits with its result.
func (mp *modulePass) startup(out *Output, entry *ir.Function) {
	t, m := mp.t, mp.m
	out.Entry = mp.buf.Len()
	if out.UsesContext {
		site := m.DataAddr(t.CapCtx)
		mp.dataRefs = append(mp.dataRefs, DataRef{Site: site, Section: SectionBSS})
		m.AddImm(t.SubstrateCtx, t.CapCtx, substrateOffset)
	}
	mp.calls = append(mp.calls, fixup{site: m.CallSite(), fn: entry})
	m.Mov(t.SyscallArgs[0], t.RetReg)
	m.MovImm(t.SyscallNum, t.SysExit)
	m.Syscall()
	m.Trap()
}

// Relocate patches every data reference in code, a copy of o.Code placed
// according to l.
func (o *Output) Relocate(code []byte, l Layout) error {
	for _, r := range o.DataRefs {
		var base uint64
		switch r.Section {
		case SectionRodata:
			base = l.Rodata
		case SectionData:
			base = l.Data
		case SectionBSS:
			base = l.BSS
		default:
			return fmt.Errorf("backend: data reference to %s", r.Section)
		}
		if err := o.Target.PatchData(code, r.Site, l.Text+uint64(r.Site), base+r.Offset); err != nil {
			return fmt.Errorf("backend: %s reference at %#x: %w", r.Section, r.Site, err)
		}
	}
	return nil
}

// Function returns the symbol for a compiled function.
func (o *Output) Function(name string) (Symbol, bool) {
	for _, s := range o.Functions {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}
