package backend

import (
	"testing"

	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/irtest"
)

// twoRegs has one callee-saved and one caller-saved register.
var twoRegs = &Target{
	Name:        "test",
	Allocatable: []Reg{1, 2},
	CalleeSaved: []Reg{1},
}

func iv(vreg, start, end int) *interval {
	return &interval{vreg: vreg, start: start, end: end}
}

func TestLinearScanSpillsFurthestEnd(t *testing.T) {
	a, b, c := iv(0, 0, 10), iv(1, 1, 3), iv(2, 2, 4)
	alloc := linearScan(twoRegs, []*interval{a, b, c})

	if a.inReg {
		t.Fatalf("a kept a register, want it spilled for c")
	}
	if !b.inReg || !c.inReg {
		t.Fatalf("b.inReg=%v c.inReg=%v, want both in registers", b.inReg, c.inReg)
	}
	if b.reg == c.reg {
		t.Fatalf("b and c share register %d", b.reg)
	}
	if alloc.spilled != 1 {
		t.Fatalf("spilled=%d, want 1", alloc.spilled)
	}
}

func TestLinearScanSpillsCurrentWhenItEndsLast(t *testing.T) {
	a, b, c := iv(0, 0, 5), iv(1, 1, 6), iv(2, 2, 9)
	linearScan(twoRegs, []*interval{a, b, c})
	if !a.inReg || !b.inReg || c.inReg {
		t.Fatalf("in registers a=%v b=%v c=%v, want true true false", a.inReg, b.inReg, c.inReg)
	}
}

func TestLinearScanReusesExpiredRegisters(t *testing.T) {
	var ivs []*interval
	for i := 0; i < 6; i++ {
		ivs = append(ivs, iv(i, 2*i, 2*i+1))
	}
	alloc := linearScan(twoRegs, ivs)
	for _, x := range ivs {
		if !x.inReg {
			t.Fatalf("vreg %d spilled, want every disjoint interval in a register", x.vreg)
		}
	}
	if alloc.spilled != 0 {
		t.Fatalf("spilled=%d, want 0", alloc.spilled)
	}
}

func TestLinearScanCallCrossingUsesCalleeSaved(t *testing.T) {
	a := iv(0, 0, 10)
	a.crossesCall = true
	b := iv(1, 1, 12)
	b.crossesCall = true

	alloc := linearScan(twoRegs, []*interval{a, b})
	if !a.inReg || a.reg != 1 {
		t.Fatalf("a in %d (inReg=%v), want callee-saved 1", a.reg, a.inReg)
	}
	if b.inReg {
		t.Fatalf("b got register %d, want spill: only one callee-saved register", b.reg)
	}
	if len(alloc.saves) != 1 || alloc.saves[0] != 1 {
		t.Fatalf("saves=%v, want [1]", alloc.saves)
	}
}

func TestLinearScanForcedSpill(t *testing.T) {
	a := iv(0, 0, 1)
	a.spill = true
	alloc := linearScan(twoRegs, []*interval{nil, a})
	if a.inReg || alloc.spilled != 1 {
		t.Fatalf("inReg=%v spilled=%d, want forced spill", a.inReg, alloc.spilled)
	}
	if len(alloc.saves) != 0 {
		t.Fatalf("saves=%v, want none", alloc.saves)
	}
}

func TestLivenessLoopPhis(t *testing.T) {
	c := irtest.New(t)
	m := c.LoopSum()
	fn := m.Function("sum")
	lv := computeLiveness(fn)

	p := fn.Params[0]
	piv := lv.intervals[p.ID]
	if !piv.spill || piv.start != 0 {
		t.Fatalf("param interval=%+v, want spilled from 0", piv)
	}

	blocks := fn.Blocks()
	loop, body := blocks[1], blocks[2]
	bodyEnd := lv.blocks[body].end
	for in := loop.First(); in != nil && in.Op == ir.OpPhi; in = in.Next() {
		r := lv.intervals[in.Result.ID]
		if r.end < bodyEnd {
			t.Fatalf("phi %v ends at %d before the back edge at %d", in.Result, r.end, bodyEnd)
		}
	}
	// the bound is read in the loop header, so it stays live over the body
	if piv.end < bodyEnd {
		t.Fatalf("param ends at %d, want live through %d", piv.end, bodyEnd)
	}
}

func TestLivenessCallResultsSpill(t *testing.T) {
	c := irtest.New(t)
	m := c.Calls()
	fn := m.Function("main")
	lv := computeLiveness(fn)
	if len(lv.calls) != 3 {
		t.Fatalf("calls=%d, want 3", len(lv.calls))
	}
	for _, b := range fn.Blocks() {
		for in := b.First(); in != nil; in = in.Next() {
			if in.Op.IsCall() && in.Result != nil && !lv.intervals[in.Result.ID].spill {
				t.Fatalf("result of %s not forced to a slot", in.Op)
			}
		}
	}
}

func TestFrameLayout(t *testing.T) {
	f := frame{saveArea: 16}
	if off := f.slot(); off != -24 {
		t.Fatalf("first slot=%d, want -24", off)
	}
	if off := f.alloc(32, 16); off != -64 {
		t.Fatalf("region=%d, want -64", off)
	}
	f.reserveOutgoing(24)
	f.reserveOutgoing(8)
	if got := f.size(); got != 48+32 {
		t.Fatalf("size=%d, want 80", got)
	}
}
