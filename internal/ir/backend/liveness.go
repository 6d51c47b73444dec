package backend

import (
	"math/bits"

	"github.com/tinyrange/seraph/internal/ir"
)

// interval is the conservative live range of one vreg over the linear
// instruction numbering: a single [start, end] span covering every block in
// which the value is live.
type interval struct {
	value       *ir.Value
	vreg        int
	start, end  int
	crossesCall bool
	// spill forces a frame slot: parameters and call results.
	spill bool

	inReg bool
	reg   Reg
	slot  int64
}

type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (s bitset) add(i int)           { s[i/64] |= 1 << (i % 64) }
func (s bitset) has(i int) bool      { return s[i/64]&(1<<(i%64)) != 0 }
func (s bitset) union(o bitset) bool { return s.unionMinus(o, nil) }

// unionMinus adds o minus sub to s and reports whether s changed.
func (s bitset) unionMinus(o, sub bitset) bool {
	changed := false
	for i := range s {
		w := o[i]
		if sub != nil {
			w &^= sub[i]
		}
		if s[i]|w != s[i] {
			s[i] |= w
			changed = true
		}
	}
	return changed
}

func (s bitset) each(fn func(int)) {
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(i*64 + b)
			w &^= 1 << b
		}
	}
}

type blockInfo struct {
	start, end int
	use, def   bitset
	in, out    bitset
	// phiUses are the phi arguments this block supplies to each successor.
	phiUses bitset
}

// liveness numbers the instructions of fn in layout order and computes one
// interval per vreg.
type liveness struct {
	order     []*ir.Block
	pos       map[*ir.Instr]int
	blocks    map[*ir.Block]*blockInfo
	calls     []int
	intervals []*interval
}

func isCallSite(in *ir.Instr) bool {
	switch in.Op {
	case ir.OpCall, ir.OpCallIndirect, ir.OpSyscall, ir.OpChrononYield:
		return true
	}
	return in.Op.IsRuntimeCall()
}

func vregOf(v *ir.Value) (int, bool) {
	if v != nil && v.HasVReg() {
		return v.ID, true
	}
	return 0, false
}

func computeLiveness(fn *ir.Function) *liveness {
	n := fn.NumVRegs()
	lv := &liveness{
		order:     fn.Blocks(),
		pos:       make(map[*ir.Instr]int),
		blocks:    make(map[*ir.Block]*blockInfo),
		intervals: make([]*interval, n),
	}

	p := 0
	for _, b := range lv.order {
		bi := &blockInfo{
			start: p, use: newBitset(n), def: newBitset(n),
			in: newBitset(n), out: newBitset(n), phiUses: newBitset(n),
		}
		for in := b.First(); in != nil; in = in.Next() {
			lv.pos[in] = p
			if isCallSite(in) {
				lv.calls = append(lv.calls, p)
			}
			p++
		}
		bi.end = p - 1
		if bi.end < bi.start {
			bi.end = bi.start
		}
		lv.blocks[b] = bi
	}

	for _, b := range lv.order {
		bi := lv.blocks[b]
		for in := b.First(); in != nil; in = in.Next() {
			if in.Op != ir.OpPhi {
				for _, a := range in.Args {
					if id, ok := vregOf(a); ok && !bi.def.has(id) {
						bi.use.add(id)
					}
				}
			}
			if id, ok := vregOf(in.Result); ok {
				bi.def.add(id)
			}
		}
		for _, s := range successors(b) {
			for in := s.First(); in != nil && in.Op == ir.OpPhi; in = in.Next() {
				for i, from := range in.Incoming {
					if id, ok := vregOf(in.Args[i]); ok && from == b {
						bi.phiUses.add(id)
					}
				}
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for i := len(lv.order) - 1; i >= 0; i-- {
			b := lv.order[i]
			bi := lv.blocks[b]
			if bi.out.union(bi.phiUses) {
				changed = true
			}
			for _, s := range successors(b) {
				if bi.out.union(lv.blocks[s].in) {
					changed = true
				}
			}
			if bi.in.union(bi.use) {
				changed = true
			}
			if bi.in.unionMinus(bi.out, bi.def) {
				changed = true
			}
		}
	}

	lv.buildIntervals(fn)
	return lv
}

func successors(b *ir.Block) []*ir.Block {
	if t := b.Terminator(); t != nil {
		return t.Successors()
	}
	return nil
}

func (lv *liveness) touch(v *ir.Value, at int) {
	id, ok := vregOf(v)
	if !ok {
		return
	}
	iv := lv.intervals[id]
	if iv == nil {
		iv = &interval{value: v, vreg: id, start: at, end: at}
		lv.intervals[id] = iv
		return
	}
	if at < iv.start {
		iv.start = at
	}
	if at > iv.end {
		iv.end = at
	}
}

func (lv *liveness) buildIntervals(fn *ir.Function) {
	for _, p := range fn.Params {
		lv.touch(p, 0)
		lv.intervals[p.ID].spill = true
	}
	// definitions first, so ranges of blocks laid out before the def are seen
	for _, b := range lv.order {
		for in := b.First(); in != nil; in = in.Next() {
			lv.touch(in.Result, lv.pos[in])
		}
	}
	for _, b := range lv.order {
		bi := lv.blocks[b]
		for in := b.First(); in != nil; in = in.Next() {
			at := lv.pos[in]
			if in.Result != nil {
				lv.touch(in.Result, at)
				if in.Op.IsCall() || in.Op.IsRuntimeCall() || in.Op == ir.OpSyscall {
					if id, ok := vregOf(in.Result); ok {
						lv.intervals[id].spill = true
					}
				}
			}
			if in.Op == ir.OpPhi {
				// written by the edge copies at the end of each predecessor
				for i, from := range in.Incoming {
					end := lv.blocks[from].end
					lv.touch(in.Result, end)
					lv.touch(in.Args[i], end)
				}
				continue
			}
			for _, a := range in.Args {
				lv.touch(a, at)
			}
		}
		bi.in.each(func(id int) { lv.touchID(id, bi.start) })
		bi.out.each(func(id int) { lv.touchID(id, bi.end) })
	}
	for _, iv := range lv.intervals {
		if iv == nil {
			continue
		}
		for _, c := range lv.calls {
			if iv.start < c && c < iv.end {
				iv.crossesCall = true
				break
			}
		}
	}
}

func (lv *liveness) touchID(id, at int) {
	if iv := lv.intervals[id]; iv != nil {
		lv.touch(iv.value, at)
	}
}
