package backend

import (
	"sort"

	"github.com/google/btree"
)

// allocation is the outcome of linear scan for one function.
type allocation struct {
	intervals []*interval
	// saves lists the callee-saved registers handed out, in target order.
	saves []Reg
	// spilled counts intervals that need a frame slot.
	spilled int
}

func byEnd(a, b *interval) bool {
	if a.end != b.end {
		return a.end < b.end
	}
	return a.vreg < b.vreg
}

// linearScan assigns registers in order of interval start. The active set
// is kept sorted by end point so expiry and spill selection are ordered
// walks. A value live across a call only receives a callee-saved register.
func linearScan(t *Target, ivs []*interval) *allocation {
	sorted := make([]*interval, 0, len(ivs))
	for _, iv := range ivs {
		if iv != nil {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start < sorted[j].start
		}
		return sorted[i].vreg < sorted[j].vreg
	})

	active := btree.NewG[*interval](8, byEnd)
	busy := make(map[Reg]bool)
	used := make(map[Reg]bool)
	alloc := &allocation{intervals: sorted}

	allowed := func(iv *interval, r Reg) bool {
		return !iv.crossesCall || t.IsCalleeSaved(r)
	}

	for _, iv := range sorted {
		if iv.spill {
			alloc.spilled++
			continue
		}

		for {
			first, ok := active.Min()
			if !ok || first.end >= iv.start {
				break
			}
			active.DeleteMin()
			busy[first.reg] = false
		}

		picked := false
		for _, r := range t.Allocatable {
			if !busy[r] && allowed(iv, r) {
				iv.inReg, iv.reg = true, r
				busy[r], used[r] = true, true
				active.ReplaceOrInsert(iv)
				picked = true
				break
			}
		}
		if picked {
			continue
		}

		var victim *interval
		active.Descend(func(cand *interval) bool {
			if allowed(iv, cand.reg) {
				victim = cand
				return false
			}
			return true
		})
		if victim != nil && victim.end > iv.end {
			active.Delete(victim)
			iv.inReg, iv.reg = true, victim.reg
			victim.inReg = false
			alloc.spilled++
			active.ReplaceOrInsert(iv)
			continue
		}
		alloc.spilled++
	}

	for _, r := range t.CalleeSaved {
		if used[r] {
			alloc.saves = append(alloc.saves, r)
		}
	}
	return alloc
}
