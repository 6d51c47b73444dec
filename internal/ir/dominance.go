package ir

// ReversePostorder returns the blocks reachable from the entry in reverse
// postorder.
func (f *Function) ReversePostorder() []*Block {
	if f.entry == nil {
		return nil
	}
	seen := make(map[*Block]bool)
	var post []*Block
	var visit func(b *Block)
	visit = func(b *Block) {
		seen[b] = true
		for _, s := range b.Succs {
			if !seen[s] {
				visit(s)
			}
		}
		post = append(post, b)
	}
	visit(f.entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// ComputeDominance fills IDom and DomDepth for every reachable block using
// the iterative algorithm of Cooper, Harvey and Kennedy. Unreachable blocks
// get a nil IDom.
func (f *Function) ComputeDominance() {
	f.RecomputeCFG()
	for b := f.first; b != nil; b = b.next {
		b.IDom = nil
		b.DomDepth = 0
	}
	rpo := f.ReversePostorder()
	if len(rpo) == 0 {
		return
	}
	order := make(map[*Block]int, len(rpo))
	for i, b := range rpo {
		order[b] = i
	}
	entry := rpo[0]
	entry.IDom = entry

	intersect := func(a, b *Block) *Block {
		for a != b {
			for order[a] > order[b] {
				a = a.IDom
			}
			for order[b] > order[a] {
				b = b.IDom
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var idom *Block
			for _, p := range b.Preds {
				if p.IDom == nil {
					continue
				}
				if _, ok := order[p]; !ok {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if idom != b.IDom {
				b.IDom = idom
				changed = true
			}
		}
	}

	entry.IDom = nil
	for _, b := range rpo[1:] {
		b.DomDepth = b.IDom.DomDepth + 1
	}
}

// Dominates reports whether a dominates b. ComputeDominance must have run.
func (a *Block) Dominates(b *Block) bool {
	for x := b; x != nil; x = x.IDom {
		if x == a {
			return true
		}
	}
	return false
}
