package ir

import "strconv"

// SubstrateKind tags the memory domain in effect at a block's entry.
type SubstrateKind uint8

const (
	SubstrateVolatile SubstrateKind = iota
	SubstratePersistent
	SubstrateNetworked
)

func (k SubstrateKind) String() string {
	switch k {
	case SubstratePersistent:
		return "persistent"
	case SubstrateNetworked:
		return "networked"
	}
	return "volatile"
}

// Block is a basic block.
type Block struct {
	ID        int
	Name      string
	Substrate SubstrateKind

	Preds []*Block
	Succs []*Block

	// dominance metadata, filled by ComputeDominance
	IDom     *Block
	DomDepth int

	fn          *Function
	first, last *Instr
	prev, next  *Block
}

func (b *Block) Function() *Function { return b.fn }
func (b *Block) First() *Instr       { return b.first }
func (b *Block) Last() *Instr        { return b.last }
func (b *Block) Next() *Block        { return b.next }
func (b *Block) Prev() *Block        { return b.prev }

// Label returns the block name, or a synthetic one for unnamed blocks.
func (b *Block) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return "bb" + strconv.Itoa(b.ID)
}

// Terminator returns the last instruction if it terminates the block.
func (b *Block) Terminator() *Instr {
	if b.last != nil && b.last.Op.IsTerminator() {
		return b.last
	}
	return nil
}

// Instrs returns the instructions of b in order.
func (b *Block) Instrs() []*Instr {
	var out []*Instr
	for i := b.first; i != nil; i = i.next {
		out = append(out, i)
	}
	return out
}

func (b *Block) insertBefore(at, in *Instr) {
	in.block = b
	if at == nil {
		in.prev = b.last
		in.next = nil
		if b.last != nil {
			b.last.next = in
		} else {
			b.first = in
		}
		b.last = in
		return
	}
	in.next = at
	in.prev = at.prev
	if at.prev != nil {
		at.prev.next = in
	} else {
		b.first = in
	}
	at.prev = in
}

// Remove unlinks in from b.
func (b *Block) Remove(in *Instr) {
	if in.block != b {
		return
	}
	if in.prev != nil {
		in.prev.next = in.next
	} else {
		b.first = in.next
	}
	if in.next != nil {
		in.next.prev = in.prev
	} else {
		b.last = in.prev
	}
	in.prev, in.next, in.block = nil, nil, nil
}

func (b *Block) addSucc(s *Block) {
	for _, x := range b.Succs {
		if x == s {
			return
		}
	}
	b.Succs = append(b.Succs, s)
	s.Preds = append(s.Preds, b)
}

func (b *Block) hasPred(p *Block) bool {
	for _, x := range b.Preds {
		if x == p {
			return true
		}
	}
	return false
}
