package ir

// SwitchCase maps a constant to a target block.
type SwitchCase struct {
	Value  int64
	Target *Block
}

// Instr is a single IR operation. Instructions form a doubly linked list
// inside their block.
type Instr struct {
	Op      Opcode
	Args    []*Value
	Result  *Value
	Targets [2]*Block
	Callee  *Function
	Effects Effect
	Loc     Location

	// Type is the accessed type for loads, the allocated type for alloca and
	// the destination type for conversions.
	Type *Type
	// Imm carries small static operands: field and component indices,
	// the half selected by cap.split, permission masks and substrate kinds.
	Imm int64

	Cases    []SwitchCase
	Incoming []*Block

	block      *Block
	prev, next *Instr
}

func (i *Instr) Block() *Block { return i.block }
func (i *Instr) Next() *Instr  { return i.next }
func (i *Instr) Prev() *Instr  { return i.prev }

// Successors returns the blocks control may transfer to after i.
func (i *Instr) Successors() []*Block {
	switch i.Op {
	case OpJump:
		return []*Block{i.Targets[0]}
	case OpBranch:
		return []*Block{i.Targets[0], i.Targets[1]}
	case OpSwitch:
		out := []*Block{i.Targets[0]}
		for _, c := range i.Cases {
			out = append(out, c.Target)
		}
		return out
	}
	return nil
}

// HasSideEffect reports whether i is observable beyond its result.
func (i *Instr) HasSideEffect() bool {
	return i.Op.HasSideEffect() || i.Effects != 0
}

// MakeNop turns i into a nop in place, keeping its position and result
// identity.
func (i *Instr) MakeNop() {
	i.Op = OpNop
	i.Args = nil
	i.Targets = [2]*Block{}
	i.Callee = nil
	i.Cases = nil
	i.Incoming = nil
	i.Effects = 0
}
