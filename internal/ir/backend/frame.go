package backend

// frame lays out one function's stack. Slots and regions live below the
// callee-saved save area and are addressed from the frame pointer; the
// outgoing argument area sits at the bottom and is addressed from the stack
// pointer.
//
//	FP + FirstStackArg     incoming stack arguments
//	FP                     saved frame pointer (and link)
//	FP - saveArea          callee-saved registers
//	FP - saveArea - n      slots and regions
//	SP + 0                 outgoing arguments and call staging
type frame struct {
	saveArea int64
	locals   int64
	outgoing int64
}

func alignUp(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// alloc reserves size bytes and returns their frame-pointer offset.
func (f *frame) alloc(size, align int64) int64 {
	if align < 8 {
		align = 8
	}
	f.locals = alignUp(f.locals+size, align)
	return -(f.saveArea + f.locals)
}

func (f *frame) slot() int64 { return f.alloc(8, 8) }

// reserveOutgoing grows the stack-pointer area to at least n bytes.
func (f *frame) reserveOutgoing(n int64) {
	if n > f.outgoing {
		f.outgoing = n
	}
}

// size is the number of bytes the prologue must reserve below the save area.
func (f *frame) size() int64 {
	return alignUp(f.locals, 16) + alignUp(f.outgoing, 16)
}
