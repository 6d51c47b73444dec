// Package asm holds the append-only code buffer shared by the instruction
// encoders. A Buffer has a fixed capacity chosen by its owner; running out is
// reported through ErrCapacity rather than by growing.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCapacity is reported when an emission would grow a Buffer past its
// capacity. The buffer contents are no longer meaningful afterwards.
var ErrCapacity = errors.New("asm: code buffer capacity exceeded")

// Label names a code position that may be bound after it is referenced.
type Label int32

// NoLabel is the zero reference used by callers that have no target yet.
const NoLabel Label = -1

// FixupKind is interpreted by the encoder package that recorded the fixup.
type FixupKind uint8

// Fixup is a pending reference from the instruction field at Site to Label.
type Fixup struct {
	Site  int
	Label Label
	Kind  FixupKind
}

// PatchFunc rewrites the reference at f.Site so that it points at target.
type PatchFunc func(code []byte, f Fixup, target int) error

// Buffer accumulates machine code. The first error encountered is sticky:
// later emissions are ignored and Err reports it.
type Buffer struct {
	code   []byte
	err    error
	labels []int
	fixups []Fixup
	starts []int
}

// NewBuffer returns a buffer that can hold capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{code: make([]byte, 0, capacity)}
}

// Len returns the current code offset.
func (b *Buffer) Len() int { return len(b.code) }

// Cap returns the capacity fixed at construction.
func (b *Buffer) Cap() int { return cap(b.code) }

// Bytes returns the emitted code. It aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.code }

func (b *Buffer) Err() error { return b.err }

// Fail records err unless an earlier error is already recorded.
func (b *Buffer) Fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Emit appends raw bytes. Each call is one instruction, or one run of
// padding, and its offset is recorded as an instruction start.
func (b *Buffer) Emit(p ...byte) {
	if b.err != nil {
		return
	}
	if len(b.code)+len(p) > cap(b.code) {
		b.err = fmt.Errorf("%w: %d of %d bytes used, %d more requested", ErrCapacity, len(b.code), cap(b.code), len(p))
		return
	}
	b.starts = append(b.starts, len(b.code))
	b.code = append(b.code, p...)
}

// Starts returns the offset of every emission in order.
func (b *Buffer) Starts() []int { return b.starts }

// Emit32 appends a little-endian instruction word.
func (b *Buffer) Emit32(w uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], w)
	b.Emit(tmp[:]...)
}

// EmitResult appends the output of an encoder, recording its error.
func (b *Buffer) EmitResult(p []byte, err error) {
	if err != nil {
		b.Fail(err)
		return
	}
	b.Emit(p...)
}

// EmitWord appends the output of a fixed-width encoder.
func (b *Buffer) EmitWord(w uint32, err error) {
	if err != nil {
		b.Fail(err)
		return
	}
	b.Emit32(w)
}

// Uint32At reads the instruction word at off.
func (b *Buffer) Uint32At(off int) uint32 {
	return binary.LittleEndian.Uint32(b.code[off:])
}

// PutUint32At overwrites the instruction word at off.
func (b *Buffer) PutUint32At(off int, w uint32) {
	binary.LittleEndian.PutUint32(b.code[off:], w)
}

// NewLabel allocates an unbound label.
func (b *Buffer) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Bind fixes l at the current offset.
func (b *Buffer) Bind(l Label) {
	if l < 0 || int(l) >= len(b.labels) {
		b.Fail(fmt.Errorf("asm: bind of unknown label %d", l))
		return
	}
	if b.labels[l] >= 0 {
		b.Fail(fmt.Errorf("asm: label %d bound twice", l))
		return
	}
	b.labels[l] = len(b.code)
}

// Offset returns the position l is bound to.
func (b *Buffer) Offset(l Label) (int, bool) {
	if l < 0 || int(l) >= len(b.labels) || b.labels[l] < 0 {
		return 0, false
	}
	return b.labels[l], true
}

// AddFixup records a reference to l from the field at site.
func (b *Buffer) AddFixup(site int, l Label, kind FixupKind) {
	b.fixups = append(b.fixups, Fixup{Site: site, Label: l, Kind: kind})
}

// Fixups returns the references recorded so far.
func (b *Buffer) Fixups() []Fixup { return b.fixups }

// Resolve patches every recorded fixup and clears the table. Every referenced
// label must be bound.
func (b *Buffer) Resolve(patch PatchFunc) error {
	if b.err != nil {
		return b.err
	}
	for _, f := range b.fixups {
		target, ok := b.Offset(f.Label)
		if !ok {
			return fmt.Errorf("asm: fixup at %#x references unbound label %d", f.Site, f.Label)
		}
		if err := patch(b.code, f, target); err != nil {
			return fmt.Errorf("asm: fixup at %#x: %w", f.Site, err)
		}
	}
	b.fixups = b.fixups[:0]
	return nil
}

// Reset empties the buffer keeping its capacity.
func (b *Buffer) Reset() {
	b.code = b.code[:0]
	b.err = nil
	b.labels = b.labels[:0]
	b.fixups = b.fixups[:0]
	b.starts = b.starts[:0]
}
