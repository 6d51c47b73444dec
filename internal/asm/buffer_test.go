package asm

import (
	"errors"
	"testing"
)

func TestBufferCapacity(t *testing.T) {
	b := NewBuffer(4)
	b.Emit(1, 2, 3)
	if err := b.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Emit(4, 5)
	if !errors.Is(b.Err(), ErrCapacity) {
		t.Fatalf("err=%v, want ErrCapacity", b.Err())
	}
	if b.Len() != 3 {
		t.Fatalf("len=%d, want 3", b.Len())
	}
	b.Emit(9)
	if b.Len() != 3 {
		t.Fatalf("emission after failure changed length to %d", b.Len())
	}
}

func TestBufferLabelsAndFixups(t *testing.T) {
	b := NewBuffer(64)
	fwd := b.NewLabel()
	b.Emit(0xAA)
	b.AddFixup(b.Len(), fwd, 7)
	b.Emit32(0)
	b.Emit(0xBB, 0xCC)
	b.Bind(fwd)

	var seen []Fixup
	err := b.Resolve(func(code []byte, f Fixup, target int) error {
		seen = append(seen, f)
		code[f.Site] = byte(target - (f.Site + 4))
		return nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seen) != 1 || seen[0].Kind != 7 || seen[0].Site != 1 {
		t.Fatalf("fixups=%+v", seen)
	}
	if got := b.Bytes()[1]; got != 2 {
		t.Fatalf("patched displacement=%d, want 2", got)
	}
	if len(b.Fixups()) != 0 {
		t.Fatalf("fixup table not cleared")
	}
}

func TestBufferUnboundLabel(t *testing.T) {
	b := NewBuffer(16)
	l := b.NewLabel()
	b.AddFixup(0, l, 0)
	b.Emit32(0)
	if err := b.Resolve(func([]byte, Fixup, int) error { return nil }); err == nil {
		t.Fatalf("expected unbound label error")
	}
}

func TestBufferDoubleBind(t *testing.T) {
	b := NewBuffer(16)
	l := b.NewLabel()
	b.Bind(l)
	b.Bind(l)
	if b.Err() == nil {
		t.Fatalf("expected error for second bind")
	}
}

func TestBufferWords(t *testing.T) {
	b := NewBuffer(8)
	b.Emit32(0xD65F03C0)
	if b.Uint32At(0) != 0xD65F03C0 {
		t.Fatalf("word=%#x", b.Uint32At(0))
	}
	b.PutUint32At(0, 0x12345678)
	if got := b.Bytes(); got[0] != 0x78 || got[3] != 0x12 {
		t.Fatalf("bytes=% x", got)
	}
}

func TestBufferStarts(t *testing.T) {
	b := NewBuffer(8)
	b.Emit(0x90)
	b.Emit(0x0F, 0x05)
	b.Emit(1, 2, 3, 4, 5, 6)
	if got := b.Starts(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("starts=%v, want [0 1] with the overflowing emit dropped", got)
	}
	b.Reset()
	if len(b.Starts()) != 0 {
		t.Fatalf("starts survived Reset")
	}
}
