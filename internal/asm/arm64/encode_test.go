package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/seraph/internal/asm"
)

func words(t *testing.T, buf *asm.Buffer) []uint32 {
	t.Helper()
	if err := buf.Err(); err != nil {
		t.Fatalf("emit: %v", err)
	}
	code := buf.Bytes()
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[4*i:])
	}
	return out
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want []uint32
	}{
		{"mov", func(a *Assembler) { a.Mov(X0, X1) }, []uint32{0xAA0103E0}},
		{"mov fp, sp", func(a *Assembler) { a.Mov(FP, SP) }, []uint32{0x910003FD}},
		{"movz", func(a *Assembler) { a.MovImm(X0, 42) }, []uint32{0xD2800540}},
		{"void", func(a *Assembler) { a.MovImm(X0, 0x8000000000000000) }, []uint32{0xD2F00000}},
		{"movn", func(a *Assembler) { a.MovImm(X1, ^uint64(0)) }, []uint32{0x92800001}},
		{"movz movk", func(a *Assembler) { a.MovImm(X2, 0x12345678) }, []uint32{0xD28ACF02, 0xF2A24682}},
		{"add", func(a *Assembler) { a.Add(X0, X1, X2) }, []uint32{0x8B020020}},
		{"sub", func(a *Assembler) { a.Sub(X3, X4, X5) }, []uint32{0xCB050083}},
		{"mul", func(a *Assembler) { a.Mul(X0, X1, X2) }, []uint32{0x9B027C20}},
		{"sdiv", func(a *Assembler) { a.Sdiv(X0, X1, X2) }, []uint32{0x9AC20C20}},
		{"udiv", func(a *Assembler) { a.Udiv(X0, X1, X2) }, []uint32{0x9AC20820}},
		{"msub", func(a *Assembler) { a.Msub(X0, X1, X2, X3) }, []uint32{0x9B028C20}},
		{"cmp imm", func(a *Assembler) { a.CmpImm(X0, 1) }, []uint32{0xF100041F}},
		{"cset eq", func(a *Assembler) { a.Cset(X0, CondEQ) }, []uint32{0x9A9F17E0}},
		{"asr", func(a *Assembler) { a.Asr(X0, X1, 63) }, []uint32{0x937FFC20}},
		{"sxtb", func(a *Assembler) { a.Extend(X0, X1, W8, true) }, []uint32{0x93401C20}},
		{"uxth", func(a *Assembler) { a.Extend(X0, X1, W16, false) }, []uint32{0xD3403C20}},
		{"ldr scaled", func(a *Assembler) { a.Load(X0, FP, 16, W64, false) }, []uint32{0xF9400BA0}},
		{"ldur", func(a *Assembler) { a.Load(X0, FP, -8, W64, false) }, []uint32{0xF85F83A0}},
		{"strb", func(a *Assembler) { a.Store(X1, X0, 3, W8) }, []uint32{0x39000C01}},
		{"far load", func(a *Assembler) { a.Load(X0, FP, -4096, W64, false) }, []uint32{0xD14007AF, 0xF94001E0}},
		{"stp pre", func(a *Assembler) { a.StorePairPre(FP, LR, SP, -16) }, []uint32{0xA9BF7BFD}},
		{"ldp post", func(a *Assembler) { a.LoadPairPost(FP, LR, SP, 16) }, []uint32{0xA8C17BFD}},
		{"ret", func(a *Assembler) { a.Ret() }, []uint32{0xD65F03C0}},
		{"svc", func(a *Assembler) { a.Svc() }, []uint32{0xD4000001}},
		{"blr", func(a *Assembler) { a.Blr(X16) }, []uint32{0xD63F0200}},
		{"udf", func(a *Assembler) { a.Udf() }, []uint32{0x00000000}},
		{"cntvct", func(a *Assembler) { a.ReadTimer(X0) }, []uint32{0xD53BE040}},
		{"ldaxr", func(a *Assembler) { a.LoadExclusive(X8, X15) }, []uint32{0xC85FFDE8}},
		{"stlxr", func(a *Assembler) { a.StoreExclusive(X9, X8, X15) }, []uint32{0xC809FDE8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := asm.NewBuffer(64)
			tt.emit(New(buf, X15))
			got := words(t, buf)
			if len(got) != len(tt.want) {
				t.Fatalf("words=%08x, want %08x", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("word %d=%08x, want %08x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestConditionalBranchFixup(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf, X15)
	done := buf.NewLabel()
	a.CmpImm(X0, 1)
	a.BCond(CondVS, done)
	a.Nop()
	buf.Bind(done)
	a.Ret()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := words(t, buf)[1]; got != 0x54000046 {
		t.Fatalf("b.vs=%08x, want 54000046", got)
	}
}

func TestPatchBranchAndAddress(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf, X15)
	site := a.BLRel()
	a.Nop()
	adrp := a.AdrpAddRel(X0)
	code := buf.Bytes()
	if err := PatchBranch(code, site, 8); err != nil {
		t.Fatalf("patch branch: %v", err)
	}
	if err := PatchAddress(code, adrp, 0x400008, 0x401010); err != nil {
		t.Fatalf("patch address: %v", err)
	}
	got := words(t, buf)
	if got[0] != 0x94000002 {
		t.Fatalf("bl=%08x, want 94000002", got[0])
	}
	if got[2] != 0xB0000000 || got[3] != 0x91004000 {
		t.Fatalf("adrp/add=%08x %08x", got[2], got[3])
	}
}

func TestBranchRange(t *testing.T) {
	code := make([]byte, 8)
	if err := PatchBranch(code, 0, 1<<28); err == nil {
		t.Fatalf("out of range branch accepted")
	}
	if err := PatchBranch(code, 0, 6); err == nil {
		t.Fatalf("misaligned branch accepted")
	}
}
