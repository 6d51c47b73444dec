package riscv

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
		{"li small", func(a *Assembler) { a.MovImm(A0, 42) }, []uint32{0x02A00513}},
		{"li 32", func(a *Assembler) { a.MovImm(A0, 0x12345678) }, []uint32{0x12345537, 0x6785051B}},
		{"li void", func(a *Assembler) { a.MovImm(A0, 0x8000000000000000) }, []uint32{0xFFF00513, 0x03F51513}},
		{"add", func(a *Assembler) { a.Add(A0, A1, A2) }, []uint32{0x00C58533}},
		{"sub", func(a *Assembler) { a.Sub(A0, A1, A2) }, []uint32{0x40C58533}},
		{"mul", func(a *Assembler) { a.Mul(A0, A1, A2) }, []uint32{0x02C58533}},
		{"div", func(a *Assembler) { a.Div(A0, A1, A2) }, []uint32{0x02C5C533}},
		{"rem", func(a *Assembler) { a.Rem(A0, A1, A2) }, []uint32{0x02C5E533}},
		{"ld", func(a *Assembler) { a.Load(A0, S0, 16, W64, false) }, []uint32{0x01043503}},
		{"sd", func(a *Assembler) { a.Store(A0, S0, -8, W64) }, []uint32{0xFEA43C23}},
		{"ret", func(a *Assembler) { a.Ret() }, []uint32{0x00008067}},
		{"ecall", func(a *Assembler) { a.Ecall() }, []uint32{0x00000073}},
		{"unimp", func(a *Assembler) { a.Unimp() }, []uint32{0xC0001073}},
		{"rdtime", func(a *Assembler) { a.ReadTimer(A0) }, []uint32{0xC0102573}},
		{"amoadd", func(a *Assembler) { a.AmoAdd(A0, A2, A1) }, []uint32{0x06B6352F}},
		{"mov self", func(a *Assembler) { a.Mov(A0, A0) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := asm.NewBuffer(64)
			tt.emit(New(buf, T2))
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

func TestBranchOverJal(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf, T2)
	target := buf.NewLabel()
	a.Branch(CondEQ, A0, A1, target)
	a.Nop()
	buf.Bind(target)
	a.Ret()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := words(t, buf)
	if got[0] != 0x00B51463 {
		t.Fatalf("bne=%08x, want 00b51463", got[0])
	}
	if got[1] != 0x0080006F {
		t.Fatalf("j=%08x, want 0080006f", got[1])
	}
}

func TestPatchPCRel(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf, T2)
	site := a.AuipcAddiRel(A0)
	code := buf.Bytes()
	if err := PatchPCRel(code, site, 0x1234); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got := words(t, buf)
	if got[0] != 0x00001517 || got[1] != 0x23450513 {
		t.Fatalf("auipc/addi=%08x %08x", got[0], got[1])
	}
	// negative low half borrows from the upper part
	if err := PatchAddress(code, site, 0x10000, 0x10800); err != nil {
		t.Fatalf("patch address: %v", err)
	}
	got = words(t, buf)
	if got[0] != 0x00001517 || got[1] != 0x80050513 {
		t.Fatalf("auipc/addi=%08x %08x", got[0], got[1])
	}
}

func TestLargeImmediateRoundTrip(t *testing.T) {
	// Each li sequence is evaluated by a tiny model of the emitted subset.
	for _, v := range []uint64{0, 1, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF, 0x123456789ABCDEF0, ^uint64(0), 1 << 63, 0x8000000000000001} {
		buf := asm.NewBuffer(128)
		New(buf, T2).MovImm(A0, v)
		var reg int64
		for _, w := range words(t, buf) {
			rd := w >> 7 & 31
			if rd != uint32(A0) {
				t.Fatalf("unexpected destination %d", rd)
			}
			imm := int64(int32(w)) >> 20
			switch w & 0x7F {
			case opLui:
				reg = int64(int32(w & 0xFFFFF000))
			case opImm32:
				reg = int64(int32(reg + imm))
			case opImm:
				switch w >> 12 & 7 {
				case 0:
					if w>>15&31 == 0 {
						reg = imm
					} else {
						reg += imm
					}
				case 1:
					reg <<= w >> 20 & 63
				default:
					t.Fatalf("unexpected op-imm %08x", w)
				}
			default:
				t.Fatalf("unexpected opcode %08x", w)
			}
		}
		if uint64(reg) != v {
			t.Fatalf("li %#x produced %#x", v, uint64(reg))
		}
	}
}

func TestJalRange(t *testing.T) {
	code := make([]byte, 8)
	if err := PatchJal(code, 0, 1<<21); err == nil {
		t.Fatalf("out of range jump accepted")
	}
}
