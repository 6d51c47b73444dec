package amd64

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tinyrange/seraph/internal/asm"
)

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want []byte
	}{
		{"mov rax, rbx", func(a *Assembler) { a.Mov(RAX, RBX) }, []byte{0x48, 0x89, 0xD8}},
		{"mov r9, r10", func(a *Assembler) { a.Mov(R9, R10) }, []byte{0x4D, 0x89, 0xD1}},
		{"mov eax, 42", func(a *Assembler) { a.MovImm(RAX, 42) }, []byte{0xB8, 0x2A, 0, 0, 0}},
		{"mov r12d, 1", func(a *Assembler) { a.MovImm(R12, 1) }, []byte{0x41, 0xBC, 1, 0, 0, 0}},
		{"mov rax, -1", func(a *Assembler) { a.MovImm(RAX, ^uint64(0)) }, []byte{0x48, 0xC7, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"movabs", func(a *Assembler) { a.MovImm(RAX, 0x1122334455667788) },
			[]byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"load rbp-8", func(a *Assembler) { a.Load(RAX, Mem(RBP, -8), W64, false) }, []byte{0x48, 0x8B, 0x45, 0xF8}},
		{"load rbp-256", func(a *Assembler) { a.Load(RAX, Mem(RBP, -256), W64, false) },
			[]byte{0x48, 0x8B, 0x85, 0x00, 0xFF, 0xFF, 0xFF}},
		{"store rsp+16", func(a *Assembler) { a.Store(Mem(RSP, 16), RBX, W64) }, []byte{0x48, 0x89, 0x5C, 0x24, 0x10}},
		{"load r13", func(a *Assembler) { a.Load(RAX, Mem(R13, 0), W64, false) }, []byte{0x49, 0x8B, 0x45, 0x00}},
		{"load r12", func(a *Assembler) { a.Load(RAX, Mem(R12, 0), W64, false) }, []byte{0x49, 0x8B, 0x04, 0x24}},
		{"load indexed", func(a *Assembler) { a.Load(RAX, MemIndex(RAX, RCX, 8, 0), W64, false) }, []byte{0x48, 0x8B, 0x04, 0xC8}},
		{"movzx byte", func(a *Assembler) { a.Load(RAX, Mem(RDI, 0), W8, false) }, []byte{0x0F, 0xB6, 0x07}},
		{"movsx byte", func(a *Assembler) { a.Load(RAX, Mem(RDI, 1), W8, true) }, []byte{0x48, 0x0F, 0xBE, 0x47, 0x01}},
		{"movsxd", func(a *Assembler) { a.Load(RAX, Mem(RSI, 0), W32, true) }, []byte{0x48, 0x63, 0x06}},
		{"store sil", func(a *Assembler) { a.Store(Mem(RDI, 0), RSI, W8) }, []byte{0x40, 0x88, 0x37}},
		{"store cx", func(a *Assembler) { a.Store(Mem(RAX, 0), RCX, W16) }, []byte{0x66, 0x89, 0x08}},
		{"lea rip", func(a *Assembler) { a.LeaRIP(RAX) }, []byte{0x48, 0x8D, 0x05, 0, 0, 0, 0}},
		{"add", func(a *Assembler) { a.ALU(ALUAdd, RAX, RBX) }, []byte{0x48, 0x01, 0xD8}},
		{"sub r8, r9", func(a *Assembler) { a.ALU(ALUSub, R8, R9) }, []byte{0x4D, 0x29, 0xC8}},
		{"cmp rax, 1", func(a *Assembler) { a.ALUImm(ALUCmp, RAX, 1) }, []byte{0x48, 0x83, 0xF8, 0x01}},
		{"and rdi, 255", func(a *Assembler) { a.ALUImm(ALUAnd, RDI, 0xFF) }, []byte{0x48, 0x81, 0xE7, 0xFF, 0, 0, 0}},
		{"imul", func(a *Assembler) { a.Imul(RAX, RBX) }, []byte{0x48, 0x0F, 0xAF, 0xC3}},
		{"idiv", func(a *Assembler) { a.Idiv(RCX) }, []byte{0x48, 0xF7, 0xF9}},
		{"mul", func(a *Assembler) { a.Mul(RBX) }, []byte{0x48, 0xF7, 0xE3}},
		{"neg", func(a *Assembler) { a.Neg(RAX) }, []byte{0x48, 0xF7, 0xD8}},
		{"shl cl", func(a *Assembler) { a.ShiftCL(ShiftLeft, RAX) }, []byte{0x48, 0xD3, 0xE0}},
		{"sar cl", func(a *Assembler) { a.ShiftCL(ShiftArith, RDX) }, []byte{0x48, 0xD3, 0xFA}},
		{"shr 3", func(a *Assembler) { a.ShiftImm(ShiftRight, RAX, 3) }, []byte{0x48, 0xC1, 0xE8, 0x03}},
		{"movsx dil", func(a *Assembler) { a.SignExtend(RAX, RDI, W8) }, []byte{0x48, 0x0F, 0xBE, 0xC7}},
		{"movzx sil", func(a *Assembler) { a.ZeroExtend(RAX, RSI, W8) }, []byte{0x40, 0x0F, 0xB6, 0xC6}},
		{"movzx al", func(a *Assembler) { a.ZeroExtend(RCX, RAX, W8) }, []byte{0x0F, 0xB6, 0xC8}},
		{"sete", func(a *Assembler) { a.Setcc(CondE, RAX) }, []byte{0x0F, 0x94, 0xC0}},
		{"setl dil", func(a *Assembler) { a.Setcc(CondL, RDI) }, []byte{0x40, 0x0F, 0x9C, 0xC7}},
		{"cmove", func(a *Assembler) { a.Cmov(CondE, RAX, RBX) }, []byte{0x48, 0x0F, 0x44, 0xC3}},
		{"call r11", func(a *Assembler) { a.CallReg(R11) }, []byte{0x41, 0xFF, 0xD3}},
		{"push rbp", func(a *Assembler) { a.Push(RBP) }, []byte{0x55}},
		{"push r12", func(a *Assembler) { a.Push(R12) }, []byte{0x41, 0x54}},
		{"pop r15", func(a *Assembler) { a.Pop(R15) }, []byte{0x41, 0x5F}},
		{"lock inc", func(a *Assembler) { a.LockInc(Mem(R14, 0)) }, []byte{0xF0, 0x49, 0xFF, 0x06}},
		{"syscall", func(a *Assembler) { a.Syscall() }, []byte{0x0F, 0x05}},
		{"ud2", func(a *Assembler) { a.UD2() }, []byte{0x0F, 0x0B}},
		{"rdtsc", func(a *Assembler) { a.Rdtsc() }, []byte{0x0F, 0x31}},
		{"cqo", func(a *Assembler) { a.Cqo() }, []byte{0x48, 0x99}},
		{"rep movsb", func(a *Assembler) { a.RepMovsb() }, []byte{0xF3, 0xA4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := asm.NewBuffer(32)
			tt.emit(New(buf))
			if err := buf.Err(); err != nil {
				t.Fatalf("emit: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Fatalf("bytes=% x, want % x", buf.Bytes(), tt.want)
			}
		})
	}
}

func TestMovSelfIsElided(t *testing.T) {
	buf := asm.NewBuffer(8)
	New(buf).Mov(RBX, RBX)
	if buf.Len() != 0 {
		t.Fatalf("mov rbx, rbx emitted % x", buf.Bytes())
	}
}

func TestInvalidOperands(t *testing.T) {
	buf := asm.NewBuffer(32)
	a := New(buf)
	a.Load(RAX, MemIndex(RAX, RSP, 1, 0), W64, false)
	if buf.Err() == nil {
		t.Fatalf("rsp index accepted")
	}

	buf = asm.NewBuffer(32)
	New(buf).ShiftImm(ShiftLeft, RAX, 64)
	if buf.Err() == nil {
		t.Fatalf("shift count 64 accepted")
	}
}

func TestBranchFixups(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf)
	top := buf.NewLabel()
	done := buf.NewLabel()
	buf.Bind(top)
	a.ALUImm(ALUCmp, RAX, 1)
	a.Jcc(CondO, done)
	a.Jmp(top)
	buf.Bind(done)
	a.Ret()
	if err := buf.Resolve(Patch); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	code := buf.Bytes()
	// jo at 4: 0f 80 rel32 ending at 10, target 15
	if got := int32(binary.LittleEndian.Uint32(code[6:])); got != 5 {
		t.Fatalf("jo displacement=%d, want 5", got)
	}
	// jmp at 10: e9 rel32 ending at 15, target 0
	if got := int32(binary.LittleEndian.Uint32(code[11:])); got != -15 {
		t.Fatalf("jmp displacement=%d, want -15", got)
	}
}

func TestCallDisplacement(t *testing.T) {
	buf := asm.NewBuffer(64)
	a := New(buf)
	site := a.CallRel()
	a.Ret()
	callee := buf.Len()
	a.Ret()
	if err := PatchRel32(buf.Bytes(), site, callee); err != nil {
		t.Fatalf("patch: %v", err)
	}
	call := site - 1
	got := int32(binary.LittleEndian.Uint32(buf.Bytes()[site:]))
	if want := int32(callee - (call + 5)); got != want {
		t.Fatalf("call displacement=%d, want %d", got, want)
	}
}

func TestCapacityExhaustion(t *testing.T) {
	buf := asm.NewBuffer(4)
	a := New(buf)
	a.MovImm(RAX, 0x1122334455667788)
	if !errors.Is(buf.Err(), asm.ErrCapacity) {
		t.Fatalf("err=%v, want ErrCapacity", buf.Err())
	}
}
