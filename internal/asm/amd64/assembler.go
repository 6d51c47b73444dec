package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/seraph/internal/asm"
)

// FixupRel32 marks a 32-bit displacement measured from the end of the field.
const FixupRel32 asm.FixupKind = 1

// Assembler appends x86-64 instructions to a Buffer. Encoding errors are
// recorded in the buffer.
type Assembler struct {
	buf *asm.Buffer
}

func New(buf *asm.Buffer) *Assembler { return &Assembler{buf: buf} }

func (a *Assembler) Buffer() *asm.Buffer { return a.buf }

func (a *Assembler) emit(p []byte, err error) { a.buf.EmitResult(p, err) }

func (a *Assembler) Mov(dst, src Register) {
	if dst == src {
		return
	}
	a.emit(encodeMovRegReg(dst, src, W64))
}

func (a *Assembler) Mov32(dst, src Register) { a.emit(encodeMovRegReg(dst, src, W32)) }

func (a *Assembler) MovImm(dst Register, imm uint64) { a.emit(encodeMovRegImm(dst, imm)) }

func (a *Assembler) Load(dst Register, m Memory, w Width, signed bool) {
	a.emit(encodeLoad(dst, m, w, signed))
}

func (a *Assembler) Store(m Memory, src Register, w Width) { a.emit(encodeStore(m, src, w)) }

func (a *Assembler) Lea(dst Register, m Memory) { a.emit(encodeLea(dst, m)) }

// LeaRIP emits lea dst, [rip+0] and returns the offset of its displacement.
func (a *Assembler) LeaRIP(dst Register) int {
	p, err := encodeLea(dst, RIP(0))
	a.emit(p, err)
	return a.buf.Len() - 4
}

func (a *Assembler) ALU(op ALUOp, dst, src Register) { a.emit(encodeALURegReg(op, dst, src)) }

func (a *Assembler) ALUImm(op ALUOp, dst Register, imm int32) {
	a.emit(encodeALURegImm(op, dst, imm))
}

func (a *Assembler) Test(x, y Register) { a.emit(encodeTestRegReg(x, y)) }

func (a *Assembler) Imul(dst, src Register) { a.emit(encodeImulRegReg(dst, src)) }

// Mul computes rdx:rax = rax * src unsigned.
func (a *Assembler) Mul(src Register) { a.emit(encodeGroup3(groupMul, src)) }

// ImulWide computes rdx:rax = rax * src signed.
func (a *Assembler) ImulWide(src Register) { a.emit(encodeGroup3(groupImul, src)) }

// Div divides rdx:rax by src unsigned.
func (a *Assembler) Div(src Register) { a.emit(encodeGroup3(groupDiv, src)) }

// Idiv divides rdx:rax by src signed.
func (a *Assembler) Idiv(src Register) { a.emit(encodeGroup3(groupIdiv, src)) }

func (a *Assembler) Neg(r Register) { a.emit(encodeGroup3(groupNeg, r)) }

func (a *Assembler) Not(r Register) { a.emit(encodeGroup3(groupNot, r)) }

func (a *Assembler) Cqo() { a.buf.Emit(opCqo...) }

func (a *Assembler) ShiftCL(op ShiftOp, r Register) { a.emit(encodeShiftCL(op, r)) }

func (a *Assembler) ShiftImm(op ShiftOp, r Register, n uint8) { a.emit(encodeShiftImm(op, r, n)) }

func (a *Assembler) SignExtend(dst, src Register, from Width) {
	a.emit(encodeSignExtend(dst, src, from))
}

func (a *Assembler) ZeroExtend(dst, src Register, from Width) {
	a.emit(encodeZeroExtend(dst, src, from))
}

func (a *Assembler) Setcc(c Cond, dst Register) { a.emit(encodeSetcc(c, dst)) }

func (a *Assembler) Cmov(c Cond, dst, src Register) { a.emit(encodeCmov(c, dst, src)) }

// Jcc branches to l when c holds.
func (a *Assembler) Jcc(c Cond, l asm.Label) {
	p, err := encodeJcc(c, 0)
	a.emit(p, err)
	a.buf.AddFixup(a.buf.Len()-4, l, FixupRel32)
}

func (a *Assembler) Jmp(l asm.Label) {
	a.buf.Emit(encodeJmpRel(0)...)
	a.buf.AddFixup(a.buf.Len()-4, l, FixupRel32)
}

// CallRel emits call rel32 with a zero displacement and returns the offset of
// the displacement field.
func (a *Assembler) CallRel() int {
	a.buf.Emit(encodeCallRel(0)...)
	return a.buf.Len() - 4
}

// JmpRel emits jmp rel32 with a zero displacement and returns the offset of
// the displacement field.
func (a *Assembler) JmpRel() int {
	a.buf.Emit(encodeJmpRel(0)...)
	return a.buf.Len() - 4
}

func (a *Assembler) CallReg(r Register) { a.emit(encodeCallReg(r)) }

func (a *Assembler) JmpReg(r Register) { a.emit(encodeJmpReg(r)) }

func (a *Assembler) Push(r Register) { a.emit(encodePush(r)) }

func (a *Assembler) Pop(r Register) { a.emit(encodePop(r)) }

func (a *Assembler) LockInc(m Memory) { a.emit(encodeLockIncMem(m)) }

func (a *Assembler) Ret() { a.buf.Emit(opRet...) }
func (a *Assembler) Syscall() { a.buf.Emit(opSyscall...) }
func (a *Assembler) UD2() { a.buf.Emit(opUD2...) }
func (a *Assembler) Rdtsc() { a.buf.Emit(opRdtsc...) }
func (a *Assembler) RepMovsb() { a.buf.Emit(opRepMovsb...) }
func (a *Assembler) RepStosb() { a.buf.Emit(opRepStosb...) }
func (a *Assembler) Nop() { a.buf.Emit(opNop...) }

// PatchRel32 stores target-(site+4) into the displacement field at site.
func PatchRel32(code []byte, site, target int) error {
	if site < 0 || site+4 > len(code) {
		return fmt.Errorf("amd64 asm: displacement at %#x outside code", site)
	}
	rel := int64(target) - int64(site+4)
	if !fitsInt32(rel) {
		return fmt.Errorf("amd64 asm: displacement %d out of rel32 range", rel)
	}
	binary.LittleEndian.PutUint32(code[site:], uint32(int32(rel)))
	return nil
}

// Patch resolves fixups recorded by an Assembler.
func Patch(code []byte, f asm.Fixup, target int) error {
	if f.Kind != FixupRel32 {
		return fmt.Errorf("amd64 asm: unknown fixup kind %d", f.Kind)
	}
	return PatchRel32(code, f.Site, target)
}

// PatchAddress stores a rel32 for a reference whose field lives at code
// address siteAddr and whose target lives at targetAddr.
func PatchAddress(code []byte, site int, siteAddr, targetAddr uint64) error {
	rel := int64(targetAddr) - int64(siteAddr+4)
	if !fitsInt32(rel) {
		return fmt.Errorf("amd64 asm: address %#x not reachable from %#x", targetAddr, siteAddr)
	}
	binary.LittleEndian.PutUint32(code[site:], uint32(int32(rel)))
	return nil
}
