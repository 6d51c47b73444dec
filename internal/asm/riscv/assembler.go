package riscv

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/tinyrange/seraph/internal/asm"
)

// FixupJal marks a JAL word whose target is a label.
const FixupJal asm.FixupKind = 1

// Assembler appends RV64IMA instructions to a Buffer. Scratch is clobbered
// when an immediate or offset does not fit a single instruction.
type Assembler struct {
	buf     *asm.Buffer
	scratch Register
}

func New(buf *asm.Buffer, scratch Register) *Assembler {
	return &Assembler{buf: buf, scratch: scratch}
}

func (a *Assembler) Buffer() *asm.Buffer { return a.buf }

func (a *Assembler) emit(w uint32, err error) { a.buf.EmitWord(w, err) }

func (a *Assembler) Mov(d, s Register) {
	if d == s {
		return
	}
	a.Addi(d, s, 0)
}

// MovImm materialises imm using LUI/ADDIW for 32-bit values and a
// shift-and-add chain above that.
func (a *Assembler) MovImm(d Register, imm uint64) {
	a.li(d, int64(imm))
}

func (a *Assembler) li(d Register, v int64) {
	if v == int64(int32(v)) {
		hi, lo := hiLo(v)
		if hi == 0 {
			a.Addi(d, Zero, lo)
			return
		}
		a.emit(encodeU(opLui, d, hi))
		if lo != 0 {
			a.emit(encodeI(opImm32, 0, d, d, lo))
		}
		return
	}
	lo := v << 52 >> 52
	hi := (v - lo) >> 12
	shift := 12
	tz := bits.TrailingZeros64(uint64(hi))
	hi >>= tz
	shift += tz
	a.li(d, hi)
	a.Slli(d, d, uint32(shift))
	if lo != 0 {
		a.Addi(d, d, lo)
	}
}

func (a *Assembler) Addi(d, s Register, imm int64) { a.emit(encodeI(opImm, 0, d, s, imm)) }
func (a *Assembler) Slti(d, s Register, imm int64) { a.emit(encodeI(opImm, 2, d, s, imm)) }
func (a *Assembler) Sltiu(d, s Register, imm int64) {
	a.emit(encodeI(opImm, 3, d, s, imm))
}
func (a *Assembler) Xori(d, s Register, imm int64) { a.emit(encodeI(opImm, 4, d, s, imm)) }
func (a *Assembler) Ori(d, s Register, imm int64) { a.emit(encodeI(opImm, 6, d, s, imm)) }
func (a *Assembler) Andi(d, s Register, imm int64) { a.emit(encodeI(opImm, 7, d, s, imm)) }

func (a *Assembler) Slli(d, s Register, n uint32) { a.emit(encodeShiftImm(0x00, 1, d, s, n)) }
func (a *Assembler) Srli(d, s Register, n uint32) { a.emit(encodeShiftImm(0x00, 5, d, s, n)) }
func (a *Assembler) Srai(d, s Register, n uint32) { a.emit(encodeShiftImm(0x10, 5, d, s, n)) }

// AddImm computes d = s + imm, going through scratch when imm needs more
// than 12 bits.
func (a *Assembler) AddImm(d, s Register, imm int64) {
	if fitsImm12(imm) {
		if imm != 0 || d != s {
			a.Addi(d, s, imm)
		}
		return
	}
	if s == a.scratch {
		a.buf.Fail(fmt.Errorf("riscv asm: large immediate with scratch register as source"))
		return
	}
	a.li(a.scratch, imm)
	a.Add(d, s, a.scratch)
}

func (a *Assembler) r(op rOp, d, s1, s2 Register) {
	a.emit(encodeR(op.funct7, op.funct3, d, s1, s2))
}

func (a *Assembler) Add(d, s1, s2 Register) { a.r(rAdd, d, s1, s2) }
func (a *Assembler) Sub(d, s1, s2 Register) { a.r(rSub, d, s1, s2) }
func (a *Assembler) Sll(d, s1, s2 Register) { a.r(rSll, d, s1, s2) }
func (a *Assembler) Slt(d, s1, s2 Register) { a.r(rSlt, d, s1, s2) }
func (a *Assembler) Sltu(d, s1, s2 Register) { a.r(rSltu, d, s1, s2) }
func (a *Assembler) Xor(d, s1, s2 Register) { a.r(rXor, d, s1, s2) }
func (a *Assembler) Srl(d, s1, s2 Register) { a.r(rSrl, d, s1, s2) }
func (a *Assembler) Sra(d, s1, s2 Register) { a.r(rSra, d, s1, s2) }
func (a *Assembler) Or(d, s1, s2 Register) { a.r(rOr, d, s1, s2) }
func (a *Assembler) And(d, s1, s2 Register) { a.r(rAnd, d, s1, s2) }
func (a *Assembler) Mul(d, s1, s2 Register) { a.r(rMul, d, s1, s2) }
func (a *Assembler) Mulh(d, s1, s2 Register) { a.r(rMulh, d, s1, s2) }
func (a *Assembler) Mulhu(d, s1, s2 Register) { a.r(rMulhu, d, s1, s2) }
func (a *Assembler) Div(d, s1, s2 Register) { a.r(rDiv, d, s1, s2) }
func (a *Assembler) Divu(d, s1, s2 Register) { a.r(rDivu, d, s1, s2) }
func (a *Assembler) Rem(d, s1, s2 Register) { a.r(rRem, d, s1, s2) }
func (a *Assembler) Remu(d, s1, s2 Register) { a.r(rRemu, d, s1, s2) }

func (a *Assembler) Neg(d, s Register) { a.Sub(d, Zero, s) }
func (a *Assembler) Not(d, s Register) { a.Xori(d, s, -1) }
func (a *Assembler) Seqz(d, s Register) { a.Sltiu(d, s, 1) }
func (a *Assembler) Snez(d, s Register) { a.Sltu(d, Zero, s) }

// Extend sign or zero extends the low w bytes of s into d.
func (a *Assembler) Extend(d, s Register, w Width, signed bool) {
	if w == W64 {
		a.Mov(d, s)
		return
	}
	n := uint32(64 - 8*int(w))
	a.Slli(d, s, n)
	if signed {
		a.Srai(d, d, n)
	} else {
		a.Srli(d, d, n)
	}
}

// Load reads w bytes at base+off into t, extending to 64 bits.
func (a *Assembler) Load(t, base Register, off int64, w Width, signed bool) {
	f3, ok := loadFunct3[w]
	if !ok {
		a.buf.Fail(fmt.Errorf("riscv asm: unsupported load width %d", w))
		return
	}
	funct3 := f3[0]
	if signed {
		funct3 = f3[1]
	}
	if !fitsImm12(off) {
		if !a.indexScratch(base, off) {
			return
		}
		base, off = a.scratch, 0
	}
	a.emit(encodeI(opLoad, funct3, t, base, off))
}

// Store writes the low w bytes of t to base+off.
func (a *Assembler) Store(t, base Register, off int64, w Width) {
	funct3, ok := storeFunct3[w]
	if !ok {
		a.buf.Fail(fmt.Errorf("riscv asm: unsupported store width %d", w))
		return
	}
	if !fitsImm12(off) {
		if t == a.scratch {
			a.buf.Fail(fmt.Errorf("riscv asm: store of scratch register to far offset"))
			return
		}
		if !a.indexScratch(base, off) {
			return
		}
		base, off = a.scratch, 0
	}
	a.emit(encodeS(funct3, base, t, off))
}

func (a *Assembler) indexScratch(base Register, off int64) bool {
	if base == a.scratch {
		a.buf.Fail(fmt.Errorf("riscv asm: far offset from scratch register"))
		return false
	}
	a.AddImm(a.scratch, base, off)
	return true
}

// Branch jumps to l when c holds for s1 and s2. It is emitted as the inverted
// short branch over a JAL so the target may be up to 1MiB away.
func (a *Assembler) Branch(c Cond, s1, s2 Register, l asm.Label) {
	a.emit(encodeB(c.Invert(), s1, s2, 8))
	a.J(l)
}

func (a *Assembler) Beqz(s Register, l asm.Label) { a.Branch(CondEQ, s, Zero, l) }
func (a *Assembler) Bnez(s Register, l asm.Label) { a.Branch(CondNE, s, Zero, l) }

// J is JAL x0 to a label.
func (a *Assembler) J(l asm.Label) {
	a.buf.AddFixup(a.buf.Len(), l, FixupJal)
	a.emit(encodeJal(Zero, 0))
}

// CallRel emits JAL ra with a zero offset and returns its position.
func (a *Assembler) CallRel() int {
	site := a.buf.Len()
	a.emit(encodeJal(RA, 0))
	return site
}

// JRel emits JAL x0 with a zero offset and returns its position.
func (a *Assembler) JRel() int {
	site := a.buf.Len()
	a.emit(encodeJal(Zero, 0))
	return site
}

func (a *Assembler) CallReg(s Register) { a.emit(encodeI(opJalr, 0, RA, s, 0)) }
func (a *Assembler) JumpReg(s Register) { a.emit(encodeI(opJalr, 0, Zero, s, 0)) }
func (a *Assembler) Ret() { a.JumpReg(RA) }

// AuipcAddiRel emits AUIPC d; ADDI d, d, 0 and returns the position of the
// AUIPC.
func (a *Assembler) AuipcAddiRel(d Register) int {
	site := a.buf.Len()
	a.emit(encodeU(opAuipc, d, 0))
	a.Addi(d, d, 0)
	return site
}

// AmoAdd atomically adds s to the doubleword at addr, leaving the old value
// in d.
func (a *Assembler) AmoAdd(d, addr, s Register) { a.emit(encodeAmoAdd(d, addr, s)) }

func (a *Assembler) ReadTimer(d Register) {
	if err := checkRegs(d); err != nil {
		a.buf.Fail(err)
		return
	}
	a.buf.Emit32(insnRdtime | uint32(d)<<7)
}

func (a *Assembler) Ecall() { a.buf.Emit32(insnEcall) }
func (a *Assembler) Unimp() { a.buf.Emit32(insnUnimp) }
func (a *Assembler) Fence() { a.buf.Emit32(insnFenceRW) }
func (a *Assembler) Nop() { a.buf.Emit32(insnNop) }

// PatchJal points the JAL word at site to target.
func PatchJal(code []byte, site, target int) error {
	imm, err := jalImm(int64(target - site))
	if err != nil {
		return err
	}
	w := binary.LittleEndian.Uint32(code[site:])
	binary.LittleEndian.PutUint32(code[site:], w&0xFFF|imm)
	return nil
}

// Patch resolves fixups recorded by an Assembler.
func Patch(code []byte, f asm.Fixup, target int) error {
	if f.Kind != FixupJal {
		return fmt.Errorf("riscv asm: unknown fixup kind %d", f.Kind)
	}
	return PatchJal(code, f.Site, target)
}

func patchPair(code []byte, site int, delta int64) error {
	if delta != int64(int32(delta)) {
		return fmt.Errorf("riscv asm: pc-relative offset %d out of range", delta)
	}
	hi, lo := hiLo(delta)
	auipc := binary.LittleEndian.Uint32(code[site:])
	addi := binary.LittleEndian.Uint32(code[site+4:])
	binary.LittleEndian.PutUint32(code[site:], auipc&0xFFF|hi<<12)
	binary.LittleEndian.PutUint32(code[site+4:], addi&0xFFFFF|(uint32(lo)&0xFFF)<<20)
	return nil
}

// PatchPCRel completes an AUIPC/ADDI pair at site so that it computes the
// address of target within the same code buffer.
func PatchPCRel(code []byte, site, target int) error {
	return patchPair(code, site, int64(target-site))
}

// PatchAddress completes an AUIPC/ADDI pair at site, located at siteAddr, so
// that it materialises targetAddr.
func PatchAddress(code []byte, site int, siteAddr, targetAddr uint64) error {
	return patchPair(code, site, int64(targetAddr-siteAddr))
}
