package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/seraph/internal/asm"
)

const (
	// FixupBranch26 marks a B or BL word.
	FixupBranch26 asm.FixupKind = iota + 1
	// FixupBranch19 marks a B.cond, CBZ or CBNZ word.
	FixupBranch19
)

// Assembler appends AArch64 instructions to a Buffer. Scratch is clobbered
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

// Mov copies n to d. Either may be SP; register 31 is never read as XZR.
func (a *Assembler) Mov(d, n Register) {
	if d == n {
		return
	}
	if d == SP || n == SP {
		a.emit(encodeAddSubImm(d, n, 0, false, false, false))
		return
	}
	a.emit(rrr(opOrr, d, XZR, n))
}

func (a *Assembler) MovImm(d Register, imm uint64) {
	words, err := encodeMovImm(d, imm)
	if err != nil {
		a.buf.Fail(err)
		return
	}
	for _, w := range words {
		a.buf.Emit32(w)
	}
}

// AddImm computes d = n + imm for any imm below 2^24 in magnitude, falling
// back to the scratch register beyond that.
func (a *Assembler) AddImm(d, n Register, imm int64) {
	sub := imm < 0
	mag := imm
	if sub {
		mag = -imm
	}
	switch {
	case mag <= 0xFFF:
		a.emit(encodeAddSubImm(d, n, uint32(mag), sub, false, false))
	case mag <= 0xFFFFFF:
		a.emit(encodeAddSubImm(d, n, uint32(mag>>12), sub, false, true))
		if low := uint32(mag & 0xFFF); low != 0 {
			a.emit(encodeAddSubImm(d, d, low, sub, false, false))
		}
	default:
		if n == a.scratch {
			a.buf.Fail(fmt.Errorf("arm64 asm: large immediate with scratch register as source"))
			return
		}
		a.MovImm(a.scratch, uint64(imm))
		if n == SP || d == SP {
			// extended-register form accepts SP
			a.emit(rrr(0x8B206000, d, n, a.scratch))
			return
		}
		a.emit(rrr(opAdd, d, n, a.scratch))
	}
}

func (a *Assembler) Add(d, n, m Register) { a.emit(rrr(opAdd, d, n, m)) }
func (a *Assembler) Adds(d, n, m Register) { a.emit(rrr(opAdds, d, n, m)) }
func (a *Assembler) Sub(d, n, m Register) { a.emit(rrr(opSub, d, n, m)) }
func (a *Assembler) Subs(d, n, m Register) { a.emit(rrr(opSubs, d, n, m)) }
func (a *Assembler) And(d, n, m Register) { a.emit(rrr(opAnd, d, n, m)) }
func (a *Assembler) Orr(d, n, m Register) { a.emit(rrr(opOrr, d, n, m)) }
func (a *Assembler) Eor(d, n, m Register) { a.emit(rrr(opEor, d, n, m)) }
func (a *Assembler) Mvn(d, m Register) { a.emit(rrr(opOrn, d, XZR, m)) }
func (a *Assembler) Neg(d, m Register) { a.emit(rrr(opSub, d, XZR, m)) }
func (a *Assembler) Mul(d, n, m Register) { a.emit(rrr(opMul, d, n, m)) }
func (a *Assembler) Smulh(d, n, m Register) {
	a.emit(rrr(opSmul, d, n, m))
}
func (a *Assembler) Umulh(d, n, m Register) {
	a.emit(rrr(opUmul, d, n, m))
}
func (a *Assembler) Sdiv(d, n, m Register) { a.emit(rrr(opSdiv, d, n, m)) }
func (a *Assembler) Udiv(d, n, m Register) { a.emit(rrr(opUdiv, d, n, m)) }
func (a *Assembler) Lslv(d, n, m Register) { a.emit(rrr(opLslv, d, n, m)) }
func (a *Assembler) Lsrv(d, n, m Register) { a.emit(rrr(opLsrv, d, n, m)) }
func (a *Assembler) Asrv(d, n, m Register) { a.emit(rrr(opAsrv, d, n, m)) }

// Msub computes d = acc - n*m.
func (a *Assembler) Msub(d, n, m, acc Register) { a.emit(encodeMsub(d, n, m, acc)) }

func (a *Assembler) Cmp(n, m Register) { a.emit(rrr(opSubs, XZR, n, m)) }

func (a *Assembler) CmpImm(n Register, imm uint32) {
	a.emit(encodeAddSubImm(XZR, n, imm, true, true, false))
}

// CmnImm compares n against -imm.
func (a *Assembler) CmnImm(n Register, imm uint32) {
	a.emit(encodeAddSubImm(XZR, n, imm, false, true, false))
}

func (a *Assembler) Tst(n, m Register) { a.emit(rrr(opAnds, XZR, n, m)) }

func (a *Assembler) Lsr(d, n Register, shift uint32) {
	a.emit(encodeBitfield(false, d, n, shift&63, 63))
}

// Asr shifts n right arithmetically by a constant.
func (a *Assembler) Asr(d, n Register, shift uint32) {
	a.emit(encodeBitfield(true, d, n, shift&63, 63))
}

func (a *Assembler) Lsl(d, n Register, shift uint32) {
	a.emit(encodeBitfield(false, d, n, (64-shift)&63, 63-shift&63))
}

func (a *Assembler) Extend(d, n Register, from Width, signed bool) {
	a.emit(encodeExtend(d, n, from, signed))
}

func (a *Assembler) Cset(d Register, c Cond) { a.emit(encodeCset(d, c)) }

func (a *Assembler) Csel(d, n, m Register, c Cond) { a.emit(encodeCsel(d, n, m, c)) }

// Load reads w bytes at base+off into t, extending to 64 bits.
func (a *Assembler) Load(t, base Register, off int64, w Width, signed bool) {
	if offsetEncodable(off, w) {
		a.emit(encodeLoad(t, base, off, w, signed))
		return
	}
	if a.indexScratch(base, off) {
		a.emit(encodeLoad(t, a.scratch, 0, w, signed))
	}
}

// Store writes the low w bytes of t to base+off.
func (a *Assembler) Store(t, base Register, off int64, w Width) {
	if offsetEncodable(off, w) {
		a.emit(encodeStore(t, base, off, w))
		return
	}
	if t == a.scratch {
		a.buf.Fail(fmt.Errorf("arm64 asm: store of scratch register to far offset"))
		return
	}
	if a.indexScratch(base, off) {
		a.emit(encodeStore(t, a.scratch, 0, w))
	}
}

func (a *Assembler) indexScratch(base Register, off int64) bool {
	if base == a.scratch {
		a.buf.Fail(fmt.Errorf("arm64 asm: far offset from scratch register"))
		return false
	}
	a.AddImm(a.scratch, base, off)
	return true
}

// StorePairPre stores t1, t2 at base+off and writes the address back first.
func (a *Assembler) StorePairPre(t1, t2, base Register, off int64) {
	a.emit(encodePair(pairPre, false, t1, t2, base, off))
}

// LoadPairPost loads t1, t2 from base then adds off to base.
func (a *Assembler) LoadPairPost(t1, t2, base Register, off int64) {
	a.emit(encodePair(pairPost, true, t1, t2, base, off))
}

func (a *Assembler) StorePair(t1, t2, base Register, off int64) {
	a.emit(encodePair(pairOffset, false, t1, t2, base, off))
}

func (a *Assembler) LoadPair(t1, t2, base Register, off int64) {
	a.emit(encodePair(pairOffset, true, t1, t2, base, off))
}

func (a *Assembler) B(l asm.Label) {
	a.buf.AddFixup(a.buf.Len(), l, FixupBranch26)
	a.buf.Emit32(0x14000000)
}

func (a *Assembler) BCond(c Cond, l asm.Label) {
	a.buf.AddFixup(a.buf.Len(), l, FixupBranch19)
	a.emit(encodeBCond(c, 0))
}

func (a *Assembler) Cbz(t Register, l asm.Label) {
	a.buf.AddFixup(a.buf.Len(), l, FixupBranch19)
	a.emit(encodeCbz(t, 0, false))
}

func (a *Assembler) Cbnz(t Register, l asm.Label) {
	a.buf.AddFixup(a.buf.Len(), l, FixupBranch19)
	a.emit(encodeCbz(t, 0, true))
}

// BLRel emits BL with a zero offset and returns its position.
func (a *Assembler) BLRel() int {
	site := a.buf.Len()
	a.buf.Emit32(0x94000000)
	return site
}

// BRel emits B with a zero offset and returns its position.
func (a *Assembler) BRel() int {
	site := a.buf.Len()
	a.buf.Emit32(0x14000000)
	return site
}

func (a *Assembler) Blr(n Register) { a.emit(encodeBranchReg(opBlr, n)) }
func (a *Assembler) Br(n Register) { a.emit(encodeBranchReg(opBr, n)) }

// AdrRel emits ADR d with a zero offset and returns its position.
func (a *Assembler) AdrRel(d Register) int {
	site := a.buf.Len()
	a.emit(encodeAdr(d, 0, false))
	return site
}

// AdrpAddRel emits ADRP d; ADD d, d, #0 and returns the position of the ADRP.
func (a *Assembler) AdrpAddRel(d Register) int {
	site := a.buf.Len()
	a.emit(encodeAdr(d, 0, true))
	a.emit(encodeAddSubImm(d, d, 0, false, false, false))
	return site
}

// LoadExclusive is LDAXR t, [n].
func (a *Assembler) LoadExclusive(t, n Register) { a.emit(encodeExclusive(true, XZR, t, n)) }

// StoreExclusive is STLXR status, t, [n].
func (a *Assembler) StoreExclusive(status, t, n Register) {
	a.emit(encodeExclusive(false, status, t, n))
}

func (a *Assembler) ReadTimer(d Register) {
	if err := checkRegs(d); err != nil {
		a.buf.Fail(err)
		return
	}
	a.buf.Emit32(opMrsTimer | uint32(d))
}

func (a *Assembler) Ret() { a.buf.Emit32(opRet) }
func (a *Assembler) Svc() { a.buf.Emit32(opSvc0) }
func (a *Assembler) Udf() { a.buf.Emit32(opUdf0) }
func (a *Assembler) DmbIsh() { a.buf.Emit32(opDmbIsh) }
func (a *Assembler) Nop() { a.buf.Emit32(opNop) }

func patchWord(code []byte, site int, mask uint32, shift uint, imm uint32) {
	w := binary.LittleEndian.Uint32(code[site:])
	w = w&^(mask<<shift) | (imm&mask)<<shift
	binary.LittleEndian.PutUint32(code[site:], w)
}

// PatchBranch points the B/BL word at site to target.
func PatchBranch(code []byte, site, target int) error {
	imm, err := branchImm(int64(target-site), 26)
	if err != nil {
		return err
	}
	patchWord(code, site, 0x3FFFFFF, 0, imm)
	return nil
}

// PatchAdr points the ADR word at site to target.
func PatchAdr(code []byte, site, target int) error {
	w, err := encodeAdr(Register(binary.LittleEndian.Uint32(code[site:])&31), int64(target-site), false)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(code[site:], w)
	return nil
}

// Patch resolves fixups recorded by an Assembler.
func Patch(code []byte, f asm.Fixup, target int) error {
	switch f.Kind {
	case FixupBranch26:
		return PatchBranch(code, f.Site, target)
	case FixupBranch19:
		imm, err := branchImm(int64(target-f.Site), 19)
		if err != nil {
			return err
		}
		patchWord(code, f.Site, 0x7FFFF, 5, imm)
		return nil
	}
	return fmt.Errorf("arm64 asm: unknown fixup kind %d", f.Kind)
}

// PatchAddress completes an ADRP/ADD pair at site, located at siteAddr, so
// that it materialises targetAddr.
func PatchAddress(code []byte, site int, siteAddr, targetAddr uint64) error {
	d := Register(binary.LittleEndian.Uint32(code[site:]) & 31)
	pages := int64(targetAddr>>12) - int64(siteAddr>>12)
	adrp, err := encodeAdr(d, pages, true)
	if err != nil {
		return err
	}
	add, err := encodeAddSubImm(d, d, uint32(targetAddr&0xFFF), false, false, false)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(code[site:], adrp)
	binary.LittleEndian.PutUint32(code[site+4:], add)
	return nil
}
