package arm64

import (
	"fmt"
)

func checkRegs(regs ...Register) error {
	for _, r := range regs {
		if !r.valid() {
			return fmt.Errorf("arm64 asm: invalid register %d", r)
		}
	}
	return nil
}

// rrr packs the common Rm/Rn/Rd layout of data-processing instructions.
func rrr(op uint32, d, n, m Register) (uint32, error) {
	if err := checkRegs(d, n, m); err != nil {
		return 0, err
	}
	return op | uint32(m)<<16 | uint32(n)<<5 | uint32(d), nil
}

const (
	opAdd  = 0x8B000000
	opAdds = 0xAB000000
	opSub  = 0xCB000000
	opSubs = 0xEB000000
	opAnd  = 0x8A000000
	opAnds = 0xEA000000
	opOrr  = 0xAA000000
	opOrn  = 0xAA200000
	opEor  = 0xCA000000
	opMul  = 0x9B007C00
	opSmul = 0x9B407C00 // smulh
	opUmul = 0x9BC07C00 // umulh
	opSdiv = 0x9AC00C00
	opUdiv = 0x9AC00800
	opLslv = 0x9AC02000
	opLsrv = 0x9AC02400
	opAsrv = 0x9AC02800
)

func encodeAddSubImm(d, n Register, imm uint32, sub, setFlags, shift12 bool) (uint32, error) {
	if err := checkRegs(d, n); err != nil {
		return 0, err
	}
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: immediate out of range for ADD/SUB (%d)", imm)
	}
	w := uint32(0x91000000)
	if sub {
		w |= 1 << 30
	}
	if setFlags {
		w |= 1 << 29
	}
	if shift12 {
		w |= 1 << 22
	}
	return w | imm<<10 | uint32(n)<<5 | uint32(d), nil
}

// encodeMsub computes d = a - n*m.
func encodeMsub(d, n, m, a Register) (uint32, error) {
	if err := checkRegs(d, n, m, a); err != nil {
		return 0, err
	}
	return 0x9B008000 | uint32(m)<<16 | uint32(a)<<10 | uint32(n)<<5 | uint32(d), nil
}

func encodeMovWide(op uint32, d Register, imm uint16, shift uint32) (uint32, error) {
	if err := checkRegs(d); err != nil {
		return 0, err
	}
	if shift%16 != 0 || shift > 48 {
		return 0, fmt.Errorf("arm64 asm: invalid move-wide shift %d", shift)
	}
	return op | (shift/16)<<21 | uint32(imm)<<5 | uint32(d), nil
}

const (
	opMovn = 0x92800000
	opMovz = 0xD2800000
	opMovk = 0xF2800000
)

// encodeMovImm returns the shortest MOVZ/MOVN/MOVK sequence for imm.
func encodeMovImm(d Register, imm uint64) ([]uint32, error) {
	inv := ^imm
	for shift := uint32(0); shift < 64; shift += 16 {
		if inv&^(0xFFFF<<shift) == 0 {
			w, err := encodeMovWide(opMovn, d, uint16(inv>>shift), shift)
			return []uint32{w}, err
		}
	}
	var out []uint32
	for shift := uint32(0); shift < 64; shift += 16 {
		chunk := uint16(imm >> shift)
		if chunk == 0 {
			continue
		}
		op := uint32(opMovk)
		if len(out) == 0 {
			op = opMovz
		}
		w, err := encodeMovWide(op, d, chunk, shift)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		w, err := encodeMovWide(opMovz, d, 0, 0)
		return []uint32{w}, err
	}
	return out, nil
}

// encodeBitfield encodes SBFM/UBFM on 64-bit registers.
func encodeBitfield(signed bool, d, n Register, immr, imms uint32) (uint32, error) {
	if err := checkRegs(d, n); err != nil {
		return 0, err
	}
	if immr > 63 || imms > 63 {
		return 0, fmt.Errorf("arm64 asm: bitfield position out of range")
	}
	op := uint32(0xD3400000)
	if signed {
		op = 0x93400000
	}
	return op | immr<<16 | imms<<10 | uint32(n)<<5 | uint32(d), nil
}

func encodeExtend(d, n Register, from Width, signed bool) (uint32, error) {
	switch from {
	case W8, W16, W32:
		return encodeBitfield(signed, d, n, 0, uint32(from)*8-1)
	case W64:
		return rrr(opOrr, d, XZR, n)
	}
	return 0, fmt.Errorf("arm64 asm: unsupported extend width %d", from)
}

func encodeCsel(d, n, m Register, c Cond) (uint32, error) {
	if c > CondAL {
		return 0, fmt.Errorf("arm64 asm: invalid condition %d", c)
	}
	w, err := rrr(0x9A800000, d, n, m)
	return w | uint32(c)<<12, err
}

// encodeCset is CSINC d, xzr, xzr, !c.
func encodeCset(d Register, c Cond) (uint32, error) {
	if c >= CondAL {
		return 0, fmt.Errorf("arm64 asm: invalid condition %d for CSET", c)
	}
	w, err := rrr(0x9A800400, d, XZR, XZR)
	return w | uint32(c.Invert())<<12, err
}

type loadStoreOp struct {
	scaled   uint32
	unscaled uint32
}

// load/store opcodes indexed by access kind
var (
	opLdr64  = loadStoreOp{0xF9400000, 0xF8400000}
	opStr64  = loadStoreOp{0xF9000000, 0xF8000000}
	opLdr32  = loadStoreOp{0xB9400000, 0xB8400000}
	opLdrsw  = loadStoreOp{0xB9800000, 0xB8800000}
	opStr32  = loadStoreOp{0xB9000000, 0xB8000000}
	opLdrh   = loadStoreOp{0x79400000, 0x78400000}
	opLdrsh  = loadStoreOp{0x79800000, 0x78800000}
	opStrh   = loadStoreOp{0x79000000, 0x78000000}
	opLdrb   = loadStoreOp{0x39400000, 0x38400000}
	opLdrsb  = loadStoreOp{0x39800000, 0x38800000}
	opStrb   = loadStoreOp{0x39000000, 0x38000000}
	loadOps  = map[Width][2]loadStoreOp{W64: {opLdr64, opLdr64}, W32: {opLdr32, opLdrsw}, W16: {opLdrh, opLdrsh}, W8: {opLdrb, opLdrsb}}
	storeOps = map[Width]loadStoreOp{W64: opStr64, W32: opStr32, W16: opStrh, W8: opStrb}
)

// offsetEncodable reports whether [base+off] fits a single load or store of
// width w.
func offsetEncodable(off int64, w Width) bool {
	if off >= -256 && off <= 255 {
		return true
	}
	return off >= 0 && off%int64(w) == 0 && off/int64(w) <= 0xFFF
}

func encodeLoadStore(op loadStoreOp, t, base Register, off int64, w Width) (uint32, error) {
	if err := checkRegs(t, base); err != nil {
		return 0, err
	}
	if off >= 0 && off%int64(w) == 0 && off/int64(w) <= 0xFFF {
		return op.scaled | uint32(off/int64(w))<<10 | uint32(base)<<5 | uint32(t), nil
	}
	if off >= -256 && off <= 255 {
		return op.unscaled | (uint32(off)&0x1FF)<<12 | uint32(base)<<5 | uint32(t), nil
	}
	return 0, fmt.Errorf("arm64 asm: offset %d not encodable for %d-byte access", off, w)
}

func encodeLoad(t, base Register, off int64, w Width, signed bool) (uint32, error) {
	ops, ok := loadOps[w]
	if !ok {
		return 0, fmt.Errorf("arm64 asm: unsupported load width %d", w)
	}
	op := ops[0]
	if signed {
		op = ops[1]
	}
	return encodeLoadStore(op, t, base, off, w)
}

func encodeStore(t, base Register, off int64, w Width) (uint32, error) {
	op, ok := storeOps[w]
	if !ok {
		return 0, fmt.Errorf("arm64 asm: unsupported store width %d", w)
	}
	return encodeLoadStore(op, t, base, off, w)
}

// pair addressing modes
const (
	pairPost   = 0xA8800000
	pairPre    = 0xA9800000
	pairOffset = 0xA9000000
	pairLoad   = 1 << 22
)

func encodePair(mode uint32, load bool, t1, t2, base Register, off int64) (uint32, error) {
	if err := checkRegs(t1, t2, base); err != nil {
		return 0, err
	}
	if off%8 != 0 || off < -512 || off > 504 {
		return 0, fmt.Errorf("arm64 asm: pair offset %d out of range", off)
	}
	w := mode | (uint32(off/8)&0x7F)<<15 | uint32(t2)<<10 | uint32(base)<<5 | uint32(t1)
	if load {
		w |= pairLoad
	}
	return w, nil
}

func branchImm(rel int64, bits uint) (uint32, error) {
	if rel%4 != 0 {
		return 0, fmt.Errorf("arm64 asm: misaligned branch offset %d", rel)
	}
	words := rel / 4
	limit := int64(1) << (bits - 1)
	if words < -limit || words >= limit {
		return 0, fmt.Errorf("arm64 asm: branch offset %d out of range", rel)
	}
	return uint32(words) & (1<<bits - 1), nil
}

func encodeB(rel int64, link bool) (uint32, error) {
	imm, err := branchImm(rel, 26)
	if err != nil {
		return 0, err
	}
	if link {
		return 0x94000000 | imm, nil
	}
	return 0x14000000 | imm, nil
}

func encodeBCond(c Cond, rel int64) (uint32, error) {
	imm, err := branchImm(rel, 19)
	if err != nil {
		return 0, err
	}
	return 0x54000000 | imm<<5 | uint32(c), nil
}

func encodeCbz(t Register, rel int64, nonZero bool) (uint32, error) {
	if err := checkRegs(t); err != nil {
		return 0, err
	}
	imm, err := branchImm(rel, 19)
	if err != nil {
		return 0, err
	}
	op := uint32(0xB4000000)
	if nonZero {
		op = 0xB5000000
	}
	return op | imm<<5 | uint32(t), nil
}

func encodeBranchReg(op uint32, n Register) (uint32, error) {
	if err := checkRegs(n); err != nil {
		return 0, err
	}
	return op | uint32(n)<<5, nil
}

const (
	opBr  = 0xD61F0000
	opBlr = 0xD63F0000
)

// encodeAdr encodes ADR (page false) or ADRP (page true) with a byte or page
// delta.
func encodeAdr(d Register, delta int64, page bool) (uint32, error) {
	if err := checkRegs(d); err != nil {
		return 0, err
	}
	if delta < -(1<<20) || delta >= 1<<20 {
		return 0, fmt.Errorf("arm64 asm: ADR offset %d out of range", delta)
	}
	op := uint32(0x10000000)
	if page {
		op = 0x90000000
	}
	imm := uint32(delta) & 0x1FFFFF
	return op | (imm&3)<<29 | (imm>>2)<<5 | uint32(d), nil
}

func encodeExclusive(load bool, status, t, n Register) (uint32, error) {
	if err := checkRegs(status, t, n); err != nil {
		return 0, err
	}
	if load {
		return 0xC85FFC00 | uint32(n)<<5 | uint32(t), nil
	}
	return 0xC800FC00 | uint32(status)<<16 | uint32(n)<<5 | uint32(t), nil
}

const (
	opRet      = 0xD65F03C0
	opSvc0     = 0xD4000001
	opUdf0     = 0x00000000
	opDmbIsh   = 0xD5033BBF
	opMrsTimer = 0xD53BE040 // mrs xN, cntvct_el0
	opNop      = 0xD503201F
)
