package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

// needsByteREX reports whether the low byte of r is only addressable with a
// REX prefix present (spl, bpl, sil, dil).
func needsByteREX(r Register) bool {
	return r >= RSP && r <= RDI
}

func le32(v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return buf[:]
}

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func checkRegs(regs ...Register) error {
	for _, r := range regs {
		if !r.valid() {
			return fmt.Errorf("amd64 asm: invalid register %d", r)
		}
	}
	return nil
}

// encodeRR emits prefix REX opcode ModRM for the register-direct form with
// reg in ModRM.reg and rm in ModRM.rm.
func encodeRR(prefix []byte, w bool, opcode []byte, reg, rm Register, byteRegs bool) ([]byte, error) {
	if err := checkRegs(reg, rm); err != nil {
		return nil, err
	}
	rex := rexState{w: w, r: reg.high(), b: rm.high()}
	if byteRegs {
		rex.force = needsByteREX(reg) || needsByteREX(rm)
	}
	out := append([]byte{}, prefix...)
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	return append(out, 0xC0|reg.low()<<3|rm.low()), nil
}

// encodeExt emits the register-direct form of an opcode that uses
// ModRM.reg as an opcode extension.
func encodeExt(prefix []byte, w bool, opcode []byte, digit byte, rm Register, byteRM bool) ([]byte, error) {
	if err := checkRegs(rm); err != nil {
		return nil, err
	}
	rex := rexState{w: w, b: rm.high(), force: byteRM && needsByteREX(rm)}
	out := append([]byte{}, prefix...)
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	return append(out, 0xC0|digit<<3|rm.low()), nil
}

var scaleBits = map[uint8]byte{1: 0, 2: 1, 4: 2, 8: 3}

// encodeRM emits the memory form with reg (or an opcode extension below 8)
// in ModRM.reg. Displacement bytes are always the last bytes produced.
func encodeRM(prefix []byte, w bool, opcode []byte, reg Register, m Memory, byteReg bool) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := checkRegs(reg); err != nil {
		return nil, err
	}
	rex := rexState{w: w, r: reg.high(), force: byteReg && needsByteREX(reg)}

	var modrm byte
	var sib, disp []byte
	if m.rip {
		modrm = 0x05 | reg.low()<<3
		disp = le32(m.disp)
	} else {
		rex.b = m.base.high()
		base := m.base.low()
		var mod byte
		switch {
		case m.disp == 0 && base != 5:
			mod = 0x00
		case fitsInt8(int64(m.disp)):
			mod = 0x40
			disp = []byte{byte(int8(m.disp))}
		default:
			mod = 0x80
			disp = le32(m.disp)
		}
		rm := base
		if m.hasIndex || base == 4 {
			rm = 4
			idx := byte(4)
			if m.hasIndex {
				idx = m.index.low()
				rex.x = m.index.high()
			}
			sib = []byte{scaleBits[m.scale]<<6 | idx<<3 | base}
		}
		modrm = mod | reg.low()<<3 | rm
	}

	out := append([]byte{}, prefix...)
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	out = append(out, modrm)
	out = append(out, sib...)
	return append(out, disp...), nil
}

func encodeMovRegReg(dst, src Register, w Width) ([]byte, error) {
	switch w {
	case W64:
		return encodeRR(nil, true, []byte{0x89}, src, dst, false)
	case W32:
		return encodeRR(nil, false, []byte{0x89}, src, dst, false)
	}
	return nil, fmt.Errorf("amd64 asm: unsupported register move width %d", w)
}

// encodeMovRegImm picks the shortest form that leaves the full 64-bit
// register equal to imm.
func encodeMovRegImm(dst Register, imm uint64) ([]byte, error) {
	if err := checkRegs(dst); err != nil {
		return nil, err
	}
	rex := rexState{b: dst.high()}
	var out []byte
	switch {
	case imm <= math.MaxUint32:
		if p := rex.prefix(); p != 0 {
			out = append(out, p)
		}
		out = append(out, 0xB8+dst.low())
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(imm))
		return append(out, buf[:]...), nil
	case fitsInt32(int64(imm)):
		rex.w = true
		out = append(out, rex.prefix(), 0xC7, 0xC0|dst.low())
		return append(out, le32(int32(int64(imm)))...), nil
	default:
		rex.w = true
		out = append(out, rex.prefix(), 0xB8+dst.low())
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], imm)
		return append(out, buf[:]...), nil
	}
}

// encodeLoad reads w bytes at m into dst, extending to 64 bits.
func encodeLoad(dst Register, m Memory, w Width, signed bool) ([]byte, error) {
	switch {
	case w == W64:
		return encodeRM(nil, true, []byte{0x8B}, dst, m, false)
	case w == W32 && signed:
		return encodeRM(nil, true, []byte{0x63}, dst, m, false)
	case w == W32:
		return encodeRM(nil, false, []byte{0x8B}, dst, m, false)
	case w == W16 && signed:
		return encodeRM(nil, true, []byte{0x0F, 0xBF}, dst, m, false)
	case w == W16:
		return encodeRM(nil, false, []byte{0x0F, 0xB7}, dst, m, false)
	case w == W8 && signed:
		return encodeRM(nil, true, []byte{0x0F, 0xBE}, dst, m, false)
	case w == W8:
		return encodeRM(nil, false, []byte{0x0F, 0xB6}, dst, m, false)
	}
	return nil, fmt.Errorf("amd64 asm: unsupported load width %d", w)
}

// encodeStore writes the low w bytes of src to m.
func encodeStore(m Memory, src Register, w Width) ([]byte, error) {
	switch w {
	case W64:
		return encodeRM(nil, true, []byte{0x89}, src, m, false)
	case W32:
		return encodeRM(nil, false, []byte{0x89}, src, m, false)
	case W16:
		return encodeRM([]byte{0x66}, false, []byte{0x89}, src, m, false)
	case W8:
		return encodeRM(nil, false, []byte{0x88}, src, m, true)
	}
	return nil, fmt.Errorf("amd64 asm: unsupported store width %d", w)
}

func encodeLea(dst Register, m Memory) ([]byte, error) {
	return encodeRM(nil, true, []byte{0x8D}, dst, m, false)
}

func encodeALURegReg(op ALUOp, dst, src Register) ([]byte, error) {
	if op > ALUCmp {
		return nil, fmt.Errorf("amd64 asm: invalid ALU op %d", op)
	}
	return encodeRR(nil, true, []byte{byte(op)<<3 | 0x01}, src, dst, false)
}

func encodeALURegImm(op ALUOp, dst Register, imm int32) ([]byte, error) {
	if op > ALUCmp {
		return nil, fmt.Errorf("amd64 asm: invalid ALU op %d", op)
	}
	if fitsInt8(int64(imm)) {
		out, err := encodeExt(nil, true, []byte{0x83}, byte(op), dst, false)
		if err != nil {
			return nil, err
		}
		return append(out, byte(int8(imm))), nil
	}
	out, err := encodeExt(nil, true, []byte{0x81}, byte(op), dst, false)
	if err != nil {
		return nil, err
	}
	return append(out, le32(imm)...), nil
}

func encodeTestRegReg(a, b Register) ([]byte, error) {
	return encodeRR(nil, true, []byte{0x85}, b, a, false)
}

// encodeImulRegReg is the two-operand signed multiply dst *= src.
func encodeImulRegReg(dst, src Register) ([]byte, error) {
	return encodeRR(nil, true, []byte{0x0F, 0xAF}, dst, src, false)
}

// unary F7 group extensions
const (
	groupNot  = 2
	groupNeg  = 3
	groupMul  = 4
	groupImul = 5
	groupDiv  = 6
	groupIdiv = 7
)

func encodeGroup3(digit byte, r Register) ([]byte, error) {
	return encodeExt(nil, true, []byte{0xF7}, digit, r, false)
}

func encodeShiftCL(op ShiftOp, r Register) ([]byte, error) {
	return encodeExt(nil, true, []byte{0xD3}, byte(op), r, false)
}

func encodeShiftImm(op ShiftOp, r Register, n uint8) ([]byte, error) {
	if n > 63 {
		return nil, fmt.Errorf("amd64 asm: shift count %d out of range", n)
	}
	out, err := encodeExt(nil, true, []byte{0xC1}, byte(op), r, false)
	if err != nil {
		return nil, err
	}
	return append(out, n), nil
}

// encodeSignExtend sign-extends the low from bytes of src into dst.
func encodeSignExtend(dst, src Register, from Width) ([]byte, error) {
	switch from {
	case W8:
		return encodeRR(nil, true, []byte{0x0F, 0xBE}, dst, src, true)
	case W16:
		return encodeRR(nil, true, []byte{0x0F, 0xBF}, dst, src, false)
	case W32:
		return encodeRR(nil, true, []byte{0x63}, dst, src, false)
	case W64:
		return encodeMovRegReg(dst, src, W64)
	}
	return nil, fmt.Errorf("amd64 asm: unsupported sign-extend width %d", from)
}

// encodeZeroExtend zero-extends the low from bytes of src into dst.
func encodeZeroExtend(dst, src Register, from Width) ([]byte, error) {
	switch from {
	case W8:
		return encodeRR(nil, false, []byte{0x0F, 0xB6}, dst, src, true)
	case W16:
		return encodeRR(nil, false, []byte{0x0F, 0xB7}, dst, src, false)
	case W32:
		return encodeMovRegReg(dst, src, W32)
	case W64:
		return encodeMovRegReg(dst, src, W64)
	}
	return nil, fmt.Errorf("amd64 asm: unsupported zero-extend width %d", from)
}

func encodeSetcc(c Cond, dst Register) ([]byte, error) {
	if c > CondG {
		return nil, fmt.Errorf("amd64 asm: invalid condition %d", c)
	}
	return encodeExt(nil, false, []byte{0x0F, 0x90 | byte(c)}, 0, dst, true)
}

func encodeCmov(c Cond, dst, src Register) ([]byte, error) {
	if c > CondG {
		return nil, fmt.Errorf("amd64 asm: invalid condition %d", c)
	}
	return encodeRR(nil, true, []byte{0x0F, 0x40 | byte(c)}, dst, src, false)
}

// encodeJcc returns a conditional near jump with a rel32 displacement in its
// last four bytes.
func encodeJcc(c Cond, rel int32) ([]byte, error) {
	if c > CondG {
		return nil, fmt.Errorf("amd64 asm: invalid condition %d", c)
	}
	return append([]byte{0x0F, 0x80 | byte(c)}, le32(rel)...), nil
}

func encodeJmpRel(rel int32) []byte  { return append([]byte{0xE9}, le32(rel)...) }
func encodeCallRel(rel int32) []byte { return append([]byte{0xE8}, le32(rel)...) }

func encodeCallReg(r Register) ([]byte, error) {
	return encodeExt(nil, false, []byte{0xFF}, 2, r, false)
}

func encodeJmpReg(r Register) ([]byte, error) {
	return encodeExt(nil, false, []byte{0xFF}, 4, r, false)
}

func encodePush(r Register) ([]byte, error) {
	if err := checkRegs(r); err != nil {
		return nil, err
	}
	if r.high() {
		return []byte{0x41, 0x50 + r.low()}, nil
	}
	return []byte{0x50 + r.low()}, nil
}

func encodePop(r Register) ([]byte, error) {
	if err := checkRegs(r); err != nil {
		return nil, err
	}
	if r.high() {
		return []byte{0x41, 0x58 + r.low()}, nil
	}
	return []byte{0x58 + r.low()}, nil
}

// encodeLockIncMem atomically increments the quadword at m.
func encodeLockIncMem(m Memory) ([]byte, error) {
	return encodeRM([]byte{0xF0}, true, []byte{0xFF}, 0, m, false)
}

var (
	opRet      = []byte{0xC3}
	opSyscall  = []byte{0x0F, 0x05}
	opUD2      = []byte{0x0F, 0x0B}
	opRdtsc    = []byte{0x0F, 0x31}
	opCqo      = []byte{0x48, 0x99}
	opRepMovsb = []byte{0xF3, 0xA4}
	opRepStosb = []byte{0xF3, 0xAA}
	opNop      = []byte{0x90}
)
