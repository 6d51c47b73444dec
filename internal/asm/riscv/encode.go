package riscv

import "fmt"

// major opcodes
const (
	opLoad    = 0x03
	opMiscMem = 0x0F
	opImm     = 0x13
	opAuipc   = 0x17
	opImm32   = 0x1B
	opStore   = 0x23
	opAmo     = 0x2F
	opReg     = 0x33
	opLui     = 0x37
	opBranch  = 0x63
	opJalr    = 0x67
	opJal     = 0x6F
	opSystem  = 0x73
)

const (
	insnEcall   = 0x00000073
	insnUnimp   = 0xC0001073 // csrrw x0, cycle, x0
	insnRdtime  = 0xC0102073 // csrrs rd, time, x0
	insnFenceRW = 0x0330000F
	insnNop     = 0x00000013
)

func checkRegs(regs ...Register) error {
	for _, r := range regs {
		if !r.valid() {
			return fmt.Errorf("riscv asm: invalid register %d", r)
		}
	}
	return nil
}

func fitsImm12(v int64) bool { return v >= -2048 && v <= 2047 }

func encodeR(funct7, funct3 uint32, rd, rs1, rs2 Register) (uint32, error) {
	if err := checkRegs(rd, rs1, rs2); err != nil {
		return 0, err
	}
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opReg, nil
}

func encodeI(opcode, funct3 uint32, rd, rs1 Register, imm int64) (uint32, error) {
	if err := checkRegs(rd, rs1); err != nil {
		return 0, err
	}
	if !fitsImm12(imm) {
		return 0, fmt.Errorf("riscv asm: immediate %d out of range", imm)
	}
	return (uint32(imm)&0xFFF)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode, nil
}

func encodeShiftImm(funct6, funct3 uint32, rd, rs1 Register, shamt uint32) (uint32, error) {
	if err := checkRegs(rd, rs1); err != nil {
		return 0, err
	}
	if shamt > 63 {
		return 0, fmt.Errorf("riscv asm: shift amount %d out of range", shamt)
	}
	return funct6<<26 | shamt<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opImm, nil
}

func encodeS(funct3 uint32, rs1, rs2 Register, imm int64) (uint32, error) {
	if err := checkRegs(rs1, rs2); err != nil {
		return 0, err
	}
	if !fitsImm12(imm) {
		return 0, fmt.Errorf("riscv asm: store offset %d out of range", imm)
	}
	u := uint32(imm) & 0xFFF
	return (u>>5)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | (u&0x1F)<<7 | opStore, nil
}

func encodeB(c Cond, rs1, rs2 Register, rel int64) (uint32, error) {
	if err := checkRegs(rs1, rs2); err != nil {
		return 0, err
	}
	if !c.valid() {
		return 0, fmt.Errorf("riscv asm: invalid branch condition %d", c)
	}
	if rel%2 != 0 || rel < -4096 || rel > 4094 {
		return 0, fmt.Errorf("riscv asm: branch offset %d out of range", rel)
	}
	u := uint32(rel) & 0x1FFF
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		uint32(c)<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | opBranch, nil
}

func encodeU(opcode uint32, rd Register, imm20 uint32) (uint32, error) {
	if err := checkRegs(rd); err != nil {
		return 0, err
	}
	return (imm20&0xFFFFF)<<12 | uint32(rd)<<7 | opcode, nil
}

func jalImm(rel int64) (uint32, error) {
	if rel%2 != 0 || rel < -(1<<20) || rel >= 1<<20 {
		return 0, fmt.Errorf("riscv asm: jump offset %d out of range", rel)
	}
	u := uint32(rel) & 0x1FFFFF
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12, nil
}

func encodeJal(rd Register, rel int64) (uint32, error) {
	if err := checkRegs(rd); err != nil {
		return 0, err
	}
	imm, err := jalImm(rel)
	if err != nil {
		return 0, err
	}
	return imm | uint32(rd)<<7 | opJal, nil
}

// hiLo splits a pc-relative or absolute 32-bit delta into the AUIPC/LUI upper
// part and the sign-extended low 12 bits.
func hiLo(v int64) (hi uint32, lo int64) {
	h := (v + 0x800) >> 12
	return uint32(h) & 0xFFFFF, v - h<<12
}

// R-type funct7/funct3 pairs
type rOp struct{ funct7, funct3 uint32 }

var (
	rAdd   = rOp{0x00, 0}
	rSub   = rOp{0x20, 0}
	rSll   = rOp{0x00, 1}
	rSlt   = rOp{0x00, 2}
	rSltu  = rOp{0x00, 3}
	rXor   = rOp{0x00, 4}
	rSrl   = rOp{0x00, 5}
	rSra   = rOp{0x20, 5}
	rOr    = rOp{0x00, 6}
	rAnd   = rOp{0x00, 7}
	rMul   = rOp{0x01, 0}
	rMulh  = rOp{0x01, 1}
	rMulhu = rOp{0x01, 3}
	rDiv   = rOp{0x01, 4}
	rDivu  = rOp{0x01, 5}
	rRem   = rOp{0x01, 6}
	rRemu  = rOp{0x01, 7}
)

// load funct3 by width, unsigned then signed
var loadFunct3 = map[Width][2]uint32{
	W8:  {4, 0}, // lbu, lb
	W16: {5, 1}, // lhu, lh
	W32: {6, 2}, // lwu, lw
	W64: {3, 3}, // ld
}

var storeFunct3 = map[Width]uint32{W8: 0, W16: 1, W32: 2, W64: 3}

// encodeAmoAdd is amoadd.d.aqrl rd, rs2, (rs1).
func encodeAmoAdd(rd, rs1, rs2 Register) (uint32, error) {
	if err := checkRegs(rd, rs1, rs2); err != nil {
		return 0, err
	}
	return 0x03<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | 3<<12 | uint32(rd)<<7 | opAmo, nil
}
