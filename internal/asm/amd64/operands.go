package amd64

import "fmt"

// Register is a general purpose register in hardware encoding order.
type Register uint8

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", r)
}

func (r Register) valid() bool { return r <= R15 }

func (r Register) low() byte { return byte(r) & 7 }

func (r Register) high() bool { return r >= R8 }

// Width is an operand size in bytes.
type Width uint8

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
	W64 Width = 8
)

// Memory describes an effective address.
type Memory struct {
	base     Register
	index    Register
	disp     int32
	scale    uint8
	hasIndex bool
	rip      bool
}

// Mem constructs [base+disp].
func Mem(base Register, disp int32) Memory {
	return Memory{base: base, disp: disp, scale: 1}
}

// MemIndex constructs [base+index*scale+disp].
func MemIndex(base, index Register, scale uint8, disp int32) Memory {
	if scale == 0 {
		scale = 1
	}
	return Memory{base: base, index: index, scale: scale, disp: disp, hasIndex: true}
}

// RIP constructs [rip+disp], relative to the end of the instruction.
func RIP(disp int32) Memory {
	return Memory{disp: disp, rip: true}
}

func (m Memory) validate() error {
	if m.rip {
		return nil
	}
	if !m.base.valid() {
		return fmt.Errorf("amd64 asm: invalid base register %d", m.base)
	}
	if m.hasIndex {
		if !m.index.valid() {
			return fmt.Errorf("amd64 asm: invalid index register %d", m.index)
		}
		if m.index == RSP {
			return fmt.Errorf("amd64 asm: rsp cannot be used as index register")
		}
		switch m.scale {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("amd64 asm: invalid index scale %d", m.scale)
		}
	}
	return nil
}

// Cond is a condition code in the encoding used by Jcc, SETcc and CMOVcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Invert returns the condition that holds exactly when c does not.
func (c Cond) Invert() Cond { return c ^ 1 }

// ALUOp selects a two-operand integer instruction.
type ALUOp uint8

const (
	ALUAdd ALUOp = iota
	ALUOr
	ALUAdc
	ALUSbb
	ALUAnd
	ALUSub
	ALUXor
	ALUCmp
)

// ShiftOp selects a shift instruction by its ModRM extension.
type ShiftOp uint8

const (
	ShiftLeft  ShiftOp = 4
	ShiftRight ShiftOp = 5
	ShiftArith ShiftOp = 7
)
