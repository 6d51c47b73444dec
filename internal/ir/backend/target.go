// Package backend lowers verified IR modules to machine code. The shared
// driver owns liveness, register allocation, frame layout and the lowering of
// every opcode onto a small set of machine primitives; each architecture
// package supplies a Target describing its registers and a Machine that
// encodes the primitives.
package backend

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tinyrange/seraph/internal/asm"
)

// Reg is a hardware register number in the target's own encoding.
type Reg uint8

// Cond is a comparison between two 64-bit register images.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
	CondULt
	CondULe
	CondUGt
	CondUGe
)

var condNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge", "ult", "ule", "ugt", "uge"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("Cond(%d)", c)
}

// Invert returns the condition that holds exactly when c does not.
func (c Cond) Invert() Cond {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLt:
		return CondGe
	case CondLe:
		return CondGt
	case CondGt:
		return CondLe
	case CondGe:
		return CondLt
	case CondULt:
		return CondUGe
	case CondULe:
		return CondUGt
	case CondUGt:
		return CondULe
	}
	return CondULt
}

// Swap returns the condition that holds for (b, a) when c holds for (a, b).
func (c Cond) Swap() Cond {
	switch c {
	case CondLt:
		return CondGt
	case CondLe:
		return CondGe
	case CondGt:
		return CondLt
	case CondGe:
		return CondLe
	case CondULt:
		return CondUGt
	case CondULe:
		return CondUGe
	case CondUGt:
		return CondULt
	case CondUGe:
		return CondULe
	}
	return c
}

// ALUOp is a wrapping two-operand integer operation. Shift counts are taken
// modulo 64.
type ALUOp uint8

const (
	ALUAdd ALUOp = iota
	ALUSub
	ALUMul
	ALUAnd
	ALUOr
	ALUXor
	ALUShl
	ALUShr
	ALUSar
)

// Machine encodes the primitives the lowering driver is built from. Every
// primitive accepts aliased register operands. Primitives may clobber the
// target's internal registers but never allocatable registers, temporaries or
// the context registers.
type Machine interface {
	Buffer() *asm.Buffer

	Mov(dst, src Reg)
	MovImm(dst Reg, imm uint64)
	AddImm(dst, src Reg, imm int64)
	// Load reads size bytes at base+off and extends them to 64 bits.
	Load(dst, base Reg, off int64, size int, signed bool)
	Store(base Reg, off int64, src Reg, size int)

	ALU(op ALUOp, dst, a, b Reg)
	// CheckedALU performs a 64-bit add, sub or mul and jumps to overflow
	// when the exact result does not fit the signed or unsigned range.
	CheckedALU(op ALUOp, dst, a, b Reg, signed bool, overflow asm.Label)
	// Div requires a nonzero divisor that is not -1.
	Div(dst, a, b Reg, signed, rem bool)
	// MulWide computes the unsigned 128-bit product of a and b.
	MulWide(hi, lo, a, b Reg)
	Neg(dst, a Reg)
	Not(dst, a Reg)
	// Extend truncates src to size bytes and re-extends it.
	Extend(dst, src Reg, size int, signed bool)

	SetCmp(c Cond, dst, a, b Reg)
	BranchCmp(c Cond, a, b Reg, l asm.Label)
	BranchImm(c Cond, a Reg, imm uint64, l asm.Label)
	Jump(l asm.Label)

	// Prologue establishes the frame pointer, saves the listed callee-saved
	// registers and reserves locals bytes addressed below the save area.
	Prologue(saves []Reg, locals int64)
	// Epilogue undoes Prologue and returns when ret is set.
	Epilogue(saves []Reg, locals int64, ret bool)

	// CallSite and JumpSite emit a direct call or jump with an unresolved
	// target and return the site later passed to Target.PatchCall.
	CallSite() int
	JumpSite() int
	CallReg(r Reg)
	// FuncAddr materialises the address of code in the same buffer.
	FuncAddr(dst Reg) int
	// DataAddr materialises the address of a data or bss object.
	DataAddr(dst Reg) int

	Syscall()
	Trap()
	ReadTimer(dst Reg)
	// AtomicInc adds one to the 64-bit word at addr.
	AtomicInc(addr Reg)
	CopyBytes(dst, src, n Reg)
	SetBytes(dst, val, n Reg)
}

// Target describes an architecture to the driver.
type Target struct {
	Name    string
	Aliases []string
	Machine elf.Machine

	// Allocatable registers in preference order.
	Allocatable []Reg
	// CalleeSaved lists the allocatable registers preserved across calls.
	CalleeSaved []Reg
	// Temps are the driver's operand and result staging registers.
	Temps [4]Reg

	ArgRegs     []Reg
	RetReg      Reg
	FP, SP      Reg
	CallScratch Reg

	// CapCtx and SubstrateCtx hold the capability context block and the
	// substrate word for the whole program.
	CapCtx       Reg
	SubstrateCtx Reg

	SyscallNum  Reg
	SyscallArgs []Reg
	SysExit     uint64
	SysYield    uint64

	// FirstStackArg is the frame-pointer offset of the first argument
	// passed on the stack.
	FirstStackArg int64
	// SaveArea returns how many bytes below the frame pointer the saved
	// callee-saved registers occupy.
	SaveArea func(n int) int64

	NewMachine func(buf *asm.Buffer) Machine

	PatchCall     func(code []byte, site, target int) error
	PatchFuncAddr func(code []byte, site, target int) error
	PatchData     func(code []byte, site int, siteAddr, targetAddr uint64) error
	// PatchLabel resolves label fixups recorded by the Machine.
	PatchLabel asm.PatchFunc

	RegName func(r Reg) string
}

func (t *Target) String() string { return t.Name }

// IsCalleeSaved reports whether r survives calls.
func (t *Target) IsCalleeSaved(r Reg) bool {
	for _, s := range t.CalleeSaved {
		if s == r {
			return true
		}
	}
	return false
}

var (
	targetsMu sync.RWMutex
	targets   = make(map[string]*Target)
)

// Register wires an architecture into the driver under its name and aliases.
// It panics when a name is registered twice so mistakes surface during init.
func Register(t *Target) {
	if t == nil || t.Name == "" {
		panic("backend: target must be named")
	}
	if t.NewMachine == nil {
		panic(fmt.Sprintf("backend: target %s has no machine", t.Name))
	}

	targetsMu.Lock()
	defer targetsMu.Unlock()

	for _, name := range append([]string{t.Name}, t.Aliases...) {
		key := strings.ToLower(name)
		if _, exists := targets[key]; exists {
			panic(fmt.Sprintf("backend: target %s already registered", name))
		}
		targets[key] = t
	}
}

// Lookup returns the target registered under name or one of its aliases.
func Lookup(name string) (*Target, error) {
	targetsMu.RLock()
	defer targetsMu.RUnlock()

	if name == "" {
		return nil, fmt.Errorf("backend: target must be specified")
	}
	if t, ok := targets[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("backend: no target registered for %q", name)
}

// Targets lists the canonical names of every registered target.
func Targets() []string {
	targetsMu.RLock()
	defer targetsMu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, t := range targets {
		if !seen[t.Name] {
			seen[t.Name] = true
			out = append(out, t.Name)
		}
	}
	sort.Strings(out)
	return out
}
