// Package amd64 wires the x86-64 encoder into the backend driver.
package amd64

import (
	"debug/elf"

	amd64asm "github.com/tinyrange/seraph/internal/asm/amd64"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/linux/syscallnum"
)

var (
	sysExit       = syscallnum.MustNumber(elf.EM_X86_64, syscallnum.SYS_EXIT)
	sysSchedYield = syscallnum.MustNumber(elf.EM_X86_64, syscallnum.SYS_SCHED_YIELD)
)

func r(x amd64asm.Register) backend.Reg { return backend.Reg(x) }

// Target describes x86-64 under the System V calling convention with the
// context registers r13 (substrate) and r14 (capabilities) reserved.
var Target = &backend.Target{
	Name:    "x64",
	Aliases: []string{"amd64", "x86_64", "x86-64"},
	Machine: elf.EM_X86_64,

	Allocatable: []backend.Reg{
		r(amd64asm.RBX), r(amd64asm.R12), r(amd64asm.R15),
		r(amd64asm.R8), r(amd64asm.R9),
	},
	CalleeSaved: []backend.Reg{r(amd64asm.RBX), r(amd64asm.R12), r(amd64asm.R15)},
	Temps:       [4]backend.Reg{r(amd64asm.RDI), r(amd64asm.RSI), r(amd64asm.R10), r(amd64asm.R11)},

	ArgRegs: []backend.Reg{
		r(amd64asm.RDI), r(amd64asm.RSI), r(amd64asm.RDX),
		r(amd64asm.RCX), r(amd64asm.R8), r(amd64asm.R9),
	},
	RetReg:      r(amd64asm.RAX),
	FP:          r(amd64asm.RBP),
	SP:          r(amd64asm.RSP),
	CallScratch: r(amd64asm.RAX),

	CapCtx:       r(amd64asm.R14),
	SubstrateCtx: r(amd64asm.R13),

	SyscallNum: r(amd64asm.RAX),
	SyscallArgs: []backend.Reg{
		r(amd64asm.RDI), r(amd64asm.RSI), r(amd64asm.RDX),
		r(amd64asm.R10), r(amd64asm.R8), r(amd64asm.R9),
	},
	SysExit:  sysExit,
	SysYield: sysSchedYield,

	FirstStackArg: 16,
	SaveArea:      func(n int) int64 { return 8 * int64(n) },

	NewMachine:    newMachine,
	PatchCall:     amd64asm.PatchRel32,
	PatchFuncAddr: amd64asm.PatchRel32,
	PatchData:     amd64asm.PatchAddress,
	PatchLabel:    amd64asm.Patch,

	RegName: func(x backend.Reg) string { return amd64asm.Register(x).String() },
}

func init() {
	backend.Register(Target)
}
