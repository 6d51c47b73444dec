// Package arm64 wires the AArch64 encoder into the backend driver.
package arm64

import (
	"debug/elf"

	arm64asm "github.com/tinyrange/seraph/internal/asm/arm64"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/linux/syscallnum"
)

var (
	sysExit       = syscallnum.MustNumber(elf.EM_AARCH64, syscallnum.SYS_EXIT)
	sysSchedYield = syscallnum.MustNumber(elf.EM_AARCH64, syscallnum.SYS_SCHED_YIELD)
)

func r(x arm64asm.Register) backend.Reg { return backend.Reg(x) }

// Target describes AArch64 under AAPCS64. x27 holds the substrate word
// and x28 the capability context; x8, x14 and x15 are internal.
var Target = &backend.Target{
	Name:    "arm64",
	Aliases: []string{"aarch64"},
	Machine: elf.EM_AARCH64,

	Allocatable: []backend.Reg{
		r(arm64asm.X19), r(arm64asm.X20), r(arm64asm.X21), r(arm64asm.X22),
		r(arm64asm.X23), r(arm64asm.X24), r(arm64asm.X25), r(arm64asm.X26),
		r(arm64asm.X11), r(arm64asm.X12), r(arm64asm.X13),
	},
	CalleeSaved: []backend.Reg{
		r(arm64asm.X19), r(arm64asm.X20), r(arm64asm.X21), r(arm64asm.X22),
		r(arm64asm.X23), r(arm64asm.X24), r(arm64asm.X25), r(arm64asm.X26),
	},
	Temps: [4]backend.Reg{r(arm64asm.X9), r(arm64asm.X10), r(arm64asm.X16), r(arm64asm.X17)},

	ArgRegs: []backend.Reg{
		r(arm64asm.X0), r(arm64asm.X1), r(arm64asm.X2), r(arm64asm.X3),
		r(arm64asm.X4), r(arm64asm.X5), r(arm64asm.X6), r(arm64asm.X7),
	},
	RetReg:      r(arm64asm.X0),
	FP:          r(arm64asm.FP),
	SP:          r(arm64asm.SP),
	CallScratch: r(arm64asm.X14),

	CapCtx:       r(arm64asm.X28),
	SubstrateCtx: r(arm64asm.X27),

	SyscallNum: r(arm64asm.X8),
	SyscallArgs: []backend.Reg{
		r(arm64asm.X0), r(arm64asm.X1), r(arm64asm.X2),
		r(arm64asm.X3), r(arm64asm.X4), r(arm64asm.X5),
	},
	SysExit:  sysExit,
	SysYield: sysSchedYield,

	FirstStackArg: 16,
	SaveArea:      saveBytes,

	NewMachine:    newMachine,
	PatchCall:     arm64asm.PatchBranch,
	PatchFuncAddr: arm64asm.PatchAdr,
	PatchData:     arm64asm.PatchAddress,
	PatchLabel:    arm64asm.Patch,

	RegName: func(x backend.Reg) string { return arm64asm.Register(x).String() },
}

func init() {
	backend.Register(Target)
}
