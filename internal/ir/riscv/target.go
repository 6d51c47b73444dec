// Package riscv wires the RV64GC encoder into the backend driver.
package riscv

import (
	"debug/elf"

	rvasm "github.com/tinyrange/seraph/internal/asm/riscv"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/linux/syscallnum"
)

var (
	sysExit       = syscallnum.MustNumber(elf.EM_RISCV, syscallnum.SYS_EXIT)
	sysSchedYield = syscallnum.MustNumber(elf.EM_RISCV, syscallnum.SYS_SCHED_YIELD)
)

func r(x rvasm.Register) backend.Reg { return backend.Reg(x) }

// Target describes RV64 under the standard LP64 convention. s10 holds the
// substrate word and s11 the capability context; a6, a7 and t6 are
// internal.
var Target = &backend.Target{
	Name:    "riscv64",
	Aliases: []string{"rv64", "riscv"},
	Machine: elf.EM_RISCV,

	Allocatable: []backend.Reg{
		r(rvasm.S1), r(rvasm.S2), r(rvasm.S3), r(rvasm.S4), r(rvasm.S5),
		r(rvasm.S6), r(rvasm.S7), r(rvasm.S8), r(rvasm.S9),
		r(rvasm.T4), r(rvasm.T5),
	},
	CalleeSaved: []backend.Reg{
		r(rvasm.S1), r(rvasm.S2), r(rvasm.S3), r(rvasm.S4), r(rvasm.S5),
		r(rvasm.S6), r(rvasm.S7), r(rvasm.S8), r(rvasm.S9),
	},
	Temps: [4]backend.Reg{r(rvasm.T0), r(rvasm.T1), r(rvasm.T2), r(rvasm.T3)},

	ArgRegs: []backend.Reg{
		r(rvasm.A0), r(rvasm.A1), r(rvasm.A2), r(rvasm.A3),
		r(rvasm.A4), r(rvasm.A5), r(rvasm.A6), r(rvasm.A7),
	},
	RetReg:      r(rvasm.A0),
	FP:          r(rvasm.S0),
	SP:          r(rvasm.SP),
	CallScratch: r(rvasm.T6),

	CapCtx:       r(rvasm.S11),
	SubstrateCtx: r(rvasm.S10),

	SyscallNum: r(rvasm.A7),
	SyscallArgs: []backend.Reg{
		r(rvasm.A0), r(rvasm.A1), r(rvasm.A2),
		r(rvasm.A3), r(rvasm.A4), r(rvasm.A5),
	},
	SysExit:  sysExit,
	SysYield: sysSchedYield,

	FirstStackArg: 16,
	SaveArea:      saveBytes,

	NewMachine:    newMachine,
	PatchCall:     rvasm.PatchJal,
	PatchFuncAddr: rvasm.PatchPCRel,
	PatchData:     rvasm.PatchAddress,
	PatchLabel:    rvasm.Patch,

	RegName: func(x backend.Reg) string { return rvasm.Register(x).String() },
}

func init() {
	backend.Register(Target)
}
