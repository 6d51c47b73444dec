// Package syscallnum maps the Linux system calls emitted by generated code
// to their per-architecture numbers.
package syscallnum

import (
	"debug/elf"
	"fmt"
)

// Syscall identifies a system call independently of architecture.
type Syscall int

const (
	SYS_EXIT Syscall = iota
	SYS_SCHED_YIELD
)

func (s Syscall) String() string {
	switch s {
	case SYS_EXIT:
		return "exit"
	case SYS_SCHED_YIELD:
		return "sched_yield"
	}
	return fmt.Sprintf("Syscall(%d)", int(s))
}

// x86-64 keeps its historical table; AArch64 and RV64 share the generic one.
var (
	amd64Map = map[Syscall]uint64{
		SYS_EXIT:        60,
		SYS_SCHED_YIELD: 24,
	}
	genericMap = map[Syscall]uint64{
		SYS_EXIT:        93,
		SYS_SCHED_YIELD: 124,
	}
)

// Number returns the syscall number for sc on machine.
func Number(machine elf.Machine, sc Syscall) (uint64, error) {
	var table map[Syscall]uint64
	switch machine {
	case elf.EM_X86_64:
		table = amd64Map
	case elf.EM_AARCH64, elf.EM_RISCV:
		table = genericMap
	default:
		return 0, fmt.Errorf("syscallnum: unsupported machine %v", machine)
	}
	n, ok := table[sc]
	if !ok {
		return 0, fmt.Errorf("syscallnum: unknown syscall %v for %v", sc, machine)
	}
	return n, nil
}

// MustNumber panics on lookup failure. Target tables use it at init.
func MustNumber(machine elf.Machine, sc Syscall) uint64 {
	n, err := Number(machine, sc)
	if err != nil {
		panic(err)
	}
	return n
}
