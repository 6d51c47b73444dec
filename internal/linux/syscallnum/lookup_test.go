package syscallnum

import (
	"debug/elf"
	"testing"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		name    string
		machine elf.Machine
		sc      Syscall
		want    uint64
	}{
		{name: "amd64_exit", machine: elf.EM_X86_64, sc: SYS_EXIT, want: 60},
		{name: "amd64_yield", machine: elf.EM_X86_64, sc: SYS_SCHED_YIELD, want: 24},
		{name: "arm64_exit", machine: elf.EM_AARCH64, sc: SYS_EXIT, want: 93},
		{name: "arm64_yield", machine: elf.EM_AARCH64, sc: SYS_SCHED_YIELD, want: 124},
		{name: "riscv_exit", machine: elf.EM_RISCV, sc: SYS_EXIT, want: 93},
		{name: "riscv_yield", machine: elf.EM_RISCV, sc: SYS_SCHED_YIELD, want: 124},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Number(tt.machine, tt.sc)
			if err != nil {
				t.Fatalf("Number returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Number(%v, %v)=%d, want %d", tt.machine, tt.sc, got, tt.want)
			}
		})
	}
}

func TestUnknown(t *testing.T) {
	if _, err := Number(elf.EM_386, SYS_EXIT); err == nil {
		t.Fatalf("i386 accepted")
	}
	if _, err := Number(elf.EM_X86_64, Syscall(99)); err == nil {
		t.Fatalf("unknown syscall accepted")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MustNumber did not panic")
		}
	}()
	MustNumber(elf.EM_SPARC, SYS_EXIT)
}
