package lint

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// ScanCode classifies machine code for machine. Fixed-width targets are
// scanned word by word; x86-64 is scanned at the given instruction starts.
func ScanCode(machine elf.Machine, code []byte, starts []int) []Finding {
	var out []Finding
	report := func(off int, what string) {
		out = append(out, Finding{Offset: off, Message: what})
	}
	switch machine {
	case elf.EM_X86_64:
		for _, off := range starts {
			if off < len(code) {
				if what := classifyX86(code[off:]); what != "" {
					report(off, what)
				}
			}
		}
	case elf.EM_AARCH64:
		for off := 0; off+4 <= len(code); off += 4 {
			if what := classifyARM64(binary.LittleEndian.Uint32(code[off:])); what != "" {
				report(off, what)
			}
		}
	case elf.EM_RISCV:
		for off := 0; off+4 <= len(code); off += 4 {
			if what := classifyRISCV(binary.LittleEndian.Uint32(code[off:])); what != "" {
				report(off, what)
			}
		}
	default:
		report(0, fmt.Sprintf("cannot scan code for %v", machine))
	}
	return out
}

func isX86Prefix(b byte) bool {
	switch b {
	case 0x66, 0x67, 0xF0, 0xF2, 0xF3, 0x2E, 0x36, 0x3E, 0x26, 0x64, 0x65:
		return true
	}
	return false
}

func classifyX86(p []byte) string {
	i := 0
	for i < len(p) && i < 4 && isX86Prefix(p[i]) {
		i++
	}
	if i < len(p) && p[i]&0xF0 == 0x40 {
		i++
	}
	if i >= len(p) {
		return ""
	}
	switch op := p[i]; {
	case op >= 0xD8 && op <= 0xDF:
		return fmt.Sprintf("x87 instruction %02x", op)
	case op == 0xC4 || op == 0xC5:
		return "VEX-encoded vector instruction"
	case op == 0x62:
		return "EVEX-encoded vector instruction"
	case op != 0x0F || i+1 >= len(p):
		return ""
	}
	op := p[i+1]
	switch {
	case op >= 0x10 && op <= 0x17, op >= 0x28 && op <= 0x2F,
		op >= 0x50 && op <= 0x7F, op == 0xC2, op >= 0xC4 && op <= 0xC6,
		op >= 0xD0, op == 0x0E, op == 0x0F, op == 0x3A:
		return fmt.Sprintf("SSE/MMX instruction 0f %02x", op)
	case op == 0x38:
		if i+2 < len(p) && p[i+2] >= 0xF0 {
			// movbe and crc32
			return ""
		}
		return "SSE instruction 0f 38"
	case op == 0xAE:
		// fxsave, fxrstor, ldmxcsr and stmxcsr; the fences use reg 5 to 7
		if i+2 < len(p) && p[i+2]>>3&7 < 4 {
			return "FPU state instruction 0f ae"
		}
	}
	return ""
}

func classifyARM64(w uint32) string {
	switch {
	case w>>25&7 == 7:
		return fmt.Sprintf("FP/SIMD data processing %08x", w)
	case w>>27&1 == 1 && w>>25&1 == 0 && w>>26&1 == 1:
		return fmt.Sprintf("FP/SIMD load or store %08x", w)
	}
	return ""
}

func classifyRISCV(w uint32) string {
	switch w & 0x7F {
	case 0x07, 0x27:
		return fmt.Sprintf("F/D load or store %08x", w)
	case 0x43, 0x47, 0x4B, 0x4F:
		return fmt.Sprintf("F/D fused multiply-add %08x", w)
	case 0x53:
		return fmt.Sprintf("F/D arithmetic %08x", w)
	case 0x73:
		// fflags, frm and fcsr
		if csr := w >> 20; w>>12&7 != 0 && csr >= 1 && csr <= 3 {
			return fmt.Sprintf("float CSR access %08x", w)
		}
	}
	return ""
}
