package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Expectation is one encoded instruction as the disassembler should print
// it. An empty Mnemonic matches any; every Contains needle must appear in
// the normalised operand text.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) check(line DisasmLine) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic %s, want %s", line.Mnemonic, e.Mnemonic)
	}
	var missing []string
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			missing = append(missing, fmt.Sprintf("%q", needle))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s in %q", strings.Join(missing, ", "), line.Normalized)
	}
	return nil
}

// VerifyExpectations pairs the leading disassembled instructions with
// expect and reports every mismatch. Trailing instructions, such as
// alignment padding, are not checked.
func VerifyExpectations(t testing.TB, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("disassembly has %d instructions, want at least %d", len(lines), len(expect))
	}
	for i, e := range expect {
		if err := e.check(lines[i]); err != nil {
			t.Errorf("%d: %s: %v\n\t%s", i, e.Name, err, lines[i].Text)
		}
	}
}
