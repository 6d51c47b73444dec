package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/seraph/internal/elfwriter"
	"github.com/tinyrange/seraph/internal/lint"
)

const sample = `
target: arm64
kernel: true
stack_size: 4MiB
heap_size: 1g
chronon_budget: 1000000
kernel_minimum: 1.2.3
fpu_lint: warn
atlas_regions: 2
capabilities:
  - {base: 0x1000, length: 4096, permissions: rw}
  - {base: 0x8000, length: 16KiB, permissions: 9, flags: 1}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Target != "arm64" || !cfg.Kernel || cfg.FPULint != lint.LevelWarn {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.StackSize != 4<<20 || cfg.HeapSize != 1<<30 {
		t.Fatalf("stack=%d heap=%d", cfg.StackSize, cfg.HeapSize)
	}
	if cfg.Base() != elfwriter.KernelBase {
		t.Fatalf("base=%#x, want kernel base", cfg.Base())
	}

	m := cfg.ManifestRecord()
	if m.KernelMinimum != 0x010203 || m.ChrononBudget != 1000000 || m.AtlasRegions != 2 || m.StackSize != 4<<20 {
		t.Fatalf("manifest=%+v", m)
	}

	caps := cfg.CapTemplates()
	if len(caps) != 2 {
		t.Fatalf("caps=%v", caps)
	}
	if caps[0].Base != 0x1000 || caps[0].Length != 4096 || caps[0].Permissions != 3 {
		t.Fatalf("caps[0]=%+v", caps[0])
	}
	if caps[1].Length != 16<<10 || caps[1].Permissions != 9 || caps[1].Flags != 1 {
		t.Fatalf("caps[1]=%+v", caps[1])
	}
	if got := cfg.Capabilities[1].Permissions.String(); got != "r--d" {
		t.Fatalf("permissions=%s, want r--d", got)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty): %v", err)
	}
	if cfg.Target != DefaultTarget || cfg.FPULint != lint.LevelError || cfg.StackSize != DefaultStackSize {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Base() != elfwriter.UserBase {
		t.Fatalf("base=%#x", cfg.Base())
	}
	if m := cfg.ManifestRecord(); m.KernelMinimum != 0x000100 {
		t.Fatalf("kernel minimum=%#x", m.KernelMinimum)
	}

	cfg, err = Parse([]byte("base_address: 0x800000\nkernel: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Base() != 0x800000 {
		t.Fatalf("override base=%#x", cfg.Base())
	}
}

func TestErrorsNameTheKey(t *testing.T) {
	tests := map[string]string{
		"base_address: 0x400123\n":                         "base_address",
		"kernel_minimum: banana\n":                         "kernel_minimum",
		"kernel_minimum: v1.300.0\n":                       "kernel_minimum",
		"fpu_lint: loud\n":                                 "lint level",
		"stack_size: lots\n":                               "invalid size",
		"capabilities:\n  - {base: 1, length: 0}\n":        "capabilities[0]",
		"capabilities:\n  - {length: 1, permissions: q}\n": "unknown permission",
		"targte: x64\n":                                    "targte",
	}
	for doc, want := range tests {
		_, err := Parse([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("Parse(%q) err=%v, want mention of %q", doc, err, want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := map[string]uint32{
		"v0.1.0":       0x000100,
		"1.2.3":        0x010203,
		"v2":           0x020000,
		"v1.0.0-rc.1":  0x010000,
		"v255.255.255": 0xFFFFFF,
	}
	for in, want := range tests {
		got, err := ParseVersion(in)
		if err != nil || got != want {
			t.Fatalf("ParseVersion(%q)=%#x, %v, want %#x", in, got, err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seraph.yaml")
	if err := os.WriteFile(path, []byte("target: riscv64\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil || cfg.Target != "riscv64" {
		t.Fatalf("Load=%+v, %v", cfg, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load(missing) succeeded")
	}
}

func TestSizeString(t *testing.T) {
	if got := Size(8 << 20).String(); got != "8MiB" {
		t.Fatalf("String=%s, want 8MiB", got)
	}
}
