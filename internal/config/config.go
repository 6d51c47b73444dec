// Package config loads the optional YAML build configuration named with
// --config. Nothing is read implicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/seraph/internal/elfwriter"
	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/lint"
)

const (
	DefaultTarget        = "x64"
	DefaultStackSize     = 8 << 20
	DefaultHeapSize      = 64 << 20
	DefaultKernelMinimum = "v0.1.0"
)

// Config is the decoded build configuration.
type Config struct {
	Target        string        `yaml:"target,omitempty"`
	Kernel        bool          `yaml:"kernel,omitempty"`
	BaseAddress   uint64        `yaml:"base_address,omitempty"`
	StackSize     Size          `yaml:"stack_size,omitempty"`
	HeapSize      Size          `yaml:"heap_size,omitempty"`
	ChrononBudget uint64        `yaml:"chronon_budget,omitempty"`
	AtlasRegions  uint32        `yaml:"atlas_regions,omitempty"`
	AetherNodes   uint32        `yaml:"aether_nodes,omitempty"`
	KernelMinimum string        `yaml:"kernel_minimum,omitempty"`
	FPULint       lint.Level    `yaml:"fpu_lint"`
	Capabilities  []Capability  `yaml:"capabilities,omitempty"`
	Entry         string        `yaml:"entry,omitempty"`
	Manifest      ManifestFlags `yaml:"manifest_flags,omitempty"`
}

// ManifestFlags is copied verbatim into the manifest flags word.
type ManifestFlags uint32

// Capability is a capability template granted to the program at load.
type Capability struct {
	Base        uint64      `yaml:"base"`
	Length      Size        `yaml:"length"`
	Permissions Permissions `yaml:"permissions"`
	Flags       uint32      `yaml:"flags,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Target:        DefaultTarget,
		StackSize:     DefaultStackSize,
		HeapSize:      DefaultHeapSize,
		KernelMinimum: DefaultKernelMinimum,
		FPULint:       lint.LevelError,
	}
}

func (c *Config) normalize() {
	d := Default()
	if c.Target == "" {
		c.Target = d.Target
	}
	if c.StackSize == 0 {
		c.StackSize = d.StackSize
	}
	if c.HeapSize == 0 {
		c.HeapSize = d.HeapSize
	}
	if c.KernelMinimum == "" {
		c.KernelMinimum = d.KernelMinimum
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every key and names the first bad one.
func (c Config) Validate() error {
	if c.BaseAddress%0x1000 != 0 {
		return fmt.Errorf("config: base_address %#x is not page aligned", c.BaseAddress)
	}
	if _, err := ParseVersion(c.KernelMinimum); err != nil {
		return fmt.Errorf("config: kernel_minimum: %w", err)
	}
	for i, capb := range c.Capabilities {
		if capb.Length == 0 {
			return fmt.Errorf("config: capabilities[%d]: length must be positive", i)
		}
		if capb.Base+uint64(capb.Length) < capb.Base {
			return fmt.Errorf("config: capabilities[%d]: region wraps the address space", i)
		}
	}
	return nil
}

// Base is the load address: the explicit override, else the kernel or user
// default.
func (c Config) Base() uint64 {
	switch {
	case c.BaseAddress != 0:
		return c.BaseAddress
	case c.Kernel:
		return elfwriter.KernelBase
	}
	return elfwriter.UserBase
}

// ManifestRecord builds the manifest fields the writer does not derive.
func (c Config) ManifestRecord() elfwriter.Manifest {
	// validated by Parse
	kmin, _ := ParseVersion(c.KernelMinimum)
	return elfwriter.Manifest{
		KernelMinimum: kmin,
		Flags:         uint32(c.Manifest),
		StackSize:     uint64(c.StackSize),
		HeapSize:      uint64(c.HeapSize),
		ChrononBudget: c.ChrononBudget,
		AtlasRegions:  c.AtlasRegions,
		AetherNodes:   c.AetherNodes,
	}
}

func (c Config) CapTemplates() []elfwriter.CapTemplate {
	out := make([]elfwriter.CapTemplate, len(c.Capabilities))
	for i, capb := range c.Capabilities {
		out[i] = elfwriter.CapTemplate{
			Base:        capb.Base,
			Length:      uint64(capb.Length),
			Permissions: uint32(capb.Permissions),
			Flags:       capb.Flags,
		}
	}
	return out
}

// ParseVersion packs a semantic version as major<<16 | minor<<8 | patch.
// The leading "v" is optional; prerelease and build suffixes are ignored.
func ParseVersion(s string) (uint32, error) {
	v := s
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return 0, fmt.Errorf("%q is not a semantic version", s)
	}
	v = semver.Canonical(v)
	v = strings.TrimSuffix(v, semver.Build(v))
	v = strings.TrimSuffix(v, semver.Prerelease(v))
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	var packed uint32
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%q: component %s does not fit in a byte", s, p)
		}
		packed = packed<<8 | uint32(n)
	}
	return packed, nil
}

// Size is a byte count written either as an integer or as a human size
// such as 8MiB.
type Size uint64

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", n.Line)
	}
	if v, err := strconv.ParseUint(n.Value, 0, 64); err == nil {
		*s = Size(v)
		return nil
	}
	v, err := units.RAMInBytes(n.Value)
	if err != nil || v < 0 {
		return fmt.Errorf("line %d: invalid size %q", n.Line, n.Value)
	}
	*s = Size(v)
	return nil
}

func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

func (s Size) String() string { return units.BytesSize(float64(s)) }

// Permissions is a capability permission mask written as letters from
// "rwxd" or as an integer.
type Permissions uint32

func (p *Permissions) UnmarshalYAML(n *yaml.Node) error {
	if v, err := strconv.ParseUint(n.Value, 0, 32); err == nil {
		if int64(v)&^ir.PermAll != 0 {
			return fmt.Errorf("line %d: permission mask %#x has unknown bits", n.Line, v)
		}
		*p = Permissions(v)
		return nil
	}
	var mask int64
	for _, r := range strings.ToLower(n.Value) {
		switch r {
		case 'r':
			mask |= ir.PermRead
		case 'w':
			mask |= ir.PermWrite
		case 'x':
			mask |= ir.PermExec
		case 'd':
			mask |= ir.PermDerive
		case '-':
		default:
			return fmt.Errorf("line %d: unknown permission %q in %q", n.Line, r, n.Value)
		}
	}
	*p = Permissions(mask)
	return nil
}

func (p Permissions) String() string {
	var sb strings.Builder
	for _, x := range []struct {
		bit int64
		c   byte
	}{{ir.PermRead, 'r'}, {ir.PermWrite, 'w'}, {ir.PermExec, 'x'}, {ir.PermDerive, 'd'}} {
		if int64(p)&x.bit != 0 {
			sb.WriteByte(x.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}
