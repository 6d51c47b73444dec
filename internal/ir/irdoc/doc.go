// Package irdoc reads SERAPH IR modules written as YAML documents.
//
// A document names its types, globals, externals and functions; each
// function is a list of blocks and each block a list of instructions
// spelled with the IR mnemonics:
//
//	module: demo
//	functions:
//	  - name: main
//	    returns: i64
//	    blocks:
//	      - name: entry
//	        instrs:
//	          - {op: add, def: x, args: [40, 2]}
//	          - {op: ret, args: [x]}
//
// Operands are parameter references (%0), names bound by an earlier def,
// integer or boolean literals, or single-key mappings for other constants
// such as {void: i64}, {string: "hi\n"}, {fn: add3}, {global: counter}
// and {scalar: 1/3}.
package irdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the decoded form of an IR file.
type Document struct {
	Module    string       `yaml:"module"`
	Types     []TypeDecl   `yaml:"types,omitempty"`
	Globals   []GlobalDecl `yaml:"globals,omitempty"`
	Externals []FuncDecl   `yaml:"externals,omitempty"`
	Functions []FuncDecl   `yaml:"functions"`
	Proofs    []ProofDecl  `yaml:"proofs,omitempty"`
}

// TypeDecl names a struct or enum type.
type TypeDecl struct {
	Name   string        `yaml:"name"`
	Struct []FieldDecl   `yaml:"struct,omitempty"`
	Enum   []VariantDecl `yaml:"enum,omitempty"`
}

type FieldDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type VariantDecl struct {
	Name         string `yaml:"name"`
	Payload      string `yaml:"payload,omitempty"`
	Discriminant int64  `yaml:"discriminant"`
}

// GlobalDecl defines a module-level variable. Init is stored little-endian
// in the first bytes of the variable; Data is an escaped string literal.
type GlobalDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Init *int64 `yaml:"init,omitempty"`
	Data string `yaml:"data,omitempty"`
}

// FuncDecl is a function definition, or an external declaration when it
// has no blocks.
type FuncDecl struct {
	Name    string      `yaml:"name"`
	Returns string      `yaml:"returns,omitempty"`
	Params  []string    `yaml:"params,omitempty"`
	Effects []string    `yaml:"effects,omitempty"`
	Blocks  []BlockDecl `yaml:"blocks,omitempty"`
}

type BlockDecl struct {
	Name      string      `yaml:"name"`
	Substrate string      `yaml:"substrate,omitempty"`
	Instrs    []InstrDecl `yaml:"instrs"`
}

// InstrDecl is one instruction. Type is the result or accessed type for
// the operations that take one; CType types integer literal operands.
type InstrDecl struct {
	Op        string         `yaml:"op"`
	Def       string         `yaml:"def,omitempty"`
	Defs      []string       `yaml:"defs,omitempty"`
	Args      []yaml.Node    `yaml:"args,omitempty"`
	Type      string         `yaml:"type,omitempty"`
	CType     string         `yaml:"ctype,omitempty"`
	Targets   []string       `yaml:"targets,omitempty"`
	Callee    string         `yaml:"callee,omitempty"`
	Imm       int64          `yaml:"imm,omitempty"`
	Substrate string         `yaml:"substrate,omitempty"`
	Cases     []CaseDecl     `yaml:"cases,omitempty"`
	Incoming  []IncomingDecl `yaml:"incoming,omitempty"`
	Line      uint32         `yaml:"line,omitempty"`
	Column    uint32         `yaml:"column,omitempty"`
}

type CaseDecl struct {
	Value  int64  `yaml:"value"`
	Target string `yaml:"target"`
}

type IncomingDecl struct {
	Value yaml.Node `yaml:"value"`
	From  string    `yaml:"from"`
}

// ProofDecl is a proof record attached to the compiled module. Only the
// fields that belong to Kind are read.
type ProofDecl struct {
	Kind       string   `yaml:"kind"`
	Status     string   `yaml:"status"`
	Location   uint32   `yaml:"location"`
	Flags      uint16   `yaml:"flags,omitempty"`
	ArraySize  uint64   `yaml:"array_size,omitempty"`
	IndexMin   int64    `yaml:"index_min,omitempty"`
	IndexMax   int64    `yaml:"index_max,omitempty"`
	Declared   []string `yaml:"declared,omitempty"`
	Verified   []string `yaml:"verified,omitempty"`
	Required   uint64   `yaml:"required,omitempty"`
	Granted    uint64   `yaml:"granted,omitempty"`
	Generation uint64   `yaml:"generation,omitempty"`
	Meta       uint64   `yaml:"meta,omitempty"`
}

// Load reads and decodes the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ir: %w", err)
	}
	return Parse(data)
}

// Parse decodes a document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse ir: empty document")
		}
		return nil, fmt.Errorf("parse ir: %w", err)
	}
	if doc.Module == "" {
		return nil, errors.New("parse ir: missing module name")
	}
	return &doc, nil
}
