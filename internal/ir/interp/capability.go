package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/seraph/internal/ir"
)

// capRecord mirrors the 32-byte capability layout.
type capRecord struct {
	base, length, gen, perms uint64
}

func decodeCap(c Cell) capRecord {
	b := c.Bytes
	return capRecord{
		base:   binary.LittleEndian.Uint64(b[ir.CapBaseOffset:]),
		length: binary.LittleEndian.Uint64(b[ir.CapLengthOffset:]),
		gen:    binary.LittleEndian.Uint64(b[ir.CapGenerationOffset:]),
		perms:  binary.LittleEndian.Uint64(b[ir.CapPermsOffset:]),
	}
}

func (r capRecord) cell() Cell {
	b := make([]byte, ir.CapRecordSize)
	binary.LittleEndian.PutUint64(b[ir.CapBaseOffset:], r.base)
	binary.LittleEndian.PutUint64(b[ir.CapLengthOffset:], r.length)
	binary.LittleEndian.PutUint64(b[ir.CapGenerationOffset:], r.gen)
	binary.LittleEndian.PutUint64(b[ir.CapPermsOffset:], r.perms)
	return Cell{Bytes: b}
}

// CapCell builds a capability argument for CallCells.
func CapCell(base, length, gen, perms uint64) Cell {
	return capRecord{base, length, gen, perms}.cell()
}

// check applies the generation, bounds and permission tests in the order the
// backends emit them.
func (mc *Machine) check(c Cell, off Cell, offType *ir.Type, need uint64) (capRecord, bool) {
	if c.Void || isVoid(offType, off) {
		return capRecord{}, false
	}
	r := decodeCap(c)
	if r.gen < mc.gen {
		return r, false
	}
	if off.Bits >= r.length {
		return r, false
	}
	if r.perms&need != need {
		return r, false
	}
	return r, true
}

func (mc *Machine) execCap(in *ir.Instr, args []Cell) (Cell, error) {
	switch in.Op {
	case ir.OpCapCreate:
		for i, a := range in.Args {
			if isVoid(a.Type, args[i]) {
				return voidOf(in.Result.Type), nil
			}
		}
		return capRecord{args[0].Bits, args[1].Bits, mc.gen, args[2].Bits}.cell(), nil

	case ir.OpCapLoad:
		r, ok := mc.check(args[0], args[1], in.Args[1].Type, uint64(ir.PermRead))
		if !ok {
			return voidOf(in.Type), nil
		}
		x, err := mc.mem.ReadUint(r.base+args[1].Bits, in.Type.Size())
		if err != nil {
			return Cell{}, err
		}
		return Reg(ir.Canonical(in.Type, x)), nil

	case ir.OpCapStore:
		r, ok := mc.check(args[0], args[1], in.Args[1].Type, uint64(ir.PermWrite))
		if !ok {
			return Cell{}, nil
		}
		return Cell{}, mc.mem.WriteUint(r.base+args[1].Bits, in.Type.Size(), args[2].Bits)

	case ir.OpCapCheck:
		_, ok := mc.check(args[0], args[1], in.Args[1].Type, uint64(in.Imm))
		return boolCell(ok), nil

	case ir.OpCapNarrow:
		if args[0].Void || isVoid(in.Args[1].Type, args[1]) || isVoid(in.Args[2].Type, args[2]) {
			return voidOf(in.Result.Type), nil
		}
		p := decodeCap(args[0])
		off, n := args[1].Bits, args[2].Bits
		if off > p.length || n > p.length-off {
			return voidOf(in.Result.Type), nil
		}
		return capRecord{p.base + off, n, p.gen, p.perms &^ uint64(ir.PermDerive)}.cell(), nil

	case ir.OpCapSplit:
		if args[0].Void || isVoid(in.Args[1].Type, args[1]) {
			return voidOf(in.Result.Type), nil
		}
		p := decodeCap(args[0])
		at := args[1].Bits
		if at > p.length {
			return voidOf(in.Result.Type), nil
		}
		if in.Imm == 0 {
			return capRecord{p.base, at, p.gen, p.perms}.cell(), nil
		}
		return capRecord{p.base + at, p.length - at, p.gen, p.perms}.cell(), nil

	case ir.OpCapRevoke:
		mc.gen++
		return Cell{}, nil
	}
	return Cell{}, fmt.Errorf("interp: %s is not a capability opcode", in.Op)
}
