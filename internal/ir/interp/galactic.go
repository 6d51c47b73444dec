package interp

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/ir"
)

func (mc *Machine) execGalactic(in *ir.Instr, args []Cell) (Cell, error) {
	rt := in.Result.Type
	for i, a := range in.Args {
		if isVoid(a.Type, args[i]) {
			return voidOf(rt), nil
		}
	}
	switch in.Op {
	case ir.OpGalacticAdd:
		return GalacticCell(decodeGalactic(args[0].Bytes).Add(decodeGalactic(args[1].Bytes))), nil
	case ir.OpGalacticMul:
		return GalacticCell(decodeGalactic(args[0].Bytes).Mul(decodeGalactic(args[1].Bytes))), nil
	case ir.OpGalacticDiv:
		q, ok := decodeGalactic(args[0].Bytes).Div(decodeGalactic(args[1].Bytes))
		if !ok {
			return voidOf(rt), nil
		}
		return GalacticCell(q), nil
	case ir.OpGalacticPredict:
		return ScalarCell(decodeGalactic(args[0].Bytes).Predict(decodeQ64(args[1].Bytes))), nil
	case ir.OpGalacticExtract:
		return ScalarCell(decodeGalactic(args[0].Bytes)[in.Imm]), nil
	case ir.OpGalacticInsert:
		g := decodeGalactic(args[0].Bytes)
		g[in.Imm] = decodeQ64(args[1].Bytes)
		return GalacticCell(g), nil
	case ir.OpToScalar:
		return ScalarCell(ir.Q64FromInt(int64(args[0].Bits))), nil
	case ir.OpFromScalar:
		n := uint64(decodeQ64(args[0].Bytes).Int())
		if (!rt.IsSigned() && int64(n) < 0) || !ir.Representable(rt, n) {
			return voidOf(rt), nil
		}
		return Reg(n), nil
	case ir.OpToGalactic:
		return GalacticCell(ir.Galactic{decodeQ64(args[0].Bytes)}), nil
	case ir.OpFromGalactic:
		return ScalarCell(decodeGalactic(args[0].Bytes)[0]), nil
	}
	return Cell{}, fmt.Errorf("interp: %s is not a galactic opcode", in.Op)
}
