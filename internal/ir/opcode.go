package ir

import "fmt"

// Opcode identifies the operation performed by an Instr.
type Opcode uint8

const (
	OpNop Opcode = iota

	// arithmetic, VOID-propagating
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// bitwise
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpSar

	// comparisons producing a Vbit
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpULt
	OpULe
	OpUGt
	OpUGe

	// VOID
	OpVoidTest
	OpVoidPropagate
	OpVoidAssert
	OpVoidCoalesce
	OpVoidConst

	// capabilities
	OpCapCreate
	OpCapLoad
	OpCapStore
	OpCapCheck
	OpCapNarrow
	OpCapSplit
	OpCapRevoke

	// memory
	OpLoad
	OpStore
	OpAlloca
	OpMemcpy
	OpMemset
	OpGEP
	OpExtractField
	OpInsertField
	OpExtractElem
	OpInsertElem

	// substrates
	OpSubstrateEnter
	OpSubstrateExit
	OpAtlasLoad
	OpAtlasStore
	OpAtlasBegin
	OpAtlasCommit
	OpAtlasRollback
	OpAetherLoad
	OpAetherStore
	OpAetherSync

	// control flow
	OpJump
	OpBranch
	OpSwitch
	OpCall
	OpCallIndirect
	OpSyscall
	OpTailCall
	OpReturn

	// galactic
	OpGalacticAdd
	OpGalacticMul
	OpGalacticDiv
	OpGalacticPredict
	OpGalacticExtract
	OpGalacticInsert

	// chronon
	OpChrononNow
	OpChrononDelta
	OpChrononBudget
	OpChrononYield

	// conversions
	OpTrunc
	OpZext
	OpSext
	OpBitcast
	OpToScalar
	OpFromScalar
	OpToGalactic
	OpFromGalactic

	// misc
	OpPhi
	OpSelect
	OpUnreachable
	OpTrap

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpNop:             "nop",
	OpAdd:             "add",
	OpSub:             "sub",
	OpMul:             "mul",
	OpDiv:             "div",
	OpMod:             "mod",
	OpNeg:             "neg",
	OpAnd:             "and",
	OpOr:              "or",
	OpXor:             "xor",
	OpNot:             "not",
	OpShl:             "shl",
	OpShr:             "shr",
	OpSar:             "sar",
	OpEq:              "eq",
	OpNe:              "ne",
	OpLt:              "lt",
	OpLe:              "le",
	OpGt:              "gt",
	OpGe:              "ge",
	OpULt:             "ult",
	OpULe:             "ule",
	OpUGt:             "ugt",
	OpUGe:             "uge",
	OpVoidTest:        "void.test",
	OpVoidPropagate:   "void.propagate",
	OpVoidAssert:      "void.assert",
	OpVoidCoalesce:    "void.coalesce",
	OpVoidConst:       "void.const",
	OpCapCreate:       "cap.create",
	OpCapLoad:         "cap.load",
	OpCapStore:        "cap.store",
	OpCapCheck:        "cap.check",
	OpCapNarrow:       "cap.narrow",
	OpCapSplit:        "cap.split",
	OpCapRevoke:       "cap.revoke",
	OpLoad:            "load",
	OpStore:           "store",
	OpAlloca:          "alloca",
	OpMemcpy:          "memcpy",
	OpMemset:          "memset",
	OpGEP:             "gep",
	OpExtractField:    "extractfield",
	OpInsertField:     "insertfield",
	OpExtractElem:     "extractelem",
	OpInsertElem:      "insertelem",
	OpSubstrateEnter:  "substrate.enter",
	OpSubstrateExit:   "substrate.exit",
	OpAtlasLoad:       "atlas.load",
	OpAtlasStore:      "atlas.store",
	OpAtlasBegin:      "atlas.begin",
	OpAtlasCommit:     "atlas.commit",
	OpAtlasRollback:   "atlas.rollback",
	OpAetherLoad:      "aether.load",
	OpAetherStore:     "aether.store",
	OpAetherSync:      "aether.sync",
	OpJump:            "jump",
	OpBranch:          "branch",
	OpSwitch:          "switch",
	OpCall:            "call",
	OpCallIndirect:    "call.indirect",
	OpSyscall:         "syscall",
	OpTailCall:        "tailcall",
	OpReturn:          "ret",
	OpGalacticAdd:     "galactic.add",
	OpGalacticMul:     "galactic.mul",
	OpGalacticDiv:     "galactic.div",
	OpGalacticPredict: "galactic.predict",
	OpGalacticExtract: "galactic.extract",
	OpGalacticInsert:  "galactic.insert",
	OpChrononNow:      "chronon.now",
	OpChrononDelta:    "chronon.delta",
	OpChrononBudget:   "chronon.budget",
	OpChrononYield:    "chronon.yield",
	OpTrunc:           "trunc",
	OpZext:            "zext",
	OpSext:            "sext",
	OpBitcast:         "bitcast",
	OpToScalar:        "to.scalar",
	OpFromScalar:      "from.scalar",
	OpToGalactic:      "to.galactic",
	OpFromGalactic:    "from.galactic",
	OpPhi:             "phi",
	OpSelect:          "select",
	OpUnreachable:     "unreachable",
	OpTrap:            "trap",
}

func (op Opcode) String() string {
	if op < numOpcodes && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// OpcodeByName maps a textual mnemonic back to its Opcode.
func OpcodeByName(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpBranch, OpSwitch, OpReturn, OpUnreachable, OpTailCall:
		return true
	}
	return false
}

func (op Opcode) IsArithmetic() bool { return op >= OpAdd && op <= OpNeg }

func (op Opcode) IsBitwise() bool { return op >= OpAnd && op <= OpSar }

func (op Opcode) IsCompare() bool { return op >= OpEq && op <= OpUGe }

func (op Opcode) IsUnsignedCompare() bool { return op >= OpULt && op <= OpUGe }

func (op Opcode) IsCall() bool {
	switch op {
	case OpCall, OpCallIndirect, OpTailCall:
		return true
	}
	return false
}

// IsRuntimeCall reports whether op lowers to a call into the substrate
// runtime rather than inline code.
func (op Opcode) IsRuntimeCall() bool {
	switch op {
	case OpAtlasLoad, OpAtlasStore, OpAtlasBegin, OpAtlasCommit, OpAtlasRollback,
		OpAetherLoad, OpAetherStore, OpAetherSync, OpGalacticDiv:
		return true
	}
	return false
}

// HasSideEffect reports whether an instruction with op must be kept even
// when its result is unused.
func (op Opcode) HasSideEffect() bool {
	if op.IsTerminator() || op.IsCall() || op.IsRuntimeCall() {
		return true
	}
	switch op {
	case OpStore, OpCapStore, OpCapRevoke, OpMemcpy, OpMemset,
		OpSubstrateEnter, OpSubstrateExit,
		OpSyscall, OpTrap, OpVoidPropagate, OpVoidAssert, OpChrononYield:
		return true
	}
	return false
}

// RuntimeSymbol names the external routine an opcode lowers to.
func (op Opcode) RuntimeSymbol() string {
	switch op {
	case OpAtlasLoad:
		return "seraph_atlas_load"
	case OpAtlasStore:
		return "seraph_atlas_store"
	case OpAtlasBegin:
		return "seraph_atlas_begin"
	case OpAtlasCommit:
		return "seraph_atlas_commit"
	case OpAtlasRollback:
		return "seraph_atlas_rollback"
	case OpAetherLoad:
		return "seraph_aether_load"
	case OpAetherStore:
		return "seraph_aether_store"
	case OpAetherSync:
		return "seraph_aether_sync"
	case OpGalacticDiv:
		return "seraph_galactic_div"
	}
	return ""
}
