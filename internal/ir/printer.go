package ir

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PrintOptions controls Fprint.
type PrintOptions struct {
	// Locations appends source positions to instructions that have one.
	Locations bool
}

// Fprint writes the textual form of m.
func Fprint(w io.Writer, m *Module, opts PrintOptions) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "module %s\n", m.Name)
	strs := m.Strings()
	for i := len(strs) - 1; i >= 0; i-- {
		fmt.Fprintf(bw, "string #%d = %s\n", strs[i].ID, strconv.Quote(string(strs[i].Bytes)))
	}
	for _, g := range m.Globals {
		fmt.Fprintf(bw, "global @%s : %s\n", g.Name, g.Type)
	}
	for f := m.first; f != nil; f = f.next {
		bw.WriteString("\n")
		printFunction(bw, f, opts)
	}
	return bw.Flush()
}

// String renders m with default options.
func (m *Module) String() string {
	var sb strings.Builder
	_ = Fprint(&sb, m, PrintOptions{})
	return sb.String()
}

func printFunction(w *bufio.Writer, f *Function, opts PrintOptions) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s: %s", p, p.Type)
	}
	kw := "fn"
	if f.External {
		kw = "extern fn"
	}
	fmt.Fprintf(w, "%s @%s(%s) -> %s %s", kw, f.Name, strings.Join(params, ", "), f.Type.Return, f.Effects)
	if f.External {
		w.WriteString("\n")
		return
	}
	w.WriteString(" {\n")
	for b := f.first; b != nil; b = b.next {
		fmt.Fprintf(w, "%s:", b.Label())
		if b.Substrate != SubstrateVolatile {
			fmt.Fprintf(w, " ; substrate %s", b.Substrate)
		}
		w.WriteString("\n")
		for in := b.first; in != nil; in = in.next {
			w.WriteString("  ")
			w.WriteString(FormatInstr(in))
			if opts.Locations && in.Loc.IsKnown() {
				fmt.Fprintf(w, " ; at %s", in.Loc)
			}
			w.WriteString("\n")
		}
	}
	w.WriteString("}\n")
}

func joinValues(vs []*Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// FormatInstr renders a single instruction.
func FormatInstr(in *Instr) string {
	var sb strings.Builder
	if in.Op == OpNop {
		sb.WriteString("nop")
		if in.Result != nil && in.Result.IsConst() {
			fmt.Fprintf(&sb, " ; folded %s %s", in.Result.Type, in.Result)
		}
		return sb.String()
	}
	if in.Result != nil {
		fmt.Fprintf(&sb, "%s = ", in.Result)
	}
	sb.WriteString(in.Op.String())
	if in.Result != nil {
		fmt.Fprintf(&sb, " %s", in.Result.Type)
	}

	switch in.Op {
	case OpJump:
		fmt.Fprintf(&sb, " %s", in.Targets[0].Label())
		return sb.String()
	case OpBranch:
		fmt.Fprintf(&sb, " %s, %s, %s", in.Args[0], in.Targets[0].Label(), in.Targets[1].Label())
		return sb.String()
	case OpSwitch:
		fmt.Fprintf(&sb, " %s, %s [", in.Args[0], in.Targets[0].Label())
		for i, c := range in.Cases {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%d: %s", c.Value, c.Target.Label())
		}
		sb.WriteString("]")
		return sb.String()
	case OpCall, OpTailCall:
		fmt.Fprintf(&sb, " @%s(%s)", in.Callee.Name, joinValues(in.Args))
		return sb.String()
	case OpCallIndirect:
		fmt.Fprintf(&sb, " %s(%s)", in.Args[0], joinValues(in.Args[1:]))
		return sb.String()
	case OpPhi:
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, " [%s, %s]", a, in.Incoming[i].Label())
		}
		return sb.String()
	case OpAlloca:
		fmt.Fprintf(&sb, " %s", in.Type)
		return sb.String()
	}

	if len(in.Args) > 0 {
		sb.WriteString(" ")
		sb.WriteString(joinValues(in.Args))
	}
	switch in.Op {
	case OpExtractField, OpInsertField, OpGalacticExtract, OpGalacticInsert, OpCapSplit:
		fmt.Fprintf(&sb, ", #%d", in.Imm)
	case OpCapCheck:
		fmt.Fprintf(&sb, ", perms=%#x", in.Imm)
	case OpSubstrateEnter:
		fmt.Fprintf(&sb, " %s", SubstrateKind(in.Imm))
	case OpStore, OpCapStore:
		fmt.Fprintf(&sb, " : %s", in.Type)
	}
	return sb.String()
}
