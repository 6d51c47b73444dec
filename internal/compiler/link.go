package compiler

import (
	"github.com/tinyrange/seraph/internal/config"
	"github.com/tinyrange/seraph/internal/elfwriter"
	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/ir/backend"
	"github.com/tinyrange/seraph/internal/proof"
)

// link places out in an ELF image and attaches the manifest, effect
// declarations, capability templates and proof blob.
func link(m *ir.Module, out *backend.Output, tab *proof.Table, cfg config.Config) (*elfwriter.Writer, error) {
	w := elfwriter.New(out.Target.Machine)
	w.SetBase(cfg.Base())
	w.SetRodata(out.Rodata)
	w.SetData(out.Data)
	w.SetBSS(out.BSSSize)
	// the layout depends only on sizes, so place the unrelocated code first
	w.SetCode(out.Code)
	l := w.Layout()
	code := append([]byte(nil), out.Code...)
	if err := out.Relocate(code, backend.Layout{Text: l.Text, Rodata: l.Rodata, Data: l.Data, BSS: l.BSS}); err != nil {
		return nil, err
	}
	w.SetCode(code)
	w.SetEntry(uint64(out.Entry))

	w.SetManifest(cfg.ManifestRecord())
	for _, c := range cfg.CapTemplates() {
		w.AddCapability(c)
	}
	for _, d := range EffectDecls(m) {
		w.AddEffect(d)
	}
	if tab.Len() > 0 {
		w.SetProofs(ProofBlob(m.Name, tab))
	}
	return w, nil
}

// EffectDecls describes every defined function: its declared effects, the
// union of the effects its instructions carry, and the capability
// permissions it exercises.
func EffectDecls(m *ir.Module) []elfwriter.EffectDecl {
	var out []elfwriter.EffectDecl
	for i, fn := range m.Functions() {
		if fn.External {
			continue
		}
		d := elfwriter.EffectDecl{FunctionID: uint32(i), Declared: uint32(fn.Effects)}
		var verified ir.Effect
		var perms int64
		for _, b := range fn.Blocks() {
			for in := b.First(); in != nil; in = in.Next() {
				verified |= in.Effects
				switch in.Op {
				case ir.OpCapLoad:
					perms |= ir.PermRead
				case ir.OpCapStore:
					perms |= ir.PermWrite
				case ir.OpCapCheck:
					perms |= in.Imm
				case ir.OpCapNarrow, ir.OpCapSplit:
					perms |= ir.PermDerive
				}
			}
		}
		d.Verified = uint32(verified)
		d.RequiredCaps = uint32(perms)
		out = append(out, d)
	}
	return out
}

// ProofBlob serialises tab for the module called name. Locations are
// hashed with the module hash fnv1a(name).
func ProofBlob(name string, tab *proof.Table) []byte {
	b := proof.NewBuilder(proof.Hash(name))
	b.AddTable(tab)
	return b.Bytes()
}
