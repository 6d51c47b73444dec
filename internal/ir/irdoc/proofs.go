package irdoc

import (
	"fmt"

	"github.com/tinyrange/seraph/internal/proof"
)

// ProofTable converts the document's proof records into a table.
func ProofTable(doc *Document) (*proof.Table, error) {
	t := &proof.Table{}
	for i, pd := range doc.Proofs {
		p, err := pd.proof()
		if err != nil {
			return nil, fmt.Errorf("proofs[%d]: %w", i, err)
		}
		t.Add(p)
	}
	return t, nil
}

func (pd ProofDecl) proof() (proof.Proof, error) {
	kind, err := proof.ParseKind(pd.Kind)
	if err != nil {
		return proof.Proof{}, err
	}
	st, err := proof.ParseStatus(pd.Status)
	if err != nil {
		return proof.Proof{}, err
	}
	var p proof.Proof
	switch kind {
	case proof.KindBounds:
		if pd.IndexMin > pd.IndexMax {
			return proof.Proof{}, fmt.Errorf("bounds: index_min %d exceeds index_max %d", pd.IndexMin, pd.IndexMax)
		}
		p = proof.Bounds(pd.Location, st, pd.ArraySize, pd.IndexMin, pd.IndexMax)
	case proof.KindEffect:
		declared, err := parseEffects(pd.Declared)
		if err != nil {
			return proof.Proof{}, err
		}
		verified, err := parseEffects(pd.Verified)
		if err != nil {
			return proof.Proof{}, err
		}
		p = proof.Effects(pd.Location, st, uint32(declared), uint32(verified))
	case proof.KindPermission:
		p = proof.Permission(pd.Location, st, uint32(pd.Required), uint32(pd.Granted))
	case proof.KindGeneration:
		p = proof.Generation(pd.Location, st, pd.Generation)
	default:
		p = proof.Proof{Kind: kind, Status: st, Location: pd.Location}
	}
	p.Flags = pd.Flags
	p.Meta = pd.Meta
	return p, nil
}
