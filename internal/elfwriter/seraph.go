package elfwriter

import (
	"encoding/binary"
	"hash/fnv"
)

// Custom section and segment types in the OS-specific range.
const (
	SHTProofs   = 0x60000001
	SHTEffects  = 0x60000002
	SHTCaps     = 0x60000003
	SHTManifest = 0x60000004

	PTSeraph = 0x60000000
)

const (
	ManifestMagic   = "SERM"
	ManifestVersion = 1
	ManifestSize    = 128

	EffectDeclSize  = 16
	CapTemplateSize = 24
)

// Manifest is the single record of .seraph.manifest.
//
//	0   magic "SERM"          4
//	4   version               4
//	8   kernel minimum        4  major<<16 | minor<<8 | patch
//	12  flags                 4
//	16  entry point           8
//	24  stack size            8
//	32  heap size             8
//	40  chronon budget        8
//	48  atlas regions         4
//	52  aether nodes          4
//	56  capability templates  4
//	60  effect declarations   4
//	64  proof root           32
//	96  reserved             32
type Manifest struct {
	KernelMinimum uint32
	Flags         uint32
	StackSize     uint64
	HeapSize      uint64
	ChrononBudget uint64
	AtlasRegions  uint32
	AetherNodes   uint32
}

// PackVersion packs a major.minor.patch triple the way the manifest and
// proof blob store it.
func PackVersion(major, minor, patch uint8) uint32 {
	return uint32(major)<<16 | uint32(minor)<<8 | uint32(patch)
}

func (m Manifest) encode(entry uint64, caps, effects uint32, root [32]byte) []byte {
	b := make([]byte, ManifestSize)
	copy(b, ManifestMagic)
	le := binary.LittleEndian
	le.PutUint32(b[4:], ManifestVersion)
	le.PutUint32(b[8:], m.KernelMinimum)
	le.PutUint32(b[12:], m.Flags)
	le.PutUint64(b[16:], entry)
	le.PutUint64(b[24:], m.StackSize)
	le.PutUint64(b[32:], m.HeapSize)
	le.PutUint64(b[40:], m.ChrononBudget)
	le.PutUint32(b[48:], m.AtlasRegions)
	le.PutUint32(b[52:], m.AetherNodes)
	le.PutUint32(b[56:], caps)
	le.PutUint32(b[60:], effects)
	copy(b[64:96], root[:])
	return b
}

// EffectDecl records the declared and verified effects of one function.
type EffectDecl struct {
	FunctionID   uint32
	Declared     uint32
	Verified     uint32
	RequiredCaps uint32
}

func (e EffectDecl) encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], e.FunctionID)
	le.PutUint32(b[4:], e.Declared)
	le.PutUint32(b[8:], e.Verified)
	le.PutUint32(b[12:], e.RequiredCaps)
}

// CapTemplate describes a capability the loader grants at startup.
type CapTemplate struct {
	Base        uint64
	Length      uint64
	Permissions uint32
	Flags       uint32
}

func (c CapTemplate) encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint64(b[0:], c.Base)
	le.PutUint64(b[8:], c.Length)
	le.PutUint32(b[16:], c.Permissions)
	le.PutUint32(b[20:], c.Flags)
}

// ProofRoot fingerprints a serialized proof table: the 64-bit FNV-1a of
// its bytes, repeated across 32 bytes. It is not a cryptographic
// commitment. An empty table has an all-zero root.
func ProofRoot(proofs []byte) [32]byte {
	var root [32]byte
	if len(proofs) == 0 {
		return root
	}
	h := fnv.New64a()
	h.Write(proofs)
	sum := h.Sum64()
	for i := 0; i < len(root); i += 8 {
		binary.LittleEndian.PutUint64(root[i:], sum)
	}
	return root
}
