// Package proof holds the checker's safety proofs and their binary blob
// form: a hash-indexed table embedded in executables and queried at run
// time to elide checks that were proven statically.
package proof

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// Kind is the property a proof establishes.
type Kind uint8

const (
	KindBounds Kind = iota
	KindVoid
	KindEffect
	KindPermission
	KindGeneration
	KindSubstrate
	KindType
	KindInit
	KindOverflow
	KindNull
	KindInvariant
	KindTermination
	numKinds
)

var kindNames = [...]string{
	KindBounds:      "bounds",
	KindVoid:        "void",
	KindEffect:      "effect",
	KindPermission:  "permission",
	KindGeneration:  "generation",
	KindSubstrate:   "substrate",
	KindType:        "type",
	KindInit:        "init",
	KindOverflow:    "overflow",
	KindNull:        "null",
	KindInvariant:   "invariant",
	KindTermination: "termination",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts the lower-case names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown proof kind %q", s)
}

// Status is the checker's verdict for one site.
type Status uint8

const (
	StatusProven Status = iota
	StatusAssumed
	StatusRuntime
	StatusFailed
	StatusSkipped
	numStatuses
)

var statusNames = [...]string{
	StatusProven:  "proven",
	StatusAssumed: "assumed",
	StatusRuntime: "runtime",
	StatusFailed:  "failed",
	StatusSkipped: "skipped",
}

func (s Status) String() string {
	if s < numStatuses {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(st), nil
		}
	}
	return 0, fmt.Errorf("unknown proof status %q", s)
}

// Proof is one checker result. Payload is interpreted per kind; the typed
// constructors and accessors below fix the layouts in use.
type Proof struct {
	Kind     Kind
	Status   Status
	Flags    uint16
	Location uint32
	Meta     uint64
	Payload  [3]uint64
}

// Bounds builds a bounds proof for an index range into an array of size
// elements.
func Bounds(loc uint32, st Status, size uint64, min, max int64) Proof {
	return Proof{
		Kind:     KindBounds,
		Status:   st,
		Location: loc,
		Payload:  [3]uint64{size, uint64(min), uint64(max)},
	}
}

// BoundsRange returns the array size and index range of a bounds proof.
func (p Proof) BoundsRange() (size uint64, min, max int64) {
	return p.Payload[0], int64(p.Payload[1]), int64(p.Payload[2])
}

// Effects builds an effect-contract proof.
func Effects(loc uint32, st Status, declared, verified uint32) Proof {
	return Proof{
		Kind:     KindEffect,
		Status:   st,
		Location: loc,
		Payload:  [3]uint64{uint64(declared), uint64(verified)},
	}
}

func (p Proof) EffectSets() (declared, verified uint32) {
	return uint32(p.Payload[0]), uint32(p.Payload[1])
}

// Permission builds a permission proof: granted covers required.
func Permission(loc uint32, st Status, required, granted uint32) Proof {
	return Proof{
		Kind:     KindPermission,
		Status:   st,
		Location: loc,
		Payload:  [3]uint64{uint64(required), uint64(granted)},
	}
}

func (p Proof) Permissions() (required, granted uint32) {
	return uint32(p.Payload[0]), uint32(p.Payload[1])
}

// Generation builds a generation proof pinning the capability generation
// observed at the site.
func Generation(loc uint32, st Status, gen uint64) Proof {
	return Proof{
		Kind:     KindGeneration,
		Status:   st,
		Location: loc,
		Payload:  [3]uint64{gen},
	}
}

// Table is the unordered proof collection a checker publishes.
type Table struct {
	Proofs []Proof
}

func (t *Table) Add(p Proof) { t.Proofs = append(t.Proofs, p) }

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Proofs)
}

// Count returns how many proofs carry status st.
func (t *Table) Count(st Status) int {
	n := 0
	for _, p := range t.Proofs {
		if p.Status == st {
			n++
		}
	}
	return n
}

// Hash is the 64-bit FNV-1a of s. Module and function hashes use it.
func Hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// LocationHash keys a proof table entry: FNV-1a over the little-endian
// module hash followed by the little-endian location.
func LocationHash(module uint64, loc uint32) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint64(b[0:], module)
	binary.LittleEndian.PutUint32(b[8:], loc)
	h := fnv.New64a()
	h.Write(b[:])
	return h.Sum64()
}

// SiteHash keys a check site inside a function by statement offset and
// expression index.
func SiteHash(module, function uint64, offset, expr uint32) uint64 {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], module)
	binary.LittleEndian.PutUint64(b[8:], function)
	binary.LittleEndian.PutUint32(b[16:], offset)
	binary.LittleEndian.PutUint32(b[20:], expr)
	h := fnv.New64a()
	h.Write(b[:])
	return h.Sum64()
}
