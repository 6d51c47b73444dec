package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Tristate is the outcome of a structural operation. Void means the
// operation did not apply at all (no input, or too little of it to read a
// header) and False an ordinary rejection.
type Tristate int8

const (
	False Tristate = iota
	True
	Void
)

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "void"
	}
}

// View is a read-only window over a serialized blob. It borrows the
// buffer passed to Load; the buffer must outlive the view. Query only
// touches the atomic counters, so a view may be shared between
// goroutines.
type View struct {
	buf      []byte
	verified bool

	version    uint32
	flags      uint32
	count      uint32
	buckets    uint32
	index      uint64
	records    uint64
	checksum   uint64
	moduleHash uint64
	generation uint64

	queries atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// Load validates buf as a proof blob. The magic, major version and
// declared offsets are always checked; with verify the checksum is
// recomputed as well, and only then is the view marked verified.
func Load(buf []byte, verify bool) (*View, Tristate, error) {
	if len(buf) < HeaderSize {
		return nil, Void, fmt.Errorf("%d byte blob: %w", len(buf), ErrTruncated)
	}
	if !bytes.Equal(buf[0:8], []byte(Magic)) {
		return nil, False, ErrBadMagic
	}
	le := binary.LittleEndian
	v := &View{
		buf:        buf,
		version:    le.Uint32(buf[8:]),
		flags:      le.Uint32(buf[12:]),
		count:      le.Uint32(buf[16:]),
		buckets:    le.Uint32(buf[20:]),
		index:      le.Uint64(buf[24:]),
		records:    le.Uint64(buf[32:]),
		checksum:   le.Uint64(buf[40:]),
		moduleHash: le.Uint64(buf[48:]),
		generation: le.Uint64(buf[56:]),
	}
	if !Compatible(v.version) {
		return nil, False, fmt.Errorf("%s blob, reader is %s: %w",
			VersionString(v.version), VersionString(Version), ErrVersion)
	}
	size := uint64(len(buf))
	if v.index < HeaderSize || v.records < v.index || v.checksum < v.records ||
		v.checksum > size || size-v.checksum < ChecksumSize {
		return nil, False, fmt.Errorf("offsets %d/%d/%d in %d bytes: %w",
			v.index, v.records, v.checksum, size, ErrTruncated)
	}
	if verify {
		sum := sha256.Sum256(buf[:v.checksum])
		if !bytes.Equal(sum[:], buf[v.checksum:v.checksum+ChecksumSize]) {
			return nil, False, ErrChecksum
		}
	}
	// the tables must fill the space the offsets declare
	if v.buckets == 0 || v.buckets&(v.buckets-1) != 0 ||
		v.records-v.index != uint64(v.buckets)*4+uint64(v.count)*EntrySize ||
		v.checksum-v.records != uint64(v.count)*RecordSize {
		return nil, False, fmt.Errorf("%d proofs in %d buckets do not fit the declared offsets: %w",
			v.count, v.buckets, ErrTruncated)
	}
	v.verified = verify
	return v, True, nil
}

func (v *View) Verified() bool     { return v != nil && v.verified }
func (v *View) Version() uint32    { return v.version }
func (v *View) Flags() uint32      { return v.flags }
func (v *View) Len() int           { return int(v.count) }
func (v *View) ModuleHash() uint64 { return v.moduleHash }
func (v *View) Generation() uint64 { return v.generation }

func (v *View) bucket(i uint32) uint32 {
	return binary.LittleEndian.Uint32(v.buf[v.index+uint64(i)*4:])
}

func (v *View) entry(i uint32) (hash uint64, proof, next uint32) {
	e := v.buf[v.index+uint64(v.buckets)*4+uint64(i)*EntrySize:]
	le := binary.LittleEndian
	return le.Uint64(e[0:]), le.Uint32(e[8:]), le.Uint32(e[12:])
}

// Proof decodes record i.
func (v *View) Proof(i int) Proof {
	return decodeRecord(v.buf[v.records+uint64(i)*RecordSize:])
}

// Query returns the status recorded for codeHash and kind, or
// StatusSkipped when the blob holds no such proof. Chains are bounded by
// the entry count so a corrupt unverified blob cannot loop.
func (v *View) Query(codeHash uint64, kind Kind) Status {
	v.queries.Add(1)
	i := v.bucket(uint32(codeHash % uint64(v.buckets)))
	for steps := uint32(0); i != Empty && i < v.count && steps <= v.count; steps++ {
		hash, idx, next := v.entry(i)
		if hash == codeHash && idx < v.count {
			if p := v.Proof(int(idx)); p.Kind == kind {
				v.hits.Add(1)
				return p.Status
			}
		}
		i = next
	}
	v.misses.Add(1)
	return StatusSkipped
}

// IsProven is the check-site fast path: only a verified view can elide a
// check.
func IsProven(v *View, codeHash uint64, kind Kind) bool {
	if v == nil || !v.verified {
		return false
	}
	return v.Query(codeHash, kind) == StatusProven
}

// Stats summarises a loaded blob.
type Stats struct {
	Total    int
	ByStatus [numStatuses]int
	Queries  uint64
	Hits     uint64
	Misses   uint64
}

func (s Stats) Proven() int  { return s.ByStatus[StatusProven] }
func (s Stats) Runtime() int { return s.ByStatus[StatusRuntime] }

func (v *View) Stats() Stats {
	s := Stats{
		Total:   int(v.count),
		Queries: v.queries.Load(),
		Hits:    v.hits.Load(),
		Misses:  v.misses.Load(),
	}
	for i := 0; i < int(v.count); i++ {
		if st := v.Proof(i).Status; st < numStatuses {
			s.ByStatus[st]++
		}
	}
	return s
}
