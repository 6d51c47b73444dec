package proof

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// Blob layout. All integers are little-endian.
//
//	header   64 bytes
//	buckets  bucketCount x u32 chain heads, Empty when unused
//	entries  count x {code hash u64, proof index u32, next u32}
//	records  count x 40 bytes
//	checksum SHA-256 of every preceding byte
//
// Header fields:
//
//	0  magic "SRPHPROF"   8   version        12 flags
//	16 proof count        20  bucket count   24 index offset
//	32 records offset     40  checksum offset
//	48 module hash        56  generation
const (
	Magic = "SRPHPROF"

	HeaderSize   = 64
	EntrySize    = 16
	RecordSize   = 40
	ChecksumSize = sha256.Size

	Empty = 0xFFFFFFFF

	minBuckets = 16
)

// Version is the blob format this package writes, packed major<<16 |
// minor<<8 | patch.
const Version = 1<<16 | 0<<8 | 0

var (
	ErrBadMagic  = errors.New("proof blob: bad magic")
	ErrVersion   = errors.New("proof blob: incompatible version")
	ErrTruncated = errors.New("proof blob: truncated")
	ErrChecksum  = errors.New("proof blob: checksum mismatch")
)

// VersionString renders a packed version in semver form.
func VersionString(v uint32) string {
	return fmt.Sprintf("v%d.%d.%d", v>>16&0xFF, v>>8&0xFF, v&0xFF)
}

// Compatible reports whether a blob written with version v can be read by
// this package: the major versions must match.
func Compatible(v uint32) bool {
	return semver.Major(VersionString(v)) == semver.Major(VersionString(Version))
}

func bucketCount(n int) uint32 {
	want := (4*n + 2) / 3
	if want < minBuckets {
		want = minBuckets
	}
	b := uint32(1)
	for int(b) < want {
		b <<= 1
	}
	return b
}

type layout struct {
	buckets  uint32
	index    uint64
	records  uint64
	checksum uint64
}

func layoutFor(n int) layout {
	l := layout{buckets: bucketCount(n), index: HeaderSize}
	l.records = l.index + uint64(l.buckets)*4 + uint64(n)*EntrySize
	l.checksum = l.records + uint64(n)*RecordSize
	return l
}

func (l layout) size() int { return int(l.checksum) + ChecksumSize }

// Builder accumulates proofs keyed by code hash and serializes them.
type Builder struct {
	ModuleHash uint64
	Flags      uint32

	hashes     []uint64
	proofs     []Proof
	generation uint64
}

func NewBuilder(moduleHash uint64) *Builder {
	return &Builder{ModuleHash: moduleHash}
}

func (b *Builder) Add(codeHash uint64, p Proof) {
	b.hashes = append(b.hashes, codeHash)
	b.proofs = append(b.proofs, p)
}

// AddTable adds every proof in t keyed by its location hash.
func (b *Builder) AddTable(t *Table) {
	if t == nil {
		return
	}
	for _, p := range t.Proofs {
		b.Add(LocationHash(b.ModuleHash, p.Location), p)
	}
}

func (b *Builder) Len() int { return len(b.proofs) }

// Size is the exact number of bytes Finalize writes.
func (b *Builder) Size() int { return layoutFor(len(b.proofs)).size() }

// Finalize serializes the blob into buf and returns the number of bytes
// written. With a nil buf it writes nothing and returns the required size.
// Each writing call advances the builder's generation.
func (b *Builder) Finalize(buf []byte) (int, error) {
	l := layoutFor(len(b.proofs))
	size := l.size()
	if buf == nil {
		return size, nil
	}
	if len(buf) < size {
		return 0, fmt.Errorf("finalize into %d bytes, need %d: %w", len(buf), size, ErrTruncated)
	}
	buf = buf[:size]
	b.generation++

	le := binary.LittleEndian
	copy(buf[0:8], Magic)
	le.PutUint32(buf[8:], Version)
	le.PutUint32(buf[12:], b.Flags)
	le.PutUint32(buf[16:], uint32(len(b.proofs)))
	le.PutUint32(buf[20:], l.buckets)
	le.PutUint64(buf[24:], l.index)
	le.PutUint64(buf[32:], l.records)
	le.PutUint64(buf[40:], l.checksum)
	le.PutUint64(buf[48:], b.ModuleHash)
	le.PutUint64(buf[56:], b.generation)

	buckets := buf[l.index : l.index+uint64(l.buckets)*4]
	for i := uint32(0); i < l.buckets; i++ {
		le.PutUint32(buckets[i*4:], Empty)
	}
	entries := buf[l.index+uint64(l.buckets)*4 : l.records]
	for i, h := range b.hashes {
		bucket := uint32(h % uint64(l.buckets))
		e := entries[i*EntrySize:]
		le.PutUint64(e[0:], h)
		le.PutUint32(e[8:], uint32(i))
		le.PutUint32(e[12:], le.Uint32(buckets[bucket*4:]))
		le.PutUint32(buckets[bucket*4:], uint32(i))
	}
	for i, p := range b.proofs {
		encodeRecord(buf[l.records+uint64(i)*RecordSize:], p)
	}

	sum := sha256.Sum256(buf[:l.checksum])
	copy(buf[l.checksum:], sum[:])
	return size, nil
}

// Bytes allocates and finalizes a blob.
func (b *Builder) Bytes() []byte {
	buf := make([]byte, b.Size())
	// cannot fail: buf has the required size
	b.Finalize(buf)
	return buf
}

//	0 kind u8   1 status u8   2 flags u16   4 location u32
//	8 meta u64  16 payload 3 x u64
func encodeRecord(b []byte, p Proof) {
	le := binary.LittleEndian
	b[0] = byte(p.Kind)
	b[1] = byte(p.Status)
	le.PutUint16(b[2:], p.Flags)
	le.PutUint32(b[4:], p.Location)
	le.PutUint64(b[8:], p.Meta)
	for i, w := range p.Payload {
		le.PutUint64(b[16+8*i:], w)
	}
}

func decodeRecord(b []byte) Proof {
	le := binary.LittleEndian
	p := Proof{
		Kind:     Kind(b[0]),
		Status:   Status(b[1]),
		Flags:    le.Uint16(b[2:]),
		Location: le.Uint32(b[4:]),
		Meta:     le.Uint64(b[8:]),
	}
	for i := range p.Payload {
		p.Payload[i] = le.Uint64(b[16+8*i:])
	}
	return p
}
