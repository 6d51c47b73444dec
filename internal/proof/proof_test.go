package proof

import (
	"encoding/binary"
	"errors"
	"testing"
)

func demo() (*Builder, []byte) {
	h := Hash("demo")
	b := NewBuilder(h)
	b.AddTable(&Table{Proofs: []Proof{
		Bounds(10, StatusProven, 16, 0, 15),
		{Kind: KindVoid, Status: StatusRuntime, Location: 20},
	}})
	return b, b.Bytes()
}

func TestRoundTrip(t *testing.T) {
	_, blob := demo()
	v, ok, err := Load(blob, true)
	if err != nil || ok != True {
		t.Fatalf("Load=%v, %v", ok, err)
	}
	h := Hash("demo")
	for _, tt := range []struct {
		loc  uint32
		kind Kind
		want Status
	}{
		{10, KindBounds, StatusProven},
		{10, KindVoid, StatusSkipped},
		{20, KindVoid, StatusRuntime},
		{30, KindBounds, StatusSkipped},
	} {
		if got := v.Query(LocationHash(h, tt.loc), tt.kind); got != tt.want {
			t.Fatalf("query(%d, %v)=%v, want %v", tt.loc, tt.kind, got, tt.want)
		}
	}
	s := v.Stats()
	if s.Total != 2 || s.Proven() != 1 || s.Runtime() != 1 {
		t.Fatalf("stats=%+v", s)
	}
	if s.Queries != 4 || s.Hits != 2 || s.Misses != 2 {
		t.Fatalf("counters=%d/%d/%d, want 4/2/2", s.Queries, s.Hits, s.Misses)
	}
	if v.ModuleHash() != h || v.Version() != Version || v.Generation() != 1 {
		t.Fatalf("header hash=%#x version=%#x generation=%d", v.ModuleHash(), v.Version(), v.Generation())
	}
	size, min, max := v.Proof(0).BoundsRange()
	if size != 16 || min != 0 || max != 15 {
		t.Fatalf("bounds=%d [%d,%d]", size, min, max)
	}
}

func TestTamperDetected(t *testing.T) {
	_, blob := demo()
	blob[20] ^= 0xFF
	if _, ok, err := Load(blob, true); ok != False || !errors.Is(err, ErrChecksum) {
		t.Fatalf("Load=%v, %v, want false with checksum error", ok, err)
	}
}

func TestEveryByteCovered(t *testing.T) {
	_, blob := demo()
	end := binary.LittleEndian.Uint64(blob[40:])
	for i := uint64(0); i < end; i++ {
		mutated := append([]byte(nil), blob...)
		mutated[i] ^= 0x01
		if _, ok, _ := Load(mutated, true); ok == True {
			t.Fatalf("flip at %d accepted", i)
		}
	}
}

func TestUnverifiedViewNeverProves(t *testing.T) {
	_, blob := demo()
	v, ok, err := Load(blob, false)
	if err != nil || ok != True {
		t.Fatalf("Load=%v, %v", ok, err)
	}
	hash := LocationHash(Hash("demo"), 10)
	if v.Query(hash, KindBounds) != StatusProven {
		t.Fatalf("query through unverified view")
	}
	if IsProven(v, hash, KindBounds) {
		t.Fatalf("IsProven accepted an unverified view")
	}
	if IsProven(nil, hash, KindBounds) {
		t.Fatalf("IsProven accepted a nil view")
	}

	v, _, _ = Load(blob, true)
	if !IsProven(v, hash, KindBounds) || IsProven(v, hash, KindVoid) {
		t.Fatalf("IsProven disagrees with the table")
	}
}

func TestFinalizeSizeQuery(t *testing.T) {
	b, _ := demo()
	n, err := b.Finalize(nil)
	if err != nil || n != b.Size() {
		t.Fatalf("Finalize(nil)=%d, %v, want %d", n, err, b.Size())
	}
	// 16 buckets, 2 entries, 2 records
	if want := HeaderSize + 16*4 + 2*EntrySize + 2*RecordSize + ChecksumSize; n != want {
		t.Fatalf("size=%d, want %d", n, want)
	}
	if _, err := b.Finalize(make([]byte, n-1)); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short buffer err=%v", err)
	}
	buf := make([]byte, n)
	if _, err := b.Finalize(buf); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if g := binary.LittleEndian.Uint64(buf[56:]); g != 2 {
		t.Fatalf("generation=%d, want 2 after second write", g)
	}
}

func TestBucketCount(t *testing.T) {
	for _, tt := range []struct {
		n    int
		want uint32
	}{
		{0, 16}, {12, 16}, {13, 32}, {24, 32}, {25, 64}, {1000, 2048},
	} {
		if got := bucketCount(tt.n); got != tt.want {
			t.Fatalf("bucketCount(%d)=%d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestDuplicateKeysChain(t *testing.T) {
	b := NewBuilder(1)
	// 16 buckets: hashes 3, 19 and 35 share bucket 3
	b.Add(3, Proof{Kind: KindNull, Status: StatusFailed})
	b.Add(19, Proof{Kind: KindNull, Status: StatusProven})
	b.Add(35, Proof{Kind: KindInit, Status: StatusAssumed})
	b.Add(19, Proof{Kind: KindInit, Status: StatusRuntime})
	v, _, err := Load(b.Bytes(), true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Query(3, KindNull) != StatusFailed || v.Query(19, KindNull) != StatusProven ||
		v.Query(35, KindInit) != StatusAssumed || v.Query(19, KindInit) != StatusRuntime {
		t.Fatalf("chained lookups disagree")
	}

	// every chain entry hashes to its bucket and terminates
	for bucket := uint32(0); bucket < v.buckets; bucket++ {
		steps := 0
		for i := v.bucket(bucket); i != Empty; steps++ {
			hash, idx, next := v.entry(i)
			if uint32(hash%uint64(v.buckets)) != bucket || idx >= v.count || steps > 4 {
				t.Fatalf("bucket %d: entry %d hash %d proof %d", bucket, i, hash, idx)
			}
			i = next
		}
	}
}

func TestLoadErrors(t *testing.T) {
	_, blob := demo()

	if _, ok, err := Load(nil, true); ok != Void || !errors.Is(err, ErrTruncated) {
		t.Fatalf("nil: %v, %v", ok, err)
	}
	bad := append([]byte(nil), blob...)
	bad[0] = 'X'
	if _, ok, err := Load(bad, false); ok != False || !errors.Is(err, ErrBadMagic) {
		t.Fatalf("magic: %v, %v", ok, err)
	}
	bad = append([]byte(nil), blob...)
	binary.LittleEndian.PutUint32(bad[8:], 2<<16)
	if _, ok, err := Load(bad, false); ok != False || !errors.Is(err, ErrVersion) {
		t.Fatalf("version: %v, %v", ok, err)
	}
	if _, _, err := Load(blob[:len(blob)-1], false); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short: %v", err)
	}

	// minor and patch differences are readable
	newer := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint32(newer[8:], 1<<16|3<<8|7)
	if _, ok, err := Load(newer, false); ok != True {
		t.Fatalf("v1.3.7: %v, %v", ok, err)
	}
}

func TestParseNames(t *testing.T) {
	for k := KindBounds; k < numKinds; k++ {
		if got, err := ParseKind(k.String()); err != nil || got != k {
			t.Fatalf("ParseKind(%q)=%v, %v", k, got, err)
		}
	}
	for s := StatusProven; s < numStatuses; s++ {
		if got, err := ParseStatus(s.String()); err != nil || got != s {
			t.Fatalf("ParseStatus(%q)=%v, %v", s, got, err)
		}
	}
	if _, err := ParseKind("nonsense"); err == nil {
		t.Fatalf("ParseKind accepted nonsense")
	}
	if VersionString(Version) != "v1.0.0" {
		t.Fatalf("VersionString=%s", VersionString(Version))
	}
}
