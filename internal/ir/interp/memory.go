package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/btree"
)

// region is one contiguous allocation.
type region struct {
	base uint64
	data []byte
	name string
}

// Memory is a sparse byte-addressed memory made of separately allocated
// regions. Accesses that do not fall entirely inside one region fault.
type Memory struct {
	regions *btree.BTreeG[*region]
	next    uint64
}

// memoryBase keeps simulated addresses away from zero and from the VOID
// sentinel.
const memoryBase = 0x10000

func NewMemory() *Memory {
	return &Memory{
		regions: btree.NewG[*region](8, func(a, b *region) bool { return a.base < b.base }),
		next:    memoryBase,
	}
}

// Alloc returns the address of n zeroed bytes. Regions are 16-byte aligned
// and separated by an unmapped gap.
func (m *Memory) Alloc(n uint64, name string) uint64 {
	base := m.next
	m.next += (n+15)&^15 + 16
	m.regions.ReplaceOrInsert(&region{base: base, data: make([]byte, n), name: name})
	return base
}

func (m *Memory) find(addr, n uint64) ([]byte, error) {
	var hit *region
	m.regions.DescendLessOrEqual(&region{base: addr}, func(r *region) bool {
		hit = r
		return false
	})
	if hit == nil || addr-hit.base+n > uint64(len(hit.data)) || addr+n < addr {
		return nil, fmt.Errorf("%w: %d bytes at %#x", ErrFault, n, addr)
	}
	off := addr - hit.base
	return hit.data[off : off+n], nil
}

// Read returns a copy of n bytes at addr.
func (m *Memory) Read(addr, n uint64) ([]byte, error) {
	b, err := m.find(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies p to addr.
func (m *Memory) Write(addr uint64, p []byte) error {
	b, err := m.find(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// ReadUint reads a little-endian integer of size 1, 2, 4 or 8 bytes.
func (m *Memory) ReadUint(addr, size uint64) (uint64, error) {
	b, err := m.find(addr, size)
	if err != nil {
		return 0, err
	}
	return getUint(b), nil
}

// WriteUint writes the low size bytes of v little-endian.
func (m *Memory) WriteUint(addr, size, v uint64) error {
	b, err := m.find(addr, size)
	if err != nil {
		return err
	}
	putUint(b, v)
	return nil
}

func getUint(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], b)
	return binary.LittleEndian.Uint64(tmp[:])
}

func putUint(b []byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	copy(b, tmp[:len(b)])
}
