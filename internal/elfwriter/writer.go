// Package elfwriter produces static, non-PIE ELF64 executables carrying the
// .seraph.* metadata sections.
package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	// UserBase and KernelBase are the default load addresses.
	UserBase   uint64 = 0x400000
	KernelBase uint64 = 0xFFFF800000100000

	headerSize   = 64
	phdrSize     = 56
	shdrSize     = 64
	numPhdrs     = 4
	numSections  = 10
	shstrndx     = 5
	pageSize     = 0x1000
	sectionAlign = 16
)

// Section indices in the header table.
const (
	secNull = iota
	secText
	secRodata
	secData
	secBSS
	secShstrtab
	secManifest
	secProofs
	secEffects
	secCaps
)

var sectionNames = [numSections]string{
	"", ".text", ".rodata", ".data", ".bss", ".shstrtab",
	".seraph.manifest", ".seraph.proofs", ".seraph.effects", ".seraph.caps",
}

// Layout gives the virtual address of each loaded section.
type Layout struct {
	Text, Rodata, Data, BSS uint64
}

// Writer accumulates the pieces of one executable. Buffers passed to the
// setters are owned by the writer from then on.
type Writer struct {
	machine elf.Machine
	base    uint64

	code, rodata, data []byte
	bss                uint64
	entry              uint64

	manifest Manifest
	effects  []EffectDecl
	caps     []CapTemplate
	proofs   []byte
}

// New returns a writer for machine loading at UserBase.
func New(machine elf.Machine) *Writer {
	return &Writer{machine: machine, base: UserBase}
}

func (w *Writer) SetBase(addr uint64) { w.base = addr }
func (w *Writer) SetCode(b []byte) { w.code = b }
func (w *Writer) SetRodata(b []byte) { w.rodata = b }
func (w *Writer) SetData(b []byte) { w.data = b }
func (w *Writer) SetBSS(size uint64) { w.bss = size }
func (w *Writer) SetManifest(m Manifest) { w.manifest = m }
func (w *Writer) AddEffect(e EffectDecl) { w.effects = append(w.effects, e) }
func (w *Writer) AddCapability(c CapTemplate) { w.caps = append(w.caps, c) }

// SetEntry sets the entry point as an offset into the code.
func (w *Writer) SetEntry(off uint64) { w.entry = off }

// SetProofs attaches a serialized proof blob.
func (w *Writer) SetProofs(blob []byte) { w.proofs = blob }

func alignUp(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }

// fileLayout is the placement of every piece in the file and in memory.
type fileLayout struct {
	textOff, rodataOff, dataOff uint64
	manifestOff, effectsOff     uint64
	capsOff, proofsOff          uint64
	shstrOff, shOff, size       uint64

	textAddr, rodataAddr uint64
	dataAddr, bssAddr    uint64

	shstrtab    []byte
	nameOffsets [numSections]uint32
}

func (w *Writer) layout() fileLayout {
	var l fileLayout
	l.textOff = alignUp(headerSize+numPhdrs*phdrSize, sectionAlign)
	l.rodataOff = alignUp(l.textOff+uint64(len(w.code)), sectionAlign)
	l.dataOff = alignUp(l.rodataOff+uint64(len(w.rodata)), sectionAlign)
	l.manifestOff = alignUp(l.dataOff+uint64(len(w.data)), 8)
	l.effectsOff = l.manifestOff + ManifestSize
	l.capsOff = l.effectsOff + uint64(len(w.effects))*EffectDeclSize
	l.proofsOff = alignUp(l.capsOff+uint64(len(w.caps))*CapTemplateSize, 8)

	for i, name := range sectionNames {
		if i == 0 {
			l.shstrtab = append(l.shstrtab, 0)
			continue
		}
		l.nameOffsets[i] = uint32(len(l.shstrtab))
		l.shstrtab = append(append(l.shstrtab, name...), 0)
	}
	l.shstrOff = alignUp(l.proofsOff+uint64(len(w.proofs)), 8)
	l.shOff = alignUp(l.shstrOff+uint64(len(l.shstrtab)), 8)
	l.size = l.shOff + numSections*shdrSize

	// The read-write segment starts on a fresh page congruent to its file
	// offset, so the file stays compact.
	l.textAddr = w.base + l.textOff
	l.rodataAddr = w.base + l.rodataOff
	l.dataAddr = w.base + l.dataOff + pageSize
	l.bssAddr = alignUp(l.dataAddr+uint64(len(w.data)), sectionAlign)
	return l
}

// Layout reports where each section will be loaded. It depends only on
// section sizes, so code may be relocated against it and set again.
func (w *Writer) Layout() Layout {
	l := w.layout()
	return Layout{Text: l.textAddr, Rodata: l.rodataAddr, Data: l.dataAddr, BSS: l.bssAddr}
}

// EntryAddress is the virtual address of the entry point.
func (w *Writer) EntryAddress() uint64 { return w.layout().textAddr + w.entry }

func supported(m elf.Machine) bool {
	switch m {
	case elf.EM_X86_64, elf.EM_AARCH64, elf.EM_RISCV:
		return true
	}
	return false
}

// Bytes lays out and serializes the executable.
func (w *Writer) Bytes() ([]byte, error) {
	if !supported(w.machine) {
		return nil, fmt.Errorf("elfwriter: unsupported machine %v", w.machine)
	}
	if len(w.code) == 0 {
		return nil, fmt.Errorf("elfwriter: no code")
	}
	if w.entry >= uint64(len(w.code)) {
		return nil, fmt.Errorf("elfwriter: entry offset %#x outside %d bytes of code", w.entry, len(w.code))
	}
	if w.base%pageSize != 0 {
		return nil, fmt.Errorf("elfwriter: base address %#x is not page aligned", w.base)
	}

	l := w.layout()
	out := make([]byte, l.size)
	le := binary.LittleEndian
	entry := l.textAddr + w.entry

	copy(out[l.textOff:], w.code)
	copy(out[l.rodataOff:], w.rodata)
	copy(out[l.dataOff:], w.data)
	copy(out[l.manifestOff:], w.manifest.encode(entry, uint32(len(w.caps)), uint32(len(w.effects)), ProofRoot(w.proofs)))
	for i, e := range w.effects {
		e.encode(out[l.effectsOff+uint64(i)*EffectDeclSize:])
	}
	for i, c := range w.caps {
		c.encode(out[l.capsOff+uint64(i)*CapTemplateSize:])
	}
	copy(out[l.proofsOff:], w.proofs)
	copy(out[l.shstrOff:], l.shstrtab)

	// ELF header
	h := out[:headerSize]
	copy(h, elf.ELFMAG)
	h[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	h[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	h[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	le.PutUint16(h[16:], uint16(elf.ET_EXEC))
	le.PutUint16(h[18:], uint16(w.machine))
	le.PutUint32(h[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(h[24:], entry)
	le.PutUint64(h[32:], headerSize)
	le.PutUint64(h[40:], l.shOff)
	le.PutUint32(h[48:], 0)
	le.PutUint16(h[52:], headerSize)
	le.PutUint16(h[54:], phdrSize)
	le.PutUint16(h[56:], numPhdrs)
	le.PutUint16(h[58:], shdrSize)
	le.PutUint16(h[60:], numSections)
	le.PutUint16(h[62:], shstrndx)

	// program headers
	rxEnd := l.rodataOff + uint64(len(w.rodata))
	metaEnd := l.capsOff + uint64(len(w.caps))*CapTemplateSize
	phdrs := []phdr{
		{typ: uint32(elf.PT_PHDR), flags: uint32(elf.PF_R), off: headerSize, vaddr: w.base + headerSize,
			filesz: numPhdrs * phdrSize, memsz: numPhdrs * phdrSize, align: 8},
		{typ: uint32(elf.PT_LOAD), flags: uint32(elf.PF_R | elf.PF_X), off: 0, vaddr: w.base,
			filesz: rxEnd, memsz: rxEnd, align: pageSize},
		{typ: uint32(elf.PT_LOAD), flags: uint32(elf.PF_R | elf.PF_W), off: l.dataOff, vaddr: l.dataAddr,
			filesz: uint64(len(w.data)), memsz: l.bssAddr + w.bss - l.dataAddr, align: pageSize},
		{typ: PTSeraph, flags: uint32(elf.PF_R), off: l.manifestOff,
			filesz: metaEnd - l.manifestOff, align: 8},
	}
	for i, p := range phdrs {
		p.put(out[headerSize+i*phdrSize:])
	}

	// section headers
	shdrs := [numSections]shdr{
		secText: {typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			addr: l.textAddr, off: l.textOff, size: uint64(len(w.code)), align: sectionAlign},
		secRodata: {typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC),
			addr: l.rodataAddr, off: l.rodataOff, size: uint64(len(w.rodata)), align: sectionAlign},
		secData: {typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			addr: l.dataAddr, off: l.dataOff, size: uint64(len(w.data)), align: sectionAlign},
		secBSS: {typ: uint32(elf.SHT_NOBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			addr: l.bssAddr, off: l.dataOff + uint64(len(w.data)), size: w.bss, align: sectionAlign},
		secShstrtab: {typ: uint32(elf.SHT_STRTAB), off: l.shstrOff, size: uint64(len(l.shstrtab)), align: 1},
		secManifest: {typ: SHTManifest, off: l.manifestOff, size: ManifestSize, align: 8},
		secProofs:   {typ: SHTProofs, off: l.proofsOff, size: uint64(len(w.proofs)), align: 8},
		secEffects: {typ: SHTEffects, off: l.effectsOff, size: uint64(len(w.effects)) * EffectDeclSize,
			align: 4, entsize: EffectDeclSize},
		secCaps: {typ: SHTCaps, off: l.capsOff, size: uint64(len(w.caps)) * CapTemplateSize,
			align: 8, entsize: CapTemplateSize},
	}
	for i := range shdrs {
		shdrs[i].name = l.nameOffsets[i]
		shdrs[i].put(out[l.shOff+uint64(i)*shdrSize:])
	}
	return out, nil
}

// WriteFile writes the executable to path with execute permission.
func (w *Writer) WriteFile(path string) error {
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o755); err != nil {
		return fmt.Errorf("elfwriter: %w", err)
	}
	return nil
}

type phdr struct {
	typ, flags                       uint32
	off, vaddr, filesz, memsz, align uint64
}

func (p phdr) put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], p.typ)
	le.PutUint32(b[4:], p.flags)
	le.PutUint64(b[8:], p.off)
	le.PutUint64(b[16:], p.vaddr)
	le.PutUint64(b[24:], p.vaddr)
	le.PutUint64(b[32:], p.filesz)
	le.PutUint64(b[40:], p.memsz)
	le.PutUint64(b[48:], p.align)
}

type shdr struct {
	name, typ, link, info  uint32
	flags, addr, off, size uint64
	align, entsize         uint64
}

func (s shdr) put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], s.name)
	le.PutUint32(b[4:], s.typ)
	le.PutUint64(b[8:], s.flags)
	le.PutUint64(b[16:], s.addr)
	le.PutUint64(b[24:], s.off)
	le.PutUint64(b[32:], s.size)
	le.PutUint32(b[40:], s.link)
	le.PutUint32(b[44:], s.info)
	le.PutUint64(b[48:], s.align)
	le.PutUint64(b[56:], s.entsize)
}
