// Package elftest assembles synthetic ELF images in memory for tests.
// Fixtures built here are deliberately minimal: a file header, the
// sections the test declares (section 0 and .shstrtab are added
// automatically), optional symbol tables and loadable segments.
package elftest

import (
	"debug/elf"
	"encoding/binary"
)

// Section describes one section to place in the image. Size defaults
// to len(Data); set it explicitly for SHT_NOBITS sections or to
// declare a deliberately wrong size. LinkName resolves to the index of
// the named section at build time.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Data      []byte
	Size      uint64
	EntSize   uint64
	Link      uint32
	LinkName  string
	Info      uint32
	AddrAlign uint64
}

// Sym describes one symbol table record.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
	Other byte
	Shndx uint16
}

type prog struct {
	typ        elf.ProgType
	flags      elf.ProgFlag
	mapSection string
	vaddr      uint64
	extraMem   uint64

	raw    bool
	off    uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

// Builder accumulates the description of a synthetic ELF image.
type Builder struct {
	Class   elf.Class
	Order   binary.ByteOrder
	Machine elf.Machine
	Type    elf.Type
	Entry   uint64

	sections []*Section
	progs    []*prog
}

// New returns a builder for the most common fixture shape, a 64-bit
// little endian x86-64 executable.
func New() *Builder {
	return &Builder{
		Class:   elf.ELFCLASS64,
		Order:   binary.LittleEndian,
		Machine: elf.EM_X86_64,
		Type:    elf.ET_EXEC,
	}
}

// AddSection appends a section and returns its final table index
// (accounting for the automatic null section).
func (b *Builder) AddSection(s Section) int {
	sec := s
	if sec.Size == 0 {
		sec.Size = uint64(len(sec.Data))
	}
	if sec.AddrAlign == 0 {
		sec.AddrAlign = 1
	}
	b.sections = append(b.sections, &sec)
	return len(b.sections)
}

// AddSymtab appends a symbol table section and its string table. A
// null record is prepended the way linkers emit one. Returns the
// symbol table's section index.
func (b *Builder) AddSymtab(name, strName string, typ elf.SectionType, syms []Sym) int {
	strs := []byte{0}
	nameOff := make([]uint32, len(syms))
	for i, s := range syms {
		if s.Name == "" {
			continue
		}
		nameOff[i] = uint32(len(strs))
		strs = append(strs, s.Name...)
		strs = append(strs, 0)
	}

	entSize := 16
	if b.Class == elf.ELFCLASS64 {
		entSize = 24
	}
	data := make([]byte, (len(syms)+1)*entSize)
	for i, s := range syms {
		off := (i + 1) * entSize
		if b.Class == elf.ELFCLASS64 {
			b.Order.PutUint32(data[off:], nameOff[i])
			data[off+4] = s.Info
			data[off+5] = s.Other
			b.Order.PutUint16(data[off+6:], s.Shndx)
			b.Order.PutUint64(data[off+8:], s.Value)
			b.Order.PutUint64(data[off+16:], s.Size)
		} else {
			b.Order.PutUint32(data[off:], nameOff[i])
			b.Order.PutUint32(data[off+4:], uint32(s.Value))
			b.Order.PutUint32(data[off+8:], uint32(s.Size))
			data[off+12] = s.Info
			data[off+13] = s.Other
			b.Order.PutUint16(data[off+14:], s.Shndx)
		}
	}

	b.AddSection(Section{Name: strName, Type: elf.SHT_STRTAB, Data: strs})
	return b.AddSection(Section{
		Name:     name,
		Type:     typ,
		Data:     data,
		EntSize:  uint64(entSize),
		LinkName: strName,
		Info:     1, // one local symbol, the null record
	})
}

// AddLoad appends a PT_LOAD segment covering the named section's file
// image at the section's virtual address. extraMem adds zero
// initialized memory past the file image.
func (b *Builder) AddLoad(sectionName string, extraMem uint64) {
	b.progs = append(b.progs, &prog{
		typ:        elf.PT_LOAD,
		flags:      elf.PF_R | elf.PF_X,
		mapSection: sectionName,
		extraMem:   extraMem,
	})
}

// AddProgRaw appends a program header with explicit fields, for
// corrupt or synthetic segments.
func (b *Builder) AddProgRaw(typ elf.ProgType, flags elf.ProgFlag, off, vaddr, filesz, memsz, align uint64) {
	b.progs = append(b.progs, &prog{
		typ: typ, flags: flags, raw: true,
		off: off, vaddr: vaddr, filesz: filesz, memsz: memsz, align: align,
	})
}

// Layout reports where Build placed everything, so tests can patch
// bytes to corrupt specific fields.
type Layout struct {
	EhdrSize    int
	ShOff       uint64
	PhOff       uint64
	ShEntSize   int
	PhEntSize   int
	SectionData map[string]uint64
	SectionIdx  map[string]int
}

const (
	ehdrSize32 = 52
	ehdrSize64 = 64
	shentSize32 = 40
	shentSize64 = 64
	phentSize32 = 32
	phentSize64 = 56
)

func align8(n int) int { return (n + 7) &^ 7 }

// Build lays out and encodes the image.
func (b *Builder) Build() ([]byte, *Layout) {
	is64 := b.Class == elf.ELFCLASS64
	ehdrSize, shent, phent := ehdrSize32, shentSize32, phentSize32
	if is64 {
		ehdrSize, shent, phent = ehdrSize64, shentSize64, phentSize64
	}

	// Full section list: null, declared sections, .shstrtab.
	shstrtab := &Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, AddrAlign: 1}
	all := make([]*Section, 0, len(b.sections)+2)
	all = append(all, &Section{AddrAlign: 1}) // section 0
	all = append(all, b.sections...)
	all = append(all, shstrtab)

	names := []byte{0}
	nameOffs := make([]uint32, len(all))
	for i, s := range all {
		if s.Name == "" {
			continue
		}
		nameOffs[i] = uint32(len(names))
		names = append(names, s.Name...)
		names = append(names, 0)
	}
	shstrtab.Data = names
	shstrtab.Size = uint64(len(names))

	idx := make(map[string]int, len(all))
	for i, s := range all {
		if s.Name != "" {
			idx[s.Name] = i
		}
	}

	// Place section payloads after the file header.
	lay := &Layout{
		EhdrSize:    ehdrSize,
		ShEntSize:   shent,
		PhEntSize:   phent,
		SectionData: make(map[string]uint64),
		SectionIdx:  idx,
	}
	pos := ehdrSize
	offs := make([]uint64, len(all))
	for i, s := range all {
		if len(s.Data) == 0 {
			continue
		}
		pos = align8(pos)
		offs[i] = uint64(pos)
		if s.Name != "" {
			lay.SectionData[s.Name] = uint64(pos)
		}
		pos += len(s.Data)
	}
	shoff := align8(pos)
	phoff := shoff + len(all)*shent
	total := phoff + len(b.progs)*phent
	lay.ShOff = uint64(shoff)
	lay.PhOff = uint64(phoff)

	buf := make([]byte, total)

	// Identification.
	copy(buf, []byte{0x7f, 'E', 'L', 'F'})
	buf[elf.EI_CLASS] = byte(b.Class)
	if b.Order == binary.LittleEndian {
		buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	} else {
		buf[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	buf[elf.EI_VERSION] = 1

	w := &fieldWriter{buf: buf, off: elf.EI_NIDENT, order: b.Order, is64: is64}
	w.u16(uint16(b.Type))
	w.u16(uint16(b.Machine))
	w.u32(1)
	w.ptr(b.Entry)
	if len(b.progs) > 0 {
		w.ptr(uint64(phoff))
	} else {
		w.ptr(0)
	}
	w.ptr(uint64(shoff))
	w.u32(0)                  // flags
	w.u16(uint16(ehdrSize))   // ehsize
	w.u16(uint16(phent))      // phentsize
	w.u16(uint16(len(b.progs)))
	w.u16(uint16(shent))      // shentsize
	w.u16(uint16(len(all)))   // shnum
	w.u16(uint16(len(all) - 1)) // shstrndx

	// Section payloads.
	for i, s := range all {
		if len(s.Data) > 0 {
			copy(buf[offs[i]:], s.Data)
		}
	}

	// Section header table.
	for i, s := range all {
		w := &fieldWriter{buf: buf, off: shoff + i*shent, order: b.Order, is64: is64}
		link := s.Link
		if s.LinkName != "" {
			link = uint32(idx[s.LinkName])
		}
		w.u32(nameOffs[i])
		w.u32(uint32(s.Type))
		w.ptr(uint64(s.Flags))
		w.ptr(s.Addr)
		w.ptr(offs[i])
		w.ptr(s.Size)
		w.u32(link)
		w.u32(s.Info)
		w.ptr(s.AddrAlign)
		w.ptr(s.EntSize)
	}

	// Program header table.
	for i, p := range b.progs {
		off, vaddr, filesz, memsz, align := p.off, p.vaddr, p.filesz, p.memsz, p.align
		if !p.raw {
			si := idx[p.mapSection]
			off = offs[si]
			vaddr = all[si].Addr
			filesz = uint64(len(all[si].Data))
			memsz = filesz + p.extraMem
			align = 1
		}
		w := &fieldWriter{buf: buf, off: phoff + i*phent, order: b.Order, is64: is64}
		w.u32(uint32(p.typ))
		if is64 {
			w.u32(uint32(p.flags))
		}
		w.ptr(off)
		w.ptr(vaddr)
		w.ptr(vaddr) // paddr
		w.ptr(filesz)
		w.ptr(memsz)
		if !is64 {
			w.u32(uint32(p.flags))
		}
		w.ptr(align)
	}

	return buf, lay
}

type fieldWriter struct {
	buf   []byte
	off   int
	order binary.ByteOrder
	is64  bool
}

func (w *fieldWriter) u16(v uint16) {
	w.order.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *fieldWriter) u32(v uint32) {
	w.order.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *fieldWriter) u64(v uint64) {
	w.order.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *fieldWriter) ptr(v uint64) {
	if w.is64 {
		w.u64(v)
	} else {
		w.u32(uint32(v))
	}
}
