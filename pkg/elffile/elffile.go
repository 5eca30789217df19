// Package elffile parses ELF binaries into a typed, bounds checked
// model. Unlike debug/elf it keeps independently corrupt section and
// program headers as marked entries with a recorded reason instead of
// failing the whole file, which is what an inspection tool wants when
// pointed at damaged or hostile binaries.
//
// The package reuses the constant vocabulary of debug/elf (section
// types, symbol bindings, machine tags) but none of its parser.
package elffile

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Header holds the decoded ELF file header. Class and ByteOrder are
// validated first and fix the width and order of every other field in
// the file.
type Header struct {
	Class      elf.Class
	Data       elf.Data
	ByteOrder  binary.ByteOrder
	OSABI      elf.OSABI
	ABIVersion uint8
	Type       elf.Type
	Machine    elf.Machine
	Version    uint32
	Entry      uint64
	PhOff      uint64
	ShOff      uint64
	Flags      uint32
	EhSize     uint16
	PhEntSize  uint16
	PhNum      uint16
	ShEntSize  uint16
	ShNum      uint16
	ShStrNdx   uint16
}

// PtrSize returns the address width in bytes implied by the class.
func (h *Header) PtrSize() int {
	if h.Class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

// SectionHeader is one decoded section header table entry. A corrupt
// entry is retained with Err describing the defect; its other fields
// hold whatever could still be decoded.
type SectionHeader struct {
	Index     int
	Name      string
	NameOff   uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64

	Err error
}

// ProgHeader is one decoded program header table entry, with the same
// corrupt entry retention as SectionHeader.
type ProgHeader struct {
	Index  int
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64

	Err error
}

// File is the parsed model of one ELF binary. It references the
// caller's buffer and never copies section payloads; the buffer must
// stay alive and unmodified for the life of the File.
type File struct {
	Header
	Sections []*SectionHeader
	Progs    []*ProgHeader

	data []byte
}

// Size returns the length of the underlying buffer.
func (f *File) Size() int { return len(f.data) }

// Section returns the first section with the given name.
func (f *File) Section(name string) (*SectionHeader, error) {
	for _, sh := range f.Sections {
		if sh.Name == name {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSection, name)
}

// SectionByIndex returns the section header at the given table index.
func (f *File) SectionByIndex(i int) (*SectionHeader, error) {
	if i < 0 || i >= len(f.Sections) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNoSection, i)
	}
	return f.Sections[i], nil
}

// SectionData returns the file bytes of a section as a view into the
// underlying buffer. SHT_NOBITS sections return ErrNoBits, corrupt
// headers return their recorded defect.
func (f *File) SectionData(sh *SectionHeader) ([]byte, error) {
	if sh.Err != nil {
		return nil, sh.Err
	}
	if sh.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("%w: %s", ErrNoBits, sh.Name)
	}
	if sh.Size == 0 {
		return nil, nil
	}
	return f.data[sh.Offset : sh.Offset+sh.Size], nil
}

// ProgForVaddr returns the loadable segment whose memory image
// contains the given virtual address.
func (f *File) ProgForVaddr(va uint64) (*ProgHeader, error) {
	for _, ph := range f.Progs {
		if ph.Err != nil || ph.Type != elf.PT_LOAD {
			continue
		}
		if va >= ph.Vaddr && va < ph.Vaddr+ph.Memsz {
			return ph, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x", ErrNoSegment, va)
}

// FileOffset translates a virtual address to its file offset through
// the containing loadable segment. Addresses inside a segment's
// zero initialized tail (past the file image) are an error.
func (f *File) FileOffset(va uint64) (uint64, error) {
	ph, err := f.ProgForVaddr(va)
	if err != nil {
		return 0, err
	}
	if va-ph.Vaddr >= ph.Filesz {
		return 0, fmt.Errorf("%w: %#x is in the zero initialized part of segment %d", ErrNoSegment, va, ph.Index)
	}
	return ph.Off + (va - ph.Vaddr), nil
}

// SegmentData returns the file bytes from the given virtual address to
// the end of its segment's file image, as a view into the buffer.
func (f *File) SegmentData(va uint64) ([]byte, error) {
	ph, err := f.ProgForVaddr(va)
	if err != nil {
		return nil, err
	}
	if va-ph.Vaddr >= ph.Filesz {
		return nil, fmt.Errorf("%w: %#x is in the zero initialized part of segment %d", ErrNoSegment, va, ph.Index)
	}
	start := ph.Off + (va - ph.Vaddr)
	return f.data[start : ph.Off+ph.Filesz], nil
}

// SectionForVaddr returns the allocated section containing the given
// virtual address, if any.
func (f *File) SectionForVaddr(va uint64) (*SectionHeader, error) {
	for _, sh := range f.Sections {
		if sh.Err != nil || sh.Flags&elf.SHF_ALLOC == 0 || sh.Type == elf.SHT_NULL {
			continue
		}
		if va >= sh.Addr && va < sh.Addr+sh.Size {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("%w: no section covers %#x", ErrNoSection, va)
}
