package elffile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/elfscope/elfscope/pkg/cursor"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Minimum header record sizes per class. Larger entry sizes are legal
// (the table is strided by e_shentsize/e_phentsize), smaller ones are
// not decodable.
const (
	shdrSize32 = 40
	shdrSize64 = 64
	phdrSize32 = 32
	phdrSize64 = 56
	ehdrSize32 = 52
	ehdrSize64 = 64
)

// Parse decodes buf as an ELF binary. It fails only on defects that
// make the whole file unusable (bad magic, unknown class or encoding,
// truncated file header, header tables that cannot fit in the file);
// individually corrupt section or program headers are retained in the
// model with their Err field set.
func Parse(buf []byte) (*File, error) {
	if len(buf) < elf.EI_NIDENT {
		return nil, &TruncatedHeaderError{Offset: 0, Needed: elf.EI_NIDENT, Have: len(buf)}
	}
	if !bytes.Equal(buf[:4], elfMagic) {
		return nil, fmt.Errorf("%w: % x", ErrBadMagic, buf[:4])
	}

	var hdr Header
	hdr.Class = elf.Class(buf[elf.EI_CLASS])
	switch hdr.Class {
	case elf.ELFCLASS32, elf.ELFCLASS64:
	default:
		return nil, fmt.Errorf("%w: EI_CLASS = %d", ErrBadClass, buf[elf.EI_CLASS])
	}

	hdr.Data = elf.Data(buf[elf.EI_DATA])
	switch hdr.Data {
	case elf.ELFDATA2LSB:
		hdr.ByteOrder = binary.LittleEndian
	case elf.ELFDATA2MSB:
		hdr.ByteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: EI_DATA = %d", ErrBadData, buf[elf.EI_DATA])
	}

	hdr.OSABI = elf.OSABI(buf[elf.EI_OSABI])
	hdr.ABIVersion = buf[elf.EI_ABIVERSION]

	cur := cursor.New(buf, hdr.ByteOrder, hdr.PtrSize())
	cur.SetPos(elf.EI_NIDENT)
	hdr.Type = elf.Type(cur.ReadUint16())
	hdr.Machine = elf.Machine(cur.ReadUint16())
	hdr.Version = cur.ReadUint32()
	hdr.Entry = cur.ReadPtr()
	hdr.PhOff = cur.ReadPtr()
	hdr.ShOff = cur.ReadPtr()
	hdr.Flags = cur.ReadUint32()
	hdr.EhSize = cur.ReadUint16()
	hdr.PhEntSize = cur.ReadUint16()
	hdr.PhNum = cur.ReadUint16()
	hdr.ShEntSize = cur.ReadUint16()
	hdr.ShNum = cur.ReadUint16()
	hdr.ShStrNdx = cur.ReadUint16()
	if err := cur.Err(); err != nil {
		return nil, headerErr(err)
	}

	f := &File{Header: hdr, data: buf}

	// Sections before segments: extended program header counts
	// (PN_XNUM) live in section 0.
	if err := f.parseSections(); err != nil {
		return nil, err
	}
	f.resolveNames()
	if err := f.parseProgs(); err != nil {
		return nil, err
	}
	return f, nil
}

func headerErr(err error) error {
	if re, ok := err.(*cursor.ReadError); ok {
		return &TruncatedHeaderError{Offset: uint64(re.Off), Needed: re.Needed, Have: re.Have}
	}
	return err
}

// tableCount validates that count entries of entsize bytes starting at
// off fit the file and returns the count to parse.
func (f *File) tableCount(table string, off, count, entsize, minEnt uint64) (uint64, error) {
	if count == 0 {
		return 0, nil
	}
	if entsize < minEnt {
		return 0, &InvalidTableCountError{Table: table, Offset: off, Count: count, EntSize: entsize, FileSize: len(f.data)}
	}
	if off >= uint64(len(f.data)) {
		return 0, &InvalidTableCountError{Table: table, Offset: off, Count: count, EntSize: entsize, FileSize: len(f.data)}
	}
	if max := (uint64(len(f.data)) - off) / entsize; count > max {
		return 0, &InvalidTableCountError{Table: table, Offset: off, Count: count, EntSize: entsize, FileSize: len(f.data)}
	}
	return count, nil
}

func (f *File) parseSections() error {
	if f.ShOff == 0 {
		return nil
	}
	minEnt := uint64(shdrSize32)
	if f.Class == elf.ELFCLASS64 {
		minEnt = shdrSize64
	}
	entsize := uint64(f.ShEntSize)

	count := uint64(f.ShNum)
	if count == 0 {
		// Extended section numbering: the real count lives in the
		// size field of section 0.
		if _, err := f.tableCount("section", f.ShOff, 1, entsize, minEnt); err != nil {
			return err
		}
		sh0 := f.readSection(0, f.ShOff)
		if sh0.Err != nil {
			return sh0.Err
		}
		count = sh0.Size
		if count == 0 {
			return nil
		}
	}

	count, err := f.tableCount("section", f.ShOff, count, entsize, minEnt)
	if err != nil {
		return err
	}

	f.Sections = make([]*SectionHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		f.Sections = append(f.Sections, f.readSection(int(i), f.ShOff+i*entsize))
	}
	return nil
}

func (f *File) readSection(index int, off uint64) *SectionHeader {
	sh := &SectionHeader{Index: index}
	rec := cursor.New(f.data, f.ByteOrder, f.PtrSize())
	rec.SetPos(int(off))

	sh.NameOff = rec.ReadUint32()
	sh.Type = elf.SectionType(rec.ReadUint32())
	if f.Class == elf.ELFCLASS64 {
		sh.Flags = elf.SectionFlag(rec.ReadUint64())
		sh.Addr = rec.ReadUint64()
		sh.Offset = rec.ReadUint64()
		sh.Size = rec.ReadUint64()
		sh.Link = rec.ReadUint32()
		sh.Info = rec.ReadUint32()
		sh.AddrAlign = rec.ReadUint64()
		sh.EntSize = rec.ReadUint64()
	} else {
		sh.Flags = elf.SectionFlag(rec.ReadUint32())
		sh.Addr = uint64(rec.ReadUint32())
		sh.Offset = uint64(rec.ReadUint32())
		sh.Size = uint64(rec.ReadUint32())
		sh.Link = rec.ReadUint32()
		sh.Info = rec.ReadUint32()
		sh.AddrAlign = uint64(rec.ReadUint32())
		sh.EntSize = uint64(rec.ReadUint32())
	}
	if err := rec.Err(); err != nil {
		sh.Err = headerErr(err)
		return sh
	}

	if sh.Type != elf.SHT_NOBITS && sh.Type != elf.SHT_NULL && sh.Size > 0 {
		if sh.Offset > uint64(len(f.data)) || sh.Size > uint64(len(f.data))-sh.Offset {
			sh.Err = &BoundsError{
				What:     fmt.Sprintf("section %d", index),
				Offset:   sh.Offset,
				Size:     sh.Size,
				FileSize: len(f.data),
			}
		}
	}
	return sh
}

// resolveNames resolves every section name through the section name
// string table, exactly once.
func (f *File) resolveNames() {
	strndx := int(f.ShStrNdx)
	if f.ShStrNdx == uint16(elf.SHN_XINDEX) && len(f.Sections) > 0 && f.Sections[0].Err == nil {
		strndx = int(f.Sections[0].Link)
	}
	if strndx <= 0 || strndx >= len(f.Sections) {
		return
	}
	strsh := f.Sections[strndx]
	if strsh.Err != nil || strsh.Type == elf.SHT_NOBITS || strsh.Size == 0 {
		return
	}
	tab := f.data[strsh.Offset : strsh.Offset+strsh.Size]
	for _, sh := range f.Sections {
		if uint64(sh.NameOff) >= uint64(len(tab)) {
			// Keep the original defect if the record already has one.
			if sh.Err == nil {
				sh.Err = fmt.Errorf("section %d: name offset %#x outside string table of %d bytes", sh.Index, sh.NameOff, len(tab))
			}
			continue
		}
		name := tab[sh.NameOff:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		sh.Name = string(name)
	}
}

func (f *File) parseProgs() error {
	if f.PhOff == 0 {
		return nil
	}
	minEnt := uint64(phdrSize32)
	if f.Class == elf.ELFCLASS64 {
		minEnt = phdrSize64
	}
	entsize := uint64(f.PhEntSize)

	count := uint64(f.PhNum)
	if f.PhNum == 0xffff && len(f.Sections) > 0 && f.Sections[0].Err == nil {
		// PN_XNUM: the real count lives in the info field of
		// section 0.
		count = uint64(f.Sections[0].Info)
	}

	count, err := f.tableCount("program", f.PhOff, count, entsize, minEnt)
	if err != nil {
		return err
	}

	f.Progs = make([]*ProgHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		f.Progs = append(f.Progs, f.readProg(int(i), f.PhOff+i*entsize))
	}
	return nil
}

func (f *File) readProg(index int, off uint64) *ProgHeader {
	ph := &ProgHeader{Index: index}
	rec := cursor.New(f.data, f.ByteOrder, f.PtrSize())
	rec.SetPos(int(off))

	ph.Type = elf.ProgType(rec.ReadUint32())
	if f.Class == elf.ELFCLASS64 {
		ph.Flags = elf.ProgFlag(rec.ReadUint32())
		ph.Off = rec.ReadUint64()
		ph.Vaddr = rec.ReadUint64()
		ph.Paddr = rec.ReadUint64()
		ph.Filesz = rec.ReadUint64()
		ph.Memsz = rec.ReadUint64()
		ph.Align = rec.ReadUint64()
	} else {
		ph.Off = uint64(rec.ReadUint32())
		ph.Vaddr = uint64(rec.ReadUint32())
		ph.Paddr = uint64(rec.ReadUint32())
		ph.Filesz = uint64(rec.ReadUint32())
		ph.Memsz = uint64(rec.ReadUint32())
		ph.Flags = elf.ProgFlag(rec.ReadUint32())
		ph.Align = uint64(rec.ReadUint32())
	}
	if err := rec.Err(); err != nil {
		ph.Err = headerErr(err)
		return ph
	}

	switch {
	case ph.Filesz > ph.Memsz:
		ph.Err = fmt.Errorf("segment %d: file size %#x exceeds memory size %#x", index, ph.Filesz, ph.Memsz)
	case ph.Align > 1 && ph.Align&(ph.Align-1) != 0:
		ph.Err = fmt.Errorf("segment %d: alignment %#x is not a power of two", index, ph.Align)
	case ph.Filesz > 0 && (ph.Off > uint64(len(f.data)) || ph.Filesz > uint64(len(f.data))-ph.Off):
		ph.Err = &BoundsError{
			What:     fmt.Sprintf("segment %d", index),
			Offset:   ph.Off,
			Size:     ph.Filesz,
			FileSize: len(f.data),
		}
	}
	return ph
}
