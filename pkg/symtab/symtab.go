// Package symtab builds a queryable index over the symbol tables of an
// ELF file. Both the static (.symtab) and dynamic (.dynsym) tables are
// indexed when present; symbols remember which table they came from.
// Malformed records degrade the affected entries and are reported via
// Problems, they never fail the whole index.
package symtab

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/elfscope/elfscope/pkg/cursor"
	"github.com/elfscope/elfscope/pkg/elffile"
)

// Origin identifies the table a symbol was read from.
type Origin uint8

const (
	// Static is the .symtab table.
	Static Origin = iota
	// Dynamic is the .dynsym table.
	Dynamic
)

func (o Origin) String() string {
	if o == Dynamic {
		return "dynamic"
	}
	return "static"
}

// Symbol is one symbol table record. Name is the raw linker name;
// display names are produced on demand through the index's demangler.
type Symbol struct {
	Name   string
	Value  uint64
	Size   uint64
	Info   byte
	Other  byte
	Shndx  uint16
	Origin Origin
	Index  int
}

// Binding returns the symbol binding (local, global, weak).
func (s *Symbol) Binding() elf.SymBind { return elf.ST_BIND(s.Info) }

// Type returns the symbol type (func, object, ...).
func (s *Symbol) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// Visibility returns the symbol visibility.
func (s *Symbol) Visibility() elf.SymVis { return elf.ST_VISIBILITY(s.Other) }

// Defined reports whether the symbol is defined in this file.
func (s *Symbol) Defined() bool { return s.Shndx != uint16(elf.SHN_UNDEF) }

// Demangler maps a raw linker-mangled name to a display name. It must
// return the input unchanged when the name is not recognized.
type Demangler interface {
	Demangle(name string) string
}

// Index answers symbol queries against one parsed file.
type Index struct {
	f    *elffile.File
	syms []Symbol

	byName map[string][]int

	// covering holds indices of defined func/object symbols with a
	// non zero size, ordered by start address; maxRange bounds the
	// backward scan in FindCovering.
	covering []int
	maxRange uint64

	// funcAddrs holds indices of defined function symbols ordered
	// by value, for nearest-preceding lookups. defAddrs holds every
	// defined symbol with a non zero value, for boundary inference.
	funcAddrs []int
	defAddrs  []int

	funcNames *trie.Trie

	demangler Demangler
	problems  []error
}

const (
	symSize32 = 16
	symSize64 = 24
)

// New indexes the symbol tables of f. A missing table is not an
// error; decoding problems are recorded and available via Problems.
func New(f *elffile.File) *Index {
	idx := &Index{
		f:         f,
		byName:    make(map[string][]int),
		funcNames: trie.New(),
	}
	idx.loadTable(".symtab", Static)
	idx.loadTable(".dynsym", Dynamic)
	idx.buildLookups()
	return idx
}

// SetDemangler installs the demangler used for display names and
// name-pattern filtering. Passing nil reverts to raw names.
func (idx *Index) SetDemangler(d Demangler) { idx.demangler = d }

// DisplayName returns the demangled form of the symbol's name, or the
// raw name when no demangler is installed.
func (idx *Index) DisplayName(s *Symbol) string {
	if idx.demangler == nil {
		return s.Name
	}
	return idx.demangler.Demangle(s.Name)
}

// Problems returns the decoding defects encountered while building
// the index.
func (idx *Index) Problems() []error { return idx.problems }

// NumSymbols returns the total number of indexed records.
func (idx *Index) NumSymbols() int { return len(idx.syms) }

func (idx *Index) problemf(format string, args ...interface{}) {
	idx.problems = append(idx.problems, fmt.Errorf(format, args...))
}

func (idx *Index) loadTable(section string, origin Origin) {
	sh, err := idx.f.Section(section)
	if err != nil {
		return // table absent, not an error
	}
	data, err := idx.f.SectionData(sh)
	if err != nil {
		idx.problemf("%s: %v", section, err)
		return
	}

	minSize := uint64(symSize32)
	if idx.f.Class == elf.ELFCLASS64 {
		minSize = symSize64
	}
	entSize := sh.EntSize
	if entSize == 0 {
		entSize = minSize
	}
	if entSize < minSize {
		idx.problemf("%s: entry size %d smaller than a %d byte record", section, entSize, minSize)
		return
	}

	var strtab []byte
	strsh, err := idx.f.SectionByIndex(int(sh.Link))
	if err != nil {
		idx.problemf("%s: string table link %d: %v", section, sh.Link, err)
	} else if strtab, err = idx.f.SectionData(strsh); err != nil {
		idx.problemf("%s: string table %s: %v", section, strsh.Name, err)
	}

	count := uint64(len(data)) / entSize
	cur := cursor.New(data, idx.f.ByteOrder, idx.f.PtrSize())
	for i := uint64(0); i < count; i++ {
		cur.SetPos(int(i * entSize))
		s := Symbol{Origin: origin, Index: int(i)}
		var nameOff uint32
		if idx.f.Class == elf.ELFCLASS64 {
			nameOff = cur.ReadUint32()
			s.Info = cur.ReadUint8()
			s.Other = cur.ReadUint8()
			s.Shndx = cur.ReadUint16()
			s.Value = cur.ReadUint64()
			s.Size = cur.ReadUint64()
		} else {
			nameOff = cur.ReadUint32()
			s.Value = uint64(cur.ReadUint32())
			s.Size = uint64(cur.ReadUint32())
			s.Info = cur.ReadUint8()
			s.Other = cur.ReadUint8()
			s.Shndx = cur.ReadUint16()
		}
		if cur.Err() != nil {
			idx.problemf("%s: record %d: %v", section, i, cur.Err())
			break
		}
		s.Name = idx.symName(section, strtab, i, nameOff)
		idx.syms = append(idx.syms, s)
	}
}

func (idx *Index) symName(section string, strtab []byte, rec uint64, off uint32) string {
	if off == 0 {
		return ""
	}
	if uint64(off) >= uint64(len(strtab)) {
		idx.problemf("%s: record %d: name offset %#x outside string table of %d bytes", section, rec, off, len(strtab))
		return ""
	}
	name := strtab[off:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func (idx *Index) buildLookups() {
	for i := range idx.syms {
		s := &idx.syms[i]
		if s.Name != "" {
			idx.byName[s.Name] = append(idx.byName[s.Name], i)
		}
		if !s.Defined() {
			continue
		}
		if s.Value != 0 {
			idx.defAddrs = append(idx.defAddrs, i)
		}
		switch s.Type() {
		case elf.STT_FUNC:
			idx.funcAddrs = append(idx.funcAddrs, i)
			if s.Name != "" {
				idx.funcNames.Add(s.Name, i)
			}
			if s.Size > 0 {
				idx.covering = append(idx.covering, i)
			}
		case elf.STT_OBJECT:
			if s.Size > 0 {
				idx.covering = append(idx.covering, i)
			}
		}
	}

	sort.SliceStable(idx.covering, func(a, b int) bool {
		sa, sb := &idx.syms[idx.covering[a]], &idx.syms[idx.covering[b]]
		if sa.Value != sb.Value {
			return sa.Value < sb.Value
		}
		return sa.Size < sb.Size
	})
	for _, i := range idx.covering {
		if sz := idx.syms[i].Size; sz > idx.maxRange {
			idx.maxRange = sz
		}
	}

	sort.SliceStable(idx.funcAddrs, func(a, b int) bool {
		return idx.syms[idx.funcAddrs[a]].Value < idx.syms[idx.funcAddrs[b]].Value
	})
	sort.SliceStable(idx.defAddrs, func(a, b int) bool {
		return idx.syms[idx.defAddrs[a]].Value < idx.syms[idx.defAddrs[b]].Value
	})
}
