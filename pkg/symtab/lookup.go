package symtab

import (
	"debug/elf"
	"sort"

	"github.com/elfscope/elfscope/pkg/elffile"
)

// FindByName returns every symbol whose raw name matches exactly.
// Symbols from the static table come first.
func (idx *Index) FindByName(name string) []Symbol {
	ids := idx.byName[name]
	if len(ids) == 0 {
		return nil
	}
	out := make([]Symbol, len(ids))
	for i, id := range ids {
		out[i] = idx.syms[id]
	}
	return out
}

// FindByDisplayName returns every symbol whose demangled display name
// matches exactly. Without a demangler this is FindByName.
func (idx *Index) FindByDisplayName(name string) []Symbol {
	if idx.demangler == nil {
		return idx.FindByName(name)
	}
	var out []Symbol
	for i := range idx.syms {
		s := &idx.syms[i]
		if s.Name != "" && idx.DisplayName(s) == name {
			out = append(out, *s)
		}
	}
	return out
}

func bindRank(b elf.SymBind) int {
	switch b {
	case elf.STB_GLOBAL:
		return 0
	case elf.STB_WEAK:
		return 1
	case elf.STB_LOCAL:
		return 2
	default:
		return 3
	}
}

// coveringBetter decides between two symbols whose ranges both cover
// an address: smallest range first, then strongest binding, then the
// static table, then table order.
func coveringBetter(a, b *Symbol) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	if ra, rb := bindRank(a.Binding()), bindRank(b.Binding()); ra != rb {
		return ra < rb
	}
	if a.Origin != b.Origin {
		return a.Origin == Static
	}
	return a.Index < b.Index
}

// FindCovering returns the defined function or object symbol whose
// half open range [Value, Value+Size) contains addr.
func (idx *Index) FindCovering(addr uint64) (Symbol, bool) {
	hi := sort.Search(len(idx.covering), func(i int) bool {
		return idx.syms[idx.covering[i]].Value > addr
	})
	best := -1
	for j := hi - 1; j >= 0; j-- {
		s := &idx.syms[idx.covering[j]]
		if s.Value+idx.maxRange <= addr {
			// No earlier start can reach this far.
			break
		}
		if addr < s.Value+s.Size {
			if best == -1 || coveringBetter(s, &idx.syms[best]) {
				best = idx.covering[j]
			}
		}
	}
	if best == -1 {
		return Symbol{}, false
	}
	return idx.syms[best], true
}

// Nearest returns the defined function symbol with the greatest value
// not exceeding addr, for annotating addresses outside any known
// range.
func (idx *Index) Nearest(addr uint64) (Symbol, bool) {
	i := sort.Search(len(idx.funcAddrs), func(i int) bool {
		return idx.syms[idx.funcAddrs[i]].Value > addr
	}) - 1
	if i < 0 {
		return Symbol{}, false
	}
	return idx.syms[idx.funcAddrs[i]], true
}

// NextDefined returns the lowest defined symbol value strictly greater
// than addr, used to infer the end of zero sized functions.
func (idx *Index) NextDefined(addr uint64) (uint64, bool) {
	i := sort.Search(len(idx.defAddrs), func(i int) bool {
		return idx.syms[idx.defAddrs[i]].Value > addr
	})
	if i >= len(idx.defAddrs) {
		return 0, false
	}
	return idx.syms[idx.defAddrs[i]].Value, true
}

// FuncNamesWithPrefix returns the names of defined functions starting
// with the given prefix, for completion.
func (idx *Index) FuncNamesWithPrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return idx.funcNames.PrefixSearch(prefix)
}

// Section resolves the section a symbol is defined in. Reserved
// section indices (undefined, absolute, common) report ErrNoSection.
func (idx *Index) Section(s *Symbol) (*elffile.SectionHeader, error) {
	if s.Shndx == uint16(elf.SHN_UNDEF) || s.Shndx >= uint16(elf.SHN_LORESERVE) {
		return nil, elffile.ErrNoSection
	}
	return idx.f.SectionByIndex(int(s.Shndx))
}
