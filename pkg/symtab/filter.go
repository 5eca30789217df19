package symtab

import (
	"debug/elf"
	"regexp"
	"strings"
)

// Predicate restricts a symbol listing. Predicates compose by logical
// AND, so the order they are given in never changes the result.
type Predicate interface {
	match(idx *Index, s *Symbol) bool
}

type predFunc func(idx *Index, s *Symbol) bool

func (p predFunc) match(idx *Index, s *Symbol) bool { return p(idx, s) }

// WithBinding keeps symbols with the given binding.
func WithBinding(b elf.SymBind) Predicate {
	return predFunc(func(_ *Index, s *Symbol) bool { return s.Binding() == b })
}

// WithType keeps symbols of the given type.
func WithType(t elf.SymType) Predicate {
	return predFunc(func(_ *Index, s *Symbol) bool { return s.Type() == t })
}

// WithVisibility keeps symbols with the given visibility.
func WithVisibility(v elf.SymVis) Predicate {
	return predFunc(func(_ *Index, s *Symbol) bool { return s.Visibility() == v })
}

// DefinedOnly keeps symbols defined in this file when defined is true,
// and undefined references when it is false.
func DefinedOnly(defined bool) Predicate {
	return predFunc(func(_ *Index, s *Symbol) bool { return s.Defined() == defined })
}

// FromTable keeps symbols read from the given table.
func FromTable(o Origin) Predicate {
	return predFunc(func(_ *Index, s *Symbol) bool { return s.Origin == o })
}

// NameMatches keeps symbols whose display name matches the pattern.
// The display name is the demangled one when the index has a
// demangler installed.
func NameMatches(re *regexp.Regexp) Predicate {
	return predFunc(func(idx *Index, s *Symbol) bool { return re.MatchString(idx.DisplayName(s)) })
}

// NotRustStd drops symbols belonging to the Rust standard library
// crates (std, core, alloc), recognized by the first path component of
// the display name.
func NotRustStd() Predicate {
	return predFunc(func(idx *Index, s *Symbol) bool {
		name := idx.DisplayName(s)
		root := name
		if i := strings.Index(name, "::"); i >= 0 {
			root = name[:i]
		}
		switch root {
		case "std", "core", "alloc", "compiler_builtins":
			return false
		}
		return true
	})
}

// Iter is a lazy, single pass cursor over filtered symbols. Re-filter
// to iterate again.
type Iter struct {
	idx   *Index
	preds []Predicate
	i     int
}

// Filter returns a lazy iterator over the symbols matching every
// predicate, in table order with the static table first.
func (idx *Index) Filter(preds ...Predicate) *Iter {
	return &Iter{idx: idx, preds: preds}
}

// Next returns the next matching symbol.
func (it *Iter) Next() (Symbol, bool) {
	for it.i < len(it.idx.syms) {
		s := &it.idx.syms[it.i]
		it.i++
		if it.matches(s) {
			return *s, true
		}
	}
	return Symbol{}, false
}

func (it *Iter) matches(s *Symbol) bool {
	for _, p := range it.preds {
		if !p.match(it.idx, s) {
			return false
		}
	}
	return true
}

// Collect drains the iterator into a slice.
func (it *Iter) Collect() []Symbol {
	var out []Symbol
	for {
		s, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}
