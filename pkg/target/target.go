// Package target bundles everything the presentation layers need about
// one loaded ELF binary: the parsed file, the symbol index, the call
// frame information and the decoded exception tables. The bundle is
// built once by Open and never mutated afterwards, so concurrent
// queries need no locking.
package target

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/dwarf/lsda"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/logflags"
	"github.com/elfscope/elfscope/pkg/symtab"
)

// ErrNoFunction is returned by FindFunction when no defined symbol
// matches the given specifier.
var ErrNoFunction = errors.New("function not found")

// Target is the analysis model of one ELF binary. File owns the byte
// buffer; every other field references it.
type Target struct {
	// Path is the name the file was opened under, presentation only.
	Path string

	File *elffile.File
	Syms *symtab.Index

	// Frame holds the merged .eh_frame and .debug_frame entries.
	// FrameErr, when set, is a *frame.WalkError describing the records
	// that were skipped; the entries that did decode are in Frame.
	Frame    frame.FrameDescriptionEntries
	FrameErr error

	// EH holds the decoded language specific data areas, one table per
	// frame entry that carries one, with the same containment split as
	// Frame.
	EH    []*lsda.Table
	EHErr error
}

// Open parses buf into a Target. Only a structurally unusable file
// header fails Open; defects in sections, symbols, frame records or
// exception tables are retained on the Target instead.
func Open(path string, buf []byte) (*Target, error) {
	f, err := elffile.Parse(buf)
	if err != nil {
		return nil, err
	}
	logflags.ElfFileLogger().Debugf("%s: %v %v, %d sections, %d segments", path, f.Class, f.Data, len(f.Sections), len(f.Progs))

	tgt := &Target{
		Path: path,
		File: f,
		Syms: symtab.New(f),
	}
	if problems := tgt.Syms.Problems(); len(problems) > 0 {
		logflags.SymtabLogger().Warnf("%s: %d symbol table defects", path, len(problems))
	}

	tgt.loadFrame()
	tgt.loadEH()
	return tgt, nil
}

// loadFrame decodes .eh_frame and .debug_frame, preferring both when
// both are present; Append drops the duplicates.
func (tgt *Target) loadFrame() {
	f := tgt.File
	var problems []error

	if sh, err := f.Section(".eh_frame"); err == nil {
		data, err := f.SectionData(sh)
		if err != nil {
			problems = append(problems, fmt.Errorf(".eh_frame: %w", err))
		} else {
			fdes, err := frame.Parse(data, f.ByteOrder, 0, f.PtrSize(), sh.Addr)
			if err != nil {
				problems = append(problems, walkProblems(".eh_frame", err)...)
			}
			tgt.Frame = tgt.Frame.Append(fdes)
		}
	}

	if sh, err := f.Section(".debug_frame"); err == nil {
		data, err := f.SectionData(sh)
		if err != nil {
			problems = append(problems, fmt.Errorf(".debug_frame: %w", err))
		} else {
			fdes, err := frame.ParseDebugFrame(data, f.ByteOrder, 0, f.PtrSize())
			if err != nil {
				problems = append(problems, walkProblems(".debug_frame", err)...)
			}
			tgt.Frame = tgt.Frame.Append(fdes)
		}
	}

	if len(problems) > 0 {
		tgt.FrameErr = &frame.WalkError{Problems: problems}
		logflags.FrameLogger().Warnf("%s: %v", tgt.Path, tgt.FrameErr)
	}
	logflags.FrameLogger().Debugf("%s: %d frame entries", tgt.Path, len(tgt.Frame))
}

func (tgt *Target) loadEH() {
	if len(tgt.Frame) == 0 {
		return
	}
	tables, err := lsda.ParseAll(tgt.File, tgt.Frame)
	tgt.EH = tables
	tgt.EHErr = err
	if err != nil {
		logflags.LSDALogger().Warnf("%s: %v", tgt.Path, err)
	}
	logflags.LSDALogger().Debugf("%s: %d exception tables", tgt.Path, len(tables))
}

// walkProblems prefixes each skipped record report with the section it
// came from, flattening nested WalkErrors.
func walkProblems(section string, err error) []error {
	var we *frame.WalkError
	if errors.As(err, &we) {
		out := make([]error, 0, len(we.Problems))
		for _, p := range we.Problems {
			out = append(out, fmt.Errorf("%s: %w", section, p))
		}
		return out
	}
	return []error{fmt.Errorf("%s: %w", section, err)}
}

// FindFunction resolves the argument of the fn and eh commands: either
// a 0x prefixed hexadecimal address, matched against the covering
// symbol (falling back to the nearest preceding defined symbol), or a
// name matched first against display names and then raw linker names.
// Only defined symbols qualify.
func (tgt *Target) FindFunction(spec string) (symtab.Symbol, error) {
	if strings.HasPrefix(spec, "0x") || strings.HasPrefix(spec, "0X") {
		addr, err := strconv.ParseUint(spec[2:], 16, 64)
		if err != nil {
			return symtab.Symbol{}, fmt.Errorf("bad address %q: %v", spec, err)
		}
		if s, ok := tgt.Syms.FindCovering(addr); ok {
			return s, nil
		}
		if s, ok := tgt.Syms.Nearest(addr); ok {
			return s, nil
		}
		return symtab.Symbol{}, fmt.Errorf("%w: no symbol at %#x", ErrNoFunction, addr)
	}

	for _, find := range []func(string) []symtab.Symbol{tgt.Syms.FindByDisplayName, tgt.Syms.FindByName} {
		for _, s := range find(spec) {
			if s.Defined() {
				return s, nil
			}
		}
	}
	return symtab.Symbol{}, fmt.Errorf("%w: %q", ErrNoFunction, spec)
}
