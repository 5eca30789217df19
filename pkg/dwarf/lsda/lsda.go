// Package lsda decodes the language specific data area a frame
// description entry points at: the call site table a language runtime
// walks to route an in-flight exception to the right landing pad.
package lsda

import (
	"errors"
	"fmt"
	"sort"

	"github.com/elfscope/elfscope/pkg/cursor"
	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/symtab"
)

// ErrNoLSDA means the frame description entry carries no language
// specific data area pointer.
var ErrNoLSDA = errors.New("frame has no LSDA")

// Region is one call site record, resolved to absolute virtual
// addresses. Unwinding through [Start, End) transfers control to
// LandingPad. A zero LandingPad means the frame runs nothing there and
// the exception propagates; that is a normal outcome, not a decode
// problem. Action is the 1 based byte offset into the action table
// selecting the type filters for the landing pad, zero when the
// landing pad is cleanup only.
type Region struct {
	Start      uint64
	End        uint64
	LandingPad uint64
	Action     uint64
}

// Table is one function's decoded language specific data area.
// Regions is sorted by Start. Defect records a truncation or bad
// encoding that cut the call site table short; the regions decoded
// before it are kept.
type Table struct {
	Addr         uint64 // virtual address of the area
	Function     uint64 // entry point of the function it describes
	LPStart      uint64 // landing pad base
	TypeTableOff uint64 // offset to the type table, zero when absent
	CallSiteEnc  cursor.PtrEnc
	Regions      []Region
	Defect       error
}

// Parse decodes the language specific data area referenced by fde. The
// area's bytes are located through the loadable segment covering the
// pointer, so the section table is not consulted. Header problems fail
// the whole decode; a defective call site record ends the walk, keeps
// the records already decoded and is reported through Defect.
func Parse(f *elffile.File, fde *frame.FrameDescriptionEntry) (*Table, error) {
	if fde == nil || !fde.HasLSDA {
		return nil, ErrNoLSDA
	}
	data, err := f.SegmentData(fde.LSDAPointer)
	if err != nil {
		return nil, fmt.Errorf("LSDA at %#x: %w", fde.LSDAPointer, err)
	}
	cur := cursor.New(data, f.ByteOrder, f.PtrSize()).WithBase(fde.LSDAPointer)

	tab := &Table{
		Addr:     fde.LSDAPointer,
		Function: fde.Begin(),
		LPStart:  fde.Begin(),
	}

	lpEnc := cursor.PtrEnc(cur.ReadUint8())
	if lpEnc != cursor.PtrEncOmit {
		tab.LPStart = cur.ReadEncodedPtr(lpEnc, cursor.EncBases{})
	}
	ttEnc := cursor.PtrEnc(cur.ReadUint8())
	if ttEnc != cursor.PtrEncOmit {
		tab.TypeTableOff = cur.ReadULEB()
	}
	tab.CallSiteEnc = cursor.PtrEnc(cur.ReadUint8())
	csLen := cur.ReadULEB()
	if cur.Err() != nil {
		return nil, fmt.Errorf("LSDA header at %#x: %w", fde.LSDAPointer, cur.Err())
	}
	if csLen > uint64(cur.Remaining()) {
		tab.Defect = fmt.Errorf("call site table of %d bytes runs past the end of the segment (%d bytes left)", csLen, cur.Remaining())
		csLen = uint64(cur.Remaining())
	}

	base := cur.VPos()
	cs := cursor.New(cur.Bytes(int(csLen)), f.ByteOrder, f.PtrSize()).WithBase(base)
	for cs.Remaining() > 0 {
		recOff := cs.VPos()
		start := cs.ReadEncodedPtr(tab.CallSiteEnc, cursor.EncBases{})
		length := cs.ReadEncodedPtr(tab.CallSiteEnc, cursor.EncBases{})
		lp := cs.ReadEncodedPtr(tab.CallSiteEnc, cursor.EncBases{})
		action := cs.ReadULEB()
		if cs.Err() != nil {
			if tab.Defect == nil {
				tab.Defect = fmt.Errorf("call site record at %#x: %v", recOff, cs.Err())
			}
			break
		}
		r := Region{
			Start:  fde.Begin() + start,
			End:    fde.Begin() + start + length,
			Action: action,
		}
		if lp != 0 {
			r.LandingPad = tab.LPStart + lp
		}
		tab.Regions = append(tab.Regions, r)
	}

	// Compilers emit call sites in address order but nothing enforces
	// that, so order is restored here rather than assumed.
	sort.SliceStable(tab.Regions, func(i, j int) bool {
		return tab.Regions[i].Start < tab.Regions[j].Start
	})
	return tab, nil
}

// ParseAll decodes the language specific data area of every frame
// description entry that has one; entries without one are skipped.
// A failing decode does not stop the walk: the tables that did decode
// are returned, with the failures aggregated in a *frame.WalkError.
func ParseAll(f *elffile.File, fdes frame.FrameDescriptionEntries) ([]*Table, error) {
	var (
		tables   []*Table
		problems []error
	)
	for _, fde := range fdes {
		if !fde.HasLSDA {
			continue
		}
		tab, err := Parse(f, fde)
		if err != nil {
			problems = append(problems, fmt.Errorf("function %#x: %w", fde.Begin(), err))
			continue
		}
		tables = append(tables, tab)
	}
	if len(problems) > 0 {
		return tables, &frame.WalkError{Problems: problems}
	}
	return tables, nil
}

// FindForSymbol returns every region whose start address falls inside
// the symbol's address range, across all tables, sorted by Start.
func FindForSymbol(tables []*Table, sym *symtab.Symbol) []Region {
	var out []Region
	for _, tab := range tables {
		for _, r := range tab.Regions {
			if r.Start >= sym.Value && r.Start < sym.Value+sym.Size {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
