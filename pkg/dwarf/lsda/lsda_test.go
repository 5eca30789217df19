package lsda

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/elfscope/elfscope/pkg/cursor"
	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/dwarf/leb128"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/elffile/elftest"
	"github.com/elfscope/elfscope/pkg/symtab"
)

func uleb(v uint64) []byte {
	var buf bytes.Buffer
	leb128.EncodeUnsigned(&buf, v)
	return buf.Bytes()
}

func le64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func record(buf []byte, id uint32, payload []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(4+len(payload)))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], id)
	buf = append(buf, tmp[:]...)
	return append(buf, payload...)
}

type fdeDesc struct {
	begin, size, lsda uint64
}

// buildFDEs assembles a one-CIE .eh_frame image with one FDE per
// description and parses it back. The CIE carries the 'L'
// augmentation with absolute LSDA pointers; a zero lsda leaves that
// FDE without one.
func buildFDEs(t *testing.T, descs ...fdeDesc) frame.FrameDescriptionEntries {
	t.Helper()

	cie := []byte{1}               // version
	cie = append(cie, 'z', 'L', 0) // augmentation
	cie = append(cie, uleb(1)...)  // code alignment factor
	cie = append(cie, 0x78)        // data alignment factor -8
	cie = append(cie, 16)          // return address register
	cie = append(cie, uleb(1)...)  // augmentation data length
	cie = append(cie, 0x00)        // LSDA pointers are absolute
	buf := record(nil, 0, cie)

	for _, d := range descs {
		idPos := uint64(len(buf)) + 4
		var fde []byte
		fde = le64(fde, d.begin)
		fde = le64(fde, d.size)
		fde = append(fde, uleb(8)...)
		fde = le64(fde, d.lsda)
		buf = record(buf, uint32(idPos), fde)
	}
	buf = append(buf, 0, 0, 0, 0)

	fdes, err := frame.Parse(buf, binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatalf("parsing synthetic .eh_frame: %v", err)
	}
	if len(fdes) != len(descs) {
		t.Fatalf("got %d FDEs, want %d", len(fdes), len(descs))
	}
	return fdes
}

// buildImage places area at addr inside a loadable segment.
func buildImage(t *testing.T, addr uint64, area []byte) *elffile.File {
	t.Helper()
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name:  ".gcc_except_table",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC,
		Addr:  addr,
		Data:  area,
	})
	b.AddLoad(".gcc_except_table", 0)
	img, _ := b.Build()
	f, err := elffile.Parse(img)
	if err != nil {
		t.Fatalf("parsing fixture image: %v", err)
	}
	return f
}

func csRecord(start, length, lp, action uint64) []byte {
	var b []byte
	b = append(b, uleb(start)...)
	b = append(b, uleb(length)...)
	b = append(b, uleb(lp)...)
	b = append(b, uleb(action)...)
	return b
}

// areaULEB assembles an LSDA with no landing pad base override, no
// type table, and a uleb encoded call site table.
func areaULEB(records ...[]byte) []byte {
	var body []byte
	for _, r := range records {
		body = append(body, r...)
	}
	a := []byte{0xff, 0xff, 0x01}
	a = append(a, uleb(uint64(len(body)))...)
	return append(a, body...)
}

func TestParseCallSites(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]
	f := buildImage(t, 0x402000, areaULEB(
		csRecord(0x10, 0x20, 0x40, 0),
		csRecord(0x40, 0x08, 0, 1),
	))

	tab, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.Defect != nil {
		t.Fatalf("unexpected defect: %v", tab.Defect)
	}
	if tab.Addr != 0x402000 || tab.Function != 0x401000 {
		t.Errorf("Addr=%#x Function=%#x, want 0x402000 0x401000", tab.Addr, tab.Function)
	}
	if tab.LPStart != 0x401000 {
		t.Errorf("LPStart = %#x, want the function entry 0x401000", tab.LPStart)
	}
	if tab.TypeTableOff != 0 {
		t.Errorf("TypeTableOff = %#x, want 0", tab.TypeTableOff)
	}
	if tab.CallSiteEnc != cursor.PtrEncULEB {
		t.Errorf("CallSiteEnc = %#x, want %#x", tab.CallSiteEnc, cursor.PtrEncULEB)
	}
	want := []Region{
		{Start: 0x401010, End: 0x401030, LandingPad: 0x401040, Action: 0},
		{Start: 0x401040, End: 0x401048, LandingPad: 0, Action: 1},
	}
	if !reflect.DeepEqual(tab.Regions, want) {
		t.Errorf("Regions = %+v, want %+v", tab.Regions, want)
	}
	// The second region has no landing pad: the exception propagates
	// through it. That must decode cleanly.
	if tab.Regions[1].LandingPad != 0 {
		t.Errorf("propagating region got landing pad %#x", tab.Regions[1].LandingPad)
	}
}

func TestParseLPStartOverride(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]

	a := []byte{0x00} // landing pad base: absolute pointer follows
	a = le64(a, 0x401800)
	a = append(a, 0xff) // no type table
	a = append(a, 0x01) // uleb call sites
	body := csRecord(0, 0x10, 0x20, 0)
	a = append(a, uleb(uint64(len(body)))...)
	a = append(a, body...)
	f := buildImage(t, 0x402000, a)

	tab, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.LPStart != 0x401800 {
		t.Errorf("LPStart = %#x, want 0x401800", tab.LPStart)
	}
	if got := tab.Regions[0].LandingPad; got != 0x401820 {
		t.Errorf("LandingPad = %#x, want base relative 0x401820", got)
	}
	if got := tab.Regions[0].Start; got != 0x401000 {
		t.Errorf("Start = %#x, want function relative 0x401000", got)
	}
}

func TestParseTypeTableOffset(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]

	a := []byte{0xff}            // no landing pad base override
	a = append(a, 0x03)          // type table pointers: udata4
	a = append(a, uleb(0x30)...) // type table offset
	a = append(a, 0x01)          // uleb call sites
	a = append(a, uleb(0)...)    // empty call site table
	f := buildImage(t, 0x402000, a)

	tab, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.TypeTableOff != 0x30 {
		t.Errorf("TypeTableOff = %#x, want 0x30", tab.TypeTableOff)
	}
	if len(tab.Regions) != 0 {
		t.Errorf("got %d regions from an empty call site table", len(tab.Regions))
	}
}

func TestParseSortsCallSites(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]
	f := buildImage(t, 0x402000, areaULEB(
		csRecord(0x40, 0x08, 0, 0),
		csRecord(0x10, 0x20, 0x60, 2),
		csRecord(0x30, 0x10, 0, 0),
	))

	tab, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tab.Regions) != 3 {
		t.Fatalf("got %d regions, want 3", len(tab.Regions))
	}
	for i := 1; i < len(tab.Regions); i++ {
		if tab.Regions[i-1].Start > tab.Regions[i].Start {
			t.Errorf("regions out of order: [%d].Start=%#x > [%d].Start=%#x",
				i-1, tab.Regions[i-1].Start, i, tab.Regions[i].Start)
		}
	}
	if tab.Regions[0].LandingPad != 0x401060 {
		t.Errorf("first region after sorting = %+v, want the 0x10 call site", tab.Regions[0])
	}
}

func TestParseIdempotent(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]
	f := buildImage(t, 0x402000, areaULEB(
		csRecord(0x40, 0x08, 0, 0),
		csRecord(0x10, 0x20, 0x60, 2),
	))

	first, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	second, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}
	if !reflect.DeepEqual(first.Regions, second.Regions) {
		t.Errorf("parses disagree:\n first: %+v\nsecond: %+v", first.Regions, second.Regions)
	}
}

func TestParseNoLSDA(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0})[0]
	f := buildImage(t, 0x402000, areaULEB())

	if _, err := Parse(f, fde); !errors.Is(err, ErrNoLSDA) {
		t.Errorf("Parse = %v, want ErrNoLSDA", err)
	}
}

func TestParseShortHeader(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]
	f := buildImage(t, 0x402000, []byte{0xff})

	if _, err := Parse(f, fde); err == nil {
		t.Error("expected an error for a truncated header")
	}
}

func TestParseTruncatedTable(t *testing.T) {
	fde := buildFDEs(t, fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000})[0]

	a := []byte{0xff, 0xff, 0x01}
	body := csRecord(0x10, 0x20, 0x40, 0)
	body = append(body, 0x81) // start of a record, cut mid uleb
	a = append(a, uleb(uint64(len(body))+0x20)...)
	a = append(a, body...)
	f := buildImage(t, 0x402000, a)

	tab, err := Parse(f, fde)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tab.Defect == nil {
		t.Fatal("expected a defect for a truncated call site table")
	}
	want := []Region{{Start: 0x401010, End: 0x401030, LandingPad: 0x401040, Action: 0}}
	if !reflect.DeepEqual(tab.Regions, want) {
		t.Errorf("Regions = %+v, want the one complete record %+v", tab.Regions, want)
	}
}

func TestParseAllAndFindForSymbol(t *testing.T) {
	fdes := buildFDEs(t,
		fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000},
		fdeDesc{begin: 0x401100, size: 0x80, lsda: 0x402040},
		fdeDesc{begin: 0x401200, size: 0x40, lsda: 0}, // no LSDA
	)

	area1 := areaULEB(
		csRecord(0x10, 0x20, 0x40, 0),
		csRecord(0x40, 0x08, 0, 1),
	)
	area2 := areaULEB(csRecord(0x08, 0x10, 0x30, 0))
	area := make([]byte, 0x40+len(area2))
	copy(area, area1)
	copy(area[0x40:], area2)
	f := buildImage(t, 0x402000, area)

	tables, err := ParseAll(f, fdes)
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(tables))
	}

	sym1 := &symtab.Symbol{Name: "first", Value: 0x401000, Size: 0x100}
	got := FindForSymbol(tables, sym1)
	if len(got) != 2 || got[0].Start != 0x401010 || got[1].Start != 0x401040 {
		t.Errorf("FindForSymbol(first) = %+v", got)
	}

	sym2 := &symtab.Symbol{Name: "second", Value: 0x401100, Size: 0x80}
	got = FindForSymbol(tables, sym2)
	if len(got) != 1 || got[0].Start != 0x401108 || got[0].LandingPad != 0x401130 {
		t.Errorf("FindForSymbol(second) = %+v", got)
	}

	none := &symtab.Symbol{Name: "bare", Value: 0x401200, Size: 0x40}
	if got = FindForSymbol(tables, none); len(got) != 0 {
		t.Errorf("FindForSymbol(bare) = %+v, want none", got)
	}
}

func TestParseAllReportsFailures(t *testing.T) {
	fdes := buildFDEs(t,
		fdeDesc{begin: 0x401000, size: 0x100, lsda: 0x402000},
		fdeDesc{begin: 0x401100, size: 0x80, lsda: 0x900000}, // outside every segment
	)
	f := buildImage(t, 0x402000, areaULEB(csRecord(0x10, 0x20, 0x40, 0)))

	tables, err := ParseAll(f, fdes)
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want the one that decoded", len(tables))
	}
	var walk *frame.WalkError
	if !errors.As(err, &walk) || len(walk.Problems) != 1 {
		t.Fatalf("ParseAll error = %v, want one aggregated problem", err)
	}
}
