package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/elfscope/elfscope/pkg/cursor"
	"github.com/elfscope/elfscope/pkg/dwarf/leb128"
)

func TestParseCIE(t *testing.T) {
	ctx := &parseContext{
		entry:  cursor.New([]byte{3, 0, 1, 124, 16, 12, 7, 8, 5, 16, 2, 0}, binary.LittleEndian, 8),
		common: &CommonInformationEntry{Length: 12},
		cies:   map[uint64]*CommonInformationEntry{},
		order:  binary.LittleEndian,
	}
	_ = parseCIE(ctx)

	common := ctx.common

	if common.Version != 3 {
		t.Fatalf("Expected Version 3, but get %d", common.Version)
	}
	if common.Augmentation != "" {
		t.Fatalf("Expected Augmentation \"\", but get %s", common.Augmentation)
	}
	if common.CodeAlignmentFactor != 1 {
		t.Fatalf("Expected CodeAlignmentFactor 1, but get %d", common.CodeAlignmentFactor)
	}
	if common.DataAlignmentFactor != -4 {
		t.Fatalf("Expected DataAlignmentFactor -4, but get %d", common.DataAlignmentFactor)
	}
	if common.ReturnAddressRegister != 16 {
		t.Fatalf("Expected ReturnAddressRegister 16, but get %d", common.ReturnAddressRegister)
	}
	initialInstructions := []byte{12, 7, 8, 5, 16, 2, 0}
	if !bytes.Equal(common.InitialInstructions, initialInstructions) {
		t.Fatalf("Expected InitialInstructions %v, but get %v", initialInstructions, common.InitialInstructions)
	}
	if common.fdeEnc != cursor.PtrEncAbs {
		t.Errorf("expected default FDE pointer encoding absptr, got %s", common.fdeEnc)
	}
	if common.lsdaEnc != cursor.PtrEncOmit {
		t.Errorf("expected default LSDA encoding omit, got %s", common.lsdaEnc)
	}
	if _, ok := ctx.cies[0]; !ok {
		t.Error("CIE was not registered for FDE references")
	}
}

func uleb(v uint64) []byte {
	var buf bytes.Buffer
	leb128.EncodeUnsigned(&buf, v)
	return buf.Bytes()
}

// ciePayload encodes a version 1 CIE body: code alignment 1, data
// alignment -8, return address register 16. encs holds the raw
// augmentation data bytes matching aug's characters.
func ciePayload(aug string, encs []byte, initial []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(1)
	b.WriteString(aug)
	b.WriteByte(0)
	leb128.EncodeUnsigned(&b, 1)
	leb128.EncodeSigned(&b, -8)
	b.WriteByte(16)
	if len(aug) > 0 {
		leb128.EncodeUnsigned(&b, uint64(len(encs)))
		b.Write(encs)
	}
	b.Write(initial)
	return b.Bytes()
}

type ehFrameBuilder struct {
	buf  bytes.Buffer
	addr uint64
}

func newEhFrameBuilder(addr uint64) *ehFrameBuilder {
	return &ehFrameBuilder{addr: addr}
}

func (b *ehFrameBuilder) cie(payload []byte) uint64 {
	off := uint64(b.buf.Len())
	binary.Write(&b.buf, binary.LittleEndian, uint32(len(payload)+4))
	binary.Write(&b.buf, binary.LittleEndian, uint32(0))
	b.buf.Write(payload)
	return off
}

// fde emits an FDE whose initial location is encoded pcrel|sdata4,
// matching an 'R' encoding byte of 0x1b in the CIE.
func (b *ehFrameBuilder) fde(cieOff, begin uint64, size uint32, aug, program []byte) uint64 {
	entryOff := uint64(b.buf.Len())
	idPos := entryOff + 4
	fieldAddr := b.addr + entryOff + 8

	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, int32(int64(begin)-int64(fieldAddr)))
	binary.Write(&payload, binary.LittleEndian, size)
	payload.Write(aug)
	payload.Write(program)

	binary.Write(&b.buf, binary.LittleEndian, uint32(payload.Len()+4))
	binary.Write(&b.buf, binary.LittleEndian, uint32(idPos-cieOff))
	b.buf.Write(payload.Bytes())
	return entryOff
}

func (b *ehFrameBuilder) raw(data []byte) uint64 {
	off := uint64(b.buf.Len())
	b.buf.Write(data)
	return off
}

func (b *ehFrameBuilder) terminator() {
	binary.Write(&b.buf, binary.LittleEndian, uint32(0))
}

func TestParseEhFrame(t *testing.T) {
	b := newEhFrameBuilder(0x1000)
	cieOff := b.cie(ciePayload("zR", []byte{0x1b}, []byte{DW_CFA_def_cfa, 7, 8}))
	b.fde(cieOff, 0x401000, 0x20, uleb(0), []byte{DW_CFA_advance_loc | 4, DW_CFA_offset | 6, 2})
	b.fde(cieOff, 0x401040, 0x10, uleb(0), nil)
	b.terminator()

	entries, err := Parse(b.buf.Bytes(), binary.LittleEndian, 0, 8, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 FDEs, got %d", len(entries))
	}
	if entries[0].Begin() != 0x401000 || entries[0].End() != 0x401020 {
		t.Errorf("first FDE covers [%#x, %#x), want [0x401000, 0x401020)", entries[0].Begin(), entries[0].End())
	}
	if entries[1].Begin() != 0x401040 || entries[1].End() != 0x401050 {
		t.Errorf("second FDE covers [%#x, %#x), want [0x401040, 0x401050)", entries[1].Begin(), entries[1].End())
	}

	cie := entries[0].CIE
	if cie == nil || cie != entries[1].CIE {
		t.Fatal("FDEs do not share their CIE")
	}
	if cie.Version != 1 || cie.Augmentation != "zR" {
		t.Errorf("got CIE version %d augmentation %q", cie.Version, cie.Augmentation)
	}
	if cie.CodeAlignmentFactor != 1 || cie.DataAlignmentFactor != -8 || cie.ReturnAddressRegister != 16 {
		t.Errorf("got CIE factors code=%d data=%d ra=%d", cie.CodeAlignmentFactor, cie.DataAlignmentFactor, cie.ReturnAddressRegister)
	}
	if cie.fdeEnc != cursor.PtrEncPCRel|cursor.PtrEncSData4 {
		t.Errorf("got FDE pointer encoding %s", cie.fdeEnc)
	}

	fde, err := entries.FDEForPC(0x401010)
	if err != nil {
		t.Fatal(err)
	}
	if fde != entries[0] {
		t.Errorf("FDEForPC(0x401010) returned the wrong FDE [%#x, %#x)", fde.Begin(), fde.End())
	}
}

func TestParseEhFrameLSDA(t *testing.T) {
	b := newEhFrameBuilder(0x2000)
	// 'L' declares an absptr LSDA pointer in each FDE's augmentation data.
	cieOff := b.cie(ciePayload("zLR", []byte{byte(cursor.PtrEncAbs), 0x1b}, []byte{DW_CFA_def_cfa, 7, 8}))

	withLSDA := new(bytes.Buffer)
	leb128.EncodeUnsigned(withLSDA, 8)
	binary.Write(withLSDA, binary.LittleEndian, uint64(0x402000))
	b.fde(cieOff, 0x401000, 0x20, withLSDA.Bytes(), nil)

	noLSDA := new(bytes.Buffer)
	leb128.EncodeUnsigned(noLSDA, 8)
	binary.Write(noLSDA, binary.LittleEndian, uint64(0))
	b.fde(cieOff, 0x401040, 0x10, noLSDA.Bytes(), nil)
	b.terminator()

	entries, err := Parse(b.buf.Bytes(), binary.LittleEndian, 0, 8, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 FDEs, got %d", len(entries))
	}
	if !entries[0].HasLSDA || entries[0].LSDAPointer != 0x402000 {
		t.Errorf("first FDE: HasLSDA=%v LSDAPointer=%#x, want LSDA at 0x402000", entries[0].HasLSDA, entries[0].LSDAPointer)
	}
	if entries[1].HasLSDA {
		t.Errorf("second FDE: zero LSDA field should mean no LSDA, got pointer %#x", entries[1].LSDAPointer)
	}
	if entries[1].Instructions == nil {
		t.Error("second FDE lost its instructions")
	}
}

func TestParseDebugFrame(t *testing.T) {
	var buf bytes.Buffer
	writeEntry := func(id uint32, payload []byte) {
		binary.Write(&buf, binary.LittleEndian, uint32(len(payload)+4))
		binary.Write(&buf, binary.LittleEndian, id)
		buf.Write(payload)
	}

	var cie bytes.Buffer
	cie.WriteByte(3) // version 3: return address register is a ULEB128
	cie.WriteByte(0) // no augmentation
	leb128.EncodeUnsigned(&cie, 2)
	leb128.EncodeSigned(&cie, -4)
	leb128.EncodeUnsigned(&cie, 30)
	cie.Write([]byte{DW_CFA_def_cfa, 29, 16})
	writeEntry(0xffffffff, cie.Bytes())

	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint64(0x1000))
	binary.Write(&fde, binary.LittleEndian, uint64(0x40))
	fde.Write([]byte{DW_CFA_advance_loc | 8, DW_CFA_def_cfa_offset, 32})
	writeEntry(0, fde.Bytes())

	entries, err := ParseDebugFrame(buf.Bytes(), binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(entries))
	}
	if entries[0].Begin() != 0x1000 || entries[0].End() != 0x1040 {
		t.Errorf("FDE covers [%#x, %#x), want [0x1000, 0x1040)", entries[0].Begin(), entries[0].End())
	}
	cieRec := entries[0].CIE
	if cieRec.Version != 3 || cieRec.CodeAlignmentFactor != 2 || cieRec.DataAlignmentFactor != -4 || cieRec.ReturnAddressRegister != 30 {
		t.Errorf("CIE decoded as version=%d code=%d data=%d ra=%d",
			cieRec.Version, cieRec.CodeAlignmentFactor, cieRec.DataAlignmentFactor, cieRec.ReturnAddressRegister)
	}
}

func TestParseDwarf64DebugFrame(t *testing.T) {
	var buf bytes.Buffer

	var cie bytes.Buffer
	cie.WriteByte(1)
	cie.WriteByte(0)
	leb128.EncodeUnsigned(&cie, 1)
	leb128.EncodeSigned(&cie, -8)
	cie.WriteByte(16)
	cie.Write([]byte{DW_CFA_def_cfa, 7, 8})

	binary.Write(&buf, binary.LittleEndian, uint32(dwarf64Marker))
	binary.Write(&buf, binary.LittleEndian, uint64(cie.Len()+8))
	binary.Write(&buf, binary.LittleEndian, ^uint64(0))
	buf.Write(cie.Bytes())

	var fde bytes.Buffer
	binary.Write(&fde, binary.LittleEndian, uint64(0x2000))
	binary.Write(&fde, binary.LittleEndian, uint64(0x80))

	binary.Write(&buf, binary.LittleEndian, uint32(dwarf64Marker))
	binary.Write(&buf, binary.LittleEndian, uint64(fde.Len()+8))
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // CIE at section offset 0
	buf.Write(fde.Bytes())

	entries, err := ParseDebugFrame(buf.Bytes(), binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(entries))
	}
	if entries[0].Begin() != 0x2000 || entries[0].End() != 0x2080 {
		t.Errorf("FDE covers [%#x, %#x), want [0x2000, 0x2080)", entries[0].Begin(), entries[0].End())
	}
}

func TestParseSkipsDefectiveEntry(t *testing.T) {
	b := newEhFrameBuilder(0x1000)
	cieOff := b.cie(ciePayload("zR", []byte{0x1b}, []byte{DW_CFA_def_cfa, 7, 8}))

	// An FDE whose CIE pointer leads nowhere.
	var bogus bytes.Buffer
	binary.Write(&bogus, binary.LittleEndian, uint32(12))
	binary.Write(&bogus, binary.LittleEndian, uint32(0x7777))
	bogus.Write(make([]byte, 8))
	badOff := b.raw(bogus.Bytes())

	b.fde(cieOff, 0x401040, 0x10, uleb(0), nil)
	b.terminator()

	entries, err := Parse(b.buf.Bytes(), binary.LittleEndian, 0, 8, 0x1000)
	if err == nil {
		t.Fatal("expected a walk error for the defective entry")
	}
	we, ok := err.(*WalkError)
	if !ok {
		t.Fatalf("expected *WalkError, got %T: %v", err, err)
	}
	if len(we.Problems) != 1 {
		t.Fatalf("expected 1 problem, got %d: %v", len(we.Problems), we.Problems)
	}
	ee, ok := we.Problems[0].(*EntryError)
	if !ok {
		t.Fatalf("expected *EntryError, got %T", we.Problems[0])
	}
	if ee.Off != badOff {
		t.Errorf("problem reported at %#x, defective entry is at %#x", ee.Off, badOff)
	}

	// The sibling FDE still decodes.
	if len(entries) != 1 {
		t.Fatalf("expected 1 surviving FDE, got %d", len(entries))
	}
	if entries[0].Begin() != 0x401040 {
		t.Errorf("surviving FDE begins at %#x, want 0x401040", entries[0].Begin())
	}
}

func TestParseTruncatedSection(t *testing.T) {
	b := newEhFrameBuilder(0x1000)
	cieOff := b.cie(ciePayload("zR", []byte{0x1b}, []byte{DW_CFA_def_cfa, 7, 8}))
	b.fde(cieOff, 0x401000, 0x20, uleb(0), nil)

	// A record whose length runs past the end of the section.
	var tail bytes.Buffer
	binary.Write(&tail, binary.LittleEndian, uint32(0x100))
	binary.Write(&tail, binary.LittleEndian, uint32(0))
	b.raw(tail.Bytes())

	entries, err := Parse(b.buf.Bytes(), binary.LittleEndian, 0, 8, 0x1000)
	if err == nil {
		t.Fatal("expected a walk error for the truncated record")
	}
	if len(entries) != 1 {
		t.Fatalf("expected the intact FDE to survive, got %d entries", len(entries))
	}
	if entries[0].Begin() != 0x401000 {
		t.Errorf("surviving FDE begins at %#x, want 0x401000", entries[0].Begin())
	}
}
