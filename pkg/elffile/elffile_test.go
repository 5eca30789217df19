package elffile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/elfscope/elfscope/pkg/elffile/elftest"
)

func text16() []byte {
	code := make([]byte, 16)
	for i := range code {
		code[i] = 0x90
	}
	return code
}

func TestParse64LittleEndian(t *testing.T) {
	b := elftest.New()
	b.Entry = 0x401000
	b.AddSection(elftest.Section{
		Name:  ".text",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  0x401000,
		Data:  text16(),
	})
	b.AddLoad(".text", 0)
	buf, lay := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		t.Errorf("class/data: got %v/%v", f.Class, f.Data)
	}
	if f.Entry != 0x401000 {
		t.Errorf("entry: got %#x", f.Entry)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Errorf("machine: got %v", f.Machine)
	}

	sh, err := f.Section(".text")
	if err != nil {
		t.Fatalf("Section(.text): %v", err)
	}
	if sh.Addr != 0x401000 || sh.Offset != lay.SectionData[".text"] {
		t.Errorf(".text placement: addr %#x offset %#x", sh.Addr, sh.Offset)
	}
	data, err := f.SectionData(sh)
	if err != nil {
		t.Fatalf("SectionData: %v", err)
	}
	if !bytes.Equal(data, text16()) {
		t.Errorf(".text content mismatch")
	}

	off, err := f.FileOffset(0x401008)
	if err != nil {
		t.Fatalf("FileOffset: %v", err)
	}
	if off != lay.SectionData[".text"]+8 {
		t.Errorf("FileOffset: got %#x want %#x", off, lay.SectionData[".text"]+8)
	}

	if _, err := f.ProgForVaddr(0x999999); !errors.Is(err, ErrNoSegment) {
		t.Errorf("ProgForVaddr miss: got %v", err)
	}
	if covered, err := f.SectionForVaddr(0x401005); err != nil || covered.Name != ".text" {
		t.Errorf("SectionForVaddr: got %v, %v", covered, err)
	}
}

func TestParse32BigEndian(t *testing.T) {
	b := elftest.New()
	b.Class = elf.ELFCLASS32
	b.Order = binary.BigEndian
	b.Machine = elf.EM_PPC
	b.Entry = 0x10000
	b.AddSection(elftest.Section{
		Name:  ".text",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  0x10000,
		Data:  text16(),
	})
	buf, _ := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2MSB {
		t.Errorf("class/data: got %v/%v", f.Class, f.Data)
	}
	if f.PtrSize() != 4 {
		t.Errorf("ptr size: got %d", f.PtrSize())
	}
	if f.Entry != 0x10000 {
		t.Errorf("entry: got %#x", f.Entry)
	}
	if _, err := f.Section(".text"); err != nil {
		t.Errorf("Section(.text): %v", err)
	}
}

func TestParseBadIdent(t *testing.T) {
	buf, _ := elftest.New().Build()

	bad := append([]byte(nil), buf...)
	bad[0] = 0x7e
	if _, err := Parse(bad); !errors.Is(err, ErrBadMagic) {
		t.Errorf("bad magic: got %v", err)
	}

	bad = append([]byte(nil), buf...)
	bad[elf.EI_CLASS] = 9
	if _, err := Parse(bad); !errors.Is(err, ErrBadClass) {
		t.Errorf("bad class: got %v", err)
	}

	bad = append([]byte(nil), buf...)
	bad[elf.EI_DATA] = 7
	if _, err := Parse(bad); !errors.Is(err, ErrBadData) {
		t.Errorf("bad data: got %v", err)
	}
}

func TestParseTruncatedHeader(t *testing.T) {
	buf, _ := elftest.New().Build()
	_, err := Parse(buf[:30])
	var th *TruncatedHeaderError
	if !errors.As(err, &th) {
		t.Fatalf("expected TruncatedHeaderError, got %v", err)
	}
	if th.Have >= th.Needed {
		t.Errorf("inconsistent error fields: %+v", th)
	}
}

func TestParseInvalidSectionCount(t *testing.T) {
	buf, _ := elftest.New().Build()
	// e_shnum for 64-bit sits at offset 60.
	binary.LittleEndian.PutUint16(buf[60:], 0xfff0)
	_, err := Parse(buf)
	var tc *InvalidTableCountError
	if !errors.As(err, &tc) {
		t.Fatalf("expected InvalidTableCountError, got %v", err)
	}
	if tc.Table != "section" || tc.Count != 0xfff0 {
		t.Errorf("wrong error fields: %+v", tc)
	}
}

func TestCorruptSectionRetained(t *testing.T) {
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name: ".good",
		Type: elf.SHT_PROGBITS,
		Data: []byte{1, 2, 3, 4},
	})
	b.AddSection(elftest.Section{
		Name: ".bogus",
		Type: elf.SHT_PROGBITS,
		Data: []byte{5, 6},
		Size: 1 << 40,
	})
	buf, lay := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	bogus, err := f.SectionByIndex(lay.SectionIdx[".bogus"])
	if err != nil {
		t.Fatalf("SectionByIndex: %v", err)
	}
	var be *BoundsError
	if !errors.As(bogus.Err, &be) {
		t.Fatalf("corrupt section: expected BoundsError, got %v", bogus.Err)
	}
	if bogus.Name != ".bogus" {
		t.Errorf("corrupt section lost its name: %q", bogus.Name)
	}
	if _, err := f.SectionData(bogus); err == nil {
		t.Error("SectionData on corrupt section did not fail")
	}

	good, err := f.Section(".good")
	if err != nil || good.Err != nil {
		t.Fatalf("sibling section affected: %v / %v", err, good.Err)
	}
	if data, err := f.SectionData(good); err != nil || !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Errorf("sibling content: %v %v", data, err)
	}
}

func TestCorruptNameOffsetRetained(t *testing.T) {
	b := elftest.New()
	idx := b.AddSection(elftest.Section{
		Name: ".text",
		Type: elf.SHT_PROGBITS,
		Data: text16(),
	})
	buf, lay := b.Build()
	recOff := int(lay.ShOff) + idx*lay.ShEntSize
	binary.LittleEndian.PutUint32(buf[recOff:], 0xffffff)

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sh, _ := f.SectionByIndex(idx)
	if sh.Err == nil {
		t.Error("expected defect for out of range name offset")
	}
	if _, err := f.Section(".shstrtab"); err != nil {
		t.Errorf("sibling sections affected: %v", err)
	}
}

func TestBadSegmentsRetained(t *testing.T) {
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name: ".text",
		Type: elf.SHT_PROGBITS,
		Addr: 0x1000,
		Data: text16(),
	})
	b.AddLoad(".text", 0)
	b.AddProgRaw(elf.PT_LOAD, elf.PF_R, 0, 0x2000, 0x100, 0x10, 1)       // filesz > memsz
	b.AddProgRaw(elf.PT_LOAD, elf.PF_R, 0, 0x3000, 0x10, 0x10, 3)       // bad alignment
	b.AddProgRaw(elf.PT_LOAD, elf.PF_R, 1 << 32, 0x4000, 0x10, 0x10, 1) // outside file
	buf, _ := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Progs) != 4 {
		t.Fatalf("got %d segments", len(f.Progs))
	}
	if f.Progs[0].Err != nil {
		t.Errorf("valid segment flagged: %v", f.Progs[0].Err)
	}
	for i := 1; i < 4; i++ {
		if f.Progs[i].Err == nil {
			t.Errorf("segment %d: defect not recorded", i)
		}
	}
	var be *BoundsError
	if !errors.As(f.Progs[3].Err, &be) {
		t.Errorf("segment 3: expected BoundsError, got %v", f.Progs[3].Err)
	}

	// The corrupt segments must not capture address lookups.
	ph, err := f.ProgForVaddr(0x1004)
	if err != nil || ph.Vaddr != 0x1000 {
		t.Errorf("ProgForVaddr: %v %v", ph, err)
	}
	if _, err := f.ProgForVaddr(0x2004); !errors.Is(err, ErrNoSegment) {
		t.Errorf("lookup through corrupt segment: %v", err)
	}
}

func TestNoBits(t *testing.T) {
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name: ".bss",
		Type: elf.SHT_NOBITS,
		Addr: 0x5000,
		Size: 64,
	})
	buf, _ := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	bss, err := f.Section(".bss")
	if err != nil {
		t.Fatalf("Section(.bss): %v", err)
	}
	if bss.Err != nil {
		t.Fatalf(".bss flagged corrupt: %v", bss.Err)
	}
	if _, err := f.SectionData(bss); !errors.Is(err, ErrNoBits) {
		t.Errorf("SectionData(.bss): got %v", err)
	}
}

func TestZeroInitializedTail(t *testing.T) {
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name: ".data",
		Type: elf.SHT_PROGBITS,
		Addr: 0x6000,
		Data: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	b.AddLoad(".data", 24) // 24 bytes of zero initialized tail
	buf, _ := b.Build()

	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := f.ProgForVaddr(0x6010); err != nil {
		t.Errorf("tail is mapped memory: %v", err)
	}
	if _, err := f.FileOffset(0x6010); !errors.Is(err, ErrNoSegment) {
		t.Errorf("tail has no file offset: got %v", err)
	}
	if data, err := f.SegmentData(0x6004); err != nil || !bytes.Equal(data, []byte{5, 6, 7, 8}) {
		t.Errorf("SegmentData: %v %v", data, err)
	}
}
