package disasm

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/elffile/elftest"
	"github.com/elfscope/elfscope/pkg/symtab"
)

const textAddr = 0x401000

func buildText(t *testing.T, code []byte, syms ...elftest.Sym) (*elffile.File, *symtab.Index) {
	t.Helper()
	b := elftest.New()
	b.AddSection(elftest.Section{
		Name:  ".text",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  textAddr,
		Data:  code,
	})
	if len(syms) > 0 {
		b.AddSymtab(".symtab", ".strtab", elf.SHT_SYMTAB, syms)
	}
	img, _ := b.Build()
	f, err := elffile.Parse(img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f, symtab.New(f)
}

func fn(name string, value, size uint64) elftest.Sym {
	return elftest.Sym{
		Name:  name,
		Value: value,
		Size:  size,
		Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		Shndx: 1,
	}
}

func mustSym(t *testing.T, idx *symtab.Index, name string) *symtab.Symbol {
	t.Helper()
	syms := idx.FindByName(name)
	if len(syms) == 0 {
		t.Fatalf("symbol %s not indexed", name)
	}
	return &syms[0]
}

// push rbp; mov rbp,rsp; mov eax,0x2a; pop rbp; ret
var fnBytes = []byte{
	0x55,
	0x48, 0x89, 0xe5,
	0xb8, 0x2a, 0x00, 0x00, 0x00,
	0x5d,
	0xc3,
}

func TestDisassembleFunction(t *testing.T) {
	f, idx := buildText(t, fnBytes, fn("f", textAddr, uint64(len(fnBytes))))
	sym := mustSym(t, idx, "f")

	seq, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if seq.BoundaryInferred {
		t.Error("BoundaryInferred set for a sized symbol")
	}
	if seq.Start != textAddr || seq.End != textAddr+uint64(len(fnBytes)) {
		t.Errorf("range [%#x,%#x), want [%#x,%#x)", seq.Start, seq.End, textAddr, textAddr+uint64(len(fnBytes)))
	}

	insts := seq.Collect()
	wantPCs := []uint64{0x401000, 0x401001, 0x401004, 0x401009, 0x40100a}
	if len(insts) != len(wantPCs) {
		t.Fatalf("got %d instructions, want %d", len(insts), len(wantPCs))
	}
	total := 0
	for i, inst := range insts {
		if inst.PC != wantPCs[i] {
			t.Errorf("instruction %d at %#x, want %#x", i, inst.PC, wantPCs[i])
		}
		if !inst.Valid {
			t.Errorf("instruction %d at %#x decoded invalid", i, inst.PC)
		}
		total += inst.Size
	}
	if total != len(fnBytes) {
		t.Errorf("instruction sizes cover %d bytes, want %d", total, len(fnBytes))
	}
	if !insts[len(insts)-1].IsRet() {
		t.Error("last instruction is not a return")
	}
	if text := insts[2].Text(IntelFlavour, idx); !strings.Contains(text, "eax") {
		t.Errorf("Intel text = %q, want an eax operand", text)
	}
	if text := insts[2].Text(GNUFlavour, idx); !strings.Contains(text, "eax") {
		t.Errorf("GNU text = %q, want an eax operand", text)
	}
}

func TestDisassembleRestartable(t *testing.T) {
	f, idx := buildText(t, fnBytes, fn("f", textAddr, uint64(len(fnBytes))))
	sym := mustSym(t, idx, "f")

	first, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	first.Next()
	first.Next()

	second, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("second Disassemble: %v", err)
	}
	inst, ok := second.Next()
	if !ok || inst.PC != textAddr {
		t.Errorf("fresh sequence starts at %#x, want %#x", inst.PC, uint64(textAddr))
	}
	if n := len(second.Collect()) + 1; n != 5 {
		t.Errorf("fresh sequence yielded %d instructions, want 5", n)
	}
}

func TestDisassembleCorruptedByte(t *testing.T) {
	// A push, one byte that does not decode in 64-bit mode, then a mov
	// and a ret. The bad byte must not take the rest of the function
	// down with it.
	code := []byte{
		0x55,                         // push rbp
		0x06,                         // invalid in 64-bit mode
		0xb8, 0x2a, 0x00, 0x00, 0x00, // mov eax, 0x2a
		0xc3, // ret
	}
	f, idx := buildText(t, code, fn("f", textAddr, uint64(len(code))))
	sym := mustSym(t, idx, "f")

	seq, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	insts := seq.Collect()

	invalid := 0
	total := 0
	for _, inst := range insts {
		total += inst.Size
		if inst.Kind != InvalidInstruction {
			continue
		}
		invalid++
		if inst.PC != textAddr+1 {
			t.Errorf("invalid instruction at %#x, want %#x", inst.PC, uint64(textAddr+1))
		}
		if inst.Size != 1 {
			t.Errorf("invalid instruction has size %d, want 1", inst.Size)
		}
		if text := inst.Text(GNUFlavour, idx); text != "?" {
			t.Errorf("invalid instruction renders %q, want ?", text)
		}
	}
	if invalid != 1 {
		t.Fatalf("got %d invalid instructions, want exactly 1: %+v", invalid, insts)
	}
	if total != len(code) {
		t.Errorf("instruction sizes cover %d bytes, want the full %d", total, len(code))
	}

	// Decoding resumes correctly at the next byte.
	if insts[2].PC != textAddr+2 || !insts[2].Valid || insts[2].Size != 5 {
		t.Errorf("recovery instruction = %+v, want the 5 byte mov at %#x", insts[2], uint64(textAddr+2))
	}
}

func TestDisassembleInferredBoundary(t *testing.T) {
	code := []byte{
		0x55,             // f1: push rbp
		0x48, 0x89, 0xe5, //     mov rbp,rsp
		0x31, 0xc0, //           xor eax,eax
		0xc3, //                 ret
		0xc3, // f2: ret
	}
	f, idx := buildText(t, code,
		fn("f1", textAddr, 0), // size not recorded
		fn("f2", textAddr+7, 1),
	)
	sym := mustSym(t, idx, "f1")

	seq, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !seq.BoundaryInferred {
		t.Error("BoundaryInferred not set for a zero sized symbol")
	}
	if seq.End != textAddr+7 {
		t.Errorf("End = %#x, want the next symbol at %#x", seq.End, uint64(textAddr+7))
	}
	insts := seq.Collect()
	if len(insts) != 4 {
		t.Fatalf("got %d instructions, want 4", len(insts))
	}
	if last := insts[len(insts)-1]; !last.IsRet() || last.PC != textAddr+6 {
		t.Errorf("last instruction %+v, want the ret at %#x", last, uint64(textAddr+6))
	}
}

func TestDisassembleInferredToSectionEnd(t *testing.T) {
	code := []byte{
		0x31, 0xc0, // xor eax,eax
		0xc3, // ret
	}
	f, idx := buildText(t, code, fn("f", textAddr, 0))
	sym := mustSym(t, idx, "f")

	seq, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !seq.BoundaryInferred {
		t.Error("BoundaryInferred not set")
	}
	if seq.End != textAddr+uint64(len(code)) {
		t.Errorf("End = %#x, want the section end %#x", seq.End, textAddr+uint64(len(code)))
	}
	if n := len(seq.Collect()); n != 2 {
		t.Errorf("got %d instructions, want 2", n)
	}
}

func TestDisassembleCallTarget(t *testing.T) {
	code := []byte{
		0xe8, 0x01, 0x00, 0x00, 0x00, // f1: call f2
		0xc3, //                             ret
		0xc3, // f2: ret
	}
	f, idx := buildText(t, code,
		fn("f1", textAddr, 6),
		fn("f2", textAddr+6, 1),
	)
	sym := mustSym(t, idx, "f1")

	seq, err := Disassemble(f, idx, sym, Options{})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	insts := seq.Collect()
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want 2", len(insts))
	}
	call := insts[0]
	if !call.IsCall() {
		t.Fatalf("first instruction %+v is not a call", call)
	}
	if call.Dest == nil {
		t.Fatal("call has no destination")
	}
	if call.Dest.PC != textAddr+6 {
		t.Errorf("Dest.PC = %#x, want %#x", call.Dest.PC, uint64(textAddr+6))
	}
	if call.Dest.Sym != "f2" || call.Dest.Offset != 0 {
		t.Errorf("Dest = %+v, want f2+0", call.Dest)
	}
	if text := call.Text(GNUFlavour, idx); text == "" || text == "?" {
		t.Errorf("call text = %q", text)
	}
}

func le64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func rec(buf []byte, id uint32, payload []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(4+len(payload)))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], id)
	buf = append(buf, tmp[:]...)
	return append(buf, payload...)
}

// buildFrames assembles a one-CIE one-FDE .eh_frame and parses it.
func buildFrames(t *testing.T, begin, size uint64, initial, program []byte) frame.FrameDescriptionEntries {
	t.Helper()

	cie := []byte{1, 0} // version, empty augmentation
	cie = append(cie, 0x01)
	cie = append(cie, 0x78) // data alignment factor -8
	cie = append(cie, 16)   // return address register
	cie = append(cie, initial...)
	buf := rec(nil, 0, cie)

	idPos := uint64(len(buf)) + 4
	var fde []byte
	fde = le64(fde, begin)
	fde = le64(fde, size)
	fde = append(fde, program...)
	buf = rec(buf, uint32(idPos), fde)
	buf = append(buf, 0, 0, 0, 0)

	fdes, err := frame.Parse(buf, binary.LittleEndian, 0, 8, 0)
	if err != nil {
		t.Fatalf("parsing synthetic .eh_frame: %v", err)
	}
	return fdes
}

func TestDisassembleUnwindOverlay(t *testing.T) {
	f, idx := buildText(t, fnBytes, fn("f", textAddr, uint64(len(fnBytes))))
	sym := mustSym(t, idx, "f")
	fdes := buildFrames(t, textAddr, uint64(len(fnBytes)),
		[]byte{0x0c, 0x07, 0x08}, // def_cfa rsp+8
		[]byte{0x41, 0x0e, 0x10}, // advance_loc 1; def_cfa_offset 16
	)

	seq, err := Disassemble(f, idx, sym, Options{Unwind: fdes})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	insts := seq.Collect()
	if len(insts) != 5 {
		t.Fatalf("got %d instructions, want 5", len(insts))
	}
	for i, inst := range insts {
		if inst.Unwind == nil {
			t.Fatalf("instruction %d at %#x has no unwind row", i, inst.PC)
		}
	}
	if got := insts[0].Unwind; got.CFA.Reg != 7 || got.CFA.Offset != 8 {
		t.Errorf("prologue row CFA = reg %d offset %d, want rsp+8", got.CFA.Reg, got.CFA.Offset)
	}
	if got := insts[1].Unwind; got.CFA.Offset != 16 {
		t.Errorf("row after advance has CFA offset %d, want 16", got.CFA.Offset)
	}
	if insts[0].Unwind == insts[1].Unwind {
		t.Error("rows before and after the advance should differ")
	}
	if insts[4].Unwind.CFA.Offset != 16 {
		t.Errorf("final row CFA offset = %d, want 16", insts[4].Unwind.CFA.Offset)
	}
}

func TestDisassembleNoUnwindInfo(t *testing.T) {
	f, idx := buildText(t, fnBytes, fn("f", textAddr, uint64(len(fnBytes))))
	sym := mustSym(t, idx, "f")
	fdes := buildFrames(t, 0x500000, 0x10, []byte{0x0c, 0x07, 0x08}, nil)

	seq, err := Disassemble(f, idx, sym, Options{Unwind: fdes})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	for _, inst := range seq.Collect() {
		if inst.Unwind != nil {
			t.Fatalf("instruction at %#x has an unwind row from a foreign FDE", inst.PC)
		}
	}
}

func TestDisassembleUnsupportedMachine(t *testing.T) {
	b := elftest.New()
	b.Machine = elf.EM_RISCV
	b.AddSection(elftest.Section{
		Name:  ".text",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  textAddr,
		Data:  []byte{0x00, 0x00},
	})
	b.AddSymtab(".symtab", ".strtab", elf.SHT_SYMTAB, []elftest.Sym{fn("f", textAddr, 2)})
	img, _ := b.Build()
	f, err := elffile.Parse(img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx := symtab.New(f)
	sym := mustSym(t, idx, "f")

	if _, err := Disassemble(f, idx, sym, Options{}); !errors.Is(err, ErrUnsupportedMachine) {
		t.Errorf("Disassemble = %v, want ErrUnsupportedMachine", err)
	}
}
