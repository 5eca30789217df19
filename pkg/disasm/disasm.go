// Package disasm drives the architecture instruction decoders over a
// function's address range. Decoding never halts on a bad opcode: an
// undecodable byte becomes a one byte invalid pseudo instruction and
// the walk resumes at the next byte.
package disasm

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/elfscope/elfscope/pkg/dwarf/frame"
	"github.com/elfscope/elfscope/pkg/elffile"
	"github.com/elfscope/elfscope/pkg/symtab"
)

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// GNUFlavour will display GNU assembly syntax.
	GNUFlavour = AssemblyFlavour(iota)
	// IntelFlavour will display Intel assembly syntax.
	IntelFlavour
	// GoFlavour will display Go assembler syntax.
	GoFlavour
)

// Kind classifies instructions for presentation.
type Kind uint8

const (
	OtherInstruction Kind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	HardBreakInstruction
	InvalidInstruction
)

// Target is the statically resolvable destination of a call or jump.
type Target struct {
	PC     uint64
	Sym    string // display name of the symbol covering PC, "" when none
	Offset uint64 // PC relative to the symbol's start
}

// Instruction is one decoded instruction. Bytes aliases the section
// data it was decoded from.
type Instruction struct {
	PC    uint64
	Bytes []byte
	Size  int
	Kind  Kind
	Valid bool

	// Dest is the static branch or call destination, nil when the
	// instruction has none or the destination is register indirect.
	Dest *Target

	// Unwind is the frame rule row covering PC. It is nil when the
	// overlay was not requested and when nothing covers PC; the latter
	// just means the function has no unwind info there.
	Unwind *frame.RuleRow

	inst archInst
}

// IsCall reports whether the instruction is a call.
func (inst *Instruction) IsCall() bool {
	return inst.Kind == CallInstruction
}

// IsRet reports whether the instruction is a return.
func (inst *Instruction) IsRet() bool {
	return inst.Kind == RetInstruction
}

// Text renders the instruction in the given syntax. Jump and call
// targets resolve to symbol names through idx; a nil idx prints bare
// addresses. Invalid instructions render as "?".
func (inst *Instruction) Text(flavour AssemblyFlavour, idx *symtab.Index) string {
	if inst.inst == nil {
		return "?"
	}
	return inst.inst.Text(flavour, inst.PC, symLookup(idx))
}

type archInst interface {
	Text(flavour AssemblyFlavour, pc uint64, symLookup func(uint64) (string, uint64)) string
}

// symLookup adapts the index to the x/arch syntax callbacks, which
// want the covering symbol's name and start address.
func symLookup(idx *symtab.Index) func(uint64) (string, uint64) {
	if idx == nil {
		return nil
	}
	return func(addr uint64) (string, uint64) {
		sym, ok := idx.Nearest(addr)
		if !ok {
			return "", 0
		}
		if sym.Size > 0 && addr >= sym.Value+sym.Size {
			return "", 0
		}
		return idx.DisplayName(&sym), sym.Value
	}
}

type decodeFunc func(inst *Instruction, mem []byte)

// ErrUnsupportedMachine means no instruction decoder exists for the
// file's machine type.
var ErrUnsupportedMachine = errors.New("no disassembler for machine")

func decoderFor(machine elf.Machine) (decodeFunc, error) {
	switch machine {
	case elf.EM_X86_64:
		return func(inst *Instruction, mem []byte) { x86AsmDecode(inst, mem, 64) }, nil
	case elf.EM_386:
		return func(inst *Instruction, mem []byte) { x86AsmDecode(inst, mem, 32) }, nil
	case elf.EM_AARCH64:
		return arm64AsmDecode, nil
	}
	return nil, fmt.Errorf("%w %v", ErrUnsupportedMachine, machine)
}

// Options adjust one Disassemble call.
type Options struct {
	// Unwind enables the call frame overlay: each instruction carries
	// the rule table row covering its address, computed once from the
	// FDE covering the function. A function without an FDE simply gets
	// no annotations.
	Unwind frame.FrameDescriptionEntries
}

// Seq is a lazily decoded instruction sequence over one function,
// finite and single pass. Nothing is cached across calls: to iterate
// again call Disassemble again, and abandoning a Seq mid iteration
// holds nothing beyond the Seq itself.
type Seq struct {
	idx    *symtab.Index
	decode decodeFunc
	code   []byte
	pc     uint64
	rows   []frame.RuleRow
	rowi   int

	// Start and End delimit the decoded range. BoundaryInferred is set
	// when the symbol had no size and End had to be guessed from the
	// next defined symbol or the end of the containing section.
	Start, End       uint64
	BoundaryInferred bool
}

// Disassemble prepares the instruction walk over sym's address range.
// The range comes from the symbol's value and size; a zero size falls
// back to the next defined symbol or the end of the containing
// section, whichever is closer, and marks the Seq as inferred.
func Disassemble(f *elffile.File, idx *symtab.Index, sym *symtab.Symbol, opts Options) (*Seq, error) {
	decode, err := decoderFor(f.Machine)
	if err != nil {
		return nil, err
	}

	sec, err := sectionFor(f, idx, sym)
	if err != nil {
		return nil, fmt.Errorf("disassembling %s: %w", sym.Name, err)
	}
	data, err := f.SectionData(sec)
	if err != nil {
		return nil, fmt.Errorf("disassembling %s: %w", sym.Name, err)
	}

	start := sym.Value
	secEnd := sec.Addr + uint64(len(data))
	if start < sec.Addr || start >= secEnd {
		return nil, fmt.Errorf("disassembling %s: %#x is outside section %s", sym.Name, start, sec.Name)
	}

	end := start + sym.Size
	inferred := false
	if sym.Size == 0 {
		inferred = true
		end = secEnd
		if idx != nil {
			if next, ok := idx.NextDefined(start); ok && next < end {
				end = next
			}
		}
	}
	if end > secEnd {
		end = secEnd
	}

	s := &Seq{
		idx:              idx,
		decode:           decode,
		code:             data[start-sec.Addr : end-sec.Addr],
		pc:               start,
		Start:            start,
		End:              end,
		BoundaryInferred: inferred,
	}
	if opts.Unwind != nil {
		if fde, err := opts.Unwind.FDEForPC(start); err == nil {
			s.rows = fde.RuleTable()
		}
	}
	return s, nil
}

// sectionFor prefers the section the symbol is declared in and falls
// back to whatever allocated section covers its address.
func sectionFor(f *elffile.File, idx *symtab.Index, sym *symtab.Symbol) (*elffile.SectionHeader, error) {
	if idx != nil {
		if sec, err := idx.Section(sym); err == nil {
			return sec, nil
		}
	}
	return f.SectionForVaddr(sym.Value)
}

// Next returns the next instruction; the second return is false once
// the range is exhausted.
func (s *Seq) Next() (Instruction, bool) {
	if len(s.code) == 0 {
		return Instruction{}, false
	}
	inst := Instruction{PC: s.pc}
	s.decode(&inst, s.code)

	s.pc += uint64(inst.Size)
	s.code = s.code[inst.Size:]

	if inst.Dest != nil {
		s.annotate(inst.Dest)
	}
	inst.Unwind = s.rowFor(inst.PC)
	return inst, true
}

// Collect drains the sequence into a slice.
func (s *Seq) Collect() []Instruction {
	var out []Instruction
	for {
		inst, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, inst)
	}
}

func (s *Seq) annotate(t *Target) {
	if s.idx == nil {
		return
	}
	sym, ok := s.idx.Nearest(t.PC)
	if !ok {
		return
	}
	if sym.Size > 0 && t.PC >= sym.Value+sym.Size {
		return
	}
	t.Sym = s.idx.DisplayName(&sym)
	t.Offset = t.PC - sym.Value
}

// rowFor advances the row pointer monotonically; Next always asks for
// nondecreasing addresses.
func (s *Seq) rowFor(pc uint64) *frame.RuleRow {
	for s.rowi < len(s.rows) && s.rows[s.rowi].End <= pc {
		s.rowi++
	}
	if s.rowi < len(s.rows) {
		if r := &s.rows[s.rowi]; r.Start <= pc && pc < r.End {
			return r
		}
	}
	return nil
}
