package disasm

import (
	"golang.org/x/arch/x86/x86asm"
)

type x86Inst x86asm.Inst

// x86AsmDecode decodes the instruction starting at mem[0:] into
// asmInst. It assumes the PC field has already been filled.
func x86AsmDecode(asmInst *Instruction, mem []byte, bit int) {
	inst, err := x86asm.Decode(mem, bit)
	if err != nil {
		asmInst.inst = (*x86Inst)(nil)
		asmInst.Size = 1
		asmInst.Bytes = mem[:asmInst.Size]
		asmInst.Kind = InvalidInstruction
		return
	}

	asmInst.Size = inst.Len
	asmInst.Bytes = mem[:asmInst.Size]
	asmInst.Valid = true
	patchPCRelX86(asmInst.PC, &inst)
	asmInst.inst = (*x86Inst)(&inst)
	asmInst.Kind = OtherInstruction

	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP:
		asmInst.Kind = JmpInstruction
	case x86asm.CALL, x86asm.LCALL:
		asmInst.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		asmInst.Kind = RetInstruction
	case x86asm.INT:
		asmInst.Kind = HardBreakInstruction
	}

	asmInst.Dest = resolveCallArgX86(&inst)
}

// patchPCRelX86 converts PC relative arguments to absolute addresses.
func patchPCRelX86(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}

// resolveCallArgX86 extracts the destination of a direct call or jump.
// Register and memory operands have no static destination in a flat
// file, so only immediates (including patched PC relative arguments)
// resolve.
func resolveCallArgX86(inst *x86asm.Inst) *Target {
	switch inst.Op {
	case x86asm.CALL, x86asm.LCALL, x86asm.JMP, x86asm.LJMP:
		// ok
	default:
		return nil
	}

	imm, ok := inst.Args[0].(x86asm.Imm)
	if !ok {
		return nil
	}
	return &Target{PC: uint64(imm)}
}

func (inst *x86Inst) Text(flavour AssemblyFlavour, pc uint64, symLookup func(uint64) (string, uint64)) string {
	if inst == nil {
		return "?"
	}

	var text string

	switch flavour {
	case GNUFlavour:
		text = x86asm.GNUSyntax(x86asm.Inst(*inst), pc, symLookup)
	case GoFlavour:
		text = x86asm.GoSyntax(x86asm.Inst(*inst), pc, symLookup)
	case IntelFlavour:
		fallthrough
	default:
		text = x86asm.IntelSyntax(x86asm.Inst(*inst), pc, symLookup)
	}

	return text
}
