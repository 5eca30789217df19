package disasm

import (
	"golang.org/x/arch/arm64/arm64asm"
)

type arm64ArchInst arm64asm.Inst

// arm64AsmDecode decodes the instruction starting at mem[0:] into
// asmInst. An undecodable word yields a one byte invalid pseudo
// instruction like the other architectures: the walk resumes at the
// next byte, not the next word.
func arm64AsmDecode(asmInst *Instruction, mem []byte) {
	inst, err := arm64asm.Decode(mem)
	if err != nil {
		asmInst.inst = (*arm64ArchInst)(nil)
		asmInst.Size = 1
		asmInst.Bytes = mem[:asmInst.Size]
		asmInst.Kind = InvalidInstruction
		return
	}

	asmInst.Size = 4
	asmInst.Bytes = mem[:asmInst.Size]
	asmInst.Valid = true
	asmInst.inst = (*arm64ArchInst)(&inst)
	asmInst.Kind = OtherInstruction

	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		asmInst.Kind = CallInstruction
	case arm64asm.RET, arm64asm.ERET:
		asmInst.Kind = RetInstruction
	case arm64asm.B, arm64asm.BR:
		asmInst.Kind = JmpInstruction
	case arm64asm.BRK:
		asmInst.Kind = HardBreakInstruction
	}

	asmInst.Dest = resolveCallArgARM64(&inst, asmInst.PC)
}

func resolveCallArgARM64(inst *arm64asm.Inst, instAddr uint64) *Target {
	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR, arm64asm.B, arm64asm.BR:
		// ok
	default:
		return nil
	}

	switch arg := inst.Args[0].(type) {
	case arm64asm.Imm:
		return &Target{PC: uint64(arg.Imm)}
	case arm64asm.PCRel:
		return &Target{PC: instAddr + uint64(arg)}
	default:
		return nil
	}
}

func (inst *arm64ArchInst) Text(flavour AssemblyFlavour, pc uint64, symLookup func(uint64) (string, uint64)) string {
	if inst == nil {
		return "?"
	}

	var text string

	switch flavour {
	case GNUFlavour:
		text = arm64asm.GNUSyntax(arm64asm.Inst(*inst))
	default:
		text = arm64asm.GoSyntax(arm64asm.Inst(*inst), pc, symLookup, nil)
	}

	return text
}
