package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/elfscope/elfscope/pkg/cursor"
)

// DWRule wrapper of rule defined for register values.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext wrapper of FDE context
type FrameContext struct {
	loc             uint64
	order           binary.ByteOrder
	address         uint64
	CFA             DWRule
	Regs            map[uint64]DWRule
	initialRegs     map[uint64]DWRule
	buf             *cursor.Cursor
	cie             *CommonInformationEntry
	RetAddrReg      uint64
	codeAlignment   uint64
	dataAlignment   int64
	rememberedState *stateStack
	err             error
}

// Err returns the first defect hit while executing the instruction
// program, or nil. The context's rules reflect the state reached up to
// that point.
func (frame *FrameContext) Err() error { return frame.err }

// Loc returns the program location the context has advanced to.
func (frame *FrameContext) Loc() uint64 { return frame.loc }

func (frame *FrameContext) fail(err error) {
	if frame.err == nil {
		frame.err = err
	}
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

// stateStack is a stack where `DW_CFA_remember_state` pushes
// its CFA and registers state and `DW_CFA_restore_state`
// pops them.
type stateStack struct {
	items []rowState
}

func newStateStack() *stateStack {
	return &stateStack{
		items: make([]rowState, 0),
	}
}

func (stack *stateStack) push(state rowState) {
	stack.items = append(stack.items, state)
}

func (stack *stateStack) pop() (rowState, bool) {
	if len(stack.items) == 0 {
		return rowState{}, false
	}
	restored := stack.items[len(stack.items)-1]
	stack.items = stack.items[0 : len(stack.items)-1]
	return restored, true
}

// Instructions used to recreate the table from the .debug_frame data.
const (
	DW_CFA_nop                = 0x0        // No ops
	DW_CFA_set_loc            = 0x01       // op1: address
	DW_CFA_advance_loc1       = iota       // op1: 1-bytes delta
	DW_CFA_advance_loc2                    // op1: 2-byte delta
	DW_CFA_advance_loc4                    // op1: 4-byte delta
	DW_CFA_offset_extended                 // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                // op1: ULEB128 register
	DW_CFA_undefined                       // op1: ULEB128 register
	DW_CFA_same_value                      // op1: ULEB128 register
	DW_CFA_register                        // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                  // No ops
	DW_CFA_restore_state                   // No ops
	DW_CFA_def_cfa                         // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                // op1: ULEB128 register
	DW_CFA_def_cfa_offset                  // op1: ULEB128 offset
	DW_CFA_def_cfa_expression              // op1: BLOCK
	DW_CFA_expression                      // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf              // op1: ULEB128 register, op2: SLEB128 BLOCK
	DW_CFA_def_cfa_sf                      // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf               // op1: SLEB128 offset
	DW_CFA_val_offset                      // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf                   // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression                  // op1: ULEB128, op2: BLOCK
	DW_CFA_lo_user            = 0x1c       // vendor range start
	DW_CFA_hi_user            = 0x3f       // vendor range end
	DW_CFA_advance_loc        = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset             = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore            = (0x3 << 6) // High 2 bits: 0x3, low 6: register

	// GNU extensions in the vendor range. 0x2d is reused by AArch64 to
	// toggle return address signing.
	DW_CFA_GNU_window_save              = 0x2d // No ops
	DW_CFA_GNU_args_size                = 0x2e // op1: ULEB128 size
	DW_CFA_GNU_negative_offset_extended = 0x2f // op1: ULEB128 register, op2: ULEB128 offset
)

// Rule rule defined for register values.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleCFA // Value is rule.Reg + rule.Offset
)

// RuleString renders a rule the way unwinders talk about them:
// [cfa-8] is a load, cfa-8 a computed value. Register numbers go
// through regName, which the caller binds to the file's machine.
func RuleString(rule DWRule, regName func(uint64) string) string {
	switch rule.Rule {
	case RuleUndefined:
		return "undefined"
	case RuleSameVal:
		return "same"
	case RuleOffset:
		return fmt.Sprintf("[cfa%+d]", rule.Offset)
	case RuleValOffset:
		return fmt.Sprintf("cfa%+d", rule.Offset)
	case RuleRegister:
		return regName(rule.Reg)
	case RuleExpression:
		return "expr"
	case RuleValExpression:
		return "val-expr"
	case RuleCFA:
		return fmt.Sprintf("%s%+d", regName(rule.Reg), rule.Offset)
	}
	return "?"
}

const low_6_offset = 0x3f

// UnknownOpcodeError is reported when the instruction program uses an
// opcode this decoder has no rule for. Decoding of the frame stops at
// the opcode, already decoded ranges remain valid.
type UnknownOpcodeError struct {
	Opcode byte
}

func (err *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown CFA opcode %#x", err.Opcode)
}

type instruction func(frame *FrameContext, opcode byte)

// Mapping from DWARF opcode to function.
var fnlookup = map[byte]instruction{
	DW_CFA_advance_loc:        advanceloc,
	DW_CFA_offset:             offset,
	DW_CFA_restore:            restore,
	DW_CFA_set_loc:            setloc,
	DW_CFA_advance_loc1:       advanceloc1,
	DW_CFA_advance_loc2:       advanceloc2,
	DW_CFA_advance_loc4:       advanceloc4,
	DW_CFA_offset_extended:    offsetextended,
	DW_CFA_restore_extended:   restoreextended,
	DW_CFA_undefined:          undefined,
	DW_CFA_same_value:         samevalue,
	DW_CFA_register:           register,
	DW_CFA_remember_state:     rememberstate,
	DW_CFA_restore_state:      restorestate,
	DW_CFA_def_cfa:            defcfa,
	DW_CFA_def_cfa_register:   defcfaregister,
	DW_CFA_def_cfa_offset:     defcfaoffset,
	DW_CFA_def_cfa_expression: defcfaexpression,
	DW_CFA_expression:         expression,
	DW_CFA_offset_extended_sf: offsetextendedsf,
	DW_CFA_def_cfa_sf:         defcfasf,
	DW_CFA_def_cfa_offset_sf:  defcfaoffsetsf,
	DW_CFA_val_offset:         valoffset,
	DW_CFA_val_offset_sf:      valoffsetsf,
	DW_CFA_val_expression:     valexpression,

	DW_CFA_GNU_window_save:              gnuwindowsave,
	DW_CFA_GNU_args_size:                gnuargssize,
	DW_CFA_GNU_negative_offset_extended: gnunegoffsetextended,
}

func executeCIEInstructions(cie *CommonInformationEntry, order binary.ByteOrder) *FrameContext {
	frame := &FrameContext{
		cie:             cie,
		order:           order,
		Regs:            make(map[uint64]DWRule),
		RetAddrReg:      cie.ReturnAddressRegister,
		codeAlignment:   cie.CodeAlignmentFactor,
		dataAlignment:   cie.DataAlignmentFactor,
		buf:             cursor.New(cie.InitialInstructions, order, cie.ptrSize),
		rememberedState: newStateStack(),
	}

	frame.executeDwarfProgram()
	// The state after the initial instructions is what DW_CFA_restore
	// restores registers to.
	frame.initialRegs = cloneRegs(frame.Regs)
	return frame
}

// Unwind the stack to find the return address register.
func executeDwarfProgramUntilPC(fde *FrameDescriptionEntry, pc uint64) *FrameContext {
	frame := executeCIEInstructions(fde.CIE, fde.order)
	frame.loc = fde.Begin()
	frame.address = pc
	frame.ExecuteUntilPC(fde.Instructions)

	return frame
}

func (frame *FrameContext) executeDwarfProgram() {
	for frame.err == nil && frame.buf.Remaining() > 0 {
		frame.step()
	}
}

// ExecuteUntilPC execute dwarf instructions.
func (frame *FrameContext) ExecuteUntilPC(instructions []byte) {
	frame.buf = cursor.New(instructions, frame.order, frame.cie.ptrSize)

	// We only need to execute the instructions until
	// ctx.loc > ctx.address (which is the address we
	// are currently at in the traced process).
	for frame.err == nil && frame.address >= frame.loc && frame.buf.Remaining() > 0 {
		frame.step()
	}
}

// RuleRow is one row of a decoded unwind table: the canonical frame
// address and register recovery rules in force for addresses in
// [Start, End). Unknown marks a tail range whose unwind info could not
// be decoded; its rules carry the last known state and should not be
// trusted.
type RuleRow struct {
	Start, End uint64
	CFA        DWRule
	Regs       map[uint64]DWRule
	Unknown    bool
}

// RuleTable executes the FDE's instruction program on top of its CIE's
// initial state and returns the resulting unwind table in ascending
// address order. An opcode that cannot be decoded terminates the table
// of this frame only, with a final row marked Unknown covering the
// rest of the frame's range.
func (fde *FrameDescriptionEntry) RuleTable() []RuleRow {
	frame := executeCIEInstructions(fde.CIE, fde.order)
	frame.loc = fde.Begin()
	frame.buf = cursor.New(fde.Instructions, fde.order, fde.CIE.ptrSize)

	rows := make([]RuleRow, 0, 8)
	openStart := fde.Begin()

	closerow := func(end uint64, unknown bool) {
		rows = append(rows, RuleRow{
			Start:   openStart,
			End:     end,
			CFA:     frame.CFA,
			Regs:    cloneRegs(frame.Regs),
			Unknown: unknown,
		})
		openStart = end
	}

	for frame.err == nil && frame.buf.Remaining() > 0 {
		prev := frame.loc
		frame.step()
		if frame.err == nil && frame.loc != prev && frame.loc > openStart {
			closerow(frame.loc, false)
		}
	}

	if frame.err != nil {
		end := fde.End()
		if openStart > end {
			end = openStart
		}
		closerow(end, true)
		return rows
	}
	if openStart < fde.End() || len(rows) == 0 {
		closerow(fde.End(), false)
	}
	return rows
}

func cloneRegs(regs map[uint64]DWRule) map[uint64]DWRule {
	r := make(map[uint64]DWRule, len(regs))
	for k, v := range regs {
		r[k] = v
	}
	return r
}

func (frame *FrameContext) step() {
	if frame.err != nil {
		return
	}
	opcode := frame.buf.ReadUint8()
	if err := frame.buf.Err(); err != nil {
		frame.fail(err)
		return
	}

	if opcode == DW_CFA_nop {
		return
	}

	fn := lookupFunc(opcode)
	if fn == nil {
		frame.fail(&UnknownOpcodeError{Opcode: opcode})
		return
	}

	fn(frame, opcode)
	if err := frame.buf.Err(); err != nil {
		frame.fail(err)
	}
}

func lookupFunc(opcode byte) instruction {
	const high_2_bits = 0xc0

	// The 3 opcodes with their argument embedded in the opcode itself
	// dispatch on the high 2 bits alone.
	switch opcode & high_2_bits {
	case DW_CFA_advance_loc, DW_CFA_offset, DW_CFA_restore:
		opcode &= high_2_bits
	}

	return fnlookup[opcode]
}

func advanceloc(frame *FrameContext, opcode byte) {
	delta := opcode & low_6_offset
	frame.loc += uint64(delta) * frame.codeAlignment
}

func advanceloc1(frame *FrameContext, opcode byte) {
	delta := frame.buf.ReadUint8()
	frame.loc += uint64(delta) * frame.codeAlignment
}

func advanceloc2(frame *FrameContext, opcode byte) {
	delta := frame.buf.ReadUint16()
	frame.loc += uint64(delta) * frame.codeAlignment
}

func advanceloc4(frame *FrameContext, opcode byte) {
	delta := frame.buf.ReadUint32()
	frame.loc += uint64(delta) * frame.codeAlignment
}

func offset(frame *FrameContext, opcode byte) {
	var (
		reg = opcode & low_6_offset
		off = frame.buf.ReadULEB()
	)
	frame.Regs[uint64(reg)] = DWRule{Offset: int64(off) * frame.dataAlignment, Rule: RuleOffset}
}

func restore(frame *FrameContext, opcode byte) {
	reg := uint64(opcode & low_6_offset)
	oldrule, ok := frame.initialRegs[reg]
	if ok {
		frame.Regs[reg] = DWRule{Offset: oldrule.Offset, Rule: oldrule.Rule}
	} else {
		frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	}
}

func setloc(frame *FrameContext, opcode byte) {
	loc := frame.buf.ReadEncodedPtr(frame.cie.fdeEnc.Format(), cursor.EncBases{})
	frame.loc = loc + frame.cie.staticBase
}

func offsetextended(frame *FrameContext, opcode byte) {
	var (
		reg = frame.buf.ReadULEB()
		off = frame.buf.ReadULEB()
	)
	frame.Regs[reg] = DWRule{Offset: int64(off) * frame.dataAlignment, Rule: RuleOffset}
}

func undefined(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()
	frame.Regs[reg] = DWRule{Rule: RuleUndefined}
}

func samevalue(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()
	frame.Regs[reg] = DWRule{Rule: RuleSameVal}
}

func register(frame *FrameContext, opcode byte) {
	reg1 := frame.buf.ReadULEB()
	reg2 := frame.buf.ReadULEB()
	frame.Regs[reg1] = DWRule{Reg: reg2, Rule: RuleRegister}
}

func rememberstate(frame *FrameContext, opcode byte) {
	frame.rememberedState.push(rowState{cfa: frame.CFA, regs: cloneRegs(frame.Regs)})
}

func restorestate(frame *FrameContext, opcode byte) {
	restored, ok := frame.rememberedState.pop()
	if !ok {
		frame.fail(errors.New("restore_state without a remembered state"))
		return
	}
	frame.CFA = restored.cfa
	frame.Regs = restored.regs
}

func restoreextended(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()

	oldrule, ok := frame.initialRegs[reg]
	if ok {
		frame.Regs[reg] = DWRule{Offset: oldrule.Offset, Rule: oldrule.Rule}
	} else {
		frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	}
}

func defcfa(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()
	off := frame.buf.ReadULEB()

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = int64(off)
}

func defcfaregister(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()
	frame.CFA.Reg = reg
}

func defcfaoffset(frame *FrameContext, opcode byte) {
	off := frame.buf.ReadULEB()
	frame.CFA.Offset = int64(off)
}

func defcfasf(frame *FrameContext, opcode byte) {
	reg := frame.buf.ReadULEB()
	off := frame.buf.ReadSLEB()

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = off * frame.dataAlignment
}

func defcfaoffsetsf(frame *FrameContext, opcode byte) {
	off := frame.buf.ReadSLEB()
	frame.CFA.Offset = off * frame.dataAlignment
}

func defcfaexpression(frame *FrameContext, opcode byte) {
	var (
		l    = frame.buf.ReadULEB()
		expr = frame.buf.Bytes(int(l))
	)
	frame.CFA.Expression = expr
	frame.CFA.Rule = RuleExpression
}

func expression(frame *FrameContext, opcode byte) {
	var (
		reg  = frame.buf.ReadULEB()
		l    = frame.buf.ReadULEB()
		expr = frame.buf.Bytes(int(l))
	)
	frame.Regs[reg] = DWRule{Rule: RuleExpression, Expression: expr}
}

func offsetextendedsf(frame *FrameContext, opcode byte) {
	var (
		reg = frame.buf.ReadULEB()
		off = frame.buf.ReadSLEB()
	)
	frame.Regs[reg] = DWRule{Offset: off * frame.dataAlignment, Rule: RuleOffset}
}

func valoffset(frame *FrameContext, opcode byte) {
	var (
		reg = frame.buf.ReadULEB()
		off = frame.buf.ReadULEB()
	)
	frame.Regs[reg] = DWRule{Offset: int64(off), Rule: RuleValOffset}
}

func valoffsetsf(frame *FrameContext, opcode byte) {
	var (
		reg = frame.buf.ReadULEB()
		off = frame.buf.ReadSLEB()
	)
	frame.Regs[reg] = DWRule{Offset: off * frame.dataAlignment, Rule: RuleValOffset}
}

func valexpression(frame *FrameContext, opcode byte) {
	var (
		reg  = frame.buf.ReadULEB()
		l    = frame.buf.ReadULEB()
		expr = frame.buf.Bytes(int(l))
	)
	frame.Regs[reg] = DWRule{Rule: RuleValExpression, Expression: expr}
}

func gnuwindowsave(frame *FrameContext, opcode byte) {
	// Return address signing toggle on AArch64, no rule change.
}

func gnuargssize(frame *FrameContext, opcode byte) {
	// Size of callee removed arguments, no rule change.
	frame.buf.ReadULEB()
}

func gnunegoffsetextended(frame *FrameContext, opcode byte) {
	var (
		reg = frame.buf.ReadULEB()
		off = frame.buf.ReadULEB()
	)
	frame.Regs[reg] = DWRule{Offset: -(int64(off) * frame.dataAlignment), Rule: RuleOffset}
}
