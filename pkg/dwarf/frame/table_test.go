package frame

import (
	"encoding/binary"
	"testing"

	"github.com/elfscope/elfscope/pkg/cursor"
)

func testCIE(initial []byte) *CommonInformationEntry {
	return &CommonInformationEntry{
		Version:               1,
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -8,
		ReturnAddressRegister: 16,
		InitialInstructions:   initial,
		ptrSize:               8,
		fdeEnc:                cursor.PtrEncAbs,
		lsdaEnc:               cursor.PtrEncOmit,
	}
}

func testFDE(cie *CommonInformationEntry, begin, size uint64, program []byte) *FrameDescriptionEntry {
	return &FrameDescriptionEntry{
		CIE:          cie,
		begin:        begin,
		size:         size,
		order:        binary.LittleEndian,
		Instructions: program,
	}
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func checkRow(t *testing.T, rows []RuleRow, i int, start, end uint64, unknown bool) {
	t.Helper()
	if i >= len(rows) {
		t.Fatalf("missing row %d", i)
	}
	row := rows[i]
	if row.Start != start || row.End != end {
		t.Errorf("row %d covers [%#x, %#x), want [%#x, %#x)", i, row.Start, row.End, start, end)
	}
	if row.Unknown != unknown {
		t.Errorf("row %d: Unknown=%v, want %v", i, row.Unknown, unknown)
	}
}

func TestRuleTableAdvanceThenOffset(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_advance_loc | 4,
		DW_CFA_offset | 6, 1,
	})

	rows := fde.RuleTable()
	if len(rows) != 2 {
		t.Fatalf("expected exactly 2 rows, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1004, false)
	checkRow(t, rows, 1, 0x1004, 0x1020, false)

	if rows[0].CFA.Rule != RuleCFA || rows[0].CFA.Reg != 7 || rows[0].CFA.Offset != 8 {
		t.Errorf("row 0 CFA = %+v, want reg 7 offset 8", rows[0].CFA)
	}
	if r := rows[0].Regs[16]; r.Rule != RuleOffset || r.Offset != -8 {
		t.Errorf("row 0 register 16 rule = %+v, want offset -8", r)
	}
	if _, ok := rows[0].Regs[6]; ok {
		t.Error("row 0 already has a rule for register 6")
	}
	if r := rows[1].Regs[6]; r.Rule != RuleOffset || r.Offset != -8 {
		t.Errorf("row 1 register 6 rule = %+v, want offset -8", r)
	}
}

func TestRuleTableUnknownOpcodeTail(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_def_cfa_offset, 16,
		DW_CFA_advance_loc | 4,
		0x17, // unassigned opcode
		0xde, 0xad,
	})

	rows := fde.RuleTable()
	if len(rows) != 2 {
		t.Fatalf("expected a decoded prefix and an unknown tail, got %d rows: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1004, false)
	checkRow(t, rows, 1, 0x1004, 0x1020, true)
	if rows[0].CFA.Offset != 16 {
		t.Errorf("prefix row CFA offset = %d, want 16", rows[0].CFA.Offset)
	}
}

func TestRuleTableTruncatedOperand(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_advance_loc | 4,
		DW_CFA_offset_extended, 0x86, // ULEB128 cut mid-number
	})

	rows := fde.RuleTable()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1004, false)
	checkRow(t, rows, 1, 0x1004, 0x1020, true)
}

func TestRuleTableRememberRestore(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_remember_state,
		DW_CFA_offset | 6, 2,
		DW_CFA_advance_loc | 4,
		DW_CFA_restore_state,
		DW_CFA_advance_loc | 4,
	})

	rows := fde.RuleTable()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1004, false)
	checkRow(t, rows, 1, 0x1004, 0x1008, false)
	checkRow(t, rows, 2, 0x1008, 0x1020, false)

	if r := rows[0].Regs[6]; r.Rule != RuleOffset || r.Offset != -16 {
		t.Errorf("row 0 register 6 rule = %+v, want offset -16", r)
	}
	if _, ok := rows[1].Regs[6]; ok {
		t.Error("restore_state did not drop the register 6 rule")
	}
	if r := rows[1].Regs[16]; r.Rule != RuleOffset || r.Offset != -8 {
		t.Errorf("row 1 register 16 rule = %+v, want offset -8 from the initial program", r)
	}
}

func TestRuleTableRestoreOpcode(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_offset | 16, 4,
		DW_CFA_advance_loc | 4,
		DW_CFA_restore | 16,
	})

	rows := fde.RuleTable()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if r := rows[0].Regs[16]; r.Offset != -32 {
		t.Errorf("row 0 register 16 offset = %d, want -32", r.Offset)
	}
	if r := rows[1].Regs[16]; r.Offset != -8 {
		t.Errorf("row 1 register 16 offset = %d, want the initial -8 restored", r.Offset)
	}
}

func TestRuleTableRestoreStateUnderflow(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8})
	fde := testFDE(cie, 0x1000, 0x20, []byte{DW_CFA_restore_state})

	rows := fde.RuleTable()
	if len(rows) != 1 {
		t.Fatalf("expected a single unknown row, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1020, true)
}

func TestRuleTableEmptyProgram(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8, DW_CFA_offset | 16, 1})
	fde := testFDE(cie, 0x1000, 0x20, nil)

	rows := fde.RuleTable()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1020, false)
	if r := rows[0].Regs[16]; r.Rule != RuleOffset || r.Offset != -8 {
		t.Errorf("register 16 rule = %+v, want the CIE's initial offset -8", r)
	}
}

func TestRuleTableSetLoc(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8})
	program := append([]byte{DW_CFA_set_loc}, le64(0x1008)...)
	program = append(program, DW_CFA_def_cfa_offset, 32)
	fde := testFDE(cie, 0x1000, 0x20, program)

	rows := fde.RuleTable()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	checkRow(t, rows, 0, 0x1000, 0x1008, false)
	checkRow(t, rows, 1, 0x1008, 0x1020, false)
	if rows[1].CFA.Offset != 32 {
		t.Errorf("row 1 CFA offset = %d, want 32", rows[1].CFA.Offset)
	}
}

func TestEstablishFrame(t *testing.T) {
	cie := testCIE([]byte{DW_CFA_def_cfa, 7, 8})
	fde := testFDE(cie, 0x1000, 0x20, []byte{
		DW_CFA_advance_loc | 4,
		DW_CFA_def_cfa_offset, 24,
	})

	fc := fde.EstablishFrame(0x1002)
	if err := fc.Err(); err != nil {
		t.Fatal(err)
	}
	if fc.CFA.Offset != 8 {
		t.Errorf("CFA offset at 0x1002 = %d, want the initial 8", fc.CFA.Offset)
	}

	fc = fde.EstablishFrame(0x1010)
	if err := fc.Err(); err != nil {
		t.Fatal(err)
	}
	if fc.CFA.Offset != 24 {
		t.Errorf("CFA offset at 0x1010 = %d, want 24", fc.CFA.Offset)
	}
	if fc.RetAddrReg != 16 {
		t.Errorf("return address register = %d, want 16", fc.RetAddrReg)
	}
}
