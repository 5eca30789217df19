// Package frame contains data structures and related functions for
// parsing and searching through call frame information, in both its
// .eh_frame and .debug_frame encodings.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/elfscope/elfscope/pkg/cursor"
)

// EntryError describes a CIE or FDE record that could not be decoded.
// Off is the offset of the record's length field from the start of the
// section.
type EntryError struct {
	Off uint64
	Err error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("frame entry at %#x: %v", e.Off, e.Err)
}

// WalkError reports the records skipped while walking a frame section.
// The entries decoded around the defective records are still returned
// by Parse.
type WalkError struct {
	Problems []error
}

func (e *WalkError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Error()
	}
	return fmt.Sprintf("%v (and %d more)", e.Problems[0], len(e.Problems)-1)
}

type parsefunc func(*parseContext) parsefunc

type parseContext struct {
	c       *cursor.Cursor
	entries FrameDescriptionEntries
	cies    map[uint64]*CommonInformationEntry
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry

	// Payload of the record being parsed and the offset of its length
	// field, set by parselength for parseCIE/parseFDE.
	entry    *cursor.Cursor
	entryOff uint64

	order       binary.ByteOrder
	staticBase  uint64
	ptrSize     int
	sectionAddr uint64
	ehFrame     bool
	problems    []error
}

const dwarf64Marker = 0xffffffff

// Parse decodes the contents of an .eh_frame section. sectionAddr is
// the virtual address of the section's first byte and anchors PC
// relative pointer encodings; staticBase is added to every decoded
// code address. Records that cannot be decoded are skipped and
// reported through the returned *WalkError, with the surviving entries
// still returned.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, sectionAddr uint64) (FrameDescriptionEntries, error) {
	return parse(data, order, staticBase, ptrSize, sectionAddr, true)
}

// ParseDebugFrame decodes the contents of a .debug_frame section. It
// returns partial results the same way Parse does.
func ParseDebugFrame(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	return parse(data, order, staticBase, ptrSize, 0, false)
}

func parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, sectionAddr uint64, ehFrame bool) (FrameDescriptionEntries, error) {
	pctx := &parseContext{
		c:           cursor.New(data, order, ptrSize).WithBase(sectionAddr),
		entries:     newFrameIndex(),
		cies:        make(map[uint64]*CommonInformationEntry),
		order:       order,
		staticBase:  staticBase,
		ptrSize:     ptrSize,
		sectionAddr: sectionAddr,
		ehFrame:     ehFrame,
	}

	for fn := parselength; pctx.c.Remaining() > 0 && pctx.c.Err() == nil; {
		fn = fn(pctx)
	}

	sort.SliceStable(pctx.entries, func(i, j int) bool {
		return pctx.entries[i].Begin() < pctx.entries[j].Begin()
	})

	if len(pctx.problems) > 0 {
		return pctx.entries, &WalkError{Problems: pctx.problems}
	}
	return pctx.entries, nil
}

func (ctx *parseContext) problem(off uint64, err error) {
	ctx.problems = append(ctx.problems, &EntryError{Off: off, Err: err})
}

// stop abandons the walk. Used when the record stream cannot be
// resynchronized.
func (ctx *parseContext) stop() {
	ctx.c.Skip(ctx.c.Remaining())
}

func parselength(ctx *parseContext) parsefunc {
	ctx.entryOff = uint64(ctx.c.Pos())

	length := uint64(ctx.c.ReadUint32())
	if ctx.c.Err() != nil {
		ctx.problem(ctx.entryOff, errors.New("truncated length field"))
		return parselength
	}
	if length == 0 {
		// ZERO terminator, skip.
		return parselength
	}

	idSize := uint64(4)
	if length == dwarf64Marker {
		length = ctx.c.ReadUint64()
		idSize = 8
	} else if length >= 0xfffffff0 {
		// Reserved initial length, sync with the following records is lost.
		ctx.problem(ctx.entryOff, fmt.Errorf("reserved initial length %#x", length))
		ctx.stop()
		return parselength
	}
	if length < idSize {
		ctx.problem(ctx.entryOff, fmt.Errorf("length %d does not cover the id field", length))
		ctx.c.Skip(int(length))
		return parselength
	}

	idPos := uint64(ctx.c.Pos())
	var id uint64
	if idSize == 8 {
		id = ctx.c.ReadUint64()
	} else {
		id = uint64(ctx.c.ReadUint32())
	}

	payloadPos := ctx.c.Pos()
	payload := ctx.c.Bytes(int(length - idSize))
	if ctx.c.Err() != nil {
		ctx.problem(ctx.entryOff, fmt.Errorf("length %#x crosses section end", length))
		return parselength
	}
	ctx.entry = cursor.New(payload, ctx.order, ctx.ptrSize).WithBase(ctx.sectionAddr + uint64(payloadPos))

	if id == ctx.cieMarker(idSize) {
		ctx.common = &CommonInformationEntry{
			Length:     length,
			CIE_id:     id,
			staticBase: ctx.staticBase,
			ptrSize:    ctx.ptrSize,
		}
		return parseCIE
	}

	// FDE: resolve the CIE it refers to. In .eh_frame the pointer is
	// the distance back from the id field to the CIE, in .debug_frame
	// it is the CIE's offset from the start of the section.
	cieOff := id
	if ctx.ehFrame {
		cieOff = idPos - id
	}
	cie, ok := ctx.cies[cieOff]
	if !ok {
		ctx.problem(ctx.entryOff, fmt.Errorf("FDE references unknown CIE at %#x", cieOff))
		return parselength
	}
	ctx.frame = &FrameDescriptionEntry{Length: length, CIE: cie, order: ctx.order}
	return parseFDE
}

func (ctx *parseContext) cieMarker(idSize uint64) uint64 {
	if ctx.ehFrame {
		return 0
	}
	if idSize == 8 {
		return ^uint64(0)
	}
	return 0xffffffff
}

func parseCIE(ctx *parseContext) parsefunc {
	e := ctx.entry
	cie := ctx.common

	cie.Version = e.ReadUint8()
	if cie.Version != 1 && cie.Version != 3 && cie.Version != 4 {
		ctx.problem(ctx.entryOff, fmt.Errorf("unsupported CIE version %d", cie.Version))
		return parselength
	}

	cie.Augmentation = e.ReadString()

	if cie.Version == 4 {
		// Skip the address_size and segment_selector_size fields.
		e.Skip(2)
	}

	cie.CodeAlignmentFactor = e.ReadULEB()
	cie.DataAlignmentFactor = e.ReadSLEB()
	if cie.Version == 1 {
		cie.ReturnAddressRegister = uint64(e.ReadUint8())
	} else {
		cie.ReturnAddressRegister = e.ReadULEB()
	}

	cie.fdeEnc = cursor.PtrEncAbs
	cie.lsdaEnc = cursor.PtrEncOmit
	if len(cie.Augmentation) > 0 {
		if cie.Augmentation[0] != 'z' {
			ctx.problem(ctx.entryOff, fmt.Errorf("unsupported augmentation %q", cie.Augmentation))
			return parselength
		}
		cie.hasAug = true
		e.ReadULEB() // augmentation data length, the layout follows the string
		for _, ch := range cie.Augmentation[1:] {
			switch ch {
			case 'L':
				cie.lsdaEnc = cursor.PtrEnc(e.ReadUint8())
			case 'R':
				cie.fdeEnc = cursor.PtrEnc(e.ReadUint8())
			case 'P':
				penc := cursor.PtrEnc(e.ReadUint8()) &^ cursor.PtrEncIndirect
				e.ReadEncodedPtr(penc, cursor.EncBases{}) // personality routine, unused
			case 'S':
				cie.IsSignalHandler = true
			default:
				ctx.problem(ctx.entryOff, fmt.Errorf("unsupported augmentation %q", cie.Augmentation))
				return parselength
			}
		}
	}

	if err := e.Err(); err != nil {
		ctx.problem(ctx.entryOff, err)
		return parselength
	}

	cie.InitialInstructions = e.Bytes(e.Remaining())
	ctx.cies[ctx.entryOff] = cie
	return parselength
}

func parseFDE(ctx *parseContext) parsefunc {
	e := ctx.entry
	fde := ctx.frame
	cie := fde.CIE

	if ctx.ehFrame {
		fde.begin = e.ReadEncodedPtr(cie.fdeEnc, cursor.EncBases{}) + ctx.staticBase
		// The range shares the initial location's format but is never
		// base-relative.
		fde.size = e.ReadEncodedPtr(cie.fdeEnc.Format(), cursor.EncBases{})
		if cie.hasAug {
			augLen := int(e.ReadULEB())
			augEnd := e.Pos() + augLen
			if cie.lsdaEnc != cursor.PtrEncOmit && augLen > 0 {
				// An all-zero field means the frame has no LSDA, so peek
				// at the raw value before applying the encoding's base.
				mark := e.Pos()
				if e.ReadEncodedPtr(cie.lsdaEnc.Format(), cursor.EncBases{}) != 0 {
					e.SetPos(mark)
					fde.LSDAPointer = e.ReadEncodedPtr(cie.lsdaEnc, cursor.EncBases{}) + ctx.staticBase
					fde.HasLSDA = true
				}
			}
			e.SetPos(augEnd)
		}
	} else {
		fde.begin = e.ReadPtr() + ctx.staticBase
		fde.size = e.ReadPtr()
	}

	if err := e.Err(); err != nil {
		ctx.problem(ctx.entryOff, err)
		return parselength
	}

	fde.Instructions = e.Bytes(e.Remaining())
	ctx.entries = append(ctx.entries, fde)
	return parselength
}
