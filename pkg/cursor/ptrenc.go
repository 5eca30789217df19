package cursor

import (
	"fmt"
	"strings"
)

// PtrEnc is a DW_EH_PE pointer encoding byte. The low nibble selects
// the value format, the high nibble the base the value is applied to,
// bit 7 requests an indirection through the computed address.
type PtrEnc uint8

const (
	PtrEncAbs    PtrEnc = 0x00
	PtrEncULEB   PtrEnc = 0x01
	PtrEncData2  PtrEnc = 0x02
	PtrEncData4  PtrEnc = 0x03
	PtrEncData8  PtrEnc = 0x04
	PtrEncSigned PtrEnc = 0x08
	PtrEncSLEB   PtrEnc = 0x09
	PtrEncSData2 PtrEnc = 0x0a
	PtrEncSData4 PtrEnc = 0x0b
	PtrEncSData8 PtrEnc = 0x0c

	PtrEncPCRel   PtrEnc = 0x10
	PtrEncTextRel PtrEnc = 0x20
	PtrEncDataRel PtrEnc = 0x30
	PtrEncFuncRel PtrEnc = 0x40
	PtrEncAligned PtrEnc = 0x50

	PtrEncIndirect PtrEnc = 0x80
	PtrEncOmit     PtrEnc = 0xff
)

// Format returns the value format nibble.
func (enc PtrEnc) Format() PtrEnc { return enc & 0x0f }

// Application returns the base application nibble.
func (enc PtrEnc) Application() PtrEnc { return enc & 0x70 }

func (enc PtrEnc) String() string {
	if enc == PtrEncOmit {
		return "omit"
	}
	var b strings.Builder
	switch enc.Application() {
	case 0:
		b.WriteString("abs ")
	case PtrEncPCRel:
		b.WriteString("pcrel ")
	case PtrEncTextRel:
		b.WriteString("textrel ")
	case PtrEncDataRel:
		b.WriteString("datarel ")
	case PtrEncFuncRel:
		b.WriteString("funcrel ")
	case PtrEncAligned:
		b.WriteString("aligned ")
	}
	switch enc.Format() {
	case PtrEncAbs:
		b.WriteString("ptr")
	case PtrEncULEB:
		b.WriteString("uleb128")
	case PtrEncData2:
		b.WriteString("udata2")
	case PtrEncData4:
		b.WriteString("udata4")
	case PtrEncData8:
		b.WriteString("udata8")
	case PtrEncSigned:
		b.WriteString("sptr")
	case PtrEncSLEB:
		b.WriteString("sleb128")
	case PtrEncSData2:
		b.WriteString("sdata2")
	case PtrEncSData4:
		b.WriteString("sdata4")
	case PtrEncSData8:
		b.WriteString("sdata8")
	default:
		fmt.Fprintf(&b, "format %#x", uint8(enc.Format()))
	}
	if enc&PtrEncIndirect != 0 {
		b.WriteString(" indirect")
	}
	return b.String()
}

// EncodingError reports a pointer encoding the cursor cannot resolve.
type EncodingError struct {
	Enc PtrEnc
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("unsupported pointer encoding %#x (%s)", uint8(e.Enc), e.Enc)
}

// EncBases carries the base addresses DW_EH_PE applications resolve
// against. The PC relative base is the cursor's own position and needs
// no entry here.
type EncBases struct {
	Text uint64
	Data uint64
	Func uint64
}

// ReadEncodedPtr reads one pointer encoded value and applies its base.
// Calling it with PtrEncOmit reads nothing and returns 0. Indirect and
// aligned encodings poison the cursor with an EncodingError.
func (c *Cursor) ReadEncodedPtr(enc PtrEnc, bases EncBases) uint64 {
	if c.err != nil || enc == PtrEncOmit {
		return 0
	}
	if enc&PtrEncIndirect != 0 || enc.Application() == PtrEncAligned {
		c.err = &EncodingError{Enc: enc}
		return 0
	}

	// The PC relative base is the address of the first byte of the
	// encoded value.
	pc := c.VPos()

	var v uint64
	switch enc.Format() {
	case PtrEncAbs:
		v = c.ReadPtr()
	case PtrEncULEB:
		v = c.ReadULEB()
	case PtrEncData2:
		v = uint64(c.ReadUint16())
	case PtrEncData4:
		v = uint64(c.ReadUint32())
	case PtrEncData8:
		v = c.ReadUint64()
	case PtrEncSigned:
		if c.ptrSize == 4 {
			v = uint64(int64(int32(c.ReadUint32())))
		} else {
			v = c.ReadUint64()
		}
	case PtrEncSLEB:
		v = uint64(c.ReadSLEB())
	case PtrEncSData2:
		v = uint64(int64(int16(c.ReadUint16())))
	case PtrEncSData4:
		v = uint64(int64(int32(c.ReadUint32())))
	case PtrEncSData8:
		v = c.ReadUint64()
	default:
		c.err = &EncodingError{Enc: enc}
		return 0
	}
	if c.err != nil {
		return 0
	}

	switch enc.Application() {
	case 0:
		// Absolute.
	case PtrEncPCRel:
		v += pc
	case PtrEncTextRel:
		v += bases.Text
	case PtrEncDataRel:
		v += bases.Data
	case PtrEncFuncRel:
		v += bases.Func
	}
	return v
}
