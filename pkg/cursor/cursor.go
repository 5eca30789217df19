// Package cursor implements bounded primitive reads over a raw byte
// buffer: fixed width integers in either byte order, LEB128 variable
// length integers and DW_EH_PE pointer encoded values. Every read is
// bounds checked against the buffer; a failed read poisons the cursor
// instead of panicking so that decoding loops degrade to a reported
// gap rather than aborting the caller.
package cursor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elfscope/elfscope/pkg/dwarf/leb128"
)

// ReadError describes a read that would have crossed the end of the
// buffer. Off is the position of the failed read relative to the start
// of the cursor's buffer.
type ReadError struct {
	Off    int
	Needed int
	Have   int
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %#x crosses end of buffer (%d available)", e.Needed, e.Off, e.Have)
}

// Cursor reads primitives from a byte buffer. The zero value is not
// usable, call New. The cursor never copies or mutates the buffer.
type Cursor struct {
	data    []byte
	pos     int
	order   binary.ByteOrder
	ptrSize int
	base    uint64 // virtual address of data[0], used by PC relative encodings
	err     error
}

// New returns a cursor reading data in the given byte order. ptrSize
// is the width in bytes of an address (4 or 8) and selects the width
// of ReadPtr and absolute pointer encodings.
func New(data []byte, order binary.ByteOrder, ptrSize int) *Cursor {
	return &Cursor{data: data, order: order, ptrSize: ptrSize}
}

// WithBase sets the virtual address of the first byte of the buffer
// and returns the cursor. PC relative pointer encodings resolve
// against base plus the current position.
func (c *Cursor) WithBase(base uint64) *Cursor {
	c.base = base
	return c
}

// Err returns the first read failure, or nil. Once set every
// subsequent read returns the zero value.
func (c *Cursor) Err() error { return c.err }

// Pos returns the current offset from the start of the buffer.
func (c *Cursor) Pos() int { return c.pos }

// VPos returns the virtual address of the current position.
func (c *Cursor) VPos() uint64 { return c.base + uint64(c.pos) }

// SetPos repositions the cursor. Out of range positions poison the
// cursor.
func (c *Cursor) SetPos(pos int) {
	if c.err != nil {
		return
	}
	if pos < 0 || pos > len(c.data) {
		c.fail(pos, 0)
		return
	}
	c.pos = pos
}

// Skip advances the cursor n bytes.
func (c *Cursor) Skip(n int) {
	if c.err != nil {
		return
	}
	if n < 0 || c.pos+n > len(c.data) {
		c.fail(c.pos, n)
		return
	}
	c.pos += n
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

// PtrSize returns the address width the cursor was built with.
func (c *Cursor) PtrSize() int { return c.ptrSize }

// Order returns the byte order the cursor was built with.
func (c *Cursor) Order() binary.ByteOrder { return c.order }

func (c *Cursor) fail(off, needed int) {
	if c.err == nil {
		c.err = &ReadError{Off: off, Needed: needed, Have: len(c.data) - off}
		c.pos = len(c.data)
	}
}

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.pos+n > len(c.data) {
		c.fail(c.pos, n)
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

// Bytes returns a view of the next n bytes and advances past them.
// The returned slice aliases the cursor's buffer.
func (c *Cursor) Bytes(n int) []byte { return c.take(n) }

// ReadUint8 reads one byte.
func (c *Cursor) ReadUint8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadUint16 reads a 2 byte unsigned integer.
func (c *Cursor) ReadUint16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return c.order.Uint16(b)
}

// ReadUint32 reads a 4 byte unsigned integer.
func (c *Cursor) ReadUint32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return c.order.Uint32(b)
}

// ReadUint64 reads an 8 byte unsigned integer.
func (c *Cursor) ReadUint64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return c.order.Uint64(b)
}

// ReadUint reads an unsigned integer of the given width in bytes
// (1, 2, 4 or 8).
func (c *Cursor) ReadUint(size int) uint64 {
	switch size {
	case 1:
		return uint64(c.ReadUint8())
	case 2:
		return uint64(c.ReadUint16())
	case 4:
		return uint64(c.ReadUint32())
	case 8:
		return c.ReadUint64()
	default:
		c.fail(c.pos, size)
		return 0
	}
}

// ReadPtr reads an unsigned integer of the cursor's address width.
func (c *Cursor) ReadPtr() uint64 { return c.ReadUint(c.ptrSize) }

// ReadULEB reads an unsigned LEB128 encoded number.
func (c *Cursor) ReadULEB() uint64 {
	start := c.pos
	v, n := leb128.DecodeUnsigned(c)
	if n == 0 {
		c.fail(start, 1)
		return 0
	}
	return v
}

// ReadSLEB reads a signed LEB128 encoded number.
func (c *Cursor) ReadSLEB() int64 {
	start := c.pos
	v, n := leb128.DecodeSigned(c)
	if n == 0 {
		c.fail(start, 1)
		return 0
	}
	return v
}

// ReadString reads a NUL terminated string starting at the current
// position and advances past the terminator.
func (c *Cursor) ReadString() string {
	if c.err != nil {
		return ""
	}
	for i := c.pos; i < len(c.data); i++ {
		if c.data[i] == 0 {
			s := string(c.data[c.pos:i])
			c.pos = i + 1
			return s
		}
	}
	c.fail(c.pos, c.Remaining()+1)
	return ""
}

// ReadByte implements io.ByteReader so the cursor satisfies
// leb128.Reader.
func (c *Cursor) ReadByte() (byte, error) {
	if c.err != nil || c.pos >= len(c.data) {
		return 0, io.EOF
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// Read implements io.Reader over the unread portion of the buffer.
func (c *Cursor) Read(p []byte) (int, error) {
	if c.err != nil || c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.pos:])
	c.pos += n
	return n, nil
}

// Len returns the number of unread bytes, satisfying leb128.Reader.
func (c *Cursor) Len() int { return c.Remaining() }
