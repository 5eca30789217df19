package elffile

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned when the buffer does not start with
	// the \x7fELF identification bytes.
	ErrBadMagic = errors.New("bad magic number")
	// ErrBadClass is returned for an EI_CLASS byte that selects
	// neither ELFCLASS32 nor ELFCLASS64.
	ErrBadClass = errors.New("invalid ELF class")
	// ErrBadData is returned for an EI_DATA byte that selects
	// neither little nor big endian encoding.
	ErrBadData = errors.New("invalid ELF data encoding")

	// ErrNoSection reports a section name lookup miss.
	ErrNoSection = errors.New("section not found")
	// ErrNoBits reports a request for the file image of a section
	// that has none (SHT_NOBITS, typically .bss).
	ErrNoBits = errors.New("section occupies no space in file")
	// ErrNoSegment reports a virtual address not covered by any
	// loadable segment.
	ErrNoSegment = errors.New("address not mapped by any loadable segment")
)

// TruncatedHeaderError reports a header record extending past the end
// of the buffer.
type TruncatedHeaderError struct {
	Offset uint64
	Needed int
	Have   int
}

func (e *TruncatedHeaderError) Error() string {
	return fmt.Sprintf("truncated header at offset %#x: need %d bytes, have %d", e.Offset, e.Needed, e.Have)
}

// BoundsError reports section or segment content lying outside the
// file.
type BoundsError struct {
	What     string
	Offset   uint64
	Size     uint64
	FileSize int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s: content [%#x, %#x) lies outside the %d byte file", e.What, e.Offset, e.Offset+e.Size, e.FileSize)
}

// InvalidTableCountError reports a header table whose declared entry
// count or entry size cannot fit in the file.
type InvalidTableCountError struct {
	Table    string
	Offset   uint64
	Count    uint64
	EntSize  uint64
	FileSize int
}

func (e *InvalidTableCountError) Error() string {
	return fmt.Sprintf("%s header table does not fit in file: %d entries of %d bytes at offset %#x, file is %d bytes",
		e.Table, e.Count, e.EntSize, e.Offset, e.FileSize)
}
