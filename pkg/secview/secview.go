// Package secview interprets section contents by semantic type.
// The set of interpretations is a closed tagged variant: string
// tables, the .eh_frame_hdr lookup table, and a raw fallback that
// always succeeds. Interpret never fails; anything unrecognized or
// structurally broken degrades to the raw view.
package secview

import (
	"debug/elf"

	"github.com/elfscope/elfscope/pkg/cursor"
	"github.com/elfscope/elfscope/pkg/elffile"
)

// View is one interpreted section content. The concrete types are
// *StringTableView, *EhFrameHdrView and *RawView.
type View interface {
	viewTag()
}

// StringEntry is one string and its byte offset inside the table.
type StringEntry struct {
	Off uint64
	Str string
}

// StringTableView lists the strings of a SHT_STRTAB section in table
// order. Empty strings (consecutive NUL bytes, and the conventional
// leading NUL) are not listed.
type StringTableView struct {
	Section string
	Strings []StringEntry
}

func (*StringTableView) viewTag() {}

// SearchEntry is one (initial location, FDE pointer) pair of the
// .eh_frame_hdr binary search table, both resolved to absolute
// virtual addresses.
type SearchEntry struct {
	Location uint64
	FdePtr   uint64
}

// EhFrameHdrView is the decoded .eh_frame_hdr section: header fields,
// the resolved .eh_frame pointer, and the binary search table. Defect
// records a truncation that cut the table short; the entries decoded
// before it are kept.
type EhFrameHdrView struct {
	Section       string
	Version       uint8
	EhFramePtrEnc cursor.PtrEnc
	FdeCountEnc   cursor.PtrEnc
	TableEnc      cursor.PtrEnc
	EhFramePtr    uint64
	FdeCount      uint64
	Entries       []SearchEntry
	Defect        error
}

func (*EhFrameHdrView) viewTag() {}

// RawView is the fallback: the section's file window, for hexdump
// style presentation. Data is nil for SHT_NOBITS sections and for
// headers retained as corrupt.
type RawView struct {
	Section string
	Offset  uint64
	Size    uint64
	NoBits  bool
	Data    []byte
}

func (*RawView) viewTag() {}

// Interpret builds the view for one section. Unknown and unsupported
// section types, and sections whose specific interpretation fails
// structurally, yield a *RawView.
func Interpret(f *elffile.File, sh *elffile.SectionHeader) View {
	raw := &RawView{
		Section: sh.Name,
		Offset:  sh.Offset,
		Size:    sh.Size,
		NoBits:  sh.Type == elf.SHT_NOBITS,
	}
	data, err := f.SectionData(sh)
	if err != nil || data == nil {
		return raw
	}
	raw.Data = data

	switch {
	case sh.Type == elf.SHT_STRTAB:
		return stringTable(sh.Name, data)
	case sh.Name == ".eh_frame_hdr":
		if v := ehFrameHdr(f, sh, data); v != nil {
			return v
		}
	}
	return raw
}

func stringTable(name string, data []byte) *StringTableView {
	v := &StringTableView{Section: name}
	start := 0
	for i := 0; i <= len(data); i++ {
		if i < len(data) && data[i] != 0 {
			continue
		}
		if i > start {
			v.Strings = append(v.Strings, StringEntry{
				Off: uint64(start),
				Str: string(data[start:i]),
			})
		}
		start = i + 1
	}
	return v
}

// ehFrameHdr decodes the .eh_frame_hdr section. A nil return means
// the header is not usable at all and the caller falls back to raw.
func ehFrameHdr(f *elffile.File, sh *elffile.SectionHeader, data []byte) *EhFrameHdrView {
	cur := cursor.New(data, f.ByteOrder, f.PtrSize()).WithBase(sh.Addr)
	bases := cursor.EncBases{Data: sh.Addr}

	v := &EhFrameHdrView{Section: sh.Name}
	v.Version = cur.ReadUint8()
	v.EhFramePtrEnc = cursor.PtrEnc(cur.ReadUint8())
	v.FdeCountEnc = cursor.PtrEnc(cur.ReadUint8())
	v.TableEnc = cursor.PtrEnc(cur.ReadUint8())
	if cur.Err() != nil || v.Version != 1 {
		return nil
	}

	v.EhFramePtr = cur.ReadEncodedPtr(v.EhFramePtrEnc, bases)
	v.FdeCount = cur.ReadEncodedPtr(v.FdeCountEnc, bases)
	if cur.Err() != nil {
		return nil
	}

	for i := uint64(0); i < v.FdeCount; i++ {
		loc := cur.ReadEncodedPtr(v.TableEnc, bases)
		fde := cur.ReadEncodedPtr(v.TableEnc, bases)
		if cur.Err() != nil {
			v.Defect = cur.Err()
			break
		}
		v.Entries = append(v.Entries, SearchEntry{Location: loc, FdePtr: fde})
	}
	return v
}
